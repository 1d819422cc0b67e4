package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/papercomputeco/llmkit/pkg/logger"
)

// Watch reloads config.toml whenever it is written or replaced and passes
// the result to onChange. Invalid files are logged and skipped. Watch
// returns once the watcher is running; it stops when ctx is done.
//
// The directory is watched rather than the file because editors commonly
// replace the file with a rename.
func (c *Configer) Watch(ctx context.Context, onChange func(*Config), log *slog.Logger) error {
	if log == nil {
		log = logger.Nop()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating config watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(c.targetPath)); err != nil {
		watcher.Close()
		return fmt.Errorf("watching config dir: %w", err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(c.targetPath) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, err := c.reload()
				if err != nil {
					log.Warn("ignoring invalid config change", "path", c.targetPath, "error", err)
					continue
				}
				log.Debug("config reloaded", "path", c.targetPath)
				onChange(cfg)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn("config watcher error", "error", err)
			}
		}
	}()

	return nil
}

func (c *Configer) reload() (*Config, error) {
	data, err := os.ReadFile(c.targetPath)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	// A truncate-then-write shows up as an empty file first.
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errors.New("config file is empty")
	}
	return ParseConfigTOML(data)
}
