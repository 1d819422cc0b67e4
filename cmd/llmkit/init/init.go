// Package initcmder provides the init command for initializing a local
// .llmkit directory in the current working directory.
package initcmder

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/llmkit/pkg/cliui"
	"github.com/papercomputeco/llmkit/pkg/config"
	"github.com/papercomputeco/llmkit/pkg/dotdir"
)

const initLongDesc string = `Initialize a new .llmkit/ directory in the current working directory.

The local .llmkit/ directory takes precedence over ~/.llmkit/ for
configuration, credentials, chat sessions and file-backed stores, so each
project can keep its own settings.

With --preset a config.toml for the named provider is written. An existing
config.toml is kept unless --force is set.

Examples:
  llmkit init
  llmkit init --preset anthropic
  llmkit init --preset watsonx --force`

const initShortDesc string = "Initialize a local .llmkit/ directory"

func NewInitCmd() *cobra.Command {
	var (
		preset string
		force  bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: initShortDesc,
		Long:  initLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cwd, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("getting current directory: %w", err)
			}
			return runInit(cmd.OutOrStdout(), filepath.Join(cwd, dotdir.DirName), preset, force)
		},
		ValidArgsFunction: cobra.NoFileCompletions,
	}

	cmd.Flags().StringVar(&preset, "preset", "",
		"Write a config.toml for a provider ("+strings.Join(config.ValidPresetNames(), ", ")+")")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config.toml")

	return cmd
}

func runInit(out io.Writer, dir, preset string, force bool) error {
	if info, err := os.Stat(dir); err == nil && info.IsDir() {
		fmt.Fprintf(out, "Already initialized: %s\n", dir)
	} else {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating .llmkit directory: %w", err)
		}
		fmt.Fprintf(out, "Initialized .llmkit directory: %s\n", dir)
	}

	if preset == "" {
		return nil
	}

	cfg, err := config.PresetConfig(preset)
	if err != nil {
		return err
	}

	cfger, err := config.NewConfiger(dir)
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfger.GetTarget()); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", cfger.GetTarget())
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("checking config: %w", err)
	}

	if err := cfger.SaveConfig(cfg); err != nil {
		return err
	}

	fmt.Fprintf(out, "%s Wrote %s preset to %s\n",
		cliui.Mark(nil),
		cliui.Render(cliui.ValueStyle, preset),
		cfger.GetTarget(),
	)
	return nil
}
