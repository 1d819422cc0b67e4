// Package dotdir manages the .llmkit/ and ~/.llmkit directories that hold
// config.toml, credentials.toml, chat sessions and local databases.
package dotdir

import (
	"fmt"
	"os"
	"path/filepath"
)

// DirName is the name of the llmkit directory.
const DirName = ".llmkit"

type Manager struct{}

func NewManager() *Manager {
	return &Manager{}
}

// Target returns the absolute path to the llmkit directory, creating it
// when needed. Order of precedence is as follows:
//  1. Provided override
//  2. Local ./.llmkit/ dir
//  3. Home ~/.llmkit/ dir
func (m *Manager) Target(overrideDir string) (string, error) {
	var dir string

	switch {
	case overrideDir != "":
		dir = overrideDir

	case m.localDirExists():
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("getting current directory: %w", err)
		}
		dir = filepath.Join(cwd, DirName)

	default:
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("getting home directory: %w", err)
		}
		dir = filepath.Join(home, DirName)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating llmkit directory %s: %w", dir, err)
	}

	return filepath.Abs(dir)
}

// Path joins name onto the target directory.
func (m *Manager) Path(overrideDir, name string) (string, error) {
	dir, err := m.Target(overrideDir)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

// localDirExists checks whether a .llmkit/ directory exists in the current
// working directory.
func (m *Manager) localDirExists() bool {
	cwd, err := os.Getwd()
	if err != nil {
		return false
	}

	info, err := os.Stat(filepath.Join(cwd, DirName))
	return err == nil && info.IsDir()
}
