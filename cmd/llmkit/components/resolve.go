package components

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/llmkit/pkg/config"
)

// Resolve layers flags bound from the registry over env, config.toml and
// defaults, and returns the merged Config with the --config-dir override.
func Resolve(cmd *cobra.Command, flagKeys ...string) (*config.Config, string, error) {
	configDir, _ := cmd.Flags().GetString("config-dir")

	v, err := config.InitViper(configDir)
	if err != nil {
		return nil, "", fmt.Errorf("loading config: %w", err)
	}
	config.BindRegisteredFlags(v, cmd, config.Flags, flagKeys)

	cfg, err := config.FromViper(v)
	if err != nil {
		return nil, "", fmt.Errorf("resolving config: %w", err)
	}
	return cfg, configDir, nil
}
