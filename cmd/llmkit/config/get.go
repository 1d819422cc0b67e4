package configcmder

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

const getLongDesc string = `Get a configuration value.

Reads the value for the given key from config.toml in the .llmkit/
directory. Unset keys print their default.

Examples:
  llmkit config get provider.name
  llmkit config get cache.policy`

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:               "get <key>",
		Short:             "Get a configuration value",
		Long:              getLongDesc,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completeKeys,
		RunE: func(cmd *cobra.Command, args []string) error {
			configDir, _ := cmd.Flags().GetString("config-dir")
			return runGet(cmd.OutOrStdout(), args[0], configDir)
		},
	}
}

func runGet(out io.Writer, key, configDir string) error {
	if err := validateKey(key); err != nil {
		return err
	}

	cfger, err := openConfig(out, configDir)
	if err != nil {
		return err
	}

	value, err := cfger.GetConfigValue(key)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "  %s  %s\n\n", key, formatValue(value))
	return nil
}
