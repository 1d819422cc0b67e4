package configcmder

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/llmkit/pkg/cliui"
)

const setLongDesc string = `Set a configuration value.

Sets the given key in config.toml in the .llmkit/ directory, creating the
file if needed. Numeric and duration keys are validated before saving.

Examples:
  llmkit config set provider.name openai
  llmkit config set provider.timeout 90s
  llmkit config set embedding.dimensions 1536
  llmkit config set cache.store badger`

func newSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:               "set <key> <value>",
		Short:             "Set a configuration value",
		Long:              setLongDesc,
		Args:              cobra.ExactArgs(2),
		ValidArgsFunction: completeKeys,
		RunE: func(cmd *cobra.Command, args []string) error {
			configDir, _ := cmd.Flags().GetString("config-dir")
			return runSet(cmd.OutOrStdout(), args[0], args[1], configDir)
		},
	}
}

func runSet(out io.Writer, key, value, configDir string) error {
	if err := validateKey(key); err != nil {
		return err
	}

	cfger, err := openConfig(out, configDir)
	if err != nil {
		return err
	}

	if err := cfger.SetConfigValue(key, value); err != nil {
		return err
	}

	fmt.Fprintf(out, "  %s Set %s = %s\n\n",
		cliui.Mark(nil),
		cliui.Render(cliui.KeyStyle, key),
		cliui.Render(cliui.ValueStyle, value),
	)
	return nil
}
