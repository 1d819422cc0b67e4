// Package configcmder provides the config command for managing persistent
// llmkit configuration stored in the .llmkit/ directory.
package configcmder

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/llmkit/pkg/cliui"
	"github.com/papercomputeco/llmkit/pkg/config"
)

const configLongDesc string = `Manage persistent llmkit configuration.

Configuration is stored as config.toml in the .llmkit/ directory and provides
default values for command flags. LLMKIT_* environment variables override
the file, and CLI flags override both.

Keys use dotted notation matching the TOML section structure, for example
provider.name, embedding.model, cache.threshold or vector_store.target.
Run "llmkit config list" to see every key.

Examples:
  llmkit config set provider.name anthropic
  llmkit config set cache.threshold 0.92
  llmkit config get embedding.model
  llmkit config list`

const configShortDesc string = "Manage persistent llmkit configuration"

func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: configShortDesc,
		Long:  configLongDesc,
	}

	cmd.AddCommand(newSetCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newListCmd())

	return cmd
}

// completeKeys offers config keys for the first positional argument.
func completeKeys(_ *cobra.Command, args []string, _ string) ([]string, cobra.ShellCompDirective) {
	if len(args) == 0 {
		return config.ValidConfigKeys(), cobra.ShellCompDirectiveNoFileComp
	}
	return nil, cobra.ShellCompDirectiveNoFileComp
}

func validateKey(key string) error {
	if !config.IsValidConfigKey(key) {
		return fmt.Errorf("unknown config key: %q\n\nValid keys: %s",
			key, strings.Join(config.ValidConfigKeys(), ", "))
	}
	return nil
}

// openConfig resolves config.toml and prints which file is in use.
func openConfig(out io.Writer, configDir string) (*config.Configer, error) {
	cfger, err := config.NewConfiger(configDir)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	if target := cfger.GetTarget(); target != "" {
		fmt.Fprintf(out, "\n  %s %s\n\n",
			cliui.Render(cliui.KeyStyle, "Config file:"),
			cliui.Render(cliui.DimStyle, target),
		)
	} else {
		fmt.Fprintf(out, "\n  %s\n\n", cliui.Render(cliui.DimStyle, "No config file found. Using defaults."))
	}
	return cfger, nil
}

func formatValue(value string) string {
	if value == "" {
		return cliui.Render(cliui.DimStyle, "<not set>")
	}
	return cliui.Render(cliui.ValueStyle, value)
}
