// Package cachecmder provides the cache command group for managing the
// semantic cache of a running API server.
package cachecmder

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/llmkit/cmd/llmkit/components"
	"github.com/papercomputeco/llmkit/pkg/cliui"
	"github.com/papercomputeco/llmkit/pkg/config"
)

// Clearer clears a cache id on the API server.
type Clearer interface {
	ClearCache(ctx context.Context, id string) error
}

const cacheLongDesc string = `Manage the semantic cache of a running llmkit API server.

Available subcommands:
  clear <id>    Remove every cached answer stored under a cache id`

const cacheShortDesc string = "Manage the semantic cache"

func NewCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: cacheShortDesc,
		Long:  cacheLongDesc,
	}

	cmd.AddCommand(newClearCmd())
	return cmd
}

const clearLongDesc string = `Remove every cached answer stored under a cache id.

Cache ids are chosen by clients: the "cache_id" field of POST /v1/chat, the
--cache-id flag of "llmkit chat" or the MCP chat tool's cache_id argument.

Examples:
  llmkit cache clear chat
  llmkit cache clear faq --api-target http://localhost:8081`

func newClearCmd() *cobra.Command {
	var apiTarget, logLevel string

	cmd := &cobra.Command{
		Use:   "clear <id>",
		Short: "Clear a cache id",
		Long:  clearLongDesc,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := components.Resolve(cmd, config.FlagAPITarget, config.FlagLogLevel)
			if err != nil {
				return err
			}
			debug, err := cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %w", err)
			}

			c, err := components.NewAPIClient(cfg, components.NewLogger(cfg.Log, debug, new(slog.LevelVar)))
			if err != nil {
				return err
			}
			return clearCache(cmd.Context(), cmd.OutOrStdout(), c, args[0])
		},
	}

	config.AddStringFlag(cmd, config.Flags, config.FlagAPITarget, &apiTarget)
	config.AddStringFlag(cmd, config.Flags, config.FlagLogLevel, &logLevel)
	return cmd
}

func clearCache(ctx context.Context, out io.Writer, clearer Clearer, id string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := clearer.ClearCache(ctx, id); err != nil {
		return err
	}
	fmt.Fprintf(out, "%s Cleared cache %s\n", cliui.Mark(nil), cliui.Render(cliui.AccentStyle, id))
	return nil
}
