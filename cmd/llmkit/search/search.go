// Package searchcmder provides the search command for semantic search over
// ingested documents.
package searchcmder

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	apisearch "github.com/papercomputeco/llmkit/api/search"
	"github.com/papercomputeco/llmkit/cmd/llmkit/components"
	"github.com/papercomputeco/llmkit/pkg/cliui"
	"github.com/papercomputeco/llmkit/pkg/config"
)

// Searcher runs a search against the API server.
type Searcher interface {
	Search(ctx context.Context, in apisearch.Input) (*apisearch.Output, error)
}

type searchCommander struct {
	input  apisearch.Input
	filter string
	quiet  bool
	asJSON bool
	debug  bool

	cfg    *config.Config
	logger *slog.Logger
}

const searchLongDesc string = `Search ingested documents via the llmkit API.

Returns the documents most similar to the query text, best first. Requires a
running llmkit API server with a vector store and embedder configured.

Filters are JSON expressions over document metadata, for example
{"op":"eq","key":"lang","value":"go"} or
{"op":"and","filters":[{"op":"gte","key":"year","value":2020},{"op":"in","key":"tag","values":["a","b"]}]}.

Use --quiet to print only document ids, one per line.

Examples:
  llmkit search "how to configure logging"
  llmkit search "error handling" --top 10 --min-score 0.6
  llmkit search "error handling" --filter '{"op":"eq","key":"lang","value":"go"}'
  llmkit search "error handling" --api-target http://localhost:8081 --quiet`

const searchShortDesc string = "Search ingested documents"

var searchFlags = []string{
	config.FlagAPITarget,
	config.FlagLogLevel,
}

func NewSearchCmd() *cobra.Command {
	cmder := &searchCommander{}

	var apiTarget, logLevel string

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: searchShortDesc,
		Long:  searchLongDesc,
		Args:  cobra.MinimumNArgs(1),
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.cfg, _, err = components.Resolve(cmd, searchFlags...)
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cmder.input.Query = strings.Join(args, " ")
			if cmder.filter != "" {
				cmder.input.Filter = json.RawMessage(cmder.filter)
			}

			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %w", err)
			}
			cmder.logger = components.NewLogger(cmder.cfg.Log, cmder.debug, new(slog.LevelVar))

			client, err := components.NewAPIClient(cmder.cfg, cmder.logger)
			if err != nil {
				return err
			}
			return cmder.run(cmd.Context(), cmd.OutOrStdout(), client)
		},
	}

	config.AddStringFlag(cmd, config.Flags, config.FlagAPITarget, &apiTarget)
	config.AddStringFlag(cmd, config.Flags, config.FlagLogLevel, &logLevel)
	cmd.Flags().IntVarP(&cmder.input.TopK, "top", "k", apisearch.DefaultTopK, "Number of results to return")
	cmd.Flags().Float32Var(&cmder.input.MinScore, "min-score", 0, "Drop results scoring below this similarity")
	cmd.Flags().StringVarP(&cmder.filter, "filter", "f", "", "JSON metadata filter")
	cmd.Flags().BoolVarP(&cmder.quiet, "quiet", "q", false, "Output only document ids, one per line")
	cmd.Flags().BoolVar(&cmder.asJSON, "json", false, "Print the raw search response")

	return cmd
}

func (c *searchCommander) run(ctx context.Context, out io.Writer, searcher Searcher) error {
	if ctx == nil {
		ctx = context.Background()
	}

	output, err := searcher.Search(ctx, c.input)
	if err != nil {
		return err
	}

	switch {
	case c.asJSON:
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(output)
	case c.quiet:
		for _, result := range output.Results {
			fmt.Fprintln(out, result.ID)
		}
		return nil
	}

	if output.Count == 0 {
		fmt.Fprintln(out, "No results found.")
		return nil
	}

	fmt.Fprintf(out, "\n%s %s\n\n",
		cliui.Render(cliui.StepStyle, "Search results for:"),
		cliui.Render(cliui.AccentStyle, fmt.Sprintf("%q", output.Query)),
	)

	width := cliui.Width(out) - 6
	for i, result := range output.Results {
		fmt.Fprintf(out, "  %s  %s  %s\n",
			cliui.Render(cliui.ScoreStyle, fmt.Sprintf("#%d", i+1)),
			cliui.Render(cliui.StepStyle, fmt.Sprintf("score: %.4f", result.Score)),
			cliui.Render(cliui.AccentStyle, result.ID),
		)
		if len(result.Metadata) > 0 {
			fmt.Fprintf(out, "      %s\n", cliui.Render(cliui.DimStyle, formatMetadata(result.Metadata)))
		}
		fmt.Fprintf(out, "      %s\n\n", cliui.Preview(result.Text, width))
	}

	return nil
}

// formatMetadata renders metadata as sorted key=value pairs.
func formatMetadata(metadata map[string]any) string {
	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, metadata[k]))
	}
	return strings.Join(parts, " ")
}
