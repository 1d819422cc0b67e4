// Package embedcmder provides the embed command, which embeds text locally
// with the configured embedder.
package embedcmder

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/llmkit/cmd/llmkit/components"
	"github.com/papercomputeco/llmkit/pkg/cliui"
	"github.com/papercomputeco/llmkit/pkg/config"
	"github.com/papercomputeco/llmkit/pkg/embeddings"
)

type embedCommander struct {
	texts  []string
	asJSON bool
	debug  bool

	configDir string
	cfg       *config.Config
	logger    *slog.Logger
}

const embedLongDesc string = `Embed text with the configured embedding provider.

Each argument is embedded separately. Without arguments, every non-empty
line of stdin is embedded. Use --json to print the vectors.

Examples:
  llmkit embed "hello world"
  llmkit embed --embedding-provider openai --embedding-model text-embedding-3-small "hello"
  cat lines.txt | llmkit embed --json`

const embedShortDesc string = "Embed text with the configured embedder"

var embedFlags = []string{
	config.FlagEmbeddingProv,
	config.FlagEmbeddingTgt,
	config.FlagEmbeddingModel,
	config.FlagEmbeddingDims,
	config.FlagLogLevel,
}

// Embedding is one embedded input as printed by --json.
type Embedding struct {
	Text      string    `json:"text"`
	Embedding []float32 `json:"embedding"`
}

func NewEmbedCmd() *cobra.Command {
	cmder := &embedCommander{}

	var (
		embeddingProvider, embeddingTarget string
		embeddingModel, logLevel           string
		embeddingDims                      uint
	)

	cmd := &cobra.Command{
		Use:   "embed [text...]",
		Short: embedShortDesc,
		Long:  embedLongDesc,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.cfg, cmder.configDir, err = components.Resolve(cmd, embedFlags...)
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %w", err)
			}

			cmder.texts = args
			if len(cmder.texts) == 0 {
				cmder.texts, err = readLines(cmd.InOrStdin())
				if err != nil {
					return err
				}
			}
			if len(cmder.texts) == 0 {
				return fmt.Errorf("nothing to embed: pass text as arguments or on stdin")
			}

			return cmder.run(cmd.Context(), cmd.OutOrStdout())
		},
	}

	config.AddStringFlag(cmd, config.Flags, config.FlagEmbeddingProv, &embeddingProvider)
	config.AddStringFlag(cmd, config.Flags, config.FlagEmbeddingTgt, &embeddingTarget)
	config.AddStringFlag(cmd, config.Flags, config.FlagEmbeddingModel, &embeddingModel)
	config.AddUintFlag(cmd, config.Flags, config.FlagEmbeddingDims, &embeddingDims)
	config.AddStringFlag(cmd, config.Flags, config.FlagLogLevel, &logLevel)
	cmd.Flags().BoolVar(&cmder.asJSON, "json", false, "Print the embeddings as JSON")

	return cmd
}

func (c *embedCommander) run(ctx context.Context, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	c.logger = components.NewLogger(c.cfg.Log, c.debug, new(slog.LevelVar))

	builder, err := components.NewBuilder(c.cfg, c.configDir, c.logger)
	if err != nil {
		return err
	}

	embedder, err := builder.Embedder()
	if err != nil {
		return fmt.Errorf("creating embedder: %w", err)
	}
	defer embedder.Close()

	return c.embed(ctx, out, embedder)
}

func (c *embedCommander) embed(ctx context.Context, out io.Writer, embedder embeddings.Embedder) error {
	var vectors [][]float32
	embedAll := func() error {
		var err error
		vectors, err = embedder.EmbedAll(ctx, c.texts)
		return err
	}

	// JSON output stays machine readable, so no step line.
	var err error
	if c.asJSON {
		err = embedAll()
	} else {
		msg := fmt.Sprintf("Embedding %d text(s) with %s", len(c.texts), c.cfg.Embedding.Model)
		err = cliui.Step(ctx, out, msg, embedAll)
	}
	if err != nil {
		return fmt.Errorf("embedding: %w", err)
	}

	if c.asJSON {
		result := make([]Embedding, len(c.texts))
		for i, text := range c.texts {
			result[i] = Embedding{Text: text, Embedding: vectors[i]}
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	width := cliui.Width(out) - 20
	for i, text := range c.texts {
		fmt.Fprintf(out, "  %s  %s\n",
			cliui.Render(cliui.ScoreStyle, fmt.Sprintf("%4d dims", len(vectors[i]))),
			cliui.Preview(text, width),
		)
	}
	return nil
}

func readLines(r io.Reader) ([]string, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading stdin: %w", err)
	}
	return lines, nil
}
