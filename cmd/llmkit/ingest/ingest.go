// Package ingestcmder provides the ingest command, which adds documents to
// the vector store through the API server or directly with --local.
package ingestcmder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/papercomputeco/llmkit/api"
	"github.com/papercomputeco/llmkit/api/client"
	"github.com/papercomputeco/llmkit/cmd/llmkit/components"
	"github.com/papercomputeco/llmkit/pkg/cliui"
	"github.com/papercomputeco/llmkit/pkg/config"
	"github.com/papercomputeco/llmkit/pkg/worker"
)

// sourceKey is the metadata key recording where a document came from.
const sourceKey = "source"

// Ingester sends documents to a running API server.
type Ingester interface {
	Ingest(ctx context.Context, docs []api.Document) ([]string, error)
}

type ingestCommander struct {
	texts    []string
	metadata map[string]string
	id       string
	local    bool
	debug    bool

	configDir string
	cfg       *config.Config
	logger    *slog.Logger
}

const ingestLongDesc string = `Add documents to the vector store.

Each file argument becomes one document; "-" reads a document from stdin.
Literal text can be passed with --text. Documents are sent to a running
llmkit API server, which embeds and stores them in the background. With
--local the documents are embedded and stored by this process using the
configured embedder and vector store.

Examples:
  llmkit ingest notes/*.md
  llmkit ingest --text "Go channels are typed conduits" --meta lang=go
  cat README.md | llmkit ingest - --id readme
  llmkit ingest --local --vector-store-provider sqlite docs/guide.md`

const ingestShortDesc string = "Add documents to the vector store"

var ingestFlags = []string{
	config.FlagAPITarget,
	config.FlagEmbeddingProv,
	config.FlagEmbeddingTgt,
	config.FlagEmbeddingModel,
	config.FlagEmbeddingDims,
	config.FlagVectorStoreProv,
	config.FlagVectorStoreTgt,
	config.FlagCollection,
	config.FlagKafkaBrokers,
	config.FlagLogLevel,
}

func NewIngestCmd() *cobra.Command {
	cmder := &ingestCommander{}

	var (
		apiTarget, logLevel                string
		embeddingProvider, embeddingTarget string
		embeddingModel                     string
		embeddingDims                      uint
		vectorProvider, vectorTarget       string
		collection, kafkaBrokers           string
	)

	cmd := &cobra.Command{
		Use:   "ingest [file...]",
		Short: ingestShortDesc,
		Long:  ingestLongDesc,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.cfg, cmder.configDir, err = components.Resolve(cmd, ingestFlags...)
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %w", err)
			}
			cmder.logger = components.NewLogger(cmder.cfg.Log, cmder.debug, new(slog.LevelVar))

			docs, err := cmder.documents(args, cmd.InOrStdin())
			if err != nil {
				return err
			}

			if cmder.local {
				return cmder.runLocal(cmd.Context(), cmd.OutOrStdout(), docs)
			}

			c, err := components.NewAPIClient(cmder.cfg, cmder.logger)
			if err != nil {
				return err
			}
			return cmder.run(cmd.Context(), cmd.OutOrStdout(), c, docs)
		},
	}

	config.AddStringFlag(cmd, config.Flags, config.FlagAPITarget, &apiTarget)
	config.AddStringFlag(cmd, config.Flags, config.FlagEmbeddingProv, &embeddingProvider)
	config.AddStringFlag(cmd, config.Flags, config.FlagEmbeddingTgt, &embeddingTarget)
	config.AddStringFlag(cmd, config.Flags, config.FlagEmbeddingModel, &embeddingModel)
	config.AddUintFlag(cmd, config.Flags, config.FlagEmbeddingDims, &embeddingDims)
	config.AddStringFlag(cmd, config.Flags, config.FlagVectorStoreProv, &vectorProvider)
	config.AddStringFlag(cmd, config.Flags, config.FlagVectorStoreTgt, &vectorTarget)
	config.AddStringFlag(cmd, config.Flags, config.FlagCollection, &collection)
	config.AddStringFlag(cmd, config.Flags, config.FlagKafkaBrokers, &kafkaBrokers)
	config.AddStringFlag(cmd, config.Flags, config.FlagLogLevel, &logLevel)

	cmd.Flags().StringArrayVarP(&cmder.texts, "text", "t", nil, "Literal document text (repeatable)")
	cmd.Flags().StringToStringVar(&cmder.metadata, "meta", nil, "Metadata added to every document (key=value)")
	cmd.Flags().StringVar(&cmder.id, "id", "", "Document id (only with a single document)")
	cmd.Flags().BoolVar(&cmder.local, "local", false, "Embed and store in this process instead of the API server")

	return cmd
}

// documents collects the documents named by args and --text.
func (c *ingestCommander) documents(args []string, stdin io.Reader) ([]api.Document, error) {
	docs := make([]api.Document, 0, len(args)+len(c.texts))

	for _, text := range c.texts {
		docs = append(docs, c.document(text, ""))
	}

	for _, arg := range args {
		var (
			data   []byte
			err    error
			source = arg
		)
		if arg == "-" {
			data, err = io.ReadAll(stdin)
			source = "stdin"
		} else {
			data, err = os.ReadFile(arg)
			source = filepath.Base(arg)
		}
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", arg, err)
		}
		docs = append(docs, c.document(string(data), source))
	}

	if len(docs) == 0 {
		return nil, errors.New("nothing to ingest: pass files, \"-\" or --text")
	}
	for _, d := range docs {
		if strings.TrimSpace(d.Text) == "" {
			return nil, fmt.Errorf("document %q is empty", d.Metadata[sourceKey])
		}
	}

	if c.id != "" {
		if len(docs) != 1 {
			return nil, errors.New("--id requires exactly one document")
		}
		docs[0].ID = c.id
	}
	return docs, nil
}

func (c *ingestCommander) document(text, source string) api.Document {
	metadata := make(map[string]any, len(c.metadata)+1)
	for k, v := range c.metadata {
		metadata[k] = v
	}
	if source != "" {
		metadata[sourceKey] = source
	}
	if len(metadata) == 0 {
		metadata = nil
	}
	return api.Document{Text: text, Metadata: metadata}
}

func (c *ingestCommander) run(ctx context.Context, out io.Writer, ingester Ingester, docs []api.Document) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var ids []string
	err := cliui.Step(ctx, out, fmt.Sprintf("Sending %d document(s) to %s", len(docs), c.cfg.Client.APITarget), func() error {
		var err error
		ids, err = ingester.Ingest(ctx, docs)
		return err
	})
	if errors.Is(err, client.ErrQueueFull) {
		return fmt.Errorf("the server's ingest queue is full, retry later: %w", err)
	}
	if err != nil {
		return err
	}

	for _, id := range ids {
		fmt.Fprintf(out, "  %s %s\n", cliui.Render(cliui.DimStyle, "queued"), cliui.Render(cliui.AccentStyle, id))
	}
	return nil
}

func (c *ingestCommander) runLocal(ctx context.Context, out io.Writer, docs []api.Document) error {
	if ctx == nil {
		ctx = context.Background()
	}

	builder, err := components.NewBuilder(c.cfg, c.configDir, c.logger)
	if err != nil {
		return err
	}

	embedder, err := builder.Embedder()
	if err != nil {
		return fmt.Errorf("creating embedder: %w", err)
	}
	defer embedder.Close()

	vectorDriver, err := builder.VectorDriver(ctx)
	if err != nil {
		return fmt.Errorf("creating vector store: %w", err)
	}
	defer vectorDriver.Close()

	publisher, err := builder.Publisher()
	if err != nil {
		return fmt.Errorf("creating event publisher: %w", err)
	}
	defer publisher.Close()

	return ingestLocal(ctx, out, &worker.Config{
		VectorDriver: vectorDriver,
		Embedder:     embedder,
		Publisher:    publisher,
		VectorStore:  c.cfg.VectorStore.Provider,
		Logger:       c.logger,
	}, docs)
}

// ingestLocal stores every document, stopping at the first failure.
func ingestLocal(ctx context.Context, out io.Writer, cfg *worker.Config, docs []api.Document) error {
	for _, doc := range docs {
		if doc.ID == "" {
			doc.ID = uuid.NewString()
		}
		job := worker.Job{ID: doc.ID, Text: doc.Text, Metadata: doc.Metadata}

		err := cliui.Step(ctx, out, "Storing "+doc.ID, func() error {
			return worker.Ingest(ctx, cfg, job)
		})
		if err != nil {
			return fmt.Errorf("ingesting %s: %w", doc.ID, err)
		}
	}
	return nil
}
