// Package chatcmder provides the chat command for interactive chat with the
// configured model through the semantic cache.
package chatcmder

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/llmkit/cmd/llmkit/components"
	"github.com/papercomputeco/llmkit/pkg/cache"
	"github.com/papercomputeco/llmkit/pkg/cliui"
	"github.com/papercomputeco/llmkit/pkg/config"
	"github.com/papercomputeco/llmkit/pkg/dotdir"
	"github.com/papercomputeco/llmkit/pkg/llm"
	"github.com/papercomputeco/llmkit/pkg/llm/provider"
)

// defaultCacheID is the cache a new chat session uses without --cache-id.
const defaultCacheID = "chat"

type chatCommander struct {
	system  string
	cacheID string
	fresh   bool
	noCache bool
	debug   bool

	configDir string
	cfg       *config.Config
	logger    *slog.Logger
}

const chatLongDesc string = `Start an interactive chat session with the configured model.

Every prompt is first looked up in the semantic cache; answers to prompts
similar enough to an earlier one are served without calling the model.
The conversation is saved in the .llmkit/ directory and resumed the next
time "llmkit chat" runs. Use --new to start over.

Examples:
  llmkit chat
  llmkit chat --provider anthropic --model claude-sonnet-4-5
  llmkit chat --system "Answer in one sentence." --cache-id faq
  llmkit chat --new --no-cache`

const chatShortDesc string = "Interactive chat through the semantic cache"

var chatFlags = []string{
	config.FlagProvider,
	config.FlagModel,
	config.FlagProviderTarget,
	config.FlagEmbeddingProv,
	config.FlagEmbeddingTgt,
	config.FlagEmbeddingModel,
	config.FlagCacheStore,
	config.FlagCacheTarget,
	config.FlagCachePolicy,
	config.FlagLogLevel,
}

func NewChatCmd() *cobra.Command {
	cmder := &chatCommander{}

	var (
		providerName, model, providerTarget string
		embeddingProvider, embeddingTarget  string
		embeddingModel                      string
		cacheStore, cacheTarget             string
		cachePolicy, logLevel               string
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: chatShortDesc,
		Long:  chatLongDesc,
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.cfg, cmder.configDir, err = components.Resolve(cmd, chatFlags...)
			return err
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %w", err)
			}
			return cmder.run(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	config.AddStringFlag(cmd, config.Flags, config.FlagProvider, &providerName)
	config.AddStringFlag(cmd, config.Flags, config.FlagModel, &model)
	config.AddStringFlag(cmd, config.Flags, config.FlagProviderTarget, &providerTarget)
	config.AddStringFlag(cmd, config.Flags, config.FlagEmbeddingProv, &embeddingProvider)
	config.AddStringFlag(cmd, config.Flags, config.FlagEmbeddingTgt, &embeddingTarget)
	config.AddStringFlag(cmd, config.Flags, config.FlagEmbeddingModel, &embeddingModel)
	config.AddStringFlag(cmd, config.Flags, config.FlagCacheStore, &cacheStore)
	config.AddStringFlag(cmd, config.Flags, config.FlagCacheTarget, &cacheTarget)
	config.AddStringFlag(cmd, config.Flags, config.FlagCachePolicy, &cachePolicy)
	config.AddStringFlag(cmd, config.Flags, config.FlagLogLevel, &logLevel)

	cmd.Flags().StringVarP(&cmder.system, "system", "s", "", "System prompt for the conversation")
	cmd.Flags().StringVar(&cmder.cacheID, "cache-id", "", "Semantic cache to answer from (default: the session's, or \"chat\")")
	cmd.Flags().BoolVar(&cmder.fresh, "new", false, "Discard the saved conversation and start a new one")
	cmd.Flags().BoolVar(&cmder.noCache, "no-cache", false, "Always call the model")

	return cmd
}

func (c *chatCommander) run(ctx context.Context, in io.Reader, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	c.logger = components.NewLogger(c.cfg.Log, c.debug, new(slog.LevelVar))

	builder, err := components.NewBuilder(c.cfg, c.configDir, c.logger)
	if err != nil {
		return err
	}

	model, err := builder.Provider()
	if err != nil {
		return fmt.Errorf("creating provider: %w", err)
	}

	if !c.noCache {
		embedder, err := builder.Embedder()
		if err != nil {
			return fmt.Errorf("creating embedder: %w", err)
		}
		defer embedder.Close()

		caches, err := builder.Caches(ctx, embedder)
		if err != nil {
			return fmt.Errorf("creating cache: %w", err)
		}
		defer caches.Close()

		model = cache.NewCachedModel(model, caches, nil, c.logger)
	}

	s, err := c.newSession()
	if err != nil {
		return err
	}
	s.markdown = cliui.IsTerminal(out)
	return s.loop(ctx, in, out, model)
}

// newSession resumes the saved conversation unless --new is set.
func (c *chatCommander) newSession() (*session, error) {
	dirs := dotdir.NewManager()

	s := &session{
		dirs:      dirs,
		configDir: c.configDir,
		model:     c.cfg.Provider.Model,
		system:    c.system,
		stored:    &dotdir.Session{CacheID: c.cacheID},
	}

	if c.fresh {
		if err := dirs.ClearSession(c.configDir); err != nil {
			return nil, err
		}
	} else {
		stored, err := dirs.LoadSession(c.configDir)
		if err != nil {
			return nil, fmt.Errorf("loading session: %w", err)
		}
		if stored != nil {
			s.stored = stored
			if c.cacheID != "" {
				s.stored.CacheID = c.cacheID
			}
		}
	}

	if s.stored.CacheID == "" {
		s.stored.CacheID = defaultCacheID
	}
	s.stored.Model = s.model
	return s, nil
}

// session is one interactive conversation.
type session struct {
	dirs      *dotdir.Manager
	configDir string
	model     string
	system    string
	stored    *dotdir.Session

	// markdown renders finished answers with glamour instead of streaming
	// raw text.
	markdown bool
}

func (s *session) loop(ctx context.Context, in io.Reader, out io.Writer, model provider.Provider) error {
	fmt.Fprintln(out)
	if n := len(s.stored.Messages); n > 0 {
		fmt.Fprintf(out, "  %s Resuming conversation %s\n",
			cliui.Mark(nil),
			cliui.Render(cliui.DimStyle, fmt.Sprintf("(%d messages)", n)),
		)
	} else {
		fmt.Fprintf(out, "  %s New conversation\n", cliui.Render(cliui.DimStyle, "●"))
	}
	fmt.Fprintf(out, "  %s %s  %s %s\n\n",
		cliui.Render(cliui.StepStyle, "Model:"),
		cliui.Render(cliui.AccentStyle, model.Name()+"/"+s.model),
		cliui.Render(cliui.StepStyle, "Cache:"),
		cliui.Render(cliui.AccentStyle, s.stored.CacheID),
	)
	fmt.Fprintf(out, "  %s\n\n", cliui.Render(cliui.DimStyle, "Type your message and press Enter. /exit or Ctrl+D to quit."))

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, cliui.UserPrompt())
		if !scanner.Scan() {
			break
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "/exit" {
			break
		}

		answer, err := s.turn(ctx, out, model, input)
		if err != nil {
			fmt.Fprintf(out, "  %s %v\n\n", cliui.Mark(err), err)
			continue
		}

		s.stored.Messages = append(s.stored.Messages,
			dotdir.SessionMessage{Role: llm.RoleUser, Content: input},
			dotdir.SessionMessage{Role: llm.RoleAssistant, Content: answer},
		)
		if err := s.dirs.SaveSession(s.stored, s.configDir); err != nil {
			return err
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading input: %w", err)
	}

	fmt.Fprintln(out)
	return nil
}

// request builds the chat request for the saved history plus input.
func (s *session) request(input string) *llm.ChatRequest {
	messages := make([]llm.Message, 0, len(s.stored.Messages)+1)
	for _, m := range s.stored.Messages {
		messages = append(messages, llm.NewTextMessage(m.Role, m.Content))
	}
	messages = append(messages, llm.NewTextMessage(llm.RoleUser, input))

	return &llm.ChatRequest{
		Model:    s.model,
		System:   s.system,
		Messages: messages,
	}
}

// turn asks the model and prints the answer. Non-terminal output is
// streamed; terminals get a spinner and the rendered markdown.
func (s *session) turn(ctx context.Context, out io.Writer, model provider.Provider, input string) (string, error) {
	ctx = cache.WithID(ctx, s.stored.CacheID)
	req := s.request(input)

	var resp *llm.ChatResponse
	if s.markdown {
		err := cliui.Step(ctx, out, "Thinking", func() error {
			var err error
			resp, err = model.Chat(ctx, req)
			return err
		})
		if err != nil {
			return "", err
		}
		fmt.Fprint(out, cliui.AssistantPrompt())
		fmt.Fprint(out, cliui.RenderMarkdown(out, resp.Text()))
	} else {
		fmt.Fprint(out, cliui.AssistantPrompt())
		var err error
		resp, err = model.Stream(ctx, req, func(chunk *llm.StreamChunk) error {
			_, err := io.WriteString(out, chunk.Text)
			return err
		})
		if err != nil {
			fmt.Fprintln(out)
			return "", err
		}
	}

	if hit, _ := resp.Extra[cache.ExtraCacheHit].(bool); hit {
		fmt.Fprintf(out, " %s", cliui.CacheHit())
	}
	fmt.Fprint(out, "\n\n")

	return resp.Text(), nil
}
