// Package llmkitcmder
package llmkitcmder

import (
	"github.com/spf13/cobra"

	authcmder "github.com/papercomputeco/llmkit/cmd/llmkit/auth"
	cachecmder "github.com/papercomputeco/llmkit/cmd/llmkit/cache"
	chatcmder "github.com/papercomputeco/llmkit/cmd/llmkit/chat"
	configcmder "github.com/papercomputeco/llmkit/cmd/llmkit/config"
	embedcmder "github.com/papercomputeco/llmkit/cmd/llmkit/embed"
	ingestcmder "github.com/papercomputeco/llmkit/cmd/llmkit/ingest"
	initcmder "github.com/papercomputeco/llmkit/cmd/llmkit/init"
	proxycmder "github.com/papercomputeco/llmkit/cmd/llmkit/proxy"
	searchcmder "github.com/papercomputeco/llmkit/cmd/llmkit/search"
	servecmder "github.com/papercomputeco/llmkit/cmd/llmkit/serve"
	versioncmder "github.com/papercomputeco/llmkit/cmd/version"
)

const llmkitLongDesc string = `llmkit is a toolkit for working with language models: one client for
many providers, a semantic response cache, embeddings and vector search.

Run a server using:
  llmkit serve         Run the API server
  llmkit proxy         Run the caching proxy in front of a provider API

Work from the terminal using:
  llmkit chat          Chat with the configured model through the cache
  llmkit embed         Embed text with the configured embedder
  llmkit ingest        Send documents to a running API server
  llmkit search        Search documents on a running API server

Configure llmkit using:
  llmkit init          Create a project-local .llmkit/ directory
  llmkit config        Get and set config.toml values
  llmkit auth          Store provider API keys`

const llmkitShortDesc string = "llmkit - LLM provider, cache and vector toolkit"

func NewLLMKitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "llmkit",
		Short:        llmkitShortDesc,
		Long:         llmkitLongDesc,
		SilenceUsage: true,
	}

	// Global flags
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().String("config-dir", "", "Override the .llmkit config directory")

	// Add subcommands
	cmd.AddCommand(servecmder.NewServeCmd())
	cmd.AddCommand(proxycmder.NewProxyCmd())
	cmd.AddCommand(chatcmder.NewChatCmd())
	cmd.AddCommand(embedcmder.NewEmbedCmd())
	cmd.AddCommand(searchcmder.NewSearchCmd())
	cmd.AddCommand(ingestcmder.NewIngestCmd())
	cmd.AddCommand(cachecmder.NewCacheCmd())
	cmd.AddCommand(configcmder.NewConfigCmd())
	cmd.AddCommand(initcmder.NewInitCmd())
	cmd.AddCommand(authcmder.NewAuthCmd())
	cmd.AddCommand(versioncmder.NewVersionCmd())

	return cmd
}
