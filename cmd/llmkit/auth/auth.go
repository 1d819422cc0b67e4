// Package authcmder provides the auth command for storing API keys of model
// providers and hosted vector stores.
package authcmder

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/llmkit/pkg/cliui"
	"github.com/papercomputeco/llmkit/pkg/credentials"
)

const authLongDesc string = `Store API keys for model providers and hosted vector stores.

Keys are stored in credentials.toml in the .llmkit/ directory with 0600
permissions. A provider's environment variable (for example
ANTHROPIC_API_KEY) always takes precedence over the stored key.

Examples:
  llmkit auth anthropic              Prompt for an Anthropic API key
  llmkit auth qdrant                 Prompt for a Qdrant Cloud API key
  llmkit auth --list                 List stored credentials
  llmkit auth --remove openai        Remove the stored OpenAI key
  echo $KEY | llmkit auth mistral    Read the key from stdin`

const authShortDesc string = "Store API keys for providers"

func NewAuthCmd() *cobra.Command {
	var (
		listFlag   bool
		removeFlag string
	)

	cmd := &cobra.Command{
		Use:   "auth [provider]",
		Short: authShortDesc,
		Long:  authLongDesc,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configDir, _ := cmd.Flags().GetString("config-dir")
			mgr, err := credentials.NewManager(configDir)
			if err != nil {
				return fmt.Errorf("loading credentials: %w", err)
			}

			out := cmd.OutOrStdout()
			switch {
			case listFlag:
				return runList(out, mgr)
			case removeFlag != "":
				return runRemove(out, mgr, removeFlag)
			case len(args) == 0:
				return fmt.Errorf("provider argument required\n\nSupported providers: %s",
					strings.Join(credentials.SupportedProviders(), ", "))
			default:
				return runAuth(cmd.InOrStdin(), out, mgr, args[0])
			}
		},
		ValidArgsFunction: func(_ *cobra.Command, args []string, _ string) ([]string, cobra.ShellCompDirective) {
			if len(args) == 0 {
				return credentials.SupportedProviders(), cobra.ShellCompDirectiveNoFileComp
			}
			return nil, cobra.ShellCompDirectiveNoFileComp
		},
	}

	cmd.Flags().BoolVar(&listFlag, "list", false, "List stored credentials")
	cmd.Flags().StringVar(&removeFlag, "remove", "", "Remove stored credentials for a provider")

	return cmd
}

func runAuth(in io.Reader, out io.Writer, mgr *credentials.Manager, provider string) error {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if !credentials.IsSupportedProvider(provider) {
		return fmt.Errorf("unsupported provider: %q\n\nSupported providers: %s",
			provider, strings.Join(credentials.SupportedProviders(), ", "))
	}

	apiKey, err := readAPIKey(in, out, provider)
	if err != nil {
		return err
	}
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return errors.New("API key cannot be empty")
	}

	if err := mgr.SetKey(provider, apiKey); err != nil {
		return err
	}

	fmt.Fprintf(out, "\n  %s Stored %s credentials %s\n\n",
		cliui.Mark(nil),
		cliui.Render(cliui.KeyStyle, provider),
		cliui.Render(cliui.DimStyle, "(overridden by "+credentials.EnvVarForProvider(provider)+")"),
	)
	return nil
}

func runList(out io.Writer, mgr *credentials.Manager) error {
	providers, err := mgr.ListProviders()
	if err != nil {
		return err
	}

	if len(providers) == 0 {
		fmt.Fprintf(out, "\n  %s No stored credentials.\n", cliui.Render(cliui.DimStyle, "●"))
		fmt.Fprintf(out, "  Use 'llmkit auth <provider>' to store credentials.\n")
		fmt.Fprintf(out, "  Supported providers: %s\n\n", strings.Join(credentials.SupportedProviders(), ", "))
		return nil
	}

	fmt.Fprintf(out, "\n  %s\n\n", cliui.Render(cliui.KeyStyle, "Stored credentials"))
	for _, p := range providers {
		fmt.Fprintf(out, "  %s  %s  %s\n",
			cliui.Mark(nil),
			cliui.Render(cliui.ValueStyle, p),
			cliui.Render(cliui.DimStyle, "→ "+credentials.EnvVarForProvider(p)),
		)
	}
	fmt.Fprintln(out)
	return nil
}

func runRemove(out io.Writer, mgr *credentials.Manager, provider string) error {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if err := mgr.RemoveKey(provider); err != nil {
		return err
	}

	fmt.Fprintf(out, "\n  %s Removed %s credentials.\n\n", cliui.Mark(nil), cliui.Render(cliui.KeyStyle, provider))
	return nil
}

// readAPIKey prompts with hidden input on a terminal and otherwise reads the
// first line of in.
func readAPIKey(in io.Reader, out io.Writer, provider string) (string, error) {
	if f, ok := in.(*os.File); ok && cliui.IsTerminal(f) {
		return cliui.ReadSecret(out, fmt.Sprintf("  Enter %s API key: ", provider))
	}

	scanner := bufio.NewScanner(in)
	if scanner.Scan() {
		return scanner.Text(), nil
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("reading stdin: %w", err)
	}
	return "", errors.New("no input received on stdin")
}
