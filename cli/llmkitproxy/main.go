package main

import (
	"os"

	proxycmder "github.com/papercomputeco/llmkit/cmd/llmkit/proxy"
)

func main() {
	cmd := proxycmder.NewProxyCmd()
	cmd.Use = "llmkitproxy"
	cmd.SilenceUsage = true
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().String("config-dir", "", "Override the .llmkit config directory")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
