package main

import (
	"os"

	servecmder "github.com/papercomputeco/llmkit/cmd/llmkit/serve"
)

func main() {
	cmd := servecmder.NewServeCmd()
	cmd.Use = "llmkitapi"
	cmd.SilenceUsage = true
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().String("config-dir", "", "Override the .llmkit config directory")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
