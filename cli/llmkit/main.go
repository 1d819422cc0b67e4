package main

import (
	"os"

	llmkitcmder "github.com/papercomputeco/llmkit/cmd/llmkit"
)

func main() {
	cmd := llmkitcmder.NewLLMKitCmd()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
