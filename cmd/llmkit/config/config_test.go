package configcmder_test

import (
	"bytes"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/cobra"

	configcmder "github.com/papercomputeco/llmkit/cmd/llmkit/config"
)

var _ = Describe("NewConfigCmd", func() {
	It("has set, get, and list subcommands", func() {
		cmd := configcmder.NewConfigCmd()
		Expect(cmd.Use).To(Equal("config"))

		names := make([]string, 0, 3)
		for _, sub := range cmd.Commands() {
			names = append(names, sub.Name())
		}
		Expect(names).To(ContainElements("set", "get", "list"))
	})
})

var _ = Describe("Config command execution", func() {
	var (
		dir string
		out *bytes.Buffer
	)

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
		out = &bytes.Buffer{}
	})

	// execute runs the config command under a root that carries the
	// persistent --config-dir flag, like the llmkit binary.
	execute := func(args ...string) error {
		root := &cobra.Command{Use: "llmkit"}
		root.PersistentFlags().String("config-dir", "", "")
		root.AddCommand(configcmder.NewConfigCmd())
		root.SetOut(out)
		root.SetErr(&bytes.Buffer{})
		root.SetArgs(append(append([]string{"config"}, args...), "--config-dir", dir))
		return root.Execute()
	}

	Describe("set", func() {
		It("writes config.toml", func() {
			Expect(execute("set", "provider.name", "anthropic")).To(Succeed())
			Expect(out.String()).To(ContainSubstring("provider.name"))

			data, err := os.ReadFile(filepath.Join(dir, "config.toml"))
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(ContainSubstring(`name = "anthropic"`))
		})

		It("rejects unknown keys", func() {
			err := execute("set", "invalid_key", "value")
			Expect(err).To(MatchError(ContainSubstring("unknown config key")))
		})

		It("rejects invalid numbers", func() {
			Expect(execute("set", "embedding.dimensions", "not-a-number")).To(HaveOccurred())
			Expect(execute("set", "cache.threshold", "high")).To(HaveOccurred())
		})

		It("requires exactly two arguments", func() {
			Expect(execute("set", "provider.name")).To(HaveOccurred())
		})
	})

	Describe("get", func() {
		It("prints a previously set value", func() {
			Expect(execute("set", "cache.store", "badger")).To(Succeed())
			out.Reset()

			Expect(execute("get", "cache.store")).To(Succeed())
			Expect(out.String()).To(ContainSubstring("badger"))
		})

		It("prints defaults when nothing is set", func() {
			Expect(execute("get", "provider.name")).To(Succeed())
			Expect(out.String()).To(ContainSubstring("ollama"))
		})

		It("rejects unknown keys", func() {
			Expect(execute("get", "invalid_key")).To(HaveOccurred())
		})
	})

	Describe("list", func() {
		It("prints every key", func() {
			Expect(execute("set", "provider.model", "llama3.2")).To(Succeed())
			out.Reset()

			Expect(execute("list")).To(Succeed())
			Expect(out.String()).To(ContainSubstring("provider.model"))
			Expect(out.String()).To(ContainSubstring("llama3.2"))
			Expect(out.String()).To(ContainSubstring("log.format"))
		})

		It("rejects arguments", func() {
			Expect(execute("list", "extra")).To(HaveOccurred())
		})
	})
})
