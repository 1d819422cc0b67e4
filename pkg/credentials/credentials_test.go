package credentials_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/llmkit/pkg/credentials"
)

var _ = Describe("Manager", func() {
	var (
		tmpDir string
		mgr    *credentials.Manager
	)

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		var err error
		mgr, err = credentials.NewManager(tmpDir)
		Expect(err).NotTo(HaveOccurred())
	})

	It("targets credentials.toml in the override directory", func() {
		Expect(mgr.GetTarget()).To(Equal(filepath.Join(tmpDir, "credentials.toml")))
	})

	Describe("Load", func() {
		It("returns empty credentials when no file exists", func() {
			creds, err := mgr.Load()
			Expect(err).NotTo(HaveOccurred())
			Expect(creds.Providers).To(BeEmpty())
		})

		It("returns error for malformed TOML", func() {
			Expect(os.WriteFile(mgr.GetTarget(), []byte("not [valid"), 0o600)).To(Succeed())
			_, err := mgr.Load()
			Expect(err).To(MatchError(ContainSubstring("parsing credentials")))
		})
	})

	Describe("keys", func() {
		It("stores keys with restricted permissions", func() {
			Expect(mgr.SetKey("watsonx", "wx-123")).To(Succeed())

			info, err := os.Stat(mgr.GetTarget())
			Expect(err).NotTo(HaveOccurred())
			Expect(info.Mode().Perm()).To(Equal(os.FileMode(0o600)))

			key, err := mgr.GetKey("watsonx")
			Expect(err).NotTo(HaveOccurred())
			Expect(key).To(Equal("wx-123"))
		})

		It("rejects unknown providers", func() {
			Expect(mgr.SetKey("acme", "k")).To(MatchError(ContainSubstring(`unknown provider "acme"`)))
		})

		It("keeps other providers when one is updated or removed", func() {
			Expect(mgr.SetKey("openai", "sk-1")).To(Succeed())
			Expect(mgr.SetKey("pinecone", "pc-1")).To(Succeed())
			Expect(mgr.SetKey("openai", "sk-2")).To(Succeed())

			providers, err := mgr.ListProviders()
			Expect(err).NotTo(HaveOccurred())
			Expect(providers).To(Equal([]string{"openai", "pinecone"}))

			Expect(mgr.RemoveKey("openai")).To(Succeed())
			Expect(mgr.RemoveKey("missing")).To(Succeed())

			providers, err = mgr.ListProviders()
			Expect(err).NotTo(HaveOccurred())
			Expect(providers).To(Equal([]string{"pinecone"}))
		})
	})

	Describe("Resolve", func() {
		It("prefers the environment variable over the stored key", func() {
			Expect(mgr.SetKey("mistral", "stored")).To(Succeed())

			GinkgoT().Setenv("MISTRAL_API_KEY", "")
			key, err := mgr.Resolve("mistral")
			Expect(err).NotTo(HaveOccurred())
			Expect(key).To(Equal("stored"))

			GinkgoT().Setenv("MISTRAL_API_KEY", "from-env")
			key, err = mgr.Resolve("mistral")
			Expect(err).NotTo(HaveOccurred())
			Expect(key).To(Equal("from-env"))
		})

		It("returns empty for providers without a key", func() {
			key, err := mgr.Resolve("ollama")
			Expect(err).NotTo(HaveOccurred())
			Expect(key).To(BeEmpty())
		})
	})
})

var _ = Describe("EnvVarForProvider", func() {
	It("maps providers to their conventional variables", func() {
		Expect(credentials.EnvVarForProvider("bam")).To(Equal("GENAI_KEY"))
		Expect(credentials.EnvVarForProvider("huggingface")).To(Equal("HF_TOKEN"))
		Expect(credentials.EnvVarForProvider("ollama")).To(BeEmpty())
	})

	It("covers every supported provider", func() {
		for _, p := range credentials.SupportedProviders() {
			Expect(credentials.EnvVarForProvider(p)).NotTo(BeEmpty(), p)
		}
		Expect(credentials.IsSupportedProvider("anthropic")).To(BeTrue())
		Expect(credentials.IsSupportedProvider("ollama")).To(BeFalse())
	})
})
