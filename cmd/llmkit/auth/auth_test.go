package authcmder_test

import (
	"bytes"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	authcmder "github.com/papercomputeco/llmkit/cmd/llmkit/auth"
	"github.com/papercomputeco/llmkit/pkg/credentials"
)

var _ = Describe("Auth Command", func() {
	var (
		dir string
		out *bytes.Buffer
	)

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
		out = &bytes.Buffer{}
	})

	execute := func(stdin string, args ...string) error {
		cmd := authcmder.NewAuthCmd()
		cmd.PersistentFlags().String("config-dir", "", "")
		cmd.SetIn(strings.NewReader(stdin))
		cmd.SetOut(out)
		cmd.SetErr(&bytes.Buffer{})
		cmd.SetArgs(append(args, "--config-dir", dir))
		return cmd.Execute()
	}

	manager := func() *credentials.Manager {
		mgr, err := credentials.NewManager(dir)
		Expect(err).NotTo(HaveOccurred())
		return mgr
	}

	It("stores a piped key", func() {
		Expect(execute("  sk-ant-test  \n", "Anthropic")).To(Succeed())
		Expect(out.String()).To(ContainSubstring("ANTHROPIC_API_KEY"))

		key, err := manager().GetKey("anthropic")
		Expect(err).NotTo(HaveOccurred())
		Expect(key).To(Equal("sk-ant-test"))
	})

	It("rejects an empty key", func() {
		Expect(execute("\n", "openai")).To(MatchError(ContainSubstring("cannot be empty")))
	})

	It("rejects unsupported providers", func() {
		Expect(execute("key\n", "nope")).To(MatchError(ContainSubstring("unsupported provider")))
	})

	It("requires a provider", func() {
		Expect(execute("")).To(MatchError(ContainSubstring("provider argument required")))
	})

	It("lists stored credentials", func() {
		Expect(manager().SetKey("qdrant", "q-key")).To(Succeed())

		Expect(execute("", "--list")).To(Succeed())
		Expect(out.String()).To(ContainSubstring("qdrant"))
		Expect(out.String()).To(ContainSubstring("QDRANT_API_KEY"))
	})

	It("reports when nothing is stored", func() {
		Expect(execute("", "--list")).To(Succeed())
		Expect(out.String()).To(ContainSubstring("No stored credentials."))
	})

	It("removes stored credentials", func() {
		Expect(manager().SetKey("mistral", "m-key")).To(Succeed())

		Expect(execute("", "--remove", "mistral")).To(Succeed())
		providers, err := manager().ListProviders()
		Expect(err).NotTo(HaveOccurred())
		Expect(providers).NotTo(ContainElement("mistral"))
	})
})
