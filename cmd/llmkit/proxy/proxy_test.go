package proxycmder_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	proxycmder "github.com/papercomputeco/llmkit/cmd/llmkit/proxy"
)

var _ = Describe("NewProxyCmd", func() {
	It("registers the proxy flags with their defaults", func() {
		cmd := proxycmder.NewProxyCmd()
		Expect(cmd.Use).To(Equal("proxy"))

		listen := cmd.Flags().Lookup("listen")
		Expect(listen).NotTo(BeNil())
		Expect(listen.DefValue).To(Equal(":8090"))

		upstream := cmd.Flags().Lookup("upstream")
		Expect(upstream.Shorthand).To(Equal("u"))
		Expect(upstream.DefValue).To(Equal("http://localhost:11434"))

		Expect(cmd.Flags().Lookup("upstream-provider").DefValue).To(Equal("ollama"))
		Expect(cmd.Flags().Lookup("cache-store")).NotTo(BeNil())
		Expect(cmd.Flags().Lookup("provider")).To(BeNil())
	})

	It("rejects positional arguments", func() {
		cmd := proxycmder.NewProxyCmd()
		cmd.SetArgs([]string{"extra"})
		Expect(cmd.Execute()).To(HaveOccurred())
	})
})
