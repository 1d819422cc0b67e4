package eventstream_test

import (
	"encoding/json"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/llmkit/pkg/eventstream"
	"github.com/papercomputeco/llmkit/pkg/llm"
)

var _ = Describe("Event", func() {
	It("stamps new events with a schema version, id and time", func() {
		before := time.Now().UTC()
		event := eventstream.NewEvent(eventstream.EventTypeCacheHit, eventstream.EventSource{Component: "cache"})

		Expect(event.SchemaVersion).To(Equal(eventstream.SchemaVersionV1))
		Expect(event.EventType).To(Equal("llmkit.cache.hit"))
		Expect(strings.HasPrefix(event.EventID, "evt_")).To(BeTrue())
		Expect(event.EmittedAt).To(BeTemporally(">=", before))

		other := eventstream.NewEvent(eventstream.EventTypeCacheHit, eventstream.EventSource{})
		Expect(other.EventID).NotTo(Equal(event.EventID))
	})

	It("omits the payload it does not carry", func() {
		event := eventstream.NewEvent(eventstream.EventTypeDocumentIngested, eventstream.EventSource{Component: "ingest"})
		event.Document = &eventstream.DocumentMeta{ID: "doc-1", Chars: 12, Dimensions: 3}

		payload, err := json.Marshal(event)
		Expect(err).NotTo(HaveOccurred())

		var got map[string]any
		Expect(json.Unmarshal(payload, &got)).To(Succeed())
		Expect(got).To(HaveKey("document"))
		Expect(got).NotTo(HaveKey("turn"))
		Expect(got["source"]).To(HaveKeyWithValue("component", "ingest"))
	})

	It("carries the conversation turn for cache events", func() {
		event := eventstream.NewEvent(eventstream.EventTypeCacheStore, eventstream.EventSource{Provider: "openai"})
		event.Turn = &llm.ConversationTurn{
			Provider: "openai",
			CacheID:  "#DEFAULT",
			Request:  &llm.ChatRequest{Messages: []llm.Message{llm.NewTextMessage(llm.RoleUser, "hello")}},
			Response: &llm.ChatResponse{Message: llm.NewTextMessage(llm.RoleAssistant, "hi")},
		}

		payload, err := json.Marshal(event)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(payload)).To(ContainSubstring(`"cache_id":"#DEFAULT"`))
	})

	It("provides ErrNilEvent for nil payload validation", func() {
		Expect(eventstream.ErrNilEvent).To(MatchError("nil event"))
	})
})
