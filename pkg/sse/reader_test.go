package sse

import (
	"bytes"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// drain reads every event until the reader is exhausted.
func drain(r *Reader) []*Event {
	var events []*Event
	for {
		ev, err := r.Next()
		Expect(err).NotTo(HaveOccurred())
		if ev == nil {
			return events
		}
		events = append(events, ev)
	}
}

var _ = Describe("Reader", func() {
	Describe("Next", func() {
		It("parses a single data event", func() {
			events := drain(NewReader(strings.NewReader("data: hello world\n\n")))
			Expect(events).To(HaveLen(1))
			Expect(events[0].Data).To(Equal("hello world"))
			Expect(events[0].Type).To(BeEmpty())
			Expect(events[0].ID).To(BeEmpty())
		})

		It("parses the event type and id", func() {
			events := drain(NewReader(strings.NewReader("id: 7\nevent: content_block_delta\ndata: {\"type\":\"delta\"}\n\n")))
			Expect(events).To(HaveLen(1))
			Expect(events[0].Type).To(Equal("content_block_delta"))
			Expect(events[0].ID).To(Equal("7"))
			Expect(events[0].Data).To(Equal(`{"type":"delta"}`))
		})

		It("joins multi-line data with newlines", func() {
			events := drain(NewReader(strings.NewReader("data: a\ndata: b\ndata: c\n\n")))
			Expect(events[0].Data).To(Equal("a\nb\nc"))
		})

		It("reads an OpenAI-compatible stream up to the done sentinel", func() {
			input := "data: {\"choices\":[{\"delta\":{\"content\":\"Hi\"}}]}\n\n" +
				"data: [DONE]\n\n"
			events := drain(NewReader(strings.NewReader(input)))
			Expect(events).To(HaveLen(2))
			Expect(events[0].IsDone()).To(BeFalse())
			Expect(events[1].IsDone()).To(BeTrue())
		})

		It("reads an Anthropic stream with named events", func() {
			input := "event: message_start\ndata: {\"type\":\"message_start\"}\n\n" +
				"event: ping\ndata: {\"type\":\"ping\"}\n\n" +
				"event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n"
			events := drain(NewReader(strings.NewReader(input)))
			Expect(events).To(HaveLen(3))
			Expect(events[0].Type).To(Equal("message_start"))
			Expect(events[2].Type).To(Equal("message_stop"))
		})

		It("skips comments, blank lines and unknown fields", func() {
			input := "\n\n: keep-alive\nretry: 3000\nfoo: bar\ndata: hello\n\n"
			events := drain(NewReader(strings.NewReader(input)))
			Expect(events).To(HaveLen(1))
			Expect(events[0].Data).To(Equal("hello"))
		})

		DescribeTable("data field spacing",
			func(input, expected string) {
				events := drain(NewReader(strings.NewReader(input)))
				Expect(events).To(HaveLen(1))
				Expect(events[0].Data).To(Equal(expected))
			},
			Entry("no space after colon", "data:no-space\n\n", "no-space"),
			Entry("empty value", "data:\n\n", ""),
			Entry("single space value", "data: \n\n", ""),
			Entry("field without colon", "data\n\n", ""),
		)

		It("yields a trailing event without a blank line terminator", func() {
			events := drain(NewReader(strings.NewReader("data: unterminated")))
			Expect(events).To(HaveLen(1))
			Expect(events[0].Data).To(Equal("unterminated"))
		})

		It("returns nil on empty input", func() {
			ev, err := NewReader(strings.NewReader("")).Next()
			Expect(err).NotTo(HaveOccurred())
			Expect(ev).To(BeNil())
		})
	})

	Describe("NewTeeReader", func() {
		It("copies the raw stream to the destination", func() {
			input := ": comment\nevent: message_stop\ndata: {\"type\":\"message_stop\"}\n\ndata: second\n\n"
			var dst bytes.Buffer
			drain(NewTeeReader(strings.NewReader(input), &dst))
			Expect(dst.String()).To(Equal(input))
		})
	})
})

var _ = Describe("Writer", func() {
	It("frames data and named events", func() {
		var buf bytes.Buffer
		w := NewWriter(&buf)
		Expect(w.WriteData(`{"text":"hi"}`)).To(Succeed())
		Expect(w.WriteEvent("error", "boom")).To(Succeed())
		Expect(w.WriteDone()).To(Succeed())

		Expect(buf.String()).To(Equal("data: {\"text\":\"hi\"}\n\nevent: error\ndata: boom\n\ndata: [DONE]\n\n"))
	})

	It("produces frames the reader can parse back", func() {
		var buf bytes.Buffer
		w := NewWriter(&buf)
		Expect(w.WriteEvent("chunk", "one")).To(Succeed())
		Expect(w.WriteError("bad")).To(Succeed())

		events := drain(NewReader(&buf))
		Expect(events).To(HaveLen(2))
		Expect(events[0].Type).To(Equal("chunk"))
		Expect(events[1].Type).To(Equal("error"))
		Expect(events[1].Data).To(Equal("bad"))
	})
})
