package testutils

import (
	"context"
	"sync"
	"time"

	"github.com/papercomputeco/llmkit/pkg/llm"
)

// MockProvider is a chat provider that answers every request with Reply.
type MockProvider struct {
	mu sync.Mutex

	ProviderName string
	Reply        string

	// Err is returned instead of a response when set.
	Err error

	// Requests records every request received.
	Requests []*llm.ChatRequest
}

func NewMockProvider(reply string) *MockProvider {
	return &MockProvider{ProviderName: "mock", Reply: reply}
}

func (m *MockProvider) Name() string {
	return m.ProviderName
}

func (m *MockProvider) Chat(_ context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Requests = append(m.Requests, req)
	if m.Err != nil {
		return nil, m.Err
	}
	return &llm.ChatResponse{
		Model:        req.Model,
		CreatedAt:    time.Now(),
		Message:      llm.NewTextMessage(llm.RoleAssistant, m.Reply),
		Done:         true,
		FinishReason: llm.FinishStop,
	}, nil
}

// Stream emits Reply as a single chunk followed by the Done chunk.
func (m *MockProvider) Stream(ctx context.Context, req *llm.ChatRequest, handler llm.StreamHandler) (*llm.ChatResponse, error) {
	resp, err := m.Chat(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := handler(&llm.StreamChunk{Model: req.Model, Text: m.Reply}); err != nil {
		return nil, err
	}
	if err := handler(&llm.StreamChunk{Model: req.Model, Done: true}); err != nil {
		return nil, err
	}
	return resp, nil
}

// Calls returns the number of requests received.
func (m *MockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Requests)
}
