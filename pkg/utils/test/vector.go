package testutils

import (
	"context"
	"sync"

	"github.com/papercomputeco/llmkit/pkg/vector"
)

// MockVectorDriver is a test vector driver
type MockVectorDriver struct {
	mu sync.Mutex

	Documents []vector.Document

	// Results is returned by Query, truncated to the request limit.
	Results []vector.QueryResult

	// Requests records every query.
	Requests []vector.QueryRequest

	// Err is returned by every method when set.
	Err error
}

func NewMockVectorDriver() *MockVectorDriver {
	return &MockVectorDriver{
		Documents: make([]vector.Document, 0),
		Results:   make([]vector.QueryResult, 0),
	}
}

func (m *MockVectorDriver) Add(_ context.Context, docs []vector.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Documents = append(m.Documents, docs...)
	return nil
}

func (m *MockVectorDriver) Query(_ context.Context, req vector.QueryRequest) ([]vector.QueryResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	m.Requests = append(m.Requests, req)
	if len(m.Results) < req.Limit() {
		return m.Results, nil
	}
	return m.Results[:req.Limit()], nil
}

func (m *MockVectorDriver) Get(_ context.Context, ids []string) ([]vector.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []vector.Document
	for _, d := range m.Documents {
		if want[d.ID] {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *MockVectorDriver) Delete(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	kept := m.Documents[:0]
	for _, d := range m.Documents {
		if !drop[d.ID] {
			kept = append(kept, d)
		}
	}
	m.Documents = kept
	return nil
}

func (m *MockVectorDriver) DeleteAll(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Documents = m.Documents[:0]
	return m.Err
}

// Stored returns a copy of the documents added so far.
func (m *MockVectorDriver) Stored() []vector.Document {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]vector.Document(nil), m.Documents...)
}

func (m *MockVectorDriver) Close() error {
	return nil
}
