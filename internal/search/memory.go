package search

import (
	"context"
	"fmt"
	"sync"
)

// Memory is an in-process Engine for tests and local runs. It records the
// order of write operations so tests can assert on it.
type Memory struct {
	mu    sync.Mutex
	docs  map[string]Document
	calls []string
}

func NewMemory() *Memory {
	return &Memory{
		docs: make(map[string]Document),
	}
}

func (m *Memory) Index(ctx context.Context, doc Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[doc.ID] = doc
	m.calls = append(m.calls, "index:"+doc.ID)
	return nil
}

func (m *Memory) Update(ctx context.Context, doc Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[doc.ID] = doc
	m.calls = append(m.calls, "update:"+doc.ID)
	return nil
}

func (m *Memory) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "delete:"+id)
	if _, ok := m.docs[id]; !ok {
		return fmt.Errorf("delete document %s: %w", id, ErrDocumentMissing)
	}
	delete(m.docs, id)
	return nil
}

func (m *Memory) GetByID(ctx context.Context, id string) (*Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return nil, fmt.Errorf("get document %s: %w", id, ErrDocumentMissing)
	}
	return &doc, nil
}

func (m *Memory) Ping(ctx context.Context) error { return nil }

func (m *Memory) Close() {}

// Calls returns one entry per write in order, e.g. "index:42" or "delete:42".
func (m *Memory) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// Len reports the number of stored documents.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.docs)
}
