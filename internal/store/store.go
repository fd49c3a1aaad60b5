package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Store is the persistence surface the pipeline depends on. *Client
// implements it against the HTTP/GraphQL document store; Memory implements
// it in-process for tests.
type Store interface {
	Create(ctx context.Context, collection string, input map[string]any) (string, error)
	Update(ctx context.Context, collection string, docID string, input map[string]any) error
	Delete(ctx context.Context, collection string, docID string) error
	Get(ctx context.Context, collection, docID string, fields []string) (map[string]any, error)
	List(ctx context.Context, collection string, filter map[string]any, fields []string, limit int) ([]map[string]any, error)
	HealthCheck(ctx context.Context) error
}

var _ Store = (*Client)(nil)
var _ Store = (*Memory)(nil)

// Memory is an in-process Store used by tests and by the pipeline's
// dry-run mode. Documents are deep-ish copies (top-level maps are copied)
// so callers cannot mutate stored state through returned values.
type Memory struct {
	mu   sync.RWMutex
	docs map[string]map[string]map[string]any // collection -> docID -> fields
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{docs: make(map[string]map[string]map[string]any)}
}

// Create stores a new document and returns a generated ID.
func (m *Memory) Create(_ context.Context, collection string, input map[string]any) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.docs[collection] == nil {
		m.docs[collection] = make(map[string]map[string]any)
	}
	docID := uuid.NewString()
	m.docs[collection][docID] = copyDoc(input)
	return docID, nil
}

// Update merges input into an existing document.
func (m *Memory) Update(_ context.Context, collection string, docID string, input map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.docs[collection][docID]
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, collection, docID)
	}
	for k, v := range input {
		doc[k] = v
	}
	return nil
}

// Delete removes a document.
func (m *Memory) Delete(_ context.Context, collection string, docID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.docs[collection][docID]; !ok {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, collection, docID)
	}
	delete(m.docs[collection], docID)
	return nil
}

// Get returns a copy of a document. The fields argument is ignored; the
// whole document comes back, which is a superset of any projection.
func (m *Memory) Get(_ context.Context, collection, docID string, _ []string) (map[string]any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.docs[collection][docID]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, collection, docID)
	}
	out := copyDoc(doc)
	out["_docID"] = docID
	return out, nil
}

// List returns documents matching all equality filters.
func (m *Memory) List(_ context.Context, collection string, filter map[string]any, _ []string, limit int) ([]map[string]any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}
	var out []map[string]any
	for docID, doc := range m.docs[collection] {
		if !matchesFilter(doc, filter) {
			continue
		}
		d := copyDoc(doc)
		d["_docID"] = docID
		out = append(out, d)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// HealthCheck always succeeds for the in-memory store.
func (m *Memory) HealthCheck(_ context.Context) error {
	return nil
}

func matchesFilter(doc map[string]any, filter map[string]any) bool {
	for k, want := range filter {
		if fmt.Sprintf("%v", doc[k]) != fmt.Sprintf("%v", want) {
			return false
		}
	}
	return true
}

func copyDoc(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
