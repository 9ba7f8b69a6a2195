package core

import (
	"context"
	"time"
)

// MemoryItem is a single remembered record returned by RetrieveRelevant.
type MemoryItem struct {
	ID        string         `json:"id"`
	Key       string         `json:"key"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Permanent bool           `json:"permanent,omitempty"`
}

// MemoryStore is the context collaborator used by responders and the
// coordinator. Implementations decide what "relevant" means (recency,
// keywords, embeddings); the coordinator only relies on the most relevant items
// coming first.
type MemoryStore interface {
	RetrieveRelevant(ctx context.Context, query string, limit int) ([]MemoryItem, error)
	StoreExchange(ctx context.Context, input, response string) error
}

// Memory is the full store contract implemented by the memory package
// backends: keyed short-term and permanent records on top of MemoryStore.
type Memory interface {
	MemoryStore
	Store(ctx context.Context, key, content string, metadata map[string]any, permanent bool) (MemoryItem, error)
	Retrieve(ctx context.Context, key string) (MemoryItem, bool, error)
	RetrieveShortTerm(ctx context.Context) ([]MemoryItem, error)
	ClearShortTerm(ctx context.Context) error
	ClearAll(ctx context.Context) error
}
