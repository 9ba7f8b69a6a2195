package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hupe1980/conclave/core"
)

// DefaultMaxItems bounds the short-term list when no limit is configured.
const DefaultMaxItems = 1000

// Options configures an InMemoryStore.
type Options struct {
	// MaxItems bounds the short-term list; the oldest item is evicted first.
	MaxItems int
	// Now overrides the clock (tests).
	Now func() time.Time
}

type record struct {
	item core.MemoryItem
	seq  uint64
}

// InMemoryStore is a process-local core.Memory. It keeps
//  1. a bounded short-term list (oldest evicted past MaxItems)
//  2. a permanent long-term map keyed by item key
//
// Concurrency: protected by RWMutex.
// Relevance: keyword overlap with the query, ties broken by recency. Swap for
// an embedding index when semantic retrieval is needed.
type InMemoryStore struct {
	mu        sync.RWMutex
	shortTerm []record
	longTerm  map[string]record
	maxItems  int
	seq       uint64
	now       func() time.Time
}

// NewInMemoryStore creates a new in-memory store.
func NewInMemoryStore(optFns ...func(o *Options)) *InMemoryStore {
	opts := Options{MaxItems: DefaultMaxItems, Now: time.Now}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxItems <= 0 {
		opts.MaxItems = DefaultMaxItems
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &InMemoryStore{
		longTerm: make(map[string]record),
		maxItems: opts.MaxItems,
		now:      opts.Now,
	}
}

// MaxItems returns the short-term capacity.
func (m *InMemoryStore) MaxItems() int { return m.maxItems }

// Store records content under key. Permanent items go to the long-term map
// (replacing an item with the same key); others are appended to the
// short-term list.
func (m *InMemoryStore) Store(_ context.Context, key, content string, metadata map[string]any, permanent bool) (core.MemoryItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	item := core.MemoryItem{
		ID:        uuid.NewString(),
		Key:       key,
		Content:   content,
		Metadata:  copyMetadata(metadata),
		Timestamp: m.now().UTC(),
		Permanent: permanent,
	}
	rec := record{item: item, seq: m.seq}

	if permanent {
		m.longTerm[key] = rec
		return item, nil
	}

	m.shortTerm = append(m.shortTerm, rec)
	if len(m.shortTerm) > m.maxItems {
		m.shortTerm = m.shortTerm[len(m.shortTerm)-m.maxItems:]
	}

	return item, nil
}

// StoreExchange implements core.MemoryStore by appending an input/response
// pair to short-term memory.
func (m *InMemoryStore) StoreExchange(ctx context.Context, input, response string) error {
	m.mu.RLock()
	key := fmt.Sprintf("exchange_%d", len(m.shortTerm))
	m.mu.RUnlock()

	_, err := m.Store(ctx, key, FormatExchange(input, response), map[string]any{"input": input}, false)

	return err
}

// Retrieve returns the newest short-term item with key, falling back to the
// long-term map.
func (m *InMemoryStore) Retrieve(_ context.Context, key string) (core.MemoryItem, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for i := len(m.shortTerm) - 1; i >= 0; i-- {
		if m.shortTerm[i].item.Key == key {
			return cloneItem(m.shortTerm[i].item), true, nil
		}
	}

	if rec, ok := m.longTerm[key]; ok {
		return cloneItem(rec.item), true, nil
	}

	return core.MemoryItem{}, false, nil
}

// RetrieveShortTerm returns the short-term items oldest first.
func (m *InMemoryStore) RetrieveShortTerm(_ context.Context) ([]core.MemoryItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]core.MemoryItem, len(m.shortTerm))
	for i, rec := range m.shortTerm {
		out[i] = cloneItem(rec.item)
	}

	return out, nil
}

// RetrieveRelevant implements core.MemoryStore. Items sharing words with the
// query rank first (more shared words first), ties and an empty query fall
// back to recency. limit <= 0 returns every match.
func (m *InMemoryStore) RetrieveRelevant(_ context.Context, query string, limit int) ([]core.MemoryItem, error) {
	m.mu.RLock()
	all := make([]record, 0, len(m.shortTerm)+len(m.longTerm))
	all = append(all, m.shortTerm...)
	for _, rec := range m.longTerm {
		all = append(all, rec)
	}
	m.mu.RUnlock()

	ranked := rank(query, all)
	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}

	return ranked, nil
}

// Delete removes the item with the given id from either tier.
func (m *InMemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, rec := range m.shortTerm {
		if rec.item.ID == id {
			m.shortTerm = append(m.shortTerm[:i], m.shortTerm[i+1:]...)
			return nil
		}
	}
	for k, rec := range m.longTerm {
		if rec.item.ID == id {
			delete(m.longTerm, k)
			return nil
		}
	}

	return fmt.Errorf("memory %s: %w", id, ErrNotFound)
}

// ClearShortTerm drops every short-term item.
func (m *InMemoryStore) ClearShortTerm(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.shortTerm = nil

	return nil
}

// ClearAll drops both tiers.
func (m *InMemoryStore) ClearAll(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.shortTerm = nil
	m.longTerm = make(map[string]record)

	return nil
}

type snapshot struct {
	ShortTerm []core.MemoryItem          `json:"short_term"`
	LongTerm  map[string]core.MemoryItem `json:"long_term"`
	MaxItems  int                        `json:"max_items"`
}

// Serialize encodes both tiers and the capacity as JSON.
func (m *InMemoryStore) Serialize() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := snapshot{
		ShortTerm: make([]core.MemoryItem, len(m.shortTerm)),
		LongTerm:  make(map[string]core.MemoryItem, len(m.longTerm)),
		MaxItems:  m.maxItems,
	}
	for i, rec := range m.shortTerm {
		snap.ShortTerm[i] = rec.item
	}
	for k, rec := range m.longTerm {
		snap.LongTerm[k] = rec.item
	}

	return json.Marshal(snap)
}

// Deserialize rebuilds a store from Serialize output.
func Deserialize(data []byte) (*InMemoryStore, error) {
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode memory snapshot: %w", err)
	}

	m := NewInMemoryStore(func(o *Options) { o.MaxItems = snap.MaxItems })

	// Restore recency order: timestamps first, then snapshot position.
	long := make([]core.MemoryItem, 0, len(snap.LongTerm))
	for _, item := range snap.LongTerm {
		long = append(long, item)
	}
	sort.SliceStable(long, func(i, j int) bool { return long[i].Timestamp.Before(long[j].Timestamp) })

	for _, item := range long {
		m.seq++
		m.longTerm[item.Key] = record{item: item, seq: m.seq}
	}
	for _, item := range snap.ShortTerm {
		m.seq++
		m.shortTerm = append(m.shortTerm, record{item: item, seq: m.seq})
	}
	if len(m.shortTerm) > m.maxItems {
		m.shortTerm = m.shortTerm[len(m.shortTerm)-m.maxItems:]
	}

	return m, nil
}

func cloneItem(item core.MemoryItem) core.MemoryItem {
	item.Metadata = copyMetadata(item.Metadata)
	return item
}

func copyMetadata(md map[string]any) map[string]any {
	if md == nil {
		return nil
	}
	out := make(map[string]any, len(md))
	for k, v := range md {
		out[k] = v
	}
	return out
}
