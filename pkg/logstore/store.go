package logstore

import (
	"context"
	"sync"
)

// Store is the corpus of log records.
// Implementations must allow concurrent Snapshot calls and serialize Insert calls.
type Store interface {
	// Insert appends a record. A zero ID is replaced by the next free ID.
	// Returns *DuplicateIDError if the ID is already taken and
	// *OutOfOrderIDError if it is below the highest stored ID.
	Insert(ctx context.Context, rec Record) (Record, error)

	// Snapshot returns every record inserted so far, in insertion order.
	// A record whose Insert returned before Snapshot was called is always included.
	Snapshot(ctx context.Context) (Corpus, error)

	// Len returns the number of stored records.
	Len(ctx context.Context) (int, error)

	// Close releases any resources held by the store.
	Close() error
}

// Notifier is implemented by stores that can report successful inserts.
type Notifier interface {
	// OnInsert registers fn to be called after every successful insert.
	OnInsert(fn func(Record))
}

// insertHooks is embedded by the store implementations.
type insertHooks struct {
	mu    sync.RWMutex
	hooks []func(Record)
}

func (h *insertHooks) OnInsert(fn func(Record)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hooks = append(h.hooks, fn)
}

func (h *insertHooks) fire(rec Record) {
	h.mu.RLock()
	hooks := h.hooks
	h.mu.RUnlock()

	for _, fn := range hooks {
		fn(rec)
	}
}

// MemoryStore keeps the corpus in an append-only slice.
type MemoryStore struct {
	insertHooks

	mu      sync.RWMutex
	records []Record
	ids     map[int64]struct{}
	maxID   int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		ids: make(map[int64]struct{}),
	}
}

// Insert appends rec after checking its ID is unused and above every stored ID.
func (s *MemoryStore) Insert(_ context.Context, rec Record) (Record, error) {
	if err := validate(rec); err != nil {
		return Record{}, err
	}
	rec.Timestamp = rec.Timestamp.UTC()

	s.mu.Lock()
	if rec.ID == 0 {
		rec.ID = s.maxID + 1
	}
	if _, exists := s.ids[rec.ID]; exists {
		s.mu.Unlock()
		return Record{}, &DuplicateIDError{ID: rec.ID}
	}
	if rec.ID <= s.maxID {
		s.mu.Unlock()
		return Record{}, &OutOfOrderIDError{ID: rec.ID, Max: s.maxID}
	}
	s.ids[rec.ID] = struct{}{}
	s.maxID = rec.ID
	s.records = append(s.records, rec)
	s.mu.Unlock()

	s.fire(rec)
	return rec, nil
}

// Snapshot returns the published prefix of the record slice.
// Existing elements are never written again, so the returned view needs no copy.
func (s *MemoryStore) Snapshot(_ context.Context) (Corpus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Corpus(s.records[:len(s.records):len(s.records)]), nil
}

// Len returns the number of stored records.
func (s *MemoryStore) Len(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}

// LoadAll inserts every record, stopping at the first error.
func LoadAll(ctx context.Context, store Store, records []Record) error {
	for _, rec := range records {
		if _, err := store.Insert(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}
