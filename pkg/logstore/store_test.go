package logstore

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

func newRecord(id int64, service string, sev Severity, offset time.Duration) Record {
	return Record{
		ID:         id,
		Service:    service,
		Severity:   sev,
		Timestamp:  baseTime.Add(offset),
		RawMessage: "message from " + service,
	}
}

// storeFactories runs each test against both store variants.
func storeFactories(t *testing.T) map[string]func() Store {
	t.Helper()
	return map[string]func() Store{
		"memory": func() Store { return NewMemoryStore() },
		"sqlite": func() Store {
			s, err := OpenSQLStore(context.Background(), filepath.Join(t.TempDir(), "logs.db"))
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
	}
}

func TestStore_InsertAndSnapshot(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := factory()

			want := []Record{
				newRecord(1, "cartservice", SeverityError, 0),
				newRecord(2, "frontend", SeverityInfo, time.Minute),
				newRecord(3, "cartservice", SeverityWarning, -time.Minute),
			}
			require.NoError(t, LoadAll(ctx, store, want))

			got, err := store.Snapshot(ctx)
			require.NoError(t, err)

			// Insertion order, not timestamp order
			if diff := cmp.Diff(Corpus(want), got); diff != "" {
				t.Errorf("Snapshot() mismatch (-want +got):\n%s", diff)
			}

			n, err := store.Len(ctx)
			require.NoError(t, err)
			assert.Equal(t, 3, n)
		})
	}
}

func TestStore_DuplicateID(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := factory()

			_, err := store.Insert(ctx, newRecord(7, "frontend", SeverityInfo, 0))
			require.NoError(t, err)

			_, err = store.Insert(ctx, newRecord(7, "adservice", SeverityError, 0))
			var dup *DuplicateIDError
			require.True(t, errors.As(err, &dup), "expected DuplicateIDError, got %v", err)
			assert.Equal(t, int64(7), dup.ID)

			// The failed insert leaves the store unchanged
			corpus, err := store.Snapshot(ctx)
			require.NoError(t, err)
			require.Len(t, corpus, 1)
			assert.Equal(t, "frontend", corpus[0].Service)
		})
	}
}

func TestStore_OutOfOrderID(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := factory()

			_, err := store.Insert(ctx, newRecord(100, "frontend", SeverityInfo, 0))
			require.NoError(t, err)

			_, err = store.Insert(ctx, newRecord(5, "cartservice", SeverityError, 0))
			var order *OutOfOrderIDError
			require.True(t, errors.As(err, &order), "expected OutOfOrderIDError, got %v", err)
			assert.Equal(t, int64(5), order.ID)
			assert.Equal(t, int64(100), order.Max)

			n, err := store.Len(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, n)

			// Auto-assigned IDs continue above the maximum.
			rec, err := store.Insert(ctx, newRecord(0, "cartservice", SeverityError, 0))
			require.NoError(t, err)
			assert.Equal(t, int64(101), rec.ID)
		})
	}
}

func TestStore_AssignsIDs(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := factory()

			_, err := store.Insert(ctx, newRecord(10, "frontend", SeverityInfo, 0))
			require.NoError(t, err)

			rec, err := store.Insert(ctx, newRecord(0, "frontend", SeverityInfo, 0))
			require.NoError(t, err)
			assert.Equal(t, int64(11), rec.ID)
		})
	}
}

func TestStore_InvalidRecord(t *testing.T) {
	tests := []struct {
		name string
		rec  Record
	}{
		{"missing service", Record{Severity: SeverityInfo}},
		{"bad severity", Record{Service: "frontend", Severity: "DEBUG"}},
		{"negative id", Record{ID: -1, Service: "frontend", Severity: SeverityInfo}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewMemoryStore().Insert(context.Background(), tt.rec)
			assert.ErrorIs(t, err, ErrInvalidRecord)
		})
	}
}

func TestStore_OnInsert(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			store := factory()
			notifier, ok := store.(Notifier)
			require.True(t, ok)

			var seen []int64
			notifier.OnInsert(func(r Record) { seen = append(seen, r.ID) })

			ctx := context.Background()
			_, _ = store.Insert(ctx, newRecord(1, "frontend", SeverityInfo, 0))
			_, _ = store.Insert(ctx, newRecord(1, "frontend", SeverityInfo, 0)) // duplicate, no hook
			_, _ = store.Insert(ctx, newRecord(2, "frontend", SeverityInfo, 0))

			assert.Equal(t, []int64{1, 2}, seen)
		})
	}
}

func TestMemoryStore_SnapshotIsStable(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	_, _ = store.Insert(ctx, newRecord(1, "frontend", SeverityInfo, 0))

	snap, _ := store.Snapshot(ctx)
	_, _ = store.Insert(ctx, newRecord(2, "frontend", SeverityError, 0))

	if len(snap) != 1 {
		t.Fatalf("earlier snapshot grew to %d records", len(snap))
	}
	later, _ := store.Snapshot(ctx)
	if len(later) != 2 {
		t.Fatalf("later snapshot has %d records, want 2", len(later))
	}
}

func TestMemoryStore_ConcurrentInsertAndRead(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_, _ = store.Insert(ctx, newRecord(0, "frontend", SeverityInfo, 0))
				snap, _ := store.Snapshot(ctx)
				for range snap.All() {
				}
			}
		}()
	}
	wg.Wait()

	n, _ := store.Len(ctx)
	if n != 400 {
		t.Errorf("Len() = %d, want 400", n)
	}

	snap, _ := store.Snapshot(ctx)
	ids := make(map[int64]bool)
	for rec := range snap.All() {
		if ids[rec.ID] {
			t.Fatalf("id %d assigned twice", rec.ID)
		}
		ids[rec.ID] = true
	}
}

func TestCorpus_Views(t *testing.T) {
	corpus := Corpus{
		newRecord(1, "frontend", SeverityInfo, 0),
		newRecord(2, "cartservice", SeverityError, 0),
		newRecord(3, "frontend", SeverityError, 0),
	}

	var ids []int64
	for rec := range corpus.ByService("frontend") {
		ids = append(ids, rec.ID)
	}
	assert.Equal(t, []int64{1, 3}, ids)

	ids = nil
	for rec := range corpus.BySeverity(SeverityError) {
		ids = append(ids, rec.ID)
	}
	assert.Equal(t, []int64{2, 3}, ids)

	// Restartable
	count := 0
	for range corpus.All() {
		count++
	}
	for range corpus.All() {
		count++
	}
	assert.Equal(t, 6, count)

	assert.Equal(t, []string{"frontend", "cartservice"}, corpus.Services())
}

func TestParseSeverity(t *testing.T) {
	tests := []struct {
		in      string
		want    Severity
		wantErr bool
	}{
		{"ERROR", SeverityError, false},
		{"error", SeverityError, false},
		{" Warning ", SeverityWarning, false},
		{"warn", SeverityWarning, false},
		{"INFO", SeverityInfo, false},
		{"DEBUG", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		got, err := ParseSeverity(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseSeverity(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseSeverity(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestGenerateSample(t *testing.T) {
	cfg := SampleConfig{Count: 200, Seed: 42, Now: baseTime}

	a := GenerateSample(cfg)
	b := GenerateSample(cfg)
	if diff := cmp.Diff(a, b); diff != "" {
		t.Fatalf("same seed produced different corpora:\n%s", diff)
	}
	require.Len(t, a, 200)

	for i, rec := range a {
		assert.Equal(t, int64(i+1), rec.ID)
		assert.True(t, rec.Severity.Valid())
		assert.Contains(t, DefaultServices, rec.Service)
		assert.False(t, rec.Timestamp.After(baseTime), "timestamp in the future")
		assert.True(t, rec.Timestamp.After(baseTime.Add(-24*time.Hour-time.Second)), "timestamp older than 24h")
	}

	other := GenerateSample(SampleConfig{Count: 200, Seed: 7, Now: baseTime})
	assert.NotEqual(t, a, other)
}
