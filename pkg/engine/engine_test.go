package engine

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccollicutt/smartguard/pkg/anomaly"
	"github.com/ccollicutt/smartguard/pkg/health"
	"github.com/ccollicutt/smartguard/pkg/interpreter"
	"github.com/ccollicutt/smartguard/pkg/llm"
	"github.com/ccollicutt/smartguard/pkg/logstore"
	"github.com/ccollicutt/smartguard/pkg/query"
	"github.com/ccollicutt/smartguard/pkg/telemetry"
)

var now = time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

func mockClock() *clock.Mock {
	c := clock.NewMock()
	c.Set(now)
	return c
}

func intPtr(n int) *int { return &n }

func newEngine(t *testing.T, records []logstore.Record, opts ...Option) (*Engine, logstore.Store) {
	t.Helper()
	store := logstore.NewMemoryStore()
	require.NoError(t, logstore.LoadAll(context.Background(), store, records))
	opts = append([]Option{WithClock(mockClock())}, opts...)
	return New(store, opts...), store
}

func sample(t *testing.T) []logstore.Record {
	t.Helper()
	return logstore.GenerateSample(logstore.SampleConfig{Count: 200, Seed: 42, Now: now})
}

func TestSearch_SingleRecordScenario(t *testing.T) {
	rec := logstore.Record{ID: 1, Service: "cartservice", Severity: logstore.SeverityError, Timestamp: now.Add(-time.Minute)}
	e, _ := newEngine(t, []logstore.Record{rec})
	ctx := context.Background()

	got, err := e.Search(ctx, SearchFilters{Severity: "ERROR"})
	require.NoError(t, err)
	if diff := cmp.Diff([]logstore.Record{rec}, got); diff != "" {
		t.Errorf("Search(ERROR) mismatch (-want +got):\n%s", diff)
	}

	got, err = e.Search(ctx, SearchFilters{Severity: "INFO"})
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestSearch_Filters(t *testing.T) {
	e, _ := newEngine(t, sample(t))
	ctx := context.Background()

	tests := []struct {
		name    string
		filters SearchFilters
		max     int
	}{
		{"default limit", SearchFilters{}, DefaultSearchLimit},
		{"explicit limit", SearchFilters{Limit: intPtr(3)}, 3},
		{"service", SearchFilters{Service: "frontend", Limit: intPtr(500)}, 500},
		{"lowercase severity", SearchFilters{Severity: "warning", Limit: intPtr(500)}, 500},
		{"zero limit", SearchFilters{Limit: intPtr(0)}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.Search(ctx, tt.filters)
			require.NoError(t, err)
			assert.LessOrEqual(t, len(got), tt.max)
			for i, r := range got {
				if tt.filters.Service != "" {
					assert.Equal(t, tt.filters.Service, r.Service)
				}
				if tt.filters.Severity != "" {
					assert.Equal(t, logstore.SeverityWarning, r.Severity)
				}
				if i > 0 {
					assert.False(t, r.Timestamp.After(got[i-1].Timestamp), "results not newest first")
				}
			}
		})
	}

	got, err := e.Search(ctx, SearchFilters{})
	require.NoError(t, err)
	assert.Len(t, got, DefaultSearchLimit)
}

func TestSearch_InvalidSeverity(t *testing.T) {
	e, _ := newEngine(t, nil)

	_, err := e.Search(context.Background(), SearchFilters{Severity: "CRITICAL"})

	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "severity", ve.Field)
	assert.True(t, IsValidation(err))
}

func TestNaturalSearch_EmptyQuery(t *testing.T) {
	e, _ := newEngine(t, sample(t))

	for _, q := range []string{"", "   "} {
		_, err := e.NaturalSearch(context.Background(), q)
		assert.True(t, IsValidation(err), "query %q", q)
	}
}

func TestNaturalSearch_ModelPlan(t *testing.T) {
	model := llm.Func(func(context.Context, string) (string, error) {
		return `{"interpreted_query": "cart errors", "filters": {"services": ["cartservice"], "severity": ["ERROR"]}}`, nil
	})
	c := mockClock()
	m := telemetry.New()
	e, _ := newEngine(t, sample(t),
		WithInterpreter(interpreter.New(model, interpreter.WithClock(c))),
		WithTelemetry(m))

	res, err := e.NaturalSearch(context.Background(), "show me cart errors")
	require.NoError(t, err)

	assert.Equal(t, query.OriginModel, res.Plan.Origin)
	assert.Equal(t, "cart errors", res.Plan.Interpretation)
	assert.LessOrEqual(t, len(res.Matches), DisplayLimit)
	assert.GreaterOrEqual(t, res.TotalMatched, len(res.Matches))
	for _, r := range res.Matches {
		assert.Equal(t, "cartservice", r.Service)
		assert.Equal(t, logstore.SeverityError, r.Severity)
	}
}

func TestNaturalSearch_FallbackCountsAllMatches(t *testing.T) {
	records := make([]logstore.Record, 0, 30)
	for i := range 30 {
		records = append(records, logstore.Record{
			ID: int64(i + 1), Service: "frontend", Severity: logstore.SeverityInfo,
			Timestamp:  now.Add(-time.Duration(i) * time.Minute),
			RawMessage: "Database connection pool exhausted",
		})
	}
	records = append(records, logstore.Record{ID: 31, Service: "adservice", Severity: logstore.SeverityInfo, Timestamp: now, RawMessage: "ok"})
	e, _ := newEngine(t, records)

	res, err := e.NaturalSearch(context.Background(), "database connection")
	require.NoError(t, err)

	assert.Equal(t, query.OriginFallback, res.Plan.Origin)
	assert.Equal(t, "database connection", res.Plan.FreeText)
	assert.Equal(t, 30, res.TotalMatched)
	assert.Len(t, res.Matches, DisplayLimit)
}

func TestAlerts(t *testing.T) {
	e, _ := newEngine(t, sample(t))
	ctx := context.Background()

	got, err := e.Alerts(ctx, nil)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(got), DefaultAlertLimit)
	assert.NotEmpty(t, got)
	for _, r := range got {
		assert.Equal(t, logstore.SeverityError, r.Severity)
	}

	got, err = e.Alerts(ctx, intPtr(2))
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestServiceHealth_Idempotent(t *testing.T) {
	e, _ := newEngine(t, sample(t))
	ctx := context.Background()

	first, err := e.ServiceHealth(ctx)
	require.NoError(t, err)
	second, err := e.ServiceHealth(ctx)
	require.NoError(t, err)

	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("ServiceHealth() changed without an insert (-first +second):\n%s", diff)
	}
	assert.Equal(t, uint64(1), e.Cache().Stats().Hits)
	for _, s := range logstore.DefaultServices {
		assert.Contains(t, first, s)
	}
}

// gatedStore holds Snapshot until release is closed or ctx is done.
type gatedStore struct {
	logstore.Store
	entered chan struct{}
	release chan struct{}
}

func (s *gatedStore) Snapshot(ctx context.Context) (logstore.Corpus, error) {
	select {
	case s.entered <- struct{}{}:
	default:
	}
	select {
	case <-s.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return s.Store.Snapshot(ctx)
}

func TestServiceHealth_CancelledCallerDoesNotFailOthers(t *testing.T) {
	mem := logstore.NewMemoryStore()
	require.NoError(t, logstore.LoadAll(context.Background(), mem, sample(t)))
	store := &gatedStore{Store: mem, entered: make(chan struct{}, 1), release: make(chan struct{})}
	e := New(store, WithClock(mockClock()))

	first, cancel := context.WithCancel(context.Background())
	firstDone := make(chan error, 1)
	go func() {
		_, err := e.ServiceHealth(first)
		firstDone <- err
	}()
	<-store.entered

	secondDone := make(chan error, 1)
	go func() {
		got, err := e.ServiceHealth(context.Background())
		if err == nil && len(got) == 0 {
			err = errors.New("empty health map")
		}
		secondDone <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	time.Sleep(20 * time.Millisecond)
	close(store.release)

	require.NoError(t, <-secondDone)
	<-firstDone
}

func TestCachedResultsAreCopies(t *testing.T) {
	e, _ := newEngine(t, []logstore.Record{
		{ID: 1, Service: "frontend", Severity: logstore.SeverityInfo, Timestamp: now.Add(-2 * time.Minute)},
		{ID: 2, Service: "cartservice", Severity: logstore.SeverityError, Timestamp: now.Add(-time.Minute)},
	})
	ctx := context.Background()

	h, err := e.ServiceHealth(ctx)
	require.NoError(t, err)
	want := *h["cartservice"].LastSeen
	*h["cartservice"].LastSeen = time.Time{}
	delete(h, "frontend")

	again, err := e.ServiceHealth(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, *again["cartservice"].LastSeen)
	assert.Contains(t, again, "frontend")

	m, err := e.EnhancedMetrics(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, m.HourlyMetrics)
	wantCount := m.HourlyMetrics[0].Count
	m.HourlyMetrics[0].Count = -1
	m.ServiceMetrics = nil

	m2, err := e.EnhancedMetrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, wantCount, m2.HourlyMetrics[0].Count)
	assert.NotEmpty(t, m2.ServiceMetrics)
}

func TestServiceHealth_InsertInvalidates(t *testing.T) {
	stores := map[string]func(t *testing.T) logstore.Store{
		"memory": func(*testing.T) logstore.Store { return logstore.NewMemoryStore() },
		"sqlite": func(t *testing.T) logstore.Store {
			s, err := logstore.OpenSQLStore(context.Background(), filepath.Join(t.TempDir(), "logs.db"))
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
	}

	for name, open := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := open(t)
			for i := range 10 {
				_, err := store.Insert(ctx, logstore.Record{
					ID: int64(i + 1), Service: "cartservice", Severity: logstore.SeverityInfo,
					Timestamp: now.Add(-time.Duration(i+1) * time.Minute),
				})
				require.NoError(t, err)
			}
			e := New(store, WithClock(mockClock()))

			before, err := e.ServiceHealth(ctx)
			require.NoError(t, err)
			assert.Equal(t, health.StatusHealthy, before["cartservice"].Status)

			_, err = e.Ingest(ctx, logstore.Record{Service: "cartservice", Severity: logstore.SeverityError, Timestamp: now})
			require.NoError(t, err)
			_, err = e.Ingest(ctx, logstore.Record{Service: "cartservice", Severity: logstore.SeverityError, Timestamp: now})
			require.NoError(t, err)

			after, err := e.ServiceHealth(ctx)
			require.NoError(t, err)
			assert.InDelta(t, 2.0/12.0, after["cartservice"].ErrorRate, 1e-9)
			assert.Equal(t, health.StatusError, after["cartservice"].Status)
			assert.Equal(t, 12, after["cartservice"].TotalLogs)
		})
	}
}

func TestIngest_Duplicate(t *testing.T) {
	e, _ := newEngine(t, []logstore.Record{{ID: 7, Service: "frontend", Severity: logstore.SeverityInfo, Timestamp: now}})

	_, err := e.Ingest(context.Background(), logstore.Record{ID: 7, Service: "frontend", Severity: logstore.SeverityInfo, Timestamp: now})

	var dup *logstore.DuplicateIDError
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, int64(7), dup.ID)
}

func TestKnownServices_IncludesObserved(t *testing.T) {
	e, _ := newEngine(t, []logstore.Record{{ID: 1, Service: "ledgerservice", Severity: logstore.SeverityInfo, Timestamp: now}},
		WithServices([]string{"frontend"}))

	got, err := e.KnownServices(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"frontend", "ledgerservice"}, got)
}

func TestTimelineAndEnhancedMetrics(t *testing.T) {
	var records []logstore.Record
	var id int64
	for h, errs := range []int{1, 1, 1, 10} {
		hour := now.Add(-time.Duration(3-h) * time.Hour)
		for range errs {
			id++
			records = append(records, logstore.Record{ID: id, Service: "paymentservice", Severity: logstore.SeverityError, Timestamp: hour})
		}
	}
	e, _ := newEngine(t, records)
	ctx := context.Background()

	_, err := e.Timeline(ctx, -1)
	assert.True(t, IsValidation(err), "negative hours: got %v", err)

	timeline, err := e.Timeline(ctx, 24)
	require.NoError(t, err)
	require.Len(t, timeline, 4)
	assert.Equal(t, 10, timeline[3].Error)
	assert.Len(t, timeline[3].Events, 10)

	m, err := e.EnhancedMetrics(ctx)
	require.NoError(t, err)
	require.Len(t, m.Anomalies, 1)
	assert.Equal(t, 10, m.Anomalies[0].ObservedCount)
	assert.InDelta(t, 3.25, m.Anomalies[0].ExpectedCount, 1e-9)
	assert.Len(t, m.HourlyMetrics, 4)
	assert.Contains(t, m.ServiceMetrics, anomalyServiceMetric("paymentservice", 13))

	counts, err := e.SeverityCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 13, counts.Error)
	assert.Equal(t, 13, counts.Total())
}

func anomalyServiceMetric(service string, count int) anomaly.ServiceMetric {
	return anomaly.ServiceMetric{Service: service, Severity: logstore.SeverityError, Count: count}
}
