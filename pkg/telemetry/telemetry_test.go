package telemetry

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccollicutt/smartguard/pkg/metricscache"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.QueryServed(QuerySearch)
	m.QueryServed(QuerySearch)
	m.QueryServed(QueryNatural)
	m.InterpreterFellBack()
	m.RecordIngested("ERROR")
	m.RecordRejected()
	m.AlertSent(true)
	m.AlertSent(false)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.queries.WithLabelValues(QuerySearch)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.queries.WithLabelValues(QueryNatural)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fallbacks))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ingested.WithLabelValues("ERROR")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rejected))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.alerts.WithLabelValues("failure")))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.QueryServed(QueryAlerts)
	m.InterpreterFellBack()
	m.RecordIngested("INFO")
	m.RecordRejected()
	m.AlertSent(true)
	m.SummarizationFailed()
	m.RegisterCache(metricscache.New(time.Second))
	assert.NotNil(t, m.Handler())
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	c := metricscache.New(time.Minute)
	m.RegisterCache(c)

	_, _ = metricscache.GetOrCompute(c, "k", 0, func() (int, error) { return 1, nil })
	_, _ = metricscache.GetOrCompute(c, "k", 0, func() (int, error) { return 1, nil })
	m.QueryServed(QueryAlerts)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/telemetry", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	text := string(body)

	for _, want := range []string{
		`smartguard_queries_total{kind="alerts"} 1`,
		"smartguard_metrics_cache_hits_total 1",
		"smartguard_metrics_cache_misses_total 1",
		"go_goroutines",
	} {
		assert.True(t, strings.Contains(text, want), "exposition missing %q", want)
	}
}
