package health

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/ccollicutt/smartguard/pkg/logstore"
)

var now = time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

func mockClock() *clock.Mock {
	c := clock.NewMock()
	c.Set(now)
	return c
}

// records builds total records for service, the first errors of which are ERROR.
func records(service string, total, errors int, at time.Time) logstore.Corpus {
	out := make(logstore.Corpus, 0, total)
	for i := range total {
		sev := logstore.SeverityInfo
		if i < errors {
			sev = logstore.SeverityError
		}
		out = append(out, logstore.Record{
			ID:        int64(i + 1),
			Service:   service,
			Severity:  sev,
			Timestamp: at.Add(-time.Duration(i) * time.Minute),
		})
	}
	return out
}

func TestClassify(t *testing.T) {
	tests := []struct {
		rate  float64
		total int
		want  Status
	}{
		{0, 0, StatusUnknown},
		{0, 10, StatusHealthy},
		{0.05, 20, StatusHealthy},
		{0.051, 20, StatusWarning},
		{0.10, 10, StatusWarning},
		{0.11, 10, StatusError},
		{1, 1, StatusError},
	}

	for _, tt := range tests {
		if got := Classify(tt.rate, tt.total); got != tt.want {
			t.Errorf("Classify(%v, %d) = %q, want %q", tt.rate, tt.total, got, tt.want)
		}
	}
}

func TestAnalyze(t *testing.T) {
	var corpus logstore.Corpus
	corpus = append(corpus, records("cartservice", 10, 2, now.Add(-time.Hour))...)
	corpus = append(corpus, records("frontend", 10, 1, now.Add(-time.Hour))...)
	corpus = append(corpus, records("adservice", 5, 5, now.Add(-48*time.Hour))...)
	corpus = append(corpus, records("unlisted", 3, 3, now)...)

	a := NewAnalyzer(mockClock())
	got := a.Analyze(corpus.All(), []string{"cartservice", "frontend", "adservice", "emailservice"}, 24*time.Hour)

	if len(got) != 4 {
		t.Fatalf("Analyze() returned %d services, want 4", len(got))
	}
	if _, ok := got["unlisted"]; ok {
		t.Error("Analyze() included a service that was not requested")
	}

	tests := []struct {
		service string
		status  Status
		rate    float64
		total   int
	}{
		{"cartservice", StatusError, 0.2, 10},
		{"frontend", StatusWarning, 0.1, 10},
		{"adservice", StatusUnknown, 0, 0}, // all records outside the window
		{"emailservice", StatusUnknown, 0, 0},
	}

	for _, tt := range tests {
		h := got[tt.service]
		if h.Status != tt.status || h.TotalLogs != tt.total || h.ErrorRate != tt.rate {
			t.Errorf("%s = %+v, want status %q rate %v total %d", tt.service, h, tt.status, tt.rate, tt.total)
		}
		if tt.total == 0 && h.LastSeen != nil {
			t.Errorf("%s LastSeen = %v, want nil", tt.service, h.LastSeen)
		}
	}

	if ls := got["cartservice"].LastSeen; ls == nil || !ls.Equal(now.Add(-time.Hour)) {
		t.Errorf("cartservice LastSeen = %v, want %v", ls, now.Add(-time.Hour))
	}
}

func TestAnalyze_WholeCorpus(t *testing.T) {
	corpus := records("adservice", 5, 5, now.Add(-48*time.Hour))

	got := NewAnalyzer(mockClock()).Analyze(corpus.All(), []string{"adservice"}, 0)

	if h := got["adservice"]; h.Status != StatusError || h.TotalLogs != 5 {
		t.Errorf("adservice = %+v, want error with 5 logs", h)
	}
}

func TestEnteredError(t *testing.T) {
	prev := map[string]ServiceHealth{
		"frontend":    {Service: "frontend", Status: StatusHealthy},
		"cartservice": {Service: "cartservice", Status: StatusError},
		"adservice":   {Service: "adservice", Status: StatusWarning},
	}
	curr := map[string]ServiceHealth{
		"frontend":       {Service: "frontend", Status: StatusError},
		"cartservice":    {Service: "cartservice", Status: StatusError},
		"adservice":      {Service: "adservice", Status: StatusHealthy},
		"paymentservice": {Service: "paymentservice", Status: StatusError},
	}

	got := EnteredError(prev, curr)

	want := []Transition{
		{Service: "frontend", From: StatusHealthy, To: StatusError},
		{Service: "paymentservice", From: StatusUnknown, To: StatusError},
	}
	if len(got) != len(want) {
		t.Fatalf("EnteredError() = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("EnteredError()[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}
