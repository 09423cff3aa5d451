package engine

import (
	"context"
	"strings"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/ccollicutt/smartguard/pkg/assistant"
	"github.com/ccollicutt/smartguard/pkg/logstore"
	"github.com/ccollicutt/smartguard/pkg/query"
	"github.com/ccollicutt/smartguard/pkg/telemetry"
)

// ChatReply is the assistant's answer to one message.
type ChatReply struct {
	Response  string           `json:"response"`
	Origin    assistant.Origin `json:"origin"`
	Timestamp time.Time        `json:"timestamp"`
}

// AnalysisResult is the assistant's reading of a batch of log lines.
type AnalysisResult struct {
	assistant.Analysis
	Lines     int       `json:"lines"`
	Timestamp time.Time `json:"timestamp"`
}

// Chat answers a question about the system. The assistant sees the newest
// records and per-service volumes; an empty message is rejected.
func (e *Engine) Chat(ctx context.Context, message string) (*ChatReply, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, &ValidationError{Field: "message", Reason: "message is required"}
	}

	corpus, err := e.Records(ctx)
	if err != nil {
		return nil, err
	}

	sc := assistant.SystemContext{
		Recent:   query.Apply(query.Plan{}, corpus.All(), ChatContextLogs),
		Services: serviceStats(corpus, e.knownServices(corpus)),
	}
	text, origin := e.assistant.Chat(ctx, message, sc)
	e.metrics.QueryServed(telemetry.QueryChat)

	return &ChatReply{Response: text, Origin: origin, Timestamp: e.clock.Now().UTC()}, nil
}

// Analyze runs the assistant over raw log lines. Blank lines are dropped and
// a batch with none left is rejected.
func (e *Engine) Analyze(ctx context.Context, lines []string) (*AnalysisResult, error) {
	lines = lo.Filter(lines, func(l string, _ int) bool { return strings.TrimSpace(l) != "" })
	if len(lines) == 0 {
		return nil, &ValidationError{Field: "logs", Reason: "at least one log line is required"}
	}

	a := e.assistant.Analyze(ctx, lines)
	e.metrics.QueryServed(telemetry.QueryAnalyze)
	e.logger.Debug("Analyzed logs",
		zap.Int("lines", len(lines)),
		zap.String("origin", string(a.Origin)),
		zap.Bool("alert_worthy", a.AlertWorthy))

	return &AnalysisResult{Analysis: a, Lines: len(lines), Timestamp: e.clock.Now().UTC()}, nil
}

// AnalyzeRecords analyzes the raw messages of the records matching f.
func (e *Engine) AnalyzeRecords(ctx context.Context, f SearchFilters) (*AnalysisResult, error) {
	records, err := e.Search(ctx, f)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, &ValidationError{Field: "filters", Reason: "no records match"}
	}
	return e.Analyze(ctx, lo.Map(records, func(r logstore.Record, _ int) string {
		if r.RawMessage != "" {
			return r.RawMessage
		}
		return r.Summary
	}))
}

func serviceStats(corpus logstore.Corpus, services []string) []assistant.ServiceStat {
	stats := make(map[string]*assistant.ServiceStat, len(services))
	out := make([]assistant.ServiceStat, len(services))
	for i, s := range services {
		out[i].Service = s
		stats[s] = &out[i]
	}
	for rec := range corpus.All() {
		st, ok := stats[rec.Service]
		if !ok {
			continue
		}
		st.LogCount++
		if rec.Severity == logstore.SeverityError {
			st.ErrorCount++
		}
	}
	return out
}
