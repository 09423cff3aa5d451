// Package api serves the SmartGuard query and analytics endpoints over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/ccollicutt/smartguard/pkg/engine"
	"github.com/ccollicutt/smartguard/pkg/ingest"
	"github.com/ccollicutt/smartguard/pkg/logstore"
	"github.com/ccollicutt/smartguard/pkg/telemetry"
	"github.com/ccollicutt/smartguard/pkg/webhook"
)

// maxBodySize bounds request bodies.
const maxBodySize = 1 << 20

// shutdownTimeout bounds graceful shutdown in Serve.
const shutdownTimeout = 5 * time.Second

// Notifier delivers an alert to the configured webhooks and reports how many accepted it.
type Notifier func(ctx context.Context, alert *webhook.Alert) (int, error)

// Server routes HTTP requests to the engine.
type Server struct {
	engine  *engine.Engine
	enqueue ingest.Sink
	notify  Notifier
	metrics *telemetry.Metrics
	clock   clock.Clock
	logger  *zap.Logger
	router  *mux.Router
}

// Option configures a Server.
type Option func(*Server)

// WithQueue makes POST /logs hand records without a summary to sink instead
// of storing them synchronously. Such requests are answered with 202.
func WithQueue(sink ingest.Sink) Option {
	return func(s *Server) { s.enqueue = sink }
}

// WithNotifier sends alert-worthy analyses from POST /smartguard-analyze to n.
func WithNotifier(n Notifier) Option {
	return func(s *Server) { s.notify = n }
}

// WithTelemetry exposes m on GET /telemetry.
func WithTelemetry(m *telemetry.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithClock sets the clock used to timestamp ingested records that carry none.
func WithClock(c clock.Clock) Option {
	return func(s *Server) { s.clock = c }
}

// WithLogger sets the request logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// NewServer creates a Server for eng.
func NewServer(eng *engine.Engine, opts ...Option) *Server {
	s := &Server{
		engine: eng,
		clock:  clock.New(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	r := mux.NewRouter()
	r.Use(requestID, s.logRequests)

	r.HandleFunc("/logs", s.getLogs).Methods(http.MethodGet)
	r.HandleFunc("/logs", s.postLog).Methods(http.MethodPost)
	r.HandleFunc("/alerts", s.getAlerts).Methods(http.MethodGet)
	r.HandleFunc("/metrics", s.getMetrics).Methods(http.MethodGet)
	r.HandleFunc("/metrics-enhanced", s.getEnhancedMetrics).Methods(http.MethodGet)
	r.HandleFunc("/search", s.getSearch).Methods(http.MethodGet)
	r.HandleFunc("/ai-search", s.postAISearch).Methods(http.MethodPost)
	r.HandleFunc("/ai-chat", s.postChat).Methods(http.MethodPost)
	r.HandleFunc("/smartguard-analyze", s.postAnalyze).Methods(http.MethodPost)
	r.HandleFunc("/timeline", s.getTimeline).Methods(http.MethodGet)
	r.HandleFunc("/service-health", s.getServiceHealth).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.getHealthz).Methods(http.MethodGet)
	r.Handle("/telemetry", s.metrics.Handler()).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not found"})
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "method not allowed"})
	})

	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Serve listens on addr until ctx is done, then shuts down gracefully.
func Serve(ctx context.Context, addr string, handler http.Handler, logger *zap.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("API listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("api server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down api server: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

func (s *Server) getLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := intParam(q.Get("limit"), "limit")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	records, err := s.engine.Search(r.Context(), engine.SearchFilters{
		Service:  q.Get("service"),
		Severity: q.Get("severity"),
		Limit:    limit,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// ingestRequest is the body of POST /logs. Severity is case-insensitive and
// a missing timestamp means now.
type ingestRequest struct {
	ID         int64      `json:"id"`
	Service    string     `json:"service"`
	Severity   string     `json:"severity"`
	Timestamp  *time.Time `json:"timestamp"`
	RawMessage string     `json:"raw_log"`
	Summary    string     `json:"ai_summary"`
}

func (s *Server) postLog(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	sev, err := logstore.ParseSeverity(req.Severity)
	if err != nil {
		s.writeError(w, r, &engine.ValidationError{Field: "severity", Reason: err.Error()})
		return
	}
	rec := logstore.Record{
		ID:         req.ID,
		Service:    strings.TrimSpace(req.Service),
		Severity:   sev,
		Timestamp:  s.clock.Now().UTC(),
		RawMessage: req.RawMessage,
		Summary:    req.Summary,
	}
	if req.Timestamp != nil {
		rec.Timestamp = req.Timestamp.UTC()
	}
	if rec.Service == "" {
		s.writeError(w, r, &engine.ValidationError{Field: "service", Reason: "service is required"})
		return
	}

	if rec.Summary == "" && s.enqueue != nil {
		if err := s.enqueue(r.Context(), rec); err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
		return
	}

	stored, err := s.engine.Ingest(r.Context(), rec)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, stored)
}

func (s *Server) getAlerts(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r.URL.Query().Get("limit"), "limit")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	alerts, err := s.engine.Alerts(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, alerts)
}

func (s *Server) getMetrics(w http.ResponseWriter, r *http.Request) {
	counts, err := s.engine.SeverityCounts(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

func (s *Server) getEnhancedMetrics(w http.ResponseWriter, r *http.Request) {
	m, err := s.engine.EnhancedMetrics(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

type searchRequest struct {
	Query string `json:"query"`
}

func (s *Server) postAISearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.engine.NaturalSearch(r.Context(), req.Query)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// getSearch is a free-text search over messages, summaries and service names.
func (s *Server) getSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	text := strings.TrimSpace(q.Get("q"))
	if text == "" {
		s.writeError(w, r, &engine.ValidationError{Field: "q", Reason: "search text is required"})
		return
	}
	limit, err := intParam(q.Get("limit"), "limit")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	records, err := s.engine.Search(r.Context(), engine.SearchFilters{Text: text, Limit: limit})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": records})
}

type chatRequest struct {
	Message string `json:"message"`
}

func (s *Server) postChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	reply, err := s.engine.Chat(r.Context(), req.Message)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

type analyzeRequest struct {
	Logs []string `json:"logs"`
}

type analyzeResponse struct {
	*engine.AnalysisResult
	AlertSent bool `json:"alert_sent"`
}

func (s *Server) postAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.engine.Analyze(r.Context(), req.Logs)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := analyzeResponse{AnalysisResult: res}
	if res.AlertWorthy && s.notify != nil {
		sent, err := s.notify(r.Context(), webhook.NewAnalysisAlert(res.Timestamp, res.Text))
		if err != nil {
			s.logger.Warn("Analysis alert not fully delivered",
				zap.String("request_id", RequestID(r.Context())),
				zap.Error(err))
		}
		resp.AlertSent = sent > 0
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) getTimeline(w http.ResponseWriter, r *http.Request) {
	hours := engine.DefaultLookback
	h, err := intParam(r.URL.Query().Get("hours"), "hours")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if h != nil {
		hours = *h
	}

	buckets, err := s.engine.Timeline(r.Context(), hours)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, buckets)
}

func (s *Server) getServiceHealth(w http.ResponseWriter, r *http.Request) {
	h, err := s.engine.ServiceHealth(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h)
}

func (s *Server) getHealthz(w http.ResponseWriter, r *http.Request) {
	corpus, err := s.engine.Records(r.Context())
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "records": len(corpus)})
}

// intParam parses an optional integer query parameter.
func intParam(raw, name string) (*int, error) {
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil, &engine.ValidationError{Field: name, Reason: strconv.Quote(raw) + " is not an integer"}
	}
	return &n, nil
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodySize))
	if err := dec.Decode(v); err != nil {
		return &engine.ValidationError{Field: "body", Reason: "invalid JSON: " + err.Error()}
	}
	return nil
}
