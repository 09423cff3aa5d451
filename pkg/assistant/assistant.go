// Package assistant answers free-form questions about the system and analyzes
// batches of raw log lines with the hosted model.
//
// Neither operation fails when the model does: chat degrades to a fixed reply
// and analysis to a fixed notice that is never treated as alert-worthy.
package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/ccollicutt/smartguard/pkg/llm"
	"github.com/ccollicutt/smartguard/pkg/logstore"
)

// DefaultTimeout bounds a single model call.
const DefaultTimeout = 20 * time.Second

// maxAnalyzeInput bounds how much log text one analysis sends to the model.
const maxAnalyzeInput = 3000

const (
	// UnavailableReply answers chat messages when no model is configured.
	UnavailableReply = "AI features need a model API key. Set GEMINI_API_KEY or interpreter.api_key in the configuration."

	// FailedReply answers chat messages when the model call fails.
	FailedReply = "Sorry, I couldn't process your request. Please try again."

	// UnavailableAnalysis is the analysis text when no model is configured.
	UnavailableAnalysis = "AI analysis unavailable: no model configured."

	// FailedAnalysis is the analysis text when the model call fails.
	FailedAnalysis = "AI analysis failed."
)

// Origin records whether a text came from the model.
type Origin string

const (
	OriginModel    Origin = "model"
	OriginFallback Origin = "fallback"
)

// ServiceStat is the per-service volume given to the model as context.
type ServiceStat struct {
	Service    string `json:"service"`
	LogCount   int    `json:"log_count"`
	ErrorCount int    `json:"error_count"`
}

// SystemContext is what the assistant knows about the system when answering.
type SystemContext struct {
	Recent   []logstore.Record `json:"recent_logs"`
	Services []ServiceStat     `json:"service_statistics"`
}

// Analysis is the model's reading of a batch of log lines.
type Analysis struct {
	Text   string `json:"analysis"`
	Origin Origin `json:"origin"`

	// AlertWorthy is set when the model's answer mentions errors or
	// suspicious activity. Fallback texts are never alert-worthy.
	AlertWorthy bool `json:"alert_worthy"`
}

// Assistant wraps the model for chat and batch analysis.
type Assistant struct {
	model   llm.Model
	timeout time.Duration
	logger  *zap.Logger
}

// Option configures an Assistant.
type Option func(*Assistant)

// WithTimeout sets the per-call model timeout.
func WithTimeout(d time.Duration) Option {
	return func(a *Assistant) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(a *Assistant) { a.logger = l }
}

// New creates an Assistant. A nil model makes every answer a fallback.
func New(model llm.Model, opts ...Option) *Assistant {
	a := &Assistant{
		model:   model,
		timeout: DefaultTimeout,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Chat answers message using sc as background. It always returns a reply.
func (a *Assistant) Chat(ctx context.Context, message string, sc SystemContext) (string, Origin) {
	if a.model == nil {
		return UnavailableReply, OriginFallback
	}

	data, err := json.Marshal(sc)
	if err != nil {
		a.logger.Warn("Encoding chat context failed", zap.Error(err))
		data = []byte("{}")
	}

	text, err := a.generate(ctx, chatPrompt(message, string(data)))
	if err != nil {
		a.logger.Warn("Chat failed", zap.Error(err))
		return FailedReply, OriginFallback
	}
	return text, OriginModel
}

// Analyze asks the model for key issues, severity, root cause and actions
// across logs. The input is cut to a bounded size on a rune boundary.
func (a *Assistant) Analyze(ctx context.Context, logs []string) Analysis {
	if a.model == nil {
		return Analysis{Text: UnavailableAnalysis, Origin: OriginFallback}
	}

	text, err := a.generate(ctx, analyzePrompt(truncate(strings.Join(logs, "\n"), maxAnalyzeInput)))
	if err != nil {
		a.logger.Warn("Log analysis failed", zap.Int("lines", len(logs)), zap.Error(err))
		return Analysis{Text: FailedAnalysis, Origin: OriginFallback}
	}
	return Analysis{Text: text, Origin: OriginModel, AlertWorthy: NeedsAlert(text)}
}

// NeedsAlert reports whether an analysis mentions errors or suspicious activity.
func NeedsAlert(analysis string) bool {
	lower := strings.ToLower(analysis)
	return strings.Contains(lower, "error") || strings.Contains(lower, "suspicious")
}

func (a *Assistant) generate(ctx context.Context, prompt string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	text, err := llm.Generate(callCtx, a.model, prompt)
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", llm.ErrEmptyResponse
	}
	return text, nil
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func chatPrompt(message, contextData string) string {
	return fmt.Sprintf(`You are the SmartGuard assistant. Answer this question: %q

System context:
%s

Give a helpful, concise answer about the system status, any issues, or suggestions.
If there are errors or warnings, explain what might be causing them and suggest fixes.`, message, contextData)
}

func analyzePrompt(logs string) string {
	return fmt.Sprintf(`You are SmartGuard, a DevOps log analyst. Analyze these logs:

%s

Provide:
- Key issues identified
- Severity assessment
- Root cause analysis
- Recommended actions

Call out security risks, deployment issues, errors and anomalies. Respond concisely.`, logs)
}
