// Package summarize fills in record summaries off the request path.
package summarize

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/ccollicutt/smartguard/pkg/llm"
	"github.com/ccollicutt/smartguard/pkg/logstore"
)

// FailedSummary is recorded when every attempt failed.
const FailedSummary = "AI summarization failed after retries."

// Defaults for the retry policy.
const (
	DefaultMaxAttempts = 3
	DefaultBackoffStep = 2 * time.Second
)

// maxPromptLog bounds how much of a raw message is sent to the model.
const maxPromptLog = 2000

// linearBackOff waits step, 2*step, 3*step, ... between attempts.
type linearBackOff struct {
	step time.Duration
	n    int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.n++
	return time.Duration(b.n) * b.step
}

func (b *linearBackOff) Reset() {
	b.n = 0
}

// Summarizer asks the model for a plain-English summary of a log line.
type Summarizer struct {
	model       llm.Model
	maxAttempts int
	step        time.Duration
	logger      *zap.Logger
}

// Option configures a Summarizer.
type Option func(*Summarizer)

// WithMaxAttempts sets the total number of model calls per record.
func WithMaxAttempts(n int) Option {
	return func(s *Summarizer) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithBackoffStep sets the linear backoff increment.
func WithBackoffStep(d time.Duration) Option {
	return func(s *Summarizer) {
		if d >= 0 {
			s.step = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Summarizer) {
		s.logger = l
	}
}

// NewSummarizer creates a Summarizer. A nil model makes every summary derived locally.
func NewSummarizer(model llm.Model, opts ...Option) *Summarizer {
	s := &Summarizer{
		model:       model,
		maxAttempts: DefaultMaxAttempts,
		step:        DefaultBackoffStep,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Summarize returns a summary for rec. It returns FailedSummary once all
// attempts are exhausted or ctx is done.
func (s *Summarizer) Summarize(ctx context.Context, rec logstore.Record) string {
	if s.model == nil {
		return Derive(rec)
	}

	prompt := buildPrompt(rec)
	var summary string
	attempt := 0

	op := func() error {
		attempt++
		text, err := llm.Generate(ctx, s.model, prompt)
		if err != nil {
			return err
		}
		summary = strings.TrimSpace(text)
		return nil
	}
	notify := func(err error, wait time.Duration) {
		s.logger.Warn("Summarization attempt failed",
			zap.Int64("id", rec.ID),
			zap.Int("attempt", attempt),
			zap.Duration("retry_in", wait),
			zap.Error(err))
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(&linearBackOff{step: s.step}, uint64(s.maxAttempts-1)),
		ctx,
	)
	if err := backoff.RetryNotify(op, policy, notify); err != nil || summary == "" {
		s.logger.Warn("Summarization gave up",
			zap.Int64("id", rec.ID),
			zap.Int("attempts", attempt),
			zap.Error(err))
		return FailedSummary
	}
	return summary
}

func buildPrompt(rec logstore.Record) string {
	text := rec.RawMessage
	if len(text) > maxPromptLog {
		// Back off to a rune boundary so the prompt stays valid UTF-8.
		cut := maxPromptLog
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut]
	}
	return fmt.Sprintf(`Summarize the following application log from %s in plain English, in one sentence.
Mention the root cause if visible and a suggested fix if possible.

Log:
%s`, rec.Service, text)
}

// linePrefix matches the "[timestamp] SEVERITY service:" prefix of rendered log lines.
var linePrefix = regexp.MustCompile(`^\[[^\]]*\]\s+\w+\s+[\w.-]+:\s*`)

// maxDerived bounds the message part of a derived summary.
const maxDerived = 120

// Derive builds a summary without the model: the message body followed by the service.
func Derive(rec logstore.Record) string {
	msg := strings.TrimSpace(linePrefix.ReplaceAllString(rec.RawMessage, ""))
	if msg == "" {
		msg = strings.ToLower(string(rec.Severity)) + " event"
	}
	if r := []rune(msg); len(r) > maxDerived {
		msg = string(r[:maxDerived-3]) + "..."
	}
	return msg + " in " + rec.Service
}
