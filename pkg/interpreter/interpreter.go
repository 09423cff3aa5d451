// Package interpreter turns natural-language log questions into filter plans.
//
// The hosted model is asked for a small JSON document describing services,
// severities and a time range. Whenever that fails, the interpreter falls
// back to a plain substring search over the query text, so callers always
// get a usable plan.
package interpreter

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/samber/lo"
	"github.com/valyala/fastjson"
	"go.uber.org/zap"

	"github.com/ccollicutt/smartguard/pkg/llm"
	"github.com/ccollicutt/smartguard/pkg/logstore"
	"github.com/ccollicutt/smartguard/pkg/query"
)

// DefaultTimeout bounds a single model call.
const DefaultTimeout = 8 * time.Second

// FailureKind classifies why the model path was abandoned.
type FailureKind string

const (
	FailureUnavailable FailureKind = "unavailable"
	FailureCall        FailureKind = "call"
	FailureTimeout     FailureKind = "timeout"
	FailureParse       FailureKind = "parse"
)

// InterpretationError describes a failed model interpretation.
// It never escapes Interpret; it is logged and replaced by the fallback plan.
type InterpretationError struct {
	Kind FailureKind
	Err  error
}

func (e *InterpretationError) Error() string {
	return fmt.Sprintf("interpretation %s: %v", e.Kind, e.Err)
}

func (e *InterpretationError) Unwrap() error {
	return e.Err
}

// Interpreter converts natural-language queries into query.Plan values.
type Interpreter struct {
	model   llm.Model
	timeout time.Duration
	clock   clock.Clock
	logger  *zap.Logger
	parsers fastjson.ParserPool
}

// Option configures an Interpreter.
type Option func(*Interpreter)

// WithTimeout sets the per-call model timeout.
func WithTimeout(d time.Duration) Option {
	return func(i *Interpreter) {
		if d > 0 {
			i.timeout = d
		}
	}
}

// WithClock sets the clock used to resolve relative time ranges.
func WithClock(c clock.Clock) Option {
	return func(i *Interpreter) {
		i.clock = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(i *Interpreter) {
		i.logger = l
	}
}

// New creates an Interpreter. A nil model means every query uses the fallback plan.
func New(model llm.Model, opts ...Option) *Interpreter {
	i := &Interpreter{
		model:   model,
		timeout: DefaultTimeout,
		clock:   clock.New(),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Interpret returns a plan for naturalQuery. It never fails: when the model
// is unavailable or its answer cannot be used, the plan is a case-insensitive
// substring search for the whole query.
func (i *Interpreter) Interpret(ctx context.Context, naturalQuery string, knownServices []string) query.Plan {
	plan, err := i.interpretRemote(ctx, naturalQuery, knownServices)
	if err == nil {
		return plan
	}

	i.logger.Warn("Query interpretation fell back to substring search",
		zap.String("kind", string(err.Kind)),
		zap.Error(err.Err))
	return Fallback(naturalQuery)
}

// Fallback is the local plan used when the model cannot help.
func Fallback(naturalQuery string) query.Plan {
	return query.Plan{
		Services:       []string{},
		Severities:     []logstore.Severity{},
		FreeText:       naturalQuery,
		Origin:         query.OriginFallback,
		Interpretation: "Searching for: " + naturalQuery,
	}
}

func (i *Interpreter) interpretRemote(ctx context.Context, naturalQuery string, knownServices []string) (query.Plan, *InterpretationError) {
	if i.model == nil {
		return query.Plan{}, &InterpretationError{Kind: FailureUnavailable, Err: errors.New("no model configured")}
	}

	callCtx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	text, err := llm.Generate(callCtx, i.model, buildPrompt(naturalQuery, knownServices))
	if err != nil {
		kind := FailureCall
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			kind = FailureTimeout
		}
		return query.Plan{}, &InterpretationError{Kind: kind, Err: err}
	}

	parsed, err := i.parse(StripFences(text))
	if err != nil {
		return query.Plan{}, &InterpretationError{Kind: FailureParse, Err: err}
	}

	plan := query.Plan{
		Services:       intersectServices(parsed.services, knownServices),
		Severities:     validSeverities(parsed.severities),
		Window:         windowFor(parsed.timeRange, i.clock.Now()),
		Origin:         query.OriginModel,
		Interpretation: parsed.interpretation,
	}
	return plan, nil
}

func buildPrompt(naturalQuery string, knownServices []string) string {
	return fmt.Sprintf(`Analyze this log search query: %q

Available services: %s
Valid severities: ERROR, WARNING, INFO

Return only JSON:
{
  "interpreted_query": "What the user wants",
  "filters": {
    "services": ["service1", "service2"],
    "severity": ["ERROR", "WARNING"],
    "time_range": "last 24 hours"
  }
}`, naturalQuery, strings.Join(knownServices, ", "))
}

// modelAnswer is the subset of the model's JSON that the plan is built from.
type modelAnswer struct {
	services       []string
	severities     []string
	timeRange      string
	interpretation string
}

func (i *Interpreter) parse(text string) (modelAnswer, error) {
	p := i.parsers.Get()
	defer i.parsers.Put(p)

	v, err := p.Parse(text)
	if err != nil {
		return modelAnswer{}, fmt.Errorf("parsing model output: %w", err)
	}
	if v.Type() != fastjson.TypeObject {
		return modelAnswer{}, fmt.Errorf("model output is %s, not an object", v.Type())
	}

	// The prompt nests filters, but a flat object is accepted too.
	filters := v.Get("filters")
	if filters == nil || filters.Type() != fastjson.TypeObject {
		filters = v
	}

	severities := stringList(filters.Get("severity"))
	if len(severities) == 0 {
		severities = stringList(filters.Get("severities"))
	}

	return modelAnswer{
		services:       stringList(filters.Get("services")),
		severities:     severities,
		timeRange:      string(filters.GetStringBytes("time_range")),
		interpretation: string(v.GetStringBytes("interpreted_query")),
	}, nil
}

// stringList accepts either a JSON string or an array of strings.
func stringList(v *fastjson.Value) []string {
	if v == nil {
		return nil
	}
	switch v.Type() {
	case fastjson.TypeString:
		b, _ := v.StringBytes()
		return []string{string(b)}
	case fastjson.TypeArray:
		var out []string
		for _, item := range v.GetArray() {
			if b, err := item.StringBytes(); err == nil {
				out = append(out, string(b))
			}
		}
		return out
	default:
		return nil
	}
}

// intersectServices keeps only names present in known, using the catalog spelling.
func intersectServices(requested, known []string) []string {
	canonical := make(map[string]string, len(known))
	for _, k := range known {
		canonical[strings.ToLower(k)] = k
	}

	out := []string{}
	for _, name := range requested {
		if c, ok := canonical[strings.ToLower(strings.TrimSpace(name))]; ok {
			out = append(out, c)
		}
	}
	out = lo.Uniq(out)
	slices.Sort(out)
	return out
}

// validSeverities drops anything that is not a known severity, keeping ERROR, WARNING, INFO order.
func validSeverities(requested []string) []logstore.Severity {
	seen := make(map[logstore.Severity]bool)
	for _, s := range requested {
		if sev, err := logstore.ParseSeverity(s); err == nil {
			seen[sev] = true
		}
	}
	return lo.Filter(logstore.Severities, func(s logstore.Severity, _ int) bool { return seen[s] })
}

// windowFor maps a time-range phrase onto a window ending at now.
func windowFor(phrase string, now time.Time) *query.TimeWindow {
	phrase = strings.ToLower(phrase)
	switch {
	case strings.Contains(phrase, "1 hour"):
		return query.LastDuration(now, time.Hour)
	case strings.Contains(phrase, "24 hours"), strings.Contains(phrase, "1 day"):
		return query.LastDuration(now, 24*time.Hour)
	default:
		return nil
	}
}

// StripFences removes Markdown code fences and a leading language tag from model output.
func StripFences(s string) string {
	s = strings.TrimSpace(s)

	fenced := strings.HasPrefix(s, "```")
	s = strings.TrimPrefix(s, "```")
	if fenced || hasTagPrefix(s, "json") {
		s = strings.TrimLeftFunc(s, isTagRune)
	}

	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func hasTagPrefix(s, tag string) bool {
	return len(s) >= len(tag) && strings.EqualFold(s[:len(tag)], tag)
}

func isTagRune(r rune) bool {
	return r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '_' || r == '-'
}
