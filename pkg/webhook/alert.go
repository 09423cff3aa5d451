package webhook

import (
	"fmt"
	"strings"
	"time"

	"github.com/ccollicutt/smartguard/pkg/anomaly"
	"github.com/ccollicutt/smartguard/pkg/health"
)

// Alert is the JSON body posted to webhooks. Text makes it directly usable
// as a Slack incoming-webhook message.
type Alert struct {
	// Text is a human-readable rendering of the alert.
	Text string `json:"text"`

	// GeneratedAt is when the monitor produced the alert.
	GeneratedAt time.Time `json:"generated_at"`

	// Transitions lists services that entered the error state.
	Transitions []health.Transition `json:"transitions"`

	// Spikes lists newly detected error spikes.
	Spikes []anomaly.Event `json:"spikes"`

	// Health is the service health snapshot the alert was derived from.
	Health map[string]health.ServiceHealth `json:"health"`

	// Analysis is the assistant's reading of a log batch that flagged a problem.
	Analysis string `json:"analysis,omitempty"`
}

// NewAlert builds an alert and renders its text.
func NewAlert(now time.Time, transitions []health.Transition, spikes []anomaly.Event, snapshot map[string]health.ServiceHealth) *Alert {
	if transitions == nil {
		transitions = []health.Transition{}
	}
	if spikes == nil {
		spikes = []anomaly.Event{}
	}
	a := &Alert{
		GeneratedAt: now,
		Transitions: transitions,
		Spikes:      spikes,
		Health:      snapshot,
	}
	a.Text = a.render()
	return a
}

// NewAnalysisAlert builds an alert carrying a log analysis.
func NewAnalysisAlert(now time.Time, analysis string) *Alert {
	a := &Alert{
		GeneratedAt: now,
		Transitions: []health.Transition{},
		Spikes:      []anomaly.Event{},
		Health:      map[string]health.ServiceHealth{},
		Analysis:    analysis,
	}
	a.Text = a.render()
	return a
}

// HasFindings reports whether anything alert-worthy happened.
func (a *Alert) HasFindings() bool {
	return len(a.Transitions) > 0 || len(a.Spikes) > 0 || a.Analysis != ""
}

func (a *Alert) render() string {
	var b strings.Builder

	if !a.HasFindings() {
		unhealthy := 0
		for _, h := range a.Health {
			if h.Status == health.StatusError || h.Status == health.StatusWarning {
				unhealthy++
			}
		}
		fmt.Fprintf(&b, "SmartGuard digest: %d services, %d unhealthy", len(a.Health), unhealthy)
		return b.String()
	}

	b.WriteString("SmartGuard alert")
	for _, t := range a.Transitions {
		fmt.Fprintf(&b, "\n- %s is now %s (was %s)", t.Service, t.To, t.From)
		if h, ok := a.Health[t.Service]; ok {
			fmt.Fprintf(&b, ", error rate %.1f%% over %d logs", h.ErrorRate*100, h.TotalLogs)
		}
	}
	for _, s := range a.Spikes {
		fmt.Fprintf(&b, "\n- error spike at %s: %d errors, expected %.2f",
			s.HourBucket.UTC().Format("2006-01-02 15:04 MST"), s.ObservedCount, s.ExpectedCount)
	}
	if a.Analysis != "" {
		b.WriteString("\n" + a.Analysis)
	}
	return b.String()
}
