// Package monitor periodically re-evaluates service health and notifies webhooks
// when a service enters the error state or a new error spike appears.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ccollicutt/smartguard/pkg/anomaly"
	"github.com/ccollicutt/smartguard/pkg/config"
	"github.com/ccollicutt/smartguard/pkg/health"
	"github.com/ccollicutt/smartguard/pkg/telemetry"
	"github.com/ccollicutt/smartguard/pkg/webhook"
)

// maxConcurrentSends bounds parallel webhook requests per check.
const maxConcurrentSends = 4

// Source supplies the views a check is computed from. *engine.Engine satisfies it.
type Source interface {
	ServiceHealth(ctx context.Context) (map[string]health.ServiceHealth, error)
	Anomalies(ctx context.Context) ([]anomaly.Event, error)
}

// Monitor tracks health between checks and fans alerts out to webhooks.
type Monitor struct {
	source   Source
	webhooks []config.WebhookConfig
	client   *webhook.Client
	clock    clock.Clock
	interval time.Duration
	logger   *zap.Logger
	metrics  *telemetry.Metrics

	mu     sync.Mutex
	prev   map[string]health.ServiceHealth
	spikes map[time.Time]bool
	last   *webhook.Alert
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithClock sets the clock that drives the refresh ticker and alert timestamps.
func WithClock(c clock.Clock) Option {
	return func(m *Monitor) { m.clock = c }
}

// WithInterval sets the refresh interval.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Monitor) { m.logger = l }
}

// WithTelemetry records webhook outcomes.
func WithTelemetry(t *telemetry.Metrics) Option {
	return func(m *Monitor) { m.metrics = t }
}

// WithClient replaces the webhook HTTP client.
func WithClient(c *webhook.Client) Option {
	return func(m *Monitor) { m.client = c }
}

// New creates a Monitor. Webhooks with trigger "never" are kept but never called.
func New(source Source, webhooks []config.WebhookConfig, opts ...Option) *Monitor {
	m := &Monitor{
		source:   source,
		webhooks: webhooks,
		client:   webhook.NewClient(),
		clock:    clock.New(),
		interval: config.DefaultRefreshInterval,
		logger:   zap.NewNop(),
		spikes:   make(map[time.Time]bool),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run checks immediately and then once per interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := m.clock.Ticker(m.interval)
	defer ticker.Stop()

	m.checkAndLog(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.checkAndLog(ctx)
		}
	}
}

func (m *Monitor) checkAndLog(ctx context.Context) {
	if _, err := m.Check(ctx); err != nil && ctx.Err() == nil {
		m.logger.Warn("Health check failed", zap.Error(err))
	}
}

// Check compares the current health and anomalies with the previous check,
// notifies the configured webhooks and returns the alert that was built.
// Services already in error on the first check count as having entered it.
func (m *Monitor) Check(ctx context.Context) (*webhook.Alert, error) {
	snapshot, err := m.source.ServiceHealth(ctx)
	if err != nil {
		return nil, fmt.Errorf("computing service health: %w", err)
	}
	events, err := m.source.Anomalies(ctx)
	if err != nil {
		return nil, fmt.Errorf("detecting anomalies: %w", err)
	}

	m.mu.Lock()
	transitions := health.EnteredError(m.prev, snapshot)
	current := make(map[time.Time]bool, len(events))
	var fresh []anomaly.Event
	for _, ev := range events {
		current[ev.HourBucket] = true
		if !m.spikes[ev.HourBucket] {
			fresh = append(fresh, ev)
		}
	}
	m.prev = snapshot
	m.spikes = current
	alert := webhook.NewAlert(m.clock.Now(), transitions, fresh, snapshot)
	m.last = alert
	m.mu.Unlock()

	for _, t := range transitions {
		m.logger.Warn("Service entered error state",
			zap.String("service", t.Service),
			zap.String("from", string(t.From)))
	}
	for _, ev := range fresh {
		m.logger.Warn("Error spike detected",
			zap.Time("hour", ev.HourBucket),
			zap.Int("errors", ev.ObservedCount),
			zap.Float64("expected", ev.ExpectedCount))
	}

	_, err = m.dispatch(ctx, alert)
	return alert, err
}

// Notify sends alert to the configured webhooks outside the periodic check
// and returns how many accepted it.
func (m *Monitor) Notify(ctx context.Context, alert *webhook.Alert) (int, error) {
	return m.dispatch(ctx, alert)
}

// Last returns the alert built by the most recent check, or nil.
func (m *Monitor) Last() *webhook.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// dispatch sends alert to every webhook whose trigger matches. A failing
// webhook does not stop the others.
func (m *Monitor) dispatch(ctx context.Context, alert *webhook.Alert) (int, error) {
	var g errgroup.Group
	g.SetLimit(maxConcurrentSends)

	var attempted, failed atomic.Int32
	for _, wh := range m.webhooks {
		if !fires(wh.Trigger, alert) {
			continue
		}
		attempted.Add(1)
		g.Go(func() error {
			resp := m.client.Send(ctx, alert, webhook.SendOptions{
				URL:     wh.URL,
				Token:   wh.Token,
				Timeout: wh.Timeout,
				Retries: wh.Retries,
			})
			m.metrics.AlertSent(resp.Success())
			if !resp.Success() {
				failed.Add(1)
				m.logger.Warn("Webhook failed",
					zap.String("webhook", nameOf(wh)),
					zap.Int("status", resp.StatusCode),
					zap.Int("attempts", resp.Attempts),
					zap.Error(resp.Error))
				return nil
			}
			m.logger.Debug("Webhook sent",
				zap.String("webhook", nameOf(wh)),
				zap.Duration("duration", resp.Duration))
			return nil
		})
	}
	_ = g.Wait()

	sent := int(attempted.Load() - failed.Load())
	if n := failed.Load(); n > 0 {
		return sent, fmt.Errorf("%d of %d webhooks failed", n, attempted.Load())
	}
	return sent, nil
}

func fires(trigger config.WebhookTrigger, alert *webhook.Alert) bool {
	switch trigger {
	case config.WebhookTriggerNever:
		return false
	case config.WebhookTriggerAlways:
		return true
	default:
		return alert.HasFindings()
	}
}

func nameOf(wh config.WebhookConfig) string {
	if wh.Name != "" {
		return wh.Name
	}
	return wh.URL
}
