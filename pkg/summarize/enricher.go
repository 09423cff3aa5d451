package summarize

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ccollicutt/smartguard/pkg/logstore"
)

// Defaults for the enrichment worker pool.
const (
	DefaultWorkers   = 2
	DefaultQueueSize = 256
)

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("enricher closed")

// Sink receives records once their summary is filled in.
type Sink func(ctx context.Context, rec logstore.Record) error

// Enricher summarizes records in the background before handing them to a sink.
// Submit never waits for the model: records that already carry a summary go
// straight to the sink, and when the queue is full a derived summary is used.
type Enricher struct {
	summarizer *Summarizer
	sink       Sink
	queue      chan logstore.Record
	workers    int
	logger     *zap.Logger

	// OnFailure, if set, is called for every record stored with FailedSummary.
	OnFailure func(logstore.Record)

	mu     sync.RWMutex
	closed bool
}

// EnricherOption configures an Enricher.
type EnricherOption func(*Enricher)

// WithWorkers sets the number of concurrent summarizations.
func WithWorkers(n int) EnricherOption {
	return func(e *Enricher) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithQueueSize sets how many records may wait for a worker.
func WithQueueSize(n int) EnricherOption {
	return func(e *Enricher) {
		if n > 0 {
			e.queue = make(chan logstore.Record, n)
		}
	}
}

// WithEnricherLogger sets the logger.
func WithEnricherLogger(l *zap.Logger) EnricherOption {
	return func(e *Enricher) {
		e.logger = l
	}
}

// NewEnricher creates an Enricher. Call Run to start the workers.
func NewEnricher(s *Summarizer, sink Sink, opts ...EnricherOption) *Enricher {
	e := &Enricher{
		summarizer: s,
		sink:       sink,
		queue:      make(chan logstore.Record, DefaultQueueSize),
		workers:    DefaultWorkers,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Submit hands rec over for storage. It returns the sink's error only when
// the sink is called synchronously.
func (e *Enricher) Submit(ctx context.Context, rec logstore.Record) error {
	if rec.Summary != "" {
		return e.sink(ctx, rec)
	}

	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return ErrClosed
	}
	select {
	case e.queue <- rec:
		e.mu.RUnlock()
		return nil
	default:
		e.mu.RUnlock()
	}

	e.logger.Debug("Summarization queue full, deriving summary", zap.Int64("id", rec.ID))
	rec.Summary = Derive(rec)
	return e.sink(ctx, rec)
}

// Close stops accepting records. Run returns once the queue is drained.
func (e *Enricher) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.queue)
	}
}

// Run processes the queue until Close is called or ctx is done. Records still
// queued when ctx is cancelled are stored with derived summaries.
func (e *Enricher) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < e.workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case rec, ok := <-e.queue:
					if !ok {
						return nil
					}
					e.process(gctx, rec)
				}
			}
		})
	}
	err := g.Wait()

	e.drain(context.WithoutCancel(ctx))
	return err
}

func (e *Enricher) process(ctx context.Context, rec logstore.Record) {
	rec.Summary = e.summarizer.Summarize(ctx, rec)
	if ctx.Err() != nil {
		// Shutting down; keep the record but do not wait on the model.
		rec.Summary = Derive(rec)
		e.store(context.WithoutCancel(ctx), rec)
		return
	}
	if rec.Summary == FailedSummary && e.OnFailure != nil {
		e.OnFailure(rec)
	}
	e.store(ctx, rec)
}

func (e *Enricher) drain(ctx context.Context) {
	for {
		select {
		case rec, ok := <-e.queue:
			if !ok {
				return
			}
			rec.Summary = Derive(rec)
			e.store(ctx, rec)
		default:
			return
		}
	}
}

func (e *Enricher) store(ctx context.Context, rec logstore.Record) {
	if err := e.sink(ctx, rec); err != nil {
		e.logger.Warn("Storing summarized record failed",
			zap.Int64("id", rec.ID),
			zap.String("service", rec.Service),
			zap.Error(err))
	}
}
