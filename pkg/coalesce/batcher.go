// Package coalesce merges concurrent single-entity lookups into batched
// upstream calls.
//
// Callers enqueue one id each and suspend. The first enqueue after a flush
// opens a wait window; when the window elapses, or the queue reaches the
// maximum batch size, the live queue is swapped out atomically and handed to a
// single dispatch worker. The worker processes batches strictly FIFO and
// spaces dispatch starts by at least the configured interval, so N concurrent
// lookups cost ceil(N/maxBatchSize) upstream calls and never exceed one
// dispatch per interval.
package coalesce

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/eranova-digital/datacore/pkg/entity"
	"github.com/eranova-digital/datacore/pkg/upstream"
)

// Prometheus metrics for the coalescer.
var (
	coalesceFlushesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coalesce_flushes_total",
		Help: "Total queue flushes by trigger (timer, size, close)",
	}, []string{"trigger"})

	coalesceBatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "coalesce_batch_size",
		Help:    "Number of pending lookups per dispatched batch",
		Buckets: []float64{1, 2, 5, 10, 20, 50, 100},
	})

	coalesceDispatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coalesce_dispatches_total",
		Help: "Total upstream batch dispatches by result",
	}, []string{"result"})
)

// ErrClosed is returned by Enqueue after Close.
var ErrClosed = errors.New("coalescer closed")

// BatchFunc invokes the upstream batch endpoint for a flushed batch.
type BatchFunc func(ctx context.Context, lookups []upstream.Lookup) (*upstream.BatchResult, error)

// Config holds the coalescer configuration.
type Config struct {
	// Wait is the window opened by the first enqueue after a flush. When it
	// elapses the queue is flushed regardless of size.
	Wait time.Duration

	// MaxBatchSize flushes the queue immediately when reached, so a batch
	// larger than this never exists.
	MaxBatchSize int

	// DispatchInterval is the minimum spacing between two dispatch starts,
	// regardless of how many batches are queued.
	DispatchInterval time.Duration
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig() Config {
	return Config{
		Wait:             300 * time.Millisecond,
		MaxBatchSize:     100,
		DispatchInterval: 1 * time.Second,
	}
}

type outcome struct {
	profile *upstream.Profile
	err     error
}

// pending is one registered caller awaiting a batched result. It is resolved
// exactly once; done is buffered so resolution never blocks on an abandoned
// caller.
type pending struct {
	id     entity.ID
	lookup upstream.Lookup
	done   chan outcome
}

// Batcher owns the live queue, the wait-window timer, and the dispatch worker.
// Construct one per upstream batch endpoint; Close releases it.
type Batcher struct {
	fetch  BatchFunc
	config Config
	clk    clock.Clock
	logger zerolog.Logger
	ctx    context.Context

	mu      sync.Mutex
	queue   []*pending
	timer   *clock.Timer
	jobs    [][]*pending
	running bool
	closed  bool
	wg      sync.WaitGroup

	// lastDispatch is touched only by the dispatch worker; worker handover is
	// synchronized through mu via the running flag.
	lastDispatch time.Time
}

// Option configures a Batcher.
type Option func(*Batcher)

// WithClock injects a clock (for deterministic tests of the wait window and
// dispatch pacing).
func WithClock(clk clock.Clock) Option {
	return func(b *Batcher) {
		b.clk = clk
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(b *Batcher) {
		b.logger = logger
	}
}

// New creates a coalescer dispatching through fetch.
func New(fetch BatchFunc, cfg Config, opts ...Option) *Batcher {
	if cfg.Wait <= 0 {
		cfg.Wait = DefaultConfig().Wait
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = DefaultConfig().MaxBatchSize
	}

	b := &Batcher{
		fetch:  fetch,
		config: cfg,
		clk:    clock.New(),
		logger: log.With().Str("component", "coalescer").Logger(),
		ctx:    context.Background(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Enqueue registers a lookup and suspends the caller until its batch resolves.
//
// The batched upstream call is not cancellable once enqueued; a done context
// only stops this caller from waiting for the result.
func (b *Batcher) Enqueue(ctx context.Context, id entity.ID, asOf string) (*upstream.Profile, error) {
	p := &pending{
		id:     id,
		lookup: upstream.Lookup{ID: id, AsOf: asOf},
		done:   make(chan outcome, 1),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	b.queue = append(b.queue, p)
	switch {
	case len(b.queue) >= b.config.MaxBatchSize:
		b.flushLocked("size")
	case len(b.queue) == 1:
		b.timer = b.clk.AfterFunc(b.config.Wait, b.timerFlush)
	}
	b.mu.Unlock()

	select {
	case out := <-p.done:
		return out.profile, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (b *Batcher) timerFlush() {
	b.mu.Lock()
	b.flushLocked("timer")
	b.mu.Unlock()
}

// flushLocked swaps out the live queue, clears the timer handle, and appends
// the captured batch to the dispatch queue, starting the worker if idle.
// Flushing an empty queue is a no-op. Callers hold b.mu.
func (b *Batcher) flushLocked(trigger string) {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	if len(b.queue) == 0 {
		return
	}

	batch := b.queue
	b.queue = nil
	b.jobs = append(b.jobs, batch)

	coalesceFlushesTotal.WithLabelValues(trigger).Inc()
	coalesceBatchSize.Observe(float64(len(batch)))
	b.logger.Debug().
		Str("trigger", trigger).
		Int("batch_size", len(batch)).
		Int("queued_jobs", len(b.jobs)).
		Msg("Queue flushed")

	if !b.running {
		b.running = true
		b.wg.Add(1)
		go b.dispatchLoop()
	}
}

// dispatchLoop is the single dispatch worker. It runs until its job queue is
// empty, popping batches FIFO and pacing dispatch starts.
func (b *Batcher) dispatchLoop() {
	defer b.wg.Done()

	for {
		b.mu.Lock()
		if len(b.jobs) == 0 {
			b.running = false
			b.mu.Unlock()
			return
		}
		batch := b.jobs[0]
		b.jobs = b.jobs[1:]
		b.mu.Unlock()

		if !b.lastDispatch.IsZero() {
			if wait := b.config.DispatchInterval - b.clk.Since(b.lastDispatch); wait > 0 {
				b.clk.Sleep(wait)
			}
		}
		b.lastDispatch = b.clk.Now()

		b.dispatch(batch)
	}
}

// dispatch invokes the upstream call for one batch and resolves every member
// exactly once before returning.
func (b *Batcher) dispatch(batch []*pending) {
	lookups := make([]upstream.Lookup, len(batch))
	for i, p := range batch {
		lookups[i] = p.lookup
	}

	result, err := b.fetch(b.ctx, lookups)
	if err != nil {
		// No partial credit: every pending in the batch fails identically.
		coalesceDispatchesTotal.WithLabelValues("error").Inc()
		b.logger.Warn().Err(err).Int("batch_size", len(batch)).Msg("Batch dispatch failed")
		for _, p := range batch {
			p.done <- outcome{err: err}
		}
		return
	}
	coalesceDispatchesTotal.WithLabelValues("ok").Inc()

	found := make(map[entity.ID]upstream.Profile, len(result.Found))
	for _, prof := range result.Found {
		cid, perr := entity.Parse(string(prof.ID))
		if perr != nil {
			b.logger.Warn().Str("id", string(prof.ID)).Msg("Unparseable id in found set")
			continue
		}
		prof.ID = cid
		found[cid] = prof
	}

	notFound := make(map[entity.ID]bool, len(result.NotFound))
	for _, raw := range result.NotFound {
		if cid, perr := entity.Parse(raw); perr == nil {
			notFound[cid] = true
		}
	}

	for _, p := range batch {
		if prof, ok := found[p.id]; ok {
			// Each caller gets its own copy; resolved profiles may be
			// patched downstream.
			cp := prof
			p.done <- outcome{profile: &cp}
			continue
		}
		if notFound[p.id] {
			p.done <- outcome{err: &upstream.NotFoundError{ID: p.id}}
			continue
		}
		p.done <- outcome{err: &upstream.ResponseMismatchError{ID: p.id}}
	}
}

// Close flushes the live queue, waits for the dispatch worker to drain, and
// rejects further enqueues.
func (b *Batcher) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.flushLocked("close")
	b.mu.Unlock()

	b.wg.Wait()
}
