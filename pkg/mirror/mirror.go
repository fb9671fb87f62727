// Package mirror decides, per record, whether locally stored data is fresh
// enough to serve or must be refetched from origin.
//
// The mirror never serves a stale record as a fallback: a present-but-stale
// record only short-circuits the origin fetch when it passes the freshness
// check, and an origin failure propagates to the caller unmodified.
package mirror

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for mirror decisions.
var (
	mirrorLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mirror_lookups_total",
		Help: "Total mirror lookups by record kind and provenance",
	}, []string{"kind", "provenance"})

	mirrorFetchErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mirror_fetch_errors_total",
		Help: "Total origin fetch failures by record kind",
	}, []string{"kind"})
)

// Provenance reports where a served payload came from.
type Provenance string

const (
	// ProvenanceCache: the stored record was fresh enough to serve.
	ProvenanceCache Provenance = "cache"

	// ProvenanceOriginNew: fetched from origin, no prior record existed.
	ProvenanceOriginNew Provenance = "origin-new"

	// ProvenanceOriginUpdated: fetched from origin, refreshing a stale record.
	ProvenanceOriginUpdated Provenance = "origin-updated"
)

// Record is one mirrored payload. LastUpdated is set by the store on every
// write and is never back-dated.
type Record[T any] struct {
	Key         string    `json:"key"`
	Payload     T         `json:"payload"`
	LastUpdated time.Time `json:"last_updated"`
}

// Store persists mirrored records. Get returns (nil, nil) when no record
// exists for the key; Upsert creates or replaces the record for the key,
// stamping LastUpdated. At most one record exists per key.
type Store[T any] interface {
	Get(ctx context.Context, key string) (*Record[T], error)
	Upsert(ctx context.Context, key string, payload T) error
}

// FetchFunc fetches a payload from origin.
type FetchFunc[T any] func(ctx context.Context, key string) (T, error)

// Mirror applies the freshness decision for one record kind.
type Mirror[T any] struct {
	store     Store[T]
	freshness time.Duration
	kind      string
	clk       clock.Clock
	logger    zerolog.Logger
}

// Option configures a Mirror.
type Option[T any] func(*Mirror[T])

// WithClock injects a clock (for deterministic freshness tests).
func WithClock[T any](clk clock.Clock) Option[T] {
	return func(m *Mirror[T]) {
		m.clk = clk
	}
}

// WithLogger sets the logger.
func WithLogger[T any](logger zerolog.Logger) Option[T] {
	return func(m *Mirror[T]) {
		m.logger = logger
	}
}

// New creates a mirror over store for one record kind. Records older than
// freshness are refetched on access.
func New[T any](store Store[T], freshness time.Duration, kind string, opts ...Option[T]) *Mirror[T] {
	m := &Mirror[T]{
		store:     store,
		freshness: freshness,
		kind:      kind,
		clk:       clock.New(),
		logger:    log.With().Str("component", "mirror").Str("kind", kind).Logger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// GetOrFetch serves the stored payload when it is fresher than the threshold;
// otherwise it calls fetch, persists the result, and serves that instead. The
// returned provenance distinguishes a cache hit from an origin fetch that
// created a new record or refreshed a stale one.
func (m *Mirror[T]) GetOrFetch(ctx context.Context, key string, fetch FetchFunc[T]) (T, Provenance, error) {
	rec, err := m.store.Get(ctx, key)
	if err != nil {
		// A store read failure degrades to a miss; the origin fetch below
		// still produces a result.
		m.logger.Warn().Err(err).Str("key", key).Msg("Store read failed")
		rec = nil
	}

	if rec != nil && m.clk.Since(rec.LastUpdated) <= m.freshness {
		mirrorLookupsTotal.WithLabelValues(m.kind, string(ProvenanceCache)).Inc()
		return rec.Payload, ProvenanceCache, nil
	}

	payload, err := fetch(ctx, key)
	if err != nil {
		// No stale fallback: origin failure propagates unmodified.
		mirrorFetchErrorsTotal.WithLabelValues(m.kind).Inc()
		var zero T
		return zero, "", err
	}

	if err := m.store.Upsert(ctx, key, payload); err != nil {
		m.logger.Warn().Err(err).Str("key", key).Msg("Store write failed")
	}

	provenance := ProvenanceOriginNew
	if rec != nil {
		provenance = ProvenanceOriginUpdated
	}
	mirrorLookupsTotal.WithLabelValues(m.kind, string(provenance)).Inc()

	m.logger.Debug().
		Str("key", key).
		Str("provenance", string(provenance)).
		Msg("Origin fetch persisted")

	return payload, provenance, nil
}

// Freshness returns the configured threshold.
func (m *Mirror[T]) Freshness() time.Duration {
	return m.freshness
}
