// Package ratelimit implements per-client request limiting using fixed
// windows. Each client key gets an independent window; the first request in a
// window (or the first after the previous window expired) starts a new one.
package ratelimit

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for rate limiting.
var (
	rateLimitRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ratelimit_requests_total",
		Help: "Total rate limit checks by outcome",
	}, []string{"outcome"})

	rateLimitTrackedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ratelimit_tracked_clients",
		Help: "Number of client windows currently tracked",
	})
)

// Config holds the limiter configuration.
type Config struct {
	// MaxRequests is the number of requests allowed per window.
	MaxRequests int

	// Window is the fixed window length.
	Window time.Duration

	// SweepInterval is how often stale client windows are evicted. Zero
	// disables the sweeper.
	SweepInterval time.Duration
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig() Config {
	return Config{
		MaxRequests:   3,
		Window:        time.Second,
		SweepInterval: time.Minute,
	}
}

// Result is the outcome of one rate limit check.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time

	// RetryAfter is the whole seconds until the window resets, rounded up.
	// Only meaningful when Allowed is false.
	RetryAfter int
}

type window struct {
	count int
	end   time.Time
}

// Limiter tracks request counts per client key over fixed windows.
type Limiter struct {
	config Config
	clk    clock.Clock
	logger zerolog.Logger

	mu      sync.Mutex
	windows map[string]*window

	stopSweep chan struct{}
	stopOnce  sync.Once
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock injects a clock for deterministic tests.
func WithClock(clk clock.Clock) Option {
	return func(l *Limiter) {
		l.clk = clk
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(l *Limiter) {
		l.logger = logger
	}
}

// New creates a limiter and starts its sweeper if configured.
func New(cfg Config, opts ...Option) *Limiter {
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = DefaultConfig().MaxRequests
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultConfig().Window
	}

	l := &Limiter{
		config:    cfg,
		clk:       clock.New(),
		logger:    log.With().Str("component", "ratelimit").Logger(),
		windows:   make(map[string]*window),
		stopSweep: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}

	if cfg.SweepInterval > 0 {
		go l.sweepLoop()
	}
	return l
}

// Check records one request for the client key and reports whether it is
// within the limit. Denied requests still count against the window.
func (l *Limiter) Check(clientKey string) Result {
	now := l.clk.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[clientKey]
	if !ok || !now.Before(w.end) {
		// First request, or the previous window has expired: start a fresh
		// window with this request as its first.
		w = &window{count: 1, end: now.Add(l.config.Window)}
		l.windows[clientKey] = w
	} else {
		w.count++
	}

	result := Result{
		Limit:   l.config.MaxRequests,
		ResetAt: w.end,
		Allowed: w.count <= l.config.MaxRequests,
	}
	if remaining := l.config.MaxRequests - w.count; remaining > 0 {
		result.Remaining = remaining
	}
	if !result.Allowed {
		// Whole seconds, rounded up, so clients never retry early.
		millis := w.end.Sub(now).Milliseconds()
		result.RetryAfter = int((millis + 999) / 1000)
		rateLimitRequestsTotal.WithLabelValues("denied").Inc()
		l.logger.Debug().
			Str("client", clientKey).
			Int("count", w.count).
			Int("retry_after", result.RetryAfter).
			Msg("Request denied by rate limit")
	} else {
		rateLimitRequestsTotal.WithLabelValues("allowed").Inc()
	}

	return result
}

// Close stops the background sweeper.
func (l *Limiter) Close() {
	l.stopOnce.Do(func() {
		close(l.stopSweep)
	})
}

func (l *Limiter) sweepLoop() {
	ticker := l.clk.Ticker(l.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.sweep()
		case <-l.stopSweep:
			return
		}
	}
}

// sweep evicts windows that expired at least one full window ago. Recently
// expired windows are kept so a client's next request reuses the map entry.
func (l *Limiter) sweep() {
	cutoff := l.clk.Now().Add(-l.config.Window)

	l.mu.Lock()
	for key, w := range l.windows {
		if w.end.Before(cutoff) {
			delete(l.windows, key)
		}
	}
	tracked := len(l.windows)
	l.mu.Unlock()

	rateLimitTrackedClients.Set(float64(tracked))
}
