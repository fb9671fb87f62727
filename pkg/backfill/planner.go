// Package backfill produces the complete set of per-year statements for an
// entity while minimizing upstream calls.
//
// The planner walks the missing years newest-first. An all-zero statement is
// treated as "no real filing": before the first accepted statement it is
// skipped (late filers may not have published their most recent years yet);
// after one, it stops the walk, since statement history is assumed
// monotonically present from registration forward once filings begin.
package backfill

import (
	"context"
	"sort"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/eranova-digital/datacore/pkg/entity"
	"github.com/eranova-digital/datacore/pkg/mirror"
	"github.com/eranova-digital/datacore/pkg/upstream"
)

// Prometheus metrics for backfill runs.
var (
	backfillRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "backfill_runs_total",
		Help: "Total backfill runs",
	})

	backfillYearsFetchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "backfill_years_fetched_total",
		Help: "Total yearly statements fetched from origin during backfill",
	})

	backfillYearsSkippedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backfill_years_skipped_total",
		Help: "Total years skipped during backfill by reason",
	}, []string{"reason"})
)

// StatementFetch is the per-year fetch primitive, normally the mirror-backed
// statement lookup. It persists accepted years as a side effect.
type StatementFetch func(ctx context.Context, id entity.ID, year int) (*upstream.Statement, error)

// Config holds the planner configuration.
type Config struct {
	// MinSupportedYear is the oldest year the upstream publishes statements
	// for; the range never extends below it.
	MinSupportedYear int

	// Pacing is the fixed delay inserted after each accepted fetch before the
	// next per-year call, on top of any spacing the transport applies.
	Pacing time.Duration
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig() Config {
	return Config{
		MinSupportedYear: 2014,
		Pacing:           500 * time.Millisecond,
	}
}

// Result is the outcome of one backfill run.
type Result struct {
	// Statements is the union of pre-existing and newly fetched non-empty
	// statements, sorted by year descending.
	Statements []upstream.Statement

	// ClassificationName is the most recent non-empty classification name
	// observed during the run, for profile enrichment.
	ClassificationName string

	// FetchedYears lists the years accepted from origin this run, newest-first.
	FetchedYears []int
}

// Planner fills the missing statement years for an entity.
type Planner struct {
	store  mirror.Store[upstream.Statement]
	fetch  StatementFetch
	config Config
	clk    clock.Clock
	logger zerolog.Logger
}

// Option configures a Planner.
type Option func(*Planner)

// WithClock injects a clock (for deterministic year-range and pacing tests).
func WithClock(clk clock.Clock) Option {
	return func(p *Planner) {
		p.clk = clk
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(p *Planner) {
		p.logger = logger
	}
}

// New creates a planner reading existing years from store and fetching missing
// ones through fetch.
func New(store mirror.Store[upstream.Statement], fetch StatementFetch, cfg Config, opts ...Option) *Planner {
	if cfg.MinSupportedYear <= 0 {
		cfg.MinSupportedYear = DefaultConfig().MinSupportedYear
	}

	p := &Planner{
		store:  store,
		fetch:  fetch,
		config: cfg,
		clk:    clock.New(),
		logger: log.With().Str("component", "backfill").Logger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run backfills the statement history for one entity. A single year's failure
// never aborts the run; partial results are acceptable.
func (p *Planner) Run(ctx context.Context, id entity.ID, registrationYear int) (*Result, error) {
	backfillRunsTotal.Inc()

	currentYear := p.clk.Now().Year()
	startYear := registrationYear
	if startYear < p.config.MinSupportedYear {
		startYear = p.config.MinSupportedYear
	}

	result := &Result{}
	if startYear > currentYear {
		return result, nil
	}

	existing := p.existingYears(ctx, id, startYear, currentYear)

	accepted := false
	collected := make(map[int]upstream.Statement, currentYear-startYear+1)
	for y, stmt := range existing {
		collected[y] = stmt
	}

scan:
	for year := currentYear; year >= startYear; year-- {
		if _, ok := existing[year]; ok {
			continue
		}

		stmt, err := p.fetch(ctx, id, year)
		switch {
		case upstream.IsNotFound(err):
			backfillYearsSkippedTotal.WithLabelValues("not_found").Inc()
			p.logger.Debug().Str("id", string(id)).Int("year", year).Msg("No statement published")
			continue
		case err != nil:
			backfillYearsSkippedTotal.WithLabelValues("error").Inc()
			p.logger.Warn().Err(err).Str("id", string(id)).Int("year", year).Msg("Year fetch failed, skipping")
			continue
		}

		if stmt.AllZero() {
			if accepted {
				// Older years are assumed empty as well once a real filing
				// has been followed by an empty one.
				backfillYearsSkippedTotal.WithLabelValues("empty_stop").Inc()
				p.logger.Debug().Str("id", string(id)).Int("year", year).Msg("Empty statement after acceptance, stopping scan")
				break scan
			}
			backfillYearsSkippedTotal.WithLabelValues("empty").Inc()
			continue
		}

		accepted = true
		collected[year] = *stmt
		result.FetchedYears = append(result.FetchedYears, year)
		backfillYearsFetchedTotal.Inc()

		if p.config.Pacing > 0 && year > startYear {
			p.clk.Sleep(p.config.Pacing)
		}
	}

	result.Statements = make([]upstream.Statement, 0, len(collected))
	for _, stmt := range collected {
		result.Statements = append(result.Statements, stmt)
	}
	sort.Slice(result.Statements, func(i, j int) bool {
		return result.Statements[i].Year > result.Statements[j].Year
	})

	for _, stmt := range result.Statements {
		if stmt.ClassificationName != "" {
			result.ClassificationName = stmt.ClassificationName
			break
		}
	}

	p.logger.Info().
		Str("id", string(id)).
		Int("start_year", startYear).
		Int("current_year", currentYear).
		Int("fetched", len(result.FetchedYears)).
		Int("total", len(result.Statements)).
		Msg("Backfill run complete")

	return result, nil
}

// existingYears reads the already mirrored, non-empty statement years.
func (p *Planner) existingYears(ctx context.Context, id entity.ID, startYear, currentYear int) map[int]upstream.Statement {
	existing := make(map[int]upstream.Statement)
	for year := currentYear; year >= startYear; year-- {
		rec, err := p.store.Get(ctx, entity.StatementKey(id, year))
		if err != nil {
			p.logger.Warn().Err(err).Str("id", string(id)).Int("year", year).Msg("Store read failed, treating year as missing")
			continue
		}
		if rec == nil || rec.Payload.AllZero() {
			continue
		}
		existing[year] = rec.Payload
	}
	return existing
}
