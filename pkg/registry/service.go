// Package registry is the facade tying the upstream client, the request
// coalescer, the mirrors and the backfill planner together into the two
// operations consumers call: profile lookup and statement history.
package registry

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/eranova-digital/datacore/pkg/backfill"
	"github.com/eranova-digital/datacore/pkg/coalesce"
	"github.com/eranova-digital/datacore/pkg/entity"
	"github.com/eranova-digital/datacore/pkg/mirror"
	"github.com/eranova-digital/datacore/pkg/upstream"
)

// Origin is the slice of the upstream client the service depends on.
type Origin interface {
	FetchBatch(ctx context.Context, lookups []upstream.Lookup) (*upstream.BatchResult, error)
	FetchStatement(ctx context.Context, id entity.ID, year int) (*upstream.Statement, error)
}

// enrichmentYearScan bounds how many recent years the profile enrichment
// probes for a classification name.
const enrichmentYearScan = 3

// Config holds the service configuration.
type Config struct {
	// ProfileFreshness is how long a mirrored profile is served without
	// consulting origin.
	ProfileFreshness time.Duration

	// StatementFreshness is how long a mirrored statement is served without
	// consulting origin. Statements are effectively immutable once filed, so
	// this is much longer than profile freshness.
	StatementFreshness time.Duration

	// Coalesce configures the profile request coalescer.
	Coalesce coalesce.Config

	// Backfill configures the statement backfill planner.
	Backfill backfill.Config
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig() Config {
	return Config{
		ProfileFreshness:   24 * time.Hour,
		StatementFreshness: 30 * 24 * time.Hour,
		Coalesce:           coalesce.DefaultConfig(),
		Backfill:           backfill.DefaultConfig(),
	}
}

// Service answers consumer lookups from the mirrors, falling back to origin
// through the coalescer and the planner.
type Service struct {
	origin       Origin
	batcher      *coalesce.Batcher
	profiles     *mirror.Mirror[upstream.Profile]
	statements   *mirror.Mirror[upstream.Statement]
	profileStore mirror.Store[upstream.Profile]
	planner      *backfill.Planner
	clk          clock.Clock
	logger       zerolog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithClock injects a clock shared by the service and its components.
func WithClock(clk clock.Clock) Option {
	return func(s *Service) {
		s.clk = clk
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// New wires a service over the given origin and stores.
func New(origin Origin, profileStore mirror.Store[upstream.Profile], statementStore mirror.Store[upstream.Statement], cfg Config, opts ...Option) *Service {
	if cfg.ProfileFreshness <= 0 {
		cfg.ProfileFreshness = DefaultConfig().ProfileFreshness
	}
	if cfg.StatementFreshness <= 0 {
		cfg.StatementFreshness = DefaultConfig().StatementFreshness
	}

	s := &Service{
		origin:       origin,
		profileStore: profileStore,
		clk:          clock.New(),
		logger:       log.With().Str("component", "registry").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.batcher = coalesce.New(origin.FetchBatch, cfg.Coalesce, coalesce.WithClock(s.clk))
	s.profiles = mirror.New(profileStore, cfg.ProfileFreshness, "profile", mirror.WithClock[upstream.Profile](s.clk))
	s.statements = mirror.New(statementStore, cfg.StatementFreshness, "statement", mirror.WithClock[upstream.Statement](s.clk))
	s.planner = backfill.New(statementStore, s.fetchStatement, cfg.Backfill, backfill.WithClock(s.clk))
	return s
}

// Profile returns the entity's profile, served from the mirror when fresh.
// The provenance reports whether origin was consulted.
func (s *Service) Profile(ctx context.Context, id entity.ID) (*upstream.Profile, mirror.Provenance, error) {
	prof, prov, err := s.profiles.GetOrFetch(ctx, string(id), func(ctx context.Context, key string) (upstream.Profile, error) {
		p, err := s.batcher.Enqueue(ctx, id, s.clk.Now().Format("2006-01-02"))
		if err != nil {
			return upstream.Profile{}, err
		}
		return *p, nil
	})
	if err != nil {
		return nil, prov, err
	}

	// The batch endpoint omits the classification name. Freshly fetched
	// profiles borrow it from a recent statement, best effort.
	if prov != mirror.ProvenanceCache && prof.ClassificationName == "" {
		s.enrichClassification(ctx, &prof)
	}

	return &prof, prov, nil
}

// Statements returns the entity's statement history, backfilling missing
// years from origin.
func (s *Service) Statements(ctx context.Context, id entity.ID) (*backfill.Result, error) {
	prof, _, err := s.Profile(ctx, id)
	if err != nil {
		return nil, err
	}

	result, err := s.planner.Run(ctx, id, prof.RegistrationYear)
	if err != nil {
		return nil, err
	}

	if prof.ClassificationName == "" && result.ClassificationName != "" {
		prof.ClassificationName = result.ClassificationName
		if err := s.profileStore.Upsert(ctx, string(id), *prof); err != nil {
			s.logger.Warn().Err(err).Str("id", string(id)).Msg("Profile enrichment write failed")
		}
	}

	return result, nil
}

// Close shuts down the coalescer, flushing any queued lookups.
func (s *Service) Close() {
	s.batcher.Close()
}

// fetchStatement is the mirror-backed per-year statement lookup; accepted
// years are persisted as a side effect of the mirror write-through.
func (s *Service) fetchStatement(ctx context.Context, id entity.ID, year int) (*upstream.Statement, error) {
	stmt, _, err := s.statements.GetOrFetch(ctx, entity.StatementKey(id, year), func(ctx context.Context, key string) (upstream.Statement, error) {
		st, err := s.origin.FetchStatement(ctx, id, year)
		if err != nil {
			return upstream.Statement{}, err
		}
		return *st, nil
	})
	if err != nil {
		return nil, err
	}
	return &stmt, nil
}

// enrichClassification probes the most recent statement years for a
// classification name and patches the stored profile with the first hit.
// Failures are logged and swallowed; enrichment never fails a lookup.
func (s *Service) enrichClassification(ctx context.Context, prof *upstream.Profile) {
	currentYear := s.clk.Now().Year()
	for year := currentYear; year > currentYear-enrichmentYearScan; year-- {
		stmt, err := s.fetchStatement(ctx, prof.ID, year)
		if err != nil {
			s.logger.Debug().Err(err).Str("id", string(prof.ID)).Int("year", year).Msg("Enrichment probe failed")
			continue
		}
		if stmt.ClassificationName == "" {
			continue
		}

		prof.ClassificationName = stmt.ClassificationName
		if prof.ClassificationCode == "" {
			prof.ClassificationCode = stmt.ClassificationCode
		}
		if err := s.profileStore.Upsert(ctx, string(prof.ID), *prof); err != nil {
			s.logger.Warn().Err(err).Str("id", string(prof.ID)).Msg("Profile enrichment write failed")
		}
		return
	}
}
