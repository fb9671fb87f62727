package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/eranova-digital/datacore/pkg/backfill"
	"github.com/eranova-digital/datacore/pkg/entity"
	"github.com/eranova-digital/datacore/pkg/mirror"
	"github.com/eranova-digital/datacore/pkg/ratelimit"
	"github.com/eranova-digital/datacore/pkg/upstream"
)

// lookupService is the slice of the registry service the handlers use.
type lookupService interface {
	Profile(ctx context.Context, id entity.ID) (*upstream.Profile, mirror.Provenance, error)
	Statements(ctx context.Context, id entity.ID) (*backfill.Result, error)
}

// statementsResponse is the wire form of a statement history lookup.
type statementsResponse struct {
	EntityID           entity.ID            `json:"entity_id"`
	ClassificationName string               `json:"classification_name,omitempty"`
	Statements         []upstream.Statement `json:"statements"`
	FetchedYears       []int                `json:"fetched_years,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func newRouter(svc lookupService, limiter *ratelimit.Limiter) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(ratelimit.Middleware(limiter))
		r.Get("/v1/entities/{id}", profileHandler(svc))
		r.Get("/v1/entities/{id}/statements", statementsHandler(svc))
	})

	return r
}

func profileHandler(svc lookupService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := entity.Parse(chi.URLParam(r, "id"))
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid entity id")
			return
		}

		prof, prov, err := svc.Profile(r.Context(), id)
		if err != nil {
			respondLookupError(w, err)
			return
		}

		w.Header().Set("X-Provenance", string(prov))
		respondJSON(w, http.StatusOK, prof)
	}
}

func statementsHandler(svc lookupService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := entity.Parse(chi.URLParam(r, "id"))
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid entity id")
			return
		}

		result, err := svc.Statements(r.Context(), id)
		if err != nil {
			respondLookupError(w, err)
			return
		}

		respondJSON(w, http.StatusOK, statementsResponse{
			EntityID:           id,
			ClassificationName: result.ClassificationName,
			Statements:         result.Statements,
			FetchedYears:       result.FetchedYears,
		})
	}
}

// respondLookupError maps service errors to HTTP statuses. Anything that is
// not a confirmed not-found is an upstream problem from the consumer's view.
func respondLookupError(w http.ResponseWriter, err error) {
	if upstream.IsNotFound(err) {
		respondError(w, http.StatusNotFound, "entity not found")
		return
	}

	var upstreamErr *upstream.UpstreamError
	if errors.As(err, &upstreamErr) && upstreamErr.Class == upstream.ErrorClassRateLimit {
		respondError(w, http.StatusServiceUnavailable, "upstream rate limited, retry later")
		return
	}

	log.Error().Err(err).Msg("Lookup failed")
	respondError(w, http.StatusBadGateway, "upstream lookup failed")
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Response encoding failed")
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, errorResponse{Error: msg})
}
