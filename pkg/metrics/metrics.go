// Package metrics documents the Prometheus metrics exposed by the service.
// Metrics are defined next to the code that drives them (upstream, coalesce,
// mirror, backfill, ratelimit) to keep the packages self-contained; this
// package holds the registry handle and the reference list.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the Prometheus registry used by all packages. Metrics register
// themselves through promauto against the default registerer.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Origin Request Metrics (pkg/upstream):
//   - registry_requests_total{endpoint, status} (Counter): Origin requests by endpoint and HTTP status
//   - registry_request_duration_seconds{endpoint} (Histogram): Origin request duration
//   - registry_errors_total{class} (Counter): Origin errors by class (client, server, rate_limit, network)
//
// Coalescer Metrics (pkg/coalesce):
//   - coalesce_flushes_total{trigger} (Counter): Queue flushes by trigger (timer, size, close)
//   - coalesce_batch_size (Histogram): Lookups per dispatched batch
//   - coalesce_dispatches_total{result} (Counter): Batch dispatches by result (ok, error)
//
// Mirror Metrics (pkg/mirror):
//   - mirror_lookups_total{kind, provenance} (Counter): Lookups by record kind and provenance
//   - mirror_fetch_errors_total{kind} (Counter): Origin fetch failures per record kind
//
// Backfill Metrics (pkg/backfill):
//   - backfill_runs_total (Counter): Backfill runs
//   - backfill_years_fetched_total (Counter): Accepted yearly statements
//   - backfill_years_skipped_total{reason} (Counter): Skipped years by reason (not_found, error, empty, empty_stop)
//
// Rate Limit Metrics (pkg/ratelimit):
//   - ratelimit_requests_total{outcome} (Counter): Checks by outcome (allowed, denied)
//   - ratelimit_tracked_clients (Gauge): Client windows currently tracked
//
// Example Prometheus Queries:
//
//   # Mirror Hit Rate
//   sum(rate(mirror_lookups_total{provenance="cache"}[5m])) /
//   sum(rate(mirror_lookups_total[5m]))
//
//   # Mean Coalesced Batch Size
//   rate(coalesce_batch_size_sum[5m]) / rate(coalesce_batch_size_count[5m])
//
//   # Origin Error Rate
//   rate(registry_errors_total[5m])
//
//   # P95 Origin Latency
//   histogram_quantile(0.95, rate(registry_request_duration_seconds_bucket[5m]))
//
//   # Denial Rate per Client Limit
//   rate(ratelimit_requests_total{outcome="denied"}[5m])
