package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/eranova-digital/datacore/pkg/entity"
)

// Prometheus metrics for upstream registry calls.
var (
	registryRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "registry_requests_total",
		Help: "Total registry requests by endpoint and status",
	}, []string{"endpoint", "status"})

	registryRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "registry_request_duration_seconds",
		Help:    "Registry request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"endpoint"})

	registryErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "registry_errors_total",
		Help: "Total registry errors by class",
	}, []string{"class"})
)

const (
	endpointBatch      = "batch"
	endpointStatements = "statements"
)

// Config holds the upstream client configuration.
type Config struct {
	// BaseURL of the registry service, without trailing slash.
	BaseURL string

	// User-Agent header sent with every request.
	UserAgent string

	// Timeout for a single HTTP request. This is the only timeout around an
	// upstream call; a hang inside it stalls the batch that issued it.
	Timeout time.Duration

	// Labels maps upstream free-text indicator labels to internal keys.
	// Defaults to DefaultLabelMap.
	Labels *LabelMap
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(baseURL, userAgent string) Config {
	return Config{
		BaseURL:   baseURL,
		UserAgent: userAgent,
		Timeout:   30 * time.Second,
		Labels:    DefaultLabelMap(),
	}
}

// Client is the registry HTTP client.
type Client struct {
	httpClient *http.Client
	config     Config
	labels     *LabelMap
	logger     zerolog.Logger
}

// New creates a new registry client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Labels == nil {
		cfg.Labels = DefaultLabelMap()
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		config: cfg,
		labels: cfg.Labels,
		logger: log.With().Str("component", "upstream-client").Logger(),
	}, nil
}

// FetchBatch performs one batched profile lookup against the registry.
// The returned BatchResult partitions the requested ids into Found and
// NotFound; the caller is responsible for detecting ids in neither set.
func (c *Client) FetchBatch(ctx context.Context, lookups []Lookup) (*BatchResult, error) {
	start := time.Now()
	defer func() {
		registryRequestDuration.WithLabelValues(endpointBatch).Observe(time.Since(start).Seconds())
	}()

	body, err := json.Marshal(struct {
		Lookups []Lookup `json:"lookups"`
	}{Lookups: lookups})
	if err != nil {
		return nil, fmt.Errorf("marshal batch request: %w", err)
	}

	url := c.config.BaseURL + "/api/v1/entities/batch"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create batch request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.setCommonHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		registryErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		registryRequestsTotal.WithLabelValues(endpointBatch, "network_error").Inc()
		c.logger.Error().Err(err).Int("lookups", len(lookups)).Msg("Batch request failed")
		return nil, &UpstreamError{Class: ErrorClassNetwork, Message: "batch request", Err: err}
	}
	defer resp.Body.Close()

	registryRequestsTotal.WithLabelValues(endpointBatch, fmt.Sprintf("%d", resp.StatusCode)).Inc()

	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError(endpointBatch, resp)
	}

	var result BatchResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		registryErrorsTotal.WithLabelValues(string(ErrorClassServer)).Inc()
		return nil, &UpstreamError{
			StatusCode: resp.StatusCode,
			Class:      ErrorClassServer,
			Message:    "decode batch response",
			Err:        err,
		}
	}

	c.logger.Debug().
		Int("lookups", len(lookups)).
		Int("found", len(result.Found)).
		Int("not_found", len(result.NotFound)).
		Msg("Batch lookup complete")

	return &result, nil
}

// rawStatement is the wire form of a yearly statement: indicators arrive as
// free-text labels and are translated through the allow-listed LabelMap.
type rawStatement struct {
	Year               int    `json:"year"`
	ClassificationCode string `json:"classification_code"`
	ClassificationName string `json:"classification_name"`
	Indicators         []struct {
		Label string  `json:"label"`
		Value float64 `json:"value"`
	} `json:"indicators"`
}

// FetchStatement fetches a single yearly statement. This endpoint is not
// batchable upstream; callers pace their own calls.
// Returns NotFoundError when the registry confirms no filing exists.
func (c *Client) FetchStatement(ctx context.Context, id entity.ID, year int) (*Statement, error) {
	start := time.Now()
	defer func() {
		registryRequestDuration.WithLabelValues(endpointStatements).Observe(time.Since(start).Seconds())
	}()

	url := fmt.Sprintf("%s/api/v1/entities/%s/statements/%d", c.config.BaseURL, id, year)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create statement request: %w", err)
	}
	c.setCommonHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		registryErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		registryRequestsTotal.WithLabelValues(endpointStatements, "network_error").Inc()
		return nil, &UpstreamError{Class: ErrorClassNetwork, Message: "statement request", Err: err}
	}
	defer resp.Body.Close()

	registryRequestsTotal.WithLabelValues(endpointStatements, fmt.Sprintf("%d", resp.StatusCode)).Inc()

	if resp.StatusCode == http.StatusNotFound {
		return nil, &NotFoundError{ID: id, Year: year}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError(endpointStatements, resp)
	}

	var raw rawStatement
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		registryErrorsTotal.WithLabelValues(string(ErrorClassServer)).Inc()
		return nil, &UpstreamError{
			StatusCode: resp.StatusCode,
			Class:      ErrorClassServer,
			Message:    "decode statement response",
			Err:        err,
		}
	}

	stmt := &Statement{
		EntityID:           id,
		Year:               raw.Year,
		ClassificationCode: raw.ClassificationCode,
		ClassificationName: raw.ClassificationName,
		Indicators:         make(map[string]float64, len(raw.Indicators)),
	}
	if stmt.Year == 0 {
		stmt.Year = year
	}
	for _, ind := range raw.Indicators {
		key, ok := c.labels.Resolve(ind.Label)
		if !ok {
			// Unknown labels are dropped, never guessed into a key.
			c.logger.Debug().
				Str("label", ind.Label).
				Int("year", year).
				Msg("Dropping unmapped indicator label")
			continue
		}
		stmt.Indicators[key] = ind.Value
	}

	return stmt, nil
}

// statusError reads a bounded error message from the response body and wraps
// the non-success status as an UpstreamError.
func (c *Client) statusError(endpoint string, resp *http.Response) error {
	class := classify(resp.StatusCode, nil)
	registryErrorsTotal.WithLabelValues(string(class)).Inc()

	msg := resp.Status
	if body, err := io.ReadAll(io.LimitReader(resp.Body, 512)); err == nil {
		if s := strings.TrimSpace(string(body)); s != "" {
			msg = s
		}
	}

	c.logger.Warn().
		Str("endpoint", endpoint).
		Int("status", resp.StatusCode).
		Str("error_class", string(class)).
		Msg("Registry request error")

	return &UpstreamError{
		StatusCode: resp.StatusCode,
		Class:      class,
		Message:    msg,
	}
}

func (c *Client) setCommonHeaders(req *http.Request) {
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}
