// Package testutil provides testing utilities shared across packages.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"
)

// WireIndicator is an indicator in the registry's wire form: a free-text
// label paired with a value.
type WireIndicator struct {
	Label string  `json:"label"`
	Value float64 `json:"value"`
}

// WireStatement is the registry's wire form of a yearly statement.
type WireStatement struct {
	Year               int             `json:"year"`
	ClassificationCode string          `json:"classification_code,omitempty"`
	ClassificationName string          `json:"classification_name,omitempty"`
	Indicators         []WireIndicator `json:"indicators"`
}

// WireProfile is the registry's wire form of an entity profile.
type WireProfile struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Address          string `json:"address,omitempty"`
	RegistrationDate string `json:"registration_date,omitempty"`
	RegistrationYear int    `json:"registration_year"`
	VATRegistered    bool   `json:"vat_registered"`
}

// MockRegistry is a configurable in-process stand-in for the registry data
// service. It serves the batch profile endpoint and the per-year statement
// endpoint from in-memory fixtures and counts the requests it receives.
type MockRegistry struct {
	server *httptest.Server

	mu         sync.RWMutex
	profiles   map[string]WireProfile
	statements map[string]WireStatement
	handlers   map[string]http.HandlerFunc
	delay      time.Duration

	// Request tracking, guarded by mu.
	BatchCount     int
	StatementCount int
	BatchSizes     []int
	LastUserAgent  string
}

// NewMockRegistry creates and starts a mock registry server.
func NewMockRegistry() *MockRegistry {
	mock := &MockRegistry{
		profiles:   make(map[string]WireProfile),
		statements: make(map[string]WireStatement),
		handlers:   make(map[string]http.HandlerFunc),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.RLock()
		handler, custom := mock.handlers[r.URL.Path]
		delay := mock.delay
		mock.mu.RUnlock()

		if delay > 0 {
			time.Sleep(delay)
		}

		mock.mu.Lock()
		mock.LastUserAgent = r.Header.Get("User-Agent")
		mock.mu.Unlock()

		if custom {
			handler(w, r)
			return
		}
		mock.route(w, r)
	}))

	return mock
}

// URL returns the mock server base URL.
func (m *MockRegistry) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockRegistry) Close() {
	m.server.Close()
}

// AddProfile registers a profile fixture under its canonical id.
func (m *MockRegistry) AddProfile(p WireProfile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[p.ID] = p
}

// AddStatement registers a statement fixture for an entity and year.
func (m *MockRegistry) AddStatement(id string, s WireStatement) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statements[statementKey(id, s.Year)] = s
}

// SetHandler overrides the handling of one exact path, for fault injection.
func (m *MockRegistry) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetDelay makes every response wait before being served.
func (m *MockRegistry) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// Reset clears tracking counters, keeping the fixtures.
func (m *MockRegistry) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.BatchCount = 0
	m.StatementCount = 0
	m.BatchSizes = nil
	m.LastUserAgent = ""
}

func (m *MockRegistry) route(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/api/v1/entities/batch":
		m.handleBatch(w, r)
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/api/v1/entities/"):
		m.handleStatement(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (m *MockRegistry) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Lookups []struct {
			ID   string `json:"id"`
			AsOf string `json:"as_of"`
		} `json:"lookups"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	m.mu.Lock()
	m.BatchCount++
	m.BatchSizes = append(m.BatchSizes, len(req.Lookups))
	m.mu.Unlock()

	resp := struct {
		Found    []WireProfile `json:"found"`
		NotFound []string      `json:"not_found"`
	}{Found: []WireProfile{}, NotFound: []string{}}

	m.mu.RLock()
	for _, l := range req.Lookups {
		if p, ok := m.profiles[l.ID]; ok {
			resp.Found = append(resp.Found, p)
		} else {
			resp.NotFound = append(resp.NotFound, l.ID)
		}
	}
	m.mu.RUnlock()

	writeJSON(w, http.StatusOK, resp)
}

// handleStatement serves /api/v1/entities/{id}/statements/{year}.
func (m *MockRegistry) handleStatement(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/v1/entities/"), "/")
	if len(parts) != 3 || parts[1] != "statements" {
		http.NotFound(w, r)
		return
	}
	year, err := strconv.Atoi(parts[2])
	if err != nil {
		http.Error(w, "bad year", http.StatusBadRequest)
		return
	}

	m.mu.Lock()
	m.StatementCount++
	m.mu.Unlock()

	m.mu.RLock()
	stmt, ok := m.statements[statementKey(parts[0], year)]
	m.mu.RUnlock()

	if !ok {
		http.Error(w, "no filing", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, stmt)
}

func statementKey(id string, year int) string {
	return fmt.Sprintf("%s:%d", id, year)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
