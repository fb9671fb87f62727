package integration

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/eranova-digital/datacore/internal/testutil"
	"github.com/eranova-digital/datacore/pkg/backfill"
	"github.com/eranova-digital/datacore/pkg/coalesce"
	"github.com/eranova-digital/datacore/pkg/mirror"
	"github.com/eranova-digital/datacore/pkg/registry"
	"github.com/eranova-digital/datacore/pkg/store"
	"github.com/eranova-digital/datacore/pkg/upstream"
)

// setupRedis creates a Redis container for integration testing.
func setupRedis(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: host + ":" + port.Port(),
	})

	cleanup := func() {
		redisClient.Close()
		container.Terminate(ctx)
	}

	return redisClient, cleanup
}

// newService wires a Redis-backed service against the mock registry.
func newService(t *testing.T, redisClient *redis.Client, mock *testutil.MockRegistry) *registry.Service {
	t.Helper()

	client, err := upstream.New(upstream.Config{
		BaseURL:   mock.URL(),
		UserAgent: "datacore-integration-test/0.1.0",
		Timeout:   5 * time.Second,
	})
	if err != nil {
		t.Fatalf("Failed to create upstream client: %v", err)
	}

	cfg := registry.DefaultConfig()
	cfg.Coalesce = coalesce.Config{
		Wait:             10 * time.Millisecond,
		MaxBatchSize:     100,
		DispatchInterval: time.Millisecond,
	}
	cfg.Backfill = backfill.Config{MinSupportedYear: time.Now().Year() - 1, Pacing: 0}

	return registry.New(client,
		store.NewRedis[upstream.Profile](redisClient, "profile"),
		store.NewRedis[upstream.Statement](redisClient, "statement"),
		cfg,
	)
}

// TestFullLookupFlow walks the complete path: HTTP origin, coalescer, mirror
// write-through to Redis, then a second lookup served without origin calls.
func TestFullLookupFlow(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	year := time.Now().Year()
	mock := testutil.NewMockRegistry()
	defer mock.Close()

	mock.AddProfile(testutil.WireProfile{
		ID:               "123",
		Name:             "Acme SRL",
		RegistrationYear: year - 1,
	})
	mock.AddStatement("123", testutil.WireStatement{
		Year:               year,
		ClassificationCode: "6201",
		ClassificationName: "Software development",
		Indicators: []testutil.WireIndicator{
			{Label: "Net turnover", Value: 125000},
			{Label: "Average number of employees", Value: 4},
		},
	})
	mock.AddStatement("123", testutil.WireStatement{
		Year: year - 1,
		Indicators: []testutil.WireIndicator{
			{Label: "Net turnover", Value: 90000},
		},
	})

	svc := newService(t, redisClient, mock)
	defer svc.Close()

	ctx := context.Background()

	prof, prov, err := svc.Profile(ctx, "123")
	if err != nil {
		t.Fatalf("Profile failed: %v", err)
	}
	if prov != mirror.ProvenanceOriginNew {
		t.Errorf("provenance = %q, want %q", prov, mirror.ProvenanceOriginNew)
	}
	if prof.Name != "Acme SRL" {
		t.Errorf("name = %q", prof.Name)
	}
	// The batch response has no classification; enrichment pulled it from
	// the current-year statement.
	if prof.ClassificationName != "Software development" {
		t.Errorf("classification name = %q, want enriched", prof.ClassificationName)
	}

	result, err := svc.Statements(ctx, "123")
	if err != nil {
		t.Fatalf("Statements failed: %v", err)
	}
	if len(result.Statements) != 2 {
		t.Fatalf("statements = %d, want 2", len(result.Statements))
	}
	if result.Statements[0].Year != year || result.Statements[1].Year != year-1 {
		t.Errorf("unexpected year order: %d, %d", result.Statements[0].Year, result.Statements[1].Year)
	}
	if got := result.Statements[0].Indicators[upstream.IndicatorNetTurnover]; got != 125000 {
		t.Errorf("net turnover = %v, want 125000", got)
	}

	// Everything is mirrored in Redis now; repeat lookups must not reach
	// the origin again.
	mock.Reset()

	if _, prov, err = svc.Profile(ctx, "123"); err != nil {
		t.Fatalf("second Profile failed: %v", err)
	}
	if prov != mirror.ProvenanceCache {
		t.Errorf("second provenance = %q, want %q", prov, mirror.ProvenanceCache)
	}

	if _, err = svc.Statements(ctx, "123"); err != nil {
		t.Fatalf("second Statements failed: %v", err)
	}
	if mock.BatchCount != 0 || mock.StatementCount != 0 {
		t.Errorf("origin was consulted on mirrored lookups: batch=%d statement=%d",
			mock.BatchCount, mock.StatementCount)
	}
}

// TestMirrorSurvivesServiceRestart verifies the Redis mirror outlives the
// service instance that populated it.
func TestMirrorSurvivesServiceRestart(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockRegistry()
	defer mock.Close()
	mock.AddProfile(testutil.WireProfile{ID: "777", Name: "Phoenix SA", RegistrationYear: 2018})

	svc := newService(t, redisClient, mock)
	if _, _, err := svc.Profile(context.Background(), "777"); err != nil {
		t.Fatalf("Profile failed: %v", err)
	}
	svc.Close()

	mock.Reset()

	svc2 := newService(t, redisClient, mock)
	defer svc2.Close()

	prof, prov, err := svc2.Profile(context.Background(), "777")
	if err != nil {
		t.Fatalf("Profile after restart failed: %v", err)
	}
	if prov != mirror.ProvenanceCache {
		t.Errorf("provenance = %q, want %q after restart", prov, mirror.ProvenanceCache)
	}
	if prof.Name != "Phoenix SA" {
		t.Errorf("name = %q", prof.Name)
	}
	if mock.BatchCount != 0 {
		t.Errorf("origin consulted %d times after restart, want 0", mock.BatchCount)
	}
}
