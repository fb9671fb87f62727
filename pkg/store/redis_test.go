package store

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
)

// setupTestRedis connects to a local Redis for testing, skipping when none is
// available. Integration tests against a containerized Redis live under
// tests/integration.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available for testing: %v", err)
	}
	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test DB: %v", err)
	}

	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})

	return client
}

func TestRedis_GetAbsent(t *testing.T) {
	client := setupTestRedis(t)
	s := NewRedis[payload](client, "test:profile")

	rec, err := s.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec != nil {
		t.Errorf("Get absent key = %+v, want nil", rec)
	}
}

func TestRedis_UpsertAndGet(t *testing.T) {
	client := setupTestRedis(t)
	s := NewRedis[payload](client, "test:profile")
	ctx := context.Background()

	if err := s.Upsert(ctx, "123", payload{Name: "alpha", Value: 42}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	rec, err := s.Get(ctx, "123")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec == nil || rec.Payload.Name != "alpha" {
		t.Errorf("unexpected record: %+v", rec)
	}
	if rec.LastUpdated.IsZero() {
		t.Error("LastUpdated not stamped")
	}
}

func TestRedis_PrefixesAreIsolated(t *testing.T) {
	client := setupTestRedis(t)
	profiles := NewRedis[payload](client, "test:profile")
	statements := NewRedis[payload](client, "test:statement")
	ctx := context.Background()

	profiles.Upsert(ctx, "123", payload{Name: "profile-123"})

	rec, err := statements.Get(ctx, "123")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec != nil {
		t.Errorf("statement store sees profile record: %+v", rec)
	}
}

func TestRedis_NilClientPanics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("NewRedis should panic with nil client")
		}
	}()
	NewRedis[payload](nil, "test")
}
