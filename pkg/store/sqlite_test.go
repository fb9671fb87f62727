package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"
)

func setupSQLite(t *testing.T) *sql.DB {
	t.Helper()

	db, err := OpenSQLite(filepath.Join(t.TempDir(), "mirror.db"))
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSQLite_GetAbsent(t *testing.T) {
	db := setupSQLite(t)
	s := NewSQLite[payload](db, "profile")

	rec, err := s.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec != nil {
		t.Errorf("Get absent key = %+v, want nil", rec)
	}
}

func TestSQLite_UpsertAndGet(t *testing.T) {
	db := setupSQLite(t)
	s := NewSQLite[payload](db, "profile")
	ctx := context.Background()

	before := time.Now()
	if err := s.Upsert(ctx, "123", payload{Name: "alpha", Value: 42}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	rec, err := s.Get(ctx, "123")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec == nil {
		t.Fatal("Get returned nil after Upsert")
	}
	if rec.Payload.Name != "alpha" || rec.Payload.Value != 42 {
		t.Errorf("unexpected payload: %+v", rec.Payload)
	}
	if rec.LastUpdated.Before(before.Add(-time.Second)) {
		t.Errorf("LastUpdated = %v, want around %v", rec.LastUpdated, before)
	}
}

func TestSQLite_UpsertReplaces(t *testing.T) {
	db := setupSQLite(t)
	s := NewSQLite[payload](db, "statement")
	ctx := context.Background()

	s.Upsert(ctx, "123:2024", payload{Name: "v1"})
	s.Upsert(ctx, "123:2024", payload{Name: "v2"})

	rec, err := s.Get(ctx, "123:2024")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec.Payload.Name != "v2" {
		t.Errorf("payload = %q, want v2", rec.Payload.Name)
	}

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM records`).Scan(&count); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Errorf("rows = %d, want exactly one record per key", count)
	}
}

func TestSQLite_KindsAreIsolated(t *testing.T) {
	db := setupSQLite(t)
	profiles := NewSQLite[payload](db, "profile")
	statements := NewSQLite[payload](db, "statement")
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
