//go:build integration
// +build integration

package db

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/apperr"
	_ "github.com/lib/pq"
)

// These tests need a scratch PostgreSQL database, for example:
// TEST_DATABASE_URL="host=localhost user=records password=records dbname=records_test sslmode=disable"
func setupPostgres(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}
	if err := conn.Ping(); err != nil {
		t.Fatalf("Failed to ping test database: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	if err := Migrate(context.Background(), conn, Postgres); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	return conn
}

func TestPostgres_MigrateTwice(t *testing.T) {
	conn := setupPostgres(t)
	if err := Migrate(context.Background(), conn, Postgres); err != nil {
		t.Fatalf("second Migrate failed: %v", err)
	}
}

func TestPostgres_UniqueViolation(t *testing.T) {
	conn := setupPostgres(t)
	ctx := context.Background()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("BeginTx failed: %v", err)
	}
	defer tx.Rollback()

	insert := `INSERT INTO users (username, password_hash, role, active, created_at) VALUES ($1, 'x', 'clinician', TRUE, $2)`
	if _, err := tx.ExecContext(ctx, insert, "integration-user", time.Now().UTC()); err != nil {
		t.Fatalf("first insert failed: %v", err)
	}
	_, err = tx.ExecContext(ctx, insert, "integration-user", time.Now().UTC())
	if err == nil {
		t.Fatal("expected unique violation")
	}

	var unique *apperr.UniquenessError
	if !errors.As(ClassifyError("create user", err), &unique) {
		t.Fatalf("expected UniquenessError, got %v", err)
	}
	if unique.Field != "username" {
		t.Errorf("expected field username, got %q", unique.Field)
	}
}
