package testutil

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/cryptostore"
	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/db"
	_ "github.com/mattn/go-sqlite3"
)

// SetupTestDB opens a migrated SQLite database in a fresh temp file. A file
// is used rather than :memory: so every pooled connection sees the same data.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "records_test.db")
	conn, err := sql.Open("sqlite3", db.SQLiteDSN(path))
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	if err := conn.Ping(); err != nil {
		t.Fatalf("Failed to ping test database: %v", err)
	}
	if err := db.Migrate(context.Background(), conn, db.SQLite); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}
	return conn
}

// NewCryptoStore returns a store with a throwaway key.
func NewCryptoStore(t *testing.T) *cryptostore.Store {
	t.Helper()

	key, err := cryptostore.GenerateKey()
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}
	store, err := cryptostore.New(key)
	if err != nil {
		t.Fatalf("Failed to build crypto store: %v", err)
	}
	return store
}

// SeedUser inserts an active user directly and returns its id. The password
// hash is a placeholder, so the user cannot log in.
func SeedUser(t *testing.T, conn *sql.DB, store *cryptostore.Store, username, fullName, role string) int64 {
	t.Helper()

	name, err := store.EncryptString(fullName)
	if err != nil {
		t.Fatalf("Failed to encrypt full name: %v", err)
	}

	var id int64
	err = conn.QueryRow(`
		INSERT INTO users (username, password_hash, full_name, role, active, created_at)
		VALUES ($1, $2, $3, $4, TRUE, $5)
		RETURNING id
	`, username, "!", name, role, time.Now().UTC()).Scan(&id)
	if err != nil {
		t.Fatalf("Failed to seed user %s: %v", username, err)
	}
	return id
}

// CountRows returns the number of rows in table matching the optional
// where clause.
func CountRows(t *testing.T, conn *sql.DB, table, where string, args ...any) int {
	t.Helper()

	query := "SELECT COUNT(*) FROM " + table
	if where != "" {
		query += " WHERE " + where
	}
	var n int
	if err := conn.QueryRow(query, args...).Scan(&n); err != nil {
		t.Fatalf("Failed to count %s: %v", table, err)
	}
	return n
}
