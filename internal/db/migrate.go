package db

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
)

//go:embed schema/*.sql
var schemaFS embed.FS

const canaryKey = "key_canary"

// Migrate applies the embedded schema for the dialect. Every statement is
// idempotent so it runs on every start.
func Migrate(ctx context.Context, db *sql.DB, dialect Dialect) error {
	file := "schema/postgres.sql"
	if dialect == SQLite {
		file = "schema/sqlite.sql"
	}
	raw, err := schemaFS.ReadFile(file)
	if err != nil {
		return fmt.Errorf("failed to read schema: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin migration: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range splitStatements(string(raw)) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement %q: %w", firstLine(stmt), err)
		}
	}
	return tx.Commit()
}

func splitStatements(script string) []string {
	var out []string
	for _, part := range strings.Split(script, ";") {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// IsPopulated reports whether the store already holds encrypted data,
// meaning a missing key must not be regenerated.
func IsPopulated(ctx context.Context, db *sql.DB) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM users)
		    OR EXISTS (SELECT 1 FROM patients)
		    OR EXISTS (SELECT 1 FROM store_meta WHERE key = $1)
	`, canaryKey).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to inspect store contents: %w", err)
	}
	return exists, nil
}

// Canary returns the stored key canary, or nil if none was written yet.
func Canary(ctx context.Context, db *sql.DB) ([]byte, error) {
	var value []byte
	err := db.QueryRowContext(ctx, `SELECT value FROM store_meta WHERE key = $1`, canaryKey).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read key canary: %w", err)
	}
	return value, nil
}

// SaveCanary stores the key canary once.
func SaveCanary(ctx context.Context, db *sql.DB, value []byte) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO store_meta (key, value) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		canaryKey, value,
	)
	if err != nil {
		return fmt.Errorf("failed to save key canary: %w", err)
	}
	return nil
}
