package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strconv"

	"github.com/XSAM/otelsql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.uber.org/zap"
)

// Dialect names the SQL backend in use.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite3"
)

// Config describes how to reach the database.
type Config struct {
	Driver       Dialect `yaml:"driver"`
	Host         string  `yaml:"host"`
	Port         string  `yaml:"port"`
	User         string  `yaml:"user"`
	Password     string  `yaml:"password"`
	Name         string  `yaml:"name"`
	SSLMode      string  `yaml:"sslmode"`
	Path         string  `yaml:"path"`
	MaxOpenConns int     `yaml:"max_open_conns"`
	MaxIdleConns int     `yaml:"max_idle_conns"`
}

// DSN builds the driver connection string for the configured dialect.
func (c Config) DSN() (string, error) {
	switch c.Driver {
	case Postgres:
		if c.Host == "" || c.User == "" || c.Name == "" {
			return "", fmt.Errorf("missing required database settings")
		}
		sslMode := c.SSLMode
		if sslMode == "" {
			sslMode = "disable"
		}
		port := c.Port
		if port == "" {
			port = "5432"
		}
		return fmt.Sprintf(
			"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s TimeZone=UTC",
			c.Host, port, c.User, c.Password, c.Name, sslMode,
		), nil
	case SQLite:
		if c.Path == "" {
			return "", fmt.Errorf("missing sqlite database path")
		}
		return SQLiteDSN(c.Path), nil
	}
	return "", fmt.Errorf("unsupported database driver %q", c.Driver)
}

// SQLiteDSN enables foreign keys and serializes writers on the file at path.
func SQLiteDSN(path string) string {
	q := url.Values{}
	q.Set("_foreign_keys", "on")
	q.Set("_busy_timeout", strconv.Itoa(5000))
	q.Set("_txlock", "immediate")
	return "file:" + path + "?" + q.Encode()
}

func (c Config) attributes() []attribute.KeyValue {
	if c.Driver == SQLite {
		return []attribute.KeyValue{semconv.DBSystemSqlite, semconv.DBName(c.Path)}
	}
	return []attribute.KeyValue{semconv.DBSystemPostgreSQL, semconv.DBName(c.Name)}
}

// Connect opens an instrumented connection pool and verifies it.
func Connect(ctx context.Context, cfg Config, logger *zap.Logger) (*sql.DB, error) {
	dsn, err := cfg.DSN()
	if err != nil {
		return nil, err
	}

	db, err := otelsql.Open(string(cfg.Driver), dsn, otelsql.WithAttributes(cfg.attributes()...))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := otelsql.RegisterDBStatsMetrics(db, otelsql.WithAttributes(cfg.attributes()...)); err != nil {
		logger.Warn("failed to register database stats metrics", zap.Error(err))
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	maxOpen, maxIdle := cfg.MaxOpenConns, cfg.MaxIdleConns
	if maxOpen == 0 {
		maxOpen = 25
	}
	if maxIdle == 0 {
		maxIdle = 5
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)

	logger.Info("connected to database",
		zap.String("driver", string(cfg.Driver)),
		zap.Int("max_open_conns", maxOpen),
	)
	return db, nil
}
