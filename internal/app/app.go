// Package app assembles the service from configuration: storage, key
// material, identity bootstrap, messaging and the HTTP handler.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/attachments"
	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/audit"
	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/auth"
	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/config"
	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/cryptostore"
	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/db"
	httpserver "github.com/WailSalutem-Health-Care/clinical-records-service/internal/http"
	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/messaging"
	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/records"
	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/telemetry"
	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/users"
	"go.uber.org/zap"
)

// Options replaces infrastructure that would otherwise be built from
// configuration. Zero fields are built normally.
type Options struct {
	Publisher   messaging.PublisherInterface
	Revocations auth.RevocationStore
	Metrics     *telemetry.Metrics
}

// App is a fully wired service instance.
type App struct {
	DB          *sql.DB
	Crypto      *cryptostore.Store
	Files       *attachments.Store
	Verifier    *auth.Verifier
	Handler     http.Handler
	Permissions auth.Permissions

	logger  *zap.Logger
	closers []func() error
}

// New connects, migrates and unlocks the store, seeds the first
// administrator and wires every handler.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts Options) (*App, error) {
	a := &App{logger: logger}
	if err := a.build(ctx, cfg, opts); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, cfg *config.Config, opts Options) error {
	if cfg.Database.Driver == db.SQLite {
		if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o700); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	conn, err := db.Connect(ctx, cfg.Database, a.logger)
	if err != nil {
		return err
	}
	a.DB = conn
	a.closers = append(a.closers, conn.Close)

	if err := db.Migrate(ctx, conn, cfg.Database.Driver); err != nil {
		return err
	}

	store, err := OpenCryptoStore(ctx, conn, cfg.Crypto.KeyFile)
	if err != nil {
		return err
	}
	a.Crypto = store

	recorder := audit.NewRecorder(a.logger)
	userRepo := users.NewRepository(conn, store, recorder, a.logger, cfg.Auth.BcryptCost)
	created, err := userRepo.EnsureAdministrator(ctx, cfg.Bootstrap.AdminUsername, cfg.Bootstrap.AdminPassword, cfg.Bootstrap.AdminFullName)
	if err != nil {
		return fmt.Errorf("failed to bootstrap administrator: %w", err)
	}
	if created && cfg.Bootstrap.AdminPassword == config.Default().Bootstrap.AdminPassword {
		a.logger.Warn("initial administrator uses the default password; change it after first login",
			zap.String("username", cfg.Bootstrap.AdminUsername))
	}

	revocations := opts.Revocations
	if revocations == nil {
		revocations, err = a.revocationStore(ctx, cfg)
		if err != nil {
			return err
		}
	}
	authCfg, err := auth.NewConfig(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	if err != nil {
		return err
	}
	a.Verifier = auth.NewVerifier(authCfg, revocations).WithAccounts(userRepo)

	publisher := opts.Publisher
	if publisher == nil {
		publisher = a.publisher(cfg)
	}

	perms := auth.DefaultPermissions
	if cfg.Auth.PermissionsFile != "" {
		perms, err = auth.LoadPermissions(cfg.Auth.PermissionsFile)
		if err != nil {
			return err
		}
	}
	a.Permissions = perms

	metrics := opts.Metrics
	if metrics == nil {
		if metrics, err = telemetry.InitMetrics(); err != nil {
			a.logger.Warn("continuing without custom metrics", zap.Error(err))
			metrics = nil
		}
	}

	a.Files = attachments.NewStore(cfg.Attachments.Root, a.logger)

	recordRepo := records.NewRepository(conn, store, recorder, a.Files, a.logger)
	recordService := records.NewService(recordRepo, publisher, recorderOrNil(metrics), a.logger, cfg.ServiceName)
	userService := users.NewService(userRepo, a.Verifier, publisher, userMetricsOrNil(metrics), a.logger, cfg.ServiceName)

	a.Handler = httpserver.NewHandler(httpserver.Dependencies{
		ServiceName:    cfg.ServiceName,
		Records:        records.NewHandler(recordService, a.Files, a.logger),
		Users:          users.NewHandler(userService, a.logger),
		Audit:          audit.NewHandler(audit.NewService(conn, store, a.logger), a.logger),
		Verifier:       a.Verifier,
		Permissions:    perms,
		Metrics:        metrics,
		Logger:         a.logger,
		AllowedOrigins: cfg.AllowedOrigins,
	})
	return nil
}

// A nil *Metrics must reach the services as a nil interface.
func recorderOrNil(m *telemetry.Metrics) records.MetricsRecorder {
	if m == nil {
		return nil
	}
	return m
}

func userMetricsOrNil(m *telemetry.Metrics) users.MetricsRecorder {
	if m == nil {
		return nil
	}
	return m
}

func (a *App) revocationStore(ctx context.Context, cfg *config.Config) (auth.RevocationStore, error) {
	if cfg.Redis.Addr == "" {
		a.logger.Info("token revocations kept in memory")
		return auth.NewMemoryRevocations(), nil
	}
	client, err := auth.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, client.Close)
	a.logger.Info("token revocations kept in redis", zap.String("addr", cfg.Redis.Addr))
	return auth.NewRedisRevocations(client), nil
}

// publisher dials RabbitMQ when configured. A broker that cannot be reached
// degrades to dropping events.
func (a *App) publisher(cfg *config.Config) messaging.PublisherInterface {
	if cfg.RabbitMQ.URL == "" {
		a.logger.Info("event publishing disabled")
		return messaging.NopPublisher{}
	}
	pub, err := messaging.NewPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange, a.logger)
	if err != nil {
		a.logger.Warn("continuing without event publishing", zap.Error(err))
		return messaging.NopPublisher{}
	}
	a.closers = append(a.closers, pub.Close)
	return pub
}

// OpenCryptoStore loads the field key, creating it only for an empty store,
// and checks it against the stored canary.
func OpenCryptoStore(ctx context.Context, conn *sql.DB, keyFile string) (*cryptostore.Store, error) {
	populated, err := db.IsPopulated(ctx, conn)
	if err != nil {
		return nil, err
	}
	key, err := cryptostore.LoadOrCreateKey(keyFile, !populated)
	if err != nil {
		return nil, fmt.Errorf("failed to load encryption key: %w", err)
	}
	store, err := cryptostore.New(key)
	if err != nil {
		return nil, err
	}

	stored, err := db.Canary(ctx, conn)
	if err != nil {
		return nil, err
	}
	if err := store.VerifyCanary(stored); err != nil {
		if !errors.Is(err, cryptostore.ErrCanaryMissing) {
			return nil, err
		}
		canary, err := store.Canary()
		if err != nil {
			return nil, err
		}
		if err := db.SaveCanary(ctx, conn, canary); err != nil {
			return nil, err
		}
	}
	return store, nil
}

// OpenExistingCryptoStore opens the key of a store the service has already
// initialised. It never writes a key file or a canary, and fails when either
// is missing.
func OpenExistingCryptoStore(ctx context.Context, conn *sql.DB, keyFile string) (*cryptostore.Store, error) {
	key, err := cryptostore.LoadOrCreateKey(keyFile, false)
	if err != nil {
		return nil, fmt.Errorf("failed to load encryption key: %w", err)
	}
	store, err := cryptostore.New(key)
	if err != nil {
		return nil, err
	}
	stored, err := db.Canary(ctx, conn)
	if err != nil {
		return nil, err
	}
	if err := store.VerifyCanary(stored); err != nil {
		return nil, err
	}
	return store, nil
}

// Close releases every connection in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
