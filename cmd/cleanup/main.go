package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/app"
	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/attachments"
	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/config"
	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/db"
	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/logger"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	dryRun := flag.Bool("dry-run", false, "list orphaned attachments without deleting them")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, cfg.ServiceName+"-cleanup")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("attachment cleanup starting",
		zap.String("root", cfg.Attachments.Root),
		zap.Duration("grace", cfg.Attachments.OrphanGrace),
		zap.Bool("dry_run", *dryRun))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	if err := sweep(ctx, cfg, log, *dryRun); err != nil {
		log.Fatal("cleanup failed", zap.Error(err))
	}
}

func sweep(ctx context.Context, cfg *config.Config, log *zap.Logger, dryRun bool) error {
	conn, err := db.Connect(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer conn.Close()

	// Attachment paths are stored encrypted. The key must already exist.
	store, err := app.OpenExistingCryptoStore(ctx, conn, cfg.Crypto.KeyFile)
	if err != nil {
		return err
	}

	files := attachments.NewStore(cfg.Attachments.Root, log)
	cleanup := attachments.NewCleanupService(conn, store, files, cfg.Attachments.OrphanGrace, log)

	if dryRun {
		orphans, err := cleanup.Orphans(ctx)
		if err != nil {
			return err
		}
		for _, p := range orphans {
			log.Info("orphaned attachment", zap.String("path", p))
		}
		log.Info("dry run finished", zap.Int("orphans", len(orphans)))
		return nil
	}

	removed, err := cleanup.CleanupOrphans(ctx)
	if err != nil {
		return err
	}
	log.Info("attachment cleanup finished", zap.Int("removed", removed))
	return nil
}
