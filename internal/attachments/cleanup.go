package attachments

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/cryptostore"
	"go.uber.org/zap"
)

// DefaultGracePeriod protects files written by a transaction that has not
// committed yet.
const DefaultGracePeriod = 24 * time.Hour

// CleanupService removes attachment files no complementary row references.
// Such orphans appear when a best-effort delete after commit fails.
type CleanupService struct {
	db     *sql.DB
	crypto *cryptostore.Store
	files  *Store
	grace  time.Duration
	logger *zap.Logger
	now    func() time.Time
}

func NewCleanupService(db *sql.DB, crypto *cryptostore.Store, files *Store, grace time.Duration, logger *zap.Logger) *CleanupService {
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	return &CleanupService{db: db, crypto: crypto, files: files, grace: grace, logger: logger, now: time.Now}
}

// referenced returns the decrypted relative paths of every stored
// attachment. A path that fails to decrypt makes the sweep unsafe, so it
// aborts.
func (s *CleanupService) referenced(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, attachment_path FROM complementaries WHERE attachment_path IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("failed to query attachment paths: %w", err)
	}
	defer rows.Close()

	refs := map[string]bool{}
	for rows.Next() {
		var (
			id  int64
			raw []byte
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan attachment path: %w", err)
		}
		f := s.crypto.Decrypt(raw)
		if f.Corrupt() {
			return nil, fmt.Errorf("attachment path of complementary %d could not be decrypted: %w", id, f.Err)
		}
		if f.Valid() {
			refs[filepath.Clean(filepath.FromSlash(f.Value))] = true
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating attachment paths: %w", err)
	}
	return refs, nil
}

// Orphans lists unreferenced files older than the grace period.
func (s *CleanupService) Orphans(ctx context.Context) ([]string, error) {
	refs, err := s.referenced(ctx)
	if err != nil {
		return nil, err
	}

	base := filepath.Join(s.files.Root(), "complementaries")
	cutoff := s.now().Add(-s.grace)

	var orphans []string
	err = filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && p == base {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.ModTime().After(cutoff) {
			return nil
		}
		rel, err := filepath.Rel(s.files.Root(), p)
		if err != nil {
			return err
		}
		if !refs[filepath.Clean(rel)] {
			orphans = append(orphans, filepath.ToSlash(rel))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan attachment directory: %w", err)
	}
	return orphans, nil
}

// CleanupOrphans deletes every orphan and returns how many were removed.
// Individual failures are logged and skipped.
func (s *CleanupService) CleanupOrphans(ctx context.Context) (int, error) {
	orphans, err := s.Orphans(ctx)
	if err != nil {
		return 0, err
	}
	if len(orphans) == 0 {
		s.logger.Info("no orphaned attachments found")
		return 0, nil
	}

	s.logger.Info("removing orphaned attachments", zap.Int("count", len(orphans)))
	removed := 0
	for _, rel := range orphans {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if err := s.files.Remove(rel); err != nil {
			s.logger.Warn("failed to remove orphaned attachment", zap.String("path", rel), zap.Error(err))
			continue
		}
		removed++
	}
	s.logger.Info("orphan cleanup finished", zap.Int("removed", removed), zap.Int("found", len(orphans)))
	return removed, nil
}
