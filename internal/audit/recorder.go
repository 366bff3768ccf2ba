// Package audit appends entries to the audit log inside the caller's
// transaction and reads them back with best-effort enrichment.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/apperr"
	"go.uber.org/zap"
)

// Entry is one audit record to append.
type Entry struct {
	// ActorID is nil when the acting user is unknown, e.g. a failed login.
	ActorID     *int64
	Action      Action
	Description string
	Table       string
	RowID       int64
	Details     map[string]any
}

// Actor returns a pointer to id for Entry.ActorID.
func Actor(id int64) *int64 {
	return &id
}

// Recorder writes entries. It never opens or commits a transaction itself.
type Recorder struct {
	logger *zap.Logger
	now    func() time.Time
}

func NewRecorder(logger *zap.Logger) *Recorder {
	return &Recorder{logger: logger, now: Now}
}

// Now is the clock used for every persisted timestamp: UTC at microsecond
// precision so values survive a round trip through either dialect.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// Record appends e within tx. A failure is logged and returned so the
// caller rolls the whole transaction back.
func (r *Recorder) Record(ctx context.Context, tx *sql.Tx, e Entry) error {
	var actor sql.NullInt64
	if e.ActorID != nil {
		actor = sql.NullInt64{Int64: *e.ActorID, Valid: true}
	}
	var table sql.NullString
	if e.Table != "" {
		table = sql.NullString{String: e.Table, Valid: true}
	}
	var row sql.NullInt64
	if e.RowID != 0 {
		row = sql.NullInt64{Int64: e.RowID, Valid: true}
	}
	var details sql.NullString
	if len(e.Details) > 0 {
		raw, err := json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("failed to encode audit details: %w", err)
		}
		details = sql.NullString{String: string(raw), Valid: true}
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO audit_log (occurred_at, actor_id, action, table_name, row_id, description, details)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, r.now(), actor, string(e.Action), table, row, e.Description, details)
	if err != nil {
		r.logger.Error("failed to record audit entry",
			zap.String("action", string(e.Action)),
			zap.String("table", e.Table),
			zap.Int64("row_id", e.RowID),
			zap.Error(err),
		)
		return &apperr.DatabaseError{Op: "record audit entry", Err: err}
	}
	return nil
}
