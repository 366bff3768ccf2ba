package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/apperr"
	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/db"
	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/cryptostore"
	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/pagination"
	"go.uber.org/zap"
)

// TimeLayout is the display format for entry timestamps.
const TimeLayout = "02/01/2006 03:04:05 PM"

// Filters narrows a log query. Zero values are ignored.
type Filters struct {
	ActorID *int64
	Action  string
	From    *time.Time
	To      *time.Time
	Search  string
}

// LogEntry is an audit row prepared for display.
type LogEntry struct {
	ID            int64          `json:"id"`
	OccurredAt    time.Time      `json:"occurred_at"`
	FormattedTime string         `json:"formatted_time"`
	ActorID       *int64         `json:"actor_id"`
	ActorUsername string         `json:"actor_username,omitempty"`
	ActorName     string         `json:"actor_name"`
	Action        Action         `json:"action"`
	Table         string         `json:"table,omitempty"`
	RowID         *int64         `json:"row_id,omitempty"`
	Description   string         `json:"description"`
	Details       map[string]any `json:"details,omitempty"`
	Summary       string         `json:"summary"`
}

// Page is one page of log entries.
type Page struct {
	Entries []LogEntry      `json:"entries"`
	Meta    pagination.Meta `json:"meta"`
}

// Service reads the audit log.
type Service struct {
	db     *sql.DB
	crypto *cryptostore.Store
	logger *zap.Logger
}

func NewService(conn *sql.DB, crypto *cryptostore.Store, logger *zap.Logger) *Service {
	return &Service{db: conn, crypto: crypto, logger: logger}
}

// whereBuilder numbers placeholders in order of appearance so the same
// statement is valid for both dialects.
type whereBuilder struct {
	clauses []string
	args    []any
}

func (w *whereBuilder) add(clause string, args ...any) {
	for _, a := range args {
		w.args = append(w.args, a)
		clause = strings.Replace(clause, "?", fmt.Sprintf("$%d", len(w.args)), 1)
	}
	w.clauses = append(w.clauses, clause)
}

func (w *whereBuilder) next() string {
	return fmt.Sprintf("$%d", len(w.args)+1)
}

func (w *whereBuilder) sql() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

func buildFilters(f Filters) *whereBuilder {
	w := &whereBuilder{}
	if f.ActorID != nil {
		w.add("a.actor_id = ?", *f.ActorID)
	}
	if action := strings.TrimSpace(f.Action); action != "" {
		w.add("LOWER(a.action) LIKE ?"+db.LikeEscape, db.ContainsPattern(strings.ToLower(action)))
	}
	if f.From != nil {
		from := startOfDay(*f.From)
		w.add("a.occurred_at >= ?", from)
	}
	if f.To != nil {
		until := startOfDay(*f.To).AddDate(0, 0, 1)
		w.add("a.occurred_at < ?", until)
	}
	if search := strings.TrimSpace(f.Search); search != "" {
		pattern := db.ContainsPattern(strings.ToLower(search))
		w.add("(LOWER(a.description) LIKE ?"+db.LikeEscape+" OR LOWER(u.username) LIKE ?"+db.LikeEscape+")", pattern, pattern)
	}
	return w
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

const selectEntries = `
	SELECT a.id, a.occurred_at, a.actor_id, u.username, u.full_name,
	       a.action, a.table_name, a.row_id, a.description, a.details
	FROM audit_log a
	LEFT JOIN users u ON u.id = a.actor_id`

// Query returns one page of entries, newest first, with the total count of
// matching rows.
func (s *Service) Query(ctx context.Context, params pagination.Params, filters Filters) (*Page, error) {
	params.Normalize()
	w := buildFilters(filters)

	var total int
	countQuery := `SELECT COUNT(*) FROM audit_log a LEFT JOIN users u ON u.id = a.actor_id` + w.sql()
	if err := s.db.QueryRowContext(ctx, countQuery, w.args...).Scan(&total); err != nil {
		return nil, apperr.Database("count audit entries", err)
	}

	limit := w.next()
	w.args = append(w.args, params.PageSize)
	offset := w.next()
	w.args = append(w.args, params.Offset())

	query := selectEntries + w.sql() +
		" ORDER BY a.occurred_at DESC, a.id DESC LIMIT " + limit + " OFFSET " + offset

	entries, err := s.load(ctx, query, w.args)
	if err != nil {
		return nil, err
	}
	return &Page{Entries: entries, Meta: params.Meta(total)}, nil
}

func (s *Service) load(ctx context.Context, query string, args []any) ([]LogEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.Database("query audit entries", err)
	}
	defer rows.Close()

	entries := []LogEntry{}
	for rows.Next() {
		var (
			e        LogEntry
			actorID  sql.NullInt64
			username sql.NullString
			fullName []byte
			table    sql.NullString
			rowID    sql.NullInt64
			details  sql.NullString
			action   string
		)
		if err := rows.Scan(&e.ID, &e.OccurredAt, &actorID, &username, &fullName,
			&action, &table, &rowID, &e.Description, &details); err != nil {
			return nil, apperr.Database("scan audit entry", err)
		}

		e.Action = Action(action)
		e.OccurredAt = e.OccurredAt.UTC()
		e.FormattedTime = e.OccurredAt.Format(TimeLayout)
		if actorID.Valid {
			id := actorID.Int64
			e.ActorID = &id
		}
		e.ActorUsername = username.String
		e.ActorName = s.crypto.Decrypt(fullName).Or(username.String)
		if e.ActorName == "" {
			e.ActorName = "System/N/A"
		}
		e.Table = table.String
		if rowID.Valid {
			id := rowID.Int64
			e.RowID = &id
		}
		if details.Valid && details.String != "" {
			if err := json.Unmarshal([]byte(details.String), &e.Details); err != nil {
				s.logger.Warn("audit entry has unreadable details", zap.Int64("entry_id", e.ID), zap.Error(err))
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Database("iterate audit entries", err)
	}

	s.enrich(ctx, entries)
	return entries, nil
}
