// Package records is the transactional store for patient charts. Every
// mutation writes its rows and exactly one audit entry in a single
// transaction.
package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/apperr"
	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/attachments"
	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/audit"
	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/cryptostore"
	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/db"
	"go.uber.org/zap"
)

const chartCounter = "chart_number"

// FormatChartNumber renders a counter value as a chart number, e.g. H-000042.
func FormatChartNumber(n int64) string {
	return fmt.Sprintf("H-%06d", n)
}

type Repository struct {
	db       *sql.DB
	crypto   *cryptostore.Store
	recorder *audit.Recorder
	files    *attachments.Store
	logger   *zap.Logger
	now      func() time.Time
}

func NewRepository(conn *sql.DB, crypto *cryptostore.Store, recorder *audit.Recorder, files *attachments.Store, logger *zap.Logger) *Repository {
	return &Repository{
		db:       conn,
		crypto:   crypto,
		recorder: recorder,
		files:    files,
		logger:   logger,
		now:      audit.Now,
	}
}

// inTx runs fn in one transaction and classifies whatever error comes out.
func (r *Repository) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return db.ClassifyError(op, fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return db.ClassifyError(op, err)
	}
	if err := tx.Commit(); err != nil {
		return db.ClassifyError(op, fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// sealer encrypts a run of column values and keeps the first failure, so
// column lists can be built without checking every call.
type sealer struct {
	crypto *cryptostore.Store
	table  string
	err    error
}

func (r *Repository) sealer(table string) *sealer {
	return &sealer{crypto: r.crypto, table: table}
}

// seal returns the ciphertext of v, or an untyped nil for the empty string
// so drivers bind SQL NULL.
func (s *sealer) seal(v string) any {
	if s.err != nil || v == "" {
		return nil
	}
	ct, err := s.crypto.EncryptString(v)
	if err != nil {
		s.err = err
		return nil
	}
	return ct
}

func (s *sealer) index(v string) any {
	return nullable(s.crypto.BlindIndex(v))
}

func (s *sealer) Err() error {
	if s.err == nil {
		return nil
	}
	return &apperr.CryptoError{Field: s.table, Err: s.err}
}

// column pairs a column name with the value bound to it.
type column struct {
	name  string
	value any
}

// plain is an encrypted column together with its new plaintext.
type plain struct {
	name  string
	value string
}

func sealAll(s *sealer, fields []plain) []column {
	cols := make([]column, len(fields))
	for i, f := range fields {
		cols[i] = column{f.name, s.seal(f.value)}
	}
	return cols
}

func insertStatement(table string, cols []column, returning string) (string, []any) {
	names := make([]string, len(cols))
	marks := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, c := range cols {
		names[i] = c.name
		marks[i] = fmt.Sprintf("$%d", i+1)
		args[i] = c.value
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(names, ", "), strings.Join(marks, ", "))
	if returning != "" {
		query += " RETURNING " + returning
	}
	return query, args
}

func updateStatement(table string, cols []column, keyColumn string, key int64) (string, []any) {
	sets := make([]string, len(cols))
	args := make([]any, 0, len(cols)+1)
	for i, c := range cols {
		sets[i] = fmt.Sprintf("%s = $%d", c.name, i+1)
		args = append(args, c.value)
	}
	args = append(args, key)
	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = $%d", table, strings.Join(sets, ", "), keyColumn, len(cols)+1)
	return query, args
}

// execUpdate runs an update and reports NotFoundError when no row matched.
func execUpdate(ctx context.Context, tx *sql.Tx, entity, query string, args []any, id int64) error {
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", entity, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", entity, err)
	}
	if n == 0 {
		return &apperr.NotFoundError{Entity: entity, ID: id}
	}
	return nil
}

func stamp(now time.Time, actorID int64) []column {
	return []column{{"updated_at", now}, {"updated_by", actorID}}
}

func patientExists(ctx context.Context, q queryer, patientID int64) error {
	var one int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM patients WHERE id = $1`, patientID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return &apperr.NotFoundError{Entity: "patient", ID: patientID}
	}
	if err != nil {
		return fmt.Errorf("failed to look up patient: %w", err)
	}
	return nil
}

// latestEncounter returns the encounter with the most recent admission,
// ties broken by id.
func latestEncounter(ctx context.Context, q queryer, patientID int64) (int64, error) {
	var id int64
	err := q.QueryRowContext(ctx, `
		SELECT id FROM encounters
		WHERE patient_id = $1
		ORDER BY admitted_at DESC, id DESC
		LIMIT 1
	`, patientID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, &apperr.NoActiveEncounterError{PatientID: patientID}
	}
	if err != nil {
		return 0, fmt.Errorf("failed to resolve latest encounter: %w", err)
	}
	return id, nil
}

// resolveEncounter validates a requested encounter against the patient, or
// falls back to the latest one.
func resolveEncounter(ctx context.Context, q queryer, patientID int64, requested *int64) (int64, error) {
	if requested == nil {
		return latestEncounter(ctx, q, patientID)
	}
	if err := belongsToPatient(ctx, q, "encounter", `SELECT patient_id FROM encounters WHERE id = $1`, *requested, patientID); err != nil {
		return 0, err
	}
	return *requested, nil
}

// optionalEncounter is resolveEncounter for records whose encounter link
// may stay empty.
func optionalEncounter(ctx context.Context, q queryer, patientID int64, requested *int64) (*int64, error) {
	id, err := resolveEncounter(ctx, q, patientID, requested)
	var noEnc *apperr.NoActiveEncounterError
	if errors.As(err, &noEnc) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &id, nil
}

// belongsToPatient runs query, which selects the owning patient id of one
// row, and fails with NotFoundError unless the owner is patientID.
func belongsToPatient(ctx context.Context, q queryer, entity, query string, id, patientID int64) error {
	owner, err := ownerOf(ctx, q, entity, query, id)
	if err != nil {
		return err
	}
	if owner != patientID {
		return &apperr.NotFoundError{Entity: entity, ID: id}
	}
	return nil
}

func ownerOf(ctx context.Context, q queryer, entity, query string, id int64) (int64, error) {
	var owner int64
	err := q.QueryRowContext(ctx, query, id).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, &apperr.NotFoundError{Entity: entity, ID: id}
	}
	if err != nil {
		return 0, fmt.Errorf("failed to look up %s: %w", entity, err)
	}
	return owner, nil
}

const (
	evolutionOwner = `SELECT e.patient_id FROM evolutions ev JOIN encounters e ON e.id = ev.encounter_id WHERE ev.id = $1`
	orderOwner     = `SELECT e.patient_id FROM medical_orders o JOIN encounters e ON e.id = o.encounter_id WHERE o.id = $1`
)

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return int64(*v)
}

func nullableID(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableTime(v *time.Time) any {
	if v == nil {
		return nil
	}
	return v.UTC().Truncate(time.Microsecond)
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

func idPtr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

func timePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time.UTC()
	return &t
}

// decryptor collects encrypted scan targets of one row and decrypts them
// into their destinations once the row is scanned.
type decryptor struct {
	crypto *cryptostore.Store
	raws   []*[]byte
	dests  []*cryptostore.Field
}

func (r *Repository) decryptor() *decryptor {
	return &decryptor{crypto: r.crypto}
}

func (d *decryptor) into(dst *cryptostore.Field) any {
	raw := new([]byte)
	d.raws = append(d.raws, raw)
	d.dests = append(d.dests, dst)
	return raw
}

func (d *decryptor) apply() {
	for i, raw := range d.raws {
		*d.dests[i] = d.crypto.Decrypt(*raw)
	}
	d.raws, d.dests = d.raws[:0], d.dests[:0]
}

// person is a LEFT JOINed users row rendered as a display name.
type person struct {
	username sql.NullString
	fullName []byte
}

func (p *person) dest() []any {
	return []any{&p.username, &p.fullName}
}

func (r *Repository) displayName(p person) string {
	if !p.username.Valid {
		return ""
	}
	return r.crypto.Decrypt(p.fullName).Or(p.username.String)
}
