package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/apperr"
	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/audit"
	"github.com/hengadev/errsx"
	"go.uber.org/zap"
)

// CreatePatient registers a patient together with the initial encounter
// and its physical exam. The chart number comes from the counter row, so
// concurrent registrations never share one.
func (r *Repository) CreatePatient(ctx context.Context, in NewPatient, actorID int64) (*CreatedPatient, error) {
	in.Demographics = in.Demographics.normalize()
	now := r.now()

	var errs errsx.Map
	in.Demographics.validate(&errs, now)
	in.Exam.validate(&errs, "exam")
	if err := apperr.Invalid(errs); err != nil {
		return nil, err
	}

	created := &CreatedPatient{}
	err := r.inTx(ctx, "create patient", func(tx *sql.Tx) error {
		var seq int64
		err := tx.QueryRowContext(ctx, `UPDATE counters SET value = value + 1 WHERE name = $1 RETURNING value`, chartCounter).Scan(&seq)
		if err != nil {
			return fmt.Errorf("failed to allocate chart number: %w", err)
		}
		created.ChartNumber = FormatChartNumber(seq)

		s := r.sealer("patients")
		cols := []column{{"chart_number", created.ChartNumber}}
		cols = append(cols, in.Demographics.columns(s)...)
		cols = append(cols, in.History.columns(s)...)
		cols = append(cols, column{"registered_at", now}, column{"registered_by", actorID})
		if err := s.Err(); err != nil {
			return err
		}

		query, args := insertStatement("patients", cols, "id")
		if err := tx.QueryRowContext(ctx, query, args...).Scan(&created.ID); err != nil {
			return fmt.Errorf("failed to insert patient: %w", err)
		}

		created.EncounterID, err = r.insertEncounter(ctx, tx, created.ID, in.Intake, &in.Exam, actorID, now)
		if err != nil {
			return err
		}

		return r.recorder.Record(ctx, tx, audit.Entry{
			ActorID:     audit.Actor(actorID),
			Action:      audit.ActionCreatePatient,
			Description: fmt.Sprintf("Registered patient %s with initial encounter %d", created.ChartNumber, created.EncounterID),
			Table:       audit.TablePatients,
			RowID:       created.ID,
			Details: map[string]any{
				"chart_number": created.ChartNumber,
				"encounter_id": created.EncounterID,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// insertEncounter opens an encounter and, when exam is non-nil, records its
// physical exam.
func (r *Repository) insertEncounter(ctx context.Context, tx *sql.Tx, patientID int64, intake Intake, exam *PhysicalExam, actorID int64, now time.Time) (int64, error) {
	s := r.sealer("encounters")
	cols := []column{
		{"patient_id", patientID},
		{"admitted_at", now},
		{"admitted_by", actorID},
	}
	cols = append(cols, intake.columns(s)...)
	if err := s.Err(); err != nil {
		return 0, err
	}

	var encounterID int64
	query, args := insertStatement("encounters", cols, "id")
	if err := tx.QueryRowContext(ctx, query, args...).Scan(&encounterID); err != nil {
		return 0, fmt.Errorf("failed to insert encounter: %w", err)
	}

	if exam != nil {
		if err := r.insertExam(ctx, tx, encounterID, *exam, now); err != nil {
			return 0, err
		}
	}
	return encounterID, nil
}

func (r *Repository) insertExam(ctx context.Context, tx *sql.Tx, encounterID int64, exam PhysicalExam, now time.Time) error {
	s := r.sealer("physical_exams")
	cols := []column{{"encounter_id", encounterID}, {"recorded_at", now}}
	cols = append(cols, exam.columns(s)...)
	if err := s.Err(); err != nil {
		return err
	}
	query, args := insertStatement("physical_exams", cols, "")
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert physical exam: %w", err)
	}
	return nil
}

// UpdatePatientDemographics overwrites the identifying fields. History is
// left alone. The audit entry names the fields whose value changed.
func (r *Repository) UpdatePatientDemographics(ctx context.Context, patientID int64, d Demographics, actorID int64) error {
	d = d.normalize()
	now := r.now()

	var errs errsx.Map
	d.validate(&errs, now)
	if err := apperr.Invalid(errs); err != nil {
		return err
	}

	return r.inTx(ctx, "update patient demographics", func(tx *sql.Tx) error {
		changed, err := r.changedDemographics(ctx, tx, patientID, d)
		if err != nil {
			return err
		}

		s := r.sealer("patients")
		cols := append(d.columns(s), stamp(now, actorID)...)
		if err := s.Err(); err != nil {
			return err
		}
		query, args := updateStatement("patients", cols, "id", patientID)
		if err := execUpdate(ctx, tx, "patient", query, args, patientID); err != nil {
			return err
		}

		description := "Updated patient demographics (no changes)"
		if len(changed) > 0 {
			description = fmt.Sprintf("Updated patient demographics: %d field(s) changed", len(changed))
		}
		return r.recorder.Record(ctx, tx, audit.Entry{
			ActorID:     audit.Actor(actorID),
			Action:      audit.ActionUpdatePatientDemographics,
			Description: description,
			Table:       audit.TablePatients,
			RowID:       patientID,
			Details:     map[string]any{"fields": changed},
		})
	})
}

// changedDemographics compares d with the stored row. A stored value that
// no longer decrypts counts as changed since the update overwrites it.
func (r *Repository) changedDemographics(ctx context.Context, tx *sql.Tx, patientID int64, d Demographics) ([]string, error) {
	fields := d.secure()
	query := "SELECT sex, birth_date"
	for _, f := range fields {
		query += ", " + f.name
	}
	query += " FROM patients WHERE id = $1"

	var (
		sex   sql.NullString
		birth sql.NullTime
	)
	raws := make([][]byte, len(fields))
	dest := []any{&sex, &birth}
	for i := range raws {
		dest = append(dest, &raws[i])
	}
	err := tx.QueryRowContext(ctx, query, patientID).Scan(dest...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &apperr.NotFoundError{Entity: "patient", ID: patientID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load patient: %w", err)
	}

	changed := []string{}
	for i, f := range fields {
		current := r.crypto.Decrypt(raws[i])
		if current.Corrupt() || current.Value != f.value {
			changed = append(changed, f.name)
		}
	}
	if sex.String != string(d.Sex) {
		changed = append(changed, "sex")
	}
	storedBirth := ""
	if birth.Valid {
		storedBirth = birth.Time.Format(DateLayout)
	}
	if storedBirth != d.BirthDate {
		changed = append(changed, "birth_date")
	}
	return changed, nil
}

// DeletePatient removes the patient and, through cascades, every record
// hanging off it. Attachment files are deleted after commit. Audit entries
// that mention the patient are kept.
func (r *Repository) DeletePatient(ctx context.Context, patientID int64, actorID int64) error {
	var files []string
	err := r.inTx(ctx, "delete patient", func(tx *sql.Tx) error {
		var chart string
		err := tx.QueryRowContext(ctx, `SELECT chart_number FROM patients WHERE id = $1`, patientID).Scan(&chart)
		if errors.Is(err, sql.ErrNoRows) {
			return &apperr.NotFoundError{Entity: "patient", ID: patientID}
		}
		if err != nil {
			return fmt.Errorf("failed to load patient: %w", err)
		}

		files, err = r.attachmentPaths(ctx, tx, patientID)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM patients WHERE id = $1`, patientID); err != nil {
			return fmt.Errorf("failed to delete patient: %w", err)
		}

		return r.recorder.Record(ctx, tx, audit.Entry{
			ActorID:     audit.Actor(actorID),
			Action:      audit.ActionDeletePatient,
			Description: "Deleted patient " + chart,
			Table:       audit.TablePatients,
			RowID:       patientID,
			Details:     map[string]any{"chart_number": chart, "attachments": len(files)},
		})
	})
	if err != nil {
		return err
	}

	for _, rel := range files {
		r.files.RemoveQuietly(rel)
	}
	return nil
}

func (r *Repository) attachmentPaths(ctx context.Context, tx *sql.Tx, patientID int64) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id, attachment_path FROM complementaries WHERE patient_id = $1 AND attachment_path IS NOT NULL`, patientID)
	if err != nil {
		return nil, fmt.Errorf("failed to query attachments: %w", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var (
			id  int64
			raw []byte
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan attachment: %w", err)
		}
		f := r.crypto.Decrypt(raw)
		if !f.Valid() {
			// Left for the orphan sweeper.
			r.logger.Warn("attachment path could not be decrypted",
				zap.Int64("complementary_id", id), zap.Error(f.Err))
			continue
		}
		paths = append(paths, f.Value)
	}
	return paths, rows.Err()
}
