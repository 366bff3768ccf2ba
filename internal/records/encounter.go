package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/apperr"
	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/audit"
	"github.com/hengadev/errsx"
)

// UpdateIntakeAndHistory overwrites the patient's history and the
// encounter's intake, and upserts the encounter's physical exam when one is
// given. The encounter must belong to the patient.
func (r *Repository) UpdateIntakeAndHistory(ctx context.Context, encounterID, patientID int64, in IntakeUpdate, actorID int64) error {
	if in.Exam != nil {
		var errs errsx.Map
		in.Exam.validate(&errs, "exam")
		if err := apperr.Invalid(errs); err != nil {
			return err
		}
	}
	now := r.now()

	return r.inTx(ctx, "update intake and history", func(tx *sql.Tx) error {
		if err := belongsToPatient(ctx, tx, "encounter", `SELECT patient_id FROM encounters WHERE id = $1`, encounterID, patientID); err != nil {
			return err
		}

		s := r.sealer("patients")
		history := append(in.History.columns(s), stamp(now, actorID)...)
		intake := append(in.Intake.columns(s), stamp(now, actorID)...)
		if err := s.Err(); err != nil {
			return err
		}

		query, args := updateStatement("patients", history, "id", patientID)
		if err := execUpdate(ctx, tx, "patient", query, args, patientID); err != nil {
			return err
		}
		query, args = updateStatement("encounters", intake, "id", encounterID)
		if err := execUpdate(ctx, tx, "encounter", query, args, encounterID); err != nil {
			return err
		}

		examInserted := false
		if in.Exam != nil {
			var err error
			examInserted, err = r.upsertExam(ctx, tx, encounterID, *in.Exam)
			if err != nil {
				return err
			}
		}

		return r.recorder.Record(ctx, tx, audit.Entry{
			ActorID:     audit.Actor(actorID),
			Action:      audit.ActionUpdateIntakeAndHistory,
			Description: fmt.Sprintf("Updated history and intake of encounter %d", encounterID),
			Table:       audit.TableEncounters,
			RowID:       encounterID,
			Details: map[string]any{
				"patient_id":    patientID,
				"encounter_id":  encounterID,
				"exam_inserted": examInserted,
			},
		})
	})
}

// upsertExam updates the exam of encounterID or inserts one when the
// encounter has none yet. It reports whether a row was inserted.
func (r *Repository) upsertExam(ctx context.Context, tx *sql.Tx, encounterID int64, exam PhysicalExam) (bool, error) {
	s := r.sealer("physical_exams")
	cols := exam.columns(s)
	if err := s.Err(); err != nil {
		return false, err
	}

	query, args := updateStatement("physical_exams", cols, "encounter_id", encounterID)
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to update physical exam: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to update physical exam: %w", err)
	}
	if n > 0 {
		return false, nil
	}
	if err := r.insertExam(ctx, tx, encounterID, exam, r.now()); err != nil {
		return false, err
	}
	return true, nil
}

// OpenEncounter starts a new encounter for an existing patient. A patient
// has at most one open encounter at a time.
func (r *Repository) OpenEncounter(ctx context.Context, patientID int64, in EncounterInput, actorID int64) (int64, error) {
	if in.Exam != nil {
		var errs errsx.Map
		in.Exam.validate(&errs, "exam")
		if err := apperr.Invalid(errs); err != nil {
			return 0, err
		}
	}
	now := r.now()

	var encounterID int64
	err := r.inTx(ctx, "open encounter", func(tx *sql.Tx) error {
		if err := patientExists(ctx, tx, patientID); err != nil {
			return err
		}

		var open int64
		err := tx.QueryRowContext(ctx, `SELECT id FROM encounters WHERE patient_id = $1 AND discharged_at IS NULL`, patientID).Scan(&open)
		switch {
		case err == nil:
			return apperr.InvalidField("encounter", fmt.Sprintf("patient already has open encounter %d, close it first", open))
		case !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("failed to check open encounters: %w", err)
		}

		encounterID, err = r.insertEncounter(ctx, tx, patientID, in.Intake, in.Exam, actorID, now)
		if err != nil {
			return err
		}

		return r.recorder.Record(ctx, tx, audit.Entry{
			ActorID:     audit.Actor(actorID),
			Action:      audit.ActionOpenEncounter,
			Description: fmt.Sprintf("Opened encounter %d", encounterID),
			Table:       audit.TableEncounters,
			RowID:       encounterID,
			Details:     map[string]any{"patient_id": patientID, "encounter_id": encounterID},
		})
	})
	if err != nil {
		return 0, err
	}
	return encounterID, nil
}

// CloseEncounter discharges an open encounter.
func (r *Repository) CloseEncounter(ctx context.Context, encounterID int64, actorID int64) error {
	now := r.now()
	return r.inTx(ctx, "close encounter", func(tx *sql.Tx) error {
		var (
			patientID  int64
			discharged sql.NullTime
		)
		err := tx.QueryRowContext(ctx, `SELECT patient_id, discharged_at FROM encounters WHERE id = $1`, encounterID).Scan(&patientID, &discharged)
		if errors.Is(err, sql.ErrNoRows) {
			return &apperr.NotFoundError{Entity: "encounter", ID: encounterID}
		}
		if err != nil {
			return fmt.Errorf("failed to load encounter: %w", err)
		}
		if discharged.Valid {
			return apperr.InvalidField("encounter", "encounter is already closed")
		}

		cols := append([]column{{"discharged_at", now}, {"discharged_by", actorID}}, stamp(now, actorID)...)
		query, args := updateStatement("encounters", cols, "id", encounterID)
		if err := execUpdate(ctx, tx, "encounter", query, args, encounterID); err != nil {
			return err
		}

		return r.recorder.Record(ctx, tx, audit.Entry{
			ActorID:     audit.Actor(actorID),
			Action:      audit.ActionCloseEncounter,
			Description: fmt.Sprintf("Closed encounter %d", encounterID),
			Table:       audit.TableEncounters,
			RowID:       encounterID,
			Details:     map[string]any{"patient_id": patientID, "encounter_id": encounterID},
		})
	})
}
