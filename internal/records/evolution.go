package records

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/apperr"
	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/audit"
	"github.com/hengadev/errsx"
)

// AddEvolution records a progress note on the patient's latest encounter.
// It fails with NoActiveEncounterError when the patient has none.
func (r *Repository) AddEvolution(ctx context.Context, patientID int64, in EvolutionInput, actorID int64) (int64, error) {
	var errs errsx.Map
	in.validate(&errs)
	if err := apperr.Invalid(errs); err != nil {
		return 0, err
	}
	now := r.now()

	var evolutionID int64
	err := r.inTx(ctx, "add evolution", func(tx *sql.Tx) error {
		if err := patientExists(ctx, tx, patientID); err != nil {
			return err
		}
		encounterID, err := latestEncounter(ctx, tx, patientID)
		if err != nil {
			return err
		}

		s := r.sealer("evolutions")
		cols := []column{{"encounter_id", encounterID}, {"author_id", actorID}, {"recorded_at", now}}
		cols = append(cols, in.columns(s)...)
		if err := s.Err(); err != nil {
			return err
		}
		query, args := insertStatement("evolutions", cols, "id")
		if err := tx.QueryRowContext(ctx, query, args...).Scan(&evolutionID); err != nil {
			return fmt.Errorf("failed to insert evolution: %w", err)
		}

		return r.recorder.Record(ctx, tx, audit.Entry{
			ActorID:     audit.Actor(actorID),
			Action:      audit.ActionCreateEvolution,
			Description: fmt.Sprintf("Recorded evolution %d on encounter %d", evolutionID, encounterID),
			Table:       audit.TableEvolutions,
			RowID:       evolutionID,
			Details:     map[string]any{"patient_id": patientID, "encounter_id": encounterID},
		})
	})
	if err != nil {
		return 0, err
	}
	return evolutionID, nil
}

// UpdateEvolution replaces every field of a progress note.
func (r *Repository) UpdateEvolution(ctx context.Context, evolutionID int64, in EvolutionInput, actorID int64) error {
	var errs errsx.Map
	in.validate(&errs)
	if err := apperr.Invalid(errs); err != nil {
		return err
	}
	now := r.now()

	return r.inTx(ctx, "update evolution", func(tx *sql.Tx) error {
		patientID, err := ownerOf(ctx, tx, "evolution", evolutionOwner, evolutionID)
		if err != nil {
			return err
		}

		s := r.sealer("evolutions")
		cols := append(in.columns(s), stamp(now, actorID)...)
		if err := s.Err(); err != nil {
			return err
		}
		query, args := updateStatement("evolutions", cols, "id", evolutionID)
		if err := execUpdate(ctx, tx, "evolution", query, args, evolutionID); err != nil {
			return err
		}

		return r.recorder.Record(ctx, tx, audit.Entry{
			ActorID:     audit.Actor(actorID),
			Action:      audit.ActionUpdateEvolution,
			Description: fmt.Sprintf("Updated evolution %d", evolutionID),
			Table:       audit.TableEvolutions,
			RowID:       evolutionID,
			Details:     map[string]any{"patient_id": patientID},
		})
	})
}
