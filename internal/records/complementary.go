package records

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/apperr"
	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/attachments"
	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/audit"
	"github.com/hengadev/errsx"
	"go.uber.org/zap"
)

func (in *ComplementaryInput) validate() error {
	in.StudyName = strings.TrimSpace(in.StudyName)
	if in.Status == "" {
		in.Status = StudyRequested
	}

	var errs errsx.Map
	if !in.Kind.Valid() {
		errs.Set("kind", fmt.Sprintf("invalid study kind %q", in.Kind))
	}
	if in.StudyName == "" {
		errs.Set("study_name", "study name is required")
	}
	if !in.Status.Valid() {
		errs.Set("status", fmt.Sprintf("invalid study status %q", in.Status))
	}
	if in.Attachment != nil {
		switch {
		case in.RemoveAttachment:
			errs.Set("attachment", "cannot upload and remove an attachment at once")
		case !attachments.Allowed(in.Attachment.Filename):
			errs.Set("attachment", attachments.ErrExtensionNotAllowed.Error())
		case len(in.Attachment.Content) > attachments.MaxSize:
			errs.Set("attachment", attachments.ErrTooLarge.Error())
		}
	}
	return apperr.Invalid(errs)
}

// saveAttachment writes the uploaded file, if any, before the transaction
// that references it opens.
func (r *Repository) saveAttachment(patientID int64, a *Attachment) (string, error) {
	if a == nil {
		return "", nil
	}
	rel, err := r.files.Save(patientID, a.Filename, bytes.NewReader(a.Content))
	switch {
	case errors.Is(err, attachments.ErrExtensionNotAllowed), errors.Is(err, attachments.ErrTooLarge):
		return "", apperr.InvalidField("attachment", err.Error())
	case err != nil:
		return "", fmt.Errorf("failed to store attachment: %w", err)
	}
	return rel, nil
}

// AddComplementary registers a laboratory or imaging study. Without an
// explicit encounter it attaches to the latest one, and fails with
// NoActiveEncounterError when the patient has none. An uploaded file is
// removed again if the transaction fails.
func (r *Repository) AddComplementary(ctx context.Context, patientID int64, in ComplementaryInput, actorID int64) (int64, error) {
	if err := in.validate(); err != nil {
		return 0, err
	}
	now := r.now()

	saved, err := r.saveAttachment(patientID, in.Attachment)
	if err != nil {
		return 0, err
	}

	var complementaryID int64
	err = r.inTx(ctx, "add complementary", func(tx *sql.Tx) error {
		if err := patientExists(ctx, tx, patientID); err != nil {
			return err
		}
		encounterID, err := resolveEncounter(ctx, tx, patientID, in.EncounterID)
		if err != nil {
			return err
		}
		if in.OrderID != nil {
			if err := belongsToPatient(ctx, tx, "medical order", orderOwner, *in.OrderID, patientID); err != nil {
				return err
			}
		}

		s := r.sealer("complementaries")
		query, args := insertStatement("complementaries", []column{
			{"patient_id", patientID},
			{"encounter_id", encounterID},
			{"order_id", nullableID(in.OrderID)},
			{"registered_by", actorID},
			{"registered_at", now},
			{"kind", string(in.Kind)},
			{"study_name", s.seal(in.StudyName)},
			{"performed_at", nullableTime(in.PerformedAt)},
			{"result", s.seal(in.Result)},
			{"attachment_path", s.seal(saved)},
			{"status", string(in.Status)},
		}, "id")
		if err := s.Err(); err != nil {
			return err
		}
		if err := tx.QueryRowContext(ctx, query, args...).Scan(&complementaryID); err != nil {
			return fmt.Errorf("failed to insert complementary: %w", err)
		}

		return r.recorder.Record(ctx, tx, audit.Entry{
			ActorID:     audit.Actor(actorID),
			Action:      audit.ActionCreateComplementary,
			Description: fmt.Sprintf("Registered %s study %d", in.Kind, complementaryID),
			Table:       audit.TableComplementaries,
			RowID:       complementaryID,
			Details: map[string]any{
				"patient_id":   patientID,
				"encounter_id": encounterID,
				"attachment":   saved != "",
			},
		})
	})
	if err != nil {
		r.files.RemoveQuietly(saved)
		return 0, err
	}
	return complementaryID, nil
}

// UpdateComplementary edits a study. Replacing or removing its attachment
// deletes the previous file after commit; a failed delete is only logged.
func (r *Repository) UpdateComplementary(ctx context.Context, complementaryID int64, in ComplementaryInput, actorID int64) error {
	if err := in.validate(); err != nil {
		return err
	}
	now := r.now()

	patientID, err := ownerOf(ctx, r.db, "complementary", `SELECT patient_id FROM complementaries WHERE id = $1`, complementaryID)
	if err != nil {
		return apperr.Database("update complementary", err)
	}

	saved, err := r.saveAttachment(patientID, in.Attachment)
	if err != nil {
		return err
	}

	var previous []byte
	attachment := "unchanged"
	err = r.inTx(ctx, "update complementary", func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx, `SELECT attachment_path FROM complementaries WHERE id = $1`, complementaryID).Scan(&previous); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return &apperr.NotFoundError{Entity: "complementary", ID: complementaryID}
			}
			return fmt.Errorf("failed to load complementary: %w", err)
		}

		s := r.sealer("complementaries")
		cols := []column{
			{"kind", string(in.Kind)},
			{"study_name", s.seal(in.StudyName)},
			{"performed_at", nullableTime(in.PerformedAt)},
			{"result", s.seal(in.Result)},
			{"status", string(in.Status)},
		}
		if in.EncounterID != nil {
			if err := belongsToPatient(ctx, tx, "encounter", `SELECT patient_id FROM encounters WHERE id = $1`, *in.EncounterID, patientID); err != nil {
				return err
			}
			cols = append(cols, column{"encounter_id", *in.EncounterID})
		}
		if in.OrderID != nil {
			if err := belongsToPatient(ctx, tx, "medical order", orderOwner, *in.OrderID, patientID); err != nil {
				return err
			}
			cols = append(cols, column{"order_id", *in.OrderID})
		}
		switch {
		case saved != "":
			cols = append(cols, column{"attachment_path", s.seal(saved)})
			attachment = "replaced"
			if previous == nil {
				attachment = "added"
			}
		case in.RemoveAttachment && previous != nil:
			cols = append(cols, column{"attachment_path", nil})
			attachment = "removed"
		}
		cols = append(cols, stamp(now, actorID)...)
		if err := s.Err(); err != nil {
			return err
		}

		query, args := updateStatement("complementaries", cols, "id", complementaryID)
		if err := execUpdate(ctx, tx, "complementary", query, args, complementaryID); err != nil {
			return err
		}

		return r.recorder.Record(ctx, tx, audit.Entry{
			ActorID:     audit.Actor(actorID),
			Action:      audit.ActionUpdateComplementary,
			Description: fmt.Sprintf("Updated study %d (attachment %s)", complementaryID, attachment),
			Table:       audit.TableComplementaries,
			RowID:       complementaryID,
			Details:     map[string]any{"patient_id": patientID, "attachment": attachment},
		})
	})
	if err != nil {
		r.files.RemoveQuietly(saved)
		return err
	}

	if attachment == "replaced" || attachment == "removed" {
		old := r.crypto.Decrypt(previous)
		if old.Valid() {
			r.files.RemoveQuietly(old.Value)
		} else {
			r.logger.Warn("previous attachment path could not be decrypted, leaving file for the orphan sweeper",
				zap.Int64("complementary_id", complementaryID), zap.Error(old.Err))
		}
	}
	return nil
}

// GetComplementaryAttachment returns the stored relative path of a study's
// attachment.
func (r *Repository) GetComplementaryAttachment(ctx context.Context, complementaryID int64) (string, error) {
	var raw []byte
	err := r.db.QueryRowContext(ctx, `SELECT attachment_path FROM complementaries WHERE id = $1`, complementaryID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return "", &apperr.NotFoundError{Entity: "complementary", ID: complementaryID}
	}
	if err != nil {
		return "", apperr.Database("get complementary attachment", err)
	}

	f := r.crypto.Decrypt(raw)
	switch {
	case f.IsNull():
		return "", &apperr.NotFoundError{Entity: "attachment of complementary", ID: complementaryID}
	case f.Corrupt():
		return "", &apperr.CryptoError{Field: "attachment_path", Err: f.Err}
	}
	return f.Value, nil
}
