package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/apperr"
	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/audit"
	"github.com/hengadev/errsx"
)

// Referrals, reports and prescriptions hang off the patient. Their
// encounter link is optional: an explicit one must belong to the patient,
// otherwise the latest encounter is used when there is one.

func (r *Repository) AddReferral(ctx context.Context, patientID int64, in ReferralInput, actorID int64) (int64, error) {
	if strings.TrimSpace(in.Service) == "" {
		return 0, apperr.InvalidField("service", "referral service is required")
	}
	now := r.now()

	var referralID int64
	err := r.inTx(ctx, "add referral", func(tx *sql.Tx) error {
		if err := patientExists(ctx, tx, patientID); err != nil {
			return err
		}
		encounterID, err := optionalEncounter(ctx, tx, patientID, in.EncounterID)
		if err != nil {
			return err
		}

		s := r.sealer("referrals")
		query, args := insertStatement("referrals", []column{
			{"patient_id", patientID},
			{"encounter_id", nullableID(encounterID)},
			{"requested_by", actorID},
			{"requested_at", now},
			{"service", s.seal(strings.TrimSpace(in.Service))},
			{"reason", s.seal(in.Reason)},
			{"status", string(ReferralPending)},
		}, "id")
		if err := s.Err(); err != nil {
			return err
		}
		if err := tx.QueryRowContext(ctx, query, args...).Scan(&referralID); err != nil {
			return fmt.Errorf("failed to insert referral: %w", err)
		}

		return r.recorder.Record(ctx, tx, audit.Entry{
			ActorID:     audit.Actor(actorID),
			Action:      audit.ActionCreateReferral,
			Description: fmt.Sprintf("Requested referral %d", referralID),
			Table:       audit.TableReferrals,
			RowID:       referralID,
			Details:     patientDetails(patientID, encounterID),
		})
	})
	if err != nil {
		return 0, err
	}
	return referralID, nil
}

// UpdateReferral edits a referral. The first move to answered stamps the
// answer time and the answering user.
func (r *Repository) UpdateReferral(ctx context.Context, referralID int64, up ReferralUpdate, actorID int64) error {
	var errs errsx.Map
	if strings.TrimSpace(up.Service) == "" {
		errs.Set("service", "referral service is required")
	}
	if up.Status != "" && !up.Status.Valid() {
		errs.Set("status", fmt.Sprintf("invalid referral status %q", up.Status))
	}
	if up.Status == ReferralAnswered && strings.TrimSpace(up.Answer) == "" {
		errs.Set("answer", "an answered referral needs an answer")
	}
	if err := apperr.Invalid(errs); err != nil {
		return err
	}
	now := r.now()

	return r.inTx(ctx, "update referral", func(tx *sql.Tx) error {
		var (
			patientID int64
			status    ReferralStatus
		)
		err := tx.QueryRowContext(ctx, `SELECT patient_id, status FROM referrals WHERE id = $1`, referralID).Scan(&patientID, &status)
		if errors.Is(err, sql.ErrNoRows) {
			return &apperr.NotFoundError{Entity: "referral", ID: referralID}
		}
		if err != nil {
			return fmt.Errorf("failed to load referral: %w", err)
		}

		s := r.sealer("referrals")
		cols := []column{
			{"service", s.seal(strings.TrimSpace(up.Service))},
			{"reason", s.seal(up.Reason)},
			{"answer", s.seal(up.Answer)},
		}
		if up.Status != "" {
			cols = append(cols, column{"status", string(up.Status)})
		}
		if up.Status == ReferralAnswered && status != ReferralAnswered {
			cols = append(cols, column{"answered_at", now}, column{"answered_by", actorID})
		}
		if err := s.Err(); err != nil {
			return err
		}
		query, args := updateStatement("referrals", cols, "id", referralID)
		if err := execUpdate(ctx, tx, "referral", query, args, referralID); err != nil {
			return err
		}

		details := map[string]any{"patient_id": patientID}
		if up.Status != "" && up.Status != status {
			details["status"] = string(up.Status)
		}
		return r.recorder.Record(ctx, tx, audit.Entry{
			ActorID:     audit.Actor(actorID),
			Action:      audit.ActionUpdateReferral,
			Description: fmt.Sprintf("Updated referral %d", referralID),
			Table:       audit.TableReferrals,
			RowID:       referralID,
			Details:     details,
		})
	})
}

func (in ReportInput) validate() error {
	var errs errsx.Map
	if !in.Kind.Valid() {
		errs.Set("kind", fmt.Sprintf("invalid report kind %q", in.Kind))
	}
	if strings.TrimSpace(in.Content) == "" && strings.TrimSpace(in.FilePath) == "" {
		errs.Set("content", "report needs content or a file")
	}
	return apperr.Invalid(errs)
}

func (r *Repository) AddReport(ctx context.Context, patientID int64, in ReportInput, actorID int64) (int64, error) {
	if err := in.validate(); err != nil {
		return 0, err
	}
	now := r.now()

	var reportID int64
	err := r.inTx(ctx, "add report", func(tx *sql.Tx) error {
		if err := patientExists(ctx, tx, patientID); err != nil {
			return err
		}
		encounterID, err := optionalEncounter(ctx, tx, patientID, in.EncounterID)
		if err != nil {
			return err
		}

		s := r.sealer("reports")
		query, args := insertStatement("reports", []column{
			{"patient_id", patientID},
			{"encounter_id", nullableID(encounterID)},
			{"author_id", actorID},
			{"created_at", now},
			{"kind", string(in.Kind)},
			{"content", s.seal(in.Content)},
			{"file_path", s.seal(in.FilePath)},
		}, "id")
		if err := s.Err(); err != nil {
			return err
		}
		if err := tx.QueryRowContext(ctx, query, args...).Scan(&reportID); err != nil {
			return fmt.Errorf("failed to insert report: %w", err)
		}

		return r.recorder.Record(ctx, tx, audit.Entry{
			ActorID:     audit.Actor(actorID),
			Action:      audit.ActionCreateReport,
			Description: fmt.Sprintf("Wrote %s report %d", in.Kind, reportID),
			Table:       audit.TableReports,
			RowID:       reportID,
			Details:     patientDetails(patientID, encounterID),
		})
	})
	if err != nil {
		return 0, err
	}
	return reportID, nil
}

func (r *Repository) UpdateReport(ctx context.Context, reportID int64, in ReportInput, actorID int64) error {
	if err := in.validate(); err != nil {
		return err
	}
	now := r.now()

	return r.inTx(ctx, "update report", func(tx *sql.Tx) error {
		patientID, err := ownerOf(ctx, tx, "report", `SELECT patient_id FROM reports WHERE id = $1`, reportID)
		if err != nil {
			return err
		}

		s := r.sealer("reports")
		cols := []column{
			{"kind", string(in.Kind)},
			{"content", s.seal(in.Content)},
			{"file_path", s.seal(in.FilePath)},
		}
		if in.EncounterID != nil {
			if err := belongsToPatient(ctx, tx, "encounter", `SELECT patient_id FROM encounters WHERE id = $1`, *in.EncounterID, patientID); err != nil {
				return err
			}
			cols = append(cols, column{"encounter_id", *in.EncounterID})
		}
		cols = append(cols, stamp(now, actorID)...)
		if err := s.Err(); err != nil {
			return err
		}
		query, args := updateStatement("reports", cols, "id", reportID)
		if err := execUpdate(ctx, tx, "report", query, args, reportID); err != nil {
			return err
		}

		return r.recorder.Record(ctx, tx, audit.Entry{
			ActorID:     audit.Actor(actorID),
			Action:      audit.ActionUpdateReport,
			Description: fmt.Sprintf("Updated report %d", reportID),
			Table:       audit.TableReports,
			RowID:       reportID,
			Details:     map[string]any{"patient_id": patientID},
		})
	})
}

func (in PrescriptionInput) validate() error {
	var errs errsx.Map
	if !in.Kind.Valid() {
		errs.Set("kind", fmt.Sprintf("invalid prescription kind %q", in.Kind))
	}
	if strings.TrimSpace(in.Body) == "" {
		errs.Set("body", "prescription body is required")
	}
	return apperr.Invalid(errs)
}

func (r *Repository) AddPrescription(ctx context.Context, patientID int64, in PrescriptionInput, actorID int64) (int64, error) {
	if err := in.validate(); err != nil {
		return 0, err
	}
	now := r.now()

	var prescriptionID int64
	err := r.inTx(ctx, "add prescription", func(tx *sql.Tx) error {
		if err := patientExists(ctx, tx, patientID); err != nil {
			return err
		}
		encounterID, err := optionalEncounter(ctx, tx, patientID, in.EncounterID)
		if err != nil {
			return err
		}
		if in.EvolutionID != nil {
			if err := belongsToPatient(ctx, tx, "evolution", evolutionOwner, *in.EvolutionID, patientID); err != nil {
				return err
			}
		}

		s := r.sealer("prescriptions")
		query, args := insertStatement("prescriptions", []column{
			{"patient_id", patientID},
			{"encounter_id", nullableID(encounterID)},
			{"evolution_id", nullableID(in.EvolutionID)},
			{"author_id", actorID},
			{"issued_at", now},
			{"kind", string(in.Kind)},
			{"body", s.seal(in.Body)},
		}, "id")
		if err := s.Err(); err != nil {
			return err
		}
		if err := tx.QueryRowContext(ctx, query, args...).Scan(&prescriptionID); err != nil {
			return fmt.Errorf("failed to insert prescription: %w", err)
		}

		return r.recorder.Record(ctx, tx, audit.Entry{
			ActorID:     audit.Actor(actorID),
			Action:      audit.ActionCreatePrescription,
			Description: fmt.Sprintf("Issued %s prescription %d", in.Kind, prescriptionID),
			Table:       audit.TablePrescriptions,
			RowID:       prescriptionID,
			Details:     patientDetails(patientID, encounterID),
		})
	})
	if err != nil {
		return 0, err
	}
	return prescriptionID, nil
}

func (r *Repository) UpdatePrescription(ctx context.Context, prescriptionID int64, in PrescriptionInput, actorID int64) error {
	if err := in.validate(); err != nil {
		return err
	}
	now := r.now()

	return r.inTx(ctx, "update prescription", func(tx *sql.Tx) error {
		patientID, err := ownerOf(ctx, tx, "prescription", `SELECT patient_id FROM prescriptions WHERE id = $1`, prescriptionID)
		if err != nil {
			return err
		}

		s := r.sealer("prescriptions")
		cols := []column{
			{"kind", string(in.Kind)},
			{"body", s.seal(in.Body)},
		}
		if in.EncounterID != nil {
			if err := belongsToPatient(ctx, tx, "encounter", `SELECT patient_id FROM encounters WHERE id = $1`, *in.EncounterID, patientID); err != nil {
				return err
			}
			cols = append(cols, column{"encounter_id", *in.EncounterID})
		}
		if in.EvolutionID != nil {
			if err := belongsToPatient(ctx, tx, "evolution", evolutionOwner, *in.EvolutionID, patientID); err != nil {
				return err
			}
			cols = append(cols, column{"evolution_id", *in.EvolutionID})
		}
		cols = append(cols, stamp(now, actorID)...)
		if err := s.Err(); err != nil {
			return err
		}
		query, args := updateStatement("prescriptions", cols, "id", prescriptionID)
		if err := execUpdate(ctx, tx, "prescription", query, args, prescriptionID); err != nil {
			return err
		}

		return r.recorder.Record(ctx, tx, audit.Entry{
			ActorID:     audit.Actor(actorID),
			Action:      audit.ActionUpdatePrescription,
			Description: fmt.Sprintf("Updated prescription %d", prescriptionID),
			Table:       audit.TablePrescriptions,
			RowID:       prescriptionID,
			Details:     map[string]any{"patient_id": patientID},
		})
	})
}

func patientDetails(patientID int64, encounterID *int64) map[string]any {
	details := map[string]any{"patient_id": patientID}
	if encounterID != nil {
		details["encounter_id"] = *encounterID
	}
	return details
}
