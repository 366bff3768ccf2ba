package records

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/apperr"
	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/audit"
)

// AddOrder stores a medical order on the requested encounter, or on the
// latest one when none is given.
func (r *Repository) AddOrder(ctx context.Context, patientID int64, in OrderInput, actorID int64) (int64, error) {
	if err := in.Body.Validate(); err != nil {
		return 0, err
	}
	now := r.now()

	var orderID int64
	err := r.inTx(ctx, "add order", func(tx *sql.Tx) error {
		if err := patientExists(ctx, tx, patientID); err != nil {
			return err
		}
		encounterID, err := resolveEncounter(ctx, tx, patientID, in.EncounterID)
		if err != nil {
			return err
		}
		if in.EvolutionID != nil {
			if err := belongsToPatient(ctx, tx, "evolution", evolutionOwner, *in.EvolutionID, patientID); err != nil {
				return err
			}
		}

		body, err := r.sealOrder(in.Body)
		if err != nil {
			return err
		}
		query, args := insertStatement("medical_orders", []column{
			{"encounter_id", encounterID},
			{"evolution_id", nullableID(in.EvolutionID)},
			{"author_id", actorID},
			{"ordered_at", now},
			{"body", body},
			{"status", string(OrderPending)},
		}, "id")
		if err := tx.QueryRowContext(ctx, query, args...).Scan(&orderID); err != nil {
			return fmt.Errorf("failed to insert medical order: %w", err)
		}

		return r.recorder.Record(ctx, tx, audit.Entry{
			ActorID:     audit.Actor(actorID),
			Action:      audit.ActionCreateOrder,
			Description: fmt.Sprintf("Created medical order %d on encounter %d", orderID, encounterID),
			Table:       audit.TableMedicalOrders,
			RowID:       orderID,
			Details:     map[string]any{"patient_id": patientID, "encounter_id": encounterID, "directives": directiveKinds(in.Body)},
		})
	})
	if err != nil {
		return 0, err
	}
	return orderID, nil
}

// UpdateOrder replaces the whole order document and optionally its status.
func (r *Repository) UpdateOrder(ctx context.Context, orderID int64, up OrderUpdate, actorID int64) error {
	if err := up.Body.Validate(); err != nil {
		return err
	}
	if up.Status != "" && !up.Status.Valid() {
		return apperr.InvalidField("status", fmt.Sprintf("invalid order status %q", up.Status))
	}
	now := r.now()

	return r.inTx(ctx, "update order", func(tx *sql.Tx) error {
		patientID, err := ownerOf(ctx, tx, "medical order", orderOwner, orderID)
		if err != nil {
			return err
		}

		body, err := r.sealOrder(up.Body)
		if err != nil {
			return err
		}
		cols := []column{{"body", body}}
		if up.Status != "" {
			cols = append(cols, column{"status", string(up.Status)})
		}
		cols = append(cols, stamp(now, actorID)...)
		query, args := updateStatement("medical_orders", cols, "id", orderID)
		if err := execUpdate(ctx, tx, "medical order", query, args, orderID); err != nil {
			return err
		}

		details := map[string]any{"patient_id": patientID, "directives": directiveKinds(up.Body)}
		if up.Status != "" {
			details["status"] = string(up.Status)
		}
		return r.recorder.Record(ctx, tx, audit.Entry{
			ActorID:     audit.Actor(actorID),
			Action:      audit.ActionUpdateOrder,
			Description: fmt.Sprintf("Updated medical order %d", orderID),
			Table:       audit.TableMedicalOrders,
			RowID:       orderID,
			Details:     details,
		})
	})
}

func (r *Repository) sealOrder(body OrderBody) (any, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode order body: %w", err)
	}
	s := r.sealer("medical_orders")
	sealed := s.seal(string(raw))
	return sealed, s.Err()
}

func directiveKinds(body OrderBody) []string {
	kinds := make([]string, 0, len(body.Directives))
	for _, d := range body.Directives {
		kinds = append(kinds, string(d.Kind()))
	}
	return kinds
}
