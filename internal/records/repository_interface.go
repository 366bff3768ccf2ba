package records

import (
	"context"

	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/pagination"
)

// RepositoryInterface defines the contract for clinical record data access
type RepositoryInterface interface {
	CreatePatient(ctx context.Context, in NewPatient, actorID int64) (*CreatedPatient, error)
	UpdatePatientDemographics(ctx context.Context, patientID int64, d Demographics, actorID int64) error
	UpdateIntakeAndHistory(ctx context.Context, encounterID, patientID int64, up IntakeUpdate, actorID int64) error
	DeletePatient(ctx context.Context, patientID int64, actorID int64) error

	OpenEncounter(ctx context.Context, patientID int64, in EncounterInput, actorID int64) (int64, error)
	CloseEncounter(ctx context.Context, encounterID int64, actorID int64) error

	AddEvolution(ctx context.Context, patientID int64, in EvolutionInput, actorID int64) (int64, error)
	UpdateEvolution(ctx context.Context, evolutionID int64, in EvolutionInput, actorID int64) error
	AddOrder(ctx context.Context, patientID int64, in OrderInput, actorID int64) (int64, error)
	UpdateOrder(ctx context.Context, orderID int64, up OrderUpdate, actorID int64) error
	AddComplementary(ctx context.Context, patientID int64, in ComplementaryInput, actorID int64) (int64, error)
	UpdateComplementary(ctx context.Context, complementaryID int64, in ComplementaryInput, actorID int64) error
	GetComplementaryAttachment(ctx context.Context, complementaryID int64) (string, error)
	AddReferral(ctx context.Context, patientID int64, in ReferralInput, actorID int64) (int64, error)
	UpdateReferral(ctx context.Context, referralID int64, up ReferralUpdate, actorID int64) error
	AddReport(ctx context.Context, patientID int64, in ReportInput, actorID int64) (int64, error)
	UpdateReport(ctx context.Context, reportID int64, in ReportInput, actorID int64) error
	AddPrescription(ctx context.Context, patientID int64, in PrescriptionInput, actorID int64) (int64, error)
	UpdatePrescription(ctx context.Context, prescriptionID int64, in PrescriptionInput, actorID int64) error

	GetDetails(ctx context.Context, patientID int64) (*PatientView, error)
	GetPatientList(ctx context.Context, search string, params pagination.Params) ([]PatientSummary, int, error)
	GetLatestEncounterID(ctx context.Context, patientID int64) (int64, error)
}

// Ensure Repository implements RepositoryInterface
var _ RepositoryInterface = (*Repository)(nil)
