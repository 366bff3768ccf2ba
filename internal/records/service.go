package records

import (
	"context"

	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/messaging"
	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/pagination"
	"go.uber.org/zap"
)

// MetricsRecorder counts committed record operations.
type MetricsRecorder interface {
	RecordRecordOperation(ctx context.Context, entity, operation string)
}

// Service puts the repository behind the network boundary. Events and
// metrics follow a successful commit and can never undo it.
type Service struct {
	repo        RepositoryInterface
	publisher   messaging.PublisherInterface
	metrics     MetricsRecorder
	logger      *zap.Logger
	serviceName string
}

func NewService(repo RepositoryInterface, publisher messaging.PublisherInterface, metrics MetricsRecorder, logger *zap.Logger, serviceName string) *Service {
	if publisher == nil {
		publisher = messaging.NopPublisher{}
	}
	return &Service{
		repo:        repo,
		publisher:   publisher,
		metrics:     metrics,
		logger:      logger,
		serviceName: serviceName,
	}
}

// committed publishes the event for a finished operation and counts it.
// A broker failure is logged only.
func (s *Service) committed(ctx context.Context, eventType string, data messaging.RecordEventData) {
	if s.metrics != nil {
		s.metrics.RecordRecordOperation(ctx, data.Entity, data.Operation)
	}
	event := messaging.NewRecordEvent(eventType, s.serviceName, data)
	if err := s.publisher.Publish(ctx, eventType, event); err != nil {
		s.logger.Warn("failed to publish event",
			zap.String("event_type", eventType),
			zap.Int64("entity_id", data.EntityID),
			zap.Error(err))
	}
}

func (s *Service) CreatePatient(ctx context.Context, in NewPatient, actorID int64) (*CreatedPatient, error) {
	created, err := s.repo.CreatePatient(ctx, in, actorID)
	if err != nil {
		return nil, err
	}
	s.committed(ctx, messaging.EventPatientCreated, messaging.RecordEventData{
		Entity: "patient", EntityID: created.ID, PatientID: created.ID, ActorID: actorID, Operation: "create",
	})
	s.logger.Info("patient registered", zap.Int64("patient_id", created.ID), zap.String("chart_number", created.ChartNumber))
	return created, nil
}

func (s *Service) UpdatePatientDemographics(ctx context.Context, patientID int64, d Demographics, actorID int64) error {
	if err := s.repo.UpdatePatientDemographics(ctx, patientID, d, actorID); err != nil {
		return err
	}
	s.committed(ctx, messaging.EventPatientUpdated, messaging.RecordEventData{
		Entity: "patient", EntityID: patientID, PatientID: patientID, ActorID: actorID, Operation: "update",
	})
	return nil
}

func (s *Service) UpdateIntakeAndHistory(ctx context.Context, encounterID, patientID int64, up IntakeUpdate, actorID int64) error {
	if err := s.repo.UpdateIntakeAndHistory(ctx, encounterID, patientID, up, actorID); err != nil {
		return err
	}
	s.committed(ctx, messaging.EventPatientUpdated, messaging.RecordEventData{
		Entity: "encounter", EntityID: encounterID, PatientID: patientID, ActorID: actorID, Operation: "update_intake",
	})
	return nil
}

func (s *Service) DeletePatient(ctx context.Context, patientID int64, actorID int64) error {
	if err := s.repo.DeletePatient(ctx, patientID, actorID); err != nil {
		return err
	}
	s.committed(ctx, messaging.EventPatientDeleted, messaging.RecordEventData{
		Entity: "patient", EntityID: patientID, PatientID: patientID, ActorID: actorID, Operation: "delete",
	})
	s.logger.Info("patient deleted", zap.Int64("patient_id", patientID), zap.Int64("actor_id", actorID))
	return nil
}

func (s *Service) OpenEncounter(ctx context.Context, patientID int64, in EncounterInput, actorID int64) (int64, error) {
	id, err := s.repo.OpenEncounter(ctx, patientID, in, actorID)
	if err != nil {
		return 0, err
	}
	s.committed(ctx, messaging.EventEncounterOpened, messaging.RecordEventData{
		Entity: "encounter", EntityID: id, PatientID: patientID, ActorID: actorID, Operation: "open",
	})
	return id, nil
}

func (s *Service) CloseEncounter(ctx context.Context, encounterID int64, actorID int64) error {
	if err := s.repo.CloseEncounter(ctx, encounterID, actorID); err != nil {
		return err
	}
	s.committed(ctx, messaging.EventEncounterClosed, messaging.RecordEventData{
		Entity: "encounter", EntityID: encounterID, ActorID: actorID, Operation: "close",
	})
	return nil
}

func (s *Service) AddEvolution(ctx context.Context, patientID int64, in EvolutionInput, actorID int64) (int64, error) {
	id, err := s.repo.AddEvolution(ctx, patientID, in, actorID)
	if err != nil {
		return 0, err
	}
	s.recorded(ctx, messaging.EventEvolutionRecorded, "evolution", id, patientID, actorID, "create")
	return id, nil
}

func (s *Service) UpdateEvolution(ctx context.Context, evolutionID int64, in EvolutionInput, actorID int64) error {
	if err := s.repo.UpdateEvolution(ctx, evolutionID, in, actorID); err != nil {
		return err
	}
	s.recorded(ctx, messaging.EventEvolutionRecorded, "evolution", evolutionID, 0, actorID, "update")
	return nil
}

func (s *Service) AddOrder(ctx context.Context, patientID int64, in OrderInput, actorID int64) (int64, error) {
	id, err := s.repo.AddOrder(ctx, patientID, in, actorID)
	if err != nil {
		return 0, err
	}
	s.recorded(ctx, messaging.EventOrderRecorded, "medical_order", id, patientID, actorID, "create")
	return id, nil
}

func (s *Service) UpdateOrder(ctx context.Context, orderID int64, up OrderUpdate, actorID int64) error {
	if err := s.repo.UpdateOrder(ctx, orderID, up, actorID); err != nil {
		return err
	}
	s.recorded(ctx, messaging.EventOrderRecorded, "medical_order", orderID, 0, actorID, "update")
	return nil
}

func (s *Service) AddComplementary(ctx context.Context, patientID int64, in ComplementaryInput, actorID int64) (int64, error) {
	id, err := s.repo.AddComplementary(ctx, patientID, in, actorID)
	if err != nil {
		return 0, err
	}
	s.recorded(ctx, messaging.EventComplementaryRecorded, "complementary", id, patientID, actorID, "create")
	return id, nil
}

func (s *Service) UpdateComplementary(ctx context.Context, complementaryID int64, in ComplementaryInput, actorID int64) error {
	if err := s.repo.UpdateComplementary(ctx, complementaryID, in, actorID); err != nil {
		return err
	}
	s.recorded(ctx, messaging.EventComplementaryRecorded, "complementary", complementaryID, 0, actorID, "update")
	return nil
}

func (s *Service) GetComplementaryAttachment(ctx context.Context, complementaryID int64) (string, error) {
	return s.repo.GetComplementaryAttachment(ctx, complementaryID)
}

func (s *Service) AddReferral(ctx context.Context, patientID int64, in ReferralInput, actorID int64) (int64, error) {
	id, err := s.repo.AddReferral(ctx, patientID, in, actorID)
	if err != nil {
		return 0, err
	}
	s.recorded(ctx, messaging.EventReferralRecorded, "referral", id, patientID, actorID, "create")
	return id, nil
}

func (s *Service) UpdateReferral(ctx context.Context, referralID int64, up ReferralUpdate, actorID int64) error {
	if err := s.repo.UpdateReferral(ctx, referralID, up, actorID); err != nil {
		return err
	}
	operation := "update"
	if up.Status != "" {
		operation = string(up.Status)
	}
	s.recorded(ctx, messaging.EventReferralRecorded, "referral", referralID, 0, actorID, operation)
	return nil
}

func (s *Service) AddReport(ctx context.Context, patientID int64, in ReportInput, actorID int64) (int64, error) {
	id, err := s.repo.AddReport(ctx, patientID, in, actorID)
	if err != nil {
		return 0, err
	}
	s.recorded(ctx, messaging.EventReportRecorded, "report", id, patientID, actorID, "create")
	return id, nil
}

func (s *Service) UpdateReport(ctx context.Context, reportID int64, in ReportInput, actorID int64) error {
	if err := s.repo.UpdateReport(ctx, reportID, in, actorID); err != nil {
		return err
	}
	s.recorded(ctx, messaging.EventReportRecorded, "report", reportID, 0, actorID, "update")
	return nil
}

func (s *Service) AddPrescription(ctx context.Context, patientID int64, in PrescriptionInput, actorID int64) (int64, error) {
	id, err := s.repo.AddPrescription(ctx, patientID, in, actorID)
	if err != nil {
		return 0, err
	}
	s.recorded(ctx, messaging.EventPrescriptionRecorded, "prescription", id, patientID, actorID, "create")
	return id, nil
}

func (s *Service) UpdatePrescription(ctx context.Context, prescriptionID int64, in PrescriptionInput, actorID int64) error {
	if err := s.repo.UpdatePrescription(ctx, prescriptionID, in, actorID); err != nil {
		return err
	}
	s.recorded(ctx, messaging.EventPrescriptionRecorded, "prescription", prescriptionID, 0, actorID, "update")
	return nil
}

func (s *Service) GetDetails(ctx context.Context, patientID int64) (*PatientView, error) {
	return s.repo.GetDetails(ctx, patientID)
}

func (s *Service) GetPatientList(ctx context.Context, search string, params pagination.Params) ([]PatientSummary, int, error) {
	return s.repo.GetPatientList(ctx, search, params)
}

func (s *Service) GetLatestEncounterID(ctx context.Context, patientID int64) (int64, error) {
	return s.repo.GetLatestEncounterID(ctx, patientID)
}

func (s *Service) recorded(ctx context.Context, eventType, entity string, id, patientID, actorID int64, operation string) {
	s.committed(ctx, eventType, messaging.RecordEventData{
		Entity:    entity,
		EntityID:  id,
		PatientID: patientID,
		ActorID:   actorID,
		Operation: operation,
	})
}
