package messaging

import (
	"time"

	"github.com/google/uuid"
)

// Routing keys. Events carry identifiers only, never clinical content.
const (
	EventPatientCreated = "patient.created"
	EventPatientUpdated = "patient.updated"
	EventPatientDeleted = "patient.deleted"

	EventEncounterOpened = "encounter.opened"
	EventEncounterClosed = "encounter.closed"

	EventEvolutionRecorded     = "evolution.recorded"
	EventOrderRecorded         = "order.recorded"
	EventComplementaryRecorded = "complementary.recorded"
	EventReferralRecorded      = "referral.recorded"
	EventReportRecorded        = "report.recorded"
	EventPrescriptionRecorded  = "prescription.recorded"

	EventUserCreated       = "user.created"
	EventUserUpdated       = "user.updated"
	EventUserStatusChanged = "user.status_changed"
)

// BaseEvent contains the fields common to every event.
type BaseEvent struct {
	EventType   string    `json:"event_type"`
	EventID     string    `json:"event_id"`
	Timestamp   time.Time `json:"timestamp"`
	ServiceName string    `json:"service_name"`
}

// RecordEvent announces a committed change to a clinical record or user.
type RecordEvent struct {
	BaseEvent
	Data RecordEventData `json:"data"`
}

type RecordEventData struct {
	Entity    string `json:"entity"`
	EntityID  int64  `json:"entity_id"`
	PatientID int64  `json:"patient_id,omitempty"`
	ActorID   int64  `json:"actor_id"`
	// Operation is "create", "update", "delete" or a status verb.
	Operation string `json:"operation"`
	Active    *bool  `json:"active,omitempty"`
}

// NewBaseEvent stamps a new event of eventType.
func NewBaseEvent(eventType, serviceName string) BaseEvent {
	return BaseEvent{
		EventType:   eventType,
		EventID:     uuid.NewString(),
		Timestamp:   time.Now().UTC(),
		ServiceName: serviceName,
	}
}

// NewRecordEvent builds a RecordEvent for routing key eventType.
func NewRecordEvent(eventType, serviceName string, data RecordEventData) RecordEvent {
	return RecordEvent{BaseEvent: NewBaseEvent(eventType, serviceName), Data: data}
}
