package records

import (
	"time"

	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/cryptostore"
)

// DateLayout is the wire format of calendar dates such as birth dates.
const DateLayout = "2006-01-02"

// Demographics are the identifying fields of a patient. Everything except
// Sex and BirthDate is stored encrypted.
type Demographics struct {
	NationalID            string `json:"national_id"`
	FirstNames            string `json:"first_names"`
	LastNames             string `json:"last_names"`
	Sex                   Sex    `json:"sex,omitempty"`
	BirthDate             string `json:"birth_date,omitempty"`
	BirthPlace            string `json:"birth_place,omitempty"`
	MaritalStatus         string `json:"marital_status,omitempty"`
	HomePhone             string `json:"home_phone,omitempty"`
	MobilePhone           string `json:"mobile_phone,omitempty"`
	Email                 string `json:"email,omitempty"`
	Address               string `json:"address,omitempty"`
	Occupation            string `json:"occupation,omitempty"`
	EmergencyName         string `json:"emergency_name,omitempty"`
	EmergencyPhone        string `json:"emergency_phone,omitempty"`
	EmergencyRelationship string `json:"emergency_relationship,omitempty"`
	EmergencyAddress      string `json:"emergency_address,omitempty"`
	Notes                 string `json:"notes,omitempty"`
}

// Condition is a yes/no antecedent with an optional free-text detail.
type Condition struct {
	Present bool   `json:"present"`
	Detail  string `json:"detail,omitempty"`
}

// History holds personal, family and habit antecedents.
type History struct {
	Asthma          Condition `json:"asthma"`
	Hypertension    Condition `json:"hypertension"`
	Diabetes        Condition `json:"diabetes"`
	HeartDisease    Condition `json:"heart_disease"`
	OtherConditions Condition `json:"other_conditions"`
	Allergies       string    `json:"allergies,omitempty"`
	SurgicalHistory string    `json:"surgical_history,omitempty"`
	FamilyMother    string    `json:"family_mother,omitempty"`
	FamilyFather    string    `json:"family_father,omitempty"`
	FamilySiblings  string    `json:"family_siblings,omitempty"`
	FamilyChildren  string    `json:"family_children,omitempty"`
	HabitTobacco    string    `json:"habit_tobacco,omitempty"`
	HabitAlcohol    string    `json:"habit_alcohol,omitempty"`
	HabitDrugs      string    `json:"habit_drugs,omitempty"`
	HabitCoffee     string    `json:"habit_coffee,omitempty"`
	WeightLoss      string    `json:"weight_loss,omitempty"`
}

// Intake is the admission narrative of an encounter.
type Intake struct {
	ChiefComplaint     string `json:"chief_complaint,omitempty"`
	PresentIllness     string `json:"present_illness,omitempty"`
	AdmissionDiagnosis string `json:"admission_diagnosis,omitempty"`
}

// PhysicalExam holds the admission vitals and per-system findings.
type PhysicalExam struct {
	BloodPressure    string `json:"blood_pressure,omitempty"`
	Temperature      string `json:"temperature,omitempty"`
	RespiratoryRate  *int   `json:"respiratory_rate,omitempty"`
	HeartRate        *int   `json:"heart_rate,omitempty"`
	OxygenSaturation *int   `json:"oxygen_saturation,omitempty"`
	Glycemia         *int   `json:"glycemia,omitempty"`
	Skin             string `json:"skin,omitempty"`
	Respiratory      string `json:"respiratory,omitempty"`
	Cardiovascular   string `json:"cardiovascular,omitempty"`
	Abdomen          string `json:"abdomen,omitempty"`
	Gastrointestinal string `json:"gastrointestinal,omitempty"`
	Genitourinary    string `json:"genitourinary,omitempty"`
	Extremities      string `json:"extremities,omitempty"`
	Neurological     string `json:"neurological,omitempty"`
	OtherFindings    string `json:"other_findings,omitempty"`
}

// NewPatient is everything registered in one go: demographics, history and
// the initial encounter with its exam.
type NewPatient struct {
	Demographics
	History History      `json:"history"`
	Intake  Intake       `json:"intake"`
	Exam    PhysicalExam `json:"exam"`
}

type CreatedPatient struct {
	ID          int64  `json:"id"`
	ChartNumber string `json:"chart_number"`
	EncounterID int64  `json:"encounter_id"`
}

// IntakeUpdate overwrites history and intake. A nil Exam leaves the stored
// exam untouched.
type IntakeUpdate struct {
	History History       `json:"history"`
	Intake  Intake        `json:"intake"`
	Exam    *PhysicalExam `json:"exam,omitempty"`
}

// EncounterInput opens a further encounter for an existing patient.
type EncounterInput struct {
	Intake
	Exam *PhysicalExam `json:"exam,omitempty"`
}

// EvolutionInput is a daily progress note.
type EvolutionInput struct {
	HospitalDay      *int   `json:"hospital_day,omitempty"`
	Subjective       string `json:"subjective,omitempty"`
	Objective        string `json:"objective,omitempty"`
	BloodPressure    string `json:"blood_pressure,omitempty"`
	Temperature      string `json:"temperature,omitempty"`
	HeartRate        *int   `json:"heart_rate,omitempty"`
	RespiratoryRate  *int   `json:"respiratory_rate,omitempty"`
	OxygenSaturation *int   `json:"oxygen_saturation,omitempty"`
	Skin             string `json:"skin,omitempty"`
	Respiratory      string `json:"respiratory,omitempty"`
	Cardiovascular   string `json:"cardiovascular,omitempty"`
	Abdomen          string `json:"abdomen,omitempty"`
	Extremities      string `json:"extremities,omitempty"`
	Neurological     string `json:"neurological,omitempty"`
	OtherFindings    string `json:"other_findings,omitempty"`
	Diagnoses        string `json:"diagnoses,omitempty"`
	Plan             string `json:"plan,omitempty"`
	Comment          string `json:"comment,omitempty"`
}

type OrderInput struct {
	EncounterID *int64    `json:"encounter_id,omitempty"`
	EvolutionID *int64    `json:"evolution_id,omitempty"`
	Body        OrderBody `json:"body"`
}

// OrderUpdate replaces the whole order document. An empty Status keeps the
// current one.
type OrderUpdate struct {
	Body   OrderBody   `json:"body"`
	Status OrderStatus `json:"status,omitempty"`
}

// Attachment is an uploaded file accompanying a complementary study.
type Attachment struct {
	Filename string `json:"filename"`
	Content  []byte `json:"content"`
}

type ComplementaryInput struct {
	EncounterID      *int64              `json:"encounter_id,omitempty"`
	OrderID          *int64              `json:"order_id,omitempty"`
	Kind             ComplementaryKind   `json:"kind"`
	StudyName        string              `json:"study_name"`
	PerformedAt      *time.Time          `json:"performed_at,omitempty"`
	Result           string              `json:"result,omitempty"`
	Status           ComplementaryStatus `json:"status,omitempty"`
	Attachment       *Attachment         `json:"attachment,omitempty"`
	RemoveAttachment bool                `json:"remove_attachment,omitempty"`
}

type ReferralInput struct {
	EncounterID *int64 `json:"encounter_id,omitempty"`
	Service     string `json:"service"`
	Reason      string `json:"reason,omitempty"`
}

// ReferralUpdate edits a referral. Moving it to answered stamps the answer
// time and the answering user.
type ReferralUpdate struct {
	Service string         `json:"service"`
	Reason  string         `json:"reason,omitempty"`
	Status  ReferralStatus `json:"status,omitempty"`
	Answer  string         `json:"answer,omitempty"`
}

type ReportInput struct {
	EncounterID *int64     `json:"encounter_id,omitempty"`
	Kind        ReportKind `json:"kind"`
	Content     string     `json:"content,omitempty"`
	FilePath    string     `json:"file_path,omitempty"`
}

type PrescriptionInput struct {
	EncounterID *int64           `json:"encounter_id,omitempty"`
	EvolutionID *int64           `json:"evolution_id,omitempty"`
	Kind        PrescriptionKind `json:"kind"`
	Body        string           `json:"body"`
}

// Read side. Encrypted columns surface as cryptostore.Field so a single
// undecryptable value never hides the rest of the chart.

type ConditionView struct {
	Present bool              `json:"present"`
	Detail  cryptostore.Field `json:"detail"`
}

type HistoryView struct {
	Asthma          ConditionView     `json:"asthma"`
	Hypertension    ConditionView     `json:"hypertension"`
	Diabetes        ConditionView     `json:"diabetes"`
	HeartDisease    ConditionView     `json:"heart_disease"`
	OtherConditions ConditionView     `json:"other_conditions"`
	Allergies       cryptostore.Field `json:"allergies"`
	SurgicalHistory cryptostore.Field `json:"surgical_history"`
	FamilyMother    cryptostore.Field `json:"family_mother"`
	FamilyFather    cryptostore.Field `json:"family_father"`
	FamilySiblings  cryptostore.Field `json:"family_siblings"`
	FamilyChildren  cryptostore.Field `json:"family_children"`
	HabitTobacco    cryptostore.Field `json:"habit_tobacco"`
	HabitAlcohol    cryptostore.Field `json:"habit_alcohol"`
	HabitDrugs      cryptostore.Field `json:"habit_drugs"`
	HabitCoffee     cryptostore.Field `json:"habit_coffee"`
	WeightLoss      cryptostore.Field `json:"weight_loss"`
}

type PatientRecord struct {
	ID                    int64             `json:"id"`
	ChartNumber           string            `json:"chart_number"`
	NationalID            cryptostore.Field `json:"national_id"`
	FirstNames            cryptostore.Field `json:"first_names"`
	LastNames             cryptostore.Field `json:"last_names"`
	Sex                   Sex               `json:"sex,omitempty"`
	BirthDate             string            `json:"birth_date,omitempty"`
	Age                   *int              `json:"age,omitempty"`
	BirthPlace            cryptostore.Field `json:"birth_place"`
	MaritalStatus         cryptostore.Field `json:"marital_status"`
	HomePhone             cryptostore.Field `json:"home_phone"`
	MobilePhone           cryptostore.Field `json:"mobile_phone"`
	Email                 cryptostore.Field `json:"email"`
	Address               cryptostore.Field `json:"address"`
	Occupation            cryptostore.Field `json:"occupation"`
	EmergencyName         cryptostore.Field `json:"emergency_name"`
	EmergencyPhone        cryptostore.Field `json:"emergency_phone"`
	EmergencyRelationship cryptostore.Field `json:"emergency_relationship"`
	EmergencyAddress      cryptostore.Field `json:"emergency_address"`
	Notes                 cryptostore.Field `json:"notes"`
	History               HistoryView       `json:"history"`
	RegisteredAt          time.Time         `json:"registered_at"`
	RegisteredBy          string            `json:"registered_by"`
	UpdatedAt             *time.Time        `json:"updated_at,omitempty"`
	UpdatedBy             string            `json:"updated_by,omitempty"`
}

type PhysicalExamView struct {
	ID               int64             `json:"id"`
	RecordedAt       time.Time         `json:"recorded_at"`
	BloodPressure    cryptostore.Field `json:"blood_pressure"`
	Temperature      cryptostore.Field `json:"temperature"`
	RespiratoryRate  *int              `json:"respiratory_rate,omitempty"`
	HeartRate        *int              `json:"heart_rate,omitempty"`
	OxygenSaturation *int              `json:"oxygen_saturation,omitempty"`
	Glycemia         *int              `json:"glycemia,omitempty"`
	Skin             cryptostore.Field `json:"skin"`
	Respiratory      cryptostore.Field `json:"respiratory"`
	Cardiovascular   cryptostore.Field `json:"cardiovascular"`
	Abdomen          cryptostore.Field `json:"abdomen"`
	Gastrointestinal cryptostore.Field `json:"gastrointestinal"`
	Genitourinary    cryptostore.Field `json:"genitourinary"`
	Extremities      cryptostore.Field `json:"extremities"`
	Neurological     cryptostore.Field `json:"neurological"`
	OtherFindings    cryptostore.Field `json:"other_findings"`
}

type EncounterView struct {
	ID                 int64             `json:"id"`
	AdmittedAt         time.Time         `json:"admitted_at"`
	AdmittedBy         string            `json:"admitted_by"`
	ChiefComplaint     cryptostore.Field `json:"chief_complaint"`
	PresentIllness     cryptostore.Field `json:"present_illness"`
	AdmissionDiagnosis cryptostore.Field `json:"admission_diagnosis"`
	Open               bool              `json:"open"`
	DischargedAt       *time.Time        `json:"discharged_at,omitempty"`
	DischargedBy       string            `json:"discharged_by,omitempty"`
	Exam               *PhysicalExamView `json:"exam,omitempty"`
}

type EvolutionView struct {
	ID               int64             `json:"id"`
	EncounterID      int64             `json:"encounter_id"`
	RecordedAt       time.Time         `json:"recorded_at"`
	Author           string            `json:"author"`
	HospitalDay      *int              `json:"hospital_day,omitempty"`
	Subjective       cryptostore.Field `json:"subjective"`
	Objective        cryptostore.Field `json:"objective"`
	BloodPressure    cryptostore.Field `json:"blood_pressure"`
	Temperature      cryptostore.Field `json:"temperature"`
	HeartRate        *int              `json:"heart_rate,omitempty"`
	RespiratoryRate  *int              `json:"respiratory_rate,omitempty"`
	OxygenSaturation *int              `json:"oxygen_saturation,omitempty"`
	Skin             cryptostore.Field `json:"skin"`
	Respiratory      cryptostore.Field `json:"respiratory"`
	Cardiovascular   cryptostore.Field `json:"cardiovascular"`
	Abdomen          cryptostore.Field `json:"abdomen"`
	Extremities      cryptostore.Field `json:"extremities"`
	Neurological     cryptostore.Field `json:"neurological"`
	OtherFindings    cryptostore.Field `json:"other_findings"`
	Diagnoses        cryptostore.Field `json:"diagnoses"`
	Plan             cryptostore.Field `json:"plan"`
	Comment          cryptostore.Field `json:"comment"`
	UpdatedAt        *time.Time        `json:"updated_at,omitempty"`
	UpdatedBy        string            `json:"updated_by,omitempty"`
}

// OrderView carries the decoded body, or BodyError when the stored document
// could not be decrypted or parsed.
type OrderView struct {
	ID          int64       `json:"id"`
	EncounterID int64       `json:"encounter_id"`
	EvolutionID *int64      `json:"evolution_id,omitempty"`
	OrderedAt   time.Time   `json:"ordered_at"`
	Author      string      `json:"author"`
	Status      OrderStatus `json:"status"`
	Body        *OrderBody  `json:"body,omitempty"`
	BodyError   string      `json:"body_error,omitempty"`
	UpdatedAt   *time.Time  `json:"updated_at,omitempty"`
	UpdatedBy   string      `json:"updated_by,omitempty"`
}

type ComplementaryView struct {
	ID            int64               `json:"id"`
	EncounterID   *int64              `json:"encounter_id,omitempty"`
	OrderID       *int64              `json:"order_id,omitempty"`
	RegisteredAt  time.Time           `json:"registered_at"`
	RegisteredBy  string              `json:"registered_by"`
	Kind          ComplementaryKind   `json:"kind"`
	StudyName     cryptostore.Field   `json:"study_name"`
	PerformedAt   *time.Time          `json:"performed_at,omitempty"`
	Result        cryptostore.Field   `json:"result"`
	HasAttachment bool                `json:"has_attachment"`
	Status        ComplementaryStatus `json:"status"`
	UpdatedAt     *time.Time          `json:"updated_at,omitempty"`
	UpdatedBy     string              `json:"updated_by,omitempty"`
}

type ReferralView struct {
	ID          int64             `json:"id"`
	EncounterID *int64            `json:"encounter_id,omitempty"`
	RequestedAt time.Time         `json:"requested_at"`
	RequestedBy string            `json:"requested_by"`
	Service     cryptostore.Field `json:"service"`
	Reason      cryptostore.Field `json:"reason"`
	Status      ReferralStatus    `json:"status"`
	Answer      cryptostore.Field `json:"answer"`
	AnsweredAt  *time.Time        `json:"answered_at,omitempty"`
	AnsweredBy  string            `json:"answered_by,omitempty"`
}

type ReportView struct {
	ID          int64             `json:"id"`
	EncounterID *int64            `json:"encounter_id,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	Author      string            `json:"author"`
	Kind        ReportKind        `json:"kind"`
	Content     cryptostore.Field `json:"content"`
	FilePath    cryptostore.Field `json:"file_path"`
	UpdatedAt   *time.Time        `json:"updated_at,omitempty"`
	UpdatedBy   string            `json:"updated_by,omitempty"`
}

type PrescriptionView struct {
	ID          int64             `json:"id"`
	EncounterID *int64            `json:"encounter_id,omitempty"`
	EvolutionID *int64            `json:"evolution_id,omitempty"`
	IssuedAt    time.Time         `json:"issued_at"`
	Author      string            `json:"author"`
	Kind        PrescriptionKind  `json:"kind"`
	Body        cryptostore.Field `json:"body"`
	UpdatedAt   *time.Time        `json:"updated_at,omitempty"`
	UpdatedBy   string            `json:"updated_by,omitempty"`
}

// PatientView is the whole chart of one patient. Lists are newest first.
type PatientView struct {
	Patient         PatientRecord       `json:"patient"`
	Encounters      []EncounterView     `json:"encounters"`
	Evolutions      []EvolutionView     `json:"evolutions"`
	Orders          []OrderView         `json:"orders"`
	Complementaries []ComplementaryView `json:"complementaries"`
	Referrals       []ReferralView      `json:"referrals"`
	Reports         []ReportView        `json:"reports"`
	Prescriptions   []PrescriptionView  `json:"prescriptions"`
}

type PatientSummary struct {
	ID           int64             `json:"id"`
	ChartNumber  string            `json:"chart_number"`
	FullName     string            `json:"full_name"`
	NationalID   cryptostore.Field `json:"national_id"`
	Sex          Sex               `json:"sex,omitempty"`
	BirthDate    string            `json:"birth_date,omitempty"`
	Age          *int              `json:"age,omitempty"`
	RegisteredAt time.Time         `json:"registered_at"`
}
