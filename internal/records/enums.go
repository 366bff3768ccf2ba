package records

// Closed value sets stored as text and checked by the schema.

type Sex string

const (
	SexFemale Sex = "female"
	SexMale   Sex = "male"
	SexOther  Sex = "other"
)

func (s Sex) Valid() bool {
	switch s {
	case SexFemale, SexMale, SexOther:
		return true
	}
	return false
}

type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderDone      OrderStatus = "done"
	OrderCancelled OrderStatus = "cancelled"
	OrderPartial   OrderStatus = "partial"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderPending, OrderDone, OrderCancelled, OrderPartial:
		return true
	}
	return false
}

type ComplementaryKind string

const (
	KindLaboratory ComplementaryKind = "laboratory"
	KindImaging    ComplementaryKind = "imaging"
	KindPathology  ComplementaryKind = "pathology"
	KindEndoscopy  ComplementaryKind = "endoscopy"
	KindOtherStudy ComplementaryKind = "other"
)

func (k ComplementaryKind) Valid() bool {
	switch k {
	case KindLaboratory, KindImaging, KindPathology, KindEndoscopy, KindOtherStudy:
		return true
	}
	return false
}

type ComplementaryStatus string

const (
	StudyRequested   ComplementaryStatus = "requested"
	StudySampleTaken ComplementaryStatus = "sample_taken"
	StudyInProgress  ComplementaryStatus = "in_progress"
	StudyCompleted   ComplementaryStatus = "completed"
	StudyReported    ComplementaryStatus = "reported"
	StudyCancelled   ComplementaryStatus = "cancelled"
)

func (s ComplementaryStatus) Valid() bool {
	switch s {
	case StudyRequested, StudySampleTaken, StudyInProgress, StudyCompleted, StudyReported, StudyCancelled:
		return true
	}
	return false
}

type ReferralStatus string

const (
	ReferralPending   ReferralStatus = "pending"
	ReferralAnswered  ReferralStatus = "answered"
	ReferralCancelled ReferralStatus = "cancelled"
)

func (s ReferralStatus) Valid() bool {
	switch s {
	case ReferralPending, ReferralAnswered, ReferralCancelled:
		return true
	}
	return false
}

type ReportKind string

const (
	ReportDischarge      ReportKind = "discharge"
	ReportHistorySummary ReportKind = "history_summary"
	ReportProcedure      ReportKind = "procedure"
	ReportOther          ReportKind = "other"
)

func (k ReportKind) Valid() bool {
	switch k {
	case ReportDischarge, ReportHistorySummary, ReportProcedure, ReportOther:
		return true
	}
	return false
}

type PrescriptionKind string

const (
	PrescriptionTreatment    PrescriptionKind = "treatment"
	PrescriptionRest         PrescriptionKind = "rest"
	PrescriptionInstructions PrescriptionKind = "instructions"
	PrescriptionOther        PrescriptionKind = "other"
)

func (k PrescriptionKind) Valid() bool {
	switch k {
	case PrescriptionTreatment, PrescriptionRest, PrescriptionInstructions, PrescriptionOther:
		return true
	}
	return false
}
