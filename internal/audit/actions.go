package audit

// Action identifies the kind of mutation an entry records.
type Action string

const (
	ActionSystemInit Action = "SYSTEM_INIT"

	ActionLoginSuccess Action = "LOGIN_SUCCESS"
	ActionLoginFailed  Action = "LOGIN_FAILED"
	ActionLogout       Action = "LOGOUT"

	ActionCreateUser       Action = "CREATE_USER"
	ActionUpdateUser       Action = "UPDATE_USER"
	ActionToggleUserStatus Action = "TOGGLE_USER_STATUS"

	ActionCreatePatient             Action = "CREATE_PATIENT"
	ActionUpdatePatientDemographics Action = "UPDATE_PATIENT_DEMOGRAPHICS"
	ActionUpdateIntakeAndHistory    Action = "UPDATE_INTAKE_AND_HISTORY"
	ActionDeletePatient             Action = "DELETE_PATIENT"

	ActionOpenEncounter  Action = "OPEN_ENCOUNTER"
	ActionCloseEncounter Action = "CLOSE_ENCOUNTER"

	ActionCreateEvolution Action = "CREATE_EVOLUTION"
	ActionUpdateEvolution Action = "UPDATE_EVOLUTION"

	ActionCreateOrder Action = "CREATE_ORDER"
	ActionUpdateOrder Action = "UPDATE_ORDER"

	ActionCreateComplementary Action = "CREATE_COMPLEMENTARY"
	ActionUpdateComplementary Action = "UPDATE_COMPLEMENTARY"

	ActionCreateReferral Action = "CREATE_REFERRAL"
	ActionUpdateReferral Action = "UPDATE_REFERRAL"

	ActionCreateReport Action = "CREATE_REPORT"
	ActionUpdateReport Action = "UPDATE_REPORT"

	ActionCreatePrescription Action = "CREATE_PRESCRIPTION"
	ActionUpdatePrescription Action = "UPDATE_PRESCRIPTION"
)

// Table names referenced by entries.
const (
	TableUsers           = "users"
	TablePatients        = "patients"
	TableEncounters      = "encounters"
	TableEvolutions      = "evolutions"
	TableMedicalOrders   = "medical_orders"
	TableComplementaries = "complementaries"
	TableReferrals       = "referrals"
	TableReports         = "reports"
	TablePrescriptions   = "prescriptions"
)
