package http

import (
	"net/http"

	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/audit"
	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/auth"
	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/records"
	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/response"
	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/telemetry"
	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/users"
	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"
	"go.uber.org/zap"
)

// Dependencies are the handlers and middleware inputs the router wires.
type Dependencies struct {
	ServiceName    string
	Records        *records.Handler
	Users          *users.Handler
	Audit          *audit.Handler
	Verifier       *auth.Verifier
	Permissions    auth.Permissions
	Metrics        *telemetry.Metrics
	Logger         *zap.Logger
	AllowedOrigins []string
}

// NewHandler is the router wrapped in CORS handling, so preflight requests
// are answered before route matching.
func NewHandler(deps Dependencies) http.Handler {
	return CORSMiddleware(deps.AllowedOrigins)(SetupRouter(deps))
}

type routes struct {
	*mux.Router
	authenticate func(http.Handler) http.Handler
	require      func(permission string) func(http.Handler) http.Handler
}

// handle registers h behind authentication and the given permission.
func (rt routes) handle(method, path, permission string, h http.HandlerFunc) {
	rt.Handle(path, rt.authenticate(rt.require(permission)(h))).Methods(method)
}

// SetupRouter initializes all routes for the application
func SetupRouter(deps Dependencies) *mux.Router {
	var (
		authMetrics auth.MetricsRecorder
		permMetrics auth.PermissionMetricsRecorder
	)
	if deps.Metrics != nil {
		authMetrics = deps.Metrics
		permMetrics = deps.Metrics
	}

	r := mux.NewRouter()
	r.Use(otelmux.Middleware(deps.ServiceName))
	if deps.Metrics != nil {
		r.Use(deps.Metrics.HTTPMiddleware)
	}
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		response.Fail(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
	})
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		response.Fail(w, http.StatusNotFound, "not_found", "Route not found")
	})

	rt := routes{
		Router:       r,
		authenticate: auth.MiddlewareWithMetrics(deps.Verifier, deps.Logger, authMetrics),
		require: func(permission string) func(http.Handler) http.Handler {
			return auth.RequirePermissionWithMetrics(permission, deps.Permissions, deps.Logger, permMetrics)
		},
	}

	// Public endpoints
	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		response.OK(w, "ok", map[string]string{"status": "ok", "service": deps.ServiceName})
	}).Methods(http.MethodGet)
	r.HandleFunc("/auth/login", deps.Users.Login).Methods(http.MethodPost)

	// Session endpoints only need a valid token
	r.Handle("/auth/logout", rt.authenticate(http.HandlerFunc(deps.Users.Logout))).Methods(http.MethodPost)
	r.Handle("/auth/me", rt.authenticate(http.HandlerFunc(deps.Users.Me))).Methods(http.MethodGet)

	rec := deps.Records

	// Patients
	rt.handle(http.MethodGet, "/patients", auth.PermPatientView, rec.ListPatients)
	rt.handle(http.MethodPost, "/patients", auth.PermPatientWrite, rec.CreatePatient)
	rt.handle(http.MethodGet, "/patients/{id}", auth.PermPatientView, rec.GetPatient)
	rt.handle(http.MethodDelete, "/patients/{id}", auth.PermPatientDelete, rec.DeletePatient)
	rt.handle(http.MethodPut, "/patients/{id}/demographics", auth.PermPatientWrite, rec.UpdateDemographics)
	rt.handle(http.MethodPut, "/patients/{id}/encounters/{encounterID}/intake", auth.PermPatientWrite, rec.UpdateIntake)
	rt.handle(http.MethodGet, "/patients/{id}/latest-encounter", auth.PermPatientView, rec.GetLatestEncounter)

	// Encounters
	rt.handle(http.MethodPost, "/patients/{id}/encounters", auth.PermPatientWrite, rec.OpenEncounter)
	rt.handle(http.MethodPost, "/encounters/{id}/close", auth.PermPatientWrite, rec.CloseEncounter)

	// Clinical notes
	rt.handle(http.MethodPost, "/patients/{id}/evolutions", auth.PermRecordWrite, rec.AddEvolution)
	rt.handle(http.MethodPut, "/evolutions/{id}", auth.PermRecordWrite, rec.UpdateEvolution)
	rt.handle(http.MethodPost, "/patients/{id}/orders", auth.PermRecordWrite, rec.AddOrder)
	rt.handle(http.MethodPut, "/orders/{id}", auth.PermRecordWrite, rec.UpdateOrder)
	rt.handle(http.MethodPost, "/patients/{id}/complementaries", auth.PermRecordWrite, rec.AddComplementary)
	rt.handle(http.MethodPut, "/complementaries/{id}", auth.PermRecordWrite, rec.UpdateComplementary)
	rt.handle(http.MethodGet, "/complementaries/{id}/attachment", auth.PermPatientView, rec.DownloadAttachment)
	rt.handle(http.MethodPost, "/patients/{id}/referrals", auth.PermRecordWrite, rec.AddReferral)
	rt.handle(http.MethodPut, "/referrals/{id}", auth.PermRecordWrite, rec.UpdateReferral)
	rt.handle(http.MethodPost, "/patients/{id}/reports", auth.PermRecordWrite, rec.AddReport)
	rt.handle(http.MethodPut, "/reports/{id}", auth.PermRecordWrite, rec.UpdateReport)
	rt.handle(http.MethodPost, "/patients/{id}/prescriptions", auth.PermRecordWrite, rec.AddPrescription)
	rt.handle(http.MethodPut, "/prescriptions/{id}", auth.PermRecordWrite, rec.UpdatePrescription)

	// User management
	rt.handle(http.MethodGet, "/users", auth.PermUserManage, deps.Users.ListUsers)
	rt.handle(http.MethodPost, "/users", auth.PermUserManage, deps.Users.CreateUser)
	rt.handle(http.MethodGet, "/users/{id}", auth.PermUserManage, deps.Users.GetUser)
	rt.handle(http.MethodPut, "/users/{id}", auth.PermUserManage, deps.Users.UpdateUser)
	rt.handle(http.MethodPost, "/users/{id}/toggle-active", auth.PermUserManage, deps.Users.ToggleActive)

	// Audit log
	rt.handle(http.MethodGet, "/audit", auth.PermAuditView, deps.Audit.Query)
	rt.handle(http.MethodGet, "/audit/export", auth.PermAuditView, deps.Audit.Export)

	return r
}
