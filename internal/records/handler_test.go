package records

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/apperr"
	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/attachments"
	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/auth"
	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/pagination"
	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/response"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// mockService implements ServiceInterface for testing. Methods without a
// func field panic through the nil embedded interface.
type mockService struct {
	ServiceInterface
	createPatientFunc      func(ctx context.Context, in NewPatient, actorID int64) (*CreatedPatient, error)
	getDetailsFunc         func(ctx context.Context, patientID int64) (*PatientView, error)
	getPatientListFunc     func(ctx context.Context, search string, params pagination.Params) ([]PatientSummary, int, error)
	getLatestEncounterFunc func(ctx context.Context, patientID int64) (int64, error)
	addComplementaryFunc   func(ctx context.Context, patientID int64, in ComplementaryInput, actorID int64) (int64, error)
	getAttachmentFunc      func(ctx context.Context, complementaryID int64) (string, error)
	updateIntakeFunc       func(ctx context.Context, encounterID, patientID int64, up IntakeUpdate, actorID int64) error
	addEvolutionFunc       func(ctx context.Context, patientID int64, in EvolutionInput, actorID int64) (int64, error)
}

func (m *mockService) CreatePatient(ctx context.Context, in NewPatient, actorID int64) (*CreatedPatient, error) {
	return m.createPatientFunc(ctx, in, actorID)
}

func (m *mockService) GetDetails(ctx context.Context, patientID int64) (*PatientView, error) {
	return m.getDetailsFunc(ctx, patientID)
}

func (m *mockService) GetPatientList(ctx context.Context, search string, params pagination.Params) ([]PatientSummary, int, error) {
	return m.getPatientListFunc(ctx, search, params)
}

func (m *mockService) GetLatestEncounterID(ctx context.Context, patientID int64) (int64, error) {
	return m.getLatestEncounterFunc(ctx, patientID)
}

func (m *mockService) AddComplementary(ctx context.Context, patientID int64, in ComplementaryInput, actorID int64) (int64, error) {
	return m.addComplementaryFunc(ctx, patientID, in, actorID)
}

func (m *mockService) GetComplementaryAttachment(ctx context.Context, complementaryID int64) (string, error) {
	return m.getAttachmentFunc(ctx, complementaryID)
}

func (m *mockService) UpdateIntakeAndHistory(ctx context.Context, encounterID, patientID int64, up IntakeUpdate, actorID int64) error {
	return m.updateIntakeFunc(ctx, encounterID, patientID, up, actorID)
}

func (m *mockService) AddEvolution(ctx context.Context, patientID int64, in EvolutionInput, actorID int64) (int64, error) {
	return m.addEvolutionFunc(ctx, patientID, in, actorID)
}

// serve routes a single request through a mux router so path variables
// resolve the same way as in production.
func serve(handler http.HandlerFunc, pattern string, req *http.Request) *httptest.ResponseRecorder {
	router := mux.NewRouter()
	router.HandleFunc(pattern, handler)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func withUser(req *http.Request, userID int64) *http.Request {
	principal := &auth.Principal{UserID: userID, Username: "dra.perez", Role: "clinician"}
	return req.WithContext(auth.ContextWithPrincipal(req.Context(), principal))
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) response.Envelope {
	t.Helper()
	var env response.Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env
}

func TestCreatePatient_Handler(t *testing.T) {
	var gotActor int64
	var gotName string
	svc := &mockService{
		createPatientFunc: func(ctx context.Context, in NewPatient, actorID int64) (*CreatedPatient, error) {
			gotActor, gotName = actorID, in.FirstNames
			return &CreatedPatient{ID: 42, ChartNumber: "H-000042", EncounterID: 77}, nil
		},
	}
	h := NewHandler(svc, nil, zap.NewNop())

	body := `{"first_names":"Ana","last_names":"Ruiz","national_id":"V-1","history":{"hypertension":{"present":true}},"intake":{"chief_complaint":"chest pain"},"exam":{"heart_rate":98}}`
	req := withUser(httptest.NewRequest(http.MethodPost, "/patients", strings.NewReader(body)), 5)
	rec := serve(h.CreatePatient, "/patients", req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	env := decodeEnvelope(t, rec)
	assert.True(t, env.Success)
	require.NotNil(t, env.ID)
	assert.Equal(t, int64(42), *env.ID)
	assert.Contains(t, env.Message, "H-000042")
	assert.Equal(t, int64(5), gotActor)
	assert.Equal(t, "Ana", gotName)
}

func TestCreatePatient_HandlerRejections(t *testing.T) {
	svc := &mockService{
		createPatientFunc: func(ctx context.Context, in NewPatient, actorID int64) (*CreatedPatient, error) {
			return nil, apperr.InvalidField("first_names", "first names are required")
		},
	}
	h := NewHandler(svc, nil, zap.NewNop())

	tests := []struct {
		name       string
		body       string
		user       bool
		wantStatus int
		wantError  string
	}{
		{"no principal", `{}`, false, http.StatusUnauthorized, "unauthenticated"},
		{"malformed json", `{"first_names":`, true, http.StatusBadRequest, "invalid_request"},
		{"unknown field", `{"nickname":"ana"}`, true, http.StatusBadRequest, "invalid_request"},
		{"validation", `{"first_names":""}`, true, http.StatusBadRequest, "validation_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/patients", strings.NewReader(tt.body))
			if tt.user {
				req = withUser(req, 1)
			}
			rec := serve(h.CreatePatient, "/patients", req)
			assert.Equal(t, tt.wantStatus, rec.Code)
			env := decodeEnvelope(t, rec)
			assert.False(t, env.Success)
			assert.Equal(t, tt.wantError, env.Error)
		})
	}

	req := withUser(httptest.NewRequest(http.MethodPost, "/patients", strings.NewReader(`{"first_names":""}`)), 1)
	env := decodeEnvelope(t, serve(h.CreatePatient, "/patients", req))
	assert.Equal(t, "first names are required", env.Fields["first_names"])
}

func TestGetPatient_Handler(t *testing.T) {
	svc := &mockService{
		getDetailsFunc: func(ctx context.Context, patientID int64) (*PatientView, error) {
			if patientID != 3 {
				return nil, &apperr.NotFoundError{Entity: "patient", ID: patientID}
			}
			return &PatientView{Patient: PatientRecord{ID: 3, ChartNumber: "H-000003"}}, nil
		},
	}
	h := NewHandler(svc, nil, zap.NewNop())

	rec := serve(h.GetPatient, "/patients/{id}", httptest.NewRequest(http.MethodGet, "/patients/3", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"chart_number":"H-000003"`)

	rec = serve(h.GetPatient, "/patients/{id}", httptest.NewRequest(http.MethodGet, "/patients/4", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decodeEnvelope(t, rec).Error)

	rec = serve(h.GetPatient, "/patients/{id}", httptest.NewRequest(http.MethodGet, "/patients/abc", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_id", decodeEnvelope(t, rec).Error)
}

func TestListPatients_Handler(t *testing.T) {
	var gotSearch string
	var gotParams pagination.Params
	svc := &mockService{
		getPatientListFunc: func(ctx context.Context, search string, params pagination.Params) ([]PatientSummary, int, error) {
			gotSearch, gotParams = search, params
			return nil, 0, nil
		},
	}
	h := NewHandler(svc, nil, zap.NewNop())

	rec := serve(h.ListPatients, "/patients", httptest.NewRequest(http.MethodGet, "/patients?search=H-0001&page=2&page_size=5", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "H-0001", gotSearch)
	assert.Equal(t, 2, gotParams.Page)
	assert.Equal(t, 5, gotParams.PageSize)
	assert.Contains(t, rec.Body.String(), `"patients":[]`)
}

func TestGetLatestEncounter_NoActiveEncounter(t *testing.T) {
	svc := &mockService{
		getLatestEncounterFunc: func(ctx context.Context, patientID int64) (int64, error) {
			return 0, &apperr.NoActiveEncounterError{PatientID: patientID}
		},
	}
	h := NewHandler(svc, nil, zap.NewNop())

	rec := serve(h.GetLatestEncounter, "/patients/{id}/encounters/latest", httptest.NewRequest(http.MethodGet, "/patients/8/encounters/latest", nil))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "no_active_encounter", decodeEnvelope(t, rec).Error)
}

func TestUpdateIntake_PassesBothPathIDs(t *testing.T) {
	var gotEncounter, gotPatient int64
	svc := &mockService{
		updateIntakeFunc: func(ctx context.Context, encounterID, patientID int64, up IntakeUpdate, actorID int64) error {
			gotEncounter, gotPatient = encounterID, patientID
			return nil
		},
	}
	h := NewHandler(svc, nil, zap.NewNop())

	req := withUser(httptest.NewRequest(http.MethodPut, "/patients/3/encounters/9/intake", strings.NewReader(`{"intake":{"chief_complaint":"fever"}}`)), 1)
	rec := serve(h.UpdateIntake, "/patients/{id}/encounters/{encounterID}/intake", req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, int64(9), gotEncounter)
	assert.Equal(t, int64(3), gotPatient)
}

func TestAddEvolution_Handler(t *testing.T) {
	svc := &mockService{
		addEvolutionFunc: func(ctx context.Context, patientID int64, in EvolutionInput, actorID int64) (int64, error) {
			assert.Equal(t, "stable", in.Objective)
			return 15, nil
		},
	}
	h := NewHandler(svc, nil, zap.NewNop())

	req := withUser(httptest.NewRequest(http.MethodPost, "/patients/3/evolutions", strings.NewReader(`{"objective":"stable"}`)), 1)
	rec := serve(h.AddEvolution, "/patients/{id}/evolutions", req)
	require.Equal(t, http.StatusCreated, rec.Code)
	env := decodeEnvelope(t, rec)
	require.NotNil(t, env.ID)
	assert.Equal(t, int64(15), *env.ID)
}

func TestAddComplementary_Multipart(t *testing.T) {
	var got ComplementaryInput
	svc := &mockService{
		addComplementaryFunc: func(ctx context.Context, patientID int64, in ComplementaryInput, actorID int64) (int64, error) {
			got = in
			return 21, nil
		},
	}
	h := NewHandler(svc, nil, zap.NewNop())

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	require.NoError(t, form.WriteField("data", `{"kind":"imaging","study_name":"Chest X-ray"}`))
	part, err := form.CreateFormFile("attachment", "rx.png")
	require.NoError(t, err)
	_, err = part.Write([]byte("fake png"))
	require.NoError(t, err)
	require.NoError(t, form.Close())

	req := httptest.NewRequest(http.MethodPost, "/patients/3/complementaries", &buf)
	req.Header.Set("Content-Type", form.FormDataContentType())
	rec := serve(h.AddComplementary, "/patients/{id}/complementaries", withUser(req, 1))

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, KindImaging, got.Kind)
	assert.Equal(t, "Chest X-ray", got.StudyName)
	require.NotNil(t, got.Attachment)
	assert.Equal(t, "rx.png", got.Attachment.Filename)
	assert.Equal(t, "fake png", string(got.Attachment.Content))
}

func TestDownloadAttachment(t *testing.T) {
	files := attachments.NewStore(t.TempDir(), zap.NewNop())
	rel, err := files.Save(3, "lab results.pdf", strings.NewReader("%PDF-1.4"))
	require.NoError(t, err)

	svc := &mockService{
		getAttachmentFunc: func(ctx context.Context, complementaryID int64) (string, error) {
			switch complementaryID {
			case 1:
				return rel, nil
			case 2:
				return "complementaries/3/missing.pdf", nil
			}
			return "", &apperr.NotFoundError{Entity: "complementary", ID: complementaryID}
		},
	}
	h := NewHandler(svc, files, zap.NewNop())

	rec := serve(h.DownloadAttachment, "/complementaries/{id}/attachment", httptest.NewRequest(http.MethodGet, "/complementaries/1/attachment", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	content, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4", string(content))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "lab")
	assert.NotContains(t, rec.Header().Get("Content-Disposition"), "_")

	rec = serve(h.DownloadAttachment, "/complementaries/{id}/attachment", httptest.NewRequest(http.MethodGet, "/complementaries/2/attachment", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(h.DownloadAttachment, "/complementaries/{id}/attachment", httptest.NewRequest(http.MethodGet, "/complementaries/3/attachment", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDownloadName(t *testing.T) {
	assert.Equal(t, "report.pdf", downloadName("0123abcd_report.pdf"))
	assert.Equal(t, "a_b.pdf", downloadName("0123abcd_a_b.pdf"))
	assert.Equal(t, "plain.pdf", downloadName("plain.pdf"))
}
