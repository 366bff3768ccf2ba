package records

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/attachments"
	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/auth"
	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/pagination"
	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/response"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

type Handler struct {
	service ServiceInterface
	files   *attachments.Store
	logger  *zap.Logger
}

func NewHandler(service ServiceInterface, files *attachments.Store, logger *zap.Logger) *Handler {
	return &Handler{
		service: service,
		files:   files,
		logger:  logger,
	}
}

type PatientListResponse struct {
	Patients   []PatientSummary `json:"patients"`
	Pagination pagination.Meta  `json:"pagination"`
}

// actor returns the authenticated user id, answering 401 when the request
// carries none.
func actor(w http.ResponseWriter, r *http.Request) (int64, bool) {
	principal, ok := auth.FromContext(r.Context())
	if !ok {
		response.Fail(w, http.StatusUnauthorized, "unauthenticated", "User not authenticated")
		return 0, false
	}
	return principal.UserID, true
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	if err != nil || id <= 0 {
		response.Fail(w, http.StatusBadRequest, "invalid_id", fmt.Sprintf("Invalid %s in path", name))
		return 0, false
	}
	return id, true
}

// target resolves the acting user and the {id} path variable together.
func target(w http.ResponseWriter, r *http.Request) (actorID, id int64, ok bool) {
	if actorID, ok = actor(w, r); !ok {
		return 0, 0, false
	}
	if id, ok = pathID(w, r, "id"); !ok {
		return 0, 0, false
	}
	return actorID, id, true
}

func (h *Handler) ListPatients(w http.ResponseWriter, r *http.Request) {
	params := pagination.ParseParams(r)
	patients, total, err := h.service.GetPatientList(r.Context(), r.URL.Query().Get("search"), params)
	if err != nil {
		response.Error(w, h.logger, err)
		return
	}
	if patients == nil {
		patients = []PatientSummary{}
	}
	response.OK(w, "Patients retrieved successfully", PatientListResponse{
		Patients:   patients,
		Pagination: params.Meta(total),
	})
}

func (h *Handler) CreatePatient(w http.ResponseWriter, r *http.Request) {
	actorID, ok := actor(w, r)
	if !ok {
		return
	}
	var req NewPatient
	if !response.DecodeJSON(w, r, &req) {
		return
	}
	created, err := h.service.CreatePatient(r.Context(), req, actorID)
	if err != nil {
		response.Error(w, h.logger, err)
		return
	}
	response.JSON(w, http.StatusCreated, response.Envelope{
		Success: true,
		Message: "Patient registered with chart number " + created.ChartNumber,
		ID:      &created.ID,
		Data:    created,
	})
}

func (h *Handler) GetPatient(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	view, err := h.service.GetDetails(r.Context(), id)
	if err != nil {
		response.Error(w, h.logger, err)
		return
	}
	response.OK(w, "Patient retrieved successfully", view)
}

func (h *Handler) DeletePatient(w http.ResponseWriter, r *http.Request) {
	actorID, id, ok := target(w, r)
	if !ok {
		return
	}
	if err := h.service.DeletePatient(r.Context(), id, actorID); err != nil {
		response.Error(w, h.logger, err)
		return
	}
	response.OK(w, "Patient deleted successfully", nil)
}

func (h *Handler) UpdateDemographics(w http.ResponseWriter, r *http.Request) {
	actorID, id, ok := target(w, r)
	if !ok {
		return
	}
	var req Demographics
	if !response.DecodeJSON(w, r, &req) {
		return
	}
	if err := h.service.UpdatePatientDemographics(r.Context(), id, req, actorID); err != nil {
		response.Error(w, h.logger, err)
		return
	}
	response.OK(w, "Demographics updated successfully", nil)
}

func (h *Handler) UpdateIntake(w http.ResponseWriter, r *http.Request) {
	actorID, patientID, ok := target(w, r)
	if !ok {
		return
	}
	encounterID, ok := pathID(w, r, "encounterID")
	if !ok {
		return
	}
	var req IntakeUpdate
	if !response.DecodeJSON(w, r, &req) {
		return
	}
	if err := h.service.UpdateIntakeAndHistory(r.Context(), encounterID, patientID, req, actorID); err != nil {
		response.Error(w, h.logger, err)
		return
	}
	response.OK(w, "Intake and history updated successfully", nil)
}

func (h *Handler) GetLatestEncounter(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	encounterID, err := h.service.GetLatestEncounterID(r.Context(), id)
	if err != nil {
		response.Error(w, h.logger, err)
		return
	}
	response.JSON(w, http.StatusOK, response.Envelope{Success: true, Message: "Latest encounter", ID: &encounterID})
}

func (h *Handler) OpenEncounter(w http.ResponseWriter, r *http.Request) {
	actorID, patientID, ok := target(w, r)
	if !ok {
		return
	}
	var req EncounterInput
	if !response.DecodeJSON(w, r, &req) {
		return
	}
	id, err := h.service.OpenEncounter(r.Context(), patientID, req, actorID)
	if err != nil {
		response.Error(w, h.logger, err)
		return
	}
	response.Created(w, "Encounter opened successfully", id)
}

func (h *Handler) CloseEncounter(w http.ResponseWriter, r *http.Request) {
	actorID, id, ok := target(w, r)
	if !ok {
		return
	}
	if err := h.service.CloseEncounter(r.Context(), id, actorID); err != nil {
		response.Error(w, h.logger, err)
		return
	}
	response.OK(w, "Encounter closed successfully", nil)
}

// create decodes a patient-scoped body into req and runs add.
func create[T any](h *Handler, w http.ResponseWriter, r *http.Request, message string, add func(patientID int64, in T, actorID int64) (int64, error)) {
	actorID, patientID, ok := target(w, r)
	if !ok {
		return
	}
	var req T
	if !response.DecodeJSON(w, r, &req) {
		return
	}
	id, err := add(patientID, req, actorID)
	if err != nil {
		response.Error(w, h.logger, err)
		return
	}
	response.Created(w, message, id)
}

// update decodes a body for the row named by {id} and runs apply.
func update[T any](h *Handler, w http.ResponseWriter, r *http.Request, message string, apply func(id int64, in T, actorID int64) error) {
	actorID, id, ok := target(w, r)
	if !ok {
		return
	}
	var req T
	if !response.DecodeJSON(w, r, &req) {
		return
	}
	if err := apply(id, req, actorID); err != nil {
		response.Error(w, h.logger, err)
		return
	}
	response.OK(w, message, nil)
}

func (h *Handler) AddEvolution(w http.ResponseWriter, r *http.Request) {
	create(h, w, r, "Evolution recorded successfully", func(patientID int64, in EvolutionInput, actorID int64) (int64, error) {
		return h.service.AddEvolution(r.Context(), patientID, in, actorID)
	})
}

func (h *Handler) UpdateEvolution(w http.ResponseWriter, r *http.Request) {
	update(h, w, r, "Evolution updated successfully", func(id int64, in EvolutionInput, actorID int64) error {
		return h.service.UpdateEvolution(r.Context(), id, in, actorID)
	})
}

func (h *Handler) AddOrder(w http.ResponseWriter, r *http.Request) {
	create(h, w, r, "Medical order recorded successfully", func(patientID int64, in OrderInput, actorID int64) (int64, error) {
		return h.service.AddOrder(r.Context(), patientID, in, actorID)
	})
}

func (h *Handler) UpdateOrder(w http.ResponseWriter, r *http.Request) {
	update(h, w, r, "Medical order updated successfully", func(id int64, in OrderUpdate, actorID int64) error {
		return h.service.UpdateOrder(r.Context(), id, in, actorID)
	})
}

func (h *Handler) AddReferral(w http.ResponseWriter, r *http.Request) {
	create(h, w, r, "Referral requested successfully", func(patientID int64, in ReferralInput, actorID int64) (int64, error) {
		return h.service.AddReferral(r.Context(), patientID, in, actorID)
	})
}

func (h *Handler) UpdateReferral(w http.ResponseWriter, r *http.Request) {
	update(h, w, r, "Referral updated successfully", func(id int64, in ReferralUpdate, actorID int64) error {
		return h.service.UpdateReferral(r.Context(), id, in, actorID)
	})
}

func (h *Handler) AddReport(w http.ResponseWriter, r *http.Request) {
	create(h, w, r, "Report written successfully", func(patientID int64, in ReportInput, actorID int64) (int64, error) {
		return h.service.AddReport(r.Context(), patientID, in, actorID)
	})
}

func (h *Handler) UpdateReport(w http.ResponseWriter, r *http.Request) {
	update(h, w, r, "Report updated successfully", func(id int64, in ReportInput, actorID int64) error {
		return h.service.UpdateReport(r.Context(), id, in, actorID)
	})
}

func (h *Handler) AddPrescription(w http.ResponseWriter, r *http.Request) {
	create(h, w, r, "Prescription issued successfully", func(patientID int64, in PrescriptionInput, actorID int64) (int64, error) {
		return h.service.AddPrescription(r.Context(), patientID, in, actorID)
	})
}

func (h *Handler) UpdatePrescription(w http.ResponseWriter, r *http.Request) {
	update(h, w, r, "Prescription updated successfully", func(id int64, in PrescriptionInput, actorID int64) error {
		return h.service.UpdatePrescription(r.Context(), id, in, actorID)
	})
}

func (h *Handler) AddComplementary(w http.ResponseWriter, r *http.Request) {
	actorID, patientID, ok := target(w, r)
	if !ok {
		return
	}
	req, ok := decodeComplementary(w, r)
	if !ok {
		return
	}
	id, err := h.service.AddComplementary(r.Context(), patientID, req, actorID)
	if err != nil {
		response.Error(w, h.logger, err)
		return
	}
	response.Created(w, "Study registered successfully", id)
}

func (h *Handler) UpdateComplementary(w http.ResponseWriter, r *http.Request) {
	actorID, id, ok := target(w, r)
	if !ok {
		return
	}
	req, ok := decodeComplementary(w, r)
	if !ok {
		return
	}
	if err := h.service.UpdateComplementary(r.Context(), id, req, actorID); err != nil {
		response.Error(w, h.logger, err)
		return
	}
	response.OK(w, "Study updated successfully", nil)
}

// decodeComplementary accepts either a JSON body, with the attachment
// base64-encoded, or a multipart form with the JSON in the "data" field
// and the file in "attachment".
func decodeComplementary(w http.ResponseWriter, r *http.Request) (ComplementaryInput, bool) {
	var req ComplementaryInput
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		return req, response.DecodeJSON(w, r, &req)
	}

	r.Body = http.MaxBytesReader(w, r.Body, attachments.MaxSize+1<<20)
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		response.Fail(w, http.StatusBadRequest, "invalid_request", "Invalid multipart form: "+err.Error())
		return req, false
	}
	if data := r.FormValue("data"); data != "" {
		if err := json.Unmarshal([]byte(data), &req); err != nil {
			response.Fail(w, http.StatusBadRequest, "invalid_request", "Invalid JSON in data field: "+err.Error())
			return req, false
		}
	}
	file, header, err := r.FormFile("attachment")
	if errors.Is(err, http.ErrMissingFile) {
		return req, true
	}
	if err != nil {
		response.Fail(w, http.StatusBadRequest, "invalid_request", "Invalid attachment: "+err.Error())
		return req, false
	}
	defer file.Close()

	content, err := io.ReadAll(io.LimitReader(file, attachments.MaxSize+1))
	if err != nil {
		response.Fail(w, http.StatusBadRequest, "invalid_request", "Failed to read attachment")
		return req, false
	}
	req.Attachment = &Attachment{Filename: header.Filename, Content: content}
	return req, true
}

func (h *Handler) DownloadAttachment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	rel, err := h.service.GetComplementaryAttachment(r.Context(), id)
	if err != nil {
		response.Error(w, h.logger, err)
		return
	}
	f, err := h.files.Open(rel)
	if err != nil {
		h.logger.Warn("attachment file missing", zap.Int64("complementary_id", id), zap.Error(err))
		response.Fail(w, http.StatusNotFound, "not_found", "attachment file not found")
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		h.logger.Error("failed to stat attachment", zap.Int64("complementary_id", id), zap.Error(err))
		response.Fail(w, http.StatusInternalServerError, "internal_error", "Failed to read attachment")
		return
	}
	name := downloadName(filepath.Base(rel))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	http.ServeContent(w, r, name, info.ModTime(), f)
}

// downloadName strips the uniqueness prefix added when the file was saved.
func downloadName(stored string) string {
	if _, rest, ok := strings.Cut(stored, "_"); ok && rest != "" {
		return rest
	}
	return stored
}
