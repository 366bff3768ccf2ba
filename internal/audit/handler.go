package audit

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/apperr"
	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/pagination"
	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/response"
	"github.com/hengadev/errsx"
	"go.uber.org/zap"
)

// DateLayout is the accepted format of the from and to query parameters.
const DateLayout = "2006-01-02"

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type Handler struct {
	service *Service
	logger  *zap.Logger
}

func NewHandler(service *Service, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// ParseFilters reads actor_id, action, from, to and search from the query
// string.
func ParseFilters(r *http.Request) (Filters, error) {
	q := r.URL.Query()
	f := Filters{
		Action: strings.TrimSpace(q.Get("action")),
		Search: strings.TrimSpace(q.Get("search")),
	}

	var errs errsx.Map
	if v := q.Get("actor_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			errs.Set("actor_id", "actor_id must be a positive integer")
		} else {
			f.ActorID = &id
		}
	}
	for _, p := range []struct {
		name string
		dst  **time.Time
	}{{"from", &f.From}, {"to", &f.To}} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		t, err := time.Parse(DateLayout, v)
		if err != nil {
			errs.Set(p.name, fmt.Sprintf("%s must be a date like 2024-01-31", p.name))
			continue
		}
		*p.dst = &t
	}
	if err := apperr.Invalid(errs); err != nil {
		return Filters{}, err
	}
	if f.From != nil && f.To != nil && f.To.Before(*f.From) {
		return Filters{}, apperr.InvalidField("to", "to must not be before from")
	}
	return f, nil
}

func (h *Handler) Query(w http.ResponseWriter, r *http.Request) {
	filters, err := ParseFilters(r)
	if err != nil {
		response.Error(w, h.logger, err)
		return
	}
	page, err := h.service.Query(r.Context(), pagination.ParseParams(r), filters)
	if err != nil {
		response.Error(w, h.logger, err)
		return
	}
	response.OK(w, "Audit log retrieved successfully", page)
}

func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	filters, err := ParseFilters(r)
	if err != nil {
		response.Error(w, h.logger, err)
		return
	}
	workbook, err := h.service.Export(r.Context(), filters)
	if err != nil {
		response.Error(w, h.logger, err)
		return
	}
	name := fmt.Sprintf("audit-log-%s.xlsx", Now().Format("20060102-150405"))
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, name))
	w.Header().Set("Content-Length", strconv.Itoa(len(workbook)))
	w.WriteHeader(http.StatusOK)
	w.Write(workbook)
}
