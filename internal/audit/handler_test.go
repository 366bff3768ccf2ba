package audit

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/apperr"
	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/response"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

func TestParseFilters(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/audit?actor_id=3&action=login&from=2024-01-01&to=2024-01-31&search=%20ana%20", nil)
	f, err := ParseFilters(req)
	require.NoError(t, err)
	require.NotNil(t, f.ActorID)
	assert.Equal(t, int64(3), *f.ActorID)
	assert.Equal(t, "login", f.Action)
	assert.Equal(t, "ana", f.Search)
	require.NotNil(t, f.From)
	require.NotNil(t, f.To)
	assert.Equal(t, "2024-01-31", f.To.Format(DateLayout))
}

func TestParseFilters_Rejections(t *testing.T) {
	tests := []struct {
		name  string
		query string
		field string
	}{
		{"bad actor", "actor_id=abc", "actor_id"},
		{"negative actor", "actor_id=-1", "actor_id"},
		{"bad date", "from=31/01/2024", "from"},
		{"reversed range", "from=2024-02-01&to=2024-01-01", "to"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseFilters(httptest.NewRequest(http.MethodGet, "/audit?"+tt.query, nil))
			var verr *apperr.ValidationError
			require.ErrorAs(t, err, &verr)
			_, ok := verr.Fields[tt.field]
			assert.True(t, ok)
		})
	}
}

func TestHandler_Query(t *testing.T) {
	f := setup(t)
	f.record(t, Entry{ActorID: Actor(f.adminID), Action: ActionLoginSuccess, Description: "User admin logged in"})
	f.record(t, Entry{ActorID: Actor(f.nurseID), Action: ActionLogout, Description: "User nurse1 logged out"})
	h := NewHandler(f.service, zap.NewNop())

	rec := httptest.NewRecorder()
	h.Query(rec, httptest.NewRequest(http.MethodGet, "/audit?action=login&page_size=10", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var env struct {
		response.Envelope
		Data Page `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.Len(t, env.Data.Entries, 1)
	assert.Equal(t, ActionLoginSuccess, env.Data.Entries[0].Action)
	assert.Equal(t, "Administrador Principal signed in.", env.Data.Entries[0].Summary)
	assert.Equal(t, 1, env.Data.Meta.TotalRecords)

	rec = httptest.NewRecorder()
	h.Query(rec, httptest.NewRequest(http.MethodGet, "/audit?from=yesterday", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_Export(t *testing.T) {
	f := setup(t)
	f.record(t, Entry{ActorID: Actor(f.adminID), Action: ActionLoginSuccess, Description: "User admin logged in"})
	h := NewHandler(f.service, zap.NewNop())

	rec := httptest.NewRecorder()
	h.Export(rec, httptest.NewRequest(http.MethodGet, "/audit/export", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, xlsxContentType, rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "audit-log-")

	book, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	defer book.Close()
	rows, err := book.GetRows("Audit Log")
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}
