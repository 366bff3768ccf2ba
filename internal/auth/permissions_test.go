package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadPermissions_Success(t *testing.T) {
	permFile := filepath.Join(t.TempDir(), "permissions.yml")
	content := `roles:
  administrator:
    - user:manage
    - audit:view
  nurse:
    - patient:view
    - record:write
`
	require.NoError(t, os.WriteFile(permFile, []byte(content), 0o644))

	perms, err := LoadPermissions(permFile)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"user:manage", "audit:view"}, perms["administrator"])
	assert.Len(t, perms["nurse"], 2)
	_, ok := perms["clinician"]
	assert.False(t, ok)
}

func TestLoadPermissions_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadPermissions(filepath.Join(dir, "missing.yml"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.yml")
	require.NoError(t, os.WriteFile(bad, []byte("roles: [unclosed"), 0o644))
	_, err = LoadPermissions(bad)
	assert.Error(t, err)

	empty := filepath.Join(dir, "empty.yml")
	require.NoError(t, os.WriteFile(empty, []byte("roles: {}\n"), 0o644))
	_, err = LoadPermissions(empty)
	assert.Error(t, err)
}

func TestHasPermission_Defaults(t *testing.T) {
	tests := []struct {
		role       string
		permission string
		want       bool
	}{
		{"administrator", PermUserManage, true},
		{"administrator", PermAuditView, true},
		{"clinician", PermPatientDelete, true},
		{"clinician", PermUserManage, false},
		{"nurse", PermRecordWrite, true},
		{"nurse", PermPatientWrite, false},
		{"other", PermPatientView, true},
		{"other", PermRecordWrite, false},
		{"unknown", PermPatientView, false},
	}
	for _, tt := range tests {
		t.Run(tt.role+"/"+tt.permission, func(t *testing.T) {
			pr := &Principal{UserID: 1, Role: tt.role}
			assert.Equal(t, tt.want, HasPermission(pr, tt.permission, DefaultPermissions))
		})
	}
	assert.False(t, HasPermission(nil, PermPatientView, DefaultPermissions))
}

type permissionMetrics struct {
	checks map[string]bool
}

func (m *permissionMetrics) RecordPermissionCheck(_ context.Context, permission string, allowed bool) {
	m.checks[permission] = allowed
}

func TestRequirePermission(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	metrics := &permissionMetrics{checks: map[string]bool{}}
	guard := RequirePermissionWithMetrics(PermUserManage, DefaultPermissions, zap.NewNop(), metrics)(next)

	tests := []struct {
		name       string
		principal  *Principal
		wantStatus int
	}{
		{"administrator", &Principal{UserID: 1, Role: "administrator"}, http.StatusNoContent},
		{"nurse", &Principal{UserID: 2, Role: "nurse"}, http.StatusForbidden},
		{"anonymous", nil, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/users", nil)
			if tt.principal != nil {
				req = req.WithContext(ContextWithPrincipal(req.Context(), tt.principal))
			}
			rr := httptest.NewRecorder()
			guard.ServeHTTP(rr, req)
			assert.Equal(t, tt.wantStatus, rr.Code)
		})
	}
	assert.False(t, metrics.checks[PermUserManage], "last check was the anonymous request")
}
