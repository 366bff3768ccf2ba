package e2e

import (
	"net/http"
	"testing"

	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestE2E_Health(t *testing.T) {
	ts := SetupE2ETest(t)

	resp := ts.NewClient("").GET(t, "/health")
	testutil.AssertStatusCode(t, resp, http.StatusOK)
	resp.Body.Close()
}

func TestE2E_LoginAndLogout(t *testing.T) {
	ts := SetupE2ETest(t)

	s := ts.Login(t, "  ADMIN ", adminPassword)
	assert.Equal(t, adminUsername, s.User.Username)
	assert.Equal(t, "Administrador Principal", s.User.FullName)
	assert.Equal(t, "administrator", s.User.Role)

	client := ts.NewClient(s.Token)
	resp := client.GET(t, "/auth/me")
	testutil.AssertStatusCode(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = client.POST(t, "/auth/logout", nil)
	testutil.AssertStatusCode(t, resp, http.StatusOK)
	resp.Body.Close()

	t.Run("revoked token is rejected", func(t *testing.T) {
		resp := client.GET(t, "/auth/me")
		testutil.AssertStatusCode(t, resp, http.StatusUnauthorized)
		resp.Body.Close()
	})

	var logins, logouts int
	require.NoError(t, ts.DB.QueryRow(`SELECT COUNT(*) FROM audit_log WHERE action = 'LOGIN_SUCCESS'`).Scan(&logins))
	require.NoError(t, ts.DB.QueryRow(`SELECT COUNT(*) FROM audit_log WHERE action = 'LOGOUT'`).Scan(&logouts))
	assert.Equal(t, 1, logins)
	assert.Equal(t, 1, logouts)
}

func TestE2E_LoginFailure(t *testing.T) {
	ts := SetupE2ETest(t)

	for _, tc := range []struct {
		name     string
		username string
		password string
	}{
		{"wrong password", adminUsername, "not-the-password"},
		{"unknown user", "ghost", adminPassword},
	} {
		t.Run(tc.name, func(t *testing.T) {
			resp := ts.NewClient("").POST(t, "/auth/login", map[string]string{
				"username": tc.username,
				"password": tc.password,
			})
			testutil.AssertStatusCode(t, resp, http.StatusUnauthorized)

			var body envelope
			testutil.DecodeJSON(t, resp, &body)
			assert.Equal(t, "invalid_credentials", body.Error)
		})
	}

	assert.Equal(t, 2, testutil.CountRows(t, ts.DB, "audit_log", "action = $1 AND actor_id IS NULL", "LOGIN_FAILED"))
}

func TestE2E_RequiresToken(t *testing.T) {
	ts := SetupE2ETest(t)

	for _, path := range []string{"/patients", "/users", "/audit", "/auth/me"} {
		resp := ts.NewClient("").GET(t, path)
		testutil.AssertStatusCode(t, resp, http.StatusUnauthorized)
		resp.Body.Close()
	}
}

func TestE2E_RolePermissions(t *testing.T) {
	ts := SetupE2ETest(t)
	admin := ts.AdminClient(t)
	nurse := ts.CreateUser(t, admin, "nurse1", "nurse")

	t.Run("nurse can read patients", func(t *testing.T) {
		resp := nurse.GET(t, "/patients")
		testutil.AssertStatusCode(t, resp, http.StatusOK)
		resp.Body.Close()
	})

	t.Run("nurse cannot manage users or read the audit log", func(t *testing.T) {
		for _, path := range []string{"/users", "/audit"} {
			resp := nurse.GET(t, path)
			testutil.AssertStatusCode(t, resp, http.StatusForbidden)
			resp.Body.Close()
		}
	})

	t.Run("nurse cannot register patients", func(t *testing.T) {
		resp := nurse.POST(t, "/patients", newPatientBody("V-1"))
		testutil.AssertStatusCode(t, resp, http.StatusForbidden)
		resp.Body.Close()
	})
}

func TestE2E_UserManagement(t *testing.T) {
	ts := SetupE2ETest(t)
	admin := ts.AdminClient(t)

	resp := admin.POST(t, "/users", map[string]any{
		"username":       "DrLopez",
		"password":       "secret-lopez",
		"full_name":      "Dra. Ana Lopez",
		"role":           "clinician",
		"license_number": "MPPS-1234",
		"national_id":    "V-20123456",
	})
	id := createdID(t, resp)
	ts.MockPublisher.AssertEventCount(t, "user.created", 1)

	t.Run("duplicate username conflicts", func(t *testing.T) {
		resp := admin.POST(t, "/users", map[string]any{
			"username":  "drlopez",
			"password":  "another",
			"full_name": "Someone Else",
			"role":      "nurse",
		})
		testutil.AssertStatusCode(t, resp, http.StatusConflict)
		resp.Body.Close()
	})

	t.Run("deactivated user loses live sessions and cannot log in", func(t *testing.T) {
		lopez := ts.NewClient(ts.Login(t, "drlopez", "secret-lopez").Token)
		resp := lopez.GET(t, "/patients")
		testutil.AssertStatusCode(t, resp, http.StatusOK)
		resp.Body.Close()

		resp = admin.POST(t, "/users/"+itoa(id)+"/toggle-active", nil)
		testutil.AssertStatusCode(t, resp, http.StatusOK)
		resp.Body.Close()

		resp = lopez.GET(t, "/patients")
		testutil.AssertStatusCode(t, resp, http.StatusUnauthorized)
		resp.Body.Close()

		before := testutil.CountRows(t, ts.DB, "patients", "")
		resp = lopez.POST(t, "/patients", newPatientBody("V-99999999"))
		testutil.AssertStatusCode(t, resp, http.StatusUnauthorized)
		resp.Body.Close()
		assert.Equal(t, before, testutil.CountRows(t, ts.DB, "patients", ""))

		resp = ts.NewClient("").POST(t, "/auth/login", map[string]string{
			"username": "drlopez",
			"password": "secret-lopez",
		})
		testutil.AssertStatusCode(t, resp, http.StatusUnauthorized)
		resp.Body.Close()
	})

	t.Run("administrator cannot deactivate themselves", func(t *testing.T) {
		me := ts.Login(t, adminUsername, adminPassword)
		resp := admin.POST(t, "/users/"+itoa(me.User.ID)+"/toggle-active", nil)
		testutil.AssertStatusCode(t, resp, http.StatusBadRequest)
		resp.Body.Close()
	})
}
