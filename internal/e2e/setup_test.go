package e2e

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/app"
	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/auth"
	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/config"
	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	adminUsername = "admin"
	adminPassword = "admin-e2e"
)

// TestServer is a complete service on a temporary SQLite database behind
// an httptest server.
type TestServer struct {
	Server        *httptest.Server
	DB            *sql.DB
	App           *app.App
	MockPublisher *testutil.MockPublisher
}

// SetupE2ETest boots the service the way cmd/api does, with an in-memory
// publisher and revocation store.
func SetupE2ETest(t *testing.T) *TestServer {
	t.Helper()

	dir := t.TempDir()
	cfg := config.Default()
	cfg.Database.Path = filepath.Join(dir, "records.db")
	cfg.Crypto.KeyFile = filepath.Join(dir, "keys", "records.key")
	cfg.Attachments.Root = filepath.Join(dir, "uploads")
	cfg.Auth.JWTSecret = "e2e-secret-that-is-long-enough-for-hs256"
	cfg.Auth.BcryptCost = 4
	cfg.Bootstrap.AdminPassword = adminPassword

	publisher := testutil.NewMockPublisher()
	service, err := app.New(context.Background(), &cfg, zap.NewNop(), app.Options{
		Publisher:   publisher,
		Revocations: auth.NewMemoryRevocations(),
	})
	require.NoError(t, err)

	ts := &TestServer{
		Server:        httptest.NewServer(service.Handler),
		DB:            service.DB,
		App:           service,
		MockPublisher: publisher,
	}
	t.Cleanup(func() {
		ts.Server.Close()
		service.Close()
	})
	return ts
}

// NewClient creates a new HTTP test client for this server with the given token
func (ts *TestServer) NewClient(token string) *testutil.HTTPTestClient {
	return testutil.NewHTTPTestClient(ts.Server.URL, token)
}

type session struct {
	Token string `json:"token"`
	User  struct {
		ID       int64  `json:"id"`
		Username string `json:"username"`
		FullName string `json:"full_name"`
		Role     string `json:"role"`
	} `json:"user"`
}

// Login signs in through the API and returns the session.
func (ts *TestServer) Login(t *testing.T, username, password string) session {
	t.Helper()

	resp := ts.NewClient("").POST(t, "/auth/login", map[string]string{
		"username": username,
		"password": password,
	})
	testutil.AssertStatusCode(t, resp, http.StatusOK)

	var body struct {
		Data session `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &body)
	require.NotEmpty(t, body.Data.Token)
	return body.Data
}

// AdminClient returns a client holding a fresh administrator token.
func (ts *TestServer) AdminClient(t *testing.T) *testutil.HTTPTestClient {
	t.Helper()
	return ts.NewClient(ts.Login(t, adminUsername, adminPassword).Token)
}

// CreateUser provisions an account through the API and returns a client
// logged in as that account.
func (ts *TestServer) CreateUser(t *testing.T, admin *testutil.HTTPTestClient, username, role string) *testutil.HTTPTestClient {
	t.Helper()

	resp := admin.POST(t, "/users", map[string]any{
		"username":  username,
		"password":  "secret-" + username,
		"full_name": "User " + username,
		"role":      role,
	})
	testutil.AssertStatusCode(t, resp, http.StatusCreated)
	resp.Body.Close()

	return ts.NewClient(ts.Login(t, username, "secret-"+username).Token)
}

type envelope struct {
	Success bool              `json:"success"`
	Message string            `json:"message"`
	ID      *int64            `json:"id"`
	Error   string            `json:"error"`
	Fields  map[string]string `json:"fields"`
}

// createdID decodes the id of a 201 response.
func createdID(t *testing.T, resp *http.Response) int64 {
	t.Helper()
	testutil.AssertStatusCode(t, resp, http.StatusCreated)
	var body envelope
	testutil.DecodeJSON(t, resp, &body)
	require.NotNil(t, body.ID)
	return *body.ID
}
