package users

import (
	"context"
	"errors"
	"testing"

	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/audit"
	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/auth"
	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/messaging"
	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// stubRepository implements RepositoryInterface. Methods without a func
// field panic through the nil embedded interface.
type stubRepository struct {
	RepositoryInterface
	verifyFunc func(ctx context.Context, username, password string) (*Identity, error)
	createFunc func(ctx context.Context, req CreateUserRequest, actorID int64) (*User, error)
	toggleFunc func(ctx context.Context, userID, actorID int64) (bool, error)
	sessionErr error
	sessions   []audit.Entry
}

func (s *stubRepository) VerifyCredentials(ctx context.Context, username, password string) (*Identity, error) {
	return s.verifyFunc(ctx, username, password)
}

func (s *stubRepository) CreateUser(ctx context.Context, req CreateUserRequest, actorID int64) (*User, error) {
	return s.createFunc(ctx, req, actorID)
}

func (s *stubRepository) ToggleActive(ctx context.Context, userID, actorID int64) (bool, error) {
	return s.toggleFunc(ctx, userID, actorID)
}

func (s *stubRepository) RecordSessionEvent(_ context.Context, e audit.Entry) error {
	if s.sessionErr != nil {
		return s.sessionErr
	}
	s.sessions = append(s.sessions, e)
	return nil
}

type recordingMetrics struct {
	operations   []string
	authFailures []string
}

func (m *recordingMetrics) RecordUserOperation(_ context.Context, operation string) {
	m.operations = append(m.operations, operation)
}

func (m *recordingMetrics) RecordAuthFailure(_ context.Context, reason string) {
	m.authFailures = append(m.authFailures, reason)
}

type testService struct {
	*Service
	verifier  *auth.Verifier
	publisher *testutil.MockPublisher
	metrics   *recordingMetrics
}

func newTestService(repo RepositoryInterface) testService {
	ver := auth.NewTestVerifier()
	pub := testutil.NewMockPublisher()
	metrics := &recordingMetrics{}
	return testService{
		Service:   NewService(repo, ver, pub, metrics, zap.NewNop(), "clinical-records-test"),
		verifier:  ver,
		publisher: pub,
		metrics:   metrics,
	}
}

func drPerez(_ context.Context, username, password string) (*Identity, error) {
	if username != "dra.perez" || password != "s3cret" {
		return nil, ErrInvalidCredentials
	}
	return &Identity{ID: 7, Username: "dra.perez", FullName: "Carmen Pérez", Role: RoleClinician}, nil
}

func TestLogin_IssuesTokenAndAudits(t *testing.T) {
	repo := &stubRepository{verifyFunc: drPerez}
	svc := newTestService(repo)
	ctx := context.Background()

	session, err := svc.Login(ctx, LoginRequest{Username: " Dra.Perez", Password: "s3cret"})
	require.NoError(t, err)
	assert.Equal(t, "Carmen Pérez", session.User.FullName)

	pr, err := svc.verifier.ParseAndVerifyToken(ctx, session.Token)
	require.NoError(t, err)
	assert.Equal(t, int64(7), pr.UserID)
	assert.Equal(t, "clinician", pr.Role)
	assert.Equal(t, pr.ExpiresAt.Unix(), session.ExpiresAt.Unix())

	require.Len(t, repo.sessions, 1)
	assert.Equal(t, audit.ActionLoginSuccess, repo.sessions[0].Action)
	require.NotNil(t, repo.sessions[0].ActorID)
	assert.Equal(t, int64(7), *repo.sessions[0].ActorID)
}

func TestLogin_FailureIsAuditedWithoutActor(t *testing.T) {
	repo := &stubRepository{verifyFunc: drPerez}
	svc := newTestService(repo)

	session, err := svc.Login(context.Background(), LoginRequest{Username: "Dra.Perez", Password: "nope"})
	assert.Nil(t, session)
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	require.Len(t, repo.sessions, 1)
	entry := repo.sessions[0]
	assert.Equal(t, audit.ActionLoginFailed, entry.Action)
	assert.Nil(t, entry.ActorID)
	assert.Equal(t, "dra.perez", entry.Details["username_attempted"])
	assert.Equal(t, []string{"invalid_credentials"}, svc.metrics.authFailures)
}

func TestLogin_AuditFailureOnFailedAttemptStillRejects(t *testing.T) {
	repo := &stubRepository{verifyFunc: drPerez, sessionErr: errors.New("disk full")}
	svc := newTestService(repo)

	_, err := svc.Login(context.Background(), LoginRequest{Username: "ghost", Password: "x"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLogin_AuditFailureOnSuccessFailsLogin(t *testing.T) {
	repo := &stubRepository{verifyFunc: drPerez, sessionErr: errors.New("disk full")}
	svc := newTestService(repo)

	session, err := svc.Login(context.Background(), LoginRequest{Username: "dra.perez", Password: "s3cret"})
	assert.Nil(t, session)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidCredentials)
}

func TestLogout_RevokesToken(t *testing.T) {
	repo := &stubRepository{verifyFunc: drPerez}
	svc := newTestService(repo)
	ctx := context.Background()

	session, err := svc.Login(ctx, LoginRequest{Username: "dra.perez", Password: "s3cret"})
	require.NoError(t, err)
	pr, err := svc.verifier.ParseAndVerifyToken(ctx, session.Token)
	require.NoError(t, err)

	require.NoError(t, svc.Logout(ctx, pr))

	_, err = svc.verifier.ParseAndVerifyToken(ctx, session.Token)
	assert.ErrorIs(t, err, auth.ErrRevoked)
	require.Len(t, repo.sessions, 2)
	assert.Equal(t, audit.ActionLogout, repo.sessions[1].Action)
}

func TestCreateUser_PublishesEvent(t *testing.T) {
	repo := &stubRepository{
		createFunc: func(_ context.Context, req CreateUserRequest, _ int64) (*User, error) {
			return &User{ID: 12, Username: req.Username, Role: req.Role, Active: true}, nil
		},
	}
	svc := newTestService(repo)

	user, err := svc.CreateUser(context.Background(), CreateUserRequest{Username: "enf.gomez", Profile: Profile{Role: RoleNurse}}, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(12), user.ID)

	event := svc.publisher.LastRecordEvent(t, messaging.EventUserCreated)
	assert.Equal(t, "user", event.Data.Entity)
	assert.Equal(t, int64(12), event.Data.EntityID)
	assert.Equal(t, int64(1), event.Data.ActorID)
	assert.Equal(t, "clinical-records-test", event.ServiceName)
	assert.Equal(t, []string{"create"}, svc.metrics.operations)
}

func TestCreateUser_FailurePublishesNothing(t *testing.T) {
	repo := &stubRepository{
		createFunc: func(context.Context, CreateUserRequest, int64) (*User, error) {
			return nil, ErrSelfToggle
		},
	}
	svc := newTestService(repo)

	_, err := svc.CreateUser(context.Background(), CreateUserRequest{}, 1)
	assert.Error(t, err)
	assert.Zero(t, svc.publisher.Count())
	assert.Empty(t, svc.metrics.operations)
}

func TestToggleActive_PublishesStatus(t *testing.T) {
	repo := &stubRepository{
		toggleFunc: func(context.Context, int64, int64) (bool, error) { return false, nil },
	}
	svc := newTestService(repo)

	active, err := svc.ToggleActive(context.Background(), 12, 1)
	require.NoError(t, err)
	assert.False(t, active)

	event := svc.publisher.LastRecordEvent(t, messaging.EventUserStatusChanged)
	assert.Equal(t, "deactivate", event.Data.Operation)
	require.NotNil(t, event.Data.Active)
	assert.False(t, *event.Data.Active)
}

func TestToggleActive_BrokerFailureDoesNotFail(t *testing.T) {
	repo := &stubRepository{
		toggleFunc: func(context.Context, int64, int64) (bool, error) { return true, nil },
	}
	svc := newTestService(repo)
	svc.publisher.Err = errors.New("broker down")

	active, err := svc.ToggleActive(context.Background(), 12, 1)
	require.NoError(t, err)
	assert.True(t, active)
	assert.Equal(t, []string{"activate"}, svc.metrics.operations)
}
