package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/audit"
	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/auth"
	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/messaging"
	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/pagination"
	"go.uber.org/zap"
)

// TokenIssuer signs and revokes session tokens. *auth.Verifier satisfies it.
type TokenIssuer interface {
	Issue(id auth.Identity) (string, *auth.Principal, error)
	Revoke(ctx context.Context, principal *auth.Principal) error
}

type MetricsRecorder interface {
	RecordUserOperation(ctx context.Context, operation string)
	RecordAuthFailure(ctx context.Context, reason string)
}

type Service struct {
	repo        RepositoryInterface
	tokens      TokenIssuer
	publisher   messaging.PublisherInterface
	metrics     MetricsRecorder
	logger      *zap.Logger
	serviceName string
}

func NewService(repo RepositoryInterface, tokens TokenIssuer, publisher messaging.PublisherInterface, metrics MetricsRecorder, logger *zap.Logger, serviceName string) *Service {
	if publisher == nil {
		publisher = messaging.NopPublisher{}
	}
	return &Service{
		repo:        repo,
		tokens:      tokens,
		publisher:   publisher,
		metrics:     metrics,
		logger:      logger,
		serviceName: serviceName,
	}
}

// Login verifies credentials and opens a session. Both outcomes are
// audited; a failed attempt records the username tried and no actor.
func (s *Service) Login(ctx context.Context, req LoginRequest) (*Session, error) {
	username := normalizeUsername(req.Username)

	identity, err := s.repo.VerifyCredentials(ctx, username, req.Password)
	if errors.Is(err, ErrInvalidCredentials) {
		if s.metrics != nil {
			s.metrics.RecordAuthFailure(ctx, "invalid_credentials")
		}
		auditErr := s.repo.RecordSessionEvent(ctx, audit.Entry{
			Action:      audit.ActionLoginFailed,
			Description: "Failed login attempt",
			Table:       audit.TableUsers,
			Details:     map[string]any{"username_attempted": username},
		})
		if auditErr != nil {
			s.logger.Warn("failed to audit login failure", zap.Error(auditErr))
		}
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	token, principal, err := s.tokens.Issue(auth.Identity{
		UserID:   identity.ID,
		Username: identity.Username,
		Role:     string(identity.Role),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to issue session token: %w", err)
	}
	err = s.repo.RecordSessionEvent(ctx, audit.Entry{
		ActorID:     audit.Actor(identity.ID),
		Action:      audit.ActionLoginSuccess,
		Description: fmt.Sprintf("User %s logged in", identity.Username),
		Table:       audit.TableUsers,
		RowID:       identity.ID,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("user logged in", zap.Int64("user_id", identity.ID), zap.String("role", string(identity.Role)))
	return &Session{Token: token, ExpiresAt: principal.ExpiresAt, User: *identity}, nil
}

// Logout revokes the caller's token and audits the logout.
func (s *Service) Logout(ctx context.Context, principal *auth.Principal) error {
	if err := s.tokens.Revoke(ctx, principal); err != nil {
		return fmt.Errorf("failed to revoke session token: %w", err)
	}
	return s.repo.RecordSessionEvent(ctx, audit.Entry{
		ActorID:     audit.Actor(principal.UserID),
		Action:      audit.ActionLogout,
		Description: fmt.Sprintf("User %s logged out", principal.Username),
		Table:       audit.TableUsers,
		RowID:       principal.UserID,
	})
}

func (s *Service) committed(ctx context.Context, eventType, operation string, userID, actorID int64, active *bool) {
	if s.metrics != nil {
		s.metrics.RecordUserOperation(ctx, operation)
	}
	event := messaging.NewRecordEvent(eventType, s.serviceName, messaging.RecordEventData{
		Entity:    "user",
		EntityID:  userID,
		ActorID:   actorID,
		Operation: operation,
		Active:    active,
	})
	if err := s.publisher.Publish(ctx, eventType, event); err != nil {
		s.logger.Warn("failed to publish event",
			zap.String("event_type", eventType),
			zap.Int64("user_id", userID),
			zap.Error(err))
	}
}

func (s *Service) CreateUser(ctx context.Context, req CreateUserRequest, actorID int64) (*User, error) {
	user, err := s.repo.CreateUser(ctx, req, actorID)
	if err != nil {
		return nil, err
	}
	s.committed(ctx, messaging.EventUserCreated, "create", user.ID, actorID, nil)
	s.logger.Info("user created", zap.Int64("user_id", user.ID), zap.String("role", string(user.Role)))
	return user, nil
}

func (s *Service) UpdateUser(ctx context.Context, userID int64, req UpdateUserRequest, actorID int64) (*User, error) {
	user, err := s.repo.UpdateUser(ctx, userID, req, actorID)
	if err != nil {
		return nil, err
	}
	s.committed(ctx, messaging.EventUserUpdated, "update", userID, actorID, nil)
	return user, nil
}

func (s *Service) ToggleActive(ctx context.Context, userID, actorID int64) (bool, error) {
	active, err := s.repo.ToggleActive(ctx, userID, actorID)
	if err != nil {
		return false, err
	}
	operation := "deactivate"
	if active {
		operation = "activate"
	}
	s.committed(ctx, messaging.EventUserStatusChanged, operation, userID, actorID, &active)
	s.logger.Info("user status changed", zap.Int64("user_id", userID), zap.Bool("active", active))
	return active, nil
}

func (s *Service) GetUser(ctx context.Context, userID int64) (*User, error) {
	return s.repo.GetUser(ctx, userID)
}

func (s *Service) ListUsers(ctx context.Context, search string, params pagination.Params) ([]User, int, error) {
	return s.repo.ListUsers(ctx, search, params)
}
