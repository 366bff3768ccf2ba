package users

import (
	"context"

	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/audit"
	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/pagination"
)

// RepositoryInterface defines the contract for identity data access
type RepositoryInterface interface {
	VerifyCredentials(ctx context.Context, username, password string) (*Identity, error)
	CreateUser(ctx context.Context, req CreateUserRequest, actorID int64) (*User, error)
	UpdateUser(ctx context.Context, userID int64, req UpdateUserRequest, actorID int64) (*User, error)
	ToggleActive(ctx context.Context, userID, actorID int64) (bool, error)
	GetUser(ctx context.Context, userID int64) (*User, error)
	ListUsers(ctx context.Context, search string, params pagination.Params) ([]User, int, error)
	EnsureAdministrator(ctx context.Context, username, password, fullName string) (bool, error)
	RecordSessionEvent(ctx context.Context, e audit.Entry) error
}

// Ensure Repository implements RepositoryInterface
var _ RepositoryInterface = (*Repository)(nil)
