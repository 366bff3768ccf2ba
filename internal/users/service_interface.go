package users

import (
	"context"

	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/auth"
	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/pagination"
)

// ServiceInterface is what the HTTP handlers depend on.
type ServiceInterface interface {
	Login(ctx context.Context, req LoginRequest) (*Session, error)
	Logout(ctx context.Context, principal *auth.Principal) error
	CreateUser(ctx context.Context, req CreateUserRequest, actorID int64) (*User, error)
	UpdateUser(ctx context.Context, userID int64, req UpdateUserRequest, actorID int64) (*User, error)
	ToggleActive(ctx context.Context, userID, actorID int64) (bool, error)
	GetUser(ctx context.Context, userID int64) (*User, error)
	ListUsers(ctx context.Context, search string, params pagination.Params) ([]User, int, error)
}

var _ ServiceInterface = (*Service)(nil)
