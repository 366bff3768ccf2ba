package users

import (
	"errors"

	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/apperr"
)

var (
	// ErrInvalidCredentials covers an unknown username, a wrong password and
	// an inactive account alike.
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrSelfToggle         = apperr.InvalidField("active", "cannot change your own active status")
)
