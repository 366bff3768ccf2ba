package users

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/apperr"
	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/cryptostore"
	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/pagination"
	"github.com/hengadev/errsx"
)

type Role string

const (
	RoleClinician     Role = "clinician"
	RoleAdministrator Role = "administrator"
	RoleNurse         Role = "nurse"
	RoleOther         Role = "other"
)

func (r Role) Valid() bool {
	switch r {
	case RoleClinician, RoleAdministrator, RoleNurse, RoleOther:
		return true
	}
	return false
}

const (
	minPasswordLen = 4
	// bcrypt ignores everything past 72 bytes.
	maxPasswordLen = 72
)

var nationalIDPattern = regexp.MustCompile(`^[VE]-\d+$`)

// User is a staff account. Full name and national ID are stored encrypted.
type User struct {
	ID            int64             `json:"id"`
	Username      string            `json:"username"`
	FullName      cryptostore.Field `json:"full_name"`
	NationalID    cryptostore.Field `json:"national_id"`
	Role          Role              `json:"role"`
	LicenseNumber string            `json:"license_number,omitempty"`
	Specialty     string            `json:"specialty,omitempty"`
	PhotoPath     string            `json:"photo_path,omitempty"`
	Active        bool              `json:"active"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     *time.Time        `json:"updated_at,omitempty"`
}

// Identity is what a successful credential check yields.
type Identity struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	FullName string `json:"full_name"`
	Role     Role   `json:"role"`
}

// Profile holds the editable fields shared by create and update.
type Profile struct {
	FullName      string `json:"full_name"`
	NationalID    string `json:"national_id,omitempty"`
	Role          Role   `json:"role"`
	LicenseNumber string `json:"license_number,omitempty"`
	Specialty     string `json:"specialty,omitempty"`
	PhotoPath     string `json:"photo_path,omitempty"`
}

type CreateUserRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Profile
}

// UpdateUserRequest replaces the profile. An empty Password keeps the
// current one.
type UpdateUserRequest struct {
	Password string `json:"password,omitempty"`
	Profile
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Session is returned by a successful login.
type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      Identity  `json:"user"`
}

type PaginatedUserListResponse struct {
	Users      []User          `json:"users"`
	Pagination pagination.Meta `json:"pagination"`
}

func normalizeUsername(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}

func (p Profile) normalize() Profile {
	p.FullName = strings.TrimSpace(p.FullName)
	p.NationalID = strings.ToUpper(strings.TrimSpace(p.NationalID))
	p.Role = Role(strings.ToLower(strings.TrimSpace(string(p.Role))))
	p.LicenseNumber = strings.TrimSpace(p.LicenseNumber)
	p.Specialty = strings.TrimSpace(p.Specialty)
	p.PhotoPath = strings.TrimSpace(p.PhotoPath)
	return p
}

func (p Profile) validate(errs *errsx.Map) {
	if p.NationalID != "" && !nationalIDPattern.MatchString(p.NationalID) {
		errs.Set("national_id", "national ID must look like V-12345678 or E-12345678")
	}
	if !p.Role.Valid() {
		errs.Set("role", fmt.Sprintf("invalid role %q", p.Role))
	}
}

func validatePassword(errs *errsx.Map, password string) {
	switch {
	case len(password) < minPasswordLen:
		errs.Set("password", fmt.Sprintf("password must be at least %d characters", minPasswordLen))
	case len(password) > maxPasswordLen:
		errs.Set("password", fmt.Sprintf("password must be at most %d bytes", maxPasswordLen))
	}
}

// Validate normalizes the request in place and reports every problem.
func (r *CreateUserRequest) Validate() error {
	r.Username = normalizeUsername(r.Username)
	r.Profile = r.Profile.normalize()

	var errs errsx.Map
	if r.Username == "" {
		errs.Set("username", "username is required")
	}
	validatePassword(&errs, r.Password)
	r.Profile.validate(&errs)
	return apperr.Invalid(errs)
}

// Validate normalizes the request in place and reports every problem.
func (r *UpdateUserRequest) Validate() error {
	r.Profile = r.Profile.normalize()

	var errs errsx.Map
	if r.Password != "" {
		validatePassword(&errs, r.Password)
	}
	r.Profile.validate(&errs)
	return apperr.Invalid(errs)
}
