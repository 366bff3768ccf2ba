// Package users is the identity store: staff accounts, credential checks
// and session audit entries.
package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/apperr"
	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/audit"
	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/cryptostore"
	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/db"
	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/pagination"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

type Repository struct {
	db       *sql.DB
	crypto   *cryptostore.Store
	recorder *audit.Recorder
	logger   *zap.Logger
	cost     int
	// compared against when the username is unknown so both paths cost
	// one bcrypt comparison.
	dummyHash []byte
	now       func() time.Time
}

func NewRepository(conn *sql.DB, crypto *cryptostore.Store, recorder *audit.Recorder, logger *zap.Logger, bcryptCost int) *Repository {
	switch {
	case bcryptCost < bcrypt.MinCost:
		bcryptCost = bcrypt.DefaultCost
	case bcryptCost > bcrypt.MaxCost:
		bcryptCost = bcrypt.MaxCost
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte("not-a-real-password"), bcryptCost)
	if err != nil {
		logger.Warn("failed to build dummy password hash", zap.Error(err))
	}
	return &Repository{
		db:        conn,
		crypto:    crypto,
		recorder:  recorder,
		logger:    logger,
		cost:      bcryptCost,
		dummyHash: dummy,
		now:       audit.Now,
	}
}

func (r *Repository) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return db.ClassifyError(op, fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return db.ClassifyError(op, err)
	}
	if err := tx.Commit(); err != nil {
		return db.ClassifyError(op, fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

func (r *Repository) hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), r.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// sealed holds the encrypted form of a profile.
type sealed struct {
	fullName       any
	nationalID     any
	nationalIDHash any
}

func (r *Repository) seal(p Profile) (sealed, error) {
	var out sealed
	if p.FullName != "" {
		ct, err := r.crypto.EncryptString(p.FullName)
		if err != nil {
			return out, &apperr.CryptoError{Field: "full_name", Err: err}
		}
		out.fullName = ct
	}
	if p.NationalID != "" {
		ct, err := r.crypto.EncryptString(p.NationalID)
		if err != nil {
			return out, &apperr.CryptoError{Field: "national_id", Err: err}
		}
		out.nationalID = ct
		out.nationalIDHash = r.crypto.BlindIndex(p.NationalID)
	}
	return out, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

// VerifyCredentials checks a username and password. Unknown users, wrong
// passwords and inactive accounts all yield ErrInvalidCredentials.
func (r *Repository) VerifyCredentials(ctx context.Context, username, password string) (*Identity, error) {
	username = normalizeUsername(username)

	var (
		id       Identity
		hash     string
		fullName []byte
		active   bool
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, full_name, role, active
		FROM users
		WHERE username = $1
	`, username).Scan(&id.ID, &id.Username, &hash, &fullName, &id.Role, &active)
	if errors.Is(err, sql.ErrNoRows) {
		bcrypt.CompareHashAndPassword(r.dummyHash, []byte(password))
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, apperr.Database("verify credentials", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	if !active {
		r.logger.Info("login attempt on inactive account", zap.Int64("user_id", id.ID))
		return nil, ErrInvalidCredentials
	}
	id.FullName = r.crypto.Decrypt(fullName).Or(id.Username)
	return &id, nil
}

func (r *Repository) CreateUser(ctx context.Context, req CreateUserRequest, actorID int64) (*User, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	hash, err := r.hashPassword(req.Password)
	if err != nil {
		return nil, apperr.Database("create user", err)
	}
	now := r.now()

	var userID int64
	err = r.inTx(ctx, "create user", func(tx *sql.Tx) error {
		id, err := r.insertUser(ctx, tx, req.Username, hash, req.Profile, now)
		if err != nil {
			return err
		}
		userID = id
		return r.recorder.Record(ctx, tx, audit.Entry{
			ActorID:     audit.Actor(actorID),
			Action:      audit.ActionCreateUser,
			Description: fmt.Sprintf("Created user %s", req.Username),
			Table:       audit.TableUsers,
			RowID:       userID,
			Details:     map[string]any{"username": req.Username, "role": string(req.Role)},
		})
	})
	if err != nil {
		return nil, err
	}
	return r.GetUser(ctx, userID)
}

func (r *Repository) insertUser(ctx context.Context, tx *sql.Tx, username, hash string, p Profile, now time.Time) (int64, error) {
	s, err := r.seal(p)
	if err != nil {
		return 0, err
	}
	var id int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO users (username, password_hash, full_name, national_id, national_id_hash,
			role, license_number, specialty, photo_path, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, TRUE, $10)
		RETURNING id
	`, username, hash, s.fullName, s.nationalID, s.nationalIDHash,
		string(p.Role), nullable(p.LicenseNumber), nullable(p.Specialty), nullable(p.PhotoPath), now,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert user: %w", err)
	}
	return id, nil
}

// UpdateUser replaces the profile of userID and, when given, its password.
func (r *Repository) UpdateUser(ctx context.Context, userID int64, req UpdateUserRequest, actorID int64) (*User, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	var hash string
	if req.Password != "" {
		h, err := r.hashPassword(req.Password)
		if err != nil {
			return nil, apperr.Database("update user", err)
		}
		hash = h
	}
	now := r.now()

	err := r.inTx(ctx, "update user", func(tx *sql.Tx) error {
		current, err := r.scanUser(tx.QueryRowContext(ctx, selectUser+` WHERE id = $1`, userID))
		if errors.Is(err, sql.ErrNoRows) {
			return &apperr.NotFoundError{Entity: "user", ID: userID}
		}
		if err != nil {
			return fmt.Errorf("failed to load user: %w", err)
		}

		s, err := r.seal(req.Profile)
		if err != nil {
			return err
		}
		query := `
			UPDATE users SET full_name = $1, national_id = $2, national_id_hash = $3, role = $4,
				license_number = $5, specialty = $6, photo_path = $7, updated_at = $8`
		args := []any{s.fullName, s.nationalID, s.nationalIDHash, string(req.Role),
			nullable(req.LicenseNumber), nullable(req.Specialty), nullable(req.PhotoPath), now}
		if hash != "" {
			query += `, password_hash = $9 WHERE id = $10`
			args = append(args, hash, userID)
		} else {
			query += ` WHERE id = $9`
			args = append(args, userID)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to update user: %w", err)
		}

		return r.recorder.Record(ctx, tx, audit.Entry{
			ActorID:     audit.Actor(actorID),
			Action:      audit.ActionUpdateUser,
			Description: fmt.Sprintf("Updated user %s", current.Username),
			Table:       audit.TableUsers,
			RowID:       userID,
			Details: map[string]any{
				"changed_fields":   changedFields(current, req.Profile),
				"password_changed": hash != "",
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return r.GetUser(ctx, userID)
}

// changedFields lists the profile fields that differ from the stored user.
// A value that no longer decrypts counts as changed.
func changedFields(current *User, p Profile) []string {
	changed := []string{}
	differs := func(name string, stored cryptostore.Field, next string) {
		if !stored.Valid() || stored.String() != next {
			if stored.IsNull() && next == "" {
				return
			}
			changed = append(changed, name)
		}
	}
	differs("full_name", current.FullName, p.FullName)
	differs("national_id", current.NationalID, p.NationalID)
	for _, f := range []struct {
		name         string
		stored, next string
	}{
		{"role", string(current.Role), string(p.Role)},
		{"license_number", current.LicenseNumber, p.LicenseNumber},
		{"specialty", current.Specialty, p.Specialty},
		{"photo_path", current.PhotoPath, p.PhotoPath},
	} {
		if f.stored != f.next {
			changed = append(changed, f.name)
		}
	}
	return changed
}

// ToggleActive flips the active flag of userID and returns the new value.
// Nobody can deactivate themselves.
func (r *Repository) ToggleActive(ctx context.Context, userID, actorID int64) (bool, error) {
	if userID == actorID {
		return false, ErrSelfToggle
	}
	now := r.now()

	var active bool
	err := r.inTx(ctx, "toggle user status", func(tx *sql.Tx) error {
		var (
			username string
			previous bool
		)
		err := tx.QueryRowContext(ctx, `SELECT username, active FROM users WHERE id = $1`, userID).Scan(&username, &previous)
		if errors.Is(err, sql.ErrNoRows) {
			return &apperr.NotFoundError{Entity: "user", ID: userID}
		}
		if err != nil {
			return fmt.Errorf("failed to load user: %w", err)
		}

		active = !previous
		if _, err := tx.ExecContext(ctx, `UPDATE users SET active = $1, updated_at = $2 WHERE id = $3`, active, now, userID); err != nil {
			return fmt.Errorf("failed to update user status: %w", err)
		}

		verb := "Deactivated"
		if active {
			verb = "Activated"
		}
		return r.recorder.Record(ctx, tx, audit.Entry{
			ActorID:     audit.Actor(actorID),
			Action:      audit.ActionToggleUserStatus,
			Description: fmt.Sprintf("%s user %s", verb, username),
			Table:       audit.TableUsers,
			RowID:       userID,
			Details:     map[string]any{"previous": previous, "active": active},
		})
	})
	if err != nil {
		return false, err
	}
	return active, nil
}

// AccountStatus returns the active flag and current role of userID. An
// unknown user is reported inactive.
func (r *Repository) AccountStatus(ctx context.Context, userID int64) (bool, string, error) {
	var (
		active bool
		role   string
	)
	err := r.db.QueryRowContext(ctx, `SELECT active, role FROM users WHERE id = $1`, userID).Scan(&active, &role)
	if errors.Is(err, sql.ErrNoRows) {
		return false, "", nil
	}
	if err != nil {
		return false, "", apperr.Database("account status", err)
	}
	return active, role, nil
}

const selectUser = `
	SELECT id, username, full_name, national_id, role, license_number, specialty,
		photo_path, active, created_at, updated_at
	FROM users`

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *Repository) scanUser(row rowScanner) (*User, error) {
	var (
		u                         User
		fullName, nationalID      []byte
		license, specialty, photo sql.NullString
		updatedAt                 sql.NullTime
	)
	if err := row.Scan(&u.ID, &u.Username, &fullName, &nationalID, &u.Role, &license, &specialty,
		&photo, &u.Active, &u.CreatedAt, &updatedAt); err != nil {
		return nil, err
	}
	u.FullName = r.crypto.Decrypt(fullName)
	u.NationalID = r.crypto.Decrypt(nationalID)
	u.LicenseNumber = license.String
	u.Specialty = specialty.String
	u.PhotoPath = photo.String
	u.CreatedAt = u.CreatedAt.UTC()
	if updatedAt.Valid {
		t := updatedAt.Time.UTC()
		u.UpdatedAt = &t
	}
	return &u, nil
}

func (r *Repository) GetUser(ctx context.Context, userID int64) (*User, error) {
	u, err := r.scanUser(r.db.QueryRowContext(ctx, selectUser+` WHERE id = $1`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &apperr.NotFoundError{Entity: "user", ID: userID}
	}
	if err != nil {
		return nil, apperr.Database("get user", err)
	}
	return u, nil
}

// ListUsers pages through users ordered by username. search matches a
// username fragment.
func (r *Repository) ListUsers(ctx context.Context, search string, params pagination.Params) ([]User, int, error) {
	params.Normalize()

	where := ""
	var args []any
	if search = normalizeUsername(search); search != "" {
		where = " WHERE username LIKE $1" + db.LikeEscape
		args = append(args, db.ContainsPattern(search))
	}

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users"+where, args...).Scan(&total); err != nil {
		return nil, 0, apperr.Database("count users", err)
	}

	query := fmt.Sprintf("%s%s ORDER BY username LIMIT $%d OFFSET $%d", selectUser, where, len(args)+1, len(args)+2)
	rows, err := r.db.QueryContext(ctx, query, append(args, params.PageSize, params.Offset())...)
	if err != nil {
		return nil, 0, apperr.Database("list users", err)
	}
	defer rows.Close()

	users := []User{}
	for rows.Next() {
		u, err := r.scanUser(rows)
		if err != nil {
			return nil, 0, apperr.Database("list users", err)
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, apperr.Database("list users", err)
	}
	return users, total, nil
}

// EnsureAdministrator creates the first administrator when the users table
// is empty. It reports whether an account was created.
func (r *Repository) EnsureAdministrator(ctx context.Context, username, password, fullName string) (bool, error) {
	req := CreateUserRequest{
		Username: username,
		Password: password,
		Profile:  Profile{FullName: fullName, Role: RoleAdministrator},
	}
	if err := req.Validate(); err != nil {
		return false, err
	}
	hash, err := r.hashPassword(req.Password)
	if err != nil {
		return false, apperr.Database("bootstrap administrator", err)
	}
	now := r.now()

	created := false
	err = r.inTx(ctx, "bootstrap administrator", func(tx *sql.Tx) error {
		var n int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
			return fmt.Errorf("failed to count users: %w", err)
		}
		if n > 0 {
			return nil
		}
		id, err := r.insertUser(ctx, tx, req.Username, hash, req.Profile, now)
		if err != nil {
			return err
		}
		created = true
		return r.recorder.Record(ctx, tx, audit.Entry{
			ActorID:     audit.Actor(id),
			Action:      audit.ActionSystemInit,
			Description: fmt.Sprintf("Created initial administrator %s", req.Username),
			Table:       audit.TableUsers,
			RowID:       id,
		})
	})
	if err != nil {
		return false, err
	}
	if created {
		r.logger.Info("initial administrator created", zap.String("username", req.Username))
	}
	return created, nil
}

// RecordSessionEvent writes a standalone audit entry for a login or logout.
func (r *Repository) RecordSessionEvent(ctx context.Context, e audit.Entry) error {
	op := strings.ToLower(string(e.Action))
	return r.inTx(ctx, op, func(tx *sql.Tx) error {
		return r.recorder.Record(ctx, tx, e)
	})
}
