package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
)

// Principal holds identity extracted from a validated token.
type Principal struct {
	UserID    int64
	Username  string
	Role      string
	TokenID   string
	ExpiresAt time.Time
	Claims    jwt.MapClaims
}

var (
	ErrNoToken       = errors.New("no token provided")
	ErrInvalidToken  = errors.New("invalid token")
	ErrInvalidIssuer = errors.New("invalid issuer")
	ErrMissingSub    = errors.New("missing sub claim")
	ErrRevoked       = errors.New("token has been revoked")
	ErrInactive      = errors.New("account is inactive")
)

// AccountStore reports the current state of a token's subject. A missing
// user is reported as inactive.
type AccountStore interface {
	AccountStatus(ctx context.Context, userID int64) (active bool, role string, err error)
}

// Identity is what the issuer needs to know about a verified user.
type Identity struct {
	UserID   int64
	Username string
	Role     string
}

// Verifier issues and checks HS256 session tokens.
type Verifier struct {
	cfg      Config
	revoked  RevocationStore
	accounts AccountStore
	now      func() time.Time
}

// NewVerifier constructs a verifier. A nil store keeps revocations in
// memory.
func NewVerifier(cfg Config, revoked RevocationStore) *Verifier {
	if revoked == nil {
		revoked = NewMemoryRevocations()
	}
	return &Verifier{cfg: cfg, revoked: revoked, now: time.Now}
}

// WithAccounts makes every verification consult the user's current active
// flag and role instead of trusting the ones signed into the token.
func (v *Verifier) WithAccounts(accounts AccountStore) *Verifier {
	v.accounts = accounts
	return v
}

// Issue signs a token for id and returns it with the matching principal.
func (v *Verifier) Issue(id Identity) (string, *Principal, error) {
	now := v.now()
	pr := &Principal{
		UserID:    id.UserID,
		Username:  id.Username,
		Role:      id.Role,
		TokenID:   uuid.NewString(),
		ExpiresAt: now.Add(v.cfg.TTL).Truncate(time.Second),
	}
	claims := jwt.MapClaims{
		"sub":      strconv.FormatInt(id.UserID, 10),
		"iss":      v.cfg.Issuer,
		"iat":      now.Unix(),
		"exp":      pr.ExpiresAt.Unix(),
		"jti":      pr.TokenID,
		"username": id.Username,
		"role":     id.Role,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.cfg.Secret)
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign token: %w", err)
	}
	pr.Claims = claims
	return signed, pr, nil
}

// ParseAndVerifyToken verifies a bearer token, validates issuer/exp,
// revocation and account status and returns Principal.
func (v *Verifier) ParseAndVerifyToken(ctx context.Context, tokenString string) (*Principal, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return nil, ErrNoToken
	}
	parsed, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		// enforce HS256
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return v.cfg.Secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}
	if iss, _ := claims["iss"].(string); iss != v.cfg.Issuer {
		return nil, ErrInvalidIssuer
	}
	if !claims.VerifyExpiresAt(v.now().Unix(), true) {
		return nil, ErrInvalidToken
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, ErrMissingSub
	}
	userID, err := strconv.ParseInt(sub, 10, 64)
	if err != nil || userID <= 0 {
		return nil, ErrInvalidToken
	}
	jti, _ := claims["jti"].(string)
	if jti == "" {
		return nil, ErrInvalidToken
	}

	revoked, err := v.revoked.IsRevoked(ctx, jti)
	if err != nil {
		return nil, fmt.Errorf("failed to check token revocation: %w", err)
	}
	if revoked {
		return nil, ErrRevoked
	}

	pr := &Principal{
		UserID:  userID,
		TokenID: jti,
		Claims:  claims,
	}
	pr.Username, _ = claims["username"].(string)
	pr.Role, _ = claims["role"].(string)
	if exp, ok := claims["exp"].(float64); ok {
		pr.ExpiresAt = time.Unix(int64(exp), 0)
	}

	if v.accounts != nil {
		active, role, err := v.accounts.AccountStatus(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to check account status: %w", err)
		}
		if !active {
			return nil, ErrInactive
		}
		pr.Role = role
	}
	return pr, nil
}

// Revoke invalidates the principal's token until it would have expired.
func (v *Verifier) Revoke(ctx context.Context, pr *Principal) error {
	if pr == nil || pr.TokenID == "" {
		return ErrNoToken
	}
	return v.revoked.Revoke(ctx, pr.TokenID, pr.ExpiresAt)
}
