package auth

import (
	"errors"
	"time"
)

// Config holds the session token settings.
type Config struct {
	Secret []byte
	Issuer string
	TTL    time.Duration
}

const (
	DefaultIssuer = "clinical-records-service"
	DefaultTTL    = 8 * time.Hour
	minSecretLen  = 32
)

var ErrWeakSecret = errors.New("jwt secret must be at least 32 bytes")

// NewConfig fills defaults for an empty issuer or TTL and rejects short
// secrets.
func NewConfig(secret, issuer string, ttl time.Duration) (Config, error) {
	if len(secret) < minSecretLen {
		return Config{}, ErrWeakSecret
	}
	if issuer == "" {
		issuer = DefaultIssuer
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return Config{Secret: []byte(secret), Issuer: issuer, TTL: ttl}, nil
}
