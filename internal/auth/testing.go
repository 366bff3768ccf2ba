package auth

import "context"

// ContextWithPrincipal adds a principal to the context for testing purposes
// This is exported to allow other packages to create test contexts
func ContextWithPrincipal(ctx context.Context, principal *Principal) context.Context {
	return context.WithValue(ctx, principalKey, principal)
}

// TestSecret is a signing secret long enough for NewConfig.
const TestSecret = "test-secret-test-secret-test-secret!"

// NewTestVerifier returns a verifier with an in-memory revocation store.
func NewTestVerifier() *Verifier {
	cfg, err := NewConfig(TestSecret, "", 0)
	if err != nil {
		panic(err)
	}
	return NewVerifier(cfg, nil)
}
