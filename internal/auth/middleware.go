package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/response"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type ctxKey string

const principalKey ctxKey = "auth_principal"

var tracer = otel.Tracer("github.com/WailSalutem-Health-Care/clinical-records-service/auth")

// MetricsRecorder interface for recording auth metrics
type MetricsRecorder interface {
	RecordAuthFailure(ctx context.Context, reason string)
}

// Middleware validates token, injects Principal into request context.
func Middleware(ver *Verifier, logger *zap.Logger) func(http.Handler) http.Handler {
	return MiddlewareWithMetrics(ver, logger, nil)
}

// MiddlewareWithMetrics validates token with metrics recording
func MiddlewareWithMetrics(ver *Verifier, logger *zap.Logger, metrics MetricsRecorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			ctx, span := tracer.Start(ctx, "auth.Middleware",
				trace.WithSpanKind(trace.SpanKindInternal),
			)
			defer span.End()

			reject := func(reason, message string) {
				span.SetStatus(codes.Error, message)
				span.SetAttributes(attribute.String("error.type", reason))
				if metrics != nil {
					metrics.RecordAuthFailure(ctx, reason)
				}
				response.Fail(w, http.StatusUnauthorized, reason, message)
			}

			authz := r.Header.Get("Authorization")
			if authz == "" {
				reject("missing_authorization", "missing authorization")
				return
			}

			parts := strings.SplitN(authz, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				reject("invalid_header_format", "invalid authorization header")
				return
			}

			pr, err := ver.ParseAndVerifyToken(ctx, parts[1])
			switch {
			case errors.Is(err, ErrRevoked):
				reject("revoked_token", "token has been revoked")
				return
			case errors.Is(err, ErrInactive):
				reject("inactive_account", "account is inactive")
				return
			case err != nil:
				logger.Debug("token validation failed", zap.Error(err))
				reject("invalid_token", "invalid token")
				return
			}

			span.SetAttributes(
				attribute.Int64("user.id", pr.UserID),
				attribute.String("user.role", pr.Role),
			)
			span.SetStatus(codes.Ok, "authentication successful")

			ctx = context.WithValue(ctx, principalKey, pr)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// PermissionMetricsRecorder interface for recording permission check metrics
type PermissionMetricsRecorder interface {
	RecordPermissionCheck(ctx context.Context, permission string, allowed bool)
}

// RequirePermission returns middleware that ensures the principal has permission.
func RequirePermission(per string, perms Permissions, logger *zap.Logger) func(http.Handler) http.Handler {
	return RequirePermissionWithMetrics(per, perms, logger, nil)
}

// RequirePermissionWithMetrics returns middleware with metrics recording
func RequirePermissionWithMetrics(per string, perms Permissions, logger *zap.Logger, metrics PermissionMetricsRecorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, span := tracer.Start(r.Context(), "auth.RequirePermission",
				trace.WithSpanKind(trace.SpanKindInternal),
				trace.WithAttributes(attribute.String("permission.required", per)),
			)
			defer span.End()

			pr, ok := FromContext(ctx)
			if !ok {
				span.SetStatus(codes.Error, "unauthenticated")
				if metrics != nil {
					metrics.RecordPermissionCheck(ctx, per, false)
				}
				response.Fail(w, http.StatusUnauthorized, "unauthenticated", "User not authenticated")
				return
			}

			allowed := HasPermission(pr, per, perms)
			span.SetAttributes(
				attribute.Bool("permission.allowed", allowed),
				attribute.Int64("user.id", pr.UserID),
				attribute.String("user.role", pr.Role),
			)
			if metrics != nil {
				metrics.RecordPermissionCheck(ctx, per, allowed)
			}

			if !allowed {
				logger.Info("permission denied",
					zap.Int64("user_id", pr.UserID),
					zap.String("role", pr.Role),
					zap.String("permission", per))
				span.SetStatus(codes.Error, "forbidden")
				response.Fail(w, http.StatusForbidden, "forbidden", "insufficient permissions")
				return
			}

			span.SetStatus(codes.Ok, "permission granted")
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// FromContext extracts Principal from context.
func FromContext(ctx context.Context) (*Principal, bool) {
	pr, ok := ctx.Value(principalKey).(*Principal)
	return pr, ok
}
