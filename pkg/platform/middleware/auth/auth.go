// Package auth provides JWT bearer authentication for coordinator and admin
// endpoints.
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	jwttoken "examreg/internal/jwt_token"
	id "examreg/pkg/domain"
)

// JWTValidator validates bearer tokens.
type JWTValidator interface {
	ValidateToken(tokenString string) (*jwttoken.Claims, error)
}

type contextKeyCoordinatorID struct{}
type contextKeyChapterID struct{}
type contextKeyRole struct{}

// GetCoordinatorID retrieves the authenticated coordinator id from context.
func GetCoordinatorID(ctx context.Context) id.CoordinatorID {
	v, _ := ctx.Value(contextKeyCoordinatorID{}).(id.CoordinatorID)
	return v
}

// GetChapterID retrieves the authenticated coordinator's chapter from context.
func GetChapterID(ctx context.Context) id.ChapterID {
	v, _ := ctx.Value(contextKeyChapterID{}).(id.ChapterID)
	return v
}

// GetRole retrieves the authenticated role from context.
func GetRole(ctx context.Context) string {
	v, _ := ctx.Value(contextKeyRole{}).(string)
	return v
}

// WithIdentity injects an authenticated identity into the context. Intended
// for handler tests.
func WithIdentity(ctx context.Context, coordinatorID id.CoordinatorID, chapterID id.ChapterID, role string) context.Context {
	ctx = context.WithValue(ctx, contextKeyCoordinatorID{}, coordinatorID)
	ctx = context.WithValue(ctx, contextKeyChapterID{}, chapterID)
	return context.WithValue(ctx, contextKeyRole{}, role)
}

func writeJSONError(w http.ResponseWriter, status int, errCode, errDesc string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(fmt.Appendf(nil, `{"error":"%s","error_description":"%s"}`, errCode, errDesc))
}

// RequireAuth rejects requests without a valid bearer token and stores the
// token's identity in the request context.
func RequireAuth(validator JWTValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok {
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Missing bearer token")
				return
			}

			claims, err := validator.ValidateToken(token)
			if err != nil {
				logger.WarnContext(r.Context(), "unauthorized access - invalid token", "error", err)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Invalid or expired token")
				return
			}

			ctx := WithIdentity(r.Context(),
				id.CoordinatorID(claims.CoordinatorID),
				id.ChapterID(claims.ChapterID),
				claims.Role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin allows only tokens carrying the admin role. Must run after
// RequireAuth.
func RequireAdmin(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if GetRole(r.Context()) != jwttoken.RoleAdmin {
				logger.WarnContext(r.Context(), "forbidden - admin role required",
					"coordinator_id", GetCoordinatorID(r.Context()))
				writeJSONError(w, http.StatusForbidden, "forbidden", "Admin role required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
