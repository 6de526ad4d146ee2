package httpserver

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"portal_go/internal/domain"
	"portal_go/internal/security"
	"portal_go/internal/service"
)

type contextKey string

const userContextKey contextKey = "currentUser"

// sessionCookie carries the session token for browser clients.
const sessionCookie = "token"

// WithUser returns a new context carrying the current user.
func WithUser(ctx context.Context, user *domain.User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// CurrentUser extracts the current user from context, if any.
func CurrentUser(r *http.Request) *domain.User {
	if v := r.Context().Value(userContextKey); v != nil {
		if u, ok := v.(*domain.User); ok {
			return u
		}
	}
	return nil
}

func bearerToken(r *http.Request) string {
	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		return strings.TrimSpace(authHeader[len("Bearer "):])
	}
	if c, err := r.Cookie(sessionCookie); err == nil {
		return c.Value
	}
	return ""
}

// AuthMiddleware validates the session token from the Authorization header
// or the session cookie and attaches the user to the context.
func AuthMiddleware(tokens *security.TokenService, users *service.UserService, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr := bearerToken(r)
			if tokenStr == "" {
				writeError(w, logger, domain.Authentication("not authorized, no token"))
				return
			}

			sub, err := tokens.Verify(tokenStr)
			if err != nil {
				writeError(w, logger, domain.Authentication("not authorized, token failed"))
				return
			}

			user, err := users.LookupPrincipal(r.Context(), sub)
			if err != nil {
				if domain.CodeOf(err) == domain.CodeInternal {
					logger.Error("auth middleware: principal lookup failed", "user_id", sub, "error", err)
				}
				writeError(w, logger, domain.Authentication("user not found"))
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}
