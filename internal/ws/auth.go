package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"portal_go/internal/domain"
)

// DefaultAuthTimeout bounds how long a connection may stay unauthenticated.
const DefaultAuthTimeout = 10 * time.Second

// TokenVerifier checks a session token and returns its principal id.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// PrincipalLookup resolves a principal id to a live account.
type PrincipalLookup interface {
	LookupPrincipal(ctx context.Context, id string) (*domain.User, error)
}

// Authenticator binds a bearer credential to a principal. It shares the
// token rules of the REST session layer.
type Authenticator struct {
	tokens  TokenVerifier
	users   PrincipalLookup
	timeout time.Duration
	logger  *slog.Logger
}

func NewAuthenticator(tokens TokenVerifier, users PrincipalLookup, timeout time.Duration, logger *slog.Logger) *Authenticator {
	if timeout <= 0 {
		timeout = DefaultAuthTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{tokens: tokens, users: users, timeout: timeout, logger: logger.With("component", "ws-auth")}
}

// Timeout is the grace period for authentication.
func (a *Authenticator) Timeout() time.Duration { return a.timeout }

// Authenticate verifies credential and resolves its principal. Every failure
// is an authentication error so callers cannot tell the cases apart.
func (a *Authenticator) Authenticate(ctx context.Context, credential string) (*domain.User, error) {
	if strings.TrimSpace(credential) == "" {
		return nil, domain.Authentication("missing credential")
	}
	sub, err := a.tokens.Verify(credential)
	if err != nil {
		a.logger.Debug("token rejected", "error", err)
		return nil, domain.Authentication("invalid or expired credential")
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	user, err := a.users.LookupPrincipal(ctx, sub)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			a.logger.Error("principal lookup failed", "user_id", sub, "error", err)
		}
		return nil, domain.Authentication("unknown principal")
	}
	return user, nil
}

// CredentialSource says where a handshake credential was found.
type CredentialSource string

const (
	SourceNone        CredentialSource = ""
	SourceHeader      CredentialSource = "authorization"
	SourceSubprotocol CredentialSource = "subprotocol"
	SourceCookie      CredentialSource = "cookie"
	SourceQuery       CredentialSource = "query"
)

// SessionCookieName is the cookie the login endpoint sets.
const SessionCookieName = "token"

// extractCredential looks for a bearer token on the upgrade request. The
// query parameter is only honoured when allowQuery is set.
func extractCredential(r *http.Request, allowQuery bool) (string, CredentialSource) {
	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		if token := strings.TrimSpace(authHeader[len("Bearer "):]); token != "" {
			return token, SourceHeader
		}
	}

	if protocolHeader := r.Header.Get("Sec-WebSocket-Protocol"); protocolHeader != "" {
		parts := strings.Split(protocolHeader, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		if len(parts) >= 2 && strings.EqualFold(parts[0], "bearer") && parts[1] != "" {
			return parts[1], SourceSubprotocol
		}
	}

	if c, err := r.Cookie(SessionCookieName); err == nil && c.Value != "" {
		return c.Value, SourceCookie
	}

	if allowQuery {
		if token := strings.TrimSpace(r.URL.Query().Get("token")); token != "" {
			return token, SourceQuery
		}
	}
	return "", SourceNone
}

func normalizeAllowedOrigins(origins []string) map[string]struct{} {
	res := make(map[string]struct{}, len(origins))
	for _, origin := range origins {
		o := strings.TrimRight(strings.TrimSpace(strings.ToLower(origin)), "/")
		if o != "" {
			res[o] = struct{}{}
		}
	}
	return res
}

// makeCheckOrigin accepts browser origins on the allow list and requests
// that carry no Origin header at all.
func makeCheckOrigin(allowedOrigins []string) func(r *http.Request) bool {
	allowed := normalizeAllowedOrigins(allowedOrigins)
	_, wildcard := allowed["*"]

	return func(r *http.Request) bool {
		origin := strings.TrimSpace(strings.ToLower(r.Header.Get("Origin")))
		if origin == "" || wildcard {
			return true
		}
		if _, ok := allowed[origin]; ok {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return false
		}
		_, ok := allowed[fmt.Sprintf("%s://%s", u.Scheme, u.Host)]
		return ok
	}
}
