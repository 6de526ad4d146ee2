package httpserver

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"portal_go/internal/config"
	"portal_go/internal/domain"
	"portal_go/internal/security"
	"portal_go/internal/service"
	"portal_go/internal/ws"

	_ "portal_go/docs"
	httpSwagger "github.com/swaggo/http-swagger"
)

// Deps are the collaborators the router wires into handlers.
type Deps struct {
	Tokens   *security.TokenService
	Auth     *service.AuthService
	Users    *service.UserService
	Messages *service.MessageService
	Hub      *ws.Hub
	Logger   *slog.Logger
}

type sessionSettings struct {
	ttl    time.Duration
	secure bool
}

type errorResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewRouter constructs the main HTTP router and wires routes, services, and middleware.
func NewRouter(cfg *config.Config, deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	session := sessionSettings{ttl: cfg.AccessTokenTTL(), secure: cfg.IsProduction()}

	r := chi.NewRouter()

	// Middlewares
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// WebSocket endpoint; outside the request timeout.
	r.Get("/ws", ws.MakeHandler(deps.Hub, ws.NewAuthenticator(deps.Tokens, deps.Users, cfg.WSAuthTimeout, logger), deps.Messages, ws.Options{
		AllowedOrigins:  cfg.CORSOrigins,
		AllowQueryToken: cfg.WSAllowQueryToken,
		SendBuffer:      cfg.WSSendBuffer,
		RatePerSec:      cfg.WSRatePerSec,
		RateBurst:       cfg.WSRateBurst,
	}, logger))

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))

		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"message": cfg.AppName, "version": "1.0.0", "docs": "/docs"})
		})

		// Swagger documentation
		r.Get("/docs/*", httpSwagger.Handler(
			httpSwagger.URL("/docs/doc.json"),
		))

		r.Route("/api", func(r chi.Router) {
			r.Get("/health", handleHealth(deps.Hub))

			// Auth routes (no auth required)
			r.Route("/auth", func(r chi.Router) {
				r.Post("/register", handleRegister(deps.Auth, session, logger))
				r.Post("/login", handleLogin(deps.Auth, session, logger))
			})

			// Authenticated routes
			r.Group(func(r chi.Router) {
				r.Use(AuthMiddleware(deps.Tokens, deps.Users, logger))

				r.Post("/auth/logout", handleLogout(session))
				r.Get("/auth/me", handleMe())

				r.Get("/users/{userID}", handleGetUser(deps.Users, logger))

				r.Route("/chat", func(r chi.Router) {
					r.Get("/users", handleChatUsers(deps.Messages, logger))
					r.Get("/messages/{otherUserID}", handleChatHistory(deps.Messages, deps.Hub, logger))
					r.Put("/mark-as-read/{senderID}", handleMarkAsRead(deps.Messages, deps.Hub, logger))
				})
			})
		})
	})

	return r
}

// @Summary      Health
// @Tags         system
// @Produce      json
// @Success      200  {object}  map[string]any
// @Router       /health [get]
func handleHealth(hub *ws.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "healthy", "connections": hub.ConnectionCount()})
	}
}

// writeJSON is a small helper to send JSON responses.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func statusFor(code domain.Code) int {
	switch code {
	case domain.CodeUnauthenticated:
		return http.StatusUnauthorized
	case domain.CodeInvalidArgument:
		return http.StatusBadRequest
	case domain.CodePermissionDenied:
		return http.StatusForbidden
	case domain.CodeNotFound:
		return http.StatusNotFound
	case domain.CodeFailedPrecondition:
		return http.StatusConflict
	case domain.CodeResourceExhausted:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps a domain error to its status. Internal details are logged,
// never returned.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	code := domain.CodeOf(err)
	if code == domain.CodeInternal {
		logger.Error("request failed", "error", err)
	}
	writeJSON(w, statusFor(code), errorResponse{Success: false, Code: string(code), Message: domain.PublicMessage(err)})
}
