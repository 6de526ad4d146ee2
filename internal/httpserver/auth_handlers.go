package httpserver

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"portal_go/internal/domain"
	"portal_go/internal/service"
)

type registerRequest struct {
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Success     bool         `json:"success"`
	AccessToken string       `json:"token"`
	TokenType   string       `json:"tokenType"`
	User        *domain.User `json:"user"`
}

func setSessionCookie(w http.ResponseWriter, token string, ttl time.Duration, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// @Summary      Register a new user
// @Description  Register a standard account and return a session token
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        input body registerRequest true "Register input"
// @Success      201  {object}  tokenResponse
// @Failure      400  {object}  errorResponse
// @Failure      409  {object}  errorResponse
// @Router       /auth/register [post]
func handleRegister(authSvc *service.AuthService, session sessionSettings, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req registerRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, logger, domain.Validation("invalid JSON body"))
			return
		}

		user, err := authSvc.Register(r.Context(), service.RegisterInput{
			FullName: req.FullName,
			Email:    req.Email,
			Password: req.Password,
		})
		if err != nil {
			writeError(w, logger, err)
			return
		}

		// Auto-login after registration
		resp, err := authSvc.Login(r.Context(), service.LoginInput{Email: user.Email, Password: req.Password})
		if err != nil {
			writeError(w, logger, err)
			return
		}
		setSessionCookie(w, resp.AccessToken, session.ttl, session.secure)
		writeJSON(w, http.StatusCreated, tokenResponse{
			Success:     true,
			AccessToken: resp.AccessToken,
			TokenType:   resp.TokenType,
			User:        user,
		})
	}
}

// @Summary      Login
// @Description  Login with email and password; sets the session cookie
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        input body loginRequest true "Login input"
// @Success      200  {object}  tokenResponse
// @Failure      401  {object}  errorResponse
// @Router       /auth/login [post]
func handleLogin(authSvc *service.AuthService, session sessionSettings, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, logger, domain.Validation("invalid JSON body"))
			return
		}

		resp, err := authSvc.Login(r.Context(), service.LoginInput{Email: req.Email, Password: req.Password})
		if err != nil {
			writeError(w, logger, err)
			return
		}
		setSessionCookie(w, resp.AccessToken, session.ttl, session.secure)
		writeJSON(w, http.StatusOK, tokenResponse{
			Success:     true,
			AccessToken: resp.AccessToken,
			TokenType:   resp.TokenType,
			User:        resp.User,
		})
	}
}

// @Summary      Logout
// @Description  Clear the session cookie
// @Tags         auth
// @Security     BearerAuth
// @Success      204
// @Failure      401  {object}  errorResponse
// @Router       /auth/logout [post]
func handleLogout(session sessionSettings) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{
			Name:     sessionCookie,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   session.secure,
			SameSite: http.SameSiteLaxMode,
		})
		w.WriteHeader(http.StatusNoContent)
	}
}

// @Summary      Get Current User
// @Description  Get currently logged in user details
// @Tags         auth
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  domain.User
// @Failure      401  {object}  errorResponse
// @Router       /auth/me [get]
func handleMe() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "user": CurrentUser(r)})
	}
}
