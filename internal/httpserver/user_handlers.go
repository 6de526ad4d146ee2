package httpserver

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"portal_go/internal/service"
)

// @Summary      Get user
// @Description  Public card of an active user, used for chat headers
// @Tags         users
// @Security     BearerAuth
// @Produce      json
// @Param        userID path string true "User ID"
// @Success      200  {object}  domain.User
// @Failure      404  {object}  errorResponse
// @Router       /users/{userID} [get]
func handleGetUser(userSvc *service.UserService, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := userSvc.LookupPrincipal(r.Context(), chi.URLParam(r, "userID"))
		if err != nil {
			writeError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "user": user})
	}
}
