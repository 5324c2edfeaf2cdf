package auth

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-fotoko/internal/common"
)

// Handler exposes HTTP handlers for authentication and account endpoints.
type Handler struct {
	Service          *Service
	AccessCookieName string
	CookieDomain     string
	CookieSecure     bool
	CookieSameSite   http.SameSite
	Log              zerolog.Logger
}

// Register handles POST /api/v1/auth/register.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "auth service not configured", nil)
		return
	}
	var req RegisterInput
	if err := common.DecodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	user, err := h.Service.Register(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusCreated, user)
}

// Login handles POST /api/v1/auth/login.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "auth service not configured", nil)
		return
	}
	var req LoginInput
	if err := common.DecodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	result, err := h.Service.Login(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if h.AccessCookieName != "" {
		http.SetCookie(w, &http.Cookie{
			Name:     h.AccessCookieName,
			Value:    result.AccessToken,
			Domain:   h.CookieDomain,
			Path:     "/",
			Expires:  result.AccessExpiry,
			HttpOnly: true,
			Secure:   h.CookieSecure,
			SameSite: h.CookieSameSite,
		})
	}
	common.Data(w, http.StatusOK, result)
}

// Logout handles POST /api/v1/auth/logout. Access tokens are stateless, so
// only the cookie is cleared.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if h.AccessCookieName != "" {
		http.SetCookie(w, &http.Cookie{
			Name:     h.AccessCookieName,
			Value:    "",
			Domain:   h.CookieDomain,
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   h.CookieSecure,
			SameSite: h.CookieSameSite,
		})
	}
	w.WriteHeader(http.StatusNoContent)
}

// Me handles GET /api/v1/auth/me.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "auth service not configured", nil)
		return
	}
	userID, ok := common.UserID(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid token", nil)
		return
	}
	user, err := h.Service.Me(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, user)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	if common.WriteAppError(w, err) {
		return
	}
	h.Log.Error().Err(err).Msg("auth_request_failed")
	common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
}
