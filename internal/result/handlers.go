package result

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-fotoko/internal/common"
)

// Handler serves GET /api/v1/checkout/result/{outcome}.
type Handler struct {
	Pages Pages
	Log   zerolog.Logger
}

// Show renders the page for the outcome in the URL.
func (h *Handler) Show(w http.ResponseWriter, r *http.Request) {
	page, err := h.Pages.Build(r.Context(), chi.URLParam(r, "outcome"), QueryFrom(r.URL.Query()))
	if errors.Is(err, ErrUnknownOutcome) {
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "unknown result page", nil)
		return
	}
	if err != nil {
		h.Log.Error().Err(err).Msg("result_page_failed")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to build result page", nil)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	common.Data(w, http.StatusOK, page)
}
