package order

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-fotoko/internal/common"
)

// Handler serves buyer order endpoints.
type Handler struct {
	Svc *Service
	Log zerolog.Logger
}

// List handles GET /api/v1/orders for the authenticated buyer.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "order service not configured", nil)
		return
	}
	userID, ok := common.UserID(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return
	}
	page, perPage := common.ParsePagination(r, 20, 100)
	views, total, err := h.Svc.ListForUser(r.Context(), userID, page, perPage)
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("X-Total-Count", strconv.FormatInt(total, 10))
	common.JSON(w, http.StatusOK, map[string]any{
		"data":       views,
		"pagination": common.NewPagination(page, perPage, total),
	})
}

// Get handles GET /api/v1/orders/{orderId}. The buyer account or the cart
// session that placed the order may read it.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "order service not configured", nil)
		return
	}
	view, err := h.Svc.Get(r.Context(), chi.URLParam(r, "orderId"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, view)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	writeError(w, h.Log, err)
}

func writeError(w http.ResponseWriter, log zerolog.Logger, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "order not found", nil)
	case errors.Is(err, ErrInvalidTransition):
		common.JSONError(w, http.StatusConflict, "INVALID_STATE", err.Error(), nil)
	default:
		if common.WriteAppError(w, err) {
			return
		}
		log.Error().Err(err).Msg("order_request_failed")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to load orders", nil)
	}
}
