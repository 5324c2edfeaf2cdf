package order

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-fotoko/internal/common"
)

// AdminHandler provides administrative order endpoints.
type AdminHandler struct {
	Svc *Service
	Log zerolog.Logger
}

type patchStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=CANCELED REFUNDED"`
}

// List handles GET /api/v1/admin/orders?status=.
func (h *AdminHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "order service not configured", nil)
		return
	}
	page, perPage := common.ParsePagination(r, 50, 200)
	status := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("status")))
	views, total, err := h.Svc.ListAll(r.Context(), status, page, perPage)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	w.Header().Set("X-Total-Count", strconv.FormatInt(total, 10))
	common.JSON(w, http.StatusOK, map[string]any{
		"data":       views,
		"pagination": common.NewPagination(page, perPage, total),
	})
}

// Get handles GET /api/v1/admin/orders/{id}.
func (h *AdminHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "order service not configured", nil)
		return
	}
	view, err := h.Svc.GetAny(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	common.Data(w, http.StatusOK, view)
}

// PatchStatus handles PATCH /api/v1/admin/orders/{id}/status.
func (h *AdminHandler) PatchStatus(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "order service not configured", nil)
		return
	}
	var req patchStatusRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		writeError(w, h.Log, err)
		return
	}
	view, err := h.Svc.SetStatus(r.Context(), chi.URLParam(r, "id"), req.Status)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	common.Data(w, http.StatusOK, view)
}
