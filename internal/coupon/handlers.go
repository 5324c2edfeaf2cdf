package coupon

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/backend-fotoko/internal/common"
)

// Handler exposes coupon preview and administrative management endpoints.
type Handler struct {
	Svc          *Service
	DefaultLimit int
	MaxLimit     int
}

// List handles GET /api/v1/admin/coupons.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "coupon service not configured", nil)
		return
	}
	page, limit := common.ParsePagination(r, max(h.DefaultLimit, 1), h.MaxLimit)
	items, err := h.Svc.List(r.Context(), page, limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"data":       items,
		"pagination": common.Pagination{Page: page, PerPage: limit},
	})
}

// Create handles POST /api/v1/admin/coupons.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "coupon service not configured", nil)
		return
	}
	var payload CreateInput
	if err := common.DecodeJSON(r, &payload); err != nil {
		h.writeError(w, err)
		return
	}
	view, err := h.Svc.Create(r.Context(), payload)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusCreated, view)
}

// Update handles PATCH /api/v1/admin/coupons/{id}.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "coupon service not configured", nil)
		return
	}
	var payload Terms
	if err := common.DecodeJSON(r, &payload); err != nil {
		h.writeError(w, err)
		return
	}
	view, err := h.Svc.Update(r.Context(), chi.URLParam(r, "id"), payload)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, view)
}

type previewRequest struct {
	Code      string `json:"code" validate:"required,max=64"`
	ItemCount int    `json:"itemCount" validate:"gte=0,lte=100000"`
}

// Preview handles POST /api/v1/coupons/preview.
func (h *Handler) Preview(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "coupon service not configured", nil)
		return
	}
	var req previewRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	result, err := h.Svc.Preview(r.Context(), req.Code, req.ItemCount)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, result)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrCodeTaken) {
		common.JSONError(w, http.StatusConflict, "CONFLICT", "coupon code already exists", nil)
		return
	}
	if appErr, ok := AsAppError(err); ok {
		common.JSONError(w, appErr.HTTPStatus, appErr.Code, appErr.Message, appErr.Details)
		return
	}
	if common.WriteAppError(w, err) {
		return
	}
	common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
}
