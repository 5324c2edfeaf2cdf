package catalog

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/backend-fotoko/internal/common"
)

// Handler exposes catalog endpoints.
type Handler struct {
	service *Service
}

// HandlerConfig configures the Handler dependencies.
type HandlerConfig struct {
	Service *Service
}

// NewHandler constructs a Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{service: cfg.Service}
}

// Events handles GET /api/v1/events.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "catalog service not configured", nil)
		return
	}
	def, maxLimit := h.service.Limits()
	page, limit := common.ParsePagination(r, def, maxLimit)
	result, err := h.service.ListEvents(r.Context(), page, limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("X-Total-Count", strconv.FormatInt(result.Total, 10))
	common.JSON(w, http.StatusOK, map[string]any{
		"data":       result.Items,
		"pagination": common.NewPagination(result.Page, result.Limit, result.Total),
	})
}

// EventDetail handles GET /api/v1/events/{slug}.
func (h *Handler) EventDetail(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "catalog service not configured", nil)
		return
	}
	detail, err := h.service.EventDetail(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, detail)
}

// CreateEvent handles POST /api/v1/admin/events.
func (h *Handler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "catalog service not configured", nil)
		return
	}
	var in CreateEventInput
	if err := common.DecodeJSON(r, &in); err != nil {
		h.writeError(w, err)
		return
	}
	ev, err := h.service.CreateEvent(r.Context(), in)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusCreated, ev)
}

// UpdateEvent handles PATCH /api/v1/admin/events/{id}.
func (h *Handler) UpdateEvent(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "catalog service not configured", nil)
		return
	}
	id, ok := common.ParsePositiveID(chi.URLParam(r, "id"))
	if !ok {
		h.writeError(w, badRequest("id", "invalid event id", nil))
		return
	}
	var in UpdateEventInput
	if err := common.DecodeJSON(r, &in); err != nil {
		h.writeError(w, err)
		return
	}
	ev, err := h.service.UpdateEvent(r.Context(), id, in)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, ev)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrEventNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "event not found", nil)
	case errors.Is(err, ErrSlugTaken):
		common.JSONError(w, http.StatusConflict, "SLUG_TAKEN", "event slug already in use", nil)
	case common.WriteAppError(w, err):
	default:
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
	}
}
