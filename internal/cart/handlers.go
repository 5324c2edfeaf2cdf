package cart

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-fotoko/internal/common"
	"github.com/noah-isme/backend-fotoko/internal/coupon"
	"github.com/noah-isme/backend-fotoko/internal/lock"
	"github.com/noah-isme/backend-fotoko/internal/obs"
	"github.com/noah-isme/backend-fotoko/internal/pricing"
)

// Handler wires cart services to HTTP. Every route expects the Session middleware.
type Handler struct {
	Svc *Service
	Log zerolog.Logger
}

// Get handles GET /api/v1/cart.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "cart service not configured", nil)
		return
	}
	sid, _ := common.SessionID(r.Context())
	c, err := h.Svc.Get(r.Context(), sid)
	h.respond(w, http.StatusOK, c, err)
}

type addItemRequest struct {
	ID int64 `json:"id" validate:"required,gt=0"`
	// Display fields are accepted so a catalog photo can be posted as-is;
	// stored values always come from the catalog.
	URL       string           `json:"url"`
	Price     *decimal.Decimal `json:"price"`
	EventID   EventRef         `json:"eventId"`
	EventName string           `json:"eventName"`
}

// AddItem handles POST /api/v1/cart/items.
func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "cart service not configured", nil)
		return
	}
	var payload addItemRequest
	if err := common.DecodeJSON(r, &payload); err != nil {
		h.writeError(w, err)
		return
	}
	sid, _ := common.SessionID(r.Context())
	c, err := h.Svc.AddPhoto(r.Context(), sid, payload.ID)
	h.respond(w, http.StatusOK, c, err)
}

// RemoveItem handles DELETE /api/v1/cart/items/{photoID}.
func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "cart service not configured", nil)
		return
	}
	id, ok := common.ParsePositiveID(chi.URLParam(r, "photoID"))
	if !ok {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid photo id", nil)
		return
	}
	sid, _ := common.SessionID(r.Context())
	c, err := h.Svc.RemovePhoto(r.Context(), sid, id)
	h.respond(w, http.StatusOK, c, err)
}

// ToggleItem handles POST /api/v1/cart/items/{photoID}/toggle.
func (h *Handler) ToggleItem(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "cart service not configured", nil)
		return
	}
	id, ok := common.ParsePositiveID(chi.URLParam(r, "photoID"))
	if !ok {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid photo id", nil)
		return
	}
	sid, _ := common.SessionID(r.Context())
	c, err := h.Svc.TogglePhoto(r.Context(), sid, id)
	h.respond(w, http.StatusOK, c, err)
}

// Clear handles DELETE /api/v1/cart.
func (h *Handler) Clear(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "cart service not configured", nil)
		return
	}
	sid, _ := common.SessionID(r.Context())
	c, err := h.Svc.Clear(r.Context(), sid)
	h.respond(w, http.StatusOK, c, err)
}

// ApplyCoupon handles POST /api/v1/cart/coupon.
func (h *Handler) ApplyCoupon(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "cart service not configured", nil)
		return
	}
	var payload struct {
		Code string `json:"code" validate:"required,max=64"`
	}
	if err := common.DecodeJSON(r, &payload); err != nil {
		h.writeError(w, err)
		return
	}
	sid, _ := common.SessionID(r.Context())
	c, err := h.Svc.ApplyCoupon(r.Context(), sid, strings.TrimSpace(payload.Code))
	h.respond(w, http.StatusOK, c, err)
}

// RemoveCoupon handles DELETE /api/v1/cart/coupon.
func (h *Handler) RemoveCoupon(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "cart service not configured", nil)
		return
	}
	sid, _ := common.SessionID(r.Context())
	c, err := h.Svc.RemoveCoupon(r.Context(), sid)
	h.respond(w, http.StatusOK, c, err)
}

// SetDrawer handles PUT /api/v1/cart/drawer.
func (h *Handler) SetDrawer(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "cart service not configured", nil)
		return
	}
	var payload struct {
		Open *bool `json:"open" validate:"required"`
	}
	if err := common.DecodeJSON(r, &payload); err != nil {
		h.writeError(w, err)
		return
	}
	sid, _ := common.SessionID(r.Context())
	c, err := h.Svc.SetDrawer(r.Context(), sid, *payload.Open)
	h.respond(w, http.StatusOK, c, err)
}

func (h *Handler) respond(w http.ResponseWriter, status int, c Cart, err error) {
	if err != nil {
		h.writeError(w, err)
		return
	}
	view, err := NewView(c)
	if err != nil {
		h.writeError(w, err)
		return
	}
	couponLabel := "none"
	if c.AppliedCoupon != nil {
		couponLabel = strings.ToLower(c.AppliedCoupon.DiscountType)
	}
	obs.Inc(obs.PricingComputations, view.Savings.UnitPrice.String(), couponLabel)
	common.Data(w, status, view)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	if appErr, ok := coupon.AsAppError(err); ok {
		common.JSONError(w, appErr.HTTPStatus, appErr.Code, appErr.Message, appErr.Details)
		return
	}
	switch {
	case errors.Is(err, ErrNoSession):
		common.JSONError(w, http.StatusBadRequest, "SESSION_REQUIRED", "cart session required", nil)
	case errors.Is(err, ErrPhotoNotFound):
		common.JSONError(w, http.StatusNotFound, "PHOTO_NOT_FOUND", "photo not available", nil)
	case errors.Is(err, ErrInvalidItem):
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
	case errors.Is(err, pricing.ErrInvalidCoupon):
		common.JSONError(w, http.StatusBadRequest, "INVALID_COUPON", err.Error(), nil)
	case errors.Is(err, lock.ErrNotAcquired):
		common.JSONError(w, http.StatusConflict, "CART_BUSY", "cart is being updated, retry shortly", nil)
	case common.WriteAppError(w, err):
	default:
		h.Log.Error().Err(err).Msg("cart request failed")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
	}
}
