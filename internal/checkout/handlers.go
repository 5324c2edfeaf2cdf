package checkout

import (
	"errors"
	"net/http"

	"github.com/noah-isme/backend-fotoko/internal/cart"
	"github.com/noah-isme/backend-fotoko/internal/common"
	"github.com/noah-isme/backend-fotoko/internal/coupon"
)

// Handler exposes POST /api/v1/checkout. It expects the cart Session middleware;
// an authenticated user, when present, is attached to the order.
type Handler struct {
	Svc *Service
}

// Checkout handles POST /api/v1/checkout.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "checkout service not configured", nil)
		return
	}
	var payload Input
	if err := common.DecodeJSON(r, &payload); err != nil {
		h.writeError(w, err)
		return
	}
	sid, _ := common.SessionID(r.Context())
	out, err := h.Svc.Checkout(r.Context(), sid, payload)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusCreated, out)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	if appErr, ok := coupon.AsAppError(err); ok {
		common.WriteAppError(w, appErr)
		return
	}
	switch {
	case errors.Is(err, cart.ErrNoSession):
		common.JSONError(w, http.StatusBadRequest, "SESSION_REQUIRED", "cart session required", nil)
	case errors.Is(err, ErrCartEmpty):
		common.JSONError(w, http.StatusBadRequest, "CART_EMPTY", "cart is empty", nil)
	default:
		if common.WriteAppError(w, err) {
			return
		}
		h.Svc.Log.Error().Err(err).Msg("checkout_failed")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "checkout failed", nil)
	}
}
