package payment

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/backend-fotoko/internal/common"
	"github.com/noah-isme/backend-fotoko/internal/order"
	"github.com/noah-isme/backend-fotoko/internal/resilience"
)

const maxWebhookBody = 1 << 20

// Handler exposes payment retry, status polling and the provider webhook.
type Handler struct {
	Svc *Service
}

type retryResp struct {
	OrderID     string `json:"orderId"`
	Provider    string `json:"provider"`
	Status      string `json:"status"`
	RedirectURL string `json:"redirectUrl"`
}

// Retry handles POST /api/v1/payments/{orderId}/retry.
func (h *Handler) Retry(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "PAYMENT_NOT_CONFIGURED", "payment handler unavailable", nil)
		return
	}
	orderID := chi.URLParam(r, "orderId")
	p, err := h.Svc.Retry(r.Context(), orderID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusCreated, retryResp{
		OrderID:     orderID,
		Provider:    p.Provider,
		Status:      p.Status,
		RedirectURL: p.RedirectUrl,
	})
}

// Status handles GET /api/v1/payments/{orderId}/status.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "PAYMENT_NOT_CONFIGURED", "payment handler unavailable", nil)
		return
	}
	view, err := h.Svc.Status(r.Context(), chi.URLParam(r, "orderId"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, view)
}

// Webhook handles POST /api/v1/payments/webhook.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "PAYMENT_NOT_CONFIGURED", "webhook unavailable", nil)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_BODY", "unable to read payload", nil)
		return
	}
	res, err := h.Svc.HandleWebhook(r.Context(), r, body)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, res)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, order.ErrNotFound):
		common.JSONError(w, http.StatusNotFound, "ORDER_NOT_FOUND", "order not found", nil)
	case errors.Is(err, ErrInvalidSignature):
		common.JSONError(w, http.StatusUnauthorized, "INVALID_SIGNATURE", "signature verification failed", nil)
	case errors.Is(err, ErrAlreadyPaid):
		common.JSONError(w, http.StatusConflict, "ORDER_ALREADY_PAID", "order already paid", nil)
	case errors.Is(err, ErrOrderClosed):
		common.JSONError(w, http.StatusConflict, "ORDER_CLOSED", "order does not accept payments", nil)
	case errors.Is(err, ErrAmountMismatch):
		common.JSONError(w, http.StatusBadRequest, "AMOUNT_MISMATCH", "provider amount mismatch", nil)
	case errors.Is(err, ErrNoPayment), errors.Is(err, ErrPaymentNotFound):
		common.JSONError(w, http.StatusNotFound, "PAYMENT_NOT_FOUND", "payment not found", nil)
	case errors.Is(err, resilience.ErrOpenCircuit):
		common.JSONError(w, http.StatusServiceUnavailable, "PAYMENT_PROVIDER_UNAVAILABLE", "payment provider temporarily unavailable", nil)
	case errors.Is(err, context.DeadlineExceeded):
		common.JSONError(w, http.StatusGatewayTimeout, "PAYMENT_PROVIDER_TIMEOUT", "payment provider timed out", nil)
	default:
		if common.WriteAppError(w, err) {
			return
		}
		h.Svc.Log.Error().Err(err).Msg("payment_request_failed")
		common.JSONError(w, http.StatusBadGateway, "PAYMENT_FAILED", "payment could not be processed", nil)
	}
}
