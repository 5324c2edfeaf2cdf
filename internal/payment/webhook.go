package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5"

	"github.com/noah-isme/backend-fotoko/internal/common"
	"github.com/noah-isme/backend-fotoko/internal/db"
	"github.com/noah-isme/backend-fotoko/internal/obs"
	"github.com/noah-isme/backend-fotoko/internal/order"
	"github.com/noah-isme/backend-fotoko/internal/pricing"
)

// WebhookResult describes what a notification did.
type WebhookResult struct {
	OrderID   string `json:"orderId,omitempty"`
	Status    string `json:"status,omitempty"`
	Changed   bool   `json:"changed"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Ignored   bool   `json:"ignored,omitempty"`
}

// HandleWebhook authenticates a provider notification, re-reads the payment
// from the provider and applies it to the payment and order in one
// transaction. A PAID transition settles the order coupon and schedules
// delivery. Identical bodies are processed once per ReplayTTL.
func (s *Service) HandleWebhook(ctx context.Context, r *http.Request, body []byte) (res WebhookResult, err error) {
	if s == nil || s.Q == nil || s.Provider == nil {
		return WebhookResult{}, errors.New("payment service not configured")
	}
	provider := s.providerName()
	defer func() {
		label := "error"
		switch {
		case err == nil && res.Duplicate:
			label = "duplicate"
		case err == nil && res.Ignored:
			label = "ignored"
		case err == nil:
			label = res.Status
		case errors.Is(err, ErrInvalidSignature):
			label = "invalid_signature"
		}
		obs.Inc(obs.PaymentWebhookTotal, provider, label)
	}()

	n, err := s.Provider.VerifyWebhook(r, body)
	if errors.Is(err, ErrIgnoredNotification) {
		return WebhookResult{Ignored: true}, nil
	}
	if err != nil {
		return WebhookResult{}, err
	}

	replayKey := fmt.Sprintf("wh:%s:%s", provider, common.Sha256Hex(string(body)))
	if s.Replay != nil && s.ReplayTTL > 0 {
		fresh, err := s.Replay.SetNX(ctx, replayKey, "1", s.ReplayTTL).Result()
		if err != nil {
			return WebhookResult{}, fmt.Errorf("replay guard: %w", err)
		}
		if !fresh {
			s.Log.Info().Str("payment_id", n.PaymentID).Msg("payment_webhook_replay")
			return WebhookResult{Duplicate: true}, nil
		}
	}
	res, err = s.apply(ctx, n)
	if err != nil && s.Replay != nil && s.ReplayTTL > 0 {
		// Let the provider's retry reach us again.
		_ = s.Replay.Del(context.WithoutCancel(ctx), replayKey).Err()
	}
	return res, err
}

func (s *Service) apply(ctx context.Context, n Notification) (WebhookResult, error) {
	info, err := s.Provider.GetPayment(ctx, n.PaymentID)
	if err != nil {
		return WebhookResult{}, fmt.Errorf("fetch provider payment: %w", err)
	}
	oid, err := db.ParseUUID(info.OrderID)
	if err != nil {
		return WebhookResult{}, fmt.Errorf("%w: external reference %q", order.ErrNotFound, info.OrderID)
	}

	res := WebhookResult{OrderID: info.OrderID, Status: info.Status}
	var deliver bool
	err = s.inTx(ctx, func(q Querier) error {
		o, err := q.GetOrderByIDForUpdate(ctx, oid)
		if errors.Is(err, pgx.ErrNoRows) {
			return order.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock order: %w", err)
		}
		if !info.Amount.IsZero() && pricing.Minor(info.Amount) != o.TotalMinor {
			return fmt.Errorf("%w: provider %s, order %d", ErrAmountMismatch, info.Amount.StringFixed(2), o.TotalMinor)
		}
		p, err := q.GetLatestPaymentByOrder(ctx, o.ID)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNoPayment
		}
		if err != nil {
			return fmt.Errorf("load payment: %w", err)
		}
		if p.Status == info.Status || !statusAdvances(p.Status, info.Status) {
			deliver = o.Status == db.OrderStatusPaid && !o.DeliveredAt.Valid
			return nil
		}
		if err := q.UpdatePaymentStatus(ctx, db.UpdatePaymentStatusParams{
			ID:              p.ID,
			Status:          info.Status,
			ProviderRef:     info.ID,
			ProviderPayload: info.Payload,
		}); err != nil {
			return fmt.Errorf("update payment: %w", err)
		}
		res.Changed = true

		switch info.Status {
		case db.PaymentStatusPaid:
			if o.Status != db.OrderStatusPendingPayment && o.Status != db.OrderStatusCanceled {
				return nil
			}
			if err := q.UpdateOrderStatus(ctx, db.UpdateOrderStatusParams{ID: o.ID, Status: db.OrderStatusPaid}); err != nil {
				return fmt.Errorf("mark order paid: %w", err)
			}
			if s.Coupons != nil && o.CouponCode.Valid && o.CouponCode.String != "" {
				if err := s.Coupons.Settle(ctx, q, o.CouponCode.String, o.ID, o.UserID, o.CouponDiscountMinor); err != nil {
					return fmt.Errorf("settle coupon: %w", err)
				}
			}
			deliver = !o.DeliveredAt.Valid
		case db.PaymentStatusRefunded:
			if o.Status == db.OrderStatusPaid {
				if err := q.UpdateOrderStatus(ctx, db.UpdateOrderStatusParams{ID: o.ID, Status: db.OrderStatusRefunded}); err != nil {
					return fmt.Errorf("mark order refunded: %w", err)
				}
			}
		}
		return nil
	})
	if err != nil {
		return WebhookResult{}, err
	}

	// A paid but undelivered order is enqueued on every notification; the
	// queue deduplicates by order and a failure surfaces so the provider retries.
	if deliver && s.Delivery != nil {
		if err := s.Delivery.EnqueueDelivery(ctx, info.OrderID); err != nil {
			s.Log.Error().Err(err).Str("order_id", info.OrderID).Msg("delivery_enqueue_failed")
			return res, fmt.Errorf("enqueue delivery: %w", err)
		}
	}
	s.Log.Info().
		Str("order_id", info.OrderID).
		Str("payment_id", info.ID).
		Str("status", info.Status).
		Bool("changed", res.Changed).
		Msg("payment_webhook_applied")
	return res, nil
}

// statusAdvances keeps late or out-of-order notifications from moving a
// payment backwards: PAID only yields to REFUNDED and REFUNDED is final.
func statusAdvances(from, to string) bool {
	switch from {
	case db.PaymentStatusPaid:
		return to == db.PaymentStatusRefunded
	case db.PaymentStatusRefunded:
		return false
	}
	return true
}
