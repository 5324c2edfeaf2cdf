package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/backend-fotoko/internal/coupon"
	"github.com/noah-isme/backend-fotoko/internal/db"
	"github.com/noah-isme/backend-fotoko/internal/obs"
	"github.com/noah-isme/backend-fotoko/internal/order"
	"github.com/noah-isme/backend-fotoko/internal/pricing"
)

var (
	// ErrAlreadyPaid is returned when a new preference is requested for a paid order.
	ErrAlreadyPaid = errors.New("payment: order already paid")
	// ErrOrderClosed is returned when the order no longer accepts payments.
	ErrOrderClosed = errors.New("payment: order does not accept payments")
	// ErrAmountMismatch is returned when the provider reports a different amount than the order total.
	ErrAmountMismatch = errors.New("payment: amount mismatch")
	// ErrNoPayment is returned when an order has no payment attempt yet.
	ErrNoPayment = errors.New("payment: no payment for order")
)

// Querier is the subset of db.Queries used by payments, including what
// coupon settlement needs inside the webhook transaction.
type Querier interface {
	GetOrderByID(ctx context.Context, id pgtype.UUID) (db.Order, error)
	GetOrderByIDForUpdate(ctx context.Context, id pgtype.UUID) (db.Order, error)
	ListOrderItems(ctx context.Context, orderID pgtype.UUID) ([]db.OrderItem, error)
	UpdateOrderStatus(ctx context.Context, arg db.UpdateOrderStatusParams) error
	CreatePayment(ctx context.Context, arg db.CreatePaymentParams) (db.Payment, error)
	GetLatestPaymentByOrder(ctx context.Context, orderID pgtype.UUID) (db.Payment, error)
	UpdatePaymentStatus(ctx context.Context, arg db.UpdatePaymentStatusParams) error
	coupon.SettleQuerier
}

// TxFunc runs fn inside a transaction.
type TxFunc func(ctx context.Context, fn func(q Querier) error) error

// PoolTx adapts a pgx pool into a TxFunc.
func PoolTx(pool db.TxBeginner) TxFunc {
	return func(ctx context.Context, fn func(q Querier) error) error {
		return db.InTx(ctx, pool, func(q *db.Queries) error { return fn(q) })
	}
}

// CouponSettler records coupon usage once an order is paid.
type CouponSettler interface {
	Settle(ctx context.Context, q coupon.SettleQuerier, code string, orderID, userID pgtype.UUID, amountMinor int64) error
}

// DeliveryEnqueuer schedules photo delivery for a paid order.
type DeliveryEnqueuer interface {
	EnqueueDelivery(ctx context.Context, orderID string) error
}

// Service opens provider checkouts for orders and applies provider notifications.
type Service struct {
	Q        Querier
	Tx       TxFunc
	Provider Provider
	Coupons  CouponSettler
	Delivery DeliveryEnqueuer
	// Replay guards webhook bodies against re-processing for ReplayTTL.
	Replay    redis.Cmdable
	ReplayTTL time.Duration
	// PublicBaseURL receives provider notifications; FrontendBaseURL the buyer after checkout.
	PublicBaseURL   string
	FrontendBaseURL string
	Log             zerolog.Logger
}

func (s *Service) inTx(ctx context.Context, fn func(q Querier) error) error {
	if s.Tx == nil {
		return fn(s.Q)
	}
	return s.Tx(ctx, fn)
}

func (s *Service) providerName() string {
	if s.Provider == nil {
		return "none"
	}
	return s.Provider.Name()
}

// PreferenceRequestFor builds the provider request for an order.
func (s *Service) PreferenceRequestFor(o db.Order, items []db.OrderItem) PreferenceRequest {
	orderID := db.UUIDString(o.ID)
	front := strings.TrimRight(s.FrontendBaseURL, "/")
	result := func(outcome string) string {
		if front == "" {
			return ""
		}
		return front + "/checkout/result/" + outcome
	}
	req := PreferenceRequest{
		OrderID:    orderID,
		Email:      o.Email,
		Currency:   o.Currency,
		Total:      pricing.FromMinor(o.TotalMinor),
		SuccessURL: result("success"),
		PendingURL: result("pending"),
		FailureURL: result("failure"),
	}
	if base := strings.TrimRight(s.PublicBaseURL, "/"); base != "" {
		req.NotificationURL = base + "/api/v1/payments/webhook?source_news=webhooks"
	}
	// Tier and coupon discounts apply to the whole cart, so the provider sees a single line.
	req.Items = []PreferenceItem{{
		ID:        orderID,
		Title:     fmt.Sprintf("Fotos (%d)", len(items)),
		Quantity:  1,
		UnitPrice: req.Total,
	}}
	return req
}

// CreateForOrder opens a provider checkout for o and records a PENDING payment.
func (s *Service) CreateForOrder(ctx context.Context, o db.Order, items []db.OrderItem) (db.Payment, error) {
	if s == nil || s.Q == nil || s.Provider == nil {
		return db.Payment{}, errors.New("payment service not configured")
	}
	ctx, span := otel.Tracer("payment.Service").Start(ctx, "PaymentService.CreateForOrder")
	defer span.End()

	start := time.Now()
	providerName := s.providerName()
	result := "error"
	defer func() {
		span.SetAttributes(
			attribute.String("payment.provider", providerName),
			attribute.Float64("payment.intent.duration_ms", obs.DurationMillis(time.Since(start))),
			attribute.String("payment.intent.result", result),
		)
		obs.Inc(obs.PaymentIntentTotal, providerName, result)
	}()
	span.SetAttributes(attribute.String("order.id", db.UUIDString(o.ID)))

	pref, err := s.Provider.CreatePreference(ctx, s.PreferenceRequestFor(o, items))
	if err != nil {
		span.RecordError(err)
		return db.Payment{}, fmt.Errorf("create preference: %w", err)
	}
	p, err := s.Q.CreatePayment(ctx, db.CreatePaymentParams{
		OrderID:         o.ID,
		Provider:        providerName,
		ProviderRef:     pref.ID,
		Status:          db.PaymentStatusPending,
		RedirectUrl:     pref.RedirectURL,
		AmountMinor:     o.TotalMinor,
		ProviderPayload: pref.Payload,
	})
	if err != nil {
		return db.Payment{}, fmt.Errorf("record payment: %w", err)
	}
	result = "success"
	return p, nil
}

func (s *Service) loadOrder(ctx context.Context, orderID string) (db.Order, error) {
	oid, err := db.ParseUUID(orderID)
	if err != nil {
		return db.Order{}, order.ErrNotFound
	}
	o, err := s.Q.GetOrderByID(ctx, oid)
	if errors.Is(err, pgx.ErrNoRows) {
		return db.Order{}, order.ErrNotFound
	}
	if err != nil {
		return db.Order{}, fmt.Errorf("load order: %w", err)
	}
	if !order.Accessible(ctx, o) {
		return db.Order{}, order.ErrNotFound
	}
	return o, nil
}

// Retry opens a fresh checkout for an order that is still awaiting payment.
func (s *Service) Retry(ctx context.Context, orderID string) (db.Payment, error) {
	if s == nil || s.Q == nil {
		return db.Payment{}, errors.New("payment service not configured")
	}
	o, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return db.Payment{}, err
	}
	switch o.Status {
	case db.OrderStatusPendingPayment:
	case db.OrderStatusPaid:
		return db.Payment{}, ErrAlreadyPaid
	default:
		return db.Payment{}, ErrOrderClosed
	}
	latest, err := s.Q.GetLatestPaymentByOrder(ctx, o.ID)
	if err == nil && latest.Status == db.PaymentStatusPaid {
		return db.Payment{}, ErrAlreadyPaid
	}
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return db.Payment{}, fmt.Errorf("load payment: %w", err)
	}
	items, err := s.Q.ListOrderItems(ctx, o.ID)
	if err != nil {
		return db.Payment{}, fmt.Errorf("list order items: %w", err)
	}
	return s.CreateForOrder(ctx, o, items)
}

// StatusView summarises the payment state of an order.
type StatusView struct {
	OrderID       string `json:"orderId"`
	OrderStatus   string `json:"orderStatus"`
	PaymentStatus string `json:"paymentStatus"`
	Provider      string `json:"provider,omitempty"`
	RedirectURL   string `json:"redirectUrl,omitempty"`
}

// Status reports the latest payment attempt for an order visible to the caller.
func (s *Service) Status(ctx context.Context, orderID string) (StatusView, error) {
	if s == nil || s.Q == nil {
		return StatusView{}, errors.New("payment service not configured")
	}
	o, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return StatusView{}, err
	}
	view := StatusView{OrderID: db.UUIDString(o.ID), OrderStatus: o.Status}
	p, err := s.Q.GetLatestPaymentByOrder(ctx, o.ID)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		view.PaymentStatus = consolidatedFromOrder(o.Status)
	case err != nil:
		return StatusView{}, fmt.Errorf("load payment: %w", err)
	default:
		view.PaymentStatus = p.Status
		view.Provider = p.Provider
		if p.Status == db.PaymentStatusPending {
			view.RedirectURL = p.RedirectUrl
		}
	}
	return view, nil
}

func consolidatedFromOrder(status string) string {
	switch status {
	case db.OrderStatusPaid:
		return db.PaymentStatusPaid
	case db.OrderStatusRefunded:
		return db.PaymentStatusRefunded
	case db.OrderStatusCanceled:
		return db.PaymentStatusFailed
	default:
		return db.PaymentStatusPending
	}
}
