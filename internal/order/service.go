package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-fotoko/internal/common"
	"github.com/noah-isme/backend-fotoko/internal/db"
	"github.com/noah-isme/backend-fotoko/internal/pricing"
)

var (
	// ErrNotFound is returned for unknown orders and for orders the caller may not see.
	ErrNotFound = errors.New("order: not found")
	// ErrInvalidTransition is returned when an admin status change is not allowed.
	ErrInvalidTransition = errors.New("order: status transition not allowed")
)

// Querier is the subset of db.Queries used by the order service.
type Querier interface {
	GetOrderByID(ctx context.Context, id pgtype.UUID) (db.Order, error)
	ListOrdersByUser(ctx context.Context, arg db.ListOrdersByUserParams) ([]db.Order, error)
	CountOrdersByUser(ctx context.Context, userID pgtype.UUID) (int64, error)
	ListOrders(ctx context.Context, arg db.ListOrdersParams) ([]db.Order, error)
	CountOrders(ctx context.Context, status string) (int64, error)
	ListOrderItems(ctx context.Context, orderID pgtype.UUID) ([]db.OrderItem, error)
	GetLatestPaymentByOrder(ctx context.Context, orderID pgtype.UUID) (db.Payment, error)
	UpdateOrderStatus(ctx context.Context, arg db.UpdateOrderStatusParams) error
}

// Service reads orders on behalf of buyers and admins.
type Service struct {
	Q Querier
}

// Item is one purchased photo.
type Item struct {
	PhotoID   int64           `json:"photoId"`
	EventID   int64           `json:"eventId"`
	EventName string          `json:"eventName"`
	URL       string          `json:"url"`
	Price     decimal.Decimal `json:"price"`
}

// View is the API representation of an order and its price breakdown.
type View struct {
	ID             string          `json:"id"`
	Status         string          `json:"status"`
	PaymentStatus  string          `json:"paymentStatus,omitempty"`
	Email          string          `json:"email"`
	Currency       string          `json:"currency"`
	ItemCount      int             `json:"itemCount"`
	RawTotal       decimal.Decimal `json:"rawTotal"`
	TierSavings    decimal.Decimal `json:"tierSavings"`
	CouponDiscount decimal.Decimal `json:"couponDiscount"`
	Total          decimal.Decimal `json:"total"`
	CouponCode     string          `json:"couponCode,omitempty"`
	Items          []Item          `json:"items,omitempty"`
	DeliveredAt    *time.Time      `json:"deliveredAt,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// ToView converts stored rows into the API shape. items may be nil for list views.
func ToView(o db.Order, items []db.OrderItem) View {
	v := View{
		ID:             db.UUIDString(o.ID),
		Status:         o.Status,
		Email:          o.Email,
		Currency:       o.Currency,
		ItemCount:      int(o.ItemCount),
		RawTotal:       pricing.FromMinor(o.RawTotalMinor),
		TierSavings:    pricing.FromMinor(o.TierSavingsMinor),
		CouponDiscount: pricing.FromMinor(o.CouponDiscountMinor),
		Total:          pricing.FromMinor(o.TotalMinor),
		DeliveredAt:    db.TimePtr(o.DeliveredAt),
		CreatedAt:      o.CreatedAt.Time,
	}
	if o.CouponCode.Valid {
		v.CouponCode = o.CouponCode.String
	}
	for _, it := range items {
		v.Items = append(v.Items, Item{
			PhotoID:   it.PhotoID,
			EventID:   it.EventID,
			EventName: it.EventName,
			URL:       it.Url,
			Price:     pricing.FromMinor(it.PriceMinor),
		})
	}
	return v
}

// Accessible reports whether the caller in ctx owns o, either as the
// authenticated buyer or through the cart session that placed it.
func Accessible(ctx context.Context, o db.Order) bool {
	if uid, ok := common.UserID(ctx); ok && o.UserID.Valid && db.UUIDString(o.UserID) == uid {
		return true
	}
	if sid, ok := common.SessionID(ctx); ok && o.SessionID != "" && o.SessionID == sid {
		return true
	}
	return false
}

func (s *Service) load(ctx context.Context, id string) (db.Order, error) {
	oid, err := db.ParseUUID(id)
	if err != nil {
		return db.Order{}, ErrNotFound
	}
	o, err := s.Q.GetOrderByID(ctx, oid)
	if errors.Is(err, pgx.ErrNoRows) {
		return db.Order{}, ErrNotFound
	}
	if err != nil {
		return db.Order{}, fmt.Errorf("load order: %w", err)
	}
	return o, nil
}

// Get returns the order with its items when the caller may see it.
func (s *Service) Get(ctx context.Context, id string) (View, error) {
	o, err := s.load(ctx, id)
	if err != nil {
		return View{}, err
	}
	if !Accessible(ctx, o) {
		return View{}, ErrNotFound
	}
	return s.detail(ctx, o)
}

// GetAny returns any order regardless of ownership, for admins.
func (s *Service) GetAny(ctx context.Context, id string) (View, error) {
	o, err := s.load(ctx, id)
	if err != nil {
		return View{}, err
	}
	return s.detail(ctx, o)
}

func (s *Service) detail(ctx context.Context, o db.Order) (View, error) {
	items, err := s.Q.ListOrderItems(ctx, o.ID)
	if err != nil {
		return View{}, fmt.Errorf("list order items: %w", err)
	}
	v := ToView(o, items)
	p, err := s.Q.GetLatestPaymentByOrder(ctx, o.ID)
	switch {
	case err == nil:
		v.PaymentStatus = p.Status
	case !errors.Is(err, pgx.ErrNoRows):
		return View{}, fmt.Errorf("load payment: %w", err)
	}
	return v, nil
}

// ListForUser pages through a buyer's orders, newest first.
func (s *Service) ListForUser(ctx context.Context, userID string, page, limit int) ([]View, int64, error) {
	uid, err := db.ParseUUID(userID)
	if err != nil {
		return nil, 0, fmt.Errorf("invalid user id: %w", err)
	}
	total, err := s.Q.CountOrdersByUser(ctx, uid)
	if err != nil {
		return nil, 0, fmt.Errorf("count orders: %w", err)
	}
	rows, err := s.Q.ListOrdersByUser(ctx, db.ListOrdersByUserParams{
		UserID: uid,
		Limit:  int32(limit),
		Offset: int32(common.Offset(page, limit)),
	})
	if err != nil {
		return nil, 0, fmt.Errorf("list orders: %w", err)
	}
	return toViews(rows), total, nil
}

// ListAll pages through every order, optionally filtered by status.
func (s *Service) ListAll(ctx context.Context, status string, page, limit int) ([]View, int64, error) {
	total, err := s.Q.CountOrders(ctx, status)
	if err != nil {
		return nil, 0, fmt.Errorf("count orders: %w", err)
	}
	rows, err := s.Q.ListOrders(ctx, db.ListOrdersParams{
		Status: status,
		Limit:  int32(limit),
		Offset: int32(common.Offset(page, limit)),
	})
	if err != nil {
		return nil, 0, fmt.Errorf("list orders: %w", err)
	}
	return toViews(rows), total, nil
}

func toViews(rows []db.Order) []View {
	out := make([]View, 0, len(rows))
	for _, o := range rows {
		out = append(out, ToView(o, nil))
	}
	return out
}

// SetStatus applies a manual admin transition: an unpaid order may be
// canceled and a paid order may be marked refunded.
func (s *Service) SetStatus(ctx context.Context, id, target string) (View, error) {
	o, err := s.load(ctx, id)
	if err != nil {
		return View{}, err
	}
	if !allowedTransition(o.Status, target) {
		return View{}, fmt.Errorf("%w: %s to %s", ErrInvalidTransition, o.Status, target)
	}
	if err := s.Q.UpdateOrderStatus(ctx, db.UpdateOrderStatusParams{ID: o.ID, Status: target}); err != nil {
		return View{}, fmt.Errorf("update order status: %w", err)
	}
	o.Status = target
	return s.detail(ctx, o)
}

func allowedTransition(from, to string) bool {
	switch from {
	case db.OrderStatusPendingPayment:
		return to == db.OrderStatusCanceled
	case db.OrderStatusPaid:
		return to == db.OrderStatusRefunded
	}
	return false
}
