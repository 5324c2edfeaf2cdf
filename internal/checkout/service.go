package checkout

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-fotoko/internal/cart"
	"github.com/noah-isme/backend-fotoko/internal/catalog"
	"github.com/noah-isme/backend-fotoko/internal/common"
	"github.com/noah-isme/backend-fotoko/internal/db"
	"github.com/noah-isme/backend-fotoko/internal/pricing"
)

var (
	// ErrCartEmpty is returned when the session cart has no photos.
	ErrCartEmpty = errors.New("checkout: cart is empty")
	// ErrPhotoUnavailable is returned when a cart photo is no longer for sale.
	ErrPhotoUnavailable = errors.New("checkout: photo no longer available")
)

// Carts reads and clears session carts.
type Carts interface {
	Get(ctx context.Context, sessionID string) (cart.Cart, error)
	Clear(ctx context.Context, sessionID string) (cart.Cart, error)
}

// Payments opens the provider checkout for a stored order.
type Payments interface {
	CreateForOrder(ctx context.Context, o db.Order, items []db.OrderItem) (db.Payment, error)
}

// Querier writes orders.
type Querier interface {
	CreateOrder(ctx context.Context, arg db.CreateOrderParams) (db.Order, error)
	CreateOrderItem(ctx context.Context, arg db.CreateOrderItemParams) error
}

// TxFunc runs fn inside a transaction.
type TxFunc func(ctx context.Context, fn func(q Querier) error) error

// PoolTx adapts a pgx pool into a TxFunc.
func PoolTx(pool db.TxBeginner) TxFunc {
	return func(ctx context.Context, fn func(q Querier) error) error {
		return db.InTx(ctx, pool, func(q *db.Queries) error { return fn(q) })
	}
}

// Service turns a session cart into a priced order and a payment checkout.
type Service struct {
	Q        Querier
	Tx       TxFunc
	Carts    Carts
	Photos   cart.PhotoLookup
	Coupons  cart.CouponResolver
	Payments Payments
	Currency string
	Log      zerolog.Logger
}

// Input is the checkout request body.
type Input struct {
	Email string `json:"email" validate:"required,email,max=254"`
}

// Output is returned to the buyer, who continues at RedirectURL.
type Output struct {
	OrderID     string          `json:"orderId"`
	Status      string          `json:"status"`
	Total       decimal.Decimal `json:"total"`
	Savings     pricing.Savings `json:"savings"`
	RedirectURL string          `json:"redirectUrl"`
}

func (s *Service) inTx(ctx context.Context, fn func(q Querier) error) error {
	if s.Tx == nil {
		return fn(s.Q)
	}
	return s.Tx(ctx, fn)
}

// Checkout prices the session cart, persists the order with its breakdown,
// opens the payment checkout and clears the cart. The applied coupon is
// resolved again so a coupon that expired while sitting in the cart is
// rejected here instead of being charged at the stale discount.
func (s *Service) Checkout(ctx context.Context, sessionID string, in Input) (Output, error) {
	if s == nil || s.Q == nil || s.Carts == nil || s.Payments == nil {
		return Output{}, errors.New("checkout service not configured")
	}
	if sessionID == "" {
		return Output{}, cart.ErrNoSession
	}
	c, err := s.Carts.Get(ctx, sessionID)
	if err != nil {
		return Output{}, fmt.Errorf("load cart: %w", err)
	}
	if c.ItemCount() == 0 {
		return Output{}, ErrCartEmpty
	}

	photos, err := s.verifyPhotos(ctx, c)
	if err != nil {
		return Output{}, err
	}

	var applied *pricing.Coupon
	if c.AppliedCoupon != nil && s.Coupons != nil {
		fresh, err := s.Coupons.Resolve(ctx, c.AppliedCoupon.Code)
		if err != nil {
			return Output{}, err
		}
		applied = &fresh
	}
	savings, err := pricing.ComputeSavings(len(photos), applied)
	if err != nil {
		return Output{}, err
	}

	params := db.CreateOrderParams{
		UserID:              s.userID(ctx),
		SessionID:           sessionID,
		Email:               strings.ToLower(strings.TrimSpace(in.Email)),
		Status:              db.OrderStatusPendingPayment,
		Currency:            s.currency(),
		ItemCount:           int32(savings.ItemCount),
		RawTotalMinor:       pricing.Minor(savings.RawTotal),
		TierSavingsMinor:    pricing.Minor(savings.TierSavings),
		CouponDiscountMinor: pricing.Minor(savings.CouponDiscount),
		TotalMinor:          pricing.Minor(savings.FinalTotal),
	}
	if applied != nil {
		params.CouponCode = db.Text(applied.Code)
	}

	var (
		created db.Order
		items   []db.OrderItem
	)
	err = s.inTx(ctx, func(q Querier) error {
		o, err := q.CreateOrder(ctx, params)
		if err != nil {
			return fmt.Errorf("create order: %w", err)
		}
		unit := pricing.Minor(savings.UnitPrice)
		for _, p := range photos {
			eventID, _ := strconv.ParseInt(p.EventID, 10, 64)
			item := db.CreateOrderItemParams{
				OrderID:    o.ID,
				PhotoID:    p.ID,
				EventID:    eventID,
				EventName:  p.EventName,
				Url:        p.URL,
				PriceMinor: unit,
			}
			if err := q.CreateOrderItem(ctx, item); err != nil {
				return fmt.Errorf("create order item %d: %w", p.ID, err)
			}
			items = append(items, db.OrderItem{
				OrderID: o.ID, PhotoID: p.ID, EventID: eventID, EventName: p.EventName, Url: p.URL, PriceMinor: unit,
			})
		}
		created = o
		return nil
	})
	if err != nil {
		return Output{}, err
	}
	orderID := db.UUIDString(created.ID)

	payment, err := s.Payments.CreateForOrder(ctx, created, items)
	if err != nil {
		s.Log.Error().Err(err).Str("order_id", orderID).Msg("checkout_payment_failed")
		return Output{}, common.NewAppError("PAYMENT_UNAVAILABLE", "order created but the payment could not be started; retry the payment", http.StatusBadGateway, err).
			WithDetails(map[string]string{"orderId": orderID})
	}

	if _, err := s.Carts.Clear(ctx, sessionID); err != nil {
		s.Log.Warn().Err(err).Str("order_id", orderID).Msg("checkout_cart_clear_failed")
	}
	s.Log.Info().
		Str("order_id", orderID).
		Int("items", savings.ItemCount).
		Str("total", savings.FinalTotal.StringFixed(2)).
		Msg("checkout_completed")

	return Output{
		OrderID:     orderID,
		Status:      created.Status,
		Total:       savings.FinalTotal,
		Savings:     savings,
		RedirectURL: payment.RedirectUrl,
	}, nil
}

// verifyPhotos re-reads cart photos from the catalog so unpublished or
// deleted photos cannot be bought from a stale cart.
func (s *Service) verifyPhotos(ctx context.Context, c cart.Cart) ([]catalog.Photo, error) {
	ids := c.PhotoIDs()
	if s.Photos == nil {
		out := make([]catalog.Photo, 0, len(c.Items))
		for _, it := range c.Items {
			out = append(out, catalog.Photo{ID: it.ID, URL: it.URL, Price: it.Price, EventID: string(it.EventID), EventName: it.EventName})
		}
		return out, nil
	}
	photos, err := s.Photos.PurchasablePhotos(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("verify photos: %w", err)
	}
	if len(photos) == len(ids) {
		return photos, nil
	}
	found := make(map[int64]bool, len(photos))
	for _, p := range photos {
		found[p.ID] = true
	}
	var missing []int64
	for _, id := range ids {
		if !found[id] {
			missing = append(missing, id)
		}
	}
	return nil, common.NewAppError("PHOTO_UNAVAILABLE", "some photos are no longer available", http.StatusConflict, ErrPhotoUnavailable).
		WithDetails(map[string]any{"photoIds": missing})
}

func (s *Service) userID(ctx context.Context) pgtype.UUID {
	uid, ok := common.UserID(ctx)
	if !ok {
		return pgtype.UUID{}
	}
	parsed, err := db.ParseUUID(uid)
	if err != nil {
		return pgtype.UUID{}
	}
	return parsed
}

func (s *Service) currency() string {
	if s.Currency == "" {
		return "ARS"
	}
	return s.Currency
}
