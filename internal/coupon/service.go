package coupon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-fotoko/internal/common"
	"github.com/noah-isme/backend-fotoko/internal/db"
	"github.com/noah-isme/backend-fotoko/internal/obs"
	"github.com/noah-isme/backend-fotoko/internal/pricing"
)

// ErrCodeTaken is returned when creating a coupon whose code already exists.
var ErrCodeTaken = errors.New("coupon code already exists")

// Querier captures the database methods required by the coupon book.
type Querier interface {
	GetCouponByCode(ctx context.Context, code string) (db.Coupon, error)
	ListCoupons(ctx context.Context, arg db.ListCouponsParams) ([]db.Coupon, error)
	CreateCoupon(ctx context.Context, arg db.CreateCouponParams) (db.Coupon, error)
	UpdateCoupon(ctx context.Context, arg db.UpdateCouponParams) (db.Coupon, error)
	SettleQuerier
}

// SettleQuerier is the subset used while recording usage inside a payment transaction.
type SettleQuerier interface {
	GetCouponByCodeForUpdate(ctx context.Context, code string) (db.Coupon, error)
	InsertCouponUsage(ctx context.Context, arg db.InsertCouponUsageParams) (int64, error)
	IncrementCouponUsage(ctx context.Context, id pgtype.UUID) error
}

// Service resolves, previews and settles coupons.
type Service struct {
	Q   Querier
	Now func() time.Time
	Log zerolog.Logger
}

func (s *Service) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// NormalizeCode trims and upper-cases a coupon code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Resolve looks up code and returns it as a pricing coupon when it is currently applicable.
func (s *Service) Resolve(ctx context.Context, code string) (pricing.Coupon, error) {
	c, err := s.resolve(ctx, code)
	result := "ok"
	if err != nil {
		result = "rejected"
		if appErr, ok := AsAppError(err); ok {
			result = strings.ToLower(appErr.Code)
		}
	}
	obs.Inc(obs.CouponApplyTotal, result)
	return c, err
}

func (s *Service) resolve(ctx context.Context, code string) (pricing.Coupon, error) {
	if s == nil || s.Q == nil {
		return pricing.Coupon{}, errors.New("coupon service not configured")
	}
	code = NormalizeCode(code)
	if code == "" {
		return pricing.Coupon{}, ErrNotFound
	}
	row, err := s.Q.GetCouponByCode(ctx, code)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return pricing.Coupon{}, ErrNotFound
		}
		return pricing.Coupon{}, fmt.Errorf("get coupon: %w", err)
	}
	rule := RuleFromModel(row)
	if err := rule.Validate(s.now()); err != nil {
		return pricing.Coupon{}, err
	}
	c := rule.Coupon()
	if err := c.Validate(); err != nil {
		return pricing.Coupon{}, err
	}
	return c, nil
}

// PreviewResult is the breakdown a coupon would yield for a given cart size.
type PreviewResult struct {
	Coupon  pricing.Coupon  `json:"coupon"`
	Savings pricing.Savings `json:"savings"`
}

// Preview prices itemCount photos with code applied without mutating state.
func (s *Service) Preview(ctx context.Context, code string, itemCount int) (PreviewResult, error) {
	c, err := s.Resolve(ctx, code)
	if err != nil {
		return PreviewResult{}, err
	}
	savings, err := pricing.ComputeSavings(itemCount, &c)
	if err != nil {
		return PreviewResult{}, err
	}
	return PreviewResult{Coupon: c, Savings: savings}, nil
}

// Settle records coupon usage for a paid order. It runs on q, typically the
// payment transaction, and is idempotent per order: a repeated call neither
// inserts a second usage nor increments the counter again.
func (s *Service) Settle(ctx context.Context, q SettleQuerier, code string, orderID, userID pgtype.UUID, amountMinor int64) error {
	if q == nil {
		if s == nil || s.Q == nil {
			return errors.New("coupon service not configured")
		}
		q = s.Q
	}
	code = NormalizeCode(code)
	if code == "" || !orderID.Valid {
		return nil
	}
	row, err := q.GetCouponByCodeForUpdate(ctx, code)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			s.Log.Warn().Str("coupon", code).Str("order_id", db.UUIDString(orderID)).Msg("settling unknown coupon skipped")
			return nil
		}
		return fmt.Errorf("lock coupon: %w", err)
	}
	amountMinor = max(amountMinor, 0)
	inserted, err := q.InsertCouponUsage(ctx, db.InsertCouponUsageParams{
		CouponID:    row.ID,
		OrderID:     orderID,
		UserID:      userID,
		AmountMinor: amountMinor,
	})
	if err != nil {
		return fmt.Errorf("insert coupon usage: %w", err)
	}
	if inserted == 0 {
		return nil
	}
	if err := q.IncrementCouponUsage(ctx, row.ID); err != nil {
		return fmt.Errorf("increment coupon usage: %w", err)
	}
	return nil
}

// View is the admin representation of a coupon.
type View struct {
	ID            string          `json:"id"`
	Code          string          `json:"code"`
	DiscountType  string          `json:"discountType"`
	DiscountValue decimal.Decimal `json:"discountValue"`
	FreePhotos    int32           `json:"freePhotos"`
	StartsAt      *time.Time      `json:"startsAt,omitempty"`
	EndsAt        *time.Time      `json:"endsAt,omitempty"`
	UsageLimit    *int32          `json:"usageLimit,omitempty"`
	UsedCount     int32           `json:"usedCount"`
	Active        bool            `json:"active"`
}

func toView(row db.Coupon) View {
	rule := RuleFromModel(row)
	c := rule.Coupon()
	return View{
		ID:            db.UUIDString(row.ID),
		Code:          row.Code,
		DiscountType:  c.DiscountType,
		DiscountValue: c.DiscountValue,
		FreePhotos:    row.FreePhotos,
		StartsAt:      rule.StartsAt,
		EndsAt:        rule.EndsAt,
		UsageLimit:    rule.UsageLimit,
		UsedCount:     row.UsedCount,
		Active:        row.Active,
	}
}

// List returns one page of coupons, newest first.
func (s *Service) List(ctx context.Context, page, limit int) ([]View, error) {
	rows, err := s.Q.ListCoupons(ctx, db.ListCouponsParams{
		Limit:  int32(limit),
		Offset: int32(common.Offset(page, limit)),
	})
	if err != nil {
		return nil, fmt.Errorf("list coupons: %w", err)
	}
	out := make([]View, 0, len(rows))
	for _, row := range rows {
		out = append(out, toView(row))
	}
	return out, nil
}

// Terms are the mutable properties of a coupon.
type Terms struct {
	DiscountType  string          `json:"discountType" validate:"required,oneof=PERCENTAGE FIXED percentage fixed"`
	DiscountValue decimal.Decimal `json:"discountValue"`
	FreePhotos    int             `json:"freePhotos" validate:"gte=0,lte=1000"`
	StartsAt      *time.Time      `json:"startsAt"`
	EndsAt        *time.Time      `json:"endsAt"`
	UsageLimit    *int32          `json:"usageLimit" validate:"omitempty,gte=0"`
	Active        *bool           `json:"active"`
}

// CreateInput is the admin create payload.
type CreateInput struct {
	Code string `json:"code" validate:"required,max=64"`
	Terms
}

type storedTerms struct {
	kind        string
	percentBps  int32
	amountMinor int64
	active      bool
}

func (t Terms) check(code string) (storedTerms, error) {
	c := pricing.Coupon{
		Code:          code,
		DiscountType:  t.DiscountType,
		DiscountValue: t.DiscountValue,
		FreePhotos:    t.FreePhotos,
	}.Normalize()
	if err := c.Validate(); err != nil {
		return storedTerms{}, common.NewAppError("INVALID_COUPON", err.Error(), http.StatusBadRequest, err)
	}
	if t.StartsAt != nil && t.EndsAt != nil && !t.EndsAt.After(*t.StartsAt) {
		return storedTerms{}, common.NewAppError("VALIDATION_ERROR", "request validation failed", http.StatusBadRequest, nil).
			WithDetails(map[string]string{"endsAt": "must be after startsAt"})
	}
	st := storedTerms{kind: c.DiscountType, active: true}
	if t.Active != nil {
		st.active = *t.Active
	}
	if c.IsPercentage() {
		st.percentBps = int32(pricing.Minor(c.DiscountValue))
	} else {
		st.amountMinor = pricing.Minor(c.DiscountValue)
	}
	return st, nil
}

func usageLimit(v *int32) pgtype.Int4 {
	if v == nil {
		return pgtype.Int4{}
	}
	return pgtype.Int4{Int32: *v, Valid: true}
}

// Create stores a new coupon.
func (s *Service) Create(ctx context.Context, in CreateInput) (View, error) {
	code := NormalizeCode(in.Code)
	st, err := in.check(code)
	if err != nil {
		return View{}, err
	}
	row, err := s.Q.CreateCoupon(ctx, db.CreateCouponParams{
		Code:        code,
		Kind:        st.kind,
		PercentBps:  st.percentBps,
		AmountMinor: st.amountMinor,
		FreePhotos:  int32(in.FreePhotos),
		StartsAt:    db.Timestamptz(in.StartsAt),
		EndsAt:      db.Timestamptz(in.EndsAt),
		UsageLimit:  usageLimit(in.UsageLimit),
		Active:      st.active,
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return View{}, ErrCodeTaken
		}
		return View{}, fmt.Errorf("create coupon: %w", err)
	}
	return toView(row), nil
}

// Update replaces the terms of coupon id. Codes are immutable.
func (s *Service) Update(ctx context.Context, id string, in Terms) (View, error) {
	pgID, err := db.ParseUUID(id)
	if err != nil {
		return View{}, common.NewAppError("BAD_REQUEST", "invalid coupon id", http.StatusBadRequest, err)
	}
	st, err := in.check(id)
	if err != nil {
		return View{}, err
	}
	row, err := s.Q.UpdateCoupon(ctx, db.UpdateCouponParams{
		ID:          pgID,
		Kind:        st.kind,
		PercentBps:  st.percentBps,
		AmountMinor: st.amountMinor,
		FreePhotos:  int32(in.FreePhotos),
		StartsAt:    db.Timestamptz(in.StartsAt),
		EndsAt:      db.Timestamptz(in.EndsAt),
		UsageLimit:  usageLimit(in.UsageLimit),
		Active:      st.active,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return View{}, ErrNotFound
		}
		return View{}, fmt.Errorf("update coupon: %w", err)
	}
	return toView(row), nil
}
