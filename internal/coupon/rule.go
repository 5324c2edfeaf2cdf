package coupon

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/noah-isme/backend-fotoko/internal/common"
	"github.com/noah-isme/backend-fotoko/internal/db"
	"github.com/noah-isme/backend-fotoko/internal/pricing"
)

var (
	// ErrNotFound is returned when no coupon has the requested code.
	ErrNotFound = errors.New("coupon not found")
	// ErrInactive is returned for coupons switched off by an administrator.
	ErrInactive = errors.New("coupon not active")
	// ErrNotStarted is returned before the coupon validity window opens.
	ErrNotStarted = errors.New("coupon not yet valid")
	// ErrExpired is returned once the validity window has closed.
	ErrExpired = errors.New("coupon expired")
	// ErrUsageLimit indicates the coupon has exhausted its global quota.
	ErrUsageLimit = errors.New("coupon usage limit reached")
)

// Rule captures the runtime constraints of a stored coupon.
type Rule struct {
	Code        string
	Kind        string
	PercentBps  int32
	AmountMinor int64
	FreePhotos  int32
	StartsAt    *time.Time
	EndsAt      *time.Time
	UsageLimit  *int32
	UsedCount   int32
	Active      bool
}

// RuleFromModel converts the stored row into a Rule.
func RuleFromModel(c db.Coupon) Rule {
	rule := Rule{
		Code:        c.Code,
		Kind:        c.Kind,
		PercentBps:  c.PercentBps,
		AmountMinor: c.AmountMinor,
		FreePhotos:  c.FreePhotos,
		StartsAt:    db.TimePtr(c.StartsAt),
		EndsAt:      db.TimePtr(c.EndsAt),
		UsedCount:   c.UsedCount,
		Active:      c.Active,
	}
	if c.UsageLimit.Valid {
		limit := c.UsageLimit.Int32
		rule.UsageLimit = &limit
	}
	return rule
}

// Validate reports whether the coupon can be applied at now.
func (r Rule) Validate(now time.Time) error {
	if !r.Active {
		return ErrInactive
	}
	if r.StartsAt != nil && now.Before(*r.StartsAt) {
		return ErrNotStarted
	}
	if r.EndsAt != nil && now.After(*r.EndsAt) {
		return ErrExpired
	}
	if r.UsageLimit != nil && r.UsedCount >= *r.UsageLimit {
		return ErrUsageLimit
	}
	return nil
}

// Coupon converts the rule into the descriptor the pricing engine consumes.
func (r Rule) Coupon() pricing.Coupon {
	c := pricing.Coupon{
		Code:         r.Code,
		DiscountType: r.Kind,
		FreePhotos:   int(r.FreePhotos),
	}
	if strings.EqualFold(r.Kind, pricing.DiscountPercentage) {
		c.DiscountValue = pricing.PercentFromBps(r.PercentBps)
	} else {
		c.DiscountValue = pricing.FromMinor(r.AmountMinor)
	}
	return c.Normalize()
}

// AsAppError maps coupon failures to API errors. It reports false for
// errors that do not originate from coupon resolution.
func AsAppError(err error) (*common.AppError, bool) {
	switch {
	case err == nil:
		return nil, false
	case errors.Is(err, ErrNotFound):
		return common.NewAppError("COUPON_NOT_FOUND", "coupon not found", http.StatusNotFound, err), true
	case errors.Is(err, ErrInactive):
		return common.NewAppError("COUPON_INACTIVE", "coupon is not active", http.StatusUnprocessableEntity, err), true
	case errors.Is(err, ErrNotStarted):
		return common.NewAppError("COUPON_NOT_STARTED", "coupon is not valid yet", http.StatusUnprocessableEntity, err), true
	case errors.Is(err, ErrExpired):
		return common.NewAppError("COUPON_EXPIRED", "coupon has expired", http.StatusUnprocessableEntity, err), true
	case errors.Is(err, ErrUsageLimit):
		return common.NewAppError("COUPON_USAGE_LIMIT", "coupon usage limit reached", http.StatusUnprocessableEntity, err), true
	case errors.Is(err, pricing.ErrInvalidCoupon):
		return common.NewAppError("INVALID_COUPON", err.Error(), http.StatusBadRequest, err), true
	}
	return nil, false
}
