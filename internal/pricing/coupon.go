package pricing

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// DiscountPercentage marks a coupon whose value is a percentage of the tier total.
// Any other discount type is treated as a fixed amount.
const (
	DiscountPercentage = "PERCENTAGE"
	DiscountFixed      = "FIXED"
)

// ErrInvalidCoupon is returned for coupons whose shape cannot be priced.
var ErrInvalidCoupon = errors.New("pricing: invalid coupon")

// Coupon describes a discount applied on top of the tier total.
type Coupon struct {
	Code          string          `json:"code"`
	DiscountType  string          `json:"discountType"`
	DiscountValue decimal.Decimal `json:"discountValue"`
	FreePhotos    int             `json:"freePhotos"`
}

// IsPercentage reports whether the coupon value is a percentage. The match is
// exact: "percentage" or " PERCENTAGE" price as fixed amounts.
func (c Coupon) IsPercentage() bool {
	return c.DiscountType == DiscountPercentage
}

// Validate rejects coupons that would produce meaningless arithmetic.
func (c Coupon) Validate() error {
	if strings.TrimSpace(c.Code) == "" {
		return fmt.Errorf("%w: code is required", ErrInvalidCoupon)
	}
	if c.DiscountValue.IsNegative() {
		return fmt.Errorf("%w: discount value must not be negative", ErrInvalidCoupon)
	}
	if c.IsPercentage() && c.DiscountValue.GreaterThan(hundred) {
		return fmt.Errorf("%w: percentage must not exceed 100", ErrInvalidCoupon)
	}
	if c.FreePhotos < 0 {
		return fmt.Errorf("%w: free photos must not be negative", ErrInvalidCoupon)
	}
	return nil
}

// Normalize trims and upper-cases the code and canonicalises the discount type.
// It folds case on the type, so call it only where coupons enter storage.
func (c Coupon) Normalize() Coupon {
	c.Code = NormalizeCode(c.Code)
	if strings.EqualFold(strings.TrimSpace(c.DiscountType), DiscountPercentage) {
		c.DiscountType = DiscountPercentage
	} else {
		c.DiscountType = DiscountFixed
	}
	return c
}

// NormalizeCode trims and upper-cases a coupon code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
