package pricing

import (
	"errors"

	"github.com/shopspring/decimal"
)

// BaseUnitPrice is the undiscounted price of a single photo.
var BaseUnitPrice = decimal.NewFromInt(20)

// ErrNegativeItemCount is returned when the item count is below zero.
var ErrNegativeItemCount = errors.New("pricing: item count must not be negative")

// Tier is a volume bracket. Tiers are evaluated highest MinItems first.
type Tier struct {
	MinItems  int
	UnitPrice decimal.Decimal
}

var tiers = []Tier{
	{MinItems: 20, UnitPrice: decimal.NewFromInt(9)},
	{MinItems: 10, UnitPrice: decimal.NewFromInt(10)},
	{MinItems: 5, UnitPrice: decimal.NewFromInt(15)},
}

// Tiers returns a copy of the volume ladder, highest bracket first.
func Tiers() []Tier {
	out := make([]Tier, len(tiers))
	copy(out, tiers)
	return out
}

// UnitPriceFor returns the unit price that applies to a cart holding count items.
func UnitPriceFor(count int) decimal.Decimal {
	for _, t := range tiers {
		if count >= t.MinItems {
			return t.UnitPrice
		}
	}
	return BaseUnitPrice
}

// Savings is the computed decomposition of a cart price.
type Savings struct {
	ItemCount      int             `json:"itemCount"`
	UnitPrice      decimal.Decimal `json:"unitPrice"`
	RawTotal       decimal.Decimal `json:"rawTotal"`
	TierFinalTotal decimal.Decimal `json:"tierFinalTotal"`
	TierSavings    decimal.Decimal `json:"tierSavings"`
	CouponDiscount decimal.Decimal `json:"couponDiscount"`
	TotalSavings   decimal.Decimal `json:"totalSavings"`
	FinalTotal     decimal.Decimal `json:"finalTotal"`
}

// ComputeSavings prices a cart of itemCount photos with an optional coupon.
// The tier ladder applies first; the coupon's rate or fixed component and its
// free-photo component are then summed and subtracted from the tier total.
// The final total never drops below zero.
func ComputeSavings(itemCount int, coupon *Coupon) (Savings, error) {
	if itemCount < 0 {
		return Savings{}, ErrNegativeItemCount
	}
	if coupon != nil {
		if err := coupon.Validate(); err != nil {
			return Savings{}, err
		}
	}

	count := decimal.NewFromInt(int64(itemCount))
	unit := UnitPriceFor(itemCount)
	raw := count.Mul(BaseUnitPrice)
	tierFinal := count.Mul(unit)

	discount := couponDiscount(itemCount, tierFinal, coupon)
	final := tierFinal.Sub(discount)
	if final.IsNegative() {
		final = decimal.Zero
	}
	final = round(final)

	return Savings{
		ItemCount:      itemCount,
		UnitPrice:      unit,
		RawTotal:       raw,
		TierFinalTotal: tierFinal,
		TierSavings:    raw.Sub(tierFinal),
		CouponDiscount: round(discount),
		TotalSavings:   raw.Sub(final),
		FinalTotal:     final,
	}, nil
}

func couponDiscount(itemCount int, tierFinal decimal.Decimal, coupon *Coupon) decimal.Decimal {
	if coupon == nil {
		return decimal.Zero
	}
	var discount decimal.Decimal
	if coupon.IsPercentage() {
		discount = tierFinal.Mul(coupon.DiscountValue).Div(hundred)
	} else {
		discount = coupon.DiscountValue
	}

	if coupon.FreePhotos > 0 {
		applicable := min(itemCount, coupon.FreePhotos)
		perPhoto := BaseUnitPrice
		if itemCount > 0 {
			perPhoto = tierFinal.Div(decimal.NewFromInt(int64(itemCount)))
		}
		discount = discount.Add(perPhoto.Mul(decimal.NewFromInt(int64(applicable))))
	}
	return discount
}

var hundred = decimal.NewFromInt(100)

func round(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}
