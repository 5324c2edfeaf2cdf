package pricing

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func TestComputeSavingsWithoutCoupon(t *testing.T) {
	for n := 0; n <= 40; n++ {
		s, err := ComputeSavings(n, nil)
		require.NoError(t, err)
		require.True(t, s.FinalTotal.Equal(s.TierFinalTotal), "count %d", n)
		require.True(t, s.CouponDiscount.IsZero(), "count %d", n)
		require.False(t, s.TierSavings.IsNegative(), "count %d", n)
		require.True(t, s.RawTotal.Equal(d(int64(n)*20)))
	}
}

func TestTierBoundaries(t *testing.T) {
	cases := map[int]int64{0: 20, 1: 20, 4: 20, 5: 15, 9: 15, 10: 10, 19: 10, 20: 9, 100: 9}
	for count, unit := range cases {
		require.True(t, UnitPriceFor(count).Equal(d(unit)), "count %d", count)
		s, err := ComputeSavings(count, nil)
		require.NoError(t, err)
		require.True(t, s.TierFinalTotal.Equal(d(int64(count)*unit)), "count %d", count)
	}
}

func TestPercentageCoupon(t *testing.T) {
	s, err := ComputeSavings(10, &Coupon{Code: "HALF", DiscountType: "PERCENTAGE", DiscountValue: d(50)})
	require.NoError(t, err)

	want := Savings{
		ItemCount:      10,
		UnitPrice:      d(10),
		RawTotal:       d(200),
		TierFinalTotal: d(100),
		TierSavings:    d(100),
		CouponDiscount: d(50),
		TotalSavings:   d(150),
		FinalTotal:     d(50),
	}
	if diff := cmp.Diff(want, s); diff != "" {
		t.Fatalf("savings mismatch (-want +got):\n%s", diff)
	}
}

func TestFixedCoupon(t *testing.T) {
	s, err := ComputeSavings(5, &Coupon{Code: "THIRTY", DiscountType: "FIXED", DiscountValue: d(30)})
	require.NoError(t, err)
	require.True(t, s.TierFinalTotal.Equal(d(75)))
	require.True(t, s.CouponDiscount.Equal(d(30)))
	require.True(t, s.FinalTotal.Equal(d(45)))
}

func TestUnknownDiscountTypeIsFixed(t *testing.T) {
	s, err := ComputeSavings(5, &Coupon{Code: "ODD", DiscountType: "AMOUNT", DiscountValue: d(30)})
	require.NoError(t, err)
	require.True(t, s.FinalTotal.Equal(d(45)))
}

func TestPercentageTypeMatchIsExact(t *testing.T) {
	for _, kind := range []string{"percentage", " Percentage ", "PERCENTAGE "} {
		s, err := ComputeSavings(5, &Coupon{Code: "X", DiscountType: kind, DiscountValue: d(10)})
		require.NoError(t, err)
		require.True(t, s.CouponDiscount.Equal(d(10)), "type %q discount %s", kind, s.CouponDiscount)
		require.True(t, s.FinalTotal.Equal(d(65)), "type %q final %s", kind, s.FinalTotal)
	}

	// Over 100 is only rejected for the exact percentage type.
	_, err := ComputeSavings(5, &Coupon{Code: "X", DiscountType: "percentage", DiscountValue: d(150)})
	require.NoError(t, err)
}

func TestFreePhotosOnly(t *testing.T) {
	s, err := ComputeSavings(5, &Coupon{Code: "TWOFREE", DiscountType: "FIXED", FreePhotos: 2})
	require.NoError(t, err)
	require.True(t, s.CouponDiscount.Equal(d(30)))
	require.True(t, s.FinalTotal.Equal(d(45)))
}

func TestFreePhotosCappedByItemCount(t *testing.T) {
	s, err := ComputeSavings(2, &Coupon{Code: "TENFREE", FreePhotos: 10})
	require.NoError(t, err)
	require.True(t, s.CouponDiscount.Equal(d(40)))
	require.True(t, s.FinalTotal.IsZero())
}

func TestFreePhotosOnEmptyCartUsesBasePrice(t *testing.T) {
	s, err := ComputeSavings(0, &Coupon{Code: "ONEFREE", FreePhotos: 1})
	require.NoError(t, err)
	require.True(t, s.CouponDiscount.IsZero())
	require.True(t, s.FinalTotal.IsZero())
}

func TestCombinedCoupon(t *testing.T) {
	s, err := ComputeSavings(20, &Coupon{Code: "COMBO", DiscountType: "PERCENTAGE", DiscountValue: d(10), FreePhotos: 1})
	require.NoError(t, err)
	require.True(t, s.TierFinalTotal.Equal(d(180)))
	require.True(t, s.CouponDiscount.Equal(d(27)))
	require.True(t, s.FinalTotal.Equal(d(153)))
	require.True(t, s.TotalSavings.Equal(d(247)))
}

func TestFinalTotalIsClamped(t *testing.T) {
	s, err := ComputeSavings(3, &Coupon{Code: "BIG", DiscountType: "FIXED", DiscountValue: d(500)})
	require.NoError(t, err)
	require.True(t, s.FinalTotal.IsZero())
	require.True(t, s.TotalSavings.Equal(s.RawTotal))
	require.True(t, s.CouponDiscount.Equal(d(500)))
}

func TestFractionalPercentageRounds(t *testing.T) {
	s, err := ComputeSavings(3, &Coupon{Code: "THIRD", DiscountType: "PERCENTAGE", DiscountValue: decimal.RequireFromString("33.333")})
	require.NoError(t, err)
	require.Equal(t, "20.00", s.CouponDiscount.StringFixed(2))
	require.Equal(t, "40.00", s.FinalTotal.StringFixed(2))
}

func TestComputeSavingsIsIdempotent(t *testing.T) {
	c := &Coupon{Code: "COMBO", DiscountType: "PERCENTAGE", DiscountValue: d(10), FreePhotos: 1}
	first, err := ComputeSavings(12, c)
	require.NoError(t, err)
	second, err := ComputeSavings(12, c)
	require.NoError(t, err)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("non deterministic result:\n%s", diff)
	}
}

func TestComputeSavingsRejectsInvalidInput(t *testing.T) {
	_, err := ComputeSavings(-1, nil)
	require.True(t, errors.Is(err, ErrNegativeItemCount))

	bad := []Coupon{
		{Code: "", DiscountValue: d(1)},
		{Code: "NEG", DiscountValue: d(-1)},
		{Code: "OVER", DiscountType: "PERCENTAGE", DiscountValue: d(101)},
		{Code: "FREE", FreePhotos: -2},
	}
	for _, c := range bad {
		_, err := ComputeSavings(5, &c)
		require.ErrorIs(t, err, ErrInvalidCoupon, "coupon %+v", c)
	}
}

func TestCouponNormalize(t *testing.T) {
	c := Coupon{Code: "  summer10 ", DiscountType: "percentage"}.Normalize()
	require.Equal(t, "SUMMER10", c.Code)
	require.Equal(t, DiscountPercentage, c.DiscountType)

	c = Coupon{Code: "x", DiscountType: "whatever"}.Normalize()
	require.Equal(t, DiscountFixed, c.DiscountType)
}

func TestMinorRoundTrip(t *testing.T) {
	require.Equal(t, int64(15300), Minor(d(153)))
	require.Equal(t, int64(2000), Minor(decimal.RequireFromString("19.995")))
	require.True(t, FromMinor(4550).Equal(decimal.RequireFromString("45.50")))
	require.True(t, PercentFromBps(1250).Equal(decimal.RequireFromString("12.5")))
}
