package cart

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-fotoko/internal/pricing"
)

func photo(id int64) Item {
	return Item{ID: id, URL: "/uploads/p.jpg", Price: pricing.BaseUnitPrice, EventID: "1", EventName: "Marathon"}
}

var decimalEqual = cmp.Comparer(func(a, b decimal.Decimal) bool { return a.Equal(b) })

func TestAddItemReplacesDuplicate(t *testing.T) {
	var c Cart
	require.NoError(t, c.AddItem(photo(1)))
	require.NoError(t, c.AddItem(photo(2)))
	replacement := photo(1)
	replacement.URL = "/uploads/new.jpg"
	require.NoError(t, c.AddItem(replacement))

	require.Equal(t, 2, c.ItemCount())
	require.Equal(t, "/uploads/new.jpg", c.Items[0].URL)
	require.ErrorIs(t, c.AddItem(Item{ID: 0}), ErrInvalidItem)
}

func TestToggleRoundTrip(t *testing.T) {
	var c Cart
	require.NoError(t, c.AddItem(photo(1)))
	require.NoError(t, c.SetAppliedCoupon(pricing.Coupon{Code: "x", DiscountType: "FIXED", DiscountValue: decimal.NewFromInt(3)}))
	before := Cart{Items: append([]Item(nil), c.Items...), AppliedCoupon: c.AppliedCoupon}

	in, err := c.ToggleItem(photo(7))
	require.NoError(t, err)
	require.True(t, in)
	in, err = c.ToggleItem(photo(7))
	require.NoError(t, err)
	require.False(t, in)

	if diff := cmp.Diff(before, c, decimalEqual); diff != "" {
		t.Fatalf("toggle round trip changed cart (-want +got):\n%s", diff)
	}
}

func TestClearDropsCoupon(t *testing.T) {
	var c Cart
	require.NoError(t, c.AddItem(photo(1)))
	require.NoError(t, c.SetAppliedCoupon(pricing.Coupon{Code: "x", FreePhotos: 1}))
	c.Clear()
	require.Zero(t, c.ItemCount())
	require.Nil(t, c.AppliedCoupon)
}

func TestSetAppliedCouponValidates(t *testing.T) {
	var c Cart
	err := c.SetAppliedCoupon(pricing.Coupon{Code: "bad", DiscountType: "PERCENTAGE", DiscountValue: decimal.NewFromInt(120)})
	require.ErrorIs(t, err, pricing.ErrInvalidCoupon)
	require.Nil(t, c.AppliedCoupon)

	require.NoError(t, c.SetAppliedCoupon(pricing.Coupon{Code: " save5 ", DiscountType: "fixed", DiscountValue: decimal.NewFromInt(5)}))
	require.Equal(t, "SAVE5", c.AppliedCoupon.Code)
	require.Equal(t, "fixed", c.AppliedCoupon.DiscountType)

	// A lower-case type is not a percentage: 5 items at 15 minus 10 flat.
	require.NoError(t, c.SetAppliedCoupon(pricing.Coupon{Code: "TEN", DiscountType: "percentage", DiscountValue: decimal.NewFromInt(10)}))
	for i := int64(1); i <= 5; i++ {
		require.NoError(t, c.AddItem(photo(i)))
	}
	total, err := c.Total()
	require.NoError(t, err)
	require.True(t, total.Equal(decimal.NewFromInt(65)), "total %s", total)
	c.RemoveCoupon()
	require.Nil(t, c.AppliedCoupon)
}

func TestTotalsFollowPricing(t *testing.T) {
	var c Cart
	for i := int64(1); i <= 5; i++ {
		require.NoError(t, c.AddItem(photo(i)))
	}
	require.NoError(t, c.SetAppliedCoupon(pricing.Coupon{Code: "FREE2", FreePhotos: 2}))

	total, err := c.Total()
	require.NoError(t, err)
	require.True(t, total.Equal(decimal.NewFromInt(45)))

	view, err := NewView(c)
	require.NoError(t, err)
	require.Equal(t, 5, view.ItemCount)
	require.True(t, view.Savings.TierSavings.Equal(decimal.NewFromInt(25)))
	require.Equal(t, []int64{1, 2, 3, 4, 5}, c.PhotoIDs())
}

func TestEventRefAcceptsStringOrNumber(t *testing.T) {
	var items []Item
	require.NoError(t, json.Unmarshal([]byte(`[{"id":1,"eventId":42},{"id":2,"eventId":"abc"},{"id":3,"eventId":null}]`), &items))
	require.Equal(t, EventRef("42"), items[0].EventID)
	require.Equal(t, EventRef("abc"), items[1].EventID)
	require.Equal(t, EventRef(""), items[2].EventID)

	out, err := json.Marshal(items[0])
	require.NoError(t, err)
	require.Contains(t, string(out), `"eventId":"42"`)

	var bad Item
	require.Error(t, json.Unmarshal([]byte(`{"id":1,"eventId":{}}`), &bad))
}

func TestEmptyViewHasItemsArray(t *testing.T) {
	view, err := NewView(Cart{})
	require.NoError(t, err)
	out, err := json.Marshal(view)
	require.NoError(t, err)
	require.Contains(t, string(out), `"items":[]`)
	require.Contains(t, string(out), `"appliedCoupon":null`)
}
