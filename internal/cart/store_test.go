package cart

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-fotoko/internal/pricing"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewStore(rdb, time.Hour, zerolog.Nop()), mr
}

func TestStoreRoundTrip(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	c := Cart{DrawerOpen: true}
	require.NoError(t, c.AddItem(photo(3)))
	require.NoError(t, c.SetAppliedCoupon(pricing.Coupon{Code: "TEN", DiscountType: "PERCENTAGE", DiscountValue: decimal.NewFromInt(10)}))
	require.NoError(t, store.Save(ctx, "s1", c))

	got, err := store.Load(ctx, "s1")
	require.NoError(t, err)
	require.True(t, got.DrawerOpen)
	require.Len(t, got.Items, 1)
	require.Equal(t, "TEN", got.AppliedCoupon.Code)

	require.Equal(t, time.Hour, mr.TTL("cart-storage:s1"))
	require.Equal(t, "1", mustGet(t, mr, "cart-storage:s1:drawer"))
}

func TestStoreMissingKeyIsEmpty(t *testing.T) {
	store, _ := newTestStore(t)
	got, err := store.Load(context.Background(), "nobody")
	require.NoError(t, err)
	require.Zero(t, got.ItemCount())
	require.Nil(t, got.AppliedCoupon)
	require.False(t, got.DrawerOpen)
}

func TestStoreCorruptPayloadFallsBack(t *testing.T) {
	store, mr := newTestStore(t)
	require.NoError(t, mr.Set("cart-storage:s2", "{not json"))

	got, err := store.Load(context.Background(), "s2")
	require.NoError(t, err)
	require.Zero(t, got.ItemCount())
}

func TestStoreDropsInvalidEntries(t *testing.T) {
	store, mr := newTestStore(t)
	payload := `{"items":[{"id":1,"price":"20","eventId":5},{"id":-4},{"id":"x"},{"id":1,"price":"20","url":"dup"}],
"appliedCoupon":{"code":"BAD","discountType":"PERCENTAGE","discountValue":"250"}}`
	require.NoError(t, mr.Set("cart-storage:s3", payload))

	got, err := store.Load(context.Background(), "s3")
	require.NoError(t, err)
	require.Len(t, got.Items, 1)
	require.Equal(t, "dup", got.Items[0].URL)
	require.Equal(t, EventRef(""), got.Items[0].EventID)
	require.Nil(t, got.AppliedCoupon)
}

func mustGet(t *testing.T, mr *miniredis.Miniredis, key string) string {
	t.Helper()
	v, err := mr.Get(key)
	require.NoError(t, err)
	return v
}
