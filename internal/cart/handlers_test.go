package cart_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-fotoko/internal/cart"
	"github.com/noah-isme/backend-fotoko/internal/catalog"
	"github.com/noah-isme/backend-fotoko/internal/coupon"
	"github.com/noah-isme/backend-fotoko/internal/lock"
	"github.com/noah-isme/backend-fotoko/internal/pricing"
)

type fakePhotos struct{}

func (fakePhotos) PurchasablePhotos(_ context.Context, ids []int64) ([]catalog.Photo, error) {
	var out []catalog.Photo
	for _, id := range ids {
		if id >= 1000 {
			continue
		}
		out = append(out, catalog.Photo{ID: id, URL: "/uploads/x.jpg", Price: pricing.BaseUnitPrice, EventID: "9", EventName: "Trail"})
	}
	return out, nil
}

type fakeCoupons map[string]pricing.Coupon

func (f fakeCoupons) Resolve(_ context.Context, code string) (pricing.Coupon, error) {
	c, ok := f[strings.ToUpper(code)]
	if !ok {
		return pricing.Coupon{}, coupon.ErrNotFound
	}
	return c, nil
}

type cartResponse struct {
	Data struct {
		Items         []cart.Item     `json:"items"`
		AppliedCoupon *pricing.Coupon `json:"appliedCoupon"`
		DrawerOpen    bool            `json:"drawerOpen"`
		ItemCount     int             `json:"itemCount"`
		Total         decimal.Decimal `json:"total"`
		Savings       pricing.Savings `json:"savings"`
	} `json:"data"`
}

type harness struct {
	router http.Handler
	svc    *cart.Service
	sid    string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	svc := &cart.Service{
		Store:  cart.NewStore(rdb, time.Hour, zerolog.Nop()),
		Locker: lock.Locker{R: rdb, RetryBackoff: 5 * time.Millisecond, MaxWait: 2 * time.Second},
		Photos: fakePhotos{},
		Coupons: fakeCoupons{
			"HALF": {Code: "HALF", DiscountType: pricing.DiscountPercentage, DiscountValue: decimal.NewFromInt(50)},
		},
	}
	h := &cart.Handler{Svc: svc, Log: zerolog.Nop()}

	r := chi.NewRouter()
	r.Use(cart.Session(cart.SessionConfig{CookieName: "cart_session", TTL: time.Hour}))
	r.Get("/cart", h.Get)
	r.Delete("/cart", h.Clear)
	r.Post("/cart/items", h.AddItem)
	r.Delete("/cart/items/{photoID}", h.RemoveItem)
	r.Post("/cart/items/{photoID}/toggle", h.ToggleItem)
	r.Post("/cart/coupon", h.ApplyCoupon)
	r.Delete("/cart/coupon", h.RemoveCoupon)
	r.Put("/cart/drawer", h.SetDrawer)
	return &harness{router: r, svc: svc}
}

func (h *harness) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, cartResponse) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if h.sid != "" {
		req.AddCookie(&http.Cookie{Name: "cart_session", Value: h.sid})
	}
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	if h.sid == "" {
		for _, c := range rec.Result().Cookies() {
			if c.Name == "cart_session" {
				h.sid = c.Value
			}
		}
	}
	var resp cartResponse
	if rec.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	return rec, resp
}

func TestCartFlow(t *testing.T) {
	h := newHarness(t)

	rec, resp := h.do(t, http.MethodGet, "/cart", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, h.sid)
	require.Zero(t, resp.Data.ItemCount)

	for _, id := range []string{"1", "2", "3", "4", "5", "5"} {
		rec, resp = h.do(t, http.MethodPost, "/cart/items", `{"id":`+id+`,"url":"ignored","eventId":"9"}`)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}
	require.Equal(t, 5, resp.Data.ItemCount)
	require.Equal(t, "/uploads/x.jpg", resp.Data.Items[0].URL)
	require.True(t, resp.Data.Total.Equal(decimal.NewFromInt(75)))

	rec, resp = h.do(t, http.MethodPost, "/cart/coupon", `{"code":"half"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "HALF", resp.Data.AppliedCoupon.Code)
	require.True(t, resp.Data.Total.Equal(decimal.RequireFromString("37.5")))

	rec, _ = h.do(t, http.MethodPost, "/cart/coupon", `{"code":"nope"}`)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Contains(t, rec.Body.String(), "COUPON_NOT_FOUND")

	rec, resp = h.do(t, http.MethodPost, "/cart/items/6/toggle", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 6, resp.Data.ItemCount)
	rec, resp = h.do(t, http.MethodPost, "/cart/items/6/toggle", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 5, resp.Data.ItemCount)

	rec, resp = h.do(t, http.MethodDelete, "/cart/items/1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 4, resp.Data.ItemCount)

	rec, resp = h.do(t, http.MethodPut, "/cart/drawer", `{"open":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, resp.Data.DrawerOpen)

	rec, resp = h.do(t, http.MethodDelete, "/cart/coupon", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Nil(t, resp.Data.AppliedCoupon)

	rec, resp = h.do(t, http.MethodDelete, "/cart", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Zero(t, resp.Data.ItemCount)
	require.True(t, resp.Data.DrawerOpen)
}

func TestCartRejectsUnknownPhotosAndBadInput(t *testing.T) {
	h := newHarness(t)

	rec, _ := h.do(t, http.MethodPost, "/cart/items", `{"id":1000}`)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Contains(t, rec.Body.String(), "PHOTO_NOT_FOUND")

	rec, _ = h.do(t, http.MethodPost, "/cart/items", `{"id":0}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = h.do(t, http.MethodDelete, "/cart/items/abc", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = h.do(t, http.MethodPut, "/cart/drawer", `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSessionHeaderAndInvalidCookie(t *testing.T) {
	h := newHarness(t)
	sid := "3f1c7a52-8f0e-4c1e-9a57-1b8f0f3d2a10"

	req := httptest.NewRequest(http.MethodGet, "/cart", nil)
	req.Header.Set(cart.SessionHeader, sid)
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	require.Equal(t, sid, rec.Header().Get(cart.SessionHeader))
	require.Empty(t, rec.Result().Cookies())

	req = httptest.NewRequest(http.MethodGet, "/cart", nil)
	req.AddCookie(&http.Cookie{Name: "cart_session", Value: "not-a-uuid"})
	rec = httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	require.Len(t, rec.Result().Cookies(), 1)
	require.NotEqual(t, "not-a-uuid", rec.Result().Cookies()[0].Value)
}

func TestConcurrentAddsAreSerialized(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sid := "c0ffee00-0000-4000-8000-000000000001"

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := int64(1); i <= 10; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_, err := h.svc.AddPhoto(ctx, sid, id)
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	c, err := h.svc.Get(ctx, sid)
	require.NoError(t, err)
	require.Equal(t, 10, c.ItemCount())
}
