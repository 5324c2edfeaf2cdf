package cart

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-fotoko/internal/obs"
	"github.com/noah-isme/backend-fotoko/internal/pricing"
)

const keyPrefix = "cart-storage:"

// Store persists carts in Redis, one key per session.
type Store struct {
	rdb redis.Cmdable
	ttl time.Duration
	log zerolog.Logger
}

// NewStore builds a Store. Keys expire after ttl without writes.
func NewStore(rdb redis.Cmdable, ttl time.Duration, log zerolog.Logger) *Store {
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &Store{rdb: rdb, ttl: ttl, log: log}
}

func cartKey(sessionID string) string   { return keyPrefix + sessionID }
func drawerKey(sessionID string) string { return keyPrefix + sessionID + ":drawer" }

type persisted struct {
	Items         []Item          `json:"items"`
	AppliedCoupon *pricing.Coupon `json:"appliedCoupon"`
}

type persistedRaw struct {
	Items         []json.RawMessage `json:"items"`
	AppliedCoupon json.RawMessage   `json:"appliedCoupon"`
}

// Load returns the session cart. Missing keys and unusable payloads yield an
// empty cart; only transport failures are returned as errors.
func (s *Store) Load(ctx context.Context, sessionID string) (Cart, error) {
	vals, err := s.rdb.MGet(ctx, cartKey(sessionID), drawerKey(sessionID)).Result()
	if err != nil {
		return Cart{}, fmt.Errorf("load cart: %w", err)
	}
	var c Cart
	if raw, ok := vals[0].(string); ok {
		c = s.decode(sessionID, []byte(raw))
	}
	if flag, ok := vals[1].(string); ok {
		c.DrawerOpen = flag == "1"
	}
	return c, nil
}

func (s *Store) decode(sessionID string, data []byte) Cart {
	var raw persistedRaw
	if err := json.Unmarshal(data, &raw); err != nil {
		s.fallback(sessionID, "corrupt", err)
		return Cart{}
	}
	var c Cart
	for _, msg := range raw.Items {
		var it Item
		if err := json.Unmarshal(msg, &it); err != nil {
			s.fallback(sessionID, "invalid_item", err)
			continue
		}
		if err := c.AddItem(it); err != nil {
			s.fallback(sessionID, "invalid_item", err)
		}
	}
	if len(raw.AppliedCoupon) > 0 && string(raw.AppliedCoupon) != "null" {
		var coupon pricing.Coupon
		err := json.Unmarshal(raw.AppliedCoupon, &coupon)
		if err == nil {
			err = c.SetAppliedCoupon(coupon)
		}
		if err != nil {
			s.fallback(sessionID, "invalid_coupon", err)
		}
	}
	return c
}

func (s *Store) fallback(sessionID, reason string, err error) {
	obs.Inc(obs.CartPersistFallbacks, reason)
	s.log.Warn().Err(err).Str("cart_session", sessionID).Str("reason", reason).Msg("discarding unusable persisted cart data")
}

// Save writes the cart and drawer flag and refreshes their expiry.
func (s *Store) Save(ctx context.Context, sessionID string, c Cart) error {
	payload, err := json.Marshal(persisted{Items: c.Items, AppliedCoupon: c.AppliedCoupon})
	if err != nil {
		return fmt.Errorf("encode cart: %w", err)
	}
	drawer := "0"
	if c.DrawerOpen {
		drawer = "1"
	}
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, cartKey(sessionID), payload, s.ttl)
		p.Set(ctx, drawerKey(sessionID), drawer, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save cart: %w", err)
	}
	return nil
}
