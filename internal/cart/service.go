package cart

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-fotoko/internal/catalog"
	"github.com/noah-isme/backend-fotoko/internal/lock"
	"github.com/noah-isme/backend-fotoko/internal/pricing"
)

var (
	// ErrPhotoNotFound is returned when a photo id is unknown or not for sale.
	ErrPhotoNotFound = errors.New("cart: photo not found")
	// ErrNoSession is returned when no session id is available.
	ErrNoSession = errors.New("cart: session required")
)

// PhotoLookup resolves photo ids against the catalog.
type PhotoLookup interface {
	PurchasablePhotos(ctx context.Context, ids []int64) ([]catalog.Photo, error)
}

// CouponResolver turns a code into a validated coupon.
type CouponResolver interface {
	Resolve(ctx context.Context, code string) (pricing.Coupon, error)
}

// Service applies cart operations to persisted session carts. Mutations of
// one session run under a Redis lock.
type Service struct {
	Store   *Store
	Locker  lock.Locker
	Photos  PhotoLookup
	Coupons CouponResolver
	LockTTL time.Duration
	Log     zerolog.Logger
}

func (s *Service) lockTTL() time.Duration {
	if s.LockTTL <= 0 {
		return 5 * time.Second
	}
	return s.LockTTL
}

// Get loads the session cart.
func (s *Service) Get(ctx context.Context, sessionID string) (Cart, error) {
	if sessionID == "" {
		return Cart{}, ErrNoSession
	}
	return s.Store.Load(ctx, sessionID)
}

func (s *Service) mutate(ctx context.Context, sessionID string, fn func(*Cart) error) (Cart, error) {
	if sessionID == "" {
		return Cart{}, ErrNoSession
	}
	var out Cart
	err := s.Locker.WithLock(ctx, "lock:"+cartKey(sessionID), s.lockTTL(), func(ctx context.Context) error {
		c, err := s.Store.Load(ctx, sessionID)
		if err != nil {
			return err
		}
		if err := fn(&c); err != nil {
			return err
		}
		if err := s.Store.Save(ctx, sessionID, c); err != nil {
			return err
		}
		out = c
		return nil
	})
	return out, err
}

func (s *Service) lookup(ctx context.Context, photoID int64) (Item, error) {
	if s.Photos == nil {
		return Item{}, errors.New("cart: photo lookup not configured")
	}
	photos, err := s.Photos.PurchasablePhotos(ctx, []int64{photoID})
	if err != nil {
		return Item{}, fmt.Errorf("lookup photo: %w", err)
	}
	for _, p := range photos {
		if p.ID == photoID {
			return Item{
				ID:        p.ID,
				URL:       p.URL,
				Price:     p.Price,
				EventID:   EventRef(p.EventID),
				EventName: p.EventName,
			}, nil
		}
	}
	return Item{}, fmt.Errorf("%w: %s", ErrPhotoNotFound, strconv.FormatInt(photoID, 10))
}

// AddPhoto adds a catalog photo, replacing an existing entry for the same id.
func (s *Service) AddPhoto(ctx context.Context, sessionID string, photoID int64) (Cart, error) {
	item, err := s.lookup(ctx, photoID)
	if err != nil {
		return Cart{}, err
	}
	return s.mutate(ctx, sessionID, func(c *Cart) error {
		return c.AddItem(item)
	})
}

// RemovePhoto drops a photo from the cart. Removing an absent photo is a no-op.
func (s *Service) RemovePhoto(ctx context.Context, sessionID string, photoID int64) (Cart, error) {
	return s.mutate(ctx, sessionID, func(c *Cart) error {
		c.RemoveItem(photoID)
		return nil
	})
}

// TogglePhoto removes the photo when present and adds it otherwise.
func (s *Service) TogglePhoto(ctx context.Context, sessionID string, photoID int64) (Cart, error) {
	return s.mutate(ctx, sessionID, func(c *Cart) error {
		if c.RemoveItem(photoID) {
			return nil
		}
		item, err := s.lookup(ctx, photoID)
		if err != nil {
			return err
		}
		return c.AddItem(item)
	})
}

// Clear empties the cart and removes its coupon.
func (s *Service) Clear(ctx context.Context, sessionID string) (Cart, error) {
	return s.mutate(ctx, sessionID, func(c *Cart) error {
		c.Clear()
		return nil
	})
}

// ApplyCoupon resolves code and makes it the active coupon.
func (s *Service) ApplyCoupon(ctx context.Context, sessionID, code string) (Cart, error) {
	if s.Coupons == nil {
		return Cart{}, errors.New("cart: coupon resolver not configured")
	}
	coupon, err := s.Coupons.Resolve(ctx, code)
	if err != nil {
		return Cart{}, err
	}
	return s.mutate(ctx, sessionID, func(c *Cart) error {
		return c.SetAppliedCoupon(coupon)
	})
}

// RemoveCoupon clears the active coupon.
func (s *Service) RemoveCoupon(ctx context.Context, sessionID string) (Cart, error) {
	return s.mutate(ctx, sessionID, func(c *Cart) error {
		c.RemoveCoupon()
		return nil
	})
}

// SetDrawer records the drawer visibility.
func (s *Service) SetDrawer(ctx context.Context, sessionID string, open bool) (Cart, error) {
	return s.mutate(ctx, sessionID, func(c *Cart) error {
		c.SetDrawerOpen(open)
		return nil
	})
}
