package cart

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-fotoko/internal/pricing"
)

// EventRef is an event identifier that accepts a JSON string or number and
// always marshals as a string.
type EventRef string

// UnmarshalJSON implements json.Unmarshaler.
func (e *EventRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*e = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*e = EventRef(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("eventId must be a string or number: %w", err)
	}
	if i, err := n.Int64(); err == nil {
		*e = EventRef(strconv.FormatInt(i, 10))
		return nil
	}
	*e = EventRef(n.String())
	return nil
}

// Item is one photo in the cart.
type Item struct {
	ID        int64           `json:"id"`
	URL       string          `json:"url"`
	Price     decimal.Decimal `json:"price"`
	EventID   EventRef        `json:"eventId"`
	EventName string          `json:"eventName"`
}

// ErrInvalidItem is returned for items that cannot be stored.
var ErrInvalidItem = errors.New("cart: invalid item")

func (it Item) validate() error {
	if it.ID <= 0 {
		return fmt.Errorf("%w: id must be positive", ErrInvalidItem)
	}
	if it.Price.IsNegative() {
		return fmt.Errorf("%w: price must not be negative", ErrInvalidItem)
	}
	return nil
}

// Cart holds the photos a session intends to buy and its applied coupon.
// At most one item exists per photo id.
type Cart struct {
	Items         []Item          `json:"items"`
	AppliedCoupon *pricing.Coupon `json:"appliedCoupon"`
	DrawerOpen    bool            `json:"-"`
}

func (c *Cart) indexOf(id int64) int {
	return slices.IndexFunc(c.Items, func(it Item) bool { return it.ID == id })
}

// Contains reports whether a photo is in the cart.
func (c *Cart) Contains(id int64) bool {
	return c.indexOf(id) >= 0
}

// AddItem stores item, replacing any entry with the same id in place.
func (c *Cart) AddItem(item Item) error {
	if err := item.validate(); err != nil {
		return err
	}
	if i := c.indexOf(item.ID); i >= 0 {
		c.Items[i] = item
		return nil
	}
	c.Items = append(c.Items, item)
	return nil
}

// RemoveItem drops the photo with id and reports whether it was present.
func (c *Cart) RemoveItem(id int64) bool {
	i := c.indexOf(id)
	if i < 0 {
		return false
	}
	c.Items = slices.Delete(c.Items, i, i+1)
	return true
}

// ToggleItem removes item when present and adds it otherwise. It reports
// whether the item is in the cart afterwards.
func (c *Cart) ToggleItem(item Item) (bool, error) {
	if c.RemoveItem(item.ID) {
		return false, nil
	}
	if err := c.AddItem(item); err != nil {
		return false, err
	}
	return true, nil
}

// Clear empties the items and the coupon together.
func (c *Cart) Clear() {
	c.Items = nil
	c.AppliedCoupon = nil
}

// SetAppliedCoupon replaces the active coupon. The discount type is kept as
// given; the coupon book canonicalises it before coupons reach the cart.
func (c *Cart) SetAppliedCoupon(coupon pricing.Coupon) error {
	coupon.Code = pricing.NormalizeCode(coupon.Code)
	if err := coupon.Validate(); err != nil {
		return err
	}
	c.AppliedCoupon = &coupon
	return nil
}

// RemoveCoupon clears the active coupon.
func (c *Cart) RemoveCoupon() {
	c.AppliedCoupon = nil
}

// SetDrawerOpen records the drawer visibility.
func (c *Cart) SetDrawerOpen(open bool) {
	c.DrawerOpen = open
}

// ItemCount returns the number of photos.
func (c *Cart) ItemCount() int {
	return len(c.Items)
}

// Savings prices the cart.
func (c *Cart) Savings() (pricing.Savings, error) {
	return pricing.ComputeSavings(c.ItemCount(), c.AppliedCoupon)
}

// Total returns the amount payable.
func (c *Cart) Total() (decimal.Decimal, error) {
	s, err := c.Savings()
	if err != nil {
		return decimal.Zero, err
	}
	return s.FinalTotal, nil
}

// PhotoIDs lists the photo ids in cart order.
func (c *Cart) PhotoIDs() []int64 {
	ids := make([]int64, 0, len(c.Items))
	for _, it := range c.Items {
		ids = append(ids, it.ID)
	}
	return ids
}

// View is the API representation of a cart.
type View struct {
	Items         []Item          `json:"items"`
	AppliedCoupon *pricing.Coupon `json:"appliedCoupon"`
	DrawerOpen    bool            `json:"drawerOpen"`
	ItemCount     int             `json:"itemCount"`
	Total         decimal.Decimal `json:"total"`
	Savings       pricing.Savings `json:"savings"`
}

// NewView prices c and builds its API representation.
func NewView(c Cart) (View, error) {
	savings, err := c.Savings()
	if err != nil {
		return View{}, err
	}
	items := c.Items
	if items == nil {
		items = []Item{}
	}
	return View{
		Items:         items,
		AppliedCoupon: c.AppliedCoupon,
		DrawerOpen:    c.DrawerOpen,
		ItemCount:     c.ItemCount(),
		Total:         savings.FinalTotal,
		Savings:       savings,
	}, nil
}
