package db

import (
	"github.com/jackc/pgx/v5/pgtype"
)

const (
	OrderStatusPendingPayment = "PENDING_PAYMENT"
	OrderStatusPaid           = "PAID"
	OrderStatusCanceled       = "CANCELED"
	OrderStatusRefunded       = "REFUNDED"
)

const (
	PaymentStatusPending  = "PENDING"
	PaymentStatusPaid     = "PAID"
	PaymentStatusFailed   = "FAILED"
	PaymentStatusRefunded = "REFUNDED"
)

type User struct {
	ID           pgtype.UUID
	Name         string
	Email        string
	PasswordHash string
	Roles        []string
	CreatedAt    pgtype.Timestamptz
	UpdatedAt    pgtype.Timestamptz
}

type Event struct {
	ID        int64
	Slug      string
	Name      string
	Location  string
	EventDate pgtype.Date
	CoverUrl  string
	Published bool
	CreatedAt pgtype.Timestamptz
	UpdatedAt pgtype.Timestamptz
}

type EventSummary struct {
	Event
	PhotoCount int64
}

type Photo struct {
	ID          int64
	EventID     int64
	Url         string
	Filename    string
	ContentType string
	SizeBytes   int64
	CreatedAt   pgtype.Timestamptz
}

type PhotoWithEvent struct {
	Photo
	EventName      string
	EventPublished bool
}

type Coupon struct {
	ID          pgtype.UUID
	Code        string
	Kind        string
	PercentBps  int32
	AmountMinor int64
	FreePhotos  int32
	StartsAt    pgtype.Timestamptz
	EndsAt      pgtype.Timestamptz
	UsageLimit  pgtype.Int4
	UsedCount   int32
	Active      bool
	CreatedAt   pgtype.Timestamptz
	UpdatedAt   pgtype.Timestamptz
}

type Order struct {
	ID                  pgtype.UUID
	UserID              pgtype.UUID
	SessionID           string
	Email               string
	Status              string
	Currency            string
	ItemCount           int32
	RawTotalMinor       int64
	TierSavingsMinor    int64
	CouponDiscountMinor int64
	TotalMinor          int64
	CouponCode          pgtype.Text
	DeliveredAt         pgtype.Timestamptz
	CreatedAt           pgtype.Timestamptz
	UpdatedAt           pgtype.Timestamptz
}

type OrderItem struct {
	ID         pgtype.UUID
	OrderID    pgtype.UUID
	PhotoID    int64
	EventID    int64
	EventName  string
	Url        string
	PriceMinor int64
}

type Payment struct {
	ID              pgtype.UUID
	OrderID         pgtype.UUID
	Provider        string
	ProviderRef     string
	Status          string
	RedirectUrl     string
	AmountMinor     int64
	ProviderPayload []byte
	CreatedAt       pgtype.Timestamptz
	UpdatedAt       pgtype.Timestamptz
}

type AuditLog struct {
	ID           pgtype.UUID
	ActorUserID  pgtype.UUID
	Action       string
	ResourceType string
	ResourceID   pgtype.Text
	Method       string
	Path         string
	Status       int32
	Ip           pgtype.Text
	RequestID    pgtype.Text
	Metadata     []byte
	CreatedAt    pgtype.Timestamptz
}
