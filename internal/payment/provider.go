package payment

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-fotoko/internal/db"
)

var (
	// ErrInvalidSignature is returned when a webhook notification fails authentication.
	ErrInvalidSignature = errors.New("payment: invalid webhook signature")
	// ErrIgnoredNotification marks notifications that carry no payment update (topic other than payment).
	ErrIgnoredNotification = errors.New("payment: notification ignored")
	// ErrPaymentNotFound is returned by providers when a payment id is unknown upstream.
	ErrPaymentNotFound = errors.New("payment: provider payment not found")
)

// PreferenceItem is one line shown on the provider checkout page.
type PreferenceItem struct {
	ID        string
	Title     string
	Quantity  int
	UnitPrice decimal.Decimal
}

// PreferenceRequest captures what a provider needs to open a hosted checkout for an order.
type PreferenceRequest struct {
	OrderID         string
	Email           string
	Currency        string
	Total           decimal.Decimal
	Items           []PreferenceItem
	SuccessURL      string
	PendingURL      string
	FailureURL      string
	NotificationURL string
}

// Preference is the provider's answer to a PreferenceRequest.
type Preference struct {
	ID          string
	RedirectURL string
	Payload     []byte
}

// PaymentInfo is the provider's authoritative view of a payment.
type PaymentInfo struct {
	ID      string
	OrderID string
	Status  string
	Amount  decimal.Decimal
	Payload []byte
}

// Notification is an authenticated webhook that points at a provider payment.
type Notification struct {
	PaymentID string
}

// Provider abstracts the hosted checkout used to collect payment.
type Provider interface {
	Name() string
	CreatePreference(ctx context.Context, req PreferenceRequest) (Preference, error)
	GetPayment(ctx context.Context, paymentID string) (PaymentInfo, error)
	VerifyWebhook(r *http.Request, body []byte) (Notification, error)
}

// NormalizeStatus maps provider status vocabularies onto PENDING, PAID, FAILED or REFUNDED.
func NormalizeStatus(status string) string {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "approved", "authorized", "paid", "success":
		return db.PaymentStatusPaid
	case "rejected", "cancelled", "canceled", "failure", "failed", "expired":
		return db.PaymentStatusFailed
	case "refunded", "charged_back":
		return db.PaymentStatusRefunded
	default:
		return db.PaymentStatusPending
	}
}
