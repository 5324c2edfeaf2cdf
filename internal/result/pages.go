package result

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/noah-isme/backend-fotoko/internal/order"
)

// ErrUnknownOutcome is returned for outcomes other than success, pending and failure.
var ErrUnknownOutcome = errors.New("result: unknown outcome")

// Outcome is where the payment provider sends the buyer back to.
type Outcome string

const (
	Success Outcome = "success"
	Pending Outcome = "pending"
	Failure Outcome = "failure"
)

// Action is a follow-up offered on a result page.
type Action struct {
	Kind   string `json:"kind"`
	Label  string `json:"label"`
	Href   string `json:"href"`
	Method string `json:"method"`
}

// Page is the view model rendered by the storefront for a payment outcome.
type Page struct {
	Outcome        Outcome     `json:"outcome"`
	Title          string      `json:"title"`
	Message        string      `json:"message"`
	PaymentID      string      `json:"paymentId,omitempty"`
	ProviderStatus string      `json:"providerStatus,omitempty"`
	Order          *order.View `json:"order,omitempty"`
	Actions        []Action    `json:"actions"`
}

// Query carries the parameters the provider appends to the back URL.
type Query struct {
	OrderID   string
	PaymentID string
	Status    string
}

// QueryFrom reads the provider back-URL parameters.
func QueryFrom(v url.Values) Query {
	return Query{
		OrderID:   strings.TrimSpace(v.Get("external_reference")),
		PaymentID: strings.TrimSpace(firstOf(v.Get("payment_id"), v.Get("collection_id"))),
		Status:    strings.TrimSpace(firstOf(v.Get("status"), v.Get("collection_status"))),
	}
}

// OrderReader loads an order visible to the caller.
type OrderReader interface {
	Get(ctx context.Context, id string) (order.View, error)
}

// Pages builds result page view models.
type Pages struct {
	Orders          OrderReader
	FrontendBaseURL string
}

type copyText struct {
	title   string
	message string
}

var texts = map[Outcome]copyText{
	Success: {"Payment approved", "Thanks for your purchase. Your photos are on their way to your inbox."},
	Pending: {"Payment pending", "Your payment is being processed. We will email your photos as soon as it is approved."},
	Failure: {"Payment failed", "Your payment could not be completed. No charge was made; you can try again."},
}

// Build returns the page for outcome. The order summary is attached only
// when the caller owns it; an unknown or foreign order leaves it out.
func (p Pages) Build(ctx context.Context, outcome string, q Query) (Page, error) {
	o := Outcome(strings.ToLower(strings.TrimSpace(outcome)))
	text, ok := texts[o]
	if !ok {
		return Page{}, ErrUnknownOutcome
	}
	page := Page{
		Outcome:        o,
		Title:          text.title,
		Message:        text.message,
		PaymentID:      q.PaymentID,
		ProviderStatus: q.Status,
	}
	if q.OrderID != "" && p.Orders != nil {
		view, err := p.Orders.Get(ctx, q.OrderID)
		switch {
		case err == nil:
			page.Order = &view
		case !errors.Is(err, order.ErrNotFound):
			return Page{}, err
		}
	}
	page.Actions = p.actions(o, page.Order)
	return page, nil
}

func (p Pages) actions(o Outcome, ord *order.View) []Action {
	front := strings.TrimRight(p.FrontendBaseURL, "/")
	home := Action{Kind: "home", Label: "Go home", Href: front + "/", Method: "GET"}
	orders := Action{Kind: "orders", Label: "View orders", Href: front + "/orders", Method: "GET"}
	if ord != nil {
		orders.Href = front + "/orders/" + ord.ID
	}
	if o != Failure {
		return []Action{orders, home}
	}
	retry := Action{Kind: "retry", Label: "Try again", Href: front + "/cart", Method: "GET"}
	if ord != nil {
		retry.Href = "/api/v1/payments/" + ord.ID + "/retry"
		retry.Method = "POST"
	}
	return []Action{retry, home}
}

func firstOf(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
