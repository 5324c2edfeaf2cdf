package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/noah-isme/backend-fotoko/internal/common"
)

const sandboxName = "sandbox"

// SandboxSignatureHeader carries the hex HMAC-SHA256 of the raw body when a secret is configured.
const SandboxSignatureHeader = "X-Sandbox-Signature"

// Sandbox is a deterministic local provider. Its payment ids encode the
// outcome and the order, e.g. "sbx-approved-<orderID>", so a webhook can be
// simulated with nothing but the id.
type Sandbox struct {
	// ResultBaseURL is where the hosted checkout would send the buyer back.
	ResultBaseURL string
	Secret        string
}

// Name implements Provider.
func (Sandbox) Name() string { return sandboxName }

// SandboxPaymentID returns the payment id the sandbox reports for an order and raw provider status.
func SandboxPaymentID(orderID, status string) string {
	return fmt.Sprintf("sbx-%s-%s", strings.ToLower(status), orderID)
}

// CreatePreference returns a redirect straight to the success result page.
func (s Sandbox) CreatePreference(_ context.Context, req PreferenceRequest) (Preference, error) {
	if strings.TrimSpace(req.OrderID) == "" {
		return Preference{}, fmt.Errorf("sandbox: order id is required")
	}
	target := req.SuccessURL
	if target == "" {
		target = strings.TrimRight(s.ResultBaseURL, "/") + "/checkout/result/success"
	}
	q := url.Values{}
	q.Set("external_reference", req.OrderID)
	q.Set("payment_id", SandboxPaymentID(req.OrderID, "approved"))
	q.Set("status", "approved")
	sep := "?"
	if strings.Contains(target, "?") {
		sep = "&"
	}
	payload, _ := json.Marshal(map[string]any{"order": req.OrderID, "total": req.Total.StringFixed(2)})
	return Preference{
		ID:          "sbx-pref-" + req.OrderID,
		RedirectURL: target + sep + q.Encode(),
		Payload:     payload,
	}, nil
}

// GetPayment decodes the outcome from the id. The amount is left zero, which
// skips amount reconciliation.
func (Sandbox) GetPayment(_ context.Context, paymentID string) (PaymentInfo, error) {
	rest, ok := strings.CutPrefix(paymentID, "sbx-")
	if !ok {
		return PaymentInfo{}, ErrPaymentNotFound
	}
	status, orderID, ok := strings.Cut(rest, "-")
	if !ok || orderID == "" {
		return PaymentInfo{}, ErrPaymentNotFound
	}
	normalized := NormalizeStatus(status)
	payload, _ := json.Marshal(map[string]string{"id": paymentID, "status": status, "external_reference": orderID})
	return PaymentInfo{ID: paymentID, OrderID: orderID, Status: normalized, Payload: payload}, nil
}

// VerifyWebhook accepts {"data":{"id":"sbx-..."}} bodies, checking the HMAC when a secret is set.
func (s Sandbox) VerifyWebhook(r *http.Request, body []byte) (Notification, error) {
	if s.Secret != "" {
		if !common.EqualHex(common.HMACSHA256Hex(s.Secret, string(body)), strings.ToLower(r.Header.Get(SandboxSignatureHeader))) {
			return Notification{}, ErrInvalidSignature
		}
	}
	var n struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &n); err != nil {
		return Notification{}, fmt.Errorf("sandbox: decode notification: %w", err)
	}
	if n.Data.ID == "" {
		return Notification{}, ErrIgnoredNotification
	}
	return Notification{PaymentID: n.Data.ID}, nil
}

var _ Provider = Sandbox{}
var _ Provider = (*MercadoPago)(nil)
