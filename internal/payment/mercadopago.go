package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/noah-isme/backend-fotoko/internal/common"
	"github.com/noah-isme/backend-fotoko/internal/resilience"
)

const (
	mercadoPagoName    = "mercadopago"
	mercadoPagoBaseURL = "https://api.mercadopago.com"
)

var alphanumeric = regexp.MustCompile(`^[a-zA-Z0-9]+$`)

// MercadoPagoConfig configures the Checkout Pro adapter.
type MercadoPagoConfig struct {
	AccessToken   string
	WebhookSecret string
	BaseURL       string
	Timeout       time.Duration
	MaxAttempts   int
	// Client overrides the instrumented default transport, mostly for tests.
	Client resilience.Doer
	Log    zerolog.Logger
}

// MercadoPago creates Checkout Pro preferences and reads payments through the REST API.
type MercadoPago struct {
	token   string
	secret  string
	baseURL string
	http    resilience.HTTPClient
	log     zerolog.Logger
}

// NewMercadoPago builds the adapter with a breaker-guarded, retrying HTTP client.
func NewMercadoPago(cfg MercadoPagoConfig) *MercadoPago {
	client := cfg.Client
	if client == nil {
		client = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = mercadoPagoBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	breaker := resilience.NewBreaker(resilience.BreakerConfig{
		Target:         mercadoPagoName,
		MinRequests:    5,
		FailureRatio:   0.5,
		Window:         time.Minute,
		OpenFor:        30 * time.Second,
		HalfOpenTrials: 1,
		Log:            cfg.Log,
	})
	return &MercadoPago{
		token:   strings.TrimSpace(cfg.AccessToken),
		secret:  strings.TrimSpace(cfg.WebhookSecret),
		baseURL: base,
		log:     cfg.Log,
		http: resilience.HTTPClient{
			Client:      client,
			Breaker:     breaker,
			BaseBackoff: 200 * time.Millisecond,
			MaxAttempts: cfg.MaxAttempts,
			Jitter:      0.2,
			Timeout:     timeout,
		},
	}
}

// Name implements Provider.
func (m *MercadoPago) Name() string { return mercadoPagoName }

type mpItem struct {
	ID         string  `json:"id,omitempty"`
	Title      string  `json:"title"`
	Quantity   int     `json:"quantity"`
	UnitPrice  float64 `json:"unit_price"`
	CurrencyID string  `json:"currency_id,omitempty"`
}

type mpPreference struct {
	Items             []mpItem          `json:"items"`
	Payer             map[string]string `json:"payer,omitempty"`
	ExternalReference string            `json:"external_reference"`
	BackURLs          map[string]string `json:"back_urls,omitempty"`
	AutoReturn        string            `json:"auto_return,omitempty"`
	NotificationURL   string            `json:"notification_url,omitempty"`
}

type mpPreferenceResponse struct {
	ID               string `json:"id"`
	InitPoint        string `json:"init_point"`
	SandboxInitPoint string `json:"sandbox_init_point"`
}

// CreatePreference opens a Checkout Pro preference whose external reference is the order id.
func (m *MercadoPago) CreatePreference(ctx context.Context, req PreferenceRequest) (Preference, error) {
	if strings.TrimSpace(req.OrderID) == "" {
		return Preference{}, errors.New("mercadopago: order id is required")
	}
	body := mpPreference{
		ExternalReference: req.OrderID,
		NotificationURL:   req.NotificationURL,
	}
	for _, it := range req.Items {
		body.Items = append(body.Items, mpItem{
			ID:         it.ID,
			Title:      it.Title,
			Quantity:   it.Quantity,
			UnitPrice:  it.UnitPrice.Round(2).InexactFloat64(),
			CurrencyID: req.Currency,
		})
	}
	if len(body.Items) == 0 {
		body.Items = []mpItem{{Title: "Fotos", Quantity: 1, UnitPrice: req.Total.Round(2).InexactFloat64(), CurrencyID: req.Currency}}
	}
	if req.Email != "" {
		body.Payer = map[string]string{"email": req.Email}
	}
	if req.SuccessURL != "" || req.PendingURL != "" || req.FailureURL != "" {
		body.BackURLs = map[string]string{"success": req.SuccessURL, "pending": req.PendingURL, "failure": req.FailureURL}
		if req.SuccessURL != "" {
			body.AutoReturn = "approved"
		}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return Preference{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/checkout/preferences", bytes.NewReader(payload))
	if err != nil {
		return Preference{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	// One key per order keeps retried attempts from opening duplicate preferences.
	httpReq.Header.Set("X-Idempotency-Key", "pref-"+req.OrderID+"-"+common.Sha256Hex(string(payload))[:16])

	raw, err := m.do(ctx, httpReq)
	if err != nil {
		return Preference{}, err
	}
	var resp mpPreferenceResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return Preference{}, fmt.Errorf("mercadopago: decode preference: %w", err)
	}
	redirect := resp.InitPoint
	if redirect == "" || (strings.HasPrefix(m.token, "TEST-") && resp.SandboxInitPoint != "") {
		redirect = resp.SandboxInitPoint
	}
	if resp.ID == "" || redirect == "" {
		return Preference{}, errors.New("mercadopago: preference response missing id or init point")
	}
	return Preference{ID: resp.ID, RedirectURL: redirect, Payload: raw}, nil
}

type mpPayment struct {
	ID                flexID          `json:"id"`
	Status            string          `json:"status"`
	ExternalReference string          `json:"external_reference"`
	TransactionAmount decimal.Decimal `json:"transaction_amount"`
}

// GetPayment fetches the current state of a payment.
func (m *MercadoPago) GetPayment(ctx context.Context, paymentID string) (PaymentInfo, error) {
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return PaymentInfo{}, ErrPaymentNotFound
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, m.baseURL+"/v1/payments/"+url.PathEscape(paymentID), nil)
	if err != nil {
		return PaymentInfo{}, err
	}
	raw, err := m.do(ctx, httpReq)
	if err != nil {
		return PaymentInfo{}, err
	}
	var p mpPayment
	if err := json.Unmarshal(raw, &p); err != nil {
		return PaymentInfo{}, fmt.Errorf("mercadopago: decode payment: %w", err)
	}
	return PaymentInfo{
		ID:      string(p.ID),
		OrderID: p.ExternalReference,
		Status:  NormalizeStatus(p.Status),
		Amount:  p.TransactionAmount,
		Payload: raw,
	}, nil
}

func (m *MercadoPago) do(ctx context.Context, req *http.Request) ([]byte, error) {
	req.Header.Set("Authorization", "Bearer "+m.token)
	req.Header.Set("Accept", "application/json")
	resp, err := m.http.Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("mercadopago: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("mercadopago: read response: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrPaymentNotFound
	case resp.StatusCode >= 300:
		m.log.Warn().Int("status", resp.StatusCode).Str("path", req.URL.Path).Msg("mercadopago_request_rejected")
		return nil, fmt.Errorf("mercadopago: %s %s returned %d", req.Method, req.URL.Path, resp.StatusCode)
	}
	return raw, nil
}

type mpNotification struct {
	Type   string `json:"type"`
	Topic  string `json:"topic"`
	Action string `json:"action"`
	Data   struct {
		ID flexID `json:"id"`
	} `json:"data"`
}

// VerifyWebhook authenticates a notification through its x-signature header:
// HMAC-SHA256 over "id:<data.id>;request-id:<x-request-id>;ts:<ts>;".
// Without a configured secret the signature is not checked; the payment state
// is always re-read from the API, so an unsigned notification can only
// trigger a lookup.
func (m *MercadoPago) VerifyWebhook(r *http.Request, body []byte) (Notification, error) {
	var n mpNotification
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &n); err != nil {
			return Notification{}, fmt.Errorf("mercadopago: decode notification: %w", err)
		}
	}
	query := r.URL.Query()
	topic := firstNonEmpty(query.Get("type"), query.Get("topic"), n.Type, n.Topic)
	dataID := firstNonEmpty(query.Get("data.id"), string(n.Data.ID))
	if dataID == "" && topic == "payment" {
		dataID = query.Get("id")
	}
	if alphanumeric.MatchString(dataID) {
		dataID = strings.ToLower(dataID)
	}

	if m.secret != "" {
		ts, v1 := parseSignatureHeader(r.Header.Get("x-signature"))
		if ts == "" || v1 == "" {
			return Notification{}, ErrInvalidSignature
		}
		manifest := fmt.Sprintf("id:%s;request-id:%s;ts:%s;", dataID, r.Header.Get("x-request-id"), ts)
		if !common.EqualHex(common.HMACSHA256Hex(m.secret, manifest), strings.ToLower(v1)) {
			return Notification{}, ErrInvalidSignature
		}
	}
	if topic != "payment" || dataID == "" {
		return Notification{}, ErrIgnoredNotification
	}
	return Notification{PaymentID: dataID}, nil
}

// flexID accepts identifiers sent either as JSON strings or numbers.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}

func parseSignatureHeader(header string) (ts, v1 string) {
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "ts":
			ts = strings.TrimSpace(value)
		case "v1":
			v1 = strings.TrimSpace(value)
		}
	}
	return ts, v1
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
