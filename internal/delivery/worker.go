package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-fotoko/internal/common"
	"github.com/noah-isme/backend-fotoko/internal/db"
	"github.com/noah-isme/backend-fotoko/internal/obs"
	"github.com/noah-isme/backend-fotoko/internal/pricing"
)

// ErrNotPaid is returned when delivery is attempted for an unpaid order.
var ErrNotPaid = errors.New("delivery: order is not paid")

// Querier is the subset of db.Queries used by the worker.
type Querier interface {
	GetOrderByIDForUpdate(ctx context.Context, id pgtype.UUID) (db.Order, error)
	ListOrderItems(ctx context.Context, orderID pgtype.UUID) ([]db.OrderItem, error)
	MarkOrderDelivered(ctx context.Context, id pgtype.UUID) (int64, error)
}

// TxFunc runs fn inside a transaction.
type TxFunc func(ctx context.Context, fn func(q Querier) error) error

// PoolTx adapts a pgx pool into a TxFunc.
func PoolTx(pool db.TxBeginner) TxFunc {
	return func(ctx context.Context, fn func(q Querier) error) error {
		return db.InTx(ctx, pool, func(q *db.Queries) error { return fn(q) })
	}
}

// Worker emails buyers the download links of a paid order.
type Worker struct {
	Q    Querier
	Tx   TxFunc
	Mail common.EmailSender
	Log  zerolog.Logger
}

// ProcessTask implements asynq.Handler.
func (w *Worker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var p Payload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
	}
	err := w.Deliver(ctx, p.OrderID)
	if errors.Is(err, ErrNotPaid) {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return err
}

// Deliver sends the delivery email once per order. The order row stays
// locked while the mail goes out and delivered_at is set in the same
// transaction, so a retried task after success is a no-op.
func (w *Worker) Deliver(ctx context.Context, orderID string) error {
	if w == nil || w.Q == nil || w.Mail == nil {
		return errors.New("delivery worker not configured")
	}
	oid, err := db.ParseUUID(orderID)
	if err != nil {
		obs.Inc(obs.DeliveryTotal, "invalid")
		return fmt.Errorf("invalid order id %q: %w", orderID, asynq.SkipRetry)
	}
	result := "error"
	defer func() { obs.Inc(obs.DeliveryTotal, result) }()

	run := w.Tx
	if run == nil {
		run = func(ctx context.Context, fn func(q Querier) error) error { return fn(w.Q) }
	}
	err = run(ctx, func(q Querier) error {
		o, err := q.GetOrderByIDForUpdate(ctx, oid)
		if errors.Is(err, pgx.ErrNoRows) {
			result = "missing"
			return fmt.Errorf("order %s not found: %w", orderID, asynq.SkipRetry)
		}
		if err != nil {
			return fmt.Errorf("lock order: %w", err)
		}
		if o.DeliveredAt.Valid {
			result = "already_delivered"
			return nil
		}
		if o.Status != db.OrderStatusPaid {
			result = "not_paid"
			return ErrNotPaid
		}
		items, err := q.ListOrderItems(ctx, o.ID)
		if err != nil {
			return fmt.Errorf("list items: %w", err)
		}
		subject, body, err := render(o, items)
		if err != nil {
			return err
		}
		if err := w.Mail.Send(o.Email, subject, body); err != nil {
			return fmt.Errorf("send mail: %w", err)
		}
		if _, err := q.MarkOrderDelivered(ctx, o.ID); err != nil {
			return fmt.Errorf("mark delivered: %w", err)
		}
		result = "sent"
		w.Log.Info().Str("order_id", orderID).Int("photos", len(items)).Msg("order_delivered")
		return nil
	})
	return err
}

var mailTemplate = template.Must(template.New("delivery").Parse(`<h1>Your photos are ready</h1>
<p>Order {{.OrderID}} &middot; {{.Count}} photo(s) &middot; {{.Total}} {{.Currency}}</p>
<ul>
{{range .Items}}<li><a href="{{.URL}}">{{.EventName}} #{{.PhotoID}}</a></li>
{{end}}</ul>
`))

type mailItem struct {
	URL       string
	EventName string
	PhotoID   int64
}

func render(o db.Order, items []db.OrderItem) (string, string, error) {
	data := struct {
		OrderID  string
		Count    int
		Total    string
		Currency string
		Items    []mailItem
	}{
		OrderID:  db.UUIDString(o.ID),
		Count:    len(items),
		Total:    pricing.FromMinor(o.TotalMinor).StringFixed(2),
		Currency: o.Currency,
	}
	for _, it := range items {
		data.Items = append(data.Items, mailItem{URL: it.Url, EventName: it.EventName, PhotoID: it.PhotoID})
	}
	var buf bytes.Buffer
	if err := mailTemplate.Execute(&buf, data); err != nil {
		return "", "", fmt.Errorf("render mail: %w", err)
	}
	return "Your photos are ready", buf.String(), nil
}
