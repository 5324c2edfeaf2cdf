package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const paymentColumns = `id, order_id, provider, provider_ref, status, redirect_url, amount_minor, provider_payload, created_at, updated_at`

func paymentFields(i *Payment) []any {
	return []any{
		&i.ID, &i.OrderID, &i.Provider, &i.ProviderRef, &i.Status, &i.RedirectUrl,
		&i.AmountMinor, &i.ProviderPayload, &i.CreatedAt, &i.UpdatedAt,
	}
}

const createPayment = `INSERT INTO payments (order_id, provider, provider_ref, status, redirect_url, amount_minor, provider_payload)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING ` + paymentColumns

type CreatePaymentParams struct {
	OrderID         pgtype.UUID
	Provider        string
	ProviderRef     string
	Status          string
	RedirectUrl     string
	AmountMinor     int64
	ProviderPayload []byte
}

func (q *Queries) CreatePayment(ctx context.Context, arg CreatePaymentParams) (Payment, error) {
	var i Payment
	err := q.db.QueryRow(ctx, createPayment,
		arg.OrderID, arg.Provider, arg.ProviderRef, arg.Status, arg.RedirectUrl, arg.AmountMinor, arg.ProviderPayload,
	).Scan(paymentFields(&i)...)
	return i, err
}

const getLatestPaymentByOrder = `SELECT ` + paymentColumns + ` FROM payments WHERE order_id = $1 ORDER BY created_at DESC LIMIT 1`

func (q *Queries) GetLatestPaymentByOrder(ctx context.Context, orderID pgtype.UUID) (Payment, error) {
	var i Payment
	err := q.db.QueryRow(ctx, getLatestPaymentByOrder, orderID).Scan(paymentFields(&i)...)
	return i, err
}

const updatePaymentStatus = `UPDATE payments SET
    status = $2,
    provider_ref = COALESCE(NULLIF($3::text, ''), provider_ref),
    provider_payload = COALESCE($4, provider_payload),
    updated_at = now()
WHERE id = $1`

type UpdatePaymentStatusParams struct {
	ID              pgtype.UUID
	Status          string
	ProviderRef     string
	ProviderPayload []byte
}

func (q *Queries) UpdatePaymentStatus(ctx context.Context, arg UpdatePaymentStatusParams) error {
	_, err := q.db.Exec(ctx, updatePaymentStatus, arg.ID, arg.Status, arg.ProviderRef, arg.ProviderPayload)
	return err
}
