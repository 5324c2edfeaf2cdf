package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const couponColumns = `id, code, kind, percent_bps, amount_minor, free_photos, starts_at, ends_at, usage_limit, used_count, active, created_at, updated_at`

func couponFields(i *Coupon) []any {
	return []any{
		&i.ID, &i.Code, &i.Kind, &i.PercentBps, &i.AmountMinor, &i.FreePhotos,
		&i.StartsAt, &i.EndsAt, &i.UsageLimit, &i.UsedCount, &i.Active, &i.CreatedAt, &i.UpdatedAt,
	}
}

const getCouponByCode = `SELECT ` + couponColumns + ` FROM coupons WHERE code = $1`

func (q *Queries) GetCouponByCode(ctx context.Context, code string) (Coupon, error) {
	var i Coupon
	err := q.db.QueryRow(ctx, getCouponByCode, code).Scan(couponFields(&i)...)
	return i, err
}

const getCouponByCodeForUpdate = getCouponByCode + ` FOR UPDATE`

func (q *Queries) GetCouponByCodeForUpdate(ctx context.Context, code string) (Coupon, error) {
	var i Coupon
	err := q.db.QueryRow(ctx, getCouponByCodeForUpdate, code).Scan(couponFields(&i)...)
	return i, err
}

const listCoupons = `SELECT ` + couponColumns + ` FROM coupons ORDER BY created_at DESC LIMIT $1 OFFSET $2`

type ListCouponsParams struct {
	Limit  int32
	Offset int32
}

func (q *Queries) ListCoupons(ctx context.Context, arg ListCouponsParams) ([]Coupon, error) {
	rows, err := q.db.Query(ctx, listCoupons, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Coupon
	for rows.Next() {
		var i Coupon
		if err := rows.Scan(couponFields(&i)...); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

const createCoupon = `INSERT INTO coupons (code, kind, percent_bps, amount_minor, free_photos, starts_at, ends_at, usage_limit, active)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING ` + couponColumns

type CreateCouponParams struct {
	Code        string
	Kind        string
	PercentBps  int32
	AmountMinor int64
	FreePhotos  int32
	StartsAt    pgtype.Timestamptz
	EndsAt      pgtype.Timestamptz
	UsageLimit  pgtype.Int4
	Active      bool
}

func (q *Queries) CreateCoupon(ctx context.Context, arg CreateCouponParams) (Coupon, error) {
	var i Coupon
	err := q.db.QueryRow(ctx, createCoupon,
		arg.Code, arg.Kind, arg.PercentBps, arg.AmountMinor, arg.FreePhotos,
		arg.StartsAt, arg.EndsAt, arg.UsageLimit, arg.Active,
	).Scan(couponFields(&i)...)
	return i, err
}

const updateCoupon = `UPDATE coupons SET
    kind = $2, percent_bps = $3, amount_minor = $4, free_photos = $5,
    starts_at = $6, ends_at = $7, usage_limit = $8, active = $9, updated_at = now()
WHERE id = $1
RETURNING ` + couponColumns

type UpdateCouponParams struct {
	ID          pgtype.UUID
	Kind        string
	PercentBps  int32
	AmountMinor int64
	FreePhotos  int32
	StartsAt    pgtype.Timestamptz
	EndsAt      pgtype.Timestamptz
	UsageLimit  pgtype.Int4
	Active      bool
}

func (q *Queries) UpdateCoupon(ctx context.Context, arg UpdateCouponParams) (Coupon, error) {
	var i Coupon
	err := q.db.QueryRow(ctx, updateCoupon,
		arg.ID, arg.Kind, arg.PercentBps, arg.AmountMinor, arg.FreePhotos,
		arg.StartsAt, arg.EndsAt, arg.UsageLimit, arg.Active,
	).Scan(couponFields(&i)...)
	return i, err
}

const insertCouponUsage = `INSERT INTO coupon_usages (coupon_id, order_id, user_id, amount_minor)
VALUES ($1, $2, $3, $4)
ON CONFLICT (coupon_id, order_id) DO NOTHING`

type InsertCouponUsageParams struct {
	CouponID    pgtype.UUID
	OrderID     pgtype.UUID
	UserID      pgtype.UUID
	AmountMinor int64
}

// InsertCouponUsage reports the number of rows written; zero means the usage was already recorded.
func (q *Queries) InsertCouponUsage(ctx context.Context, arg InsertCouponUsageParams) (int64, error) {
	tag, err := q.db.Exec(ctx, insertCouponUsage, arg.CouponID, arg.OrderID, arg.UserID, arg.AmountMinor)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const incrementCouponUsage = `UPDATE coupons SET used_count = used_count + 1, updated_at = now() WHERE id = $1`

func (q *Queries) IncrementCouponUsage(ctx context.Context, id pgtype.UUID) error {
	_, err := q.db.Exec(ctx, incrementCouponUsage, id)
	return err
}
