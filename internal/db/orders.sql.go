package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const orderColumns = `id, user_id, session_id, email, status, currency, item_count, raw_total_minor, tier_savings_minor,
    coupon_discount_minor, total_minor, coupon_code, delivered_at, created_at, updated_at`

func orderFields(i *Order) []any {
	return []any{
		&i.ID, &i.UserID, &i.SessionID, &i.Email, &i.Status, &i.Currency, &i.ItemCount,
		&i.RawTotalMinor, &i.TierSavingsMinor, &i.CouponDiscountMinor, &i.TotalMinor,
		&i.CouponCode, &i.DeliveredAt, &i.CreatedAt, &i.UpdatedAt,
	}
}

const createOrder = `INSERT INTO orders (user_id, session_id, email, status, currency, item_count, raw_total_minor,
    tier_savings_minor, coupon_discount_minor, total_minor, coupon_code)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
RETURNING ` + orderColumns

type CreateOrderParams struct {
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
}

func (q *Queries) CreateOrder(ctx context.Context, arg CreateOrderParams) (Order, error) {
	var i Order
	err := q.db.QueryRow(ctx, createOrder,
		arg.UserID, arg.SessionID, arg.Email, arg.Status, arg.Currency, arg.ItemCount,
		arg.RawTotalMinor, arg.TierSavingsMinor, arg.CouponDiscountMinor, arg.TotalMinor, arg.CouponCode,
	).Scan(orderFields(&i)...)
	return i, err
}

const createOrderItem = `INSERT INTO order_items (order_id, photo_id, event_id, event_name, url, price_minor)
VALUES ($1, $2, $3, $4, $5, $6)`

type CreateOrderItemParams struct {
	OrderID    pgtype.UUID
	PhotoID    int64
	EventID    int64
	EventName  string
	Url        string
	PriceMinor int64
}

func (q *Queries) CreateOrderItem(ctx context.Context, arg CreateOrderItemParams) error {
	_, err := q.db.Exec(ctx, createOrderItem, arg.OrderID, arg.PhotoID, arg.EventID, arg.EventName, arg.Url, arg.PriceMinor)
	return err
}

const getOrderByID = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

func (q *Queries) GetOrderByID(ctx context.Context, id pgtype.UUID) (Order, error) {
	var i Order
	err := q.db.QueryRow(ctx, getOrderByID, id).Scan(orderFields(&i)...)
	return i, err
}

const getOrderByIDForUpdate = getOrderByID + ` FOR UPDATE`

func (q *Queries) GetOrderByIDForUpdate(ctx context.Context, id pgtype.UUID) (Order, error) {
	var i Order
	err := q.db.QueryRow(ctx, getOrderByIDForUpdate, id).Scan(orderFields(&i)...)
	return i, err
}

const listOrdersByUser = `SELECT ` + orderColumns + ` FROM orders WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`

type ListOrdersByUserParams struct {
	UserID pgtype.UUID
	Limit  int32
	Offset int32
}

func (q *Queries) ListOrdersByUser(ctx context.Context, arg ListOrdersByUserParams) ([]Order, error) {
	rows, err := q.db.Query(ctx, listOrdersByUser, arg.UserID, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Order
	for rows.Next() {
		var i Order
		if err := rows.Scan(orderFields(&i)...); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

const countOrdersByUser = `SELECT count(*) FROM orders WHERE user_id = $1`

func (q *Queries) CountOrdersByUser(ctx context.Context, userID pgtype.UUID) (int64, error) {
	var count int64
	err := q.db.QueryRow(ctx, countOrdersByUser, userID).Scan(&count)
	return count, err
}

const listOrders = `SELECT ` + orderColumns + ` FROM orders WHERE ($1::text = '' OR status = $1) ORDER BY created_at DESC LIMIT $2 OFFSET $3`

type ListOrdersParams struct {
	Status string
	Limit  int32
	Offset int32
}

func (q *Queries) ListOrders(ctx context.Context, arg ListOrdersParams) ([]Order, error) {
	rows, err := q.db.Query(ctx, listOrders, arg.Status, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Order
	for rows.Next() {
		var i Order
		if err := rows.Scan(orderFields(&i)...); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

const countOrders = `SELECT count(*) FROM orders WHERE ($1::text = '' OR status = $1)`

func (q *Queries) CountOrders(ctx context.Context, status string) (int64, error) {
	var count int64
	err := q.db.QueryRow(ctx, countOrders, status).Scan(&count)
	return count, err
}

const listOrderItems = `SELECT id, order_id, photo_id, event_id, event_name, url, price_minor
FROM order_items WHERE order_id = $1 ORDER BY photo_id`

func (q *Queries) ListOrderItems(ctx context.Context, orderID pgtype.UUID) ([]OrderItem, error) {
	rows, err := q.db.Query(ctx, listOrderItems, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []OrderItem
	for rows.Next() {
		var i OrderItem
		if err := rows.Scan(&i.ID, &i.OrderID, &i.PhotoID, &i.EventID, &i.EventName, &i.Url, &i.PriceMinor); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

const updateOrderStatus = `UPDATE orders SET status = $2, updated_at = now() WHERE id = $1`

type UpdateOrderStatusParams struct {
	ID     pgtype.UUID
	Status string
}

func (q *Queries) UpdateOrderStatus(ctx context.Context, arg UpdateOrderStatusParams) error {
	_, err := q.db.Exec(ctx, updateOrderStatus, arg.ID, arg.Status)
	return err
}

const markOrderDelivered = `UPDATE orders SET delivered_at = now(), updated_at = now() WHERE id = $1 AND delivered_at IS NULL`

// MarkOrderDelivered reports zero rows when the order was already delivered.
func (q *Queries) MarkOrderDelivered(ctx context.Context, id pgtype.UUID) (int64, error) {
	tag, err := q.db.Exec(ctx, markOrderDelivered, id)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
