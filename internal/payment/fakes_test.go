package payment

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/noah-isme/backend-fotoko/internal/coupon"
	"github.com/noah-isme/backend-fotoko/internal/db"
)

type memStore struct {
	mu       sync.Mutex
	orders   map[pgtype.UUID]db.Order
	items    map[pgtype.UUID][]db.OrderItem
	payments []db.Payment
}

func newMemStore() *memStore {
	return &memStore{orders: map[pgtype.UUID]db.Order{}, items: map[pgtype.UUID][]db.OrderItem{}}
}

func newID() pgtype.UUID {
	return pgtype.UUID{Bytes: uuid.New(), Valid: true}
}

func (m *memStore) addOrder(o db.Order, items ...db.OrderItem) db.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !o.ID.Valid {
		o.ID = newID()
	}
	if o.Status == "" {
		o.Status = db.OrderStatusPendingPayment
	}
	o.CreatedAt = pgtype.Timestamptz{Time: time.Now(), Valid: true}
	m.orders[o.ID] = o
	m.items[o.ID] = items
	return o
}

func (m *memStore) order(id pgtype.UUID) db.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.orders[id]
}

func (m *memStore) GetOrderByID(_ context.Context, id pgtype.UUID) (db.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return db.Order{}, pgx.ErrNoRows
	}
	return o, nil
}

func (m *memStore) GetOrderByIDForUpdate(ctx context.Context, id pgtype.UUID) (db.Order, error) {
	return m.GetOrderByID(ctx, id)
}

func (m *memStore) ListOrderItems(_ context.Context, id pgtype.UUID) ([]db.OrderItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items[id], nil
}

func (m *memStore) UpdateOrderStatus(_ context.Context, arg db.UpdateOrderStatusParams) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o := m.orders[arg.ID]
	o.Status = arg.Status
	m.orders[arg.ID] = o
	return nil
}

func (m *memStore) CreatePayment(_ context.Context, arg db.CreatePaymentParams) (db.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := db.Payment{
		ID:              newID(),
		OrderID:         arg.OrderID,
		Provider:        arg.Provider,
		ProviderRef:     arg.ProviderRef,
		Status:          arg.Status,
		RedirectUrl:     arg.RedirectUrl,
		AmountMinor:     arg.AmountMinor,
		ProviderPayload: arg.ProviderPayload,
	}
	m.payments = append(m.payments, p)
	return p, nil
}

func (m *memStore) GetLatestPaymentByOrder(_ context.Context, orderID pgtype.UUID) (db.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.payments) - 1; i >= 0; i-- {
		if m.payments[i].OrderID == orderID {
			return m.payments[i], nil
		}
	}
	return db.Payment{}, pgx.ErrNoRows
}

func (m *memStore) UpdatePaymentStatus(_ context.Context, arg db.UpdatePaymentStatusParams) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.payments {
		if m.payments[i].ID == arg.ID {
			m.payments[i].Status = arg.Status
			if arg.ProviderRef != "" {
				m.payments[i].ProviderRef = arg.ProviderRef
			}
		}
	}
	return nil
}

func (m *memStore) GetCouponByCodeForUpdate(context.Context, string) (db.Coupon, error) {
	return db.Coupon{}, pgx.ErrNoRows
}

func (m *memStore) InsertCouponUsage(context.Context, db.InsertCouponUsageParams) (int64, error) {
	return 0, nil
}

func (m *memStore) IncrementCouponUsage(context.Context, pgtype.UUID) error { return nil }

type settleCall struct {
	Code   string
	Order  pgtype.UUID
	Amount int64
}

type fakeSettler struct {
	mu    sync.Mutex
	calls []settleCall
}

func (f *fakeSettler) Settle(_ context.Context, _ coupon.SettleQuerier, code string, orderID, _ pgtype.UUID, amount int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, settleCall{Code: code, Order: orderID, Amount: amount})
	return nil
}

type fakeDelivery struct {
	mu     sync.Mutex
	orders []string
	err    error
}

func (f *fakeDelivery) EnqueueDelivery(_ context.Context, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.orders = append(f.orders, orderID)
	return nil
}
