package orders

import (
	"context"
	"time"
)

// Store runs fn inside one transaction. Returning an error from fn rolls everything back.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the per-transaction view of the engine tables. The ForUpdate / Lock methods take row locks
// that are held until the transaction ends.
type Tx interface {
	InsertOrder(ctx context.Context, o *Order) error
	GetOrder(ctx context.Context, id string) (*Order, error)
	GetOrderForUpdate(ctx context.Context, id string) (*Order, error)
	GetOrderByExternalID(ctx context.Context, externalID string) (*Order, error)
	UpdateOrder(ctx context.Context, o *Order) error

	InsertOrderItems(ctx context.Context, items []OrderItem) error
	ListOrderItems(ctx context.Context, orderID string) ([]OrderItem, error)
	SetItemReservation(ctx context.Context, itemID string, reserved bool, at time.Time) error

	// LockStock locks the counter behind key and returns its available quantity.
	LockStock(ctx context.Context, key StockKey) (int, error)
	AdjustStock(ctx context.Context, key StockKey, delta int) error

	InsertReservation(ctx context.Context, r *Reservation) error
	ListReservations(ctx context.Context, orderID string) ([]Reservation, error)
	ListReservationsForUpdate(ctx context.Context, orderID string) ([]Reservation, error)
	UpdateReservation(ctx context.Context, r *Reservation) error
	ListExpiredReservationOrders(ctx context.Context, now time.Time, limit int) ([]string, error)

	InsertHistory(ctx context.Context, h *StateHistory) error
	ListHistory(ctx context.Context, orderID string) ([]StateHistory, error)

	InsertQueueItem(ctx context.Context, q *QueueItem) error
	ClaimQueueItems(ctx context.Context, categories []QueueCategory, now time.Time, limit int) ([]QueueItem, error)
	GetQueueItemForUpdate(ctx context.Context, id string) (*QueueItem, error)
	UpdateQueueItem(ctx context.Context, q *QueueItem) error
	ListQueueItems(ctx context.Context, orderID string) ([]QueueItem, error)

	InsertMetric(ctx context.Context, m *Metric) error
	AddMetric(ctx context.Context, orderID string, d MetricDelta, at time.Time) error
	GetMetric(ctx context.Context, orderID string) (*Metric, error)

	InsertError(ctx context.Context, e *OrderError) error
	ListErrors(ctx context.Context, f ErrorFilter) ([]OrderError, error)
	GetErrorForUpdate(ctx context.Context, id string) (*OrderError, error)
	UpdateError(ctx context.Context, e *OrderError) error
}

type ErrorFilter struct {
	OrderID        string
	UnresolvedOnly bool
	Limit          int
}

// Catalog is the read-only product/customer view used by validation.
type Catalog interface {
	Customer(ctx context.Context, id string) (*Customer, error)
	Product(ctx context.Context, id string) (*Product, error)
	Variant(ctx context.Context, id string) (*Variant, error)
	Promo(ctx context.Context, code string) (*Promo, error)
	PendingOrderCount(ctx context.Context, customerID string) (int, error)
	DeliveredOrderCount(ctx context.Context, customerID string) (int, error)
}
