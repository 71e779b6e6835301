package memstore

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/ariefcatur/go-order-engine/internal/orders"
)

type tx struct {
	store *Store
	st    *state
	locks []orders.StockKey
}

var _ orders.Tx = (*tx)(nil)

func (t *tx) InsertOrder(_ context.Context, o *orders.Order) error {
	if err := t.store.fail("InsertOrder"); err != nil {
		return err
	}
	if _, ok := t.st.orders[o.ID]; ok {
		return orders.Duplicate("order id already exists", nil)
	}
	if _, ok := t.st.orderNumbers[o.OrderNumber]; ok {
		return orders.Duplicate("order number already exists", nil)
	}
	if o.ExternalID != "" {
		if _, ok := t.st.byExternal[o.ExternalID]; ok {
			return orders.Duplicate("external id already exists", nil)
		}
		t.st.byExternal[o.ExternalID] = o.ID
	}
	t.st.orderNumbers[o.OrderNumber] = o.ID
	t.st.orders[o.ID] = *o
	return nil
}

func (t *tx) GetOrder(_ context.Context, id string) (*orders.Order, error) {
	if err := t.store.fail("GetOrder"); err != nil {
		return nil, err
	}
	o, ok := t.st.orders[id]
	if !ok {
		return nil, orders.NotFound("order", id)
	}
	return &o, nil
}

func (t *tx) GetOrderForUpdate(ctx context.Context, id string) (*orders.Order, error) {
	if err := t.store.fail("GetOrderForUpdate"); err != nil {
		return nil, err
	}
	return t.GetOrder(ctx, id)
}

func (t *tx) GetOrderByExternalID(ctx context.Context, externalID string) (*orders.Order, error) {
	id, ok := t.st.byExternal[externalID]
	if !ok {
		return nil, orders.NotFound("order with external id", externalID)
	}
	return t.GetOrder(ctx, id)
}

func (t *tx) UpdateOrder(_ context.Context, o *orders.Order) error {
	if err := t.store.fail("UpdateOrder"); err != nil {
		return err
	}
	if _, ok := t.st.orders[o.ID]; !ok {
		return orders.NotFound("order", o.ID)
	}
	t.st.orders[o.ID] = *o
	return nil
}

func (t *tx) InsertOrderItems(_ context.Context, items []orders.OrderItem) error {
	if err := t.store.fail("InsertOrderItems"); err != nil {
		return err
	}
	for _, it := range items {
		if _, ok := t.st.orders[it.OrderID]; !ok {
			return fmt.Errorf("order item %s: unknown order %s", it.ID, it.OrderID)
		}
		t.st.items[it.OrderID] = append(t.st.items[it.OrderID], it)
	}
	return nil
}

func (t *tx) ListOrderItems(_ context.Context, orderID string) ([]orders.OrderItem, error) {
	return slices.Clone(t.st.items[orderID]), nil
}

func (t *tx) SetItemReservation(_ context.Context, itemID string, reserved bool, at time.Time) error {
	if err := t.store.fail("SetItemReservation"); err != nil {
		return err
	}
	for oid, items := range t.st.items {
		for i := range items {
			if items[i].ID != itemID {
				continue
			}
			items[i].InventoryReserved = reserved
			if reserved {
				items[i].ReservedAt = &at
			} else {
				items[i].ReleasedAt = &at
			}
			t.st.items[oid] = items
			return nil
		}
	}
	return orders.NotFound("order item", itemID)
}

func (t *tx) LockStock(_ context.Context, key orders.StockKey) (int, error) {
	if err := t.store.fail("LockStock"); err != nil {
		return 0, err
	}
	n, ok := t.st.stock[key]
	if !ok {
		return 0, orders.NotFound("stock", key.String())
	}
	t.locks = append(t.locks, key)
	return n, nil
}

func (t *tx) AdjustStock(_ context.Context, key orders.StockKey, delta int) error {
	if err := t.store.fail("AdjustStock"); err != nil {
		return err
	}
	n, ok := t.st.stock[key]
	if !ok {
		return orders.NotFound("stock", key.String())
	}
	if n+delta < 0 {
		return orders.InsufficientStock([]orders.Shortage{{Key: key, Requested: -delta, Available: n}})
	}
	t.st.stock[key] = n + delta
	return nil
}

func (t *tx) InsertReservation(_ context.Context, r *orders.Reservation) error {
	if err := t.store.fail("InsertReservation"); err != nil {
		return err
	}
	t.st.reservations[r.OrderID] = append(t.st.reservations[r.OrderID], *r)
	return nil
}

func (t *tx) ListReservations(_ context.Context, orderID string) ([]orders.Reservation, error) {
	return slices.Clone(t.st.reservations[orderID]), nil
}

func (t *tx) ListReservationsForUpdate(ctx context.Context, orderID string) ([]orders.Reservation, error) {
	if err := t.store.fail("ListReservationsForUpdate"); err != nil {
		return nil, err
	}
	return t.ListReservations(ctx, orderID)
}

func (t *tx) UpdateReservation(_ context.Context, r *orders.Reservation) error {
	if err := t.store.fail("UpdateReservation"); err != nil {
		return err
	}
	rs := t.st.reservations[r.OrderID]
	for i := range rs {
		if rs[i].ID == r.ID {
			rs[i] = *r
			return nil
		}
	}
	return orders.NotFound("reservation", r.ID)
}

func (t *tx) ListExpiredReservationOrders(_ context.Context, now time.Time, limit int) ([]string, error) {
	var ids []string
	for oid, rs := range t.st.reservations {
		for _, r := range rs {
			if r.Status == orders.ReservationReserved && r.ExpiresAt.Before(now) {
				ids = append(ids, oid)
				break
			}
		}
	}
	slices.Sort(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (t *tx) InsertHistory(_ context.Context, h *orders.StateHistory) error {
	if err := t.store.fail("InsertHistory"); err != nil {
		return err
	}
	t.st.history = append(t.st.history, *h)
	return nil
}

func (t *tx) ListHistory(_ context.Context, orderID string) ([]orders.StateHistory, error) {
	var out []orders.StateHistory
	for _, h := range t.st.history {
		if h.OrderID == orderID {
			out = append(out, h)
		}
	}
	return out, nil
}

func (t *tx) InsertQueueItem(_ context.Context, q *orders.QueueItem) error {
	if err := t.store.fail("InsertQueueItem"); err != nil {
		return err
	}
	t.st.queue = append(t.st.queue, *q)
	return nil
}

func (t *tx) ClaimQueueItems(_ context.Context, categories []orders.QueueCategory, now time.Time, limit int) ([]orders.QueueItem, error) {
	if err := t.store.fail("ClaimQueueItems"); err != nil {
		return nil, err
	}
	var due []orders.QueueItem
	for _, q := range t.st.queue {
		if q.Status != orders.QueuePending && q.Status != orders.QueueRetry {
			continue
		}
		if q.ScheduledAt.After(now) {
			continue
		}
		if len(categories) > 0 && !slices.Contains(categories, q.Category) {
			continue
		}
		due = append(due, q)
	}
	slices.SortStableFunc(due, func(a, b orders.QueueItem) int {
		if c := cmp.Compare(a.Priority, b.Priority); c != 0 {
			return c
		}
		return a.ScheduledAt.Compare(b.ScheduledAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (t *tx) GetQueueItemForUpdate(_ context.Context, id string) (*orders.QueueItem, error) {
	for _, q := range t.st.queue {
		if q.ID == id {
			return &q, nil
		}
	}
	return nil, orders.NotFound("queue item", id)
}

func (t *tx) UpdateQueueItem(_ context.Context, q *orders.QueueItem) error {
	if err := t.store.fail("UpdateQueueItem"); err != nil {
		return err
	}
	for i := range t.st.queue {
		if t.st.queue[i].ID == q.ID {
			t.st.queue[i] = *q
			return nil
		}
	}
	return orders.NotFound("queue item", q.ID)
}

func (t *tx) ListQueueItems(_ context.Context, orderID string) ([]orders.QueueItem, error) {
	var out []orders.QueueItem
	for _, q := range t.st.queue {
		if orderID == "" || q.OrderID == orderID {
			out = append(out, q)
		}
	}
	return out, nil
}

func (t *tx) InsertMetric(_ context.Context, m *orders.Metric) error {
	if err := t.store.fail("InsertMetric"); err != nil {
		return err
	}
	if _, ok := t.st.metrics[m.OrderID]; ok {
		return orders.Duplicate("metrics row already exists", nil)
	}
	t.st.metrics[m.OrderID] = *m
	return nil
}

func (t *tx) AddMetric(_ context.Context, orderID string, d orders.MetricDelta, at time.Time) error {
	if err := t.store.fail("AddMetric"); err != nil {
		return err
	}
	m, ok := t.st.metrics[orderID]
	if !ok {
		m = orders.Metric{OrderID: orderID, CreatedAt: at}
	}
	m.Apply(d)
	m.UpdatedAt = at
	t.st.metrics[orderID] = m
	return nil
}

func (t *tx) GetMetric(_ context.Context, orderID string) (*orders.Metric, error) {
	m, ok := t.st.metrics[orderID]
	if !ok {
		return nil, orders.NotFound("metrics for order", orderID)
	}
	return &m, nil
}

func (t *tx) InsertError(_ context.Context, e *orders.OrderError) error {
	if err := t.store.fail("InsertError"); err != nil {
		return err
	}
	t.st.errors = append(t.st.errors, *e)
	return nil
}

func (t *tx) ListErrors(_ context.Context, f orders.ErrorFilter) ([]orders.OrderError, error) {
	var out []orders.OrderError
	for _, e := range t.st.errors {
		if f.OrderID != "" && e.OrderID != f.OrderID {
			continue
		}
		if f.UnresolvedOnly && e.Resolved {
			continue
		}
		out = append(out, e)
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (t *tx) GetErrorForUpdate(_ context.Context, id string) (*orders.OrderError, error) {
	for _, e := range t.st.errors {
		if e.ID == id {
			return &e, nil
		}
	}
	return nil, orders.NotFound("error", id)
}

func (t *tx) UpdateError(_ context.Context, e *orders.OrderError) error {
	for i := range t.st.errors {
		if t.st.errors[i].ID == e.ID {
			t.st.errors[i] = *e
			return nil
		}
	}
	return orders.NotFound("error", e.ID)
}
