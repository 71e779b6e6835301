// Package inventory is the only writer of stock counters. Every method runs inside the caller's
// transaction and takes locks in the same order: order row (caller), reservation rows, then stock rows
// sorted by StockKey.
package inventory

import (
	"context"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ariefcatur/go-order-engine/internal/orders"
)

const (
	DefaultTTL = 30 * time.Minute

	ReasonExpired = "expired"
)

type Manager struct {
	TTL time.Duration
	Now func() time.Time
}

func NewManager(ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{TTL: ttl, Now: time.Now}
}

func (m *Manager) now() time.Time {
	if m.Now == nil {
		return time.Now().UTC()
	}
	return m.Now().UTC()
}

// sortedKeys returns the keys of demand in lock order.
func sortedKeys(demand map[orders.StockKey]int) []orders.StockKey {
	keys := make([]orders.StockKey, 0, len(demand))
	for k := range demand {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b orders.StockKey) int {
		switch {
		case a.Less(b):
			return -1
		case b.Less(a):
			return 1
		}
		return 0
	})
	return keys
}

// Reserve holds stock for every item of the order or for none of them. On a shortage it returns an
// INSUFFICIENT_STOCK error listing every short key, before any counter is touched.
func (m *Manager) Reserve(ctx context.Context, tx orders.Tx, orderID string, items []orders.OrderItem) ([]orders.Reservation, error) {
	demand := map[orders.StockKey]int{}
	for _, it := range items {
		demand[it.StockKey()] += it.Quantity
	}
	keys := sortedKeys(demand)

	var shortages []orders.Shortage
	for _, k := range keys {
		available, err := tx.LockStock(ctx, k)
		if err != nil {
			return nil, err
		}
		if available < demand[k] {
			shortages = append(shortages, orders.Shortage{Key: k, Requested: demand[k], Available: available})
		}
	}
	if len(shortages) > 0 {
		return nil, orders.InsufficientStock(shortages)
	}

	for _, k := range keys {
		if err := tx.AdjustStock(ctx, k, -demand[k]); err != nil {
			return nil, err
		}
	}

	now := m.now()
	out := make([]orders.Reservation, 0, len(items))
	for _, it := range items {
		r := orders.Reservation{
			ID:          uuid.NewString(),
			OrderID:     orderID,
			OrderItemID: it.ID,
			ProductID:   it.ProductID,
			VariantID:   it.VariantID,
			Quantity:    it.Quantity,
			Status:      orders.ReservationReserved,
			ReservedAt:  now,
			ExpiresAt:   now.Add(m.TTL),
		}
		if err := tx.InsertReservation(ctx, &r); err != nil {
			return nil, err
		}
		if err := tx.SetItemReservation(ctx, it.ID, true, now); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// Commit finalises the order's reservations. Stock is not touched; it was taken at reserve time.
// A reservation that is no longer held, or one past its expiry, fails the whole commit with
// RESERVATION_EXPIRED.
func (m *Manager) Commit(ctx context.Context, tx orders.Tx, orderID string) ([]orders.Reservation, error) {
	rs, err := tx.ListReservationsForUpdate(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if len(rs) == 0 {
		return nil, orders.StateError(orders.CodeReservationExpired, "order holds no reservations")
	}
	now := m.now()
	for _, r := range rs {
		if !orders.CanTransitionReservation(r.Status, orders.ReservationCommitted) {
			return nil, orders.StateError(orders.CodeReservationExpired, "reservation "+r.ID+" is "+string(r.Status))
		}
		if now.After(r.ExpiresAt) {
			return nil, orders.StateError(orders.CodeReservationExpired, "reservation "+r.ID+" passed its expiry")
		}
	}
	for i := range rs {
		rs[i].Status = orders.ReservationCommitted
		rs[i].CommittedAt = &now
		if err := tx.UpdateReservation(ctx, &rs[i]); err != nil {
			return nil, err
		}
	}
	return rs, nil
}

// Release returns every reserved (not committed, not expired) row of the order to stock.
func (m *Manager) Release(ctx context.Context, tx orders.Tx, orderID, reason string) (int, error) {
	return m.finish(ctx, tx, orderID, orders.ReservationReleased, reason, func(orders.Reservation) bool { return true })
}

// Expire moves reserved rows whose expiry is before now to expired and restores their stock.
func (m *Manager) Expire(ctx context.Context, tx orders.Tx, orderID string, now time.Time) (int, error) {
	return m.finish(ctx, tx, orderID, orders.ReservationExpired, ReasonExpired, func(r orders.Reservation) bool {
		return r.ExpiresAt.Before(now)
	})
}

func (m *Manager) finish(ctx context.Context, tx orders.Tx, orderID string, to orders.ReservationStatus, reason string, pick func(orders.Reservation) bool) (int, error) {
	rs, err := tx.ListReservationsForUpdate(ctx, orderID)
	if err != nil {
		return 0, err
	}
	var picked []int
	demand := map[orders.StockKey]int{}
	for i, r := range rs {
		if r.Status != orders.ReservationReserved || !pick(r) {
			continue
		}
		picked = append(picked, i)
		demand[r.StockKey()] += r.Quantity
	}
	if len(picked) == 0 {
		return 0, nil
	}
	if err := m.restock(ctx, tx, demand); err != nil {
		return 0, err
	}

	now := m.now()
	for _, i := range picked {
		r := &rs[i]
		r.Status = to
		r.ReleasedAt = &now
		r.ReleaseReason = reason
		if err := tx.UpdateReservation(ctx, r); err != nil {
			return 0, err
		}
		if err := tx.SetItemReservation(ctx, r.OrderItemID, false, now); err != nil {
			return 0, err
		}
	}
	return len(picked), nil
}

// ReturnCommitted gives the quantities of committed rows back to stock when a confirmed order is
// cancelled. The rows stay committed; the item's reservation flag records that the stock went back,
// so a second call returns nothing.
func (m *Manager) ReturnCommitted(ctx context.Context, tx orders.Tx, orderID string) (int, error) {
	rs, err := tx.ListReservationsForUpdate(ctx, orderID)
	if err != nil {
		return 0, err
	}
	items, err := tx.ListOrderItems(ctx, orderID)
	if err != nil {
		return 0, err
	}
	held := make(map[string]bool, len(items))
	for _, it := range items {
		held[it.ID] = it.InventoryReserved
	}

	var picked []orders.Reservation
	demand := map[orders.StockKey]int{}
	for _, r := range rs {
		if r.Status != orders.ReservationCommitted || !held[r.OrderItemID] {
			continue
		}
		picked = append(picked, r)
		demand[r.StockKey()] += r.Quantity
	}
	if len(picked) == 0 {
		return 0, nil
	}
	if err := m.restock(ctx, tx, demand); err != nil {
		return 0, err
	}
	now := m.now()
	for _, r := range picked {
		if err := tx.SetItemReservation(ctx, r.OrderItemID, false, now); err != nil {
			return 0, err
		}
	}
	return len(picked), nil
}

func (m *Manager) restock(ctx context.Context, tx orders.Tx, demand map[orders.StockKey]int) error {
	for _, k := range sortedKeys(demand) {
		if _, err := tx.LockStock(ctx, k); err != nil {
			return err
		}
		if err := tx.AdjustStock(ctx, k, demand[k]); err != nil {
			return err
		}
	}
	return nil
}

type SweepResult struct {
	Orders  int `json:"orders"`
	Expired int `json:"expired"`
	Failed  int `json:"failed"`
}

// SweepExpired expires stale reservations, one transaction per order. A failing order is logged and
// skipped; the next pass picks it up again.
func (m *Manager) SweepExpired(ctx context.Context, store orders.Store, limit int) (SweepResult, error) {
	now := m.now()
	var ids []string
	err := store.InTx(ctx, func(tx orders.Tx) error {
		var err error
		ids, err = tx.ListExpiredReservationOrders(ctx, now, limit)
		return err
	})
	if err != nil {
		return SweepResult{}, orders.Wrap(err, "list expired reservations")
	}

	var res SweepResult
	for _, id := range ids {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		var n int
		err := store.InTx(ctx, func(tx orders.Tx) error {
			if _, err := tx.GetOrderForUpdate(ctx, id); err != nil {
				return err
			}
			var err error
			n, err = m.Expire(ctx, tx, id, now)
			return err
		})
		if err != nil {
			res.Failed++
			logrus.WithFields(logrus.Fields{"component": "inventory", "order_id": id}).WithError(err).Warn("expire reservations failed")
			continue
		}
		res.Orders++
		res.Expired += n
	}
	return res, nil
}
