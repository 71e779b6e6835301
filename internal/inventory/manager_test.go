package inventory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-order-engine/internal/memstore"
	"github.com/ariefcatur/go-order-engine/internal/orders"
)

type clock struct{ t time.Time }

func (c *clock) Now() time.Time { return c.t }

func newFixture(t *testing.T, stock map[string]int) (*memstore.Store, *Manager, *clock) {
	t.Helper()
	s := memstore.New()
	for id, n := range stock {
		s.AddProduct(orders.Product{ID: id, SKU: "SKU-" + id, Name: id, Status: "active", BasePrice: decimal.NewFromInt(100), Stock: n})
	}
	c := &clock{t: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	m := NewManager(30 * time.Minute)
	m.Now = c.Now
	return s, m, c
}

// seedOrder writes an order with one item per (product, qty) pair and returns it.
func seedOrder(t *testing.T, s *memstore.Store, lines ...any) (string, []orders.OrderItem) {
	t.Helper()
	orderID := uuid.NewString()
	var items []orders.OrderItem
	for i := 0; i < len(lines); i += 2 {
		items = append(items, orders.OrderItem{
			ID: uuid.NewString(), OrderID: orderID, ProductID: lines[i].(string), Quantity: lines[i+1].(int),
		})
	}
	err := s.InTx(context.Background(), func(tx orders.Tx) error {
		if err := tx.InsertOrder(context.Background(), &orders.Order{ID: orderID, OrderNumber: "ORD-" + orderID, Status: orders.StatusPending}); err != nil {
			return err
		}
		return tx.InsertOrderItems(context.Background(), items)
	})
	require.NoError(t, err)
	return orderID, items
}

func reserve(t *testing.T, s *memstore.Store, m *Manager, orderID string, items []orders.OrderItem) error {
	t.Helper()
	return s.InTx(context.Background(), func(tx orders.Tx) error {
		_, err := m.Reserve(context.Background(), tx, orderID, items)
		return err
	})
}

func reservations(t *testing.T, s *memstore.Store, orderID string) []orders.Reservation {
	t.Helper()
	var out []orders.Reservation
	require.NoError(t, s.InTx(context.Background(), func(tx orders.Tx) error {
		var err error
		out, err = tx.ListReservations(context.Background(), orderID)
		return err
	}))
	return out
}

func TestReserve_DecrementsStockAndFlagsItems(t *testing.T) {
	s, m, c := newFixture(t, map[string]int{"p1": 5, "p2": 3})
	orderID, items := seedOrder(t, s, "p1", 2, "p2", 3)

	require.NoError(t, reserve(t, s, m, orderID, items))

	assert.Equal(t, 3, s.Stock(orders.StockKey{ProductID: "p1"}))
	assert.Equal(t, 0, s.Stock(orders.StockKey{ProductID: "p2"}))
	rs := reservations(t, s, orderID)
	require.Len(t, rs, 2)
	for _, r := range rs {
		assert.Equal(t, orders.ReservationReserved, r.Status)
		assert.Equal(t, c.t.Add(30*time.Minute), r.ExpiresAt)
	}
}

func TestReserve_AllOrNothing(t *testing.T) {
	s, m, _ := newFixture(t, map[string]int{"p1": 5, "p2": 1})
	orderID, items := seedOrder(t, s, "p1", 2, "p2", 3)

	err := reserve(t, s, m, orderID, items)
	require.Error(t, err)
	e, ok := orders.AsError(err)
	require.True(t, ok)
	assert.Equal(t, orders.CodeInsufficientStock, e.Code)
	require.Len(t, e.Shortages, 1)
	assert.Equal(t, "p2", e.Shortages[0].Key.ProductID)

	assert.Equal(t, 5, s.Stock(orders.StockKey{ProductID: "p1"}))
	assert.Equal(t, 1, s.Stock(orders.StockKey{ProductID: "p2"}))
	assert.Empty(t, reservations(t, s, orderID))
}

func TestReserve_AggregatesDuplicateKeys(t *testing.T) {
	s, m, _ := newFixture(t, map[string]int{"p1": 3})
	orderID, items := seedOrder(t, s, "p1", 2, "p1", 2)

	err := reserve(t, s, m, orderID, items)
	e, ok := orders.AsError(err)
	require.True(t, ok)
	assert.Equal(t, 4, e.Shortages[0].Requested)
	assert.Equal(t, 3, s.Stock(orders.StockKey{ProductID: "p1"}))
}

func TestReserve_LocksInSortedOrder(t *testing.T) {
	s, m, _ := newFixture(t, map[string]int{"a": 5, "b": 5, "c": 5})
	orderID, items := seedOrder(t, s, "c", 1, "a", 1, "b", 1)

	require.NoError(t, reserve(t, s, m, orderID, items))

	locks := s.StockLocks()
	require.NotEmpty(t, locks)
	last := locks[len(locks)-1]
	assert.Equal(t, []orders.StockKey{{ProductID: "a"}, {ProductID: "b"}, {ProductID: "c"}}, last)
}

func TestCommit(t *testing.T) {
	s, m, _ := newFixture(t, map[string]int{"p1": 5})
	orderID, items := seedOrder(t, s, "p1", 2)
	require.NoError(t, reserve(t, s, m, orderID, items))

	require.NoError(t, s.InTx(context.Background(), func(tx orders.Tx) error {
		_, err := m.Commit(context.Background(), tx, orderID)
		return err
	}))

	rs := reservations(t, s, orderID)
	assert.Equal(t, orders.ReservationCommitted, rs[0].Status)
	assert.NotNil(t, rs[0].CommittedAt)
	assert.Equal(t, 3, s.Stock(orders.StockKey{ProductID: "p1"}))
}

func TestCommit_PastExpiryFails(t *testing.T) {
	s, m, c := newFixture(t, map[string]int{"p1": 5})
	orderID, items := seedOrder(t, s, "p1", 1)
	require.NoError(t, reserve(t, s, m, orderID, items))

	c.t = c.t.Add(31 * time.Minute)
	err := s.InTx(context.Background(), func(tx orders.Tx) error {
		_, err := m.Commit(context.Background(), tx, orderID)
		return err
	})
	e, ok := orders.AsError(err)
	require.True(t, ok)
	assert.Equal(t, orders.CodeReservationExpired, e.Code)
	assert.Equal(t, orders.ReservationReserved, reservations(t, s, orderID)[0].Status)
}

func TestCommit_ReleasedReservationRejected(t *testing.T) {
	s, m, _ := newFixture(t, map[string]int{"p1": 5})
	orderID, items := seedOrder(t, s, "p1", 1)
	require.NoError(t, reserve(t, s, m, orderID, items))
	require.NoError(t, s.InTx(context.Background(), func(tx orders.Tx) error {
		_, err := m.Release(context.Background(), tx, orderID, "customer changed mind")
		return err
	}))

	err := s.InTx(context.Background(), func(tx orders.Tx) error {
		_, err := m.Commit(context.Background(), tx, orderID)
		return err
	})
	assert.Equal(t, orders.KindState, orders.KindOf(err))
	assert.Equal(t, orders.ReservationReleased, reservations(t, s, orderID)[0].Status)
}

func TestRelease_RestoresReservedOnly(t *testing.T) {
	s, m, _ := newFixture(t, map[string]int{"p1": 5})
	orderID, items := seedOrder(t, s, "p1", 2)
	require.NoError(t, reserve(t, s, m, orderID, items))

	var n int
	require.NoError(t, s.InTx(context.Background(), func(tx orders.Tx) error {
		var err error
		n, err = m.Release(context.Background(), tx, orderID, "cancelled")
		return err
	}))
	assert.Equal(t, 1, n)
	assert.Equal(t, 5, s.Stock(orders.StockKey{ProductID: "p1"}))
	rs := reservations(t, s, orderID)
	assert.Equal(t, orders.ReservationReleased, rs[0].Status)
	assert.Equal(t, "cancelled", rs[0].ReleaseReason)

	// second release is a no-op
	require.NoError(t, s.InTx(context.Background(), func(tx orders.Tx) error {
		var err error
		n, err = m.Release(context.Background(), tx, orderID, "again")
		return err
	}))
	assert.Zero(t, n)
	assert.Equal(t, 5, s.Stock(orders.StockKey{ProductID: "p1"}))
}

func TestReturnCommitted_Once(t *testing.T) {
	s, m, _ := newFixture(t, map[string]int{"p1": 5})
	orderID, items := seedOrder(t, s, "p1", 2)
	require.NoError(t, reserve(t, s, m, orderID, items))
	require.NoError(t, s.InTx(context.Background(), func(tx orders.Tx) error {
		_, err := m.Commit(context.Background(), tx, orderID)
		return err
	}))

	ret := func() int {
		var n int
		require.NoError(t, s.InTx(context.Background(), func(tx orders.Tx) error {
			var err error
			n, err = m.ReturnCommitted(context.Background(), tx, orderID)
			return err
		}))
		return n
	}
	assert.Equal(t, 1, ret())
	assert.Equal(t, 5, s.Stock(orders.StockKey{ProductID: "p1"}))
	assert.Zero(t, ret())
	assert.Equal(t, 5, s.Stock(orders.StockKey{ProductID: "p1"}))
	assert.Equal(t, orders.ReservationCommitted, reservations(t, s, orderID)[0].Status)
}

func TestSweepExpired(t *testing.T) {
	s, m, c := newFixture(t, map[string]int{"p1": 5})
	orderID, items := seedOrder(t, s, "p1", 2)
	require.NoError(t, reserve(t, s, m, orderID, items))

	c.t = c.t.Add(29 * time.Minute)
	res, err := m.SweepExpired(context.Background(), s, 100)
	require.NoError(t, err)
	assert.Zero(t, res.Expired)
	assert.Equal(t, 3, s.Stock(orders.StockKey{ProductID: "p1"}))

	c.t = c.t.Add(2 * time.Minute)
	res, err = m.SweepExpired(context.Background(), s, 100)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Orders: 1, Expired: 1}, res)
	assert.Equal(t, 5, s.Stock(orders.StockKey{ProductID: "p1"}))
	rs := reservations(t, s, orderID)
	assert.Equal(t, orders.ReservationExpired, rs[0].Status)
	assert.Equal(t, ReasonExpired, rs[0].ReleaseReason)
}

func TestSweepExpired_SkipsFailingOrder(t *testing.T) {
	s, m, c := newFixture(t, map[string]int{"p1": 5})
	orderID, items := seedOrder(t, s, "p1", 2)
	require.NoError(t, reserve(t, s, m, orderID, items))
	c.t = c.t.Add(time.Hour)

	s.FailN("UpdateReservation", 1, assert.AnError)
	res, err := m.SweepExpired(context.Background(), s, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 3, s.Stock(orders.StockKey{ProductID: "p1"}))

	res, err = m.SweepExpired(context.Background(), s, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Expired)
	assert.Equal(t, 5, s.Stock(orders.StockKey{ProductID: "p1"}))
}
