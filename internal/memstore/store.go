// Package memstore is an in-memory orders.Store. Transactions are serialised and work on a private copy
// of the data that replaces the committed copy only when fn succeeds, so a failed transaction leaves no
// trace. It backs the engine tests and STORE_DRIVER=memory.
package memstore

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/ariefcatur/go-order-engine/internal/orders"
)

type state struct {
	orders       map[string]orders.Order
	byExternal   map[string]string
	orderNumbers map[string]string
	items        map[string][]orders.OrderItem
	stock        map[orders.StockKey]int
	reservations map[string][]orders.Reservation
	history      []orders.StateHistory
	queue        []orders.QueueItem
	metrics      map[string]orders.Metric
	errors       []orders.OrderError

	customers map[string]orders.Customer
	products  map[string]orders.Product
	variants  map[string]orders.Variant
	promos    map[string]orders.Promo
}

func newState() *state {
	return &state{
		orders:       map[string]orders.Order{},
		byExternal:   map[string]string{},
		orderNumbers: map[string]string{},
		items:        map[string][]orders.OrderItem{},
		stock:        map[orders.StockKey]int{},
		reservations: map[string][]orders.Reservation{},
		metrics:      map[string]orders.Metric{},
		customers:    map[string]orders.Customer{},
		products:     map[string]orders.Product{},
		variants:     map[string]orders.Variant{},
		promos:       map[string]orders.Promo{},
	}
}

func (s *state) clone() *state {
	c := &state{
		orders:       maps.Clone(s.orders),
		byExternal:   maps.Clone(s.byExternal),
		orderNumbers: maps.Clone(s.orderNumbers),
		items:        make(map[string][]orders.OrderItem, len(s.items)),
		stock:        maps.Clone(s.stock),
		reservations: make(map[string][]orders.Reservation, len(s.reservations)),
		history:      slices.Clone(s.history),
		queue:        slices.Clone(s.queue),
		metrics:      maps.Clone(s.metrics),
		errors:       slices.Clone(s.errors),
		customers:    s.customers,
		products:     s.products,
		variants:     s.variants,
		promos:       s.promos,
	}
	for k, v := range s.items {
		c.items[k] = slices.Clone(v)
	}
	for k, v := range s.reservations {
		c.reservations[k] = slices.Clone(v)
	}
	return c
}

type failure struct {
	err       error
	remaining int // <= 0: every call
}

type Store struct {
	txMu sync.Mutex // one transaction at a time

	mu        sync.RWMutex // guards committed, failures, lockLog
	committed *state
	failures  map[string]*failure
	lockLog   [][]orders.StockKey
}

func New() *Store {
	return &Store{committed: newState(), failures: map[string]*failure{}}
}

// InTx implements orders.Store.
func (s *Store) InTx(ctx context.Context, fn func(tx orders.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	work := s.committed.clone()
	s.mu.RUnlock()

	t := &tx{store: s, st: work}
	if err := fn(t); err != nil {
		return err
	}
	if err := s.fail("Commit"); err != nil {
		return &orders.Error{Kind: orders.KindSystem, Code: orders.CodeCommitFailed, Message: "commit failed", Err: err}
	}

	s.mu.Lock()
	s.committed = work
	if len(t.locks) > 0 {
		s.lockLog = append(s.lockLog, t.locks)
	}
	s.mu.Unlock()
	return nil
}

// FailOn makes every call of the named Tx method (or "Commit") return err.
func (s *Store) FailOn(op string, err error) { s.FailN(op, 0, err) }

// FailN makes the next n calls of op return err. n <= 0 means every call.
func (s *Store) FailN(op string, n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = &failure{err: err, remaining: n}
}

func (s *Store) ClearFailures() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = map[string]*failure{}
}

func (s *Store) fail(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.failures[op]
	if !ok {
		return nil
	}
	if f.remaining > 0 {
		f.remaining--
		if f.remaining == 0 {
			delete(s.failures, op)
		}
	}
	return f.err
}

// StockLocks returns the stock keys locked by each committed transaction, in lock order.
func (s *Store) StockLocks() [][]orders.StockKey {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.lockLog)
}

// Stock reads a committed stock counter.
func (s *Store) Stock(key orders.StockKey) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.committed.stock[key]
}

// SetStock overwrites a committed stock counter.
func (s *Store) SetStock(key orders.StockKey, qty int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.committed.stock[key] = qty
}

// Counts is a row count per table of the committed data.
type Counts struct {
	Orders, Items, Reservations, History, Queue, Metrics, Errors int
}

func (s *Store) Counts() Counts {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c := Counts{
		Orders:  len(s.committed.orders),
		History: len(s.committed.history),
		Queue:   len(s.committed.queue),
		Metrics: len(s.committed.metrics),
		Errors:  len(s.committed.errors),
	}
	for _, its := range s.committed.items {
		c.Items += len(its)
	}
	for _, rs := range s.committed.reservations {
		c.Reservations += len(rs)
	}
	return c
}

func (s *Store) String() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fmt.Sprintf("memstore(orders=%d, queue=%d, errors=%d)", len(s.committed.orders), len(s.committed.queue), len(s.committed.errors))
}
