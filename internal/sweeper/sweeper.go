// Package sweeper runs the reservation expiry pass on a ticker.
package sweeper

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ariefcatur/go-order-engine/internal/inventory"
	"github.com/ariefcatur/go-order-engine/internal/orders"
)

const (
	DefaultInterval = 5 * time.Minute
	DefaultBatch    = 100
	lockKey         = "reservation-sweep"
)

// Locker elects one sweeping instance per tick.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	Unlock(ctx context.Context, key, token string) error
}

type Sweeper struct {
	Inventory *inventory.Manager
	Store     orders.Store
	Locker    Locker // optional
	Interval  time.Duration
	Batch     int

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(inv *inventory.Manager, store orders.Store) *Sweeper {
	return &Sweeper{Inventory: inv, Store: store, Interval: DefaultInterval, Batch: DefaultBatch}
}

// RunOnce expires stale reservations until a pass comes back short of a full batch. Skipped reports
// whether another instance held the lock.
func (s *Sweeper) RunOnce(ctx context.Context) (res inventory.SweepResult, skipped bool, err error) {
	log := logrus.WithField("component", "sweeper")
	if s.Locker != nil {
		token, ok, err := s.Locker.TryLock(ctx, lockKey, s.interval())
		if err != nil {
			// row locks keep the pass correct without the lock
			log.WithError(err).Warn("sweep lock unavailable, sweeping anyway")
		} else if !ok {
			return res, true, nil
		} else {
			defer func() {
				if err := s.Locker.Unlock(context.WithoutCancel(ctx), lockKey, token); err != nil {
					log.WithError(err).Warn("sweep unlock failed")
				}
			}()
		}
	}

	batch := s.batch()
	for {
		r, err := s.Inventory.SweepExpired(ctx, s.Store, batch)
		res.Orders += r.Orders
		res.Expired += r.Expired
		res.Failed += r.Failed
		if err != nil {
			return res, false, err
		}
		// failed orders stay in the scan; stop instead of spinning on them
		if r.Orders+r.Failed < batch || r.Orders == 0 || ctx.Err() != nil {
			break
		}
	}
	if res.Orders > 0 {
		log.WithFields(logrus.Fields{"orders": res.Orders, "expired": res.Expired, "failed": res.Failed}).Info("reservations swept")
	}
	return res, false, nil
}

// Start launches the ticker loop. Calling Start twice is a no-op.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		t := time.NewTicker(s.interval())
		defer t.Stop()
		for {
			if _, _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
				logrus.WithField("component", "sweeper").WithError(err).Error("sweep failed")
			}
			select {
			case <-ctx.Done():
				return
			case <-t.C:
			}
		}
	}()
}

// Stop cancels the loop and waits for the running pass to return.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Sweeper) interval() time.Duration {
	if s.Interval <= 0 {
		return DefaultInterval
	}
	return s.Interval
}

func (s *Sweeper) batch() int {
	if s.Batch <= 0 {
		return DefaultBatch
	}
	return s.Batch
}
