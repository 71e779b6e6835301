// Package queue is the durable work queue consumed by workers outside the engine. The engine only
// produces items and moves them between statuses; it never performs the side effect.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ariefcatur/go-order-engine/internal/errorlog"
	"github.com/ariefcatur/go-order-engine/internal/orders"
)

const (
	DefaultMaxAttempts = 5
	DefaultRetryBase   = 30 * time.Second
	DefaultRetryMax    = 30 * time.Minute
)

var priorities = map[orders.QueueCategory]int{
	orders.QueueFulfillment:  2,
	orders.QueueNewOrder:     3,
	orders.QueuePayment:      3,
	orders.QueueVerification: 4,
	orders.QueueNotification: 5,
}

// Priority is the default priority of a category. Lower runs first.
func Priority(c orders.QueueCategory) int {
	if p, ok := priorities[c]; ok {
		return p
	}
	return 5
}

type Queue struct {
	Store       orders.Store
	Errors      *errorlog.Log
	MaxAttempts int
	RetryBase   time.Duration
	RetryMax    time.Duration
	Now         func() time.Time
}

func New(store orders.Store, errs *errorlog.Log) *Queue {
	return &Queue{
		Store:       store,
		Errors:      errs,
		MaxAttempts: DefaultMaxAttempts,
		RetryBase:   DefaultRetryBase,
		RetryMax:    DefaultRetryMax,
		Now:         time.Now,
	}
}

// Enqueue inserts a pending item inside the caller's transaction.
func (q *Queue) Enqueue(ctx context.Context, tx orders.Tx, orderID string, cat orders.QueueCategory, priority int, payload any) (*orders.QueueItem, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", cat, err)
	}
	now := q.now()
	item := &orders.QueueItem{
		ID:          uuid.NewString(),
		OrderID:     orderID,
		Category:    cat,
		Priority:    priority,
		Status:      orders.QueuePending,
		MaxAttempts: q.maxAttempts(),
		ScheduledAt: now,
		Payload:     raw,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := tx.InsertQueueItem(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

// Claim locks up to limit due items, skipping rows other claimers hold, and marks them processing.
func (q *Queue) Claim(ctx context.Context, categories []orders.QueueCategory, limit int) ([]orders.QueueItem, error) {
	var out []orders.QueueItem
	err := q.Store.InTx(ctx, func(tx orders.Tx) error {
		now := q.now()
		items, err := tx.ClaimQueueItems(ctx, categories, now, limit)
		if err != nil {
			return err
		}
		out = out[:0]
		for i := range items {
			it := &items[i]
			if !orders.CanTransitionQueue(it.Status, orders.QueueProcessing) {
				continue
			}
			it.Status = orders.QueueProcessing
			it.Attempts++
			it.UpdatedAt = now
			if err := tx.UpdateQueueItem(ctx, it); err != nil {
				return err
			}
			out = append(out, *it)
		}
		return nil
	})
	if err != nil {
		return nil, orders.Wrap(err, "claim queue items")
	}
	return out, nil
}

func (q *Queue) Complete(ctx context.Context, id string) (*orders.QueueItem, error) {
	var out *orders.QueueItem
	err := q.Store.InTx(ctx, func(tx orders.Tx) error {
		it, err := q.transition(ctx, tx, id, orders.QueueCompleted)
		if err != nil {
			return err
		}
		now := q.now()
		it.ProcessedAt = &now
		it.LastError = ""
		out = it
		return tx.UpdateQueueItem(ctx, it)
	})
	if err != nil {
		return nil, orders.Wrap(err, "complete queue item")
	}
	return out, nil
}

// Fail schedules a retry with exponential backoff while attempts remain. The last failure makes the
// item terminal and records a system error that needs manual resolution.
func (q *Queue) Fail(ctx context.Context, id, reason string) (*orders.QueueItem, error) {
	var out *orders.QueueItem
	err := q.Store.InTx(ctx, func(tx orders.Tx) error {
		it, err := tx.GetQueueItemForUpdate(ctx, id)
		if err != nil {
			return err
		}
		now := q.now()
		next := orders.QueueRetry
		if it.Attempts >= it.MaxAttempts {
			next = orders.QueueFailed
		}
		if !orders.CanTransitionQueue(it.Status, next) {
			return orders.InvalidTransition(string(it.Status), string(next))
		}
		it.Status = next
		it.LastError = reason
		it.UpdatedAt = now
		if next == orders.QueueRetry {
			it.ScheduledAt = now.Add(q.RetryDelay(it.Attempts))
		} else {
			it.ProcessedAt = &now
		}
		if err := tx.UpdateQueueItem(ctx, it); err != nil {
			return err
		}
		if next == orders.QueueFailed && q.Errors != nil {
			_, err := q.Errors.Insert(ctx, tx, errorlog.Entry{
				OrderID:  it.OrderID,
				Category: orders.ErrorSystem,
				Severity: orders.SeverityHigh,
				Code:     "QUEUE_EXHAUSTED",
				Message:  fmt.Sprintf("%s item %s failed after %d attempts: %s", it.Category, it.ID, it.Attempts, reason),
				Details:  map[string]any{"queue_item_id": it.ID, "queue_type": it.Category, "attempts": it.Attempts},
			})
			if err != nil {
				return err
			}
		}
		out = it
		return nil
	})
	if err != nil {
		return nil, orders.Wrap(err, "fail queue item")
	}
	if out.Status == orders.QueueFailed {
		logrus.WithFields(logrus.Fields{"component": "queue", "order_id": out.OrderID, "queue_item_id": out.ID}).
			Error("queue item exhausted its attempts")
	}
	return out, nil
}

func (q *Queue) transition(ctx context.Context, tx orders.Tx, id string, to orders.QueueStatus) (*orders.QueueItem, error) {
	it, err := tx.GetQueueItemForUpdate(ctx, id)
	if err != nil {
		return nil, err
	}
	if !orders.CanTransitionQueue(it.Status, to) {
		return nil, orders.InvalidTransition(string(it.Status), string(to))
	}
	it.Status = to
	it.UpdatedAt = q.now()
	return it, nil
}

// RetryDelay is the wait before the retry that follows the given attempt: base, 2*base, 4*base, ...
// capped at RetryMax.
func (q *Queue) RetryDelay(attempts int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = q.RetryBase
	if b.InitialInterval <= 0 {
		b.InitialInterval = DefaultRetryBase
	}
	b.MaxInterval = q.RetryMax
	if b.MaxInterval <= 0 {
		b.MaxInterval = DefaultRetryMax
	}
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	d := b.NextBackOff()
	for i := 1; i < attempts; i++ {
		d = b.NextBackOff()
	}
	return d
}

func (q *Queue) List(ctx context.Context, orderID string) ([]orders.QueueItem, error) {
	var out []orders.QueueItem
	err := q.Store.InTx(ctx, func(tx orders.Tx) error {
		var err error
		out, err = tx.ListQueueItems(ctx, orderID)
		return err
	})
	return out, orders.Wrap(err, "list queue items")
}

func (q *Queue) maxAttempts() int {
	if q.MaxAttempts <= 0 {
		return DefaultMaxAttempts
	}
	return q.MaxAttempts
}

func (q *Queue) now() time.Time {
	if q.Now == nil {
		return time.Now().UTC()
	}
	return q.Now().UTC()
}
