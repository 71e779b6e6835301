package queue

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ariefcatur/go-order-engine/internal/orders"
)

// Publisher hands a claimed item to the outside world.
type Publisher interface {
	Publish(ctx context.Context, item orders.QueueItem) error
}

// Relay moves committed queue items to a Publisher: claimed items that publish are completed, the
// rest go through Fail and its retry schedule.
type Relay struct {
	Queue      *Queue
	Publisher  Publisher
	Categories []orders.QueueCategory
	Interval   time.Duration
	Batch      int
}

// Drain relays claimed batches until a claim comes back empty or short.
func (r *Relay) Drain(ctx context.Context) (int, error) {
	batch := r.Batch
	if batch <= 0 {
		batch = 100
	}
	total := 0
	for {
		items, err := r.Queue.Claim(ctx, r.Categories, batch)
		if err != nil {
			return total, err
		}
		for _, it := range items {
			log := logrus.WithFields(logrus.Fields{"component": "relay", "order_id": it.OrderID, "queue_item_id": it.ID, "queue_type": it.Category})
			if err := r.Publisher.Publish(ctx, it); err != nil {
				log.WithError(err).Warn("publish failed")
				if _, ferr := r.Queue.Fail(ctx, it.ID, err.Error()); ferr != nil {
					log.WithError(ferr).Error("mark queue item failed")
				}
				continue
			}
			if _, err := r.Queue.Complete(ctx, it.ID); err != nil {
				log.WithError(err).Error("mark queue item completed")
				continue
			}
			total++
		}
		if len(items) < batch || ctx.Err() != nil {
			return total, ctx.Err()
		}
	}
}

// Run drains on every tick until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	interval := r.Interval
	if interval <= 0 {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		if n, err := r.Drain(ctx); err != nil && ctx.Err() == nil {
			logrus.WithField("component", "relay").WithError(err).Error("relay pass failed")
		} else if n > 0 {
			logrus.WithField("component", "relay").Debugf("relayed %d queue items", n)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}
