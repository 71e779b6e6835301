// Package metrics keeps the per-order timing row. All updates are additive.
package metrics

import (
	"context"
	"time"

	"github.com/ariefcatur/go-order-engine/internal/orders"
)

type Collector struct {
	Now func() time.Time
}

func NewCollector() *Collector { return &Collector{Now: time.Now} }

// Ms converts d to whole milliseconds.
func Ms(d time.Duration) int64 { return d.Milliseconds() }

// Start inserts the order's row with the creation-stage durations.
func (c *Collector) Start(ctx context.Context, tx orders.Tx, orderID string, d orders.MetricDelta) error {
	now := c.now()
	m := &orders.Metric{OrderID: orderID, CreatedAt: now, UpdatedAt: now}
	m.Apply(d)
	return tx.InsertMetric(ctx, m)
}

func (c *Collector) Add(ctx context.Context, tx orders.Tx, orderID string, d orders.MetricDelta) error {
	return tx.AddMetric(ctx, orderID, d, c.now())
}

func (c *Collector) Get(ctx context.Context, store orders.Store, orderID string) (*orders.Metric, error) {
	var m *orders.Metric
	err := store.InTx(ctx, func(tx orders.Tx) error {
		var err error
		m, err = tx.GetMetric(ctx, orderID)
		return err
	})
	return m, orders.Wrap(err, "get metrics")
}

func (c *Collector) now() time.Time {
	if c.Now == nil {
		return time.Now().UTC()
	}
	return c.Now().UTC()
}
