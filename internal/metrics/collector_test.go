package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-order-engine/internal/memstore"
	"github.com/ariefcatur/go-order-engine/internal/orders"
)

func TestCollector_Additive(t *testing.T) {
	s := memstore.New()
	c := NewCollector()
	ctx := context.Background()

	require.NoError(t, s.InTx(ctx, func(tx orders.Tx) error {
		return c.Start(ctx, tx, "o1", orders.MetricDelta{ValidationMS: Ms(12 * time.Millisecond), ReservationMS: 3})
	}))
	require.NoError(t, s.InTx(ctx, func(tx orders.Tx) error {
		if err := c.Add(ctx, tx, "o1", orders.MetricDelta{PaymentMS: 1000, Retries: 1}); err != nil {
			return err
		}
		return c.Add(ctx, tx, "o1", orders.MetricDelta{Errors: 2, Retries: 1})
	}))

	m, err := c.Get(ctx, s, "o1")
	require.NoError(t, err)
	assert.Equal(t, int64(12), m.ValidationMS)
	assert.Equal(t, int64(3), m.ReservationMS)
	assert.Equal(t, int64(1000), m.PaymentMS)
	assert.Equal(t, 2, m.ErrorCount)
	assert.Equal(t, 2, m.RetryCount)

	_, err = c.Get(ctx, s, "nope")
	assert.Equal(t, orders.KindNotFound, orders.KindOf(err))
}
