package history

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-order-engine/internal/memstore"
	"github.com/ariefcatur/go-order-engine/internal/orders"
)

func TestRecord(t *testing.T) {
	s := memstore.New()
	r := NewRecorder()
	ctx := context.Background()

	require.NoError(t, s.InTx(ctx, func(tx orders.Tx) error {
		return tx.InsertOrder(ctx, &orders.Order{ID: "o1", OrderNumber: "ORD-1", Status: orders.StatusPending})
	}))

	tests := []struct {
		name    string
		from    orders.Status
		to      orders.Status
		actor   orders.Actor
		wantErr bool
	}{
		{"creation", "", orders.StatusPending, orders.ActorSystem, false},
		{"creation must be pending", "", orders.StatusConfirmed, orders.ActorSystem, true},
		{"confirm", orders.StatusPending, orders.StatusConfirmed, orders.ActorAdmin, false},
		{"skip ahead", orders.StatusPending, orders.StatusShipped, orders.ActorAdmin, true},
		{"out of terminal", orders.StatusCancelled, orders.StatusPending, orders.ActorAdmin, true},
		{"unknown actor", orders.StatusConfirmed, orders.StatusProcessing, "robot", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.InTx(ctx, func(tx orders.Tx) error {
				_, err := r.Record(ctx, tx, "o1", tt.from, tt.to, tt.actor, "test")
				return err
			})
			if tt.wantErr {
				assert.Equal(t, orders.KindState, orders.KindOf(err))
				return
			}
			assert.NoError(t, err)
		})
	}

	rows, err := r.List(ctx, s, "o1")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, orders.Status(""), rows[0].FromStatus)
	assert.Equal(t, orders.StatusConfirmed, rows[1].ToStatus)
	assert.Equal(t, orders.ActorAdmin, rows[1].Actor)

	_, err = r.List(ctx, s, "missing")
	assert.Equal(t, orders.KindNotFound, orders.KindOf(err))
}
