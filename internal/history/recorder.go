// Package history writes the append-only order audit trail.
package history

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ariefcatur/go-order-engine/internal/orders"
)

type Recorder struct {
	Now func() time.Time
}

func NewRecorder() *Recorder { return &Recorder{Now: time.Now} }

// Record appends one row. from is empty only for the creation row, which must land in pending.
func (r *Recorder) Record(ctx context.Context, tx orders.Tx, orderID string, from, to orders.Status, actor orders.Actor, reason string) (*orders.StateHistory, error) {
	if from == "" {
		if to != orders.StatusPending {
			return nil, orders.InvalidTransition("none", string(to))
		}
	} else if !orders.CanTransition(from, to) {
		return nil, orders.InvalidTransition(string(from), string(to))
	}
	if !actor.Valid() {
		return nil, orders.StateError(orders.CodeInvalidTransition, "unknown actor "+string(actor))
	}

	h := &orders.StateHistory{
		ID:         uuid.NewString(),
		OrderID:    orderID,
		FromStatus: from,
		ToStatus:   to,
		Actor:      actor,
		Reason:     reason,
		CreatedAt:  r.now(),
	}
	if err := tx.InsertHistory(ctx, h); err != nil {
		return nil, err
	}
	return h, nil
}

func (r *Recorder) List(ctx context.Context, store orders.Store, orderID string) ([]orders.StateHistory, error) {
	var out []orders.StateHistory
	err := store.InTx(ctx, func(tx orders.Tx) error {
		if _, err := tx.GetOrder(ctx, orderID); err != nil {
			return err
		}
		var err error
		out, err = tx.ListHistory(ctx, orderID)
		return err
	})
	return out, orders.Wrap(err, "list history")
}

func (r *Recorder) now() time.Time {
	if r.Now == nil {
		return time.Now().UTC()
	}
	return r.Now().UTC()
}
