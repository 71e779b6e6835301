// Package errorlog keeps the order_errors table. Writes through Log survive the caller's rollback and
// never fail the caller.
package errorlog

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ariefcatur/go-order-engine/internal/orders"
)

type Entry struct {
	OrderID  string
	Category orders.ErrorCategory
	Severity orders.Severity
	Code     string
	Message  string
	Details  map[string]any
}

type Log struct {
	Store orders.Store
	Now   func() time.Time
}

func New(store orders.Store) *Log { return &Log{Store: store, Now: time.Now} }

// Classify maps an engine error to its error-log category and severity. ok is false for errors that
// are not recorded (validation, not found).
func Classify(err error) (cat orders.ErrorCategory, sev orders.Severity, ok bool) {
	e, isEngine := orders.AsError(err)
	if !isEngine {
		return orders.ErrorSystem, orders.SeverityHigh, true
	}
	switch e.Kind {
	case orders.KindValidation, orders.KindNotFound:
		return "", "", false
	case orders.KindInventory:
		return orders.ErrorInventory, orders.SeverityMedium, true
	case orders.KindState, orders.KindConflict:
		return orders.ErrorValidation, orders.SeverityLow, true
	}
	if e.Code == orders.CodeCommitFailed {
		return orders.ErrorSystem, orders.SeverityCritical, true
	}
	return orders.ErrorSystem, orders.SeverityHigh, true
}

// FromError builds an entry for err, or returns false when err is not recorded.
func FromError(orderID string, err error, details map[string]any) (Entry, bool) {
	cat, sev, ok := Classify(err)
	if !ok {
		return Entry{}, false
	}
	code := orders.CodeSystemError
	if e, isEngine := orders.AsError(err); isEngine {
		code = e.Code
		if len(e.Shortages) > 0 {
			if details == nil {
				details = map[string]any{}
			}
			details["shortages"] = e.Shortages
		}
	}
	return Entry{OrderID: orderID, Category: cat, Severity: sev, Code: code, Message: err.Error(), Details: details}, true
}

// Insert writes e inside tx.
func (l *Log) Insert(ctx context.Context, tx orders.Tx, e Entry) (*orders.OrderError, error) {
	rec := &orders.OrderError{
		ID:        uuid.NewString(),
		OrderID:   e.OrderID,
		Category:  e.Category,
		Severity:  e.Severity,
		Code:      e.Code,
		Message:   e.Message,
		Details:   e.Details,
		CreatedAt: l.now(),
	}
	if err := tx.InsertError(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Log writes e in its own transaction, detached from ctx cancellation. Failures are only logged.
func (l *Log) Log(ctx context.Context, e Entry) string {
	ctx = context.WithoutCancel(ctx)
	var id string
	err := l.Store.InTx(ctx, func(tx orders.Tx) error {
		rec, err := l.Insert(ctx, tx, e)
		if err != nil {
			return err
		}
		id = rec.ID
		return nil
	})
	fields := logrus.Fields{
		"component": "errorlog",
		"order_id":  e.OrderID,
		"category":  e.Category,
		"severity":  e.Severity,
		"code":      e.Code,
	}
	if err != nil {
		logrus.WithFields(fields).WithError(err).Errorf("could not record order error: %s", e.Message)
		return ""
	}
	logrus.WithFields(fields).Warn(e.Message)
	return id
}

func (l *Log) ForOrder(ctx context.Context, orderID string) ([]orders.OrderError, error) {
	return l.list(ctx, orders.ErrorFilter{OrderID: orderID})
}

func (l *Log) Unresolved(ctx context.Context, limit int) ([]orders.OrderError, error) {
	return l.list(ctx, orders.ErrorFilter{UnresolvedOnly: true, Limit: limit})
}

func (l *Log) list(ctx context.Context, f orders.ErrorFilter) ([]orders.OrderError, error) {
	var out []orders.OrderError
	err := l.Store.InTx(ctx, func(tx orders.Tx) error {
		var err error
		out, err = tx.ListErrors(ctx, f)
		return err
	})
	return out, orders.Wrap(err, "list order errors")
}

// Resolve marks an error handled. Errors are never resolved automatically.
func (l *Log) Resolve(ctx context.Context, id, by, notes string) (*orders.OrderError, error) {
	if by == "" {
		return nil, orders.NewValidation([]orders.FieldError{{Field: "resolved_by", Code: orders.CodeValidationFailed, Message: "resolved_by is required"}})
	}
	var out *orders.OrderError
	err := l.Store.InTx(ctx, func(tx orders.Tx) error {
		rec, err := tx.GetErrorForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if rec.Resolved {
			return orders.StateError(orders.CodeInvalidTransition, "error "+id+" is already resolved")
		}
		now := l.now()
		rec.Resolved = true
		rec.ResolvedBy = by
		rec.ResolutionNotes = notes
		rec.ResolvedAt = &now
		if err := tx.UpdateError(ctx, rec); err != nil {
			return err
		}
		out = rec
		return nil
	})
	if err != nil {
		return nil, orders.Wrap(err, "resolve order error")
	}
	return out, nil
}

func (l *Log) now() time.Time {
	if l.Now == nil {
		return time.Now().UTC()
	}
	return l.Now().UTC()
}
