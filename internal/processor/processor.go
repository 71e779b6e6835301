// Package processor drives the order state machine. Each operation is one store transaction that
// moves the order, its reservations, history, queue items and metrics together.
package processor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ariefcatur/go-order-engine/internal/errorlog"
	"github.com/ariefcatur/go-order-engine/internal/history"
	"github.com/ariefcatur/go-order-engine/internal/inventory"
	"github.com/ariefcatur/go-order-engine/internal/metrics"
	"github.com/ariefcatur/go-order-engine/internal/orders"
	"github.com/ariefcatur/go-order-engine/internal/queue"
	"github.com/ariefcatur/go-order-engine/internal/validation"
)

const DefaultTxRetries = 3

var tracer = otel.Tracer("github.com/ariefcatur/go-order-engine/internal/processor")

// StatusCache receives every committed status change. Failures are logged, never returned.
type StatusCache interface {
	SetStatus(ctx context.Context, orderID string, status orders.Status, at time.Time) error
}

type Processor struct {
	Store     orders.Store
	Validator *validation.Validator
	Inventory *inventory.Manager
	History   *history.Recorder
	Queue     *queue.Queue
	Errors    *errorlog.Log
	Metrics   *metrics.Collector
	Statuses  StatusCache
	TxRetries int
	Now       func() time.Time
}

// New wires a processor with default components around store and validator.
func New(store orders.Store, v *validation.Validator, ttl time.Duration) *Processor {
	errs := errorlog.New(store)
	return &Processor{
		Store:     store,
		Validator: v,
		Inventory: inventory.NewManager(ttl),
		History:   history.NewRecorder(),
		Queue:     queue.New(store, errs),
		Errors:    errs,
		Metrics:   metrics.NewCollector(),
		TxRetries: DefaultTxRetries,
		Now:       time.Now,
	}
}

type View struct {
	Order        *orders.Order        `json:"order"`
	Items        []orders.OrderItem   `json:"items"`
	Reservations []orders.Reservation `json:"reservations"`
}

func (p *Processor) now() time.Time {
	if p.Now == nil {
		return time.Now().UTC()
	}
	return p.Now().UTC()
}

func (p *Processor) startSpan(ctx context.Context, name, orderID string) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, "processor."+name)
	if orderID != "" {
		span.SetAttributes(attribute.String("order.id", orderID))
	}
	return ctx, span
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// inTx runs fn in a transaction and reruns it on concurrency errors. Retries are counted on the
// order when orderID is known.
func (p *Processor) inTx(ctx context.Context, orderID string, fn func(tx orders.Tx) error) error {
	calls := 0
	op := func() error {
		calls++
		err := p.Store.InTx(ctx, fn)
		if err == nil || orders.IsConcurrency(err) {
			return err
		}
		return backoff.Permanent(err)
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 20 * time.Millisecond
	b.MaxInterval = 500 * time.Millisecond
	retries := p.TxRetries
	if retries < 0 {
		retries = 0
	}
	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx))
	if calls > 1 && orderID != "" {
		p.countRetries(ctx, orderID, calls-1)
	}
	return err
}

func (p *Processor) countRetries(ctx context.Context, orderID string, n int) {
	ctx = context.WithoutCancel(ctx)
	err := p.Store.InTx(ctx, func(tx orders.Tx) error {
		o, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		o.RetryCount += n
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return err
		}
		return p.Metrics.Add(ctx, tx, orderID, orders.MetricDelta{Retries: n})
	})
	if err != nil {
		logrus.WithFields(logrus.Fields{"component": "processor", "order_id": orderID}).WithError(err).Debug("retry count not recorded")
	}
}

// fail records err in the error log and on the order's counters, and returns it as an *orders.Error.
func (p *Processor) fail(ctx context.Context, orderID, op string, err error) error {
	err = orders.Wrap(err, op+" failed")
	entry, ok := errorlog.FromError(orderID, err, map[string]any{"operation": op})
	if !ok {
		return err
	}
	ctx = context.WithoutCancel(ctx)
	if orderID == "" {
		p.Errors.Log(ctx, entry)
		return err
	}
	rerr := p.Store.InTx(ctx, func(tx orders.Tx) error {
		if _, err := p.Errors.Insert(ctx, tx, entry); err != nil {
			return err
		}
		o, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		o.ErrorCount++
		o.LastError = entry.Message
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return err
		}
		return p.Metrics.Add(ctx, tx, orderID, orders.MetricDelta{Errors: 1})
	})
	if rerr != nil {
		p.Errors.Log(ctx, entry)
		return err
	}
	logrus.WithFields(logrus.Fields{
		"component": "processor",
		"order_id":  orderID,
		"operation": op,
		"category":  entry.Category,
		"severity":  entry.Severity,
	}).Warn(entry.Message)
	return err
}

func (p *Processor) cacheStatus(ctx context.Context, o *orders.Order) {
	if p.Statuses == nil {
		return
	}
	if err := p.Statuses.SetStatus(ctx, o.ID, o.Status, o.UpdatedAt); err != nil {
		logrus.WithFields(logrus.Fields{"component": "processor", "order_id": o.ID}).WithError(err).Warn("status cache update failed")
	}
}

func (p *Processor) notify(ctx context.Context, tx orders.Tx, o *orders.Order, intent string, data map[string]any) error {
	if data == nil {
		data = map[string]any{}
	}
	data["order_number"] = o.OrderNumber
	_, err := p.Queue.Enqueue(ctx, tx, o.ID, orders.QueueNotification, queue.Priority(orders.QueueNotification), orders.NotificationPayload{
		OrderID:        o.ID,
		CustomerID:     o.CustomerID,
		TemplateIntent: intent,
		TemplateData:   data,
	})
	return err
}

// NewOrderNumber formats ORD-YYYYMMDD-XXXXXXXX.
func NewOrderNumber(at time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return fmt.Sprintf("ORD-%s-%s", at.Format("20060102"), suffix)
}

func msBetween(from, to time.Time) int64 {
	if to.Before(from) {
		return 0
	}
	return metrics.Ms(to.Sub(from))
}

// Get returns the order with its items and reservations.
func (p *Processor) Get(ctx context.Context, orderID string) (*View, error) {
	var v View
	err := p.Store.InTx(ctx, func(tx orders.Tx) error {
		o, err := tx.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		v.Order = o
		if v.Items, err = tx.ListOrderItems(ctx, orderID); err != nil {
			return err
		}
		v.Reservations, err = tx.ListReservations(ctx, orderID)
		return err
	})
	if err != nil {
		return nil, orders.Wrap(err, "get order")
	}
	return &v, nil
}

func (p *Processor) HistoryOf(ctx context.Context, orderID string) ([]orders.StateHistory, error) {
	return p.History.List(ctx, p.Store, orderID)
}
