package processor

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/ariefcatur/go-order-engine/internal/orders"
	"github.com/ariefcatur/go-order-engine/internal/queue"
	"github.com/ariefcatur/go-order-engine/internal/validation"
)

type CreateResult struct {
	Order        *orders.Order        `json:"order"`
	Items        []orders.OrderItem   `json:"items"`
	Reservations []orders.Reservation `json:"reservations"`
	Warnings     []string             `json:"warnings,omitempty"`
	Idempotent   bool                 `json:"idempotent"`
}

// Create validates req and, in one transaction, writes the order, its items, the stock reservations,
// the creation history row, the new_order queue item and the metrics row. A repeated ExternalID
// returns the existing order without writing anything.
func (p *Processor) Create(ctx context.Context, req *orders.CreateOrderRequest) (res *CreateResult, err error) {
	ctx, span := p.startSpan(ctx, "Create", "")
	defer func() { endSpan(span, err) }()

	if req.ExternalID != "" {
		if existing, err := p.byExternalID(ctx, req.ExternalID); err != nil || existing != nil {
			return existing, err
		}
	}

	started := p.now()
	vres := p.Validator.Validate(ctx, req)
	if !vres.Valid {
		return nil, vres.Err()
	}
	validated := p.now()

	o, items := p.buildOrder(req, vres, started)
	res = &CreateResult{Order: o, Warnings: vres.Warnings}
	log := logrus.WithFields(logrus.Fields{"component": "processor", "order_id": o.ID, "order_number": o.OrderNumber})

	attempts := 0
	err = p.inTx(ctx, o.ID, func(tx orders.Tx) error {
		attempts++
		if err := tx.InsertOrder(ctx, o); err != nil {
			return err
		}
		if err := tx.InsertOrderItems(ctx, items); err != nil {
			return err
		}
		rs, err := p.Inventory.Reserve(ctx, tx, o.ID, items)
		if err != nil {
			return err
		}
		reserved := p.now()
		if _, err := p.History.Record(ctx, tx, o.ID, "", orders.StatusPending, orders.ActorSystem, "order created via "+o.Source); err != nil {
			return err
		}
		if _, err := p.Queue.Enqueue(ctx, tx, o.ID, orders.QueueNewOrder, queue.Priority(orders.QueueNewOrder), orders.NotificationPayload{
			OrderID:        o.ID,
			CustomerID:     o.CustomerID,
			TemplateIntent: orders.IntentOrderCreated,
			TemplateData: map[string]any{
				"order_number": o.OrderNumber,
				"total_amount": o.Total.StringFixed(2),
				"item_count":   len(items),
			},
		}); err != nil {
			return err
		}
		if o.VerificationRequired {
			if _, err := p.Queue.Enqueue(ctx, tx, o.ID, orders.QueueVerification, queue.Priority(orders.QueueVerification), orders.VerificationPayload{
				OrderID:    o.ID,
				CustomerID: o.CustomerID,
				Total:      o.Total.StringFixed(2),
				Method:     string(o.PaymentMethod),
			}); err != nil {
				return err
			}
		}
		if err := p.Metrics.Start(ctx, tx, o.ID, orders.MetricDelta{
			ValidationMS:  msBetween(started, validated),
			ReservationMS: msBetween(validated, reserved),
		}); err != nil {
			return err
		}
		if res.Items, err = tx.ListOrderItems(ctx, o.ID); err != nil {
			return err
		}
		res.Reservations = rs
		return nil
	})
	if err != nil {
		var e *orders.Error
		if req.ExternalID != "" && errors.As(err, &e) && e.Kind == orders.KindConflict {
			if existing, lerr := p.byExternalID(ctx, req.ExternalID); lerr == nil && existing != nil {
				return existing, nil
			}
		}
		return nil, p.fail(ctx, "", "create", err)
	}

	o.RetryCount += attempts - 1
	log.WithField("customer_id", o.CustomerID).Info("order created")
	p.cacheStatus(ctx, o)
	return res, nil
}

func (p *Processor) byExternalID(ctx context.Context, externalID string) (*CreateResult, error) {
	var res *CreateResult
	err := p.Store.InTx(ctx, func(tx orders.Tx) error {
		o, err := tx.GetOrderByExternalID(ctx, externalID)
		if errors.Is(err, orders.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		res = &CreateResult{Order: o, Idempotent: true}
		if res.Items, err = tx.ListOrderItems(ctx, o.ID); err != nil {
			return err
		}
		res.Reservations, err = tx.ListReservations(ctx, o.ID)
		return err
	})
	if err != nil {
		return nil, orders.Wrap(err, "lookup external id")
	}
	return res, nil
}

func (p *Processor) buildOrder(req *orders.CreateOrderRequest, vres *validation.Result, at time.Time) (*orders.Order, []orders.OrderItem) {
	o := &orders.Order{
		ID:                   uuid.NewString(),
		OrderNumber:          NewOrderNumber(at),
		ExternalID:           req.ExternalID,
		CustomerID:           req.CustomerID,
		ShippingFee:          req.ShippingFee,
		Discount:             req.Discount,
		Tax:                  req.Tax,
		UpfrontPaid:          req.UpfrontPaid,
		PaymentMethod:        req.PaymentMethod,
		Status:               orders.StatusPending,
		VerificationRequired: vres.VerificationRequired,
		VerificationStatus:   orders.VerificationNotRequired,
		PromoCode:            req.PromoCode,
		ShippingAddress:      *req.ShippingAddress,
		Source:               req.Source,
		ClientIP:             req.ClientIP,
		UserAgent:            req.UserAgent,
		CreatedAt:            at,
		UpdatedAt:            at,
	}
	if o.Source == "" {
		o.Source = "api"
	}
	if o.VerificationRequired {
		o.VerificationStatus = orders.VerificationPending
	}
	o.ShippingAddress.Phone = validation.NormalizePhone(o.ShippingAddress.Phone)

	items := make([]orders.OrderItem, 0, len(vres.Lines))
	subtotal := decimal.Zero
	for _, l := range vres.Lines {
		it := orders.OrderItem{
			ID:          uuid.NewString(),
			OrderID:     o.ID,
			ProductID:   l.Product.ID,
			ProductName: l.Product.Name,
			SKU:         l.Product.SKU,
			Quantity:    l.Request.Quantity,
			UnitPrice:   l.UnitPrice,
			TotalPrice:  l.TotalPrice,
		}
		if l.Variant != nil {
			it.VariantID = l.Variant.ID
			it.VariantDetails = l.Variant.Name + ": " + l.Variant.Value
		}
		subtotal = subtotal.Add(l.TotalPrice)
		items = append(items, it)
	}
	// Amounts come from catalog prices; the declared ones only had to agree within a cent.
	o.Subtotal = subtotal
	o.Total = subtotal.Add(o.ShippingFee).Add(o.Tax).Sub(o.Discount)
	o.RemainingBalance = o.Total.Sub(o.UpfrontPaid)
	if o.RemainingBalance.IsNegative() {
		o.RemainingBalance = decimal.Zero
	}
	switch {
	case o.UpfrontPaid.IsZero():
		o.PaymentStatus = orders.PaymentStatusPending
	case o.RemainingBalance.IsZero():
		o.PaymentStatus = orders.PaymentStatusPaid
	default:
		o.PaymentStatus = orders.PaymentStatusPartial
	}
	return o, items
}

// Confirm moves a pending order to confirmed and commits its reservations.
func (p *Processor) Confirm(ctx context.Context, orderID, note string, actor orders.Actor) (o *orders.Order, err error) {
	ctx, span := p.startSpan(ctx, "Confirm", orderID)
	defer func() { endSpan(span, err) }()
	if actor == "" {
		actor = orders.ActorAdmin
	}

	err = p.inTx(ctx, orderID, func(tx orders.Tx) error {
		var err error
		if o, err = tx.GetOrderForUpdate(ctx, orderID); err != nil {
			return err
		}
		if o.Status != orders.StatusPending {
			return orders.InvalidTransition(string(o.Status), string(orders.StatusConfirmed))
		}
		if o.VerificationStatus == orders.VerificationRejected {
			return orders.StateError(orders.CodeVerificationRejected, "order verification was rejected")
		}
		if !o.VerificationStatus.Cleared() {
			return orders.StateError(orders.CodeVerificationPending, "order verification is "+string(o.VerificationStatus))
		}
		if _, err := p.Inventory.Commit(ctx, tx, orderID); err != nil {
			return err
		}

		now := p.now()
		o.Status = orders.StatusConfirmed
		o.ConfirmedAt = &now
		o.UpdatedAt = now
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return err
		}
		if _, err := p.History.Record(ctx, tx, orderID, orders.StatusPending, orders.StatusConfirmed, actor, note); err != nil {
			return err
		}
		if _, err := p.Queue.Enqueue(ctx, tx, orderID, orders.QueueFulfillment, queue.Priority(orders.QueueFulfillment), orders.FulfillmentPayload{
			OrderID: orderID, OrderNumber: o.OrderNumber, Stage: orders.StatusConfirmed,
		}); err != nil {
			return err
		}
		if err := p.notify(ctx, tx, o, orders.IntentOrderConfirmed, nil); err != nil {
			return err
		}
		return p.Metrics.Add(ctx, tx, orderID, orders.MetricDelta{PaymentMS: msBetween(o.CreatedAt, now)})
	})
	if err != nil {
		return nil, p.fail(ctx, orderID, "confirm", err)
	}
	p.cacheStatus(ctx, o)
	return o, nil
}

// Cancel is legal from pending, confirmed and processing. Cancelling a cancelled order is a no-op.
func (p *Processor) Cancel(ctx context.Context, orderID, reason string, actor orders.Actor) (o *orders.Order, err error) {
	ctx, span := p.startSpan(ctx, "Cancel", orderID)
	defer func() { endSpan(span, err) }()
	if actor == "" {
		actor = orders.ActorCustomer
	}

	noop := false
	err = p.inTx(ctx, orderID, func(tx orders.Tx) error {
		var err error
		if o, err = tx.GetOrderForUpdate(ctx, orderID); err != nil {
			return err
		}
		if o.Status == orders.StatusCancelled {
			noop = true
			return nil
		}
		return p.cancelInTx(ctx, tx, o, reason, actor)
	})
	if err != nil {
		return nil, p.fail(ctx, orderID, "cancel", err)
	}
	if !noop {
		p.cacheStatus(ctx, o)
	}
	return o, nil
}

// cancelInTx expects o to be locked by the caller.
func (p *Processor) cancelInTx(ctx context.Context, tx orders.Tx, o *orders.Order, reason string, actor orders.Actor) error {
	from := o.Status
	if !orders.CanTransition(from, orders.StatusCancelled) {
		return orders.InvalidTransition(string(from), string(orders.StatusCancelled))
	}
	if reason == "" {
		reason = "cancelled by " + string(actor)
	}
	released, err := p.Inventory.Release(ctx, tx, o.ID, reason)
	if err != nil {
		return err
	}
	returned, err := p.Inventory.ReturnCommitted(ctx, tx, o.ID)
	if err != nil {
		return err
	}

	now := p.now()
	o.Status = orders.StatusCancelled
	o.CancelledAt = &now
	o.CancellationReason = reason
	o.CancelledBy = actor
	o.UpdatedAt = now
	if err := tx.UpdateOrder(ctx, o); err != nil {
		return err
	}
	if _, err := p.History.Record(ctx, tx, o.ID, from, orders.StatusCancelled, actor, reason); err != nil {
		return err
	}
	if err := p.notify(ctx, tx, o, orders.IntentOrderCancelled, map[string]any{"reason": reason}); err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{
		"component": "processor",
		"order_id":  o.ID,
		"from":      from,
		"released":  released,
		"returned":  returned,
	}).Info("order cancelled")
	return p.Metrics.Add(ctx, tx, o.ID, orders.MetricDelta{TotalMS: msBetween(o.CreatedAt, now)})
}

var advanceIntents = map[orders.Status]string{
	orders.StatusProcessing: orders.IntentOrderProcessing,
	orders.StatusShipped:    orders.IntentOrderShipped,
	orders.StatusDelivered:  orders.IntentOrderDelivered,
}

// Advance moves an order one step along confirmed, processing, shipped, delivered.
func (p *Processor) Advance(ctx context.Context, orderID string, target orders.Status, actor orders.Actor, reason string) (o *orders.Order, err error) {
	ctx, span := p.startSpan(ctx, "Advance", orderID)
	defer func() { endSpan(span, err) }()
	if actor == "" {
		actor = orders.ActorAdmin
	}

	err = p.inTx(ctx, orderID, func(tx orders.Tx) error {
		var err error
		if o, err = tx.GetOrderForUpdate(ctx, orderID); err != nil {
			return err
		}
		intent, forward := advanceIntents[target]
		if !forward || !orders.CanTransition(o.Status, target) {
			return orders.InvalidTransition(string(o.Status), string(target))
		}

		from, now := o.Status, p.now()
		o.Status = target
		o.UpdatedAt = now
		delta := orders.MetricDelta{}
		switch target {
		case orders.StatusProcessing:
			o.ProcessingStartedAt = &now
		case orders.StatusShipped:
			o.ShippedAt = &now
		case orders.StatusDelivered:
			o.DeliveredAt = &now
			if o.ConfirmedAt != nil {
				delta.FulfillmentMS = msBetween(*o.ConfirmedAt, now)
			}
			delta.TotalMS = msBetween(o.CreatedAt, now)
		}
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return err
		}
		if _, err := p.History.Record(ctx, tx, orderID, from, target, actor, reason); err != nil {
			return err
		}
		if target == orders.StatusProcessing {
			if _, err := p.Queue.Enqueue(ctx, tx, orderID, orders.QueueFulfillment, queue.Priority(orders.QueueFulfillment), orders.FulfillmentPayload{
				OrderID: orderID, OrderNumber: o.OrderNumber, Stage: target,
			}); err != nil {
				return err
			}
		}
		if err := p.notify(ctx, tx, o, intent, nil); err != nil {
			return err
		}
		if target == orders.StatusDelivered {
			// customer lifetime stats live outside the engine
			if err := p.notify(ctx, tx, o, orders.IntentCustomerStatsUpdate, map[string]any{
				"total_amount": o.Total.StringFixed(2),
			}); err != nil {
				return err
			}
		}
		return p.Metrics.Add(ctx, tx, orderID, delta)
	})
	if err != nil {
		return nil, p.fail(ctx, orderID, "advance", err)
	}
	p.cacheStatus(ctx, o)
	return o, nil
}

// ApplyVerification records an external verification decision on a pending order. A rejection with
// Cancel set also cancels the order in the same transaction.
func (p *Processor) ApplyVerification(ctx context.Context, in orders.VerificationOutcome) (o *orders.Order, err error) {
	ctx, span := p.startSpan(ctx, "ApplyVerification", in.OrderID)
	defer func() { endSpan(span, err) }()

	if in.Decision != orders.VerificationApproved && in.Decision != orders.VerificationDenied {
		return nil, orders.NewValidation([]orders.FieldError{{
			Field: "status", Code: orders.CodeValidationFailed, Message: "status must be approved or rejected",
		}})
	}

	cancelled := false
	err = p.inTx(ctx, in.OrderID, func(tx orders.Tx) error {
		var err error
		if o, err = tx.GetOrderForUpdate(ctx, in.OrderID); err != nil {
			return err
		}
		if o.Status != orders.StatusPending {
			return orders.StateError(orders.CodeInvalidTransition, "verification outcome for "+string(o.Status)+" order")
		}
		if o.VerificationStatus != orders.VerificationPending && o.VerificationStatus != orders.VerificationUnderReview {
			return orders.StateError(orders.CodeInvalidTransition, "verification is "+string(o.VerificationStatus))
		}

		o.UpdatedAt = p.now()
		data := map[string]any{}
		if in.Reason != "" {
			data["reason"] = in.Reason
		}
		if in.Decision == orders.VerificationApproved {
			o.VerificationStatus = orders.VerificationVerified
			if err := p.notify(ctx, tx, o, orders.IntentVerificationApproved, data); err != nil {
				return err
			}
			return tx.UpdateOrder(ctx, o)
		}

		o.VerificationStatus = orders.VerificationRejected
		if err := p.notify(ctx, tx, o, orders.IntentVerificationRejected, data); err != nil {
			return err
		}
		if in.Cancel {
			reason := in.Reason
			if reason == "" {
				reason = "verification rejected"
			}
			cancelled = true
			return p.cancelInTx(ctx, tx, o, reason, orders.ActorAutomation)
		}
		return tx.UpdateOrder(ctx, o)
	})
	if err != nil {
		return nil, p.fail(ctx, in.OrderID, "verification", err)
	}
	if cancelled {
		p.cacheStatus(ctx, o)
	}
	return o, nil
}
