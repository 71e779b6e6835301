package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ariefcatur/go-order-engine/internal/orders"
)

const orderColumns = `id, order_number, COALESCE(external_id, ''), customer_id,
	subtotal, shipping_fee, discount_amount, tax_amount, total_amount, upfront_paid, remaining_balance,
	payment_method, payment_status, order_status, verification_required, verification_status,
	COALESCE(promo_code, ''), shipping_address, order_source, COALESCE(ip_address, ''), COALESCE(user_agent, ''),
	error_count, retry_count, COALESCE(last_error, ''), COALESCE(cancellation_reason, ''), COALESCE(cancelled_by, ''),
	created_at, updated_at, confirmed_at, processing_started_at, shipped_at, delivered_at, cancelled_at`

func scanOrder(row pgx.Row) (*orders.Order, error) {
	var o orders.Order
	err := row.Scan(&o.ID, &o.OrderNumber, &o.ExternalID, &o.CustomerID,
		&o.Subtotal, &o.ShippingFee, &o.Discount, &o.Tax, &o.Total, &o.UpfrontPaid, &o.RemainingBalance,
		&o.PaymentMethod, &o.PaymentStatus, &o.Status, &o.VerificationRequired, &o.VerificationStatus,
		&o.PromoCode, &o.ShippingAddress, &o.Source, &o.ClientIP, &o.UserAgent,
		&o.ErrorCount, &o.RetryCount, &o.LastError, &o.CancellationReason, &o.CancelledBy,
		&o.CreatedAt, &o.UpdatedAt, &o.ConfirmedAt, &o.ProcessingStartedAt, &o.ShippedAt, &o.DeliveredAt, &o.CancelledAt)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (t *tx) InsertOrder(ctx context.Context, o *orders.Order) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO orders(id, order_number, external_id, customer_id,
			subtotal, shipping_fee, discount_amount, tax_amount, total_amount, upfront_paid, remaining_balance,
			payment_method, payment_status, order_status, verification_required, verification_status,
			promo_code, shipping_address, order_source, ip_address, user_agent, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
			NULLIF($17, ''), $18, $19, NULLIF($20, ''), NULLIF($21, ''), $22, $23)`,
		o.ID, o.OrderNumber, o.ExternalID, o.CustomerID,
		o.Subtotal, o.ShippingFee, o.Discount, o.Tax, o.Total, o.UpfrontPaid, o.RemainingBalance,
		o.PaymentMethod, o.PaymentStatus, o.Status, o.VerificationRequired, o.VerificationStatus,
		o.PromoCode, o.ShippingAddress, o.Source, o.ClientIP, o.UserAgent, o.CreatedAt, o.UpdatedAt)
	return mapErr(err)
}

func (t *tx) GetOrder(ctx context.Context, id string) (*orders.Order, error) {
	o, err := scanOrder(t.q.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, id))
	if err != nil {
		return nil, notFound(err, "order", id)
	}
	return o, nil
}

func (t *tx) GetOrderForUpdate(ctx context.Context, id string) (*orders.Order, error) {
	o, err := scanOrder(t.q.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFound(err, "order", id)
	}
	return o, nil
}

func (t *tx) GetOrderByExternalID(ctx context.Context, externalID string) (*orders.Order, error) {
	o, err := scanOrder(t.q.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE external_id=$1`, externalID))
	if err != nil {
		return nil, notFound(err, "order with external id", externalID)
	}
	return o, nil
}

func (t *tx) UpdateOrder(ctx context.Context, o *orders.Order) error {
	ct, err := t.q.Exec(ctx, `
		UPDATE orders SET
			payment_status=$2, order_status=$3, verification_status=$4, remaining_balance=$5, upfront_paid=$6,
			error_count=$7, retry_count=$8, last_error=NULLIF($9, ''),
			cancellation_reason=NULLIF($10, ''), cancelled_by=NULLIF($11, ''), updated_at=$12,
			confirmed_at=$13, processing_started_at=$14, shipped_at=$15, delivered_at=$16, cancelled_at=$17
		WHERE id=$1`,
		o.ID, o.PaymentStatus, o.Status, o.VerificationStatus, o.RemainingBalance, o.UpfrontPaid,
		o.ErrorCount, o.RetryCount, o.LastError,
		o.CancellationReason, o.CancelledBy, o.UpdatedAt,
		o.ConfirmedAt, o.ProcessingStartedAt, o.ShippedAt, o.DeliveredAt, o.CancelledAt)
	if err != nil {
		return mapErr(err)
	}
	if ct.RowsAffected() == 0 {
		return orders.NotFound("order", o.ID)
	}
	return nil
}

func (t *tx) InsertOrderItems(ctx context.Context, items []orders.OrderItem) error {
	for _, it := range items {
		_, err := t.q.Exec(ctx, `
			INSERT INTO order_items(id, order_id, product_id, variant_id, product_name, sku, variant_details,
				quantity, unit_price, total_price, inventory_reserved, reserved_at, released_at)
			VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, NULLIF($7, ''), $8, $9, $10, $11, $12, $13)`,
			it.ID, it.OrderID, it.ProductID, it.VariantID, it.ProductName, it.SKU, it.VariantDetails,
			it.Quantity, it.UnitPrice, it.TotalPrice, it.InventoryReserved, it.ReservedAt, it.ReleasedAt)
		if err != nil {
			return mapErr(err)
		}
	}
	return nil
}

func (t *tx) ListOrderItems(ctx context.Context, orderID string) ([]orders.OrderItem, error) {
	rows, err := t.q.Query(ctx, `
		SELECT id, order_id, product_id, COALESCE(variant_id, ''), product_name, sku, COALESCE(variant_details, ''),
			quantity, unit_price, total_price, inventory_reserved, reserved_at, released_at
		FROM order_items WHERE order_id=$1 ORDER BY id`, orderID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []orders.OrderItem
	for rows.Next() {
		var it orders.OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.VariantID, &it.ProductName, &it.SKU, &it.VariantDetails,
			&it.Quantity, &it.UnitPrice, &it.TotalPrice, &it.InventoryReserved, &it.ReservedAt, &it.ReleasedAt); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (t *tx) SetItemReservation(ctx context.Context, itemID string, reserved bool, at time.Time) error {
	ct, err := t.q.Exec(ctx, `
		UPDATE order_items SET inventory_reserved=$2::boolean,
			reserved_at = CASE WHEN $2::boolean THEN $3::timestamptz ELSE reserved_at END,
			released_at = CASE WHEN $2::boolean THEN released_at ELSE $3::timestamptz END
		WHERE id=$1`, itemID, reserved, at)
	if err != nil {
		return mapErr(err)
	}
	if ct.RowsAffected() == 0 {
		return orders.NotFound("order item", itemID)
	}
	return nil
}

func (t *tx) InsertHistory(ctx context.Context, h *orders.StateHistory) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO order_state_history(id, order_id, from_status, to_status, changed_by_type, reason, created_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, NULLIF($6, ''), $7)`,
		h.ID, h.OrderID, h.FromStatus, h.ToStatus, h.Actor, h.Reason, h.CreatedAt)
	return mapErr(err)
}

func (t *tx) ListHistory(ctx context.Context, orderID string) ([]orders.StateHistory, error) {
	rows, err := t.q.Query(ctx, `
		SELECT id, order_id, COALESCE(from_status, ''), to_status, changed_by_type, COALESCE(reason, ''), created_at
		FROM order_state_history WHERE order_id=$1 ORDER BY created_at, id`, orderID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []orders.StateHistory
	for rows.Next() {
		var h orders.StateHistory
		if err := rows.Scan(&h.ID, &h.OrderID, &h.FromStatus, &h.ToStatus, &h.Actor, &h.Reason, &h.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
