package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ariefcatur/go-order-engine/internal/orders"
)

// LockStock takes FOR NO KEY UPDATE: it serialises stock writers without conflicting with the KEY SHARE
// locks that order_items and inventory_reservations foreign keys take on the same rows.
func (t *tx) LockStock(ctx context.Context, key orders.StockKey) (int, error) {
	var n int
	var err error
	if key.VariantID != "" {
		err = t.q.QueryRow(ctx, `SELECT stock_quantity FROM product_variants WHERE id=$1 AND product_id=$2 FOR NO KEY UPDATE`,
			key.VariantID, key.ProductID).Scan(&n)
	} else {
		err = t.q.QueryRow(ctx, `SELECT stock_quantity FROM products WHERE id=$1 FOR NO KEY UPDATE`, key.ProductID).Scan(&n)
	}
	if err != nil {
		return 0, notFound(err, "stock", key.String())
	}
	return n, nil
}

// AdjustStock never drives a counter below zero; the guard in the WHERE clause backs up the CHECK
// constraint so a shortage comes back as an inventory error instead of a constraint violation.
func (t *tx) AdjustStock(ctx context.Context, key orders.StockKey, delta int) error {
	var sql string
	args := []any{delta}
	if key.VariantID != "" {
		sql = `UPDATE product_variants SET stock_quantity = stock_quantity + $1
			WHERE id=$2 AND product_id=$3 AND stock_quantity + $1 >= 0`
		args = append(args, key.VariantID, key.ProductID)
	} else {
		sql = `UPDATE products SET stock_quantity = stock_quantity + $1, updated_at = now()
			WHERE id=$2 AND stock_quantity + $1 >= 0`
		args = append(args, key.ProductID)
	}
	ct, err := t.q.Exec(ctx, sql, args...)
	if err != nil {
		return mapErr(err)
	}
	if ct.RowsAffected() == 1 {
		return nil
	}
	available, err := t.LockStock(ctx, key)
	if err != nil {
		return err
	}
	return orders.InsufficientStock([]orders.Shortage{{Key: key, Requested: -delta, Available: available}})
}

const reservationColumns = `id, order_id, order_item_id, product_id, COALESCE(variant_id, ''), quantity, status,
	reserved_at, expires_at, committed_at, released_at, COALESCE(release_reason, '')`

func (t *tx) InsertReservation(ctx context.Context, r *orders.Reservation) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO inventory_reservations(id, order_id, order_item_id, product_id, variant_id, quantity, status,
			reserved_at, expires_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $9)`,
		r.ID, r.OrderID, r.OrderItemID, r.ProductID, r.VariantID, r.Quantity, r.Status, r.ReservedAt, r.ExpiresAt)
	return mapErr(err)
}

func (t *tx) ListReservations(ctx context.Context, orderID string) ([]orders.Reservation, error) {
	return t.listReservations(ctx, `SELECT `+reservationColumns+` FROM inventory_reservations
		WHERE order_id=$1 ORDER BY product_id, COALESCE(variant_id, ''), id`, orderID)
}

// ListReservationsForUpdate locks in stock key order, the same order Reserve locks counters in.
func (t *tx) ListReservationsForUpdate(ctx context.Context, orderID string) ([]orders.Reservation, error) {
	return t.listReservations(ctx, `SELECT `+reservationColumns+` FROM inventory_reservations
		WHERE order_id=$1 ORDER BY product_id, COALESCE(variant_id, ''), id FOR UPDATE`, orderID)
}

func (t *tx) listReservations(ctx context.Context, sql, orderID string) ([]orders.Reservation, error) {
	rows, err := t.q.Query(ctx, sql, orderID)
	if err != nil {
		return nil, mapErr(err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (orders.Reservation, error) {
		var r orders.Reservation
		err := row.Scan(&r.ID, &r.OrderID, &r.OrderItemID, &r.ProductID, &r.VariantID, &r.Quantity, &r.Status,
			&r.ReservedAt, &r.ExpiresAt, &r.CommittedAt, &r.ReleasedAt, &r.ReleaseReason)
		return r, err
	})
}

func (t *tx) UpdateReservation(ctx context.Context, r *orders.Reservation) error {
	ct, err := t.q.Exec(ctx, `
		UPDATE inventory_reservations
		SET status=$2, committed_at=$3, released_at=$4, release_reason=NULLIF($5, '')
		WHERE id=$1`, r.ID, r.Status, r.CommittedAt, r.ReleasedAt, r.ReleaseReason)
	if err != nil {
		return mapErr(err)
	}
	if ct.RowsAffected() == 0 {
		return orders.NotFound("reservation", r.ID)
	}
	return nil
}

func (t *tx) ListExpiredReservationOrders(ctx context.Context, now time.Time, limit int) ([]string, error) {
	rows, err := t.q.Query(ctx, `
		SELECT DISTINCT order_id FROM inventory_reservations
		WHERE status='reserved' AND expires_at < $1
		ORDER BY order_id LIMIT $2`, now, nullLimit(limit))
	if err != nil {
		return nil, mapErr(err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}
