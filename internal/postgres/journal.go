package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ariefcatur/go-order-engine/internal/orders"
)

// queue

const queueColumns = `id, order_id, queue_type, priority, status, attempts, max_attempts, scheduled_at,
	COALESCE(last_error, ''), payload, created_at, updated_at, processed_at`

func scanQueueItem(row pgx.CollectableRow) (orders.QueueItem, error) {
	var q orders.QueueItem
	err := row.Scan(&q.ID, &q.OrderID, &q.Category, &q.Priority, &q.Status, &q.Attempts, &q.MaxAttempts, &q.ScheduledAt,
		&q.LastError, &q.Payload, &q.CreatedAt, &q.UpdatedAt, &q.ProcessedAt)
	return q, err
}

func (t *tx) InsertQueueItem(ctx context.Context, q *orders.QueueItem) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO order_processing_queue(id, order_id, queue_type, priority, status, attempts, max_attempts,
			scheduled_at, payload, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		q.ID, q.OrderID, q.Category, q.Priority, q.Status, q.Attempts, q.MaxAttempts,
		q.ScheduledAt, q.Payload, q.CreatedAt, q.UpdatedAt)
	return mapErr(err)
}

// ClaimQueueItems skips rows another worker already holds.
func (t *tx) ClaimQueueItems(ctx context.Context, categories []orders.QueueCategory, now time.Time, limit int) ([]orders.QueueItem, error) {
	var cats []string
	for _, c := range categories {
		cats = append(cats, string(c))
	}
	rows, err := t.q.Query(ctx, `
		SELECT `+queueColumns+` FROM order_processing_queue
		WHERE status IN ('pending', 'retry') AND scheduled_at <= $1
			AND (cardinality($2::text[]) = 0 OR queue_type = ANY($2::text[]))
		ORDER BY priority, scheduled_at
		LIMIT $3
		FOR UPDATE SKIP LOCKED`, now, cats, nullLimit(limit))
	if err != nil {
		return nil, mapErr(err)
	}
	return pgx.CollectRows(rows, scanQueueItem)
}

func (t *tx) GetQueueItemForUpdate(ctx context.Context, id string) (*orders.QueueItem, error) {
	rows, err := t.q.Query(ctx, `SELECT `+queueColumns+` FROM order_processing_queue WHERE id=$1 FOR UPDATE`, id)
	if err != nil {
		return nil, mapErr(err)
	}
	q, err := pgx.CollectExactlyOneRow(rows, scanQueueItem)
	if err != nil {
		return nil, notFound(err, "queue item", id)
	}
	return &q, nil
}

func (t *tx) UpdateQueueItem(ctx context.Context, q *orders.QueueItem) error {
	ct, err := t.q.Exec(ctx, `
		UPDATE order_processing_queue
		SET status=$2, attempts=$3, scheduled_at=$4, last_error=NULLIF($5, ''), updated_at=$6, processed_at=$7
		WHERE id=$1`, q.ID, q.Status, q.Attempts, q.ScheduledAt, q.LastError, q.UpdatedAt, q.ProcessedAt)
	if err != nil {
		return mapErr(err)
	}
	if ct.RowsAffected() == 0 {
		return orders.NotFound("queue item", q.ID)
	}
	return nil
}

func (t *tx) ListQueueItems(ctx context.Context, orderID string) ([]orders.QueueItem, error) {
	rows, err := t.q.Query(ctx, `
		SELECT `+queueColumns+` FROM order_processing_queue
		WHERE ($1::text = '' OR order_id = $1::text)
		ORDER BY created_at, id`, orderID)
	if err != nil {
		return nil, mapErr(err)
	}
	return pgx.CollectRows(rows, scanQueueItem)
}

// metrics

func (t *tx) InsertMetric(ctx context.Context, m *orders.Metric) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO order_metrics(order_id, validation_ms, reservation_ms, payment_ms, fulfillment_ms,
			total_processing_ms, error_count, retry_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		m.OrderID, m.ValidationMS, m.ReservationMS, m.PaymentMS, m.FulfillmentMS,
		m.TotalMS, m.ErrorCount, m.RetryCount, m.CreatedAt, m.UpdatedAt)
	return mapErr(err)
}

// AddMetric adds d to the order's row, creating it when missing.
func (t *tx) AddMetric(ctx context.Context, orderID string, d orders.MetricDelta, at time.Time) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO order_metrics AS m (order_id, validation_ms, reservation_ms, payment_ms, fulfillment_ms,
			total_processing_ms, error_count, retry_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		ON CONFLICT (order_id) DO UPDATE SET
			validation_ms       = m.validation_ms + EXCLUDED.validation_ms,
			reservation_ms      = m.reservation_ms + EXCLUDED.reservation_ms,
			payment_ms          = m.payment_ms + EXCLUDED.payment_ms,
			fulfillment_ms      = m.fulfillment_ms + EXCLUDED.fulfillment_ms,
			total_processing_ms = m.total_processing_ms + EXCLUDED.total_processing_ms,
			error_count         = m.error_count + EXCLUDED.error_count,
			retry_count         = m.retry_count + EXCLUDED.retry_count,
			updated_at          = EXCLUDED.updated_at`,
		orderID, d.ValidationMS, d.ReservationMS, d.PaymentMS, d.FulfillmentMS, d.TotalMS, d.Errors, d.Retries, at)
	return mapErr(err)
}

func (t *tx) GetMetric(ctx context.Context, orderID string) (*orders.Metric, error) {
	var m orders.Metric
	err := t.q.QueryRow(ctx, `
		SELECT order_id, validation_ms, reservation_ms, payment_ms, fulfillment_ms, total_processing_ms,
			error_count, retry_count, created_at, updated_at
		FROM order_metrics WHERE order_id=$1`, orderID).
		Scan(&m.OrderID, &m.ValidationMS, &m.ReservationMS, &m.PaymentMS, &m.FulfillmentMS, &m.TotalMS,
			&m.ErrorCount, &m.RetryCount, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, notFound(err, "metrics for order", orderID)
	}
	return &m, nil
}

// errors

const errorColumns = `id, COALESCE(order_id, ''), error_type, severity, COALESCE(error_code, ''), error_message,
	details, resolved, COALESCE(resolved_by, ''), COALESCE(resolution_notes, ''), resolved_at, created_at`

func scanError(row pgx.CollectableRow) (orders.OrderError, error) {
	var e orders.OrderError
	err := row.Scan(&e.ID, &e.OrderID, &e.Category, &e.Severity, &e.Code, &e.Message,
		&e.Details, &e.Resolved, &e.ResolvedBy, &e.ResolutionNotes, &e.ResolvedAt, &e.CreatedAt)
	return e, err
}

func (t *tx) InsertError(ctx context.Context, e *orders.OrderError) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO order_errors(id, order_id, error_type, severity, error_code, error_message, details, created_at)
		VALUES ($1, NULLIF($2, ''), $3, $4, NULLIF($5, ''), $6, $7, $8)`,
		e.ID, e.OrderID, e.Category, e.Severity, e.Code, e.Message, e.Details, e.CreatedAt)
	return mapErr(err)
}

func (t *tx) ListErrors(ctx context.Context, f orders.ErrorFilter) ([]orders.OrderError, error) {
	rows, err := t.q.Query(ctx, `
		SELECT `+errorColumns+` FROM order_errors
		WHERE ($1::text = '' OR order_id = $1::text) AND (NOT $2::boolean OR NOT resolved)
		ORDER BY created_at, id
		LIMIT $3`, f.OrderID, f.UnresolvedOnly, nullLimit(f.Limit))
	if err != nil {
		return nil, mapErr(err)
	}
	return pgx.CollectRows(rows, scanError)
}

func (t *tx) GetErrorForUpdate(ctx context.Context, id string) (*orders.OrderError, error) {
	rows, err := t.q.Query(ctx, `SELECT `+errorColumns+` FROM order_errors WHERE id=$1 FOR UPDATE`, id)
	if err != nil {
		return nil, mapErr(err)
	}
	e, err := pgx.CollectExactlyOneRow(rows, scanError)
	if err != nil {
		return nil, notFound(err, "order error", id)
	}
	return &e, nil
}

func (t *tx) UpdateError(ctx context.Context, e *orders.OrderError) error {
	ct, err := t.q.Exec(ctx, `
		UPDATE order_errors SET resolved=$2, resolved_by=NULLIF($3, ''), resolution_notes=NULLIF($4, ''), resolved_at=$5
		WHERE id=$1`, e.ID, e.Resolved, e.ResolvedBy, e.ResolutionNotes, e.ResolvedAt)
	if err != nil {
		return mapErr(err)
	}
	if ct.RowsAffected() == 0 {
		return orders.NotFound("order error", e.ID)
	}
	return nil
}
