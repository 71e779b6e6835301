package postgres

import (
	"context"

	"github.com/ariefcatur/go-order-engine/internal/orders"
)

// Catalog reads run outside engine transactions; stock figures are a snapshot for warnings only.

func (s *Store) Customer(ctx context.Context, id string) (*orders.Customer, error) {
	var c orders.Customer
	err := s.DB.QueryRow(ctx, `SELECT id, name, account_status, trusted_buyer FROM customers WHERE id=$1`, id).
		Scan(&c.ID, &c.Name, &c.AccountStatus, &c.TrustedBuyer)
	if err != nil {
		return nil, notFound(err, "customer", id)
	}
	return &c, nil
}

func (s *Store) Product(ctx context.Context, id string) (*orders.Product, error) {
	var p orders.Product
	err := s.DB.QueryRow(ctx, `SELECT id, sku, name, status, base_price, stock_quantity FROM products WHERE id=$1`, id).
		Scan(&p.ID, &p.SKU, &p.Name, &p.Status, &p.BasePrice, &p.Stock)
	if err != nil {
		return nil, notFound(err, "product", id)
	}
	return &p, nil
}

func (s *Store) Variant(ctx context.Context, id string) (*orders.Variant, error) {
	var v orders.Variant
	err := s.DB.QueryRow(ctx, `
		SELECT id, product_id, variant_name, variant_value, price_adjustment, stock_quantity, is_available
		FROM product_variants WHERE id=$1`, id).
		Scan(&v.ID, &v.ProductID, &v.Name, &v.Value, &v.PriceAdjustment, &v.Stock, &v.Available)
	if err != nil {
		return nil, notFound(err, "variant", id)
	}
	return &v, nil
}

func (s *Store) Promo(ctx context.Context, code string) (*orders.Promo, error) {
	var p orders.Promo
	err := s.DB.QueryRow(ctx, `
		SELECT promo_code, is_active, start_date, end_date, usage_limit, usage_count, min_purchase_amount
		FROM promos WHERE promo_code=$1`, code).
		Scan(&p.Code, &p.Active, &p.StartsAt, &p.EndsAt, &p.UsageLimit, &p.UsageCount, &p.MinPurchase)
	if err != nil {
		return nil, notFound(err, "promo", code)
	}
	return &p, nil
}

func (s *Store) PendingOrderCount(ctx context.Context, customerID string) (int, error) {
	var n int
	err := s.DB.QueryRow(ctx, `SELECT COUNT(*) FROM orders WHERE customer_id=$1 AND order_status='pending'`, customerID).Scan(&n)
	return n, mapErr(err)
}

func (s *Store) DeliveredOrderCount(ctx context.Context, customerID string) (int, error) {
	var n int
	err := s.DB.QueryRow(ctx, `SELECT COUNT(*) FROM orders WHERE customer_id=$1 AND order_status='delivered'`, customerID).Scan(&n)
	return n, mapErr(err)
}
