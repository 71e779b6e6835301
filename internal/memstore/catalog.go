package memstore

import (
	"context"

	"github.com/ariefcatur/go-order-engine/internal/orders"
)

var _ orders.Catalog = (*Store)(nil)

func (s *Store) AddCustomer(c orders.Customer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.committed.customers[c.ID] = c
}

// AddProduct registers p and seeds its stock counter with p.Stock.
func (s *Store) AddProduct(p orders.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.committed.products[p.ID] = p
	s.committed.stock[orders.StockKey{ProductID: p.ID}] = p.Stock
}

// AddVariant registers v and seeds its stock counter with v.Stock.
func (s *Store) AddVariant(v orders.Variant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.committed.variants[v.ID] = v
	s.committed.stock[orders.StockKey{ProductID: v.ProductID, VariantID: v.ID}] = v.Stock
}

func (s *Store) AddPromo(p orders.Promo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.committed.promos[p.Code] = p
}

func (s *Store) Customer(_ context.Context, id string) (*orders.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.committed.customers[id]
	if !ok {
		return nil, orders.NotFound("customer", id)
	}
	return &c, nil
}

func (s *Store) Product(_ context.Context, id string) (*orders.Product, error) {
	if err := s.fail("Product"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.committed.products[id]
	if !ok {
		return nil, orders.NotFound("product", id)
	}
	p.Stock = s.committed.stock[orders.StockKey{ProductID: id}]
	return &p, nil
}

func (s *Store) Variant(_ context.Context, id string) (*orders.Variant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.committed.variants[id]
	if !ok {
		return nil, orders.NotFound("variant", id)
	}
	v.Stock = s.committed.stock[orders.StockKey{ProductID: v.ProductID, VariantID: id}]
	return &v, nil
}

func (s *Store) Promo(_ context.Context, code string) (*orders.Promo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.committed.promos[code]
	if !ok {
		return nil, orders.NotFound("promo", code)
	}
	return &p, nil
}

func (s *Store) PendingOrderCount(_ context.Context, customerID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, o := range s.committed.orders {
		if o.CustomerID == customerID && o.Status == orders.StatusPending {
			n++
		}
	}
	return n, nil
}

func (s *Store) DeliveredOrderCount(_ context.Context, customerID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, o := range s.committed.orders {
		if o.CustomerID == customerID && o.Status == orders.StatusDelivered {
			n++
		}
	}
	return n, nil
}
