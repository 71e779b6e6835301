package validation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-order-engine/internal/memstore"
	"github.com/ariefcatur/go-order-engine/internal/orders"
)

var now = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func newValidator(t *testing.T) (*Validator, *memstore.Store) {
	t.Helper()
	s := memstore.New()
	s.AddCustomer(orders.Customer{ID: "c1", Name: gofakeit.Name(), AccountStatus: "active"})
	s.AddCustomer(orders.Customer{ID: "trusted", Name: gofakeit.Name(), AccountStatus: "active", TrustedBuyer: true})
	s.AddCustomer(orders.Customer{ID: "banned", Name: gofakeit.Name(), AccountStatus: "suspended"})
	s.AddProduct(orders.Product{ID: "p1", SKU: "SKU-1", Name: "Shirt", Status: "active", BasePrice: decimal.NewFromInt(1000), Stock: 50})
	s.AddProduct(orders.Product{ID: "p2", SKU: "SKU-2", Name: "Old Shirt", Status: "discontinued", BasePrice: decimal.NewFromInt(500), Stock: 5})
	s.AddProduct(orders.Product{ID: "tv", SKU: "SKU-TV", Name: "TV", Status: "active", BasePrice: decimal.NewFromInt(60000), Stock: 3})
	s.AddVariant(orders.Variant{ID: "v1", ProductID: "p1", Name: "size", Value: "XL", PriceAdjustment: decimal.NewFromInt(50), Stock: 10, Available: true})
	s.AddVariant(orders.Variant{ID: "v2", ProductID: "p1", Name: "size", Value: "XS", Stock: 10, Available: false})
	s.AddPromo(orders.Promo{Code: "SALE", Active: true, StartsAt: now.Add(-24 * time.Hour), EndsAt: now.Add(24 * time.Hour), UsageLimit: 10, UsageCount: 1, MinPurchase: decimal.NewFromInt(500)})
	s.AddPromo(orders.Promo{Code: "OLD", Active: true, StartsAt: now.Add(-48 * time.Hour), EndsAt: now.Add(-24 * time.Hour)})

	v, err := New(s, DefaultConfig())
	require.NoError(t, err)
	v.Now = func() time.Time { return now }
	return v, s
}

func validRequest() *orders.CreateOrderRequest {
	return &orders.CreateOrderRequest{
		CustomerID:    "c1",
		Items:         []orders.LineRequest{{ProductID: "p1", Quantity: 1}},
		Subtotal:      decimal.NewFromInt(1000),
		ShippingFee:   decimal.NewFromInt(50),
		Total:         decimal.NewFromInt(1050),
		PaymentMethod: orders.PaymentCOD,
		ShippingAddress: &orders.Address{
			RecipientName: gofakeit.Name(),
			Phone:         "0917-123-4567",
			AddressLine:   gofakeit.Street(),
			City:          gofakeit.City(),
			Province:      gofakeit.State(),
		},
	}
}

func codes(r *Result) []string {
	out := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		out = append(out, e.Code)
	}
	return out
}

func TestValidate_Valid(t *testing.T) {
	v, _ := newValidator(t)
	res := v.Validate(context.Background(), validRequest())

	require.True(t, res.Valid, res.Errors)
	assert.Nil(t, res.Err())
	require.Len(t, res.Lines, 1)
	assert.True(t, decimal.NewFromInt(1000).Equal(res.Lines[0].UnitPrice))
	assert.False(t, res.VerificationRequired)
}

func TestValidate_VariantPricing(t *testing.T) {
	v, _ := newValidator(t)
	req := validRequest()
	req.Items = []orders.LineRequest{{ProductID: "p1", VariantID: "v1", Quantity: 2}}
	req.Subtotal = decimal.NewFromInt(2100)
	req.Total = decimal.NewFromInt(2150)

	res := v.Validate(context.Background(), req)
	require.True(t, res.Valid, res.Errors)
	assert.True(t, decimal.NewFromInt(1050).Equal(res.Lines[0].UnitPrice))
	assert.True(t, decimal.NewFromInt(2100).Equal(res.Lines[0].TotalPrice))
}

func TestValidate_Categories(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *orders.CreateOrderRequest)
		code   string
		field  string
	}{
		{"missing customer", func(r *orders.CreateOrderRequest) { r.CustomerID = "" }, orders.CodeCustomerInvalid, "customer_id"},
		{"unknown customer", func(r *orders.CreateOrderRequest) { r.CustomerID = "nobody" }, orders.CodeCustomerInvalid, "customer_id"},
		{"suspended customer", func(r *orders.CreateOrderRequest) { r.CustomerID = "banned" }, orders.CodeCustomerInvalid, "customer_id"},
		{"no items", func(r *orders.CreateOrderRequest) { r.Items = nil }, orders.CodeItemsInvalid, "items"},
		{"too many items", func(r *orders.CreateOrderRequest) {
			r.Items = make([]orders.LineRequest, MaxLines+1)
		}, orders.CodeItemsInvalid, "items"},
		{"duplicate line", func(r *orders.CreateOrderRequest) {
			r.Items = append(r.Items, orders.LineRequest{ProductID: "p1", Quantity: 1})
		}, orders.CodeItemsInvalid, "items[1]"},
		{"zero quantity", func(r *orders.CreateOrderRequest) { r.Items[0].Quantity = 0 }, orders.CodeQuantityLimit, "items[0].quantity"},
		{"quantity over limit", func(r *orders.CreateOrderRequest) { r.Items[0].Quantity = 101 }, orders.CodeQuantityLimit, "items[0].quantity"},
		{"unknown product", func(r *orders.CreateOrderRequest) { r.Items[0].ProductID = "nope" }, orders.CodeProductUnavailable, "items[0].product_id"},
		{"inactive product", func(r *orders.CreateOrderRequest) { r.Items[0].ProductID = "p2" }, orders.CodeProductUnavailable, "items[0].product_id"},
		{"unavailable variant", func(r *orders.CreateOrderRequest) { r.Items[0].VariantID = "v2" }, orders.CodeProductUnavailable, "items[0].variant_id"},
		{"subtotal mismatch", func(r *orders.CreateOrderRequest) {
			r.Subtotal = decimal.NewFromInt(900)
			r.Total = decimal.NewFromInt(950)
		}, orders.CodeAmountMismatch, "subtotal"},
		{"total mismatch", func(r *orders.CreateOrderRequest) { r.Total = decimal.NewFromInt(1100) }, orders.CodeAmountMismatch, "total_amount"},
		{"negative shipping", func(r *orders.CreateOrderRequest) { r.ShippingFee = decimal.NewFromInt(-1) }, orders.CodeAmountMismatch, "shipping_fee"},
		{"bad payment", func(r *orders.CreateOrderRequest) { r.PaymentMethod = "bitcoin" }, orders.CodePaymentInvalid, "payment_method"},
		{"missing address", func(r *orders.CreateOrderRequest) { r.ShippingAddress = nil }, orders.CodeAddressIncomplete, "shipping_address"},
		{"bad phone", func(r *orders.CreateOrderRequest) { r.ShippingAddress.Phone = "12345" }, orders.CodeAddressIncomplete, "shipping_address.phone"},
		{"missing city", func(r *orders.CreateOrderRequest) { r.ShippingAddress.City = "" }, orders.CodeAddressIncomplete, "shipping_address.city"},
		{"unknown promo", func(r *orders.CreateOrderRequest) { r.PromoCode = "NOPE" }, orders.CodePromoInvalid, "promo_code"},
		{"expired promo", func(r *orders.CreateOrderRequest) { r.PromoCode = "OLD" }, orders.CodePromoInvalid, "promo_code"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, _ := newValidator(t)
			req := validRequest()
			tt.mutate(req)

			res := v.Validate(context.Background(), req)
			require.False(t, res.Valid)
			require.NotEmpty(t, res.Errors)
			assert.Equal(t, tt.code, res.Errors[0].Code)
			assert.Equal(t, tt.field, res.Errors[0].Field)

			err := res.Err()
			assert.Equal(t, orders.KindValidation, orders.KindOf(err))
		})
	}
}

func TestValidate_ShortCircuitsOnFirstCategory(t *testing.T) {
	v, _ := newValidator(t)
	req := validRequest()
	req.CustomerID = "nobody"
	req.PaymentMethod = "bitcoin"
	req.ShippingAddress = nil

	res := v.Validate(context.Background(), req)
	assert.Equal(t, []string{orders.CodeCustomerInvalid}, codes(res))
}

func TestValidate_AccumulatesWithinCategory(t *testing.T) {
	v, _ := newValidator(t)
	req := validRequest()
	req.ShippingAddress.Phone = "abc"
	req.ShippingAddress.City = ""
	req.ShippingAddress.Province = ""

	res := v.Validate(context.Background(), req)
	require.Len(t, res.Errors, 3)
	assert.Equal(t, "shipping_address.city", res.Errors[0].Field)
	assert.Equal(t, "shipping_address.phone", res.Errors[1].Field)
	assert.Equal(t, "shipping_address.province", res.Errors[2].Field)
}

func TestValidate_PromoAccepted(t *testing.T) {
	v, _ := newValidator(t)
	req := validRequest()
	req.PromoCode = "SALE"
	res := v.Validate(context.Background(), req)
	assert.True(t, res.Valid, res.Errors)
}

func TestValidate_VerificationGate(t *testing.T) {
	v, _ := newValidator(t)
	req := validRequest()
	req.Items = []orders.LineRequest{{ProductID: "tv", Quantity: 1}}
	req.Subtotal = decimal.NewFromInt(60000)
	req.Total = decimal.NewFromInt(60050)

	res := v.Validate(context.Background(), req)
	require.True(t, res.Valid, res.Errors)
	assert.True(t, res.VerificationRequired)

	req.CustomerID = "trusted"
	res = v.Validate(context.Background(), req)
	require.True(t, res.Valid)
	assert.False(t, res.VerificationRequired)
	assert.Contains(t, res.Warnings, "verification skipped for trusted buyer")

	req.CustomerID = "c1"
	req.PaymentMethod = orders.PaymentGCash
	res = v.Validate(context.Background(), req)
	assert.False(t, res.VerificationRequired)
}

func TestValidate_VerificationUsesCatalogTotal(t *testing.T) {
	v, s := newValidator(t)
	s.AddProduct(orders.Product{ID: "edge", SKU: "SKU-EDGE", Name: "Edge", Status: "active", BasePrice: decimal.RequireFromString("50000.01"), Stock: 3})
	req := validRequest()
	req.Items = []orders.LineRequest{{ProductID: "edge", Quantity: 1}}
	// Declared amounts sit a cent below the catalog, inside the tolerance.
	req.Subtotal = decimal.NewFromInt(50000)
	req.ShippingFee = decimal.Zero
	req.Total = decimal.NewFromInt(50000)

	res := v.Validate(context.Background(), req)
	require.True(t, res.Valid, res.Errors)
	assert.True(t, res.Total.Equal(decimal.RequireFromString("50000.01")))
	assert.True(t, res.VerificationRequired)
}

func TestValidate_StockWarnings(t *testing.T) {
	v, s := newValidator(t)
	s.SetStock(orders.StockKey{ProductID: "p1"}, 3)

	res := v.Validate(context.Background(), validRequest())
	require.True(t, res.Valid)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "low stock")

	s.SetStock(orders.StockKey{ProductID: "p1"}, 0)
	res = v.Validate(context.Background(), validRequest())
	require.True(t, res.Valid)
	assert.Contains(t, res.Warnings[0], "will likely fail")
}

func TestValidate_CatalogFailure(t *testing.T) {
	v, s := newValidator(t)
	s.FailOn("Product", errors.New("connection reset"))

	res := v.Validate(context.Background(), validRequest())
	assert.False(t, res.Valid)
	assert.Equal(t, []string{orders.CodeSystemError}, codes(res))
}

func TestNew_BadPattern(t *testing.T) {
	_, err := New(memstore.New(), Config{PhonePattern: "("})
	assert.Error(t, err)
}
