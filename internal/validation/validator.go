// Package validation checks a create-order request against the catalog without writing anything.
package validation

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/ariefcatur/go-order-engine/internal/orders"
)

const (
	MaxLines       = 50
	MinQuantity    = 1
	MaxQuantity    = 100
	DefaultPattern = `^(09|\+639|639)\d{9}$`
)

var tolerance = decimal.NewFromFloat(0.01)

type Config struct {
	CODThreshold        decimal.Decimal
	MaxOrderWarning     decimal.Decimal
	LowStockMargin      int
	PendingOrderWarning int
	PhonePattern        string
	// NewCustomerOrders > 0 also gates every cash-on-delivery order from a customer
	// with fewer delivered orders than this.
	NewCustomerOrders int
}

func DefaultConfig() Config {
	return Config{
		CODThreshold:        decimal.NewFromInt(50000),
		MaxOrderWarning:     decimal.NewFromInt(500000),
		LowStockMargin:      5,
		PendingOrderWarning: 5,
		PhonePattern:        DefaultPattern,
	}
}

// Line is a request line resolved against the catalog.
type Line struct {
	Request    orders.LineRequest
	Product    orders.Product
	Variant    *orders.Variant
	UnitPrice  decimal.Decimal
	TotalPrice decimal.Decimal
}

func (l Line) Name() string {
	if l.Variant != nil {
		return fmt.Sprintf("%s (%s: %s)", l.Product.Name, l.Variant.Name, l.Variant.Value)
	}
	return l.Product.Name
}

type Result struct {
	Valid                bool                `json:"valid"`
	Errors               []orders.FieldError `json:"errors,omitempty"`
	Warnings             []string            `json:"warnings,omitempty"`
	VerificationRequired bool                `json:"verification_required"`
	Lines                []Line              `json:"-"`
	// Total is recomputed from catalog prices, not taken from the request.
	Total decimal.Decimal `json:"-"`
}

// Err returns the result as a validation *orders.Error, or nil when valid.
func (r *Result) Err() error {
	if r.Valid {
		return nil
	}
	return orders.NewValidation(r.Errors)
}

type Validator struct {
	Catalog orders.Catalog
	Config  Config
	Now     func() time.Time

	phone *regexp.Regexp
}

func New(catalog orders.Catalog, cfg Config) (*Validator, error) {
	if cfg.PhonePattern == "" {
		cfg.PhonePattern = DefaultPattern
	}
	re, err := regexp.Compile(cfg.PhonePattern)
	if err != nil {
		return nil, fmt.Errorf("phone pattern: %w", err)
	}
	return &Validator{Catalog: catalog, Config: cfg, Now: time.Now, phone: re}, nil
}

// check accumulates the field errors of one category.
type check struct {
	errs     []orders.FieldError
	warnings []string
}

func (c *check) add(field, code, format string, args ...any) {
	c.errs = append(c.errs, orders.FieldError{Field: field, Code: code, Message: fmt.Sprintf(format, args...)})
}

// Validate runs the checks category by category and stops at the first category with errors.
// Catalog failures other than not-found produce a single SYSTEM_ERROR.
func (v *Validator) Validate(ctx context.Context, req *orders.CreateOrderRequest) *Result {
	res := &Result{}
	var (
		customer *orders.Customer
		lines    []Line
	)

	steps := []func(*check) error{
		func(c *check) error {
			var err error
			customer, err = v.customer(ctx, c, req)
			return err
		},
		func(c *check) error { v.items(c, req); return nil },
		func(c *check) error {
			var err error
			lines, err = v.products(ctx, c, req)
			return err
		},
		func(c *check) error { v.amounts(c, req, lines); return nil },
		func(c *check) error { v.payment(c, req); return nil },
		func(c *check) error { v.address(c, req); return nil },
		func(c *check) error { return v.promo(ctx, c, req) },
	}
	for _, step := range steps {
		c := &check{}
		if err := step(c); err != nil {
			logrus.WithFields(logrus.Fields{"component": "validation", "customer_id": req.CustomerID}).WithError(err).Error("catalog lookup failed")
			return &Result{Errors: []orders.FieldError{{Code: orders.CodeSystemError, Message: "order could not be validated, try again"}}}
		}
		res.Warnings = append(res.Warnings, c.warnings...)
		if len(c.errs) > 0 {
			res.Errors = c.errs
			return res
		}
	}

	res.Valid = true
	res.Lines = lines
	res.Total = catalogTotal(req, lines)
	v.verification(ctx, res, req, customer)

	if res.Total.GreaterThan(v.Config.MaxOrderWarning) {
		res.Warnings = append(res.Warnings, fmt.Sprintf("order exceeds %s and requires special approval", v.Config.MaxOrderWarning.StringFixed(2)))
	}
	if v.Config.PendingOrderWarning > 0 {
		n, err := v.Catalog.PendingOrderCount(ctx, req.CustomerID)
		if err != nil {
			logrus.WithFields(logrus.Fields{"component": "validation", "customer_id": req.CustomerID}).WithError(err).Warn("pending order count failed")
		} else if n >= v.Config.PendingOrderWarning {
			res.Warnings = append(res.Warnings, fmt.Sprintf("customer has %d pending orders", n))
		}
	}
	return res
}

func (v *Validator) customer(ctx context.Context, c *check, req *orders.CreateOrderRequest) (*orders.Customer, error) {
	if strings.TrimSpace(req.CustomerID) == "" {
		c.add("customer_id", orders.CodeCustomerInvalid, "customer is required")
		return nil, nil
	}
	cust, err := v.Catalog.Customer(ctx, req.CustomerID)
	if errors.Is(err, orders.ErrNotFound) {
		c.add("customer_id", orders.CodeCustomerInvalid, "customer %s not found", req.CustomerID)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if cust.AccountStatus != "active" {
		c.add("customer_id", orders.CodeCustomerInvalid, "customer account is %s", cust.AccountStatus)
	}
	return cust, nil
}

func (v *Validator) items(c *check, req *orders.CreateOrderRequest) {
	if len(req.Items) == 0 {
		c.add("items", orders.CodeItemsInvalid, "order must have at least one item")
		return
	}
	if len(req.Items) > MaxLines {
		c.add("items", orders.CodeItemsInvalid, "order cannot have more than %d items", MaxLines)
		return
	}
	seen := map[orders.StockKey]int{}
	for i, it := range req.Items {
		if strings.TrimSpace(it.ProductID) == "" {
			c.add(fmt.Sprintf("items[%d].product_id", i), orders.CodeItemsInvalid, "product is required")
			continue
		}
		if first, dup := seen[it.StockKey()]; dup {
			c.add(fmt.Sprintf("items[%d]", i), orders.CodeItemsInvalid, "duplicate of items[%d]", first)
			continue
		}
		seen[it.StockKey()] = i
		if it.Quantity < MinQuantity || it.Quantity > MaxQuantity {
			c.add(fmt.Sprintf("items[%d].quantity", i), orders.CodeQuantityLimit, "quantity must be between %d and %d", MinQuantity, MaxQuantity)
		}
	}
}

func (v *Validator) products(ctx context.Context, c *check, req *orders.CreateOrderRequest) ([]Line, error) {
	lines := make([]Line, 0, len(req.Items))
	for i, it := range req.Items {
		field := fmt.Sprintf("items[%d]", i)
		p, err := v.Catalog.Product(ctx, it.ProductID)
		if errors.Is(err, orders.ErrNotFound) {
			c.add(field+".product_id", orders.CodeProductUnavailable, "product %s not found", it.ProductID)
			continue
		}
		if err != nil {
			return nil, err
		}
		if p.Status != "active" {
			c.add(field+".product_id", orders.CodeProductUnavailable, "%s is not available", p.Name)
			continue
		}

		line := Line{Request: it, Product: *p, UnitPrice: p.BasePrice}
		available := p.Stock
		if it.VariantID != "" {
			vr, err := v.Catalog.Variant(ctx, it.VariantID)
			if errors.Is(err, orders.ErrNotFound) || (err == nil && vr.ProductID != p.ID) {
				c.add(field+".variant_id", orders.CodeProductUnavailable, "variant %s not found for %s", it.VariantID, p.Name)
				continue
			}
			if err != nil {
				return nil, err
			}
			if !vr.Available {
				c.add(field+".variant_id", orders.CodeProductUnavailable, "%s %s is not available", p.Name, vr.Value)
				continue
			}
			line.Variant = vr
			line.UnitPrice = line.UnitPrice.Add(vr.PriceAdjustment)
			available = vr.Stock
		}
		line.TotalPrice = line.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity)))

		switch {
		case available < it.Quantity:
			c.warnings = append(c.warnings, fmt.Sprintf("only %d of %s in stock, reservation will likely fail", available, line.Name()))
		case available < it.Quantity+v.Config.LowStockMargin:
			c.warnings = append(c.warnings, fmt.Sprintf("low stock for %s: only %d remaining", line.Name(), available))
		}
		lines = append(lines, line)
	}
	return lines, nil
}

func (v *Validator) amounts(c *check, req *orders.CreateOrderRequest, lines []Line) {
	nonNegative := map[string]decimal.Decimal{
		"shipping_fee":    req.ShippingFee,
		"discount_amount": req.Discount,
		"tax_amount":      req.Tax,
		"upfront_paid":    req.UpfrontPaid,
	}
	keys := make([]string, 0, len(nonNegative))
	for k := range nonNegative {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if nonNegative[k].IsNegative() {
			c.add(k, orders.CodeAmountMismatch, "%s cannot be negative", k)
		}
	}
	if !req.Subtotal.IsPositive() {
		c.add("subtotal", orders.CodeAmountMismatch, "subtotal must be positive")
	}
	if !req.Total.IsPositive() {
		c.add("total_amount", orders.CodeAmountMismatch, "total must be positive")
	}
	if len(c.errs) > 0 {
		return
	}

	sum := decimal.Zero
	for _, l := range lines {
		sum = sum.Add(l.TotalPrice)
	}
	if sum.Sub(req.Subtotal).Abs().GreaterThan(tolerance) {
		c.add("subtotal", orders.CodeAmountMismatch, "subtotal %s does not match item total %s", req.Subtotal.StringFixed(2), sum.StringFixed(2))
	}
	expected := req.Subtotal.Add(req.ShippingFee).Add(req.Tax).Sub(req.Discount)
	if expected.Sub(req.Total).Abs().GreaterThan(tolerance) {
		c.add("total_amount", orders.CodeAmountMismatch, "total %s does not match expected %s", req.Total.StringFixed(2), expected.StringFixed(2))
	}
	if req.UpfrontPaid.GreaterThan(req.Total) {
		c.add("upfront_paid", orders.CodeAmountMismatch, "upfront payment exceeds total")
	}
}

func (v *Validator) payment(c *check, req *orders.CreateOrderRequest) {
	methods := make([]any, 0, len(orders.PaymentMethods))
	for _, m := range orders.PaymentMethods {
		methods = append(methods, m)
	}
	err := validation.Validate(req.PaymentMethod,
		validation.Required.Error("payment method is required"),
		validation.In(methods...).Error("unsupported payment method"),
	)
	if err != nil {
		c.add("payment_method", orders.CodePaymentInvalid, "%s", err.Error())
	}
}

// NormalizePhone strips spaces and dashes.
func NormalizePhone(phone string) string {
	return strings.NewReplacer(" ", "", "-", "").Replace(phone)
}

func (v *Validator) address(c *check, req *orders.CreateOrderRequest) {
	if req.ShippingAddress == nil {
		c.add("shipping_address", orders.CodeAddressIncomplete, "shipping address is required")
		return
	}
	a := *req.ShippingAddress
	a.Phone = NormalizePhone(a.Phone)
	err := validation.ValidateStruct(&a,
		validation.Field(&a.RecipientName, validation.Required),
		validation.Field(&a.Phone, validation.Required, validation.Match(v.phone).Error("invalid phone number format")),
		validation.Field(&a.AddressLine, validation.Required),
		validation.Field(&a.City, validation.Required),
		validation.Field(&a.Province, validation.Required),
	)
	var fieldErrs validation.Errors
	if !errors.As(err, &fieldErrs) {
		if err != nil {
			c.add("shipping_address", orders.CodeAddressIncomplete, "%s", err.Error())
		}
		return
	}
	names := make([]string, 0, len(fieldErrs))
	for name := range fieldErrs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		c.add("shipping_address."+name, orders.CodeAddressIncomplete, "%s", fieldErrs[name].Error())
	}
}

func (v *Validator) promo(ctx context.Context, c *check, req *orders.CreateOrderRequest) error {
	code := strings.TrimSpace(req.PromoCode)
	if code == "" {
		return nil
	}
	p, err := v.Catalog.Promo(ctx, code)
	if errors.Is(err, orders.ErrNotFound) {
		c.add("promo_code", orders.CodePromoInvalid, "promo code %s not found", code)
		return nil
	}
	if err != nil {
		return err
	}
	now := v.now()
	switch {
	case !p.Active:
		c.add("promo_code", orders.CodePromoInvalid, "promo code is not active")
	case now.Before(p.StartsAt):
		c.add("promo_code", orders.CodePromoInvalid, "promo code is not yet valid")
	case !p.EndsAt.IsZero() && now.After(p.EndsAt):
		c.add("promo_code", orders.CodePromoInvalid, "promo code has expired")
	case p.UsageLimit > 0 && p.UsageCount >= p.UsageLimit:
		c.add("promo_code", orders.CodePromoInvalid, "promo code usage limit reached")
	case req.Subtotal.LessThan(p.MinPurchase):
		c.add("promo_code", orders.CodePromoInvalid, "minimum purchase of %s required", p.MinPurchase.StringFixed(2))
	}
	return nil
}

func catalogTotal(req *orders.CreateOrderRequest, lines []Line) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range lines {
		sum = sum.Add(l.TotalPrice)
	}
	return sum.Add(req.ShippingFee).Add(req.Tax).Sub(req.Discount)
}

func (v *Validator) verification(ctx context.Context, res *Result, req *orders.CreateOrderRequest, cust *orders.Customer) {
	if req.PaymentMethod != orders.PaymentCOD {
		return
	}
	reason := ""
	switch {
	case res.Total.GreaterThan(v.Config.CODThreshold):
		reason = "order requires verification due to high value cash-on-delivery payment"
	case v.newCustomer(ctx, req.CustomerID):
		reason = "order requires verification for cash-on-delivery from a new customer"
	default:
		return
	}
	if cust != nil && cust.TrustedBuyer {
		res.Warnings = append(res.Warnings, "verification skipped for trusted buyer")
		return
	}
	res.VerificationRequired = true
	res.Warnings = append(res.Warnings, reason)
}

// newCustomer reports whether the customer has fewer delivered orders than NewCustomerOrders.
// A failed lookup counts as new.
func (v *Validator) newCustomer(ctx context.Context, customerID string) bool {
	if v.Config.NewCustomerOrders <= 0 {
		return false
	}
	n, err := v.Catalog.DeliveredOrderCount(ctx, customerID)
	if err != nil {
		logrus.WithFields(logrus.Fields{"component": "validation", "customer_id": customerID}).WithError(err).Warn("delivered order count failed")
		return true
	}
	return n < v.Config.NewCustomerOrders
}

func (v *Validator) now() time.Time {
	if v.Now == nil {
		return time.Now()
	}
	return v.Now()
}
