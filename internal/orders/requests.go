package orders

import "github.com/shopspring/decimal"

type LineRequest struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id,omitempty"`
	Quantity  int    `json:"quantity"`
}

func (l LineRequest) StockKey() StockKey {
	return StockKey{ProductID: l.ProductID, VariantID: l.VariantID}
}

// CreateOrderRequest is the inbound purchase intent. Amounts are the customer-facing declaration and are
// checked against catalog prices before anything is written.
type CreateOrderRequest struct {
	ExternalID      string          `json:"external_id,omitempty"`
	CustomerID      string          `json:"customer_id"`
	Items           []LineRequest   `json:"items"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	ShippingFee     decimal.Decimal `json:"shipping_fee"`
	Discount        decimal.Decimal `json:"discount_amount"`
	Tax             decimal.Decimal `json:"tax_amount"`
	Total           decimal.Decimal `json:"total_amount"`
	UpfrontPaid     decimal.Decimal `json:"upfront_paid"`
	PaymentMethod   PaymentMethod   `json:"payment_method"`
	ShippingAddress *Address        `json:"shipping_address"`
	PromoCode       string          `json:"promo_code,omitempty"`
	Source          string          `json:"order_source,omitempty"`
	ClientIP        string          `json:"ip_address,omitempty"`
	UserAgent       string          `json:"user_agent,omitempty"`
}

type VerificationDecision string

const (
	VerificationApproved VerificationDecision = "approved"
	VerificationDenied   VerificationDecision = "rejected"
)

type VerificationOutcome struct {
	OrderID  string               `json:"order_id"`
	Decision VerificationDecision `json:"status"`
	Reason   string               `json:"reason,omitempty"`
	// Cancel asks the engine to cancel the order when the decision is a rejection.
	Cancel bool `json:"cancel,omitempty"`
}
