package orders

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type PaymentMethod string

const (
	PaymentCOD          PaymentMethod = "cod"
	PaymentGCash        PaymentMethod = "gcash"
	PaymentBankTransfer PaymentMethod = "bank_transfer"
	PaymentCreditCard   PaymentMethod = "credit_card"
	PaymentPayMaya      PaymentMethod = "paymaya"
)

var PaymentMethods = []PaymentMethod{PaymentCOD, PaymentGCash, PaymentBankTransfer, PaymentCreditCard, PaymentPayMaya}

type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusPartial PaymentStatus = "partial"
	PaymentStatusPaid    PaymentStatus = "paid"
)

type Actor string

const (
	ActorSystem     Actor = "system"
	ActorAdmin      Actor = "admin"
	ActorCustomer   Actor = "customer"
	ActorAutomation Actor = "automation"
)

func (a Actor) Valid() bool {
	switch a {
	case ActorSystem, ActorAdmin, ActorCustomer, ActorAutomation:
		return true
	}
	return false
}

type QueueCategory string

const (
	QueueNewOrder     QueueCategory = "new_order"
	QueuePayment      QueueCategory = "payment"
	QueueFulfillment  QueueCategory = "fulfillment"
	QueueNotification QueueCategory = "notification"
	QueueVerification QueueCategory = "verification"
)

var QueueCategories = []QueueCategory{QueueNewOrder, QueuePayment, QueueFulfillment, QueueNotification, QueueVerification}

type ErrorCategory string

const (
	ErrorValidation ErrorCategory = "validation"
	ErrorPayment    ErrorCategory = "payment"
	ErrorInventory  ErrorCategory = "inventory"
	ErrorShipping   ErrorCategory = "shipping"
	ErrorSystem     ErrorCategory = "system"
	ErrorExternal   ErrorCategory = "external"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Catalog records, read-only for the engine.

type Customer struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	AccountStatus string `json:"account_status"`
	TrustedBuyer  bool   `json:"trusted_buyer"`
}

type Product struct {
	ID        string          `json:"id"`
	SKU       string          `json:"sku"`
	Name      string          `json:"name"`
	Status    string          `json:"status"`
	BasePrice decimal.Decimal `json:"base_price"`
	Stock     int             `json:"stock_quantity"`
}

type Variant struct {
	ID              string          `json:"id"`
	ProductID       string          `json:"product_id"`
	Name            string          `json:"variant_name"`
	Value           string          `json:"variant_value"`
	PriceAdjustment decimal.Decimal `json:"price_adjustment"`
	Stock           int             `json:"stock_quantity"`
	Available       bool            `json:"is_available"`
}

type Promo struct {
	Code        string          `json:"promo_code"`
	Active      bool            `json:"is_active"`
	StartsAt    time.Time       `json:"start_date"`
	EndsAt      time.Time       `json:"end_date"`
	UsageLimit  int             `json:"usage_limit"`
	UsageCount  int             `json:"usage_count"`
	MinPurchase decimal.Decimal `json:"min_purchase_amount"`
}

type Address struct {
	RecipientName string `json:"recipient_name"`
	Phone         string `json:"phone"`
	AddressLine   string `json:"address"`
	City          string `json:"city"`
	Province      string `json:"province"`
	PostalCode    string `json:"postal_code,omitempty"`
}

// StockKey identifies one stock counter: the variant's when VariantID is set, otherwise the product's.
type StockKey struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id,omitempty"`
}

func (k StockKey) Less(o StockKey) bool {
	if k.ProductID != o.ProductID {
		return k.ProductID < o.ProductID
	}
	return k.VariantID < o.VariantID
}

func (k StockKey) String() string {
	if k.VariantID == "" {
		return k.ProductID
	}
	return k.ProductID + "/" + k.VariantID
}

type Order struct {
	ID                   string             `json:"id"`
	OrderNumber          string             `json:"order_number"`
	ExternalID           string             `json:"external_id,omitempty"`
	CustomerID           string             `json:"customer_id"`
	Subtotal             decimal.Decimal    `json:"subtotal"`
	ShippingFee          decimal.Decimal    `json:"shipping_fee"`
	Discount             decimal.Decimal    `json:"discount_amount"`
	Tax                  decimal.Decimal    `json:"tax_amount"`
	Total                decimal.Decimal    `json:"total_amount"`
	UpfrontPaid          decimal.Decimal    `json:"upfront_paid"`
	RemainingBalance     decimal.Decimal    `json:"remaining_balance"`
	PaymentMethod        PaymentMethod      `json:"payment_method"`
	PaymentStatus        PaymentStatus      `json:"payment_status"`
	Status               Status             `json:"order_status"`
	VerificationRequired bool               `json:"verification_required"`
	VerificationStatus   VerificationStatus `json:"verification_status"`
	PromoCode            string             `json:"promo_code,omitempty"`
	ShippingAddress      Address            `json:"shipping_address"`
	Source               string             `json:"order_source"`
	ClientIP             string             `json:"ip_address,omitempty"`
	UserAgent            string             `json:"user_agent,omitempty"`
	ErrorCount           int                `json:"error_count"`
	RetryCount           int                `json:"retry_count"`
	LastError            string             `json:"last_error,omitempty"`
	CancellationReason   string             `json:"cancellation_reason,omitempty"`
	CancelledBy          Actor              `json:"cancelled_by,omitempty"`
	CreatedAt            time.Time          `json:"created_at"`
	UpdatedAt            time.Time          `json:"updated_at"`
	ConfirmedAt          *time.Time         `json:"confirmed_at,omitempty"`
	ProcessingStartedAt  *time.Time         `json:"processing_started_at,omitempty"`
	ShippedAt            *time.Time         `json:"shipped_at,omitempty"`
	DeliveredAt          *time.Time         `json:"delivered_at,omitempty"`
	CancelledAt          *time.Time         `json:"cancelled_at,omitempty"`
}

type OrderItem struct {
	ID                string          `json:"id"`
	OrderID           string          `json:"order_id"`
	ProductID         string          `json:"product_id"`
	VariantID         string          `json:"variant_id,omitempty"`
	ProductName       string          `json:"product_name"`
	SKU               string          `json:"sku"`
	VariantDetails    string          `json:"variant_details,omitempty"`
	Quantity          int             `json:"quantity"`
	UnitPrice         decimal.Decimal `json:"unit_price"`
	TotalPrice        decimal.Decimal `json:"total_price"`
	InventoryReserved bool            `json:"inventory_reserved"`
	ReservedAt        *time.Time      `json:"reserved_at,omitempty"`
	ReleasedAt        *time.Time      `json:"released_at,omitempty"`
}

func (i OrderItem) StockKey() StockKey {
	return StockKey{ProductID: i.ProductID, VariantID: i.VariantID}
}

type Reservation struct {
	ID            string            `json:"id"`
	OrderID       string            `json:"order_id"`
	OrderItemID   string            `json:"order_item_id"`
	ProductID     string            `json:"product_id"`
	VariantID     string            `json:"variant_id,omitempty"`
	Quantity      int               `json:"quantity"`
	Status        ReservationStatus `json:"status"`
	ReservedAt    time.Time         `json:"reserved_at"`
	ExpiresAt     time.Time         `json:"expires_at"`
	CommittedAt   *time.Time        `json:"committed_at,omitempty"`
	ReleasedAt    *time.Time        `json:"released_at,omitempty"`
	ReleaseReason string            `json:"release_reason,omitempty"`
}

func (r Reservation) StockKey() StockKey {
	return StockKey{ProductID: r.ProductID, VariantID: r.VariantID}
}

// StateHistory is one audit row. FromStatus is empty for the creation row.
type StateHistory struct {
	ID         string    `json:"id"`
	OrderID    string    `json:"order_id"`
	FromStatus Status    `json:"from_status,omitempty"`
	ToStatus   Status    `json:"to_status"`
	Actor      Actor     `json:"changed_by_type"`
	Reason     string    `json:"reason,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

type QueueItem struct {
	ID          string          `json:"id"`
	OrderID     string          `json:"order_id"`
	Category    QueueCategory   `json:"queue_type"`
	Priority    int             `json:"priority"`
	Status      QueueStatus     `json:"status"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	ScheduledAt time.Time       `json:"scheduled_at"`
	LastError   string          `json:"last_error,omitempty"`
	Payload     json.RawMessage `json:"payload"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	ProcessedAt *time.Time      `json:"processed_at,omitempty"`
}

type OrderError struct {
	ID              string         `json:"id"`
	OrderID         string         `json:"order_id,omitempty"`
	Category        ErrorCategory  `json:"error_type"`
	Severity        Severity       `json:"severity"`
	Code            string         `json:"error_code,omitempty"`
	Message         string         `json:"error_message"`
	Details         map[string]any `json:"details,omitempty"`
	Resolved        bool           `json:"resolved"`
	ResolvedBy      string         `json:"resolved_by,omitempty"`
	ResolutionNotes string         `json:"resolution_notes,omitempty"`
	ResolvedAt      *time.Time     `json:"resolved_at,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}

// Metric durations are milliseconds.
type Metric struct {
	OrderID       string    `json:"order_id"`
	ValidationMS  int64     `json:"validation_ms"`
	ReservationMS int64     `json:"reservation_ms"`
	PaymentMS     int64     `json:"payment_ms"`
	FulfillmentMS int64     `json:"fulfillment_ms"`
	TotalMS       int64     `json:"total_processing_ms"`
	ErrorCount    int       `json:"error_count"`
	RetryCount    int       `json:"retry_count"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type MetricDelta struct {
	ValidationMS  int64
	ReservationMS int64
	PaymentMS     int64
	FulfillmentMS int64
	TotalMS       int64
	Errors        int
	Retries       int
}

func (m *Metric) Apply(d MetricDelta) {
	m.ValidationMS += d.ValidationMS
	m.ReservationMS += d.ReservationMS
	m.PaymentMS += d.PaymentMS
	m.FulfillmentMS += d.FulfillmentMS
	m.TotalMS += d.TotalMS
	m.ErrorCount += d.Errors
	m.RetryCount += d.Retries
}
