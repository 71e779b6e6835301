package orders

import (
	"encoding/json"
	"time"
)

// Notification intents carried in queue payloads. Rendering and delivery happen outside the engine.
const (
	IntentOrderCreated         = "order_created"
	IntentOrderConfirmed       = "order_confirmed"
	IntentOrderProcessing      = "order_processing"
	IntentOrderShipped         = "order_shipped"
	IntentOrderDelivered       = "order_delivered"
	IntentOrderCancelled       = "order_cancelled"
	IntentVerificationApproved = "verification_approved"
	IntentVerificationRejected = "verification_rejected"
	IntentCustomerStatsUpdate  = "customer_stats_update"
)

const (
	EventQueueItem           = "OrderQueueItem"
	EventVerificationOutcome = "VerificationOutcome"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order_id
	Payload       json.RawMessage `json:"payload"`
}

type NotificationPayload struct {
	OrderID        string         `json:"order_id"`
	CustomerID     string         `json:"customer_id"`
	TemplateIntent string         `json:"template_intent"`
	TemplateData   map[string]any `json:"template_data,omitempty"`
}

type FulfillmentPayload struct {
	OrderID     string `json:"order_id"`
	OrderNumber string `json:"order_number"`
	Stage       Status `json:"stage"`
}

type VerificationPayload struct {
	OrderID    string `json:"order_id"`
	CustomerID string `json:"customer_id"`
	Total      string `json:"total_amount"`
	Method     string `json:"payment_method"`
}
