package polar

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Event types dispatched by the webhook ingress.
const (
	EventOrderPaid              = "order.paid"
	EventOrderRefunded          = "order.refunded"
	EventSubscriptionCreated    = "subscription.created"
	EventSubscriptionActive     = "subscription.active"
	EventSubscriptionUpdated    = "subscription.updated"
	EventSubscriptionCanceled   = "subscription.canceled"
	EventSubscriptionUncanceled = "subscription.uncanceled"
	EventSubscriptionRevoked    = "subscription.revoked"
	EventSubscriptionPastDue    = "subscription.past_due"
	EventBenefitGrantCreated    = "benefit_grant.created"
)

// Event is the webhook envelope: a type tag and the raw payload.
type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// ParseEvent decodes a webhook body into the event envelope.
func ParseEvent(body []byte) (*Event, error) {
	var evt Event
	if err := json.Unmarshal(body, &evt); err != nil {
		return nil, fmt.Errorf("parse webhook body: %w", err)
	}
	if evt.Type == "" {
		return nil, fmt.Errorf("webhook event missing type")
	}
	return &evt, nil
}

// Customer identifies the paying customer on provider objects.
type Customer struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	ExternalID string `json:"external_id"`
}

// Metadata is the free-form metadata bag attached to provider objects.
// Values arrive as strings or numbers depending on how they were set.
type Metadata map[string]interface{}

// String returns the metadata value as a string, or "" when absent.
func (m Metadata) String(key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

// Int64 returns the metadata value as an integer, or 0 when absent or
// unparseable.
func (m Metadata) Int64(key string) int64 {
	switch v := m[key].(type) {
	case float64:
		return int64(v)
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}

// Order is the payload of order.* events.
type Order struct {
	ID       string   `json:"id"`
	Amount   int64    `json:"amount"`
	Currency string   `json:"currency"`
	Customer Customer `json:"customer"`
	Product  Product  `json:"product"`
	Metadata Metadata `json:"metadata"`
}

// Subscription is the payload of subscription.* events.
type Subscription struct {
	ID                string   `json:"id"`
	Status            string   `json:"status"`
	RecurringInterval string   `json:"recurring_interval"` // "month" or "year"
	Customer          Customer `json:"customer"`
	Product           Product  `json:"product"`
	Metadata          Metadata `json:"metadata"`
}

// Product describes the purchased product on orders and subscriptions.
type Product struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// BenefitGrant is the payload of benefit_grant.* events.
type BenefitGrant struct {
	ID       string   `json:"id"`
	Customer Customer `json:"customer"`
	Metadata Metadata `json:"metadata"`
}
