package revenue

import (
	"time"
)

// EventType is the closed set of provider notifications the pipeline knows.
// Adding a member requires a matching case in the executor's dispatcher;
// AllEventTypes feeds the test that enforces it.
type EventType string

const (
	EventCheckoutCompleted   EventType = "checkout_completed"
	EventSubscriptionUpdated EventType = "subscription_updated"
	EventSubscriptionDeleted EventType = "subscription_deleted"
	EventPaymentFailed       EventType = "payment_failed"
	EventUnknown             EventType = "unknown"
)

// Provider event type strings.
const (
	ProviderCheckoutCompleted   = "checkout.session.completed"
	ProviderSubscriptionUpdated = "customer.subscription.updated"
	ProviderSubscriptionDeleted = "customer.subscription.deleted"
	ProviderPaymentFailed       = "invoice.payment_failed"
)

// AllEventTypes lists every EventType, Unknown included.
func AllEventTypes() []EventType {
	return []EventType{
		EventCheckoutCompleted,
		EventSubscriptionUpdated,
		EventSubscriptionDeleted,
		EventPaymentFailed,
		EventUnknown,
	}
}

// EventTypeFromProvider maps a provider type string onto the closed enum.
func EventTypeFromProvider(providerType string) EventType {
	switch providerType {
	case ProviderCheckoutCompleted:
		return EventCheckoutCompleted
	case ProviderSubscriptionUpdated:
		return EventSubscriptionUpdated
	case ProviderSubscriptionDeleted:
		return EventSubscriptionDeleted
	case ProviderPaymentFailed:
		return EventPaymentFailed
	default:
		return EventUnknown
	}
}

// Fields are the scalar values the handlers act on.
type Fields struct {
	UserID               string `json:"userId,omitempty" validate:"omitempty,uuid"`
	Tier                 string `json:"tier,omitempty" validate:"omitempty,oneof=bronze silver gold"`
	VendorSubscriptionID string `json:"vendorSubscriptionId,omitempty"`
	VendorCustomerID     string `json:"vendorCustomerId,omitempty"`
	RawSize              int    `json:"rawSize"`
}

// Event is one provider notification. It is never mutated after Parse.
type Event struct {
	ID             string         `json:"id"`
	Type           EventType      `json:"type"`
	ProviderType   string         `json:"providerType"`
	OccurredAt     time.Time      `json:"occurredAt"`
	Fields         Fields         `json:"fields"`
	ProviderStatus string         `json:"providerStatus,omitempty"`
	PeriodEnd      *time.Time     `json:"periodEnd,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	// Raw is the whole decoded payload, kept for content scanning.
	Raw map[string]any `json:"-"`
}
