package revenue

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrMalformedPayload marks payloads that are not a provider event at all.
var ErrMalformedPayload = errors.New("malformed payload")

type providerEnvelope struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object providerObject `json:"object"`
	} `json:"data"`
}

type providerObject struct {
	ID               string         `json:"id"`
	Object           string         `json:"object"`
	Subscription     string         `json:"subscription"`
	Customer         string         `json:"customer"`
	Status           string         `json:"status"`
	CurrentPeriodEnd int64          `json:"current_period_end"`
	Metadata         map[string]any `json:"metadata"`
}

// Parse decodes a raw provider payload into an Event. It only checks that
// the envelope is usable; content rules belong to the guardian.
func Parse(payload []byte) (*Event, error) {
	var raw providerEnvelope
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	var whole map[string]any
	if err := json.Unmarshal(payload, &whole); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if strings.TrimSpace(raw.ID) == "" {
		return nil, fmt.Errorf("%w: missing event id", ErrMalformedPayload)
	}
	if strings.TrimSpace(raw.Type) == "" {
		return nil, fmt.Errorf("%w: missing event type", ErrMalformedPayload)
	}

	obj := raw.Data.Object
	ev := &Event{
		ID:             strings.TrimSpace(raw.ID),
		Type:           EventTypeFromProvider(strings.TrimSpace(raw.Type)),
		ProviderType:   strings.TrimSpace(raw.Type),
		ProviderStatus: strings.TrimSpace(obj.Status),
		Metadata:       obj.Metadata,
		Raw:            whole,
		Fields: Fields{
			UserID:           metadataString(obj.Metadata, "userId"),
			Tier:             metadataString(obj.Metadata, "tier"),
			VendorCustomerID: strings.TrimSpace(obj.Customer),
			RawSize:          len(payload),
		},
	}
	if raw.Created > 0 {
		ev.OccurredAt = time.Unix(raw.Created, 0).UTC()
	}
	if obj.CurrentPeriodEnd > 0 {
		end := time.Unix(obj.CurrentPeriodEnd, 0).UTC()
		ev.PeriodEnd = &end
	}

	// Subscription objects carry their own id; sessions and invoices reference one.
	switch ev.Type {
	case EventSubscriptionUpdated, EventSubscriptionDeleted:
		ev.Fields.VendorSubscriptionID = strings.TrimSpace(obj.ID)
	default:
		ev.Fields.VendorSubscriptionID = strings.TrimSpace(obj.Subscription)
	}

	return ev, nil
}

// metadataString reads a string value from provider metadata. Non-string
// values are rendered so the guardian still sees and rejects them.
func metadataString(md map[string]any, key string) string {
	v, ok := md[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return fmt.Sprint(v)
}
