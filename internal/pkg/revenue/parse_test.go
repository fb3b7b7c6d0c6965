package revenue

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/financebee/app/models"
)

func TestEventTypeFromProvider(t *testing.T) {
	tests := []struct {
		in   string
		want EventType
	}{
		{"checkout.session.completed", EventCheckoutCompleted},
		{"customer.subscription.updated", EventSubscriptionUpdated},
		{"customer.subscription.deleted", EventSubscriptionDeleted},
		{"invoice.payment_failed", EventPaymentFailed},
		{"customer.created", EventUnknown},
		{"", EventUnknown},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, EventTypeFromProvider(tt.in), tt.in)
	}
}

func TestParse_CheckoutCompleted(t *testing.T) {
	raw := []byte(`{
		"id": "evt_1",
		"type": "checkout.session.completed",
		"created": 1700000000,
		"data": {"object": {
			"id": "cs_1",
			"subscription": "sub_1",
			"customer": "cus_1",
			"metadata": {"userId": "6f1c2a4e-8d1b-4c7a-9f2e-3b5d7e9a1c0f", "tier": "gold"}
		}}
	}`)

	ev, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "evt_1", ev.ID)
	assert.Equal(t, EventCheckoutCompleted, ev.Type)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), ev.OccurredAt)
	assert.Equal(t, "sub_1", ev.Fields.VendorSubscriptionID)
	assert.Equal(t, "cus_1", ev.Fields.VendorCustomerID)
	assert.Equal(t, "6f1c2a4e-8d1b-4c7a-9f2e-3b5d7e9a1c0f", ev.Fields.UserID)
	assert.Equal(t, "gold", ev.Fields.Tier)
	assert.Equal(t, len(raw), ev.Fields.RawSize)
}

func TestParse_KeepsWholePayload(t *testing.T) {
	raw := []byte(`{"id":"evt_3","type":"checkout.session.completed",
		"data":{"object":{"subscription":"sub_1","description":"monthly plan"}}}`)

	ev, err := Parse(raw)
	require.NoError(t, err)
	require.NotNil(t, ev.Raw)
	assert.Equal(t, "evt_3", ev.Raw["id"])
	obj := ev.Raw["data"].(map[string]any)["object"].(map[string]any)
	assert.Equal(t, "monthly plan", obj["description"])
}

func TestParse_SubscriptionObjectUsesOwnID(t *testing.T) {
	raw := []byte(`{"id":"evt_2","type":"customer.subscription.updated","created":1700000100,
		"data":{"object":{"id":"sub_9","status":"past_due","current_period_end":1702592000}}}`)

	ev, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "sub_9", ev.Fields.VendorSubscriptionID)
	assert.Equal(t, "past_due", ev.ProviderStatus)
	require.NotNil(t, ev.PeriodEnd)
	assert.Equal(t, time.Unix(1702592000, 0).UTC(), *ev.PeriodEnd)
}

func TestParse_Malformed(t *testing.T) {
	for _, raw := range []string{
		`not json`,
		`{"type":"checkout.session.completed"}`,
		`{"id":"evt_3"}`,
	} {
		_, err := Parse([]byte(raw))
		assert.True(t, errors.Is(err, ErrMalformedPayload), raw)
	}
}

func TestParse_NonStringMetadataIsRendered(t *testing.T) {
	ev, err := Parse([]byte(`{"id":"evt_4","type":"checkout.session.completed","data":{"object":{"metadata":{"tier":42}}}}`))
	require.NoError(t, err)
	assert.Equal(t, "42", ev.Fields.Tier)
}

func TestProviderStatusToSubscriptionStatus(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"active", models.SubscriptionStatusActive},
		{"trialing", models.SubscriptionStatusActive},
		{"past_due", models.SubscriptionStatusPastDue},
		{"unpaid", models.SubscriptionStatusPastDue},
		{"canceled", models.SubscriptionStatusCanceled},
		{"incomplete_expired", models.SubscriptionStatusExpired},
	}
	for _, tt := range tests {
		got, err := ProviderStatusToSubscriptionStatus(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	_, err := ProviderStatusToSubscriptionStatus("paused")
	assert.Error(t, err)
}
