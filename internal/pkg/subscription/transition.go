package subscription

import (
	"context"
	"errors"
	"time"

	"github.com/ManuelReschke/financebee/app/models"
)

// ErrNotFound is returned when an operation needs an existing record.
// It is a permanent condition for the event being processed.
var ErrNotFound = errors.New("subscription record not found")

// ActivateInput carries everything Activate writes.
type ActivateInput struct {
	UserID               string
	Tier                 string
	VendorSubscriptionID string
	VendorCustomerID     string
	PeriodStart          time.Time
	PeriodEnd            time.Time
	OccurredAt           time.Time
}

// Result describes the record after a transition. Stale is set when the event
// was older than what the record already reflects and its status was not applied.
type Result struct {
	Record models.SubscriptionRecord
	Stale  bool
}

// Transition is the only write path to subscription state. Every method runs
// in one transaction and is idempotent under identical retries.
type Transition interface {
	Activate(ctx context.Context, in ActivateInput) (Result, error)
	UpdateStatus(ctx context.Context, vendorSubscriptionID, status string, newPeriodEnd *time.Time, occurredAt time.Time) (Result, error)
	Cancel(ctx context.Context, vendorSubscriptionID string, occurredAt time.Time) (Result, error)
	MarkPastDue(ctx context.Context, vendorSubscriptionID string, occurredAt time.Time) (Result, error)
	Lookup(ctx context.Context, vendorSubscriptionID string) (*models.SubscriptionRecord, error)
}
