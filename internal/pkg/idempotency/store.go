package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/ManuelReschke/financebee/app/models"
)

// ErrClaimInFlight means another worker holds a fresh claim on the event and
// did not commit within the wait window. Callers should retry later.
var ErrClaimInFlight = errors.New("event claim in flight")

// Outcome of a claim attempt.
type Outcome int

const (
	Claimed Outcome = iota + 1
	Duplicate
)

func (o Outcome) String() string {
	switch o {
	case Claimed:
		return "claimed"
	case Duplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// ClaimResult is returned by TryClaim. Summary is set for duplicates.
type ClaimResult struct {
	Outcome  Outcome
	Summary  string
	TookOver bool
}

// Store is the processed-event ledger keyed by provider event id.
type Store interface {
	TryClaim(ctx context.Context, eventID, claimant string) (ClaimResult, error)
	Commit(ctx context.Context, eventID, eventType, summary string) error
	Release(ctx context.Context, eventID, claimant string) error
	Prune(ctx context.Context, olderThan time.Time, beforeDelete PruneHook) ([]models.ProcessedEvent, error)
}

// PruneHook sees the rows Prune is about to delete. An error keeps them.
type PruneHook func(ctx context.Context, rows []models.ProcessedEvent) error
