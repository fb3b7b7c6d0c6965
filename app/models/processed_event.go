package models

import "time"

const (
	ProcessedEventStateClaimed   = "claimed"
	ProcessedEventStateCommitted = "committed"
)

// ProcessedEvent is the idempotency ledger row for one provider event id.
// A row in state "claimed" is an in-flight attempt; "committed" rows carry
// the cached result returned to duplicate deliveries.
type ProcessedEvent struct {
	EventID       string     `gorm:"type:varchar(191);primaryKey" json:"event_id"`
	EventType     string     `gorm:"type:varchar(100);not null;default:'';index" json:"event_type"`
	State         string     `gorm:"type:varchar(16);not null;default:'claimed';index:idx_processed_events_state_processed,priority:1" json:"state"`
	ClaimedBy     string     `gorm:"type:varchar(191);not null;default:''" json:"claimed_by"`
	ClaimedAt     time.Time  `gorm:"type:timestamp" json:"claimed_at"`
	ProcessedAt   *time.Time `gorm:"type:timestamp;default:null;index:idx_processed_events_state_processed,priority:2" json:"processed_at,omitempty"`
	ResultSummary string     `gorm:"type:text" json:"result_summary"`
}

// IsCommitted reports whether the event finished processing.
func (e *ProcessedEvent) IsCommitted() bool {
	return e.State == ProcessedEventStateCommitted
}
