package models

import "time"

const (
	TierBronze = "bronze"
	TierSilver = "silver"
	TierGold   = "gold"
)

const (
	SubscriptionStatusActive   = "active"
	SubscriptionStatusPastDue  = "past_due"
	SubscriptionStatusCanceled = "canceled"
	SubscriptionStatusExpired  = "expired"
)

// SubscriptionRecord mirrors one vendor subscription. Rows are never deleted;
// cancellation and expiry are status transitions.
type SubscriptionRecord struct {
	ID                   uint       `gorm:"primaryKey" json:"id"`
	UserID               string     `gorm:"type:varchar(36);not null;default:'';index:idx_subscription_records_user_status,priority:1" json:"user_id"`
	VendorSubscriptionID string     `gorm:"type:varchar(191);not null;uniqueIndex:ux_subscription_records_vendor_subid" json:"vendor_subscription_id"`
	VendorCustomerID     string     `gorm:"type:varchar(191);not null;default:''" json:"vendor_customer_id"`
	Tier                 string     `gorm:"type:varchar(16);not null;default:''" json:"tier"`
	Status               string     `gorm:"type:varchar(16);not null;default:'active';index:idx_subscription_records_user_status,priority:2" json:"status"`
	PeriodStart          *time.Time `gorm:"type:timestamp;default:null" json:"period_start,omitempty"`
	PeriodEnd            *time.Time `gorm:"type:timestamp;default:null" json:"period_end,omitempty"`
	LastEventAt          time.Time  `gorm:"type:timestamp" json:"last_event_at"`
	CreatedAt            time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsTerminal reports whether the record can no longer grant premium access.
func (r *SubscriptionRecord) IsTerminal() bool {
	return r.Status == SubscriptionStatusCanceled || r.Status == SubscriptionStatusExpired
}

// GrantsPremium reports whether a record in the given status keeps the
// user's premium flag set. Past-due keeps it: grace periods are decided elsewhere.
func GrantsPremium(status string) bool {
	switch status {
	case SubscriptionStatusActive, SubscriptionStatusPastDue:
		return true
	default:
		return false
	}
}

// IsValidTier reports whether tier is one of the sold tiers.
func IsValidTier(tier string) bool {
	switch tier {
	case TierBronze, TierSilver, TierGold:
		return true
	default:
		return false
	}
}
