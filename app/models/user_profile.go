package models

import (
	"time"

	"gorm.io/gorm"
)

// UserProfile carries the premium flag projected from subscription state.
// Only the subscription transition writes IsPremium and SubscriptionTier.
type UserProfile struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	UserID           string    `gorm:"type:varchar(36);uniqueIndex" json:"user_id"`
	IsPremium        bool      `gorm:"default:false" json:"is_premium"`
	SubscriptionTier string    `gorm:"type:varchar(16);default:''" json:"subscription_tier"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// GetOrCreateUserProfile returns the existing profile or creates an empty one.
func GetOrCreateUserProfile(db *gorm.DB, userID string) (*UserProfile, error) {
	var p UserProfile
	if err := db.Where("user_id = ?", userID).First(&p).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			p = UserProfile{UserID: userID}
			if err := db.Create(&p).Error; err != nil {
				return nil, err
			}
			return &p, nil
		}
		return nil, err
	}
	return &p, nil
}

// AutoMigrateTargets lists the models owned by this service.
func AutoMigrateTargets() []interface{} {
	return []interface{}{
		&SubscriptionRecord{},
		&ProcessedEvent{},
		&UserProfile{},
	}
}
