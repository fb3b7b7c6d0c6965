package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ManuelReschke/financebee/app/models"
)

type gormTransition struct {
	db *gorm.DB

	// faultAfterRecordWrite runs between the record write and the profile
	// write. Tests use it to abort a transaction halfway.
	faultAfterRecordWrite func(op string) error
}

// NewGormTransition creates a Transition backed by GORM.
func NewGormTransition(db *gorm.DB) Transition {
	return &gormTransition{db: db}
}

func (t *gormTransition) Activate(ctx context.Context, in ActivateInput) (Result, error) {
	var res Result
	err := t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		fresh := models.SubscriptionRecord{
			UserID:               in.UserID,
			VendorSubscriptionID: in.VendorSubscriptionID,
			VendorCustomerID:     in.VendorCustomerID,
			Tier:                 in.Tier,
			Status:               models.SubscriptionStatusActive,
			PeriodStart:          timePtr(in.PeriodStart),
			PeriodEnd:            timePtr(in.PeriodEnd),
			LastEventAt:          in.OccurredAt.UTC(),
		}
		created := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&fresh)
		if created.Error != nil {
			return created.Error
		}

		rec, err := lockRecord(tx, in.VendorSubscriptionID)
		if err != nil {
			return err
		}
		previousOwner := rec.UserID

		if created.RowsAffected == 0 {
			if rec.IsTerminal() && in.OccurredAt.Before(rec.LastEventAt) {
				// A later cancel already landed. Fill identity only.
				res.Stale = true
				updates := map[string]interface{}{}
				if rec.UserID == "" {
					updates["user_id"] = in.UserID
				}
				if rec.Tier == "" {
					updates["tier"] = in.Tier
				}
				if rec.VendorCustomerID == "" {
					updates["vendor_customer_id"] = in.VendorCustomerID
				}
				if len(updates) > 0 {
					if err := tx.Model(rec).Updates(updates).Error; err != nil {
						return err
					}
				}
				rec, err = lockRecord(tx, in.VendorSubscriptionID)
				if err != nil {
					return err
				}
				res.Record = *rec
				return nil
			}

			if err := tx.Model(rec).Updates(map[string]interface{}{
				"user_id":            in.UserID,
				"vendor_customer_id": in.VendorCustomerID,
				"tier":               in.Tier,
				"status":             models.SubscriptionStatusActive,
				"period_start":       timePtr(in.PeriodStart),
				"period_end":         timePtr(in.PeriodEnd),
				"last_event_at":      laterOf(rec.LastEventAt, in.OccurredAt),
			}).Error; err != nil {
				return err
			}
		}

		if err := t.fault("activate"); err != nil {
			return err
		}

		if err := tx.Model(&models.SubscriptionRecord{}).
			Where("user_id = ? AND vendor_subscription_id <> ? AND status IN ?", in.UserID, in.VendorSubscriptionID,
				[]string{models.SubscriptionStatusActive, models.SubscriptionStatusPastDue}).
			Update("status", models.SubscriptionStatusExpired).Error; err != nil {
			return err
		}

		if err := syncPremium(tx, in.UserID); err != nil {
			return err
		}
		// The subscription moved; the old owner loses whatever it granted.
		if previousOwner != in.UserID {
			if err := syncPremium(tx, previousOwner); err != nil {
				return err
			}
		}

		rec, err = lockRecord(tx, in.VendorSubscriptionID)
		if err != nil {
			return err
		}
		res.Record = *rec
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("activate %s: %w", in.VendorSubscriptionID, err)
	}
	return res, nil
}

func (t *gormTransition) UpdateStatus(ctx context.Context, vendorSubscriptionID, status string, newPeriodEnd *time.Time, occurredAt time.Time) (Result, error) {
	var res Result
	err := t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec, err := lockRecord(tx, vendorSubscriptionID)
		if err != nil {
			return err
		}

		updates := map[string]interface{}{
			"status":        status,
			"last_event_at": laterOf(rec.LastEventAt, occurredAt),
		}
		if newPeriodEnd != nil {
			updates["period_end"] = timePtr(*newPeriodEnd)
		}
		if err := tx.Model(rec).Updates(updates).Error; err != nil {
			return err
		}

		if err := t.fault("update_status"); err != nil {
			return err
		}
		if err := syncPremium(tx, rec.UserID); err != nil {
			return err
		}

		rec, err = lockRecord(tx, vendorSubscriptionID)
		if err != nil {
			return err
		}
		res.Record = *rec
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("update status of %s: %w", vendorSubscriptionID, err)
	}
	return res, nil
}

func (t *gormTransition) Cancel(ctx context.Context, vendorSubscriptionID string, occurredAt time.Time) (Result, error) {
	var res Result
	err := t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		tombstone := models.SubscriptionRecord{
			VendorSubscriptionID: vendorSubscriptionID,
			Status:               models.SubscriptionStatusCanceled,
			LastEventAt:          occurredAt.UTC(),
		}
		created := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&tombstone)
		if created.Error != nil {
			return created.Error
		}

		rec, err := lockRecord(tx, vendorSubscriptionID)
		if err != nil {
			return err
		}
		if created.RowsAffected == 0 {
			if err := tx.Model(rec).Updates(map[string]interface{}{
				"status":        models.SubscriptionStatusCanceled,
				"last_event_at": laterOf(rec.LastEventAt, occurredAt),
			}).Error; err != nil {
				return err
			}
		}

		if err := t.fault("cancel"); err != nil {
			return err
		}
		if err := syncPremium(tx, rec.UserID); err != nil {
			return err
		}

		rec, err = lockRecord(tx, vendorSubscriptionID)
		if err != nil {
			return err
		}
		res.Record = *rec
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("cancel %s: %w", vendorSubscriptionID, err)
	}
	return res, nil
}

func (t *gormTransition) MarkPastDue(ctx context.Context, vendorSubscriptionID string, occurredAt time.Time) (Result, error) {
	var res Result
	err := t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec, err := lockRecord(tx, vendorSubscriptionID)
		if err != nil {
			return err
		}
		if rec.IsTerminal() {
			res.Stale = true
			res.Record = *rec
			return nil
		}

		if err := tx.Model(rec).Updates(map[string]interface{}{
			"status":        models.SubscriptionStatusPastDue,
			"last_event_at": laterOf(rec.LastEventAt, occurredAt),
		}).Error; err != nil {
			return err
		}
		if err := t.fault("mark_past_due"); err != nil {
			return err
		}

		rec, err = lockRecord(tx, vendorSubscriptionID)
		if err != nil {
			return err
		}
		res.Record = *rec
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("mark past due %s: %w", vendorSubscriptionID, err)
	}
	return res, nil
}

func (t *gormTransition) Lookup(ctx context.Context, vendorSubscriptionID string) (*models.SubscriptionRecord, error) {
	var rec models.SubscriptionRecord
	err := t.db.WithContext(ctx).Where("vendor_subscription_id = ?", vendorSubscriptionID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", vendorSubscriptionID, err)
	}
	return &rec, nil
}

func (t *gormTransition) fault(op string) error {
	if t.faultAfterRecordWrite == nil {
		return nil
	}
	return t.faultAfterRecordWrite(op)
}

func lockRecord(tx *gorm.DB, vendorSubscriptionID string) (*models.SubscriptionRecord, error) {
	var rec models.SubscriptionRecord
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("vendor_subscription_id = ?", vendorSubscriptionID).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// syncPremium derives the user's premium flag and tier from the records that
// still grant access.
func syncPremium(tx *gorm.DB, userID string) error {
	if userID == "" {
		return nil
	}

	var granting models.SubscriptionRecord
	err := tx.Where("user_id = ? AND status IN ?", userID,
		[]string{models.SubscriptionStatusActive, models.SubscriptionStatusPastDue}).
		Order("last_event_at DESC").
		First(&granting).Error
	premium := true
	if errors.Is(err, gorm.ErrRecordNotFound) {
		premium = false
	} else if err != nil {
		return err
	}

	profile, err := models.GetOrCreateUserProfile(tx, userID)
	if err != nil {
		return err
	}
	tier := ""
	if premium {
		tier = granting.Tier
	}
	return tx.Model(profile).Updates(map[string]interface{}{
		"is_premium":        premium,
		"subscription_tier": tier,
	}).Error
}

func laterOf(current, candidate time.Time) time.Time {
	if candidate.After(current) {
		return candidate.UTC()
	}
	return current.UTC()
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}
