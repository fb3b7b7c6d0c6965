package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ManuelReschke/financebee/app/models"
)

const defaultPollInterval = 100 * time.Millisecond

type gormStore struct {
	db           *gorm.DB
	claimWait    time.Duration
	staleAfter   time.Duration
	pollInterval time.Duration
	now          func() time.Time
}

// Option customizes the GORM store.
type Option func(*gormStore)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *gormStore) { s.now = now }
}

// WithPollInterval sets how often an in-flight claim is re-read.
func WithPollInterval(d time.Duration) Option {
	return func(s *gormStore) { s.pollInterval = d }
}

// NewGormStore creates a ledger backed by the processed_events table.
// claimWait bounds how long TryClaim waits on a foreign claim; claims older
// than staleAfter are taken over.
func NewGormStore(db *gorm.DB, claimWait, staleAfter time.Duration, opts ...Option) Store {
	s := &gormStore{
		db:           db,
		claimWait:    claimWait,
		staleAfter:   staleAfter,
		pollInterval: defaultPollInterval,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *gormStore) TryClaim(ctx context.Context, eventID, claimant string) (ClaimResult, error) {
	deadline := s.now().Add(s.claimWait)

	for {
		row := models.ProcessedEvent{
			EventID:   eventID,
			State:     models.ProcessedEventStateClaimed,
			ClaimedBy: claimant,
			ClaimedAt: s.now().UTC(),
		}
		tx := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
		if tx.Error != nil {
			return ClaimResult{}, fmt.Errorf("insert claim for %s: %w", eventID, tx.Error)
		}
		if tx.RowsAffected > 0 {
			return ClaimResult{Outcome: Claimed}, nil
		}

		var stored models.ProcessedEvent
		err := s.db.WithContext(ctx).Where("event_id = ?", eventID).First(&stored).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Released between insert and read; try again.
			continue
		}
		if err != nil {
			return ClaimResult{}, fmt.Errorf("read claim for %s: %w", eventID, err)
		}

		if stored.IsCommitted() {
			return ClaimResult{Outcome: Duplicate, Summary: stored.ResultSummary}, nil
		}
		if stored.ClaimedBy == claimant {
			return ClaimResult{Outcome: Claimed}, nil
		}
		if s.now().Sub(stored.ClaimedAt) >= s.staleAfter {
			took, err := s.takeOver(ctx, eventID, stored.ClaimedBy, claimant)
			if err != nil {
				return ClaimResult{}, err
			}
			if took {
				return ClaimResult{Outcome: Claimed, TookOver: true}, nil
			}
			continue
		}

		if !s.now().Before(deadline) {
			return ClaimResult{}, fmt.Errorf("%w: %s held by %s", ErrClaimInFlight, eventID, stored.ClaimedBy)
		}
		select {
		case <-ctx.Done():
			return ClaimResult{}, ctx.Err()
		case <-time.After(s.pollInterval):
		}
	}
}

// takeOver moves a stale claim to claimant only if its owner did not change
// since it was read.
func (s *gormStore) takeOver(ctx context.Context, eventID, previous, claimant string) (bool, error) {
	tx := s.db.WithContext(ctx).Model(&models.ProcessedEvent{}).
		Where("event_id = ? AND state = ? AND claimed_by = ?", eventID, models.ProcessedEventStateClaimed, previous).
		Updates(map[string]interface{}{
			"claimed_by": claimant,
			"claimed_at": s.now().UTC(),
		})
	if tx.Error != nil {
		return false, fmt.Errorf("take over claim for %s: %w", eventID, tx.Error)
	}
	return tx.RowsAffected == 1, nil
}

func (s *gormStore) Commit(ctx context.Context, eventID, eventType, summary string) error {
	now := s.now().UTC()
	updates := map[string]interface{}{
		"state":          models.ProcessedEventStateCommitted,
		"event_type":     eventType,
		"processed_at":   &now,
		"result_summary": summary,
	}
	tx := s.db.WithContext(ctx).Model(&models.ProcessedEvent{}).
		Where("event_id = ? AND state = ?", eventID, models.ProcessedEventStateClaimed).
		Updates(updates)
	if tx.Error != nil {
		return fmt.Errorf("commit %s: %w", eventID, tx.Error)
	}
	if tx.RowsAffected > 0 {
		return nil
	}

	// Either already committed (first commit wins) or the claim row is gone.
	row := models.ProcessedEvent{
		EventID:       eventID,
		EventType:     eventType,
		State:         models.ProcessedEventStateCommitted,
		ClaimedAt:     now,
		ProcessedAt:   &now,
		ResultSummary: summary,
	}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
		return fmt.Errorf("commit %s: %w", eventID, err)
	}
	return nil
}

func (s *gormStore) Release(ctx context.Context, eventID, claimant string) error {
	err := s.db.WithContext(ctx).
		Where("event_id = ? AND state = ? AND claimed_by = ?", eventID, models.ProcessedEventStateClaimed, claimant).
		Delete(&models.ProcessedEvent{}).Error
	if err != nil {
		return fmt.Errorf("release %s: %w", eventID, err)
	}
	return nil
}

func (s *gormStore) Prune(ctx context.Context, olderThan time.Time, beforeDelete PruneHook) ([]models.ProcessedEvent, error) {
	var pruned []models.ProcessedEvent
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("state = ? AND processed_at < ?", models.ProcessedEventStateCommitted, olderThan.UTC()).
			Order("processed_at ASC").
			Find(&pruned).Error; err != nil {
			return err
		}
		if len(pruned) == 0 {
			return nil
		}
		if beforeDelete != nil {
			if err := beforeDelete(ctx, pruned); err != nil {
				return err
			}
		}
		ids := make([]string, 0, len(pruned))
		for _, e := range pruned {
			ids = append(ids, e.EventID)
		}
		return tx.Where("event_id IN ?", ids).Delete(&models.ProcessedEvent{}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("prune ledger: %w", err)
	}
	return pruned, nil
}
