package subscription

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ManuelReschke/financebee/app/models"
)

const (
	userOne = "6f1c2a4e-8d1b-4c7a-9f2e-3b5d7e9a1c0f"
	userTwo = "0b8e4f52-1c3d-4a6b-8e7f-9a0b1c2d3e4f"
)

var t0 = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(models.AutoMigrateTargets()...))
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func activateInput(user, sub, tier string, at time.Time) ActivateInput {
	return ActivateInput{
		UserID:               user,
		Tier:                 tier,
		VendorSubscriptionID: sub,
		VendorCustomerID:     "cus_" + sub,
		PeriodStart:          at,
		PeriodEnd:            at.Add(30 * 24 * time.Hour),
		OccurredAt:           at,
	}
}

func profileOf(t *testing.T, db *gorm.DB, userID string) models.UserProfile {
	t.Helper()
	var p models.UserProfile
	require.NoError(t, db.Where("user_id = ?", userID).First(&p).Error)
	return p
}

func TestActivate_CreatesRecordAndSetsPremium(t *testing.T) {
	db := setupTestDB(t)
	tr := NewGormTransition(db)

	res, err := tr.Activate(context.Background(), activateInput(userOne, "S1", models.TierGold, t0))
	require.NoError(t, err)
	assert.False(t, res.Stale)
	assert.Equal(t, userOne, res.Record.UserID)
	assert.Equal(t, "S1", res.Record.VendorSubscriptionID)
	assert.Equal(t, models.TierGold, res.Record.Tier)
	assert.Equal(t, models.SubscriptionStatusActive, res.Record.Status)

	p := profileOf(t, db, userOne)
	assert.True(t, p.IsPremium)
	assert.Equal(t, models.TierGold, p.SubscriptionTier)
}

func TestActivate_IdempotentUnderRetries(t *testing.T) {
	db := setupTestDB(t)
	tr := NewGormTransition(db)
	in := activateInput(userOne, "S1", models.TierSilver, t0)

	for i := 0; i < 5; i++ {
		_, err := tr.Activate(context.Background(), in)
		require.NoError(t, err)
	}

	var count int64
	require.NoError(t, db.Model(&models.SubscriptionRecord{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
	require.NoError(t, db.Model(&models.UserProfile{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
	assert.True(t, profileOf(t, db, userOne).IsPremium)
}

func TestActivate_ExpiresOtherActiveRecordsOfUser(t *testing.T) {
	db := setupTestDB(t)
	tr := NewGormTransition(db)
	ctx := context.Background()

	_, err := tr.Activate(ctx, activateInput(userOne, "S1", models.TierBronze, t0))
	require.NoError(t, err)
	_, err = tr.Activate(ctx, activateInput(userTwo, "S9", models.TierBronze, t0))
	require.NoError(t, err)
	_, err = tr.Activate(ctx, activateInput(userOne, "S2", models.TierGold, t0.Add(time.Hour)))
	require.NoError(t, err)

	old, err := tr.Lookup(ctx, "S1")
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusExpired, old.Status)

	other, err := tr.Lookup(ctx, "S9")
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusActive, other.Status)

	assert.Equal(t, models.TierGold, profileOf(t, db, userOne).SubscriptionTier)
}

func TestActivate_OwnerChangeClearsPreviousOwner(t *testing.T) {
	db := setupTestDB(t)
	tr := NewGormTransition(db)
	ctx := context.Background()

	_, err := tr.Activate(ctx, activateInput(userOne, "S1", models.TierGold, t0))
	require.NoError(t, err)
	require.True(t, profileOf(t, db, userOne).IsPremium)

	res, err := tr.Activate(ctx, activateInput(userTwo, "S1", models.TierSilver, t0.Add(time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, userTwo, res.Record.UserID)

	previous := profileOf(t, db, userOne)
	assert.False(t, previous.IsPremium)
	assert.Empty(t, previous.SubscriptionTier)

	current := profileOf(t, db, userTwo)
	assert.True(t, current.IsPremium)
	assert.Equal(t, models.TierSilver, current.SubscriptionTier)
}

func TestUpdateStatus_FollowsPremiumFlag(t *testing.T) {
	db := setupTestDB(t)
	tr := NewGormTransition(db)
	ctx := context.Background()

	_, err := tr.Activate(ctx, activateInput(userOne, "S1", models.TierGold, t0))
	require.NoError(t, err)

	end := t0.Add(60 * 24 * time.Hour)
	res, err := tr.UpdateStatus(ctx, "S1", models.SubscriptionStatusPastDue, &end, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusPastDue, res.Record.Status)
	require.NotNil(t, res.Record.PeriodEnd)
	assert.True(t, end.Equal(*res.Record.PeriodEnd))
	assert.True(t, profileOf(t, db, userOne).IsPremium)

	_, err = tr.UpdateStatus(ctx, "S1", models.SubscriptionStatusExpired, nil, t0.Add(2*time.Hour))
	require.NoError(t, err)
	p := profileOf(t, db, userOne)
	assert.False(t, p.IsPremium)
	assert.Empty(t, p.SubscriptionTier)
}

func TestUpdateStatus_MissingRecord(t *testing.T) {
	tr := NewGormTransition(setupTestDB(t))
	_, err := tr.UpdateStatus(context.Background(), "nope", models.SubscriptionStatusActive, nil, t0)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestCancel_ClearsPremium(t *testing.T) {
	db := setupTestDB(t)
	tr := NewGormTransition(db)
	ctx := context.Background()

	_, err := tr.Activate(ctx, activateInput(userOne, "S1", models.TierGold, t0))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		res, err := tr.Cancel(ctx, "S1", t0.Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, models.SubscriptionStatusCanceled, res.Record.Status)
	}
	assert.False(t, profileOf(t, db, userOne).IsPremium)
}

func TestReordering_DeleteBeforeCheckoutStaysCanceled(t *testing.T) {
	db := setupTestDB(t)
	tr := NewGormTransition(db)
	ctx := context.Background()
	t1 := t0
	t2 := t0.Add(10 * time.Minute)

	res, err := tr.Cancel(ctx, "S1", t2)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusCanceled, res.Record.Status)

	res, err = tr.Activate(ctx, activateInput(userOne, "S1", models.TierGold, t1))
	require.NoError(t, err)
	assert.True(t, res.Stale)
	assert.Equal(t, models.SubscriptionStatusCanceled, res.Record.Status)
	assert.Equal(t, userOne, res.Record.UserID)

	rec, err := tr.Lookup(ctx, "S1")
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusCanceled, rec.Status)

	var profiles int64
	require.NoError(t, db.Model(&models.UserProfile{}).Where("user_id = ? AND is_premium = ?", userOne, true).Count(&profiles).Error)
	assert.Equal(t, int64(0), profiles)
}

func TestMarkPastDue(t *testing.T) {
	db := setupTestDB(t)
	tr := NewGormTransition(db)
	ctx := context.Background()

	_, err := tr.MarkPastDue(ctx, "S1", t0)
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = tr.Activate(ctx, activateInput(userOne, "S1", models.TierBronze, t0))
	require.NoError(t, err)
	res, err := tr.MarkPastDue(ctx, "S1", t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusPastDue, res.Record.Status)
	assert.True(t, profileOf(t, db, userOne).IsPremium)

	_, err = tr.Cancel(ctx, "S1", t0.Add(2*time.Hour))
	require.NoError(t, err)
	res, err = tr.MarkPastDue(ctx, "S1", t0.Add(3*time.Hour))
	require.NoError(t, err)
	assert.True(t, res.Stale)
	assert.Equal(t, models.SubscriptionStatusCanceled, res.Record.Status)
}

func TestFaultBetweenWritesRollsBackBoth(t *testing.T) {
	errCrash := errors.New("crash")

	t.Run("activate", func(t *testing.T) {
		db := setupTestDB(t)
		tr := &gormTransition{db: db, faultAfterRecordWrite: func(string) error { return errCrash }}

		_, err := tr.Activate(context.Background(), activateInput(userOne, "S1", models.TierGold, t0))
		require.ErrorIs(t, err, errCrash)

		var records, profiles int64
		require.NoError(t, db.Model(&models.SubscriptionRecord{}).Count(&records).Error)
		require.NoError(t, db.Model(&models.UserProfile{}).Count(&profiles).Error)
		assert.Zero(t, records)
		assert.Zero(t, profiles)
	})

	t.Run("cancel", func(t *testing.T) {
		db := setupTestDB(t)
		tr := &gormTransition{db: db}
		_, err := tr.Activate(context.Background(), activateInput(userOne, "S1", models.TierGold, t0))
		require.NoError(t, err)

		tr.faultAfterRecordWrite = func(string) error { return errCrash }
		_, err = tr.Cancel(context.Background(), "S1", t0.Add(time.Hour))
		require.ErrorIs(t, err, errCrash)

		rec, err := tr.Lookup(context.Background(), "S1")
		require.NoError(t, err)
		assert.Equal(t, models.SubscriptionStatusActive, rec.Status)
		assert.True(t, profileOf(t, db, userOne).IsPremium)
	})
}

func TestLookup_NotFound(t *testing.T) {
	tr := NewGormTransition(setupTestDB(t))
	_, err := tr.Lookup(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
