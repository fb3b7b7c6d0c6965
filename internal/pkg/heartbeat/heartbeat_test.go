package heartbeat

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb, mr
}

func TestBeatAndIsAlive(t *testing.T) {
	rdb, mr := setupRedis(t)
	ctx := context.Background()
	p := New(rdb, "finance-bee-01")

	alive, err := IsAlive(ctx, rdb, "finance-bee-01")
	require.NoError(t, err)
	assert.False(t, alive)

	require.NoError(t, p.Beat(ctx, map[string]int64{"guardian_approved": 3, "guardian_blocked": 1}))

	alive, err = IsAlive(ctx, rdb, "finance-bee-01")
	require.NoError(t, err)
	assert.True(t, alive)
	assert.Equal(t, TTL, mr.TTL("executor:finance-bee-01:heartbeat"))
	assert.Equal(t, StatsTTL, mr.TTL("executor:finance-bee-01:stats"))

	stats, err := Stats(ctx, rdb, "finance-bee-01")
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats["guardian_approved"])
	assert.Equal(t, int64(1), stats["guardian_blocked"])

	mr.FastForward(TTL + time.Second)
	alive, err = IsAlive(ctx, rdb, "finance-bee-01")
	require.NoError(t, err)
	assert.False(t, alive)
}

func TestStop(t *testing.T) {
	rdb, _ := setupRedis(t)
	ctx := context.Background()
	p := New(rdb, "w")

	require.NoError(t, p.Beat(ctx, nil))
	require.NoError(t, p.Stop(ctx))

	alive, err := IsAlive(ctx, rdb, "w")
	require.NoError(t, err)
	assert.False(t, alive)
}
