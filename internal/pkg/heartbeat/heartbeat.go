package heartbeat

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	KeyPrefix = "executor:"
	TTL       = 120 * time.Second
	StatsTTL  = time.Hour
)

func heartbeatKey(name string) string { return KeyPrefix + name + ":heartbeat" }
func statsKey(name string) string     { return KeyPrefix + name + ":stats" }

// Publisher announces that a worker is alive and what it has done so far.
// Counters are published best effort; losing them on restart is accepted.
type Publisher struct {
	rdb  *redis.Client
	name string
	now  func() time.Time
}

// New creates a publisher for the given worker identity.
func New(rdb *redis.Client, name string) *Publisher {
	return &Publisher{rdb: rdb, name: name, now: time.Now}
}

// Beat refreshes the heartbeat key and overwrites the stats hash.
func (p *Publisher) Beat(ctx context.Context, stats map[string]int64) error {
	pipe := p.rdb.TxPipeline()
	pipe.Set(ctx, heartbeatKey(p.name), p.now().UTC().Format(time.RFC3339), TTL)
	if len(stats) > 0 {
		values := make(map[string]interface{}, len(stats)+1)
		for k, v := range stats {
			values[k] = v
		}
		values["updated_at"] = p.now().Unix()
		pipe.HSet(ctx, statsKey(p.name), values)
		pipe.Expire(ctx, statsKey(p.name), StatsTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("heartbeat for %s: %w", p.name, err)
	}
	return nil
}

// Stop removes the heartbeat key so the worker stops counting as alive at once.
func (p *Publisher) Stop(ctx context.Context) error {
	return p.rdb.Del(ctx, heartbeatKey(p.name)).Err()
}

// Stats reads the last published counters of a worker.
func Stats(ctx context.Context, rdb *redis.Client, name string) (map[string]int64, error) {
	raw, err := rdb.HGetAll(ctx, statsKey(name)).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(raw))
	for k, v := range raw {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			out[k] = n
		}
	}
	return out, nil
}

// IsAlive reports whether a worker has beaten within TTL.
func IsAlive(ctx context.Context, rdb *redis.Client, name string) (bool, error) {
	_, err := rdb.Get(ctx, heartbeatKey(name)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
