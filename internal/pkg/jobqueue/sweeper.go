package jobqueue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
)

// Sweep promotes due delayed tasks and requeues tasks whose lease expired.
// Every step is guarded by a removal that only one caller can win, so any
// number of workers may sweep the same queue concurrently.
func (c *Client) Sweep(ctx context.Context, queue string) (SweepResult, error) {
	var res SweepResult

	promoted, err := c.promoteDelayed(ctx, queue)
	res.Promoted = promoted
	if err != nil {
		return res, err
	}

	requeued, err := c.recoverExpired(ctx, queue)
	res.Requeued = requeued
	if err != nil {
		return res, err
	}

	if res.Promoted > 0 || res.Requeued > 0 {
		log.Infof("[TaskQueue] Sweep of %s promoted %d and requeued %d tasks", queue, res.Promoted, res.Requeued)
	}
	return res, nil
}

func (c *Client) promoteDelayed(ctx context.Context, queue string) (int, error) {
	due, err := c.rdb.ZRangeByScore(ctx, delayedKey(queue), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(c.now().UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read delayed tasks: %w", err)
	}

	promoted := 0
	for _, id := range due {
		removed, err := c.rdb.ZRem(ctx, delayedKey(queue), id).Result()
		if err != nil {
			return promoted, fmt.Errorf("failed to promote %s: %w", id, err)
		}
		if removed == 0 {
			continue
		}
		if err := c.rdb.RPush(ctx, pendingKey(queue), id).Err(); err != nil {
			return promoted, fmt.Errorf("failed to promote %s: %w", id, err)
		}
		promoted++
	}
	return promoted, nil
}

func (c *Client) recoverExpired(ctx context.Context, queue string) (int, error) {
	ids, err := c.rdb.LRange(ctx, processingKey(queue), 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read processing list: %w", err)
	}

	requeued := 0
	for _, id := range ids {
		leased, err := c.rdb.Exists(ctx, leaseKey(id)).Result()
		if err != nil {
			return requeued, err
		}
		if leased == 1 {
			continue
		}

		task, err := c.Get(ctx, id)
		if isGone(err) {
			log.Errorf("[TaskQueue] Sweeper dropping unreadable task %s: %v", id, err)
			_ = c.rdb.LRem(ctx, processingKey(queue), 1, id).Err()
			continue
		}
		if err != nil {
			return requeued, fmt.Errorf("failed to load task %s: %w", id, err)
		}

		reason := "lease expired"
		if task.Status != TaskStatusProcessing {
			// Popped but never leased: either mid-assignment or the assigning
			// process died. Only act once the entry has been seen for a while.
			first, err := c.orphanSince(ctx, queue, id)
			if err != nil {
				return requeued, err
			}
			if c.now().Sub(first) < c.orphanGrace {
				continue
			}
			reason = "orphaned before lease"
		}

		removed, err := c.rdb.LRem(ctx, processingKey(queue), 1, id).Result()
		if err != nil {
			return requeued, err
		}
		if removed == 0 {
			continue
		}
		log.Warnf("[TaskQueue] Requeuing task %s (attempt %d, %s)", id, task.Attempt, reason)
		if err := c.requeue(ctx, queue, task, reason, false); err != nil {
			return requeued, fmt.Errorf("failed to requeue %s: %w", id, err)
		}
		requeued++
	}
	return requeued, nil
}

// orphanSince returns when an unleased processing entry was first noticed.
func (c *Client) orphanSince(ctx context.Context, queue, id string) (time.Time, error) {
	now := c.now()
	if _, err := c.rdb.HSetNX(ctx, orphansKey(queue), id, now.UnixMilli()).Result(); err != nil {
		return now, err
	}
	raw, err := c.rdb.HGet(ctx, orphansKey(queue), id).Result()
	if err != nil {
		return now, err
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return now, nil
	}
	return time.UnixMilli(ms), nil
}
