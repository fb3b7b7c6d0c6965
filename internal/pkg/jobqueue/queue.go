package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// Redis key prefixes
	TaskKeyPrefix  = "revenue:task:"
	LeaseKeyPrefix = "revenue:lease:"
	QueueKeyPrefix = "revenue:queue:"

	// Task settings
	DefaultMaxAttempts = 5
	DefaultMaxExecTime = 60 * time.Second
	DefaultRetryBase   = 5 * time.Second
	MaxRetryDelay      = 5 * time.Minute
	TaskTTL            = 7 * 24 * time.Hour
	FinishedTaskTTL    = 24 * time.Hour
)

// ErrLeaseLost is returned by reports from a worker whose lease expired or
// was handed to someone else.
var ErrLeaseLost = errors.New("task lease lost")

// ErrCorruptTask marks stored task data that cannot be decoded.
var ErrCorruptTask = errors.New("corrupt task data")

func pendingKey(queue string) string    { return QueueKeyPrefix + queue + ":pending" }
func processingKey(queue string) string { return QueueKeyPrefix + queue + ":processing" }
func delayedKey(queue string) string    { return QueueKeyPrefix + queue + ":delayed" }
func deadKey(queue string) string       { return QueueKeyPrefix + queue + ":dead" }
func statsKey(queue string) string      { return QueueKeyPrefix + queue + ":stats" }
func orphansKey(queue string) string    { return QueueKeyPrefix + queue + ":orphans" }
func taskKey(id string) string          { return TaskKeyPrefix + id }
func leaseKey(id string) string         { return LeaseKeyPrefix + id }

// Client talks to the Redis-backed task queue. It is safe for concurrent use
// and holds no per-task state; any number of processes may share a queue.
type Client struct {
	rdb         *redis.Client
	maxExecTime time.Duration
	maxAttempts int
	retryBase   time.Duration
	orphanGrace time.Duration
	now         func() time.Time
}

// Option customizes a Client.
type Option func(*Client)

func WithMaxExecTime(d time.Duration) Option { return func(c *Client) { c.maxExecTime = d } }
func WithMaxAttempts(n int) Option           { return func(c *Client) { c.maxAttempts = n } }
func WithRetryBase(d time.Duration) Option   { return func(c *Client) { c.retryBase = d } }
func WithOrphanGrace(d time.Duration) Option { return func(c *Client) { c.orphanGrace = d } }
func WithClock(now func() time.Time) Option  { return func(c *Client) { c.now = now } }

// NewClient creates a queue client on top of an existing Redis connection.
func NewClient(rdb *redis.Client, opts ...Option) *Client {
	c := &Client{
		rdb:         rdb,
		maxExecTime: DefaultMaxExecTime,
		maxAttempts: DefaultMaxAttempts,
		retryBase:   DefaultRetryBase,
		orphanGrace: 30 * time.Second,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit stores a new task and appends it to the pending list.
func (c *Client) Submit(ctx context.Context, queue string, payload []byte) (string, error) {
	now := c.now()
	task := &Task{
		ID:          uuid.New().String(),
		Queue:       queue,
		Payload:     payload,
		Status:      TaskStatusPending,
		MaxAttempts: c.maxAttempts,
		MaxExecTime: c.maxExecTime,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	data, err := json.Marshal(task)
	if err != nil {
		return "", fmt.Errorf("failed to marshal task: %w", err)
	}

	pipe := c.rdb.TxPipeline()
	pipe.Set(ctx, taskKey(task.ID), data, TaskTTL)
	pipe.LPush(ctx, pendingKey(queue), task.ID)
	pipe.HIncrBy(ctx, statsKey(queue), "submitted", 1)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("failed to submit task: %w", err)
	}

	log.Debugf("[TaskQueue] Submitted task %s to %s", task.ID, queue)
	return task.ID, nil
}

// Assign blocks up to timeout for the next pending task and leases it to
// worker. An empty queue returns (nil, nil).
func (c *Client) Assign(ctx context.Context, queue string, timeout time.Duration, worker string) (*Task, error) {
	id, err := c.rdb.BRPopLPush(ctx, pendingKey(queue), processingKey(queue), timeout).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to pop task: %w", err)
	}

	task, err := c.Get(ctx, id)
	if isGone(err) {
		// Task data expired or is unreadable; drop the entry.
		log.Errorf("[TaskQueue] Dropping task %s from %s: %v", id, queue, err)
		_ = c.rdb.LRem(ctx, processingKey(queue), 1, id).Err()
		return nil, nil
	}
	if err != nil {
		// The entry stays in processing; the orphan sweep puts it back.
		return nil, fmt.Errorf("failed to load task %s: %w", id, err)
	}

	now := c.now()
	token := uuid.New().String()
	ok, err := c.rdb.SetNX(ctx, leaseKey(id), token, task.MaxExecTime).Result()
	if err != nil {
		if rqErr := c.requeue(ctx, queue, task, "lease error", true); rqErr != nil {
			log.Warnf("[TaskQueue] Could not requeue %s after lease error, leaving it to the sweeper: %v", id, rqErr)
		}
		return nil, fmt.Errorf("failed to lease task %s: %w", id, err)
	}
	if !ok {
		// Someone still holds a lease; try again once it can have expired.
		log.Warnf("[TaskQueue] Task %s already leased, deferring", id)
		pipe := c.rdb.TxPipeline()
		pipe.LRem(ctx, processingKey(queue), 1, id)
		pipe.ZAdd(ctx, delayedKey(queue), redis.Z{Score: float64(now.Add(task.MaxExecTime).UnixMilli()), Member: id})
		_, _ = pipe.Exec(ctx)
		return nil, nil
	}

	task.MarkAsAssigned(worker, token, now)
	data, err := json.Marshal(task)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal task: %w", err)
	}
	pipe := c.rdb.TxPipeline()
	pipe.Set(ctx, taskKey(id), data, TaskTTL)
	pipe.HDel(ctx, orphansKey(queue), id)
	pipe.HIncrBy(ctx, statsKey(queue), "assigned", 1)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to record assignment of %s: %w", id, err)
	}

	log.Debugf("[TaskQueue] Assigned task %s (attempt %d) to %s", id, task.Attempt, worker)
	return task, nil
}

// ReportSuccess completes a task. It fails with ErrLeaseLost if the caller no
// longer owns the lease.
func (c *Client) ReportSuccess(ctx context.Context, task *Task, summary string) error {
	done := *task
	done.MarkAsCompleted(summary, c.now())
	return c.finish(ctx, task, &done, func(pipe redis.Pipeliner, data []byte) {
		pipe.Set(ctx, taskKey(task.ID), data, FinishedTaskTTL)
		pipe.HIncrBy(ctx, statsKey(task.Queue), string(TaskStatusCompleted), 1)
	})
}

// ReportFailure ends the current attempt. Retryable failures with attempts
// left are delayed with exponential backoff; everything else is dead-lettered.
func (c *Client) ReportFailure(ctx context.Context, task *Task, reason string, retryable bool) error {
	now := c.now()
	next := *task

	if retryable && task.CanRetry() {
		next.MarkAsRetrying(reason, now)
		due := now.Add(c.backoff(task.Attempt))
		return c.finish(ctx, task, &next, func(pipe redis.Pipeliner, data []byte) {
			pipe.Set(ctx, taskKey(task.ID), data, TaskTTL)
			pipe.ZAdd(ctx, delayedKey(task.Queue), redis.Z{Score: float64(due.UnixMilli()), Member: task.ID})
			pipe.HIncrBy(ctx, statsKey(task.Queue), string(TaskStatusRetrying), 1)
		})
	}

	next.MarkAsFailed(reason, now)
	return c.finish(ctx, task, &next, func(pipe redis.Pipeliner, data []byte) {
		pipe.Set(ctx, taskKey(task.ID), data, FinishedTaskTTL)
		pipe.LPush(ctx, deadKey(task.Queue), task.ID)
		pipe.HIncrBy(ctx, statsKey(task.Queue), string(TaskStatusFailed), 1)
	})
}

// finish releases the lease and applies the report atomically, guarded by
// a WATCH on the lease key.
func (c *Client) finish(ctx context.Context, task, next *Task, apply func(pipe redis.Pipeliner, data []byte)) error {
	next.LeaseToken = ""
	data, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	lease := leaseKey(task.ID)
	err = c.rdb.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, lease).Result()
		if errors.Is(err, redis.Nil) || (err == nil && current != task.LeaseToken) {
			return ErrLeaseLost
		}
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, lease)
			pipe.LRem(ctx, processingKey(task.Queue), 1, task.ID)
			apply(pipe, data)
			return nil
		})
		return err
	}, lease)

	if errors.Is(err, redis.TxFailedErr) {
		return ErrLeaseLost
	}
	if err != nil {
		if errors.Is(err, ErrLeaseLost) {
			return err
		}
		return fmt.Errorf("failed to report task %s: %w", task.ID, err)
	}
	*task = *next
	return nil
}

func (c *Client) backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := c.retryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= MaxRetryDelay {
			return MaxRetryDelay
		}
	}
	return d
}

// requeue moves a task back to pending. Callers that have not already removed
// the processing entry pass fromProcessing so both happen in one transaction.
func (c *Client) requeue(ctx context.Context, queue string, task *Task, reason string, fromProcessing bool) error {
	task.MarkAsPending(reason, c.now())
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}
	pipe := c.rdb.TxPipeline()
	if fromProcessing {
		pipe.LRem(ctx, processingKey(queue), 1, task.ID)
	}
	pipe.Set(ctx, taskKey(task.ID), data, TaskTTL)
	pipe.RPush(ctx, pendingKey(queue), task.ID)
	pipe.HDel(ctx, orphansKey(queue), task.ID)
	pipe.HIncrBy(ctx, statsKey(queue), "requeued", 1)
	_, err = pipe.Exec(ctx)
	return err
}

// Get retrieves a task by ID
func (c *Client) Get(ctx context.Context, id string) (*Task, error) {
	data, err := c.rdb.Get(ctx, taskKey(id)).Result()
	if err != nil {
		return nil, err
	}
	var task Task
	if err := json.Unmarshal([]byte(data), &task); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptTask, err)
	}
	return &task, nil
}

// isGone reports whether a Get error means the task can never be loaded.
func isGone(err error) bool {
	return errors.Is(err, redis.Nil) || errors.Is(err, ErrCorruptTask)
}

// Stats returns list sizes and lifetime counters of a queue.
func (c *Client) Stats(ctx context.Context, queue string) (*Stats, error) {
	pipe := c.rdb.Pipeline()
	pending := pipe.LLen(ctx, pendingKey(queue))
	processing := pipe.LLen(ctx, processingKey(queue))
	delayed := pipe.ZCard(ctx, delayedKey(queue))
	dead := pipe.LLen(ctx, deadKey(queue))
	counters := pipe.HGetAll(ctx, statsKey(queue))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	stats := &Stats{
		Pending:    pending.Val(),
		Processing: processing.Val(),
		Delayed:    delayed.Val(),
		Dead:       dead.Val(),
		Counters:   make(map[string]int64),
	}
	for name, raw := range counters.Val() {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			stats.Counters[name] = n
		}
	}
	return stats, nil
}
