package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/financebee/internal/pkg/guardian"
	"github.com/ManuelReschke/financebee/internal/pkg/idempotency"
	"github.com/ManuelReschke/financebee/internal/pkg/jobqueue"
	"github.com/ManuelReschke/financebee/internal/pkg/revenue"
	"github.com/ManuelReschke/financebee/internal/pkg/subscription"
)

// State is a step of the per-task state machine.
type State string

const (
	StateReceived   State = "RECEIVED"
	StateValidating State = "VALIDATING"
	StateBlocked    State = "BLOCKED"
	StateDuplicate  State = "DUPLICATE"
	StateProcessing State = "PROCESSING"
	StateCommitted  State = "COMMITTED"
	StateFailed     State = "FAILED"
	StateReported   State = "REPORTED"
)

// TaskQueue is the part of the queue API the executor consumes.
type TaskQueue interface {
	Assign(ctx context.Context, queue string, timeout time.Duration, worker string) (*jobqueue.Task, error)
	ReportSuccess(ctx context.Context, task *jobqueue.Task, summary string) error
	ReportFailure(ctx context.Context, task *jobqueue.Task, reason string, retryable bool) error
}

// Config holds the executor settings.
type Config struct {
	Queue              string
	WorkerIdentity     string
	PollTimeout        time.Duration
	MaxConcurrentTasks int
	PerCallTimeout     time.Duration
	SafetyMargin       time.Duration
	TierDurations      map[string]time.Duration
}

// Outcome is what happened to one task.
type Outcome struct {
	EventID  string
	Path     State
	Summary  string
	Failure  *Failure
	Reported bool
}

// Executor consumes revenue tasks and projects them into subscription state.
type Executor struct {
	queue      TaskQueue
	store      idempotency.Store
	transition subscription.Transition
	guardian   *guardian.Guardian
	cfg        Config

	counters guardian.Counters
	tasks    TaskCounters
	now      func() time.Time
}

// Option customizes an Executor.
type Option func(*Executor)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

// New wires an executor.
func New(queue TaskQueue, store idempotency.Store, transition subscription.Transition, g *guardian.Guardian, cfg Config, opts ...Option) *Executor {
	if cfg.MaxConcurrentTasks <= 0 {
		cfg.MaxConcurrentTasks = 1
	}
	e := &Executor{
		queue:      queue,
		store:      store,
		transition: transition,
		guardian:   g,
		cfg:        cfg,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// GuardianStats returns the verdict counters.
func (e *Executor) GuardianStats() guardian.Snapshot {
	return e.counters.Snapshot()
}

// TaskStats returns the task outcome counters.
func (e *Executor) TaskStats() TaskSnapshot {
	return e.tasks.Snapshot()
}

// ProcessTask runs one assigned task through the state machine and reports
// the result to the queue.
func (e *Executor) ProcessTask(ctx context.Context, task *jobqueue.Task) Outcome {
	out := e.process(ctx, task)
	e.tasks.record(out.Path)

	var err error
	if out.Failure == nil {
		err = e.queue.ReportSuccess(ctx, task, out.Summary)
	} else {
		err = e.queue.ReportFailure(ctx, task, out.Failure.Error(), out.Failure.Retryable())
	}
	switch {
	case errors.Is(err, jobqueue.ErrLeaseLost):
		e.tasks.lostLeases.Add(1)
		log.Warnf("[FinanceExecutor] Lease on task %s lost before report (%s)", task.ID, out.Path)
	case err != nil:
		log.Errorf("[FinanceExecutor] Failed to report task %s: %v", task.ID, err)
	default:
		out.Reported = true
	}
	return out
}

func (e *Executor) process(ctx context.Context, task *jobqueue.Task) Outcome {
	// RECEIVED -> VALIDATING
	ev, err := revenue.Parse(task.Payload)
	if err != nil {
		e.counters.IncMalformed()
		log.Warnf("[FinanceExecutor] Task %s carries a malformed payload: %v", task.ID, err)
		return Outcome{Path: StateBlocked, Failure: validationFailure(err.Error())}
	}
	out := Outcome{EventID: ev.ID}

	verdict := e.guardian.Validate(ev, &e.counters)
	if !verdict.Approved {
		detail := verdict.Reason
		if len(verdict.MatchedPatterns) > 0 {
			detail += " [" + strings.Join(verdict.MatchedPatterns, ", ") + "]"
		}
		log.Warnf("[Guardian] Blocked event %s (%s): %s", ev.ID, ev.ProviderType, detail)
		out.Path = StateBlocked
		out.Failure = validationFailure(detail)
		return out
	}

	if f := e.checkBudget(task); f != nil {
		out.Path = StateFailed
		out.Failure = f
		return out
	}

	claimant := e.claimant(task)
	claimCtx, cancel := e.callContext(ctx, task)
	claim, err := e.store.TryClaim(claimCtx, ev.ID, claimant)
	cancel()
	if err != nil {
		out.Path = StateFailed
		out.Failure = classify(fmt.Errorf("claim %s: %w", ev.ID, err))
		return out
	}
	if claim.Outcome == idempotency.Duplicate {
		log.Infof("[FinanceExecutor] Event %s already processed, replaying result", ev.ID)
		out.Path = StateDuplicate
		out.Summary = claim.Summary
		return out
	}
	if claim.TookOver {
		log.Warnf("[FinanceExecutor] Took over stale claim on event %s", ev.ID)
	}

	// PROCESSING
	summary, err := e.dispatch(ctx, task, ev)
	if err != nil {
		e.release(task, ev.ID, claimant)
		out.Path = StateFailed
		out.Failure = classify(err)
		log.Errorf("[FinanceExecutor] Event %s (%s) failed: %s", ev.ID, ev.Type, out.Failure.Error())
		return out
	}

	commitCtx, cancel := e.callContext(ctx, task)
	err = e.store.Commit(commitCtx, ev.ID, string(ev.Type), summary)
	cancel()
	if err != nil {
		e.release(task, ev.ID, claimant)
		out.Path = StateFailed
		out.Failure = classify(fmt.Errorf("commit %s: %w", ev.ID, err))
		return out
	}

	log.Infof("[FinanceExecutor] Event %s (%s) committed: %s", ev.ID, ev.Type, summary)
	out.Path = StateCommitted
	out.Summary = summary
	return out
}

// dispatch runs exactly one handler per event type. Every EventType needs a case.
func (e *Executor) dispatch(ctx context.Context, task *jobqueue.Task, ev *revenue.Event) (string, error) {
	switch ev.Type {
	case revenue.EventCheckoutCompleted:
		return e.handleCheckoutCompleted(ctx, task, ev)
	case revenue.EventSubscriptionUpdated:
		return e.handleSubscriptionUpdated(ctx, task, ev)
	case revenue.EventSubscriptionDeleted:
		return e.handleSubscriptionDeleted(ctx, task, ev)
	case revenue.EventPaymentFailed:
		return e.handlePaymentFailed(ctx, task, ev)
	case revenue.EventUnknown:
		log.Infof("[FinanceExecutor] Acknowledging unhandled provider event %s of type %q", ev.ID, ev.ProviderType)
		return fmt.Sprintf("ignored unhandled event type %s", ev.ProviderType), nil
	default:
		return "", permanentFailure(fmt.Errorf("no handler for event type %q", ev.Type))
	}
}

// leaseBudgetEnd is the last instant a store write may start.
func (e *Executor) leaseBudgetEnd(task *jobqueue.Task) time.Time {
	return task.LeaseDeadline().Add(-e.cfg.SafetyMargin)
}

func (e *Executor) checkBudget(task *jobqueue.Task) *Failure {
	if !e.now().Before(e.leaseBudgetEnd(task)) {
		log.Warnf("[FinanceExecutor] Task %s out of lease budget (assigned %s, max %s)", task.ID, task.AssignedAt.Format(time.RFC3339), task.MaxExecTime)
		return deadlineFailure()
	}
	return nil
}

// callContext bounds one store call by the per-call timeout and the lease budget.
func (e *Executor) callContext(ctx context.Context, task *jobqueue.Task) (context.Context, context.CancelFunc) {
	deadline := e.now().Add(e.cfg.PerCallTimeout)
	if end := e.leaseBudgetEnd(task); end.Before(deadline) {
		deadline = end
	}
	return context.WithTimeout(ctx, deadline.Sub(e.now()))
}

// callTransition guards a single Transition call with the deadline check.
func (e *Executor) callTransition(ctx context.Context, task *jobqueue.Task, fn func(ctx context.Context) error) error {
	if f := e.checkBudget(task); f != nil {
		return f
	}
	callCtx, cancel := e.callContext(ctx, task)
	defer cancel()
	return fn(callCtx)
}

func (e *Executor) claimant(task *jobqueue.Task) string {
	return e.cfg.WorkerIdentity + "/" + task.LeaseToken
}

// release drops the claim so a retry can run the event again.
func (e *Executor) release(task *jobqueue.Task, eventID, claimant string) {
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.PerCallTimeout)
	defer cancel()
	if err := e.store.Release(ctx, eventID, claimant); err != nil {
		log.Errorf("[FinanceExecutor] Failed to release claim on %s for task %s: %v", eventID, task.ID, err)
	}
}
