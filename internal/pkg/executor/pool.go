package executor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
)

// ErrGraceExpired is returned by Run when in-flight tasks outlived the
// shutdown grace period and were abandoned to the lease timeout.
var ErrGraceExpired = errors.New("shutdown grace period expired")

const assignErrorBackoff = time.Second

// Run starts MaxConcurrentTasks loops of assign, validate, process, report.
// Canceling ctx stops new assignments at once; tasks already running get up
// to grace to finish before their context is canceled.
func (e *Executor) Run(ctx context.Context, grace time.Duration) error {
	workCtx, cancelWork := context.WithCancel(context.Background())
	defer cancelWork()

	log.Infof("[FinanceExecutor] Starting %d workers on queue %s as %s", e.cfg.MaxConcurrentTasks, e.cfg.Queue, e.cfg.WorkerIdentity)

	var wg sync.WaitGroup
	for i := 0; i < e.cfg.MaxConcurrentTasks; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			e.loop(ctx, workCtx, id)
		}(i)
	}

	<-ctx.Done()
	log.Info("[FinanceExecutor] Stop requested, waiting for in-flight tasks...")

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-done:
		log.Info("[FinanceExecutor] All workers stopped")
		return nil
	case <-timer.C:
		log.Warnf("[FinanceExecutor] Grace period of %s expired, abandoning in-flight tasks", grace)
		cancelWork()
		return ErrGraceExpired
	}
}

func (e *Executor) loop(ctx, workCtx context.Context, id int) {
	for {
		if ctx.Err() != nil {
			return
		}

		task, err := e.queue.Assign(ctx, e.cfg.Queue, e.cfg.PollTimeout, e.cfg.WorkerIdentity)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Errorf("[FinanceExecutor] Worker %d: assign failed: %v", id, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(assignErrorBackoff):
			}
			continue
		}
		if task == nil {
			continue
		}

		out := e.ProcessTask(workCtx, task)
		log.Debugf("[FinanceExecutor] Worker %d finished task %s via %s", id, task.ID, out.Path)
	}
}
