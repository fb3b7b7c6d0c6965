package worker

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/financebee/app/models"
	"github.com/ManuelReschke/financebee/internal/pkg/idempotency"
	"github.com/ManuelReschke/financebee/internal/pkg/jobqueue"
	"github.com/ManuelReschke/financebee/internal/pkg/s3archive"
)

// Executor is the task loop the manager owns.
type Executor interface {
	Run(ctx context.Context, grace time.Duration) error
	StatsMap() map[string]int64
}

// Sweeper recovers expired leases and due retries.
type Sweeper interface {
	Sweep(ctx context.Context, queue string) (jobqueue.SweepResult, error)
}

// Heartbeat publishes liveness and counters.
type Heartbeat interface {
	Beat(ctx context.Context, stats map[string]int64) error
	Stop(ctx context.Context) error
}

// Settings are the manager's intervals.
type Settings struct {
	Queue             string
	ShutdownGrace     time.Duration
	SweepInterval     time.Duration
	HeartbeatInterval time.Duration
	RetentionInterval time.Duration
	LedgerRetention   time.Duration
}

// Manager runs the executor pool and its background tasks
type Manager struct {
	exec      Executor
	sweeper   Sweeper
	heartbeat Heartbeat
	ledger    idempotency.Store
	archiver  s3archive.Archiver
	settings  Settings

	cancelExec context.CancelFunc
	execDone   chan error
	stopCh     chan struct{}
	wg         sync.WaitGroup
	mu         sync.Mutex
	running    bool
}

// NewManager wires a manager. archiver may be nil.
func NewManager(exec Executor, sweeper Sweeper, hb Heartbeat, ledger idempotency.Store, archiver s3archive.Archiver, settings Settings) *Manager {
	return &Manager{
		exec:      exec,
		sweeper:   sweeper,
		heartbeat: hb,
		ledger:    ledger,
		archiver:  archiver,
		settings:  settings,
	}
}

// Start starts the executor and background tasks
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	m.stopCh = make(chan struct{})
	m.execDone = make(chan error, 1)
	m.running = true
	log.Info("[Worker Manager] Starting executor and background tasks")

	ctx, cancel := context.WithCancel(context.Background())
	m.cancelExec = cancel
	go func() {
		m.execDone <- m.exec.Run(ctx, m.settings.ShutdownGrace)
	}()

	m.every(m.settings.SweepInterval, "lease sweeper", m.sweep)
	m.every(m.settings.HeartbeatInterval, "heartbeat", m.beat)
	if m.ledger != nil && m.settings.RetentionInterval > 0 {
		m.every(m.settings.RetentionInterval, "ledger retention", m.prune)
	}

	log.Info("[Worker Manager] Started successfully")
}

// Stop stops accepting tasks, waits for the executor within the grace
// period and stops the background tasks.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}

	log.Info("[Worker Manager] Stopping executor and background tasks...")
	m.cancelExec()
	err := <-m.execDone

	close(m.stopCh)
	m.wg.Wait()
	m.running = false

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	stats := m.exec.StatsMap()
	if hbErr := m.heartbeat.Beat(ctx, stats); hbErr != nil {
		log.Warnf("[Worker Manager] Final heartbeat failed: %v", hbErr)
	}
	if hbErr := m.heartbeat.Stop(ctx); hbErr != nil {
		log.Warnf("[Worker Manager] Could not clear heartbeat: %v", hbErr)
	}

	log.Infof("[Guardian] Stats: approved=%d blocked=%d malformed=%d total=%d",
		stats["guardian_approved"], stats["guardian_blocked"], stats["guardian_malformed"], stats["guardian_total"])

	log.Info("[Worker Manager] Stopped")
	return err
}

// every runs fn once immediately and then on each tick until Stop.
func (m *Manager) every(interval time.Duration, name string, fn func(ctx context.Context)) {
	if interval <= 0 {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		log.Infof("[Worker Manager] Started %s (interval: %s)", name, interval)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			<-m.stopCh
			cancel()
		}()

		fn(ctx)
		for {
			select {
			case <-m.stopCh:
				log.Infof("[Worker Manager] %s stopping", name)
				return
			case <-ticker.C:
				fn(ctx)
			}
		}
	}()
}

func (m *Manager) sweep(ctx context.Context) {
	if _, err := m.sweeper.Sweep(ctx, m.settings.Queue); err != nil && ctx.Err() == nil {
		log.Errorf("[Worker Manager] Sweep failed: %v", err)
	}
}

func (m *Manager) beat(ctx context.Context) {
	if err := m.heartbeat.Beat(ctx, m.exec.StatsMap()); err != nil && ctx.Err() == nil {
		log.Warnf("[Worker Manager] Heartbeat failed: %v", err)
	}
}

func (m *Manager) prune(ctx context.Context) {
	var hook idempotency.PruneHook
	if m.archiver != nil {
		hook = func(ctx context.Context, rows []models.ProcessedEvent) error {
			_, err := m.archiver.Archive(ctx, rows)
			return err
		}
	}
	rows, err := m.ledger.Prune(ctx, time.Now().Add(-m.settings.LedgerRetention), hook)
	if err != nil {
		if ctx.Err() == nil {
			log.Errorf("[Worker Manager] Ledger prune failed: %v", err)
		}
		return
	}
	if len(rows) > 0 {
		log.Infof("[Worker Manager] Pruned %d processed events older than %s", len(rows), m.settings.LedgerRetention)
	}
}
