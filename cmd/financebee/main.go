package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/financebee/internal/pkg/cache"
	"github.com/ManuelReschke/financebee/internal/pkg/config"
	"github.com/ManuelReschke/financebee/internal/pkg/database"
	"github.com/ManuelReschke/financebee/internal/pkg/env"
	"github.com/ManuelReschke/financebee/internal/pkg/executor"
	"github.com/ManuelReschke/financebee/internal/pkg/guardian"
	"github.com/ManuelReschke/financebee/internal/pkg/heartbeat"
	"github.com/ManuelReschke/financebee/internal/pkg/idempotency"
	"github.com/ManuelReschke/financebee/internal/pkg/jobqueue"
	"github.com/ManuelReschke/financebee/internal/pkg/s3archive"
	"github.com/ManuelReschke/financebee/internal/pkg/subscription"
	"github.com/ManuelReschke/financebee/internal/pkg/worker"
)

const (
	sweepInterval     = 5 * time.Second
	retentionInterval = time.Hour
)

func main() {
	env.SetupEnvFile()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[FinanceBee] %v", err)
	}

	db, err := database.SetupDatabase()
	if err != nil {
		log.Fatalf("[FinanceBee] %v", err)
	}
	rdb := cache.SetupCache(cfg)

	g, err := guardian.New(cfg.GuardianPatternSetVersion)
	if err != nil {
		log.Fatalf("[FinanceBee] %v", err)
	}

	queue := jobqueue.NewClient(rdb,
		jobqueue.WithMaxExecTime(cfg.TaskMaxExecTime),
		jobqueue.WithMaxAttempts(cfg.TaskMaxAttempts),
	)
	store := idempotency.NewGormStore(db, cfg.ClaimWait, cfg.StaleClaimAfter)

	exec := executor.New(queue, store, subscription.NewGormTransition(db), g, executor.Config{
		Queue:              cfg.QueueName,
		WorkerIdentity:     cfg.WorkerIdentity,
		PollTimeout:        cfg.PollTimeout,
		MaxConcurrentTasks: cfg.MaxConcurrentTasks,
		PerCallTimeout:     cfg.PerCallTimeout,
		SafetyMargin:       cfg.SafetyMargin,
		TierDurations:      cfg.TierDurations(),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var archiver s3archive.Archiver
	s3cfg, err := s3archive.LoadConfig()
	if err != nil {
		log.Fatalf("[FinanceBee] %v", err)
	}
	if s3cfg.Enabled {
		client, err := s3archive.NewClient(ctx, s3cfg)
		if err != nil {
			log.Fatalf("[FinanceBee] %v", err)
		}
		archiver = client
	}

	manager := worker.NewManager(exec, queue, heartbeat.New(rdb, cfg.WorkerIdentity), store, archiver, worker.Settings{
		Queue:             cfg.QueueName,
		ShutdownGrace:     cfg.ShutdownGrace,
		SweepInterval:     sweepInterval,
		HeartbeatInterval: cfg.HeartbeatInterval,
		RetentionInterval: retentionInterval,
		LedgerRetention:   cfg.LedgerRetention,
	})

	log.Infof("[FinanceBee] Worker %s consuming %q with %d slots", cfg.WorkerIdentity, cfg.QueueName, cfg.MaxConcurrentTasks)
	manager.Start()

	<-ctx.Done()
	log.Info("[FinanceBee] Shutdown requested")

	if err := manager.Stop(); err != nil {
		log.Errorf("[FinanceBee] %v", err)
		os.Exit(1)
	}
	log.Info("[FinanceBee] Stopped")
}
