package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/ManuelReschke/financebee/app/models"
	"github.com/ManuelReschke/financebee/internal/pkg/env"
)

// DefaultTierDurationDays sells gold as a yearly plan.
const DefaultTierDurationDays = "bronze:30,silver:30,gold:365"

// Config is the recognized configuration surface of the worker and ingress.
type Config struct {
	// Task queue
	QueueEndpoint      string `validate:"required,hostname_port"`
	QueuePassword      string
	QueueDB            int           `validate:"gte=0,lte=15"`
	QueueName          string        `validate:"required"`
	WorkerIdentity     string        `validate:"required"`
	PollTimeout        time.Duration `validate:"gte=1s"`
	MaxConcurrentTasks int           `validate:"gte=1,lte=256"`
	TaskMaxExecTime    time.Duration `validate:"gtefield=SafetyMargin"`
	TaskMaxAttempts    int           `validate:"gte=1"`

	// Deadlines
	PerCallTimeout time.Duration `validate:"gt=0"`
	SafetyMargin   time.Duration `validate:"gte=0"`
	ShutdownGrace  time.Duration `validate:"gte=0"`

	// Guardian
	GuardianPatternSetVersion string `validate:"required,oneof=v1 v2"`

	// Billing periods
	TierDurationDays map[string]int `validate:"required,dive,keys,oneof=bronze silver gold,endkeys,gte=1"`

	// Idempotency ledger
	ClaimWait       time.Duration `validate:"gte=0"`
	StaleClaimAfter time.Duration `validate:"gtefield=TaskMaxExecTime"`
	LedgerRetention time.Duration `validate:"gt=0"`

	// Ingress
	WebhookSecret    string
	WebhookRateLimit int `validate:"gte=0"`
	AppHost          string
	AppPort          string `validate:"required,numeric"`
	AdminUser        string
	AdminPassword    string

	HeartbeatInterval time.Duration `validate:"gt=0"`
}

// Load reads the configuration from the loaded .env map and the process environment.
func Load() *Config {
	return &Config{
		QueueEndpoint:      env.GetEnv("QUEUE_ENDPOINT", "localhost:6379"),
		QueuePassword:      env.GetEnv("QUEUE_PASSWORD", ""),
		QueueDB:            env.GetEnvInt("QUEUE_DB", 0),
		QueueName:          env.GetEnv("QUEUE_NAME", "revenue"),
		WorkerIdentity:     env.GetEnv("WORKER_IDENTITY", "finance-bee-01"),
		PollTimeout:        time.Duration(env.GetEnvInt("POLL_TIMEOUT_SECONDS", 10)) * time.Second,
		MaxConcurrentTasks: env.GetEnvInt("MAX_CONCURRENT_TASKS", 5),
		TaskMaxExecTime:    time.Duration(env.GetEnvInt("TASK_MAX_EXEC_SECONDS", 60)) * time.Second,
		TaskMaxAttempts:    env.GetEnvInt("TASK_MAX_ATTEMPTS", 5),

		PerCallTimeout: time.Duration(env.GetEnvInt("PER_CALL_TIMEOUT_MS", 5000)) * time.Millisecond,
		SafetyMargin:   time.Duration(env.GetEnvInt("SAFETY_MARGIN_MS", 5000)) * time.Millisecond,
		ShutdownGrace:  time.Duration(env.GetEnvInt("SHUTDOWN_GRACE_SECONDS", 30)) * time.Second,

		GuardianPatternSetVersion: env.GetEnv("GUARDIAN_PATTERN_SET_VERSION", "v2"),
		TierDurationDays:          ParseTierDurations(env.GetEnv("TIER_DURATION_DAYS", DefaultTierDurationDays)),

		ClaimWait:       time.Duration(env.GetEnvInt("CLAIM_WAIT_MS", 2000)) * time.Millisecond,
		StaleClaimAfter: time.Duration(env.GetEnvInt("STALE_CLAIM_SECONDS", 120)) * time.Second,
		LedgerRetention: time.Duration(env.GetEnvInt("LEDGER_RETENTION_DAYS", 90)) * 24 * time.Hour,

		WebhookSecret:    env.GetEnv("WEBHOOK_SECRET", ""),
		WebhookRateLimit: env.GetEnvInt("WEBHOOK_RATE_LIMIT", 600),
		AppHost:          env.GetEnv("APP_HOST", "localhost"),
		AppPort:          env.GetEnv("APP_PORT", "4000"),
		AdminUser:        env.GetEnv("ADMIN_USER", ""),
		AdminPassword:    env.GetEnv("ADMIN_PASSWORD", ""),

		HeartbeatInterval: time.Duration(env.GetEnvInt("HEARTBEAT_INTERVAL_SECONDS", 30)) * time.Second,
	}
}

// Validate checks the loaded values. Every tier must have a duration.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	for _, tier := range []string{models.TierBronze, models.TierSilver, models.TierGold} {
		if _, ok := c.TierDurationDays[tier]; !ok {
			return fmt.Errorf("invalid configuration: TIER_DURATION_DAYS is missing tier %q", tier)
		}
	}
	return nil
}

// TierDuration returns the fixed billing period of a tier.
func (c *Config) TierDuration(tier string) (time.Duration, bool) {
	days, ok := c.TierDurationDays[tier]
	if !ok {
		return 0, false
	}
	return time.Duration(days) * 24 * time.Hour, true
}

// TierDurations returns every configured tier period.
func (c *Config) TierDurations() map[string]time.Duration {
	out := make(map[string]time.Duration, len(c.TierDurationDays))
	for tier := range c.TierDurationDays {
		out[tier], _ = c.TierDuration(tier)
	}
	return out
}

// ParseTierDurations parses "bronze:30,silver:30,gold:365". Malformed pairs are skipped
// and surface later through Validate.
func ParseTierDurations(raw string) map[string]int {
	out := make(map[string]int)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, days, found := strings.Cut(pair, ":")
		if !found {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(days))
		if err != nil {
			continue
		}
		out[strings.ToLower(strings.TrimSpace(name))] = n
	}
	return out
}
