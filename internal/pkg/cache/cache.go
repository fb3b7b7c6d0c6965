package cache

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/financebee/internal/pkg/config"
)

var client *redis.Client

// SetupCache connects to the Redis instance that backs the task queue,
// heartbeats and the ingress rate limiter.
func SetupCache(cfg *config.Config) *redis.Client {
	client = redis.NewClient(&redis.Options{
		Addr:     cfg.QueueEndpoint,
		Password: cfg.QueuePassword,
		DB:       cfg.QueueDB,
		// Assign long-polls with BRPOPLPUSH; the read timeout must outlast it.
		ReadTimeout: cfg.PollTimeout + 5*time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	pong, err := client.Ping(ctx).Result()
	if err != nil {
		log.Warnf("[Cache] Could not connect to queue endpoint %s: %v", cfg.QueueEndpoint, err)
	} else {
		log.Infof("[Cache] Connected to queue endpoint %s: %s", cfg.QueueEndpoint, pong)
	}
	return client
}

// GetClient returns the client created by SetupCache.
func GetClient() *redis.Client {
	return client
}
