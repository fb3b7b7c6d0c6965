package router

import (
	"net"
	"strconv"

	"github.com/gofiber/fiber/v2"
	redisstorage "github.com/gofiber/storage/redis"
	"github.com/redis/go-redis/v9"
)

// limiterDatabase keeps limiter counters apart from the queue keys in DB 0.
const limiterDatabase = 2

// NewLimiterStorage shares rate limit counters between ingress replicas,
// reusing the address and password of the queue client.
func NewLimiterStorage(rdb *redis.Client) fiber.Storage {
	host := "localhost"
	port := 6379
	password := ""
	if rdb != nil {
		if h, p, err := net.SplitHostPort(rdb.Options().Addr); err == nil {
			host = h
			if v, err := strconv.Atoi(p); err == nil {
				port = v
			}
		}
		password = rdb.Options().Password
	}

	return redisstorage.New(redisstorage.Config{
		Host:     host,
		Port:     port,
		Password: password,
		Database: limiterDatabase,
		Reset:    false,
	})
}
