package router

import (
	"net"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/storage/redis"

	"github.com/ManuelReschke/PayHook/internal/pkg/cache"
	"github.com/ManuelReschke/PayHook/internal/pkg/env"
)

// rateLimitDatabase keeps limiter keys out of DB 0, which holds the cache and job queue.
const rateLimitDatabase = 2

// LimiterStorage returns Redis-backed limiter storage on the cache server so limits hold
// across instances.
func LimiterStorage() fiber.Storage {
	host := "localhost"
	port := 6379
	password := ""

	opts := cache.Options()
	if h, p, err := net.SplitHostPort(opts.Addr); err == nil {
		host = h
		if v, err := strconv.Atoi(p); err == nil {
			port = v
		}
	}
	if opts.Password != "" {
		password = opts.Password
	}

	return redis.New(redis.Config{
		Host:     host,
		Port:     port,
		Password: password,
		Database: rateLimitDatabase,
		Reset:    false,
	})
}

// StatsUsers reads the basic auth account for the stats endpoints. Without a password the
// map is empty and every request is refused.
func StatsUsers() map[string]string {
	users := map[string]string{}
	if pw := env.GetEnv("METRICS_PASSWORD", ""); pw != "" {
		users[env.GetEnv("METRICS_USER", "admin")] = pw
	}
	return users
}

func newLimiter(storage fiber.Storage, maxKey string, def int) fiber.Handler {
	limit, err := strconv.Atoi(env.GetEnv(maxKey, ""))
	if err != nil || limit <= 0 {
		limit = def
	}
	return limiter.New(limiter.Config{
		Max:        limit,
		Expiration: time.Minute,
		Storage:    storage,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "rate_limited"})
		},
	})
}
