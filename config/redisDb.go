package config

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// RedisHandles bundles the client and its lock client so callers get
// both from one connect call. Nil handles mean Redis is not configured;
// every consumer must degrade gracefully.
type RedisHandles struct {
	Client *redis.Client
	Locker *redislock.Client
}

// ConnectRedis dials REDIS_ADDRESS once. Returns nil handles when the
// address is unset so the core can run without Redis (row locks only,
// lot sequences from the database).
func ConnectRedis(ctx context.Context) *RedisHandles {
	redisAddr := os.Getenv("REDIS_ADDRESS")
	if redisAddr == "" {
		log.Printf("REDIS_ADDRESS not set; running without redis locks")
		return &RedisHandles{}
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		Password: "",
		DB:       0, // use default DB
		PoolSize: 100,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Printf("failed to connect redis (addr=%s): %v; running without redis locks", redisAddr, err)
		return &RedisHandles{}
	}
	return &RedisHandles{Client: rdb, Locker: redislock.New(rdb)}
}

// ConnectRedisWithRetry keeps retrying with capped exponential backoff
// until REDIS_ADDRESS answers a ping.
func ConnectRedisWithRetry(ctx context.Context) *RedisHandles {
	redisAddr := os.Getenv("REDIS_ADDRESS")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
		log.Printf("REDIS_ADDRESS not set; defaulting to %s", redisAddr)
	}

	var attempt int
	for {
		attempt++
		rdb := redis.NewClient(&redis.Options{
			Addr:     redisAddr,
			Password: "",
			DB:       0,
			PoolSize: 100,
		})
		if err := rdb.Ping(ctx).Err(); err == nil {
			log.Printf("connected to redis (attempt=%d addr=%s)", attempt, redisAddr)
			return &RedisHandles{Client: rdb, Locker: redislock.New(rdb)}
		} else {
			sleep := time.Second * time.Duration(1<<min(attempt, 5))
			if sleep > 30*time.Second {
				sleep = 30 * time.Second
			}
			log.Printf("failed to connect redis (attempt=%d addr=%s): %v; retrying in %s", attempt, redisAddr, err, sleep)
			time.Sleep(sleep)
		}
	}
}

// NextCounter increments and returns a named counter. Zero with a nil
// client so callers fall back to a database-derived sequence.
func (r *RedisHandles) NextCounter(ctx context.Context, key string) (int64, error) {
	if r == nil || r.Client == nil {
		return 0, nil
	}
	return r.Client.Incr(ctx, key).Result()
}
