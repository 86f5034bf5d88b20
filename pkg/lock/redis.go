package lock

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/swedrowski79-dot/afs-mappingxt/pkg/errors"
)

// ErrLockNotHeld is returned when releasing a lock that expired or was taken
// over.
var ErrLockNotHeld = stderrors.New("lock not held")

var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

var extendScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("pexpire", KEYS[1], ARGV[2])
	else
		return 0
	end
`)

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	// KeyPrefix defaults to "lock:".
	KeyPrefix string
	// TTL bounds how long a crashed holder blocks others. The lock is
	// extended every TTL/3 while held.
	TTL time.Duration
}

// RedisGuard guards across processes sharing a Redis instance.
type RedisGuard struct {
	rdb       redis.UniversalClient
	logger    ectologger.Logger
	keyPrefix string
	ttl       time.Duration
}

// NewRedisClient connects and pings Redis.
func NewRedisClient(ctx context.Context, cfg RedisConfig, logger ectologger.Logger) (*redis.Client, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}

	logger.Infof("Connected to Redis at %s", addr)
	return rdb, nil
}

func NewRedisGuard(rdb redis.UniversalClient, cfg RedisConfig, logger ectologger.Logger) *RedisGuard {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "lock:"
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &RedisGuard{rdb: rdb, logger: logger, keyPrefix: prefix, ttl: ttl}
}

func (g *RedisGuard) Acquire(ctx context.Context, key string) (Release, error) {
	lockKey := g.keyPrefix + key
	token := uuid.NewString()

	ok, err := g.rdb.SetNX(ctx, lockKey, token, g.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, errors.NewBusyError(key)
	}
	g.logger.WithContext(ctx).Debugf("Acquired lock: %s", key)

	stop := make(chan struct{})
	go g.keepAlive(lockKey, token, stop)

	released := false
	return func(ctx context.Context) error {
		if released {
			return nil
		}
		released = true
		close(stop)

		result, err := releaseScript.Run(ctx, g.rdb, []string{lockKey}, token).Int64()
		if err != nil {
			return fmt.Errorf("failed to release lock %s: %w", key, err)
		}
		if result == 0 {
			return ErrLockNotHeld
		}
		g.logger.WithContext(ctx).Debugf("Released lock: %s", key)
		return nil
	}, nil
}

func (g *RedisGuard) keepAlive(lockKey, token string, stop <-chan struct{}) {
	ticker := time.NewTicker(g.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			result, err := extendScript.Run(ctx, g.rdb, []string{lockKey}, token, g.ttl.Milliseconds()).Int64()
			cancel()
			if err != nil || result == 0 {
				g.logger.WithError(err).Warnf("Failed to extend lock %s", lockKey)
				return
			}
		}
	}
}
