package lock

import (
	"context"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swedrowski79-dot/afs-mappingxt/pkg/errors"
)

func TestLocalGuard(t *testing.T) {
	ctx := context.Background()
	var guard Guard = NewLocalGuard()

	release, err := guard.Acquire(ctx, "shop")
	require.NoError(t, err)

	t.Run("should report busy while held", func(t *testing.T) {
		_, err := guard.Acquire(ctx, "shop")
		require.Error(t, err)
		assert.True(t, errors.IsBusy(err))
	})

	t.Run("should guard keys independently", func(t *testing.T) {
		other, err := guard.Acquire(ctx, "other")
		require.NoError(t, err)
		require.NoError(t, other(ctx))
	})

	t.Run("should allow reacquire after release", func(t *testing.T) {
		require.NoError(t, release(ctx))
		require.NoError(t, release(ctx))

		again, err := guard.Acquire(ctx, "shop")
		require.NoError(t, err)
		require.NoError(t, again(ctx))
	})
}

func TestNewRedisGuard(t *testing.T) {
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer rdb.Close()

	g := NewRedisGuard(rdb, RedisConfig{}, logger)
	assert.Equal(t, "lock:", g.keyPrefix)
	assert.Equal(t, 30*time.Minute, g.ttl)

	g = NewRedisGuard(rdb, RedisConfig{KeyPrefix: "afs:", TTL: time.Minute}, logger)
	assert.Equal(t, "afs:", g.keyPrefix)
	assert.Equal(t, time.Minute, g.ttl)

	var _ Guard = g
}
