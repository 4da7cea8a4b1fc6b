package redislock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/viability/internal/core"
)

func TestNew_Defaults(t *testing.T) {
	l := New(nil, "", 0)
	assert.Equal(t, DefaultKey, l.key)
	assert.Equal(t, DefaultTTL, l.ttl)
}

func TestAcquire_UnreachableRedis(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	_, err := New(client, "k", time.Second).Acquire(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrReloadLockUnavailable), "got %v", err)
}

func TestConnect_NoURL(t *testing.T) {
	client, err := Connect(context.Background(), Config{})
	require.NoError(t, err)
	assert.Nil(t, client)
}

func TestConnect_BadURL(t *testing.T) {
	_, err := Connect(context.Background(), Config{URL: "http://not-redis"})
	assert.Error(t, err)
}
