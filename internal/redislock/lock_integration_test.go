//go:build integration

package redislock_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/JonMunkholm/viability/internal/core"
	"github.com/JonMunkholm/viability/internal/redislock"
	"github.com/JonMunkholm/viability/internal/testutil/containers"
)

type LockSuite struct {
	suite.Suite
	redis *containers.RedisContainer
}

func TestLockSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(LockSuite))
}

func (s *LockSuite) SetupSuite() {
	s.redis = containers.NewRedisContainer(s.T())
}

func (s *LockSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *LockSuite) TestSecondHolderIsRejected() {
	ctx := context.Background()
	a := redislock.New(s.redis.Client, "test-lock", time.Minute)
	b := redislock.New(s.redis.Client, "test-lock", time.Minute)

	release, err := a.Acquire(ctx)
	s.Require().NoError(err)

	_, err = b.Acquire(ctx)
	s.True(errors.Is(err, core.ErrReloadInProgress), "got %v", err)

	s.Require().NoError(release(ctx))

	release, err = b.Acquire(ctx)
	s.Require().NoError(err)
	s.Require().NoError(release(ctx))
}

func (s *LockSuite) TestExpiredLockIsNotReleasedByOldHolder() {
	ctx := context.Background()
	lock := redislock.New(s.redis.Client, "test-lock", 50*time.Millisecond)

	staleRelease, err := lock.Acquire(ctx)
	s.Require().NoError(err)

	time.Sleep(100 * time.Millisecond)

	freshRelease, err := lock.Acquire(ctx)
	s.Require().NoError(err)

	s.Require().NoError(staleRelease(ctx))
	exists, err := s.redis.Client.Exists(ctx, "test-lock").Result()
	s.Require().NoError(err)
	s.Equal(int64(1), exists, "stale release must not drop the new holder's lock")

	s.Require().NoError(freshRelease(ctx))
}

func (s *LockSuite) TestGuardsReloadsAcrossServices() {
	ctx := context.Background()
	lock := redislock.New(s.redis.Client, "test-lock", time.Minute)

	release, err := lock.Acquire(ctx)
	s.Require().NoError(err)
	defer release(ctx)

	svc := core.NewService(core.ServiceConfig{Lock: redislock.New(s.redis.Client, "test-lock", time.Minute)})
	res := svc.ClearAll(ctx)
	s.False(res.Success)
	s.Equal(core.FailureConcurrent, res.Failure)
}
