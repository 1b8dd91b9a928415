//go:build integration

package cooldown_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"afterimage/internal/cooldown"
	"afterimage/internal/scope"
	"afterimage/pkg/testutil/containers"
)

type RedisTrackerSuite struct {
	suite.Suite
	redis   *containers.RedisContainer
	tracker *cooldown.RedisTracker
}

func TestRedisTrackerSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisTrackerSuite))
}

func (s *RedisTrackerSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.redis = mgr.GetRedis(s.T())
	s.tracker = cooldown.NewRedisTracker(s.redis.Client)
}

func (s *RedisTrackerSuite) SetupTest() {
	s.redis.Reset(s.T())
}

func (s *RedisTrackerSuite) TestReserveAndCommit() {
	ctx := context.Background()
	key := cooldown.Key{Actor: "operator-1", PolicyClass: scope.PolicyCritical}

	d, err := s.tracker.Remaining(ctx, key)
	s.Require().NoError(err)
	s.Zero(d)

	r, remaining, err := s.tracker.Reserve(ctx, key, 5*time.Second)
	s.Require().NoError(err)
	s.Zero(remaining)
	s.NotEmpty(r.Token)

	s.Run("claimed key is blocked", func() {
		blocked, remaining, err := s.tracker.Reserve(ctx, key, 5*time.Second)
		s.Require().NoError(err)
		s.Empty(blocked.Token)
		s.Greater(remaining, time.Duration(0))
	})

	s.Run("commit sets the cooldown", func() {
		s.Require().NoError(s.tracker.Commit(ctx, r, 10*time.Second))
		d, err := s.tracker.Remaining(ctx, key)
		s.Require().NoError(err)
		s.InDelta(float64(10*time.Second), float64(d), float64(time.Second))
	})

	s.Run("zero cooldown clears the claim", func() {
		other := cooldown.Key{Actor: "operator-3", PolicyClass: scope.PolicyRoutine}
		r, _, err := s.tracker.Reserve(ctx, other, 5*time.Second)
		s.Require().NoError(err)
		s.Require().NoError(s.tracker.Commit(ctx, r, 0))
		d, err := s.tracker.Remaining(ctx, other)
		s.Require().NoError(err)
		s.Zero(d)
	})

	s.Run("release frees the key", func() {
		other := cooldown.Key{Actor: "operator-4", PolicyClass: scope.PolicyRoutine}
		r, _, err := s.tracker.Reserve(ctx, other, 5*time.Second)
		s.Require().NoError(err)
		s.Require().NoError(s.tracker.Release(ctx, r))
		_, remaining, err := s.tracker.Reserve(ctx, other, 5*time.Second)
		s.Require().NoError(err)
		s.Zero(remaining)
	})

	s.Run("commit of a lost claim fails", func() {
		other := cooldown.Key{Actor: "operator-5", PolicyClass: scope.PolicyRoutine}
		stale, _, err := s.tracker.Reserve(ctx, other, 50*time.Millisecond)
		s.Require().NoError(err)
		s.Eventually(func() bool {
			_, remaining, err := s.tracker.Reserve(ctx, other, time.Minute)
			return err == nil && remaining == 0
		}, 2*time.Second, 20*time.Millisecond)
		s.ErrorIs(s.tracker.Commit(ctx, stale, time.Hour), cooldown.ErrClaimLost)
	})

	s.Run("expires", func() {
		other := cooldown.Key{Actor: "operator-2", PolicyClass: scope.PolicyCritical}
		r, _, err := s.tracker.Reserve(ctx, other, time.Second)
		s.Require().NoError(err)
		s.Require().NoError(s.tracker.Commit(ctx, r, 50*time.Millisecond))
		s.Eventually(func() bool {
			d, err := s.tracker.Remaining(ctx, other)
			return err == nil && d == 0
		}, 2*time.Second, 20*time.Millisecond)
	})
}

func (s *RedisTrackerSuite) TestConcurrentReserve() {
	ctx := context.Background()
	key := cooldown.Key{Actor: "operator-1", PolicyClass: scope.PolicySensitive}

	var granted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, remaining, err := s.tracker.Reserve(ctx, key, time.Minute)
			if err == nil && remaining == 0 {
				granted.Add(1)
			}
		}()
	}
	wg.Wait()
	s.Equal(int64(1), granted.Load())
}
