// SPDX-License-Identifier: MIT

package loginlock

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestDoAcquiresImmediately(t *testing.T) {
	mr, client := testClient(t)
	c := New(client, "iso:login:opensubtitles", 30*time.Millisecond, time.Second)

	ran := false
	err := c.Do(context.Background(), func(ctx context.Context) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)

	// The lock stays behind as the cooldown marker.
	assert.True(t, mr.Exists("iso:login:opensubtitles"))
}

func TestDoWaitsForCooldownExpiry(t *testing.T) {
	mr, client := testClient(t)
	cooldown := 30 * time.Millisecond

	a := New(client, "iso:login:x", cooldown, 5*time.Second)
	require.NoError(t, a.Do(context.Background(), func(context.Context) error { return nil }))

	// Second instance contends while the cooldown marker is still live.
	b := New(client, "iso:login:x", cooldown, 5*time.Second)
	done := make(chan error, 1)
	go func() {
		done <- b.Do(context.Background(), func(context.Context) error { return nil })
	}()

	time.Sleep(20 * time.Millisecond)
	mr.FastForward(cooldown)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("contender never acquired the lock")
	}
}

func TestDoCongestionUnderHeldLock(t *testing.T) {
	mr, client := testClient(t)
	mr.Set("iso:login:y", "someone-else")

	c := New(client, "iso:login:y", 20*time.Millisecond, 250*time.Millisecond)
	err := c.Do(context.Background(), func(context.Context) error {
		t.Fatal("must not run while the lock is held elsewhere")
		return nil
	})
	assert.ErrorIs(t, err, ErrQueueCongestion)
}

func TestDoDegradedLocalThrottle(t *testing.T) {
	cooldown := 60 * time.Millisecond
	c := New(nil, "iso:login:z", cooldown, time.Second)

	start := time.Now()
	for i := 0; i < 2; i++ {
		require.NoError(t, c.Do(context.Background(), func(context.Context) error { return nil }))
	}
	assert.GreaterOrEqual(t, time.Since(start), cooldown-10*time.Millisecond)
}

func TestDoRestartsCooldownAfterSlowLogin(t *testing.T) {
	mr, client := testClient(t)
	cooldown := 500 * time.Millisecond
	c := New(client, "iso:login:slow", cooldown, 5*time.Second)

	err := c.Do(context.Background(), func(ctx context.Context) error {
		// A login that eats most of the cooldown window.
		mr.FastForward(400 * time.Millisecond)
		return nil
	})
	require.NoError(t, err)

	// The window restarts when the login returns: the remaining TTL must
	// be the full cooldown, not cooldown minus the login duration.
	assert.Equal(t, cooldown, mr.TTL("iso:login:slow"))
}

func TestDoSpacesLocalLoginsBeforeContending(t *testing.T) {
	mr, client := testClient(t)
	cooldown := 80 * time.Millisecond
	c := New(client, "iso:login:w", cooldown, 2*time.Second)

	start := time.Now()
	require.NoError(t, c.Do(context.Background(), func(context.Context) error { return nil }))
	// Clear the shared marker so only the local throttle can space the
	// second call.
	mr.Del("iso:login:w")
	require.NoError(t, c.Do(context.Background(), func(context.Context) error { return nil }))
	assert.GreaterOrEqual(t, time.Since(start), cooldown-10*time.Millisecond)
}

func TestTwoCoordinatorsSpaceLogins(t *testing.T) {
	mr, client := testClient(t)
	client2 := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client2.Close() })

	cooldown := 200 * time.Millisecond
	a := New(client, "iso:login:fleet", cooldown, 10*time.Second)
	b := New(client2, "iso:login:fleet", cooldown, 10*time.Second)

	// miniredis only expires keys when its clock moves; tick it forward in
	// step with real time so the cooldown lapses naturally.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				mr.FastForward(20 * time.Millisecond)
			}
		}
	}()

	var (
		mu     sync.Mutex
		stamps []time.Time
		inFn   atomic.Int32
	)
	login := func(context.Context) error {
		assert.Equal(t, int32(1), inFn.Add(1), "two logins ran concurrently")
		mu.Lock()
		stamps = append(stamps, time.Now())
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		inFn.Add(-1)
		return nil
	}

	var wg sync.WaitGroup
	for _, c := range []*Coordinator{a, b} {
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func(c *Coordinator) {
				defer wg.Done()
				assert.NoError(t, c.Do(context.Background(), login))
			}(c)
		}
	}
	wg.Wait()

	require.Len(t, stamps, 4)
	sort.Slice(stamps, func(i, j int) bool { return stamps[i].Before(stamps[j]) })
	for i := 1; i < len(stamps); i++ {
		assert.GreaterOrEqual(t, stamps[i].Sub(stamps[i-1]), cooldown/2,
			"logins %d and %d ran too close together", i-1, i)
	}
}

func TestTokenStoreCompareAndSwap(t *testing.T) {
	_, client := testClient(t)
	ctx := context.Background()
	s := NewTokenStore(client, "iso:session:opensubtitles", time.Hour)

	assert.Empty(t, s.Get(ctx))

	ok, err := s.CompareAndSwap(ctx, "", "tok-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "tok-1", s.Get(ctx))

	// A racer holding a stale view must lose.
	ok, err = s.CompareAndSwap(ctx, "", "tok-stale")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "tok-1", s.Get(ctx))

	ok, err = s.CompareAndSwap(ctx, "tok-1", "tok-2")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "tok-2", s.Get(ctx))

	s.Invalidate(ctx)
	assert.Empty(t, s.Get(ctx))
}

func TestTokenStoreDegraded(t *testing.T) {
	ctx := context.Background()
	s := NewTokenStore(nil, "unused", time.Hour)

	ok, err := s.CompareAndSwap(ctx, "", "tok-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.CompareAndSwap(ctx, "wrong", "tok-2")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "tok-1", s.Get(ctx))
}
