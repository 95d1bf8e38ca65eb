// SPDX-License-Identifier: MIT

// Package loginlock serializes provider logins across every SubMaker
// instance sharing a Redis, so an aggressively rate-limited upstream only
// ever sees one login attempt per cooldown window.
package loginlock

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/submaker/submaker/internal/log"
	"github.com/submaker/submaker/internal/metrics"
)

const (
	// DefaultCooldown is the minimum spacing between two logins against
	// the same upstream, across all instances.
	DefaultCooldown = 1100 * time.Millisecond

	// DefaultBudget caps how long a single caller waits in the queue
	// before giving up.
	DefaultBudget = 45 * time.Second

	// MaxCycles bounds the acquire loop so a pathological PTTL can never
	// spin a goroutine forever.
	MaxCycles = 20

	jitterMin = 50 * time.Millisecond
	jitterMax = 150 * time.Millisecond
)

// ErrQueueCongestion means the caller exhausted its wait budget or cycle
// allowance without ever holding the lock.
var ErrQueueCongestion = errors.New("login queue congested")

// refreshScript restarts the cooldown window, but only while we still own
// the lock. Without it the TTL set at acquisition keeps ticking during the
// login call itself, and a slow login would leave almost no spacing before
// the next one.
var refreshScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`)

// Coordinator hands out the distributed login lock. With no Redis it
// degrades to process-local serialization, which still protects the
// upstream from a single instance but not from a fleet.
type Coordinator struct {
	client   *redis.Client
	key      string
	cooldown time.Duration
	budget   time.Duration

	// Buffered channel used as a semaphore; local contenders queue here
	// before touching Redis so one instance never competes with itself.
	local chan struct{}

	// throttle spaces this instance's own logins before it ever contends
	// for the shared lock; in degraded mode it is the only spacing left.
	throttle *rate.Limiter

	logger zerolog.Logger
}

// New builds a coordinator for one upstream. key should already carry the
// isolation prefix. client may be nil for degraded local-only mode.
func New(client *redis.Client, key string, cooldown, budget time.Duration) *Coordinator {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	if budget <= 0 {
		budget = DefaultBudget
	}
	c := &Coordinator{
		client:   client,
		key:      key,
		cooldown: cooldown,
		budget:   budget,
		local:    make(chan struct{}, 1),
		throttle: rate.NewLimiter(rate.Every(cooldown), 1),
		logger:   log.WithComponent("loginlock"),
	}
	if client == nil {
		c.logger.Warn().
			Str("event", "loginlock.degraded").
			Str("key", key).
			Msg("no shared lock backend, login serialization is local only")
	}
	return c
}

// Do runs fn while holding the login slot. The slot is not released early:
// the lock key keeps the cooldown alive, and after a successful login its
// TTL is restarted so the spacing is measured from the end of the call,
// not from acquisition.
func (c *Coordinator) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, c.budget)
	defer cancel()

	// Local FIFO gate first.
	select {
	case c.local <- struct{}{}:
	case <-ctx.Done():
		return c.congested(ctx.Err(), start)
	}
	defer func() { <-c.local }()

	// Space this instance's own logins before touching the shared lock.
	if err := c.throttle.Wait(ctx); err != nil {
		return c.congested(err, start)
	}

	if c.client == nil {
		metrics.ObserveLoginLockWait(time.Since(start))
		return fn(ctx)
	}

	owner := uuid.NewString()
	for cycle := 0; cycle < MaxCycles; cycle++ {
		ok, err := c.client.SetNX(ctx, c.key, owner, c.cooldown).Result()
		if err != nil {
			// Redis went away mid-flight; the local throttle already spaced
			// us, so run the login rather than failing it outright.
			c.logger.Warn().
				Str("event", "loginlock.backend_error").
				Err(err).
				Msg("lock backend unavailable, continuing with local spacing only")
			metrics.ObserveLoginLockWait(time.Since(start))
			return fn(ctx)
		}
		if ok {
			metrics.ObserveLoginLockWait(time.Since(start))
			err := fn(ctx)
			if err == nil {
				c.refresh(ctx, owner)
			}
			return err
		}

		wait := c.cooldown
		if pttl, err := c.client.PTTL(ctx, c.key).Result(); err == nil && pttl > 0 {
			wait = pttl
		}
		wait += jitterMin + time.Duration(rand.Int63n(int64(jitterMax-jitterMin)))

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return c.congested(ctx.Err(), start)
		}
	}
	return c.congested(nil, start)
}

// refresh restarts the cooldown after a successful login. Best effort: a
// failed refresh just means the spacing falls back to acquisition time.
func (c *Coordinator) refresh(ctx context.Context, owner string) {
	// Detached context: the caller's budget may be spent by now, and the
	// refresh still has to land for the fleet-wide spacing to hold.
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := refreshScript.Run(rctx, c.client, []string{c.key}, owner, c.cooldown.Milliseconds()).Err(); err != nil {
		c.logger.Debug().
			Str("event", "loginlock.refresh_failed").
			Err(err).
			Msg("could not restart cooldown window")
	}
}

func (c *Coordinator) congested(cause error, start time.Time) error {
	c.logger.Warn().
		Str("event", "loginlock.congested").
		Dur("waited", time.Since(start)).
		AnErr("cause", cause).
		Msg("gave up waiting for login slot")
	if cause != nil && !errors.Is(cause, context.DeadlineExceeded) {
		return cause
	}
	return ErrQueueCongestion
}
