// SPDX-License-Identifier: MIT

package loginlock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// casScript overwrites the shared token only when it still holds the value
// the caller observed before logging in. A plain SET here would let a slow
// instance clobber a fresher token obtained by a faster one.
var casScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur == false or cur == ARGV[1] then
	redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
	return 1
end
return 0
`)

// TokenStore shares an upstream session token between instances. It keeps
// a local copy so reads stay cheap and survive a Redis outage.
type TokenStore struct {
	client *redis.Client
	key    string
	ttl    time.Duration

	mu    sync.RWMutex
	local string
}

func NewTokenStore(client *redis.Client, key string, ttl time.Duration) *TokenStore {
	return &TokenStore{client: client, key: key, ttl: ttl}
}

// Get returns the current token, preferring the shared copy.
func (s *TokenStore) Get(ctx context.Context) string {
	if s.client != nil {
		if tok, err := s.client.Get(ctx, s.key).Result(); err == nil && tok != "" {
			s.mu.Lock()
			s.local = tok
			s.mu.Unlock()
			return tok
		} else if err != nil && !errors.Is(err, redis.Nil) {
			// Shared copy unreadable; fall through to the local one.
		}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.local
}

// CompareAndSwap installs next if the shared token still equals prev (or is
// unset). It reports whether next is now the token of record; on false the
// caller should re-read and use the winner's token instead of its own.
func (s *TokenStore) CompareAndSwap(ctx context.Context, prev, next string) (bool, error) {
	if s.client == nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.local != "" && s.local != prev {
			return false, nil
		}
		s.local = next
		return true, nil
	}

	n, err := casScript.Run(ctx, s.client, []string{s.key}, prev, next, s.ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	if n == 1 {
		s.mu.Lock()
		s.local = next
		s.mu.Unlock()
		return true, nil
	}
	return false, nil
}

// Invalidate drops the token everywhere, forcing the next caller through
// the login path.
func (s *TokenStore) Invalidate(ctx context.Context) {
	s.mu.Lock()
	s.local = ""
	s.mu.Unlock()
	if s.client != nil {
		_ = s.client.Del(ctx, s.key).Err()
	}
}
