// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *RedisStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, NewRedisStoreFromClient(client, "testiso", zerolog.Nop())
}

// backends returns both implementations so the contract tests run against each.
func backends(t *testing.T) map[string]Store {
	t.Helper()
	_, rs := setupRedis(t)
	fs, err := NewFilesystemStore(t.TempDir(), "testiso", zerolog.Nop())
	require.NoError(t, err)
	return map[string]Store{"redis": rs, "filesystem": fs}
}

func TestStoreContract(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			// Missing key
			_, err := s.Get(ctx, Translation, "missing")
			assert.ErrorIs(t, err, ErrNotFound)

			ok, err := s.Exists(ctx, Translation, "missing")
			require.NoError(t, err)
			assert.False(t, ok)

			// Round trip
			require.NoError(t, s.Set(ctx, Translation, "tt123_es", []byte("payload"), 0))
			got, err := s.Get(ctx, Translation, "tt123_es")
			require.NoError(t, err)
			assert.Equal(t, []byte("payload"), got)

			ok, err = s.Exists(ctx, Translation, "tt123_es")
			require.NoError(t, err)
			assert.True(t, ok)

			// Types are isolated namespaces
			_, err = s.Get(ctx, Session, "tt123_es")
			assert.ErrorIs(t, err, ErrNotFound)

			// List by prefix
			require.NoError(t, s.Set(ctx, Translation, "tt123_fr", []byte("x"), 0))
			require.NoError(t, s.Set(ctx, Translation, "tt999_es", []byte("y"), 0))
			keys, err := s.List(ctx, Translation, "tt123_")
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"tt123_es", "tt123_fr"}, keys)

			// Size counts something
			size, err := s.Size(ctx, Translation)
			require.NoError(t, err)
			assert.Positive(t, size)

			// Delete is idempotent
			require.NoError(t, s.Delete(ctx, Translation, "tt123_es"))
			require.NoError(t, s.Delete(ctx, Translation, "tt123_es"))
			_, err = s.Get(ctx, Translation, "tt123_es")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestRedisTTLExpiry(t *testing.T) {
	ctx := context.Background()
	mr, s := setupRedis(t)

	require.NoError(t, s.Set(ctx, StreamActivity, "cfg1", []byte("v"), 100*time.Millisecond))
	_, err := s.Get(ctx, StreamActivity, "cfg1")
	require.NoError(t, err)

	mr.FastForward(200 * time.Millisecond)
	_, err = s.Get(ctx, StreamActivity, "cfg1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisIsolationPrefix(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	a := NewRedisStoreFromClient(client, "depA", zerolog.Nop())
	b := NewRedisStoreFromClient(client, "depB", zerolog.Nop())

	require.NoError(t, a.Set(ctx, Session, "user1", []byte("a"), 0))
	_, err := b.Get(ctx, Session, "user1")
	assert.ErrorIs(t, err, ErrNotFound, "deployments sharing Redis must not see each other's keys")

	require.True(t, mr.Exists("depA:session:user1"))
}

func TestFilesystemTTLExpiry(t *testing.T) {
	ctx := context.Background()
	fs, err := NewFilesystemStore(t.TempDir(), "iso", zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, fs.Set(ctx, ProviderMeta, "short", []byte("v"), time.Millisecond))
	time.Sleep(10 * time.Millisecond)
	_, err = fs.Get(ctx, ProviderMeta, "short")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFilesystemSurvivesWeirdKeys(t *testing.T) {
	ctx := context.Background()
	fs, err := NewFilesystemStore(t.TempDir(), "iso", zerolog.Nop())
	require.NoError(t, err)

	key := "https://cdn.example.com/a/b?c=d&e=../../etc"
	require.NoError(t, fs.Set(ctx, ProviderMeta, key, []byte("link"), 0))
	got, err := fs.Get(ctx, ProviderMeta, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("link"), got)
}
