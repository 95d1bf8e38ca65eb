// SPDX-License-Identifier: MIT

// Package store provides the uniform key/value storage adapter with TTLs
// and per-type size caps, backed by Redis or the local filesystem.
package store

import (
	"context"
	"errors"
	"time"
)

// CacheType discriminates storage namespaces; each maps to a TTL and a
// size cap.
type CacheType string

const (
	Session        CacheType = "session"
	Translation    CacheType = "translation"
	Embedded       CacheType = "embedded"
	Autosub        CacheType = "autosub"
	ProviderMeta   CacheType = "provider_meta"
	StreamActivity CacheType = "stream_activity"
)

// ErrNotFound is returned by Get for missing or expired keys.
var ErrNotFound = errors.New("store: key not found")

// ErrTypeFull is returned by Set when a cache type exceeded its size cap.
var ErrTypeFull = errors.New("store: cache type size cap exceeded")

// DefaultTTL returns the retention for a cache type. The translation type
// default covers the permanent scope; bypass entries pass their shorter TTL
// explicitly.
func (c CacheType) DefaultTTL() time.Duration {
	switch c {
	case Session:
		return 30 * 24 * time.Hour
	case Translation:
		return 90 * 24 * time.Hour
	case ProviderMeta:
		return 30 * 24 * time.Hour
	case Autosub:
		return 30 * 24 * time.Hour
	case Embedded:
		return 30 * 24 * time.Hour
	case StreamActivity:
		return 6 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// Size caps per cache type. Redis deployments are shared, filesystem ones
// have the disk to themselves.
const (
	RedisSizeCap      = 250 << 20 // 250 MB per type
	FilesystemSizeCap = 5 << 30   // 5 GB per type
)

// Store is the uniform adapter interface.
type Store interface {
	// Get returns the stored value or ErrNotFound.
	Get(ctx context.Context, ct CacheType, key string) ([]byte, error)
	// Set stores value under key. A zero ttl selects the type default.
	Set(ctx context.Context, ct CacheType, key string, value []byte, ttl time.Duration) error
	// Delete removes key; deleting a missing key is not an error.
	Delete(ctx context.Context, ct CacheType, key string) error
	// Exists reports whether key is present and unexpired.
	Exists(ctx context.Context, ct CacheType, key string) (bool, error)
	// List returns the keys of a type matching prefix (unprefixed form).
	List(ctx context.Context, ct CacheType, prefix string) ([]string, error)
	// Size returns the approximate stored bytes for a type.
	Size(ctx context.Context, ct CacheType) (int64, error)
	// Close releases backend resources.
	Close() error
}

// Pinger is implemented by backends with a meaningful liveness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}
