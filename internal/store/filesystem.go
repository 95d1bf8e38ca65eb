// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"

	"github.com/submaker/submaker/internal/metrics"
)

// FilesystemStore is the single-instance fallback backend. Each entry is a
// small JSON envelope so expiry survives restarts; writes are atomic via
// rename so a crash never leaves a torn value.
type FilesystemStore struct {
	root      string
	isolation string
	logger    zerolog.Logger
}

type fsEnvelope struct {
	Key       string    `json:"key"`
	ExpiresAt time.Time `json:"expiresAt"`
	Value     []byte    `json:"value"`
}

// NewFilesystemStore creates the backend rooted at dir.
func NewFilesystemStore(dir, isolation string, logger zerolog.Logger) (*FilesystemStore, error) {
	root := filepath.Join(dir, "cache", isolation)
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &FilesystemStore{root: root, isolation: isolation, logger: logger}, nil
}

// path hashes the key so arbitrary ids (URLs, release names) stay inside
// the namespace directory.
func (s *FilesystemStore) path(ct CacheType, key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(s.root, string(ct), hex.EncodeToString(sum[:])[:32]+".json")
}

func (s *FilesystemStore) Get(ctx context.Context, ct CacheType, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	env, err := s.read(ct, key)
	if err != nil {
		metrics.RecordStoreOperation("filesystem", "get", "miss")
		return nil, ErrNotFound
	}
	if time.Now().After(env.ExpiresAt) {
		_ = os.Remove(s.path(ct, key))
		metrics.RecordStoreOperation("filesystem", "get", "miss")
		return nil, ErrNotFound
	}
	metrics.RecordStoreOperation("filesystem", "get", "hit")
	return env.Value, nil
}

func (s *FilesystemStore) read(ct CacheType, key string) (*fsEnvelope, error) {
	raw, err := os.ReadFile(s.path(ct, key)) // #nosec G304 -- path is hash-derived
	if err != nil {
		return nil, err
	}
	var env fsEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

func (s *FilesystemStore) Set(ctx context.Context, ct CacheType, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = ct.DefaultTTL()
	}
	if size, err := s.Size(ctx, ct); err == nil && size+int64(len(value)) > FilesystemSizeCap {
		metrics.RecordStoreOperation("filesystem", "set", "cap")
		return fmt.Errorf("%w: %s", ErrTypeFull, ct)
	}

	env := fsEnvelope{Key: key, ExpiresAt: time.Now().Add(ttl), Value: value}
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	path := s.path(ct, key)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create type dir: %w", err)
	}
	if err := renameio.WriteFile(path, raw, 0o600); err != nil {
		metrics.RecordStoreOperation("filesystem", "set", "error")
		return fmt.Errorf("write entry: %w", err)
	}
	metrics.RecordStoreOperation("filesystem", "set", "ok")
	return nil
}

func (s *FilesystemStore) Delete(ctx context.Context, ct CacheType, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := os.Remove(s.path(ct, key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete entry: %w", err)
	}
	metrics.RecordStoreOperation("filesystem", "delete", "ok")
	return nil
}

func (s *FilesystemStore) Exists(ctx context.Context, ct CacheType, key string) (bool, error) {
	_, err := s.Get(ctx, ct, key)
	if err == nil {
		return true, nil
	}
	if err == ErrNotFound {
		return false, nil
	}
	return false, err
}

func (s *FilesystemStore) List(ctx context.Context, ct CacheType, prefix string) ([]string, error) {
	dir := filepath.Join(s.root, string(ct))
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list type dir: %w", err)
	}

	// Keys are stored hashed, so listing reads each envelope for the
	// original key. Fine for the small provider_meta and activity types;
	// large types are only listed by maintenance tasks.
	var out []string
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, e.Name())) // #nosec G304
		if err != nil {
			continue
		}
		var env fsEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			continue
		}
		if time.Now().After(env.ExpiresAt) {
			_ = os.Remove(filepath.Join(dir, e.Name()))
			continue
		}
		if strings.HasPrefix(env.Key, prefix) {
			out = append(out, env.Key)
		}
	}
	return out, nil
}

func (s *FilesystemStore) Size(ctx context.Context, ct CacheType) (int64, error) {
	dir := filepath.Join(s.root, string(ct))
	var total int64
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if d.IsDir() {
			return nil
		}
		if info, ierr := d.Info(); ierr == nil {
			total += info.Size()
		}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return 0, err
	}
	return total, nil
}

func (s *FilesystemStore) Close() error { return nil }
