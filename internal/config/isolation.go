// SPDX-License-Identifier: MIT

package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio/v2"
	"github.com/google/uuid"
)

// ResolveIsolationKey returns the deployment-wide prefix prepended to every
// stored key so multiple deployments can share one Redis.
//
// Resolution order, deterministic across restarts:
//  1. explicit SUBMAKER_ISOLATION_KEY (or config file value)
//  2. hash of the encryption key, once one is materialised
//  3. a persisted instance id under <data>/.instance-id, created on first run
func ResolveIsolationKey(s *Settings) (string, error) {
	if k := strings.TrimSpace(s.IsolationKey); k != "" {
		return sanitizeIsolationKey(k), nil
	}
	if ek := strings.TrimSpace(s.EncryptionKey); ek != "" {
		sum := sha256.Sum256([]byte(ek))
		return "i" + hex.EncodeToString(sum[:])[:15], nil
	}
	return loadOrCreateInstanceID(s.InstanceIDPath())
}

func sanitizeIsolationKey(k string) string {
	var b strings.Builder
	for _, r := range k {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-' || r == '_':
			b.WriteRune(r)
		}
	}
	out := b.String()
	if len(out) > 32 {
		out = out[:32]
	}
	return out
}

func loadOrCreateInstanceID(path string) (string, error) {
	if raw, err := os.ReadFile(path); err == nil { // #nosec G304 -- path derives from the data dir
		id := strings.TrimSpace(string(raw))
		if id != "" {
			return sanitizeIsolationKey(id), nil
		}
	}

	id := "i" + strings.ReplaceAll(uuid.NewString(), "-", "")[:15]
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return "", fmt.Errorf("create data dir: %w", err)
	}
	// Atomic write so a crash never leaves a half-written id that would
	// change the namespace on the next start.
	if err := renameio.WriteFile(path, []byte(id+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("persist instance id: %w", err)
	}
	return id, nil
}
