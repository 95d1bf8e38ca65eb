// SPDX-License-Identifier: MIT

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	s, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":7788", s.ListenAddr)
	assert.Equal(t, 15000, s.Providers.TimeoutMS)
	assert.Equal(t, 1100*time.Millisecond, s.Login.Cooldown)
	assert.Equal(t, 45*time.Second, s.Login.TotalTimeout)
	assert.Equal(t, 4, s.Activity.MaxListeners)
	assert.Equal(t, 40*time.Second, s.Activity.Heartbeat)
	assert.Equal(t, time.Hour, s.Activity.MaxConnectionAge)
	assert.Equal(t, 90*24*time.Hour, s.Translate.PermanentTTL)
	assert.Equal(t, 7*24*time.Hour, s.Translate.BypassTTL)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen_addr: ":9000"
providers:
  enabled: [opensubtitles-v3]
  timeout_ms: 20000
redis:
  addr: "localhost:6379"
`), 0o600))

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", s.ListenAddr)
	assert.Equal(t, []string{"opensubtitles-v3"}, s.Providers.Enabled)
	assert.Equal(t, 20000, s.Providers.TimeoutMS)
	assert.Equal(t, "localhost:6379", s.Redis.Addr)
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen_addr: \":9000\"\n"), 0o600))

	t.Setenv("SUBMAKER_LISTEN", ":9100")
	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9100", s.ListenAddr)
}

func TestProviderTimeoutClamped(t *testing.T) {
	t.Setenv("SUBMAKER_PROVIDER_TIMEOUT_MS", "1000")
	s, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 12000, s.Providers.TimeoutMS)

	t.Setenv("SUBMAKER_PROVIDER_TIMEOUT_MS", "90000")
	s, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, 30000, s.Providers.TimeoutMS)

	assert.Equal(t, 32*time.Second, s.OrchestratorBudget())
}

func TestValidateRejectsEmptyProviders(t *testing.T) {
	s := Defaults()
	s.Providers.Enabled = nil
	require.Error(t, s.Validate())
}

func TestUserConfigHashStable(t *testing.T) {
	a := UserConfig{Providers: []string{"subdl", "opensubtitles"}, Languages: []string{"eng", "pob"}}
	b := UserConfig{Providers: []string{"opensubtitles", "SubDL"}, Languages: []string{"POB", "eng"}}

	require.NotEmpty(t, a.Hash())
	assert.Equal(t, a.Hash(), b.Hash(), "hash must ignore order and case")

	c := a
	c.BypassCache = true
	assert.NotEqual(t, a.Hash(), c.Hash())
	assert.Len(t, a.Hash(), 16)
}

func TestResolveIsolationKeyPrecedence(t *testing.T) {
	dir := t.TempDir()

	// Explicit key wins and gets sanitized.
	s := Defaults()
	s.DataDir = dir
	s.IsolationKey = "team a:prod!"
	k, err := ResolveIsolationKey(&s)
	require.NoError(t, err)
	assert.Equal(t, "teamaprod", k)

	// Encryption key derivation is deterministic.
	s.IsolationKey = ""
	s.EncryptionKey = "super-secret"
	k1, err := ResolveIsolationKey(&s)
	require.NoError(t, err)
	k2, err := ResolveIsolationKey(&s)
	require.NoError(t, err)
	assert.Equal(t, k1, k2)
	assert.Len(t, k1, 16)

	// Fallback persists an instance id under the data dir.
	s.EncryptionKey = ""
	k3, err := ResolveIsolationKey(&s)
	require.NoError(t, err)
	require.NotEmpty(t, k3)
	k4, err := ResolveIsolationKey(&s)
	require.NoError(t, err)
	assert.Equal(t, k3, k4, "instance id must survive restarts")

	_, err = os.Stat(filepath.Join(dir, ".instance-id"))
	require.NoError(t, err)
}
