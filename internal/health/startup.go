// SPDX-License-Identifier: MIT

// Package health runs pre-flight checks and the readiness probe.
package health

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/submaker/submaker/internal/config"
	"github.com/submaker/submaker/internal/log"
)

// PerformStartupChecks validates the environment before the server binds.
// A non-nil return means the daemon must not start.
func PerformStartupChecks(ctx context.Context, cfg config.Settings) error {
	logger := log.WithComponent("startup-check")
	logger.Info().Msg("running pre-flight startup checks")

	if err := checkListenAddr(cfg.ListenAddr); err != nil {
		return fmt.Errorf("listen address check failed: %w", err)
	}
	if err := checkDataDir(logger, cfg.DataDir); err != nil {
		return fmt.Errorf("data directory check failed: %w", err)
	}
	checkOptionalCredentials(logger, cfg)

	logger.Info().Msg("all startup checks passed")
	return nil
}

func checkListenAddr(addr string) error {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid listen address %q: %w", addr, err)
	}
	portNum, err := strconv.Atoi(port)
	if err != nil || portNum < 0 || portNum > 65535 {
		return fmt.Errorf("invalid listen port %q in %q", port, addr)
	}
	return nil
}

func checkDataDir(logger zerolog.Logger, path string) error {
	if err := os.MkdirAll(path, 0o750); err != nil {
		return fmt.Errorf("cannot create data directory %s: %w", path, err)
	}
	testFile := filepath.Join(path, ".write_test")
	if err := os.WriteFile(testFile, []byte("ok"), 0o600); err != nil {
		return fmt.Errorf("data directory is not writable: %s: %w", path, err)
	}
	_ = os.Remove(testFile)

	logger.Info().Str("path", path).Msg("data directory is writable")
	return nil
}

// checkOptionalCredentials only warns: a missing key disables a feature,
// it does not prevent startup.
func checkOptionalCredentials(logger zerolog.Logger, cfg config.Settings) {
	if cfg.Translate.APIKey == "" {
		logger.Warn().Msg("no translation API key configured; translation endpoints will reject requests")
	}
	if cfg.Providers.OpenSubtitlesAPIKey == "" {
		logger.Warn().Msg("no OpenSubtitles API key configured; opensubtitles providers will be skipped")
	}
	if cfg.Redis.Addr == "" {
		logger.Warn().Msg("no Redis configured; using filesystem store and local login coordination")
	}
}

// Pinger is the slice of the store the readiness probe needs.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Readiness answers the /healthz probe. The store check is skipped for
// backends without one.
type Readiness struct {
	store Pinger
}

func NewReadiness(store Pinger) *Readiness {
	return &Readiness{store: store}
}

// Check returns nil when the service can serve traffic.
func (r *Readiness) Check() error {
	if r.store == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.store.Ping(ctx); err != nil {
		return fmt.Errorf("store unreachable: %w", err)
	}
	return nil
}
