// SPDX-License-Identifier: MIT

package httpx

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/submaker/submaker/internal/log"
	"github.com/submaker/submaker/internal/resilience"
)

const (
	warmupTimeout            = 8 * time.Second
	DefaultKeepAliveInterval = 45 * time.Second
)

// Warmer keeps provider connections hot so the first real search does not
// pay DNS plus TLS handshake latency.
type Warmer struct {
	client   *http.Client
	breakers *resilience.Registry
	targets  map[string]string // provider name -> base URL
	interval time.Duration
	logger   zerolog.Logger
}

func NewWarmer(client *http.Client, breakers *resilience.Registry, targets map[string]string, interval time.Duration) *Warmer {
	if interval <= 0 {
		interval = DefaultKeepAliveInterval
	}
	return &Warmer{
		client:   client,
		breakers: breakers,
		targets:  targets,
		interval: interval,
		logger:   log.WithComponent("httpx.warmer"),
	}
}

// WarmUp primes one connection per provider. Failures are logged and
// otherwise ignored; a cold provider is a latency problem, not a startup
// problem.
func (w *Warmer) WarmUp(ctx context.Context) {
	for name, base := range w.targets {
		w.ping(ctx, name, base)
	}
}

// Run re-pings every interval until the context ends, so pooled
// connections outlive upstream idle timeouts. A successful ping also
// counts as a probe for a half-open circuit breaker.
func (w *Warmer) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for name, base := range w.targets {
				w.ping(ctx, name, base)
			}
		}
	}
}

func (w *Warmer) ping(ctx context.Context, name, base string) {
	ctx, cancel := context.WithTimeout(ctx, warmupTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, base, nil)
	if err != nil {
		return
	}
	ApplyHeaders(req, name)

	resp, err := w.client.Do(req)
	if err != nil {
		w.logger.Debug().
			Str("event", "warmup.ping_failed").
			Str("provider", name).
			Err(err).
			Msg("keep-alive ping failed")
		return
	}
	_ = resp.Body.Close()

	if w.breakers != nil {
		if cb := w.breakers.For(name); !cb.IsHealthy() && resp.StatusCode < 500 {
			cb.RecordSuccess()
		}
	}
}
