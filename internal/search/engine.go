// SPDX-License-Identifier: MIT

// Package search fans a subtitle query out to every enabled provider and
// merges what comes back.
package search

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/submaker/submaker/internal/log"
	"github.com/submaker/submaker/internal/metrics"
	"github.com/submaker/submaker/internal/providers"
	"github.com/submaker/submaker/internal/rank"
	"github.com/submaker/submaker/internal/resilience"
	"github.com/submaker/submaker/internal/subtitle"
)

// Skip records a provider that was not queried or produced nothing usable.
type Skip struct {
	Provider string `json:"provider"`
	Reason   string `json:"reason"`
	Detail   string `json:"detail,omitempty"`
}

// Result is the merged, ranked outcome of one fan-out.
type Result struct {
	Subtitles []subtitle.Descriptor `json:"subtitles"`
	Skipped   []Skip                `json:"skipped,omitempty"`
}

// Engine owns the provider set and the per-provider circuit breakers.
type Engine struct {
	providers map[string]providers.Provider
	breakers  *resilience.Registry
	timeout   time.Duration
	logger    zerolog.Logger
}

func NewEngine(clients map[string]providers.Provider, breakers *resilience.Registry, timeout time.Duration) *Engine {
	return &Engine{
		providers: clients,
		breakers:  breakers,
		timeout:   timeout,
		logger:    log.WithComponent("search"),
	}
}

// Search queries every provider in parallel. A failing provider never
// fails the search: its results are simply absent, with the reason
// recorded in Skipped and, for credential problems, surfaced as a
// synthesized entry the player will actually show.
func (e *Engine) Search(ctx context.Context, req providers.SearchRequest, rctx rank.Context) (Result, error) {
	g, ctx := errgroup.WithContext(ctx)

	var (
		mu       sync.Mutex
		merged   []subtitle.Descriptor
		warnings []subtitle.Descriptor
		skipped  []Skip
	)

	for name, p := range e.providers {
		cb := e.breakers.For(name)
		if !cb.Allow() {
			retryIn := cb.RetryIn().Round(time.Second)
			skipped = append(skipped, Skip{
				Provider: name,
				Reason:   "circuit_open",
				Detail:   fmt.Sprintf("%s circuit breaker open, retry in %s", name, retryIn),
			})
			metrics.RecordProviderSkipped(name, "circuit_open")
			continue
		}

		g.Go(func() error {
			pctx, cancel := context.WithTimeout(ctx, e.timeout)
			defer cancel()

			start := time.Now()
			descs, err := p.Search(pctx, req)
			outcome := "ok"
			if err != nil {
				outcome = "error"
			}
			metrics.ObserveProviderSearch(name, outcome, time.Since(start), len(descs))

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				e.recordFailure(name, cb, err)
				oe, ok := providers.AsOpError(err)
				if ok && oe.Code == providers.CodeAuthentication {
					warnings = append(warnings, warningEntry(name, oe.UserMessage(), req.Languages))
				}
				reason := "error"
				if ok {
					reason = string(oe.Code)
				}
				skipped = append(skipped, Skip{Provider: name, Reason: reason, Detail: err.Error()})
				metrics.RecordProviderSkipped(name, reason)
				return nil
			}

			cb.RecordSuccess()
			merged = append(merged, descs...)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	ranked := rank.Rank(merged, rctx)
	// Warnings go first so a misconfigured account is impossible to miss.
	return Result{Subtitles: append(warnings, ranked...), Skipped: skipped}, nil
}

func (e *Engine) recordFailure(name string, cb *resilience.CircuitBreaker, err error) {
	if oe, ok := providers.AsOpError(err); ok && !oe.CountsAgainstBreaker() {
		e.logger.Debug().
			Str("event", "search.provider_error").
			Str("provider", name).
			Err(err).
			Msg("provider error, not counted against breaker")
		return
	}
	cb.RecordFailure()
	e.logger.Warn().
		Str("event", "search.provider_failed").
		Str("provider", name).
		Err(err).
		Msg("provider search failed")
}

// warningEntry synthesizes a list entry that renders the problem as a
// downloadable subtitle.
func warningEntry(provider, message string, languages []string) subtitle.Descriptor {
	lang := "eng"
	if len(languages) > 0 {
		lang = languages[0]
	}
	return subtitle.Descriptor{
		ID:           subtitle.EncodeID(providers.InfoProvider, message, 0, 0),
		Provider:     provider,
		LanguageCode: lang,
		Name:         message,
		Format:       subtitle.FormatSRT,
	}
}
