// SPDX-License-Identifier: MIT

package translate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/submaker/submaker/internal/log"
	"github.com/submaker/submaker/internal/metrics"
	"github.com/submaker/submaker/internal/store"
	"github.com/submaker/submaker/internal/subtitle"
)

// Event is what the activity bus broadcasts while a build progresses.
type Event struct {
	Type      string `json:"type"` // "partial", "complete", "failed"
	BaseKey   string `json:"baseKey"`
	CacheKey  string `json:"cacheKey"`
	Batch     int    `json:"batch,omitempty"`
	Total     int    `json:"total"`
	Completed int    `json:"completed"`
}

// Publisher receives build progress, keyed by the config hash of the
// requesting player so unrelated listeners stay quiet.
type Publisher interface {
	Publish(configHash string, ev Event)
}

// livenessTTL bounds how stale an in-flight entry may look before readers
// treat its writer as crashed.
const livenessTTL = 90 * time.Second

// Options configures the service.
type Options struct {
	BatchSize    int
	PermanentTTL time.Duration
	BypassTTL    time.Duration
}

// Service builds translations exactly once per cache key and persists
// progress batch by batch so readers and SSE listeners see partials.
type Service struct {
	store      store.Store
	translator Translator
	bus        Publisher
	opts       Options
	group      singleflight.Group
	logger     zerolog.Logger

	// builds tracks the cancel handle of each in-flight build so a force
	// refresh can supersede it instead of silently joining it.
	mu     sync.Mutex
	builds map[string]*buildHandle
}

type buildHandle struct {
	cancel context.CancelFunc
}

func NewService(st store.Store, tr Translator, bus Publisher, opts Options) *Service {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 20
	}
	if opts.PermanentTTL <= 0 {
		opts.PermanentTTL = 90 * 24 * time.Hour
	}
	if opts.BypassTTL <= 0 {
		opts.BypassTTL = 7 * 24 * time.Hour
	}
	return &Service{
		store:      st,
		translator: tr,
		bus:        bus,
		opts:       opts,
		builds:     make(map[string]*buildHandle),
		logger:     log.WithComponent("translate"),
	}
}

// Request describes one translation build.
type Request struct {
	SourceFileID string
	Language     string
	Cues         []subtitle.Cue

	BypassCache  bool
	ConfigHash   string
	ForceRefresh bool
}

// ErrNoSource is returned for a request with nothing to translate.
var ErrNoSource = errors.New("translate: no source cues")

// Get returns the entry for a base key, scoped per user when configHash
// is non-empty and a scoped entry exists. In-flight entries whose writer
// stopped refreshing its liveness marker come back as failed.
func (s *Service) Get(ctx context.Context, baseKey, configHash string) (*Entry, error) {
	if configHash != "" {
		if e, err := s.load(ctx, baseKey+bypassScopePrefix+configHash); err == nil {
			return s.checkLiveness(ctx, e), nil
		} else if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}
	e, err := s.load(ctx, baseKey)
	if err != nil {
		return nil, err
	}
	return s.checkLiveness(ctx, e), nil
}

// Translate returns the cached entry when one is usable, otherwise starts
// (or joins) the build for its cache key and returns the initial state.
// Builds run in the background; progress arrives through Get and the bus.
func (s *Service) Translate(ctx context.Context, req Request) (*Entry, error) {
	if len(req.Cues) == 0 {
		return nil, ErrNoSource
	}
	keys := GenerateCacheKeys(req.SourceFileID, req.Language, req.BypassCache, req.ConfigHash)

	if req.ForceRefresh {
		// Supersede any build already in flight: cancel it and detach its
		// singleflight slot so this request becomes a fresh winner rather
		// than silently joining the build it asked to replace.
		s.cancelBuild(keys.RuntimeKey)
		s.group.Forget(keys.RuntimeKey)
		if err := s.store.Delete(ctx, store.Translation, keys.CacheKey); err != nil {
			return nil, fmt.Errorf("drop stale translation: %w", err)
		}
	} else if e, err := s.load(ctx, keys.CacheKey); err == nil {
		e = s.checkLiveness(ctx, e)
		if e.Status != StatusFailed {
			return e, nil
		}
		// Crashed or failed build; rebuild below.
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	entry := s.newEntry(keys, req)

	// The build owns its own context: the requester going away must not
	// cancel work other players are waiting on.
	go func() {
		_, _, _ = s.group.Do(keys.RuntimeKey, func() (any, error) {
			bctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
			defer cancel()
			h := &buildHandle{cancel: cancel}
			s.trackBuild(keys.RuntimeKey, h)
			defer s.untrackBuild(keys.RuntimeKey, h)

			// Only the winning builder writes the initial snapshot. A
			// joiner persisting it would reset progress the builder has
			// already stored.
			if err := s.persist(bctx, entry); err != nil {
				s.logger.Error().
					Str("event", "translate.persist_failed").
					Str("cache_key", keys.CacheKey).
					Err(err).
					Msg("could not persist initial translation state")
				return nil, nil
			}
			s.touchLiveness(bctx, keys.CacheKey)
			s.build(bctx, keys, req, entry)
			return nil, nil
		})
	}()

	return entry, nil
}

func (s *Service) trackBuild(key string, h *buildHandle) {
	s.mu.Lock()
	s.builds[key] = h
	s.mu.Unlock()
}

func (s *Service) untrackBuild(key string, h *buildHandle) {
	s.mu.Lock()
	if s.builds[key] == h {
		delete(s.builds, key)
	}
	s.mu.Unlock()
}

func (s *Service) cancelBuild(key string) {
	s.mu.Lock()
	if h, ok := s.builds[key]; ok {
		h.cancel()
		delete(s.builds, key)
	}
	s.mu.Unlock()
}

func (s *Service) newEntry(keys Keys, req Request) *Entry {
	total := (len(req.Cues) + s.opts.BatchSize - 1) / s.opts.BatchSize
	if total > MaxBatches {
		total = MaxBatches
	}
	now := time.Now().UTC()
	cues := make([]subtitle.Cue, len(req.Cues))
	copy(cues, req.Cues)
	e := &Entry{
		CacheKey:     keys.CacheKey,
		BaseKey:      keys.BaseKey,
		Language:     req.Language,
		Status:       StatusInFlight,
		TotalBatches: total,
		Cues:         cues,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if keys.BypassEnabled {
		e.OwnerConfigHash = req.ConfigHash
	}
	return e
}

// build runs the batch loop as the sole writer for its runtime key.
func (s *Service) build(ctx context.Context, keys Keys, req Request, entry *Entry) {
	scope := "permanent"
	if keys.BypassEnabled {
		scope = "bypass"
	}
	metrics.RecordTranslationBuild(scope)

	batchSize := (len(req.Cues) + entry.TotalBatches - 1) / entry.TotalBatches

	for batch := 0; batch < entry.TotalBatches; batch++ {
		if ctx.Err() != nil {
			return
		}
		lo := batch * batchSize
		hi := min(lo+batchSize, len(req.Cues))

		translated, err := s.translator.TranslateBatch(ctx, req.Cues[lo:hi], req.Language)
		if err != nil {
			if ctx.Err() != nil {
				// Superseded by a force refresh (or shutting down); the
				// replacement build owns the entry now, leave it alone.
				return
			}
			metrics.RecordTranslationBatch("error")
			s.fail(ctx, keys, entry, err)
			return
		}
		metrics.RecordTranslationBatch("ok")

		copy(entry.Cues[lo:hi], translated)
		entry.markBatch(batch)
		entry.UpdatedAt = time.Now().UTC()
		if entry.Complete() {
			entry.Status = StatusComplete
		} else {
			entry.Status = StatusPartial
		}

		if err := s.persist(ctx, entry); err != nil {
			if ctx.Err() == nil {
				s.logger.Error().
					Str("event", "translate.persist_failed").
					Str("cache_key", keys.CacheKey).
					Err(err).
					Msg("could not persist translation progress")
			}
			return
		}
		s.touchLiveness(ctx, keys.CacheKey)
		s.publish(req.ConfigHash, Event{
			Type:      eventType(entry),
			BaseKey:   keys.BaseKey,
			CacheKey:  keys.CacheKey,
			Batch:     batch,
			Total:     entry.TotalBatches,
			Completed: entry.CompletedCount(),
		})
	}

	s.logger.Info().
		Str("event", "translate.complete").
		Str("cache_key", keys.CacheKey).
		Int("batches", entry.TotalBatches).
		Msg("translation build finished")
}

func eventType(e *Entry) string {
	if e.Status == StatusComplete {
		return "complete"
	}
	return "partial"
}

func (s *Service) fail(ctx context.Context, keys Keys, entry *Entry, cause error) {
	entry.Status = StatusFailed
	entry.Error = cause.Error()
	entry.UpdatedAt = time.Now().UTC()
	if err := s.persist(ctx, entry); err != nil {
		s.logger.Error().Err(err).Msg("could not persist failed translation state")
	}
	s.publish(entry.OwnerConfigHash, Event{
		Type:      "failed",
		BaseKey:   keys.BaseKey,
		CacheKey:  keys.CacheKey,
		Total:     entry.TotalBatches,
		Completed: entry.CompletedCount(),
	})
	if !log.IsLogged(cause) {
		s.logger.Error().
			Str("event", "translate.failed").
			Str("cache_key", keys.CacheKey).
			Err(cause).
			Msg("translation build failed")
	}
}

func (s *Service) publish(configHash string, ev Event) {
	if s.bus != nil {
		s.bus.Publish(configHash, ev)
	}
}

func (s *Service) load(ctx context.Context, cacheKey string) (*Entry, error) {
	raw, err := s.store.Get(ctx, store.Translation, cacheKey)
	if err != nil {
		return nil, err
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("decode translation entry %s: %w", cacheKey, err)
	}
	return &e, nil
}

func (s *Service) persist(ctx context.Context, e *Entry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode translation entry: %w", err)
	}
	ttl := s.opts.PermanentTTL
	if e.OwnerConfigHash != "" {
		ttl = s.opts.BypassTTL
	}
	return s.store.Set(ctx, store.Translation, e.CacheKey, raw, ttl)
}

// touchLiveness refreshes the writer's heartbeat marker.
func (s *Service) touchLiveness(ctx context.Context, cacheKey string) {
	if err := s.store.Set(ctx, store.Translation, "live:"+cacheKey, []byte("1"), livenessTTL); err != nil {
		s.logger.Debug().Err(err).Msg("liveness marker refresh failed")
	}
}

// checkLiveness downgrades an in-flight or partial entry to failed when
// its writer stopped heartbeating, so callers know to rebuild.
func (s *Service) checkLiveness(ctx context.Context, e *Entry) *Entry {
	if e.Status != StatusInFlight && e.Status != StatusPartial {
		return e
	}
	alive, err := s.store.Exists(ctx, store.Translation, "live:"+e.CacheKey)
	if err != nil || alive {
		return e
	}
	e.Status = StatusFailed
	e.Error = "translation build abandoned"
	return e
}
