// SPDX-License-Identifier: MIT

// Package activity fans translation progress out to SSE listeners, one
// group per player configuration.
package activity

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/submaker/submaker/internal/log"
	"github.com/submaker/submaker/internal/metrics"
	"github.com/submaker/submaker/internal/store"
	"github.com/submaker/submaker/internal/translate"
)

const (
	// DefaultMaxListeners bounds concurrent SSE connections per config
	// hash; players are expected to multiplex over one.
	DefaultMaxListeners = 4

	// DefaultHeartbeat keeps intermediaries from closing idle streams.
	DefaultHeartbeat = 40 * time.Second

	// DefaultMaxConnectionAge forces clients to reconnect periodically so
	// dead connections cannot accumulate.
	DefaultMaxConnectionAge = time.Hour

	// listenerBuffer is per-listener; a consumer that falls this far
	// behind is dropped rather than allowed to stall the bus.
	listenerBuffer = 16
)

// ErrTooManyListeners is returned when a config hash is at capacity.
var ErrTooManyListeners = errors.New("activity: listener limit reached")

// Message is one SSE frame: event name plus JSON data.
type Message struct {
	Event string
	Data  []byte
	Seq   uint64
}

// Subscription is one listener's view of the bus.
type Subscription struct {
	bus        *Bus
	configHash string
	ch         chan Message
	started    time.Time
	closeOnce  sync.Once
}

// Events returns the ordered message stream. The channel closes when the
// subscription ends, including age-based pruning.
func (s *Subscription) Events() <-chan Message { return s.ch }

// Age reports how long the subscription has been connected.
func (s *Subscription) Age() time.Duration { return time.Since(s.started) }

// Close detaches the listener. Safe to call more than once.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.bus.remove(s)
		metrics.SSEListenerDisconnected()
	})
}

// Options tunes the bus; zero values select the defaults.
type Options struct {
	MaxListeners     int
	Heartbeat        time.Duration
	MaxConnectionAge time.Duration
}

// Bus distributes ordered events to per-config listener groups and
// persists the latest state per stream for the session overview.
type Bus struct {
	opts    Options
	tracker *Tracker

	mu     sync.Mutex
	groups map[string][]*Subscription
	seq    uint64

	logger zerolog.Logger
}

func NewBus(opts Options, tracker *Tracker) *Bus {
	if opts.MaxListeners <= 0 {
		opts.MaxListeners = DefaultMaxListeners
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = DefaultHeartbeat
	}
	if opts.MaxConnectionAge <= 0 {
		opts.MaxConnectionAge = DefaultMaxConnectionAge
	}
	return &Bus{
		opts:    opts,
		tracker: tracker,
		groups:  make(map[string][]*Subscription),
		logger:  log.WithComponent("activity"),
	}
}

// Subscribe attaches a listener to a config hash group. The first frame a
// new listener receives is a "ready" event.
func (b *Bus) Subscribe(configHash string) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.groups[configHash]) >= b.opts.MaxListeners {
		return nil, ErrTooManyListeners
	}

	sub := &Subscription{
		bus:        b,
		configHash: configHash,
		ch:         make(chan Message, listenerBuffer),
		started:    time.Now(),
	}
	b.groups[configHash] = append(b.groups[configHash], sub)
	metrics.SSEListenerConnected()

	b.seq++
	sub.ch <- Message{Event: "ready", Data: []byte(`{}`), Seq: b.seq}
	return sub, nil
}

// Publish implements translate.Publisher.
func (b *Bus) Publish(configHash string, ev translate.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	b.broadcast(configHash, ev.Type, data)
	if b.tracker != nil {
		b.tracker.Record(context.Background(), configHash, ev)
	}
}

// PublishEpisode announces that a new episode's subtitles are being
// prepared; players use it to pre-open the translation stream.
func (b *Bus) PublishEpisode(configHash, baseKey string) {
	data, _ := json.Marshal(map[string]string{"baseKey": baseKey})
	b.broadcast(configHash, "episode", data)
}

func (b *Bus) broadcast(configHash, event string, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq++
	msg := Message{Event: event, Data: data, Seq: b.seq}
	// Snapshot: dropping a slow listener mutates the group mid-loop.
	subs := append([]*Subscription(nil), b.groups[configHash]...)
	for _, sub := range subs {
		select {
		case sub.ch <- msg:
		default:
			// Slow consumer; drop it rather than block everyone else.
			b.logger.Warn().
				Str("event", "activity.listener_dropped").
				Str("config", configHash).
				Msg("listener fell behind, disconnecting")
			b.removeLocked(sub)
			close(sub.ch)
		}
	}
}

// Run emits heartbeats and prunes aged connections until ctx ends.
func (b *Bus) Run(ctx context.Context) {
	ticker := time.NewTicker(b.opts.Heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.heartbeat()
		}
	}
}

func (b *Bus) heartbeat() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for hash := range b.groups {
		subs := append([]*Subscription(nil), b.groups[hash]...)
		for _, sub := range subs {
			if time.Since(sub.started) > b.opts.MaxConnectionAge {
				b.removeLocked(sub)
				close(sub.ch)
				continue
			}
			b.seq++
			select {
			case sub.ch <- Message{Event: "ping", Data: []byte(`{}`), Seq: b.seq}:
			default:
				b.removeLocked(sub)
				close(sub.ch)
			}
		}
		if len(b.groups[hash]) == 0 {
			delete(b.groups, hash)
		}
	}
}

// Shutdown sends every listener a final ping and closes all
// subscriptions so SSE handlers unwind during graceful shutdown.
func (b *Bus) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for hash, subs := range b.groups {
		for _, sub := range subs {
			b.seq++
			select {
			case sub.ch <- Message{Event: "ping", Data: []byte(`{}`), Seq: b.seq}:
			default:
			}
			close(sub.ch)
		}
		delete(b.groups, hash)
	}
}

// ListenerCount reports the live listeners for a config hash.
func (b *Bus) ListenerCount(configHash string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.groups[configHash])
}

func (b *Bus) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(sub)
}

func (b *Bus) removeLocked(sub *Subscription) {
	group := b.groups[sub.configHash]
	for i, s := range group {
		if s == sub {
			b.groups[sub.configHash] = append(group[:i], group[i+1:]...)
			break
		}
	}
	if len(b.groups[sub.configHash]) == 0 {
		delete(b.groups, sub.configHash)
	}
}

// maxTrackedStreams bounds the session overview. The entry TTL alone is
// not enough: a burst of distinct config hashes would otherwise pile up
// entries for its whole six hours.
const maxTrackedStreams = 100

// Tracker persists the latest event per stream so the session overview
// can show what each player is doing. Entries are bounded by recency:
// once the limit is reached, the stalest stream is evicted.
type Tracker struct {
	store  store.Store
	logger zerolog.Logger

	mu    sync.Mutex
	limit int
	order []string // recency order, oldest first
}

func NewTracker(st store.Store) *Tracker {
	return &Tracker{
		store:  st,
		limit:  maxTrackedStreams,
		logger: log.WithComponent("activity.tracker"),
	}
}

// Record stores the latest event under the stream's config hash.
func (t *Tracker) Record(ctx context.Context, configHash string, ev translate.Event) {
	if t.store == nil || configHash == "" {
		return
	}
	raw, err := json.Marshal(struct {
		translate.Event
		At time.Time `json:"at"`
	}{Event: ev, At: time.Now().UTC()})
	if err != nil {
		return
	}
	if err := t.store.Set(ctx, store.StreamActivity, configHash, raw, 0); err != nil {
		t.logger.Debug().Err(err).Msg("recording stream activity failed")
		return
	}
	t.touch(ctx, configHash)
}

// touch moves the stream to the front of the recency order and evicts
// whatever falls off the end.
func (t *Tracker) touch(ctx context.Context, configHash string) {
	t.mu.Lock()
	for i, h := range t.order {
		if h == configHash {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	t.order = append(t.order, configHash)
	var evict []string
	for len(t.order) > t.limit {
		evict = append(evict, t.order[0])
		t.order = t.order[1:]
	}
	t.mu.Unlock()

	for _, h := range evict {
		if err := t.store.Delete(ctx, store.StreamActivity, h); err != nil && !errors.Is(err, store.ErrNotFound) {
			t.logger.Debug().Err(err).Msg("evicting stale stream activity failed")
		}
	}
}

// Active lists config hashes with recent activity.
func (t *Tracker) Active(ctx context.Context) ([]string, error) {
	if t.store == nil {
		return nil, nil
	}
	return t.store.List(ctx, store.StreamActivity, "")
}
