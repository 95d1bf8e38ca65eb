// SPDX-License-Identifier: MIT

package activity

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/submaker/submaker/internal/log"
	"github.com/submaker/submaker/internal/store"
	"github.com/submaker/submaker/internal/translate"
)

func recv(t *testing.T, sub *Subscription) Message {
	t.Helper()
	select {
	case msg, ok := <-sub.Events():
		require.True(t, ok, "subscription channel closed")
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return Message{}
	}
}

func TestSubscribeSendsReadyFirst(t *testing.T) {
	bus := NewBus(Options{}, nil)
	sub, err := bus.Subscribe("hashA")
	require.NoError(t, err)
	defer sub.Close()

	msg := recv(t, sub)
	assert.Equal(t, "ready", msg.Event)
}

func TestListenerLimitPerConfigHash(t *testing.T) {
	bus := NewBus(Options{MaxListeners: 2}, nil)

	a, err := bus.Subscribe("hashA")
	require.NoError(t, err)
	defer a.Close()
	b, err := bus.Subscribe("hashA")
	require.NoError(t, err)
	defer b.Close()

	_, err = bus.Subscribe("hashA")
	assert.ErrorIs(t, err, ErrTooManyListeners)

	// A different config hash has its own budget.
	c, err := bus.Subscribe("hashB")
	require.NoError(t, err)
	c.Close()

	// Closing frees a slot.
	b.Close()
	d, err := bus.Subscribe("hashA")
	require.NoError(t, err)
	d.Close()
}

func TestPublishReachesOnlyMatchingGroup(t *testing.T) {
	bus := NewBus(Options{}, nil)
	a, err := bus.Subscribe("hashA")
	require.NoError(t, err)
	defer a.Close()
	b, err := bus.Subscribe("hashB")
	require.NoError(t, err)
	defer b.Close()
	recv(t, a) // ready
	recv(t, b) // ready

	bus.Publish("hashA", translate.Event{Type: "partial", BaseKey: "file1_spa", Total: 3, Completed: 1})

	msg := recv(t, a)
	assert.Equal(t, "partial", msg.Event)
	assert.Contains(t, string(msg.Data), "file1_spa")

	select {
	case m := <-b.Events():
		t.Fatalf("unrelated listener received %q", m.Event)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEventsArriveInOrder(t *testing.T) {
	bus := NewBus(Options{}, nil)
	sub, err := bus.Subscribe("hashA")
	require.NoError(t, err)
	defer sub.Close()

	bus.PublishEpisode("hashA", "file1_spa")
	bus.Publish("hashA", translate.Event{Type: "partial", BaseKey: "file1_spa"})
	bus.Publish("hashA", translate.Event{Type: "complete", BaseKey: "file1_spa"})

	var seqs []uint64
	var events []string
	for i := 0; i < 4; i++ {
		msg := recv(t, sub)
		seqs = append(seqs, msg.Seq)
		events = append(events, msg.Event)
	}
	assert.Equal(t, []string{"ready", "episode", "partial", "complete"}, events)
	for i := 1; i < len(seqs); i++ {
		assert.Greater(t, seqs[i], seqs[i-1])
	}
}

func TestSlowConsumerIsDropped(t *testing.T) {
	bus := NewBus(Options{}, nil)
	sub, err := bus.Subscribe("hashA")
	require.NoError(t, err)

	// Never read; the ready event plus these fill the buffer.
	for i := 0; i < listenerBuffer+1; i++ {
		bus.Publish("hashA", translate.Event{Type: "partial"})
	}
	assert.Zero(t, bus.ListenerCount("hashA"))

	// The channel is closed so a late reader terminates.
	for range sub.Events() {
	}
}

func TestHeartbeatAndAgePruning(t *testing.T) {
	bus := NewBus(Options{Heartbeat: 10 * time.Millisecond, MaxConnectionAge: time.Hour}, nil)
	sub, err := bus.Subscribe("hashA")
	require.NoError(t, err)
	defer sub.Close()
	recv(t, sub) // ready

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bus.Run(ctx)

	msg := recv(t, sub)
	assert.Equal(t, "ping", msg.Event)

	// Aged-out connections get closed on the next tick.
	old := NewBus(Options{Heartbeat: 10 * time.Millisecond, MaxConnectionAge: time.Nanosecond}, nil)
	osub, err := old.Subscribe("hashB")
	require.NoError(t, err)
	recv(t, osub) // ready
	go old.Run(ctx)

	deadline := time.Now().Add(2 * time.Second)
	closed := false
	for time.Now().Before(deadline) && !closed {
		select {
		case _, ok := <-osub.Events():
			if !ok {
				closed = true
			}
		case <-time.After(20 * time.Millisecond):
		}
	}
	assert.True(t, closed, "aged connection was not pruned")
	assert.Zero(t, old.ListenerCount("hashB"))
}

func TestShutdownSendsFinalPing(t *testing.T) {
	bus := NewBus(Options{}, nil)
	sub, err := bus.Subscribe("hashA")
	require.NoError(t, err)
	recv(t, sub) // ready

	bus.Shutdown()

	msg := recv(t, sub)
	assert.Equal(t, "ping", msg.Event)
	_, open := <-sub.Events()
	assert.False(t, open)
	assert.Zero(t, bus.ListenerCount("hashA"))
}

func TestTrackerRecordsLatestEvent(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	st := store.NewRedisStoreFromClient(client, "test", log.WithComponent("test"))

	tracker := NewTracker(st)
	tracker.Record(context.Background(), "hashA", translate.Event{Type: "partial", BaseKey: "file1_spa"})
	tracker.Record(context.Background(), "hashA", translate.Event{Type: "complete", BaseKey: "file1_spa"})

	active, err := tracker.Active(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"hashA"}, active)

	raw, err := st.Get(context.Background(), store.StreamActivity, "hashA")
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"complete"`)
}

func TestTrackerEvictsStalestStream(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	st := store.NewRedisStoreFromClient(client, "test", log.WithComponent("test"))

	tracker := NewTracker(st)
	tracker.limit = 3

	ctx := context.Background()
	for _, hash := range []string{"h1", "h2", "h3"} {
		tracker.Record(ctx, hash, translate.Event{Type: "partial", BaseKey: "k"})
	}
	// Touch h1 so h2 becomes the stalest stream.
	tracker.Record(ctx, "h1", translate.Event{Type: "partial", BaseKey: "k"})
	tracker.Record(ctx, "h4", translate.Event{Type: "partial", BaseKey: "k"})

	active, err := tracker.Active(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 3)
	assert.ElementsMatch(t, []string{"h1", "h3", "h4"}, active)

	_, err = st.Get(ctx, store.StreamActivity, "h2")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
