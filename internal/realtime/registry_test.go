package realtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tourapp-admin/internal/docstore"
)

const waitFor = 2 * time.Second

// scriptedIterator yields its batches, then fails with err, or blocks until
// the subscription is cancelled when err is nil
type scriptedIterator struct {
	ctx     context.Context
	batches [][]docstore.Change
	err     error
}

func (it *scriptedIterator) Next() ([]docstore.Change, error) {
	if len(it.batches) > 0 {
		next := it.batches[0]
		it.batches = it.batches[1:]
		return next, nil
	}
	if it.err != nil {
		return nil, it.err
	}
	<-it.ctx.Done()
	return nil, it.ctx.Err()
}

func (it *scriptedIterator) Stop() {}

type step struct {
	err     error
	batches [][]docstore.Change
	iterErr error
}

// scriptedSubscriber plays one step per Snapshots call for a collection and
// repeats the final step forever. Collections without a script are served by
// fallback.
type scriptedSubscriber struct {
	mu       sync.Mutex
	scripts  map[string][]step
	calls    map[string]int
	fallback docstore.Subscriber
}

func newScriptedSubscriber(fallback docstore.Subscriber) *scriptedSubscriber {
	return &scriptedSubscriber{
		scripts:  make(map[string][]step),
		calls:    make(map[string]int),
		fallback: fallback,
	}
}

func (s *scriptedSubscriber) script(collection string, steps ...step) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts[collection] = steps
}

func (s *scriptedSubscriber) Calls(collection string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[collection]
}

func (s *scriptedSubscriber) Snapshots(ctx context.Context, collection string) (docstore.SnapshotIterator, error) {
	s.mu.Lock()
	steps, ok := s.scripts[collection]
	n := s.calls[collection]
	s.calls[collection]++
	s.mu.Unlock()

	if !ok {
		return s.fallback.Snapshots(ctx, collection)
	}
	if n >= len(steps) {
		n = len(steps) - 1
	}
	st := steps[n]
	if st.err != nil {
		return nil, st.err
	}
	return &scriptedIterator{ctx: ctx, batches: append([][]docstore.Change(nil), st.batches...), err: st.iterErr}, nil
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return ctx.Err()
}

func (s *sleepRecorder) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

type eventSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *eventSink) Handle(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *eventSink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

func (s *eventSink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func seedUsers(t *testing.T, store *docstore.MemoryStore, ids ...string) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, store.Set(context.Background(), "users", id, map[string]interface{}{"email": id + "@school.edu"}, false))
	}
}

func TestRegistry_SnapshotThenDeltas(t *testing.T) {
	store := docstore.NewMemoryStore()
	seedUsers(t, store, "u1", "u2")
	ctx := context.Background()

	registry := NewRegistry(store, nil)
	defer registry.StopAll()

	sink := &eventSink{}
	registry.OnChange("users", sink.Handle)

	require.NoError(t, registry.Start(ctx, "users"))
	require.Eventually(t, func() bool { return sink.Len() == 2 }, waitFor, 5*time.Millisecond)

	require.NoError(t, store.Set(ctx, "users", "u3", map[string]interface{}{"email": "u3@school.edu"}, false))
	require.NoError(t, store.Set(ctx, "users", "u1", map[string]interface{}{"email": "new@school.edu"}, false))
	require.NoError(t, store.Delete(ctx, "users", "u2"))
	require.Eventually(t, func() bool { return sink.Len() == 5 }, waitFor, 5*time.Millisecond)

	events := sink.Events()
	type delta struct {
		kind docstore.ChangeKind
		id   string
	}
	got := make([]delta, 0, len(events))
	for _, e := range events {
		assert.Equal(t, "users", e.Collection)
		got = append(got, delta{e.Kind, e.ID})
	}
	assert.Equal(t, []delta{
		{docstore.ChangeAdded, "u1"},
		{docstore.ChangeAdded, "u2"},
		{docstore.ChangeAdded, "u3"},
		{docstore.ChangeModified, "u1"},
		{docstore.ChangeRemoved, "u2"},
	}, got)
	assert.Equal(t, "new@school.edu", events[3].Entity["email"])

	assert.True(t, registry.IsConnected())
	health, ok := registry.Health("users")
	require.True(t, ok)
	assert.Equal(t, StateLive, health.State)
	assert.False(t, health.LastEventAt.IsZero())
}

func TestRegistry_StartIsIdempotent(t *testing.T) {
	store := docstore.NewMemoryStore()
	seedUsers(t, store, "u1")
	subscriber := newScriptedSubscriber(store)

	registry := NewRegistry(subscriber, nil)
	defer registry.StopAll()

	sink := &eventSink{}
	registry.OnChange("*", sink.Handle)

	require.NoError(t, registry.Start(context.Background(), "users"))
	require.NoError(t, registry.Start(context.Background(), "users"))
	require.Eventually(t, func() bool { return sink.Len() == 1 }, waitFor, 5*time.Millisecond)

	assert.Equal(t, 1, subscriber.Calls("users"))
	assert.Error(t, registry.Start(context.Background(), ""))
}

func TestRegistry_GivesUpAfterMaxAttempts(t *testing.T) {
	store := docstore.NewMemoryStore()
	seedUsers(t, store, "u1")
	subscriber := newScriptedSubscriber(store)
	subscriber.script("trips", step{err: errors.New("permission denied")})
	sleeps := &sleepRecorder{}

	registry := NewRegistry(subscriber, nil, WithSleep(sleeps.Sleep))
	defer registry.StopAll()

	var mu sync.Mutex
	var terminal []StatusEvent
	registry.OnStatus(func(e StatusEvent) {
		if e.Terminal {
			mu.Lock()
			terminal = append(terminal, e)
			mu.Unlock()
		}
	})
	users := &eventSink{}
	registry.OnChange("users", users.Handle)

	require.NoError(t, registry.StartAll(context.Background(), "users", "trips"))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(terminal) == 1
	}, waitFor, 5*time.Millisecond)

	assert.Equal(t, []time.Duration{
		2 * time.Second, 4 * time.Second, 6 * time.Second, 8 * time.Second, 10 * time.Second,
	}, sleeps.Delays())
	assert.Equal(t, DefaultMaxAttempts+1, subscriber.Calls("trips"))
	assert.Equal(t, []string{"trips"}, registry.Unavailable())
	trips, _ := registry.Health("trips")
	assert.Equal(t, StateUnavailable, trips.State)

	mu.Lock()
	require.Len(t, terminal, 1)
	assert.Equal(t, "trips", terminal[0].Collection)
	assert.Equal(t, "sync unavailable for trips", terminal[0].Message)
	mu.Unlock()

	require.NoError(t, store.Set(context.Background(), "users", "u2", map[string]interface{}{}, false))
	require.Eventually(t, func() bool { return users.Len() == 2 }, waitFor, 5*time.Millisecond)
	health, _ := registry.Health("users")
	assert.Equal(t, StateLive, health.State)
}

func TestRegistry_DeliveredSnapshotResetsAttempts(t *testing.T) {
	subscriber := newScriptedSubscriber(nil)
	boom := errors.New("stream reset")
	subscriber.script("messages",
		step{err: boom},
		step{err: boom},
		step{batches: [][]docstore.Change{{{Kind: docstore.ChangeAdded, Doc: docstore.Document{ID: "m1"}}}}, iterErr: boom},
		step{err: boom},
	)
	sleeps := &sleepRecorder{}

	registry := NewRegistry(subscriber, nil, WithSleep(sleeps.Sleep), WithMaxAttempts(3))
	defer registry.StopAll()

	sink := &eventSink{}
	registry.OnChange("messages", sink.Handle)
	require.NoError(t, registry.Start(context.Background(), "messages"))

	require.Eventually(t, func() bool {
		h, _ := registry.Health("messages")
		return h.State == StateUnavailable
	}, waitFor, 5*time.Millisecond)

	assert.Equal(t, []time.Duration{
		2 * time.Second, 4 * time.Second,
		2 * time.Second, 4 * time.Second, 6 * time.Second,
	}, sleeps.Delays())
	assert.Equal(t, 1, sink.Len())
	assert.False(t, registry.IsConnected())
}

func TestRegistry_UnsubscribeTwice(t *testing.T) {
	store := docstore.NewMemoryStore()
	registry := NewRegistry(store, nil)
	defer registry.StopAll()

	kept := &eventSink{}
	dropped := &eventSink{}
	registry.OnChange("users", kept.Handle)
	unsubscribe := registry.OnChange("users", dropped.Handle)

	unsubscribe()
	assert.NotPanics(t, func() { unsubscribe() })

	unsubscribeBatch := registry.OnBatch(func(Batch) {})
	unsubscribeBatch()
	unsubscribeBatch()

	require.NoError(t, registry.Start(context.Background(), "users"))
	seedUsers(t, store, "u1")
	require.Eventually(t, func() bool { return kept.Len() == 1 }, waitFor, 5*time.Millisecond)

	assert.Zero(t, dropped.Len())
}

func TestRegistry_OnBatchOncePerSnapshot(t *testing.T) {
	store := docstore.NewMemoryStore()
	seedUsers(t, store, "u1", "u2", "u3")
	registry := NewRegistry(store, nil)
	defer registry.StopAll()

	var mu sync.Mutex
	var batches []Batch
	registry.OnBatch(func(b Batch) {
		mu.Lock()
		defer mu.Unlock()
		batches = append(batches, b)
	})

	require.NoError(t, registry.StartAll(context.Background(), "users", "trips"))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(batches) == 1
	}, waitFor, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, "users", batches[0].Collection)
	assert.Len(t, batches[0].Events, 3)
	mu.Unlock()

	activity := registry.Activity()
	require.Len(t, activity, 1)
	assert.Equal(t, 3, activity[0].Changes)
	assert.Equal(t, []string{"added", "added", "added"}, activity[0].Kinds)
}

func TestRegistry_ActivityIsBounded(t *testing.T) {
	store := docstore.NewMemoryStore()
	registry := NewRegistry(store, nil, WithActivityLimit(3))
	defer registry.StopAll()

	sink := &eventSink{}
	registry.OnChange("users", sink.Handle)
	require.NoError(t, registry.Start(context.Background(), "users"))
	require.Eventually(t, func() bool {
		h, _ := registry.Health("users")
		return h.State == StateLive
	}, waitFor, 5*time.Millisecond)

	for _, id := range []string{"u1", "u2", "u3", "u4", "u5"} {
		current := sink.Len() + 1
		seedUsers(t, store, id)
		require.Eventually(t, func() bool { return sink.Len() == current }, waitFor, 5*time.Millisecond)
	}

	activity := registry.Activity()
	assert.Len(t, activity, 3)
}

func TestRegistry_StopAndResync(t *testing.T) {
	store := docstore.NewMemoryStore()
	seedUsers(t, store, "u1", "u2")
	ctx := context.Background()
	registry := NewRegistry(store, nil)

	sink := &eventSink{}
	registry.OnChange("users", sink.Handle)
	require.NoError(t, registry.Start(ctx, "users"))
	require.Eventually(t, func() bool { return sink.Len() == 2 }, waitFor, 5*time.Millisecond)

	require.NoError(t, registry.ForceResync(ctx, "users"))
	require.Eventually(t, func() bool { return sink.Len() == 4 }, waitFor, 5*time.Millisecond)

	registry.Stop("users")
	registry.Stop("users")
	registry.StopAll()

	health, ok := registry.Health("users")
	require.True(t, ok)
	assert.Equal(t, StateIdle, health.State)

	seedUsers(t, store, "u3")
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 4, sink.Len(), "no events after stop")
}

func TestRegistry_ContextCancellationEndsSubscription(t *testing.T) {
	store := docstore.NewMemoryStore()
	sleeps := &sleepRecorder{}
	registry := NewRegistry(store, nil, WithSleep(sleeps.Sleep))

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, registry.Start(ctx, "users"))
	cancel()

	registry.StopAll()
	assert.Empty(t, sleeps.Delays(), "cancellation is not a failure")
}
