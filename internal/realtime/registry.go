// Package realtime keeps one live change subscription per watched collection
// and republishes the deltas as typed events. A failing collection reconnects
// on its own with linear backoff and never affects the others.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"tourapp-admin/internal/docstore"
	"tourapp-admin/internal/logging"
)

const (
	DefaultMaxAttempts   = 5
	DefaultBackoffBase   = 2 * time.Second
	DefaultActivityLimit = 100
)

// DefaultCollections are the collections the console watches
var DefaultCollections = []string{"users", "trips", "messages", "locations", "settings", DevicesCollection}

// State is the health of one collection subscription
type State string

const (
	StateIdle         State = "idle"
	StateConnecting   State = "connecting"
	StateLive         State = "live"
	StateReconnecting State = "reconnecting"
	StateUnavailable  State = "unavailable"
)

// Event is one document delta
type Event struct {
	Collection string                 `json:"collection"`
	Kind       docstore.ChangeKind    `json:"changeKind"`
	ID         string                 `json:"id"`
	Entity     map[string]interface{} `json:"entity"`
}

// Batch is every event of one snapshot
type Batch struct {
	Collection string    `json:"collection"`
	Events     []Event   `json:"events"`
	At         time.Time `json:"at"`
}

// StatusEvent reports a health transition. Terminal is set once a collection
// has given up reconnecting.
type StatusEvent struct {
	Collection string `json:"collection"`
	State      State  `json:"state"`
	Attempt    int    `json:"attempt,omitempty"`
	Message    string `json:"message,omitempty"`
	Terminal   bool   `json:"terminal"`
	Err        error  `json:"-"`
}

// Health is the per-collection view returned by Health and AllHealth
type Health struct {
	Collection  string    `json:"collection"`
	State       State     `json:"state"`
	Attempts    int       `json:"attempts"`
	LastError   string    `json:"lastError,omitempty"`
	LastEventAt time.Time `json:"lastEventAt,omitempty"`
}

// Activity is one entry of the sync log
type Activity struct {
	Timestamp  time.Time `json:"timestamp"`
	Collection string    `json:"collection"`
	Changes    int       `json:"changes"`
	Kinds      []string  `json:"kinds"`
}

type (
	ChangeHandler func(Event)
	BatchHandler  func(Batch)
	StatusHandler func(StatusEvent)
)

// Unsubscribe removes a handler. Calling it more than once is a no-op.
type Unsubscribe func()

// Option configures a Registry
type Option func(*Registry)

// WithMaxAttempts sets how many reconnects are tried before a collection is
// declared unavailable
func WithMaxAttempts(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.maxAttempts = n
		}
	}
}

// WithBackoffBase sets the delay unit; the k-th reconnect waits base*k
func WithBackoffBase(d time.Duration) Option {
	return func(r *Registry) {
		r.backoffBase = d
	}
}

// WithSleep replaces the backoff wait
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(r *Registry) {
		r.sleep = sleep
	}
}

// WithClock overrides the time source used for activity timestamps
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// WithActivityLimit bounds the sync log
func WithActivityLimit(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.activityLimit = n
		}
	}
}

type subscription struct {
	cancel context.CancelFunc
	done   chan struct{}
}

type handlerEntry[T any] struct {
	id      uint64
	handler T
}

// Registry owns the subscriptions. It is safe for concurrent use.
type Registry struct {
	subscriber docstore.Subscriber
	logger     *logging.Logger

	maxAttempts   int
	backoffBase   time.Duration
	activityLimit int
	sleep         func(ctx context.Context, d time.Duration) error
	now           func() time.Time

	mu          sync.Mutex
	subs        map[string]*subscription
	health      map[string]*Health
	unavailable mapset.Set[string]
	connected   bool
	activity    []Activity

	handlersMu     sync.RWMutex
	nextID         uint64
	changeHandlers map[string][]handlerEntry[ChangeHandler]
	batchHandlers  []handlerEntry[BatchHandler]
	statusHandlers []handlerEntry[StatusHandler]
}

// NewRegistry creates a registry with no active subscriptions
func NewRegistry(subscriber docstore.Subscriber, logger *logging.Logger, opts ...Option) *Registry {
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	r := &Registry{
		subscriber:     subscriber,
		logger:         logger,
		maxAttempts:    DefaultMaxAttempts,
		backoffBase:    DefaultBackoffBase,
		activityLimit:  DefaultActivityLimit,
		sleep:          sleepContext,
		now:            time.Now,
		subs:           make(map[string]*subscription),
		health:         make(map[string]*Health),
		unavailable:    mapset.NewThreadUnsafeSet[string](),
		changeHandlers: make(map[string][]handlerEntry[ChangeHandler]),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start subscribes to collection unless it is already active. The
// subscription lives until Stop, StopAll or cancellation of ctx.
func (r *Registry) Start(ctx context.Context, collection string) error {
	if collection == "" {
		return fmt.Errorf("collection name is required")
	}

	r.mu.Lock()
	if _, active := r.subs[collection]; active {
		r.mu.Unlock()
		return nil
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &subscription{cancel: cancel, done: make(chan struct{})}
	r.subs[collection] = sub
	r.unavailable.Remove(collection)
	r.health[collection] = &Health{Collection: collection, State: StateConnecting}
	r.mu.Unlock()

	r.logger.LogSubscription(collection, string(StateConnecting), 0, nil)
	go r.run(subCtx, collection, sub)
	return nil
}

// StartAll starts every named collection
func (r *Registry) StartAll(ctx context.Context, collections ...string) error {
	for _, collection := range collections {
		if err := r.Start(ctx, collection); err != nil {
			return err
		}
	}
	return nil
}

// Stop cancels the collection's subscription and waits for its goroutine to
// exit. It must not be called from a handler of the same collection.
func (r *Registry) Stop(collection string) {
	r.mu.Lock()
	sub, ok := r.subs[collection]
	delete(r.subs, collection)
	r.mu.Unlock()

	if !ok {
		return
	}
	sub.cancel()
	<-sub.done

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, restarted := r.subs[collection]; !restarted {
		if h := r.health[collection]; h != nil && h.State != StateUnavailable {
			h.State = StateIdle
		}
	}
	r.logger.LogSubscription(collection, string(StateIdle), 0, nil)
}

// StopAll stops every subscription
func (r *Registry) StopAll() {
	r.mu.Lock()
	collections := make([]string, 0, len(r.subs))
	for collection := range r.subs {
		collections = append(collections, collection)
	}
	r.mu.Unlock()

	for _, collection := range collections {
		r.Stop(collection)
	}
}

// ForceResync drops and re-creates a collection's subscription, which
// replays its full current contents as added events. It also revives a
// collection that was declared unavailable.
func (r *Registry) ForceResync(ctx context.Context, collection string) error {
	r.Stop(collection)
	return r.Start(ctx, collection)
}

// IsConnected reports the global connection flag: cleared by any subscription
// error, set again by the next delivered snapshot
func (r *Registry) IsConnected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connected
}

// Health returns the state of one collection
func (r *Registry) Health(collection string) (Health, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.health[collection]
	if !ok {
		return Health{Collection: collection, State: StateIdle}, false
	}
	return *h, true
}

// AllHealth returns every known collection sorted by name
func (r *Registry) AllHealth() []Health {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Health, 0, len(r.health))
	for _, h := range r.health {
		out = append(out, *h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Collection < out[j].Collection })
	return out
}

// Unavailable lists collections that stopped retrying
func (r *Registry) Unavailable() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := r.unavailable.ToSlice()
	sort.Strings(out)
	return out
}

// Activity returns the sync log, oldest first
func (r *Registry) Activity() []Activity {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Activity(nil), r.activity...)
}

// OnChange registers a handler for one collection, or for all of them with "*"
func (r *Registry) OnChange(collection string, handler ChangeHandler) Unsubscribe {
	r.handlersMu.Lock()
	defer r.handlersMu.Unlock()

	r.nextID++
	id := r.nextID
	r.changeHandlers[collection] = append(r.changeHandlers[collection], handlerEntry[ChangeHandler]{id: id, handler: handler})

	return r.unsubscriber(func() {
		r.changeHandlers[collection] = removeEntry(r.changeHandlers[collection], id)
	})
}

// OnBatch registers a handler called once per non-empty snapshot
func (r *Registry) OnBatch(handler BatchHandler) Unsubscribe {
	r.handlersMu.Lock()
	defer r.handlersMu.Unlock()

	r.nextID++
	id := r.nextID
	r.batchHandlers = append(r.batchHandlers, handlerEntry[BatchHandler]{id: id, handler: handler})

	return r.unsubscriber(func() {
		r.batchHandlers = removeEntry(r.batchHandlers, id)
	})
}

// OnStatus registers a handler for health transitions
func (r *Registry) OnStatus(handler StatusHandler) Unsubscribe {
	r.handlersMu.Lock()
	defer r.handlersMu.Unlock()

	r.nextID++
	id := r.nextID
	r.statusHandlers = append(r.statusHandlers, handlerEntry[StatusHandler]{id: id, handler: handler})

	return r.unsubscriber(func() {
		r.statusHandlers = removeEntry(r.statusHandlers, id)
	})
}

func (r *Registry) unsubscriber(remove func()) Unsubscribe {
	var once sync.Once
	return func() {
		once.Do(func() {
			r.handlersMu.Lock()
			defer r.handlersMu.Unlock()
			remove()
		})
	}
}

func removeEntry[T any](entries []handlerEntry[T], id uint64) []handlerEntry[T] {
	out := entries[:0:0]
	for _, e := range entries {
		if e.id != id {
			out = append(out, e)
		}
	}
	return out
}

// run owns one collection until its context ends or it gives up
func (r *Registry) run(ctx context.Context, collection string, sub *subscription) {
	defer close(sub.done)

	failures := 0
	for {
		err := r.follow(ctx, collection, &failures)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			err = errors.New("change stream ended")
		}

		failures++
		r.markFailure(collection, failures, err)

		if failures > r.maxAttempts {
			r.markUnavailable(collection, sub, err)
			return
		}

		if err := r.sleep(ctx, r.backoffBase*time.Duration(failures)); err != nil {
			return
		}
	}
}

// follow subscribes and delivers snapshots until the stream fails. Every
// delivered snapshot resets the consecutive failure count. A collection is
// marked live only after its snapshot reached the handlers.
func (r *Registry) follow(ctx context.Context, collection string, failures *int) error {
	it, err := r.subscriber.Snapshots(ctx, collection)
	if err != nil {
		return err
	}
	defer it.Stop()

	for {
		changes, err := it.Next()
		if err != nil {
			return err
		}

		*failures = 0
		if len(changes) > 0 {
			r.deliver(collection, changes)
		}
		r.markLive(collection)
	}
}

func (r *Registry) deliver(collection string, changes []docstore.Change) {
	at := r.now()
	batch := Batch{Collection: collection, At: at, Events: make([]Event, 0, len(changes))}
	kinds := make([]string, 0, len(changes))
	for _, change := range changes {
		batch.Events = append(batch.Events, Event{
			Collection: collection,
			Kind:       change.Kind,
			ID:         change.Doc.ID,
			Entity:     change.Doc.Data,
		})
		kinds = append(kinds, string(change.Kind))
	}

	r.mu.Lock()
	if h := r.health[collection]; h != nil {
		h.LastEventAt = at
	}
	r.activity = append(r.activity, Activity{
		Timestamp:  at,
		Collection: collection,
		Changes:    len(changes),
		Kinds:      kinds,
	})
	if over := len(r.activity) - r.activityLimit; over > 0 {
		r.activity = append([]Activity(nil), r.activity[over:]...)
	}
	r.mu.Unlock()

	r.logger.LogSyncBatch(collection, len(changes), kinds)

	r.handlersMu.RLock()
	changeHandlers := append(append([]handlerEntry[ChangeHandler](nil), r.changeHandlers[collection]...), r.changeHandlers["*"]...)
	batchHandlers := append([]handlerEntry[BatchHandler](nil), r.batchHandlers...)
	r.handlersMu.RUnlock()

	for _, event := range batch.Events {
		for _, h := range changeHandlers {
			h.handler(event)
		}
	}
	for _, h := range batchHandlers {
		h.handler(batch)
	}
}

func (r *Registry) markLive(collection string) {
	r.mu.Lock()
	r.connected = true
	h := r.health[collection]
	changed := h != nil && h.State != StateLive
	if h != nil {
		h.State = StateLive
		h.Attempts = 0
		h.LastError = ""
	}
	r.mu.Unlock()

	if changed {
		r.logger.LogSubscription(collection, string(StateLive), 0, nil)
		r.publishStatus(StatusEvent{Collection: collection, State: StateLive})
	}
}

func (r *Registry) markFailure(collection string, attempt int, err error) {
	r.mu.Lock()
	r.connected = false
	if h := r.health[collection]; h != nil {
		h.State = StateReconnecting
		h.Attempts = attempt
		h.LastError = err.Error()
	}
	r.mu.Unlock()

	r.logger.LogSubscription(collection, string(StateReconnecting), attempt, err)
	r.publishStatus(StatusEvent{
		Collection: collection,
		State:      StateReconnecting,
		Attempt:    attempt,
		Err:        err,
	})
}

func (r *Registry) markUnavailable(collection string, sub *subscription, err error) {
	message := fmt.Sprintf("sync unavailable for %s", collection)

	r.mu.Lock()
	r.unavailable.Add(collection)
	if h := r.health[collection]; h != nil {
		h.State = StateUnavailable
	}
	if r.subs[collection] == sub {
		delete(r.subs, collection)
		sub.cancel()
	}
	r.mu.Unlock()

	r.logger.WithFields(map[string]interface{}{
		"collection": collection,
		"attempts":   r.maxAttempts,
		"error":      err.Error(),
	}).Error("Giving up on change subscription")

	r.publishStatus(StatusEvent{
		Collection: collection,
		State:      StateUnavailable,
		Message:    message,
		Terminal:   true,
		Err:        err,
	})
}

func (r *Registry) publishStatus(event StatusEvent) {
	r.handlersMu.RLock()
	handlers := append([]handlerEntry[StatusHandler](nil), r.statusHandlers...)
	r.handlersMu.RUnlock()

	for _, h := range handlers {
		h.handler(event)
	}
}
