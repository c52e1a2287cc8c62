package docstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store. Snapshot iterators see every committed
// write in commit order.
type MemoryStore struct {
	mu          sync.Mutex
	collections map[string]map[string]map[string]interface{}
	subscribers map[string]map[*memoryIterator]struct{}
	batchLimit  int
}

// MemoryOption configures a MemoryStore
type MemoryOption func(*MemoryStore)

// WithBatchLimit makes Commit fail with ErrBatchTooLarge above n writes
func WithBatchLimit(n int) MemoryOption {
	return func(s *MemoryStore) {
		s.batchLimit = n
	}
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		collections: make(map[string]map[string]map[string]interface{}),
		subscribers: make(map[string]map[*memoryIterator]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) Get(ctx context.Context, collection, id string) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok := s.collections[collection][id]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	return &Document{ID: id, Data: cloneData(data)}, nil
}

func (s *MemoryStore) Query(ctx context.Context, q Query) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	docs := s.snapshotLocked(q.Collection)
	s.mu.Unlock()

	return applyQuery(docs, q), nil
}

func (s *MemoryStore) Add(ctx context.Context, collection string, data map[string]interface{}) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := uuid.New().String()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.applyLocked([]batchOp{{collection: collection, id: id, data: data}}, false)
	return id, nil
}

func (s *MemoryStore) Set(ctx context.Context, collection, id string, data map[string]interface{}, merge bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applyLocked([]batchOp{{collection: collection, id: id, data: data}}, merge)
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, collection, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.collections[collection][id]
	if !ok {
		return nil
	}
	delete(s.collections[collection], id)
	s.publishLocked(collection, []Change{{Kind: ChangeRemoved, Doc: Document{ID: id, Data: cloneData(old)}}})
	return nil
}

func (s *MemoryStore) Batch() Batch {
	return &memoryBatch{store: s}
}

func (s *MemoryStore) Snapshots(ctx context.Context, collection string) (SnapshotIterator, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	initial := s.snapshotLocked(collection)
	changes := make([]Change, 0, len(initial))
	for _, doc := range applyQuery(initial, Query{}) {
		changes = append(changes, Change{Kind: ChangeAdded, Doc: doc})
	}

	it := &memoryIterator{
		store:      s,
		collection: collection,
		ctx:        ctx,
		initial:    changes,
		notify:     make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	if s.subscribers[collection] == nil {
		s.subscribers[collection] = make(map[*memoryIterator]struct{})
	}
	s.subscribers[collection][it] = struct{}{}
	return it, nil
}

// Close stops all open iterators
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	var its []*memoryIterator
	for _, subs := range s.subscribers {
		for it := range subs {
			its = append(its, it)
		}
	}
	s.mu.Unlock()

	for _, it := range its {
		it.Stop()
	}
	return nil
}

// Count returns the number of documents in a collection
func (s *MemoryStore) Count(collection string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.collections[collection])
}

func (s *MemoryStore) snapshotLocked(collection string) []Document {
	docs := make([]Document, 0, len(s.collections[collection]))
	for id, data := range s.collections[collection] {
		docs = append(docs, Document{ID: id, Data: cloneData(data)})
	}
	return docs
}

func (s *MemoryStore) applyLocked(ops []batchOp, merge bool) {
	byCollection := make(map[string][]Change)
	var order []string

	for _, op := range ops {
		coll := s.collections[op.collection]
		if coll == nil {
			coll = make(map[string]map[string]interface{})
			s.collections[op.collection] = coll
		}

		old, existed := coll[op.id]
		var next map[string]interface{}
		if merge && existed {
			next = deepMerge(cloneData(old), op.data)
		} else {
			next = cloneData(op.data)
			if next == nil {
				next = make(map[string]interface{})
			}
		}
		coll[op.id] = next

		kind := ChangeAdded
		if existed {
			kind = ChangeModified
		}
		if _, seen := byCollection[op.collection]; !seen {
			order = append(order, op.collection)
		}
		byCollection[op.collection] = append(byCollection[op.collection],
			Change{Kind: kind, Doc: Document{ID: op.id, Data: cloneData(next)}})
	}

	for _, collection := range order {
		s.publishLocked(collection, byCollection[collection])
	}
}

func (s *MemoryStore) publishLocked(collection string, changes []Change) {
	for it := range s.subscribers[collection] {
		it.push(changes)
	}
}

func (s *MemoryStore) unsubscribe(it *memoryIterator) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subscribers[it.collection], it)
}

type memoryBatch struct {
	store *MemoryStore
	ops   []batchOp
}

func (b *memoryBatch) Set(collection, id string, data map[string]interface{}) {
	b.ops = append(b.ops, batchOp{collection: collection, id: id, data: cloneData(data)})
}

func (b *memoryBatch) Len() int {
	return len(b.ops)
}

func (b *memoryBatch) Commit(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if b.store.batchLimit > 0 && len(b.ops) > b.store.batchLimit {
		return fmt.Errorf("%w: %d writes, limit %d", ErrBatchTooLarge, len(b.ops), b.store.batchLimit)
	}

	b.store.mu.Lock()
	defer b.store.mu.Unlock()
	b.store.applyLocked(b.ops, false)
	return nil
}

type memoryIterator struct {
	store      *MemoryStore
	collection string
	ctx        context.Context

	mu          sync.Mutex
	initial     []Change
	initialSent bool
	pending     []Change

	notify   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func (it *memoryIterator) push(changes []Change) {
	it.mu.Lock()
	it.pending = append(it.pending, changes...)
	it.mu.Unlock()

	select {
	case it.notify <- struct{}{}:
	default:
	}
}

func (it *memoryIterator) Next() ([]Change, error) {
	it.mu.Lock()
	if !it.initialSent {
		it.initialSent = true
		initial := it.initial
		it.initial = nil
		it.mu.Unlock()
		return initial, nil
	}
	it.mu.Unlock()

	for {
		select {
		case <-it.done:
			return nil, ErrIteratorStopped
		default:
		}

		it.mu.Lock()
		if len(it.pending) > 0 {
			out := it.pending
			it.pending = nil
			it.mu.Unlock()
			return out, nil
		}
		it.mu.Unlock()

		select {
		case <-it.notify:
		case <-it.done:
			return nil, ErrIteratorStopped
		case <-it.ctx.Done():
			return nil, it.ctx.Err()
		}
	}
}

func (it *memoryIterator) Stop() {
	it.stopOnce.Do(func() {
		close(it.done)
		it.store.unsubscribe(it)
	})
}
