package blobstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore keeps objects in process. Failures can be injected for tests
// and for the demo backend.
type MemoryStore struct {
	mu        sync.Mutex
	objects   map[string]memoryObject
	putErr    error
	deleteErr map[string]error
	now       func() time.Time
}

type memoryObject struct {
	data        []byte
	contentType string
	created     time.Time
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		objects:   make(map[string]memoryObject),
		deleteErr: make(map[string]error),
		now:       time.Now,
	}
}

// FailPuts makes every later Put return err. Pass nil to clear.
func (s *MemoryStore) FailPuts(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putErr = err
}

// FailDelete makes Delete of ref return err. Pass nil to clear.
func (s *MemoryStore) FailDelete(ref string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.deleteErr, ref)
		return
	}
	s.deleteErr[ref] = err
}

// Exists reports whether ref is stored
func (s *MemoryStore) Exists(ref string) bool {
	key, err := splitRef(ref, "mem", "")
	if err != nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key]
	return ok
}

// Len returns the number of stored objects
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

func (s *MemoryStore) Put(ctx context.Context, path string, data []byte, contentType string) (string, error) {
	key, err := cleanKey(path)
	if err != nil {
		return "", newStorageError(ProviderMemory, "put", "", err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.putErr != nil {
		return "", newStorageError(ProviderMemory, "put", key, s.putErr)
	}
	s.objects[key] = memoryObject{
		data:        append([]byte(nil), data...),
		contentType: contentType,
		created:     s.now(),
	}
	return "mem://" + key, nil
}

func (s *MemoryStore) Get(ctx context.Context, ref string) ([]byte, error) {
	key, err := splitRef(ref, "mem", "")
	if err != nil {
		return nil, newStorageError(ProviderMemory, "get", ref, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[key]
	if !ok {
		return nil, newStorageError(ProviderMemory, "get", ref, ErrNotFound)
	}
	return append([]byte(nil), obj.data...), nil
}

func (s *MemoryStore) Delete(ctx context.Context, ref string) error {
	key, err := splitRef(ref, "mem", "")
	if err != nil {
		return newStorageError(ProviderMemory, "delete", ref, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if injected := s.deleteErr[ref]; injected != nil {
		return newStorageError(ProviderMemory, "delete", ref, injected)
	}
	delete(s.objects, key)
	return nil
}

func (s *MemoryStore) List(ctx context.Context, prefix string) ([]Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var objects []Object
	for key, obj := range s.objects {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		objects = append(objects, Object{
			Name:        baseName(key),
			FullPath:    key,
			Ref:         "mem://" + key,
			Size:        int64(len(obj.data)),
			ContentType: obj.contentType,
			Created:     obj.created,
			Updated:     obj.created,
		})
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].FullPath < objects[j].FullPath })
	return objects, nil
}

func (s *MemoryStore) HealthCheck(ctx context.Context) error {
	return ctx.Err()
}

func (s *MemoryStore) Info() map[string]interface{} {
	return map[string]interface{}{
		"provider": string(ProviderMemory),
		"objects":  s.Len(),
	}
}
