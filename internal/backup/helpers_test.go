package backup

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tourapp-admin/internal/blobstore"
	"tourapp-admin/internal/docstore"
	"tourapp-admin/internal/logging"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{now: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// flakyDocs fails Add with addErr while it is set
type flakyDocs struct {
	*docstore.MemoryStore
	addErr error
}

func (f *flakyDocs) Add(ctx context.Context, collection string, data map[string]interface{}) (string, error) {
	if f.addErr != nil {
		return "", f.addErr
	}
	return f.MemoryStore.Add(ctx, collection, data)
}

type testEnv struct {
	docs        *docstore.MemoryStore
	blobs       *blobstore.MemoryStore
	clock       *fakeClock
	coordinator *Coordinator
	manager     *Manager
}

func newTestEnv(t *testing.T, opts ...docstore.MemoryOption) *testEnv {
	t.Helper()

	env := &testEnv{
		docs:  docstore.NewMemoryStore(opts...),
		blobs: blobstore.NewMemoryStore(),
		clock: newFakeClock(time.Date(2024, 3, 15, 9, 30, 0, 123456789, time.UTC)),
	}
	env.coordinator = NewCoordinator(WithCoordinatorClock(env.clock.Now))
	env.manager = NewManager(env.docs, env.blobs, env.coordinator, nil, logging.NewNopLogger(), WithClock(env.clock.Now))
	return env
}

func (e *testEnv) seed(t *testing.T, collection string, docs map[string]map[string]interface{}) {
	t.Helper()
	for id, data := range docs {
		require.NoError(t, e.docs.Set(context.Background(), collection, id, data, false))
	}
}

// addRecord writes a backup record aged days before the clock, with a blob
func (e *testEnv) addRecord(t *testing.T, days int, status Status) string {
	t.Helper()
	ctx := context.Background()

	createdAt := e.clock.Now().AddDate(0, 0, -days)
	filename := BuildFilename(TypeFull, createdAt, GenerateBackupID(createdAt), ".json")
	ref, err := e.blobs.Put(ctx, BlobPrefix+filename, []byte(`{"metadata":{}}`), "application/json")
	require.NoError(t, err)

	record := &BackupRecord{
		Filename:    filename,
		BackupType:  TypeFull,
		Format:      FormatJSON,
		DownloadRef: ref,
		CreatedAt:   createdAt,
		Status:      status,
		Compression: CompressionTypeNone,
	}
	id, err := e.docs.Add(ctx, CollectionBackups, record.toDocument())
	require.NoError(t, err)
	return id
}
