package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	ws "github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tourapp-admin/internal/backup"
	"tourapp-admin/internal/docstore"
	"tourapp-admin/internal/realtime"
)

// mockClient has a send buffer but no connection
func mockClient(hub *Hub) *Client {
	return &Client{hub: hub, send: make(chan []byte, sendBufferSize)}
}

func receive(t *testing.T, c *Client) Message {
	t.Helper()
	select {
	case data := <-c.send:
		var msg Message
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
		return Message{}
	}
}

func TestHub_RegisterUnregister(t *testing.T) {
	hub := NewHub(nil)
	c1, c2 := mockClient(hub), mockClient(hub)

	hub.Register(c1)
	hub.Register(c2)
	assert.Equal(t, 2, hub.ClientCount())

	hub.Unregister(c1)
	assert.Equal(t, 1, hub.ClientCount())

	hub.Unregister(c2)
	hub.Unregister(c2)
	assert.Equal(t, 0, hub.ClientCount())
}

func TestHub_Broadcast(t *testing.T) {
	hub := NewHub(nil)
	c1, c2 := mockClient(hub), mockClient(hub)
	hub.Register(c1)
	hub.Register(c2)
	defer hub.Unregister(c1)
	defer hub.Unregister(c2)

	hub.Broadcast(NewMessage("users", "added", "u1", map[string]interface{}{"role": "student"}))

	for _, c := range []*Client{c1, c2} {
		msg := receive(t, c)
		assert.Equal(t, "users_added", msg.Type)
		assert.Equal(t, "users", msg.Entity)
		assert.Equal(t, "added", msg.Action)
		assert.Equal(t, "u1", msg.ID)
		assert.Equal(t, "student", msg.Extra["role"])
	}
}

func TestHub_FullBufferDrops(t *testing.T) {
	hub := NewHub(nil)
	c := mockClient(hub)
	hub.Register(c)
	defer hub.Unregister(c)

	for i := 0; i < sendBufferSize+3; i++ {
		hub.Broadcast(NewMessage("trips", "modified", "t1", nil))
	}

	assert.Len(t, c.send, sendBufferSize)
	assert.Equal(t, uint64(3), hub.Dropped())
}

func TestHub_ConcurrentAccess(t *testing.T) {
	hub := NewHub(nil)
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := mockClient(hub)
			hub.Register(c)
			hub.Broadcast(NewMessage("messages", "added", "m1", nil))
			hub.Unregister(c)
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, hub.ClientCount())
}

func TestStatusMessage(t *testing.T) {
	msg := StatusMessage(realtime.StatusEvent{
		Collection: "trips",
		State:      realtime.StateUnavailable,
		Message:    "sync unavailable for trips",
		Terminal:   true,
	})

	assert.Equal(t, "connection_unavailable", msg.Type)
	assert.Equal(t, "trips", msg.ID)
	assert.Equal(t, true, msg.Extra["terminal"])
	assert.Equal(t, "sync unavailable for trips", msg.Extra["message"])
	assert.NotContains(t, msg.Extra, "attempt")
}

func TestBackupMessage(t *testing.T) {
	record := &backup.BackupRecord{ID: "backup_1", BackupType: backup.TypeUsers, Status: backup.StatusComplete, SizeBytes: 120}

	msg := BackupMessage("created", record, nil)
	assert.Equal(t, "backup_created", msg.Type)
	assert.Equal(t, "backup_1", msg.ID)
	assert.Equal(t, "users", msg.Extra["backupType"])
	assert.Equal(t, int64(120), msg.Extra["size"])

	msg = BackupMessage("failed", nil, errors.New("bucket unreachable"))
	assert.Empty(t, msg.ID)
	assert.Equal(t, "bucket unreachable", msg.Extra["error"])
}

func TestBridge(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	docs := docstore.NewMemoryStore()
	require.NoError(t, docs.Set(ctx, "locations", "l1", map[string]interface{}{"lat": 14.55}, false))

	registry := realtime.NewRegistry(docs, nil)
	defer registry.StopAll()

	hub := NewHub(nil)
	c := mockClient(hub)
	hub.Register(c)
	defer hub.Unregister(c)

	detach := Bridge(registry, hub)
	require.NoError(t, registry.Start(ctx, "locations"))

	got := map[string]bool{}
	for len(got) < 2 {
		got[receive(t, c).Type] = true
	}
	assert.True(t, got["connection_live"])
	assert.True(t, got["locations_added"])

	detach()
	require.NoError(t, docs.Delete(ctx, "locations", "l1"))
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, c.send)
}

func TestHandler_EndToEnd(t *testing.T) {
	hub := NewHub(nil)
	server := httptest.NewServer(Handler(hub, nil))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := ws.Dial(ctx, server.URL, nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	hub.Broadcast(NewMessage("settings", "modified", "system", nil))

	typ, data, err := conn.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, ws.MessageText, typ)

	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, "settings_modified", msg.Type)

	require.NoError(t, conn.Close(ws.StatusNormalClosure, ""))
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 5*time.Millisecond)
}
