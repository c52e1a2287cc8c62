package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	cws "github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tourapp-admin/internal/backup"
	"tourapp-admin/internal/blobstore"
	"tourapp-admin/internal/cache"
	"tourapp-admin/internal/docstore"
	"tourapp-admin/internal/functions"
	"tourapp-admin/internal/realtime"
	"tourapp-admin/internal/settings"
	ws "tourapp-admin/internal/websocket"
)

type testServer struct {
	docs        *docstore.MemoryStore
	blobs       *blobstore.MemoryStore
	coordinator *backup.Coordinator
	manager     *backup.Manager
	registry    *realtime.Registry
	presence    *realtime.Presence
	cache       *cache.MemoryCache
	settings    *settings.Service
	server      *Server
	handler     http.Handler
}

func newTestServer(t *testing.T, config Config, fn *functions.Client) *testServer {
	t.Helper()

	ts := &testServer{
		docs:        docstore.NewMemoryStore(),
		blobs:       blobstore.NewMemoryStore(),
		coordinator: backup.NewCoordinator(backup.WithCooldown(0)),
		cache:       cache.NewMemoryCache(),
	}
	ts.settings = settings.NewService(ts.docs, nil)
	ts.manager = backup.NewManager(ts.docs, ts.blobs, ts.coordinator, nil, nil,
		backup.WithDefaultSettings(settings.Defaults))
	ts.registry = realtime.NewRegistry(ts.docs, nil)
	t.Cleanup(ts.registry.StopAll)
	ts.presence = realtime.NewPresence(nil)

	ts.server = New(Deps{
		Manager:   ts.manager,
		Sweeper:   backup.NewRetentionSweeper(ts.manager, nil),
		Settings:  ts.settings,
		Registry:  ts.registry,
		Presence:  ts.presence,
		Cache:     ts.cache,
		Functions: fn,
	}, config, nil)
	ts.handler = ts.server.Router()
	return ts
}

func (ts *testServer) seedUsers(t *testing.T) {
	t.Helper()
	for id, name := range map[string]string{"u1": "Ana", "u2": "Bea"} {
		require.NoError(t, ts.docs.Set(context.Background(), "users", id, map[string]interface{}{"name": name, "role": "student"}, false))
	}
}

func (ts *testServer) do(t *testing.T, method, path string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, Config{AuthToken: "secret"}, nil)
	rec := ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestRequireToken(t *testing.T) {
	ts := newTestServer(t, Config{AuthToken: "secret"}, nil)

	rec := ts.do(t, http.MethodGet, "/api/backups", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/backups", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/backups", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/backups?token=secret", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBackupLifecycle(t *testing.T) {
	ts := newTestServer(t, Config{}, nil)
	ts.seedUsers(t)

	rec := ts.do(t, http.MethodPost, "/api/backups", strings.NewReader(`{"backupType":"users","createdBy":"ops"}`))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode(t, rec)
	id := created["id"].(string)
	assert.Equal(t, "users", created["backupType"])
	assert.Equal(t, "complete", created["status"])

	rec = ts.do(t, http.MethodGet, "/api/backups", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode(t, rec)["backups"].([]interface{})
	require.Len(t, list, 1)

	rec = ts.do(t, http.MethodGet, "/api/backups/"+id, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/backups/"+id+"/download", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "backup_users_")
	assert.Contains(t, rec.Body.String(), `"Ana"`)

	// wipe a user, then restore from the record
	require.NoError(t, ts.docs.Delete(context.Background(), "users", "u2"))
	rec = ts.do(t, http.MethodPost, "/api/backups/"+id+"/restore", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, float64(2), decode(t, rec)["written"])
	assert.Equal(t, 2, ts.docs.Count("users"))

	rec = ts.do(t, http.MethodDelete, "/api/backups/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["deleted"])
	assert.Equal(t, 0, ts.blobs.Len())

	rec = ts.do(t, http.MethodGet, "/api/backups/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateBackup_Errors(t *testing.T) {
	ts := newTestServer(t, Config{}, nil)

	rec := ts.do(t, http.MethodPost, "/api/backups", strings.NewReader(`{"backupType":"photos"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/backups", strings.NewReader(`{"unknown":true}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// another operation holds the guard
	token, ok := ts.coordinator.TryAcquire()
	require.True(t, ok)
	rec = ts.do(t, http.MethodPost, "/api/backups", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, true, decode(t, rec)["skipped"])

	rec = ts.do(t, http.MethodPost, "/api/restore", strings.NewReader(`{"metadata":{"timestamp":"2024-03-15T09:30:00Z","backupType":"full","version":"2.0"}}`))
	assert.Equal(t, http.StatusConflict, rec.Code)
	ts.coordinator.Release(token, nil)
}

func TestGuardedOperations_OutliveClientDisconnect(t *testing.T) {
	ts := newTestServer(t, Config{}, nil)
	ts.seedUsers(t)

	gone, cancel := context.WithCancel(context.Background())
	cancel()
	send := func(method, path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body)).WithContext(gone)
		rec := httptest.NewRecorder()
		ts.handler.ServeHTTP(rec, req)
		return rec
	}

	rec := send(http.MethodPost, "/api/backups", `{"backupType":"users"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id := decode(t, rec)["id"].(string)
	assert.Equal(t, 1, ts.docs.Count(backup.CollectionBackups))
	assert.Equal(t, 1, ts.blobs.Len())

	require.NoError(t, ts.docs.Delete(context.Background(), "users", "u1"))
	rec = send(http.MethodPost, "/api/backups/"+id+"/restore", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 2, ts.docs.Count("users"))

	rec = send(http.MethodPost, "/api/restore", `{
		"metadata": {"timestamp": "2024-03-15T09:30:00Z", "backupType": "users", "version": "2.0"},
		"users": [{"id": "u9", "name": "Cy"}]
	}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 3, ts.docs.Count("users"))
	assert.False(t, ts.coordinator.State().InFlight)
}

func TestRestoreUpload(t *testing.T) {
	ts := newTestServer(t, Config{}, nil)

	payload := `{
		"metadata": {"timestamp": "2024-03-15T09:30:00Z", "backupType": "users", "version": "2.0", "createdBy": "admin"},
		"users": [{"id": "u9", "name": "Cy"}]
	}`
	rec := ts.do(t, http.MethodPost, "/api/restore", strings.NewReader(payload))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, float64(1), decode(t, rec)["written"])

	doc, err := ts.docs.Get(context.Background(), "users", "u9")
	require.NoError(t, err)
	assert.Equal(t, "Cy", doc.Data["name"])

	rec = ts.do(t, http.MethodPost, "/api/restore", strings.NewReader(`{"users": []}`))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	small := newTestServer(t, Config{MaxUploadBytes: 16}, nil)
	rec = small.do(t, http.MethodPost, "/api/restore", strings.NewReader(payload))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestSweep(t *testing.T) {
	ts := newTestServer(t, Config{}, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		rec := ts.do(t, http.MethodPost, "/api/backups", strings.NewReader(`{"backupType":"settings"}`))
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}
	require.NoError(t, ts.settings.Set(ctx, "backupSettings.retentionLimit", "1", "test"))

	rec := ts.do(t, http.MethodPost, "/api/backups/sweep", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, float64(2), body["recordsDeleted"])
	assert.Empty(t, body["blobDeleteFailures"])
	assert.Equal(t, 1, ts.docs.Count(backup.CollectionBackups))
}

func TestSyncEndpoints(t *testing.T) {
	ts := newTestServer(t, Config{}, nil)
	ts.seedUsers(t)
	unfollow := cache.Follow(ts.registry, ts.cache, nil)
	defer unfollow()

	require.NoError(t, ts.registry.Start(context.Background(), "users"))
	require.Eventually(t, func() bool {
		n, _ := ts.cache.Count(context.Background(), "users")
		return n == 2
	}, time.Second, 5*time.Millisecond)

	rec := ts.do(t, http.MethodGet, "/api/sync/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode(t, rec)
	assert.Equal(t, true, status["connected"])
	collections := status["collections"].([]interface{})
	require.Len(t, collections, 1)
	assert.Equal(t, "live", collections[0].(map[string]interface{})["state"])
	assert.Equal(t, false, status["backup"].(map[string]interface{})["inFlight"])

	rec = ts.do(t, http.MethodGet, "/api/sync/activity?limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	activity := decode(t, rec)["activity"].([]interface{})
	require.Len(t, activity, 1)
	assert.Equal(t, float64(2), activity[0].(map[string]interface{})["changes"])

	rec = ts.do(t, http.MethodGet, "/api/sync/activity?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	counts := decode(t, rec)["counts"].(map[string]interface{})
	assert.Equal(t, float64(2), counts["users"])
	assert.Equal(t, float64(0), counts["trips"])

	rec = ts.do(t, http.MethodPost, "/api/sync/users/resync", nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	require.Eventually(t, func() bool { return len(ts.registry.Activity()) == 2 }, time.Second, 5*time.Millisecond)
}

func TestSettingsEndpoints(t *testing.T) {
	ts := newTestServer(t, Config{}, nil)

	rec := ts.do(t, http.MethodGet, "/api/settings", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	all := decode(t, rec)["settings"].(map[string]interface{})
	assert.Equal(t, "weekly", all["backupSettings.backupFrequency"])

	rec = ts.do(t, http.MethodPut, "/api/settings/autoLogoutTimer", strings.NewReader(`{"value": 45}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, float64(45), decode(t, rec)["value"])

	rec = ts.do(t, http.MethodPut, "/api/settings/backupSettings.backupFrequency", strings.NewReader(`{"value": "daily"}`))
	require.Equal(t, http.StatusOK, rec.Code)

	policy, err := ts.settings.RetentionPolicy(context.Background())
	require.NoError(t, err)
	assert.Equal(t, backup.FrequencyDaily, policy.Frequency)

	rec = ts.do(t, http.MethodPut, "/api/settings/autoLogoutTimer", strings.NewReader(`{"value": 1}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = ts.do(t, http.MethodPut, "/api/settings/autoLogoutTimer", strings.NewReader(`{}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/settings/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	value, err := ts.settings.Get(context.Background(), "autoLogoutTimer")
	require.NoError(t, err)
	assert.Equal(t, int64(30), value)
}

func TestDeviceEndpoints(t *testing.T) {
	var (
		mu    sync.Mutex
		paths []string
	)
	fnServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()
		if strings.HasSuffix(r.URL.Path, "deleteUserHttp") {
			w.WriteHeader(http.StatusForbidden)
			w.Write([]byte(`{"error":"not an admin"}`))
			return
		}
		w.Write([]byte(`{"success":true}`))
	}))
	defer fnServer.Close()

	fn, err := functions.NewClient(functions.Config{BaseURL: fnServer.URL, Token: "t"}, nil, nil)
	require.NoError(t, err)
	ts := newTestServer(t, Config{}, fn)

	rec := ts.do(t, http.MethodPost, "/api/devices/sync", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = ts.do(t, http.MethodPost, "/api/devices/dev-1/sync", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = ts.do(t, http.MethodPost, "/api/devices/dev-1/logout", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodDelete, "/api/users/u1", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "not an admin", decode(t, rec)["error"])

	rec = ts.do(t, http.MethodPost, "/api/notifications", bytes.NewReader([]byte(`{"title":"Hello","body":"Trip starts soon"}`)))
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = ts.do(t, http.MethodPost, "/api/notifications", bytes.NewReader([]byte(`{"title":""}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{
		"/forceSyncAllDevices",
		"/forceSyncDevice",
		"/forceLogoutDevice",
		"/deleteUserHttp",
		"/sendSystemNotification",
	}, paths)

	noFn := newTestServer(t, Config{}, nil)
	rec = noFn.do(t, http.MethodPost, "/api/devices/sync", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestDevicePresence(t *testing.T) {
	ts := newTestServer(t, Config{}, nil)
	ts.presence.Apply(realtime.Batch{Collection: realtime.DevicesCollection, At: time.Now(), Events: []realtime.Event{
		{Kind: docstore.ChangeAdded, ID: "d1", Entity: map[string]interface{}{"isOnline": true, "userId": "u1"}},
		{Kind: docstore.ChangeAdded, ID: "d2", Entity: map[string]interface{}{"isOnline": false, "userId": "u2"}},
	}})

	rec := ts.do(t, http.MethodGet, "/api/devices", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, float64(2), body["total"])
	assert.Equal(t, float64(1), body["online"])
	assert.Len(t, body["devices"], 2)

	rec = ts.do(t, http.MethodGet, "/api/devices?online=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	devices := decode(t, rec)["devices"].([]interface{})
	require.Len(t, devices, 1)
	assert.Equal(t, "d1", devices[0].(map[string]interface{})["id"])

	rec = ts.do(t, http.MethodGet, "/api/sync/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	summary := decode(t, rec)["devices"].(map[string]interface{})
	assert.Equal(t, float64(2), summary["total"])
	assert.Equal(t, float64(1), summary["online"])
	assert.Nil(t, summary["devices"])

	ts.server.deps.Presence = nil
	rec = ts.do(t, http.MethodGet, "/api/devices", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestPutBackupSettings(t *testing.T) {
	ts := newTestServer(t, Config{}, nil)

	rec := ts.do(t, http.MethodPut, "/api/settings/backup", strings.NewReader(`{"backupFrequency":"daily","retentionLimit":5,"updatedBy":"ops"}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	policy, err := ts.settings.RetentionPolicy(context.Background())
	require.NoError(t, err)
	assert.Equal(t, backup.FrequencyDaily, policy.Frequency)
	assert.Equal(t, 5, policy.RetentionCount)
	assert.Equal(t, 30, policy.RetentionDays, "omitted fields keep their stored value")

	doc, err := ts.settings.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ops", doc["updatedBy"])

	rec = ts.do(t, http.MethodPut, "/api/settings/backup", strings.NewReader(`{"retentionDays":0}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = ts.do(t, http.MethodPut, "/api/settings/backup", strings.NewReader(`{"retention":7}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFunctionFailureStatus(t *testing.T) {
	unavailable := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error":"warming up"}`))
	}))
	defer unavailable.Close()

	fn, err := functions.NewClient(functions.Config{BaseURL: unavailable.URL, Token: "t"}, nil, nil)
	require.NoError(t, err)
	ts := newTestServer(t, Config{}, fn)

	// idempotent calls are retried and stay recoverable once attempts run out
	rec := ts.do(t, http.MethodPost, "/api/devices/sync", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "warming up", decode(t, rec)["error"])

	gone := httptest.NewServer(http.NotFoundHandler())
	gone.Close()
	fn, err = functions.NewClient(functions.Config{BaseURL: gone.URL, Token: "t"}, nil, nil)
	require.NoError(t, err)
	ts = newTestServer(t, Config{}, fn)

	rec = ts.do(t, http.MethodDelete, "/api/users/u1", nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestDashboardReceivesBackupEvents(t *testing.T) {
	ts := newTestServer(t, Config{}, nil)
	httpServer := httptest.NewServer(ts.handler)
	defer httpServer.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dialDashboard(ctx, t, httpServer.URL+"/ws")
	require.Eventually(t, func() bool { return ts.server.Hub().ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	resp, err := http.Post(httpServer.URL+"/api/backups", "application/json", strings.NewReader(`{"backupType":"settings"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	msg := nextMessage(ctx, t, conn)
	assert.Equal(t, "backup_created", msg.Type)
	assert.Equal(t, "settings", msg.Extra["backupType"])
}

func dialDashboard(ctx context.Context, t *testing.T, url string) *cws.Conn {
	t.Helper()
	conn, _, err := cws.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

func nextMessage(ctx context.Context, t *testing.T, conn *cws.Conn) ws.Message {
	t.Helper()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var msg ws.Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}
