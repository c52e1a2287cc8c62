package backup

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tourapp-admin/internal/docstore"
)

func TestRestore_MissingMetadataWritesNothing(t *testing.T) {
	env := newTestEnv(t)

	payload, err := ParsePayload([]byte(`{"users": [{"id": "u1", "email": "ana@school.edu"}]}`))
	require.NoError(t, err)

	_, err = env.manager.Restore(context.Background(), payload)
	require.Error(t, err)
	assert.True(t, IsErrorType(err, ErrorTypeInvalidFormat))
	assert.Zero(t, env.docs.Count(CollectionUsers))
	assert.False(t, env.coordinator.State().InFlight)

	_, err = env.manager.Restore(context.Background(), nil)
	assert.True(t, IsErrorType(err, ErrorTypeInvalidFormat))
}

func TestRestore_WritesEverySection(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, CollectionUsers, map[string]map[string]interface{}{
		"u1": {"email": "old@school.edu", "nickname": "A"},
	})

	payload, err := ParsePayload([]byte(`{
		"metadata": {"timestamp": "2024-03-15T09:30:00.123Z", "backupType": "full", "version": "2.0"},
		"users": [
			{"id": "u1", "email": "ana@school.edu", "createdAt": "2024-01-10T08:00:00.000Z"},
			{"id": "u2", "email": "ben@school.edu"}
		],
		"trips": [{"id": "t1", "destination": "Intramuros"}],
		"settings": [{"maintenanceMode": true}],
		"media": [{"name": "cover.jpg"}]
	}`))
	require.NoError(t, err)

	result, err := env.manager.Restore(context.Background(), payload)
	require.NoError(t, err)
	assert.False(t, result.Skipped)
	assert.Equal(t, 4, result.Written)
	assert.Equal(t, map[string]int{CollectionUsers: 2, CollectionTrips: 1, CollectionSettings: 1}, result.Sections)

	doc, err := env.docs.Get(context.Background(), CollectionUsers, "u1")
	require.NoError(t, err)
	assert.Equal(t, "ana@school.edu", doc.Data["email"])
	assert.NotContains(t, doc.Data, "nickname", "restore overwrites")
	assert.NotContains(t, doc.Data, "id")
	assert.Equal(t, time.Date(2024, 1, 10, 8, 0, 0, 0, time.UTC), doc.Data["createdAt"])

	settings, err := env.docs.Get(context.Background(), CollectionSettings, SettingsDocumentID)
	require.NoError(t, err)
	assert.Equal(t, true, settings.Data["maintenanceMode"])

	assert.Zero(t, env.docs.Count("media"))
}

func TestRestore_EntityWithoutIDGetsOne(t *testing.T) {
	env := newTestEnv(t)
	payload := NewPayload(testMetadata())
	payload.SetSection(CollectionMessages, []Entity{{"text": "hello"}})

	_, err := env.manager.Restore(context.Background(), payload)
	require.NoError(t, err)
	assert.Equal(t, 1, env.docs.Count(CollectionMessages))
}

func TestRestore_IsAtomic(t *testing.T) {
	tests := []struct {
		name     string
		opts     []docstore.MemoryOption
		sections map[string][]Entity
		wantType BackupErrorType
	}{
		{
			name: "malformed entity",
			sections: map[string][]Entity{
				CollectionUsers:    {{"id": "u1"}, {"id": "u2"}},
				CollectionMessages: {{"id": 42, "text": "bad id"}},
			},
			wantType: ErrorTypeInvalidFormat,
		},
		{
			name: "commit rejected",
			opts: []docstore.MemoryOption{docstore.WithBatchLimit(2)},
			sections: map[string][]Entity{
				CollectionUsers: {{"id": "u1"}, {"id": "u2"}, {"id": "u3"}},
			},
			wantType: ErrorTypeBackendUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, tt.opts...)
			payload := NewPayload(testMetadata())
			for name, entities := range tt.sections {
				payload.SetSection(name, entities)
			}

			_, err := env.manager.Restore(context.Background(), payload)
			require.Error(t, err)
			assert.True(t, IsErrorType(err, tt.wantType), err.Error())

			assert.Zero(t, env.docs.Count(CollectionUsers))
			assert.Zero(t, env.docs.Count(CollectionMessages))
			assert.False(t, env.coordinator.State().InFlight)
		})
	}
}

func TestRestore_SkippedWhileBackupRuns(t *testing.T) {
	env := newTestEnv(t)
	token, ok := env.coordinator.TryAcquire()
	require.True(t, ok)

	result, err := env.manager.Restore(context.Background(), NewPayload(testMetadata()))
	require.NoError(t, err)
	assert.True(t, result.Skipped)
	assert.True(t, IsErrorType(result.Reason, ErrorTypeDuplicateOperation))

	env.coordinator.Release(token, nil)
}

func TestBackupThenRestore(t *testing.T) {
	env := newTestEnv(t)
	seedSchool(t, env)
	ctx := context.Background()

	result, err := env.manager.CreateBackup(ctx, Options{BackupType: TypeFull})
	require.NoError(t, err)

	before, err := env.docs.Get(ctx, CollectionUsers, "u1")
	require.NoError(t, err)

	require.NoError(t, env.docs.Delete(ctx, CollectionUsers, "u1"))
	require.NoError(t, env.docs.Set(ctx, CollectionMessages, "m1", map[string]interface{}{"text": "edited"}, false))

	restored, err := env.manager.RestoreFromRecord(ctx, result.Record.ID)
	require.NoError(t, err)
	assert.Equal(t, 3+2+1, restored.Written)

	after, err := env.docs.Get(ctx, CollectionUsers, "u1")
	require.NoError(t, err)
	assert.Equal(t, before.Data, after.Data)

	msg, err := env.docs.Get(ctx, CollectionMessages, "m1")
	require.NoError(t, err)
	assert.Equal(t, "Bus leaves at 7", msg.Data["text"])
}

func TestRestoreFromRecord_Rejects(t *testing.T) {
	env := newTestEnv(t)
	seedSchool(t, env)
	ctx := context.Background()

	csv, err := env.manager.CreateBackup(ctx, Options{BackupType: TypeUsers, Format: FormatCSV})
	require.NoError(t, err)

	_, err = env.manager.RestoreFromRecord(ctx, csv.Record.ID)
	assert.True(t, IsErrorType(err, ErrorTypeInvalidFormat))

	pending := env.addRecord(t, 0, StatusPending)
	_, err = env.manager.RestoreFromRecord(ctx, pending)
	assert.True(t, IsErrorType(err, ErrorTypeValidation))

	_, err = env.manager.RestoreFromRecord(ctx, "missing")
	assert.True(t, IsErrorType(err, ErrorTypeNotFound))
}

func TestRestoreFromReader_Compressed(t *testing.T) {
	env := newTestEnv(t)

	payload := NewPayload(testMetadata())
	payload.SetSection(CollectionLocation, []Entity{{"id": "l1", "lat": 14.5995, "lng": 120.9842}})
	data, err := EncodePayload(payload, FormatJSON)
	require.NoError(t, err)

	compressed, _, err := NewCompressionManager().Compress(data, CompressionTypeGzip, 0)
	require.NoError(t, err)

	result, err := env.manager.RestoreFromReader(context.Background(), bytes.NewReader(compressed))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Written)

	doc, err := env.docs.Get(context.Background(), CollectionLocation, "l1")
	require.NoError(t, err)
	assert.Equal(t, 14.5995, doc.Data["lat"])

	_, err = env.manager.RestoreFromReader(context.Background(), bytes.NewReader([]byte("ID,Email\n")))
	assert.True(t, IsErrorType(err, ErrorTypeInvalidFormat))
}

func TestLoadPayload_PreviewsWithoutWriting(t *testing.T) {
	env := newTestEnv(t)
	seedSchool(t, env)
	ctx := context.Background()

	result, err := env.manager.CreateBackup(ctx, Options{BackupType: TypeFull, IncludeMedia: true})
	require.NoError(t, err)
	require.NoError(t, env.docs.Delete(ctx, CollectionUsers, "u1"))

	payload, err := env.manager.LoadPayload(ctx, result.Record.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{
		CollectionUsers:    3,
		CollectionMessages: 2,
		CollectionLocation: 0,
		CollectionSettings: 1,
	}, payload.RestorableCounts())
	assert.Equal(t, 2, env.docs.Count(CollectionUsers))
}

func TestBackupRecord_PlainFilename(t *testing.T) {
	tests := []struct {
		filename string
		format   Format
		want     string
	}{
		{"backup_full_2024-03-15_abc.json", FormatJSON, "backup_full_2024-03-15_abc.json"},
		{"backup_full_2024-03-15_abc.json.gz.enc", FormatJSON, "backup_full_2024-03-15_abc.json"},
		{"backup_users_2024-03-15_abc.csv.zst", FormatCSV, "backup_users_2024-03-15_abc.csv"},
		{"legacy", FormatJSON, "legacy"},
	}
	for _, tt := range tests {
		r := &BackupRecord{Filename: tt.filename, Format: tt.format}
		assert.Equal(t, tt.want, r.PlainFilename())
	}
}
