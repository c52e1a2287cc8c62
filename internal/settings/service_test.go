package settings

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tourapp-admin/internal/backup"
	"tourapp-admin/internal/docstore"
)

func newTestService(t *testing.T) (*Service, *docstore.MemoryStore) {
	t.Helper()
	docs := docstore.NewMemoryStore()
	s := NewService(docs, nil)
	s.now = func() time.Time { return time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC) }
	return s, docs
}

func TestDefaults(t *testing.T) {
	doc := Defaults()

	assert.Equal(t, "Colegio de San Agustin", doc["schoolName"])
	assert.Equal(t, int64(30), doc["autoLogoutTimer"])
	assert.Equal(t, DocumentVersion, doc["version"])

	password := doc["passwordRequirements"].(map[string]interface{})
	assert.Equal(t, int64(8), password["minLength"])
	assert.Equal(t, false, password["requireSpecialChars"])

	backupSettings := doc["backupSettings"].(map[string]interface{})
	assert.Equal(t, "weekly", backupSettings["backupFrequency"])
	assert.Equal(t, int64(50), backupSettings["retentionLimit"])

	// every default must satisfy its own validator
	for _, f := range Schema {
		assert.NoError(t, f.Validate(f.Default), f.Key)
	}

	// fresh copy each call
	doc["schoolName"] = "changed"
	assert.Equal(t, "Colegio de San Agustin", Defaults()["schoolName"])
}

func TestField_Parse(t *testing.T) {
	tests := []struct {
		key     string
		raw     string
		want    interface{}
		wantErr string
	}{
		{key: "smsAlerts", raw: "false", want: false},
		{key: "smsAlerts", raw: "maybe", wantErr: "not a boolean"},
		{key: "autoLogoutTimer", raw: " 45 ", want: int64(45)},
		{key: "autoLogoutTimer", raw: "4", wantErr: "between 5 and 240"},
		{key: "autoLogoutTimer", raw: "4.5", wantErr: "not an integer"},
		{key: "passwordRequirements.expiryDays", raw: "0", want: int64(0)},
		{key: "schoolName", raw: "St. Paul", want: "St. Paul"},
		{key: "schoolName", raw: "  ", wantErr: "cannot be empty"},
		{key: "backupSettings.backupFrequency", raw: "monthly", want: "monthly"},
		{key: "backupSettings.backupFrequency", raw: "hourly", wantErr: "must be one of daily, weekly, monthly"},
		{key: "backupSettings.retentionDays", raw: "366", wantErr: "between 1 and 365"},
	}

	for _, tt := range tests {
		t.Run(tt.key+"="+tt.raw, func(t *testing.T) {
			field, ok := Lookup(tt.key)
			require.True(t, ok)

			got, err := field.Parse(tt.raw)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestToInt64(t *testing.T) {
	tests := []struct {
		in   interface{}
		want int64
		ok   bool
	}{
		{int(3), 3, true},
		{int64(7), 7, true},
		{float64(12), 12, true},
		{float64(1.5), 0, false},
		{json.Number("42"), 42, true},
		{"42", 0, false},
	}
	for _, tt := range tests {
		got, ok := toInt64(tt.in)
		assert.Equal(t, tt.ok, ok, "%v", tt.in)
		assert.Equal(t, tt.want, got, "%v", tt.in)
	}
}

func TestService_LoadMissingDocumentReturnsDefaults(t *testing.T) {
	s, _ := newTestService(t)

	doc, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Defaults(), doc)
}

func TestService_LoadMergesOverDefaults(t *testing.T) {
	s, docs := newTestService(t)
	ctx := context.Background()

	require.NoError(t, docs.Set(ctx, Collection, DocumentID, map[string]interface{}{
		"schoolName": "St. Paul",
		"backupSettings": map[string]interface{}{
			"retentionDays": int64(14),
		},
		"legacyFlag": true,
	}, false))

	doc, err := s.Load(ctx)
	require.NoError(t, err)

	assert.Equal(t, "St. Paul", doc["schoolName"])
	assert.Equal(t, "CCA", doc["schoolCode"])
	assert.Equal(t, true, doc["legacyFlag"])

	backupSettings := doc["backupSettings"].(map[string]interface{})
	assert.Equal(t, int64(14), backupSettings["retentionDays"])
	assert.Equal(t, "weekly", backupSettings["backupFrequency"])
}

func TestService_SetMergeWritesWithAuditFields(t *testing.T) {
	s, docs := newTestService(t)
	ctx := context.Background()

	require.NoError(t, docs.Set(ctx, Collection, DocumentID, map[string]interface{}{
		"schoolName": "St. Paul",
		"backupSettings": map[string]interface{}{
			"retentionLimit": int64(10),
		},
	}, false))

	require.NoError(t, s.Set(ctx, "backupSettings.retentionDays", "7", "ops@school.edu"))

	stored, err := docs.Get(ctx, Collection, DocumentID)
	require.NoError(t, err)

	assert.Equal(t, "St. Paul", stored.Data["schoolName"])
	assert.Equal(t, "ops@school.edu", stored.Data["updatedBy"])
	assert.Equal(t, time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC), stored.Data["lastUpdated"])

	backupSettings := stored.Data["backupSettings"].(map[string]interface{})
	assert.Equal(t, int64(7), backupSettings["retentionDays"])
	assert.Equal(t, int64(10), backupSettings["retentionLimit"])

	value, err := s.Get(ctx, "backupSettings.retentionDays")
	require.NoError(t, err)
	assert.Equal(t, int64(7), value)
}

func TestService_SetRejects(t *testing.T) {
	s, docs := newTestService(t)
	ctx := context.Background()

	assert.Error(t, s.Set(ctx, "backupSettings.unknown", "1", ""))
	assert.Error(t, s.Set(ctx, "securitySettings.maxLoginAttempts", "0", ""))
	assert.Equal(t, 0, docs.Count(Collection))

	_, err := s.Get(ctx, "nope")
	assert.Error(t, err)
}

func TestService_Reset(t *testing.T) {
	s, docs := newTestService(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "schoolName", "St. Paul", ""))
	require.NoError(t, docs.Set(ctx, Collection, DocumentID, map[string]interface{}{"stale": 1}, true))

	require.NoError(t, s.Reset(ctx, ""))

	stored, err := docs.Get(ctx, Collection, DocumentID)
	require.NoError(t, err)
	assert.Equal(t, "Colegio de San Agustin", stored.Data["schoolName"])
	assert.Equal(t, "admin", stored.Data["updatedBy"])
	assert.NotContains(t, stored.Data, "stale")
}

func TestService_RetentionPolicy(t *testing.T) {
	s, docs := newTestService(t)
	ctx := context.Background()

	policy, err := s.RetentionPolicy(ctx)
	require.NoError(t, err)
	assert.Equal(t, backup.DefaultRetentionPolicy().RetentionDays, policy.RetentionDays)
	assert.False(t, policy.AutoBackupEnabled)

	// values arriving as float64 from a JSON backed store
	require.NoError(t, docs.Set(ctx, Collection, DocumentID, map[string]interface{}{
		"backupSettings": map[string]interface{}{
			"autoBackup":        true,
			"backupFrequency":   "daily",
			"retentionDays":     float64(14),
			"retentionLimit":    json.Number("5"),
			"defaultBackupType": "users",
			"defaultFormat":     "csv",
		},
	}, false))

	policy, err = s.RetentionPolicy(ctx)
	require.NoError(t, err)
	assert.Equal(t, backup.RetentionPolicy{
		AutoBackupEnabled: true,
		Frequency:         "daily",
		RetentionDays:     14,
		RetentionCount:    5,
		DefaultBackupType: backup.TypeUsers,
		DefaultFormat:     backup.FormatCSV,
	}, policy)
}

func TestService_SetRetentionPolicy(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	policy := backup.DefaultRetentionPolicy()
	policy.AutoBackupEnabled = true
	policy.Frequency = backup.FrequencyMonthly
	policy.RetentionCount = 3
	require.NoError(t, s.SetRetentionPolicy(ctx, policy, "admin"))

	loaded, err := s.RetentionPolicy(ctx)
	require.NoError(t, err)
	assert.Equal(t, policy, loaded)

	policy.RetentionDays = 0
	assert.True(t, backup.IsErrorType(s.SetRetentionPolicy(ctx, policy, "admin"), backup.ErrorTypeValidation))
}

func TestFlatten(t *testing.T) {
	flat := Flatten(Defaults())
	assert.Len(t, flat, len(Schema))
	assert.Equal(t, "weekly", flat["backupSettings.backupFrequency"])
	assert.Equal(t, true, flat["notificationSettings.sosAlerts"])
}
