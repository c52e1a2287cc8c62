package backup

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMetadata() *Metadata {
	return &Metadata{
		Timestamp:  "2024-03-15T09:30:00.123Z",
		BackupType: TypeFull,
		Version:    SchemaVersion,
		CreatedBy:  "admin@school.edu",
		AppVersion: DefaultAppVersion,
	}
}

func TestPayload_MarshalOrder(t *testing.T) {
	p := NewPayload(testMetadata())
	p.SetSection(CollectionSettings, []Entity{{"id": "system", "maintenanceMode": false}})
	p.SetSection(CollectionUsers, []Entity{{"id": "u1"}})
	p.SetSection(CollectionLocation, nil)

	data, err := EncodePayload(p, FormatJSON)
	require.NoError(t, err)

	text := string(data)
	metaAt := strings.Index(text, `"metadata"`)
	usersAt := strings.Index(text, `"users"`)
	locationsAt := strings.Index(text, `"locations"`)
	settingsAt := strings.Index(text, `"settings"`)

	assert.Equal(t, 4, strings.Count(text, "\n  \""), "four top-level keys")
	assert.True(t, metaAt < usersAt && usersAt < locationsAt && locationsAt < settingsAt, text)
	assert.Contains(t, text, `"locations": []`)
	assert.NotContains(t, text, `"messages"`)
}

func TestPayload_RoundTrip(t *testing.T) {
	p := NewPayload(testMetadata())
	p.SetSection(CollectionUsers, []Entity{
		{"id": "u1", "email": "ana@school.edu", "yearLevel": 11},
		{"id": "u2", "email": "ben@school.edu"},
	})
	p.SetSection(CollectionMessages, []Entity{})

	data, err := EncodePayload(p, FormatJSON)
	require.NoError(t, err)

	parsed, err := ParsePayload(data)
	require.NoError(t, err)

	assert.Equal(t, p.Metadata, parsed.Metadata)
	users, ok := parsed.Section(CollectionUsers)
	require.True(t, ok)
	require.Len(t, users, 2)
	assert.Equal(t, "ana@school.edu", users[0]["email"])
	assert.Equal(t, json.Number("11"), users[0]["yearLevel"])

	messages, ok := parsed.Section(CollectionMessages)
	assert.True(t, ok)
	assert.Empty(t, messages)

	_, ok = parsed.Section(CollectionTrips)
	assert.False(t, ok)
}

func TestParsePayload_LegacySettingsObject(t *testing.T) {
	parsed, err := ParsePayload([]byte(`{
		"metadata": {"timestamp": "2024-01-01T00:00:00.000Z", "backupType": "settings", "version": "1.0"},
		"settings": {"maintenanceMode": true, "backupSettings": {"retentionDays": 7}}
	}`))
	require.NoError(t, err)

	settings, ok := parsed.Section(CollectionSettings)
	require.True(t, ok)
	require.Len(t, settings, 1)
	assert.Equal(t, SettingsDocumentID, settings[0]["id"])
	assert.Equal(t, true, settings[0]["maintenanceMode"])
}

func TestParsePayload_IgnoresUnknownSections(t *testing.T) {
	parsed, err := ParsePayload([]byte(`{"metadata": {}, "analytics": [{"id": "a"}], "users": null}`))
	require.NoError(t, err)

	assert.NotNil(t, parsed.Metadata)
	assert.Empty(t, parsed.Sections)
}

func TestParsePayload_MissingMetadata(t *testing.T) {
	parsed, err := ParsePayload([]byte(`{"users": []}`))
	require.NoError(t, err)
	assert.Nil(t, parsed.Metadata)
}

func TestParsePayload_Rejects(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"csv export", "ID,Email\nu1,ana@school.edu\n"},
		{"empty", ""},
		{"truncated json", `{"metadata": {`},
		{"section not a list", `{"metadata": {}, "users": "ana"}`},
		{"entity not an object", `{"metadata": {}, "users": [1, 2]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePayload([]byte(tt.data))
			require.Error(t, err)
			assert.True(t, IsErrorType(err, ErrorTypeInvalidFormat), err.Error())
		})
	}
}

func TestParsePayload_StripsBOM(t *testing.T) {
	_, err := ParsePayload(append([]byte("\xef\xbb\xbf"), `{"metadata": {}}`...))
	assert.NoError(t, err)
}

func TestEncodePayload_CSV(t *testing.T) {
	p := NewPayload(testMetadata())
	p.SetSection(CollectionUsers, []Entity{
		{
			"id":        "u1",
			"email":     "ana@school.edu",
			"firstName": "Ana",
			"lastName":  "Cruz, Jr.",
			"role":      "student",
			"yearLevel": json.Number("11"),
			"createdAt": "2024-03-15T09:30:00.123Z",
		},
	})

	data, err := EncodePayload(p, FormatCSV)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "ID,Email,First Name,Last Name,Role,Phone,Student ID,Course,Section,Year Level,Department,Specialization,Created At,Last Login", lines[0])
	assert.Equal(t, `u1,ana@school.edu,Ana,"Cruz, Jr.",student,,,,,11,,,2024-03-15T09:30:00.123Z,`, lines[1])
}

func TestEncodePayload_CSVRequiresUsers(t *testing.T) {
	p := NewPayload(testMetadata())
	p.SetSection(CollectionMessages, []Entity{})

	_, err := EncodePayload(p, FormatCSV)
	assert.True(t, IsErrorType(err, ErrorTypeValidation))

	_, err = EncodePayload(p, "xml")
	assert.True(t, IsErrorType(err, ErrorTypeValidation))
}

func TestPayload_CSVIsNotParseable(t *testing.T) {
	p := NewPayload(testMetadata())
	p.SetSection(CollectionUsers, []Entity{{"id": "u1"}})

	data, err := EncodePayload(p, FormatCSV)
	require.NoError(t, err)
	assert.False(t, bytes.HasPrefix(data, []byte("{")))

	_, err = ParsePayload(data)
	assert.True(t, IsErrorType(err, ErrorTypeInvalidFormat))
}
