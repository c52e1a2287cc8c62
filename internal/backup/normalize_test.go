package backup

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsTimestampString(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"2024-03-15T09:30:00.123Z", true},
		{"2024-03-15T09:30:00Z", true},
		{"2024-03-15T09:30:00", true},
		{"2024-03-15T09:30:00.123", true},
		{"2024-03-15", false},
		{"2024-03-15T09:30:00.123456Z", false},
		{"2024-03-15T09:30:00+08:00", false},
		{"grade 2024-03-15T09:30:00Z", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTimestampString(tt.in))
		})
	}
}

func TestNormalizeEntity(t *testing.T) {
	at := time.Date(2024, 3, 15, 17, 30, 0, 123456789, time.FixedZone("PHT", 8*3600))

	out := NormalizeEntity(map[string]interface{}{
		"createdAt": at,
		"profile": map[string]interface{}{
			"lastLogin": &at,
		},
		"checkpoints": []interface{}{
			map[string]interface{}{"reachedAt": at},
			at,
			"plain",
		},
		"count": 3,
	})

	assert.Equal(t, "2024-03-15T09:30:00.123Z", out["createdAt"])
	assert.Equal(t, "2024-03-15T09:30:00.123Z", out["profile"].(map[string]interface{})["lastLogin"])
	checkpoints := out["checkpoints"].([]interface{})
	assert.Equal(t, "2024-03-15T09:30:00.123Z", checkpoints[0].(map[string]interface{})["reachedAt"])
	assert.Equal(t, "2024-03-15T09:30:00.123Z", checkpoints[1])
	assert.Equal(t, "plain", checkpoints[2])
	assert.Equal(t, 3, out["count"])
}

func TestTimestampRoundTrip(t *testing.T) {
	at := time.Date(2024, 3, 15, 9, 30, 0, 123000000, time.UTC)
	later := at.Add(36 * time.Hour)

	original := map[string]interface{}{
		"email":     "ana@school.edu",
		"createdAt": at,
		"active":    true,
		"trip": map[string]interface{}{
			"departure": later,
			"stops": []interface{}{
				map[string]interface{}{"arrivedAt": at, "name": "Museum"},
			},
		},
		"tags": []interface{}{"grade-10", later},
	}

	restored := RestoreEntity(NormalizeEntity(original))
	assert.Equal(t, original, restored)
}

func TestTimestampRoundTripThroughJSON(t *testing.T) {
	at := time.Date(2024, 3, 15, 9, 30, 0, 123000000, time.UTC)
	original := map[string]interface{}{
		"createdAt": at,
		"yearLevel": int64(11),
		"latitude":  10.7202,
	}

	raw, err := json.Marshal(NormalizeEntity(original))
	require.NoError(t, err)

	entity, err := decodeEntity(raw)
	require.NoError(t, err)

	assert.Equal(t, original, RestoreEntity(entity))
}

func TestRestoreEntity_DropsOnlyTopLevelID(t *testing.T) {
	restored := RestoreEntity(map[string]interface{}{
		"id":   "user-1",
		"name": "Ana",
		"guardian": map[string]interface{}{
			"id": "guardian-7",
		},
	})

	_, hasID := restored["id"]
	assert.False(t, hasID)
	assert.Equal(t, "guardian-7", restored["guardian"].(map[string]interface{})["id"])
}

func TestParseTimestamp_NoZoneIsUTC(t *testing.T) {
	parsed, err := ParseTimestamp("2024-03-15T09:30:00")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC), parsed)
}
