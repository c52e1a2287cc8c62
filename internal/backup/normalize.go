package backup

import (
	"encoding/json"
	"regexp"
	"strings"
	"time"
)

// TimestampLayout is the ISO-8601 form every payload timestamp is written in
const TimestampLayout = "2006-01-02T15:04:05.000Z"

var isoTimestamp = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(\.\d{3})?Z?$`)

// FormatTimestamp renders t in UTC with millisecond precision
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// IsTimestampString reports whether s looks like a normalized timestamp
func IsTimestampString(s string) bool {
	return isoTimestamp.MatchString(s)
}

// ParseTimestamp parses the forms accepted by IsTimestampString. A missing
// zone designator is read as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSuffix(s, "Z")
	layout := "2006-01-02T15:04:05"
	if strings.Contains(s, ".") {
		layout += ".000"
	}
	return time.ParseInLocation(layout, s, time.UTC)
}

// NormalizeEntity returns a copy of data with every timestamp, at any depth,
// replaced by its ISO string
func NormalizeEntity(data map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(data))
	for k, v := range data {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v interface{}) interface{} {
	switch val := v.(type) {
	case time.Time:
		return FormatTimestamp(val)
	case *time.Time:
		if val == nil {
			return nil
		}
		return FormatTimestamp(*val)
	case map[string]interface{}:
		return NormalizeEntity(val)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = normalizeValue(item)
		}
		return out
	case []map[string]interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = NormalizeEntity(item)
		}
		return out
	default:
		return v
	}
}

// RestoreEntity reverses NormalizeEntity: ISO strings become time.Time and
// JSON numbers become int64 or float64. The top-level id is dropped since it
// is the document key, not a field.
func RestoreEntity(data map[string]interface{}) map[string]interface{} {
	out := restoreMap(data)
	delete(out, "id")
	return out
}

func restoreMap(data map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(data))
	for k, v := range data {
		out[k] = restoreValue(v)
	}
	return out
}

func restoreValue(v interface{}) interface{} {
	switch val := v.(type) {
	case string:
		if IsTimestampString(val) {
			if t, err := ParseTimestamp(val); err == nil {
				return t
			}
		}
		return val
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i
		}
		if f, err := val.Float64(); err == nil {
			return f
		}
		return val.String()
	case map[string]interface{}:
		return restoreMap(val)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = restoreValue(item)
		}
		return out
	default:
		return v
	}
}
