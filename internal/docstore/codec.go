package docstore

import (
	"bytes"
	"encoding/json"
	"time"
)

// timeKey tags an encoded timestamp so JSON columns round-trip time.Time
const timeKey = "$ts"

func encodeData(data map[string]interface{}) ([]byte, error) {
	if data == nil {
		data = map[string]interface{}{}
	}
	return json.Marshal(encodeValue(data))
}

func encodeValue(v interface{}) interface{} {
	switch val := v.(type) {
	case time.Time:
		return map[string]interface{}{timeKey: val.UTC().Format(time.RFC3339Nano)}
	case *time.Time:
		if val == nil {
			return nil
		}
		return encodeValue(*val)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = encodeValue(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = encodeValue(item)
		}
		return out
	default:
		return v
	}
}

func decodeData(raw []byte) (map[string]interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var data map[string]interface{}
	if err := dec.Decode(&data); err != nil {
		return nil, err
	}
	decoded, _ := decodeValue(data).(map[string]interface{})
	return decoded, nil
}

func decodeValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		if len(val) == 1 {
			if s, ok := val[timeKey].(string); ok {
				if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
					return t
				}
			}
		}
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = decodeValue(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = decodeValue(item)
		}
		return out
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i
		}
		f, _ := val.Float64()
		return f
	default:
		return v
	}
}

// MarshalData encodes a document body as JSON, tagging timestamps so that
// UnmarshalData restores them as time.Time
func MarshalData(data map[string]interface{}) ([]byte, error) {
	return encodeData(data)
}

// UnmarshalData is the inverse of MarshalData
func UnmarshalData(raw []byte) (map[string]interface{}, error) {
	return decodeData(raw)
}
