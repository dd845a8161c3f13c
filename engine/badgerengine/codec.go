package badgerengine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/halcyondb/halcyon/engine"
)

// Stored documents are JSON objects. Engine values without a JSON kind are
// tagged single-key objects: timestamps as {"$ts": <RFC3339Nano>} and
// document pointers as {"$ref": <path>}. Numbers decode through
// json.Number so integral values survive as int64.

const (
	tagTimestamp = "$ts"
	tagPointer   = "$ref"
)

func encodeDoc(data map[string]interface{}) ([]byte, error) {
	return json.Marshal(encodeValue(data))
}

func encodeValue(val interface{}) interface{} {
	switch v := val.(type) {
	case engine.Timestamp:
		return map[string]interface{}{tagTimestamp: v.Time().Format(time.RFC3339Nano)}
	case time.Time:
		return map[string]interface{}{tagTimestamp: v.UTC().Format(time.RFC3339Nano)}
	case engine.DocPointer:
		return map[string]interface{}{tagPointer: string(v)}
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, item := range v {
			out[k] = encodeValue(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = encodeValue(item)
		}
		return out
	}
	return val
}

func decodeDoc(raw []byte) (map[string]interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var data map[string]interface{}
	if err := dec.Decode(&data); err != nil {
		return nil, fmt.Errorf("failed to decode stored document: %w", err)
	}
	out, err := decodeValue(data)
	if err != nil {
		return nil, err
	}
	return out.(map[string]interface{}), nil
}

func decodeValue(val interface{}) (interface{}, error) {
	switch v := val.(type) {
	case json.Number:
		s := v.String()
		if !strings.ContainsAny(s, ".eE") {
			n, err := v.Int64()
			if err == nil {
				return n, nil
			}
		}
		f, err := v.Float64()
		if err != nil {
			return nil, fmt.Errorf("stored number %q does not parse: %w", s, err)
		}
		return f, nil
	case map[string]interface{}:
		if len(v) == 1 {
			if ts, ok := v[tagTimestamp].(string); ok {
				t, err := time.Parse(time.RFC3339Nano, ts)
				if err != nil {
					return nil, fmt.Errorf("stored timestamp %q does not parse: %w", ts, err)
				}
				return engine.NewTimestamp(t), nil
			}
			if path, ok := v[tagPointer].(string); ok {
				return engine.DocPointer(path), nil
			}
		}
		out := make(map[string]interface{}, len(v))
		for k, item := range v {
			conv, err := decodeValue(item)
			if err != nil {
				return nil, err
			}
			out[k] = conv
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			conv, err := decodeValue(item)
			if err != nil {
				return nil, err
			}
			out[i] = conv
		}
		return out, nil
	}
	return val, nil
}
