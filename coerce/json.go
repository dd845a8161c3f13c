package coerce

import (
	"math/big"
	"time"

	"github.com/halcyondb/halcyon/engine"
	"github.com/halcyondb/halcyon/refs"
)

// ToJSON converts a coerced value tree into plain JSON-marshalable values:
// big integers become decimal strings, timestamps ISO-8601 strings, and
// references their structured wire shape. This is the explicit boundary
// codec; the engine's value types are never patched for serialization.
func ToJSON(val interface{}) interface{} {
	switch v := val.(type) {
	case nil:
		return nil
	case *big.Int:
		return v.String()
	case time.Time:
		return v.UTC().Format(time.RFC3339Nano)
	case engine.Timestamp:
		return v.Time().UTC().Format(time.RFC3339Nano)
	case engine.DocPointer:
		return v.Path()
	case refs.Reference:
		return ToJSON(v.WireValue())
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, item := range v {
			out[k] = ToJSON(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = ToJSON(item)
		}
		return out
	}
	return val
}
