package engine

import (
	"sort"
	"strings"
	"time"
)

// Timestamp is the engine's native point-in-time value.
type Timestamp struct {
	T time.Time
}

// Time returns the calendar value of the timestamp.
func (ts Timestamp) Time() time.Time { return ts.T }

// NewTimestamp wraps t as an engine timestamp.
func NewTimestamp(t time.Time) Timestamp { return Timestamp{T: t.UTC()} }

// DocPointer is a stored reference to another document's physical path.
type DocPointer string

// Path returns the physical path the pointer targets.
func (p DocPointer) Path() string { return string(p) }

// Sentinel field values understood by Update and merge Set.

type deleteMarker struct{}

// Delete marks a field path for removal. Flattened collections use it as a
// tombstone in place of physical document deletion.
var Delete = deleteMarker{}

type serverTimestamp struct{}

// ServerTimestamp resolves to the engine's commit time on write.
var ServerTimestamp = serverTimestamp{}

// ArrayUnion appends values to an array field, deduplicating by value
// equality.
type ArrayUnion struct {
	Values []interface{}
}

// ArrayRemove removes all occurrences of the given values from an array
// field, matching by value equality.
type ArrayRemove struct {
	Values []interface{}
}

// Snapshot is the result of reading one document: its path, whether it
// exists, and a lazily copied data accessor.
type Snapshot struct {
	path   string
	exists bool
	data   map[string]interface{}
}

// NewSnapshot builds a snapshot; a nil data map marks a missing document.
func NewSnapshot(path string, data map[string]interface{}) Snapshot {
	return Snapshot{path: path, exists: data != nil, data: data}
}

// Path returns the document's physical path.
func (s Snapshot) Path() string { return s.path }

// ID returns the final path segment.
func (s Snapshot) ID() string {
	if i := strings.LastIndexByte(s.path, '/'); i >= 0 {
		return s.path[i+1:]
	}
	return s.path
}

// Exists reports whether the document was present at read time.
func (s Snapshot) Exists() bool { return s.exists }

// Data returns the document's fields, nil for a missing document. The map is
// shared; callers must not mutate it.
func (s Snapshot) Data() map[string]interface{} { return s.data }

// Field walks a dot-path into the document data. The second return is false
// when any segment is missing or not a map.
func (s Snapshot) Field(path string) (interface{}, bool) {
	var cur interface{} = s.data
	for _, seg := range strings.Split(path, ".") {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// ValuesEqual reports engine-value equality: numbers compare across int64
// and float64, timestamps by instant, pointers by path, maps and arrays
// element-wise.
func ValuesEqual(a, b interface{}) bool {
	cmp, ok := CompareValues(a, b)
	if ok {
		return cmp == 0
	}
	switch av := a.(type) {
	case []interface{}:
		bv, ok := b.([]interface{})
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !ValuesEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	case map[string]interface{}:
		bv, ok := b.(map[string]interface{})
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			ov, ok := bv[k]
			if !ok || !ValuesEqual(v, ov) {
				return false
			}
		}
		return true
	}
	return false
}

// CompareValues orders two engine values. The second return is false when
// the values are not mutually orderable (mixed kinds, maps, arrays).
func CompareValues(a, b interface{}) (int, bool) {
	if a == nil || b == nil {
		if a == nil && b == nil {
			return 0, true
		}
		// nil sorts before everything, matching the engine's index order.
		if a == nil {
			return -1, true
		}
		return 1, true
	}
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			switch {
			case af < bf:
				return -1, true
			case af > bf:
				return 1, true
			}
			return 0, true
		}
		return 0, false
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(av, bv), true
	case bool:
		bv, ok := b.(bool)
		if !ok {
			return 0, false
		}
		switch {
		case av == bv:
			return 0, true
		case !av:
			return -1, true
		}
		return 1, true
	case Timestamp:
		bv, ok := b.(Timestamp)
		if !ok {
			return 0, false
		}
		switch {
		case av.T.Before(bv.T):
			return -1, true
		case av.T.After(bv.T):
			return 1, true
		}
		return 0, true
	case DocPointer:
		bv, ok := b.(DocPointer)
		if !ok {
			return 0, false
		}
		return strings.Compare(string(av), string(bv)), true
	}
	return 0, false
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// SortSnapshots orders snapshots by the given clauses, falling back to path
// order so results are deterministic.
func SortSnapshots(snaps []Snapshot, orders []Order) {
	sort.SliceStable(snaps, func(i, j int) bool {
		for _, o := range orders {
			av, _ := snaps[i].Field(o.Field)
			bv, _ := snaps[j].Field(o.Field)
			cmp, ok := CompareValues(av, bv)
			if !ok || cmp == 0 {
				continue
			}
			if o.Descending {
				return cmp > 0
			}
			return cmp < 0
		}
		return snaps[i].path < snaps[j].path
	})
}
