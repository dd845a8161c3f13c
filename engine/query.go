package engine

import "fmt"

// Op is a native query operator. The set is deliberately small: anything the
// engine cannot express is evaluated in-process by the layers above.
type Op string

const (
	OpEq            Op = "=="
	OpLt            Op = "<"
	OpLte           Op = "<="
	OpGt            Op = ">"
	OpGte           Op = ">="
	OpIn            Op = "in"
	OpArrayContains Op = "array-contains"
)

// Filter is one native filter clause.
type Filter struct {
	Field string
	Op    Op
	Value interface{}
}

// Order is one native sort clause.
type Order struct {
	Field      string
	Descending bool
}

// Query describes a native query over one collection.
type Query struct {
	Collection string
	Filters    []Filter
	Orders     []Order
	// StartAfter resumes the query after the given document, in the order
	// defined by Orders (plus the implicit path tiebreak).
	StartAfter *Snapshot
	Offset     int
	// Limit caps the result count; zero means unlimited.
	Limit int
}

// Validate rejects queries the engine contract cannot express.
func (q Query) Validate() error {
	if q.Collection == "" {
		return fmt.Errorf("query has no collection")
	}
	for _, f := range q.Filters {
		if f.Op == OpIn {
			vs, ok := f.Value.([]interface{})
			if !ok {
				return fmt.Errorf("in filter on %q requires a value list", f.Field)
			}
			if len(vs) > InLimit {
				return fmt.Errorf("in filter on %q exceeds the %d-argument ceiling", f.Field, InLimit)
			}
		}
	}
	return nil
}

// MatchesFilter evaluates one native filter against a snapshot. Engine
// implementations without index support use it directly.
func MatchesFilter(s Snapshot, f Filter) bool {
	val, _ := s.Field(f.Field)
	switch f.Op {
	case OpEq:
		return ValuesEqual(val, f.Value)
	case OpIn:
		vs, _ := f.Value.([]interface{})
		for _, v := range vs {
			if ValuesEqual(val, v) {
				return true
			}
		}
		return false
	case OpArrayContains:
		arr, _ := val.([]interface{})
		for _, v := range arr {
			if ValuesEqual(v, f.Value) {
				return true
			}
		}
		return false
	case OpLt, OpLte, OpGt, OpGte:
		cmp, ok := CompareValues(val, f.Value)
		if !ok {
			return false
		}
		switch f.Op {
		case OpLt:
			return cmp < 0
		case OpLte:
			return cmp <= 0
		case OpGt:
			return cmp > 0
		default:
			return cmp >= 0
		}
	}
	return false
}
