// Package collection provides the queryable-collection abstraction: a
// fluent, immutable query surface with three interchangeable backends (a
// plain engine collection, a logical collection flattened into one physical
// document, and an embedded-component pseudo-collection) plus the manual
// predicate executor for filters the engine cannot express natively.
package collection

import (
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/halcyondb/halcyon/engine"
	"github.com/halcyondb/halcyon/errs"
	"github.com/halcyondb/halcyon/refs"
	"github.com/halcyondb/halcyon/types"
)

// Reader is the read surface queries execute against. *txn.Transaction
// satisfies it; the engine root can be adapted for transaction-free reads.
type Reader interface {
	Get(path string) (engine.Snapshot, error)
	GetAll(paths []string) ([]engine.Snapshot, error)
	RunQuery(q engine.Query) ([]engine.Snapshot, error)
}

// Writer is the buffered write surface backends target. Writes are deferred
// and coalesced by the transaction wrapper.
type Writer interface {
	AddWrite(fn func(engine.Txn) error)
	MergeKeyed(key string, patch map[string]interface{}, flush func(engine.Txn, map[string]interface{}) error)
}

// Doc is one logical document produced by a query or lookup.
type Doc struct {
	Ref    refs.Reference
	Exists bool
	Data   map[string]interface{}
}

// Result is a query result set.
type Result struct {
	Docs []Doc
}

// Empty reports whether the result holds no documents.
func (r *Result) Empty() bool { return len(r.Docs) == 0 }

// Predicate is a manual filter evaluated in-process against a logical
// document's data.
type Predicate func(data map[string]interface{}) bool

// Queryable is the common contract of all collection backends. Mutator
// methods return new values and never modify their receiver.
type Queryable interface {
	Model() *types.Model

	Where(field string, op types.Operator, value interface{}) (Queryable, error)
	// WhereAny adds a logical OR group of manual predicates. Requires
	// non-native queries to be enabled on the model.
	WhereAny(preds []Predicate) (Queryable, error)
	OrderBy(field string, descending bool) Queryable
	Limit(n int) Queryable
	Offset(n int) Queryable

	Get(r Reader) (*Result, error)

	// Doc builds the reference identifying id in this collection.
	Doc(id string) refs.Reference
	// AutoID generates a fresh document id.
	AutoID() string
}

// FieldValue walks a dot-path into a data map.
func FieldValue(data map[string]interface{}, path string) (interface{}, bool) {
	var cur interface{} = data
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

// ManualPredicate builds the in-process evaluator for one filter clause.
// Only operators outside the engine's native set (or whole clauses forced
// manual, like flattened-collection filters) come through here.
func ManualPredicate(field string, op types.Operator, value interface{}) (Predicate, error) {
	switch op {
	case types.OpEq:
		return func(data map[string]interface{}) bool {
			v, _ := FieldValue(data, field)
			return engine.ValuesEqual(v, value)
		}, nil
	case types.OpNe:
		return func(data map[string]interface{}) bool {
			v, _ := FieldValue(data, field)
			return !engine.ValuesEqual(v, value)
		}, nil
	case types.OpIn, types.OpNin:
		items, ok := value.([]interface{})
		if !ok {
			return nil, errs.BadRequest("operator %q requires a value list, got %T", op, value)
		}
		member := func(data map[string]interface{}) bool {
			v, _ := FieldValue(data, field)
			for _, item := range items {
				if engine.ValuesEqual(v, item) {
					return true
				}
			}
			return false
		}
		if op == types.OpIn {
			return member, nil
		}
		return func(data map[string]interface{}) bool { return !member(data) }, nil
	case types.OpLt, types.OpLte, types.OpGt, types.OpGte:
		return func(data map[string]interface{}) bool {
			v, _ := FieldValue(data, field)
			cmp, ok := engine.CompareValues(v, value)
			if !ok {
				return false
			}
			switch op {
			case types.OpLt:
				return cmp < 0
			case types.OpLte:
				return cmp <= 0
			case types.OpGt:
				return cmp > 0
			default:
				return cmp >= 0
			}
		}, nil
	case types.OpContains, types.OpNContains, types.OpContainsS:
		contains := containsPredicate(field, value, op != types.OpContainsS)
		if op == types.OpNContains {
			return func(data map[string]interface{}) bool { return !contains(data) }, nil
		}
		return contains, nil
	case types.OpNull:
		wantNull, _ := value.(bool)
		return func(data map[string]interface{}) bool {
			v, _ := FieldValue(data, field)
			if wantNull {
				return v == nil
			}
			return v != nil
		}, nil
	}
	return nil, errs.Unsupported("operator %q has no manual evaluator", op)
}

// containsPredicate matches substring for strings and membership for
// arrays. Case folding applies to the substring form only.
func containsPredicate(field string, value interface{}, foldCase bool) Predicate {
	return func(data map[string]interface{}) bool {
		v, _ := FieldValue(data, field)
		switch actual := v.(type) {
		case string:
			needle, ok := value.(string)
			if !ok {
				return false
			}
			if foldCase {
				return strings.Contains(strings.ToLower(actual), strings.ToLower(needle))
			}
			return strings.Contains(actual, needle)
		case []interface{}:
			for _, item := range actual {
				if engine.ValuesEqual(item, value) {
					return true
				}
			}
		}
		return false
	}
}

// clampLimit enforces the model's hard size cap. A missing limit is capped
// silently at debug level; an explicit limit above the cap is clamped with
// a warning.
func clampLimit(m *types.Model, requested int, log *logrus.Logger) int {
	cap := m.Options.MaxQuerySize
	if cap <= 0 {
		if requested < 0 {
			return 0
		}
		return requested
	}
	if requested <= 0 {
		log.WithFields(logrus.Fields{"model": m.Name, "cap": cap}).
			Debug("capping unbounded query")
		return cap
	}
	if requested > cap {
		log.WithFields(logrus.Fields{"model": m.Name, "cap": cap, "requested": requested}).
			Warn("clamping query limit to the model's maximum query size")
		return cap
	}
	return requested
}
