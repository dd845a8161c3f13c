// Package orm is the request-facing surface: it translates generic
// filter/sort/pagination requests into collection queries and orchestrates
// find/create/update/delete operations with relation population.
package orm

import (
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/halcyondb/halcyon/coerce"
	"github.com/halcyondb/halcyon/collection"
	"github.com/halcyondb/halcyon/engine"
	"github.com/halcyondb/halcyon/errs"
	"github.com/halcyondb/halcyon/refs"
	"github.com/halcyondb/halcyon/types"
)

// Plan is a resolved query: either a list of document ids to fetch
// directly, or a collection query to execute. Empty marks requests that
// provably match nothing, so callers skip the engine entirely.
type Plan struct {
	Model *types.Model

	// IDs is set for primary-key shortcut plans. The ids are already
	// sliced by the requested offset and limit.
	IDs []string

	Query collection.Queryable
	Empty bool
}

// Shortcut reports whether the plan resolves by direct lookup.
func (p *Plan) Shortcut() bool { return p.IDs != nil }

// Builder translates request parameters into plans.
type Builder struct {
	Reg *types.Registry
	Log *logrus.Logger

	refc *refs.Coercer
}

// NewBuilder builds a query builder over the registry.
func NewBuilder(reg *types.Registry, log *logrus.Logger) *Builder {
	if log == nil {
		log = reg.Log()
	}
	return &Builder{Reg: reg, Log: log, refc: &refs.Coercer{Reg: reg, Log: log}}
}

// Build resolves params against root's model. Special cases apply in
// priority order: a search term (when allowed), then the primary-key
// shortcut for a single equality or in filter on the primary key, then the
// general clause-by-clause translation.
func (b *Builder) Build(root collection.Queryable, params types.Params, allowSearch bool) (*Plan, error) {
	m := root.Model()

	if params.Search != "" && allowSearch {
		return b.buildSearch(root, params)
	}

	if ids, ok, err := b.pkShortcut(m, params); err != nil {
		return nil, err
	} else if ok {
		return &Plan{Model: m, IDs: slicePage(ids, params.Start, params.Limit)}, nil
	}

	q, err := b.applyWhere(root, params.Where)
	if err != nil {
		return nil, err
	}
	q, err = b.applySort(q, params)
	if err != nil {
		return nil, err
	}
	return &Plan{Model: m, Query: b.applyPage(q, params)}, nil
}

// pkShortcut recognizes a lone equality or in filter on the primary key.
// Only plainly addressable values (ids, paths, references) qualify;
// anything else falls through to the general path.
func (b *Builder) pkShortcut(m *types.Model, params types.Params) ([]string, bool, error) {
	if len(params.Where) != 1 {
		return nil, false, nil
	}
	w := params.Where[0]
	if w.Field != m.PrimaryKey && w.Field != "id" {
		return nil, false, nil
	}
	switch w.Operator {
	case types.OpEq:
		id, ok := b.valueID(m, w.Value)
		if !ok {
			return nil, false, nil
		}
		return []string{id}, true, nil
	case types.OpIn:
		items, ok := w.Value.([]interface{})
		if !ok {
			return nil, false, errs.BadRequest("operator %q on %s.%s requires a value list, got %T",
				w.Operator, m.Name, w.Field, w.Value)
		}
		ids := make([]string, 0, len(items))
		for _, item := range items {
			id, ok := b.valueID(m, item)
			if !ok {
				return nil, false, nil
			}
			ids = append(ids, id)
		}
		return ids, true, nil
	}
	return nil, false, nil
}

// valueID extracts a document id from a primary-key filter operand.
func (b *Builder) valueID(m *types.Model, val interface{}) (string, bool) {
	switch v := val.(type) {
	case string:
		if v == "" {
			return "", false
		}
		// Full paths are accepted as long as they land in this collection.
		if i := strings.LastIndexByte(v, '/'); i >= 0 {
			ref, err := refs.NewDirectRef(v)
			if err != nil || refs.ParentPath(ref) != m.Collection {
				return "", false
			}
			return ref.ID(), true
		}
		return v, true
	case refs.Reference:
		if refs.ParentPath(v) != refs.ParentPath(refs.ModelRef(m, v.ID())) {
			return "", false
		}
		return v.ID(), true
	}
	return "", false
}

// buildSearch expands a search term. A designated search attribute routes
// to a native equality or lexicographic prefix range; otherwise the term
// fans out as an OR group across all searchable scalar attributes.
func (b *Builder) buildSearch(root collection.Queryable, params types.Params) (*Plan, error) {
	m := root.Model()
	term := params.Search

	if name := m.Options.SearchAttribute; name != "" {
		attr, ok := m.Attribute(name)
		if !ok || attr.Scalar == nil {
			return nil, errs.Config("search attribute %q on %s is not a scalar attribute", name, m.Name)
		}
		st := attr.Scalar.Type
		if st == types.TypePassword {
			return nil, errs.Unsupported("cannot search the password attribute %s.%s", m.Name, name)
		}
		var q collection.Queryable = root
		var err error
		if st.StringLike() {
			// Case-sensitive prefix match over the engine's lexicographic
			// ordering: [term, successor(term)).
			q, err = q.Where(name, types.OpGte, term)
			if err != nil {
				return nil, err
			}
			if upper := prefixSuccessor(term); upper != "" {
				q, err = q.Where(name, types.OpLt, upper)
				if err != nil {
					return nil, err
				}
			}
		} else {
			typed, terr := coerce.ScalarToEngine(st, term)
			if terr != nil {
				// The term cannot exist under this attribute's type.
				b.Log.WithFields(logrus.Fields{"model": m.Name, "term": term}).
					Debug("search term does not parse as the search attribute's type")
				return &Plan{Model: m, Empty: true}, nil
			}
			q, err = q.Where(name, types.OpEq, typed)
			if err != nil {
				return nil, err
			}
		}
		q, err = b.applySort(q, params)
		if err != nil {
			return nil, err
		}
		return &Plan{Model: m, Query: b.applyPage(q, params)}, nil
	}

	preds := b.searchPredicates(m, term)
	if len(preds) == 0 {
		return &Plan{Model: m, Empty: true}, nil
	}
	q, err := root.WhereAny(preds)
	if err != nil {
		return nil, err
	}
	q, err = b.applySort(q, params)
	if err != nil {
		return nil, err
	}
	return &Plan{Model: m, Query: b.applyPage(q, params)}, nil
}

// searchPredicates builds the per-attribute evaluators of the cross-field
// search fan-out: substring match on string-like attributes, typed
// equality elsewhere. Attributes whose type excludes search are skipped.
func (b *Builder) searchPredicates(m *types.Model, term string) []collection.Predicate {
	var preds []collection.Predicate
	for name, attr := range m.Attributes {
		if attr.Scalar == nil || !attr.Scalar.Type.Searchable() {
			continue
		}
		if attr.Scalar.Type.StringLike() {
			p, err := collection.ManualPredicate(name, types.OpContains, term)
			if err == nil {
				preds = append(preds, p)
			}
			continue
		}
		typed, err := coerce.ScalarToEngine(attr.Scalar.Type, term)
		if err != nil {
			continue
		}
		field := name
		preds = append(preds, func(data map[string]interface{}) bool {
			v, _ := collection.FieldValue(data, field)
			return engine.ValuesEqual(v, typed)
		})
	}
	return preds
}

// applyWhere translates each filter clause onto the query.
func (b *Builder) applyWhere(q collection.Queryable, where []types.WhereClause) (collection.Queryable, error) {
	m := q.Model()
	for _, w := range where {
		if w.Operator == types.OpOr {
			groups, ok := w.Value.([][]types.WhereClause)
			if !ok {
				return nil, errs.BadRequest("or filter on %s requires nested clause groups, got %T", m.Name, w.Value)
			}
			preds, err := b.orPredicates(m, groups)
			if err != nil {
				return nil, err
			}
			q, err = q.WhereAny(preds)
			if err != nil {
				return nil, err
			}
			continue
		}

		val, err := b.typedValue(m, w.Field, w.Operator, w.Value)
		if err != nil {
			return nil, err
		}
		q, err = q.Where(w.Field, w.Operator, val)
		if err != nil {
			return nil, err
		}
	}
	return q, nil
}

// orPredicates compiles OR-of-ANDs clause groups into manual predicates.
func (b *Builder) orPredicates(m *types.Model, groups [][]types.WhereClause) ([]collection.Predicate, error) {
	preds := make([]collection.Predicate, 0, len(groups))
	for _, group := range groups {
		var ands []collection.Predicate
		for _, w := range group {
			val, err := b.typedValue(m, w.Field, w.Operator, w.Value)
			if err != nil {
				return nil, err
			}
			p, err := collection.ManualPredicate(w.Field, w.Operator, val)
			if err != nil {
				return nil, err
			}
			ands = append(ands, p)
		}
		group := ands
		preds = append(preds, func(data map[string]interface{}) bool {
			for _, p := range group {
				if !p(data) {
					return false
				}
			}
			return true
		})
	}
	return preds, nil
}

// typedValue coerces a filter operand the same way stored values were
// typed on write, so comparisons happen in the stored representation.
// Querying password attributes is rejected outright.
func (b *Builder) typedValue(m *types.Model, field string, op types.Operator, val interface{}) (interface{}, error) {
	attr := resolveAttribute(m, field)
	if attr == nil {
		return val, nil
	}
	switch {
	case attr.Scalar != nil:
		if attr.Scalar.Type == types.TypePassword {
			return nil, errs.Unsupported("cannot query the password attribute %s.%s", m.Name, field)
		}
		switch op {
		case types.OpIn, types.OpNin:
			items, ok := val.([]interface{})
			if !ok {
				return nil, errs.BadRequest("operator %q on %s.%s requires a value list, got %T", op, m.Name, field, val)
			}
			out := make([]interface{}, len(items))
			for i, item := range items {
				typed, err := coerce.ScalarToEngine(attr.Scalar.Type, item)
				if err != nil {
					return nil, errs.BadRequest("invalid %s filter value for %s.%s: %v", attr.Scalar.Type, m.Name, field, err)
				}
				out[i] = typed
			}
			return out, nil
		case types.OpNull, types.OpContains, types.OpNContains, types.OpContainsS:
			// Operand is a flag or raw substring, never a typed value.
			return val, nil
		}
		typed, err := coerce.ScalarToEngine(attr.Scalar.Type, val)
		if err != nil {
			return nil, errs.BadRequest("invalid %s filter value for %s.%s: %v", attr.Scalar.Type, m.Name, field, err)
		}
		return typed, nil
	case attr.Relation != nil:
		return b.relationOperand(attr.Relation, op, val)
	}
	return val, nil
}

// relationOperand coerces filter operands on relation attributes to the
// stored wire shape, so equality filters match what writes persisted.
func (b *Builder) relationOperand(a *types.Association, op types.Operator, val interface{}) (interface{}, error) {
	opts := refs.CoerceOptions{Strict: true, FilterField: a.MorphFilter}
	switch op {
	case types.OpIn, types.OpNin:
		items, ok := val.([]interface{})
		if !ok {
			return nil, errs.BadRequest("operator %q on relation %s.%s requires a value list, got %T",
				op, a.Owner().Name, a.Alias, val)
		}
		out := make([]interface{}, len(items))
		for i, item := range items {
			ref, err := b.refc.Coerce(item, a.Target(), opts)
			if err != nil {
				return nil, err
			}
			if ref == nil {
				return nil, errs.BadRequest("empty reference operand for relation %s.%s", a.Owner().Name, a.Alias)
			}
			out[i] = ref.WireValue()
		}
		return out, nil
	case types.OpNull:
		return val, nil
	}
	ref, err := b.refc.Coerce(val, a.Target(), opts)
	if err != nil {
		return nil, err
	}
	if ref == nil {
		return nil, errs.BadRequest("empty reference operand for relation %s.%s", a.Owner().Name, a.Alias)
	}
	return ref.WireValue(), nil
}

// applySort translates sort clauses. Sorting by the primary key is
// silently dropped when any other filter field is present: the native
// engine couples sort fields to filter fields and would reject or
// misindex the combination. Sorting a password attribute is rejected.
func (b *Builder) applySort(q collection.Queryable, params types.Params) (collection.Queryable, error) {
	m := q.Model()
	filtered := params.Search != ""
	for _, w := range params.Where {
		if w.Field != m.PrimaryKey && w.Field != "id" {
			filtered = true
			break
		}
	}
	for _, s := range params.Sort {
		if attr := resolveAttribute(m, s.Field); attr != nil && attr.Scalar != nil && attr.Scalar.Type == types.TypePassword {
			return nil, errs.Unsupported("cannot sort by the password attribute %s.%s", m.Name, s.Field)
		}
		if (s.Field == m.PrimaryKey || s.Field == "id") && filtered {
			b.Log.WithFields(logrus.Fields{"model": m.Name, "field": s.Field}).
				Debug("dropping primary-key sort on a filtered query")
			continue
		}
		q = q.OrderBy(s.Field, s.Descending)
	}
	return q, nil
}

func (b *Builder) applyPage(q collection.Queryable, params types.Params) collection.Queryable {
	if params.Start != nil && *params.Start > 0 {
		q = q.Offset(*params.Start)
	}
	if params.Limit != nil && *params.Limit > 0 {
		q = q.Limit(*params.Limit)
	}
	return q
}

// resolveAttribute walks a dot-path through component attributes to the
// attribute a filter or sort targets. Unknown paths resolve to nil and
// pass through untyped.
func resolveAttribute(m *types.Model, field string) *types.Attribute {
	segs := strings.Split(field, ".")
	cur := m
	for i, seg := range segs {
		attr, ok := cur.Attribute(seg)
		if !ok {
			return nil
		}
		if i == len(segs)-1 {
			return attr
		}
		switch {
		case attr.Component != nil:
			cur = attr.Component.Model()
		default:
			return nil
		}
		if cur == nil {
			return nil
		}
	}
	return nil
}

// slicePage applies offset/limit slicing to a resolved id list.
func slicePage(ids []string, start, limit *int) []string {
	if start != nil && *start > 0 {
		if *start >= len(ids) {
			return []string{}
		}
		ids = ids[*start:]
	}
	if limit != nil && *limit > 0 && *limit < len(ids) {
		ids = ids[:*limit]
	}
	return ids
}

// prefixSuccessor returns the smallest string greater than every string
// prefixed by s, or "" when no finite successor exists.
func prefixSuccessor(s string) string {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] != 0xff {
			return s[:i] + string(s[i]+1)
		}
	}
	return ""
}
