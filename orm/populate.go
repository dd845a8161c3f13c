package orm

import (
	"github.com/halcyondb/halcyon/refs"
	"github.com/halcyondb/halcyon/txn"
	"github.com/halcyondb/halcyon/types"
)

// entity converts stored data into the host representation and, when
// populate is set, expands relations one level deep. Dominant sides read
// their stored references directly; non-dominant sides discover their
// holders by querying the reverse association. Relations of the expanded
// entities stay as plain references so population cannot recurse.
func (r *Repository) entity(t *txn.Transaction, m *types.Model, id string, data map[string]interface{}, populate bool) (Entity, error) {
	out := r.vals.FromEngine(m, data)
	if out == nil {
		out = make(Entity)
	}
	out[m.PrimaryKey] = id
	if !populate {
		return out, nil
	}

	self := refs.ModelRef(m, id)
	for _, a := range m.Associations() {
		var related []refs.Reference
		if a.Dominant {
			related = referenceList(out[a.Alias])
		} else {
			holders, err := r.rels.Holders(t, a, self)
			if err != nil {
				return nil, err
			}
			related = holders
		}

		expanded := make([]interface{}, 0, len(related))
		for _, ref := range related {
			e, err := r.expand(t, a, ref)
			if err != nil {
				return nil, err
			}
			if e != nil {
				expanded = append(expanded, e)
			}
		}
		if a.Cardinality == types.Many {
			out[a.Alias] = expanded
		} else if len(expanded) > 0 {
			out[a.Alias] = expanded[0]
		} else {
			out[a.Alias] = nil
		}
	}
	return out, nil
}

// expand reads one related document through the transaction cache and
// converts it. Dangling references expand to nil.
func (r *Repository) expand(t *txn.Transaction, a *types.Association, ref refs.Reference) (Entity, error) {
	tm := a.Target()
	if tm == nil {
		var ok bool
		tm, ok = r.refc.Owner(ref)
		if !ok {
			r.log.WithField("ref", ref.Path()).Debug("skipping reference into an unmounted collection")
			return nil, nil
		}
	}

	snap, err := t.Get(ref.DocPath())
	if err != nil {
		return nil, err
	}
	if !snap.Exists() {
		r.log.WithField("ref", ref.Path()).Debug("skipping dangling reference")
		return nil, nil
	}
	raw := snap.Data()
	if fp := ref.FieldPath(); fp != "" {
		group, ok := snap.Field(fp)
		if !ok {
			r.log.WithField("ref", ref.Path()).Debug("skipping dangling reference")
			return nil, nil
		}
		raw, ok = group.(map[string]interface{})
		if !ok {
			r.log.WithField("ref", ref.Path()).Warn("reference target is not a document")
			return nil, nil
		}
	}

	related := r.vals.FromEngine(tm, raw)
	if related == nil {
		related = make(Entity)
	}
	related[tm.PrimaryKey] = ref.ID()
	return related, nil
}

// referenceList normalizes a converted relation value to a reference
// slice.
func referenceList(val interface{}) []refs.Reference {
	switch v := val.(type) {
	case refs.Reference:
		return []refs.Reference{v}
	case []interface{}:
		out := make([]refs.Reference, 0, len(v))
		for _, item := range v {
			if ref, ok := item.(refs.Reference); ok {
				out = append(out, ref)
			}
		}
		return out
	case []refs.Reference:
		return v
	}
	return nil
}
