// Package relations keeps bidirectional and polymorphic references
// consistent across denormalized documents. Given a document's old and new
// attribute values it computes which related documents must gain or lose
// back-references and buffers those updates on the transaction, coalesced
// per physical document.
package relations

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/halcyondb/halcyon/collection"
	"github.com/halcyondb/halcyon/engine"
	"github.com/halcyondb/halcyon/errs"
	"github.com/halcyondb/halcyon/refs"
	"github.com/halcyondb/halcyon/types"
)

// Txn is the transaction surface the processor needs: cached reads for
// holder discovery and buffered writes for back-reference updates.
type Txn interface {
	collection.Reader
	collection.Writer
}

// Processor applies relation maintenance for one model write.
type Processor struct {
	Reg *types.Registry
	Log *logrus.Logger

	coercer *refs.Coercer
}

// New builds a processor over the registry.
func New(reg *types.Registry, log *logrus.Logger) *Processor {
	if log == nil {
		log = reg.Log()
	}
	return &Processor{Reg: reg, Log: log, coercer: &refs.Coercer{Reg: reg, Log: log}}
}

// Apply computes and buffers all relation updates for writing ref with the
// transition prev -> next. A nil prev is a create, a nil next a delete.
// next is mutated in place: dominant aliases are replaced with their wire
// shape, non-dominant aliases are stripped (they are always computed by
// querying the dominant side at read time).
func (p *Processor) Apply(t Txn, m *types.Model, ref refs.Reference, prev, next map[string]interface{}) error {
	for _, a := range m.Associations() {
		prevRefs, err := p.sideRefs(a, prev, false)
		if err != nil {
			return err
		}
		nextRefs, err := p.sideRefs(a, next, true)
		if err != nil {
			return err
		}

		if next != nil {
			if a.Dominant {
				next[a.Alias] = wireValues(a, nextRefs)
			} else {
				delete(next, a.Alias)
			}
		}

		added := diffRefs(nextRefs, prevRefs)
		removed := diffRefs(prevRefs, nextRefs)

		if next == nil && !a.Dominant && len(prevRefs) == 0 {
			// Deleting a non-dominant side: this document never stored the
			// references, so the holders must be found by querying the
			// dominant side for the expected stored value.
			holders, err := p.Holders(t, a, ref)
			if err != nil {
				return err
			}
			removed = append(removed, holders...)
		}

		for _, r := range added {
			if err := p.propagate(t, a, ref, r, true); err != nil {
				return err
			}
		}
		for _, r := range removed {
			if err := p.propagate(t, a, ref, r, false); err != nil {
				return err
			}
		}
	}
	return nil
}

// sideRefs coerces one side's attribute value into a normalized reference
// set. Morph references are wrapped with their discriminator so set
// difference compares the full stored identity.
func (p *Processor) sideRefs(a *types.Association, data map[string]interface{}, strict bool) ([]refs.Reference, error) {
	if data == nil {
		return nil, nil
	}
	val, ok := data[a.Alias]
	if !ok || val == nil {
		return nil, nil
	}
	opts := refs.CoerceOptions{Strict: strict, FilterField: a.MorphFilter}
	list, err := p.coercer.CoerceList(val, a.Target(), opts)
	if err != nil {
		return nil, err
	}
	if !a.Morph() {
		return list, nil
	}
	out := make([]refs.Reference, 0, len(list))
	for _, r := range list {
		if _, already := r.(refs.MorphRef); already {
			out = append(out, r)
			continue
		}
		rev := p.reverse(a, r)
		if rev == nil {
			if strict {
				return nil, errs.BadRequest("cannot resolve the reverse relation of %s.%s for %q",
					a.Owner().Name, a.Alias, r.Path())
			}
			p.Log.WithField("ref", r.Path()).Warn("dropping morph reference with no resolvable reverse relation")
			continue
		}
		out = append(out, refs.MorphRef{Ref: r, FilterField: a.MorphFilter, FilterValue: rev.Alias})
	}
	return out, nil
}

// reverse resolves the association mirroring a for the given target
// reference. Static targets use the mirror wired at mount; polymorphic
// targets resolve the model from the reference's collection and match the
// association pointing back at a's alias.
func (p *Processor) reverse(a *types.Association, r refs.Reference) *types.Association {
	if !a.Morph() {
		return a.Mirror()
	}
	tm, ok := p.coercer.Owner(r)
	if !ok {
		return nil
	}
	if a.Via != "" {
		if attr, ok := tm.Attribute(a.Via); ok && attr.Relation != nil {
			return attr.Relation
		}
		return nil
	}
	for _, cand := range tm.Associations() {
		if cand.Via == a.Alias {
			return cand
		}
	}
	return nil
}

// propagate buffers the reverse-side update for one added or removed
// reference. Only a dominant reverse side stores anything; a non-dominant
// reverse computes its value by querying and needs no write.
func (p *Processor) propagate(t Txn, a *types.Association, self, other refs.Reference, add bool) error {
	rev := p.reverse(a, other)
	if rev == nil || !rev.Dominant {
		return nil
	}

	// The value of this document as stored on the reverse side.
	var stored interface{}
	if rev.Morph() {
		stored = refs.MorphRef{Ref: self, FilterField: rev.MorphFilter, FilterValue: a.Alias}.WireValue()
	} else {
		stored = self.WireValue()
	}

	field := targetField(other, rev.Alias)
	patch := make(map[string]interface{}, 1)
	switch {
	case rev.Cardinality == types.Many && add:
		patch[field] = engine.ArrayUnion{Values: []interface{}{stored}}
	case rev.Cardinality == types.Many:
		patch[field] = engine.ArrayRemove{Values: []interface{}{stored}}
	case add:
		patch[field] = stored
	default:
		patch[field] = nil
	}

	docPath := other.DocPath()
	otherPath := other.Path()
	t.MergeKeyed(docPath, patch, func(native engine.Txn, merged map[string]interface{}) error {
		if err := native.Update(docPath, merged); err != nil {
			if errors.Is(err, engine.ErrNotFound) {
				return errs.BadRequest("related document %q does not exist", otherPath)
			}
			return fmt.Errorf("failed to update back-references on %q: %w", otherPath, err)
		}
		return nil
	})
	return nil
}

// Holders queries the dominant reverse side for documents still storing
// a reference to self: array-contains for array-valued mirrors, equality
// otherwise.
func (p *Processor) Holders(t Txn, a *types.Association, self refs.Reference) ([]refs.Reference, error) {
	tm := a.Target()
	if tm == nil {
		// Polymorphic holders live in unknown collections; there is
		// nothing to query. Morph forward sides are dominant, so their
		// stored value drives removal instead.
		return nil, nil
	}
	rev := a.Mirror()
	if rev == nil || !rev.Dominant {
		return nil, nil
	}
	var expected interface{}
	if rev.Morph() {
		expected = refs.MorphRef{Ref: self, FilterField: rev.MorphFilter, FilterValue: a.Alias}.WireValue()
	} else {
		expected = self.WireValue()
	}

	var result *collection.Result
	if tm.Flattened() {
		flat, err := collection.NewFlatCollection(tm, p.Log)
		if err != nil {
			return nil, err
		}
		op := types.OpEq
		if rev.Cardinality == types.Many {
			op = types.OpContains
		}
		q, err := flat.Where(rev.Alias, op, expected)
		if err != nil {
			return nil, err
		}
		result, err = q.Get(t)
		if err != nil {
			return nil, err
		}
	} else {
		nf := engine.Filter{Field: rev.Alias, Op: engine.OpEq, Value: expected}
		if rev.Cardinality == types.Many {
			nf.Op = engine.OpArrayContains
		}
		snaps, err := t.RunQuery(engine.Query{Collection: tm.Collection, Filters: []engine.Filter{nf}})
		if err != nil {
			return nil, err
		}
		result = &collection.Result{Docs: make([]collection.Doc, len(snaps))}
		for i, s := range snaps {
			result.Docs[i] = collection.Doc{
				Ref:    refs.DirectRef{Collection: tm.Collection, DocID: s.ID()},
				Exists: s.Exists(),
			}
		}
	}

	holders := make([]refs.Reference, 0, len(result.Docs))
	for _, d := range result.Docs {
		holders = append(holders, d.Ref)
	}
	return holders, nil
}

// targetField returns the dot-path of alias inside the physical document
// holding ref; deep references nest under their field group.
func targetField(r refs.Reference, alias string) string {
	if fp := r.FieldPath(); fp != "" {
		return fp + "." + alias
	}
	return alias
}

// wireValues renders the dominant side's own stored value.
func wireValues(a *types.Association, list []refs.Reference) interface{} {
	if a.Cardinality == types.Many {
		out := make([]interface{}, len(list))
		for i, r := range list {
			out[i] = r.WireValue()
		}
		return out
	}
	if len(list) == 0 {
		return nil
	}
	return list[0].WireValue()
}

// diffRefs returns the references in a that no reference in b equals.
func diffRefs(a, b []refs.Reference) []refs.Reference {
	var out []refs.Reference
	for _, ra := range a {
		found := false
		for _, rb := range b {
			if ra.Equal(rb) {
				found = true
				break
			}
		}
		if !found {
			out = append(out, ra)
		}
	}
	return out
}
