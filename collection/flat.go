package collection

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/halcyondb/halcyon/engine"
	"github.com/halcyondb/halcyon/errs"
	"github.com/halcyondb/halcyon/refs"
	"github.com/halcyondb/halcyon/types"
)

// FlatCollection is the flattened-collection backend: the whole logical
// collection lives as field groups inside one physical document, trading
// per-document read cost for merged storage. Used for low-cardinality
// internal collections.
//
// Every filter is evaluated in-process because there is no per-document
// index to query; reads cost one document fetch regardless of filter.
type FlatCollection struct {
	model *types.Model
	log   *logrus.Logger
	host  refs.DirectRef

	preds  []Predicate
	orders []engine.Order
	limit  int
	offset int

	ensure *ensureState
}

// ensureState memoizes lazy creation of the backing document so concurrent
// first accesses do not race.
type ensureState struct {
	once sync.Once
	err  error
}

// NewFlatCollection builds the query root for a flattened model.
func NewFlatCollection(m *types.Model, log *logrus.Logger) (FlatCollection, error) {
	host, err := refs.NewDirectRef(m.Options.Flatten)
	if err != nil {
		return FlatCollection{}, errs.Config("model %q has malformed flatten path %q", m.Name, m.Options.Flatten)
	}
	return FlatCollection{model: m, log: log, host: host, ensure: &ensureState{}}, nil
}

func (f FlatCollection) Model() *types.Model { return f.model }

// Host returns the physical document backing the collection.
func (f FlatCollection) Host() refs.DirectRef { return f.host }

func (f FlatCollection) clone() FlatCollection {
	out := f
	out.preds = append([]Predicate(nil), f.preds...)
	out.orders = append([]engine.Order(nil), f.orders...)
	return out
}

func (f FlatCollection) Where(field string, op types.Operator, value interface{}) (Queryable, error) {
	pred, err := ManualPredicate(field, op, value)
	if err != nil {
		return nil, err
	}
	out := f.clone()
	out.preds = append(out.preds, pred)
	return out, nil
}

func (f FlatCollection) WhereAny(preds []Predicate) (Queryable, error) {
	if !f.model.Options.AllowNonNativeQueries {
		return nil, errs.Unsupported("OR groups on %s require non-native queries, which the model disables", f.model.Name)
	}
	out := f.clone()
	out.preds = append(out.preds, func(data map[string]interface{}) bool {
		for _, p := range preds {
			if p(data) {
				return true
			}
		}
		return false
	})
	return out, nil
}

func (f FlatCollection) OrderBy(field string, descending bool) Queryable {
	out := f.clone()
	out.orders = append(out.orders, engine.Order{Field: field, Descending: descending})
	return out
}

func (f FlatCollection) Limit(n int) Queryable {
	out := f.clone()
	out.limit = n
	return out
}

func (f FlatCollection) Offset(n int) Queryable {
	out := f.clone()
	out.offset = n
	return out
}

func (f FlatCollection) Doc(id string) refs.Reference {
	return refs.DeepRef{Host: f.host, DocID: id}
}

func (f FlatCollection) AutoID() string { return uuid.NewString() }

// Get reads the host document once and assembles matching logical
// documents from its field groups.
func (f FlatCollection) Get(r Reader) (*Result, error) {
	snap, err := r.Get(f.host.Path())
	if err != nil {
		return nil, err
	}
	if !snap.Exists() {
		return &Result{}, nil
	}
	var snaps []engine.Snapshot
	for id, raw := range snap.Data() {
		data, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		if !f.matches(data) {
			continue
		}
		snaps = append(snaps, engine.NewSnapshot(f.host.Path()+"/"+id, data))
	}
	engine.SortSnapshots(snaps, f.orders)

	limit := clampLimit(f.model, f.limit, f.log)
	if f.offset > 0 {
		if f.offset >= len(snaps) {
			snaps = nil
		} else {
			snaps = snaps[f.offset:]
		}
	}
	if limit > 0 && len(snaps) > limit {
		snaps = snaps[:limit]
	}

	docs := make([]Doc, len(snaps))
	for i, s := range snaps {
		docs[i] = Doc{
			Ref:    refs.DeepRef{Host: f.host, DocID: s.ID()},
			Exists: true,
			Data:   s.Data(),
		}
	}
	return &Result{Docs: docs}, nil
}

func (f FlatCollection) matches(data map[string]interface{}) bool {
	for _, p := range f.preds {
		if !p(data) {
			return false
		}
	}
	return true
}

// GetOne reads a single logical document by id.
func (f FlatCollection) GetOne(r Reader, id string) (Doc, error) {
	snap, err := r.Get(f.host.Path())
	if err != nil {
		return Doc{}, err
	}
	ref := refs.DeepRef{Host: f.host, DocID: id}
	if !snap.Exists() {
		return Doc{Ref: ref}, nil
	}
	data, ok := snap.Data()[id].(map[string]interface{})
	if !ok {
		return Doc{Ref: ref}, nil
	}
	return Doc{Ref: ref, Exists: true, Data: data}, nil
}

// Set buffers a write of one logical document. With merge, each attribute
// becomes its own dot-path patch under the document's field group, so a
// partial write cannot clobber the document's other attributes or its
// sibling documents; without merge the whole field group is replaced.
// Attribute values replace wholesale either way.
func (f FlatCollection) Set(w Writer, id string, data map[string]interface{}, merge bool) {
	patch := make(map[string]interface{})
	if merge {
		for key, val := range data {
			patch[id+"."+key] = val
		}
		if len(patch) == 0 {
			patch[id] = map[string]interface{}{}
		}
	} else {
		patch[id] = data
	}
	f.mergeKeyed(w, patch)
}

// Delete buffers removal of one logical document. The field path is set to
// the delete tombstone; the physical document itself is never removed.
func (f FlatCollection) Delete(w Writer, id string) {
	f.mergeKeyed(w, map[string]interface{}{id: engine.Delete})
}

func (f FlatCollection) mergeKeyed(w Writer, patch map[string]interface{}) {
	path := f.host.Path()
	w.MergeKeyed(path, patch, func(native engine.Txn, merged map[string]interface{}) error {
		return native.Set(path, merged, true)
	})
}

// Ensure lazily creates the backing document with a single idempotent
// merge-with-empty write. Memoized, so concurrent accesses before the
// document exists issue at most one write.
func (f FlatCollection) Ensure(ctx context.Context, e engine.Engine) error {
	f.ensure.once.Do(func() {
		f.ensure.err = e.RunTransaction(ctx, func(native engine.Txn) error {
			return native.Set(f.host.Path(), map[string]interface{}{}, true)
		})
	})
	return f.ensure.err
}
