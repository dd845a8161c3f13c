package orm

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/halcyondb/halcyon/coerce"
	"github.com/halcyondb/halcyon/collection"
	"github.com/halcyondb/halcyon/engine"
	"github.com/halcyondb/halcyon/errs"
	"github.com/halcyondb/halcyon/internal/validation"
	"github.com/halcyondb/halcyon/refs"
	"github.com/halcyondb/halcyon/relations"
	"github.com/halcyondb/halcyon/txn"
	"github.com/halcyondb/halcyon/types"
)

// Entity is one logical document in the host's representation. Relation
// values are refs.Reference (or populated sub-entities), numbers carry
// their attribute's Go type; coerce.ToJSON renders the wire form.
type Entity = map[string]interface{}

// Repository executes CRUD operations for all mounted models. All
// operations run inside transactions with automatic conflict retries.
type Repository struct {
	reg  *types.Registry
	eng  engine.Engine
	log  *logrus.Logger
	run  *txn.Runner
	vals *coerce.Coercer
	refc *refs.Coercer
	rels *relations.Processor
	qb   *Builder

	flatMu sync.Mutex
	flats  map[string]collection.FlatCollection
}

// NewRepository wires a repository over the registry and engine.
func NewRepository(reg *types.Registry, eng engine.Engine) *Repository {
	log := reg.Log()
	return &Repository{
		reg:  reg,
		eng:  eng,
		log:  log,
		run:  txn.NewRunner(eng, log),
		vals: coerce.New(reg, log),
		refc: &refs.Coercer{Reg: reg, Log: log},
		rels: relations.New(reg, log),
		qb:   NewBuilder(reg, log),

		flats: make(map[string]collection.FlatCollection),
	}
}

// Registry returns the registry the repository was mounted with.
func (r *Repository) Registry() *types.Registry { return r.reg }

func (r *Repository) model(name string) (*types.Model, error) {
	m, ok := r.reg.Model(name)
	if !ok {
		return nil, errs.BadRequest("unknown model %q", name)
	}
	return m, nil
}

// root builds the query root for a model.
func (r *Repository) root(m *types.Model) (collection.Queryable, error) {
	if m.Flattened() {
		f, err := r.flat(m)
		if err != nil {
			return nil, err
		}
		return f, nil
	}
	return collection.NewCollectionQuery(m, r.log), nil
}

// flat returns the model's flat collection, built once per repository so
// the lazy creation of its backing document stays memoized across
// operations instead of re-priming the shared host document every call.
func (r *Repository) flat(m *types.Model) (collection.FlatCollection, error) {
	r.flatMu.Lock()
	defer r.flatMu.Unlock()
	if f, ok := r.flats[m.Name]; ok {
		return f, nil
	}
	f, err := collection.NewFlatCollection(m, r.log)
	if err != nil {
		return collection.FlatCollection{}, err
	}
	r.flats[m.Name] = f
	return f, nil
}

// Find returns all entities matching params, populated one relation level
// deep.
func (r *Repository) Find(ctx context.Context, model string, params types.Params) ([]Entity, error) {
	return r.find(ctx, model, params, false)
}

// Search is Find with the params' search term honored.
func (r *Repository) Search(ctx context.Context, model string, params types.Params) ([]Entity, error) {
	return r.find(ctx, model, params, true)
}

func (r *Repository) find(ctx context.Context, model string, params types.Params, allowSearch bool) ([]Entity, error) {
	m, err := r.model(model)
	if err != nil {
		return nil, err
	}
	root, err := r.root(m)
	if err != nil {
		return nil, err
	}
	plan, err := r.qb.Build(root, params, allowSearch)
	if err != nil {
		return nil, err
	}
	if plan.Empty {
		return nil, nil
	}

	var out []Entity
	err = r.run.Run(ctx, func(t *txn.Transaction) error {
		out = nil
		docs, err := r.fetch(t, root, plan)
		if err != nil {
			return err
		}
		for _, d := range docs {
			if !d.Exists {
				continue
			}
			e, err := r.entity(t, m, d.Ref.ID(), d.Data, true)
			if err != nil {
				return err
			}
			out = append(out, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// FindOne returns the first entity matching params, or nil when none does.
func (r *Repository) FindOne(ctx context.Context, model string, params types.Params) (Entity, error) {
	one := 1
	params.Limit = &one
	results, err := r.Find(ctx, model, params)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}
	return results[0], nil
}

// FindByID returns the entity with the given primary key, or nil.
func (r *Repository) FindByID(ctx context.Context, model, id string) (Entity, error) {
	m, err := r.model(model)
	if err != nil {
		return nil, err
	}
	return r.FindOne(ctx, model, types.Params{
		Where: []types.WhereClause{{Field: m.PrimaryKey, Operator: types.OpEq, Value: id}},
	})
}

// Count returns the number of entities matching params, skipping
// population. A primary-key shortcut counts without touching the engine.
func (r *Repository) Count(ctx context.Context, model string, params types.Params) (int, error) {
	return r.count(ctx, model, params, false)
}

// CountSearch is Count with the params' search term honored.
func (r *Repository) CountSearch(ctx context.Context, model string, params types.Params) (int, error) {
	return r.count(ctx, model, params, true)
}

func (r *Repository) count(ctx context.Context, model string, params types.Params, allowSearch bool) (int, error) {
	m, err := r.model(model)
	if err != nil {
		return 0, err
	}
	root, err := r.root(m)
	if err != nil {
		return 0, err
	}
	plan, err := r.qb.Build(root, params, allowSearch)
	if err != nil {
		return 0, err
	}
	if plan.Empty {
		return 0, nil
	}
	if plan.Shortcut() {
		return len(plan.IDs), nil
	}

	var n int
	err = r.run.Run(ctx, func(t *txn.Transaction) error {
		res, err := plan.Query.Get(t)
		if err != nil {
			return err
		}
		n = 0
		for _, d := range res.Docs {
			if d.Exists {
				n++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Create validates and stores a new entity, maintaining relations, and
// returns the stored result. The primary key may be supplied in data;
// otherwise one is generated.
func (r *Repository) Create(ctx context.Context, model string, data Entity) (Entity, error) {
	m, err := r.model(model)
	if err != nil {
		return nil, err
	}
	root, err := r.root(m)
	if err != nil {
		return nil, err
	}
	if err := validation.Entity(m, data, root.AutoID); err != nil {
		return nil, err
	}

	id, body := splitID(m, data)
	if id == "" {
		id = root.AutoID()
	}
	ref := refs.ModelRef(m, id)

	stored, err := r.vals.ToEngine(m, body, coerce.Options{EditMode: true, Creating: true})
	if err != nil {
		return nil, err
	}

	if m.Flattened() {
		flat, ok := root.(collection.FlatCollection)
		if !ok {
			return nil, errs.Config("model %q is flattened but has no flat collection", m.Name)
		}
		if err := flat.Ensure(ctx, r.eng); err != nil {
			return nil, err
		}
		err = r.run.Run(ctx, func(t *txn.Transaction) error {
			prev, err := flat.GetOne(t, id)
			if err != nil {
				return err
			}
			if prev.Exists {
				return errs.BadRequest("%s %q already exists", m.Name, id)
			}
			next := copyData(stored)
			if err := r.rels.Apply(t, m, ref, nil, next); err != nil {
				return err
			}
			flat.Set(t, id, next, false)
			return nil
		})
	} else {
		path := m.DocPath(id)
		err = r.run.Run(ctx, func(t *txn.Transaction) error {
			next := copyData(stored)
			if err := r.rels.Apply(t, m, ref, nil, next); err != nil {
				return err
			}
			t.AddWrite(func(native engine.Txn) error {
				if cerr := native.Create(path, next); cerr != nil {
					if errors.Is(cerr, engine.ErrExists) {
						return errs.BadRequest("%s %q already exists", m.Name, id)
					}
					return cerr
				}
				return nil
			})
			return nil
		})
	}
	if err != nil {
		return nil, err
	}
	return r.FindByID(ctx, model, id)
}

// Update merges data into the entity located by params. Missing targets
// fail with a not-found error. The creation timestamp cannot be
// overwritten.
func (r *Repository) Update(ctx context.Context, model string, params types.Params, data Entity) (Entity, error) {
	m, err := r.model(model)
	if err != nil {
		return nil, err
	}
	root, err := r.root(m)
	if err != nil {
		return nil, err
	}
	if err := validation.Entity(m, data, root.AutoID); err != nil {
		return nil, err
	}
	plan, err := r.qb.Build(root, params, false)
	if err != nil {
		return nil, err
	}

	_, body := splitID(m, data)
	patch, err := r.vals.ToEngine(m, body, coerce.Options{EditMode: true})
	if err != nil {
		return nil, err
	}

	var updatedID string
	err = r.run.Run(ctx, func(t *txn.Transaction) error {
		d, err := r.fetchOne(t, root, plan)
		if err != nil {
			return err
		}
		if !d.Exists {
			return errs.NotFound("no %s matches the update target", m.Name)
		}
		updatedID = d.Ref.ID()

		merged := copyData(d.Data)
		for k, v := range patch {
			merged[k] = v
		}
		if err := r.rels.Apply(t, m, d.Ref, d.Data, merged); err != nil {
			return err
		}

		// Only the supplied keys are written; relation maintenance may
		// have rewritten or stripped some of them on merged.
		write := make(map[string]interface{}, len(patch))
		for k := range patch {
			if v, ok := merged[k]; ok {
				write[k] = v
			}
		}
		if m.Flattened() {
			flat := root.(collection.FlatCollection)
			flat.Set(t, d.Ref.ID(), write, true)
			return nil
		}
		path := d.Ref.DocPath()
		t.AddWrite(func(native engine.Txn) error {
			return native.Update(path, write)
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r.FindByID(ctx, model, updatedID)
}

// Delete removes the entities located by params and returns their previous
// values. A primary-key lookup resolving to exactly one document is a
// single delete: the second return is true and exactly one entity (or a
// not-found error) comes back. The multi-entity path deletes each match in
// its own transaction; a cross-entity consistency guarantee is not
// provided there.
func (r *Repository) Delete(ctx context.Context, model string, params types.Params) ([]Entity, bool, error) {
	m, err := r.model(model)
	if err != nil {
		return nil, false, err
	}
	root, err := r.root(m)
	if err != nil {
		return nil, false, err
	}
	plan, err := r.qb.Build(root, params, false)
	if err != nil {
		return nil, false, err
	}
	if plan.Empty {
		return nil, false, nil
	}

	if plan.Shortcut() && len(plan.IDs) == 1 {
		e, err := r.deleteOne(ctx, m, root, plan.IDs[0], true)
		if err != nil {
			return nil, true, err
		}
		return []Entity{e}, true, nil
	}

	var ids []string
	if plan.Shortcut() {
		ids = plan.IDs
	} else {
		err = r.run.Run(ctx, func(t *txn.Transaction) error {
			ids = ids[:0]
			docs, err := r.fetch(t, root, plan)
			if err != nil {
				return err
			}
			for _, d := range docs {
				if d.Exists {
					ids = append(ids, d.Ref.ID())
				}
			}
			return nil
		})
		if err != nil {
			return nil, false, err
		}
	}

	var out []Entity
	for _, id := range ids {
		e, err := r.deleteOne(ctx, m, root, id, false)
		if err != nil {
			return out, false, err
		}
		if e != nil {
			out = append(out, e)
		}
	}
	return out, false, nil
}

// deleteOne removes one entity in its own transaction and returns its
// previous value. When required is false a vanished document is skipped.
func (r *Repository) deleteOne(ctx context.Context, m *types.Model, root collection.Queryable, id string, required bool) (Entity, error) {
	ref := refs.ModelRef(m, id)
	var prev Entity
	err := r.run.Run(ctx, func(t *txn.Transaction) error {
		prev = nil
		var data map[string]interface{}
		var exists bool
		if m.Flattened() {
			flat := root.(collection.FlatCollection)
			d, err := flat.GetOne(t, id)
			if err != nil {
				return err
			}
			data, exists = d.Data, d.Exists
		} else {
			snap, err := t.Get(m.DocPath(id))
			if err != nil {
				return err
			}
			data, exists = snap.Data(), snap.Exists()
		}
		if !exists {
			if required {
				return errs.NotFound("%s %q does not exist", m.Name, id)
			}
			return nil
		}
		if err := r.rels.Apply(t, m, ref, data, nil); err != nil {
			return err
		}
		if m.Flattened() {
			root.(collection.FlatCollection).Delete(t, id)
		} else {
			path := m.DocPath(id)
			t.AddWrite(func(native engine.Txn) error {
				return native.Delete(path)
			})
		}
		e, err := r.entity(t, m, id, data, false)
		if err != nil {
			return err
		}
		prev = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return prev, nil
}

// fetch resolves a plan to documents: direct lookups for shortcuts, a
// collection query otherwise.
func (r *Repository) fetch(t *txn.Transaction, root collection.Queryable, plan *Plan) ([]collection.Doc, error) {
	if !plan.Shortcut() {
		res, err := plan.Query.Get(t)
		if err != nil {
			return nil, err
		}
		return res.Docs, nil
	}

	m := plan.Model
	if m.Flattened() {
		flat := root.(collection.FlatCollection)
		docs := make([]collection.Doc, 0, len(plan.IDs))
		for _, id := range plan.IDs {
			d, err := flat.GetOne(t, id)
			if err != nil {
				return nil, err
			}
			docs = append(docs, d)
		}
		return docs, nil
	}

	paths := make([]string, len(plan.IDs))
	for i, id := range plan.IDs {
		paths[i] = m.DocPath(id)
	}
	snaps, err := t.GetAll(paths)
	if err != nil {
		return nil, err
	}
	docs := make([]collection.Doc, len(snaps))
	for i, s := range snaps {
		docs[i] = collection.Doc{
			Ref:    refs.DirectRef{Collection: m.Collection, DocID: s.ID()},
			Exists: s.Exists(),
			Data:   s.Data(),
		}
	}
	return docs, nil
}

// fetchOne resolves a plan to the single document it targets.
func (r *Repository) fetchOne(t *txn.Transaction, root collection.Queryable, plan *Plan) (collection.Doc, error) {
	if plan.Empty {
		return collection.Doc{}, nil
	}
	if plan.Shortcut() {
		if len(plan.IDs) != 1 {
			return collection.Doc{}, errs.BadRequest("expected exactly one %s target, got %d ids",
				plan.Model.Name, len(plan.IDs))
		}
		docs, err := r.fetch(t, root, plan)
		if err != nil {
			return collection.Doc{}, err
		}
		return docs[0], nil
	}
	docs, err := r.fetch(t, root, plan)
	if err != nil {
		return collection.Doc{}, err
	}
	for _, d := range docs {
		if d.Exists {
			return d, nil
		}
	}
	return collection.Doc{}, nil
}

// splitID separates the primary key from the attribute body.
func splitID(m *types.Model, data Entity) (string, map[string]interface{}) {
	body := make(map[string]interface{}, len(data))
	var id string
	for k, v := range data {
		if k == m.PrimaryKey || k == "id" {
			if s, ok := v.(string); ok && id == "" {
				id = s
			}
			continue
		}
		body[k] = v
	}
	return id, body
}

func copyData(data map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(data))
	for k, v := range data {
		out[k] = v
	}
	return out
}
