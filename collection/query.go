package collection

import (
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/halcyondb/halcyon/engine"
	"github.com/halcyondb/halcyon/errs"
	"github.com/halcyondb/halcyon/refs"
	"github.com/halcyondb/halcyon/types"
)

// minChunk is the smallest fetch size the manual-filter executor uses, so
// low predicate yield does not degenerate into one-document round trips.
const minChunk = 10

// defaultChunk sizes manual-filter fetches for unbounded queries.
const defaultChunk = 100

// CollectionQuery is the plain-collection backend. The zero value is not
// usable; build one with NewCollectionQuery. All mutators copy.
type CollectionQuery struct {
	model   *types.Model
	log     *logrus.Logger
	native  []engine.Filter
	manual  []Predicate
	orders  []engine.Order
	limit   int // 0 = unset
	offset  int
}

// NewCollectionQuery builds the query root for a plain collection.
func NewCollectionQuery(m *types.Model, log *logrus.Logger) CollectionQuery {
	return CollectionQuery{model: m, log: log}
}

func (q CollectionQuery) Model() *types.Model { return q.model }

func (q CollectionQuery) clone() CollectionQuery {
	out := q
	out.native = append([]engine.Filter(nil), q.native...)
	out.manual = append([]Predicate(nil), q.manual...)
	out.orders = append([]engine.Order(nil), q.orders...)
	return out
}

// Where translates one filter clause, choosing the engine's native operator
// where one exists and falling back to a manual predicate otherwise. Manual
// fallbacks require the model to allow non-native queries.
func (q CollectionQuery) Where(field string, op types.Operator, value interface{}) (Queryable, error) {
	out := q.clone()
	switch op {
	case types.OpEq:
		out.native = append(out.native, engine.Filter{Field: field, Op: engine.OpEq, Value: value})
		return out, nil
	case types.OpLt, types.OpLte, types.OpGt, types.OpGte:
		var nop engine.Op
		switch op {
		case types.OpLt:
			nop = engine.OpLt
		case types.OpLte:
			nop = engine.OpLte
		case types.OpGt:
			nop = engine.OpGt
		default:
			nop = engine.OpGte
		}
		out.native = append(out.native, engine.Filter{Field: field, Op: nop, Value: value})
		return out, nil
	case types.OpIn:
		items, ok := value.([]interface{})
		if !ok {
			return nil, errs.BadRequest("operator %q requires a value list, got %T", op, value)
		}
		// The engine caps in-clause arguments; larger lists fall back to
		// the manual evaluator.
		if len(items) > 0 && len(items) <= engine.InLimit {
			out.native = append(out.native, engine.Filter{Field: field, Op: engine.OpIn, Value: items})
			return out, nil
		}
		return q.whereManual(field, op, value)
	case types.OpNull:
		if wantNull, _ := value.(bool); wantNull {
			out.native = append(out.native, engine.Filter{Field: field, Op: engine.OpEq, Value: nil})
			return out, nil
		}
		// "not null" has no native form.
		return q.whereManual(field, op, value)
	default:
		return q.whereManual(field, op, value)
	}
}

func (q CollectionQuery) whereManual(field string, op types.Operator, value interface{}) (Queryable, error) {
	if !q.model.Options.AllowNonNativeQueries {
		return nil, errs.Unsupported("operator %q on %s.%s requires non-native queries, which the model disables",
			op, q.model.Name, field)
	}
	pred, err := ManualPredicate(field, op, value)
	if err != nil {
		return nil, err
	}
	out := q.clone()
	out.manual = append(out.manual, pred)
	return out, nil
}

func (q CollectionQuery) WhereAny(preds []Predicate) (Queryable, error) {
	if !q.model.Options.AllowNonNativeQueries {
		return nil, errs.Unsupported("OR groups on %s require non-native queries, which the model disables", q.model.Name)
	}
	out := q.clone()
	out.manual = append(out.manual, func(data map[string]interface{}) bool {
		for _, p := range preds {
			if p(data) {
				return true
			}
		}
		return false
	})
	return out, nil
}

func (q CollectionQuery) OrderBy(field string, descending bool) Queryable {
	out := q.clone()
	out.orders = append(out.orders, engine.Order{Field: field, Descending: descending})
	return out
}

func (q CollectionQuery) Limit(n int) Queryable {
	out := q.clone()
	out.limit = n
	return out
}

func (q CollectionQuery) Offset(n int) Queryable {
	out := q.clone()
	out.offset = n
	return out
}

func (q CollectionQuery) Doc(id string) refs.Reference {
	return refs.DirectRef{Collection: q.model.Collection, DocID: id}
}

func (q CollectionQuery) AutoID() string { return uuid.NewString() }

// Get executes the query. With no manual predicates everything runs
// natively; otherwise results are fetched in chunks and filtered
// in-process with cursor-based continuation.
func (q CollectionQuery) Get(r Reader) (*Result, error) {
	limit := clampLimit(q.model, q.limit, q.log)
	if len(q.manual) == 0 {
		eq := engine.Query{
			Collection: q.model.Collection,
			Filters:    q.native,
			Orders:     q.orders,
			Offset:     q.offset,
			Limit:      limit,
		}
		if err := eq.Validate(); err != nil {
			return nil, errs.Wrap(errs.StatusBadRequest, err, "invalid query on %s", q.model.Name)
		}
		snaps, err := r.RunQuery(eq)
		if err != nil {
			return nil, err
		}
		return q.result(snaps), nil
	}
	return q.getManual(r, limit)
}

// getManual is the manual-filter executor: fetch in chunks sized to
// amortize read cost against predicate yield, resume from the last seen
// document, discount the requested offset against accepted results, and
// stop at the limit or when the engine returns a short chunk.
func (q CollectionQuery) getManual(r Reader, limit int) (*Result, error) {
	chunk := defaultChunk
	if limit > 0 {
		chunk = limit
		if chunk < minChunk {
			chunk = minChunk
		}
	}

	var (
		accepted []engine.Snapshot
		cursor   *engine.Snapshot
		skipped  int
	)
	for {
		eq := engine.Query{
			Collection: q.model.Collection,
			Filters:    q.native,
			Orders:     q.orders,
			StartAfter: cursor,
			Limit:      chunk,
		}
		if err := eq.Validate(); err != nil {
			return nil, errs.Wrap(errs.StatusBadRequest, err, "invalid query on %s", q.model.Name)
		}
		snaps, err := r.RunQuery(eq)
		if err != nil {
			return nil, err
		}
		for i := range snaps {
			if !q.matches(snaps[i].Data()) {
				continue
			}
			if skipped < q.offset {
				skipped++
				continue
			}
			accepted = append(accepted, snaps[i])
			if limit > 0 && len(accepted) >= limit {
				return q.result(accepted), nil
			}
		}
		if len(snaps) < chunk {
			// Short chunk: end of data.
			return q.result(accepted), nil
		}
		last := snaps[len(snaps)-1]
		cursor = &last
	}
}

func (q CollectionQuery) matches(data map[string]interface{}) bool {
	for _, p := range q.manual {
		if !p(data) {
			return false
		}
	}
	return true
}

func (q CollectionQuery) result(snaps []engine.Snapshot) *Result {
	docs := make([]Doc, len(snaps))
	for i, s := range snaps {
		docs[i] = Doc{
			Ref:    refs.DirectRef{Collection: q.model.Collection, DocID: s.ID()},
			Exists: s.Exists(),
			Data:   s.Data(),
		}
	}
	return &Result{Docs: docs}
}
