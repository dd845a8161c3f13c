package badgerengine

import (
	"fmt"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/halcyondb/halcyon/engine"
)

// txn adapts one badger transaction to the engine contract. The contract
// forbids reads once any write has been issued; the wrote flag enforces it
// even though badger itself would allow the interleaving.
type txn struct {
	bt    *badger.Txn
	wrote bool
}

var _ engine.Txn = (*txn)(nil)

func (t *txn) Get(path string) (engine.Snapshot, error) {
	if t.wrote {
		return engine.Snapshot{}, engine.ErrReadAfterWrite
	}
	return readDoc(t.bt, path)
}

func (t *txn) GetAll(paths []string) ([]engine.Snapshot, error) {
	if t.wrote {
		return nil, engine.ErrReadAfterWrite
	}
	snaps := make([]engine.Snapshot, len(paths))
	for i, path := range paths {
		snap, err := readDoc(t.bt, path)
		if err != nil {
			return nil, err
		}
		snaps[i] = snap
	}
	return snaps, nil
}

func (t *txn) RunQuery(q engine.Query) ([]engine.Snapshot, error) {
	if t.wrote {
		return nil, engine.ErrReadAfterWrite
	}
	return runQuery(t.bt, q)
}

func (t *txn) Create(path string, data map[string]interface{}) error {
	existing, err := readDoc(t.bt, path)
	if err != nil {
		return err
	}
	if existing.Exists() {
		return engine.ErrExists
	}
	return t.write(path, resolveDoc(data, time.Now()))
}

func (t *txn) Set(path string, data map[string]interface{}, merge bool) error {
	now := time.Now()
	if !merge {
		return t.write(path, resolveDoc(data, now))
	}
	existing, err := readDoc(t.bt, path)
	if err != nil {
		return err
	}
	doc := existing.Data()
	if doc == nil {
		doc = make(map[string]interface{})
	}
	for field, val := range data {
		applyField(doc, field, val, now)
	}
	return t.write(path, doc)
}

func (t *txn) Update(path string, fields map[string]interface{}) error {
	existing, err := readDoc(t.bt, path)
	if err != nil {
		return err
	}
	if !existing.Exists() {
		return engine.ErrNotFound
	}
	doc := existing.Data()
	now := time.Now()
	for field, val := range fields {
		applyField(doc, field, val, now)
	}
	return t.write(path, doc)
}

func (t *txn) Delete(path string) error {
	t.wrote = true
	if err := t.bt.Delete([]byte(path)); err != nil {
		return fmt.Errorf("failed to delete %q: %w", path, err)
	}
	return nil
}

func (t *txn) write(path string, doc map[string]interface{}) error {
	t.wrote = true
	raw, err := encodeDoc(doc)
	if err != nil {
		return fmt.Errorf("failed to encode %q: %w", path, err)
	}
	if err := t.bt.Set([]byte(path), raw); err != nil {
		return fmt.Errorf("failed to write %q: %w", path, err)
	}
	return nil
}

// applyField applies one dot-path patch onto doc, interpreting the marker
// values of the engine contract.
func applyField(doc map[string]interface{}, field string, val interface{}, now time.Time) {
	segs := strings.Split(field, ".")
	cur := doc
	for _, seg := range segs[:len(segs)-1] {
		next, ok := cur[seg].(map[string]interface{})
		if !ok {
			next = make(map[string]interface{})
			cur[seg] = next
		}
		cur = next
	}
	leaf := segs[len(segs)-1]

	switch v := val.(type) {
	case engine.ArrayUnion:
		arr, _ := cur[leaf].([]interface{})
		for _, item := range v.Values {
			item = resolveValue(item, now)
			found := false
			for _, have := range arr {
				if engine.ValuesEqual(have, item) {
					found = true
					break
				}
			}
			if !found {
				arr = append(arr, item)
			}
		}
		cur[leaf] = arr
	case engine.ArrayRemove:
		arr, _ := cur[leaf].([]interface{})
		var kept []interface{}
		for _, have := range arr {
			remove := false
			for _, item := range v.Values {
				if engine.ValuesEqual(have, resolveValue(item, now)) {
					remove = true
					break
				}
			}
			if !remove {
				kept = append(kept, have)
			}
		}
		cur[leaf] = kept
	default:
		resolved := resolveValue(val, now)
		if _, deleted := resolved.(deleteSentinel); deleted {
			delete(cur, leaf)
			return
		}
		cur[leaf] = resolved
	}
}

type deleteSentinel struct{}

// resolveDoc resolves marker values in a full-document write.
func resolveDoc(data map[string]interface{}, now time.Time) map[string]interface{} {
	out := make(map[string]interface{}, len(data))
	for k, v := range data {
		resolved := resolveValue(v, now)
		if _, deleted := resolved.(deleteSentinel); deleted {
			continue
		}
		out[k] = resolved
	}
	return out
}

func resolveValue(val interface{}, now time.Time) interface{} {
	switch v := val.(type) {
	case nil:
		return nil
	case map[string]interface{}:
		return resolveDoc(v, now)
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = resolveValue(item, now)
		}
		return out
	case engine.ArrayUnion:
		// Outside a patch context a union is just its values.
		return resolveValue(v.Values, now)
	case engine.ArrayRemove:
		return []interface{}{}
	default:
		if val == engine.ServerTimestamp {
			return engine.NewTimestamp(now)
		}
		if val == engine.Delete {
			return deleteSentinel{}
		}
		return val
	}
}
