package badgerengine

import (
	"context"
	"testing"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcyondb/halcyon/engine"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenInMemory(nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func put(t *testing.T, s *Store, path string, data map[string]interface{}) {
	t.Helper()
	err := s.RunTransaction(context.Background(), func(bt engine.Txn) error {
		return bt.Set(path, data, false)
	})
	require.NoError(t, err)
}

func TestCreateAndGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	err := s.RunTransaction(ctx, func(bt engine.Txn) error {
		return bt.Create("articles/a", map[string]interface{}{"title": "first", "views": int64(3)})
	})
	require.NoError(t, err)

	snap, err := s.Get(ctx, "articles/a")
	require.NoError(t, err)
	assert.True(t, snap.Exists())
	assert.Equal(t, "first", snap.Data()["title"])
	assert.Equal(t, int64(3), snap.Data()["views"])

	missing, err := s.Get(ctx, "articles/nope")
	require.NoError(t, err)
	assert.False(t, missing.Exists())

	err = s.RunTransaction(ctx, func(bt engine.Txn) error {
		return bt.Create("articles/a", map[string]interface{}{})
	})
	assert.ErrorIs(t, err, engine.ErrExists)
}

func TestValueRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	when := time.Date(2026, 3, 14, 9, 26, 53, 589000000, time.UTC)

	put(t, s, "docs/x", map[string]interface{}{
		"ts":    engine.NewTimestamp(when),
		"ref":   engine.DocPointer("authors/alice"),
		"int":   int64(9007199254740993),
		"float": 2.5,
		"list":  []interface{}{"a", int64(1)},
		"map":   map[string]interface{}{"k": "v"},
	})

	snap, err := s.Get(ctx, "docs/x")
	require.NoError(t, err)
	data := snap.Data()
	assert.Equal(t, engine.NewTimestamp(when), data["ts"])
	assert.Equal(t, engine.DocPointer("authors/alice"), data["ref"])
	assert.Equal(t, int64(9007199254740993), data["int"])
	assert.Equal(t, 2.5, data["float"])
	assert.Equal(t, []interface{}{"a", int64(1)}, data["list"])
	assert.Equal(t, map[string]interface{}{"k": "v"}, data["map"])
}

func TestReadAfterWriteForbidden(t *testing.T) {
	s := openTestStore(t)
	err := s.RunTransaction(context.Background(), func(bt engine.Txn) error {
		if err := bt.Set("docs/a", map[string]interface{}{"v": 1}, false); err != nil {
			return err
		}
		_, err := bt.Get("docs/a")
		return err
	})
	assert.ErrorIs(t, err, engine.ErrReadAfterWrite)
}

func TestUpdate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	put(t, s, "docs/u", map[string]interface{}{
		"keep": "v",
		"nested": map[string]interface{}{
			"a": "old",
		},
		"arr": []interface{}{"x"},
	})

	err := s.RunTransaction(ctx, func(bt engine.Txn) error {
		return bt.Update("docs/u", map[string]interface{}{
			"nested.a": "new",
			"nested.b": "added",
			"gone":     engine.Delete,
			"arr":      engine.ArrayUnion{Values: []interface{}{"x", "y"}},
		})
	})
	require.NoError(t, err)

	snap, err := s.Get(ctx, "docs/u")
	require.NoError(t, err)
	data := snap.Data()
	assert.Equal(t, "v", data["keep"])
	assert.Equal(t, map[string]interface{}{"a": "new", "b": "added"}, data["nested"])
	assert.Equal(t, []interface{}{"x", "y"}, data["arr"], "union must deduplicate")

	err = s.RunTransaction(ctx, func(bt engine.Txn) error {
		return bt.Update("docs/u", map[string]interface{}{
			"arr": engine.ArrayRemove{Values: []interface{}{"x"}},
		})
	})
	require.NoError(t, err)
	snap, err = s.Get(ctx, "docs/u")
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"y"}, snap.Data()["arr"])

	err = s.RunTransaction(ctx, func(bt engine.Txn) error {
		return bt.Update("docs/missing", map[string]interface{}{"v": 1})
	})
	assert.ErrorIs(t, err, engine.ErrNotFound)
}

func TestSetMergePreservesSiblings(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	put(t, s, "app/settings", map[string]interface{}{
		"red":  map[string]interface{}{"hex": "#f00"},
		"blue": map[string]interface{}{"hex": "#00f"},
	})

	err := s.RunTransaction(ctx, func(bt engine.Txn) error {
		return bt.Set("app/settings", map[string]interface{}{
			"red.hex": "#e00",
			"blue":    engine.Delete,
		}, true)
	})
	require.NoError(t, err)

	snap, err := s.Get(ctx, "app/settings")
	require.NoError(t, err)
	data := snap.Data()
	assert.Equal(t, map[string]interface{}{"hex": "#e00"}, data["red"])
	_, hasBlue := data["blue"]
	assert.False(t, hasBlue, "Delete marker must remove the field group")

	// Merge onto a missing document creates it.
	err = s.RunTransaction(ctx, func(bt engine.Txn) error {
		return bt.Set("app/other", map[string]interface{}{}, true)
	})
	require.NoError(t, err)
	snap, err = s.Get(ctx, "app/other")
	require.NoError(t, err)
	assert.True(t, snap.Exists())
}

func TestRunQuery(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	put(t, s, "articles/a", map[string]interface{}{"views": int64(10), "tag": "go"})
	put(t, s, "articles/b", map[string]interface{}{"views": int64(30), "tag": "db"})
	put(t, s, "articles/c", map[string]interface{}{"views": int64(20), "tag": "go"})
	put(t, s, "others/zz", map[string]interface{}{"views": int64(99)})

	snaps, err := s.RunQuery(ctx, engine.Query{
		Collection: "articles",
		Filters:    []engine.Filter{{Field: "tag", Op: engine.OpEq, Value: "go"}},
		Orders:     []engine.Order{{Field: "views", Descending: true}},
	})
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, "articles/c", snaps[0].Path())
	assert.Equal(t, "articles/a", snaps[1].Path())

	// Cursor continuation.
	first, err := s.RunQuery(ctx, engine.Query{Collection: "articles", Limit: 1,
		Orders: []engine.Order{{Field: "views"}}})
	require.NoError(t, err)
	require.Len(t, first, 1)
	rest, err := s.RunQuery(ctx, engine.Query{Collection: "articles",
		Orders: []engine.Order{{Field: "views"}}, StartAfter: &first[0]})
	require.NoError(t, err)
	require.Len(t, rest, 2)
	assert.Equal(t, "articles/c", rest[0].Path())

	// Offset and limit.
	page, err := s.RunQuery(ctx, engine.Query{Collection: "articles",
		Orders: []engine.Order{{Field: "views"}}, Offset: 1, Limit: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "articles/c", page[0].Path())
}

func TestConflict(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	put(t, s, "docs/c", map[string]interface{}{"n": int64(0)})

	// Two transactions read the same document; the second commit must fail.
	first := s.db.NewTransaction(true)
	defer first.Discard()
	t1 := &txn{bt: first}
	_, err := t1.Get("docs/c")
	require.NoError(t, err)
	require.NoError(t, t1.Set("docs/c", map[string]interface{}{"n": int64(1)}, false))

	err = s.RunTransaction(ctx, func(bt engine.Txn) error {
		if _, err := bt.Get("docs/c"); err != nil {
			return err
		}
		return bt.Set("docs/c", map[string]interface{}{"n": int64(2)}, false)
	})
	require.NoError(t, err)

	err = first.Commit()
	assert.ErrorIs(t, err, badger.ErrConflict)
}
