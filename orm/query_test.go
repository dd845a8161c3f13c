package orm

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcyondb/halcyon/collection"
	"github.com/halcyondb/halcyon/engine"
	"github.com/halcyondb/halcyon/engine/badgerengine"
	"github.com/halcyondb/halcyon/errs"
	"github.com/halcyondb/halcyon/refs"
	"github.com/halcyondb/halcyon/types"
)

func builderModels() []*types.Model {
	return []*types.Model{
		{
			Name:       "article",
			Collection: "articles",
			Attributes: map[string]*types.Attribute{
				"title":     {Name: "title", Scalar: &types.Scalar{Type: types.TypeString}},
				"views":     {Name: "views", Scalar: &types.Scalar{Type: types.TypeInteger}},
				"secret":    {Name: "secret", Scalar: &types.Scalar{Type: types.TypePassword}},
				"published": {Name: "published", Scalar: &types.Scalar{Type: types.TypeBoolean}},
				"seo":       {Name: "seo", Component: &types.ComponentAttr{ModelName: "seo"}},
				"author": {Name: "author", Relation: &types.Association{
					Alias: "author", TargetName: "author",
					Cardinality: types.One, Dominant: true, Via: "articles",
				}},
			},
			Options: types.Options{AllowNonNativeQueries: true, MaxQuerySize: 100},
		},
		{
			Name:       "author",
			Collection: "authors",
			Attributes: map[string]*types.Attribute{
				"name": {Name: "name", Scalar: &types.Scalar{Type: types.TypeString}},
				"articles": {Name: "articles", Relation: &types.Association{
					Alias: "articles", TargetName: "article",
					Cardinality: types.Many, Via: "author",
				}},
			},
		},
		{
			Name:        "seo",
			Collection:  "components::seo",
			IsComponent: true,
			Attributes: map[string]*types.Attribute{
				"metaTitle": {Name: "metaTitle", Scalar: &types.Scalar{Type: types.TypeString}},
			},
		},
		{
			Name:       "book",
			Collection: "books",
			Attributes: map[string]*types.Attribute{
				"title": {Name: "title", Scalar: &types.Scalar{Type: types.TypeString}},
			},
			Options: types.Options{SearchAttribute: "title"},
		},
		{
			Name:       "ledger",
			Collection: "ledgers",
			Attributes: map[string]*types.Attribute{
				"amount": {Name: "amount", Scalar: &types.Scalar{Type: types.TypeInteger}},
			},
			Options: types.Options{SearchAttribute: "amount"},
		},
		{
			Name:       "vault",
			Collection: "vaults",
			Attributes: map[string]*types.Attribute{
				"pin": {Name: "pin", Scalar: &types.Scalar{Type: types.TypePassword}},
			},
			Options: types.Options{SearchAttribute: "pin"},
		},
		{
			Name:       "blob",
			Collection: "blobs",
			Attributes: map[string]*types.Attribute{
				"meta": {Name: "meta", Scalar: &types.Scalar{Type: types.TypeJSON}},
				"flag": {Name: "flag", Scalar: &types.Scalar{Type: types.TypeBoolean}},
			},
			Options: types.Options{AllowNonNativeQueries: true},
		},
	}
}

func newBuilder(t *testing.T) (*Builder, *types.Registry) {
	t.Helper()
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	reg, err := types.NewRegistry(builderModels(), log)
	require.NoError(t, err)
	return NewBuilder(reg, log), reg
}

func builderRoot(t *testing.T, reg *types.Registry, name string) collection.Queryable {
	t.Helper()
	m, ok := reg.Model(name)
	require.True(t, ok)
	return collection.NewCollectionQuery(m, reg.Log())
}

// rootReader adapts the engine root for transaction-free plan execution.
type rootReader struct{ eng engine.Engine }

func (r rootReader) Get(path string) (engine.Snapshot, error) {
	return r.eng.Get(context.Background(), path)
}
func (r rootReader) GetAll(paths []string) ([]engine.Snapshot, error) {
	return r.eng.GetAll(context.Background(), paths)
}
func (r rootReader) RunQuery(q engine.Query) ([]engine.Snapshot, error) {
	return r.eng.RunQuery(context.Background(), q)
}

func seedDocs(t *testing.T, docs map[string]map[string]interface{}) engine.Engine {
	t.Helper()
	eng, err := badgerengine.OpenInMemory(nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })
	err = eng.RunTransaction(context.Background(), func(native engine.Txn) error {
		for path, data := range docs {
			if cerr := native.Create(path, data); cerr != nil {
				return cerr
			}
		}
		return nil
	})
	require.NoError(t, err)
	return eng
}

func planIDs(t *testing.T, plan *Plan, eng engine.Engine) []string {
	t.Helper()
	require.NotNil(t, plan.Query, "plan has no query to execute")
	res, err := plan.Query.Get(rootReader{eng})
	require.NoError(t, err)
	out := make([]string, len(res.Docs))
	for i, d := range res.Docs {
		out[i] = d.Ref.ID()
	}
	return out
}

func intp(n int) *int { return &n }

func TestPrefixSuccessor(t *testing.T) {
	cases := []struct{ in, want string }{
		{"abc", "abd"},
		{"go", "gp"},
		{"a\xff", "b"},
		{"go\xff", "gp"},
		{"\xff\xff", ""},
		{"", ""},
	}
	for _, c := range cases {
		if got := prefixSuccessor(c.in); got != c.want {
			t.Errorf("prefixSuccessor(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestSlicePage(t *testing.T) {
	ids := []string{"a", "b", "c", "d", "e"}
	cases := []struct {
		name         string
		start, limit *int
		want         []string
	}{
		{"unsliced", nil, nil, []string{"a", "b", "c", "d", "e"}},
		{"offset", intp(2), nil, []string{"c", "d", "e"}},
		{"limit", nil, intp(2), []string{"a", "b"}},
		{"both", intp(1), intp(2), []string{"b", "c"}},
		{"offset past end", intp(9), nil, []string{}},
		{"oversize limit", nil, intp(9), []string{"a", "b", "c", "d", "e"}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, slicePage(ids, c.start, c.limit))
		})
	}
}

func TestPrimaryKeyShortcut(t *testing.T) {
	b, reg := newBuilder(t)
	root := builderRoot(t, reg, "article")

	t.Run("bare id", func(t *testing.T) {
		plan, err := b.Build(root, types.Params{Where: []types.WhereClause{
			{Field: "id", Operator: types.OpEq, Value: "a1"},
		}}, false)
		require.NoError(t, err)
		require.True(t, plan.Shortcut())
		assert.Equal(t, []string{"a1"}, plan.IDs)
	})

	t.Run("full path", func(t *testing.T) {
		plan, err := b.Build(root, types.Params{Where: []types.WhereClause{
			{Field: "id", Operator: types.OpEq, Value: "articles/a1"},
		}}, false)
		require.NoError(t, err)
		require.True(t, plan.Shortcut())
		assert.Equal(t, []string{"a1"}, plan.IDs)
	})

	t.Run("path in the wrong collection", func(t *testing.T) {
		plan, err := b.Build(root, types.Params{Where: []types.WhereClause{
			{Field: "id", Operator: types.OpEq, Value: "tags/a1"},
		}}, false)
		require.NoError(t, err)
		assert.False(t, plan.Shortcut())
		assert.NotNil(t, plan.Query)
	})

	t.Run("reference operand", func(t *testing.T) {
		plan, err := b.Build(root, types.Params{Where: []types.WhereClause{
			{Field: "id", Operator: types.OpEq, Value: refs.DirectRef{Collection: "articles", DocID: "a1"}},
		}}, false)
		require.NoError(t, err)
		require.True(t, plan.Shortcut())
		assert.Equal(t, []string{"a1"}, plan.IDs)
	})

	t.Run("in list with paging", func(t *testing.T) {
		plan, err := b.Build(root, types.Params{
			Where: []types.WhereClause{{Field: "id", Operator: types.OpIn,
				Value: []interface{}{"a", "b", "c", "d", "e"}}},
			Start: intp(1),
			Limit: intp(2),
		}, false)
		require.NoError(t, err)
		require.True(t, plan.Shortcut())
		assert.Equal(t, []string{"b", "c"}, plan.IDs)
	})

	t.Run("in without a list", func(t *testing.T) {
		_, err := b.Build(root, types.Params{Where: []types.WhereClause{
			{Field: "id", Operator: types.OpIn, Value: "a1"},
		}}, false)
		assert.True(t, errs.IsBadRequest(err), "err = %v", err)
	})

	t.Run("extra clause disables the shortcut", func(t *testing.T) {
		plan, err := b.Build(root, types.Params{Where: []types.WhereClause{
			{Field: "id", Operator: types.OpEq, Value: "a1"},
			{Field: "views", Operator: types.OpGt, Value: 10},
		}}, false)
		require.NoError(t, err)
		assert.False(t, plan.Shortcut())
	})

	t.Run("non-pk equality", func(t *testing.T) {
		plan, err := b.Build(root, types.Params{Where: []types.WhereClause{
			{Field: "title", Operator: types.OpEq, Value: "T"},
		}}, false)
		require.NoError(t, err)
		assert.False(t, plan.Shortcut())
	})
}

func TestSearchDesignatedStringAttribute(t *testing.T) {
	b, reg := newBuilder(t)
	root := builderRoot(t, reg, "book")
	eng := seedDocs(t, map[string]map[string]interface{}{
		"books/b1": {"title": "Go in Action"},
		"books/b2": {"title": "Going places"},
		"books/b3": {"title": "Rust"},
	})

	plan, err := b.Build(root, types.Params{Search: "Go"}, true)
	require.NoError(t, err)
	require.False(t, plan.Shortcut())
	require.False(t, plan.Empty)

	got := planIDs(t, plan, eng)
	assert.ElementsMatch(t, []string{"b1", "b2"}, got, "prefix range must match both Go titles")
}

func TestSearchDesignatedTypedAttribute(t *testing.T) {
	b, reg := newBuilder(t)
	root := builderRoot(t, reg, "ledger")
	eng := seedDocs(t, map[string]map[string]interface{}{
		"ledgers/l1": {"amount": int64(42)},
		"ledgers/l2": {"amount": int64(7)},
	})

	plan, err := b.Build(root, types.Params{Search: "42"}, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"l1"}, planIDs(t, plan, eng))

	// A term the attribute's type cannot hold provably matches nothing.
	plan, err = b.Build(root, types.Params{Search: "not-a-number"}, true)
	require.NoError(t, err)
	assert.True(t, plan.Empty)
}

func TestSearchRejectsUnsearchableDesignations(t *testing.T) {
	b, reg := newBuilder(t)

	_, err := b.Build(builderRoot(t, reg, "vault"), types.Params{Search: "1234"}, true)
	assert.True(t, errs.IsUnsupported(err), "password search err = %v", err)
}

func TestSearchFanOut(t *testing.T) {
	b, reg := newBuilder(t)
	root := builderRoot(t, reg, "article")
	eng := seedDocs(t, map[string]map[string]interface{}{
		"articles/a1": {"title": "Go time", "views": int64(1)},
		"articles/a2": {"title": "other", "views": int64(2)},
	})

	plan, err := b.Build(root, types.Params{Search: "go"}, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"a1"}, planIDs(t, plan, eng), "substring match on string attributes")

	plan, err = b.Build(root, types.Params{Search: "2"}, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"a2"}, planIDs(t, plan, eng), "numeric terms match typed equality")
}

func TestSearchFanOutWithoutSearchableAttributes(t *testing.T) {
	b, reg := newBuilder(t)

	plan, err := b.Build(builderRoot(t, reg, "blob"), types.Params{Search: "x"}, true)
	require.NoError(t, err)
	assert.True(t, plan.Empty)
}

func TestSearchIgnoredWhenNotAllowed(t *testing.T) {
	b, reg := newBuilder(t)

	plan, err := b.Build(builderRoot(t, reg, "book"), types.Params{Search: "Go"}, false)
	require.NoError(t, err)
	assert.False(t, plan.Empty)
	assert.NotNil(t, plan.Query, "the term is dropped and the general path applies")
}

func TestSortRules(t *testing.T) {
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	reg, err := types.NewRegistry(builderModels(), log)
	require.NoError(t, err)
	b := NewBuilder(reg, log)
	root := builderRoot(t, reg, "article")

	t.Run("password sort rejected", func(t *testing.T) {
		_, err := b.Build(root, types.Params{
			Sort: []types.SortClause{{Field: "secret"}},
		}, false)
		assert.True(t, errs.IsUnsupported(err), "err = %v", err)
	})

	t.Run("pk sort dropped on filtered queries", func(t *testing.T) {
		hook.Reset()
		_, err := b.Build(root, types.Params{
			Where: []types.WhereClause{{Field: "views", Operator: types.OpGt, Value: 10}},
			Sort:  []types.SortClause{{Field: "id"}},
		}, false)
		require.NoError(t, err)
		dropped := false
		for _, e := range hook.AllEntries() {
			if e.Message == "dropping primary-key sort on a filtered query" {
				dropped = true
			}
		}
		assert.True(t, dropped)
	})

	t.Run("pk sort kept on unfiltered queries", func(t *testing.T) {
		hook.Reset()
		_, err := b.Build(root, types.Params{
			Sort: []types.SortClause{{Field: "id"}},
		}, false)
		require.NoError(t, err)
		for _, e := range hook.AllEntries() {
			assert.NotEqual(t, "dropping primary-key sort on a filtered query", e.Message)
		}
	})
}

func TestTypedFilterOperands(t *testing.T) {
	b, reg := newBuilder(t)
	root := builderRoot(t, reg, "article")

	t.Run("password filter rejected", func(t *testing.T) {
		_, err := b.Build(root, types.Params{Where: []types.WhereClause{
			{Field: "secret", Operator: types.OpEq, Value: "x"},
		}}, false)
		assert.True(t, errs.IsUnsupported(err), "err = %v", err)
	})

	t.Run("unparsable operand rejected", func(t *testing.T) {
		_, err := b.Build(root, types.Params{Where: []types.WhereClause{
			{Field: "views", Operator: types.OpEq, Value: "many"},
		}}, false)
		assert.True(t, errs.IsBadRequest(err), "err = %v", err)
	})

	t.Run("in requires a list", func(t *testing.T) {
		_, err := b.Build(root, types.Params{Where: []types.WhereClause{
			{Field: "views", Operator: types.OpIn, Value: 3},
		}}, false)
		assert.True(t, errs.IsBadRequest(err), "err = %v", err)
	})

	t.Run("component dot-path resolves", func(t *testing.T) {
		plan, err := b.Build(root, types.Params{Where: []types.WhereClause{
			{Field: "seo.metaTitle", Operator: types.OpEq, Value: "Hi"},
		}}, false)
		require.NoError(t, err)
		assert.NotNil(t, plan.Query)
	})

	t.Run("empty relation operand rejected", func(t *testing.T) {
		for _, val := range []interface{}{"", nil} {
			_, err := b.Build(root, types.Params{Where: []types.WhereClause{
				{Field: "author", Operator: types.OpEq, Value: val},
			}}, false)
			assert.True(t, errs.IsBadRequest(err), "value %#v: err = %v", val, err)
		}
		_, err := b.Build(root, types.Params{Where: []types.WhereClause{
			{Field: "author", Operator: types.OpIn, Value: []interface{}{"bob", ""}},
		}}, false)
		assert.True(t, errs.IsBadRequest(err), "err = %v", err)
	})

	t.Run("relation operand stored as wire value", func(t *testing.T) {
		eng := seedDocs(t, map[string]map[string]interface{}{
			"articles/x1": {"title": "T", "author": engine.DocPointer("authors/bob")},
			"articles/x2": {"title": "U", "author": engine.DocPointer("authors/al")},
		})
		plan, err := b.Build(root, types.Params{Where: []types.WhereClause{
			{Field: "author", Operator: types.OpEq, Value: "bob"},
		}}, false)
		require.NoError(t, err)
		assert.Equal(t, []string{"x1"}, planIDs(t, plan, eng))
	})
}

func TestOrGroups(t *testing.T) {
	b, reg := newBuilder(t)
	root := builderRoot(t, reg, "article")
	eng := seedDocs(t, map[string]map[string]interface{}{
		"articles/a1": {"title": "x", "views": int64(20)},
		"articles/a2": {"title": "Draft", "views": int64(1)},
		"articles/a3": {"title": "y", "views": int64(1)},
	})

	plan, err := b.Build(root, types.Params{Where: []types.WhereClause{
		{Operator: types.OpOr, Value: [][]types.WhereClause{
			{{Field: "views", Operator: types.OpGte, Value: 10}},
			{{Field: "title", Operator: types.OpEq, Value: "Draft"}},
		}},
	}}, false)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a1", "a2"}, planIDs(t, plan, eng))

	_, err = b.Build(root, types.Params{Where: []types.WhereClause{
		{Operator: types.OpOr, Value: "not-groups"},
	}}, false)
	assert.True(t, errs.IsBadRequest(err), "err = %v", err)
}
