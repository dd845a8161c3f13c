package refs

import (
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/halcyondb/halcyon/engine"
	"github.com/halcyondb/halcyon/errs"
	"github.com/halcyondb/halcyon/types"
)

func testCoercer(t *testing.T) (*Coercer, *types.Registry) {
	t.Helper()
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	reg, err := types.NewRegistry([]*types.Model{
		{Name: "article", Collection: "articles"},
		{Name: "setting", Collection: "settings", Options: types.Options{Flatten: "app/settings"}},
	}, log)
	if err != nil {
		t.Fatalf("failed to mount models: %v", err)
	}
	return &Coercer{Reg: reg, Log: log}, reg
}

func TestCoerce(t *testing.T) {
	c, reg := testCoercer(t)
	article, _ := reg.Model("article")
	setting, _ := reg.Model("setting")
	strict := CoerceOptions{Strict: true}

	t.Run("nil", func(t *testing.T) {
		ref, err := c.Coerce(nil, article, strict)
		if err != nil || ref != nil {
			t.Errorf("Coerce(nil) = %v, %v", ref, err)
		}
	})

	t.Run("bare id against target", func(t *testing.T) {
		ref, err := c.Coerce("a1", article, strict)
		if err != nil {
			t.Fatal(err)
		}
		if ref.Path() != "articles/a1" {
			t.Errorf("path = %q", ref.Path())
		}
	})

	t.Run("bare id against flattened target", func(t *testing.T) {
		ref, err := c.Coerce("s1", setting, strict)
		if err != nil {
			t.Fatal(err)
		}
		if _, ok := ref.(DeepRef); !ok {
			t.Errorf("flattened target must yield a deep reference, got %T", ref)
		}
	})

	t.Run("bare id without target", func(t *testing.T) {
		_, err := c.Coerce("a1", nil, strict)
		if !errs.IsBadRequest(err) {
			t.Errorf("err = %v, want bad request", err)
		}
	})

	t.Run("stored pointer", func(t *testing.T) {
		ref, err := c.Coerce(engine.DocPointer("articles/a1"), article, strict)
		if err != nil {
			t.Fatal(err)
		}
		if !ref.Equal(DirectRef{Collection: "articles", DocID: "a1"}) {
			t.Errorf("ref = %v", ref)
		}
	})

	t.Run("wire shape with id is deep", func(t *testing.T) {
		ref, err := c.Coerce(map[string]interface{}{
			"ref": engine.DocPointer("app/settings"),
			"id":  "s1",
		}, setting, strict)
		if err != nil {
			t.Fatal(err)
		}
		deep, ok := ref.(DeepRef)
		if !ok || deep.FieldPath() != "s1" {
			t.Errorf("ref = %#v", ref)
		}
	})

	t.Run("morph wire shape", func(t *testing.T) {
		ref, err := c.Coerce(map[string]interface{}{
			"ref":  "articles/a1",
			"kind": "comments",
		}, nil, CoerceOptions{Strict: true, FilterField: "kind"})
		if err != nil {
			t.Fatal(err)
		}
		morph, ok := ref.(MorphRef)
		if !ok || morph.FilterValue != "comments" {
			t.Errorf("ref = %#v", ref)
		}
	})

	t.Run("collection mismatch", func(t *testing.T) {
		_, err := c.Coerce(engine.DocPointer("authors/x"), article, strict)
		if !errs.IsBadRequest(err) {
			t.Errorf("err = %v, want bad request", err)
		}
	})

	t.Run("lenient mode drops bad values", func(t *testing.T) {
		ref, err := c.Coerce(engine.DocPointer("authors/x"), article, CoerceOptions{})
		if err != nil || ref != nil {
			t.Errorf("lenient Coerce = %v, %v", ref, err)
		}
	})
}

func TestCoerceList(t *testing.T) {
	c, reg := testCoercer(t)
	article, _ := reg.Model("article")
	strict := CoerceOptions{Strict: true}

	refs, err := c.CoerceList([]interface{}{"a1", engine.DocPointer("articles/a2")}, article, strict)
	if err != nil {
		t.Fatal(err)
	}
	if len(refs) != 2 || refs[0].ID() != "a1" || refs[1].ID() != "a2" {
		t.Errorf("refs = %v", refs)
	}

	// A single value coerces to a one-element list.
	refs, err = c.CoerceList("a1", article, strict)
	if err != nil || len(refs) != 1 {
		t.Errorf("single value list = %v, %v", refs, err)
	}

	refs, err = c.CoerceList(nil, article, strict)
	if err != nil || refs != nil {
		t.Errorf("nil list = %v, %v", refs, err)
	}
}

func TestOwner(t *testing.T) {
	c, reg := testCoercer(t)
	article, _ := reg.Model("article")
	setting, _ := reg.Model("setting")

	if m, ok := c.Owner(DirectRef{Collection: "articles", DocID: "x"}); !ok || m != article {
		t.Errorf("Owner(direct) = %v, %v", m, ok)
	}
	deep := DeepRef{Host: DirectRef{Collection: "app", DocID: "settings"}, DocID: "x"}
	if m, ok := c.Owner(deep); !ok || m != setting {
		t.Errorf("Owner(deep) = %v, %v", m, ok)
	}
	if _, ok := c.Owner(DirectRef{Collection: "ghosts", DocID: "x"}); ok {
		t.Error("Owner resolved an unmounted collection")
	}
}
