package types

import (
	"strings"
	"testing"
)

func scalar(t ScalarType) *Attribute { return &Attribute{Scalar: &Scalar{Type: t}} }

func twoSided(dominant bool) []*Model {
	return []*Model{
		{
			Name: "article",
			Attributes: map[string]*Attribute{
				"title": scalar(TypeString),
				"author": {Relation: &Association{
					TargetName: "author", Cardinality: One, Dominant: dominant, Via: "articles",
				}},
			},
		},
		{
			Name: "author",
			Attributes: map[string]*Attribute{
				"articles": {Relation: &Association{
					TargetName: "article", Cardinality: Many, Via: "author",
				}},
			},
		},
	}
}

func TestNewRegistryWiresMirrors(t *testing.T) {
	reg, err := NewRegistry(twoSided(true), nil)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	article, ok := reg.Model("article")
	if !ok {
		t.Fatal("article model not mounted")
	}
	if article.PrimaryKey != "id" {
		t.Errorf("default primary key = %q, want id", article.PrimaryKey)
	}
	if article.Collection != "article" {
		t.Errorf("default collection = %q", article.Collection)
	}
	assocs := article.Associations()
	if len(assocs) != 1 {
		t.Fatalf("article has %d associations, want 1", len(assocs))
	}
	a := assocs[0]
	if a.Alias != "author" || a.Owner() != article {
		t.Errorf("association not mounted onto its owner: %+v", a)
	}
	if a.Mirror() == nil || a.Mirror().Alias != "articles" {
		t.Errorf("mirror not wired: %+v", a.Mirror())
	}
	if a.Target() == nil || a.Target().Name != "author" {
		t.Errorf("target not resolved: %+v", a.Target())
	}
}

func TestAssociationsOrderedByAlias(t *testing.T) {
	models := []*Model{
		{
			Name: "a",
			Attributes: map[string]*Attribute{
				"zeta":  {Relation: &Association{TargetName: "b", Cardinality: One, Dominant: true}},
				"alpha": {Relation: &Association{TargetName: "b", Cardinality: One, Dominant: true}},
				"mid":   {Relation: &Association{TargetName: "b", Cardinality: One, Dominant: true}},
			},
		},
		{Name: "b"},
	}
	reg, err := NewRegistry(models, nil)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	m, _ := reg.Model("a")
	assocs := m.Associations()
	want := []string{"alpha", "mid", "zeta"}
	if len(assocs) != len(want) {
		t.Fatalf("got %d associations, want %d", len(assocs), len(want))
	}
	for i, alias := range want {
		if assocs[i].Alias != alias {
			t.Errorf("Associations()[%d].Alias = %q, want %q", i, assocs[i].Alias, alias)
		}
	}
}

func TestNewRegistryConfigErrors(t *testing.T) {
	tests := []struct {
		name    string
		models  []*Model
		wantSub string
	}{
		{
			"duplicate name",
			[]*Model{{Name: "a"}, {Name: "a"}},
			"duplicate model name",
		},
		{
			"shared collection",
			[]*Model{{Name: "a", Collection: "c"}, {Name: "b", Collection: "c"}},
			"share collection",
		},
		{
			"attribute with no kind",
			[]*Model{{Name: "a", Attributes: map[string]*Attribute{"x": {}}}},
			"exactly one kind",
		},
		{
			"unknown relation target",
			[]*Model{{Name: "a", Attributes: map[string]*Attribute{
				"r": {Relation: &Association{TargetName: "ghost", Cardinality: One, Dominant: true}},
			}}},
			"unknown model",
		},
		{
			"invalid cardinality",
			[]*Model{{Name: "a", Attributes: map[string]*Attribute{
				"r": {Relation: &Association{TargetName: "a", Cardinality: "some"}},
			}}},
			"invalid cardinality",
		},
		{
			"morph without filter",
			[]*Model{{Name: "a", Attributes: map[string]*Attribute{
				"r": {Relation: &Association{TargetName: MorphTarget, Cardinality: One, Dominant: true}},
			}}},
			"filter field",
		},
		{
			"missing via attribute",
			[]*Model{
				{Name: "a", Attributes: map[string]*Attribute{
					"r": {Relation: &Association{TargetName: "b", Cardinality: One, Dominant: true, Via: "ghost"}},
				}},
				{Name: "b"},
			},
			"via attribute",
		},
		{
			"neither side dominant",
			twoSided(false),
			"neither side is dominant",
		},
		{
			"unknown component model",
			[]*Model{{Name: "a", Attributes: map[string]*Attribute{
				"c": {Component: &ComponentAttr{ModelName: "ghost"}},
			}}},
			"unknown model",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRegistry(tt.models, nil)
			if err == nil {
				t.Fatal("NewRegistry() succeeded, want config error")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("error %q does not mention %q", err, tt.wantSub)
			}
		})
	}
}

func TestModelDocPath(t *testing.T) {
	plain := &Model{Name: "a", Collection: "articles"}
	if got := plain.DocPath("x"); got != "articles/x" {
		t.Errorf("DocPath = %q", got)
	}
	flat := &Model{Name: "s", Collection: "settings", Options: Options{Flatten: "app/settings"}}
	if !flat.Flattened() {
		t.Fatal("Flattened() = false")
	}
	if got := flat.DocPath("x"); got != "app/settings" {
		t.Errorf("flattened DocPath = %q", got)
	}
}
