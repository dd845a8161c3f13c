// Package testutil provides the shared test fixture: a mounted registry of
// representative models and a seeded in-memory engine, so tests exercise
// filtering, relations and population without building their own data.
package testutil

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/halcyondb/halcyon/engine"
	"github.com/halcyondb/halcyon/engine/badgerengine"
	"github.com/halcyondb/halcyon/orm"
	"github.com/halcyondb/halcyon/types"
)

// Universe provides typed access to the seeded fixture data.
type Universe struct {
	Registry *types.Registry
	Engine   engine.Engine
	Log      *logrus.Logger

	// Authors
	Alice string // writes GoRelease and BadgerDeepDive
	Bob   string // writes EmptyDraft

	// Articles
	GoRelease      string // published, tagged go+databases, 1200 views
	BadgerDeepDive string // published, tagged databases, 4000 views
	EmptyDraft     string // unpublished, untagged, 0 views

	// Tags
	TagGo        string
	TagDatabases string
}

// Models builds the fixture model set: articles with scalars, a component,
// a dynamic zone and relations; authors and tags mirroring the article
// relations; comments attached polymorphically; and a flattened settings
// model.
func Models() []*types.Model {
	return []*types.Model{
		{
			Name:       "article",
			Collection: "articles",
			Attributes: map[string]*types.Attribute{
				"title":       {Name: "title", Scalar: &types.Scalar{Type: types.TypeString}},
				"body":        {Name: "body", Scalar: &types.Scalar{Type: types.TypeRichText}},
				"views":       {Name: "views", Scalar: &types.Scalar{Type: types.TypeInteger}},
				"rating":      {Name: "rating", Scalar: &types.Scalar{Type: types.TypeFloat}},
				"serial":      {Name: "serial", Scalar: &types.Scalar{Type: types.TypeBigInteger}},
				"published":   {Name: "published", Scalar: &types.Scalar{Type: types.TypeBoolean}},
				"publishedAt": {Name: "publishedAt", Scalar: &types.Scalar{Type: types.TypeDateTime}},
				"secret":      {Name: "secret", Scalar: &types.Scalar{Type: types.TypePassword}},
				"meta":        {Name: "meta", Scalar: &types.Scalar{Type: types.TypeJSON}},
				"createdAt":   {Name: "createdAt", Scalar: &types.Scalar{Type: types.TypeTimestamp}},
				"updatedAt":   {Name: "updatedAt", Scalar: &types.Scalar{Type: types.TypeTimestamp}},
				"seo":         {Name: "seo", Component: &types.ComponentAttr{ModelName: "seo"}},
				"blocks": {Name: "blocks", DynamicZone: &types.DynamicZoneAttr{
					ModelNames: []string{"text-block", "quote-block"},
					Max:        5,
				}},
				"author": {Name: "author", Relation: &types.Association{
					Alias: "author", TargetName: "author",
					Cardinality: types.One, Dominant: true, Via: "articles",
				}},
				"tags": {Name: "tags", Relation: &types.Association{
					Alias: "tags", TargetName: "tag",
					Cardinality: types.Many, Dominant: true, Via: "articles",
				}},
				"comments": {Name: "comments", Relation: &types.Association{
					Alias: "comments", TargetName: "comment",
					Cardinality: types.Many, Dominant: true, Via: "subject",
				}},
			},
			Options: types.Options{
				MaxQuerySize:          100,
				AllowNonNativeQueries: true,
				EnsureComponentIDs:    true,
				CreatedAtField:        "createdAt",
				UpdatedAtField:        "updatedAt",
			},
		},
		{
			Name:       "author",
			Collection: "authors",
			Attributes: map[string]*types.Attribute{
				"name":  {Name: "name", Scalar: &types.Scalar{Type: types.TypeString}},
				"email": {Name: "email", Scalar: &types.Scalar{Type: types.TypeEmail}},
				"articles": {Name: "articles", Relation: &types.Association{
					Alias: "articles", TargetName: "article",
					Cardinality: types.Many, Via: "author",
				}},
			},
			Options: types.Options{AllowNonNativeQueries: true},
		},
		{
			Name:       "tag",
			Collection: "tags",
			Attributes: map[string]*types.Attribute{
				"name": {Name: "name", Scalar: &types.Scalar{Type: types.TypeString}},
				"articles": {Name: "articles", Relation: &types.Association{
					Alias: "articles", TargetName: "article",
					Cardinality: types.Many, Via: "tags",
				}},
			},
			Options: types.Options{AllowNonNativeQueries: true},
		},
		{
			Name:       "comment",
			Collection: "comments",
			Attributes: map[string]*types.Attribute{
				"text": {Name: "text", Scalar: &types.Scalar{Type: types.TypeText}},
				"subject": {Name: "subject", Relation: &types.Association{
					Alias: "subject", TargetName: types.MorphTarget,
					Cardinality: types.One, Dominant: true,
					Via: "comments", MorphFilter: "kind",
				}},
			},
			Options: types.Options{AllowNonNativeQueries: true},
		},
		{
			Name:        "seo",
			Collection:  "components::seo",
			IsComponent: true,
			Attributes: map[string]*types.Attribute{
				"metaTitle":       {Name: "metaTitle", Scalar: &types.Scalar{Type: types.TypeString}},
				"metaDescription": {Name: "metaDescription", Scalar: &types.Scalar{Type: types.TypeText}},
			},
		},
		{
			Name:        "text-block",
			Collection:  "components::text-block",
			IsComponent: true,
			Attributes: map[string]*types.Attribute{
				"text": {Name: "text", Scalar: &types.Scalar{Type: types.TypeText}},
			},
		},
		{
			Name:        "quote-block",
			Collection:  "components::quote-block",
			IsComponent: true,
			Attributes: map[string]*types.Attribute{
				"quote":  {Name: "quote", Scalar: &types.Scalar{Type: types.TypeText}},
				"source": {Name: "source", Scalar: &types.Scalar{Type: types.TypeString}},
			},
		},
		{
			Name:       "setting",
			Collection: "settings",
			Attributes: map[string]*types.Attribute{
				"key":   {Name: "key", Scalar: &types.Scalar{Type: types.TypeString}},
				"value": {Name: "value", Scalar: &types.Scalar{Type: types.TypeJSON}},
			},
			Options: types.Options{
				Flatten:               "app/settings",
				AllowNonNativeQueries: true,
				MaxQuerySize:          50,
			},
		},
	}
}

// NewRegistry mounts the fixture models.
func NewRegistry(t *testing.T) *types.Registry {
	t.Helper()
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	reg, err := types.NewRegistry(Models(), log)
	if err != nil {
		t.Fatalf("failed to mount fixture models: %v", err)
	}
	return reg
}

// NewEngine opens a throwaway in-memory engine.
func NewEngine(t *testing.T) engine.Engine {
	t.Helper()
	eng, err := badgerengine.OpenInMemory(nil)
	if err != nil {
		t.Fatalf("failed to open in-memory engine: %v", err)
	}
	t.Cleanup(func() { _ = eng.Close() })
	return eng
}

// LoadUniverse mounts the fixture models over a fresh in-memory engine and
// seeds the universe data through the repository, so every stored document
// went through the same write path production data would.
func LoadUniverse(t *testing.T) (*orm.Repository, *Universe) {
	t.Helper()
	reg := NewRegistry(t)
	eng := NewEngine(t)
	repo := orm.NewRepository(reg, eng)

	u := &Universe{Registry: reg, Engine: eng, Log: reg.Log()}

	u.Alice = create(t, repo, "author", map[string]interface{}{
		"id": "alice", "name": "Alice", "email": "alice@example.com",
	})
	u.Bob = create(t, repo, "author", map[string]interface{}{
		"id": "bob", "name": "Bob", "email": "bob@example.com",
	})
	u.TagGo = create(t, repo, "tag", map[string]interface{}{
		"id": "go", "name": "go",
	})
	u.TagDatabases = create(t, repo, "tag", map[string]interface{}{
		"id": "databases", "name": "databases",
	})

	u.GoRelease = create(t, repo, "article", map[string]interface{}{
		"id":          "go-release",
		"title":       "Go release notes",
		"body":        "What changed this cycle",
		"views":       1200,
		"rating":      4.5,
		"serial":      "9007199254740993",
		"published":   true,
		"publishedAt": "2026-02-10T09:00:00Z",
		"author":      u.Alice,
		"tags":        []interface{}{u.TagGo, u.TagDatabases},
		"seo": map[string]interface{}{
			"metaTitle":       "Go release notes",
			"metaDescription": "release highlights",
		},
	})
	u.BadgerDeepDive = create(t, repo, "article", map[string]interface{}{
		"id":        "badger-deep-dive",
		"title":     "Badger deep dive",
		"body":      "Transactions under the hood",
		"views":     4000,
		"rating":    4.9,
		"published": true,
		"author":    u.Alice,
		"tags":      []interface{}{u.TagDatabases},
	})
	u.EmptyDraft = create(t, repo, "article", map[string]interface{}{
		"id":        "empty-draft",
		"title":     "Draft",
		"views":     0,
		"published": false,
		"author":    u.Bob,
	})

	return repo, u
}

func create(t *testing.T, repo *orm.Repository, model string, data map[string]interface{}) string {
	t.Helper()
	e, err := repo.Create(context.Background(), model, data)
	if err != nil {
		t.Fatalf("failed to seed %s: %v", model, err)
	}
	m, _ := repo.Registry().Model(model)
	id, _ := e[m.PrimaryKey].(string)
	if id == "" {
		t.Fatalf("seeded %s has no id", model)
	}
	return id
}
