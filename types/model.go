// Package types holds the static model descriptors halcyon mounts at
// startup: attribute definitions, relation metadata, per-model options and
// the registry that resolves cross-model references once so request-time
// code never dispatches on strings.
package types

// ScalarType enumerates the declared types of scalar attributes.
type ScalarType string

const (
	TypeString     ScalarType = "string"
	TypeText       ScalarType = "text"
	TypeRichText   ScalarType = "richtext"
	TypeEmail      ScalarType = "email"
	TypeEnum       ScalarType = "enumeration"
	TypeUID        ScalarType = "uid"
	TypePassword   ScalarType = "password"
	TypeInteger    ScalarType = "integer"
	TypeBigInteger ScalarType = "biginteger"
	TypeFloat      ScalarType = "float"
	TypeDecimal    ScalarType = "decimal"
	TypeBoolean    ScalarType = "boolean"
	TypeDate       ScalarType = "date"
	TypeDateTime   ScalarType = "datetime"
	TypeTimestamp  ScalarType = "timestamp"
	TypeJSON       ScalarType = "json"
)

// Searchable reports whether cross-field search may include this type.
// Password, boolean, temporal and JSON attributes are excluded.
func (t ScalarType) Searchable() bool {
	switch t {
	case TypePassword, TypeBoolean, TypeDate, TypeDateTime, TypeTimestamp, TypeJSON:
		return false
	}
	return true
}

// StringLike reports whether values order lexicographically, which enables
// prefix-range search.
func (t ScalarType) StringLike() bool {
	switch t {
	case TypeString, TypeText, TypeRichText, TypeEmail, TypeEnum, TypeUID:
		return true
	}
	return false
}

// Numeric reports whether the type coerces through a numeric parse.
func (t ScalarType) Numeric() bool {
	switch t {
	case TypeInteger, TypeFloat, TypeDecimal:
		return true
	}
	return false
}

// Cardinality is the shape of a relation's value.
type Cardinality string

const (
	// One relations store a single reference.
	One Cardinality = "one"
	// Many relations store an array of references.
	Many Cardinality = "many"
)

// MorphTarget is the target name of polymorphic relations: the related model
// is resolved per-instance from the stored reference.
const MorphTarget = "*"

// Attribute is one attribute of a model. Exactly one of Scalar, Component,
// DynamicZone or Relation is set; the registry rejects anything else at
// mount time.
type Attribute struct {
	Name        string
	Scalar      *Scalar
	Component   *ComponentAttr
	DynamicZone *DynamicZoneAttr
	Relation    *Association
}

// Kind returns a short human label for error messages.
func (a *Attribute) Kind() string {
	switch {
	case a.Scalar != nil:
		return string(a.Scalar.Type)
	case a.Component != nil:
		return "component"
	case a.DynamicZone != nil:
		return "dynamiczone"
	case a.Relation != nil:
		return "relation"
	}
	return "invalid"
}

// Scalar describes a plainly-typed attribute.
type Scalar struct {
	Type ScalarType
}

// ComponentAttr embeds another model's attributes inline, optionally as a
// repeatable list.
type ComponentAttr struct {
	ModelName  string
	Repeatable bool
	Required   bool
	Min        int
	Max        int

	model *Model // resolved at mount
}

// Model returns the resolved component model.
func (c *ComponentAttr) Model() *Model { return c.model }

// DynamicZoneAttr embeds a list of items whose model is chosen per item via
// the stored __component discriminator.
type DynamicZoneAttr struct {
	ModelNames []string
	Required   bool
	Min        int
	Max        int

	models map[string]*Model // resolved at mount
}

// Model resolves one dynamic-zone item's model by discriminator value.
func (d *DynamicZoneAttr) Model(name string) (*Model, bool) {
	m, ok := d.models[name]
	return m, ok
}

// Association is a directional relation edge between two model attributes.
type Association struct {
	// Alias is the attribute name on the owning model.
	Alias string
	// TargetName names the related model, or MorphTarget for polymorphic
	// relations.
	TargetName  string
	Cardinality Cardinality
	// Dominant marks the side whose document physically stores the
	// reference value(s). The other side computes its value by querying.
	Dominant bool
	// Via names the mirror attribute on the target model. Empty for
	// one-way relations, which have no mirror.
	Via string
	// MorphFilter names the discriminator field stored alongside
	// polymorphic references, distinguishing which forward alias points at
	// the target.
	MorphFilter string

	owner  *Model
	target *Model       // resolved at mount; nil for morph relations
	mirror *Association // resolved at mount; nil for one-way and morph
}

// Owner returns the model the association is declared on.
func (a *Association) Owner() *Model { return a.owner }

// Target returns the resolved target model, nil for morph relations.
func (a *Association) Target() *Model { return a.target }

// Mirror returns the reverse association on the target model, nil for
// one-way and morph relations.
func (a *Association) Mirror() *Association { return a.mirror }

// Morph reports whether the relation's target is resolved per-instance.
func (a *Association) Morph() bool { return a.TargetName == MorphTarget }

// Options is the per-model configuration surface.
type Options struct {
	// Flatten stores the whole logical collection as field groups of the
	// single physical document at this path. Empty means a plain
	// collection.
	Flatten string
	// MaxQuerySize caps any single query's result count. Zero means
	// unlimited.
	MaxQuerySize int
	// SearchAttribute routes search terms to one designated attribute
	// instead of the cross-field expansion.
	SearchAttribute string
	// AllowNonNativeQueries enables in-process predicate evaluation for
	// operators the engine cannot express.
	AllowNonNativeQueries bool
	// EnsureComponentIDs assigns generated ids to embedded component
	// instances that lack one.
	EnsureComponentIDs bool
	// CreatedAtField and UpdatedAtField name the timestamp attributes to
	// auto-populate on edits. Empty disables stamping.
	CreatedAtField string
	UpdatedAtField string
	// LogQueries enables per-transaction read/write statistics logging.
	LogQueries bool
}

// Model is the static descriptor of one content type. Built once at mount,
// read-only afterwards.
type Model struct {
	// Name is the model's unique registry key.
	Name string
	// Collection is the physical collection path (or logical path for
	// flattened models).
	Collection string
	// PrimaryKey is the attribute exposed as the document id.
	PrimaryKey string
	// IsComponent marks models that only ever live embedded in a parent.
	IsComponent bool

	Attributes map[string]*Attribute
	Options    Options

	associations []*Association // collected at mount
}

// Associations lists the model's relation edges, sorted by alias.
func (m *Model) Associations() []*Association { return m.associations }

// Attribute looks up an attribute by name.
func (m *Model) Attribute(name string) (*Attribute, bool) {
	a, ok := m.Attributes[name]
	return a, ok
}

// Flattened reports whether the model stores inside one physical document.
func (m *Model) Flattened() bool { return m.Options.Flatten != "" }

// DocPath returns the physical path of the document holding id. For
// flattened models that is the shared host document; the id addresses a
// field group inside it.
func (m *Model) DocPath(id string) string {
	if m.Flattened() {
		return m.Options.Flatten
	}
	return m.Collection + "/" + id
}

// TimestampFields returns the attribute names stamped on edit, in
// (created, updated) order; either may be empty.
func (m *Model) TimestampFields() (string, string) {
	return m.Options.CreatedAtField, m.Options.UpdatedAtField
}
