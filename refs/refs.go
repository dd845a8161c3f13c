// Package refs implements the polymorphic reference values that identify
// logical documents: direct document pointers, deep pointers into flattened
// documents, and morph pointers carrying a type discriminator. Two
// references are equal iff they resolve to the same physical storage
// location, regardless of how they were constructed.
package refs

import (
	"fmt"
	"strings"

	"github.com/halcyondb/halcyon/engine"
	"github.com/halcyondb/halcyon/types"
)

// Reference identifies one logical document. Implementations are immutable.
type Reference interface {
	// ID is the document id (the field key, for deep references).
	ID() string
	// Path is the logical path: parent path plus id.
	Path() string
	// DocPath is the physical document holding the data. For deep
	// references this is the host document, not the logical path.
	DocPath() string
	// FieldPath is the field inside the physical document holding the
	// data; empty for direct references.
	FieldPath() string
	// Equal reports whether other resolves to the same storage location.
	Equal(other Reference) bool
	// WireValue is the persisted representation.
	WireValue() interface{}
}

// equalityKey flattens a reference to a comparable string. Morph references
// append their discriminator.
func equalityKey(r Reference) string {
	if r == nil {
		return ""
	}
	if m, ok := r.(MorphRef); ok {
		return m.Ref.Path() + "|" + m.FilterValue
	}
	return r.Path()
}

// DirectRef points at a document in a plain collection.
type DirectRef struct {
	Collection string
	DocID      string
}

// NewDirectRef builds a direct reference from a physical path.
func NewDirectRef(path string) (DirectRef, error) {
	i := strings.LastIndexByte(path, '/')
	if i <= 0 || i == len(path)-1 {
		return DirectRef{}, fmt.Errorf("invalid document path %q", path)
	}
	return DirectRef{Collection: path[:i], DocID: path[i+1:]}, nil
}

func (r DirectRef) ID() string        { return r.DocID }
func (r DirectRef) Path() string      { return r.Collection + "/" + r.DocID }
func (r DirectRef) DocPath() string   { return r.Path() }
func (r DirectRef) FieldPath() string { return "" }

func (r DirectRef) Equal(other Reference) bool {
	return other != nil && equalityKey(r) == equalityKey(other)
}

func (r DirectRef) WireValue() interface{} {
	return engine.DocPointer(r.Path())
}

func (r DirectRef) String() string { return r.Path() }

// DeepRef points at a field group inside a flattened host document. Many
// logical documents share one physical document; the id doubles as the
// field key.
type DeepRef struct {
	Host  DirectRef
	DocID string
}

func (r DeepRef) ID() string        { return r.DocID }
func (r DeepRef) Path() string      { return r.Host.Path() + "/" + r.DocID }
func (r DeepRef) DocPath() string   { return r.Host.Path() }
func (r DeepRef) FieldPath() string { return r.DocID }

func (r DeepRef) Equal(other Reference) bool {
	return other != nil && equalityKey(r) == equalityKey(other)
}

func (r DeepRef) WireValue() interface{} {
	return map[string]interface{}{
		"ref": engine.DocPointer(r.Host.Path()),
		"id":  r.DocID,
	}
}

func (r DeepRef) String() string { return r.Path() }

// MorphRef wraps a reference with the discriminator distinguishing which
// forward relation points at the target.
type MorphRef struct {
	Ref Reference
	// FilterField names the stored discriminator field.
	FilterField string
	// FilterValue is the forward association's alias.
	FilterValue string
}

func (r MorphRef) ID() string        { return r.Ref.ID() }
func (r MorphRef) Path() string      { return r.Ref.Path() }
func (r MorphRef) DocPath() string   { return r.Ref.DocPath() }
func (r MorphRef) FieldPath() string { return r.Ref.FieldPath() }

func (r MorphRef) Equal(other Reference) bool {
	return other != nil && equalityKey(r) == equalityKey(other)
}

func (r MorphRef) WireValue() interface{} {
	out := map[string]interface{}{
		"ref": engine.DocPointer(r.Ref.DocPath()),
	}
	if fp := r.Ref.FieldPath(); fp != "" {
		out["id"] = fp
	}
	field := r.FilterField
	if field == "" {
		field = "filter"
	}
	out[field] = r.FilterValue
	return out
}

func (r MorphRef) String() string { return r.Path() + "|" + r.FilterValue }

// ModelRef builds the reference identifying id within model m: a deep
// reference for flattened models, a direct reference otherwise.
func ModelRef(m *types.Model, id string) Reference {
	if m.Flattened() {
		host, err := NewDirectRef(m.Options.Flatten)
		if err != nil {
			// Mount validation guarantees a well-formed flatten path.
			host = DirectRef{Collection: m.Collection, DocID: m.Options.Flatten}
		}
		return DeepRef{Host: host, DocID: id}
	}
	return DirectRef{Collection: m.Collection, DocID: id}
}

// ParentPath returns the logical collection path of a reference: the
// collection for direct references, the host document path for deep ones.
func ParentPath(r Reference) string {
	switch ref := r.(type) {
	case DirectRef:
		return ref.Collection
	case DeepRef:
		return ref.Host.Path()
	case MorphRef:
		return ParentPath(ref.Ref)
	}
	return ""
}
