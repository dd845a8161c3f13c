package collection

import (
	"github.com/google/uuid"

	"github.com/halcyondb/halcyon/errs"
	"github.com/halcyondb/halcyon/refs"
	"github.com/halcyondb/halcyon/types"
)

// ComponentCollection is the embedded-component backend. Component
// instances live inline in their parent document, so there is no
// independent query surface: reads and writes route through the parent.
// The backend exists so component models still satisfy the Queryable
// contract for id assignment and reference construction.
type ComponentCollection struct {
	model  *types.Model
	parent refs.Reference
}

// NewComponentCollection scopes a component model to one parent document.
func NewComponentCollection(m *types.Model, parent refs.Reference) ComponentCollection {
	return ComponentCollection{model: m, parent: parent}
}

func (c ComponentCollection) Model() *types.Model { return c.model }

func (c ComponentCollection) Where(string, types.Operator, interface{}) (Queryable, error) {
	return nil, errs.Unsupported("component model %s does not support querying", c.model.Name)
}

func (c ComponentCollection) WhereAny([]Predicate) (Queryable, error) {
	return nil, errs.Unsupported("component model %s does not support querying", c.model.Name)
}

func (c ComponentCollection) OrderBy(string, bool) Queryable { return c }
func (c ComponentCollection) Limit(int) Queryable            { return c }
func (c ComponentCollection) Offset(int) Queryable           { return c }

func (c ComponentCollection) Get(Reader) (*Result, error) {
	return nil, errs.Unsupported("component model %s does not support querying", c.model.Name)
}

// Doc returns a deep reference addressing the component instance inside
// its parent's physical document.
func (c ComponentCollection) Doc(id string) refs.Reference {
	host, err := refs.NewDirectRef(c.parent.DocPath())
	if err != nil {
		return refs.DeepRef{DocID: id}
	}
	return refs.DeepRef{Host: host, DocID: id}
}

// AutoID generates ids only when the model opts in; components otherwise
// live without ids of their own.
func (c ComponentCollection) AutoID() string {
	if !c.model.Options.EnsureComponentIDs {
		return ""
	}
	return uuid.NewString()
}
