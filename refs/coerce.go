package refs

import (
	"github.com/sirupsen/logrus"

	"github.com/halcyondb/halcyon/engine"
	"github.com/halcyondb/halcyon/errs"
	"github.com/halcyondb/halcyon/types"
)

// CoerceOptions controls reference coercion failure behavior.
type CoerceOptions struct {
	// Strict makes coercion errors fatal (edit mode). When false,
	// unresolvable values are logged and dropped (read mode).
	Strict bool
	// FilterField names the discriminator field for stored morph shapes.
	// Empty falls back to the literal "filter" key.
	FilterField string
}

// Coercer re-instantiates references from arbitrary stored or input values.
type Coercer struct {
	Reg *types.Registry
	Log *logrus.Logger
}

// Coerce converts val into a Reference. A live reference passes through, a
// stored wire shape is re-instantiated, a bare id string resolves against
// target. target may be nil for polymorphic values, in which case the
// owning model is resolved from the stored pointer's collection. A nil val
// coerces to nil without error.
func (c *Coercer) Coerce(val interface{}, target *types.Model, opts CoerceOptions) (Reference, error) {
	ref, err := c.coerce(val, target, opts)
	if err != nil {
		if opts.Strict {
			return nil, err
		}
		c.Log.WithError(err).Warn("dropping unresolvable reference value")
		return nil, nil
	}
	return ref, nil
}

// CoerceList coerces a stored value that may be a single reference or a
// list of them, defaulting missing values to empty.
func (c *Coercer) CoerceList(val interface{}, target *types.Model, opts CoerceOptions) ([]Reference, error) {
	if val == nil {
		return nil, nil
	}
	items, ok := val.([]interface{})
	if !ok {
		ref, err := c.Coerce(val, target, opts)
		if err != nil || ref == nil {
			return nil, err
		}
		return []Reference{ref}, nil
	}
	out := make([]Reference, 0, len(items))
	for _, item := range items {
		ref, err := c.Coerce(item, target, opts)
		if err != nil {
			return nil, err
		}
		if ref != nil {
			out = append(out, ref)
		}
	}
	return out, nil
}

func (c *Coercer) coerce(val interface{}, target *types.Model, opts CoerceOptions) (Reference, error) {
	switch v := val.(type) {
	case nil:
		return nil, nil
	case Reference:
		return c.check(v, target)
	case engine.DocPointer:
		ref, err := NewDirectRef(v.Path())
		if err != nil {
			return nil, errs.BadRequest("malformed document pointer %q", v.Path())
		}
		return c.check(ref, target)
	case map[string]interface{}:
		return c.coerceWireShape(v, target, opts)
	case string:
		if target == nil {
			return nil, errs.BadRequest("cannot resolve bare id %q without a target model", v)
		}
		if v == "" {
			return nil, nil
		}
		return ModelRef(target, v), nil
	}
	return nil, errs.BadRequest("value of type %T is not a reference", val)
}

// coerceWireShape re-instantiates a stored { ref, id?, filter? } object.
func (c *Coercer) coerceWireShape(v map[string]interface{}, target *types.Model, opts CoerceOptions) (Reference, error) {
	rawRef, ok := v["ref"]
	if !ok {
		return nil, errs.BadRequest("reference shape is missing its ref field")
	}
	var docPath string
	switch rv := rawRef.(type) {
	case engine.DocPointer:
		docPath = rv.Path()
	case string:
		docPath = rv
	default:
		return nil, errs.BadRequest("reference shape has non-pointer ref of type %T", rawRef)
	}
	host, err := NewDirectRef(docPath)
	if err != nil {
		return nil, errs.BadRequest("reference shape has malformed path %q", docPath)
	}

	var inner Reference = host
	if id, ok := v["id"].(string); ok && id != "" {
		inner = DeepRef{Host: host, DocID: id}
	}

	filterField := opts.FilterField
	if filterField == "" {
		filterField = "filter"
	}
	if fv, ok := v[filterField].(string); ok && fv != "" {
		checked, err := c.check(inner, target)
		if err != nil {
			return nil, err
		}
		return MorphRef{Ref: checked, FilterField: filterField, FilterValue: fv}, nil
	}
	return c.check(inner, target)
}

// check validates that ref belongs to target's collection, resolving the
// owning model through the registry when target is absent.
func (c *Coercer) check(ref Reference, target *types.Model) (Reference, error) {
	if target == nil {
		// Polymorphic: any mounted collection is acceptable, but the
		// collection must be known so the reverse model can be resolved.
		if _, ok := c.ownerOf(ref); !ok {
			return nil, errs.BadRequest("reference %q points at no mounted collection", ref.Path())
		}
		return ref, nil
	}
	want := ModelRef(target, ref.ID())
	if ParentPath(ref) != ParentPath(want) {
		return nil, errs.BadRequest("reference %q does not belong to model %q", ref.Path(), target.Name)
	}
	return ref, nil
}

// ownerOf resolves the model owning a reference's collection.
func (c *Coercer) ownerOf(ref Reference) (*types.Model, bool) {
	switch r := ref.(type) {
	case MorphRef:
		return c.ownerOf(r.Ref)
	case DeepRef:
		// Deep references live in flattened models; match by host path.
		for _, m := range c.Reg.Models() {
			if m.Flattened() && m.Options.Flatten == r.Host.Path() {
				return m, true
			}
		}
		return nil, false
	case DirectRef:
		return c.Reg.ModelByCollection(r.Collection)
	}
	return nil, false
}

// Owner exposes reverse-model resolution for polymorphic relations.
func (c *Coercer) Owner(ref Reference) (*types.Model, bool) {
	return c.ownerOf(ref)
}
