package types

import (
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/halcyondb/halcyon/errs"
)

// Registry holds every mounted model and resolves cross-model references.
// It is handed to components by dependency injection; nothing reads it
// through ambient state.
type Registry struct {
	byName       map[string]*Model
	byCollection map[string]*Model
	log          *logrus.Logger
}

// NewRegistry mounts the given models: resolves component and relation
// targets, wires mirror associations, and validates the configuration.
// Any failure here is fatal and must abort startup.
func NewRegistry(models []*Model, log *logrus.Logger) (*Registry, error) {
	if log == nil {
		log = logrus.New()
	}
	r := &Registry{
		byName:       make(map[string]*Model, len(models)),
		byCollection: make(map[string]*Model, len(models)),
		log:          log,
	}
	for _, m := range models {
		if m.Name == "" {
			return nil, errs.Config("model with empty name")
		}
		if _, dup := r.byName[m.Name]; dup {
			return nil, errs.Config("duplicate model name %q", m.Name)
		}
		if m.PrimaryKey == "" {
			m.PrimaryKey = "id"
		}
		if m.Collection == "" {
			m.Collection = m.Name
		}
		r.byName[m.Name] = m
		if !m.IsComponent {
			if prev, dup := r.byCollection[m.Collection]; dup {
				return nil, errs.Config("models %q and %q share collection %q", prev.Name, m.Name, m.Collection)
			}
			r.byCollection[m.Collection] = m
		}
	}
	for _, m := range models {
		if err := r.mount(m); err != nil {
			return nil, err
		}
	}
	for _, m := range models {
		if err := r.wireMirrors(m); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Model looks up a mounted model by name.
func (r *Registry) Model(name string) (*Model, bool) {
	m, ok := r.byName[name]
	return m, ok
}

// ModelByCollection resolves the model owning a physical collection path.
// Polymorphic references are dereferenced through this.
func (r *Registry) ModelByCollection(collection string) (*Model, bool) {
	m, ok := r.byCollection[collection]
	return m, ok
}

// Models returns every mounted model.
func (r *Registry) Models() []*Model {
	out := make([]*Model, 0, len(r.byName))
	for _, m := range r.byName {
		out = append(out, m)
	}
	return out
}

// Log returns the registry's logger, shared by components that take the
// registry but no explicit logger.
func (r *Registry) Log() *logrus.Logger { return r.log }

func (r *Registry) mount(m *Model) error {
	for name, attr := range m.Attributes {
		if attr.Name == "" {
			attr.Name = name
		}
		set := 0
		if attr.Scalar != nil {
			set++
		}
		if attr.Component != nil {
			set++
		}
		if attr.DynamicZone != nil {
			set++
		}
		if attr.Relation != nil {
			set++
		}
		if set != 1 {
			return errs.Config("model %q attribute %q must have exactly one kind, has %d", m.Name, name, set)
		}
		switch {
		case attr.Component != nil:
			c := attr.Component
			cm, ok := r.byName[c.ModelName]
			if !ok {
				return errs.Config("model %q component %q references unknown model %q", m.Name, name, c.ModelName)
			}
			if c.Min > 0 && c.Max > 0 && c.Min > c.Max {
				return errs.Config("model %q component %q has min %d above max %d", m.Name, name, c.Min, c.Max)
			}
			c.model = cm
		case attr.DynamicZone != nil:
			dz := attr.DynamicZone
			dz.models = make(map[string]*Model, len(dz.ModelNames))
			for _, mn := range dz.ModelNames {
				dm, ok := r.byName[mn]
				if !ok {
					return errs.Config("model %q dynamic zone %q references unknown model %q", m.Name, name, mn)
				}
				dz.models[mn] = dm
			}
		case attr.Relation != nil:
			a := attr.Relation
			a.Alias = name
			a.owner = m
			if a.Cardinality != One && a.Cardinality != Many {
				return errs.Config("model %q relation %q has invalid cardinality %q", m.Name, name, a.Cardinality)
			}
			if a.Morph() {
				if a.Via == "" && a.MorphFilter == "" {
					return errs.Config("model %q morph relation %q needs a filter field", m.Name, name)
				}
			} else {
				tm, ok := r.byName[a.TargetName]
				if !ok {
					return errs.Config("model %q relation %q targets unknown model %q", m.Name, name, a.TargetName)
				}
				a.target = tm
			}
			m.associations = append(m.associations, a)
		}
	}
	// Attributes is a map, so impose a stable order on the collected edges.
	sort.Slice(m.associations, func(i, j int) bool {
		return m.associations[i].Alias < m.associations[j].Alias
	})
	return nil
}

// wireMirrors runs after every model is mounted so both ends of two-sided
// relations exist before they are checked against each other.
func (r *Registry) wireMirrors(m *Model) error {
	for _, a := range m.associations {
		if a.Via == "" || a.Morph() {
			continue
		}
		tattr, ok := a.target.Attribute(a.Via)
		if !ok || tattr.Relation == nil {
			return errs.Config("model %q relation %q: via attribute %q missing on model %q",
				m.Name, a.Alias, a.Via, a.TargetName)
		}
		mirror := tattr.Relation
		if mirror.Via != "" && !mirror.Morph() && mirror.Via != a.Alias {
			return errs.Config("model %q relation %q: mirror %q.%q points back at %q, not %q",
				m.Name, a.Alias, a.TargetName, a.Via, mirror.Via, a.Alias)
		}
		if !a.Dominant && !mirror.Dominant {
			return errs.Config("model %q relation %q: neither side is dominant", m.Name, a.Alias)
		}
		a.mirror = mirror
	}
	return nil
}
