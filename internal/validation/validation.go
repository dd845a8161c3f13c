// Package validation checks entity payloads against their model's
// component and dynamic-zone constraints before any write is attempted.
package validation

import (
	"github.com/halcyondb/halcyon/coerce"
	"github.com/halcyondb/halcyon/errs"
	"github.com/halcyondb/halcyon/types"
)

// Entity validates the component and dynamic-zone attributes present in
// data against m. Only supplied attributes are checked, so partial update
// payloads validate the same way as full create payloads. When the model
// opts in, embedded component instances missing an id are assigned one via
// autoID, mutating data in place; the option applies through nested
// components as well.
func Entity(m *types.Model, data map[string]interface{}, autoID func() string) error {
	return entity(m, data, m.Options.EnsureComponentIDs, autoID)
}

func entity(m *types.Model, data map[string]interface{}, ensureIDs bool, autoID func() string) error {
	for key, val := range data {
		attr, ok := m.Attribute(key)
		if !ok {
			continue
		}
		switch {
		case attr.Component != nil:
			if err := component(m, key, attr.Component, val, ensureIDs, autoID); err != nil {
				return err
			}
		case attr.DynamicZone != nil:
			if err := zone(m, key, attr.DynamicZone, val, ensureIDs, autoID); err != nil {
				return err
			}
		}
	}
	return nil
}

func component(m *types.Model, key string, comp *types.ComponentAttr, val interface{}, ensureIDs bool, autoID func() string) error {
	if val == nil {
		if comp.Required {
			return errs.BadRequest("%s.%s is required", m.Name, key)
		}
		return nil
	}

	if !comp.Repeatable {
		item, ok := val.(map[string]interface{})
		if !ok {
			return errs.BadRequest("%s.%s must be an object, got %T", m.Name, key, val)
		}
		return instance(m, comp.Model(), item, ensureIDs, autoID)
	}

	items, ok := val.([]interface{})
	if !ok {
		return errs.BadRequest("%s.%s must be a list, got %T", m.Name, key, val)
	}
	if err := cardinality(m, key, len(items), comp.Required, comp.Min, comp.Max); err != nil {
		return err
	}
	for i, raw := range items {
		item, ok := raw.(map[string]interface{})
		if !ok {
			return errs.BadRequest("%s.%s[%d] must be an object, got %T", m.Name, key, i, raw)
		}
		if err := instance(m, comp.Model(), item, ensureIDs, autoID); err != nil {
			return err
		}
	}
	return nil
}

func zone(m *types.Model, key string, dz *types.DynamicZoneAttr, val interface{}, ensureIDs bool, autoID func() string) error {
	if val == nil {
		if dz.Required {
			return errs.BadRequest("%s.%s is required", m.Name, key)
		}
		return nil
	}
	items, ok := val.([]interface{})
	if !ok {
		return errs.BadRequest("%s.%s must be a list, got %T", m.Name, key, val)
	}
	if err := cardinality(m, key, len(items), dz.Required, dz.Min, dz.Max); err != nil {
		return err
	}
	for i, raw := range items {
		item, ok := raw.(map[string]interface{})
		if !ok {
			return errs.BadRequest("%s.%s[%d] must be an object, got %T", m.Name, key, i, raw)
		}
		tag, _ := item[coerce.ComponentTag].(string)
		if tag == "" {
			return errs.BadRequest("%s.%s[%d] is missing its %s discriminator", m.Name, key, i, coerce.ComponentTag)
		}
		im, ok := dz.Model(tag)
		if !ok {
			return errs.BadRequest("%s.%s[%d] names component %q, which this zone does not allow", m.Name, key, i, tag)
		}
		if err := instance(m, im, item, ensureIDs, autoID); err != nil {
			return err
		}
	}
	return nil
}

// instance validates one embedded component instance, assigning a fresh id
// when the host opted in, and recurses into nested components.
func instance(host *types.Model, cm *types.Model, item map[string]interface{}, ensureIDs bool, autoID func() string) error {
	if cm == nil {
		return errs.Config("component model of %s is not mounted", host.Name)
	}
	if ensureIDs {
		if id, _ := item[cm.PrimaryKey].(string); id == "" {
			item[cm.PrimaryKey] = autoID()
		}
	}
	return entity(cm, item, ensureIDs, autoID)
}

func cardinality(m *types.Model, key string, n int, required bool, min, max int) error {
	if required && n == 0 {
		return errs.BadRequest("%s.%s requires at least one entry", m.Name, key)
	}
	if min > 0 && n > 0 && n < min {
		return errs.BadRequest("%s.%s has %d entries, minimum is %d", m.Name, key, n, min)
	}
	if max > 0 && n > max {
		return errs.BadRequest("%s.%s has %d entries, maximum is %d", m.Name, key, n, max)
	}
	return nil
}
