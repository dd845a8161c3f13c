// Package coerce converts attribute values between the host ORM's typed
// representation and the engine's native value types, recursively walking
// components and dynamic zones. Edit mode turns conversion failures into
// client-input errors and auto-populates timestamp attributes; read mode
// logs and substitutes null so a damaged document degrades instead of
// failing the whole read.
package coerce

import (
	"fmt"
	"math"
	"math/big"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/halcyondb/halcyon/engine"
	"github.com/halcyondb/halcyon/errs"
	"github.com/halcyondb/halcyon/refs"
	"github.com/halcyondb/halcyon/types"
)

// ComponentTag is the discriminator field naming a dynamic-zone item's model.
const ComponentTag = "__component"

// Options controls a coercion pass.
type Options struct {
	// EditMode makes failures fatal and enables timestamp stamping.
	EditMode bool
	// Creating additionally stamps the creation timestamp. Only meaningful
	// with EditMode.
	Creating bool
	// Now is the stamping time; zero defaults to time.Now.
	Now time.Time
}

// Coercer walks documents against their model descriptors.
type Coercer struct {
	Reg  *types.Registry
	Refs *refs.Coercer
	Log  *logrus.Logger
}

// New builds a coercer over the given registry.
func New(reg *types.Registry, log *logrus.Logger) *Coercer {
	if log == nil {
		log = reg.Log()
	}
	return &Coercer{
		Reg:  reg,
		Refs: &refs.Coercer{Reg: reg, Log: log},
		Log:  log,
	}
}

// ToEngine converts host-typed data into engine-native values for model m.
// Unknown attributes pass through unchanged.
func (c *Coercer) ToEngine(m *types.Model, data map[string]interface{}, opts Options) (map[string]interface{}, error) {
	if data == nil {
		return nil, nil
	}
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	out := make(map[string]interface{}, len(data))
	for key, val := range data {
		conv, err := c.valueToEngine(m, key, val, opts)
		if err != nil {
			if opts.EditMode {
				return nil, err
			}
			c.Log.WithError(err).WithField("attribute", key).Warn("coercion failed, substituting null")
			conv = nil
		}
		out[key] = conv
	}
	if opts.EditMode {
		created, updated := m.TimestampFields()
		if updated != "" {
			out[updated] = engine.NewTimestamp(now)
		}
		if created != "" {
			if opts.Creating {
				out[created] = engine.NewTimestamp(now)
			} else {
				// The creation timestamp is never overwritten, even when
				// the caller supplies one.
				delete(out, created)
			}
		}
	}
	return out, nil
}

// FromEngine converts stored engine values back into the host's native
// types. Failures are always lenient on this path.
func (c *Coercer) FromEngine(m *types.Model, data map[string]interface{}) map[string]interface{} {
	if data == nil {
		return nil
	}
	out := make(map[string]interface{}, len(data))
	for key, val := range data {
		conv, err := c.valueFromEngine(m, key, val)
		if err != nil {
			c.Log.WithError(err).WithField("attribute", key).Warn("stored value failed coercion, substituting null")
			conv = nil
		}
		out[key] = conv
	}
	return out
}

func (c *Coercer) valueToEngine(m *types.Model, key string, val interface{}, opts Options) (interface{}, error) {
	attr, ok := m.Attribute(key)
	if !ok {
		return val, nil
	}
	if val == nil {
		return nil, nil
	}
	switch {
	case attr.Scalar != nil:
		conv, err := scalarToEngine(attr.Scalar.Type, val)
		if err != nil {
			return nil, errs.Wrap(errs.StatusBadRequest, err, "invalid value for %s.%s", m.Name, key)
		}
		return conv, nil
	case attr.Component != nil:
		return c.componentToEngine(attr.Component, m.Name+"."+key, val, opts)
	case attr.DynamicZone != nil:
		return c.zoneToEngine(attr.DynamicZone, m.Name+"."+key, val, opts)
	case attr.Relation != nil:
		return c.relationToEngine(attr.Relation, val, opts)
	}
	return val, nil
}

func (c *Coercer) componentToEngine(comp *types.ComponentAttr, path string, val interface{}, opts Options) (interface{}, error) {
	if comp.Repeatable {
		items, ok := val.([]interface{})
		if !ok {
			return nil, errs.BadRequest("%s: repeatable component requires a list, got %T", path, val)
		}
		out := make([]interface{}, len(items))
		for i, item := range items {
			data, ok := item.(map[string]interface{})
			if !ok {
				return nil, errs.BadRequest("%s[%d]: component item must be an object, got %T", path, i, item)
			}
			conv, err := c.ToEngine(comp.Model(), data, componentOpts(opts))
			if err != nil {
				return nil, err
			}
			out[i] = conv
		}
		return out, nil
	}
	data, ok := val.(map[string]interface{})
	if !ok {
		return nil, errs.BadRequest("%s: component must be an object, got %T", path, val)
	}
	return c.ToEngine(comp.Model(), data, componentOpts(opts))
}

func (c *Coercer) zoneToEngine(zone *types.DynamicZoneAttr, path string, val interface{}, opts Options) (interface{}, error) {
	items, ok := val.([]interface{})
	if !ok {
		return nil, errs.BadRequest("%s: dynamic zone requires a list, got %T", path, val)
	}
	out := make([]interface{}, len(items))
	for i, item := range items {
		data, ok := item.(map[string]interface{})
		if !ok {
			return nil, errs.BadRequest("%s[%d]: dynamic zone item must be an object, got %T", path, i, item)
		}
		tag, _ := data[ComponentTag].(string)
		if tag == "" {
			return nil, errs.BadRequest("%s[%d]: dynamic zone item is missing its %s tag", path, i, ComponentTag)
		}
		im, ok := zone.Model(tag)
		if !ok {
			return nil, errs.BadRequest("%s[%d]: dynamic zone does not allow component %q", path, i, tag)
		}
		conv, err := c.ToEngine(im, data, componentOpts(opts))
		if err != nil {
			return nil, err
		}
		conv[ComponentTag] = tag
		out[i] = conv
	}
	return out, nil
}

func (c *Coercer) relationToEngine(a *types.Association, val interface{}, opts Options) (interface{}, error) {
	copts := refs.CoerceOptions{Strict: opts.EditMode, FilterField: a.MorphFilter}
	if a.Cardinality == types.Many {
		list, err := c.Refs.CoerceList(val, a.Target(), copts)
		if err != nil {
			return nil, err
		}
		out := make([]interface{}, len(list))
		for i, r := range list {
			out[i] = r.WireValue()
		}
		return out, nil
	}
	ref, err := c.Refs.Coerce(val, a.Target(), copts)
	if err != nil || ref == nil {
		return nil, err
	}
	return ref.WireValue(), nil
}

func (c *Coercer) valueFromEngine(m *types.Model, key string, val interface{}) (interface{}, error) {
	attr, ok := m.Attribute(key)
	if !ok || val == nil {
		return val, nil
	}
	switch {
	case attr.Scalar != nil:
		return scalarFromEngine(attr.Scalar.Type, val)
	case attr.Component != nil:
		comp := attr.Component
		if comp.Repeatable {
			items, ok := val.([]interface{})
			if !ok {
				return nil, fmt.Errorf("stored repeatable component is %T, not a list", val)
			}
			out := make([]interface{}, len(items))
			for i, item := range items {
				data, _ := item.(map[string]interface{})
				out[i] = c.FromEngine(comp.Model(), data)
			}
			return out, nil
		}
		data, ok := val.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("stored component is %T, not an object", val)
		}
		return c.FromEngine(comp.Model(), data), nil
	case attr.DynamicZone != nil:
		items, ok := val.([]interface{})
		if !ok {
			return nil, fmt.Errorf("stored dynamic zone is %T, not a list", val)
		}
		out := make([]interface{}, 0, len(items))
		for _, item := range items {
			data, _ := item.(map[string]interface{})
			tag, _ := data[ComponentTag].(string)
			im, ok := attr.DynamicZone.Model(tag)
			if !ok {
				c.Log.WithField("component", tag).Warn("dropping dynamic zone item with unknown component tag")
				continue
			}
			conv := c.FromEngine(im, data)
			conv[ComponentTag] = tag
			out = append(out, conv)
		}
		return out, nil
	case attr.Relation != nil:
		a := attr.Relation
		copts := refs.CoerceOptions{FilterField: a.MorphFilter}
		if a.Cardinality == types.Many {
			list, err := c.Refs.CoerceList(val, a.Target(), copts)
			if err != nil {
				return nil, err
			}
			out := make([]interface{}, len(list))
			for i, r := range list {
				out[i] = r
			}
			return out, nil
		}
		ref, err := c.Refs.Coerce(val, a.Target(), copts)
		if err != nil || ref == nil {
			return nil, err
		}
		return ref, nil
	}
	return val, nil
}

// componentOpts strips timestamp stamping for nested component models; only
// the root document carries edit timestamps.
func componentOpts(opts Options) Options {
	return Options{EditMode: opts.EditMode, Now: opts.Now}
}

// ScalarToEngine converts one scalar value to its engine representation.
// The query façade uses it to type filter operands the same way stored
// values were typed on write.
func ScalarToEngine(t types.ScalarType, val interface{}) (interface{}, error) {
	return scalarToEngine(t, val)
}

func scalarToEngine(t types.ScalarType, val interface{}) (interface{}, error) {
	switch t {
	case types.TypeInteger:
		n, err := toInt64(val)
		if err != nil {
			return nil, err
		}
		return n, nil
	case types.TypeFloat, types.TypeDecimal:
		f, err := toFloat64(val)
		if err != nil {
			return nil, err
		}
		return f, nil
	case types.TypeBigInteger:
		b, err := toBigInt(val)
		if err != nil {
			return nil, err
		}
		// Stored as a decimal string so precision survives the engine's
		// float-backed number type.
		return b.String(), nil
	case types.TypeBoolean:
		switch v := val.(type) {
		case bool:
			return v, nil
		case string:
			b, err := strconv.ParseBool(v)
			if err != nil {
				return nil, fmt.Errorf("%q is not a boolean", v)
			}
			return b, nil
		}
		return nil, fmt.Errorf("%T is not a boolean", val)
	case types.TypeDate, types.TypeDateTime, types.TypeTimestamp:
		ts, err := toTimestamp(val)
		if err != nil {
			return nil, err
		}
		return ts, nil
	case types.TypeJSON:
		return val, nil
	default:
		switch v := val.(type) {
		case string:
			return v, nil
		case int, int32, int64, float32, float64, bool:
			return fmt.Sprintf("%v", v), nil
		}
		return nil, fmt.Errorf("%T is not a string", val)
	}
}

func scalarFromEngine(t types.ScalarType, val interface{}) (interface{}, error) {
	switch t {
	case types.TypeInteger:
		return toInt64(val)
	case types.TypeFloat, types.TypeDecimal:
		return toFloat64(val)
	case types.TypeBigInteger:
		return toBigInt(val)
	case types.TypeDate, types.TypeDateTime, types.TypeTimestamp:
		ts, err := toTimestamp(val)
		if err != nil {
			return nil, err
		}
		return ts.Time(), nil
	default:
		return val, nil
	}
}

func toInt64(val interface{}) (int64, error) {
	switch v := val.(type) {
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case float32:
		return toInt64(float64(v))
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, fmt.Errorf("%v is not a finite number", v)
		}
		return int64(v), nil
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%q is not an integer", v)
		}
		return n, nil
	}
	return 0, fmt.Errorf("%T is not an integer", val)
}

func toFloat64(val interface{}) (float64, error) {
	switch v := val.(type) {
	case int:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case float32:
		return toFloat64Checked(float64(v))
	case float64:
		return toFloat64Checked(v)
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("%q is not a number", v)
		}
		return toFloat64Checked(f)
	}
	return 0, fmt.Errorf("%T is not a number", val)
}

func toFloat64Checked(f float64) (float64, error) {
	if math.IsNaN(f) {
		return 0, fmt.Errorf("value is NaN")
	}
	return f, nil
}

func toBigInt(val interface{}) (*big.Int, error) {
	switch v := val.(type) {
	case *big.Int:
		return v, nil
	case int:
		return big.NewInt(int64(v)), nil
	case int64:
		return big.NewInt(v), nil
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%v is not a finite number", v)
		}
		return big.NewInt(int64(v)), nil
	case string:
		b, ok := new(big.Int).SetString(v, 10)
		if !ok {
			return nil, fmt.Errorf("%q is not a big integer", v)
		}
		return b, nil
	}
	return nil, fmt.Errorf("%T is not a big integer", val)
}

func toTimestamp(val interface{}) (engine.Timestamp, error) {
	switch v := val.(type) {
	case engine.Timestamp:
		return v, nil
	case time.Time:
		return engine.NewTimestamp(v), nil
	case string:
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02"} {
			if t, err := time.Parse(layout, v); err == nil {
				return engine.NewTimestamp(t), nil
			}
		}
		return engine.Timestamp{}, fmt.Errorf("%q is not a timestamp", v)
	}
	return engine.Timestamp{}, fmt.Errorf("%T is not a timestamp", val)
}
