package types

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// schemaFile is the YAML shape of a model-descriptor file. Embedded callers
// and test fixtures declare models this way; hosts that already hold Go
// descriptors skip this layer entirely.
type schemaFile struct {
	Models []schemaModel `yaml:"models"`
}

type schemaModel struct {
	Name        string                     `yaml:"name"`
	Collection  string                     `yaml:"collection"`
	PrimaryKey  string                     `yaml:"primaryKey"`
	IsComponent bool                       `yaml:"component"`
	Options     schemaOptions              `yaml:"options"`
	Attributes  map[string]schemaAttribute `yaml:"attributes"`
}

type schemaOptions struct {
	Flatten               string `yaml:"flatten"`
	MaxQuerySize          int    `yaml:"maxQuerySize"`
	SearchAttribute       string `yaml:"searchAttribute"`
	AllowNonNativeQueries bool   `yaml:"allowNonNativeQueries"`
	EnsureComponentIDs    bool   `yaml:"ensureComponentIds"`
	CreatedAtField        string `yaml:"createdAtField"`
	UpdatedAtField        string `yaml:"updatedAtField"`
	LogQueries            bool   `yaml:"logQueries"`
}

type schemaAttribute struct {
	Type string `yaml:"type"`

	Component  string `yaml:"component"`
	Repeatable bool   `yaml:"repeatable"`

	DynamicZone []string `yaml:"dynamiczone"`

	Relation    string `yaml:"relation"` // target model name, "*" for morph
	Cardinality string `yaml:"cardinality"`
	Dominant    bool   `yaml:"dominant"`
	Via         string `yaml:"via"`
	MorphFilter string `yaml:"morphFilter"`

	Required bool `yaml:"required"`
	Min      int  `yaml:"min"`
	Max      int  `yaml:"max"`
}

// LoadSchema parses YAML model descriptors and mounts them into a registry.
func LoadSchema(data []byte, log *logrus.Logger) (*Registry, error) {
	var file schemaFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse schema: %w", err)
	}
	models := make([]*Model, 0, len(file.Models))
	for _, sm := range file.Models {
		m := &Model{
			Name:        sm.Name,
			Collection:  sm.Collection,
			PrimaryKey:  sm.PrimaryKey,
			IsComponent: sm.IsComponent,
			Options: Options{
				Flatten:               sm.Options.Flatten,
				MaxQuerySize:          sm.Options.MaxQuerySize,
				SearchAttribute:       sm.Options.SearchAttribute,
				AllowNonNativeQueries: sm.Options.AllowNonNativeQueries,
				EnsureComponentIDs:    sm.Options.EnsureComponentIDs,
				CreatedAtField:        sm.Options.CreatedAtField,
				UpdatedAtField:        sm.Options.UpdatedAtField,
				LogQueries:            sm.Options.LogQueries,
			},
			Attributes: make(map[string]*Attribute, len(sm.Attributes)),
		}
		for name, sa := range sm.Attributes {
			attr, err := sa.build(name)
			if err != nil {
				return nil, fmt.Errorf("model %q: %w", sm.Name, err)
			}
			m.Attributes[name] = attr
		}
		models = append(models, m)
	}
	return NewRegistry(models, log)
}

// LoadSchemaFile reads and mounts a YAML schema file.
func LoadSchemaFile(path string, log *logrus.Logger) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema file: %w", err)
	}
	return LoadSchema(data, log)
}

func (sa schemaAttribute) build(name string) (*Attribute, error) {
	attr := &Attribute{Name: name}
	switch {
	case sa.Type != "":
		attr.Scalar = &Scalar{Type: ScalarType(sa.Type)}
	case sa.Component != "":
		attr.Component = &ComponentAttr{
			ModelName:  sa.Component,
			Repeatable: sa.Repeatable,
			Required:   sa.Required,
			Min:        sa.Min,
			Max:        sa.Max,
		}
	case len(sa.DynamicZone) > 0:
		attr.DynamicZone = &DynamicZoneAttr{
			ModelNames: sa.DynamicZone,
			Required:   sa.Required,
			Min:        sa.Min,
			Max:        sa.Max,
		}
	case sa.Relation != "":
		card := Cardinality(sa.Cardinality)
		if card == "" {
			card = One
		}
		attr.Relation = &Association{
			TargetName:  sa.Relation,
			Cardinality: card,
			Dominant:    sa.Dominant,
			Via:         sa.Via,
			MorphFilter: sa.MorphFilter,
		}
	default:
		return nil, fmt.Errorf("attribute %q declares no kind", name)
	}
	return attr, nil
}
