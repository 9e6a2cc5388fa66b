package model

import (
	"fmt"
	"regexp"
	"time"
)

// PropertyKind is the value kind of a property definition.
type PropertyKind string

const (
	KindText      PropertyKind = "text"
	KindNumber    PropertyKind = "number"
	KindBoolean   PropertyKind = "boolean"
	KindDate      PropertyKind = "date"
	KindReference PropertyKind = "reference"
)

// validIdentifier matches type and property names: alphanumeric with
// underscores, cannot start with a digit.
var validIdentifier = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ValidateIdentifier checks that a name is usable as a type or property name.
func ValidateIdentifier(name string, entity string) error {
	if name == "" {
		return fmt.Errorf("%s name cannot be empty", entity)
	}
	if !validIdentifier.MatchString(name) {
		return fmt.Errorf("invalid %s name %q: must be alphanumeric with underscores, cannot start with a digit", entity, name)
	}
	return nil
}

// PropertyDef defines a single property of an entity type.
// For KindReference, RefType names the referenced entity type.
type PropertyDef struct {
	Name       string       `json:"name"`
	Kind       PropertyKind `json:"kind"`
	Nullable   bool         `json:"nullable"`
	RefType    string       `json:"ref_type,omitempty"`
	Deprecated bool         `json:"deprecated,omitempty"`
}

// Validate checks the property definition.
// The name "id" is auto-managed and cannot be defined.
func (p PropertyDef) Validate() error {
	if err := ValidateIdentifier(p.Name, "property"); err != nil {
		return err
	}
	if p.Name == "id" {
		return fmt.Errorf("property 'id' is auto-managed and cannot be specified")
	}
	switch p.Kind {
	case KindText, KindNumber, KindBoolean, KindDate:
		if p.RefType != "" {
			return fmt.Errorf("property %q: ref_type is only valid for reference properties", p.Name)
		}
	case KindReference:
		if err := ValidateIdentifier(p.RefType, "referenced type"); err != nil {
			return err
		}
	default:
		return fmt.Errorf("property %q: unknown kind %q", p.Name, p.Kind)
	}
	return nil
}

// EntityType is one committed version of a named schema.
// Versions are immutable once published; evolution is strictly additive.
type EntityType struct {
	Name       string        `json:"name"`
	Version    int           `json:"version"`
	Properties []PropertyDef `json:"properties"`
	CreatedAt  time.Time     `json:"created_at"`
}

// Property returns the definition for name, or nil if the version
// does not define it.
func (t *EntityType) Property(name string) *PropertyDef {
	for i := range t.Properties {
		if t.Properties[i].Name == name {
			return &t.Properties[i]
		}
	}
	return nil
}

// PropertyNames returns the ordered property names of this version.
func (t *EntityType) PropertyNames() []string {
	names := make([]string, len(t.Properties))
	for i, p := range t.Properties {
		names[i] = p.Name
	}
	return names
}

// Clone returns a deep copy. Registry snapshots hand out clones so a
// published version can never be mutated through a reader.
func (t *EntityType) Clone() *EntityType {
	props := make([]PropertyDef, len(t.Properties))
	copy(props, t.Properties)
	return &EntityType{
		Name:       t.Name,
		Version:    t.Version,
		Properties: props,
		CreatedAt:  t.CreatedAt,
	}
}

// TypeProposal is a validated but not yet authoritative type definition.
// Schema growth is never silent: a proposal must be committed explicitly.
type TypeProposal struct {
	Name       string        `json:"name"`
	Properties []PropertyDef `json:"properties"`
	ProposedAt time.Time     `json:"proposed_at"`
}

// TypeRef points an entity at the type version it was written against.
// The entity satisfies every version >= Version of the named type,
// since later versions only append properties.
type TypeRef struct {
	Name    string `json:"name"`
	Version int    `json:"version"`
}
