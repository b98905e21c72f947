// Package schema provides the class-schema value types consumed by the
// write pipeline: field definitions, default values, and required-field
// metadata. Loading and persisting schemas is the schema controller's job;
// everything here is pure.
package schema

import (
	"fmt"

	"github.com/mobibase/mobibase/domain/apierr"
	"github.com/mobibase/mobibase/domain/object"
)

// FieldType enumerates the storable field types.
type FieldType string

const (
	TypeString  FieldType = "String"
	TypeNumber  FieldType = "Number"
	TypeBoolean FieldType = "Boolean"
	TypeDate    FieldType = "Date"
	TypeObject  FieldType = "Object"
	TypeArray   FieldType = "Array"
	TypePointer FieldType = "Pointer"
	TypeFile    FieldType = "File"
	TypeACL     FieldType = "ACL"
)

// Field describes one schema field.
type Field struct {
	Type         FieldType
	Required     bool
	DefaultValue any // nil = no default
}

// Class describes one class: its fields keyed by name.
type Class struct {
	Name   string
	Fields map[string]Field
}

// Snapshot is an immutable view of all class schemas, loaded once per
// write request and reused for every stage.
type Snapshot struct {
	classes map[string]Class
}

// NewSnapshot builds a snapshot from class definitions.
func NewSnapshot(classes ...Class) *Snapshot {
	m := make(map[string]Class, len(classes))
	for _, c := range classes {
		m[c.Name] = c
	}
	return &Snapshot{classes: m}
}

// HasClass reports whether the class exists in the snapshot.
func (s *Snapshot) HasClass(name string) bool {
	_, ok := s.classes[name]
	return ok
}

// Class returns the definition for a class.
func (s *Snapshot) Class(name string) (Class, bool) {
	c, ok := s.classes[name]
	return c, ok
}

// ApplyDefaults substitutes schema default values into data for every
// field that is absent, nil, empty-string, or explicitly deleted. It
// returns the names of fields it changed. Running it again on the result
// changes nothing.
func ApplyDefaults(c Class, data object.Map) []string {
	var changed []string
	for name, field := range c.Fields {
		if field.DefaultValue == nil {
			continue
		}
		v, present := data[name]
		if !present || object.IsUnset(v) {
			data[name] = field.DefaultValue
			changed = append(changed, name)
		}
	}
	return changed
}

// CheckRequired verifies every required field carries a usable value,
// naming the first offender. On updates only fields present in data are
// checked; absence means "left unchanged".
func CheckRequired(c Class, data object.Map, update bool) error {
	for name, field := range c.Fields {
		if !field.Required {
			continue
		}
		v, present := data[name]
		if !present {
			if update {
				continue
			}
			return apierr.Newf(apierr.CodeValidationError, "%s is required", name)
		}
		if object.IsUnset(v) {
			return apierr.Newf(apierr.CodeValidationError, "%s is required", name)
		}
	}
	return nil
}

// ValidateTypes checks payload values against field types. Unknown fields
// are accepted; the schema controller owns unknown-field policy.
func ValidateTypes(c Class, data object.Map) error {
	for name, v := range data {
		field, ok := c.Fields[name]
		if !ok || v == nil || object.IsDelete(v) {
			continue
		}
		if !typeMatches(field.Type, v) {
			return apierr.Newf(apierr.CodeValidationError,
				"schema mismatch for %s.%s; expected %s", c.Name, name, field.Type)
		}
	}
	return nil
}

func typeMatches(t FieldType, v any) bool {
	switch t {
	case TypeString, TypeDate:
		_, ok := v.(string)
		return ok
	case TypeNumber:
		switch v.(type) {
		case int, int64, float64:
			return true
		}
		return false
	case TypeBoolean:
		_, ok := v.(bool)
		return ok
	case TypeObject, TypePointer, TypeFile:
		_, ok := v.(map[string]any)
		return ok
	case TypeACL:
		_, ok := object.ACLFrom(v)
		return ok
	case TypeArray:
		_, ok := v.([]any)
		return ok
	}
	return true
}

// String implements fmt.Stringer for diagnostics.
func (c Class) String() string {
	return fmt.Sprintf("class %s (%d fields)", c.Name, len(c.Fields))
}
