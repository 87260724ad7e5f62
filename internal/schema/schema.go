// Package schema holds the set of known schemas, validates operation
// field shapes against them, and notifies subscribers when the set
// changes (spec §2.4, §3 "Schema").
package schema

import (
	"fmt"

	"github.com/cuemby/warren/internal/coreerrors"
	"github.com/cuemby/warren/internal/operation"
)

// FieldType is the declared type of one schema field.
type FieldType uint8

const (
	TypeBool FieldType = iota
	TypeInt
	TypeFloat
	TypeString
	TypeBytes
	TypeRelation
	TypePinnedRelation
	TypeRelationList
	TypePinnedRelationList
)

func (t FieldType) matches(v operation.FieldValue) bool {
	return FieldType(v.Type) == t
}

// FieldDef is one named, typed field declaration.
type FieldDef struct {
	Name string
	Type FieldType
}

// ID is a schema identifier: either a well-known system id or
// `name_<view_id>`.
type ID = string

// Schema is a typed field declaration a document must conform to (spec
// §3). Schemas are themselves documents, following the bootstrap
// "schema_definition" and "schema_field_definition" system schemas.
type Schema struct {
	ID          ID
	Name        string
	Description string
	Fields      []FieldDef // ordered
}

// FieldByName looks up a declared field by name.
func (s *Schema) FieldByName(name string) (FieldDef, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldDef{}, false
}

// Validate checks that op's fields all conform to s: every key in
// Fields must be declared in s with a matching type (spec §3 invariant
// iii). Delete operations carry no fields and trivially validate.
func Validate(s *Schema, op *operation.Operation) error {
	if op.Fields == nil {
		return nil
	}
	for name, value := range op.Fields {
		def, ok := s.FieldByName(name)
		if !ok {
			return fmt.Errorf("%w: field %q is not declared in schema %q", coreerrors.ErrInvalidOperation, name, s.ID)
		}
		if !def.Type.matches(value) {
			return fmt.Errorf("%w: field %q has wrong type for schema %q", coreerrors.ErrInvalidOperation, name, s.ID)
		}
	}
	return nil
}
