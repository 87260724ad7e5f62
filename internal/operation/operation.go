// Package operation implements the operation codec: encoding, decoding,
// and classification of the mutations that are carried inside entries
// (spec §3, §4.1).
package operation

import (
	"sort"

	"github.com/cuemby/warren/internal/identity"
)

// Action classifies what an operation does to a document.
type Action uint8

const (
	ActionCreate Action = iota
	ActionUpdate
	ActionDelete
)

// String renders the action for logging.
func (a Action) String() string {
	switch a {
	case ActionCreate:
		return "create"
	case ActionUpdate:
		return "update"
	case ActionDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// DocumentID identifies a document; equal to its Create operation's id.
type DocumentID = identity.Hash

// OperationID identifies an operation; equal to the hash of the entry
// that carries it.
type OperationID = identity.Hash

// ViewID is the sorted, deduplicated set of operation ids forming the
// current graph tips of a document.
type ViewID []OperationID

// NewViewID builds a canonical ViewID from a set of operation ids:
// deduplicated and sorted by the hash-sortable ordering.
func NewViewID(ids []OperationID) ViewID {
	seen := make(map[OperationID]struct{}, len(ids))
	out := make(ViewID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// String hex-joins the tip ids for display.
func (v ViewID) String() string {
	s := ""
	for i, id := range v {
		if i > 0 {
			s += ","
		}
		s += id.String()
	}
	return s
}

// Equal reports whether two view ids name the same set of tips.
func (v ViewID) Equal(other ViewID) bool {
	if len(v) != len(other) {
		return false
	}
	for i := range v {
		if v[i] != other[i] {
			return false
		}
	}
	return true
}

// FieldType is the type tag of a field value (spec §3 "Field value").
type FieldType uint8

const (
	FieldBool FieldType = iota
	FieldInt
	FieldFloat
	FieldString
	FieldBytes
	FieldRelation
	FieldPinnedRelation
	FieldRelationList
	FieldPinnedRelationList
)

// FieldValue is a tagged union over the field value kinds the schema
// model supports.
type FieldValue struct {
	Type               FieldType
	Bool               bool           `cbor:",omitempty"`
	Int                int64          `cbor:",omitempty"`
	Float              float64        `cbor:",omitempty"`
	Str                string         `cbor:",omitempty"`
	Bytes              []byte         `cbor:",omitempty"`
	Relation           DocumentID     `cbor:",omitempty"`
	PinnedRelation     ViewID         `cbor:",omitempty"`
	RelationList       []DocumentID   `cbor:",omitempty"`
	PinnedRelationList []ViewID       `cbor:",omitempty"`
}

// Operation is a mutation on a document (spec §3).
type Operation struct {
	Action   Action
	SchemaID string
	Previous []OperationID
	Fields   map[string]FieldValue // absent (nil) iff Action == ActionDelete
}

// IsCreate reports whether op defines a new document.
func (op *Operation) IsCreate() bool { return op.Action == ActionCreate }

// PreviousSet returns the deduplicated set of operation ids this
// operation declares as its immediate predecessors in the document graph.
func (op *Operation) PreviousSet() []OperationID {
	seen := make(map[OperationID]struct{}, len(op.Previous))
	out := make([]OperationID, 0, len(op.Previous))
	for _, id := range op.Previous {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
