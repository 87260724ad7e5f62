package operation

import (
	"fmt"

	"github.com/cuemby/warren/internal/coreerrors"
	"github.com/cuemby/warren/internal/identity"
	"github.com/fxamacker/cbor/v2"
)

var encMode = func() cbor.EncMode {
	opts := cbor.CanonicalEncOptions()
	mode, err := opts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("operation: build canonical cbor encoder: %v", err))
	}
	return mode
}()

// wireOperation mirrors Operation field-for-field. It carries no cbor
// struct tags, so it encodes as a CBOR map keyed by field name, and
// canonical mode sorts those keys, making the bytes independent of
// in-memory field order.
type wireOperation struct {
	Action   Action
	SchemaID string
	Previous []identity.Hash
	Fields   map[string]FieldValue
}

// Encode produces the deterministic canonical encoding of op. Equal
// operations must hash identically (spec §4.1).
func Encode(op *Operation) ([]byte, error) {
	w := wireOperation{
		Action:   op.Action,
		SchemaID: op.SchemaID,
		Previous: op.Previous,
		Fields:   op.Fields,
	}
	b, err := encMode.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("operation: encode: %w", err)
	}
	return b, nil
}

// Decode parses the canonical encoding produced by Encode.
func Decode(b []byte) (*Operation, error) {
	var w wireOperation
	if err := cbor.Unmarshal(b, &w); err != nil {
		return nil, fmt.Errorf("%w: decode operation: %v", coreerrors.ErrInvalidOperation, err)
	}
	return &Operation{
		Action:   w.Action,
		SchemaID: w.SchemaID,
		Previous: w.Previous,
		Fields:   w.Fields,
	}, nil
}

// ComputeID returns the operation id: the content hash of op's canonical
// encoding. The operation id is actually defined as the hash of the
// owning entry (spec §3); ComputeID is used where only the operation
// bytes are available (e.g. before an entry wraps them), and is
// superseded by the entry hash once published.
func ComputeID(op *Operation) (OperationID, error) {
	b, err := Encode(op)
	if err != nil {
		return OperationID{}, err
	}
	return identity.HashOf(b), nil
}

// ValidateStructure checks the invariants of spec §3 that do not require
// consulting the schema registry:
//
//   - Previous is empty iff Action is Create.
//   - Fields is absent (nil) iff Action is Delete.
func ValidateStructure(op *Operation) error {
	switch op.Action {
	case ActionCreate:
		if len(op.Previous) != 0 {
			return fmt.Errorf("%w: create operation must have empty previous set", coreerrors.ErrInvalidOperation)
		}
		if op.Fields == nil {
			return fmt.Errorf("%w: create operation must declare fields", coreerrors.ErrInvalidOperation)
		}
	case ActionUpdate:
		if len(op.Previous) == 0 {
			return fmt.Errorf("%w: update operation must reference previous operations", coreerrors.ErrInvalidOperation)
		}
		if op.Fields == nil {
			return fmt.Errorf("%w: update operation must declare fields", coreerrors.ErrInvalidOperation)
		}
	case ActionDelete:
		if len(op.Previous) == 0 {
			return fmt.Errorf("%w: delete operation must reference previous operations", coreerrors.ErrInvalidOperation)
		}
		if op.Fields != nil {
			return fmt.Errorf("%w: delete operation must not declare fields", coreerrors.ErrInvalidOperation)
		}
	default:
		return fmt.Errorf("%w: unknown action %d", coreerrors.ErrInvalidOperation, op.Action)
	}
	return nil
}
