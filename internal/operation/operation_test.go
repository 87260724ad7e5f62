package operation

import (
	"testing"

	"github.com/cuemby/warren/internal/identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	op := &Operation{
		Action:   ActionCreate,
		SchemaID: "profile_v1",
		Fields: map[string]FieldValue{
			"name": {Type: FieldString, Str: "Alice"},
		},
	}

	b, err := Encode(op)
	require.NoError(t, err)

	decoded, err := Decode(b)
	require.NoError(t, err)

	assert.Equal(t, op.Action, decoded.Action)
	assert.Equal(t, op.SchemaID, decoded.SchemaID)
	assert.Equal(t, op.Fields["name"].Str, decoded.Fields["name"].Str)
}

func TestEncodeIsDeterministic(t *testing.T) {
	op := &Operation{
		Action:   ActionCreate,
		SchemaID: "profile_v1",
		Fields: map[string]FieldValue{
			"b": {Type: FieldString, Str: "2"},
			"a": {Type: FieldString, Str: "1"},
		},
	}

	b1, err := Encode(op)
	require.NoError(t, err)
	b2, err := Encode(op)
	require.NoError(t, err)
	assert.Equal(t, b1, b2)
}

func TestComputeIDStableAcrossEqualOperations(t *testing.T) {
	opA := &Operation{Action: ActionCreate, SchemaID: "s", Fields: map[string]FieldValue{"x": {Type: FieldInt, Int: 1}}}
	opB := &Operation{Action: ActionCreate, SchemaID: "s", Fields: map[string]FieldValue{"x": {Type: FieldInt, Int: 1}}}

	idA, err := ComputeID(opA)
	require.NoError(t, err)
	idB, err := ComputeID(opB)
	require.NoError(t, err)
	assert.Equal(t, idA, idB)
}

func TestValidateStructure(t *testing.T) {
	t.Run("create with previous rejected", func(t *testing.T) {
		op := &Operation{Action: ActionCreate, Previous: []OperationID{identity.HashOf([]byte("x"))}, Fields: map[string]FieldValue{}}
		assert.Error(t, ValidateStructure(op))
	})

	t.Run("update without previous rejected", func(t *testing.T) {
		op := &Operation{Action: ActionUpdate, Fields: map[string]FieldValue{}}
		assert.Error(t, ValidateStructure(op))
	})

	t.Run("delete with fields rejected", func(t *testing.T) {
		op := &Operation{
			Action:   ActionDelete,
			Previous: []OperationID{identity.HashOf([]byte("x"))},
			Fields:   map[string]FieldValue{"a": {Type: FieldBool}},
		}
		assert.Error(t, ValidateStructure(op))
	})

	t.Run("valid create accepted", func(t *testing.T) {
		op := &Operation{Action: ActionCreate, Fields: map[string]FieldValue{"a": {Type: FieldBool}}}
		assert.NoError(t, ValidateStructure(op))
	})
}

func TestNewViewIDDedupAndSort(t *testing.T) {
	a := identity.HashOf([]byte("a"))
	b := identity.HashOf([]byte("b"))

	v1 := NewViewID([]OperationID{a, b, a})
	v2 := NewViewID([]OperationID{b, a})

	assert.True(t, v1.Equal(v2))
	assert.Len(t, v1, 2)
}
