package core

import (
	"testing"

	"github.com/cuemby/warren/internal/entry"
	"github.com/cuemby/warren/internal/identity"
	"github.com/cuemby/warren/internal/operation"
	"github.com/cuemby/warren/internal/schema"
	"github.com/cuemby/warren/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHarness(t *testing.T) (*store.BoltStore, *schema.Registry, *identity.KeyPair) {
	t.Helper()
	s, err := store.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	kp, err := identity.GenerateKeyPair()
	require.NoError(t, err)
	return s, schema.NewRegistry(), kp
}

func createOp() *operation.Operation {
	return &operation.Operation{
		Action:   operation.ActionCreate,
		SchemaID: "profile_v1",
		Fields: map[string]operation.FieldValue{
			"name": {Type: operation.FieldString, Str: "Alice"},
		},
	}
}

func buildEntry(t *testing.T, kp *identity.KeyPair, logID entry.LogID, seq entry.SeqNum, backlink, skiplink *identity.Hash, op *operation.Operation) *entry.Entry {
	t.Helper()
	encoded, err := operation.Encode(op)
	require.NoError(t, err)
	payloadHash := identity.HashOf(encoded)

	e := &entry.Entry{
		PublicKey:   kp.Public,
		LogID:       logID,
		SeqNum:      seq,
		Backlink:    backlink,
		Skiplink:    skiplink,
		PayloadHash: payloadHash,
		PayloadSize: uint64(len(encoded)),
	}
	e.Sign(kp)
	return e
}

func registerProfileSchema(t *testing.T, reg *schema.Registry) {
	t.Helper()
	reg.Add(&schema.Schema{
		ID:   "profile_v1",
		Name: "profile",
		Fields: []schema.FieldDef{
			{Name: "name", Type: schema.TypeString},
		},
	})
}

func TestNextArgsForFreshLog(t *testing.T) {
	s, _, kp := newHarness(t)

	args, err := NextArgs(s, kp.Public, nil)
	require.NoError(t, err)
	assert.Equal(t, entry.LogID(0), args.LogID)
	assert.Equal(t, entry.SeqNum(1), args.SeqNum)
	assert.Nil(t, args.Backlink)
	assert.Nil(t, args.Skiplink)
}

func TestIngestCreateThenNextArgsExtendsLog(t *testing.T) {
	s, reg, kp := newHarness(t)
	registerProfileSchema(t, reg)

	op := createOp()
	e := buildEntry(t, kp, 0, 1, nil, nil, op)

	args, err := Ingest(s, reg, e, op)
	require.NoError(t, err)
	assert.Equal(t, entry.LogID(0), args.LogID)
	assert.Equal(t, entry.SeqNum(2), args.SeqNum)
	require.NotNil(t, args.Backlink)

	wantBacklink, err := e.Hash()
	require.NoError(t, err)
	assert.Equal(t, wantBacklink, *args.Backlink)

	doc, err := s.GetDocument(func() operation.DocumentID { h, _ := e.Hash(); return h }())
	require.NoError(t, err)
	assert.Equal(t, "profile_v1", doc.SchemaID)
}

func TestIngestRejectsUnknownSchema(t *testing.T) {
	s, reg, kp := newHarness(t)
	// schema not registered
	op := createOp()
	e := buildEntry(t, kp, 0, 1, nil, nil, op)

	_, err := Ingest(s, reg, e, op)
	require.Error(t, err)
}

func TestIngestRejectsBadBacklink(t *testing.T) {
	s, reg, kp := newHarness(t)
	registerProfileSchema(t, reg)

	op := createOp()
	first := buildEntry(t, kp, 0, 1, nil, nil, op)
	_, err := Ingest(s, reg, first, op)
	require.NoError(t, err)

	updateOp := &operation.Operation{
		Action:   operation.ActionUpdate,
		SchemaID: "profile_v1",
		Previous: []operation.OperationID{mustHash(t, first)},
		Fields: map[string]operation.FieldValue{
			"name": {Type: operation.FieldString, Str: "Bob"},
		},
	}
	wrongBacklink := identity.HashOf([]byte("not the real predecessor"))
	second := buildEntry(t, kp, 0, 2, &wrongBacklink, nil, updateOp)

	_, err = Ingest(s, reg, second, updateOp)
	require.Error(t, err)
}

func TestIngestUpdateExtendsDocumentAcrossNewAuthorLog(t *testing.T) {
	s, reg, creator := newHarness(t)
	registerProfileSchema(t, reg)

	op := createOp()
	created := buildEntry(t, creator, 0, 1, nil, nil, op)
	_, err := Ingest(s, reg, created, op)
	require.NoError(t, err)
	docID := mustHash(t, created)

	other, err := identity.GenerateKeyPair()
	require.NoError(t, err)

	updateOp := &operation.Operation{
		Action:   operation.ActionUpdate,
		SchemaID: "profile_v1",
		Previous: []operation.OperationID{docID},
		Fields: map[string]operation.FieldValue{
			"name": {Type: operation.FieldString, Str: "Carol"},
		},
	}
	updateLogID, err := s.NextLogID(other.Public)
	require.NoError(t, err)
	updateEntry := buildEntry(t, other, updateLogID, 1, nil, nil, updateOp)

	args, err := Ingest(s, reg, updateEntry, updateOp)
	require.NoError(t, err)
	assert.Equal(t, entry.SeqNum(2), args.SeqNum)

	logRec, err := s.LogForDocument(other.Public, docID)
	require.NoError(t, err)
	assert.Equal(t, docID, logRec.DocumentID)
}

func mustHash(t *testing.T, e *entry.Entry) identity.Hash {
	t.Helper()
	h, err := e.Hash()
	require.NoError(t, err)
	return h
}
