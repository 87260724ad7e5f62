package materializer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/cuemby/warren/internal/entry"
	"github.com/cuemby/warren/internal/identity"
	"github.com/cuemby/warren/internal/operation"
	"github.com/cuemby/warren/internal/schema"
	"github.com/cuemby/warren/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHarness(t *testing.T) (*store.BoltStore, *schema.Registry, *Materializer) {
	t.Helper()
	s, err := store.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	reg := schema.NewRegistry()
	reg.Add(&schema.Schema{
		ID:   "profile_v1",
		Name: "profile",
		Fields: []schema.FieldDef{
			{Name: "name", Type: schema.TypeString},
		},
	})
	return s, reg, New(s, reg, t.TempDir())
}

func publishOp(t *testing.T, s *store.BoltStore, kp *identity.KeyPair, logID entry.LogID, seq entry.SeqNum, backlink *identity.Hash, op *operation.Operation, docID operation.DocumentID, newLog, newDoc bool) *entry.Entry {
	t.Helper()
	encoded, err := operation.Encode(op)
	require.NoError(t, err)
	e := &entry.Entry{
		PublicKey:   kp.Public,
		LogID:       logID,
		SeqNum:      seq,
		Backlink:    backlink,
		PayloadHash: identity.HashOf(encoded),
		PayloadSize: uint64(len(encoded)),
	}
	e.Sign(kp)
	opID, err := e.Hash()
	require.NoError(t, err)
	if docID == (operation.DocumentID{}) {
		docID = opID
	}
	_, err = s.PublishEntry(e, op, opID, docID, newLog, newDoc)
	require.NoError(t, err)
	return e
}

func TestReduceFoldsCreateThenUpdate(t *testing.T) {
	s, _, m := newHarness(t)
	kp, err := identity.GenerateKeyPair()
	require.NoError(t, err)

	createOp := &operation.Operation{
		Action:   operation.ActionCreate,
		SchemaID: "profile_v1",
		Fields: map[string]operation.FieldValue{
			"name": {Type: operation.FieldString, Str: "Alice"},
		},
	}
	created := publishOp(t, s, kp, 0, 1, nil, createOp, operation.DocumentID{}, true, true)
	docID, err := created.Hash()
	require.NoError(t, err)

	backlinkHash, err := created.Hash()
	require.NoError(t, err)
	updateOp := &operation.Operation{
		Action:   operation.ActionUpdate,
		SchemaID: "profile_v1",
		Previous: []operation.OperationID{docID},
		Fields: map[string]operation.FieldValue{
			"name": {Type: operation.FieldString, Str: "Bob"},
		},
	}
	publishOp(t, s, kp, 0, 2, &backlinkHash, updateOp, docID, false, false)

	result, err := m.Reduce(context.Background(), store.TaskInput{Kind: store.DocumentInput, DocumentID: docID})
	require.NoError(t, err)
	require.Len(t, result.FollowUps, 1)
	assert.Equal(t, "dependency", result.FollowUps[0].Name)

	doc, err := s.GetDocument(docID)
	require.NoError(t, err)
	require.NotEmpty(t, doc.CurrentViewID)

	view, err := s.GetDocumentView(doc.CurrentViewID)
	require.NoError(t, err)
	setter := view.Fields["name"]
	rec, err := s.GetOperation(setter)
	require.NoError(t, err)
	op, err := rec.Decode()
	require.NoError(t, err)
	assert.Equal(t, "Bob", op.Fields["name"].Str)
}

func TestReduceMarksDeletedDocument(t *testing.T) {
	s, _, m := newHarness(t)
	kp, err := identity.GenerateKeyPair()
	require.NoError(t, err)

	createOp := &operation.Operation{
		Action:   operation.ActionCreate,
		SchemaID: "profile_v1",
		Fields: map[string]operation.FieldValue{
			"name": {Type: operation.FieldString, Str: "Alice"},
		},
	}
	created := publishOp(t, s, kp, 0, 1, nil, createOp, operation.DocumentID{}, true, true)
	docID, err := created.Hash()
	require.NoError(t, err)
	backlinkHash, err := created.Hash()
	require.NoError(t, err)

	deleteOp := &operation.Operation{
		Action:   operation.ActionDelete,
		SchemaID: "profile_v1",
		Previous: []operation.OperationID{docID},
	}
	publishOp(t, s, kp, 0, 2, &backlinkHash, deleteOp, docID, false, false)

	_, err = m.Reduce(context.Background(), store.TaskInput{Kind: store.DocumentInput, DocumentID: docID})
	require.NoError(t, err)

	doc, err := s.GetDocument(docID)
	require.NoError(t, err)
	assert.True(t, doc.Deleted)
}

func TestDependencyRetriesOnMissingRelationTarget(t *testing.T) {
	s, reg, m := newHarness(t)
	reg.Add(&schema.Schema{
		ID:   "post_v1",
		Name: "post",
		Fields: []schema.FieldDef{
			{Name: "author", Type: schema.TypeRelation},
		},
	})
	kp, err := identity.GenerateKeyPair()
	require.NoError(t, err)

	missingTarget := identity.HashOf([]byte("not materialized"))
	postOp := &operation.Operation{
		Action:   operation.ActionCreate,
		SchemaID: "post_v1",
		Fields: map[string]operation.FieldValue{
			"author": {Type: operation.FieldRelation, Relation: missingTarget},
		},
	}
	created := publishOp(t, s, kp, 0, 1, nil, postOp, operation.DocumentID{}, true, true)
	docID, err := created.Hash()
	require.NoError(t, err)

	_, err = m.Reduce(context.Background(), store.TaskInput{Kind: store.DocumentInput, DocumentID: docID})
	require.NoError(t, err)

	result, err := m.Dependency(context.Background(), store.TaskInput{Kind: store.DocumentInput, DocumentID: docID})
	require.Error(t, err)
	require.Len(t, result.FollowUps, 1)
	assert.Equal(t, "reduce", result.FollowUps[0].Name)
	assert.Equal(t, missingTarget, result.FollowUps[0].Input.DocumentID)
}

func TestDependencyEmitsBlobTaskForBlobDocument(t *testing.T) {
	s, _, m := newHarness(t)
	kp, err := identity.GenerateKeyPair()
	require.NoError(t, err)

	pieceOp := &operation.Operation{
		Action:   operation.ActionCreate,
		SchemaID: schema.BlobPieceV1,
		Fields: map[string]operation.FieldValue{
			"data": {Type: operation.FieldBytes, Bytes: []byte("hello ")},
		},
	}
	piece := publishOp(t, s, kp, 1, 1, nil, pieceOp, operation.DocumentID{}, true, true)
	pieceDocID, err := piece.Hash()
	require.NoError(t, err)
	pieceViewID := operation.NewViewID([]operation.OperationID{pieceDocID})

	blobOp := &operation.Operation{
		Action:   operation.ActionCreate,
		SchemaID: schema.BlobV1,
		Fields: map[string]operation.FieldValue{
			"pieces": {Type: operation.FieldPinnedRelationList, PinnedRelationList: []operation.ViewID{pieceViewID}},
			"length": {Type: operation.FieldInt, Int: 6},
		},
	}
	blob := publishOp(t, s, kp, 2, 1, nil, blobOp, operation.DocumentID{}, true, true)
	blobDocID, err := blob.Hash()
	require.NoError(t, err)

	_, err = m.Reduce(context.Background(), store.TaskInput{Kind: store.DocumentInput, DocumentID: pieceDocID})
	require.NoError(t, err)
	_, err = m.Reduce(context.Background(), store.TaskInput{Kind: store.DocumentInput, DocumentID: blobDocID})
	require.NoError(t, err)

	result, err := m.Dependency(context.Background(), store.TaskInput{Kind: store.DocumentInput, DocumentID: blobDocID})
	require.NoError(t, err)
	require.Len(t, result.FollowUps, 1)
	assert.Equal(t, "blob", result.FollowUps[0].Name)
	assert.Equal(t, blobDocID, result.FollowUps[0].Input.DocumentID)

	_, err = m.Blob(context.Background(), result.FollowUps[0].Input)
	require.NoError(t, err)

	latest := filepath.Join(m.BlobsBasePath, blobDocID.String()+".latest")
	b, err := os.ReadFile(latest)
	require.NoError(t, err)
	assert.Equal(t, "hello ", string(b))
}

func TestGarbagePrunesOrphanedViews(t *testing.T) {
	s, _, m := newHarness(t)
	kp, err := identity.GenerateKeyPair()
	require.NoError(t, err)

	createOp := &operation.Operation{
		Action:   operation.ActionCreate,
		SchemaID: "profile_v1",
		Fields: map[string]operation.FieldValue{
			"name": {Type: operation.FieldString, Str: "Alice"},
		},
	}
	created := publishOp(t, s, kp, 0, 1, nil, createOp, operation.DocumentID{}, true, true)
	docID, err := created.Hash()
	require.NoError(t, err)

	staleView := &store.DocumentView{
		ViewID:     operation.ViewID{identity.HashOf([]byte("stale"))},
		DocumentID: docID,
		SchemaID:   "profile_v1",
		Fields:     map[string]store.OperationID{},
	}
	require.NoError(t, s.PutDocumentView(staleView))

	currentView := &store.DocumentView{
		ViewID:     operation.ViewID{docID},
		DocumentID: docID,
		SchemaID:   "profile_v1",
		Fields:     map[string]store.OperationID{"name": docID},
	}
	require.NoError(t, s.PutDocumentView(currentView))

	_, err = m.Garbage(context.Background(), store.TaskInput{})
	require.NoError(t, err)

	_, err = s.GetDocumentView(staleView.ViewID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.GetDocumentView(currentView.ViewID)
	assert.NoError(t, err)
}
