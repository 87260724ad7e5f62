package store

import (
	"testing"

	"github.com/cuemby/warren/internal/entry"
	"github.com/cuemby/warren/internal/identity"
	"github.com/cuemby/warren/internal/operation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	s, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func mustKeyPair(t *testing.T) *identity.KeyPair {
	t.Helper()
	kp, err := identity.GenerateKeyPair()
	require.NoError(t, err)
	return kp
}

func signedCreateEntry(t *testing.T, kp *identity.KeyPair, logID entry.LogID) (*entry.Entry, *operation.Operation, OperationID) {
	t.Helper()
	op := &operation.Operation{
		Action:   operation.ActionCreate,
		SchemaID: "profile_v1",
		Fields: map[string]operation.FieldValue{
			"name": {Type: operation.FieldString, Str: "Alice"},
		},
	}
	encoded, err := operation.Encode(op)
	require.NoError(t, err)
	payloadHash := identity.HashOf(encoded)

	e := &entry.Entry{
		PublicKey:   kp.Public,
		LogID:       logID,
		SeqNum:      1,
		PayloadHash: payloadHash,
		PayloadSize: uint64(len(encoded)),
	}
	e.Sign(kp)

	opID, err := e.Hash()
	require.NoError(t, err)
	return e, op, opID
}

func TestPublishEntryAndGetEntry(t *testing.T) {
	s := newTestStore(t)
	kp := mustKeyPair(t)
	e, op, opID := signedCreateEntry(t, kp, 0)

	enqueued, err := s.PublishEntry(e, op, opID, opID, true, true)
	require.NoError(t, err)
	assert.True(t, enqueued)

	got, err := s.GetEntry(kp.Public, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, e.SeqNum, got.SeqNum)

	byHash, err := s.GetEntryByHash(opID)
	require.NoError(t, err)
	assert.Equal(t, e.SeqNum, byHash.SeqNum)

	latest, err := s.LatestEntry(kp.Public, 0)
	require.NoError(t, err)
	assert.Equal(t, entry.SeqNum(1), latest.SeqNum)
}

func TestPublishEntryCreatesLogAndDocument(t *testing.T) {
	s := newTestStore(t)
	kp := mustKeyPair(t)
	e, op, opID := signedCreateEntry(t, kp, 0)

	_, err := s.PublishEntry(e, op, opID, opID, true, true)
	require.NoError(t, err)

	doc, err := s.GetDocument(opID)
	require.NoError(t, err)
	assert.Equal(t, "profile_v1", doc.SchemaID)
	assert.False(t, doc.Deleted)

	logRec, err := s.GetLog(kp.Public, 0)
	require.NoError(t, err)
	assert.Equal(t, opID, logRec.DocumentID)

	byDoc, err := s.LogForDocument(kp.Public, opID)
	require.NoError(t, err)
	assert.Equal(t, entry.LogID(0), byDoc.LogID)
}

func TestPublishEntryEnqueuesReduceTaskOnce(t *testing.T) {
	s := newTestStore(t)
	kp := mustKeyPair(t)
	e, op, opID := signedCreateEntry(t, kp, 0)

	enqueued, err := s.PublishEntry(e, op, opID, opID, true, true)
	require.NoError(t, err)
	assert.True(t, enqueued)

	tasks, err := s.ListTasks("reduce")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, opID, tasks[0].DocumentID)

	again, err := s.EnqueueTask("reduce", TaskInput{Kind: DocumentInput, DocumentID: opID})
	require.NoError(t, err)
	assert.False(t, again, "duplicate task input must not enqueue a second row")
}

func TestNextLogIDFindsSmallestGap(t *testing.T) {
	s := newTestStore(t)
	kp := mustKeyPair(t)

	id0, err := s.NextLogID(kp.Public)
	require.NoError(t, err)
	assert.Equal(t, entry.LogID(0), id0)

	e, op, opID := signedCreateEntry(t, kp, 0)
	_, err = s.PublishEntry(e, op, opID, opID, true, true)
	require.NoError(t, err)

	id1, err := s.NextLogID(kp.Public)
	require.NoError(t, err)
	assert.Equal(t, entry.LogID(1), id1)
}

func TestListEntriesAfterPaginatesInOrder(t *testing.T) {
	s := newTestStore(t)
	kp := mustKeyPair(t)
	e, op, opID := signedCreateEntry(t, kp, 0)
	_, err := s.PublishEntry(e, op, opID, opID, true, true)
	require.NoError(t, err)

	entries, err := s.ListEntriesAfter(kp.Public, 0, 0, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, entry.SeqNum(1), entries[0].SeqNum)

	none, err := s.ListEntriesAfter(kp.Public, 0, 1, 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestDocumentForViewIDRequiresSameDocument(t *testing.T) {
	s := newTestStore(t)
	kp := mustKeyPair(t)
	e, op, opID := signedCreateEntry(t, kp, 0)
	_, err := s.PublishEntry(e, op, opID, opID, true, true)
	require.NoError(t, err)

	docID, err := s.DocumentForViewID(operation.ViewID{opID})
	require.NoError(t, err)
	assert.Equal(t, opID, docID)
}

func TestPutDocumentViewUpdatesCurrentViewID(t *testing.T) {
	s := newTestStore(t)
	kp := mustKeyPair(t)
	e, op, opID := signedCreateEntry(t, kp, 0)
	_, err := s.PublishEntry(e, op, opID, opID, true, true)
	require.NoError(t, err)

	view := &DocumentView{
		ViewID:     operation.ViewID{opID},
		DocumentID: opID,
		SchemaID:   "profile_v1",
		Fields:     map[string]OperationID{"name": opID},
	}
	require.NoError(t, s.PutDocumentView(view))

	doc, err := s.GetDocument(opID)
	require.NoError(t, err)
	assert.True(t, doc.CurrentViewID.Equal(view.ViewID))

	got, err := s.GetDocumentView(view.ViewID)
	require.NoError(t, err)
	assert.Equal(t, opID, got.Fields["name"])
}

func TestDocumentsBySchemaFiltersCorrectly(t *testing.T) {
	s := newTestStore(t)
	kp := mustKeyPair(t)
	e, op, opID := signedCreateEntry(t, kp, 0)
	_, err := s.PublishEntry(e, op, opID, opID, true, true)
	require.NoError(t, err)

	docs, err := s.DocumentsBySchema("profile_v1")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, opID, docs[0].ID)

	none, err := s.DocumentsBySchema("other_schema")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestListAndDeleteDocumentViews(t *testing.T) {
	s := newTestStore(t)
	kp := mustKeyPair(t)
	e, op, opID := signedCreateEntry(t, kp, 0)
	_, err := s.PublishEntry(e, op, opID, opID, true, true)
	require.NoError(t, err)

	view := &DocumentView{
		ViewID:     operation.ViewID{opID},
		DocumentID: opID,
		SchemaID:   "profile_v1",
		Fields:     map[string]OperationID{"name": opID},
	}
	require.NoError(t, s.PutDocumentView(view))

	views, err := s.ListDocumentViews()
	require.NoError(t, err)
	require.Len(t, views, 1)

	require.NoError(t, s.DeleteDocumentView(view.ViewID))
	views, err = s.ListDocumentViews()
	require.NoError(t, err)
	assert.Empty(t, views)
}
