package store

import (
	"github.com/cuemby/warren/internal/entry"
	"github.com/cuemby/warren/internal/identity"
	"github.com/cuemby/warren/internal/operation"
)

// Store is the log/document/task persistence boundary (spec §4.2). All
// writes that mutate a log, a document, or the task queue are
// transactional: entry + operation + optional new log + new tasks
// commit as one unit, and readers never observe a partially-inserted
// entry.
type Store interface {
	// Entries

	GetEntry(pub identity.PublicKey, logID entry.LogID, seq entry.SeqNum) (*entry.Entry, error)
	GetEntryByHash(h identity.Hash) (*entry.Entry, error)
	LatestEntry(pub identity.PublicKey, logID entry.LogID) (*entry.Entry, error)
	ListEntriesAfter(pub identity.PublicKey, logID entry.LogID, after entry.SeqNum, limit int) ([]*entry.Entry, error)
	NextLogID(pub identity.PublicKey) (entry.LogID, error)

	// PublishEntry atomically inserts e and its decoded operation against
	// docID, creating a new log row when newLog is true and a new
	// document row when newDocument is true, and enqueues a `reduce` task
	// for the affected document in the same transaction. newLog and
	// newDocument are independent: an author's first entry touching a
	// document it did not create opens a fresh log (newLog) against an
	// already-existing document (newDocument false). Returns whether the
	// reduce task was newly enqueued (false if an identical task was
	// already pending).
	PublishEntry(e *entry.Entry, op *operation.Operation, opID OperationID, docID DocumentID, newLog, newDocument bool) (reduceEnqueued bool, err error)

	// Logs

	GetLog(pub identity.PublicKey, logID entry.LogID) (*LogRecord, error)
	LogForDocument(pub identity.PublicKey, docID DocumentID) (*LogRecord, error)
	ListLogsForSchemas(schemaIDs []string) ([]*LogRecord, error)

	// Operations

	GetOperation(id OperationID) (*OperationRecord, error)
	ListOperationsForDocument(docID DocumentID) ([]*OperationRecord, error)
	SetSortedIndex(opID OperationID, idx int) error
	DocumentForOperation(opID OperationID) (DocumentID, error)
	DocumentForViewID(v operation.ViewID) (DocumentID, error)

	// Documents & views

	GetDocument(docID DocumentID) (*Document, error)
	DocumentsBySchema(schemaID string) ([]*Document, error)
	GetDocumentView(viewID operation.ViewID) (*DocumentView, error)
	PutDocumentView(view *DocumentView) error
	ListDocumentViews() ([]*DocumentView, error)
	DeleteDocumentView(viewID operation.ViewID) error
	MarkDocumentDeleted(docID DocumentID, viewID operation.ViewID) error

	// Tasks

	EnqueueTask(worker string, input TaskInput) (enqueued bool, err error)
	RemoveTask(worker string, input TaskInput) error
	ListTasks(worker string) ([]TaskInput, error)

	Close() error
}
