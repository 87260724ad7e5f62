// Package store persists entries, operations, logs, documents, document
// views, and the task queue, and serves the queries required by the
// materializer, replication, and ingest (spec §4.2).
package store

import (
	"errors"

	"github.com/cuemby/warren/internal/entry"
	"github.com/cuemby/warren/internal/identity"
	"github.com/cuemby/warren/internal/operation"
)

// ErrNotFound is returned by lookups that find no matching row.
var ErrNotFound = errors.New("store: not found")

// DocumentID and OperationID are aliases into the operation package's
// content-addressed id types.
type (
	DocumentID  = operation.DocumentID
	OperationID = operation.OperationID
)

// LogRecord is the `logs` logical table: a log is dedicated to exactly
// one document.
type LogRecord struct {
	PublicKey  identity.PublicKey
	LogID      entry.LogID
	DocumentID DocumentID
	SchemaID   string
}

// OperationRecord is the `operations` logical table, widened with the
// raw canonical operation bytes that stand in for the separate
// `operation_fields` table.
type OperationRecord struct {
	OperationID        OperationID
	DocumentID         DocumentID
	SchemaID           string
	Action             operation.Action
	Previous           []OperationID
	SortedIndex        int
	MaterializedViewID operation.ViewID
	Encoded            []byte // operation.Encode(op) — decode via operation.Decode
}

// Decode parses the stored operation bytes back into an Operation.
func (r *OperationRecord) Decode() (*operation.Operation, error) {
	return operation.Decode(r.Encoded)
}

// Document is the `documents` logical table.
type Document struct {
	ID             DocumentID
	SchemaID       string
	CurrentViewID  operation.ViewID
	Deleted        bool
	Owner          identity.PublicKey
}

// DocumentView is the `document_views` + `document_view_fields` logical
// tables: a snapshot of a document at a specific set of graph tips.
type DocumentView struct {
	ViewID     operation.ViewID
	DocumentID DocumentID
	SchemaID   string
	Fields     map[string]OperationID // field name -> the operation that set it
}

// TaskInputKind distinguishes the two kinds of materializer task input.
type TaskInputKind uint8

const (
	DocumentInput TaskInputKind = iota
	ViewInput
)

// TaskInput is the input half of a deduplicated `(worker, input)` task
// (spec §3 "Task").
type TaskInput struct {
	Kind       TaskInputKind
	DocumentID DocumentID
	ViewID     operation.ViewID
}

// Hash returns a stable content hash of the input, used as the
// deduplication key `input_hash`.
func (t TaskInput) Hash() identity.Hash {
	b := []byte{byte(t.Kind)}
	switch t.Kind {
	case DocumentInput:
		b = append(b, t.DocumentID[:]...)
	case ViewInput:
		for _, id := range t.ViewID {
			b = append(b, id[:]...)
		}
	}
	return identity.HashOf(b)
}

// Task is one dedup-keyed unit of materialization work.
type Task struct {
	Worker string
	Input  TaskInput
}
