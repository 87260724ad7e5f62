// Package coreerrors enumerates the error kinds of the core's propagation
// policy: validation failures surface to the caller, replication failures
// end only the offending session, materializer retryable failures are
// swallowed by the scheduler, and critical failures crash the process.
package coreerrors

import "errors"

var (
	// ErrInvalidEntry means signature, link, or seq_num verification failed.
	ErrInvalidEntry = errors.New("invalid entry")
	// ErrInvalidOperation means schema mismatch, malformed field, or a
	// broken previous-operation set.
	ErrInvalidOperation = errors.New("invalid operation")
	// ErrUnknownDocument means the referenced document is not yet known to
	// this node. Retryable by replication and the materializer.
	ErrUnknownDocument = errors.New("unknown document")
	// ErrUnknownOperation means the referenced operation is not yet known
	// to this node. Retryable by replication and the materializer.
	ErrUnknownOperation = errors.New("unknown operation")
	// ErrDocumentDeleted means an update or delete targeted a tombstoned
	// document.
	ErrDocumentDeleted = errors.New("document deleted")
	// ErrLogConflict means the claimed seq_num already exists or jumps
	// over one. Non-retryable.
	ErrLogConflict = errors.New("log conflict")
	// ErrSchemaUnknown means the operation names a schema this node has
	// not materialized.
	ErrSchemaUnknown = errors.New("schema unknown")
	// ErrSessionInvalid means a duplicate session, unsupported mode, empty
	// target-set intersection, or unexpected message was observed.
	ErrSessionInvalid = errors.New("session invalid")
	// ErrTaskRetryable means a materializer task's input is missing; the
	// task is re-enqueued once the prerequisite arrives.
	ErrTaskRetryable = errors.New("task retryable")
	// ErrTaskCritical means an invariant was violated inside a worker.
	// Callers must treat this as fatal.
	ErrTaskCritical = errors.New("task critical")
	// ErrStorage means the storage backend failed; no partial writes are
	// committed.
	ErrStorage = errors.New("storage error")
)

// Retryable reports whether err represents a condition the caller should
// retry once more state becomes available, rather than treat as final.
func Retryable(err error) bool {
	return errors.Is(err, ErrUnknownDocument) ||
		errors.Is(err, ErrUnknownOperation) ||
		errors.Is(err, ErrTaskRetryable)
}

// Critical reports whether err must abort the owning process.
func Critical(err error) bool {
	return errors.Is(err, ErrTaskCritical)
}
