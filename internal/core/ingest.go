package core

import (
	"errors"
	"fmt"

	"github.com/cuemby/warren/internal/coreerrors"
	"github.com/cuemby/warren/internal/entry"
	"github.com/cuemby/warren/internal/identity"
	"github.com/cuemby/warren/internal/log"
	"github.com/cuemby/warren/internal/metrics"
	"github.com/cuemby/warren/internal/operation"
	"github.com/cuemby/warren/internal/schema"
	"github.com/cuemby/warren/internal/store"
)

// Ingest validates and inserts a foreign (or locally-authored) entry and
// its operation atomically, then enqueues follow-up materializer tasks
// (spec §4.4). It is idempotent: once the standalone and schema checks
// pass, an entry whose hash is already stored (identical bytes) succeeds
// without writing again and returns the current next-arguments. A
// verification failure never leaves partial state behind.
//
// On success it returns the next-arguments the author should use to
// publish their following entry in the same log.
func Ingest(s store.Store, registry *schema.Registry, e *entry.Entry, op *operation.Operation) (NextArguments, error) {
	logger := log.WithComponent("core").With().
		Str("author", e.PublicKey.String()).
		Uint64("log_id", uint64(e.LogID)).
		Uint64("seq_num", uint64(e.SeqNum)).
		Logger()

	if err := operation.ValidateStructure(op); err != nil {
		metrics.EntriesRejected.WithLabelValues("invalid_operation").Inc()
		return NextArguments{}, err
	}

	encodedOp, err := operation.Encode(op)
	if err != nil {
		metrics.EntriesRejected.WithLabelValues("invalid_operation").Inc()
		return NextArguments{}, fmt.Errorf("%w: %v", coreerrors.ErrInvalidOperation, err)
	}
	opHash := identity.HashOf(encodedOp)

	if err := entry.VerifyStandalone(e, opHash); err != nil {
		metrics.EntriesRejected.WithLabelValues("invalid_entry").Inc()
		return NextArguments{}, err
	}

	sch, ok := registry.Get(op.SchemaID)
	if !ok {
		metrics.EntriesRejected.WithLabelValues("schema_unknown").Inc()
		return NextArguments{}, fmt.Errorf("%w: %s", coreerrors.ErrSchemaUnknown, op.SchemaID)
	}
	if err := schema.Validate(sch, op); err != nil {
		metrics.EntriesRejected.WithLabelValues("invalid_operation").Inc()
		return NextArguments{}, err
	}

	opID, err := e.Hash()
	if err != nil {
		metrics.EntriesRejected.WithLabelValues("invalid_entry").Inc()
		return NextArguments{}, err
	}

	if _, getErr := s.GetEntryByHash(opID); getErr == nil {
		docID, err := s.DocumentForOperation(opID)
		if err != nil {
			return NextArguments{}, fmt.Errorf("%w: %v", coreerrors.ErrStorage, err)
		}
		viewID := operation.NewViewID([]operation.OperationID{opID})
		args, err := NextArgs(s, e.PublicKey, &viewID)
		if err != nil {
			return NextArguments{}, err
		}
		args.DocumentID = docID
		return args, nil
	}

	newLog, newDocument, docID, err := classifyLog(s, e, op, opID)
	if err != nil {
		metrics.EntriesRejected.WithLabelValues("log_conflict").Inc()
		return NextArguments{}, err
	}

	if err := verifyLinks(s, e, newLog); err != nil {
		metrics.EntriesRejected.WithLabelValues("invalid_entry").Inc()
		return NextArguments{}, err
	}

	if err := verifyPrevious(s, op, docID, newDocument); err != nil {
		metrics.EntriesRejected.WithLabelValues("invalid_operation").Inc()
		return NextArguments{}, err
	}

	_, err = s.PublishEntry(e, op, opID, docID, newLog, newDocument)
	if err != nil {
		return NextArguments{}, fmt.Errorf("%w: %v", coreerrors.ErrStorage, err)
	}
	metrics.EntriesStored.Inc()
	logger.Debug().Str("document_id", docID.String()).Msg("entry ingested")

	viewID := operation.NewViewID([]operation.OperationID{opID})
	args, err := NextArgs(s, e.PublicKey, &viewID)
	if err != nil {
		return NextArguments{}, err
	}
	args.DocumentID = docID
	return args, nil
}

// classifyLog determines whether the entry opens a fresh log, whether it
// defines a new document, and which document it belongs to (spec §4.4
// "asserts a Create goes into a fresh log and Update/Delete extend an
// existing one"). A Create always opens a fresh log against a new
// document. An Update/Delete targets an already-existing, non-deleted
// document; the log it lands in is fresh exactly when this author has
// never before published against that document.
func classifyLog(s store.Store, e *entry.Entry, op *operation.Operation, opID operation.OperationID) (newLog, newDocument bool, docID store.DocumentID, err error) {
	existingLog, logErr := s.GetLog(e.PublicKey, e.LogID)
	logKnown := logErr == nil
	if logErr != nil && !errors.Is(logErr, store.ErrNotFound) {
		return false, false, store.DocumentID{}, fmt.Errorf("%w: %v", coreerrors.ErrStorage, logErr)
	}

	if op.IsCreate() {
		if logKnown {
			return false, false, store.DocumentID{}, fmt.Errorf("%w: create operation must open a fresh log", coreerrors.ErrLogConflict)
		}
		if e.SeqNum != 1 {
			return false, false, store.DocumentID{}, fmt.Errorf("%w: create operation must be the first entry in its log", coreerrors.ErrLogConflict)
		}
		return true, true, opID, nil
	}

	// Update or Delete: resolve the target document from the operation's
	// previous set rather than trusting the log, since the log may not
	// exist yet for this author.
	targetDoc, err := documentForPrevious(s, op)
	if err != nil {
		return false, false, store.DocumentID{}, err
	}
	doc, err := s.GetDocument(targetDoc)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, false, store.DocumentID{}, fmt.Errorf("%w: %s", coreerrors.ErrUnknownDocument, targetDoc)
		}
		return false, false, store.DocumentID{}, fmt.Errorf("%w: %v", coreerrors.ErrStorage, err)
	}
	if doc.Deleted {
		return false, false, store.DocumentID{}, fmt.Errorf("%w: %s", coreerrors.ErrDocumentDeleted, targetDoc)
	}

	if !logKnown {
		if e.SeqNum != 1 {
			return false, false, store.DocumentID{}, fmt.Errorf("%w: new log must start at seq_num 1", coreerrors.ErrLogConflict)
		}
		return true, false, targetDoc, nil
	}
	if existingLog.DocumentID != targetDoc {
		return false, false, store.DocumentID{}, fmt.Errorf("%w: log %d already belongs to a different document", coreerrors.ErrLogConflict, e.LogID)
	}
	return false, false, targetDoc, nil
}

// documentForPrevious resolves the single document that every operation id
// in op.Previous belongs to (spec §3 invariant ii).
func documentForPrevious(s store.Store, op *operation.Operation) (store.DocumentID, error) {
	prev := op.PreviousSet()
	if len(prev) == 0 {
		return store.DocumentID{}, fmt.Errorf("%w: update/delete must reference previous operations", coreerrors.ErrInvalidOperation)
	}
	var docID store.DocumentID
	for i, id := range prev {
		rec, err := s.GetOperation(id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return store.DocumentID{}, fmt.Errorf("%w: %s", coreerrors.ErrUnknownOperation, id)
			}
			return store.DocumentID{}, fmt.Errorf("%w: %v", coreerrors.ErrStorage, err)
		}
		if i == 0 {
			docID = rec.DocumentID
		} else if rec.DocumentID != docID {
			return store.DocumentID{}, fmt.Errorf("%w: previous operations span more than one document", coreerrors.ErrInvalidOperation)
		}
	}
	return docID, nil
}

// verifyLinks asserts the claimed seq_num, backlink, and skiplink match
// what the store already holds for this (author, log) (spec §4.4).
func verifyLinks(s store.Store, e *entry.Entry, newLog bool) error {
	if newLog {
		if e.SeqNum != 1 {
			return fmt.Errorf("%w: first entry in a log must have seq_num 1", coreerrors.ErrLogConflict)
		}
		return nil
	}

	latest, err := s.LatestEntry(e.PublicKey, e.LogID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: log has no prior entries", coreerrors.ErrLogConflict)
		}
		return fmt.Errorf("%w: %v", coreerrors.ErrStorage, err)
	}
	if e.SeqNum != latest.SeqNum+1 {
		return fmt.Errorf("%w: claimed seq_num %d does not follow stored latest %d", coreerrors.ErrLogConflict, e.SeqNum, latest.SeqNum)
	}

	latestHash, err := latest.Hash()
	if err != nil {
		return err
	}
	if e.Backlink == nil || *e.Backlink != latestHash {
		return fmt.Errorf("%w: backlink does not match stored predecessor", coreerrors.ErrInvalidEntry)
	}

	if entry.RequiresSkiplink(e.SeqNum) {
		skipSeq := entry.SeqNum(entry.Lipmaa(uint64(e.SeqNum)))
		skipEntry, err := s.GetEntry(e.PublicKey, e.LogID, skipSeq)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("%w: skiplink ancestor entry not found", coreerrors.ErrUnknownOperation)
			}
			return fmt.Errorf("%w: %v", coreerrors.ErrStorage, err)
		}
		skipHash, err := skipEntry.Hash()
		if err != nil {
			return err
		}
		if e.Skiplink == nil || *e.Skiplink != skipHash {
			return fmt.Errorf("%w: skiplink does not match stored lipmaa ancestor", coreerrors.ErrInvalidEntry)
		}
	}
	return nil
}

// verifyPrevious re-checks that op.Previous all exist and share docID,
// skipping the check for a Create (empty previous set by construction) or
// when the document was just created (newDocument true) in this same call.
func verifyPrevious(s store.Store, op *operation.Operation, docID store.DocumentID, newDocument bool) error {
	if op.IsCreate() || newDocument {
		return nil
	}
	resolved, err := documentForPrevious(s, op)
	if err != nil {
		return err
	}
	if resolved != docID {
		return fmt.Errorf("%w: previous operations do not belong to the target document", coreerrors.ErrInvalidOperation)
	}
	return nil
}
