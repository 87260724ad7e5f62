// Package core implements the next-arguments oracle and the publish/ingest
// pipeline that sits between an author (or a remote peer, via replication)
// and the log store.
package core

import (
	"errors"
	"fmt"

	"github.com/cuemby/warren/internal/coreerrors"
	"github.com/cuemby/warren/internal/entry"
	"github.com/cuemby/warren/internal/identity"
	"github.com/cuemby/warren/internal/operation"
	"github.com/cuemby/warren/internal/store"
)

// NextArguments is what an author needs to publish their next entry.
type NextArguments struct {
	LogID    entry.LogID
	SeqNum   entry.SeqNum
	Backlink *identity.Hash
	Skiplink *identity.Hash

	// DocumentID is set only by Ingest, naming the document the just
	// ingested entry belongs to, so a caller can schedule materializer
	// work for it without recomputing the create/update resolution.
	DocumentID store.DocumentID
}

// NextArgs resolves the (log_id, seq_num, backlink?, skiplink?) an author
// must use for their next entry (spec §4.3). A nil previousViewID describes
// a brand new log. Otherwise previousViewID must resolve to an existing,
// non-deleted document; the result either extends that author's log for
// the document, or — if this author has never published to that document
// before — opens a fresh log against it.
func NextArgs(s store.Store, pub identity.PublicKey, previousViewID *operation.ViewID) (NextArguments, error) {
	if previousViewID == nil {
		logID, err := s.NextLogID(pub)
		if err != nil {
			return NextArguments{}, fmt.Errorf("%w: %v", coreerrors.ErrStorage, err)
		}
		return NextArguments{LogID: logID, SeqNum: 1}, nil
	}

	docID, err := s.DocumentForViewID(*previousViewID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return NextArguments{}, fmt.Errorf("%w: view id references unknown operations", coreerrors.ErrUnknownOperation)
		}
		return NextArguments{}, fmt.Errorf("%w: %v", coreerrors.ErrStorage, err)
	}

	doc, err := s.GetDocument(docID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return NextArguments{}, fmt.Errorf("%w: %s", coreerrors.ErrUnknownDocument, docID)
		}
		return NextArguments{}, fmt.Errorf("%w: %v", coreerrors.ErrStorage, err)
	}
	if doc.Deleted {
		return NextArguments{}, fmt.Errorf("%w: %s", coreerrors.ErrDocumentDeleted, docID)
	}

	logRec, err := s.LogForDocument(pub, docID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return NextArguments{}, fmt.Errorf("%w: %v", coreerrors.ErrStorage, err)
		}
		// First time this author touches a document it did not create:
		// open a fresh log dedicated to it.
		logID, err := s.NextLogID(pub)
		if err != nil {
			return NextArguments{}, fmt.Errorf("%w: %v", coreerrors.ErrStorage, err)
		}
		return NextArguments{LogID: logID, SeqNum: 1}, nil
	}

	latest, err := s.LatestEntry(pub, logRec.LogID)
	if err != nil {
		return NextArguments{}, fmt.Errorf("%w: %v", coreerrors.ErrStorage, err)
	}
	backlinkHash, err := latest.Hash()
	if err != nil {
		return NextArguments{}, err
	}
	seqNum := latest.SeqNum + 1

	args := NextArguments{LogID: logRec.LogID, SeqNum: seqNum, Backlink: &backlinkHash}
	if entry.RequiresSkiplink(seqNum) {
		skipSeq := entry.SeqNum(entry.Lipmaa(uint64(seqNum)))
		skipEntry, err := s.GetEntry(pub, logRec.LogID, skipSeq)
		if err != nil {
			return NextArguments{}, fmt.Errorf("%w: %v", coreerrors.ErrStorage, err)
		}
		skipHash, err := skipEntry.Hash()
		if err != nil {
			return NextArguments{}, err
		}
		args.Skiplink = &skipHash
	}
	return args, nil
}
