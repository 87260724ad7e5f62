package entry

import (
	"fmt"

	"github.com/cuemby/warren/internal/coreerrors"
	"github.com/cuemby/warren/internal/identity"
)

// VerifyStandalone performs the checks of spec §4.1 that require no
// store lookup: (1) signature, (2) payload_hash matches the supplied
// operation hash, (3) seq_num >= 1, (4) seq_num == 1 implies no links,
// (5) seq_num > 1 implies a backlink is present, (6) a skiplink is
// present whenever lipmaa(seq_num) != seq_num-1.
//
// Checks that require consulting the log store — that a referenced
// backlink/skiplink entry exists in the same log and author, and that
// the skiplink resolves to the correct lipmaa ancestor — are performed
// during ingest by internal/core, which reads prior entries from the store.
func VerifyStandalone(e *Entry, operationHash identity.Hash) error {
	if !e.VerifySignature() {
		return fmt.Errorf("%w: signature verification failed", coreerrors.ErrInvalidEntry)
	}
	if e.PayloadHash != operationHash {
		return fmt.Errorf("%w: payload_hash does not match operation hash", coreerrors.ErrInvalidEntry)
	}
	if e.SeqNum < 1 {
		return fmt.Errorf("%w: seq_num must be >= 1", coreerrors.ErrInvalidEntry)
	}
	if e.SeqNum == 1 {
		if e.Backlink != nil || e.Skiplink != nil {
			return fmt.Errorf("%w: first entry in a log must not carry links", coreerrors.ErrInvalidEntry)
		}
		return nil
	}
	if e.Backlink == nil {
		return fmt.Errorf("%w: entry with seq_num > 1 must carry a backlink", coreerrors.ErrInvalidEntry)
	}
	if RequiresSkiplink(e.SeqNum) && e.Skiplink == nil {
		return fmt.Errorf("%w: entry requires a skiplink at this seq_num", coreerrors.ErrInvalidEntry)
	}
	if !RequiresSkiplink(e.SeqNum) && e.Skiplink != nil {
		return fmt.Errorf("%w: entry must not carry a skiplink when lipmaa equals seq_num-1", coreerrors.ErrInvalidEntry)
	}
	return nil
}
