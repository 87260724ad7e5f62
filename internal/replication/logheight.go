package replication

import (
	"fmt"

	"github.com/cuemby/warren/internal/entry"
	"github.com/cuemby/warren/internal/identity"
	"github.com/cuemby/warren/internal/store"
	"github.com/cuemby/warren/internal/wire"
)

// ComputeHave builds the Have message for the given concrete schema ids:
// the set of (author, log_id, latest_seq_num) triples this node already
// holds whose schema is in schemaIDs (spec §4.7 "Log-height strategy"
// step 1). A wildcard TargetSet must be resolved to concrete schema ids
// by the caller (via the schema registry) before calling this.
func ComputeHave(s store.Store, schemaIDs []string) (wire.HaveBody, error) {
	logs, err := s.ListLogsForSchemas(schemaIDs)
	if err != nil {
		return wire.HaveBody{}, fmt.Errorf("replication: list logs: %w", err)
	}

	byAuthor := make(map[string]*wire.AuthorLogs)
	var order []string
	for _, rec := range logs {
		latest, err := s.LatestEntry(rec.PublicKey, rec.LogID)
		if err != nil {
			return wire.HaveBody{}, fmt.Errorf("replication: latest entry for log %d: %w", rec.LogID, err)
		}
		key := rec.PublicKey.String()
		al, ok := byAuthor[key]
		if !ok {
			al = &wire.AuthorLogs{PublicKey: rec.PublicKey}
			byAuthor[key] = al
			order = append(order, key)
		}
		al.Logs = append(al.Logs, wire.LogHeight{LogID: rec.LogID, LatestSeqNum: latest.SeqNum})
	}

	have := wire.HaveBody{Logs: make([]wire.AuthorLogs, 0, len(order))}
	for _, key := range order {
		have.Logs = append(have.Logs, *byAuthor[key])
	}
	return have, nil
}

// remoteSeqNum returns the seq_num the remote side already has for
// (pub, logID) according to their advertised Have, or 0 if unknown.
func remoteSeqNum(their wire.HaveBody, pub identity.PublicKey, logID entry.LogID) entry.SeqNum {
	for _, al := range their.Logs {
		if al.PublicKey != pub {
			continue
		}
		for _, lh := range al.Logs {
			if lh.LogID == logID {
				return lh.LatestSeqNum
			}
		}
	}
	return 0
}

// DiffEntries computes, for every log in mine that theirs is behind on
// (or entirely missing), the ordered run of entries to send so the
// receiving side can apply them one at a time without violating the
// backlink/skiplink ingest ordering constraint (spec §4.7 "Log-height
// strategy" step 2, "Ingest ordering constraint").
func DiffEntries(s store.Store, mine, theirs wire.HaveBody) ([]wire.EntryBody, error) {
	var out []wire.EntryBody
	for _, al := range mine.Logs {
		for _, lh := range al.Logs {
			after := remoteSeqNum(theirs, al.PublicKey, lh.LogID)
			if after >= lh.LatestSeqNum {
				continue
			}
			entries, err := s.ListEntriesAfter(al.PublicKey, lh.LogID, after, int(lh.LatestSeqNum-after))
			if err != nil {
				return nil, fmt.Errorf("replication: diff log %d: %w", lh.LogID, err)
			}
			for _, e := range entries {
				encodedEntry, err := entry.Encode(e)
				if err != nil {
					return nil, fmt.Errorf("replication: encode entry: %w", err)
				}
				opID, err := e.Hash()
				if err != nil {
					return nil, fmt.Errorf("replication: hash entry: %w", err)
				}
				opRec, err := s.GetOperation(opID)
				if err != nil {
					return nil, fmt.Errorf("replication: load operation %s: %w", opID, err)
				}
				out = append(out, wire.EntryBody{EncodedEntry: encodedEntry, EncodedOperation: opRec.Encoded})
			}
		}
	}
	return out, nil
}
