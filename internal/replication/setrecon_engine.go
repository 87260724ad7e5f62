package replication

import (
	"context"
	"fmt"

	"github.com/cuemby/warren/internal/coreerrors"
	"github.com/cuemby/warren/internal/entry"
	"github.com/cuemby/warren/internal/log"
	"github.com/cuemby/warren/internal/metrics"
	"github.com/cuemby/warren/internal/operation"
	"github.com/cuemby/warren/internal/store"
	"github.com/cuemby/warren/internal/transport"
	"github.com/cuemby/warren/internal/wire"
)

// RunSetReconInitiator opens a session with peerID, proposes
// SetReconciliation mode over localSet, and runs a single-round
// fingerprint exchange to completion (spec §4.7 "Set-reconciliation
// strategy"). Unlike aquadoggo's recursive unionize-based strategy, each
// side sends its whole operation-id leaf in one message
// (FingerprintRange.ToWireFull) rather than splitting ranges across
// several round trips; adequate for target sets that fit comfortably in
// memory, at the cost of the bandwidth a recursive split would save on
// large, mostly-agreeing sets.
func RunSetReconInitiator(ctx context.Context, t transport.Transport, peerID string, localSet TargetSet, s store.Store, ingest IngestFunc, liveMode bool) (*Session, error) {
	if localSet.Empty() {
		return nil, fmt.Errorf("replication: local target set is empty")
	}
	sess := NewSession(NewSessionID(), peerID, wire.ModeSetReconciliation, localSet)

	reqBody, err := wire.EncodeBody(wire.SyncRequestBody{Mode: wire.ModeSetReconciliation, SessionID: sess.ID, TargetSet: localSet.IDs()})
	if err != nil {
		return nil, err
	}
	if err := sendFrame(ctx, t, peerID, wire.MessageSyncRequest, sess.ID, reqBody); err != nil {
		return nil, err
	}

	remoteSet, err := awaitSyncRequestAck(ctx, t, sess.ID)
	if err != nil {
		return nil, err
	}
	sess.Establish(remoteSet)
	if sess.Strategy.Empty() {
		return nil, fmt.Errorf("%w: empty target-set intersection with peer %s", coreerrors.ErrSessionInvalid, peerID)
	}

	if err := runSetReconExchange(ctx, t, s, ingest, sess, liveMode); err != nil {
		return sess, err
	}
	return sess, nil
}

// RunSetReconResponder blocks until peerID proposes a SetReconciliation
// session and runs it to completion (spec §4.7, §4.8).
func RunSetReconResponder(ctx context.Context, t transport.Transport, peerID string, localSet TargetSet, pm *PeerManager, s store.Store, ingest IngestFunc, liveMode bool) (*Session, error) {
	env, err := recvFrom(ctx, t, peerID, wire.MessageSyncRequest)
	if err != nil {
		return nil, err
	}
	var req wire.SyncRequestBody
	if err := wire.DecodeBody(env.Msg.Body, &req); err != nil {
		return nil, fmt.Errorf("replication: decode sync request: %w", err)
	}

	remoteSet := NewTargetSet(req.TargetSet)
	effective := localSet.Intersect(remoteSet)
	if err := pm.Admit(peerID, wire.ModeSetReconciliation, effective); err != nil {
		return nil, err
	}

	sess := NewSession(req.SessionID, peerID, wire.ModeSetReconciliation, localSet)
	sess.Establish(remoteSet)
	pm.Register(sess)
	defer pm.End(peerID, wire.ModeSetReconciliation)

	ackBody, err := wire.EncodeBody(wire.SyncRequestBody{Mode: wire.ModeSetReconciliation, SessionID: sess.ID, TargetSet: localSet.IDs()})
	if err != nil {
		return sess, err
	}
	if err := sendFrame(ctx, t, peerID, wire.MessageSyncRequest, sess.ID, ackBody); err != nil {
		return sess, err
	}

	if err := runSetReconExchange(ctx, t, s, ingest, sess, liveMode); err != nil {
		return sess, err
	}
	return sess, nil
}

// runSetReconExchange runs the single-round fingerprint exchange: both
// sides send their full operation-id leaf for sess.Strategy, each works
// out what the peer is missing with Diff, and the entries covering those
// ids are sent before SyncDone.
func runSetReconExchange(ctx context.Context, t transport.Transport, s store.Store, ingest IngestFunc, sess *Session, liveMode bool) error {
	logger := log.WithComponent("replication.setrecon")

	mineIDs, err := gatherOperationIDs(s, sess.Strategy.IDs())
	if err != nil {
		return fmt.Errorf("replication: gather local operation ids: %w", err)
	}
	mineBody := BuildFingerprintTree(mineIDs).ToWireFull()

	body, err := wire.EncodeBody(mineBody)
	if err != nil {
		return err
	}
	if err := sendFrame(ctx, t, sess.Peer, wire.MessageSetReconciliation, sess.ID, body); err != nil {
		return err
	}

	theirsEnv, err := recvSession(ctx, t, sess.ID, wire.MessageSetReconciliation)
	if err != nil {
		return err
	}
	var theirsBody wire.SetReconciliationBody
	if err := wire.DecodeBody(theirsEnv.Msg.Body, &theirsBody); err != nil {
		return fmt.Errorf("replication: decode set-reconciliation body: %w", err)
	}
	theirIDs := make([]operation.OperationID, 0, len(theirsBody.LeafItems))
	for _, item := range theirsBody.LeafItems {
		var id operation.OperationID
		copy(id[:], item)
		theirIDs = append(theirIDs, id)
	}

	toSend, err := entriesForOperationIDs(s, Diff(mineIDs, theirIDs))
	if err != nil {
		return fmt.Errorf("replication: load entries to send: %w", err)
	}
	for _, eb := range toSend {
		encBody, err := wire.EncodeBody(eb)
		if err != nil {
			return err
		}
		if err := sendFrame(ctx, t, sess.Peer, wire.MessageEntry, sess.ID, encBody); err != nil {
			return err
		}
		metrics.ReplicationEntriesSent.Inc()
	}
	logger.Debug().Str("peer", sess.Peer).Int("sent", len(toSend)).Msg("set-reconciliation diff sent")

	doneBody, err := wire.EncodeBody(wire.SyncDoneBody{LiveMode: liveMode})
	if err != nil {
		return err
	}
	if err := sendFrame(ctx, t, sess.Peer, wire.MessageSyncDone, sess.ID, doneBody); err != nil {
		return err
	}
	sess.MarkLocalDone(liveMode)

	metrics.ReplicationSessionsActive.WithLabelValues(sess.Mode.String()).Inc()
	defer metrics.ReplicationSessionsActive.WithLabelValues(sess.Mode.String()).Dec()

	for !sess.RemoteDone {
		env, err := recvAnySession(ctx, t, sess.ID)
		if err != nil {
			return err
		}
		switch env.Msg.Type {
		case wire.MessageEntry:
			var eb wire.EntryBody
			if err := wire.DecodeBody(env.Msg.Body, &eb); err != nil {
				return fmt.Errorf("replication: decode entry: %w", err)
			}
			e, err := entry.Decode(eb.EncodedEntry)
			if err != nil {
				return fmt.Errorf("replication: decode entry bytes: %w", err)
			}
			op, err := operation.Decode(eb.EncodedOperation)
			if err != nil {
				return fmt.Errorf("replication: decode operation bytes: %w", err)
			}
			if err := ingest(e, op); err != nil {
				logger.Warn().Err(err).Msg("rejected replicated entry")
				continue
			}
			metrics.ReplicationEntriesReceived.Inc()
		case wire.MessageSyncDone:
			var done wire.SyncDoneBody
			if err := wire.DecodeBody(env.Msg.Body, &done); err != nil {
				return fmt.Errorf("replication: decode sync done: %w", err)
			}
			sess.MarkRemoteDone(done.LiveMode)
		default:
			return fmt.Errorf("replication: unexpected message type %d in session %d", env.Msg.Type, sess.ID)
		}
	}
	return nil
}

// gatherOperationIDs collects every operation id currently stored across
// logs whose schema is in schemaIDs, the membership a set-reconciliation
// session's fingerprint is built over.
func gatherOperationIDs(s store.Store, schemaIDs []string) ([]operation.OperationID, error) {
	logs, err := s.ListLogsForSchemas(schemaIDs)
	if err != nil {
		return nil, fmt.Errorf("replication: list logs: %w", err)
	}
	var ids []operation.OperationID
	for _, rec := range logs {
		latest, err := s.LatestEntry(rec.PublicKey, rec.LogID)
		if err != nil {
			return nil, fmt.Errorf("replication: latest entry for log %d: %w", rec.LogID, err)
		}
		entries, err := s.ListEntriesAfter(rec.PublicKey, rec.LogID, 0, int(latest.SeqNum))
		if err != nil {
			return nil, fmt.Errorf("replication: list entries for log %d: %w", rec.LogID, err)
		}
		for _, e := range entries {
			id, err := e.Hash()
			if err != nil {
				return nil, fmt.Errorf("replication: hash entry: %w", err)
			}
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// entriesForOperationIDs loads and encodes the entry+operation pair for
// each id in ids, in the order given. runSetReconExchange passes ids in
// gatherOperationIDs order (log by log, ascending seq_num), so each
// log's entries arrive after their predecessors. The receiver still
// rejects an entry whose previous operation lives in a log sent later
// in the same round; a later session delivers it.
func entriesForOperationIDs(s store.Store, ids []operation.OperationID) ([]wire.EntryBody, error) {
	out := make([]wire.EntryBody, 0, len(ids))
	for _, id := range ids {
		e, err := s.GetEntryByHash(id)
		if err != nil {
			return nil, fmt.Errorf("replication: load entry %s: %w", id, err)
		}
		encodedEntry, err := entry.Encode(e)
		if err != nil {
			return nil, fmt.Errorf("replication: encode entry: %w", err)
		}
		opRec, err := s.GetOperation(id)
		if err != nil {
			return nil, fmt.Errorf("replication: load operation %s: %w", id, err)
		}
		out = append(out, wire.EntryBody{EncodedEntry: encodedEntry, EncodedOperation: opRec.Encoded})
	}
	return out, nil
}
