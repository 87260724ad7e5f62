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

// IngestFunc applies one foreign entry/operation pair to the local store,
// normally internal/core.Ingest bound to this node's store and schema
// registry. Kept as a function value here (rather than importing core
// directly) since core's Ingest signature returns data replication does
// not need and importing it would pull materializer-task concerns into
// this package.
type IngestFunc func(e *entry.Entry, op *operation.Operation) error

// RunLogHeightInitiator opens a session with peerID, proposes LogHeight
// mode over localSet, and runs the full exchange to completion (spec
// §4.7 "Log-height strategy"). liveMode is advertised in this side's
// SyncDone and recorded on the returned Session; the exchange still
// returns once the peer's SyncDone arrives, and no entries are pushed
// to the peer after that.
func RunLogHeightInitiator(ctx context.Context, t transport.Transport, peerID string, localSet TargetSet, s store.Store, ingest IngestFunc, liveMode bool) (*Session, error) {
	if localSet.Empty() {
		return nil, fmt.Errorf("replication: local target set is empty")
	}
	sess := NewSession(NewSessionID(), peerID, wire.ModeLogHeight, localSet)

	reqBody, err := wire.EncodeBody(wire.SyncRequestBody{Mode: wire.ModeLogHeight, SessionID: sess.ID, TargetSet: localSet.IDs()})
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

	if err := runLogHeightExchange(ctx, t, s, ingest, sess, liveMode); err != nil {
		return sess, err
	}
	return sess, nil
}

// RunLogHeightResponder blocks until peerID proposes a LogHeight session
// and runs it to completion (spec §4.7, §4.8).
func RunLogHeightResponder(ctx context.Context, t transport.Transport, peerID string, localSet TargetSet, pm *PeerManager, s store.Store, ingest IngestFunc, liveMode bool) (*Session, error) {
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
	if err := pm.Admit(peerID, wire.ModeLogHeight, effective); err != nil {
		return nil, err
	}

	sess := NewSession(req.SessionID, peerID, wire.ModeLogHeight, localSet)
	sess.Establish(remoteSet)
	pm.Register(sess)
	defer pm.End(peerID, wire.ModeLogHeight)

	ackBody, err := wire.EncodeBody(wire.SyncRequestBody{Mode: wire.ModeLogHeight, SessionID: sess.ID, TargetSet: localSet.IDs()})
	if err != nil {
		return sess, err
	}
	if err := sendFrame(ctx, t, peerID, wire.MessageSyncRequest, sess.ID, ackBody); err != nil {
		return sess, err
	}

	if err := runLogHeightExchange(ctx, t, s, ingest, sess, liveMode); err != nil {
		return sess, err
	}
	return sess, nil
}

// awaitSyncRequestAck waits for the responder's echo of SyncRequest
// (carrying its own target set) so the initiator can compute the
// session's effective strategy set.
func awaitSyncRequestAck(ctx context.Context, t transport.Transport, sessionID uint64) (TargetSet, error) {
	env, err := recvSession(ctx, t, sessionID, wire.MessageSyncRequest)
	if err != nil {
		return TargetSet{}, err
	}
	var body wire.SyncRequestBody
	if err := wire.DecodeBody(env.Msg.Body, &body); err != nil {
		return TargetSet{}, fmt.Errorf("replication: decode sync request ack: %w", err)
	}
	return NewTargetSet(body.TargetSet), nil
}

// runLogHeightExchange runs spec §4.7 steps 2-4 once both sides agree on
// a non-empty strategy set: compute and exchange Have, stream the diff
// each side is missing, and finish once both SyncDones are seen.
func runLogHeightExchange(ctx context.Context, t transport.Transport, s store.Store, ingest IngestFunc, sess *Session, liveMode bool) error {
	logger := log.WithComponent("replication.logheight")

	mine, err := ComputeHave(s, sess.Strategy.IDs())
	if err != nil {
		return fmt.Errorf("replication: compute local have: %w", err)
	}
	haveBody, err := wire.EncodeBody(mine)
	if err != nil {
		return err
	}
	if err := sendFrame(ctx, t, sess.Peer, wire.MessageHave, sess.ID, haveBody); err != nil {
		return err
	}

	theirsEnv, err := recvSession(ctx, t, sess.ID, wire.MessageHave)
	if err != nil {
		return err
	}
	var theirs wire.HaveBody
	if err := wire.DecodeBody(theirsEnv.Msg.Body, &theirs); err != nil {
		return fmt.Errorf("replication: decode remote have: %w", err)
	}

	toSend, err := DiffEntries(s, mine, theirs)
	if err != nil {
		return fmt.Errorf("replication: compute diff: %w", err)
	}
	for _, eb := range toSend {
		body, err := wire.EncodeBody(eb)
		if err != nil {
			return err
		}
		if err := sendFrame(ctx, t, sess.Peer, wire.MessageEntry, sess.ID, body); err != nil {
			return err
		}
		metrics.ReplicationEntriesSent.Inc()
	}
	logger.Debug().Str("peer", sess.Peer).Int("sent", len(toSend)).Msg("log-height diff sent")

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

func sendFrame(ctx context.Context, t transport.Transport, peerID string, typ wire.MessageType, sessionID uint64, body []byte) error {
	return t.Send(ctx, peerID, wire.SyncMessage{Type: typ, SessionID: sessionID, Body: body})
}

// recvFrom blocks for the next inbound message from peerID of the given
// type, ignoring anything else (used only while no session is open yet,
// i.e. waiting for an incoming SyncRequest).
func recvFrom(ctx context.Context, t transport.Transport, peerID string, want wire.MessageType) (transport.Envelope, error) {
	for {
		select {
		case env, ok := <-t.Inbox():
			if !ok {
				return transport.Envelope{}, fmt.Errorf("replication: transport closed")
			}
			if env.PeerID == peerID && env.Msg.Type == want {
				return env, nil
			}
		case <-ctx.Done():
			return transport.Envelope{}, ctx.Err()
		}
	}
}

// recvSession blocks for the next inbound message tagged with sessionID
// and matching want's type.
func recvSession(ctx context.Context, t transport.Transport, sessionID uint64, want wire.MessageType) (transport.Envelope, error) {
	for {
		env, err := recvAnySession(ctx, t, sessionID)
		if err != nil {
			return transport.Envelope{}, err
		}
		if env.Msg.Type == want {
			return env, nil
		}
	}
}

// recvAnySession blocks for the next inbound message tagged with
// sessionID, of any type.
func recvAnySession(ctx context.Context, t transport.Transport, sessionID uint64) (transport.Envelope, error) {
	for {
		select {
		case env, ok := <-t.Inbox():
			if !ok {
				return transport.Envelope{}, fmt.Errorf("replication: transport closed")
			}
			if env.Msg.SessionID == sessionID {
				return env, nil
			}
		case <-ctx.Done():
			return transport.Envelope{}, ctx.Err()
		}
	}
}
