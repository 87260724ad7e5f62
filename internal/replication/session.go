package replication

import (
	"encoding/binary"

	"github.com/cuemby/warren/internal/wire"
	"github.com/google/uuid"
)

// State is a Session's position in its lifecycle (spec §4.7 "Session").
type State uint8

const (
	StatePending State = iota
	StateEstablished
	StateDone
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateEstablished:
		return "established"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// NewSessionID mints a session id unique within a (peer, direction) pair.
// Session ids are a 64-bit wire field (spec §4.7), so a freshly generated
// UUIDv4 is folded down by XOR-ing its two halves rather than transmitted
// whole.
func NewSessionID() uint64 {
	id := uuid.New()
	hi := binary.BigEndian.Uint64(id[:8])
	lo := binary.BigEndian.Uint64(id[8:])
	return hi ^ lo
}

// Session is the pairwise replication state machine between two peers
// (spec §4.7 "Session").
type Session struct {
	ID       uint64
	Peer     string
	Mode     wire.Mode
	State    State
	LocalSet TargetSet

	RemoteSet TargetSet
	// Strategy is set once LocalSet and RemoteSet are both known and
	// their intersection is non-empty.
	Strategy TargetSet

	LocalDone  bool
	RemoteDone bool

	LiveModeLocal  bool
	LiveModeRemote bool
}

// NewSession opens a Pending session initiating (or responding to) mode
// with peer, advertising localSet.
func NewSession(id uint64, peer string, mode wire.Mode, localSet TargetSet) *Session {
	return &Session{ID: id, Peer: peer, Mode: mode, State: StatePending, LocalSet: localSet}
}

// Establish records the remote's advertised target set and computes the
// session's effective strategy set. It does not fail on an empty
// intersection; the initiators check s.Strategy.Empty() right after
// and report ErrSessionInvalid themselves.
func (s *Session) Establish(remoteSet TargetSet) {
	s.RemoteSet = remoteSet
	s.Strategy = s.LocalSet.Intersect(remoteSet)
	s.State = StateEstablished
}

// MarkLocalDone records that this side's diff stream is exhausted.
func (s *Session) MarkLocalDone(liveMode bool) {
	s.LocalDone = true
	s.LiveModeLocal = liveMode
	s.maybeFinish()
}

// MarkRemoteDone records that the peer's diff stream is exhausted.
func (s *Session) MarkRemoteDone(liveMode bool) {
	s.RemoteDone = true
	s.LiveModeRemote = liveMode
	s.maybeFinish()
}

func (s *Session) maybeFinish() {
	if s.LocalDone && s.RemoteDone {
		if s.LiveModeLocal && s.LiveModeRemote {
			// Both peers opted into live mode: the session is left
			// Established rather than transitioning to Done (spec §4.7
			// "Live mode"). The session drivers push no entries after
			// this point.
			return
		}
		s.State = StateDone
	}
}

// Live reports whether the session remains open for live-mode pushes
// after both sides finished their initial diff.
func (s *Session) Live() bool {
	return s.LocalDone && s.RemoteDone && s.LiveModeLocal && s.LiveModeRemote
}

// Close ends the session immediately, used for abandonment or protocol
// violations (spec §4.7 "Cancellation").
func (s *Session) Close() {
	s.State = StateDone
}
