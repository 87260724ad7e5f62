package replication

import (
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cuemby/warren/internal/coreerrors"
	"github.com/cuemby/warren/internal/wire"
)

// PeerManager enforces admission control and at-most-one-session-per-mode
// per peer (spec §4.8). A peer that violates protocol enters a penalty
// window before a new session with it is admitted again.
type PeerManager struct {
	mu sync.Mutex

	allow PeerIDSet
	block PeerIDSet

	sessions  map[string]map[wire.Mode]*Session
	penalties map[string]*penalty
}

type penalty struct {
	backoff *backoff.ExponentialBackOff
	until   time.Time
}

// NewPeerManager builds a manager admitting peers in allow and not in
// block (allow defaults to wildcard — everyone — when zero-valued).
func NewPeerManager(allow, block PeerIDSet) *PeerManager {
	if !allow.Wildcard && allow.IDs == nil {
		allow = WildcardPeerIDSet()
	}
	return &PeerManager{
		allow:     allow,
		block:     block,
		sessions:  make(map[string]map[wire.Mode]*Session),
		penalties: make(map[string]*penalty),
	}
}

// Admit checks whether peerID may open a new session in mode with the
// given session target set, per spec §4.8's admission rules.
func (pm *PeerManager) Admit(peerID string, mode wire.Mode, sessionTargetSet TargetSet) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if pm.block.Contains(peerID) {
		return fmt.Errorf("%w: peer %s is block-listed", coreerrors.ErrSessionInvalid, peerID)
	}
	if !pm.allow.Contains(peerID) {
		return fmt.Errorf("%w: peer %s is not allow-listed", coreerrors.ErrSessionInvalid, peerID)
	}
	if p, ok := pm.penalties[peerID]; ok && time.Now().Before(p.until) {
		return fmt.Errorf("%w: peer %s is in a penalty window until %s", coreerrors.ErrSessionInvalid, peerID, p.until)
	}
	if modes, ok := pm.sessions[peerID]; ok {
		if _, exists := modes[mode]; exists {
			return fmt.Errorf("%w: a %v session with peer %s already exists", coreerrors.ErrSessionInvalid, mode, peerID)
		}
	}
	if sessionTargetSet.Empty() {
		return fmt.Errorf("%w: empty target-set intersection with peer %s", coreerrors.ErrSessionInvalid, peerID)
	}
	return nil
}

// Register records an admitted session so future Admit calls see it.
func (pm *PeerManager) Register(sess *Session) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	modes, ok := pm.sessions[sess.Peer]
	if !ok {
		modes = make(map[wire.Mode]*Session)
		pm.sessions[sess.Peer] = modes
	}
	modes[sess.Mode] = sess
}

// End removes a session, normally on completion.
func (pm *PeerManager) End(peerID string, mode wire.Mode) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if modes, ok := pm.sessions[peerID]; ok {
		delete(modes, mode)
		if len(modes) == 0 {
			delete(pm.sessions, peerID)
		}
	}
}

// OnDisconnect drops every session with peerID without requeuing
// anything; already-persisted data is fine, and missing data is picked
// up on the next sync (spec §4.8 "On connection loss").
func (pm *PeerManager) OnDisconnect(peerID string) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	delete(pm.sessions, peerID)
}

// Penalize opens or extends peerID's penalty window after a protocol
// violation (spec §4.7 "Cancellation"), backing off exponentially on
// repeated offenses.
func (pm *PeerManager) Penalize(peerID string) time.Duration {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	p, ok := pm.penalties[peerID]
	if !ok {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = 2 * time.Second
		b.MaxInterval = 5 * time.Minute
		b.MaxElapsedTime = 0
		p = &penalty{backoff: b}
		pm.penalties[peerID] = p
	}
	wait := p.backoff.NextBackOff()
	p.until = time.Now().Add(wait)
	return wait
}

// InPenaltyWindow reports whether peerID is currently serving a penalty.
func (pm *PeerManager) InPenaltyWindow(peerID string) bool {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	p, ok := pm.penalties[peerID]
	return ok && time.Now().Before(p.until)
}
