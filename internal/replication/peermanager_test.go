package replication

import (
	"testing"

	"github.com/cuemby/warren/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPeerManagerRejectsBlockListedPeer(t *testing.T) {
	pm := NewPeerManager(WildcardPeerIDSet(), NewPeerIDSet([]string{"evil"}))
	err := pm.Admit("evil", wire.ModeLogHeight, NewTargetSet([]string{"profile_v1"}))
	require.Error(t, err)
}

func TestPeerManagerRejectsNonAllowListedPeer(t *testing.T) {
	pm := NewPeerManager(NewPeerIDSet([]string{"friend"}), PeerIDSet{})
	err := pm.Admit("stranger", wire.ModeLogHeight, NewTargetSet([]string{"profile_v1"}))
	require.Error(t, err)

	err = pm.Admit("friend", wire.ModeLogHeight, NewTargetSet([]string{"profile_v1"}))
	require.NoError(t, err)
}

func TestPeerManagerRejectsDuplicateModeSession(t *testing.T) {
	pm := NewPeerManager(WildcardPeerIDSet(), PeerIDSet{})
	sess := NewSession(NewSessionID(), "peer-a", wire.ModeLogHeight, NewTargetSet([]string{"profile_v1"}))
	pm.Register(sess)

	err := pm.Admit("peer-a", wire.ModeLogHeight, NewTargetSet([]string{"profile_v1"}))
	require.Error(t, err)

	err = pm.Admit("peer-a", wire.ModeSetReconciliation, NewTargetSet([]string{"profile_v1"}))
	require.NoError(t, err)
}

func TestPeerManagerRejectsEmptyTargetSet(t *testing.T) {
	pm := NewPeerManager(WildcardPeerIDSet(), PeerIDSet{})
	err := pm.Admit("peer-a", wire.ModeLogHeight, TargetSet{})
	require.Error(t, err)
}

func TestPeerManagerPenaltyWindowBlocksAdmission(t *testing.T) {
	pm := NewPeerManager(WildcardPeerIDSet(), PeerIDSet{})
	pm.Penalize("peer-a")
	assert.True(t, pm.InPenaltyWindow("peer-a"))

	err := pm.Admit("peer-a", wire.ModeLogHeight, NewTargetSet([]string{"profile_v1"}))
	require.Error(t, err)
}

func TestPeerManagerOnDisconnectDropsSessions(t *testing.T) {
	pm := NewPeerManager(WildcardPeerIDSet(), PeerIDSet{})
	sess := NewSession(NewSessionID(), "peer-a", wire.ModeLogHeight, NewTargetSet([]string{"profile_v1"}))
	pm.Register(sess)
	pm.OnDisconnect("peer-a")

	err := pm.Admit("peer-a", wire.ModeLogHeight, NewTargetSet([]string{"profile_v1"}))
	require.NoError(t, err)
}
