package replication

import (
	"testing"

	"github.com/cuemby/warren/internal/wire"
	"github.com/stretchr/testify/assert"
)

func TestSessionEstablishComputesStrategySet(t *testing.T) {
	s := NewSession(NewSessionID(), "peer-a", wire.ModeLogHeight, NewTargetSet([]string{"profile_v1", "post_v1"}))
	s.Establish(NewTargetSet([]string{"post_v1"}))
	assert.Equal(t, StateEstablished, s.State)
	assert.Equal(t, []string{"post_v1"}, s.Strategy.IDs())
}

func TestSessionFinishesWhenBothDoneWithoutLiveMode(t *testing.T) {
	s := NewSession(NewSessionID(), "peer-a", wire.ModeLogHeight, WildcardTargetSet())
	s.Establish(WildcardTargetSet())
	s.MarkLocalDone(false)
	assert.Equal(t, StateEstablished, s.State)
	s.MarkRemoteDone(false)
	assert.Equal(t, StateDone, s.State)
}

func TestSessionStaysOpenWhenBothWantLiveMode(t *testing.T) {
	s := NewSession(NewSessionID(), "peer-a", wire.ModeLogHeight, WildcardTargetSet())
	s.Establish(WildcardTargetSet())
	s.MarkLocalDone(true)
	s.MarkRemoteDone(true)
	assert.Equal(t, StateEstablished, s.State)
	assert.True(t, s.Live())
}

func TestSessionIDsAreLikelyUnique(t *testing.T) {
	a := NewSessionID()
	b := NewSessionID()
	assert.NotEqual(t, a, b)
}
