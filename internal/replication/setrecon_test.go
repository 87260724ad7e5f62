package replication

import (
	"testing"

	"github.com/cuemby/warren/internal/identity"
	"github.com/cuemby/warren/internal/operation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func idOf(label string) operation.OperationID {
	return identity.HashOf([]byte(label))
}

func TestFingerprintTreeMatchesOnEqualSets(t *testing.T) {
	ids := []operation.OperationID{idOf("a"), idOf("b"), idOf("c")}
	mine := BuildFingerprintTree(ids)
	theirs := BuildFingerprintTree(ids)

	mineFP := mine.ToWire().Fingerprint
	theirFP := theirs.ToWire().Fingerprint
	assert.Equal(t, mineFP, theirFP)
}

func TestFingerprintTreeDivergesOnDifferentSets(t *testing.T) {
	mine := BuildFingerprintTree([]operation.OperationID{idOf("a"), idOf("b")})
	theirs := BuildFingerprintTree([]operation.OperationID{idOf("a"), idOf("c")})
	assert.NotEqual(t, mine.ToWire().Fingerprint, theirs.ToWire().Fingerprint)
}

func TestFingerprintLeafCarriesMembersUnderThreshold(t *testing.T) {
	r := BuildFingerprintTree([]operation.OperationID{idOf("a"), idOf("b")})
	body := r.ToWire()
	require.True(t, body.Leaf)
	require.Len(t, body.LeafItems, 2)
}

func TestSplitDividesRangeInHalf(t *testing.T) {
	ids := []operation.OperationID{idOf("a"), idOf("b"), idOf("c"), idOf("d")}
	r := BuildFingerprintTree(ids)
	left, right := r.Split()
	assert.Len(t, left.IDs, 2)
	assert.Len(t, right.IDs, 2)
}

func TestDiffFindsMissingIDs(t *testing.T) {
	mine := []operation.OperationID{idOf("a"), idOf("b"), idOf("c")}
	theirs := []operation.OperationID{idOf("a")}
	missing := Diff(mine, theirs)
	assert.Len(t, missing, 2)
}
