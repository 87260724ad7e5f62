package identity

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateKeyPairSignAndVerify(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	msg := []byte("hello entry")
	sig := kp.Sign(msg)

	assert.True(t, Verify(kp.Public, msg, sig[:]))
	assert.False(t, Verify(kp.Public, []byte("tampered"), sig[:]))
}

func TestLoadOrGenerateKeyPairPersists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node.key")

	first, err := LoadOrGenerateKeyPair(path)
	require.NoError(t, err)

	second, err := LoadOrGenerateKeyPair(path)
	require.NoError(t, err)

	assert.Equal(t, first.Public, second.Public)
}

func TestLoadOrGenerateKeyPairEphemeralWhenPathEmpty(t *testing.T) {
	a, err := LoadOrGenerateKeyPair("")
	require.NoError(t, err)
	b, err := LoadOrGenerateKeyPair("")
	require.NoError(t, err)

	assert.NotEqual(t, a.Public, b.Public)
}

func TestPublicKeyRoundTrip(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	parsed, err := ParsePublicKey(kp.Public.String())
	require.NoError(t, err)
	assert.Equal(t, kp.Public, parsed)
}

func TestHashOfStable(t *testing.T) {
	payload := []byte("canonical-bytes")
	h1 := HashOf(payload)
	h2 := HashOf(payload)
	assert.Equal(t, h1, h2)
	assert.False(t, h1.IsZero())

	other := HashOf([]byte("different"))
	assert.NotEqual(t, h1, other)
}

func TestHashLessIsTotalOrder(t *testing.T) {
	a := HashOf([]byte("a"))
	b := HashOf([]byte("b"))

	if a.Less(b) {
		assert.False(t, b.Less(a))
	} else if b.Less(a) {
		assert.False(t, a.Less(b))
	}
}

func TestHashRoundTrip(t *testing.T) {
	h := HashOf([]byte("payload"))
	parsed, err := ParseHash(h.String())
	require.NoError(t, err)
	assert.Equal(t, h, parsed)
}
