package wire

import (
	"testing"

	"github.com/cuemby/warren/internal/entry"
	"github.com/cuemby/warren/internal/identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncMessageRoundTrip(t *testing.T) {
	body, err := EncodeBody(SyncDoneBody{LiveMode: true})
	require.NoError(t, err)

	msg := SyncMessage{Type: MessageSyncDone, SessionID: 42, Body: body}
	encoded, err := msg.Encode()
	require.NoError(t, err)

	decoded, err := DecodeMessage(encoded)
	require.NoError(t, err)
	assert.Equal(t, msg.Type, decoded.Type)
	assert.Equal(t, msg.SessionID, decoded.SessionID)

	var done SyncDoneBody
	require.NoError(t, DecodeBody(decoded.Body, &done))
	assert.True(t, done.LiveMode)
}

func TestHaveBodyRoundTrip(t *testing.T) {
	var pub identity.PublicKey
	copy(pub[:], []byte("author-key-author-key-author-ke"))

	have := HaveBody{Logs: []AuthorLogs{
		{PublicKey: pub, Logs: []LogHeight{{LogID: entry.LogID(0), LatestSeqNum: entry.SeqNum(10)}}},
	}}
	b, err := EncodeBody(have)
	require.NoError(t, err)

	var decoded HaveBody
	require.NoError(t, DecodeBody(b, &decoded))
	require.Len(t, decoded.Logs, 1)
	assert.Equal(t, pub, decoded.Logs[0].PublicKey)
	assert.Equal(t, entry.SeqNum(10), decoded.Logs[0].Logs[0].LatestSeqNum)
}

func TestBodyDecodeIgnoresUnknownFields(t *testing.T) {
	type futureSyncDoneBody struct {
		LiveMode bool
		Extra    string
	}
	b, err := EncodeBody(futureSyncDoneBody{LiveMode: true, Extra: "from a newer peer"})
	require.NoError(t, err)

	var done SyncDoneBody
	require.NoError(t, DecodeBody(b, &done))
	assert.True(t, done.LiveMode)
}
