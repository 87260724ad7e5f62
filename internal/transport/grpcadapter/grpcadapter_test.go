package grpcadapter

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/cuemby/warren/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientServerRoundTrip(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := NewServer(16)
	go func() { _ = srv.Serve(lis) }()
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := Dial(ctx, lis.Addr().String(), "node-a", "node-b")
	require.NoError(t, err)
	defer client.Close()

	body, err := wire.EncodeBody(wire.SyncDoneBody{LiveMode: true})
	require.NoError(t, err)
	require.NoError(t, client.Send(ctx, "node-b", wire.SyncMessage{Type: wire.MessageSyncDone, SessionID: 7, Body: body}))

	select {
	case env := <-srv.Inbox():
		assert.Equal(t, "node-a", env.PeerID)
		assert.Equal(t, uint64(7), env.Msg.SessionID)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for server to receive message")
	}

	require.NoError(t, srv.Send(ctx, "node-a", wire.SyncMessage{Type: wire.MessageSyncDone, SessionID: 8}))
	select {
	case env := <-client.Inbox():
		assert.Equal(t, "node-b", env.PeerID)
		assert.Equal(t, uint64(8), env.Msg.SessionID)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for client to receive message")
	}
}
