// Package wire implements the replication protocol's CBOR SyncMessage
// frames (spec §6).
package wire

import (
	"fmt"

	"github.com/cuemby/warren/internal/entry"
	"github.com/cuemby/warren/internal/identity"
	"github.com/fxamacker/cbor/v2"
)

// MessageType tags the body of a SyncMessage frame (spec §4.7, §6).
type MessageType uint8

const (
	MessageSyncRequest MessageType = iota + 1
	MessageHave
	MessageEntry
	MessageSetReconciliation
	MessageSyncDone
)

var encMode = func() cbor.EncMode {
	m, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return m
}()

// Mode selects the replication strategy a session negotiates.
type Mode uint8

const (
	ModeLogHeight Mode = iota
	ModeSetReconciliation
)

func (m Mode) String() string {
	switch m {
	case ModeLogHeight:
		return "log_height"
	case ModeSetReconciliation:
		return "set_reconciliation"
	default:
		return "unknown"
	}
}

// SyncMessage is the top-level wire frame: [message_type, session_id, body].
// Encode/Decode round-trip only the fields defined here; unknown trailing
// fields in a peer's body are ignored per spec §6.
type SyncMessage struct {
	Type      MessageType
	SessionID uint64
	Body      []byte // CBOR-encoded payload matching Type
}

// frame mirrors SyncMessage's shape for canonical array encoding.
type frame struct {
	_         struct{} `cbor:",toarray"`
	Type      MessageType
	SessionID uint64
	Body      []byte
}

// Encode serializes m as a canonical CBOR array frame.
func (m SyncMessage) Encode() ([]byte, error) {
	f := frame{Type: m.Type, SessionID: m.SessionID, Body: m.Body}
	b, err := encMode.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("wire: encode frame: %w", err)
	}
	return b, nil
}

// DecodeMessage parses a top-level SyncMessage frame.
func DecodeMessage(b []byte) (SyncMessage, error) {
	var f frame
	if err := cbor.Unmarshal(b, &f); err != nil {
		return SyncMessage{}, fmt.Errorf("wire: decode frame: %w", err)
	}
	return SyncMessage{Type: f.Type, SessionID: f.SessionID, Body: f.Body}, nil
}

// SyncRequestBody is MessageSyncRequest's payload.
type SyncRequestBody struct {
	Mode      Mode
	SessionID uint64
	TargetSet []string
}

// LogHeight is one (author, log) height entry in a Have message.
type LogHeight struct {
	LogID        entry.LogID
	LatestSeqNum entry.SeqNum
}

// HaveBody is MessageHave's payload: per-author log heights the sender
// already holds (spec §4.7 "Have").
type HaveBody struct {
	Logs []AuthorLogs
}

// AuthorLogs groups one author's log heights.
type AuthorLogs struct {
	PublicKey identity.PublicKey
	Logs      []LogHeight
}

// EntryBody is MessageEntry's payload: one forwarded log entry and its
// encoded operation bytes.
type EntryBody struct {
	EncodedEntry     []byte
	EncodedOperation []byte `cbor:",omitempty"`
}

// SetReconciliationBody carries one fingerprint-tree exchange frame
// (spec §4.7 "Set-reconciliation strategy").
type SetReconciliationBody struct {
	RangeStart   []byte
	RangeEnd     []byte
	Fingerprint  []byte
	ItemCount    uint64
	Leaf         bool
	LeafItems    [][]byte `cbor:",omitempty"`
}

// SyncDoneBody is MessageSyncDone's payload.
type SyncDoneBody struct {
	LiveMode bool
}

// EncodeBody CBOR-encodes any of the *Body payload types above.
func EncodeBody(v interface{}) ([]byte, error) {
	b, err := encMode.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("wire: encode body: %w", err)
	}
	return b, nil
}

// DecodeBody decodes a message body into dst, a pointer to one of the
// *Body payload types above.
func DecodeBody(b []byte, dst interface{}) error {
	if err := cbor.Unmarshal(b, dst); err != nil {
		return fmt.Errorf("wire: decode body: %w", err)
	}
	return nil
}
