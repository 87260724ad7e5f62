// Package entry implements the signed log entry: its deterministic
// binary encoding, back/skip-link chain integrity, and signature
// verification (spec §3, §4.1, §6).
package entry

import (
	"github.com/cuemby/warren/internal/identity"
)

// LogID is a per-author counter; a new document always opens a fresh log.
type LogID uint64

// SeqNum is the 1-based, strictly monotonic position of an entry within
// one log.
type SeqNum uint64

// Entry is the signed envelope carrying one operation (spec §3).
type Entry struct {
	PublicKey   identity.PublicKey
	LogID       LogID
	SeqNum      SeqNum
	Backlink    *identity.Hash // required iff SeqNum > 1
	Skiplink    *identity.Hash // required whenever lipmaa(SeqNum) != SeqNum-1
	PayloadHash identity.Hash  // hash of the operation's canonical encoding
	PayloadSize uint64
	Signature   [identity.SignatureSize]byte
}

// Hash returns the operation id / entry hash: the content hash of the
// entry's encoded bytes (including its signature), used as the
// operation id per spec §3.
func (e *Entry) Hash() (identity.Hash, error) {
	b, err := Encode(e)
	if err != nil {
		return identity.Hash{}, err
	}
	return identity.HashOf(b), nil
}

// signingPayload returns the bytes the author's signature covers: the
// canonical encoding of every field except the signature itself.
func (e *Entry) signingPayload() []byte {
	return encodeUnsigned(e)
}

// Sign fills in e.Signature using kp.
func (e *Entry) Sign(kp *identity.KeyPair) {
	e.Signature = kp.Sign(e.signingPayload())
}

// VerifySignature checks e.Signature against the author's public key.
func (e *Entry) VerifySignature() bool {
	return identity.Verify(e.PublicKey, e.signingPayload(), e.Signature[:])
}
