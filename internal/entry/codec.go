package entry

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/cuemby/warren/internal/coreerrors"
	"github.com/cuemby/warren/internal/identity"
)

// Encode produces the deterministic binary encoding of e, including its
// signature (spec §6):
//
//	author(32) || log_id(varint) || seq_num(varint) || payload_size(varint)
//	  || payload_hash(34) || [backlink(34)] || [skiplink(34)] || signature(64)
func Encode(e *Entry) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(encodeUnsigned(e))
	buf.Write(e.Signature[:])
	return buf.Bytes(), nil
}

// encodeUnsigned encodes every entry field except the signature; this is
// exactly the payload the author's signature covers.
func encodeUnsigned(e *Entry) []byte {
	var buf bytes.Buffer
	buf.Write(e.PublicKey[:])
	writeUvarint(&buf, uint64(e.LogID))
	writeUvarint(&buf, uint64(e.SeqNum))
	writeUvarint(&buf, e.PayloadSize)
	buf.Write(e.PayloadHash[:])
	if e.Backlink != nil {
		buf.Write(e.Backlink[:])
	}
	if e.Skiplink != nil {
		buf.Write(e.Skiplink[:])
	}
	return buf.Bytes()
}

func writeUvarint(buf *bytes.Buffer, v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	buf.Write(tmp[:n])
}

// Decode parses the binary encoding produced by Encode. It does not by
// itself verify chain integrity or the signature; see Verify.
func Decode(b []byte) (*Entry, error) {
	r := bytes.NewReader(b)
	e := &Entry{}

	if _, err := io.ReadFull(r, e.PublicKey[:]); err != nil {
		return nil, fmt.Errorf("%w: read public key: %v", coreerrors.ErrInvalidEntry, err)
	}

	logID, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, fmt.Errorf("%w: read log_id: %v", coreerrors.ErrInvalidEntry, err)
	}
	e.LogID = LogID(logID)

	seqNum, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, fmt.Errorf("%w: read seq_num: %v", coreerrors.ErrInvalidEntry, err)
	}
	e.SeqNum = SeqNum(seqNum)

	payloadSize, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, fmt.Errorf("%w: read payload_size: %v", coreerrors.ErrInvalidEntry, err)
	}
	e.PayloadSize = payloadSize

	if _, err := io.ReadFull(r, e.PayloadHash[:]); err != nil {
		return nil, fmt.Errorf("%w: read payload_hash: %v", coreerrors.ErrInvalidEntry, err)
	}

	remaining := r.Len()
	// What remains is [backlink(34)] [skiplink(34)] signature(64), where
	// the optional links are only present per spec §4.1 rules 4-6. Since
	// encoding is all-or-nothing per field and the signature has a fixed
	// size, the number of optional 34-byte links present is
	// (remaining-64)/34, which is 0, 1, or 2.
	optionalBytes := remaining - identity.SignatureSize
	if optionalBytes < 0 || optionalBytes%identity.HashSize != 0 || optionalBytes/identity.HashSize > 2 {
		return nil, fmt.Errorf("%w: malformed entry length", coreerrors.ErrInvalidEntry)
	}
	numLinks := optionalBytes / identity.HashSize

	if numLinks >= 1 {
		var h identity.Hash
		if _, err := io.ReadFull(r, h[:]); err != nil {
			return nil, fmt.Errorf("%w: read backlink: %v", coreerrors.ErrInvalidEntry, err)
		}
		e.Backlink = &h
	}
	if numLinks == 2 {
		var h identity.Hash
		if _, err := io.ReadFull(r, h[:]); err != nil {
			return nil, fmt.Errorf("%w: read skiplink: %v", coreerrors.ErrInvalidEntry, err)
		}
		e.Skiplink = &h
	}

	if _, err := io.ReadFull(r, e.Signature[:]); err != nil {
		return nil, fmt.Errorf("%w: read signature: %v", coreerrors.ErrInvalidEntry, err)
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%w: trailing bytes after signature", coreerrors.ErrInvalidEntry)
	}

	return e, nil
}
