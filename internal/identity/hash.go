package identity

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/multiformats/go-multihash"
	"golang.org/x/crypto/blake2b"
)

// HashSize is the total encoded size of a Hash: a 2-byte algorithm prefix
// followed by a 32-byte digest.
const HashSize = 34

// hashAlgo is the YAMF-style algorithm code for this node's content hash.
// It reuses the multihash registry's BLAKE2b-256 code (BLAKE2B_MIN + 31,
// per the multihash table) so the prefix carries a meaningful, well-known
// algorithm identifier even though the encoding here is a fixed 2-byte
// field rather than multihash's varint framing.
var hashAlgo = uint16(multihash.BLAKE2B_MIN + 31)

// Hash is a content-addressed identifier: a 2-byte algorithm prefix plus
// a 32-byte digest, hex-encoded externally.
type Hash [HashSize]byte

// HashOf computes the content hash of payload using the node's canonical
// algorithm, BLAKE2b-256.
func HashOf(payload []byte) Hash {
	digest := blake2b.Sum256(payload)
	var h Hash
	binary.BigEndian.PutUint16(h[:2], hashAlgo)
	copy(h[2:], digest[:])
	return h
}

// IsZero reports whether h is the zero value (unset).
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// String hex-encodes the hash for display and wire use.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Bytes returns the raw encoded hash.
func (h Hash) Bytes() []byte {
	return h[:]
}

// Less provides a stable, hash-sortable ordering used to tie-break
// concurrent operations deterministically (spec §4.5 step 2).
func (h Hash) Less(other Hash) bool {
	for i := range h {
		if h[i] != other[i] {
			return h[i] < other[i]
		}
	}
	return false
}

// ParseHash decodes a hex-encoded hash.
func ParseHash(s string) (Hash, error) {
	var h Hash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("identity: decode hash: %w", err)
	}
	if len(b) != HashSize {
		return h, fmt.Errorf("identity: hash must be %d bytes, got %d", HashSize, len(b))
	}
	copy(h[:], b)
	return h, nil
}
