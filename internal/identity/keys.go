// Package identity provides the node's Ed25519 author keys and the
// content-hash primitive used to address entries and operations.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
)

// PublicKeySize is the size in bytes of an author's Ed25519 verification key.
const PublicKeySize = ed25519.PublicKeySize

// SignatureSize is the size in bytes of an Ed25519 signature.
const SignatureSize = ed25519.SignatureSize

// PublicKey identifies an author. It is never used for client-signed
// content, only node/author identity.
type PublicKey [PublicKeySize]byte

// String hex-encodes the public key for display and wire use.
func (k PublicKey) String() string {
	return hex.EncodeToString(k[:])
}

// Bytes returns the raw 32-byte key.
func (k PublicKey) Bytes() []byte {
	return k[:]
}

// ParsePublicKey decodes a hex-encoded public key.
func ParsePublicKey(s string) (PublicKey, error) {
	var pk PublicKey
	b, err := hex.DecodeString(s)
	if err != nil {
		return pk, fmt.Errorf("identity: decode public key: %w", err)
	}
	if len(b) != PublicKeySize {
		return pk, fmt.Errorf("identity: public key must be %d bytes, got %d", PublicKeySize, len(b))
	}
	copy(pk[:], b)
	return pk, nil
}

// KeyPair holds an author's signing keys.
type KeyPair struct {
	Public  PublicKey
	private ed25519.PrivateKey
}

// GenerateKeyPair creates a new ephemeral Ed25519 key pair.
func GenerateKeyPair() (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("identity: generate key: %w", err)
	}
	var pk PublicKey
	copy(pk[:], pub)
	return &KeyPair{Public: pk, private: priv}, nil
}

// LoadOrGenerateKeyPair reads a private key from path, or generates and
// persists a fresh one if path does not exist. An empty path returns a
// fresh ephemeral key pair that is never persisted, matching the
// private_key_path config option (§6): "if absent, the node generates an
// ephemeral one".
func LoadOrGenerateKeyPair(path string) (*KeyPair, error) {
	if path == "" {
		return GenerateKeyPair()
	}

	data, err := os.ReadFile(path)
	if err == nil {
		if len(data) != ed25519.PrivateKeySize {
			return nil, fmt.Errorf("identity: key file %s has unexpected size %d", path, len(data))
		}
		priv := ed25519.PrivateKey(data)
		var pk PublicKey
		copy(pk[:], priv.Public().(ed25519.PublicKey))
		return &KeyPair{Public: pk, private: priv}, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("identity: read key file: %w", err)
	}

	kp, err := GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, kp.private, 0600); err != nil {
		return nil, fmt.Errorf("identity: persist key file: %w", err)
	}
	return kp, nil
}

// Sign produces a detached Ed25519 signature over msg.
func (kp *KeyPair) Sign(msg []byte) [SignatureSize]byte {
	var sig [SignatureSize]byte
	copy(sig[:], ed25519.Sign(kp.private, msg))
	return sig
}

// Verify checks a detached signature against a public key.
func Verify(pub PublicKey, msg []byte, sig []byte) bool {
	return ed25519.Verify(ed25519.PublicKey(pub[:]), msg, sig)
}
