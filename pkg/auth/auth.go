// Package auth implements the detached Ed25519 signatures that gate every
// inbound message before any ratchet state is touched. Grounded on the
// teacher's pkg/attest/ed25519.go, narrowed to the one scheme the wire
// format's fixed 64-byte signature slot allows.
package auth

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/ed25519"
)

// SignatureSize is the fixed width of a detached Ed25519 signature, and
// must match codec.sigSize.
const SignatureSize = ed25519.SignatureSize

// GenerateKey creates a new Ed25519 signing keypair.
func GenerateKey() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("auth: generating ed25519 key: %w", err)
	}
	return pub, priv, nil
}

// Sign produces a detached signature over header_bytes ‖ ciphertext, where
// header_bytes is the fixed-width 40-byte encoding from codec.Header.
func Sign(headerBytes, ciphertext []byte, sk ed25519.PrivateKey) []byte {
	msg := concat(headerBytes, ciphertext)
	return ed25519.Sign(sk, msg)
}

// Verify checks a detached signature over header_bytes ‖ ciphertext. The
// core MUST call Verify before performing any symmetric-key or DH
// operation on the corresponding message — this is the DoS gate that
// prevents an unauthenticated peer from forcing skipped-key ratcheting.
func Verify(headerBytes, ciphertext, sig []byte, pk ed25519.PublicKey) bool {
	if len(sig) != SignatureSize || len(pk) != ed25519.PublicKeySize {
		return false
	}
	msg := concat(headerBytes, ciphertext)
	return ed25519.Verify(pk, msg, sig)
}

func concat(a, b []byte) []byte {
	out := make([]byte, len(a)+len(b))
	copy(out, a)
	copy(out[len(a):], b)
	return out
}
