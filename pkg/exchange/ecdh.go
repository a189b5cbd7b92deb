// Package exchange wraps X25519 key agreement for use as the Double
// Ratchet's DH pair. Adapted from the teacher's pkg/exchange/ecdh.go: the
// mechanism (crypto/ecdh, generate/exchange/restore) is unchanged, but
// public keys are marshaled as raw 32 bytes instead of X.509 PKIX DER,
// because the wire header (codec.Header.DH) is a fixed 32-byte field and
// cannot carry ASN.1 framing.
package exchange

import (
	"crypto/ecdh"
	"crypto/rand"
	"errors"
	"fmt"
)

// ErrInvalidKey is returned when a public or private key cannot be
// parsed as an X25519 key of the expected length.
var ErrInvalidKey = errors.New("exchange: invalid key")

// ECDH holds one side's X25519 keypair.
type ECDH struct {
	PublicKey  *ecdh.PublicKey
	privateKey *ecdh.PrivateKey
}

// NewECDH generates a fresh X25519 keypair.
func NewECDH() (*ECDH, error) {
	key, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("exchange: generating x25519 keypair: %w", err)
	}
	return &ECDH{privateKey: key, PublicKey: key.PublicKey()}, nil
}

// RestoreECDH reconstructs an X25519 keypair from raw private and public
// key bytes (32 bytes each).
func RestoreECDH(privBytes, pubBytes []byte) (*ECDH, error) {
	priv, err := ecdh.X25519().NewPrivateKey(privBytes)
	if err != nil {
		return nil, fmt.Errorf("exchange: restoring private key: %w", err)
	}
	pub, err := ecdh.X25519().NewPublicKey(pubBytes)
	if err != nil {
		return nil, fmt.Errorf("exchange: restoring public key: %w", err)
	}
	return &ECDH{privateKey: priv, PublicKey: pub}, nil
}

// RestoreECDHFromPrivate reconstructs a keypair from only the raw private
// scalar, deriving the public key rather than requiring it be stored
// separately — used when persisting a session, where storing both halves
// of an X25519 keypair would be redundant.
func RestoreECDHFromPrivate(privBytes []byte) (*ECDH, error) {
	priv, err := ecdh.X25519().NewPrivateKey(privBytes)
	if err != nil {
		return nil, fmt.Errorf("exchange: restoring private key: %w", err)
	}
	return &ECDH{privateKey: priv, PublicKey: priv.PublicKey()}, nil
}

// RestorePublic parses a lone raw 32-byte X25519 public key, for use when
// only the peer's public key is known (e.g. from a handshake event).
func RestorePublic(pubBytes []byte) (*ecdh.PublicKey, error) {
	pub, err := ecdh.X25519().NewPublicKey(pubBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidKey, err)
	}
	return pub, nil
}

// MarshalPublicKey returns the raw 32-byte X25519 public key.
func (e *ECDH) MarshalPublicKey() []byte {
	return e.PublicKey.Bytes()
}

// MarshalPrivateKey returns the raw 32-byte X25519 private scalar.
func (e *ECDH) MarshalPrivateKey() []byte {
	return e.privateKey.Bytes()
}

// Exchange performs X25519(ourPriv, remote) against a raw 32-byte remote
// public key.
func (e *ECDH) Exchange(remote []byte) ([]byte, error) {
	pub, err := ecdh.X25519().NewPublicKey(remote)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidKey, err)
	}
	secret, err := e.privateKey.ECDH(pub)
	if err != nil {
		return nil, fmt.Errorf("exchange: performing ecdh: %w", err)
	}
	return secret, nil
}

// PrivateKey exposes the underlying *ecdh.PrivateKey for callers (such as
// pkg/kdf.DH) that operate directly on crypto/ecdh types.
func (e *ECDH) PrivateKey() *ecdh.PrivateKey {
	return e.privateKey
}
