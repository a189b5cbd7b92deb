// Package kdf implements the key-derivation primitives the ratchet and
// topic-rotation layers are built on: the Double Ratchet's root and chain
// steps, the X25519 Diffie-Hellman step, and deterministic topic
// derivation.
package kdf

import (
	"crypto/ecdh"
	"crypto/hmac"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/sha3"
)

const (
	// KeySize is the width, in bytes, of every root key, chain key, and
	// message key produced by this package.
	KeySize = 32

	rootInfo = "VerbethRatchet"

	// chain step domain separation constants. Fixed by spec; do not reorder.
	chainMsgConst  = 0x01
	chainNextConst = 0x02

	// DirectionOutbound and DirectionInbound label which side of a
	// conversation a derived topic routes to.
	DirectionOutbound = "outbound"
	DirectionInbound  = "inbound"
)

func topicInfo(direction string) string {
	return "verbeth:topic-" + direction + ":v2"
}

// RootStep implements KDF_RK(rk, dh_out) -> (rk', ck): HKDF-SHA256 over the
// DH output, salted with the current root key, expanded to 64 bytes and
// split into the new root key and a chain key.
func RootStep(rootKey, dhOut []byte) (newRootKey, chainKey []byte, err error) {
	if len(rootKey) != KeySize {
		return nil, nil, fmt.Errorf("kdf: root key must be %d bytes, got %d", KeySize, len(rootKey))
	}
	if len(dhOut) == 0 {
		return nil, nil, fmt.Errorf("kdf: empty dh output")
	}

	r := hkdf.New(sha256.New, dhOut, rootKey, []byte(rootInfo))
	out := make([]byte, 2*KeySize)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, nil, fmt.Errorf("kdf: expanding root step: %w", err)
	}
	return out[:KeySize], out[KeySize:], nil
}

// ChainStep implements KDF_CK(ck) -> (ck', mk): mk = HMAC-SHA256(ck, 0x01),
// ck' = HMAC-SHA256(ck, 0x02). The constants are fixed by spec and an
// implementation MUST NOT swap them.
func ChainStep(chainKey []byte) (nextChainKey, messageKey []byte, err error) {
	if len(chainKey) != KeySize {
		return nil, nil, fmt.Errorf("kdf: chain key must be %d bytes, got %d", KeySize, len(chainKey))
	}

	mk := hmac.New(sha256.New, chainKey)
	mk.Write([]byte{chainMsgConst})
	messageKey = mk.Sum(nil)

	ck := hmac.New(sha256.New, chainKey)
	ck.Write([]byte{chainNextConst})
	nextChainKey = ck.Sum(nil)

	return nextChainKey, messageKey, nil
}

// CombineSecrets folds a secondary secret (e.g. a KEM shared secret)
// into a primary DH output so a hybrid handshake's post-quantum
// contribution enters the ratchet at the same derivation point — the
// first RootStep — on both sides, rather than as a second step applied
// at different epochs. extra may be nil or empty, in which case
// primary is returned unchanged.
func CombineSecrets(primary, extra []byte) []byte {
	if len(extra) == 0 {
		return primary
	}
	combined := make([]byte, 0, len(primary)+len(extra))
	combined = append(combined, primary...)
	combined = append(combined, extra...)
	return combined
}

// DH performs an X25519 scalar multiplication between a local private key
// and a remote raw 32-byte public key.
func DH(local *ecdh.PrivateKey, remotePublic []byte) ([]byte, error) {
	pub, err := ecdh.X25519().NewPublicKey(remotePublic)
	if err != nil {
		return nil, fmt.Errorf("kdf: parsing remote public key: %w", err)
	}
	secret, err := local.ECDH(pub)
	if err != nil {
		return nil, fmt.Errorf("kdf: x25519 exchange: %w", err)
	}
	return secret, nil
}

// DeriveTopic computes deriveTopic(dh_out, direction, salt) =
// keccak256(HKDF(dh_out, salt, "verbeth:topic-<direction>:v2", 32)).
// salt is the 32-byte conversation id. direction must be
// DirectionOutbound or DirectionInbound.
func DeriveTopic(dhOut, salt []byte, direction string) ([32]byte, error) {
	var topic [32]byte
	if direction != DirectionOutbound && direction != DirectionInbound {
		return topic, fmt.Errorf("kdf: invalid topic direction %q", direction)
	}

	r := hkdf.New(sha256.New, dhOut, salt, []byte(topicInfo(direction)))
	intermediate := make([]byte, KeySize)
	if _, err := io.ReadFull(r, intermediate); err != nil {
		return topic, fmt.Errorf("kdf: expanding topic hkdf: %w", err)
	}

	h := sha3.NewLegacyKeccak256()
	h.Write(intermediate)
	copy(topic[:], h.Sum(nil))
	return topic, nil
}

// ConversationID computes H(sort(topicA, topicB).join(":")) as specified
// in spec.md §3.1: the two topics are sorted lexicographically, joined
// with a colon, and hashed with keccak256.
func ConversationID(topicA, topicB [32]byte) [32]byte {
	a, b := topicA[:], topicB[:]
	first, second := a, b
	if string(a) > string(b) {
		first, second = b, a
	}

	h := sha3.NewLegacyKeccak256()
	h.Write(first)
	h.Write([]byte(":"))
	h.Write(second)

	var id [32]byte
	copy(id[:], h.Sum(nil))
	return id
}
