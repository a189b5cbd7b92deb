// Package ratchet implements the Double Ratchet session combined with the
// topic-rotation ratchet layered on top of it (spec.md §3.1, §4.4–§4.6).
// A Session is a value: every operation takes one by value and returns a
// new one, never mutating its input — the "session = value" discipline
// of spec.md §9, generalized from the teacher's whole-ratchet
// clone-before-mutate (pkg/ratchet/state.go's Save/Restore in
// kamune-org-kamune) to per-field copy-on-write, so a caller can hold
// sessionStateBefore and sessionStateAfter simultaneously, as spec.md
// §4.8's pending record requires.
package ratchet

import (
	"crypto/ecdh"
	"errors"
	"time"

	"github.com/okrame/verbeth-sub002/pkg/exchange"
	"github.com/okrame/verbeth-sub002/pkg/topic"
)

// Sentinel errors returned by this package's operations (spec.md §7).
var (
	// ErrInvalidSignature is returned by Decrypt when signature
	// verification fails. The session is returned unmodified.
	ErrInvalidSignature = errors.New("ratchet: invalid signature")

	// ErrTooManySkipped is returned when a single message would require
	// skipping more than Limits.MaxSkipPerMessage keys. The session is
	// returned unmodified (spec.md §9 open-question resolution).
	ErrTooManySkipped = errors.New("ratchet: too many skipped messages")

	// ErrDecryptFailure is returned when the AEAD tag fails to verify
	// after a successful signature check and chain step. The caller
	// must not persist the returned session in this case (spec.md §7):
	// the receive-side slot is reused on retry.
	ErrDecryptFailure = errors.New("ratchet: decryption failed")

	// ErrSendingChainUninitialized is returned by Encrypt when the
	// session has no sending chain key. Both Init functions set one, so
	// only a zero-value or hand-built Session reaches this.
	ErrSendingChainUninitialized = errors.New("ratchet: sending chain not initialized")

	// ErrReceivingChainUninitialized guards Decrypt against a session
	// that somehow reached decrypt before any chain existed.
	ErrReceivingChainUninitialized = errors.New("ratchet: receiving chain not initialized")
)

// SkippedKey is a stored message key for a message that was expected
// in-order but has not yet arrived, keyed by the DH public key that was
// current when it was skipped plus the message's chain counter
// (spec.md §3.1, §9).
type SkippedKey struct {
	DH         [32]byte
	N          uint32
	MessageKey [32]byte
	CreatedAt  time.Time
}

// Session is the bidirectional conversation state described in spec.md
// §3.1. All byte slices are owned by the Session that holds them; use
// Clone rather than mutating a Session in place.
type Session struct {
	// Identity. ConversationID is immutable after creation.
	ConversationID [32]byte
	MyAddress      string
	ContactAddress string

	// Cryptographic state.
	RootKey          [32]byte
	DHMy             *exchange.ECDH
	DHTheirPublicKey [32]byte

	// SendingChainKey is set from creation on by both
	// InitSessionAsResponder and InitSessionAsInitiator; the responder
	// can send on it before its first DH step.
	SendingChainKey   *[32]byte
	ReceivingChainKey *[32]byte

	SendingMsgNumber    uint32
	ReceivingMsgNumber  uint32
	PreviousChainLength uint32

	SkippedKeys []SkippedKey

	Topics topic.Set

	CreatedAt time.Time
	UpdatedAt time.Time

	// DebugEpoch is informational only, distinct from Topics.Epoch, and
	// is never consulted by any invariant.
	DebugEpoch uint64
}

// Limits bundles the load-bearing constants of spec.md §6.4 so callers
// (via pkg/config) can tune them without recompiling.
type Limits struct {
	MaxSkipPerMessage     int
	MaxStoredSkippedKeys  int
	MaxSkippedKeysAge     time.Duration
	TopicTransitionWindow time.Duration
}

// DefaultLimits returns the spec's suggested values.
func DefaultLimits() Limits {
	return Limits{
		MaxSkipPerMessage:     1000,
		MaxStoredSkippedKeys:  2000,
		MaxSkippedKeysAge:     7 * 24 * time.Hour,
		TopicTransitionWindow: 5 * time.Minute,
	}
}

// Clone returns a deep copy of s. The underlying exchange.ECDH value is
// reused rather than regenerated, since it is treated as immutable once
// created.
func (s Session) Clone() Session {
	clone := s

	if s.SendingChainKey != nil {
		v := *s.SendingChainKey
		clone.SendingChainKey = &v
	}
	if s.ReceivingChainKey != nil {
		v := *s.ReceivingChainKey
		clone.ReceivingChainKey = &v
	}

	clone.SkippedKeys = append([]SkippedKey(nil), s.SkippedKeys...)

	if topicsClone := s.Topics.Clone(); topicsClone != nil {
		clone.Topics = *topicsClone
	}

	return clone
}

// OurDHPublic returns the current local X25519 ratchet public key as a
// fixed 32-byte array, ready to place in a wire Header.
func (s Session) OurDHPublic() [32]byte {
	var out [32]byte
	copy(out[:], s.DHMy.MarshalPublicKey())
	return out
}

func dhExchange(priv *ecdh.PrivateKey, remote [32]byte) ([]byte, error) {
	pub, err := exchange.RestorePublic(remote[:])
	if err != nil {
		return nil, err
	}
	return priv.ECDH(pub)
}
