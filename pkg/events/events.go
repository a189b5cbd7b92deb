// Package events defines the three transport event families the core
// consumes (spec.md §6.2) and the topic-hash helper they share.
package events

import (
	"encoding/binary"

	"golang.org/x/crypto/sha3"
)

// Family identifies which of the three event shapes a log entry is.
type Family string

const (
	FamilyHandshake         Family = "Handshake"
	FamilyHandshakeResponse Family = "HandshakeResponse"
	FamilyMessageSent       Family = "MessageSent"
)

// Signatures are the topic0 values events are indexed by, analogous to
// Solidity event signature hashes. They are fixed constants, not
// re-derived per event.
var Signatures = map[Family][32]byte{
	FamilyHandshake:         Keccak256([]byte("Handshake(bytes32,bytes)")),
	FamilyHandshakeResponse: Keccak256([]byte("HandshakeResponse(bytes32,bytes)")),
	FamilyMessageSent:       Keccak256([]byte("MessageSent(address,bytes32,bytes,uint64,uint64)")),
}

// Keccak256 is the blockchain-style (non-NIST) hash used throughout this
// module for topic derivation and event correlation.
func Keccak256(data ...[]byte) [32]byte {
	h := sha3.NewLegacyKeccak256()
	for _, d := range data {
		h.Write(d)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// ContactTopic returns the topic1 a Handshake event for recipientAddress
// is indexed under: keccak256("contact:" ‖ lowercase(recipientAddress)).
func ContactTopic(recipientAddressLower string) [32]byte {
	return Keccak256([]byte("contact:"), []byte(recipientAddressLower))
}

// Handshake is a parsed Handshake event (spec.md §6.2).
type Handshake struct {
	Topic1                [32]byte // keccak256("contact:" ‖ recipientAddress)
	InitiatorIdentityPub  []byte   // ed25519 public key
	InitiatorX25519Pub    [32]byte
	InitiatorKEMPub       []byte // ML-KEM-768 public key, optional (hybrid opt-in)
	BindingProof          []byte // signature over identityPub ‖ x25519Pub ‖ address
	BlockNumber, LogIndex uint64
}

// HandshakeResponse is a parsed HandshakeResponse event.
type HandshakeResponse struct {
	InResponseTo        [32]byte // hash of the original Handshake event
	ResponderEphemeral  [32]byte
	Ciphertext          []byte // KEM ciphertext + encrypted acknowledgment
	BlockNumber, LogIndex uint64
}

// MessageSent is a parsed MessageSent event.
type MessageSent struct {
	SenderAddress         string
	ConversationTopic      [32]byte
	Payload               []byte
	Nonce                 uint64
	BlockTimestamp        uint64
	BlockNumber, LogIndex uint64
}

// Less orders two events by (blockNumber, logIndex), the tie-break rule
// spec.md §5 assigns to inbound event processing.
func Less(aBlock, aLog, bBlock, bLog uint64) bool {
	if aBlock != bBlock {
		return aBlock < bBlock
	}
	return aLog < bLog
}

// EncodeNonce is a small helper for building MessageSent replay-protection
// counters in the big-endian form the rest of this module uses.
func EncodeNonce(n uint64) []byte {
	out := make([]byte, 8)
	binary.BigEndian.PutUint64(out, n)
	return out
}
