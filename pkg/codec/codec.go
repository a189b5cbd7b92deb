// Package codec implements the deterministic binary packaging and
// parsing of the wire payload submitted as transport event data.
//
// Wire format (fixed-position, big-endian integers):
//
//	off sz field
//	0   1  version (0x01)
//	1   64 ed25519 signature
//	65  32 dh (X25519 ratchet pubkey)
//	97  4  pn (u32)
//	101 4  n  (u32)
//	105 .. ciphertext (xsalsa20-poly1305 output incl. its 24-byte nonce)
//
// This layout is consensus-critical: it must match byte-for-byte across
// every implementation of this protocol, so it is hand-packed rather than
// routed through a general-purpose serialization library.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrInvalidFormat is returned when a payload is too short or carries an
// unrecognized version byte. Per spec.md §7, the caller drops the
// message without making any ratchet state change.
var ErrInvalidFormat = errors.New("codec: invalid payload format")

const (
	// Version is the only ratchet wire version this codec understands.
	Version byte = 0x01

	versionSize = 1
	sigSize     = 64
	dhSize      = 32
	pnSize      = 4
	nSize       = 4

	headerOffset = versionSize + sigSize
	pnOffset     = headerOffset + dhSize
	nOffset      = pnOffset + pnSize
	ctOffset     = nOffset + nSize

	// MinPayloadSize is the smallest payload parse will accept: the fixed
	// header with an empty ciphertext.
	MinPayloadSize = ctOffset
)

// Header is the on-wire message header: the sender's current ratchet DH
// public key plus the previous and current chain counters.
type Header struct {
	DH [32]byte
	PN uint32
	N  uint32
}

// HeaderBytes returns the fixed-width 40-byte encoding of h: dh ‖
// pn_be_u32 ‖ n_be_u32. This is exactly what auth.Sign/Verify operate
// over, prefixed to the ciphertext.
func (h Header) HeaderBytes() []byte {
	b := make([]byte, dhSize+pnSize+nSize)
	copy(b[:dhSize], h.DH[:])
	binary.BigEndian.PutUint32(b[dhSize:dhSize+pnSize], h.PN)
	binary.BigEndian.PutUint32(b[dhSize+pnSize:], h.N)
	return b
}

// Package assembles a wire payload from a 64-byte detached signature, a
// message header, and an already-encrypted ciphertext (which itself
// carries its 24-byte nonce prefix). It validates the signature length;
// the dh width is fixed by Header.DH's [32]byte type.
func Package(sig []byte, header Header, ciphertext []byte) ([]byte, error) {
	if len(sig) != sigSize {
		return nil, fmt.Errorf("codec: signature must be %d bytes, got %d", sigSize, len(sig))
	}

	out := make([]byte, ctOffset+len(ciphertext))
	out[0] = Version
	copy(out[versionSize:headerOffset], sig)
	copy(out[headerOffset:pnOffset], header.DH[:])
	binary.BigEndian.PutUint32(out[pnOffset:nOffset], header.PN)
	binary.BigEndian.PutUint32(out[nOffset:ctOffset], header.N)
	copy(out[ctOffset:], ciphertext)

	return out, nil
}

// Parse splits a wire payload back into its signature, header, and
// ciphertext. It rejects any payload shorter than MinPayloadSize or whose
// first byte is not Version.
func Parse(payload []byte) (sig []byte, header Header, ciphertext []byte, err error) {
	if len(payload) < MinPayloadSize {
		return nil, Header{}, nil, fmt.Errorf(
			"%w: payload too short: got %d bytes, need at least %d",
			ErrInvalidFormat, len(payload), MinPayloadSize,
		)
	}
	if payload[0] != Version {
		return nil, Header{}, nil, fmt.Errorf(
			"%w: unsupported version byte 0x%02x", ErrInvalidFormat, payload[0],
		)
	}

	sig = append([]byte(nil), payload[versionSize:headerOffset]...)
	var h Header
	copy(h.DH[:], payload[headerOffset:pnOffset])
	h.PN = binary.BigEndian.Uint32(payload[pnOffset:nOffset])
	h.N = binary.BigEndian.Uint32(payload[nOffset:ctOffset])
	ciphertext = append([]byte(nil), payload[ctOffset:]...)

	return sig, h, ciphertext, nil
}
