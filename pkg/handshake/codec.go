package handshake

import (
	"encoding/binary"
	"fmt"

	"github.com/okrame/verbeth-sub002/pkg/events"
)

// ParseHandshakeEvent reconstructs an events.Handshake from a raw log
// entry's topic1 and data, the counterpart to Begin's encoding.
func ParseHandshakeEvent(topic1 [32]byte, data []byte, blockNumber, logIndex uint64) (events.Handshake, error) {
	identityPub, x25519Pub, kemPub, proof, err := decodeHandshakeData(data)
	if err != nil {
		return events.Handshake{}, fmt.Errorf("handshake: parsing event: %w", err)
	}
	if len(x25519Pub) != 32 {
		return events.Handshake{}, fmt.Errorf("handshake: x25519 public key must be 32 bytes, got %d", len(x25519Pub))
	}

	h := events.Handshake{
		Topic1:               topic1,
		InitiatorIdentityPub: append([]byte(nil), identityPub...),
		InitiatorKEMPub:      append([]byte(nil), kemPub...),
		BindingProof:         append([]byte(nil), proof...),
		BlockNumber:          blockNumber,
		LogIndex:             logIndex,
	}
	copy(h.InitiatorX25519Pub[:], x25519Pub)
	return h, nil
}

// encodeHandshakeData lays out the Handshake event's data field as a
// sequence of length-prefixed byte strings: identityPub, x25519Pub,
// kemPub (empty when classical-only), bindingProof. This mirrors
// spec.md §6.2's "abi-encoded identity material + initiator ephemeral +
// binding proof", adapted to a plain length-prefixed form since this
// module has no Solidity ABI encoder in its dependency set.
func encodeHandshakeData(identityPub, x25519Pub, kemPub, proof []byte) []byte {
	return joinLV(identityPub, x25519Pub, kemPub, proof)
}

func decodeHandshakeData(data []byte) (identityPub, x25519Pub, kemPub, proof []byte, err error) {
	parts, err := splitLV(data, 4)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	return parts[0], parts[1], parts[2], parts[3], nil
}

// encodeResponseData lays out the HandshakeResponse event's data field:
// responderEphemeral (fixed 32 bytes) ‖ length-prefixed kem ciphertext ‖
// length-prefixed encrypted acknowledgment (both empty when
// classical-only).
func encodeResponseData(responderEphemeral [32]byte, ciphertext, encryptedAck []byte) []byte {
	out := make([]byte, 0, 32+len(ciphertext)+len(encryptedAck)+8)
	out = append(out, responderEphemeral[:]...)
	return append(out, joinLV(ciphertext, encryptedAck)...)
}

func decodeResponseData(data []byte) (responderEphemeral [32]byte, ciphertext, encryptedAck []byte, err error) {
	if len(data) < 32 {
		return responderEphemeral, nil, nil, fmt.Errorf("handshake: response data shorter than ephemeral key")
	}
	copy(responderEphemeral[:], data[:32])
	parts, err := splitLV(data[32:], 2)
	if err != nil {
		return responderEphemeral, nil, nil, err
	}
	return responderEphemeral, parts[0], parts[1], nil
}

// joinLV concatenates each field as a big-endian uint32 length followed
// by its bytes.
func joinLV(fields ...[]byte) []byte {
	var out []byte
	for _, f := range fields {
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(f)))
		out = append(out, lenBuf[:]...)
		out = append(out, f...)
	}
	return out
}

// splitLV reverses joinLV, expecting exactly n fields.
func splitLV(data []byte, n int) ([][]byte, error) {
	out := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		if len(data) < 4 {
			return nil, fmt.Errorf("handshake: truncated length prefix at field %d", i)
		}
		l := binary.BigEndian.Uint32(data[:4])
		data = data[4:]
		if uint32(len(data)) < l {
			return nil, fmt.Errorf("handshake: truncated field %d: want %d bytes, have %d", i, l, len(data))
		}
		out = append(out, data[:l])
		data = data[l:]
	}
	if len(data) != 0 {
		return nil, fmt.Errorf("handshake: %d trailing bytes after %d fields", len(data), n)
	}
	return out, nil
}
