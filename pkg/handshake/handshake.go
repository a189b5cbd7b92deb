// Package handshake drives the hybrid X25519 + ML-KEM-768 bootstrap of
// spec.md §4.9: an initiator publishes ephemeral key material under a
// recipient-derived topic, a responder answers blind to the initiator's
// address, and the initiator recovers which pending attempt the answer
// belongs to by trial decapsulation.
package handshake

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"time"

	"github.com/cloudflare/circl/kem"
	"github.com/cloudflare/circl/kem/mlkem/mlkem768"
	"golang.org/x/crypto/ed25519"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/nacl/secretbox"

	"github.com/okrame/verbeth-sub002/pkg/events"
	"github.com/okrame/verbeth-sub002/pkg/exchange"
	"github.com/okrame/verbeth-sub002/pkg/kdf"
	"github.com/okrame/verbeth-sub002/pkg/ratchet"
)

// kemScheme is the single ML-KEM parameter set this module speaks.
// Pulled out so the rest of the package never names mlkem768 directly.
var kemScheme = mlkem768.Scheme()

const ackSize = 16

// PendingHandshake is the initiator-held state a handshake attempt must
// survive on, persisted alongside eSK/kemSK until a matching response
// arrives or the attempt times out (spec.md §4.9: "persist {eSK, kemSK}
// pending the response").
type PendingHandshake struct {
	RecipientAddress string
	Ephemeral        *exchange.ECDH
	KEMPublic        kem.PublicKey
	KEMPrivate       kem.PrivateKey
	CreatedAt        time.Time

	// EventHash is filled in by PendingHandshakes.Add once the handshake
	// event has actually been published and its log hash is known.
	EventHash [32]byte
}

// Begun is everything Begin produces: the event to publish, plus the
// state the caller must persist until a response arrives.
type Begun struct {
	Topic0  [32]byte
	Topic1  [32]byte
	Data    []byte
	Pending PendingHandshake
}

// Begin starts a handshake attempt toward recipientAddressLower (spec.md
// §4.9, initiator side). identityPub/identitySK sign the binding proof
// tying the ephemeral material to the caller's long-term identity.
func Begin(recipientAddressLower string, identityPub ed25519.PublicKey, identitySK ed25519.PrivateKey) (Begun, error) {
	eph, err := exchange.NewECDH()
	if err != nil {
		return Begun{}, fmt.Errorf("handshake: generating x25519 ephemeral: %w", err)
	}

	kemPub, kemPriv, err := kemScheme.GenerateKeyPair()
	if err != nil {
		return Begun{}, fmt.Errorf("handshake: generating kem keypair: %w", err)
	}
	kemPubBytes, err := kemPub.MarshalBinary()
	if err != nil {
		return Begun{}, fmt.Errorf("handshake: marshaling kem public key: %w", err)
	}

	proof := bindingProof(identityPub, eph.MarshalPublicKey(), recipientAddressLower)
	sig := ed25519.Sign(identitySK, proof)

	data := encodeHandshakeData(identityPub, eph.MarshalPublicKey(), kemPubBytes, sig)

	return Begun{
		Topic0: events.Signatures[events.FamilyHandshake],
		Topic1: events.ContactTopic(recipientAddressLower),
		Data:   data,
		Pending: PendingHandshake{
			RecipientAddress: recipientAddressLower,
			Ephemeral:        eph,
			KEMPublic:        kemPub,
			KEMPrivate:       kemPriv,
			CreatedAt:        time.Now(),
		},
	}, nil
}

// bindingProof is the message the initiator's identity key signs: proof
// that whoever published this ephemeral material also holds the
// long-term identity key, scoped to one recipient so it can't be
// replayed against a different contact.
func bindingProof(identityPub ed25519.PublicKey, x25519Pub []byte, recipientAddressLower string) []byte {
	msg := make([]byte, 0, len(identityPub)+len(x25519Pub)+len(recipientAddressLower))
	msg = append(msg, identityPub...)
	msg = append(msg, x25519Pub...)
	msg = append(msg, []byte(recipientAddressLower)...)
	return msg
}

// Accepted is what Accept hands back: the new session plus the event
// the responder must publish.
type Accepted struct {
	Session ratchet.Session
	Topic0  [32]byte
	Topic1  [32]byte // inResponseTo: hash of the initiator's handshake event
	Data    []byte   // responderEphemeral ‖ len-prefixed kem ciphertext ‖ len-prefixed encrypted ack (both empty in classical mode)
}

// Accept processes an inbound Handshake event (spec.md §4.9, responder
// side). handshakeEventHash identifies the event being answered and
// becomes the response's topic1; myAddressLower is the address the
// initiator bound its proof to.
func Accept(h events.Handshake, handshakeEventHash [32]byte, myAddressLower string) (Accepted, error) {
	identityPub := ed25519.PublicKey(h.InitiatorIdentityPub)
	x25519Pub := h.InitiatorX25519Pub
	kemPubBytes := h.InitiatorKEMPub

	if !ed25519.Verify(identityPub, bindingProof(identityPub, x25519Pub[:], myAddressLower), h.BindingProof) {
		return Accepted{}, fmt.Errorf("handshake: binding proof does not verify")
	}

	responderEph, err := exchange.NewECDH()
	if err != nil {
		return Accepted{}, fmt.Errorf("handshake: generating responder ephemeral: %w", err)
	}
	dhSecret, err := responderEph.Exchange(x25519Pub[:])
	if err != nil {
		return Accepted{}, fmt.Errorf("handshake: x25519 exchange: %w", err)
	}

	outboundTopic := events.Keccak256([]byte("handshake-outbound:"), handshakeEventHash[:])
	inboundTopic := events.Keccak256([]byte("handshake-inbound:"), handshakeEventHash[:])

	// The address contacts are identified by on-chain, resolved by the
	// transport layer; here the initiator's identity key is the only
	// stable handle available, so it stands in as ContactAddress until
	// the caller replaces it with a resolved address.
	contactAddress := fmt.Sprintf("%x", identityPub)

	var responderEphBytes [32]byte
	copy(responderEphBytes[:], responderEph.MarshalPublicKey())

	// The KEM shared secret, if any, must fold into the shared secret
	// handed to InitSessionAsResponder before that function's own
	// RootStep — not as a second RootStep applied afterward — so the
	// root chain's very first derivation already reflects it. TryMatch's
	// buildInitiatorSession does the identical fold before calling
	// InitSessionAsInitiator, keeping both sides at the same epoch.
	sharedSecret := dhSecret
	var ciphertext, encryptedAck []byte
	if len(kemPubBytes) > 0 {
		kemPub, err := kemScheme.UnmarshalBinaryPublicKey(kemPubBytes)
		if err != nil {
			return Accepted{}, fmt.Errorf("handshake: parsing kem public key: %w", err)
		}
		ct, ssPQ, err := kemScheme.Encapsulate(kemPub)
		if err != nil {
			return Accepted{}, fmt.Errorf("handshake: kem encapsulate: %w", err)
		}
		ciphertext = ct
		sharedSecret = kdf.CombineSecrets(dhSecret, ssPQ)

		ack := make([]byte, ackSize)
		if _, err := rand.Read(ack); err != nil {
			return Accepted{}, fmt.Errorf("handshake: generating acknowledgment: %w", err)
		}
		encryptedAck, err = sealAck(ssPQ, ack)
		if err != nil {
			return Accepted{}, fmt.Errorf("handshake: sealing acknowledgment: %w", err)
		}
	}

	session, err := ratchet.InitSessionAsResponder(sharedSecret, responderEph, x25519Pub, myAddressLower, contactAddress, outboundTopic, inboundTopic)
	if err != nil {
		return Accepted{}, fmt.Errorf("handshake: initializing responder session: %w", err)
	}

	data := encodeResponseData(responderEphBytes, ciphertext, encryptedAck)

	return Accepted{
		Session: session,
		Topic0:  events.Signatures[events.FamilyHandshakeResponse],
		Topic1:  handshakeEventHash,
		Data:    data,
	}, nil
}

// sealAck derives a 32-byte key from the KEM shared secret via HKDF and
// seals ack under it with xsalsa20-poly1305, matching pkg/ratchet's
// message-sealing convention.
func sealAck(sharedSecret, ack []byte) ([]byte, error) {
	var key [32]byte
	r := hkdf.New(sha256.New, sharedSecret, nil, []byte("verbeth:handshake-ack:v1"))
	if _, err := io.ReadFull(r, key[:]); err != nil {
		return nil, err
	}

	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("generating ack nonce: %w", err)
	}
	out := make([]byte, 0, 24+len(ack)+secretbox.Overhead)
	out = append(out, nonce[:]...)
	return secretbox.Seal(out, ack, &nonce, &key), nil
}

// openAck reverses sealAck.
func openAck(sharedSecret, ciphertext []byte) ([]byte, bool) {
	var key [32]byte
	r := hkdf.New(sha256.New, sharedSecret, nil, []byte("verbeth:handshake-ack:v1"))
	if _, err := io.ReadFull(r, key[:]); err != nil {
		return nil, false
	}
	if len(ciphertext) < 24 {
		return nil, false
	}
	var nonce [24]byte
	copy(nonce[:], ciphertext[:24])
	return secretbox.Open(nil, ciphertext[24:], &nonce, &key)
}
