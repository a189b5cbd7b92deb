package ratchet

import (
	"fmt"
	"time"

	"github.com/okrame/verbeth-sub002/pkg/exchange"
	"github.com/okrame/verbeth-sub002/pkg/kdf"
	"github.com/okrame/verbeth-sub002/pkg/topic"
)

var zeroKey [32]byte

// InitSessionAsResponder bootstraps a session on accepting a handshake
// (spec.md §4.4). The initial shared secret is
// DH(handshakeEphemeralA, handshakeEphemeralB), combined with the KEM
// secret by kdf.CombineSecrets in a hybrid handshake — identity keys
// never enter the ratchet. responderEphemeral is reused as the first DH
// ratchet keypair, and initiatorEphemeralPub becomes the peer's current
// DH public key.
func InitSessionAsResponder(
	sharedSecret []byte,
	responderEphemeral *exchange.ECDH,
	initiatorEphemeralPub [32]byte,
	myAddress, contactAddress string,
	handshakeOutbound, handshakeInbound [32]byte,
) (Session, error) {
	rootKey, sendingChainKey, err := kdf.RootStep(zeroKey[:], sharedSecret)
	if err != nil {
		return Session{}, fmt.Errorf("ratchet: responder root step: %w", err)
	}

	now := time.Now()
	s := Session{
		ConversationID:   kdf.ConversationID(handshakeOutbound, handshakeInbound),
		MyAddress:        myAddress,
		ContactAddress:   contactAddress,
		DHMy:             responderEphemeral,
		DHTheirPublicKey: initiatorEphemeralPub,
		// ReceivingChainKey is left nil: the first inbound message will
		// perform a DH step.
		CreatedAt: now,
		UpdatedAt: now,
		Topics: topic.Set{
			CurrentOutbound: handshakeOutbound,
			CurrentInbound:  handshakeInbound,
		},
	}
	copy(s.RootKey[:], rootKey)
	var sck [32]byte
	copy(sck[:], sendingChainKey)
	s.SendingChainKey = &sck

	return s, nil
}

// InitSessionAsInitiator bootstraps a session on processing a
// handshake response (spec.md §4.4). It generates a fresh DH pair
// immediately, deriving epoch-1 topics from it so the responder's reply
// (sent once the initiator's first message, which carries that new DH
// public key, has reached it) can be indexed as soon as it's sent.
func InitSessionAsInitiator(
	sharedSecret []byte,
	responderEphemeralPub [32]byte,
	myAddress, contactAddress string,
	handshakeOutbound, handshakeInbound [32]byte,
) (Session, error) {
	r0, bobsSendingChain, err := kdf.RootStep(zeroKey[:], sharedSecret)
	if err != nil {
		return Session{}, fmt.Errorf("ratchet: initiator root step: %w", err)
	}

	newDH, err := exchange.NewECDH()
	if err != nil {
		return Session{}, fmt.Errorf("ratchet: generating initiator dh pair: %w", err)
	}
	dhSend, err := newDH.Exchange(responderEphemeralPub[:])
	if err != nil {
		return Session{}, fmt.Errorf("ratchet: initiator dh exchange: %w", err)
	}

	rootKey, sendingChainKey, err := kdf.RootStep(r0, dhSend)
	if err != nil {
		return Session{}, fmt.Errorf("ratchet: initiator second root step: %w", err)
	}

	conversationID := kdf.ConversationID(handshakeOutbound, handshakeInbound)

	nextOutbound, err := kdf.DeriveTopic(dhSend, conversationID[:], kdf.DirectionOutbound)
	if err != nil {
		return Session{}, fmt.Errorf("ratchet: deriving next outbound topic: %w", err)
	}
	nextInbound, err := kdf.DeriveTopic(dhSend, conversationID[:], kdf.DirectionInbound)
	if err != nil {
		return Session{}, fmt.Errorf("ratchet: deriving next inbound topic: %w", err)
	}

	now := time.Now()
	s := Session{
		ConversationID:   conversationID,
		MyAddress:        myAddress,
		ContactAddress:   contactAddress,
		DHMy:             newDH,
		DHTheirPublicKey: responderEphemeralPub,
		CreatedAt:        now,
		UpdatedAt:        now,
		Topics: topic.Set{
			CurrentOutbound: handshakeOutbound,
			CurrentInbound:  handshakeInbound,
		},
	}
	copy(s.RootKey[:], rootKey)
	var sck, rck [32]byte
	copy(sck[:], sendingChainKey)
	copy(rck[:], bobsSendingChain)
	s.SendingChainKey = &sck
	s.ReceivingChainKey = &rck
	s.Topics.SetNext(nextOutbound, nextInbound)

	return s, nil
}
