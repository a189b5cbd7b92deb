package ratchet

import (
	"fmt"
	"time"

	"golang.org/x/crypto/ed25519"

	"github.com/okrame/verbeth-sub002/pkg/auth"
	"github.com/okrame/verbeth-sub002/pkg/codec"
	"github.com/okrame/verbeth-sub002/pkg/exchange"
	"github.com/okrame/verbeth-sub002/pkg/kdf"
)

// Decrypt processes one inbound message against session, per spec.md
// §4.6. On any crypto-layer failure (invalid signature, too many
// skipped messages, AEAD failure) it returns the error AND the
// unmodified input session — the caller must not persist a session in
// that case (spec.md §7's "drop; do not mutate session" policy).
//
// senderPK authenticates the detached signature; it is the contact's
// long-lived Ed25519 identity key, not a ratchet key.
func Decrypt(
	session Session,
	header codec.Header,
	ciphertext, sig []byte,
	senderPK ed25519.PublicKey,
	limits Limits,
) (Session, []byte, error) {
	headerBytes := header.HeaderBytes()

	// Step 1: verify the signature before touching any ratchet state.
	// This is the DoS gate (spec.md §4.3): an attacker who cannot forge
	// a signature cannot force skipped-key ratcheting.
	if !auth.Verify(headerBytes, ciphertext, sig, senderPK) {
		return session, nil, ErrInvalidSignature
	}

	// Step 2: skipped-key fast path.
	if sk, remaining, ok := findSkippedKey(session.SkippedKeys, header.DH, header.N); ok {
		plaintext, err := openMessage(sk.MessageKey, ciphertext)
		if err != nil {
			return session, nil, err
		}
		newSession := session.Clone()
		newSession.SkippedKeys = remaining
		newSession.UpdatedAt = time.Now()
		return newSession, plaintext, nil
	}

	newSession := session.Clone()
	now := time.Now()

	if header.DH != session.DHTheirPublicKey {
		if err := performDHStep(&newSession, session, header, now, limits); err != nil {
			return session, nil, err
		}
	}

	// Step 4: skip any messages still missing within the (possibly new)
	// current receiving chain, up to header.N.
	if newSession.ReceivingChainKey == nil {
		return session, nil, ErrReceivingChainUninitialized
	}
	skipCount := int(header.N) - int(newSession.ReceivingMsgNumber)
	if skipCount < 0 {
		// n < receivingMsgNumber with no matching skipped key: either a
		// replay or data corruption. Treat as a decrypt failure rather
		// than panicking on an out-of-range chain walk.
		return session, nil, fmt.Errorf("%w: message number %d already consumed", ErrDecryptFailure, header.N)
	}
	if skipCount > limits.MaxSkipPerMessage {
		return session, nil, ErrTooManySkipped
	}

	ck := *newSession.ReceivingChainKey
	var fresh []SkippedKey
	for n := newSession.ReceivingMsgNumber; n < header.N; n++ {
		nextCK, mk, err := kdf.ChainStep(ck[:])
		if err != nil {
			return session, nil, fmt.Errorf("ratchet: chain-skip step: %w", err)
		}
		var mkArr [32]byte
		copy(mkArr[:], mk)
		fresh = append(fresh, SkippedKey{DH: header.DH, N: n, MessageKey: mkArr, CreatedAt: now})
		copy(ck[:], nextCK)
	}
	for _, k := range fresh {
		newSession.SkippedKeys = addSkippedKey(newSession.SkippedKeys, k, limits.MaxStoredSkippedKeys)
	}

	// Step 5: decrypt the message itself.
	finalCK, messageKey, err := kdf.ChainStep(ck[:])
	if err != nil {
		return session, nil, fmt.Errorf("ratchet: final chain step: %w", err)
	}
	var mkArr [32]byte
	copy(mkArr[:], messageKey)

	plaintext, err := openMessage(mkArr, ciphertext)
	if err != nil {
		return session, nil, err
	}

	var nextCK [32]byte
	copy(nextCK[:], finalCK)
	newSession.ReceivingChainKey = &nextCK
	newSession.ReceivingMsgNumber = header.N + 1
	newSession.UpdatedAt = now
	newSession.SkippedKeys = pruneExpiredSkippedKeys(newSession.SkippedKeys, now, limits.MaxSkippedKeysAge)

	return newSession, plaintext, nil
}

// performDHStep implements spec.md §4.6 step 3: skip any remaining
// messages in the dying receiving chain, perform the two KDF_RK calls
// that advance the root key across the new DH value, generate a fresh
// local DH pair, and rotate the topic set.
func performDHStep(newSession *Session, original Session, header codec.Header, now time.Time, limits Limits) error {
	if original.ReceivingChainKey != nil {
		skipCount := int(header.PN) - int(original.ReceivingMsgNumber)
		if skipCount < 0 {
			skipCount = 0
		}
		if skipCount > limits.MaxSkipPerMessage {
			return ErrTooManySkipped
		}

		ck := *original.ReceivingChainKey
		for n := original.ReceivingMsgNumber; n < header.PN; n++ {
			nextCK, mk, err := kdf.ChainStep(ck[:])
			if err != nil {
				return fmt.Errorf("ratchet: dh-step chain skip: %w", err)
			}
			var mkArr [32]byte
			copy(mkArr[:], mk)
			newSession.SkippedKeys = addSkippedKey(
				newSession.SkippedKeys,
				SkippedKey{DH: original.DHTheirPublicKey, N: n, MessageKey: mkArr, CreatedAt: now},
				limits.MaxStoredSkippedKeys,
			)
			copy(ck[:], nextCK)
		}
	} else if header.PN > 0 {
		return ErrTooManySkipped
	}

	dhReceive, err := dhExchange(original.DHMy.PrivateKey(), header.DH)
	if err != nil {
		return fmt.Errorf("ratchet: dh-receive exchange: %w", err)
	}
	rootAfterReceive, receivingChainKey, err := kdf.RootStep(original.RootKey[:], dhReceive)
	if err != nil {
		return fmt.Errorf("ratchet: dh-step root step (receive): %w", err)
	}

	freshDH, err := exchange.NewECDH()
	if err != nil {
		return fmt.Errorf("ratchet: generating fresh dh pair: %w", err)
	}
	dhSend, err := dhExchange(freshDH.PrivateKey(), header.DH)
	if err != nil {
		return fmt.Errorf("ratchet: dh-send exchange: %w", err)
	}
	newRoot, sendingChainKey, err := kdf.RootStep(rootAfterReceive, dhSend)
	if err != nil {
		return fmt.Errorf("ratchet: dh-step root step (send): %w", err)
	}

	copy(newSession.RootKey[:], newRoot)
	var rck, sck [32]byte
	copy(rck[:], receivingChainKey)
	copy(sck[:], sendingChainKey)
	newSession.ReceivingChainKey = &rck
	newSession.SendingChainKey = &sck
	newSession.DHMy = freshDH
	newSession.DHTheirPublicKey = header.DH
	newSession.PreviousChainLength = original.SendingMsgNumber
	newSession.SendingMsgNumber = 0
	newSession.ReceivingMsgNumber = 0

	// Topic rotation (spec.md §4.6 step 3, §4.7, §9). Promote shifts the
	// pre-computed next pair into current, archives the old current
	// inbound topic with a grace-period expiry, and advances the epoch.
	// This is the only place topics are promoted: the session manager
	// reports a "next" topic match without promoting (pkg/topic).
	//
	// Bootstrap exception: a responder's very first DH step has no
	// pre-computed next pair (InitSessionAsResponder doesn't know the
	// initiator's fresh DH key yet), so Promote leaves current topics
	// unchanged; in that case the new current topics must be derived
	// directly from dhReceive, with directions swapped, mirroring the
	// value the peer derived for its own outbound/inbound pair.
	hadPrecomputedNext := original.Topics.NextInbound != nil
	newSession.Topics.Promote(now, limits.TopicTransitionWindow)

	salt := newSession.ConversationID
	if !hadPrecomputedNext {
		currentInbound, err := kdf.DeriveTopic(dhReceive, salt[:], kdf.DirectionOutbound)
		if err != nil {
			return fmt.Errorf("ratchet: deriving current inbound topic: %w", err)
		}
		currentOutbound, err := kdf.DeriveTopic(dhReceive, salt[:], kdf.DirectionInbound)
		if err != nil {
			return fmt.Errorf("ratchet: deriving current outbound topic: %w", err)
		}
		newSession.Topics.CurrentInbound = currentInbound
		newSession.Topics.CurrentOutbound = currentOutbound
	}

	nextOutbound, err := kdf.DeriveTopic(dhSend, salt[:], kdf.DirectionOutbound)
	if err != nil {
		return fmt.Errorf("ratchet: deriving next outbound topic: %w", err)
	}
	nextInbound, err := kdf.DeriveTopic(dhSend, salt[:], kdf.DirectionInbound)
	if err != nil {
		return fmt.Errorf("ratchet: deriving next inbound topic: %w", err)
	}
	newSession.Topics.SetNext(nextOutbound, nextInbound)

	return nil
}
