package handshake

import (
	"fmt"
	"time"

	"github.com/okrame/verbeth-sub002/pkg/events"
	"github.com/okrame/verbeth-sub002/pkg/kdf"
	"github.com/okrame/verbeth-sub002/pkg/ratchet"
)

// PendingHandshakes is the set of attempts an initiator is waiting on
// responses for, expected to be small (spec.md §4.9, §6.5). Add does not
// cap it; only Expire and a successful TryMatch remove attempts. It is
// not safe for concurrent use;
// callers serialize access the same way core.go serializes everything
// else per conversation.
type PendingHandshakes struct {
	attempts []PendingHandshake
}

func NewPendingHandshakes() *PendingHandshakes {
	return &PendingHandshakes{}
}

// Add registers a freshly begun attempt. eventHash is the hash of the
// Handshake event actually published for this attempt — known only
// once the transport has logged it, so it's supplied here rather than
// by Begin.
func (p *PendingHandshakes) Add(h PendingHandshake, eventHash [32]byte) {
	h.EventHash = eventHash
	p.attempts = append(p.attempts, h)
}

// Expire drops attempts older than maxAge, returning how many were
// removed.
func (p *PendingHandshakes) Expire(now time.Time, maxAge time.Duration) int {
	kept := p.attempts[:0]
	removed := 0
	for _, a := range p.attempts {
		if now.Sub(a.CreatedAt) > maxAge {
			removed++
			continue
		}
		kept = append(kept, a)
	}
	p.attempts = kept
	return removed
}

// Matched is the outcome of a successful TryMatch: the session the
// initiator side of the handshake produces, plus the attempt it
// consumed (removed from the pending set).
type Matched struct {
	Session ratchet.Session
	Attempt PendingHandshake
}

// TryMatch attempts the pending handshakes' (eSK, kemSK) against a
// single HandshakeResponse event and selects, in registration order, the
// first that yields a well-formed acknowledgment (spec.md §4.9).
//
// When the response carries a KEM ciphertext, every candidate is
// decapsulated and its ack checked — TryMatch never returns early on a
// decapsulation failure — so the cost is O(pending_handshakes)
// regardless of which attempt (if any) it belongs to. Without a KEM
// ciphertext, candidates after the first successful DH exchange get no
// exchange, and that first one is selected.
func (p *PendingHandshakes) TryMatch(responseData []byte, myAddress string) (Matched, bool, error) {
	responderEphemeral, ciphertext, encryptedAck, err := decodeResponseData(responseData)
	if err != nil {
		return Matched{}, false, fmt.Errorf("handshake: decoding response: %w", err)
	}

	matchIdx := -1
	var matchSecret []byte

	for i, a := range p.attempts {
		if len(ciphertext) == 0 {
			// Classical-only attempt: no KEM ciphertext to trial-decapsulate
			// against. A DH exchange always "succeeds" syntactically, so the
			// caller's topic/session bookkeeping is what actually confirms
			// the match; here we just record the first untried candidate.
			if matchIdx == -1 {
				if _, err := a.Ephemeral.Exchange(responderEphemeral[:]); err == nil {
					matchIdx = i
					matchSecret = nil
				}
			}
			continue
		}

		ssPQ, err := a.KEMPrivate.Scheme().Decapsulate(a.KEMPrivate, ciphertext)
		if err != nil {
			continue
		}
		if _, ok := openAck(ssPQ, encryptedAck); !ok {
			continue
		}
		if matchIdx == -1 {
			matchIdx = i
			matchSecret = ssPQ
		}
	}

	if matchIdx == -1 {
		return Matched{}, false, nil
	}

	attempt := p.attempts[matchIdx]
	p.attempts = append(p.attempts[:matchIdx], p.attempts[matchIdx+1:]...)

	session, err := buildInitiatorSession(attempt, responderEphemeral, matchSecret, myAddress)
	if err != nil {
		return Matched{}, false, err
	}

	return Matched{Session: session, Attempt: attempt}, true, nil
}

// deriveHandshakeTopics mirrors Accept's topic derivation from the
// initiator's side: the initiator's outbound topic is the responder's
// inbound topic and vice versa, so both peers agree on which topic
// carries traffic in which direction.
func deriveHandshakeTopics(eventHash [32]byte) (outbound, inbound [32]byte) {
	responderOutbound := events.Keccak256([]byte("handshake-outbound:"), eventHash[:])
	responderInbound := events.Keccak256([]byte("handshake-inbound:"), eventHash[:])
	return responderInbound, responderOutbound
}

func buildInitiatorSession(attempt PendingHandshake, responderEphemeral [32]byte, ssPQ []byte, myAddress string) (ratchet.Session, error) {
	dhSecret, err := attempt.Ephemeral.Exchange(responderEphemeral[:])
	if err != nil {
		return ratchet.Session{}, fmt.Errorf("handshake: recomputing initiator dh secret: %w", err)
	}

	// Fold the KEM shared secret in before InitSessionAsInitiator's own
	// first RootStep — the same point Accept mixes it in on the
	// responder side — so both sides' epoch-0 root and chain keys are
	// derived from the identical combined secret. Mixing it in
	// afterward (a second RootStep over just SendingChainKey) would
	// leave ReceivingChainKey stuck at the pre-mix value and put the
	// two sides' chains a RootStep apart from each other.
	sharedSecret := kdf.CombineSecrets(dhSecret, ssPQ)

	handshakeOutbound, handshakeInbound := deriveHandshakeTopics(attempt.EventHash)

	session, err := ratchet.InitSessionAsInitiator(sharedSecret, responderEphemeral, myAddress, attempt.RecipientAddress, handshakeOutbound, handshakeInbound)
	if err != nil {
		return ratchet.Session{}, fmt.Errorf("handshake: initializing initiator session: %w", err)
	}

	return session, nil
}
