package verbeth

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/crypto/ed25519"

	"github.com/okrame/verbeth-sub002/internal/convlock"
	"github.com/okrame/verbeth-sub002/pkg/codec"
	"github.com/okrame/verbeth-sub002/pkg/events"
	"github.com/okrame/verbeth-sub002/pkg/fingerprint"
	"github.com/okrame/verbeth-sub002/pkg/pending"
	"github.com/okrame/verbeth-sub002/pkg/ratchet"
	"github.com/okrame/verbeth-sub002/pkg/session"
)

// Sentinel errors, one per failure kind of spec.md §7. Engine methods
// return one of these, either bare or wrapped with %w; the error from
// whichever pkg/ package detected the failure is included only as text,
// so errors.Is matches the core-level sentinel, not the package-level one.
var (
	ErrInvalidFormat    = errors.New("verbeth: invalid message format")
	ErrInvalidSignature = errors.New("verbeth: invalid signature")
	ErrUnknownSession   = errors.New("verbeth: unknown session")
	ErrTooManySkipped   = errors.New("verbeth: too many skipped messages")
	ErrDecryptFailure   = errors.New("verbeth: decryption failed")
	ErrStoreUnavailable = errors.New("verbeth: store unavailable")
	ErrSendFailed       = errors.New("verbeth: send failed")
)

// TxSubmitFunc hands a ciphertext payload to the transport under topic
// and returns the transaction hash that will later confirm it.
type TxSubmitFunc func(ctx context.Context, topic [32]byte, payload []byte) (txHash string, err error)

// Engine wires pkg/ratchet, pkg/session, and pkg/pending behind the
// two-phase commit send path (spec.md §4.8) and the inbound event
// dispatcher (spec.md §4.6, §5), serializing both per conversation id.
type Engine struct {
	sessions *session.Manager
	pendingM *pending.Manager
	limits   ratchet.Limits
	signSK   ed25519.PrivateKey
	log      *slog.Logger
	locks    *convlock.Table
}

// NewEngine builds an Engine. signSK authenticates every message this
// side sends. A nil logger defaults to slog.Default().
func NewEngine(sessions *session.Manager, pendingMgr *pending.Manager, limits ratchet.Limits, signSK ed25519.PrivateKey, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		sessions: sessions,
		pendingM: pendingMgr,
		limits:   limits,
		signSK:   signSK,
		log:      logger,
		locks:    convlock.New(),
	}
}

// Send implements spec.md §4.8's two-phase commit: encrypt, persist a
// preparing pending record, commit the new ratchet state, submit to the
// transport, then mark the pending record submitted or failed. A crash
// between any two steps leaves state Recover can reconcile.
func (e *Engine) Send(ctx context.Context, conversationID [32]byte, plaintext []byte, submit TxSubmitFunc) (pending.Record, error) {
	unlock := e.locks.Lock(conversationID)
	defer unlock()

	before, err := e.sessions.Get(conversationID)
	if err != nil {
		return pending.Record{}, fmt.Errorf("%w: %s", ErrUnknownSession, err)
	}

	enc, err := ratchet.Encrypt(before, plaintext, e.signSK)
	if err != nil {
		return pending.Record{}, fmt.Errorf("verbeth: encrypting: %w", err)
	}

	payload, err := codec.Package(enc.Signature, enc.Header, enc.Ciphertext)
	if err != nil {
		return pending.Record{}, fmt.Errorf("%w: %s", ErrInvalidFormat, err)
	}

	rec, err := e.pendingM.Prepare(conversationID, enc.Topic, payload, plaintext, before, enc.Session)
	if err != nil {
		return pending.Record{}, fmt.Errorf("%w: %s", ErrStoreUnavailable, err)
	}

	// The pending record is durable before the ratchet slot is committed,
	// so a crash here leaves a recoverable preparing record rather than a
	// burned slot with nothing sent.
	if err := e.sessions.Save(enc.Session); err != nil {
		return pending.Record{}, fmt.Errorf("%w: %s", ErrStoreUnavailable, err)
	}

	txHash, err := submit(ctx, enc.Topic, payload)
	if err != nil {
		if markErr := e.pendingM.MarkFailed(rec.ID); markErr != nil {
			e.log.Error("marking send failed after submit error",
				slog.String("pending_id", rec.ID), slog.Any("error", markErr))
		}
		return pending.Record{}, fmt.Errorf("%w: %s", ErrSendFailed, err)
	}

	if err := e.pendingM.MarkSubmitted(rec.ID, txHash); err != nil {
		return pending.Record{}, fmt.Errorf("%w: %s", ErrStoreUnavailable, err)
	}
	rec.Status = pending.StatusSubmitted
	rec.TxHash = txHash

	e.log.Debug("message sent",
		slog.String("conversation_id", hexPrefix(conversationID)),
		slog.String("tx_hash", txHash))
	return rec, nil
}

// Confirm finalizes a pending record once the transport's log confirms
// it (spec.md §4.8 step 5).
func (e *Engine) Confirm(txHash string) error {
	if err := e.pendingM.Finalize(txHash); err != nil {
		return fmt.Errorf("%w: %s", ErrStoreUnavailable, err)
	}
	return nil
}

// HandleInbound dispatches an inbound MessageSent event: locates the
// session by the event's topic, verifies and decrypts it, and persists
// the resulting session only on success (spec.md §4.6, §5).
func (e *Engine) HandleInbound(msg events.MessageSent, verifyKey ed25519.PublicKey) ([]byte, error) {
	s, _, err := e.sessions.GetByInboundTopic(msg.ConversationTopic)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, ErrUnknownSession
		}
		return nil, fmt.Errorf("%w: %s", ErrStoreUnavailable, err)
	}

	unlock := e.locks.Lock(s.ConversationID)
	defer unlock()

	sig, header, ciphertext, err := codec.Parse(msg.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidFormat, err)
	}

	newSession, plaintext, err := ratchet.Decrypt(s, header, ciphertext, sig, verifyKey, e.limits)
	switch {
	case errors.Is(err, ratchet.ErrInvalidSignature):
		e.log.Warn("dropped inbound message: invalid signature",
			slog.String("conversation_id", hexPrefix(s.ConversationID)))
		return nil, ErrInvalidSignature
	case errors.Is(err, ratchet.ErrTooManySkipped):
		e.log.Warn("dropped inbound message: too many skipped",
			slog.String("conversation_id", hexPrefix(s.ConversationID)))
		return nil, ErrTooManySkipped
	case err != nil:
		return nil, fmt.Errorf("%w: %s", ErrDecryptFailure, err)
	}

	if err := e.sessions.Save(newSession); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrStoreUnavailable, err)
	}

	e.log.Debug("message received", slog.String("conversation_id", hexPrefix(s.ConversationID)))
	return plaintext, nil
}

func hexPrefix(id [32]byte) string {
	return hex.EncodeToString(id[:8])
}

// IdentityFingerprint renders an identity public key as an 8-emoji
// sequence, so two peers can compare it over a side channel before
// trusting a handshake's binding proof.
func IdentityFingerprint(identityPub ed25519.PublicKey) []string {
	return fingerprint.Emoji(identityPub)
}
