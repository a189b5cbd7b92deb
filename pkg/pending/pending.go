// Package pending implements the two-phase commit record for outbound
// sends described in spec.md §3.2, §4.8: persist the intent to send
// before committing the ratchet slot, so a crash between encrypting and
// transmitting is recoverable instead of silently losing the message or
// the ratchet state.
package pending

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/okrame/verbeth-sub002/pkg/ratchet"
)

// Status is the pending record's lifecycle stage (spec.md §3.2).
type Status string

const (
	StatusPreparing Status = "preparing"
	StatusSubmitted Status = "submitted"
	StatusFailed    Status = "failed"
)

var (
	// ErrNotFound is returned when an id or txHash has no matching record.
	ErrNotFound = errors.New("pending: not found")

	// ErrInvalidTransition is returned when a status change doesn't
	// follow preparing -> {submitted, failed}.
	ErrInvalidTransition = errors.New("pending: invalid status transition")
)

// Record is one outbound message's two-phase commit state.
type Record struct {
	ID                 string
	ConversationID      [32]byte
	Topic               [32]byte
	Payload             []byte
	Plaintext           []byte
	SessionStateBefore  ratchet.Session
	SessionStateAfter   ratchet.Session
	CreatedAt           time.Time
	TxHash              string // empty until Status == StatusSubmitted
	Status              Status
}

// NewRecord builds a fresh preparing-state record with a random id,
// following spec.md §4.8 step 2. sessionBefore/sessionAfter are the
// ratchet.Session values as they stood immediately before and after the
// Encrypt call that produced payload.
func NewRecord(conversationID, topic [32]byte, payload, plaintext []byte, sessionBefore, sessionAfter ratchet.Session) Record {
	return Record{
		ID:                 uuid.NewString(),
		ConversationID:     conversationID,
		Topic:              topic,
		Payload:            payload,
		Plaintext:          plaintext,
		SessionStateBefore: sessionBefore,
		SessionStateAfter:  sessionAfter,
		CreatedAt:          time.Now(),
		Status:             StatusPreparing,
	}
}
