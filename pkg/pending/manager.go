package pending

import (
	"fmt"
	"log/slog"

	"github.com/okrame/verbeth-sub002/pkg/ratchet"
)

// Manager drives the five-step two-phase commit protocol of spec.md
// §4.8. Step 1 (encrypt) and step 3 (commit the ratchet slot to the
// session store) happen outside this package — Prepare corresponds to
// step 2, MarkSubmitted/MarkFailed to step 4, and Finalize to step 5.
type Manager struct {
	store Store
	log   *slog.Logger
}

// NewManager wraps store. A nil logger defaults to slog.Default().
func NewManager(store Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: store, log: logger}
}

// Prepare persists a new preparing-status record (spec.md §4.8 step 2).
// The caller must call this BEFORE saving sessionAfter to the session
// store, so a crash leaves a recoverable pending record rather than a
// committed ratchet slot with no trace of what was sent.
func (m *Manager) Prepare(conversationID, topic [32]byte, payload, plaintext []byte, sessionBefore, sessionAfter ratchet.Session) (Record, error) {
	r := NewRecord(conversationID, topic, payload, plaintext, sessionBefore, sessionAfter)
	if err := m.store.Save(r); err != nil {
		return Record{}, fmt.Errorf("pending: preparing record: %w", err)
	}
	return r, nil
}

// MarkSubmitted transitions a preparing record to submitted with the
// transport's returned transaction hash (spec.md §4.8 step 4, success
// branch).
func (m *Manager) MarkSubmitted(id, txHash string) error {
	r, err := m.store.Get(id)
	if err != nil {
		return err
	}
	if r.Status != StatusPreparing {
		return fmt.Errorf("%w: record %s is %s, not preparing", ErrInvalidTransition, id, r.Status)
	}
	r.Status = StatusSubmitted
	r.TxHash = txHash
	return m.store.Save(r)
}

// MarkFailed transitions a preparing record to failed (spec.md §4.8 step
// 4, failure branch). The ratchet slot was already committed in step 3
// and is never reused — this only affects UI-facing delivery status.
func (m *Manager) MarkFailed(id string) error {
	r, err := m.store.Get(id)
	if err != nil {
		return err
	}
	if r.Status != StatusPreparing {
		return fmt.Errorf("%w: record %s is %s, not preparing", ErrInvalidTransition, id, r.Status)
	}
	r.Status = StatusFailed
	m.log.Warn("marking pending send as failed", slog.String("pending_id", id))
	return m.store.Save(r)
}

// Finalize deletes a submitted record once the log scanner observes its
// confirmation event (spec.md §4.8 step 5).
func (m *Manager) Finalize(txHash string) error {
	r, err := m.store.GetByTxHash(txHash)
	if err != nil {
		return err
	}
	return m.store.Delete(r.ID)
}

// Recover lists every still-pending record for a conversation, for
// reconciling after a process restart: failed records surface as
// failed-to-send in the UI, and preparing records whose ratchet slot
// was already committed (crash between steps 3 and 4) are marked failed
// here rather than retried, since the ciphertext was never guaranteed
// to reach the transport.
func (m *Manager) Recover(conversationID [32]byte) ([]Record, error) {
	records, err := m.store.ListByConversation(conversationID)
	if err != nil {
		return nil, fmt.Errorf("pending: listing conversation records: %w", err)
	}
	for i, r := range records {
		if r.Status == StatusPreparing {
			r.Status = StatusFailed
			if err := m.store.Save(r); err != nil {
				return nil, fmt.Errorf("pending: marking orphaned record failed: %w", err)
			}
			m.log.Warn("recovered orphaned preparing record as failed",
				slog.String("pending_id", r.ID),
				slog.String("conversation_id", fmt.Sprintf("%x", conversationID[:8])))
			records[i] = r
		}
	}
	return records, nil
}
