package session

import (
	"encoding/hex"
	"log/slog"
	"sync"
	"time"

	"github.com/okrame/verbeth-sub002/pkg/ratchet"
	"github.com/okrame/verbeth-sub002/pkg/topic"
)

// Manager wraps a Store with an in-memory read-through cache. Topic
// promotion itself (spec.md §4.7: current archived to previous, next
// promoted to current) happens in ratchet.Decrypt's performDHStep once
// decryption actually succeeds — GetByInboundTopic only locates the
// session and reports which topic slot matched.
//
// Grounded on the teacher's session.go HandshakeTracker: a
// sync.RWMutex-guarded map keyed by a stable identifier, generalized
// from handshake state to full ratchet sessions backed by a durable
// store.
type Manager struct {
	store Store
	log   *slog.Logger

	mu    sync.RWMutex
	cache map[[32]byte]ratchet.Session

	graceWindow time.Duration
}

// NewManager wraps store with a cache. graceWindow is stored on the
// Manager but read by none of its methods; the grace window applied on
// promotion is ratchet.Limits.TopicTransitionWindow. A nil logger
// defaults to slog.Default().
func NewManager(store Store, graceWindow time.Duration, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:       store,
		log:         logger,
		cache:       make(map[[32]byte]ratchet.Session),
		graceWindow: graceWindow,
	}
}

// Get returns the session for conversationID, preferring the cache.
func (m *Manager) Get(conversationID [32]byte) (ratchet.Session, error) {
	m.mu.RLock()
	if s, ok := m.cache[conversationID]; ok {
		m.mu.RUnlock()
		return s, nil
	}
	m.mu.RUnlock()

	s, err := m.store.Get(conversationID)
	if err != nil {
		return ratchet.Session{}, err
	}

	m.mu.Lock()
	m.cache[conversationID] = s
	m.mu.Unlock()
	return s, nil
}

// GetByInboundTopic locates the session an inbound event's topic
// belongs to and reports the match kind. It does not itself promote
// the topic set on a MatchNext result: a "next"-topic arrival always
// carries a new DH public key, so ratchet.Decrypt's performDHStep is
// the sole site that advances Topics — promoting here too would
// double the epoch advance for the same inbound message (spec.md
// §4.6/§4.7 describe one advance per DH-triggering reply).
func (m *Manager) GetByInboundTopic(t [32]byte) (ratchet.Session, topic.Match, error) {
	s, match, err := m.store.GetByInboundTopic(t, time.Now())
	if err != nil {
		return ratchet.Session{}, topic.MatchNone, err
	}
	return s, match, nil
}

// Save persists s to both the durable store and the cache.
func (m *Manager) Save(s ratchet.Session) error {
	if err := m.store.Save(s); err != nil {
		return err
	}
	m.mu.Lock()
	m.cache[s.ConversationID] = s
	m.mu.Unlock()
	return nil
}

// Delete removes a session from both the store and the cache.
func (m *Manager) Delete(conversationID [32]byte) error {
	if err := m.store.Delete(conversationID); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.cache, conversationID)
	m.mu.Unlock()
	return nil
}

// Close closes the underlying store.
func (m *Manager) Close() error {
	return m.store.Close()
}

func hexPrefix(id [32]byte) string {
	return hex.EncodeToString(id[:8])
}
