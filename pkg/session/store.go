package session

import (
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/okrame/verbeth-sub002/pkg/ratchet"
	"github.com/okrame/verbeth-sub002/pkg/topic"
)

const (
	sessionsBucket  = "sessions"
	idxCurrentBkt   = "idx_topic_current"
	idxNextBkt      = "idx_topic_next"
	idxPreviousBkt  = "idx_topic_previous"
)

var (
	// ErrNotFound is returned when a conversation id or topic has no
	// matching stored session.
	ErrNotFound = errors.New("session: not found")
)

// Store persists ratchet sessions keyed by conversation id, maintaining
// the three topic secondary indexes spec.md §9 requires ("index(topic →
// conversationId) table updated atomically with each session save").
type Store interface {
	Get(conversationID [32]byte) (ratchet.Session, error)
	GetByInboundTopic(t [32]byte, now time.Time) (ratchet.Session, topic.Match, error)
	Save(s ratchet.Session) error
	Delete(conversationID [32]byte) error
	Close() error
}

// BoltStore is a Store backed by a single bbolt database file, grounded
// on the teacher's pkg/store/store.go bucket-per-concern layout.
type BoltStore struct {
	db *bolt.DB
}

// OpenBoltStore opens (creating if necessary) a bbolt database at path
// with the buckets this package needs.
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("session: opening db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{sessionsBucket, idxCurrentBkt, idxNextBkt, idxPreviousBkt} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("creating %s bucket: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("session: initializing buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func (st *BoltStore) Close() error {
	return st.db.Close()
}

func (st *BoltStore) Get(conversationID [32]byte) (ratchet.Session, error) {
	var record []byte
	err := st.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(sessionsBucket)).Get(conversationID[:])
		if v == nil {
			return ErrNotFound
		}
		record = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return ratchet.Session{}, err
	}
	return DecodeRecord(record)
}

// GetByInboundTopic looks up the session whose topic set claims t as
// current, next, or previous (within its grace window), via the
// secondary indexes. It does not mutate the session or the indexes —
// the caller (Manager) decides whether and how to promote.
func (st *BoltStore) GetByInboundTopic(t [32]byte, now time.Time) (ratchet.Session, topic.Match, error) {
	var convID []byte
	var match topic.Match

	err := st.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket([]byte(idxCurrentBkt)).Get(t[:]); v != nil {
			convID = append([]byte(nil), v...)
			match = topic.MatchCurrent
			return nil
		}
		if v := tx.Bucket([]byte(idxNextBkt)).Get(t[:]); v != nil {
			convID = append([]byte(nil), v...)
			match = topic.MatchNext
			return nil
		}
		if v := tx.Bucket([]byte(idxPreviousBkt)).Get(t[:]); v != nil {
			convID = append([]byte(nil), v...)
			match = topic.MatchPrevious
			return nil
		}
		return ErrNotFound
	})
	if err != nil {
		return ratchet.Session{}, topic.MatchNone, err
	}

	var conversationID [32]byte
	copy(conversationID[:], convID)
	s, err := st.Get(conversationID)
	if err != nil {
		return ratchet.Session{}, topic.MatchNone, err
	}

	if match == topic.MatchPrevious && (s.Topics.PreviousInbound == nil || now.After(s.Topics.PreviousExpiry)) {
		return ratchet.Session{}, topic.MatchNone, ErrNotFound
	}

	return s, match, nil
}

// Save persists s and rewrites its topic index entries in the same
// transaction, so a crash between the two can never leave the index
// pointing at a topic the primary record no longer claims.
func (st *BoltStore) Save(s ratchet.Session) error {
	record, err := EncodeRecord(s)
	if err != nil {
		return fmt.Errorf("session: encoding record: %w", err)
	}

	return st.db.Update(func(tx *bolt.Tx) error {
		sessions := tx.Bucket([]byte(sessionsBucket))
		current := tx.Bucket([]byte(idxCurrentBkt))
		next := tx.Bucket([]byte(idxNextBkt))
		previous := tx.Bucket([]byte(idxPreviousBkt))

		// Drop the index entries of the record being replaced, so a topic
		// it no longer claims stops resolving to this conversation.
		if old := sessions.Get(s.ConversationID[:]); old != nil {
			prev, err := DecodeRecord(old)
			if err != nil {
				return fmt.Errorf("decoding replaced session record: %w", err)
			}
			stale := []*[32]byte{&prev.Topics.CurrentInbound, prev.Topics.NextInbound, prev.Topics.PreviousInbound}
			for i, bucket := range []*bolt.Bucket{current, next, previous} {
				if stale[i] != nil {
					if err := bucket.Delete(stale[i][:]); err != nil {
						return fmt.Errorf("removing stale topic index entry: %w", err)
					}
				}
			}
		}

		if err := sessions.Put(s.ConversationID[:], record); err != nil {
			return fmt.Errorf("putting session record: %w", err)
		}

		if err := reindexTopic(current, s.ConversationID, s.Topics.CurrentInbound); err != nil {
			return err
		}
		if s.Topics.NextInbound != nil {
			if err := reindexTopic(next, s.ConversationID, *s.Topics.NextInbound); err != nil {
				return err
			}
		}
		if s.Topics.PreviousInbound != nil {
			if err := reindexTopic(previous, s.ConversationID, *s.Topics.PreviousInbound); err != nil {
				return err
			}
		}
		return nil
	})
}

func reindexTopic(bucket *bolt.Bucket, conversationID, t [32]byte) error {
	return bucket.Put(t[:], conversationID[:])
}

func (st *BoltStore) Delete(conversationID [32]byte) error {
	return st.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(sessionsBucket)).Delete(conversationID[:])
	})
}
