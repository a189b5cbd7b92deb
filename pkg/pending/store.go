package pending

import (
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	recordsBucket     = "pending_records"
	idxConversationBkt = "idx_pending_conversation"
	idxTxHashBkt        = "idx_pending_txhash"
)

// Store persists pending records keyed by id, with secondary indexes on
// conversationId and txHash (spec.md §6.3: "secondary indexes on
// conversationId and txHash").
type Store interface {
	Get(id string) (Record, error)
	GetByTxHash(txHash string) (Record, error)
	ListByConversation(conversationID [32]byte) ([]Record, error)
	Save(r Record) error
	Delete(id string) error
	Close() error
}

// BoltStore is a Store backed by bbolt, following the same
// bucket-per-index convention as pkg/session.BoltStore.
type BoltStore struct {
	db *bolt.DB
}

func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("pending: opening db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{recordsBucket, idxConversationBkt, idxTxHashBkt} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("creating %s bucket: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("pending: initializing buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func (st *BoltStore) Close() error {
	return st.db.Close()
}

func (st *BoltStore) Get(id string) (Record, error) {
	var data []byte
	err := st.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(recordsBucket)).Get([]byte(id))
		if v == nil {
			return ErrNotFound
		}
		data = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return Record{}, err
	}
	return DecodeRecord(data)
}

func (st *BoltStore) GetByTxHash(txHash string) (Record, error) {
	var id []byte
	err := st.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(idxTxHashBkt)).Get([]byte(txHash))
		if v == nil {
			return ErrNotFound
		}
		id = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return Record{}, err
	}
	return st.Get(string(id))
}

// ListByConversation returns every pending record for conversationID,
// used to recover in-flight sends after a crash (spec.md §4.8
// rationale).
func (st *BoltStore) ListByConversation(conversationID [32]byte) ([]Record, error) {
	var ids [][]byte
	err := st.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(idxConversationBkt)).Get(conversationID[:])
		if v == nil {
			return nil
		}
		ids = splitIDs(v)
		return nil
	})
	if err != nil {
		return nil, err
	}

	records := make([]Record, 0, len(ids))
	for _, id := range ids {
		r, err := st.Get(string(id))
		if err != nil {
			continue // record already finalized/deleted; index cleanup is lazy
		}
		records = append(records, r)
	}
	return records, nil
}

// Save persists r and updates its secondary index entries in the same
// transaction.
func (st *BoltStore) Save(r Record) error {
	data, err := EncodeRecord(r)
	if err != nil {
		return fmt.Errorf("pending: encoding record: %w", err)
	}

	return st.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket([]byte(recordsBucket)).Put([]byte(r.ID), data); err != nil {
			return fmt.Errorf("putting pending record: %w", err)
		}

		convBucket := tx.Bucket([]byte(idxConversationBkt))
		existing := convBucket.Get(r.ConversationID[:])
		ids := appendIDUnique(splitIDs(existing), []byte(r.ID))
		if err := convBucket.Put(r.ConversationID[:], joinIDs(ids)); err != nil {
			return fmt.Errorf("updating conversation index: %w", err)
		}

		if r.TxHash != "" {
			txBucket := tx.Bucket([]byte(idxTxHashBkt))
			if err := txBucket.Put([]byte(r.TxHash), []byte(r.ID)); err != nil {
				return fmt.Errorf("updating txHash index: %w", err)
			}
		}
		return nil
	})
}

// Delete removes r's record and its index entries (spec.md §4.8 step 5,
// "finalize (delete the pending record)").
func (st *BoltStore) Delete(id string) error {
	r, err := st.Get(id)
	if err != nil {
		return err
	}

	return st.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket([]byte(recordsBucket)).Delete([]byte(id)); err != nil {
			return fmt.Errorf("deleting pending record: %w", err)
		}

		convBucket := tx.Bucket([]byte(idxConversationBkt))
		existing := convBucket.Get(r.ConversationID[:])
		remaining := removeID(splitIDs(existing), []byte(id))
		if len(remaining) == 0 {
			if err := convBucket.Delete(r.ConversationID[:]); err != nil {
				return fmt.Errorf("clearing conversation index: %w", err)
			}
		} else if err := convBucket.Put(r.ConversationID[:], joinIDs(remaining)); err != nil {
			return fmt.Errorf("updating conversation index: %w", err)
		}

		if r.TxHash != "" {
			if err := tx.Bucket([]byte(idxTxHashBkt)).Delete([]byte(r.TxHash)); err != nil {
				return fmt.Errorf("clearing txHash index: %w", err)
			}
		}
		return nil
	})
}

// splitIDs/joinIDs encode a set of uuid strings (fixed 36 bytes each,
// no separator needed) into the conversation index's value.
const uuidLen = 36

func splitIDs(data []byte) [][]byte {
	var out [][]byte
	for i := 0; i+uuidLen <= len(data); i += uuidLen {
		out = append(out, data[i:i+uuidLen])
	}
	return out
}

func joinIDs(ids [][]byte) []byte {
	out := make([]byte, 0, len(ids)*uuidLen)
	for _, id := range ids {
		out = append(out, id...)
	}
	return out
}

func appendIDUnique(ids [][]byte, id []byte) [][]byte {
	for _, existing := range ids {
		if string(existing) == string(id) {
			return ids
		}
	}
	return append(ids, id)
}

func removeID(ids [][]byte, id []byte) [][]byte {
	out := make([][]byte, 0, len(ids))
	for _, existing := range ids {
		if string(existing) != string(id) {
			out = append(out, existing)
		}
	}
	return out
}
