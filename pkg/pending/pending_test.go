package pending

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okrame/verbeth-sub002/pkg/exchange"
	"github.com/okrame/verbeth-sub002/pkg/ratchet"
)

func openTestStore(t *testing.T) *BoltStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pending.db")
	st, err := OpenBoltStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func sampleSessionPair(t *testing.T) (ratchet.Session, ratchet.Session) {
	t.Helper()
	dh, err := exchange.NewECDH()
	require.NoError(t, err)
	before := ratchet.Session{DHMy: dh}
	after := before
	after.SendingMsgNumber = 1
	return before, after
}

func TestPrepareSubmitFinalize(t *testing.T) {
	st := openTestStore(t)
	mgr := NewManager(st, nil)
	before, after := sampleSessionPair(t)

	var convID, topic [32]byte
	convID[0] = 1
	topic[0] = 2

	r, err := mgr.Prepare(convID, topic, []byte("ciphertext"), []byte("hi"), before, after)
	require.NoError(t, err)
	assert.Equal(t, StatusPreparing, r.Status)

	require.NoError(t, mgr.MarkSubmitted(r.ID, "0xtxhash"))

	got, err := st.Get(r.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSubmitted, got.Status)
	assert.Equal(t, "0xtxhash", got.TxHash)

	require.NoError(t, mgr.Finalize("0xtxhash"))
	_, err = st.Get(r.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMarkFailed(t *testing.T) {
	st := openTestStore(t)
	mgr := NewManager(st, nil)
	before, after := sampleSessionPair(t)

	var convID, topic [32]byte
	r, err := mgr.Prepare(convID, topic, []byte("ct"), []byte("pt"), before, after)
	require.NoError(t, err)

	require.NoError(t, mgr.MarkFailed(r.ID))
	got, err := st.Get(r.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)

	err = mgr.MarkSubmitted(r.ID, "0xtx")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestRecoverMarksOrphanedPreparingAsFailed(t *testing.T) {
	st := openTestStore(t)
	mgr := NewManager(st, nil)
	before, after := sampleSessionPair(t)

	var convID, topic [32]byte
	convID[0] = 7
	_, err := mgr.Prepare(convID, topic, []byte("ct"), []byte("pt"), before, after)
	require.NoError(t, err)

	records, err := mgr.Recover(convID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, StatusFailed, records[0].Status)
}
