package verbeth

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ed25519"

	"github.com/okrame/verbeth-sub002/pkg/events"
	"github.com/okrame/verbeth-sub002/pkg/handshake"
	"github.com/okrame/verbeth-sub002/pkg/pending"
	"github.com/okrame/verbeth-sub002/pkg/ratchet"
	"github.com/okrame/verbeth-sub002/pkg/session"
)

func newTestEngine(t *testing.T, signSK ed25519.PrivateKey) *Engine {
	t.Helper()
	sessStore, err := session.OpenBoltStore(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sessStore.Close() })

	pendStore, err := pending.OpenBoltStore(filepath.Join(t.TempDir(), "pending.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = pendStore.Close() })

	sessMgr := session.NewManager(sessStore, 5*time.Minute, nil)
	pendMgr := pending.NewManager(pendStore, nil)

	return NewEngine(sessMgr, pendMgr, ratchet.DefaultLimits(), signSK, nil)
}

// TestSendHandleInboundRoundTrip drives a full handshake with
// pkg/handshake, wires each side's resulting session into its own
// Engine, then exercises one Send/HandleInbound round trip in each
// direction.
func TestSendHandleInboundRoundTrip(t *testing.T) {
	initIDPub, initIDSK, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	respSigPub, respSigSK, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	initSigPub, initSigSK, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	const respAddr, initAddr = "0xresponder", "0xinitiator"

	begun, err := handshake.Begin(respAddr, initIDPub, initIDSK)
	require.NoError(t, err)

	var eventHash [32]byte
	eventHash[0] = 0x42

	evt, err := handshake.ParseHandshakeEvent(begun.Topic1, begun.Data, 1, 0)
	require.NoError(t, err)

	accepted, err := handshake.Accept(evt, eventHash, respAddr)
	require.NoError(t, err)

	pendingSet := handshake.NewPendingHandshakes()
	pendingSet.Add(begun.Pending, eventHash)
	matched, ok, err := pendingSet.TryMatch(accepted.Data, initAddr)
	require.NoError(t, err)
	require.True(t, ok)

	initEngine := newTestEngine(t, initSigSK)
	respEngine := newTestEngine(t, respSigSK)

	require.NoError(t, initEngine.sessions.Save(matched.Session))
	require.NoError(t, respEngine.sessions.Save(accepted.Session))

	var lastTopic [32]byte
	var lastPayload []byte
	submit := func(_ context.Context, topic [32]byte, payload []byte) (string, error) {
		lastTopic = topic
		lastPayload = payload
		return "0xtxhash1", nil
	}

	rec, err := initEngine.Send(context.Background(), matched.Session.ConversationID, []byte("hello"), submit)
	require.NoError(t, err)
	assert.Equal(t, pending.StatusSubmitted, rec.Status)

	msg := events.MessageSent{ConversationTopic: lastTopic, Payload: lastPayload}
	plaintext, err := respEngine.HandleInbound(msg, initSigPub)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), plaintext)

	require.NoError(t, initEngine.Confirm("0xtxhash1"))

	submit2 := func(_ context.Context, topic [32]byte, payload []byte) (string, error) {
		lastTopic = topic
		lastPayload = payload
		return "0xtxhash2", nil
	}
	rec2, err := respEngine.Send(context.Background(), accepted.Session.ConversationID, []byte("hi"), submit2)
	require.NoError(t, err)
	assert.Equal(t, pending.StatusSubmitted, rec2.Status)

	msg2 := events.MessageSent{ConversationTopic: lastTopic, Payload: lastPayload}
	plaintext2, err := initEngine.HandleInbound(msg2, respSigPub)
	require.NoError(t, err)
	assert.Equal(t, []byte("hi"), plaintext2)
}

func TestSendUnknownSession(t *testing.T) {
	_, signSK, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	engine := newTestEngine(t, signSK)

	submit := func(context.Context, [32]byte, []byte) (string, error) { return "", nil }
	var convID [32]byte
	_, err = engine.Send(context.Background(), convID, []byte("x"), submit)
	assert.ErrorIs(t, err, ErrUnknownSession)
}

func TestIdentityFingerprintStable(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	a := IdentityFingerprint(pub)
	b := IdentityFingerprint(pub)
	assert.Equal(t, a, b)
	assert.Len(t, a, 8)
}
