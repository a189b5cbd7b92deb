package main

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ed25519"

	verbeth "github.com/okrame/verbeth-sub002"
	"github.com/okrame/verbeth-sub002/pkg/handshake"
	"github.com/okrame/verbeth-sub002/pkg/pending"
	"github.com/okrame/verbeth-sub002/pkg/ratchet"
	"github.com/okrame/verbeth-sub002/pkg/session"
)

func newTestDaemonEngine(t *testing.T) (*verbeth.Engine, [32]byte) {
	t.Helper()
	identityPub, identitySK, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	_, sigSK, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	const respAddr = "0xresponder"
	begun, err := handshake.Begin(respAddr, identityPub, identitySK)
	require.NoError(t, err)

	var eventHash [32]byte
	eventHash[0] = 7
	evt, err := handshake.ParseHandshakeEvent(begun.Topic1, begun.Data, 1, 0)
	require.NoError(t, err)
	accepted, err := handshake.Accept(evt, eventHash, respAddr)
	require.NoError(t, err)

	sessStore, err := session.OpenBoltStore(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sessStore.Close() })
	pendStore, err := pending.OpenBoltStore(filepath.Join(t.TempDir(), "pending.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = pendStore.Close() })

	sessions := session.NewManager(sessStore, 5*time.Minute, nil)
	pendingM := pending.NewManager(pendStore, nil)
	require.NoError(t, sessions.Save(accepted.Session))

	engine := verbeth.NewEngine(sessions, pendingM, ratchet.DefaultLimits(), sigSK, nil)
	return engine, accepted.Session.ConversationID
}

func TestRunHandlesSend(t *testing.T) {
	engine, convID := newTestDaemonEngine(t)

	cmd := Command{
		Cmd: CmdSend,
		ID:  "1",
		Params: mustJSON(t, sendParams{
			ConversationID: hex.EncodeToString(convID[:]),
			PlaintextB64:   b64([]byte("hello")),
		}),
	}
	line, err := json.Marshal(cmd)
	require.NoError(t, err)

	var out bytes.Buffer
	in := bytes.NewReader(append(line, '\n'))
	run(in, &out, engine, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))

	events := readEvents(t, &out)
	require.Len(t, events, 2) // ready, sent
	assert.Equal(t, EvtReady, events[0].Evt)
	assert.Equal(t, EvtSent, events[1].Evt)
	assert.Equal(t, "1", events[1].ID)
}

func TestRunRejectsUnknownCommand(t *testing.T) {
	engine, _ := newTestDaemonEngine(t)

	line := []byte(`{"cmd":"bogus","id":"9"}` + "\n")
	var out bytes.Buffer
	run(bytes.NewReader(line), &out, engine, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))

	events := readEvents(t, &out)
	require.Len(t, events, 2)
	assert.Equal(t, EvtError, events[1].Evt)
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func readEvents(t *testing.T, buf *bytes.Buffer) []Event {
	t.Helper()
	var out []Event
	sc := bufio.NewScanner(buf)
	for sc.Scan() {
		var e Event
		require.NoError(t, json.Unmarshal(sc.Bytes(), &e))
		out = append(out, e)
	}
	return out
}
