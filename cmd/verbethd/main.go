// Command verbethd is a thin process wrapper around Engine: it holds
// the identity key, the session and pending stores, and a JSON
// command/event protocol over stdin/stdout so a chain-watching process
// in any language can drive Send/Confirm/HandleInbound without linking
// Go. Submitting a payload to the chain and watching for its events are
// the caller's job: the "sent" event below reports the topic/payload a
// real submitter needs, and CmdConfirm expects the resulting tx hash
// back once the caller observes it land on chain.
package main

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"golang.org/x/crypto/ed25519"

	verbeth "github.com/okrame/verbeth-sub002"
	"github.com/okrame/verbeth-sub002/pkg/config"
	"github.com/okrame/verbeth-sub002/pkg/events"
	"github.com/okrame/verbeth-sub002/pkg/keystore"
	"github.com/okrame/verbeth-sub002/pkg/pending"
	"github.com/okrame/verbeth-sub002/pkg/session"
)

const (
	CmdSend    = "send"
	CmdConfirm = "confirm"
	CmdInbound = "inbound"

	EvtReady    = "ready"
	EvtSent     = "sent"
	EvtReceived = "received"
	EvtError    = "error"
)

// Command is one line of stdin: {"cmd":"send","id":"1","params":{...}}.
type Command struct {
	Cmd    string          `json:"cmd"`
	ID     string          `json:"id"`
	Params json.RawMessage `json:"params"`
}

// Event is one line of stdout.
type Event struct {
	Evt  string `json:"evt"`
	ID   string `json:"id,omitempty"`
	Data any    `json:"data,omitempty"`
}

type sendParams struct {
	ConversationID string `json:"conversation_id"` // hex
	PlaintextB64   string `json:"plaintext_base64"`
}

type confirmParams struct {
	TxHash string `json:"tx_hash"`
}

type inboundParams struct {
	ConversationTopic string `json:"conversation_topic"` // hex
	PayloadB64        string `json:"payload_base64"`
	SenderIdentityHex string `json:"sender_identity_hex"`
}

func main() {
	configPath := flag.String("config", "", "path to a TOML config file (optional, uses defaults otherwise)")
	identityPath := flag.String("identity", "identity.pem", "path to the encrypted identity key file")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "verbethd: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Logging.Level}))

	passphrase, err := keystore.DefaultPassphraseHandler()
	if err != nil {
		logger.Error("reading passphrase", slog.Any("error", err))
		os.Exit(1)
	}
	_, signSK, err := keystore.LoadOrCreate(*identityPath, passphrase)
	if err != nil {
		logger.Error("loading identity", slog.Any("error", err))
		os.Exit(1)
	}

	sessStore, err := session.OpenBoltStore(cfg.Storage.SessionDBPath)
	if err != nil {
		logger.Error("opening session store", slog.Any("error", err))
		os.Exit(1)
	}
	defer sessStore.Close()
	pendStore, err := pending.OpenBoltStore(cfg.Storage.PendingDBPath)
	if err != nil {
		logger.Error("opening pending store", slog.Any("error", err))
		os.Exit(1)
	}
	defer pendStore.Close()

	sessions := session.NewManager(sessStore, cfg.Limits.TopicTransitionWindow, logger)
	pendingM := pending.NewManager(pendStore, logger)
	engine := verbeth.NewEngine(sessions, pendingM, cfg.Limits.RatchetLimits(), signSK, logger)

	run(os.Stdin, os.Stdout, engine, logger)
}

func run(in io.Reader, out io.Writer, engine *verbeth.Engine, logger *slog.Logger) {
	enc := json.NewEncoder(out)
	_ = enc.Encode(Event{Evt: EvtReady})

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var cmd Command
		if err := json.Unmarshal(scanner.Bytes(), &cmd); err != nil {
			_ = enc.Encode(Event{Evt: EvtError, Data: err.Error()})
			continue
		}
		handleCommand(engine, cmd, enc, logger)
	}
}

func handleCommand(engine *verbeth.Engine, cmd Command, enc *json.Encoder, logger *slog.Logger) {
	logger.Debug("command received", slog.String("cmd", cmd.Cmd), slog.String("id", cmd.ID))
	switch cmd.Cmd {
	case CmdSend:
		var p sendParams
		if err := json.Unmarshal(cmd.Params, &p); err != nil {
			_ = enc.Encode(Event{Evt: EvtError, ID: cmd.ID, Data: err.Error()})
			return
		}
		convID, err := decodeTopic(p.ConversationID)
		if err != nil {
			_ = enc.Encode(Event{Evt: EvtError, ID: cmd.ID, Data: err.Error()})
			return
		}
		plaintext, err := decodeB64(p.PlaintextB64)
		if err != nil {
			_ = enc.Encode(Event{Evt: EvtError, ID: cmd.ID, Data: err.Error()})
			return
		}

		// No chain client is wired here: the submit callback only
		// reports the ciphertext back over stdout. A real deployment
		// replaces this with a call into whatever chain SDK the
		// operator picked, then feeds the resulting tx hash to
		// CmdConfirm once its log is observed.
		var reportedTopic [32]byte
		var reportedPayload []byte
		submit := func(_ context.Context, topic [32]byte, payload []byte) (string, error) {
			reportedTopic, reportedPayload = topic, payload
			return "", nil
		}

		rec, err := engine.Send(context.Background(), convID, plaintext, submit)
		if err != nil {
			_ = enc.Encode(Event{Evt: EvtError, ID: cmd.ID, Data: err.Error()})
			return
		}
		_ = enc.Encode(Event{Evt: EvtSent, ID: cmd.ID, Data: map[string]string{
			"pending_id": rec.ID,
			"topic":      hex.EncodeToString(reportedTopic[:]),
			"payload":    hex.EncodeToString(reportedPayload),
		}})

	case CmdConfirm:
		var p confirmParams
		if err := json.Unmarshal(cmd.Params, &p); err != nil {
			_ = enc.Encode(Event{Evt: EvtError, ID: cmd.ID, Data: err.Error()})
			return
		}
		if err := engine.Confirm(p.TxHash); err != nil {
			_ = enc.Encode(Event{Evt: EvtError, ID: cmd.ID, Data: err.Error()})
		}

	case CmdInbound:
		var p inboundParams
		if err := json.Unmarshal(cmd.Params, &p); err != nil {
			_ = enc.Encode(Event{Evt: EvtError, ID: cmd.ID, Data: err.Error()})
			return
		}
		topic, err := decodeTopic(p.ConversationTopic)
		if err != nil {
			_ = enc.Encode(Event{Evt: EvtError, ID: cmd.ID, Data: err.Error()})
			return
		}
		payload, err := decodeB64(p.PayloadB64)
		if err != nil {
			_ = enc.Encode(Event{Evt: EvtError, ID: cmd.ID, Data: err.Error()})
			return
		}
		verifyKey, err := hex.DecodeString(p.SenderIdentityHex)
		if err != nil {
			_ = enc.Encode(Event{Evt: EvtError, ID: cmd.ID, Data: err.Error()})
			return
		}

		plaintext, err := engine.HandleInbound(events.MessageSent{ConversationTopic: topic, Payload: payload}, ed25519.PublicKey(verifyKey))
		if err != nil {
			_ = enc.Encode(Event{Evt: EvtError, ID: cmd.ID, Data: err.Error()})
			return
		}
		_ = enc.Encode(Event{Evt: EvtReceived, ID: cmd.ID, Data: map[string]string{
			"plaintext_base64": b64(plaintext),
		}})

	default:
		_ = enc.Encode(Event{Evt: EvtError, ID: cmd.ID, Data: fmt.Sprintf("unknown command: %s", cmd.Cmd)})
	}
}

func decodeTopic(s string) ([32]byte, error) {
	var out [32]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, fmt.Errorf("decoding hex topic: %w", err)
	}
	if len(b) != 32 {
		return out, fmt.Errorf("topic must be 32 bytes, got %d", len(b))
	}
	copy(out[:], b)
	return out, nil
}

func decodeB64(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}

func b64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}
