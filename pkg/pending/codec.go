package pending

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/okrame/verbeth-sub002/pkg/session"
)

// Wire field numbers for the persisted pending record, following the
// same hand-rolled protowire convention as pkg/session/record.go.
const (
	fieldID                 = 1
	fieldConversationID     = 2
	fieldTopic              = 3
	fieldPayload            = 4
	fieldPlaintext          = 5
	fieldSessionStateBefore = 6
	fieldSessionStateAfter  = 7
	fieldCreatedAt          = 8
	fieldTxHash             = 9
	fieldStatus             = 10
)

// EncodeRecord serializes a Record to its persisted wire form.
func EncodeRecord(r Record) ([]byte, error) {
	before, err := session.EncodeRecord(r.SessionStateBefore)
	if err != nil {
		return nil, fmt.Errorf("pending: encoding sessionStateBefore: %w", err)
	}
	after, err := session.EncodeRecord(r.SessionStateAfter)
	if err != nil {
		return nil, fmt.Errorf("pending: encoding sessionStateAfter: %w", err)
	}
	createdAt, err := r.CreatedAt.UTC().MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("pending: encoding createdAt: %w", err)
	}

	var b []byte
	b = protowire.AppendTag(b, fieldID, protowire.BytesType)
	b = protowire.AppendString(b, r.ID)
	b = protowire.AppendTag(b, fieldConversationID, protowire.BytesType)
	b = protowire.AppendBytes(b, r.ConversationID[:])
	b = protowire.AppendTag(b, fieldTopic, protowire.BytesType)
	b = protowire.AppendBytes(b, r.Topic[:])
	b = protowire.AppendTag(b, fieldPayload, protowire.BytesType)
	b = protowire.AppendBytes(b, r.Payload)
	b = protowire.AppendTag(b, fieldPlaintext, protowire.BytesType)
	b = protowire.AppendBytes(b, r.Plaintext)
	b = protowire.AppendTag(b, fieldSessionStateBefore, protowire.BytesType)
	b = protowire.AppendBytes(b, before)
	b = protowire.AppendTag(b, fieldSessionStateAfter, protowire.BytesType)
	b = protowire.AppendBytes(b, after)
	b = protowire.AppendTag(b, fieldCreatedAt, protowire.BytesType)
	b = protowire.AppendBytes(b, createdAt)
	if r.TxHash != "" {
		b = protowire.AppendTag(b, fieldTxHash, protowire.BytesType)
		b = protowire.AppendString(b, r.TxHash)
	}
	b = protowire.AppendTag(b, fieldStatus, protowire.BytesType)
	b = protowire.AppendString(b, string(r.Status))

	return b, nil
}

// DecodeRecord reverses EncodeRecord.
func DecodeRecord(data []byte) (Record, error) {
	var r Record

	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return Record{}, fmt.Errorf("pending: decoding tag: %w", protowire.ParseError(n))
		}
		data = data[n:]
		if typ != protowire.BytesType {
			return Record{}, fmt.Errorf("pending: field %d: expected bytes wire type", num)
		}
		v, m := protowire.ConsumeBytes(data)
		if m < 0 {
			return Record{}, fmt.Errorf("pending: field %d: %w", num, protowire.ParseError(m))
		}
		data = data[m:]

		switch num {
		case fieldID:
			r.ID = string(v)
		case fieldConversationID:
			copy(r.ConversationID[:], v)
		case fieldTopic:
			copy(r.Topic[:], v)
		case fieldPayload:
			r.Payload = append([]byte(nil), v...)
		case fieldPlaintext:
			r.Plaintext = append([]byte(nil), v...)
		case fieldSessionStateBefore:
			s, err := session.DecodeRecord(v)
			if err != nil {
				return Record{}, fmt.Errorf("pending: decoding sessionStateBefore: %w", err)
			}
			r.SessionStateBefore = s
		case fieldSessionStateAfter:
			s, err := session.DecodeRecord(v)
			if err != nil {
				return Record{}, fmt.Errorf("pending: decoding sessionStateAfter: %w", err)
			}
			r.SessionStateAfter = s
		case fieldCreatedAt:
			var t time.Time
			if err := t.UnmarshalBinary(v); err != nil {
				return Record{}, fmt.Errorf("pending: decoding createdAt: %w", err)
			}
			r.CreatedAt = t
		case fieldTxHash:
			r.TxHash = string(v)
		case fieldStatus:
			r.Status = Status(v)
		default:
			// unknown field, already consumed above; ignore.
		}
	}

	return r, nil
}
