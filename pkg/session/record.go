// Package session implements the session store and read-through cache
// described in spec.md §4.7, §6.3: a bbolt-backed Store keyed by
// conversation id, with secondary topic indexes, wrapped by a Manager
// with a read-through cache. Lookups report the matched topic slot;
// topic promotion happens in ratchet.Decrypt.
package session

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/okrame/verbeth-sub002/pkg/exchange"
	"github.com/okrame/verbeth-sub002/pkg/ratchet"
	"github.com/okrame/verbeth-sub002/pkg/topic"
)

// Wire field numbers for the persisted session record. There is no
// generated sessionpb.Session type — protoc is not part of this build —
// so the record is hand-encoded with protowire, the same low-level
// primitives generated code calls into, following the teacher's
// session.go convention of protobuf-encoding state before it reaches
// bbolt (there it was pb.SessionState; here it's this field layout).
const (
	fieldConversationID = 1
	fieldMyAddress      = 2
	fieldContactAddress = 3
	fieldRootKey        = 4
	fieldDHMyPrivate    = 5
	fieldDHTheirPublic  = 6
	fieldSendingChain   = 7
	fieldReceivingChain = 8
	fieldSendingMsgNum  = 9
	fieldReceivingMsgNum = 10
	fieldPrevChainLen   = 11
	fieldSkippedKey     = 12 // repeated, each a nested message
	fieldTopics         = 13 // nested message
	fieldCreatedAt      = 14
	fieldUpdatedAt      = 15

	// nested SkippedKey message fields
	skDH         = 1
	skN          = 2
	skMessageKey = 3
	skCreatedAt  = 4

	// nested topic.Set message fields
	tsCurrentOutbound = 1
	tsCurrentInbound  = 2
	tsNextOutbound    = 3
	tsNextInbound     = 4
	tsPreviousInbound = 5
	tsPreviousExpiry  = 6
	tsEpoch           = 7
)

// EncodeRecord serializes a ratchet.Session to its persisted wire form.
func EncodeRecord(s ratchet.Session) ([]byte, error) {
	var b []byte
	b = protowire.AppendTag(b, fieldConversationID, protowire.BytesType)
	b = protowire.AppendBytes(b, s.ConversationID[:])
	b = protowire.AppendTag(b, fieldMyAddress, protowire.BytesType)
	b = protowire.AppendString(b, s.MyAddress)
	b = protowire.AppendTag(b, fieldContactAddress, protowire.BytesType)
	b = protowire.AppendString(b, s.ContactAddress)
	b = protowire.AppendTag(b, fieldRootKey, protowire.BytesType)
	b = protowire.AppendBytes(b, s.RootKey[:])

	if s.DHMy == nil {
		return nil, fmt.Errorf("session: cannot encode a session with no local DH keypair")
	}
	b = protowire.AppendTag(b, fieldDHMyPrivate, protowire.BytesType)
	b = protowire.AppendBytes(b, s.DHMy.MarshalPrivateKey())

	b = protowire.AppendTag(b, fieldDHTheirPublic, protowire.BytesType)
	b = protowire.AppendBytes(b, s.DHTheirPublicKey[:])

	if s.SendingChainKey != nil {
		b = protowire.AppendTag(b, fieldSendingChain, protowire.BytesType)
		b = protowire.AppendBytes(b, s.SendingChainKey[:])
	}
	if s.ReceivingChainKey != nil {
		b = protowire.AppendTag(b, fieldReceivingChain, protowire.BytesType)
		b = protowire.AppendBytes(b, s.ReceivingChainKey[:])
	}

	b = protowire.AppendTag(b, fieldSendingMsgNum, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(s.SendingMsgNumber))
	b = protowire.AppendTag(b, fieldReceivingMsgNum, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(s.ReceivingMsgNumber))
	b = protowire.AppendTag(b, fieldPrevChainLen, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(s.PreviousChainLength))

	for _, sk := range s.SkippedKeys {
		b = protowire.AppendTag(b, fieldSkippedKey, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeSkippedKey(sk))
	}

	b = protowire.AppendTag(b, fieldTopics, protowire.BytesType)
	b = protowire.AppendBytes(b, encodeTopics(s.Topics))

	b = protowire.AppendTag(b, fieldCreatedAt, protowire.BytesType)
	b = protowire.AppendBytes(b, mustMarshalTime(s.CreatedAt))
	b = protowire.AppendTag(b, fieldUpdatedAt, protowire.BytesType)
	b = protowire.AppendBytes(b, mustMarshalTime(s.UpdatedAt))

	return b, nil
}

func encodeSkippedKey(sk ratchet.SkippedKey) []byte {
	var b []byte
	b = protowire.AppendTag(b, skDH, protowire.BytesType)
	b = protowire.AppendBytes(b, sk.DH[:])
	b = protowire.AppendTag(b, skN, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(sk.N))
	b = protowire.AppendTag(b, skMessageKey, protowire.BytesType)
	b = protowire.AppendBytes(b, sk.MessageKey[:])
	b = protowire.AppendTag(b, skCreatedAt, protowire.BytesType)
	b = protowire.AppendBytes(b, mustMarshalTime(sk.CreatedAt))
	return b
}

func encodeTopics(t topic.Set) []byte {
	var b []byte
	b = protowire.AppendTag(b, tsCurrentOutbound, protowire.BytesType)
	b = protowire.AppendBytes(b, t.CurrentOutbound[:])
	b = protowire.AppendTag(b, tsCurrentInbound, protowire.BytesType)
	b = protowire.AppendBytes(b, t.CurrentInbound[:])
	if t.NextOutbound != nil {
		b = protowire.AppendTag(b, tsNextOutbound, protowire.BytesType)
		b = protowire.AppendBytes(b, t.NextOutbound[:])
	}
	if t.NextInbound != nil {
		b = protowire.AppendTag(b, tsNextInbound, protowire.BytesType)
		b = protowire.AppendBytes(b, t.NextInbound[:])
	}
	if t.PreviousInbound != nil {
		b = protowire.AppendTag(b, tsPreviousInbound, protowire.BytesType)
		b = protowire.AppendBytes(b, t.PreviousInbound[:])
		b = protowire.AppendTag(b, tsPreviousExpiry, protowire.BytesType)
		b = protowire.AppendBytes(b, mustMarshalTime(t.PreviousExpiry))
	}
	b = protowire.AppendTag(b, tsEpoch, protowire.VarintType)
	b = protowire.AppendVarint(b, t.Epoch)
	return b
}

func mustMarshalTime(t time.Time) []byte {
	out, err := t.UTC().MarshalBinary()
	if err != nil {
		// time.Time.MarshalBinary only fails for years outside
		// [-292277022099, 292277026595]; never reachable here.
		panic(fmt.Sprintf("session: marshaling time: %v", err))
	}
	return out
}

// DecodeRecord reverses EncodeRecord.
func DecodeRecord(data []byte) (ratchet.Session, error) {
	var s ratchet.Session
	var dhMyPriv, dhTheirPub []byte

	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return ratchet.Session{}, fmt.Errorf("session: decoding tag: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch num {
		case fieldConversationID:
			v, m, err := consumeBytes(data, typ)
			if err != nil {
				return ratchet.Session{}, err
			}
			copy(s.ConversationID[:], v)
			data = data[m:]
		case fieldMyAddress:
			v, m, err := consumeBytes(data, typ)
			if err != nil {
				return ratchet.Session{}, err
			}
			s.MyAddress = string(v)
			data = data[m:]
		case fieldContactAddress:
			v, m, err := consumeBytes(data, typ)
			if err != nil {
				return ratchet.Session{}, err
			}
			s.ContactAddress = string(v)
			data = data[m:]
		case fieldRootKey:
			v, m, err := consumeBytes(data, typ)
			if err != nil {
				return ratchet.Session{}, err
			}
			copy(s.RootKey[:], v)
			data = data[m:]
		case fieldDHMyPrivate:
			v, m, err := consumeBytes(data, typ)
			if err != nil {
				return ratchet.Session{}, err
			}
			dhMyPriv = append([]byte(nil), v...)
			data = data[m:]
		case fieldDHTheirPublic:
			v, m, err := consumeBytes(data, typ)
			if err != nil {
				return ratchet.Session{}, err
			}
			dhTheirPub = append([]byte(nil), v...)
			copy(s.DHTheirPublicKey[:], v)
			data = data[m:]
		case fieldSendingChain:
			v, m, err := consumeBytes(data, typ)
			if err != nil {
				return ratchet.Session{}, err
			}
			var ck [32]byte
			copy(ck[:], v)
			s.SendingChainKey = &ck
			data = data[m:]
		case fieldReceivingChain:
			v, m, err := consumeBytes(data, typ)
			if err != nil {
				return ratchet.Session{}, err
			}
			var ck [32]byte
			copy(ck[:], v)
			s.ReceivingChainKey = &ck
			data = data[m:]
		case fieldSendingMsgNum:
			v, m, err := consumeVarint(data, typ)
			if err != nil {
				return ratchet.Session{}, err
			}
			s.SendingMsgNumber = uint32(v)
			data = data[m:]
		case fieldReceivingMsgNum:
			v, m, err := consumeVarint(data, typ)
			if err != nil {
				return ratchet.Session{}, err
			}
			s.ReceivingMsgNumber = uint32(v)
			data = data[m:]
		case fieldPrevChainLen:
			v, m, err := consumeVarint(data, typ)
			if err != nil {
				return ratchet.Session{}, err
			}
			s.PreviousChainLength = uint32(v)
			data = data[m:]
		case fieldSkippedKey:
			v, m, err := consumeBytes(data, typ)
			if err != nil {
				return ratchet.Session{}, err
			}
			sk, err := decodeSkippedKey(v)
			if err != nil {
				return ratchet.Session{}, err
			}
			s.SkippedKeys = append(s.SkippedKeys, sk)
			data = data[m:]
		case fieldTopics:
			v, m, err := consumeBytes(data, typ)
			if err != nil {
				return ratchet.Session{}, err
			}
			ts, err := decodeTopics(v)
			if err != nil {
				return ratchet.Session{}, err
			}
			s.Topics = ts
			data = data[m:]
		case fieldCreatedAt:
			v, m, err := consumeBytes(data, typ)
			if err != nil {
				return ratchet.Session{}, err
			}
			if err := s.CreatedAt.UnmarshalBinary(v); err != nil {
				return ratchet.Session{}, fmt.Errorf("session: decoding createdAt: %w", err)
			}
			data = data[m:]
		case fieldUpdatedAt:
			v, m, err := consumeBytes(data, typ)
			if err != nil {
				return ratchet.Session{}, err
			}
			if err := s.UpdatedAt.UnmarshalBinary(v); err != nil {
				return ratchet.Session{}, fmt.Errorf("session: decoding updatedAt: %w", err)
			}
			data = data[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return ratchet.Session{}, fmt.Errorf("session: skipping unknown field %d: %w", num, protowire.ParseError(m))
			}
			data = data[m:]
		}
	}

	if dhMyPriv == nil || dhTheirPub == nil {
		return ratchet.Session{}, fmt.Errorf("session: record missing DH keys")
	}
	dhMy, err := exchange.RestoreECDHFromPrivate(dhMyPriv)
	if err != nil {
		return ratchet.Session{}, fmt.Errorf("session: restoring local dh keypair: %w", err)
	}
	s.DHMy = dhMy

	return s, nil
}

func decodeSkippedKey(data []byte) (ratchet.SkippedKey, error) {
	var sk ratchet.SkippedKey
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return ratchet.SkippedKey{}, fmt.Errorf("session: decoding skipped-key tag: %w", protowire.ParseError(n))
		}
		data = data[n:]
		switch num {
		case skDH:
			v, m, err := consumeBytes(data, typ)
			if err != nil {
				return ratchet.SkippedKey{}, err
			}
			copy(sk.DH[:], v)
			data = data[m:]
		case skN:
			v, m, err := consumeVarint(data, typ)
			if err != nil {
				return ratchet.SkippedKey{}, err
			}
			sk.N = uint32(v)
			data = data[m:]
		case skMessageKey:
			v, m, err := consumeBytes(data, typ)
			if err != nil {
				return ratchet.SkippedKey{}, err
			}
			copy(sk.MessageKey[:], v)
			data = data[m:]
		case skCreatedAt:
			v, m, err := consumeBytes(data, typ)
			if err != nil {
				return ratchet.SkippedKey{}, err
			}
			if err := sk.CreatedAt.UnmarshalBinary(v); err != nil {
				return ratchet.SkippedKey{}, fmt.Errorf("session: decoding skipped-key createdAt: %w", err)
			}
			data = data[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return ratchet.SkippedKey{}, fmt.Errorf("session: skipping unknown skipped-key field %d", num)
			}
			data = data[m:]
		}
	}
	return sk, nil
}

func decodeTopics(data []byte) (topic.Set, error) {
	var t topic.Set
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return topic.Set{}, fmt.Errorf("session: decoding topics tag: %w", protowire.ParseError(n))
		}
		data = data[n:]
		switch num {
		case tsCurrentOutbound:
			v, m, err := consumeBytes(data, typ)
			if err != nil {
				return topic.Set{}, err
			}
			copy(t.CurrentOutbound[:], v)
			data = data[m:]
		case tsCurrentInbound:
			v, m, err := consumeBytes(data, typ)
			if err != nil {
				return topic.Set{}, err
			}
			copy(t.CurrentInbound[:], v)
			data = data[m:]
		case tsNextOutbound:
			v, m, err := consumeBytes(data, typ)
			if err != nil {
				return topic.Set{}, err
			}
			var a [32]byte
			copy(a[:], v)
			t.NextOutbound = &a
			data = data[m:]
		case tsNextInbound:
			v, m, err := consumeBytes(data, typ)
			if err != nil {
				return topic.Set{}, err
			}
			var a [32]byte
			copy(a[:], v)
			t.NextInbound = &a
			data = data[m:]
		case tsPreviousInbound:
			v, m, err := consumeBytes(data, typ)
			if err != nil {
				return topic.Set{}, err
			}
			var a [32]byte
			copy(a[:], v)
			t.PreviousInbound = &a
			data = data[m:]
		case tsPreviousExpiry:
			v, m, err := consumeBytes(data, typ)
			if err != nil {
				return topic.Set{}, err
			}
			if err := t.PreviousExpiry.UnmarshalBinary(v); err != nil {
				return topic.Set{}, fmt.Errorf("session: decoding previousExpiry: %w", err)
			}
			data = data[m:]
		case tsEpoch:
			v, m, err := consumeVarint(data, typ)
			if err != nil {
				return topic.Set{}, err
			}
			t.Epoch = v
			data = data[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return topic.Set{}, fmt.Errorf("session: skipping unknown topics field %d", num)
			}
			data = data[m:]
		}
	}
	return t, nil
}

func consumeBytes(data []byte, typ protowire.Type) ([]byte, int, error) {
	if typ != protowire.BytesType {
		return nil, 0, fmt.Errorf("session: expected bytes wire type, got %v", typ)
	}
	v, n := protowire.ConsumeBytes(data)
	if n < 0 {
		return nil, 0, fmt.Errorf("session: consuming bytes: %w", protowire.ParseError(n))
	}
	return v, n, nil
}

func consumeVarint(data []byte, typ protowire.Type) (uint64, int, error) {
	if typ != protowire.VarintType {
		return 0, 0, fmt.Errorf("session: expected varint wire type, got %v", typ)
	}
	v, n := protowire.ConsumeVarint(data)
	if n < 0 {
		return 0, 0, fmt.Errorf("session: consuming varint: %w", protowire.ParseError(n))
	}
	return v, n, nil
}
