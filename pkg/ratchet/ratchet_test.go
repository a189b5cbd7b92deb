package ratchet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"golang.org/x/crypto/ed25519"

	"github.com/okrame/verbeth-sub002/pkg/exchange"
)

// bootstrapPair builds a responder/initiator session pair sharing a
// handshake-derived secret and handshake topics, mirroring spec.md §4.4.
func bootstrapPair(t *testing.T) (responder, initiator Session) {
	t.Helper()

	respEph, err := exchange.NewECDH()
	require.NoError(t, err)
	initEph, err := exchange.NewECDH()
	require.NoError(t, err)

	shared, err := respEph.Exchange(initEph.MarshalPublicKey())
	require.NoError(t, err)

	var initEphPub, respEphPub [32]byte
	copy(initEphPub[:], initEph.MarshalPublicKey())
	copy(respEphPub[:], respEph.MarshalPublicKey())

	var hsOut, hsIn [32]byte
	hsOut[0] = 0xAA
	hsIn[0] = 0xBB

	responder, err = InitSessionAsResponder(shared, respEph, initEphPub, "responder", "initiator", hsIn, hsOut)
	require.NoError(t, err)

	initiator, err = InitSessionAsInitiator(shared, respEphPub, "initiator", "responder", hsOut, hsIn)
	require.NoError(t, err)

	return responder, initiator
}

func TestEncryptDecryptHappyPath(t *testing.T) {
	responder, initiator := bootstrapPair(t)

	_, signSK, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	signPK := signSK.Public().(ed25519.PublicKey)

	enc, err := Encrypt(initiator, []byte("hello"), signSK)
	require.NoError(t, err)

	newResponder, plaintext, err := Decrypt(responder, enc.Header, enc.Ciphertext, enc.Signature, signPK, DefaultLimits())
	require.NoError(t, err)
	assert.Equal(t, "hello", string(plaintext))
	assert.Equal(t, initiator.OurDHPublic(), newResponder.DHTheirPublicKey)
}

func TestDecryptRejectsBadSignature(t *testing.T) {
	responder, initiator := bootstrapPair(t)

	_, signSK, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	_, wrongSK, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	wrongPK := wrongSK.Public().(ed25519.PublicKey)

	enc, err := Encrypt(initiator, []byte("hello"), signSK)
	require.NoError(t, err)

	got, plaintext, err := Decrypt(responder, enc.Header, enc.Ciphertext, enc.Signature, wrongPK, DefaultLimits())
	assert.ErrorIs(t, err, ErrInvalidSignature)
	assert.Nil(t, plaintext)
	assert.Equal(t, responder, got)
}

func TestOutOfOrderWithinChain(t *testing.T) {
	responder, initiator := bootstrapPair(t)
	_, signSK, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	signPK := signSK.Public().(ed25519.PublicKey)

	enc1, err := Encrypt(initiator, []byte("one"), signSK)
	require.NoError(t, err)
	enc2, err := Encrypt(enc1.Session, []byte("two"), signSK)
	require.NoError(t, err)

	// message 2 arrives first, skipping message 1's key.
	afterSecond, pt2, err := Decrypt(responder, enc2.Header, enc2.Ciphertext, enc2.Signature, signPK, DefaultLimits())
	require.NoError(t, err)
	assert.Equal(t, "two", string(pt2))
	require.Len(t, afterSecond.SkippedKeys, 1)

	afterFirst, pt1, err := Decrypt(afterSecond, enc1.Header, enc1.Ciphertext, enc1.Signature, signPK, DefaultLimits())
	require.NoError(t, err)
	assert.Equal(t, "one", string(pt1))
	assert.Empty(t, afterFirst.SkippedKeys)
}

func TestDHRotationOnReply(t *testing.T) {
	responder, initiator := bootstrapPair(t)
	_, signSK, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	signPK := signSK.Public().(ed25519.PublicKey)

	enc, err := Encrypt(initiator, []byte("first"), signSK)
	require.NoError(t, err)
	afterFirst, _, err := Decrypt(responder, enc.Header, enc.Ciphertext, enc.Signature, signPK, DefaultLimits())
	require.NoError(t, err)

	reply, err := Encrypt(afterFirst, []byte("reply"), signSK)
	require.NoError(t, err)
	afterReply, plaintext, err := Decrypt(initiator, reply.Header, reply.Ciphertext, reply.Signature, signPK, DefaultLimits())
	require.NoError(t, err)
	assert.Equal(t, "reply", string(plaintext))
	assert.NotEqual(t, initiator.DHTheirPublicKey, afterReply.DHTheirPublicKey)
}

func TestTooManySkippedLeavesSessionUnmodified(t *testing.T) {
	responder, initiator := bootstrapPair(t)
	_, signSK, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	signPK := signSK.Public().(ed25519.PublicKey)

	limits := DefaultLimits()
	limits.MaxSkipPerMessage = 2

	session := initiator
	var last Encrypted
	for i := 0; i < 5; i++ {
		enc, err := Encrypt(session, []byte("msg"), signSK)
		require.NoError(t, err)
		session = enc.Session
		last = enc
	}

	got, plaintext, err := Decrypt(responder, last.Header, last.Ciphertext, last.Signature, signPK, limits)
	assert.ErrorIs(t, err, ErrTooManySkipped)
	assert.Nil(t, plaintext)
	assert.Equal(t, responder, got)
}
