package ratchet

import (
	"crypto/rand"
	"fmt"
	"time"

	"golang.org/x/crypto/ed25519"
	"golang.org/x/crypto/nacl/secretbox"

	"github.com/okrame/verbeth-sub002/pkg/auth"
	"github.com/okrame/verbeth-sub002/pkg/codec"
	"github.com/okrame/verbeth-sub002/pkg/kdf"
)

const nonceSize = 24

// Encrypted is the result of a successful Encrypt call: everything the
// caller needs to package onto the wire (codec.Package) and submit to
// the transport (spec.md §4.5 step 6).
type Encrypted struct {
	Session    Session
	Header     codec.Header
	Ciphertext []byte
	Signature  []byte
	Topic      [32]byte
}

// Encrypt advances the sending chain by one message and authenticates it
// under signSK. It never performs a DH ratchet step — that only happens
// on receipt of a new peer DH key in Decrypt — and the outbound topic is
// always the session's current outbound topic (spec.md §4.5).
//
// Encrypt does not mutate session; Encrypted.Session is a new value with
// SendingMsgNumber incremented and SendingChainKey advanced.
func Encrypt(session Session, plaintext []byte, signSK ed25519.PrivateKey) (Encrypted, error) {
	if session.SendingChainKey == nil {
		return Encrypted{}, ErrSendingChainUninitialized
	}

	nextCK, messageKey, err := kdf.ChainStep(session.SendingChainKey[:])
	if err != nil {
		return Encrypted{}, fmt.Errorf("ratchet: encrypt chain step: %w", err)
	}

	header := codec.Header{
		DH: session.OurDHPublic(),
		PN: session.PreviousChainLength,
		N:  session.SendingMsgNumber,
	}

	var mk [32]byte
	copy(mk[:], messageKey)
	ciphertext, err := sealMessage(mk, plaintext)
	if err != nil {
		return Encrypted{}, fmt.Errorf("ratchet: sealing message: %w", err)
	}

	sig := auth.Sign(header.HeaderBytes(), ciphertext, signSK)

	newSession := session.Clone()
	var ck [32]byte
	copy(ck[:], nextCK)
	newSession.SendingChainKey = &ck
	newSession.SendingMsgNumber = session.SendingMsgNumber + 1
	newSession.UpdatedAt = time.Now()

	return Encrypted{
		Session:    newSession,
		Header:     header,
		Ciphertext: ciphertext,
		Signature:  sig,
		Topic:      session.Topics.CurrentOutbound,
	}, nil
}

// sealMessage encrypts plaintext under messageKey with xsalsa20-poly1305
// (nacl/secretbox), prefixing the ciphertext with its random 24-byte
// nonce as spec.md §4.2 requires.
func sealMessage(messageKey [32]byte, plaintext []byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	out := make([]byte, 0, nonceSize+len(plaintext)+secretbox.Overhead)
	out = append(out, nonce[:]...)
	return secretbox.Seal(out, plaintext, &nonce, &messageKey), nil
}

// openMessage reverses sealMessage, recovering the nonce from the
// ciphertext's 24-byte prefix.
func openMessage(messageKey [32]byte, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("%w: ciphertext shorter than nonce", ErrDecryptFailure)
	}
	var nonce [nonceSize]byte
	copy(nonce[:], ciphertext[:nonceSize])

	plaintext, ok := secretbox.Open(nil, ciphertext[nonceSize:], &nonce, &messageKey)
	if !ok {
		return nil, ErrDecryptFailure
	}
	return plaintext, nil
}
