// Package keystore persists the long-term Ed25519 identity key at rest
// under a passphrase, so the key file on disk is useless without it.
// Grounded on the teacher's storage.go PassphraseHandler (environment
// variable first, terminal prompt fallback) and internal/enigma, the
// same passphrase-derived AEAD the teacher used to wrap its chat DB's
// data-encryption key.
package keystore

import (
	"bytes"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"golang.org/x/crypto/ed25519"
	"golang.org/x/term"

	"github.com/okrame/verbeth-sub002/internal/enigma"
)

const (
	saltSize  = 16
	blockType = "ENCRYPTED PRIVATE KEY"
	kdfInfo   = "verbeth:identity-keystore:v1"

	envPassphrase = "VERBETH_IDENTITY_PASSPHRASE"
)

var ErrMissingFile = errors.New("keystore: identity file not found")

// PassphraseHandler supplies the passphrase guarding an identity file.
type PassphraseHandler func() ([]byte, error)

// DefaultPassphraseHandler prefers the environment variable, so daemons
// don't block on stdin, and falls back to a terminal prompt for
// interactive use.
func DefaultPassphraseHandler() ([]byte, error) {
	if p := os.Getenv(envPassphrase); p != "" {
		return []byte(p), nil
	}
	fmt.Print("identity passphrase: ")
	pass, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return nil, fmt.Errorf("reading passphrase: %w", err)
	}
	return bytes.TrimSpace(pass), nil
}

// Save encrypts priv under passphrase and writes it to path as a single
// PEM block: salt || ciphertext, where ciphertext already carries its
// own xchacha20poly1305 nonce (internal/enigma.Enigma.Encrypt).
func Save(path string, priv ed25519.PrivateKey, passphrase []byte) error {
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return fmt.Errorf("keystore: marshalling private key: %w", err)
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("keystore: generating salt: %w", err)
	}
	cipher, err := enigma.NewEnigma(passphrase, salt, []byte(kdfInfo))
	if err != nil {
		return fmt.Errorf("keystore: deriving cipher: %w", err)
	}
	sealed := append(salt, cipher.Encrypt(der)...)

	block := pem.Block{Type: blockType, Bytes: sealed}
	return os.WriteFile(path, pem.EncodeToMemory(&block), 0o600)
}

// Load decrypts the identity key at path under passphrase.
func Load(path string, passphrase []byte) (ed25519.PublicKey, ed25519.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, ErrMissingFile
		}
		return nil, nil, fmt.Errorf("keystore: reading %s: %w", path, err)
	}
	block, _ := pem.Decode(data)
	if block == nil || len(block.Bytes) < saltSize {
		return nil, nil, fmt.Errorf("keystore: %s is not a valid identity file", path)
	}

	salt, sealed := block.Bytes[:saltSize], block.Bytes[saltSize:]
	cipher, err := enigma.NewEnigma(passphrase, salt, []byte(kdfInfo))
	if err != nil {
		return nil, nil, fmt.Errorf("keystore: deriving cipher: %w", err)
	}
	der, err := cipher.Decrypt(sealed)
	if err != nil {
		return nil, nil, fmt.Errorf("keystore: wrong passphrase or corrupt file: %w", err)
	}

	key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, nil, fmt.Errorf("keystore: parsing private key: %w", err)
	}
	priv, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, nil, fmt.Errorf("keystore: %s does not hold an ed25519 key", path)
	}
	return priv.Public().(ed25519.PublicKey), priv, nil
}

// LoadOrCreate loads the identity at path, generating and persisting a
// fresh one under passphrase on first run.
func LoadOrCreate(path string, passphrase []byte) (ed25519.PublicKey, ed25519.PrivateKey, error) {
	pub, priv, err := Load(path, passphrase)
	if err == nil {
		return pub, priv, nil
	}
	if !errors.Is(err, ErrMissingFile) {
		return nil, nil, err
	}

	pub, priv, err = ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("keystore: generating identity: %w", err)
	}
	if err := Save(path, priv, passphrase); err != nil {
		return nil, nil, err
	}
	return pub, priv, nil
}
