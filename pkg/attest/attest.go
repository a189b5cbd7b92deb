// Package attest persists the long-term Ed25519 identity key that
// backs a handshake's binding proof (pkg/handshake) and a message's
// detached signature (pkg/auth), so a peer's identity survives process
// restarts instead of being regenerated on every run.
package attest

import (
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"golang.org/x/crypto/ed25519"
)

const (
	publicKeyType  = "PUBLIC KEY"
	privateKeyType = "PRIVATE KEY"
)

var (
	ErrMissingPEM  = errors.New("no PEM data found")
	ErrMissingFile = errors.New("file not found")
	ErrInvalidKey  = errors.New("invalid key type")
)

type Attest interface {
	PublicKey() PublicKey
	Sign(msg, ctx []byte) ([]byte, error)
	Save(path string) error
}

type PublicKey interface {
	Marshal() []byte
	Base64Encoding() string
	Equal(PublicKey) bool
}

func Verify(publicKey PublicKey, msg, sig []byte) bool {
	p, ok := publicKey.(*ed25519PublicKey)
	if !ok {
		return false
	}
	return ed25519.Verify(p.key, msg, sig)
}

func ParsePublicKey(remote []byte) (PublicKey, error) {
	pk, err := x509.ParsePKIXPublicKey(remote)
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	edPub, ok := pk.(ed25519.PublicKey)
	if !ok {
		return nil, ErrInvalidKey
	}
	return &ed25519PublicKey{key: edPub}, nil
}

// LoadFromDisk reads the PEM-encoded PKCS8 private key at path. Callers
// that want to create one when it's missing should check
// errors.Is(err, ErrMissingFile) and fall back to NewEd25519.
func LoadFromDisk(path string) (Attest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrMissingFile
		}
		return nil, fmt.Errorf("reading file: %w", err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, ErrMissingPEM
	}

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing key: %w", err)
	}
	edPrivate, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, ErrInvalidKey
	}
	return &Ed25519{
		privateKey: edPrivate,
		publicKey:  edPrivate.Public().(ed25519.PublicKey),
	}, nil
}

func save(private, public []byte, path string) error {
	err := storeKey(private, privateKeyType, path)
	if err != nil {
		return fmt.Errorf("saving private key: %w", err)
	}
	err = storeKey(public, publicKeyType, path+".pub")
	if err != nil {
		return fmt.Errorf("saving public key: %w", err)
	}
	return nil
}

func storeKey(key []byte, kType, path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating file: %w", err)
	}
	defer file.Close()

	block := pem.Block{Bytes: key, Type: kType}
	if err = pem.Encode(file, &block); err != nil {
		return fmt.Errorf("encode key: %w", err)
	}

	return nil
}
