package attest

import (
	"crypto/rand"
	"slices"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEd25519(t *testing.T) {
	a := require.New(t)
	msg := []byte(rand.Text())

	e, err := NewEd25519()
	a.NoError(err)
	a.NotNil(e)
	pub := e.PublicKey()
	a.NotNil(pub)
	sig, err := e.Sign(msg, nil)
	a.NoError(err)
	a.NotNil(sig)

	t.Run("valid signature", func(t *testing.T) {
		a.True(Verify(pub, msg, sig))
	})
	t.Run("invalid signature", func(t *testing.T) {
		sig := slices.Clone(sig)
		sig[0] ^= 0xFF
		a.False(Verify(pub, msg, sig))
	})
	t.Run("invalid hash", func(t *testing.T) {
		msg := append(slices.Clone(msg), '!')
		a.False(Verify(pub, msg, sig))
	})
	t.Run("invalid public key", func(t *testing.T) {
		another, err := NewEd25519()
		a.NoError(err)
		a.False(Verify(another.PublicKey(), msg, sig))
	})
}

func TestSaveLoadRoundTrip(t *testing.T) {
	a := require.New(t)
	e, err := NewEd25519()
	a.NoError(err)

	path := t.TempDir() + "/identity.pem"
	a.NoError(e.Save(path))

	loaded, err := LoadFromDisk(path)
	a.NoError(err)

	msg := []byte("round trip")
	sig, err := loaded.Sign(msg, nil)
	a.NoError(err)
	a.True(Verify(e.PublicKey(), msg, sig))
	a.True(e.PublicKey().Equal(loaded.PublicKey()))
}

func TestLoadFromDiskMissingFile(t *testing.T) {
	_, err := LoadFromDisk(t.TempDir() + "/does-not-exist.pem")
	require.ErrorIs(t, err, ErrMissingFile)
}
