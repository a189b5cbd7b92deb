package keystore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.pem")
	passphrase := []byte("correct horse battery staple")

	pub, priv, err := LoadOrCreate(path, passphrase)
	require.NoError(t, err)

	gotPub, gotPriv, err := Load(path, passphrase)
	require.NoError(t, err)
	assert.Equal(t, pub, gotPub)
	assert.Equal(t, priv, gotPriv)
}

func TestLoadOrCreateIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.pem")
	passphrase := []byte("hunter2")

	pub1, _, err := LoadOrCreate(path, passphrase)
	require.NoError(t, err)
	pub2, _, err := LoadOrCreate(path, passphrase)
	require.NoError(t, err)

	assert.Equal(t, pub1, pub2)
}

func TestLoadWrongPassphrase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.pem")
	_, _, err := LoadOrCreate(path, []byte("right"))
	require.NoError(t, err)

	_, _, err = Load(path, []byte("wrong"))
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.pem")
	_, _, err := Load(path, []byte("anything"))
	assert.ErrorIs(t, err, ErrMissingFile)
}
