package sshdriver

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

func TestEnsureKeyPairGeneratesWhenAbsent(t *testing.T) {
	dir := t.TempDir()
	priv := filepath.Join(dir, "id_ed25519_azlin")
	pub := priv + ".pub"

	generated, err := EnsureKeyPair(priv, pub)
	require.NoError(t, err)
	assert.True(t, generated)

	info, err := os.Stat(priv)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	signer, err := loadSigner(priv)
	require.NoError(t, err)
	assert.NotNil(t, signer)

	authorized, err := ReadPublicKey(pub)
	require.NoError(t, err)
	parsed, _, _, _, err := ssh.ParseAuthorizedKey([]byte(authorized))
	require.NoError(t, err)
	assert.Equal(t, signer.PublicKey().Marshal(), parsed.Marshal())
}

func TestEnsureKeyPairIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	priv := filepath.Join(dir, "id_ed25519_azlin")
	pub := priv + ".pub"

	generated, err := EnsureKeyPair(priv, pub)
	require.NoError(t, err)
	require.True(t, generated)
	before, err := os.ReadFile(priv)
	require.NoError(t, err)

	generated, err = EnsureKeyPair(priv, pub)
	require.NoError(t, err)
	assert.False(t, generated, "an existing key must never be regenerated")

	after, err := os.ReadFile(priv)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestReadPublicKeyMissingFile(t *testing.T) {
	_, err := ReadPublicKey(filepath.Join(t.TempDir(), "does-not-exist.pub"))
	assert.Error(t, err)
}
