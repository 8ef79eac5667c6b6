package vault

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	stdout []byte
	err    error
	calls  [][]string
}

func (r *fakeRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	r.calls = append(r.calls, append([]string{name}, args...))
	return r.stdout, nil, r.err
}

func TestTryFetchKeyMissingVaultNameIsNoop(t *testing.T) {
	d := &AzKeyVaultDriver{Runner: &fakeRunner{}}
	ok, err := d.TryFetchKey(context.Background(), "vm1", "rg1", t.TempDir()+"/key")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTryFetchKeyWritesSecretOnHit(t *testing.T) {
	runner := &fakeRunner{stdout: []byte("secret-material")}
	d := &AzKeyVaultDriver{VaultName: "kv1", Runner: runner}
	path := filepath.Join(t.TempDir(), "key")

	ok, err := d.TryFetchKey(context.Background(), "vm1", "rg1", path)
	require.NoError(t, err)
	assert.True(t, ok)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "secret-material", string(data))
}

func TestTryFetchKeyMissIsNotAnError(t *testing.T) {
	runner := &fakeRunner{err: errors.New("secret not found")}
	d := &AzKeyVaultDriver{VaultName: "kv1", Runner: runner}

	ok, err := d.TryFetchKey(context.Background(), "vm1", "rg1", t.TempDir()+"/key")
	require.NoError(t, err)
	assert.False(t, ok, "a vault miss falls back to local key generation, per §4.1 stage 3")
}

func TestPushKeyMissingVaultNameIsNoop(t *testing.T) {
	d := &AzKeyVaultDriver{Runner: &fakeRunner{}}
	path := filepath.Join(t.TempDir(), "key")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))

	assert.NoError(t, d.PushKey(context.Background(), "vm1", "rg1", path))
}

func TestPushKeyUploadsLocalKeyMaterial(t *testing.T) {
	runner := &fakeRunner{}
	d := &AzKeyVaultDriver{VaultName: "kv1", Runner: runner}
	path := filepath.Join(t.TempDir(), "key")
	require.NoError(t, os.WriteFile(path, []byte("my-key"), 0o600))

	require.NoError(t, d.PushKey(context.Background(), "vm1", "rg1", path))
	require.Len(t, runner.calls, 1)
	assert.Contains(t, runner.calls[0], "my-key")
}

func TestPushKeyFailurePropagatesButIsNonFatalToCaller(t *testing.T) {
	runner := &fakeRunner{err: errors.New("network unreachable")}
	d := &AzKeyVaultDriver{VaultName: "kv1", Runner: runner}
	path := filepath.Join(t.TempDir(), "key")
	require.NoError(t, os.WriteFile(path, []byte("my-key"), 0o600))

	err := d.PushKey(context.Background(), "vm1", "rg1", path)
	assert.Error(t, err, "caller (lifecycle stage 3) treats this as non-fatal, but PushKey itself still reports it")
}

func TestFakeDriverRoundTrip(t *testing.T) {
	f := NewFakeDriver()
	path := filepath.Join(t.TempDir(), "key")
	require.NoError(t, os.WriteFile(path, []byte("material"), 0o600))

	require.NoError(t, f.PushKey(context.Background(), "vm1", "rg1", path))

	fetchPath := filepath.Join(t.TempDir(), "fetched")
	ok, err := f.TryFetchKey(context.Background(), "vm1", "rg1", fetchPath)
	require.NoError(t, err)
	require.True(t, ok)

	data, err := os.ReadFile(fetchPath)
	require.NoError(t, err)
	assert.Equal(t, "material", string(data))
}
