package sshdriver

import (
	"context"
	"net"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vexxhost/azlin/internal/azerr"
)

func testKeyPath(t *testing.T) string {
	t.Helper()
	priv := filepath.Join(t.TempDir(), "id_ed25519_azlin")
	_, err := EnsureKeyPair(priv, priv+".pub")
	require.NoError(t, err)
	return priv
}

func TestClientConfigDefaultsConnectTimeout(t *testing.T) {
	cfg, err := clientConfig(Descriptor{Host: "127.0.0.1", Port: 22, User: "azlin", PrivateKeyPath: testKeyPath(t)})
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
}

func TestClientConfigHonorsExplicitConnectTimeout(t *testing.T) {
	cfg, err := clientConfig(Descriptor{
		Host: "127.0.0.1", Port: 22, User: "azlin", PrivateKeyPath: testKeyPath(t), ConnectTimeout: 2 * time.Second,
	})
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, cfg.Timeout)
}

func TestClientConfigMissingKeyFileIsPrereqMissing(t *testing.T) {
	_, err := clientConfig(Descriptor{Host: "127.0.0.1", Port: 22, User: "azlin", PrivateKeyPath: filepath.Join(t.TempDir(), "missing")})
	require.Error(t, err)
	assert.Equal(t, azerr.PrereqMissing, azerr.CodeOf(err))
}

func TestExecuteRemoteDialFailureIsConnectionError(t *testing.T) {
	// Port 1 is reserved and nothing azlin-managed ever listens there, so the
	// dial fails fast with connection-refused rather than timing out.
	d := Descriptor{Host: "127.0.0.1", Port: 1, User: "azlin", PrivateKeyPath: testKeyPath(t)}
	_, _, _, err := ClientDriver{}.ExecuteRemote(context.Background(), d, "true", 2*time.Second)
	require.Error(t, err)
	assert.Equal(t, azerr.ConnectionError, azerr.CodeOf(err))
}

func TestWaitForPortReadySucceedsOnceListening(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	_, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	err = ClientDriver{}.WaitForPortReady(context.Background(), "127.0.0.1", port, "", 2*time.Second)
	assert.NoError(t, err)
}

func TestWaitForPortReadyTimesOutWhenNothingListens(t *testing.T) {
	err := ClientDriver{}.WaitForPortReady(context.Background(), "127.0.0.1", 1, "", 1500*time.Millisecond)
	require.Error(t, err)
	assert.Equal(t, azerr.Timeout, azerr.CodeOf(err))
}

func TestWaitForPortReadyRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := ClientDriver{}.WaitForPortReady(ctx, "127.0.0.1", 1, "", 5*time.Second)
	require.Error(t, err)
	assert.Equal(t, azerr.Timeout, azerr.CodeOf(err))
}
