package sshdriver

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/vexxhost/azlin/internal/azerr"
)

// CopyToRemote pushes localPath to remotePath on the VM identified by d,
// over an SFTP subsystem layered on the SSH connection, grounding the
// `cp` command's local→remote leg (spec §6) in the same x/crypto/ssh +
// pkg/sftp pairing ravan-provider-orchard uses for machine file access.
func CopyToRemote(ctx context.Context, d Descriptor, localPath, remotePath string) error {
	client, closeFn, err := dialSFTP(ctx, d)
	if err != nil {
		return err
	}
	defer closeFn()

	local, err := os.Open(localPath)
	if err != nil {
		return azerr.Wrap(azerr.InternalError, "open local source", err)
	}
	defer local.Close()

	if err := client.MkdirAll(filepath.Dir(remotePath)); err != nil {
		return azerr.Wrap(azerr.ConnectionError, "create remote directory", err)
	}
	remote, err := client.Create(remotePath)
	if err != nil {
		return azerr.Wrap(azerr.ConnectionError, "create remote file", err)
	}
	defer remote.Close()

	if _, err := io.Copy(remote, local); err != nil {
		return azerr.Wrap(azerr.ConnectionError, "copy to remote", err)
	}
	return nil
}

// CopyFromRemote pulls remotePath on the VM identified by d down to
// localPath, the remote→local leg of `cp`.
func CopyFromRemote(ctx context.Context, d Descriptor, remotePath, localPath string) error {
	client, closeFn, err := dialSFTP(ctx, d)
	if err != nil {
		return err
	}
	defer closeFn()

	remote, err := client.Open(remotePath)
	if err != nil {
		return azerr.Wrap(azerr.ResourceNotFound, "open remote source", err)
	}
	defer remote.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return azerr.Wrap(azerr.InternalError, "create local directory", err)
	}
	local, err := os.Create(localPath)
	if err != nil {
		return azerr.Wrap(azerr.InternalError, "create local file", err)
	}
	defer local.Close()

	if _, err := io.Copy(local, remote); err != nil {
		return azerr.Wrap(azerr.ConnectionError, "copy from remote", err)
	}
	return nil
}

func dialSFTP(ctx context.Context, d Descriptor) (*sftp.Client, func(), error) {
	cfg, err := clientConfig(d)
	if err != nil {
		return nil, nil, err
	}
	addr := fmt.Sprintf("%s:%d", d.Host, d.Port)
	dialer := net.Dialer{Timeout: cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, nil, azerr.Wrap(azerr.ConnectionError, "dial sftp target", err)
	}

	clientConn, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		return nil, nil, azerr.Wrap(azerr.AuthFailed, "ssh handshake failed", err)
	}
	sshClient := ssh.NewClient(clientConn, chans, reqs)

	client, err := sftp.NewClient(sshClient)
	if err != nil {
		sshClient.Close()
		return nil, nil, azerr.Wrap(azerr.ConnectionError, "open sftp subsystem", err)
	}

	return client, func() { client.Close(); sshClient.Close() }, nil
}
