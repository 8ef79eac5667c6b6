// Package sshdriver implements the SSH Driver seam (spec §6): connect,
// execute, and port-wait, grounded on the pack's one direct user of
// golang.org/x/crypto/ssh for machine access (ravan-provider-orchard),
// generalized to azlin's Descriptor/key-by-path contract.
package sshdriver

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/vexxhost/azlin/internal/azerr"
)

// Descriptor carries everything needed to dial a VM, matching spec §3's
// Connection Descriptor. It is always ephemeral — constructed per
// connection attempt, never persisted.
type Descriptor struct {
	Host            string
	Port            int
	User            string
	PrivateKeyPath  string
	ConnectTimeout  time.Duration
}

// Driver is the internal SSH Driver interface (spec §6). Passwords are
// never used; keys are passed by path.
type Driver interface {
	ExecuteRemote(ctx context.Context, d Descriptor, cmd string, timeout time.Duration) (stdout, stderr string, exitCode int, err error)
	WaitForPortReady(ctx context.Context, host string, port int, keyPath string, timeout time.Duration) error
}

// ClientDriver is the real Driver, dialing via golang.org/x/crypto/ssh.
type ClientDriver struct{}

func loadSigner(keyPath string) (ssh.Signer, error) {
	data, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, azerr.Wrap(azerr.PrereqMissing, "read ssh private key", err)
	}
	signer, err := ssh.ParsePrivateKey(data)
	if err != nil {
		return nil, azerr.Wrap(azerr.InternalError, "parse ssh private key", err)
	}
	return signer, nil
}

func clientConfig(d Descriptor) (*ssh.ClientConfig, error) {
	signer, err := loadSigner(d.PrivateKeyPath)
	if err != nil {
		return nil, err
	}
	timeout := d.ConnectTimeout
	if timeout == 0 {
		timeout = 5 * time.Second // spec §5: "SSH probe 5 s"
	}
	return &ssh.ClientConfig{
		User:            d.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // dev VM fleet, not a hardened bastion target
		Timeout:         timeout,
	}, nil
}

// ExecuteRemote runs cmd over a fresh SSH session and returns its output
// and exit code, classifying dial/auth failures into the §7 taxonomy.
func (ClientDriver) ExecuteRemote(ctx context.Context, d Descriptor, cmd string, timeout time.Duration) (string, string, int, error) {
	cfg, err := clientConfig(d)
	if err != nil {
		return "", "", -1, err
	}

	addr := fmt.Sprintf("%s:%d", d.Host, d.Port)
	dialer := net.Dialer{Timeout: cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return "", "", -1, azerr.Wrap(azerr.ConnectionError, "dial ssh target", err)
	}

	clientConn, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		return "", "", -1, azerr.Wrap(azerr.AuthFailed, "ssh handshake failed", err)
	}
	client := ssh.NewClient(clientConn, chans, reqs)
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return "", "", -1, azerr.Wrap(azerr.ConnectionError, "open ssh session", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- session.Run(cmd) }()

	select {
	case runErr := <-done:
		exitCode := 0
		if runErr != nil {
			if exitErr, ok := runErr.(*ssh.ExitError); ok {
				exitCode = exitErr.ExitStatus()
				runErr = nil
			} else {
				return stdout.String(), stderr.String(), -1, azerr.Wrap(azerr.ConnectionError, "ssh command failed", runErr)
			}
		}
		return stdout.String(), stderr.String(), exitCode, nil
	case <-time.After(timeout):
		session.Close()
		return stdout.String(), stderr.String(), -1, azerr.New(azerr.Timeout, "remote command timed out")
	}
}

// WaitForPortReady polls host:port until a TCP connect succeeds or timeout
// elapses (spec §4.1 stage 6 readiness poll, spec §4.2 tunnel readiness).
// keyPath is accepted for interface symmetry with the teacher's
// auth-bearing probes but is unused by a bare TCP connect.
func (ClientDriver) WaitForPortReady(ctx context.Context, host string, port int, keyPath string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	addr := fmt.Sprintf("%s:%d", host, port)

	for {
		if ctx.Err() != nil {
			return azerr.Wrap(azerr.Timeout, "port readiness wait cancelled", ctx.Err())
		}
		conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
		if err == nil {
			conn.Close()
			return nil
		}
		if time.Now().After(deadline) {
			return azerr.New(azerr.Timeout, fmt.Sprintf("port %d on %s not ready within %s", port, host, timeout))
		}
		select {
		case <-ctx.Done():
			return azerr.Wrap(azerr.Timeout, "port readiness wait cancelled", ctx.Err())
		case <-time.After(time.Second):
		}
	}
}
