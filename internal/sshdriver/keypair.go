package sshdriver

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/ssh"

	"github.com/vexxhost/azlin/internal/azerr"
)

// EnsureKeyPair returns true if a keypair already exists at privPath/
// pubPath; otherwise it generates an ed25519 pair, writing the private key
// with mode 0600 (spec §3 Port Allocation sibling invariant; §4.1 stage 3).
func EnsureKeyPair(privPath, pubPath string) (generated bool, err error) {
	if _, statErr := os.Stat(privPath); statErr == nil {
		return false, nil
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return false, azerr.Wrap(azerr.InternalError, "generate ssh key pair", err)
	}

	if err := os.MkdirAll(filepath.Dir(privPath), 0o700); err != nil {
		return false, azerr.Wrap(azerr.InternalError, "create ssh key directory", err)
	}

	block, err := marshalPrivateKeyPEM(priv)
	if err != nil {
		return false, err
	}
	if err := os.WriteFile(privPath, pem.EncodeToMemory(block), 0o600); err != nil {
		return false, azerr.Wrap(azerr.InternalError, "write ssh private key", err)
	}
	if err := os.Chmod(privPath, 0o600); err != nil {
		return false, azerr.Wrap(azerr.InternalError, "chmod ssh private key", err)
	}

	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		return false, azerr.Wrap(azerr.InternalError, "derive ssh public key", err)
	}
	if err := os.WriteFile(pubPath, ssh.MarshalAuthorizedKey(sshPub), 0o644); err != nil {
		return false, azerr.Wrap(azerr.InternalError, "write ssh public key", err)
	}

	return true, nil
}

func marshalPrivateKeyPEM(priv ed25519.PrivateKey) (*pem.Block, error) {
	// ed25519 has no standard PKCS#1-style ASN.1 shape used elsewhere in
	// this codebase; OpenSSH's own private key PEM format is produced via
	// golang.org/x/crypto/ssh's MarshalPrivateKey, matching what `ssh-keygen
	// -t ed25519` would write and what ssh.ParsePrivateKey expects back.
	block, err := ssh.MarshalPrivateKey(priv, "")
	if err != nil {
		return nil, azerr.Wrap(azerr.InternalError, "marshal ssh private key", err)
	}
	return block, nil
}

// ReadPublicKey returns the authorized_keys-format contents of pubPath.
func ReadPublicKey(pubPath string) (string, error) {
	data, err := os.ReadFile(pubPath)
	if err != nil {
		return "", fmt.Errorf("read public key: %w", err)
	}
	return string(data), nil
}
