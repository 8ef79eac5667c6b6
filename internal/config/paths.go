// Package config loads and saves the TOML and JSON documents azlin keeps
// under ~/.azlin (spec §6), enforcing the 0700/0600 mode discipline shared
// by every persisted file in this module.
package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	dirMode  os.FileMode = 0o700
	fileMode os.FileMode = 0o600
)

// Dir returns ~/.azlin, creating it with mode 0700 if absent.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	dir := filepath.Join(home, ".azlin")
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}
	if err := repairDirMode(dir); err != nil {
		return "", err
	}
	return dir, nil
}

// repairDirMode auto-repairs an insecure directory mode to 0700, per §4.4.
func repairDirMode(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("stat %s: %w", dir, err)
	}
	if info.Mode().Perm() != dirMode {
		if err := os.Chmod(dir, dirMode); err != nil {
			return fmt.Errorf("repair mode on %s: %w", dir, err)
		}
	}
	return nil
}

// ConfigPath returns the path to config.toml.
func ConfigPath(dir string) string { return filepath.Join(dir, "config.toml") }

// BastionConfigPath returns the path to bastion_config.toml.
func BastionConfigPath(dir string) string { return filepath.Join(dir, "bastion_config.toml") }

// QuotasPath returns the path to quotas.json.
func QuotasPath(dir string) string { return filepath.Join(dir, "quotas.json") }

// CachePath returns the path to vm_list_cache.json.
func CachePath(dir string) string { return filepath.Join(dir, "vm_list_cache.json") }

// ConnectionsPath returns the path to connections.json.
func ConnectionsPath(dir string) string { return filepath.Join(dir, "connections.json") }

// SSHKeyPaths returns the private/public key paths under ~/.azlin/ssh.
func SSHKeyPaths(dir string) (priv, pub string) {
	sshDir := filepath.Join(dir, "ssh")
	return filepath.Join(sshDir, "id_ed25519_azlin"), filepath.Join(sshDir, "id_ed25519_azlin.pub")
}

// AtomicWriteFile writes data to path via a temp file + rename, matching
// the atomic-write discipline required by §4.4 for every persisted
// document: serialize to <path>.tmp, chmod 0600, rename over the target.
// A stale .tmp left behind by a crashed prior write is simply overwritten.
func AtomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, fileMode); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Chmod(tmp, fileMode); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("chmod %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename %s to %s: %w", tmp, path, err)
	}
	return nil
}
