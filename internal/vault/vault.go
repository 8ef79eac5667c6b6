// Package vault implements the Secret Vault Driver seam (spec §6): the
// Lifecycle Orchestrator's stage 3 tries this before falling back to local
// key generation, then pushes newly generated keys back.
package vault

import (
	"context"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/vexxhost/azlin/internal/azerr"
)

// Driver is the internal Secret Vault Driver interface (spec §6).
type Driver interface {
	TryFetchKey(ctx context.Context, vm, rg, localPath string) (bool, error)
	PushKey(ctx context.Context, vm, rg, localPath string) error
}

// AzKeyVaultDriver implements Driver by shelling to `az keyvault secret`,
// following the same CLI-shelling seam as clouddriver.AzCLIDriver.
type AzKeyVaultDriver struct {
	VaultName string
	Runner    CommandRunner
}

// CommandRunner mirrors clouddriver.CommandRunner to keep this package
// independently testable without importing clouddriver for a type alias.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

func secretName(rg, vm string) string { return "azlin-" + rg + "-" + vm }

// TryFetchKey looks up the keypair secret and writes it to localPath with
// mode 0600 on success. A miss is recovered locally (spec §7): it returns
// (false, nil), not an error.
func (d *AzKeyVaultDriver) TryFetchKey(ctx context.Context, vm, rg, localPath string) (bool, error) {
	if d.VaultName == "" {
		return false, nil
	}
	out, stderr, err := d.Runner.Run(ctx, "az", "keyvault", "secret", "show",
		"--vault-name", d.VaultName, "--name", secretName(rg, vm), "--query", "value", "-o", "tsv")
	if err != nil {
		log.WithFields(log.Fields{"vm": vm, "rg": rg, "stderr": string(stderr)}).
			Debug("secret vault fetch miss, falling back to local key generation")
		return false, nil
	}
	if err := os.WriteFile(localPath, out, 0o600); err != nil {
		return false, azerr.Wrap(azerr.InternalError, "write fetched key", err)
	}
	return true, nil
}

// PushKey uploads the local keypair back to the vault keyed by (rg, vm).
// Failures here are non-fatal to provisioning per §4.1 stage 3: the VM
// still has its locally generated key, just unmirrored.
func (d *AzKeyVaultDriver) PushKey(ctx context.Context, vm, rg, localPath string) error {
	if d.VaultName == "" {
		return nil
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		return azerr.Wrap(azerr.InternalError, "read local key for vault push", err)
	}
	_, stderr, err := d.Runner.Run(ctx, "az", "keyvault", "secret", "set",
		"--vault-name", d.VaultName, "--name", secretName(rg, vm), "--value", string(data))
	if err != nil {
		log.WithFields(log.Fields{"vm": vm, "rg": rg, "stderr": string(stderr)}).
			Warn("failed to push new key to secret vault")
		return azerr.Wrap(azerr.InternalError, "push key to vault", err)
	}
	return nil
}
