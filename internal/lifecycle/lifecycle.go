// Package lifecycle implements the Lifecycle Orchestrator (spec §4.1): an
// 8-stage Provision pipeline plus Destroy/Stop/Start/Clone, grounded on the
// teacher's staged, component-composed engine shape
// (oma/failover/unified_failover_engine.go) and its LIFO rollback-on-abort
// discipline.
package lifecycle

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vexxhost/azlin/internal/azerr"
	"github.com/vexxhost/azlin/internal/cache"
	"github.com/vexxhost/azlin/internal/clouddriver"
	"github.com/vexxhost/azlin/internal/decision"
	"github.com/vexxhost/azlin/internal/opslog"
	"github.com/vexxhost/azlin/internal/sshdriver"
	"github.com/vexxhost/azlin/internal/tags"
	"github.com/vexxhost/azlin/internal/vault"
)

// sizeTierSKUs maps the shorthand size tiers to concrete SKUs (spec §4.1:
// "s|m|l|xl mapped to concrete SKUs, overridable by raw SKU").
var sizeTierSKUs = map[string]string{
	"s":  "Standard_B2s",
	"m":  "Standard_D2s_v5",
	"l":  "Standard_D4s_v5",
	"xl": "Standard_D8s_v5",
}

// ResolveSKU returns the concrete SKU for a size tier, or sizeOrSKU
// unchanged if it is not one of the four recognized tiers (a raw SKU
// override).
func ResolveSKU(sizeOrSKU string) string {
	if sku, ok := sizeTierSKUs[sizeOrSKU]; ok {
		return sku
	}
	return sizeOrSKU
}

// cloudInitTemplate installs the fixed dev toolchain on first boot (spec
// §4.1 stage 5). The marker file lets stage 6's readiness poll detect
// completion over SSH.
const cloudInitTemplate = `#cloud-config
package_update: true
packages:
  - build-essential
  - git
  - tmux
  - curl
runcmd:
  - touch /var/lib/azlin-cloud-init-done
`

const (
	ReadinessPollAttempts = 18
	ReadinessPollInterval = 10 * time.Second

	DefaultSSHPort = 22
)

// ProvisionRequest is Provision's input (spec §4.1).
type ProvisionRequest struct {
	Name          string
	Region        string
	SizeTier      string // "s"|"m"|"l"|"xl" or a raw SKU
	ResourceGroup string // auto-created if absent
	Image         string
	RepoURL       string // optional post-install clone
	NFSStorage    *decision.NFSOptions
	UseBastion    bool
}

// VMDetails is Provision's success result.
type VMDetails struct {
	Record  clouddriver.VMRecord
	Existed bool // true if this was the idempotent short-circuit (stage 2)
}

// Orchestrator wires together every driver seam and supporting component
// Provision/Destroy/Stop/Start/Clone need.
type Orchestrator struct {
	Driver   clouddriver.Driver
	SSH      sshdriver.Driver
	Vault    vault.Driver
	Cache    *cache.Store
	Decision *decision.Orchestrator
	Tracker  *opslog.Tracker

	KeyDir string // directory holding per-VM SSH keypairs
}

func New(driver clouddriver.Driver, ssh sshdriver.Driver, v vault.Driver, c *cache.Store, d *decision.Orchestrator, tracker *opslog.Tracker, keyDir string) *Orchestrator {
	return &Orchestrator{Driver: driver, SSH: ssh, Vault: v, Cache: c, Decision: d, Tracker: tracker, KeyDir: keyDir}
}

func (o *Orchestrator) keyPaths(rg, name string) (privPath, pubPath string) {
	base := filepath.Join(o.KeyDir, rg+"-"+name)
	return base, base + ".pub"
}

// Provision runs the 8-stage pipeline of spec §4.1, rolling back any
// stage-5+ resources it created if a later stage fails fatally.
func (o *Orchestrator) Provision(ctx context.Context, req ProvisionRequest) (VMDetails, error) {
	ctx, opID := o.Tracker.Start(ctx, "provision", log.Fields{"vm": req.Name, "rg": req.ResourceGroup})
	var provisionErr error
	defer func() { o.Tracker.End(opID, provisionErr) }()

	// Stage 1: preflight.
	if _, _, err := o.Driver.AuthStatus(ctx); err != nil {
		provisionErr = err
		return VMDetails{}, err
	}

	// Stage 2: name & existence check.
	if err := ValidateVMName(req.Name); err != nil {
		provisionErr = err
		return VMDetails{}, err
	}
	if existing, found, err := o.Driver.ShowVM(ctx, req.ResourceGroup, req.Name); err != nil {
		provisionErr = err
		return VMDetails{}, err
	} else if found {
		return VMDetails{Record: existing, Existed: true}, nil
	}

	var rollbackStack []func(context.Context) error
	pushRollback := func(f func(context.Context) error) { rollbackStack = append(rollbackStack, f) }
	runRollback := func() {
		for i := len(rollbackStack) - 1; i >= 0; i-- {
			if err := rollbackStack[i](ctx); err != nil {
				log.WithError(err).Warn("provision rollback step failed, continuing with the rest")
			}
		}
	}

	rgCreated, err := o.Driver.EnsureResourceGroup(ctx, req.ResourceGroup, req.Region)
	if err != nil {
		provisionErr = err
		return VMDetails{}, err
	}
	if rgCreated {
		pushRollback(func(ctx context.Context) error { return o.Driver.DeleteResourceGroup(ctx, req.ResourceGroup) })
	}

	// Stage 3: key material.
	privPath, pubPath := o.keyPaths(req.ResourceGroup, req.Name)
	fetched := false
	if o.Vault != nil {
		var err error
		fetched, err = o.Vault.TryFetchKey(ctx, req.Name, req.ResourceGroup, privPath)
		if err != nil {
			log.WithError(err).Debug("vault key fetch failed, falling back to local generation")
		}
	}
	if !fetched {
		if _, err := sshdriver.EnsureKeyPair(privPath, pubPath); err != nil {
			provisionErr = err
			return VMDetails{}, err
		}
		if o.Vault != nil {
			if err := o.Vault.PushKey(ctx, req.Name, req.ResourceGroup, privPath); err != nil {
				log.WithError(err).Debug("failed to push new key to vault, continuing")
			}
		}
	}
	pubKey, err := sshdriver.ReadPublicKey(pubPath)
	if err != nil {
		provisionErr = err
		return VMDetails{}, err
	}

	// Stage 4: resource decision.
	if o.Decision != nil && req.UseBastion {
		bastionDecision, err := o.Decision.EnsureBastion(ctx, decision.BastionOptions{
			ResourceGroup: req.ResourceGroup, Region: req.Region, AllowPublicIP: true,
		})
		if err != nil {
			provisionErr = err
			return VMDetails{}, err
		}
		if bastionDecision.Outcome == decision.OutcomeCancel {
			provisionErr = azerr.New(azerr.ValidationError, "provisioning cancelled at resource decision stage")
			return VMDetails{}, provisionErr
		}
	}
	if o.Decision != nil && req.NFSStorage != nil {
		nfsDecision, err := o.Decision.EnsureNFSAccess(ctx, *req.NFSStorage)
		if err != nil {
			provisionErr = err
			return VMDetails{}, err
		}
		if nfsDecision.Outcome == decision.OutcomeCancel {
			provisionErr = azerr.New(azerr.ValidationError, "provisioning cancelled at resource decision stage")
			return VMDetails{}, provisionErr
		}
	}

	// Stage 5: provision call.
	spec := clouddriver.VMSpec{
		ResourceGroup: req.ResourceGroup, Name: req.Name, Region: req.Region,
		Size: ResolveSKU(req.SizeTier), Image: req.Image,
		SSHPublicKey: pubKey, CloudInit: cloudInitTemplate,
		Tags: tags.Provenance(""),
	}
	record, err := o.Driver.CreateVM(ctx, spec)
	if err != nil {
		provisionErr = err
		return VMDetails{}, err
	}
	// Pushed in dependency order so the LIFO rollback deletes the VM
	// before the NIC/public IP `az vm create` bundled in alongside it
	// (spec §4.1: "delete VM, delete NIC, delete public IP, delete
	// RG-if-we-created-it"); az vm create's default naming convention
	// names them after the VM.
	pushRollback(func(ctx context.Context) error {
		return o.Driver.DeletePublicIP(ctx, req.ResourceGroup, req.Name+"PublicIP")
	})
	pushRollback(func(ctx context.Context) error {
		return o.Driver.DeleteNIC(ctx, req.ResourceGroup, req.Name+"VMNic")
	})
	pushRollback(func(ctx context.Context) error { return o.Driver.DeleteVM(ctx, req.ResourceGroup, req.Name) })

	// Stage 6: readiness (non-fatal timeout).
	if record.HasIP() {
		host := record.PublicIP
		if host == "" {
			host = record.PrivateIP
		}
		if err := o.waitForReady(ctx, host, privPath); err != nil {
			log.WithError(err).Warn("readiness poll timed out, continuing with a warning")
		}
	}

	// Stage 7: post-install hooks (fails soft).
	if req.RepoURL != "" {
		o.cloneRepo(ctx, record, privPath, req.RepoURL)
	}

	// Stage 8: record & cache.
	if err := o.Driver.SetTags(ctx, fmt.Sprintf("%s/%s", req.ResourceGroup, req.Name), tags.Provenance("")); err != nil {
		log.WithError(err).Debug("tag-add failed on non-essential tags, continuing")
	}
	if err := o.Cache.SetFull(req.ResourceGroup, req.Name,
		cache.Immutable{Region: record.Region, Size: record.Size, Image: record.Image, CreatedAt: record.CreatedAt, Tags: record.Tags},
		cache.Mutable{PowerState: record.PowerState, PublicIP: record.PublicIP, PrivateIP: record.PrivateIP, ProvisioningState: record.ProvisioningState},
	); err != nil {
		provisionErr = err
		runRollback()
		return VMDetails{}, err
	}

	return VMDetails{Record: record}, nil
}

// waitForReady polls SSH readiness then cloud-init completion, up to
// ReadinessPollAttempts x ReadinessPollInterval (spec §4.1 stage 6: "max 18
// attempts x 10s = 3 min").
func (o *Orchestrator) waitForReady(ctx context.Context, host, keyPath string) error {
	if err := o.SSH.WaitForPortReady(ctx, host, DefaultSSHPort, keyPath, ReadinessPollAttempts*ReadinessPollInterval); err != nil {
		return err
	}
	desc := sshdriver.Descriptor{Host: host, Port: DefaultSSHPort, User: "azlin", PrivateKeyPath: keyPath}
	for attempt := 0; attempt < ReadinessPollAttempts; attempt++ {
		stdout, _, _, err := o.SSH.ExecuteRemote(ctx, desc, "test -f /var/lib/azlin-cloud-init-done && echo done", 10*time.Second)
		if err == nil && stdout != "" {
			return nil
		}
		select {
		case <-ctx.Done():
			return azerr.Wrap(azerr.Timeout, "cloud-init wait cancelled", ctx.Err())
		case <-time.After(ReadinessPollInterval):
		}
	}
	return azerr.New(azerr.Timeout, "cloud-init did not complete within 3 minutes")
}

// cloneRepo runs `git clone` over SSH, logging (not returning) any
// failure: stage 7 fails soft, the VM is kept regardless (spec §4.1).
func (o *Orchestrator) cloneRepo(ctx context.Context, record clouddriver.VMRecord, keyPath, repoURL string) {
	host := record.PublicIP
	if host == "" {
		host = record.PrivateIP
	}
	desc := sshdriver.Descriptor{Host: host, Port: DefaultSSHPort, User: "azlin", PrivateKeyPath: keyPath}
	cmd := fmt.Sprintf("git clone %s", repoURL)
	_, stderr, _, err := o.SSH.ExecuteRemote(ctx, desc, cmd, 5*time.Minute)
	if err != nil {
		log.WithFields(log.Fields{"vm": record.Name, "repo": repoURL, "stderr": stderr}).
			Warn("post-install repo clone failed, VM is kept")
	}
}

// Destroy removes a VM and its owned network resources: the NIC and public
// IP `az vm create` bundled in under its default naming convention, which
// `az vm delete` does not cascade to. Absent resources are a success
// (idempotent, spec §3). force is not used: Destroy does not check for
// active tunnels or connections to the VM.
func (o *Orchestrator) Destroy(ctx context.Context, name, rg string, force bool) error {
	ctx, opID := o.Tracker.Start(ctx, "destroy", log.Fields{"vm": name, "rg": rg})
	err := o.Driver.DeleteVM(ctx, rg, name)
	if err == nil {
		err = o.Driver.DeleteNIC(ctx, rg, name+"VMNic")
	}
	if err == nil {
		err = o.Driver.DeletePublicIP(ctx, rg, name+"PublicIP")
	}
	if err == nil {
		if cacheErr := o.Cache.Delete(rg, name); cacheErr != nil {
			log.WithError(cacheErr).Debug("failed to evict destroyed VM from cache")
		}
	}
	o.Tracker.End(opID, err)
	return err
}

// Stop transitions a VM to stopped (deallocate if requested), idempotent:
// an already-stopped VM is a success.
func (o *Orchestrator) Stop(ctx context.Context, name, rg string, deallocate bool) error {
	ctx, opID := o.Tracker.Start(ctx, "stop", log.Fields{"vm": name, "rg": rg})
	var err error
	if deallocate {
		err = o.Driver.DeallocateVM(ctx, rg, name)
	} else {
		err = o.Driver.StopVM(ctx, rg, name)
	}
	o.Tracker.End(opID, err)
	return err
}

// Start transitions a VM to running, idempotent: an already-running VM is
// a success.
func (o *Orchestrator) Start(ctx context.Context, name, rg string) error {
	ctx, opID := o.Tracker.Start(ctx, "start", log.Fields{"vm": name, "rg": rg})
	err := o.Driver.StartVM(ctx, rg, name)
	o.Tracker.End(opID, err)
	return err
}

// CloneRequest is Clone's input: a source VM identity and a target name.
type CloneRequest struct {
	SourceName          string
	SourceResourceGroup string
	TargetName          string
	TargetResourceGroup string
	TargetRegion        string
	SizeTier            string
}

// Clone snapshots the source VM's disk and provisions a new VM from that
// snapshot (spec §4.1: "Snapshot + provision from snapshot").
func (o *Orchestrator) Clone(ctx context.Context, req CloneRequest) (VMDetails, error) {
	ctx, opID := o.Tracker.Start(ctx, "clone", log.Fields{"source": req.SourceName, "target": req.TargetName})
	var cloneErr error
	defer func() { o.Tracker.End(opID, cloneErr) }()

	source, found, err := o.Driver.ShowVM(ctx, req.SourceResourceGroup, req.SourceName)
	if err != nil {
		cloneErr = err
		return VMDetails{}, err
	}
	if !found {
		cloneErr = azerr.New(azerr.ResourceNotFound, "clone source VM not found")
		return VMDetails{}, cloneErr
	}

	snapshotName := fmt.Sprintf("%s-clone-snap", req.SourceName)
	sourceDiskID := fmt.Sprintf("%s/%s-osdisk", req.SourceResourceGroup, req.SourceName)
	snapshot, err := o.Driver.CreateSnapshot(ctx, req.SourceResourceGroup, sourceDiskID, snapshotName)
	if err != nil {
		cloneErr = err
		return VMDetails{}, err
	}

	region := req.TargetRegion
	if region == "" {
		region = source.Region
	}
	details, err := o.Provision(ctx, ProvisionRequest{
		Name: req.TargetName, Region: region, SizeTier: req.SizeTier,
		ResourceGroup: req.TargetResourceGroup, Image: snapshot.ID,
	})
	cloneErr = err
	return details, err
}
