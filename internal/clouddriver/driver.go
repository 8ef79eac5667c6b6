// Package clouddriver defines the Cloud Driver seam (spec §6): the only
// point where the core talks to the actual cloud. The core never links a
// provider SDK directly; every concrete implementation shells out to the
// platform CLI and parses its JSON stdout, following the teacher's
// os/exec-plus-JSON idiom for external-tool invocation
// (oma/services/vma_ssh_manager.go, migratekit/internal/nbdcopy).
package clouddriver

import (
	"bytes"
	"context"
	"os/exec"
	"time"
)

// PowerState is one of the VM Record's mutable power states (spec §3).
type PowerState string

const (
	PowerRunning     PowerState = "running"
	PowerStopped     PowerState = "stopped"
	PowerDeallocated PowerState = "deallocated"
	PowerStarting    PowerState = "starting"
	PowerStopping    PowerState = "stopping"
	PowerUnknown     PowerState = "unknown"
)

// VMRecord is the core's cloud-agnostic view of a VM (spec §3).
type VMRecord struct {
	ResourceGroup     string
	Name              string
	Region            string
	Size              string
	Image             string
	CreatedAt         time.Time
	Tags              map[string]string
	PowerState        PowerState
	PublicIP          string
	PrivateIP         string
	ProvisioningState string
}

// HasIP reports whether the record carries at least one IP, the invariant
// §3 requires of any cached "running" record.
func (v VMRecord) HasIP() bool { return v.PublicIP != "" || v.PrivateIP != "" }

// VMSpec is the provisioning input translated from a lifecycle
// ProvisionRequest down to what the driver needs to create a VM.
type VMSpec struct {
	ResourceGroup     string
	Name              string
	Region            string
	Size              string
	Image             string
	SourceSnapshotID  string // when set, az vm create uses it as the image; Clone passes its snapshot ID via Image and leaves this empty
	SSHPublicKey      string
	CloudInit         string
	Tags              map[string]string
}

// Bastion describes a discovered or configured Bastion resource.
type Bastion struct {
	Name          string
	ResourceGroup string
	Region        string
}

// StorageAccount, Disk, Snapshot back the Orphan Detector (spec §4.5).
type StorageAccount struct {
	Name          string
	ResourceGroup string
	Region        string
	Tier          string
	SizeGB        int
	CreatedAt     time.Time
	ConnectedVMs  []string
	Shared        bool
}

type Disk struct {
	ID           string
	Name         string
	ResourceGroup string
	SizeGB       int
	Tier         string // Premium | Standard
	ManagedBy    string // VM resource ID, empty if unattached
	LastVM       string
	CreatedAt    time.Time
	Tags         map[string]string
}

type Snapshot struct {
	ID            string
	Name          string
	ResourceGroup string
	SizeGB        int
	SourceVM      string
	CreatedAt     time.Time
	Tags          map[string]string
}

// Process is a handle to a spawned child, e.g. a Bastion tunnel (spec §3
// Tunnel Process, §6 CreateBastionTunnel).
type Process interface {
	// Alive reports whether the child is still running.
	Alive() bool
	// Stderr returns everything captured on the child's stderr so far.
	Stderr() string
	// Terminate sends TERM, waits grace, then KILL, per §5.
	Terminate(grace time.Duration) error
	// Wait blocks until the child exits.
	Wait() error
}

// Driver is the provider-independent Cloud Driver interface (spec §6).
// Every method may block for up to the subprocess timeouts in §5; callers
// pass a context to bound that.
type Driver interface {
	AuthStatus(ctx context.Context) (subscriptionID, tenantID string, err error)

	// EnsureResourceGroup creates rg in region if absent; idempotent.
	// created reports whether this call is the one that created rg, so
	// callers that need to undo their own work can decide whether undoing
	// the resource group too is their responsibility.
	EnsureResourceGroup(ctx context.Context, rg, region string) (created bool, err error)
	// DeleteResourceGroup removes rg and everything still in it. Only
	// safe to call when the caller created rg itself (spec §4.1 rollback).
	DeleteResourceGroup(ctx context.Context, rg string) error

	CreateVM(ctx context.Context, spec VMSpec) (VMRecord, error)
	ShowVM(ctx context.Context, rg, name string) (VMRecord, bool, error)
	DeleteVM(ctx context.Context, rg, name string) error
	ListVMs(ctx context.Context, rg string) ([]VMRecord, error)
	ListVMsByTag(ctx context.Context, key, value string) ([]VMRecord, error)

	// DeleteNIC and DeletePublicIP undo the NIC and public IP `az vm
	// create` provisions alongside a VM (spec §4.1 rollback); `az vm
	// delete` does not cascade to either, so Provision's rollback must
	// delete them itself.
	DeleteNIC(ctx context.Context, rg, name string) error
	DeletePublicIP(ctx context.Context, rg, name string) error

	StartVM(ctx context.Context, rg, name string) error
	StopVM(ctx context.Context, rg, name string) error
	DeallocateVM(ctx context.Context, rg, name string) error

	ListBastions(ctx context.Context, rg string) ([]Bastion, error)
	CreateBastion(ctx context.Context, rg, name, region, vnet string) (Bastion, error)
	DeleteBastion(ctx context.Context, rg, name string) error
	// CreateBastionTunnel spawns the provider CLI's tunnel subcommand bound
	// to 127.0.0.1:localPort, forwarding to the VM's remotePort (default
	// 22), per §6.
	CreateBastionTunnel(ctx context.Context, bastion Bastion, targetResourceID string, localPort, remotePort int) (Process, error)

	CreateStorage(ctx context.Context, rg, name, region, tier string) (StorageAccount, error)
	ListStorage(ctx context.Context, rg string) ([]StorageAccount, error)
	DeleteStorage(ctx context.Context, rg, name string) error

	ListDisks(ctx context.Context, rg string) ([]Disk, error)
	DeleteDisk(ctx context.Context, rg, name string) error
	ListSnapshots(ctx context.Context, rg string) ([]Snapshot, error)
	DeleteSnapshot(ctx context.Context, rg, name string) error
	// CreateSnapshot snapshots sourceDiskID (spec §4.1 Clone = snapshot +
	// provision from snapshot).
	CreateSnapshot(ctx context.Context, rg, sourceDiskID, snapshotName string) (Snapshot, error)

	SetTags(ctx context.Context, resourceID string, tags map[string]string) error
	GetTags(ctx context.Context, resourceID string) (map[string]string, error)
}

// CommandRunner abstracts exec.CommandContext for testability, following
// the same seam the teacher leaves around os/exec calls in
// oma/services/vma_ssh_manager.go (constructing *exec.Cmd and running it
// behind a narrow method the test suite can fake).
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

// ExecRunner is the real CommandRunner, shelling out via os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}
