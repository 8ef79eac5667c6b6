package clouddriver

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/vexxhost/azlin/internal/azerr"
)

// FakeDriver is an in-memory Driver double used across the core's test
// suites, filling the role the teacher's DATA-DOG/go-sqlmock fills for its
// (dropped, see DESIGN.md) SQL layer: a hand-rolled fake rather than a
// mocking framework, since Driver's surface is small and behavioral
// fidelity (idempotence, not-found semantics) matters more than call
// verification.
type FakeDriver struct {
	mu sync.Mutex

	Subscription string
	Tenant       string

	VMs            map[string]VMRecord // key "rg:name"
	ResourceGroups map[string]bool
	NICs           map[string]bool // key "rg:name", mirrors the NIC az vm create bundles in
	PublicIPs      map[string]bool // key "rg:name", mirrors the public IP az vm create bundles in
	Bastions       map[string][]Bastion
	Storage        map[string][]StorageAccount
	Disks          map[string][]Disk
	Snapshots      map[string][]Snapshot
	Tags           map[string]map[string]string

	// CreateVMErr, when set, is returned by CreateVM unconditionally.
	CreateVMErr error
	// Tunnels records every CreateBastionTunnel call's resulting fake process.
	Tunnels []*FakeProcess
}

func NewFakeDriver() *FakeDriver {
	return &FakeDriver{
		VMs:            map[string]VMRecord{},
		ResourceGroups: map[string]bool{},
		NICs:           map[string]bool{},
		PublicIPs:      map[string]bool{},
		Bastions:       map[string][]Bastion{},
		Storage:        map[string][]StorageAccount{},
		Disks:          map[string][]Disk{},
		Snapshots:      map[string][]Snapshot{},
		Tags:           map[string]map[string]string{},
	}
}

func key(rg, name string) string { return rg + ":" + name }

func (f *FakeDriver) AuthStatus(ctx context.Context) (string, string, error) {
	return f.Subscription, f.Tenant, nil
}

func (f *FakeDriver) EnsureResourceGroup(ctx context.Context, rg, region string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ResourceGroups[rg] {
		return false, nil
	}
	f.ResourceGroups[rg] = true
	return true, nil
}

func (f *FakeDriver) DeleteResourceGroup(ctx context.Context, rg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.ResourceGroups, rg)
	delete(f.Storage, rg)
	delete(f.Disks, rg)
	delete(f.Snapshots, rg)
	delete(f.Bastions, rg)
	for k := range f.VMs {
		if strings.HasPrefix(k, rg+":") {
			delete(f.VMs, k)
		}
	}
	for k := range f.NICs {
		if strings.HasPrefix(k, rg+":") {
			delete(f.NICs, k)
		}
	}
	for k := range f.PublicIPs {
		if strings.HasPrefix(k, rg+":") {
			delete(f.PublicIPs, k)
		}
	}
	return nil
}

func (f *FakeDriver) CreateSnapshot(ctx context.Context, rg, sourceDiskID, snapshotName string) (Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := Snapshot{ID: sourceDiskID, Name: snapshotName, ResourceGroup: rg}
	f.Snapshots[rg] = append(f.Snapshots[rg], s)
	return s, nil
}

func (f *FakeDriver) CreateVM(ctx context.Context, spec VMSpec) (VMRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateVMErr != nil {
		return VMRecord{}, f.CreateVMErr
	}
	k := key(spec.ResourceGroup, spec.Name)
	if existing, ok := f.VMs[k]; ok {
		return existing, nil // idempotent per spec §3
	}
	rec := VMRecord{
		ResourceGroup: spec.ResourceGroup, Name: spec.Name, Region: spec.Region,
		Size: spec.Size, Image: spec.Image, Tags: spec.Tags,
		PowerState: PowerRunning, PublicIP: "203.0.113.10", PrivateIP: "10.0.0.4",
		ProvisioningState: "Succeeded",
	}
	f.VMs[k] = rec
	// az vm create bundles a NIC and public IP using its default naming
	// convention when neither is named explicitly.
	f.NICs[key(spec.ResourceGroup, spec.Name+"VMNic")] = true
	f.PublicIPs[key(spec.ResourceGroup, spec.Name+"PublicIP")] = true
	return rec, nil
}

func (f *FakeDriver) ShowVM(ctx context.Context, rg, name string) (VMRecord, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.VMs[key(rg, name)]
	return rec, ok, nil
}

func (f *FakeDriver) DeleteVM(ctx context.Context, rg, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.VMs, key(rg, name))
	return nil // idempotent per spec §3
}

func (f *FakeDriver) DeleteNIC(ctx context.Context, rg, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.NICs, key(rg, name))
	return nil
}

func (f *FakeDriver) DeletePublicIP(ctx context.Context, rg, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.PublicIPs, key(rg, name))
	return nil
}

func (f *FakeDriver) ListVMs(ctx context.Context, rg string) ([]VMRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []VMRecord
	for _, v := range f.VMs {
		if v.ResourceGroup == rg {
			out = append(out, v)
		}
	}
	return out, nil
}

func (f *FakeDriver) ListVMsByTag(ctx context.Context, k, v string) ([]VMRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []VMRecord
	for _, rec := range f.VMs {
		if rec.Tags[k] == v {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (f *FakeDriver) setPower(rg, name string, state PowerState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := key(rg, name)
	rec, ok := f.VMs[k]
	if !ok {
		return azerr.New(azerr.ResourceNotFound, "vm not found")
	}
	rec.PowerState = state
	f.VMs[k] = rec
	return nil
}

func (f *FakeDriver) StartVM(ctx context.Context, rg, name string) error {
	return f.setPower(rg, name, PowerRunning)
}

func (f *FakeDriver) StopVM(ctx context.Context, rg, name string) error {
	return f.setPower(rg, name, PowerStopped)
}

func (f *FakeDriver) DeallocateVM(ctx context.Context, rg, name string) error {
	return f.setPower(rg, name, PowerDeallocated)
}

func (f *FakeDriver) ListBastions(ctx context.Context, rg string) ([]Bastion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Bastion(nil), f.Bastions[rg]...), nil
}

func (f *FakeDriver) CreateBastion(ctx context.Context, rg, name, region, vnet string) (Bastion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b := Bastion{Name: name, ResourceGroup: rg, Region: region}
	f.Bastions[rg] = append(f.Bastions[rg], b)
	return b, nil
}

func (f *FakeDriver) DeleteBastion(ctx context.Context, rg, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.Bastions[rg]
	for i, b := range list {
		if b.Name == name {
			f.Bastions[rg] = append(list[:i], list[i+1:]...)
			break
		}
	}
	return nil
}

// CreateBastionTunnel simulates a tunnel by actually binding localPort, so
// callers' TCP-readiness probes behave the same as against a real tunnel
// subprocess.
func (f *FakeDriver) CreateBastionTunnel(ctx context.Context, bastion Bastion, targetResourceID string, localPort, remotePort int) (Process, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", localPort))
	if err != nil {
		return nil, azerr.Wrap(azerr.PortInUse, "bind fake tunnel port", err)
	}
	p := &FakeProcess{alive: true, LocalPort: localPort, listener: l}
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()
	f.Tunnels = append(f.Tunnels, p)
	return p, nil
}

func (f *FakeDriver) CreateStorage(ctx context.Context, rg, name, region, tier string) (StorageAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := StorageAccount{Name: name, ResourceGroup: rg, Region: region, Tier: tier}
	f.Storage[rg] = append(f.Storage[rg], s)
	return s, nil
}

func (f *FakeDriver) ListStorage(ctx context.Context, rg string) ([]StorageAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]StorageAccount(nil), f.Storage[rg]...), nil
}

func (f *FakeDriver) DeleteStorage(ctx context.Context, rg, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.Storage[rg]
	for i, s := range list {
		if s.Name == name {
			f.Storage[rg] = append(list[:i], list[i+1:]...)
			break
		}
	}
	return nil
}

func (f *FakeDriver) ListDisks(ctx context.Context, rg string) ([]Disk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Disk(nil), f.Disks[rg]...), nil
}

func (f *FakeDriver) DeleteDisk(ctx context.Context, rg, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.Disks[rg]
	for i, d := range list {
		if d.Name == name {
			f.Disks[rg] = append(list[:i], list[i+1:]...)
			break
		}
	}
	return nil
}

func (f *FakeDriver) ListSnapshots(ctx context.Context, rg string) ([]Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Snapshot(nil), f.Snapshots[rg]...), nil
}

func (f *FakeDriver) DeleteSnapshot(ctx context.Context, rg, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.Snapshots[rg]
	for i, s := range list {
		if s.Name == name {
			f.Snapshots[rg] = append(list[:i], list[i+1:]...)
			break
		}
	}
	return nil
}

func (f *FakeDriver) SetTags(ctx context.Context, resourceID string, tags map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Tags[resourceID] == nil {
		f.Tags[resourceID] = map[string]string{}
	}
	for k, v := range tags {
		f.Tags[resourceID][k] = v
	}
	return nil
}

func (f *FakeDriver) GetTags(ctx context.Context, resourceID string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Tags[resourceID], nil
}

// FakeProcess is a Process double that spawns no child process; it may hold
// a real loopback listener, which Terminate closes.
type FakeProcess struct {
	mu         sync.Mutex
	alive      bool
	stderr     string
	LocalPort  int
	Terminated bool
	listener   net.Listener
}

func (p *FakeProcess) Alive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.alive
}

func (p *FakeProcess) Stderr() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stderr
}

func (p *FakeProcess) SetStderr(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stderr = s
}

func (p *FakeProcess) Kill() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.alive = false
}

func (p *FakeProcess) Terminate(grace time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.alive = false
	p.Terminated = true
	if p.listener != nil {
		p.listener.Close()
	}
	return nil
}

func (p *FakeProcess) Wait() error { return nil }
