package governor

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"sync"

	"github.com/vexxhost/azlin/internal/azerr"
	"github.com/vexxhost/azlin/internal/clouddriver"
	"github.com/vexxhost/azlin/internal/config"
)

// QuotaScope is one of the three scopes a quota is set against (spec §4.5).
type QuotaScope string

const (
	ScopeVM      QuotaScope = "vm"
	ScopeTeam    QuotaScope = "team"
	ScopeProject QuotaScope = "project"
)

func quotaKey(scope QuotaScope, name string) string { return string(scope) + ":" + name }

// quotaDoc is the on-disk shape of quotas.json: quota ceilings in GB, keyed
// by "<scope>:<name>".
type quotaDoc map[string]float64

// QuotaStore persists quota ceilings to quotas.json using the same
// atomic-rename discipline as the rest of the state tree.
type QuotaStore struct {
	mu   sync.Mutex
	path string
}

func NewQuotaStore(path string) *QuotaStore {
	return &QuotaStore{path: path}
}

func (q *QuotaStore) load() (quotaDoc, error) {
	data, err := os.ReadFile(q.path)
	if os.IsNotExist(err) {
		return quotaDoc{}, nil
	}
	if err != nil {
		return quotaDoc{}, nil
	}
	var doc quotaDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, azerr.Wrap(azerr.CorruptedState, "quotas.json is corrupt", err)
	}
	return doc, nil
}

func (q *QuotaStore) save(doc quotaDoc) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return azerr.Wrap(azerr.InternalError, "marshal quotas", err)
	}
	return config.AtomicWriteFile(q.path, data)
}

// SetQuota sets the GB ceiling for (scope, name), idempotently (spec §8:
// calling it twice yields a final stored quota equal to the second call).
func (q *QuotaStore) SetQuota(scope QuotaScope, name string, quotaGB float64) error {
	if quotaGB <= 0 {
		return azerr.New(azerr.ValidationError, "quota must be greater than zero")
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	doc, err := q.load()
	if err != nil {
		return err
	}
	doc[quotaKey(scope, name)] = quotaGB
	return q.save(doc)
}

// quotaLimit returns the configured ceiling for (scope, name), or
// ResourceNotFound if none is set.
func (q *QuotaStore) quotaLimit(scope QuotaScope, name string) (float64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	doc, err := q.load()
	if err != nil {
		return 0, err
	}
	limit, ok := doc[quotaKey(scope, name)]
	if !ok {
		return 0, azerr.New(azerr.ResourceNotFound, "no quota configured for "+quotaKey(scope, name))
	}
	return limit, nil
}

// List returns every configured (scope, name, quotaGB) as QuotaLimits.
func (q *QuotaStore) List() ([]QuotaLimit, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	doc, err := q.load()
	if err != nil {
		return nil, err
	}
	out := make([]QuotaLimit, 0, len(doc))
	for k, v := range doc {
		scope, name, ok := splitQuotaKey(k)
		if !ok {
			continue
		}
		out = append(out, QuotaLimit{Scope: scope, Name: name, QuotaGB: v})
	}
	return out, nil
}

func splitQuotaKey(k string) (QuotaScope, string, bool) {
	for _, s := range []QuotaScope{ScopeVM, ScopeTeam, ScopeProject} {
		prefix := string(s) + ":"
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			return s, k[len(prefix):], true
		}
	}
	return "", "", false
}

// QuotaLimit is one configured ceiling, as returned by List.
type QuotaLimit struct {
	Scope   QuotaScope
	Name    string
	QuotaGB float64
}

// UsageLister supplies the live resource usage a quota check sums over: the
// disks, snapshots, and attached storage belonging to the scope's resource
// group (team/project scopes) or a single VM (vm scope). The Manager never
// talks to the Cloud Driver's VM/tag surface directly beyond this.
type UsageLister interface {
	ListDisks(ctx context.Context, rg string) ([]clouddriver.Disk, error)
	ListSnapshots(ctx context.Context, rg string) ([]clouddriver.Snapshot, error)
	ListStorage(ctx context.Context, rg string) ([]clouddriver.StorageAccount, error)
}

// QuotaStatus is GetQuota's live-computed view of a scope's usage against
// its configured ceiling (spec §4.5).
type QuotaStatus struct {
	UsedGB            float64
	QuotaGB           float64
	AvailableGB       float64
	UtilizationPercent float64
	Resources         []string
}

// CheckResult is CheckQuota's precondition verdict (spec §4.5/§8).
type CheckResult struct {
	Available       bool
	RemainingAfterGB float64
}

// Manager answers GetQuota/CheckQuota against a QuotaStore and a live
// resource listing, per spec §4.5.
type Manager struct {
	Store  *QuotaStore
	Driver UsageLister
}

func NewManager(store *QuotaStore, driver UsageLister) *Manager {
	return &Manager{Store: store, Driver: driver}
}

// splitVMScopeName parses a vm-scope quota name given as
// "<resource-group>:<vm-name>" (the same convention cmd/azlin uses for NFS
// sync targets), so usedGB knows which resource group to list and which VM
// within it to narrow to.
func splitVMScopeName(name string) (rg, vm string, ok bool) {
	i := strings.IndexByte(name, ':')
	if i < 0 {
		return "", "", false
	}
	return name[:i], name[i+1:], true
}

// diskAttachedToVM, snapshotAttachedToVM and storageAttachedToVM report
// whether a disk/snapshot/storage account is associated with vm, per spec §4.5's vm-scope usage definition: "size sum
// within one VM's disks+snapshots+attached storage", not its whole
// resource group.
func diskAttachedToVM(d clouddriver.Disk, vm string) bool {
	return strings.HasSuffix(d.ManagedBy, "/"+vm) || d.ManagedBy == vm || d.LastVM == vm
}

func snapshotAttachedToVM(s clouddriver.Snapshot, vm string) bool {
	return strings.HasSuffix(s.SourceVM, "/"+vm) || s.SourceVM == vm
}

func storageAttachedToVM(s clouddriver.StorageAccount, vm string) bool {
	for _, v := range s.ConnectedVMs {
		if strings.HasSuffix(v, "/"+vm) || v == vm {
			return true
		}
	}
	return false
}

// usedGB sums disk, snapshot, and storage sizes for the scope: team/project
// scopes name a resource group outright and sum everything in it; vm scope
// names "<resource-group>:<vm-name>" and narrows the resource group's
// disks/snapshots/storage down to the ones actually attached to that VM.
func (m *Manager) usedGB(ctx context.Context, scope QuotaScope, name string) (float64, []string, error) {
	rg := name
	vm := ""
	if scope == ScopeVM {
		var ok bool
		rg, vm, ok = splitVMScopeName(name)
		if !ok {
			return 0, nil, azerr.New(azerr.ValidationError, `vm-scope quota name must be given as "resource-group:vm-name"`)
		}
	}

	disks, err := m.Driver.ListDisks(ctx, rg)
	if err != nil {
		return 0, nil, err
	}
	snaps, err := m.Driver.ListSnapshots(ctx, rg)
	if err != nil {
		return 0, nil, err
	}
	storage, err := m.Driver.ListStorage(ctx, rg)
	if err != nil {
		return 0, nil, err
	}

	var total float64
	var resources []string
	for _, d := range disks {
		if scope == ScopeVM && !diskAttachedToVM(d, vm) {
			continue
		}
		total += float64(d.SizeGB)
		resources = append(resources, d.Name)
	}
	for _, s := range snaps {
		if scope == ScopeVM && !snapshotAttachedToVM(s, vm) {
			continue
		}
		total += float64(s.SizeGB)
		resources = append(resources, s.Name)
	}
	for _, s := range storage {
		if scope == ScopeVM && !storageAttachedToVM(s, vm) {
			continue
		}
		total += float64(s.SizeGB)
		resources = append(resources, s.Name)
	}
	return total, resources, nil
}

// GetQuota returns the live-computed QuotaStatus for (scope, name).
func (m *Manager) GetQuota(ctx context.Context, scope QuotaScope, name string) (QuotaStatus, error) {
	limit, err := m.Store.quotaLimit(scope, name)
	if err != nil {
		return QuotaStatus{}, err
	}
	used, resources, err := m.usedGB(ctx, scope, name)
	if err != nil {
		return QuotaStatus{}, err
	}
	util := 0.0
	if limit > 0 {
		util = (used / limit) * 100
	}
	return QuotaStatus{
		UsedGB: used, QuotaGB: limit, AvailableGB: limit - used,
		UtilizationPercent: util, Resources: resources,
	}, nil
}

// CheckQuota is the precondition callers (e.g. the Lifecycle Orchestrator
// attaching storage) must consult before provisioning requestedGB more.
// Negative requestedGB is rejected per spec §4.5.
func (m *Manager) CheckQuota(ctx context.Context, scope QuotaScope, name string, requestedGB float64) (CheckResult, error) {
	if requestedGB < 0 {
		return CheckResult{}, azerr.New(azerr.ValidationError, "requested quota amount cannot be negative")
	}
	status, err := m.GetQuota(ctx, scope, name)
	if err != nil {
		return CheckResult{}, err
	}
	remaining := status.QuotaGB - status.UsedGB - requestedGB
	return CheckResult{Available: remaining >= 0, RemainingAfterGB: remaining}, nil
}
