// Package governor implements the Orphan Detector and Quota Manager (spec
// §4.5): read-only scan by default, destructive actions gated behind an
// explicit dry_run=false. It depends only on the Cache and Cloud Driver,
// never the reverse, per spec §9's cache/governor acyclicity rule.
package governor

import (
	"context"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vexxhost/azlin/internal/azerr"
	"github.com/vexxhost/azlin/internal/clouddriver"
	"github.com/vexxhost/azlin/internal/costs"
	"github.com/vexxhost/azlin/internal/tags"
)

const (
	DefaultDiskMinAgeDays     = 7
	DefaultSnapshotMinAgeDays = 30
	DefaultStorageMinAgeDays  = 30
)

// OrphanKind tags which union member an OrphanReport is.
type OrphanKind string

const (
	KindDisk     OrphanKind = "disk"
	KindSnapshot OrphanKind = "snapshot"
	KindStorage  OrphanKind = "storage"
)

// OrphanReport is the tagged union of spec §3's Orphan Report.
type OrphanReport struct {
	Kind        OrphanKind
	ID          string
	Name        string
	SizeGB      int
	AgeDays     int
	MonthlyCost float64
	Reason      string

	SourceVM       string   // snapshot back-reference
	LastAttachedVM string   // disk back-reference
	ConnectedVMs   []string // storage back-reference
}

// StoragePolicy names storage accounts explicitly marked shared in config,
// which the Detector must never consider orphaned regardless of
// connection count (spec §4.5 safety invariant).
type StoragePolicy struct {
	Shared map[string]bool // storage account name -> shared
}

// Detector scans for orphaned disks, snapshots, and storage accounts.
type Detector struct {
	Driver clouddriver.Driver
	Policy StoragePolicy
	Now    func() time.Time // overridable for tests
}

func NewDetector(driver clouddriver.Driver, policy StoragePolicy) *Detector {
	return &Detector{Driver: driver, Policy: policy, Now: time.Now}
}

func (d *Detector) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func ageDays(now, created time.Time) int {
	if created.IsZero() {
		return 0
	}
	return int(now.Sub(created).Hours() / 24)
}

// ScanDisks returns orphaned disks: unmanaged, old enough, and not kept.
func (d *Detector) ScanDisks(ctx context.Context, rg string, minAgeDays int) ([]OrphanReport, error) {
	disks, err := d.Driver.ListDisks(ctx, rg)
	if err != nil {
		return nil, err
	}
	now := d.now()
	var out []OrphanReport
	for _, disk := range disks {
		if disk.ManagedBy != "" {
			continue
		}
		if tags.HasKeep(disk.Tags) {
			continue
		}
		if tags.IsProduction(disk.Tags) {
			continue
		}
		age := ageDays(now, disk.CreatedAt)
		if age < minAgeDays {
			continue
		}
		out = append(out, OrphanReport{
			Kind: KindDisk, ID: disk.ID, Name: disk.Name, SizeGB: disk.SizeGB,
			AgeDays: age, MonthlyCost: costs.DiskMonthlyCost(disk.Tier, disk.SizeGB),
			Reason: "unattached and unmanaged", LastAttachedVM: disk.LastVM,
		})
	}
	return out, nil
}

// ScanSnapshots returns orphaned snapshots: source VM no longer exists and
// old enough.
func (d *Detector) ScanSnapshots(ctx context.Context, rg string, minAgeDays int) ([]OrphanReport, error) {
	snaps, err := d.Driver.ListSnapshots(ctx, rg)
	if err != nil {
		return nil, err
	}
	now := d.now()
	var out []OrphanReport
	for _, snap := range snaps {
		if tags.HasKeep(snap.Tags) || tags.IsProduction(snap.Tags) {
			continue
		}
		if snap.SourceVM == "" {
			continue
		}
		_, exists, err := d.Driver.ShowVM(ctx, rg, snap.SourceVM)
		if err != nil {
			return nil, err
		}
		if exists {
			continue
		}
		age := ageDays(now, snap.CreatedAt)
		if age < minAgeDays {
			continue
		}
		out = append(out, OrphanReport{
			Kind: KindSnapshot, ID: snap.ID, Name: snap.Name, SizeGB: snap.SizeGB,
			AgeDays: age, MonthlyCost: costs.SnapshotMonthlyCost(snap.SizeGB),
			Reason: "source VM no longer exists", SourceVM: snap.SourceVM,
		})
	}
	return out, nil
}

// ScanStorage returns orphaned storage accounts: no connected VMs, not
// marked shared, and old enough.
func (d *Detector) ScanStorage(ctx context.Context, rg string, minAgeDays int) ([]OrphanReport, error) {
	accounts, err := d.Driver.ListStorage(ctx, rg)
	if err != nil {
		return nil, err
	}
	now := d.now()
	var out []OrphanReport
	for _, acct := range accounts {
		if acct.Shared || d.Policy.Shared[acct.Name] {
			continue
		}
		if len(acct.ConnectedVMs) > 0 {
			continue
		}
		age := ageDays(now, acct.CreatedAt)
		if age < minAgeDays {
			continue
		}
		out = append(out, OrphanReport{
			Kind: KindStorage, ID: acct.Name, Name: acct.Name, SizeGB: acct.SizeGB,
			AgeDays: age, MonthlyCost: costs.StorageMonthlyCost(acct.Tier, acct.SizeGB),
			Reason: "no connected VMs and not shared",
		})
	}
	return out, nil
}

// ScanAll aggregates across all three orphan types, using each type's
// default min-age.
func (d *Detector) ScanAll(ctx context.Context, rg string) ([]OrphanReport, error) {
	var all []OrphanReport

	disks, err := d.ScanDisks(ctx, rg, DefaultDiskMinAgeDays)
	if err != nil {
		return nil, err
	}
	all = append(all, disks...)

	snaps, err := d.ScanSnapshots(ctx, rg, DefaultSnapshotMinAgeDays)
	if err != nil {
		return nil, err
	}
	all = append(all, snaps...)

	storage, err := d.ScanStorage(ctx, rg, DefaultStorageMinAgeDays)
	if err != nil {
		return nil, err
	}
	all = append(all, storage...)

	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })
	return all, nil
}

// CleanupResult aggregates the outcome of a Cleanup call.
type CleanupResult struct {
	DeletedIDs  []string
	Errors      []error
	FreedGB     int
	FreedCost   float64
}

// Cleanup deletes orphans of kind matching minAgeDays, unless dryRun is
// true, collecting per-resource errors without aborting the batch (spec
// §4.5), matching the teacher's failover-engine convention of gathering
// partial failures into one result rather than short-circuiting.
func (d *Detector) Cleanup(ctx context.Context, rg string, kind OrphanKind, minAgeDays int, dryRun bool) (CleanupResult, error) {
	var reports []OrphanReport
	var err error
	switch kind {
	case KindDisk:
		reports, err = d.ScanDisks(ctx, rg, minAgeDays)
	case KindSnapshot:
		reports, err = d.ScanSnapshots(ctx, rg, minAgeDays)
	case KindStorage:
		reports, err = d.ScanStorage(ctx, rg, minAgeDays)
	default:
		return CleanupResult{}, azerr.New(azerr.ValidationError, "unknown orphan kind")
	}
	if err != nil {
		return CleanupResult{}, err
	}

	result := CleanupResult{}
	for _, r := range reports {
		result.FreedGB += r.SizeGB
		result.FreedCost += r.MonthlyCost

		if dryRun {
			continue
		}

		var delErr error
		switch kind {
		case KindDisk:
			delErr = d.Driver.DeleteDisk(ctx, rg, r.Name)
		case KindSnapshot:
			delErr = d.Driver.DeleteSnapshot(ctx, rg, r.Name)
		case KindStorage:
			delErr = d.Driver.DeleteStorage(ctx, rg, r.Name)
		}
		if delErr != nil {
			log.WithFields(log.Fields{"kind": kind, "name": r.Name}).WithError(delErr).
				Warn("orphan cleanup failed for one resource, continuing batch")
			result.Errors = append(result.Errors, delErr)
			continue
		}
		result.DeletedIDs = append(result.DeletedIDs, r.ID)
	}

	if dryRun {
		result.DeletedIDs = nil
	}
	return result, nil
}
