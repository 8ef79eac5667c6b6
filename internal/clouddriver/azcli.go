package clouddriver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vexxhost/azlin/internal/azerr"
)

// DefaultCloudCallTimeout is the budget for one cloud CLI call (spec §5:
// "cloud calls 600 s"). run does not apply it; a call ends early only when
// the caller's ctx does.
const DefaultCloudCallTimeout = 600 * time.Second

// AzCLIDriver implements Driver by shelling out to the `az` CLI and
// parsing its JSON stdout, per spec §6. It never links the Azure SDK.
type AzCLIDriver struct {
	Runner CommandRunner
	Binary string // defaults to "az"
}

// NewAzCLIDriver returns a driver that shells to the real az binary.
func NewAzCLIDriver() *AzCLIDriver {
	return &AzCLIDriver{Runner: ExecRunner{}, Binary: "az"}
}

func (d *AzCLIDriver) binary() string {
	if d.Binary == "" {
		return "az"
	}
	return d.Binary
}

// run executes an az CLI invocation with --output json, classifying any
// failure into the §7 taxonomy. Raw stderr is logged at debug only.
func (d *AzCLIDriver) run(ctx context.Context, args ...string) ([]byte, error) {
	args = append(args, "--output", "json")
	stdout, stderr, err := d.Runner.Run(ctx, d.binary(), args...)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, azerr.Wrap(azerr.Timeout, "cloud CLI call timed out", err)
		}
		code := azerr.ClassifyStderr(string(stderr))
		log.WithFields(log.Fields{
			"args":   args,
			"stderr": string(stderr),
		}).Debug("cloud CLI call failed")
		return nil, azerr.Wrap(code, fmt.Sprintf("az %v failed", args[0]), err)
	}
	return stdout, nil
}

func (d *AzCLIDriver) AuthStatus(ctx context.Context) (string, string, error) {
	out, err := d.run(ctx, "account", "show")
	if err != nil {
		return "", "", azerr.Wrap(azerr.AuthFailed, "not authenticated", err)
	}
	var acct struct {
		ID       string `json:"id"`
		TenantID string `json:"tenantId"`
	}
	if err := json.Unmarshal(out, &acct); err != nil {
		return "", "", azerr.Wrap(azerr.InternalError, "malformed account show output", err)
	}
	return acct.ID, acct.TenantID, nil
}

func (d *AzCLIDriver) EnsureResourceGroup(ctx context.Context, rg, region string) (bool, error) {
	out, err := d.run(ctx, "group", "exists", "--name", rg)
	if err != nil {
		return false, err
	}
	if strings.TrimSpace(string(out)) == "true" {
		return false, nil
	}
	if _, err := d.run(ctx, "group", "create", "--name", rg, "--location", region); err != nil {
		if azerr.Is(err, azerr.ResourceConflict) {
			return false, nil // lost the race with something else creating it
		}
		return false, err
	}
	return true, nil
}

func (d *AzCLIDriver) DeleteResourceGroup(ctx context.Context, rg string) error {
	_, err := d.run(ctx, "group", "delete", "--name", rg, "--yes")
	if err != nil && azerr.Is(err, azerr.ResourceNotFound) {
		return nil
	}
	return err
}

type azVMJSON struct {
	Name              string            `json:"name"`
	ResourceGroup     string            `json:"resourceGroup"`
	Location          string            `json:"location"`
	HardwareProfile   struct{ VMSize string `json:"vmSize"` } `json:"hardwareProfile"`
	StorageProfile    struct {
		ImageReference struct {
			Publisher string `json:"publisher"`
			Offer     string `json:"offer"`
			Sku       string `json:"sku"`
		} `json:"imageReference"`
	} `json:"storageProfile"`
	Tags              map[string]string `json:"tags"`
	ProvisioningState string            `json:"provisioningState"`
	PowerState        string            `json:"powerState"`
	PublicIPs         string            `json:"publicIps"`
	PrivateIPs        string            `json:"privateIps"`
	TimeCreated       time.Time         `json:"timeCreated"`
}

func (v azVMJSON) toRecord() VMRecord {
	return VMRecord{
		ResourceGroup:     v.ResourceGroup,
		Name:              v.Name,
		Region:            v.Location,
		Size:              v.HardwareProfile.VMSize,
		Image:             fmt.Sprintf("%s:%s:%s", v.StorageProfile.ImageReference.Publisher, v.StorageProfile.ImageReference.Offer, v.StorageProfile.ImageReference.Sku),
		CreatedAt:         v.TimeCreated,
		Tags:              v.Tags,
		PowerState:        mapPowerState(v.PowerState),
		PublicIP:          v.PublicIPs,
		PrivateIP:         v.PrivateIPs,
		ProvisioningState: v.ProvisioningState,
	}
}

func mapPowerState(raw string) PowerState {
	switch raw {
	case "VM running":
		return PowerRunning
	case "VM stopped":
		return PowerStopped
	case "VM deallocated":
		return PowerDeallocated
	case "VM starting":
		return PowerStarting
	case "VM stopping":
		return PowerStopping
	default:
		return PowerUnknown
	}
}

func (d *AzCLIDriver) CreateVM(ctx context.Context, spec VMSpec) (VMRecord, error) {
	args := []string{
		"vm", "create",
		"--resource-group", spec.ResourceGroup,
		"--name", spec.Name,
		"--location", spec.Region,
		"--size", spec.Size,
	}
	if spec.SourceSnapshotID != "" {
		args = append(args, "--specialized", "false", "--image", spec.SourceSnapshotID)
	} else {
		args = append(args, "--image", spec.Image)
	}
	if spec.SSHPublicKey != "" {
		args = append(args, "--ssh-key-values", spec.SSHPublicKey)
	}
	if spec.CloudInit != "" {
		args = append(args, "--custom-data", spec.CloudInit)
	}
	for k, v := range spec.Tags {
		args = append(args, "--tags", fmt.Sprintf("%s=%s", k, v))
	}

	out, err := d.run(ctx, args...)
	if err != nil {
		return VMRecord{}, azerr.Wrap(azerr.ProvisioningError, "vm create failed", err)
	}
	var raw azVMJSON
	if err := json.Unmarshal(out, &raw); err != nil {
		return VMRecord{}, azerr.Wrap(azerr.InternalError, "malformed vm create output", err)
	}
	rec := raw.toRecord()
	if rec.ResourceGroup == "" {
		rec.ResourceGroup = spec.ResourceGroup
	}
	if rec.Name == "" {
		rec.Name = spec.Name
	}
	return rec, nil
}

func (d *AzCLIDriver) ShowVM(ctx context.Context, rg, name string) (VMRecord, bool, error) {
	out, err := d.run(ctx, "vm", "show", "--resource-group", rg, "--name", name, "--show-details")
	if err != nil {
		if azerr.Is(err, azerr.ResourceNotFound) {
			return VMRecord{}, false, nil
		}
		return VMRecord{}, false, err
	}
	var raw azVMJSON
	if err := json.Unmarshal(out, &raw); err != nil {
		return VMRecord{}, false, azerr.Wrap(azerr.InternalError, "malformed vm show output", err)
	}
	return raw.toRecord(), true, nil
}

func (d *AzCLIDriver) DeleteVM(ctx context.Context, rg, name string) error {
	_, err := d.run(ctx, "vm", "delete", "--resource-group", rg, "--name", name, "--yes")
	if err != nil && azerr.Is(err, azerr.ResourceNotFound) {
		return nil // idempotent per spec §3
	}
	return err
}

// DeleteNIC removes a network interface `az vm create` left behind; `az vm
// delete` never cascades to it (spec §4.1 rollback).
func (d *AzCLIDriver) DeleteNIC(ctx context.Context, rg, name string) error {
	_, err := d.run(ctx, "network", "nic", "delete", "--resource-group", rg, "--name", name)
	if err != nil && azerr.Is(err, azerr.ResourceNotFound) {
		return nil
	}
	return err
}

// DeletePublicIP removes a public IP `az vm create` left behind; see DeleteNIC.
func (d *AzCLIDriver) DeletePublicIP(ctx context.Context, rg, name string) error {
	_, err := d.run(ctx, "network", "public-ip", "delete", "--resource-group", rg, "--name", name)
	if err != nil && azerr.Is(err, azerr.ResourceNotFound) {
		return nil
	}
	return err
}

func (d *AzCLIDriver) ListVMs(ctx context.Context, rg string) ([]VMRecord, error) {
	out, err := d.run(ctx, "vm", "list", "--resource-group", rg, "--show-details")
	if err != nil {
		return nil, err
	}
	return parseVMList(out)
}

func (d *AzCLIDriver) ListVMsByTag(ctx context.Context, key, value string) ([]VMRecord, error) {
	out, err := d.run(ctx, "vm", "list", "--show-details", "--query",
		fmt.Sprintf("[?tags.%s=='%s']", key, value))
	if err != nil {
		return nil, err
	}
	return parseVMList(out)
}

func parseVMList(out []byte) ([]VMRecord, error) {
	var raws []azVMJSON
	if err := json.Unmarshal(out, &raws); err != nil {
		return nil, azerr.Wrap(azerr.InternalError, "malformed vm list output", err)
	}
	records := make([]VMRecord, 0, len(raws))
	for _, r := range raws {
		records = append(records, r.toRecord())
	}
	return records, nil
}

func (d *AzCLIDriver) StartVM(ctx context.Context, rg, name string) error {
	_, err := d.run(ctx, "vm", "start", "--resource-group", rg, "--name", name)
	return err
}

func (d *AzCLIDriver) StopVM(ctx context.Context, rg, name string) error {
	_, err := d.run(ctx, "vm", "stop", "--resource-group", rg, "--name", name)
	return err
}

func (d *AzCLIDriver) DeallocateVM(ctx context.Context, rg, name string) error {
	_, err := d.run(ctx, "vm", "deallocate", "--resource-group", rg, "--name", name)
	return err
}

func (d *AzCLIDriver) ListBastions(ctx context.Context, rg string) ([]Bastion, error) {
	out, err := d.run(ctx, "network", "bastion", "list", "--resource-group", rg)
	if err != nil {
		return nil, err
	}
	var raws []struct {
		Name          string `json:"name"`
		ResourceGroup string `json:"resourceGroup"`
		Location      string `json:"location"`
	}
	if err := json.Unmarshal(out, &raws); err != nil {
		return nil, azerr.Wrap(azerr.InternalError, "malformed bastion list output", err)
	}
	bastions := make([]Bastion, 0, len(raws))
	for _, r := range raws {
		bastions = append(bastions, Bastion{Name: r.Name, ResourceGroup: r.ResourceGroup, Region: r.Location})
	}
	return bastions, nil
}

func (d *AzCLIDriver) CreateBastion(ctx context.Context, rg, name, region, vnet string) (Bastion, error) {
	_, err := d.run(ctx, "network", "bastion", "create",
		"--resource-group", rg, "--name", name, "--location", region, "--vnet-name", vnet)
	if err != nil {
		return Bastion{}, azerr.Wrap(azerr.ProvisioningError, "bastion create failed", err)
	}
	return Bastion{Name: name, ResourceGroup: rg, Region: region}, nil
}

// DeleteBastion undoes CreateBastion (spec §4.6 rollback: "tracks what it
// created, and can roll back").
func (d *AzCLIDriver) DeleteBastion(ctx context.Context, rg, name string) error {
	_, err := d.run(ctx, "network", "bastion", "delete", "--resource-group", rg, "--name", name)
	if err != nil && azerr.Is(err, azerr.ResourceNotFound) {
		return nil
	}
	return err
}

func (d *AzCLIDriver) CreateBastionTunnel(ctx context.Context, bastion Bastion, targetResourceID string, localPort, remotePort int) (Process, error) {
	if remotePort == 0 {
		remotePort = 22
	}
	args := []string{
		d.binary(), "network", "bastion", "tunnel",
		"--resource-group", bastion.ResourceGroup,
		"--name", bastion.Name,
		"--target-resource-id", targetResourceID,
		"--resource-port", fmt.Sprintf("%d", remotePort),
		"--port", fmt.Sprintf("%d", localPort),
	}
	return StartProcess(ctx, args[0], args[1:]...)
}

func (d *AzCLIDriver) CreateStorage(ctx context.Context, rg, name, region, tier string) (StorageAccount, error) {
	_, err := d.run(ctx, "storage", "account", "create",
		"--resource-group", rg, "--name", name, "--location", region, "--sku", tier)
	if err != nil {
		return StorageAccount{}, azerr.Wrap(azerr.ProvisioningError, "storage create failed", err)
	}
	return StorageAccount{Name: name, ResourceGroup: rg, Region: region, Tier: tier}, nil
}

func (d *AzCLIDriver) ListStorage(ctx context.Context, rg string) ([]StorageAccount, error) {
	out, err := d.run(ctx, "storage", "account", "list", "--resource-group", rg)
	if err != nil {
		return nil, err
	}
	var raws []struct {
		Name          string    `json:"name"`
		ResourceGroup string    `json:"resourceGroup"`
		Location      string    `json:"location"`
		Sku           struct{ Name string `json:"name"` } `json:"sku"`
		CreationTime  time.Time `json:"creationTime"`
	}
	if err := json.Unmarshal(out, &raws); err != nil {
		return nil, azerr.Wrap(azerr.InternalError, "malformed storage list output", err)
	}
	accounts := make([]StorageAccount, 0, len(raws))
	for _, r := range raws {
		accounts = append(accounts, StorageAccount{
			Name: r.Name, ResourceGroup: r.ResourceGroup, Region: r.Location,
			Tier: r.Sku.Name, CreatedAt: r.CreationTime,
		})
	}
	return accounts, nil
}

func (d *AzCLIDriver) DeleteStorage(ctx context.Context, rg, name string) error {
	_, err := d.run(ctx, "storage", "account", "delete", "--resource-group", rg, "--name", name, "--yes")
	if err != nil && azerr.Is(err, azerr.ResourceNotFound) {
		return nil
	}
	return err
}

func (d *AzCLIDriver) ListDisks(ctx context.Context, rg string) ([]Disk, error) {
	out, err := d.run(ctx, "disk", "list", "--resource-group", rg)
	if err != nil {
		return nil, err
	}
	var raws []struct {
		ID           string            `json:"id"`
		Name         string            `json:"name"`
		DiskSizeGB   int               `json:"diskSizeGb"`
		Sku          struct{ Name string `json:"name"` } `json:"sku"`
		ManagedBy    string            `json:"managedBy"`
		TimeCreated  time.Time         `json:"timeCreated"`
		Tags         map[string]string `json:"tags"`
	}
	if err := json.Unmarshal(out, &raws); err != nil {
		return nil, azerr.Wrap(azerr.InternalError, "malformed disk list output", err)
	}
	disks := make([]Disk, 0, len(raws))
	for _, r := range raws {
		disks = append(disks, Disk{
			ID: r.ID, Name: r.Name, ResourceGroup: rg, SizeGB: r.DiskSizeGB,
			Tier: r.Sku.Name, ManagedBy: r.ManagedBy, CreatedAt: r.TimeCreated, Tags: r.Tags,
		})
	}
	return disks, nil
}

func (d *AzCLIDriver) DeleteDisk(ctx context.Context, rg, name string) error {
	_, err := d.run(ctx, "disk", "delete", "--resource-group", rg, "--name", name, "--yes")
	if err != nil && azerr.Is(err, azerr.ResourceNotFound) {
		return nil
	}
	return err
}

func (d *AzCLIDriver) ListSnapshots(ctx context.Context, rg string) ([]Snapshot, error) {
	out, err := d.run(ctx, "snapshot", "list", "--resource-group", rg)
	if err != nil {
		return nil, err
	}
	var raws []struct {
		ID          string            `json:"id"`
		Name        string            `json:"name"`
		DiskSizeGB  int               `json:"diskSizeGb"`
		TimeCreated time.Time         `json:"timeCreated"`
		Tags        map[string]string `json:"tags"`
	}
	if err := json.Unmarshal(out, &raws); err != nil {
		return nil, azerr.Wrap(azerr.InternalError, "malformed snapshot list output", err)
	}
	snaps := make([]Snapshot, 0, len(raws))
	for _, r := range raws {
		snaps = append(snaps, Snapshot{
			ID: r.ID, Name: r.Name, ResourceGroup: rg, SizeGB: r.DiskSizeGB,
			SourceVM: r.Tags["source-vm"], CreatedAt: r.TimeCreated, Tags: r.Tags,
		})
	}
	return snaps, nil
}

func (d *AzCLIDriver) DeleteSnapshot(ctx context.Context, rg, name string) error {
	_, err := d.run(ctx, "snapshot", "delete", "--resource-group", rg, "--name", name)
	if err != nil && azerr.Is(err, azerr.ResourceNotFound) {
		return nil
	}
	return err
}

func (d *AzCLIDriver) CreateSnapshot(ctx context.Context, rg, sourceDiskID, snapshotName string) (Snapshot, error) {
	_, err := d.run(ctx, "snapshot", "create", "--resource-group", rg, "--name", snapshotName, "--source", sourceDiskID)
	if err != nil {
		return Snapshot{}, azerr.Wrap(azerr.ProvisioningError, "snapshot create failed", err)
	}
	return Snapshot{Name: snapshotName, ResourceGroup: rg}, nil
}

func (d *AzCLIDriver) SetTags(ctx context.Context, resourceID string, tags map[string]string) error {
	args := []string{"resource", "tag", "--ids", resourceID, "--tags"}
	for k, v := range tags {
		args = append(args, fmt.Sprintf("%s=%s", k, v))
	}
	_, err := d.run(ctx, args...)
	return err
}

func (d *AzCLIDriver) GetTags(ctx context.Context, resourceID string) (map[string]string, error) {
	out, err := d.run(ctx, "resource", "show", "--ids", resourceID, "--query", "tags")
	if err != nil {
		return nil, err
	}
	tags := map[string]string{}
	if err := json.Unmarshal(out, &tags); err != nil {
		return nil, azerr.Wrap(azerr.InternalError, "malformed tags output", err)
	}
	return tags, nil
}
