package governor

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vexxhost/azlin/internal/azerr"
	"github.com/vexxhost/azlin/internal/clouddriver"
)

func newTestQuotaStore(t *testing.T) *QuotaStore {
	t.Helper()
	return NewQuotaStore(filepath.Join(t.TempDir(), "quotas.json"))
}

func TestSetQuotaTwiceYieldsSecondValue(t *testing.T) {
	s := newTestQuotaStore(t)
	require.NoError(t, s.SetQuota(ScopeTeam, "rg1", 500))
	require.NoError(t, s.SetQuota(ScopeTeam, "rg1", 800))

	limits, err := s.List()
	require.NoError(t, err)
	require.Len(t, limits, 1)
	assert.Equal(t, 800.0, limits[0].QuotaGB)
}

func TestSetQuotaRejectsNonPositive(t *testing.T) {
	s := newTestQuotaStore(t)
	err := s.SetQuota(ScopeVM, "vm1", 0)
	assert.True(t, azerr.Is(err, azerr.ValidationError))
}

func TestCorruptQuotasFileSurfacesCorruptedState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quotas.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	s := NewQuotaStore(path)
	_, err := s.quotaLimit(ScopeTeam, "rg1")
	assert.True(t, azerr.Is(err, azerr.CorruptedState))
}

func TestCheckQuotaCrossingLimit(t *testing.T) {
	s := newTestQuotaStore(t)
	require.NoError(t, s.SetQuota(ScopeVM, "rg1:vm1", 500))

	driver := clouddriver.NewFakeDriver()
	driver.Disks["rg1"] = []clouddriver.Disk{{Name: "disk1", SizeGB: 480, ManagedBy: "vm1"}}

	m := NewManager(s, driver)
	result, err := m.CheckQuota(context.Background(), ScopeVM, "rg1:vm1", 50)
	require.NoError(t, err)
	assert.False(t, result.Available)
	assert.Equal(t, -30.0, result.RemainingAfterGB)
}

func TestCheckQuotaRejectsNegativeRequest(t *testing.T) {
	s := newTestQuotaStore(t)
	require.NoError(t, s.SetQuota(ScopeVM, "rg1:vm1", 500))
	driver := clouddriver.NewFakeDriver()

	m := NewManager(s, driver)
	_, err := m.CheckQuota(context.Background(), ScopeVM, "rg1:vm1", -10)
	assert.True(t, azerr.Is(err, azerr.ValidationError))
}

// TestGetQuotaVMScopeNarrowsToOneVMWithinSharedResourceGroup proves vm-scope
// usage sums only the requested VM's resources, not the whole resource
// group it lives in (spec §4.5: "size sum within one VM's disks+snapshots+
// attached storage").
func TestGetQuotaVMScopeNarrowsToOneVMWithinSharedResourceGroup(t *testing.T) {
	s := newTestQuotaStore(t)
	require.NoError(t, s.SetQuota(ScopeVM, "rg1:vm1", 1000))

	driver := clouddriver.NewFakeDriver()
	driver.Disks["rg1"] = []clouddriver.Disk{
		{Name: "vm1-osdisk", SizeGB: 100, ManagedBy: "vm1"},
		{Name: "vm1-datadisk", SizeGB: 200, LastVM: "vm1"},
		{Name: "vm2-osdisk", SizeGB: 300, ManagedBy: "vm2"},
	}
	driver.Snapshots["rg1"] = []clouddriver.Snapshot{
		{Name: "vm1-snap", SizeGB: 50, SourceVM: "vm1"},
		{Name: "vm2-snap", SizeGB: 400, SourceVM: "vm2"},
	}
	driver.Storage["rg1"] = []clouddriver.StorageAccount{
		{Name: "shared-acct", SizeGB: 900, ConnectedVMs: []string{"vm1", "vm2"}},
		{Name: "vm2-only-acct", SizeGB: 600, ConnectedVMs: []string{"vm2"}},
	}

	m := NewManager(s, driver)
	status, err := m.GetQuota(context.Background(), ScopeVM, "rg1:vm1")
	require.NoError(t, err)
	// 100 + 200 (disks) + 50 (snapshot) + 900 (shared storage) = 1250,
	// excluding every vm2-only resource in the same resource group.
	assert.Equal(t, 1250.0, status.UsedGB)
	assert.ElementsMatch(t, []string{"vm1-osdisk", "vm1-datadisk", "vm1-snap", "shared-acct"}, status.Resources)
}

func TestGetQuotaComputesUtilization(t *testing.T) {
	s := newTestQuotaStore(t)
	require.NoError(t, s.SetQuota(ScopeTeam, "rg1", 1000))

	driver := clouddriver.NewFakeDriver()
	driver.Storage["rg1"] = []clouddriver.StorageAccount{{Name: "acct1", SizeGB: 250}}

	m := NewManager(s, driver)
	status, err := m.GetQuota(context.Background(), ScopeTeam, "rg1")
	require.NoError(t, err)
	assert.Equal(t, 250.0, status.UsedGB)
	assert.Equal(t, 750.0, status.AvailableGB)
	assert.Equal(t, 25.0, status.UtilizationPercent)
}
