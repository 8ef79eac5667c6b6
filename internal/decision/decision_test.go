package decision

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vexxhost/azlin/internal/azerr"
	"github.com/vexxhost/azlin/internal/clouddriver"
	"github.com/vexxhost/azlin/internal/interaction"
)

// scriptedHandler returns a fixed Choice regardless of the prompt, letting
// tests drive EnsureBastion/EnsureNFSAccess deterministically without a
// real stdin.
type scriptedHandler struct {
	choice interaction.Choice
}

func (h scriptedHandler) Ask(p interaction.Prompt) (interaction.Choice, error) {
	return h.choice, nil
}

func (h scriptedHandler) Confirm(message string, defaultYes bool) (bool, error) {
	return defaultYes, nil
}

func TestEnsureBastionUsesExistingWhenFound(t *testing.T) {
	driver := clouddriver.NewFakeDriver()
	driver.Bastions["rg1"] = []clouddriver.Bastion{{Name: "existing-bastion", ResourceGroup: "rg1"}}

	o := New(driver, interaction.NonInteractive{})
	decision, err := o.EnsureBastion(context.Background(), BastionOptions{ResourceGroup: "rg1", Region: "eastus"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeUseExisting, decision.Outcome)
	assert.Equal(t, "existing-bastion", decision.Bastion.Name)
}

func TestEnsureBastionCreatesAndTracksResource(t *testing.T) {
	driver := clouddriver.NewFakeDriver()
	o := New(driver, scriptedHandler{choice: interaction.ChoiceCreate})

	decision, err := o.EnsureBastion(context.Background(), BastionOptions{ResourceGroup: "rg1", Region: "eastus"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreate, decision.Outcome)
	assert.Equal(t, "azlin-vnet-eastus", decision.VNetName)

	resources := o.Resources()
	require.Len(t, resources, 1)
	assert.Equal(t, "bastion", resources[0].Type)
	assert.Equal(t, StatusActive, resources[0].Status)
}

func TestEnsureBastionRollbackDeletesCreatedBastion(t *testing.T) {
	driver := clouddriver.NewFakeDriver()
	o := New(driver, scriptedHandler{choice: interaction.ChoiceCreate})

	_, err := o.EnsureBastion(context.Background(), BastionOptions{ResourceGroup: "rg1", Region: "eastus"})
	require.NoError(t, err)
	require.Len(t, driver.Bastions["rg1"], 1)

	require.NoError(t, o.Rollback(context.Background(), false))
	assert.Empty(t, driver.Bastions["rg1"], "rollback must actually delete the Bastion it created")
}

func TestEnsureBastionCancelCreatesNoResource(t *testing.T) {
	driver := clouddriver.NewFakeDriver()
	o := New(driver, scriptedHandler{choice: interaction.ChoiceCancel})

	decision, err := o.EnsureBastion(context.Background(), BastionOptions{ResourceGroup: "rg1", Region: "eastus"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCancel, decision.Outcome)
	assert.Empty(t, o.Resources())
}

func TestEnsureNFSAccessSameRegionUsesExisting(t *testing.T) {
	o := New(clouddriver.NewFakeDriver(), interaction.NonInteractive{})
	decision, err := o.EnsureNFSAccess(context.Background(), NFSOptions{StorageRegion: "eastus", VMRegion: "eastus"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeUseExisting, decision.Outcome)
	assert.Empty(t, o.Resources())
}

func TestEnsureNFSAccessCrossRegionPromptsAndTracks(t *testing.T) {
	o := New(clouddriver.NewFakeDriver(), scriptedHandler{choice: interaction.ChoiceCreate})
	decision, err := o.EnsureNFSAccess(context.Background(), NFSOptions{StorageRegion: "eastus", VMRegion: "westus"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreate, decision.Outcome)
	assert.Len(t, o.Resources(), 1)
}

func TestRollbackRunsInReverseOrder(t *testing.T) {
	driver := clouddriver.NewFakeDriver()
	o := New(driver, scriptedHandler{choice: interaction.ChoiceCreate})

	var order []string
	o.register("bastion", "b1", "", nil, func(ctx context.Context) error {
		order = append(order, "b1")
		return nil
	})
	o.register("nfs-peering", "n1", "", nil, func(ctx context.Context) error {
		order = append(order, "n1")
		return nil
	})

	require.NoError(t, o.Rollback(context.Background(), false))
	assert.Equal(t, []string{"n1", "b1"}, order)

	for _, r := range o.Resources() {
		assert.Equal(t, StatusRolledBack, r.Status)
	}
}

func TestRollbackDryRunMarksWithoutExecuting(t *testing.T) {
	driver := clouddriver.NewFakeDriver()
	o := New(driver, scriptedHandler{choice: interaction.ChoiceCreate})

	executed := false
	o.register("bastion", "b1", "", nil, func(ctx context.Context) error {
		executed = true
		return nil
	})

	require.NoError(t, o.Rollback(context.Background(), true))
	assert.False(t, executed)
	assert.Equal(t, StatusRolledBack, o.Resources()[0].Status)
}

func TestRollbackContinuesAfterFailureAndReportsError(t *testing.T) {
	driver := clouddriver.NewFakeDriver()
	o := New(driver, scriptedHandler{choice: interaction.ChoiceCreate})

	var secondRan bool
	o.register("bastion", "b1", "", nil, func(ctx context.Context) error {
		return assert.AnError
	})
	o.register("nfs-peering", "n1", "", nil, func(ctx context.Context) error {
		secondRan = true
		return nil
	})

	err := o.Rollback(context.Background(), false)
	require.Error(t, err)
	assert.True(t, azerr.Is(err, azerr.RollbackError))
	assert.True(t, secondRan)

	resources := o.Resources()
	assert.Equal(t, StatusFailed, resources[0].Status)     // b1, registered first, rolled back last and fails
	assert.Equal(t, StatusRolledBack, resources[1].Status) // n1, registered second, rolled back first
}
