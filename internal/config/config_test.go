package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsMissingFileIsEmpty(t *testing.T) {
	dir := t.TempDir()
	d, err := LoadDefaults(filepath.Join(dir, "config.toml"))
	require.NoError(t, err)
	assert.Empty(t, d.ResourceGroup)
	assert.NotNil(t, d.Sessions)
}

func TestDefaultsRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	d := Defaults{
		ResourceGroup: "rg1",
		Region:        "eastus",
		VMSize:        "m",
		Sessions:      map[string]string{"work": "rg1:vm1"},
	}
	require.NoError(t, d.Save(path))

	loaded, err := LoadDefaults(path)
	require.NoError(t, err)
	assert.Equal(t, d, loaded)
}

func TestBastionConfigLookupHidesDisabled(t *testing.T) {
	cfg := BastionConfig{
		Mappings: map[string]BastionMappingEntry{
			"vm1": {VMName: "vm1", BastionName: "b1", Enabled: true},
			"vm2": {VMName: "vm2", BastionName: "b1", Enabled: false},
		},
	}

	_, ok := cfg.Lookup("vm1")
	assert.True(t, ok)

	_, ok = cfg.Lookup("vm2")
	assert.False(t, ok, "disabled mapping must be invisible to the router's lookup")

	_, ok = cfg.Lookup("vm3")
	assert.False(t, ok)
}

func TestBastionConfigRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bastion_config.toml")

	cfg := BastionConfig{
		Mappings: map[string]BastionMappingEntry{
			"vm1": {VMName: "vm1", VMResourceGroup: "rg1", BastionName: "b1", BastionResourceGroup: "rg1", Enabled: true},
		},
		DefaultBastion: DefaultBastion{Name: "b1", ResourceGroup: "rg1"},
		AutoDetect:     true,
		PreferBastion:  false,
	}
	require.NoError(t, cfg.Save(path))

	loaded, err := LoadBastionConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}
