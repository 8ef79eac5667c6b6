package main

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vexxhost/azlin/internal/azerr"
	"github.com/vexxhost/azlin/internal/config"
)

func TestAppResourceGroupPrecedence(t *testing.T) {
	a := &App{Defaults: config.Defaults{ResourceGroup: "from-config"}}

	rg, err := a.resourceGroup("from-flag")
	require.NoError(t, err)
	assert.Equal(t, "from-flag", rg)

	t.Setenv("AZLIN_DEFAULT_RESOURCE_GROUP", "from-env")
	rg, err = a.resourceGroup("")
	require.NoError(t, err)
	assert.Equal(t, "from-env", rg)
}

func TestAppResourceGroupFallsBackToConfig(t *testing.T) {
	a := &App{Defaults: config.Defaults{ResourceGroup: "from-config"}}
	rg, err := a.resourceGroup("")
	require.NoError(t, err)
	assert.Equal(t, "from-config", rg)
}

func TestAppResourceGroupMissingIsPrereq(t *testing.T) {
	a := &App{}
	_, err := a.resourceGroup("")
	require.Error(t, err)
	assert.Equal(t, azerr.PrereqMissing, azerr.CodeOf(err))
}

func TestAppRegionPrecedence(t *testing.T) {
	a := &App{Defaults: config.Defaults{Region: "from-config"}}
	region, err := a.region("from-flag")
	require.NoError(t, err)
	assert.Equal(t, "from-flag", region)

	region, err = a.region("")
	require.NoError(t, err)
	assert.Equal(t, "from-config", region)
}

func TestAppVMSizeDefaultsToM(t *testing.T) {
	a := &App{}
	assert.Equal(t, "m", a.vmSize(""))
	assert.Equal(t, "xl", a.vmSize("xl"))

	a.Defaults.VMSize = "l"
	assert.Equal(t, "l", a.vmSize(""))
}

func TestAppKeyPathMatchesLifecycleConvention(t *testing.T) {
	a := &App{KeyDir: "/home/user/.azlin/keys"}
	got := a.keyPath("rg1", "vm1")
	want := "/home/user/.azlin/keys/rg1-vm1"
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("keyPath mismatch (-want +got):\n%s", diff)
	}
}

func TestSplitCacheKey(t *testing.T) {
	cases := []struct {
		name    string
		in      string
		wantRG  string
		wantVM  string
		wantOK  bool
	}{
		{"valid", "rg1:vm1", "rg1", "vm1", true},
		{"no colon", "rg1vm1", "", "", false},
		{"colon in vm name ignored beyond first", "rg1:vm:extra", "rg1", "vm:extra", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rg, vm, ok := splitCacheKey(tc.in)
			assert.Equal(t, tc.wantOK, ok)
			if tc.wantOK {
				assert.Equal(t, tc.wantRG, rg)
				assert.Equal(t, tc.wantVM, vm)
			}
		})
	}
}
