package nfsstorage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vexxhost/azlin/internal/azerr"
	"github.com/vexxhost/azlin/internal/sshdriver"
)

type fakeLocator struct {
	hosts   map[string]string
	regions map[string]string
	err     error
}

func (f fakeLocator) VMHost(ctx context.Context, name string) (string, string, error) {
	if f.err != nil {
		return "", "", f.err
	}
	return f.hosts[name], f.regions[name], nil
}

func TestChooseStrategyRespectsThreshold(t *testing.T) {
	s := New(sshdriver.NewFakeDriver(), fakeLocator{}, "acct")
	assert.Equal(t, StrategyRsync, s.ChooseStrategy(1024))
	assert.Equal(t, StrategyBlob, s.ChooseStrategy(DefaultThresholdBytes))
	assert.Equal(t, StrategyBlob, s.ChooseStrategy(DefaultThresholdBytes+1))
}

func TestChooseStrategyRespectsCustomThreshold(t *testing.T) {
	s := New(sshdriver.NewFakeDriver(), fakeLocator{}, "acct")
	s.ThresholdBytes = 10
	assert.Equal(t, StrategyBlob, s.ChooseStrategy(20))
	assert.Equal(t, StrategyRsync, s.ChooseStrategy(5))
}

func TestEstimateTransferSizeSumsAcrossPaths(t *testing.T) {
	ssh := sshdriver.NewFakeDriver()
	ssh.ExecStdout = "1048576\t/home/azlin/project"
	locator := fakeLocator{hosts: map[string]string{"vm-a": "10.0.0.5"}, regions: map[string]string{"vm-a": "eastus"}}
	s := New(ssh, locator, "acct")

	size, err := s.EstimateTransferSize(context.Background(), "vm-a", []string{"/a", "/b"})
	require.NoError(t, err)
	assert.Equal(t, int64(1048576*2), size)
}

func TestEstimateTransferSizeSkipsFailingPaths(t *testing.T) {
	ssh := sshdriver.NewFakeDriver()
	ssh.ExecExitCode = 1
	locator := fakeLocator{hosts: map[string]string{"vm-a": "10.0.0.5"}}
	s := New(ssh, locator, "acct")

	size, err := s.EstimateTransferSize(context.Background(), "vm-a", []string{"/missing"})
	require.NoError(t, err)
	assert.Equal(t, int64(0), size)
}

func TestEstimateTransferSizeRejectsEmptyPaths(t *testing.T) {
	s := New(sshdriver.NewFakeDriver(), fakeLocator{}, "acct")
	_, err := s.EstimateTransferSize(context.Background(), "vm-a", nil)
	assert.True(t, azerr.Is(err, azerr.ValidationError))
}

func TestSyncDirectoriesRejectsSameSourceAndTarget(t *testing.T) {
	s := New(sshdriver.NewFakeDriver(), fakeLocator{}, "acct")
	_, err := s.SyncDirectories(context.Background(), "vm-a", "vm-a", []string{"/a"}, StrategyAuto, false)
	assert.True(t, azerr.Is(err, azerr.ValidationError))
}

func TestSyncDirectoriesRejectsEmptyPaths(t *testing.T) {
	s := New(sshdriver.NewFakeDriver(), fakeLocator{}, "acct")
	_, err := s.SyncDirectories(context.Background(), "vm-a", "vm-b", nil, StrategyAuto, false)
	assert.True(t, azerr.Is(err, azerr.ValidationError))
}

func TestSyncDirectoriesRsyncReportsLocatorFailureAsResultError(t *testing.T) {
	locator := fakeLocator{err: azerr.New(azerr.ResourceNotFound, "vm not found")}
	s := New(sshdriver.NewFakeDriver(), locator, "acct")

	result, err := s.SyncDirectories(context.Background(), "vm-a", "vm-b", []string{"/a"}, StrategyRsync, false)
	require.NoError(t, err)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, float64(0), result.SuccessRate())
}

func TestResultSuccessRate(t *testing.T) {
	assert.Equal(t, float64(1), Result{}.SuccessRate())
	assert.Equal(t, float64(0), Result{Errors: []string{"boom"}}.SuccessRate())
}
