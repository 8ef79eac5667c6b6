package fleet

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vexxhost/azlin/internal/azerr"
	"github.com/vexxhost/azlin/internal/clouddriver"
)

func vms(names ...string) []clouddriver.VMRecord {
	var out []clouddriver.VMRecord
	for _, n := range names {
		out = append(out, clouddriver.VMRecord{Name: n})
	}
	return out
}

func TestResolveTargetsAllReturnsEverySortedName(t *testing.T) {
	got := ResolveTargets(vms("c", "a", "b"), Selector{All: true})
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestResolveTargetsPatternMatchesGlob(t *testing.T) {
	got := ResolveTargets(vms("dev-box-1", "dev-box-2", "prod-box-1"), Selector{Pattern: "dev-box-*"})
	assert.Equal(t, []string{"dev-box-1", "dev-box-2"}, got)
}

func TestResolveTargetsExplicitDedupesAndSorts(t *testing.T) {
	got := ResolveTargets(nil, Selector{Explicit: []string{"z", "a", "z"}})
	assert.Equal(t, []string{"a", "z"}, got)
}

func TestRunCompletesAllTasksEvenAfterFailure(t *testing.T) {
	e := New(2)
	targets := []string{"vm1", "vm2", "vm3"}

	summary := e.Run(context.Background(), func(ctx context.Context, target string) error {
		if target == "vm2" {
			return azerr.New(azerr.InternalError, "boom")
		}
		return nil
	}, targets, nil)

	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)
	require.Len(t, summary.Results, 3)
	assert.Equal(t, "vm1", summary.Results[0].Name)
	assert.Equal(t, "vm2", summary.Results[1].Name)
	assert.False(t, summary.Results[1].Succeeded)
	assert.Equal(t, "vm3", summary.Results[2].Name)
}

func TestRunBoundsConcurrencyToTargetCount(t *testing.T) {
	e := New(5)
	var concurrent int32
	var maxSeen int32

	e.Run(context.Background(), func(ctx context.Context, target string) error {
		n := atomic.AddInt32(&concurrent, 1)
		for {
			cur := atomic.LoadInt32(&maxSeen)
			if n <= cur || atomic.CompareAndSwapInt32(&maxSeen, cur, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&concurrent, -1)
		return nil
	}, []string{"vm1", "vm2"}, nil)

	assert.LessOrEqual(t, int(atomic.LoadInt32(&maxSeen)), 2)
}

func TestRunAttachesCostDeltaWhenSKULookupProvided(t *testing.T) {
	e := New(2)
	summary := e.Run(context.Background(), func(ctx context.Context, target string) error { return nil },
		[]string{"vm1"}, func(target string) string { return "Standard_D2s_v5" })

	require.Len(t, summary.Results, 1)
	assert.Equal(t, 0.096, summary.Results[0].CostDeltaPerHour)
}

func TestRunDoesNotStartQueuedTasksAfterCancellation(t *testing.T) {
	e := New(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var started int32
	summary := e.Run(ctx, func(ctx context.Context, target string) error {
		atomic.AddInt32(&started, 1)
		return nil
	}, []string{"vm1", "vm2"}, nil)

	assert.Equal(t, int32(0), started)
	for _, r := range summary.Results {
		assert.Error(t, r.Err)
	}
}

func TestRunWithManyTargetsStaysStableSorted(t *testing.T) {
	e := New(4)
	var targets []string
	for i := 9; i >= 0; i-- {
		targets = append(targets, fmt.Sprintf("vm%d", i))
	}
	summary := e.Run(context.Background(), func(ctx context.Context, target string) error { return nil }, targets, nil)
	for i := 1; i < len(summary.Results); i++ {
		assert.LessOrEqual(t, summary.Results[i-1].Name, summary.Results[i].Name)
	}
}
