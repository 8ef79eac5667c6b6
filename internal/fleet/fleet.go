// Package fleet implements the Fleet Operations Engine (spec §4.3): fan a
// single primitive operation out across many VMs with a bounded worker
// pool, no short-circuit on first failure, and a stable-sorted report.
//
// The teacher has no literal worker-pool precedent of its own (its
// concurrency is gin's request/response model, not a bounded fan-out), so
// this package reaches for golang.org/x/sync/semaphore — already present
// in the teacher's module graph as an indirect dependency pulled in by
// other tooling — the same way oma/services bounds concurrent VMA
// operations, generalized to a reusable per-task pool.
package fleet

import (
	"context"
	"path/filepath"
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/vexxhost/azlin/internal/azerr"
	"github.com/vexxhost/azlin/internal/clouddriver"
	"github.com/vexxhost/azlin/internal/costs"
)

// DefaultConcurrency is used when the caller does not configure one (spec
// §4.3: "default 5").
const DefaultConcurrency = 5

// Selector names the three ways a Fleet operation can pick its targets
// (spec §4.3). Exactly one of All, Pattern, or Explicit is expected to be
// set; All takes precedence, then Pattern, then Explicit.
type Selector struct {
	All      bool
	Pattern  string
	Explicit []string
}

// ResolveTargets resolves sel against the VMs known in a single resource
// group into a deduplicated, name-sorted target list. The engine never
// discovers targets across resource groups in one call (spec §4.3); callers
// pass one rg's VM list per invocation.
func ResolveTargets(vms []clouddriver.VMRecord, sel Selector) []string {
	if sel.All {
		names := make([]string, 0, len(vms))
		for _, v := range vms {
			names = append(names, v.Name)
		}
		sort.Strings(names)
		return names
	}
	if sel.Pattern != "" {
		var names []string
		for _, v := range vms {
			if ok, _ := filepath.Match(sel.Pattern, v.Name); ok {
				names = append(names, v.Name)
			}
		}
		sort.Strings(names)
		return names
	}
	seen := make(map[string]bool, len(sel.Explicit))
	var names []string
	for _, n := range sel.Explicit {
		if !seen[n] {
			seen[n] = true
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return names
}

// TaskFunc is the primitive operation the engine runs once per target.
type TaskFunc func(ctx context.Context, target string) error

// SKULookup resolves a target's SKU for cost-delta estimation; callers pass
// nil for operations that carry no cost delta (spec §4.3: only stop/start
// carry one).
type SKULookup func(target string) string

// PerVM is one target's result in a Summary.
type PerVM struct {
	Name             string
	Succeeded        bool
	Err              error
	CostDeltaPerHour float64
}

// Summary aggregates a Run across every target (spec §4.3).
type Summary struct {
	Total     int
	Succeeded int
	Failed    int
	Results   []PerVM
}

// Engine runs TaskFuncs across targets with a bounded worker pool.
type Engine struct {
	Concurrency int
}

// New builds an Engine, clamping concurrency to DefaultConcurrency when
// unset or non-positive.
func New(concurrency int) *Engine {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Engine{Concurrency: concurrency}
}

// Run executes task once per target, capping in-flight tasks at
// min(e.Concurrency, len(targets)). Every task runs to completion
// regardless of earlier failures (no short-circuit); a cancelled ctx stops
// queued tasks from starting while in-flight ones finish. The returned
// Summary's Results are stable-sorted by target name.
func (e *Engine) Run(ctx context.Context, task TaskFunc, targets []string, skuOf SKULookup) Summary {
	concurrency := e.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if concurrency > len(targets) {
		concurrency = len(targets)
	}
	if concurrency <= 0 {
		return Summary{}
	}

	sem := semaphore.NewWeighted(int64(concurrency))
	results := make([]PerVM, len(targets))
	var wg sync.WaitGroup

	for i, name := range targets {
		i, name := i, name
		if err := sem.Acquire(ctx, 1); err != nil {
			results[i] = PerVM{Name: name, Err: azerr.Wrap(azerr.Timeout, "cancelled before start", err)}
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)

			err := task(ctx, name)
			pv := PerVM{Name: name, Err: err, Succeeded: err == nil}
			if skuOf != nil {
				pv.CostDeltaPerHour = costs.HourlyRate(skuOf(name))
			}
			results[i] = pv
			if err != nil {
				log.WithFields(log.Fields{"vm": name}).WithError(err).
					Warn("fleet task failed, continuing with the rest")
			}
		}()
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Name < results[j].Name })

	summary := Summary{Total: len(results), Results: results}
	for _, r := range results {
		if r.Succeeded {
			summary.Succeeded++
		} else {
			summary.Failed++
		}
	}
	return summary
}
