// Package decision implements the Resource Decision Orchestrator (spec
// §4.6): for shared infra (Bastion, cross-region NFS) the user must
// explicitly decide whether to create, reuse, skip, or cancel. The
// orchestrator centralizes this flow, tracks what it creates, and can roll
// it back, mirroring the rollback-stack shape of the teacher's
// component-composed failover engine.
package decision

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/google/uuid"

	"github.com/vexxhost/azlin/internal/azerr"
	"github.com/vexxhost/azlin/internal/clouddriver"
	"github.com/vexxhost/azlin/internal/costs"
	"github.com/vexxhost/azlin/internal/interaction"
)

// Outcome is one of the four resource decisions §4.6 names.
type Outcome string

const (
	OutcomeUseExisting Outcome = "use_existing"
	OutcomeCreate      Outcome = "create"
	OutcomeSkip        Outcome = "skip"
	OutcomeCancel      Outcome = "cancel"
)

// ResourceStatus tracks a registered resource's lifecycle for rollback.
type ResourceStatus string

const (
	StatusActive     ResourceStatus = "active"
	StatusRolledBack ResourceStatus = "rolled_back"
	StatusFailed     ResourceStatus = "failed"
)

// TrackedResource is one entry the orchestrator registers after a CREATE
// decision results in a real resource (spec §4.6).
type TrackedResource struct {
	ID                  string
	Type                string
	Name                string
	Status              ResourceStatus
	CreatedAt           time.Time
	Dependencies        []string
	RollbackCmdTemplate string
	Metadata            map[string]string

	rollback func(ctx context.Context) error
}

// BastionOptions is EnsureBastion's input (spec §4.6 step 1-3).
type BastionOptions struct {
	ResourceGroup string
	Region        string
	VNetName      string
	AllowPublicIP bool
}

// BastionDecision is EnsureBastion's result.
type BastionDecision struct {
	Outcome  Outcome
	Bastion  clouddriver.Bastion
	VNetName string
}

// NFSOptions is EnsureNFSAccess's input.
type NFSOptions struct {
	StorageRegion string
	VMRegion      string
}

// NFSDecision is EnsureNFSAccess's result.
type NFSDecision struct {
	Outcome Outcome
}

// Orchestrator implements §4.6 against a Cloud Driver and an interaction
// Handler, tracking every resource it creates for later Rollback.
type Orchestrator struct {
	Driver  clouddriver.Driver
	Handler interaction.Handler

	mu        sync.Mutex
	resources []*TrackedResource
}

func New(driver clouddriver.Driver, handler interaction.Handler) *Orchestrator {
	return &Orchestrator{Driver: driver, Handler: handler}
}

func (o *Orchestrator) register(resourceType, name, rollbackTemplate string, deps []string, rollback func(ctx context.Context) error) *TrackedResource {
	o.mu.Lock()
	defer o.mu.Unlock()

	r := &TrackedResource{
		ID:                  uuid.NewString(),
		Type:                resourceType,
		Name:                name,
		Status:              StatusActive,
		CreatedAt:           time.Now(),
		Dependencies:        deps,
		RollbackCmdTemplate: rollbackTemplate,
		Metadata:            map[string]string{},
		rollback:            rollback,
	}
	o.resources = append(o.resources, r)
	return r
}

// EnsureBastion implements spec §4.6's three-step Bastion decision flow.
func (o *Orchestrator) EnsureBastion(ctx context.Context, opts BastionOptions) (BastionDecision, error) {
	existing, err := o.Driver.ListBastions(ctx, opts.ResourceGroup)
	if err != nil {
		return BastionDecision{}, err
	}
	if len(existing) > 0 {
		return BastionDecision{Outcome: OutcomeUseExisting, Bastion: existing[0]}, nil
	}

	vnet := opts.VNetName
	if vnet == "" {
		vnet = fmt.Sprintf("azlin-vnet-%s", opts.Region)
	}

	choices := []interaction.Choice{interaction.ChoiceCreate}
	if opts.AllowPublicIP {
		choices = append(choices, interaction.ChoiceUseExisting)
	}
	choices = append(choices, interaction.ChoiceCancel)

	choice, err := o.Handler.Ask(interaction.Prompt{
		Message: fmt.Sprintf("No Bastion found in %s. Create one (est. $%.2f/mo)?", opts.ResourceGroup, costs.BastionMonthlyEstimate),
		Choices: choices,
		Default: interaction.ChoiceCreate,
	})
	if err != nil {
		return BastionDecision{}, err
	}

	switch choice {
	case interaction.ChoiceCancel:
		return BastionDecision{Outcome: OutcomeCancel}, nil
	case interaction.ChoiceUseExisting:
		return BastionDecision{Outcome: OutcomeSkip}, nil
	default:
		name := fmt.Sprintf("azlin-bastion-%s", opts.Region)
		b, err := o.Driver.CreateBastion(ctx, opts.ResourceGroup, name, opts.Region, vnet)
		if err != nil {
			return BastionDecision{}, err
		}
		driver := o.Driver
		rg := opts.ResourceGroup
		o.register("bastion", b.Name, "az network bastion delete -g {rg} -n {name}",
			nil, func(ctx context.Context) error {
				return driver.DeleteBastion(ctx, rg, b.Name)
			})
		return BastionDecision{Outcome: OutcomeCreate, Bastion: b, VNetName: vnet}, nil
	}
}

// EnsureNFSAccess implements spec §4.6's cross-region NFS decision flow.
func (o *Orchestrator) EnsureNFSAccess(ctx context.Context, opts NFSOptions) (NFSDecision, error) {
	if opts.StorageRegion == opts.VMRegion {
		return NFSDecision{Outcome: OutcomeUseExisting}, nil
	}

	choice, err := o.Handler.Ask(interaction.Prompt{
		Message: fmt.Sprintf("Storage is in %s but VM is in %s. Set up cross-region access?", opts.StorageRegion, opts.VMRegion),
		Choices: []interaction.Choice{interaction.ChoiceCreate, interaction.ChoiceCancel},
		Default: interaction.ChoiceCreate,
	})
	if err != nil {
		return NFSDecision{}, err
	}
	if choice == interaction.ChoiceCancel {
		return NFSDecision{Outcome: OutcomeCancel}, nil
	}

	o.register("nfs-peering", fmt.Sprintf("%s-%s", opts.StorageRegion, opts.VMRegion),
		"", nil, func(ctx context.Context) error { return nil })
	return NFSDecision{Outcome: OutcomeCreate}, nil
}

// Resources returns a snapshot of every tracked resource, in registration
// order.
func (o *Orchestrator) Resources() []TrackedResource {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]TrackedResource, len(o.resources))
	for i, r := range o.resources {
		out[i] = *r
	}
	return out
}

// Rollback runs rollback actions in strictly reverse registration order
// (spec §8). In dryRun mode, entries are marked ROLLED_BACK without
// executing. A failed individual rollback marks its entry FAILED; Rollback
// attempts the rest and then returns a RollbackError.
func (o *Orchestrator) Rollback(ctx context.Context, dryRun bool) error {
	o.mu.Lock()
	resources := make([]*TrackedResource, len(o.resources))
	copy(resources, o.resources)
	o.mu.Unlock()

	var failed []string
	for i := len(resources) - 1; i >= 0; i-- {
		r := resources[i]
		if r.Status != StatusActive {
			continue
		}
		if dryRun {
			r.Status = StatusRolledBack
			continue
		}
		if err := r.rollback(ctx); err != nil {
			log.WithFields(log.Fields{"type": r.Type, "name": r.Name}).WithError(err).
				Warn("rollback failed for one resource, continuing with the rest")
			r.Status = StatusFailed
			failed = append(failed, r.Name)
			continue
		}
		r.Status = StatusRolledBack
	}

	if len(failed) > 0 {
		return azerr.New(azerr.RollbackError, fmt.Sprintf("rollback failed for: %v", failed))
	}
	return nil
}
