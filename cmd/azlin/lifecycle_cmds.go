package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vexxhost/azlin/internal/decision"
	"github.com/vexxhost/azlin/internal/fleet"
	"github.com/vexxhost/azlin/internal/lifecycle"
)

func newNewCmd() *cobra.Command {
	var (
		name, region, size, resourceGroup, image, repo, nfsRegion string
		useBastion                                                bool
	)
	cmd := &cobra.Command{
		Use:   "new",
		Short: "Provision a new development VM",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(debugFlag)
			if err != nil {
				return err
			}
			rg, err := app.resourceGroup(resourceGroup)
			if err != nil {
				return err
			}
			reg, err := app.region(region)
			if err != nil {
				return err
			}
			if image == "" {
				image = "Canonical:ubuntu-24_04-lts:server:latest"
			}

			req := lifecycle.ProvisionRequest{
				Name: name, Region: reg, SizeTier: app.vmSize(size),
				ResourceGroup: rg, Image: image, RepoURL: repo, UseBastion: useBastion,
			}
			if nfsRegion != "" {
				req.NFSStorage = &decision.NFSOptions{StorageRegion: nfsRegion, VMRegion: reg}
			}

			details, err := app.Lifecycle.Provision(cmd.Context(), req)
			if err != nil {
				return err
			}
			if details.Existed {
				fmt.Printf("VM %q already exists in %s\n", details.Record.Name, details.Record.ResourceGroup)
				return nil
			}
			fmt.Printf("Created VM %q in %s (%s)\n", details.Record.Name, details.Record.ResourceGroup, details.Record.Region)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "VM name")
	cmd.MarkFlagRequired("name")
	cmd.Flags().StringVar(&region, "region", "", "Azure region")
	cmd.Flags().StringVar(&size, "size", "", "size tier (s|m|l|xl) or a raw SKU")
	cmd.Flags().StringVar(&resourceGroup, "resource-group", "", "resource group")
	cmd.Flags().StringVar(&image, "image", "", "VM image reference")
	cmd.Flags().StringVar(&repo, "repo", "", "repository to clone post-install")
	cmd.Flags().StringVar(&nfsRegion, "nfs-storage-region", "", "cross-region NFS storage location, if different from --region")
	cmd.Flags().BoolVar(&useBastion, "use-bastion", false, "ensure a Bastion is available for this VM")
	return cmd
}

func newDestroyCmd() *cobra.Command {
	var resourceGroup string
	var force bool
	cmd := &cobra.Command{
		Use:   "destroy <vm>",
		Short: "Destroy a VM and its owned resources",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(debugFlag)
			if err != nil {
				return err
			}
			rg, err := app.resourceGroup(resourceGroup)
			if err != nil {
				return err
			}
			if err := app.Lifecycle.Destroy(cmd.Context(), args[0], rg, force); err != nil {
				return err
			}
			fmt.Printf("Destroyed %q\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&resourceGroup, "resource-group", "", "resource group")
	cmd.Flags().BoolVar(&force, "force", false, "accepted but unused: destroy does not check for active connections")
	return cmd
}

func newCloneCmd() *cobra.Command {
	var sourceRG, targetRG, targetRegion, size string
	cmd := &cobra.Command{
		Use:   "clone <src> <dst>",
		Short: "Clone a VM via snapshot-and-provision",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(debugFlag)
			if err != nil {
				return err
			}
			srg, err := app.resourceGroup(sourceRG)
			if err != nil {
				return err
			}
			trg := targetRG
			if trg == "" {
				trg = srg
			}
			details, err := app.Lifecycle.Clone(cmd.Context(), lifecycle.CloneRequest{
				SourceName: args[0], SourceResourceGroup: srg,
				TargetName: args[1], TargetResourceGroup: trg,
				TargetRegion: targetRegion, SizeTier: app.vmSize(size),
			})
			if err != nil {
				return err
			}
			fmt.Printf("Cloned %q -> %q in %s\n", args[0], details.Record.Name, details.Record.ResourceGroup)
			return nil
		},
	}
	cmd.Flags().StringVar(&sourceRG, "resource-group", "", "source VM's resource group")
	cmd.Flags().StringVar(&targetRG, "target-resource-group", "", "target resource group (defaults to source's)")
	cmd.Flags().StringVar(&targetRegion, "region", "", "target region (defaults to source's)")
	cmd.Flags().StringVar(&size, "size", "", "size tier for the clone")
	return cmd
}

// runFleetPowerOp resolves targets from the shared --all/--pattern/explicit
// selector (spec §4.3) and reports a fan-out Summary.
func runFleetPowerOp(cmd *cobra.Command, app *App, rg string, all bool, pattern string, args []string, op fleet.TaskFunc) error {
	vms, err := app.Driver.ListVMs(cmd.Context(), rg)
	if err != nil {
		return err
	}
	targets := fleet.ResolveTargets(vms, fleet.Selector{All: all, Pattern: pattern, Explicit: args})
	skuOf := func(target string) string {
		for _, v := range vms {
			if v.Name == target {
				return v.Size
			}
		}
		return ""
	}
	summary := app.Fleet.Run(cmd.Context(), op, targets, skuOf)
	fmt.Printf("total=%d succeeded=%d failed=%d\n", summary.Total, summary.Succeeded, summary.Failed)
	for _, r := range summary.Results {
		if !r.Succeeded {
			fmt.Printf("  %s: %v\n", r.Name, r.Err)
		}
	}
	return nil
}

func newStopCmd() *cobra.Command {
	var resourceGroup string
	var all, deallocate bool
	var pattern string
	cmd := &cobra.Command{
		Use:   "stop [vm ...]",
		Short: "Stop one, many, or all VMs in a resource group",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(debugFlag)
			if err != nil {
				return err
			}
			rg, err := app.resourceGroup(resourceGroup)
			if err != nil {
				return err
			}
			return runFleetPowerOp(cmd, app, rg, all, pattern, args, func(ctx context.Context, target string) error {
				return app.Lifecycle.Stop(ctx, target, rg, deallocate)
			})
		},
	}
	cmd.Flags().StringVar(&resourceGroup, "resource-group", "", "resource group")
	cmd.Flags().BoolVar(&all, "all", false, "operate on every VM in the resource group")
	cmd.Flags().StringVar(&pattern, "pattern", "", "glob pattern to select VMs")
	cmd.Flags().BoolVar(&deallocate, "deallocate", false, "deallocate instead of stop")
	return cmd
}

func newStartCmd() *cobra.Command {
	var resourceGroup string
	var all bool
	var pattern string
	cmd := &cobra.Command{
		Use:   "start [vm ...]",
		Short: "Start one, many, or all VMs in a resource group",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(debugFlag)
			if err != nil {
				return err
			}
			rg, err := app.resourceGroup(resourceGroup)
			if err != nil {
				return err
			}
			return runFleetPowerOp(cmd, app, rg, all, pattern, args, func(ctx context.Context, target string) error {
				return app.Lifecycle.Start(ctx, target, rg)
			})
		},
	}
	cmd.Flags().StringVar(&resourceGroup, "resource-group", "", "resource group")
	cmd.Flags().BoolVar(&all, "all", false, "operate on every VM in the resource group")
	cmd.Flags().StringVar(&pattern, "pattern", "", "glob pattern to select VMs")
	return cmd
}
