package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vexxhost/azlin/internal/azerr"
	"github.com/vexxhost/azlin/internal/governor"
	"github.com/vexxhost/azlin/internal/nfsstorage"
)

func newStorageCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "storage",
		Short: "Manage NFS storage accounts",
	}
	root.AddCommand(newStorageCreateCmd(), newStorageListCmd(), newStorageDeleteCmd(), newStorageSyncCmd())
	return root
}

func newStorageSyncCmd() *cobra.Command {
	var resourceGroup, strategy string
	var delete bool
	cmd := &cobra.Command{
		Use:   "sync <src-vm> <dst-vm> <path>...",
		Short: "Sync directories between two VMs, picking rsync or blob staging by size",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(debugFlag)
			if err != nil {
				return err
			}
			rg, err := app.resourceGroup(resourceGroup)
			if err != nil {
				return err
			}
			srcKey := rg + ":" + args[0]
			dstKey := rg + ":" + args[1]
			paths := args[2:]

			strat := nfsstorage.StrategyAuto
			switch strings.ToLower(strategy) {
			case "", "auto":
				size, err := app.NFS.EstimateTransferSize(cmd.Context(), srcKey, paths)
				if err != nil {
					return err
				}
				strat = app.NFS.ChooseStrategy(size)
			case "rsync":
				strat = nfsstorage.StrategyRsync
			case "blob", "azure_blob":
				strat = nfsstorage.StrategyBlob
			default:
				return azerr.New(azerr.ValidationError, "--strategy must be auto, rsync, or blob")
			}

			result, err := app.NFS.SyncDirectories(cmd.Context(), srcKey, dstKey, paths, strat, delete)
			if err != nil {
				return err
			}
			fmt.Printf("strategy=%s files=%d bytes=%d duration=%s\n", result.Strategy, result.FilesSynced, result.BytesTransferred, result.Duration)
			for _, e := range result.Errors {
				fmt.Printf("  error: %s\n", e)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&resourceGroup, "resource-group", "", "resource group both VMs belong to")
	cmd.Flags().StringVar(&strategy, "strategy", "auto", "auto|rsync|blob")
	cmd.Flags().BoolVar(&delete, "delete", false, "delete files at the destination not present at the source")
	return cmd
}

func newStorageCreateCmd() *cobra.Command {
	var resourceGroup, region, tier string
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create an NFS storage account",
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
			reg, err := app.region(region)
			if err != nil {
				return err
			}
			if tier == "" {
				tier = "Standard"
			}
			acct, err := app.Driver.CreateStorage(cmd.Context(), rg, args[0], reg, tier)
			if err != nil {
				return err
			}
			fmt.Printf("Created storage account %q in %s\n", acct.Name, acct.Region)
			return nil
		},
	}
	cmd.Flags().StringVar(&resourceGroup, "resource-group", "", "resource group")
	cmd.Flags().StringVar(&region, "region", "", "Azure region")
	cmd.Flags().StringVar(&tier, "tier", "", "storage tier (default Standard)")
	return cmd
}

func newStorageListCmd() *cobra.Command {
	var resourceGroup string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List storage accounts in a resource group",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(debugFlag)
			if err != nil {
				return err
			}
			rg, err := app.resourceGroup(resourceGroup)
			if err != nil {
				return err
			}
			accounts, err := app.Driver.ListStorage(cmd.Context(), rg)
			if err != nil {
				return err
			}
			for _, a := range accounts {
				fmt.Printf("%-24s %-10s %-8dGB connected=%d shared=%v\n", a.Name, a.Region, a.SizeGB, len(a.ConnectedVMs), a.Shared)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&resourceGroup, "resource-group", "", "resource group")
	return cmd
}

func newStorageDeleteCmd() *cobra.Command {
	var resourceGroup string
	cmd := &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a storage account",
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
			if err := app.Driver.DeleteStorage(cmd.Context(), rg, args[0]); err != nil {
				return err
			}
			fmt.Printf("Deleted storage account %q\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&resourceGroup, "resource-group", "", "resource group")
	return cmd
}

func newOrphansCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "orphans",
		Short: "Scan for and clean up orphaned disks, snapshots, and storage",
	}
	root.AddCommand(newOrphansScanCmd(), newOrphansCleanupCmd())
	return root
}

func printOrphans(reports []governor.OrphanReport) {
	var totalCost float64
	for _, r := range reports {
		fmt.Printf("%-9s %-24s %6dGB %4dd  $%.2f/mo  %s\n", r.Kind, r.Name, r.SizeGB, r.AgeDays, r.MonthlyCost, r.Reason)
		totalCost += r.MonthlyCost
	}
	fmt.Printf("%d orphan(s), $%.2f/mo potential savings\n", len(reports), totalCost)
}

func newOrphansScanCmd() *cobra.Command {
	var resourceGroup, kind string
	var minAgeDays int
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan a resource group for orphaned resources",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(debugFlag)
			if err != nil {
				return err
			}
			rg, err := app.resourceGroup(resourceGroup)
			if err != nil {
				return err
			}

			if kind == "" && minAgeDays == 0 {
				reports, err := app.Detector.ScanAll(cmd.Context(), rg)
				if err != nil {
					return err
				}
				printOrphans(reports)
				return nil
			}

			kinds := []governor.OrphanKind{governor.KindDisk, governor.KindSnapshot, governor.KindStorage}
			if kind != "" {
				k, err := parseOrphanKind(kind)
				if err != nil {
					return err
				}
				kinds = []governor.OrphanKind{k}
			}
			var reports []governor.OrphanReport
			for _, k := range kinds {
				age := minAgeDays
				if age == 0 {
					age = defaultMinAgeFor(k)
				}
				var found []governor.OrphanReport
				switch k {
				case governor.KindDisk:
					found, err = app.Detector.ScanDisks(cmd.Context(), rg, age)
				case governor.KindSnapshot:
					found, err = app.Detector.ScanSnapshots(cmd.Context(), rg, age)
				case governor.KindStorage:
					found, err = app.Detector.ScanStorage(cmd.Context(), rg, age)
				}
				if err != nil {
					return err
				}
				reports = append(reports, found...)
			}
			printOrphans(reports)
			return nil
		},
	}
	cmd.Flags().StringVar(&resourceGroup, "resource-group", "", "resource group")
	cmd.Flags().StringVar(&kind, "type", "", "disk|snapshot|storage (default: all three)")
	cmd.Flags().IntVar(&minAgeDays, "min-age", 0, "override each kind's default minimum age in days")
	return cmd
}

func newOrphansCleanupCmd() *cobra.Command {
	var resourceGroup, kind string
	var minAgeDays int
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete orphaned resources (dry-run by default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(debugFlag)
			if err != nil {
				return err
			}
			rg, err := app.resourceGroup(resourceGroup)
			if err != nil {
				return err
			}

			kinds := []governor.OrphanKind{governor.KindDisk, governor.KindSnapshot, governor.KindStorage}
			if kind != "" {
				k, err := parseOrphanKind(kind)
				if err != nil {
					return err
				}
				kinds = []governor.OrphanKind{k}
			}

			var freedGB int
			var freedCost float64
			var deleted int
			for _, k := range kinds {
				age := minAgeDays
				if age == 0 {
					age = defaultMinAgeFor(k)
				}
				result, err := app.Detector.Cleanup(cmd.Context(), rg, k, age, dryRun)
				if err != nil {
					return err
				}
				freedGB += result.FreedGB
				freedCost += result.FreedCost
				deleted += len(result.DeletedIDs)
				for _, e := range result.Errors {
					fmt.Printf("  error: %v\n", e)
				}
			}
			verb := "Would free"
			if !dryRun {
				verb = "Freed"
			}
			fmt.Printf("%s %dGB ($%.2f/mo), %d resource(s) deleted\n", verb, freedGB, freedCost, deleted)
			return nil
		},
	}
	cmd.Flags().StringVar(&resourceGroup, "resource-group", "", "resource group")
	cmd.Flags().StringVar(&kind, "type", "", "disk|snapshot|storage (default: all three)")
	cmd.Flags().IntVar(&minAgeDays, "min-age", 0, "override each kind's default minimum age in days")
	cmd.Flags().BoolVar(&dryRun, "dry-run", true, "report what would be deleted without deleting")
	return cmd
}

func parseOrphanKind(s string) (governor.OrphanKind, error) {
	switch s {
	case "disk":
		return governor.KindDisk, nil
	case "snapshot":
		return governor.KindSnapshot, nil
	case "storage":
		return governor.KindStorage, nil
	default:
		return "", azerr.New(azerr.ValidationError, "--type must be disk, snapshot, or storage")
	}
}

func defaultMinAgeFor(k governor.OrphanKind) int {
	switch k {
	case governor.KindDisk:
		return governor.DefaultDiskMinAgeDays
	case governor.KindSnapshot:
		return governor.DefaultSnapshotMinAgeDays
	default:
		return governor.DefaultStorageMinAgeDays
	}
}
