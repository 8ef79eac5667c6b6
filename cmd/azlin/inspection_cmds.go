package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vexxhost/azlin/internal/azerr"
	"github.com/vexxhost/azlin/internal/clouddriver"
)

func newListCmd() *cobra.Command {
	var resourceGroup string
	var live bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List VMs in a resource group",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(debugFlag)
			if err != nil {
				return err
			}
			rg, err := app.resourceGroup(resourceGroup)
			if err != nil {
				return err
			}

			if live {
				vms, err := app.Driver.ListVMs(cmd.Context(), rg)
				if err != nil {
					return err
				}
				printVMTable(vms)
				return nil
			}

			entries, err := app.Cache.GetByResourceGroup(rg)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				vms, err := app.Driver.ListVMs(cmd.Context(), rg)
				if err != nil {
					return err
				}
				printVMTable(vms)
				return nil
			}
			for _, e := range entries {
				fmt.Printf("%-20s %-12s %-10s %-15s\n", e.Name, e.Mutable.PowerState, e.Immutable.Region, e.Mutable.PublicIP)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&resourceGroup, "resource-group", "", "resource group")
	cmd.Flags().BoolVar(&live, "live", false, "bypass the cache and query the Cloud Driver directly")
	return cmd
}

func printVMTable(vms []clouddriver.VMRecord) {
	for _, v := range vms {
		ip := v.PublicIP
		if ip == "" {
			ip = v.PrivateIP
		}
		fmt.Printf("%-20s %-12s %-10s %-15s\n", v.Name, v.PowerState, v.Region, ip)
	}
}

func newStatusCmd() *cobra.Command {
	var resourceGroup string
	cmd := &cobra.Command{
		Use:   "status <vm>",
		Short: "Show a single VM's current record",
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
			vm, found, err := app.Driver.ShowVM(cmd.Context(), rg, args[0])
			if err != nil {
				return err
			}
			if !found {
				return azerr.New(azerr.ResourceNotFound, fmt.Sprintf("vm %q not found in %s", args[0], rg))
			}
			fmt.Printf("name:       %s\n", vm.Name)
			fmt.Printf("state:      %s\n", vm.PowerState)
			fmt.Printf("region:     %s\n", vm.Region)
			fmt.Printf("size:       %s\n", vm.Size)
			fmt.Printf("image:      %s\n", vm.Image)
			fmt.Printf("public ip:  %s\n", vm.PublicIP)
			fmt.Printf("private ip: %s\n", vm.PrivateIP)
			if last, ok := app.Connections.LastConnected(rg + ":" + vm.Name); ok {
				fmt.Printf("last conn:  %s\n", last.Format(time.RFC3339))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&resourceGroup, "resource-group", "", "resource group")
	return cmd
}

func newTopCmd() *cobra.Command {
	var resourceGroup string
	cmd := &cobra.Command{
		Use:   "top",
		Short: "Show power state and last-connected time across the fleet",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(debugFlag)
			if err != nil {
				return err
			}
			rg, err := app.resourceGroup(resourceGroup)
			if err != nil {
				return err
			}
			vms, err := app.Driver.ListVMs(cmd.Context(), rg)
			if err != nil {
				return err
			}
			fmt.Printf("%-20s %-12s %-10s %s\n", "NAME", "STATE", "SIZE", "LAST CONNECTED")
			for _, v := range vms {
				last := "-"
				if ts, ok := app.Connections.LastConnected(rg + ":" + v.Name); ok {
					last = ts.Format(time.RFC3339)
				}
				fmt.Printf("%-20s %-12s %-10s %s\n", v.Name, v.PowerState, v.Size, last)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&resourceGroup, "resource-group", "", "resource group")
	return cmd
}
