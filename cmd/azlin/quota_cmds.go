package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vexxhost/azlin/internal/azerr"
	"github.com/vexxhost/azlin/internal/governor"
)

func parseQuotaScope(s string) (governor.QuotaScope, error) {
	switch s {
	case "vm":
		return governor.ScopeVM, nil
	case "team":
		return governor.ScopeTeam, nil
	case "project":
		return governor.ScopeProject, nil
	default:
		return "", azerr.New(azerr.ValidationError, "--scope must be vm, team, or project")
	}
}

func newQuotaCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "quota",
		Short: "Set and inspect storage quotas",
	}
	root.AddCommand(newQuotaSetCmd(), newQuotaGetCmd(), newQuotaListCmd(), newQuotaCheckCmd())
	return root
}

func newQuotaSetCmd() *cobra.Command {
	var scope string
	var quotaGB float64
	cmd := &cobra.Command{
		Use:   "set <name>",
		Short: "Set a quota ceiling in GB (for --scope vm, <name> is \"resource-group:vm-name\")",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(debugFlag)
			if err != nil {
				return err
			}
			s, err := parseQuotaScope(scope)
			if err != nil {
				return err
			}
			if err := app.QuotaStore.SetQuota(s, args[0], quotaGB); err != nil {
				return err
			}
			fmt.Printf("Quota for %s %q set to %.1fGB\n", s, args[0], quotaGB)
			return nil
		},
	}
	cmd.Flags().StringVar(&scope, "scope", "vm", "vm|team|project")
	cmd.Flags().Float64Var(&quotaGB, "gb", 0, "quota ceiling in GB")
	cmd.MarkFlagRequired("gb")
	return cmd
}

func newQuotaGetCmd() *cobra.Command {
	var scope string
	cmd := &cobra.Command{
		Use:   "get <name>",
		Short: "Show live usage against a configured quota (for --scope vm, <name> is \"resource-group:vm-name\")",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(debugFlag)
			if err != nil {
				return err
			}
			s, err := parseQuotaScope(scope)
			if err != nil {
				return err
			}
			status, err := app.QuotaManager.GetQuota(cmd.Context(), s, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("used:        %.1fGB\n", status.UsedGB)
			fmt.Printf("quota:       %.1fGB\n", status.QuotaGB)
			fmt.Printf("available:   %.1fGB\n", status.AvailableGB)
			fmt.Printf("utilization: %.1f%%\n", status.UtilizationPercent)
			for _, r := range status.Resources {
				fmt.Printf("  - %s\n", r)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&scope, "scope", "vm", "vm|team|project")
	return cmd
}

func newQuotaListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List every configured quota ceiling",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(debugFlag)
			if err != nil {
				return err
			}
			limits, err := app.QuotaStore.List()
			if err != nil {
				return err
			}
			for _, l := range limits {
				fmt.Printf("%-8s %-24s %.1fGB\n", l.Scope, l.Name, l.QuotaGB)
			}
			return nil
		},
	}
	return cmd
}

func newQuotaCheckCmd() *cobra.Command {
	var scope string
	var requestedGB float64
	cmd := &cobra.Command{
		Use:   "check <name>",
		Short: "Check whether requested GB fits within a quota before provisioning (for --scope vm, <name> is \"resource-group:vm-name\")",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(debugFlag)
			if err != nil {
				return err
			}
			s, err := parseQuotaScope(scope)
			if err != nil {
				return err
			}
			result, err := app.QuotaManager.CheckQuota(cmd.Context(), s, args[0], requestedGB)
			if err != nil {
				return err
			}
			if !result.Available {
				return azerr.New(azerr.QuotaExceeded, fmt.Sprintf("requesting %.1fGB would leave %.1fGB remaining", requestedGB, result.RemainingAfterGB))
			}
			fmt.Printf("OK: %.1fGB would remain after this request\n", result.RemainingAfterGB)
			return nil
		},
	}
	cmd.Flags().StringVar(&scope, "scope", "vm", "vm|team|project")
	cmd.Flags().Float64Var(&requestedGB, "gb", 0, "GB requested")
	return cmd
}
