package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/vexxhost/azlin/internal/azerr"
)

var debugFlag bool

// remediation gives the one-line hint §7 requires alongside each category's
// user-visible message.
var remediation = map[azerr.Code]string{
	azerr.AuthFailed:       "Run `az login`.",
	azerr.PrereqMissing:    "Check the prerequisite named above and retry.",
	azerr.QuotaExceeded:    "Raise the quota with `azlin quota set` or free up space with `azlin orphans cleanup`.",
	azerr.PortInUse:        "Free a local port in 50000-60000 and retry.",
	azerr.NetworkUnreachable: "Check network connectivity to the target.",
}

// exitCode maps a classified error to the process exit code spec §6 names.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	if err == context.Canceled {
		return 130
	}
	switch azerr.CodeOf(err) {
	case azerr.PrereqMissing:
		return 2
	case azerr.AuthFailed:
		return 3
	case azerr.ProvisioningError, azerr.RollbackError:
		return 4
	case azerr.ConnectionError:
		return 5
	default:
		return 1
	}
}

func printError(err error) {
	code := azerr.CodeOf(err)
	fmt.Fprintf(os.Stderr, "error: %s\n", err.Error())
	if hint, ok := remediation[code]; ok {
		fmt.Fprintf(os.Stderr, "  %s\n", hint)
	}
	if debugFlag || os.Getenv("AZLIN_DEBUG") == "1" {
		log.WithError(err).Debug("full error detail")
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "azlin",
		Short:         "Manage a fleet of Azure development VMs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVar(&debugFlag, "debug", false, "enable debug logging")

	root.AddCommand(
		newNewCmd(), newDestroyCmd(), newCloneCmd(), newStopCmd(), newStartCmd(),
		newConnectCmd(), newExecCmd(), newCpCmd(),
		newListCmd(), newStatusCmd(), newTopCmd(),
		newStorageCmd(), newOrphansCmd(),
		newQuotaCmd(),
	)
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd()
	root.SetContext(ctx)

	err := root.Execute()
	if err != nil {
		printError(err)
	}
	os.Exit(exitCode(err))
}
