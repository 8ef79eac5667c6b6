package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/vexxhost/azlin/internal/azerr"
	"github.com/vexxhost/azlin/internal/bastion"
	"github.com/vexxhost/azlin/internal/clouddriver"
	"github.com/vexxhost/azlin/internal/sshdriver"
)

// resolveTarget looks up vmOrIP as a VM name in rg, falling back to treating
// it as a raw IP when no such VM exists (spec §6: "connect <vm|ip>").
func resolveTarget(ctx context.Context, app *App, rg, vmOrIP string) (clouddriver.VMRecord, bool, error) {
	if net.ParseIP(vmOrIP) != nil {
		return clouddriver.VMRecord{}, false, nil
	}
	rec, found, err := app.Driver.ShowVM(ctx, rg, vmOrIP)
	if err != nil {
		return clouddriver.VMRecord{}, false, err
	}
	return rec, found, nil
}

// runInteractiveSSH shells to the system ssh binary with stdio inherited,
// the only way to give the user a real interactive terminal (the SSH Driver
// seam only exposes ExecuteRemote's captured-output and WaitForPortReady's
// probe, per spec §6). tmuxSession, if set, attaches or creates that tmux
// session rather than a bare shell.
func runInteractiveSSH(ctx context.Context, d sshdriver.Descriptor, tmuxSession string) error {
	args := []string{
		"-i", d.PrivateKeyPath,
		"-o", "StrictHostKeyChecking=no",
		"-o", "UserKnownHostsFile=/dev/null",
		"-p", fmt.Sprintf("%d", d.Port),
		fmt.Sprintf("%s@%s", d.User, d.Host),
	}
	if tmuxSession != "" {
		args = append(args, "--", "tmux", "new-session", "-A", "-s", tmuxSession)
	}
	cmd := exec.CommandContext(ctx, "ssh", args...)
	cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return azerr.Wrap(azerr.ConnectionError, "ssh session failed", err)
	}
	return nil
}

func newConnectCmd() *cobra.Command {
	var resourceGroup, tmuxSession string
	var useBastion, noBastion bool
	cmd := &cobra.Command{
		Use:   "connect <vm|ip>",
		Short: "Open an interactive SSH session to a VM",
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
			vm, found, err := resolveTarget(cmd.Context(), app, rg, args[0])
			if err != nil {
				return err
			}
			req := bastion.ConnectRequest{
				ResourceGroup: rg, UseBastion: useBastion, NoBastion: noBastion,
			}
			if found {
				req.VMName = vm.Name
			} else {
				req.RawIP = args[0]
			}
			var keyPath string
			if found {
				keyPath = app.keyPath(rg, vm.Name)
			}
			_, err = app.Bastion.Connect(cmd.Context(), req, vm, keyPath, func(ctx context.Context, d sshdriver.Descriptor) error {
				return runInteractiveSSH(ctx, d, tmuxSession)
			})
			return err
		},
	}
	cmd.Flags().StringVar(&resourceGroup, "resource-group", "", "resource group")
	cmd.Flags().BoolVar(&useBastion, "use-bastion", false, "force the Bastion path")
	cmd.Flags().BoolVar(&noBastion, "no-bastion", false, "force the direct path")
	cmd.Flags().StringVar(&tmuxSession, "tmux-session", "", "attach to (or create) this tmux session")
	return cmd
}

func newExecCmd() *cobra.Command {
	var resourceGroup string
	cmd := &cobra.Command{
		Use:   "exec <vm> -- <cmd>",
		Short: "Run a command on a VM over SSH",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(debugFlag)
			if err != nil {
				return err
			}
			rg, err := app.resourceGroup(resourceGroup)
			if err != nil {
				return err
			}
			remoteCmd := strings.Join(args[1:], " ")

			vm, found, err := resolveTarget(cmd.Context(), app, rg, args[0])
			if err != nil {
				return err
			}
			var keyPath string
			if found {
				keyPath = app.keyPath(rg, vm.Name)
			}

			req := bastion.ConnectRequest{VMName: vm.Name, ResourceGroup: rg}
			if !found {
				req.RawIP = args[0]
			}
			var exitCode int
			_, err = app.Bastion.Connect(cmd.Context(), req, vm, keyPath, func(ctx context.Context, d sshdriver.Descriptor) error {
				stdout, stderr, code, runErr := app.SSH.ExecuteRemote(ctx, d, remoteCmd, 10*time.Minute)
				fmt.Print(stdout)
				fmt.Fprint(os.Stderr, stderr)
				exitCode = code
				return runErr
			})
			if err != nil {
				return err
			}
			if exitCode != 0 {
				return azerr.New(azerr.ConnectionError, fmt.Sprintf("remote command exited %d", exitCode))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&resourceGroup, "resource-group", "", "resource group")
	return cmd
}

// cpSpec is one side of a cp argument: either a bare local path, or a
// "<vm>:<path>" remote reference.
type cpSpec struct {
	VM   string
	Path string
	IsRemote bool
}

func parseCpSpec(raw string) cpSpec {
	if idx := strings.Index(raw, ":"); idx > 0 {
		return cpSpec{VM: raw[:idx], Path: raw[idx+1:], IsRemote: true}
	}
	return cpSpec{Path: raw}
}

func newCpCmd() *cobra.Command {
	var resourceGroup string
	cmd := &cobra.Command{
		Use:   "cp <src>... <dst>",
		Short: "Copy files to or from a VM",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(debugFlag)
			if err != nil {
				return err
			}
			rg, err := app.resourceGroup(resourceGroup)
			if err != nil {
				return err
			}

			sources := args[:len(args)-1]
			dst := parseCpSpec(args[len(args)-1])

			specs := make([]cpSpec, len(sources))
			for i, s := range sources {
				specs[i] = parseCpSpec(s)
			}

			// Multi-source rule (spec §6): every source must be on the same
			// side — all local, or all remote on the same VM.
			allLocal := true
			sawLocal := false
			var remoteVM string
			for _, s := range specs {
				if s.IsRemote {
					allLocal = false
					if remoteVM == "" {
						remoteVM = s.VM
					} else if remoteVM != s.VM {
						return azerr.New(azerr.ValidationError, "all cp sources must be on the same side: all local, or all remote on one VM")
					}
				} else {
					sawLocal = true
				}
			}
			if sawLocal && !allLocal {
				return azerr.New(azerr.ValidationError, "all cp sources must be on the same side: all local, or all remote on one VM")
			}
			if !allLocal && dst.IsRemote {
				return azerr.New(azerr.ValidationError, "cp cannot copy remote-to-remote")
			}

			var vmName string
			if allLocal {
				vmName = dst.VM
			} else {
				vmName = remoteVM
			}
			vm, found, err := app.Driver.ShowVM(cmd.Context(), rg, vmName)
			if err != nil {
				return err
			}
			if !found {
				return azerr.New(azerr.ResourceNotFound, fmt.Sprintf("vm %q not found", vmName))
			}
			keyPath := app.keyPath(rg, vm.Name)

			_, err = app.Bastion.Connect(cmd.Context(), bastion.ConnectRequest{VMName: vm.Name, ResourceGroup: rg}, vm, keyPath,
				func(ctx context.Context, d sshdriver.Descriptor) error {
					if allLocal {
						for _, s := range specs {
							if err := sshdriver.CopyToRemote(ctx, d, s.Path, dst.Path); err != nil {
								return err
							}
						}
						return nil
					}
					for _, s := range specs {
						if err := sshdriver.CopyFromRemote(ctx, d, s.Path, dst.Path); err != nil {
							return err
						}
					}
					return nil
				})
			return err
		},
	}
	cmd.Flags().StringVar(&resourceGroup, "resource-group", "", "resource group")
	return cmd
}
