// Package bastion implements the Bastion/Connection Router (spec §4.2):
// path selection, tunnel establishment and supervision, reconnect policy,
// and tmux socket repair, following the teacher's os/exec subprocess
// idiom (oma/services/vma_ssh_manager.go, migratekit's
// vmware_nbdkit.go) for spawning and tearing down the tunnel process.
package bastion

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vexxhost/azlin/internal/azerr"
	"github.com/vexxhost/azlin/internal/cache"
	"github.com/vexxhost/azlin/internal/clouddriver"
	"github.com/vexxhost/azlin/internal/config"
	"github.com/vexxhost/azlin/internal/interaction"
	"github.com/vexxhost/azlin/internal/sshdriver"
)

// Path is the transport the Router chose for a ConnectRequest.
type Path string

const (
	PathDirect  Path = "direct"
	PathBastion Path = "bastion"
)

const (
	PortRangeStart = 50000
	PortRangeEnd   = 60000

	DefaultPostBootWait = 75 * time.Second
	MaxPostBootWait     = 3600 * time.Second

	TunnelReadinessTimeout = 30 * time.Second
	TunnelPollInterval     = time.Second
	TerminateGrace         = 5 * time.Second

	DefaultReconnectAttempts = 3
)

// ConnectRequest is the Router's input: either a VM identity or a raw IP,
// plus routing preferences (spec §4.2).
type ConnectRequest struct {
	VMName        string
	ResourceGroup string
	RawIP         string
	UseBastion    bool
	NoBastion     bool
	FreshlyBooted bool // true right after Provision, triggers the post-boot wait
}

// ConnectResult describes the path actually used and, for Bastion paths,
// the local tunnel endpoint.
type ConnectResult struct {
	Path      Path
	Host      string
	Port      int
	LocalPort int
}

// SessionFunc runs the actual remote session (interactive SSH, exec, or
// sftp copy) against the resolved Descriptor. The Router guarantees any
// tunnel it spawned is terminated before Connect returns, regardless of
// what SessionFunc does.
type SessionFunc func(ctx context.Context, d sshdriver.Descriptor) error

// Router implements spec §4.2 against the Cloud Driver, the SSH Driver,
// persistent Bastion config, and the Connection Tracker.
type Router struct {
	Driver      clouddriver.Driver
	SSH         sshdriver.Driver
	Config      config.BastionConfig
	Handler     interaction.Handler
	Connections *cache.ConnectionTracker

	EnableReconnect   bool
	ReconnectAttempts int
}

func New(driver clouddriver.Driver, ssh sshdriver.Driver, cfg config.BastionConfig, handler interaction.Handler, connections *cache.ConnectionTracker) *Router {
	return &Router{
		Driver: driver, SSH: ssh, Config: cfg, Handler: handler, Connections: connections,
		EnableReconnect: true, ReconnectAttempts: DefaultReconnectAttempts,
	}
}

// PostBootWait reads AZLIN_VM_BOOT_WAIT (spec §6), falling back to
// DefaultPostBootWait, capped at MaxPostBootWait (spec §4.2).
func PostBootWait() time.Duration {
	if v := os.Getenv("AZLIN_VM_BOOT_WAIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			d := time.Duration(n) * time.Second
			if d > MaxPostBootWait {
				d = MaxPostBootWait
			}
			return d
		}
	}
	return DefaultPostBootWait
}

// AllocatePort probes 127.0.0.1:p for a free port starting at start,
// returning the first one that binds successfully (spec §4.2).
func AllocatePort(start, end int) (int, error) {
	for p := start; p <= end; p++ {
		l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", p))
		if err != nil {
			continue
		}
		l.Close()
		return p, nil
	}
	return 0, azerr.New(azerr.PortInUse, "no free local port in 50000-60000")
}

// selectPath implements spec §4.2's six-step path selection algorithm.
func (r *Router) selectPath(ctx context.Context, req ConnectRequest, vm clouddriver.VMRecord) (Path, *clouddriver.Bastion, error) {
	if req.NoBastion && vm.HasIP() {
		return PathDirect, nil, nil
	}

	autoDetect := func() (*clouddriver.Bastion, error) {
		bastions, err := r.Driver.ListBastions(ctx, req.ResourceGroup)
		if err != nil {
			return nil, err
		}
		for _, b := range bastions {
			if b.Region == vm.Region {
				return &b, nil
			}
		}
		return nil, nil
	}

	if req.UseBastion {
		if mapping, ok := r.Config.Lookup(vm.Name); ok {
			return PathBastion, &clouddriver.Bastion{Name: mapping.BastionName, ResourceGroup: mapping.BastionResourceGroup}, nil
		}
		b, err := autoDetect()
		if err != nil {
			return "", nil, err
		}
		if b == nil {
			return "", nil, azerr.New(azerr.PrereqMissing, "use_bastion requested but no Bastion mapping or auto-detected Bastion is available")
		}
		return PathBastion, b, nil
	}

	if vm.PublicIP == "" {
		if mapping, ok := r.Config.Lookup(vm.Name); ok {
			return PathBastion, &clouddriver.Bastion{Name: mapping.BastionName, ResourceGroup: mapping.BastionResourceGroup}, nil
		}
		b, err := autoDetect()
		if err != nil {
			return "", nil, err
		}
		if b == nil {
			return "", nil, azerr.New(azerr.PrereqMissing, "private VM, no Bastion available: configure a Bastion mapping or create a Bastion in this resource group")
		}
		return PathBastion, b, nil
	}

	if mapping, ok := r.Config.Lookup(vm.Name); ok {
		return PathBastion, &clouddriver.Bastion{Name: mapping.BastionName, ResourceGroup: mapping.BastionResourceGroup}, nil
	}

	b, err := autoDetect()
	if err != nil {
		return "", nil, err
	}
	if b != nil {
		choice, err := r.Handler.Ask(interaction.Prompt{
			Message: fmt.Sprintf("Found Bastion %q in %s, use it?", b.Name, vm.Region),
			Choices: []interaction.Choice{interaction.ChoiceUseExisting, interaction.ChoiceSkip},
			Default: interaction.ChoiceUseExisting,
		})
		if err != nil {
			return "", nil, err
		}
		if choice == interaction.ChoiceUseExisting {
			return PathBastion, b, nil
		}
	}
	return PathDirect, nil, nil
}

// classifyTunnelFailure maps a dead tunnel process's stderr to the §4.2
// taxonomy subset, falling back to InternalError ("Unknown").
func classifyTunnelFailure(stderr string) error {
	code := azerr.ClassifyStderr(stderr)
	return azerr.New(code, "bastion tunnel failed to become ready")
}

// waitForTunnelReady alternates a liveness check and a TCP connect probe
// every TunnelPollInterval until ready or TunnelReadinessTimeout elapses
// (spec §4.2).
func waitForTunnelReady(ctx context.Context, proc clouddriver.Process, port int) error {
	deadline := time.Now().Add(TunnelReadinessTimeout)
	for {
		if !proc.Alive() {
			return classifyTunnelFailure(proc.Stderr())
		}
		conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), TunnelPollInterval)
		if err == nil {
			conn.Close()
			return nil
		}
		if time.Now().After(deadline) {
			return azerr.New(azerr.Timeout, "bastion tunnel did not become ready within 30s")
		}
		select {
		case <-ctx.Done():
			return azerr.Wrap(azerr.Timeout, "tunnel wait cancelled", ctx.Err())
		case <-time.After(TunnelPollInterval):
		}
	}
}

// establishTunnel allocates a port and spawns the Cloud Driver's tunnel
// subprocess, waiting for it to become ready. On any failure the spawned
// process (if any) is terminated before returning.
func (r *Router) establishTunnel(ctx context.Context, bastion clouddriver.Bastion, targetResourceID string) (clouddriver.Process, int, error) {
	port, err := AllocatePort(PortRangeStart, PortRangeEnd)
	if err != nil {
		return nil, 0, err
	}
	proc, err := r.Driver.CreateBastionTunnel(ctx, bastion, targetResourceID, port, 22)
	if err != nil {
		return nil, 0, err
	}
	if err := waitForTunnelReady(ctx, proc, port); err != nil {
		_ = proc.Terminate(TerminateGrace)
		return nil, 0, err
	}
	return proc, port, nil
}

// repairTmuxSocketDir runs an idempotent remote script ensuring
// /tmp/tmux-<uid> exists with mode 0700. Failures are non-fatal, logged
// at debug only (spec §4.2).
func (r *Router) repairTmuxSocketDir(ctx context.Context, desc sshdriver.Descriptor) {
	script := `u=$(id -u); d="/tmp/tmux-$u"; [ -d "$d" ] || mkdir -m 0700 "$d"`
	_, stderr, _, err := r.SSH.ExecuteRemote(ctx, desc, script, 10*time.Second)
	if err != nil {
		log.WithError(err).WithField("stderr", stderr).Debug("tmux socket dir repair failed, continuing")
	}
}

// isNetworkLoss reports whether err looks like a connection drop worth
// retrying, per the §4.2 reconnect policy.
func isNetworkLoss(err error) bool {
	if err == nil {
		return false
	}
	switch azerr.CodeOf(err) {
	case azerr.NetworkUnreachable, azerr.ConnectionError, azerr.Timeout:
		return true
	default:
		return false
	}
}

// Connect resolves a transport path for req, establishes it, runs the
// caller-supplied session, and tears the tunnel (if any) down before
// returning — on success, on error, or on cancellation (spec §4.2).
func (r *Router) Connect(ctx context.Context, req ConnectRequest, vm clouddriver.VMRecord, keyPath string, run SessionFunc) (ConnectResult, error) {
	if req.FreshlyBooted {
		select {
		case <-ctx.Done():
			return ConnectResult{}, ctx.Err()
		case <-time.After(PostBootWait()):
		}
	}

	var host string
	if req.RawIP != "" {
		host = req.RawIP
	} else if vm.PublicIP != "" {
		host = vm.PublicIP
	} else {
		host = vm.PrivateIP
	}

	path, bastionRef, err := r.selectPath(ctx, req, vm)
	if err != nil {
		return ConnectResult{}, err
	}

	attempts := 1
	if r.EnableReconnect {
		attempts = r.ReconnectAttempts
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		result, runErr := r.connectOnce(ctx, path, bastionRef, host, vm, keyPath, run)
		if runErr == nil {
			return result, nil
		}
		lastErr = runErr
		if !isNetworkLoss(runErr) {
			return ConnectResult{}, runErr
		}
		log.WithError(runErr).WithField("attempt", attempt+1).Warn("connection lost, reconnecting")
	}
	return ConnectResult{}, lastErr
}

func (r *Router) connectOnce(ctx context.Context, path Path, bastionRef *clouddriver.Bastion, host string, vm clouddriver.VMRecord, keyPath string, run SessionFunc) (ConnectResult, error) {
	result := ConnectResult{Path: path, Host: host, Port: 22}

	if path == PathDirect {
		desc := sshdriver.Descriptor{Host: host, Port: 22, User: "azlin", PrivateKeyPath: keyPath}
		r.repairTmuxSocketDir(ctx, desc)
		if err := run(ctx, desc); err != nil {
			return ConnectResult{}, err
		}
		r.recordConnection(vm)
		return result, nil
	}

	targetResourceID := fmt.Sprintf("%s/%s", vm.ResourceGroup, vm.Name)
	proc, localPort, err := r.establishTunnel(ctx, *bastionRef, targetResourceID)
	if err != nil {
		return ConnectResult{}, err
	}
	defer func() { _ = proc.Terminate(TerminateGrace) }()

	result.LocalPort = localPort
	desc := sshdriver.Descriptor{Host: "127.0.0.1", Port: localPort, User: "azlin", PrivateKeyPath: keyPath}
	r.repairTmuxSocketDir(ctx, desc)
	if err := run(ctx, desc); err != nil {
		return ConnectResult{}, err
	}
	r.recordConnection(vm)
	return result, nil
}

func (r *Router) recordConnection(vm clouddriver.VMRecord) {
	if r.Connections == nil {
		return
	}
	if err := r.Connections.RecordConnection(vm.ResourceGroup + ":" + vm.Name); err != nil {
		log.WithError(err).Debug("failed to record connection timestamp")
	}
}
