// Package nfsstorage implements the hybrid cross-region sync strategy
// supplemented from original_source/src/azlin/modules/cross_region_sync.py:
// small transfers go over rsync-via-SSH, large ones stage through Cloud
// Driver-backed blob storage, chosen by a configurable size threshold
// (spec §9 open question, resolved: default 100MB).
//
// Subprocess shelling (rsync, az storage) follows the same bare
// os/exec.Command idiom as migratekit/internal/nbdcopy rather than the
// CommandRunner seam clouddriver/vault use, since rsync's local temp-dir
// staging step never crosses the Cloud/SSH Driver boundary those seams
// exist for.
package nfsstorage

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vexxhost/azlin/internal/azerr"
	"github.com/vexxhost/azlin/internal/sshdriver"
)

// Strategy is one of the three sync strategies spec §9 names.
type Strategy string

const (
	StrategyRsync Strategy = "rsync"
	StrategyBlob  Strategy = "azure_blob"
	StrategyAuto  Strategy = "auto"
)

// DefaultThresholdBytes is the AUTO decision boundary: below this, rsync;
// at or above, blob staging (spec §9: "default 100MB").
const DefaultThresholdBytes int64 = 100 * 1024 * 1024

// Result reports one SyncDirectories call's outcome. Errors accumulates
// per-path failures without aborting the rest of the transfer, mirroring
// the "continue on errors, accumulate what we can" discipline of the
// source this package is grounded on.
type Result struct {
	Strategy         Strategy
	FilesSynced      int
	BytesTransferred int64
	Duration         time.Duration
	SourceRegion     string
	TargetRegion     string
	Errors           []string
}

// SuccessRate is 1.0 when no per-path error occurred, 0.0 otherwise.
func (r Result) SuccessRate() float64 {
	if len(r.Errors) > 0 {
		return 0
	}
	return 1
}

// Locator resolves a VM name to the host and region a Syncer needs;
// callers typically back this with the Tiered VM Metadata Cache.
type Locator interface {
	VMHost(ctx context.Context, name string) (host, region string, err error)
}

// Syncer runs hybrid cross-region directory sync between two VMs.
type Syncer struct {
	SSH            sshdriver.Driver
	Locator        Locator
	User           string // SSH login user, default "azlin"
	StorageAccount string // backing account for the blob strategy
	ThresholdBytes int64  // 0 uses DefaultThresholdBytes
}

func New(ssh sshdriver.Driver, locator Locator, storageAccount string) *Syncer {
	return &Syncer{SSH: ssh, Locator: locator, StorageAccount: storageAccount, User: "azlin"}
}

func (s *Syncer) user() string {
	if s.User == "" {
		return "azlin"
	}
	return s.User
}

func (s *Syncer) threshold() int64 {
	if s.ThresholdBytes <= 0 {
		return DefaultThresholdBytes
	}
	return s.ThresholdBytes
}

// EstimateTransferSize sums `du -sb` over every path on the source VM,
// skipping (not failing on) any path that errors.
func (s *Syncer) EstimateTransferSize(ctx context.Context, vm string, paths []string) (int64, error) {
	if len(paths) == 0 {
		return 0, azerr.New(azerr.ValidationError, "paths list cannot be empty")
	}
	host, _, err := s.Locator.VMHost(ctx, vm)
	if err != nil {
		return 0, err
	}
	desc := sshdriver.Descriptor{Host: host, Port: 22, User: s.user()}

	var total int64
	for _, p := range paths {
		stdout, _, exitCode, err := s.SSH.ExecuteRemote(ctx, desc, fmt.Sprintf("du -sb %s", p), 30*time.Second)
		if err != nil || exitCode != 0 {
			log.WithFields(log.Fields{"vm": vm, "path": p}).Debug("du estimate failed, skipping path")
			continue
		}
		fields := strings.Fields(stdout)
		if len(fields) == 0 {
			continue
		}
		n, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			continue
		}
		total += n
	}
	return total, nil
}

// ChooseStrategy picks RSYNC below the threshold, AZURE_BLOB at or above it.
func (s *Syncer) ChooseStrategy(sizeBytes int64) Strategy {
	if sizeBytes < s.threshold() {
		return StrategyRsync
	}
	return StrategyBlob
}

// SyncDirectories syncs paths from sourceVM to targetVM, resolving AUTO to
// a concrete strategy from the estimated transfer size.
func (s *Syncer) SyncDirectories(ctx context.Context, sourceVM, targetVM string, paths []string, strategy Strategy, delete bool) (Result, error) {
	if sourceVM == targetVM {
		return Result{}, azerr.New(azerr.ValidationError, "source_vm and target_vm cannot be the same")
	}
	if len(paths) == 0 {
		return Result{}, azerr.New(azerr.ValidationError, "paths list cannot be empty")
	}

	if strategy == StrategyAuto || strategy == "" {
		size, err := s.EstimateTransferSize(ctx, sourceVM, paths)
		if err != nil {
			return Result{}, err
		}
		strategy = s.ChooseStrategy(size)
	}

	if strategy == StrategyRsync {
		return s.syncViaRsync(ctx, sourceVM, targetVM, paths, delete)
	}
	return s.syncViaBlob(ctx, sourceVM, targetVM, paths, delete)
}

var (
	rsyncFilesPattern = regexp.MustCompile(`Number of files: (\d+)`)
	rsyncBytesPattern = regexp.MustCompile(`Total file size: ([\d,]+)`)
)

// syncViaRsync pulls each path to a local temp directory, then pushes it
// to the target VM (spec-supplemented: a VM-to-VM hop bounced through the
// local machine, since neither VM can SSH directly to the other).
func (s *Syncer) syncViaRsync(ctx context.Context, sourceVM, targetVM string, paths []string, delete bool) (Result, error) {
	start := time.Now()
	result := Result{Strategy: StrategyRsync, SourceRegion: "unknown", TargetRegion: "unknown"}

	sourceHost, sourceRegion, err := s.Locator.VMHost(ctx, sourceVM)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		result.Duration = time.Since(start)
		return result, nil
	}
	targetHost, targetRegion, err := s.Locator.VMHost(ctx, targetVM)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		result.Duration = time.Since(start)
		return result, nil
	}
	result.SourceRegion, result.TargetRegion = sourceRegion, targetRegion

	for _, path := range paths {
		tmpDir, err := os.MkdirTemp("", "azlin-sync-")
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("failed to stage %s: %v", path, err))
			continue
		}

		pullArgs := []string{"-avz", "--stats", fmt.Sprintf("%s@%s:%s", s.user(), sourceHost, path), tmpDir}
		stdout, stderr, err := runCommand(ctx, "rsync", pullArgs...)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("failed to pull %s: %s", path, stderr))
			os.RemoveAll(tmpDir)
			continue
		}
		if m := rsyncFilesPattern.FindStringSubmatch(stdout); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil {
				result.FilesSynced += n
			}
		}
		if m := rsyncBytesPattern.FindStringSubmatch(stdout); m != nil {
			if n, err := strconv.ParseInt(strings.ReplaceAll(m[1], ",", ""), 10, 64); err == nil {
				result.BytesTransferred += n
			}
		}

		pushArgs := []string{"-avz"}
		if delete {
			pushArgs = append(pushArgs, "--delete")
		}
		pushArgs = append(pushArgs, filepath.Clean(tmpDir)+"/", fmt.Sprintf("%s@%s:%s", s.user(), targetHost, path))
		if _, stderr, err := runCommand(ctx, "rsync", pushArgs...); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("failed to push %s: %s", path, stderr))
		}
		os.RemoveAll(tmpDir)
	}

	result.Duration = time.Since(start)
	return result, nil
}

// syncViaBlob stages each path through a throwaway storage container:
// upload from the source VM, download on the target VM, then delete the
// container regardless of outcome.
func (s *Syncer) syncViaBlob(ctx context.Context, sourceVM, targetVM string, paths []string, delete bool) (Result, error) {
	start := time.Now()
	result := Result{Strategy: StrategyBlob, SourceRegion: "unknown", TargetRegion: "unknown"}

	sourceHost, sourceRegion, err := s.Locator.VMHost(ctx, sourceVM)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		result.Duration = time.Since(start)
		return result, nil
	}
	targetHost, targetRegion, err := s.Locator.VMHost(ctx, targetVM)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		result.Duration = time.Since(start)
		return result, nil
	}
	result.SourceRegion, result.TargetRegion = sourceRegion, targetRegion

	container := fmt.Sprintf("azlin-sync-staging-%d", time.Now().UnixNano())
	if _, stderr, err := runCommand(ctx, "az", "storage", "container", "create",
		"--name", container, "--account-name", s.StorageAccount, "--output", "none"); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("failed to create staging container: %s", stderr))
		result.Duration = time.Since(start)
		return result, nil
	}
	defer func() {
		if _, _, err := runCommand(ctx, "az", "storage", "container", "delete",
			"--name", container, "--account-name", s.StorageAccount, "--output", "none"); err != nil {
			log.WithField("container", container).Debug("failed to clean up staging container")
		}
	}()

	sourceDesc := sshdriver.Descriptor{Host: sourceHost, Port: 22, User: s.user()}
	targetDesc := sshdriver.Descriptor{Host: targetHost, Port: 22, User: s.user()}

	for _, path := range paths {
		blobName := filepath.Base(path) + ".tar.gz"
		uploadCmd := fmt.Sprintf(
			"tar czf - %s | az storage blob upload --container-name %s --name %s --account-name %s --data @-",
			path, container, blobName, s.StorageAccount)
		if _, stderr, _, err := s.SSH.ExecuteRemote(ctx, sourceDesc, uploadCmd, 5*time.Minute); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("failed to upload %s: %s", path, stderr))
			continue
		}

		downloadCmd := fmt.Sprintf(
			"az storage blob download --container-name %s --name %s --account-name %s --file - | tar xzf - -C %s",
			container, blobName, s.StorageAccount, filepath.Dir(path))
		if _, stderr, _, err := s.SSH.ExecuteRemote(ctx, targetDesc, downloadCmd, 5*time.Minute); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("failed to download %s: %s", path, stderr))
			continue
		}
		result.FilesSynced++

		stdout, _, err := runCommand(ctx, "az", "storage", "blob", "show",
			"--container-name", container, "--name", blobName, "--account-name", s.StorageAccount,
			"--query", "properties.contentLength", "--output", "tsv")
		if err == nil {
			if n, convErr := strconv.ParseInt(strings.TrimSpace(stdout), 10, 64); convErr == nil {
				result.BytesTransferred += n
			}
		}
	}

	_ = delete // blob staging has no in-place delete-sync concept; accepted for signature symmetry with rsync

	result.Duration = time.Since(start)
	return result, nil
}

func runCommand(ctx context.Context, name string, args ...string) (stdout, stderr string, err error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var out, errOut strings.Builder
	cmd.Stdout = &out
	cmd.Stderr = &errOut
	err = cmd.Run()
	return out.String(), errOut.String(), err
}
