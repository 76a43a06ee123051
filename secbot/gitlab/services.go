package gitlab

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/exec"

	"github.com/secstack/secbot/common/config"
	"github.com/secstack/secbot/common/models"
	"github.com/secstack/secbot/secbot"
)

// CloneRepository clones a repository into a temporary directory and checks
// out the given reference. The returned cleanup removes the directory and
// must always be called.
func CloneRepository(ctx context.Context, cfg *config.Config, repositoryURL, reference string) (dir string, cleanup func(), err error) {
	parsed, err := url.Parse(repositoryURL)
	if err != nil || parsed.Hostname() == "" {
		return "", nil, fmt.Errorf("%w: repository url %q has no host", secbot.ErrInput, repositoryURL)
	}

	instance, ok := cfg.GitlabByHost(parsed.Hostname())
	if !ok {
		return "", nil, fmt.Errorf("%w: no gitlab instance configured for host %s", secbot.ErrInput, parsed.Hostname())
	}
	parsed.User = url.UserPassword("oauth2", instance.AuthToken)

	dir, err = os.MkdirTemp("", "secbot-clone-")
	if err != nil {
		return "", nil, fmt.Errorf("create clone dir: %w", err)
	}
	cleanup = func() { os.RemoveAll(dir) }

	clone := exec.CommandContext(ctx, "git", "clone", parsed.String(), dir)
	if out, err := clone.CombinedOutput(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("git clone failed: %w: %s", err, out)
	}

	checkout := exec.CommandContext(ctx, "git", "checkout", reference)
	checkout.Dir = dir
	if out, err := checkout.CombinedOutput(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("git checkout %s failed: %w: %s", reference, err, out)
	}

	return dir, cleanup, nil
}

// HandleFailure records a failed workflow step against its scan row. A skip
// is a benign decision and keeps the scan out of the verdict; everything
// else marks the scan errored so a later webhook can restart it. When the
// failure happened before the scan row even existed there is nothing to
// record and the cause is passed back up.
func HandleFailure(ctx context.Context, scans secbot.ScanStore, checkID int64, scanComponent string, cause error) error {
	scan, err := scans.GetByName(ctx, checkID, scanComponent)
	if err != nil {
		return err
	}
	if scan == nil {
		return cause
	}

	status := models.ScanStatusError
	if errors.Is(cause, secbot.ErrScanExecutionSkipped) {
		status = models.ScanStatusSkip
	}
	return scans.SetStatus(ctx, scan.ID, status)
}
