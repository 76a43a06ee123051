// Package gitleaks runs the gitleaks secret scanner against the revision a
// webhook event points at.
package gitleaks

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/secstack/secbot/common/repository"
	"github.com/secstack/secbot/secbot"
	"github.com/secstack/secbot/secbot/gitlab"
)

// HandlerName is the name this handler is registered under.
const HandlerName = "gitleaks"

func init() {
	secbot.RegisterScanHandler(gitlab.InputName, HandlerName, func(deps *secbot.Deps) secbot.ScanHandler {
		return &Handler{deps: deps}
	})
}

// Config is the component config block of a gitleaks scan.
type Config struct {
	// Report format passed to gitleaks, json unless overridden.
	Format string `json:"format"`
	// RequireLanguages skips the scan when the project has none of the
	// listed languages.
	RequireLanguages []string `json:"require_languages"`
}

// Handler executes gitleaks for one check.
type Handler struct {
	deps *secbot.Deps
}

func (h *Handler) config(inv *secbot.Invocation) (*Config, error) {
	cfg := &Config{}
	if err := secbot.DecodeConfig(inv.Config, cfg); err != nil {
		return nil, err
	}
	if cfg.Format == "" {
		cfg.Format = "json"
	}
	return cfg, nil
}

func inputData(inv *secbot.Invocation) (*gitlab.InputData, error) {
	if len(inv.Args) == 0 {
		return nil, fmt.Errorf("%w: gitleaks invoked without input data", secbot.ErrInput)
	}
	input, ok := inv.Args[0].(*gitlab.InputData)
	if !ok {
		return nil, fmt.Errorf("%w: gitleaks expects gitlab input data, got %T", secbot.ErrInput, inv.Args[0])
	}
	return input, nil
}

// Run clones the repository at the event's commit, executes gitleaks and
// returns the report. The raw report is also stored on the scan row.
func (h *Handler) Run(ctx context.Context, inv *secbot.Invocation) (any, error) {
	cfg, err := h.config(inv)
	if err != nil {
		return nil, err
	}
	input, err := inputData(inv)
	if err != nil {
		return nil, err
	}
	data, err := input.WebhookData()
	if err != nil {
		return nil, err
	}

	scan, err := h.deps.Scans.Start(ctx, input.CheckID, inv.ComponentName)
	if err != nil {
		return nil, err
	}
	log := h.deps.Log.WithComponent(HandlerName).WithCheckID(input.CheckID)

	if err := h.checkLanguages(ctx, cfg, data); err != nil {
		return nil, err
	}

	dir, cleanup, err := gitlab.CloneRepository(ctx, h.deps.Config, data.Project().GitHTTPURL, data.LastCommit().ID)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	report := filepath.Join(dir, fmt.Sprintf("gitleaks-report.%s", cfg.Format))
	cmd := exec.CommandContext(ctx, "gitleaks", "detect", "--redact", "-f", cfg.Format, "-r", report)
	cmd.Dir = dir

	// Gitleaks exits non-zero when it finds leaks; only a failure to run
	// the tool at all is an error.
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("%w: run gitleaks: %v", secbot.ErrScanCheckFailed, err)
		}
	}

	content, err := os.ReadFile(report)
	if err != nil {
		return nil, fmt.Errorf("%w: read gitleaks report: %v", secbot.ErrScanCheckFailed, err)
	}

	if err := h.deps.Scans.SetResponse(ctx, scan.ID, content); err != nil {
		return nil, err
	}
	log.Info("gitleaks scan finished", "scan_id", scan.ID, "report_bytes", len(content))

	return &gitlab.ScanResult{
		ScanID:        scan.ID,
		HandlerName:   HandlerName,
		ComponentName: inv.ComponentName,
		Input:         *input,
		File: gitlab.ScanResultFile{
			CommitHash: data.LastCommit().ID,
			ScanName:   HandlerName,
			Format:     cfg.Format,
			Content:    content,
		},
	}, nil
}

// checkLanguages skips the scan when the project has none of the required
// languages. Language data is advisory: if GitLab cannot provide it the
// scan runs anyway.
func (h *Handler) checkLanguages(ctx context.Context, cfg *Config, data gitlab.WebhookData) error {
	if len(cfg.RequireLanguages) == 0 {
		return nil
	}

	parsed, err := url.Parse(data.Project().WebURL)
	if err != nil || parsed.Hostname() == "" {
		return nil
	}
	instance, ok := h.deps.Config.GitlabByHost(parsed.Hostname())
	if !ok {
		return nil
	}

	languages, err := gitlab.NewClient(instance, 30*time.Second).ProjectLanguages(ctx, data.Project().ID)
	if err != nil || languages == nil {
		return nil
	}

	for _, required := range cfg.RequireLanguages {
		if _, ok := languages[required]; ok {
			return nil
		}
	}
	return fmt.Errorf("%w: project has none of %v", secbot.ErrScanExecutionSkipped, cfg.RequireLanguages)
}

// OnFailure records the failure against the scan row. A start refused
// because the scan is already running is a duplicate delivery and leaves
// the row untouched.
func (h *Handler) OnFailure(ctx context.Context, inv *secbot.Invocation, cause error) error {
	if errors.Is(cause, repository.ErrScanCantBeScanned) {
		return nil
	}
	input, err := inputData(inv)
	if err != nil {
		return nil
	}
	return gitlab.HandleFailure(ctx, h.deps.Scans, input.CheckID, inv.ComponentName, cause)
}
