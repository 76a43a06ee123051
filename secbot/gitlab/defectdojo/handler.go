// Package defectdojo uploads scan reports to DefectDojo and evaluates the
// resulting findings for the check verdict.
package defectdojo

import (
	"context"
	"fmt"
	"net/url"

	"github.com/secstack/secbot/secbot"
	"github.com/secstack/secbot/secbot/gitlab"
)

// HandlerName is the name this handler is registered under.
const HandlerName = "defectdojo"

func init() {
	secbot.RegisterOutputHandler(gitlab.InputName, HandlerName, func(deps *secbot.Deps) secbot.OutputHandler {
		return &Handler{deps: deps}
	})
}

// Handler is the DefectDojo output of the GitLab input.
type Handler struct {
	deps *secbot.Deps
}

func (h *Handler) credentials(env map[string]string) (*Credentials, *Client, error) {
	creds := &Credentials{}
	if err := secbot.DecodeEnv(env, creds); err != nil {
		return nil, nil, err
	}
	return creds, NewClient(creds.URL, creds.SecretKey, h.deps.Config.Secbot.HTTPTimeout), nil
}

func scanResult(inv *secbot.Invocation) (*gitlab.ScanResult, error) {
	if len(inv.Args) == 0 {
		return nil, fmt.Errorf("%w: defectdojo invoked without a scan result", secbot.ErrInput)
	}
	result, ok := inv.Args[0].(*gitlab.ScanResult)
	if !ok {
		return nil, fmt.Errorf("%w: defectdojo expects a scan result, got %T", secbot.ErrInput, inv.Args[0])
	}
	return result, nil
}

// Run uploads the scan report, waits for DefectDojo to process it, marks the
// scan complete and returns the ingested findings for notification.
func (h *Handler) Run(ctx context.Context, inv *secbot.Invocation) (any, error) {
	creds, client, err := h.credentials(inv.Env)
	if err != nil {
		return nil, err
	}
	result, err := scanResult(inv)
	if err != nil {
		return nil, err
	}
	data, err := result.Input.WebhookData()
	if err != nil {
		return nil, err
	}
	log := h.deps.Log.WithComponent(HandlerName).WithCheckID(result.Input.CheckID)

	parsedPath, err := url.Parse(data.Path())
	if err != nil {
		return nil, fmt.Errorf("%w: event path %q: %v", secbot.ErrInput, data.Path(), err)
	}

	engagementID, err := Prepare(ctx, client, creds, data, parsedPath.Path, log)
	if err != nil {
		return nil, err
	}

	testID, err := Upload(ctx, client, engagementID, &result.File)
	if err != nil {
		return nil, err
	}

	if err := h.deps.Scans.Complete(ctx, result.ScanID, inv.ComponentName, testID); err != nil {
		return nil, err
	}

	findings, err := FindingsByTest(ctx, client, creds, testID)
	if err != nil {
		return nil, err
	}
	log.Info("defectdojo upload complete", "test_id", testID, "findings", len(findings))

	return &gitlab.OutputResult{
		HandlerName:   HandlerName,
		ComponentName: inv.ComponentName,
		ScanResult:    *result,
		Response: gitlab.OutputResponse{
			ProjectName: gitlab.ProjectName(data.Project().GitSSHURL),
			ProjectURL:  data.Project().WebURL,
			Findings:    findings,
		},
	}, nil
}

// FetchStatus answers whether the findings uploaded for the commit pass
// policy.
func (h *Handler) FetchStatus(ctx context.Context, req *secbot.StatusRequest) (bool, error) {
	creds, client, err := h.credentials(req.Env)
	if err != nil {
		return false, err
	}
	return NewValidator(client, creds, req.CommitHash, req.EligibleScans).IsValid(ctx)
}

// OnFailure records the upload failure against the originating scan.
func (h *Handler) OnFailure(ctx context.Context, inv *secbot.Invocation, cause error) error {
	result, err := scanResult(inv)
	if err != nil {
		return nil
	}
	return gitlab.HandleFailure(ctx, h.deps.Scans, result.Input.CheckID, result.ComponentName, cause)
}
