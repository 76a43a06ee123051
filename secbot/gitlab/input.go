// Package gitlab is the GitLab input of the security check orchestrator: it
// turns webhook events into durable checks, runs the configured workflow for
// them and answers verdict queries.
package gitlab

import (
	"context"
	"fmt"
	"net/url"

	"github.com/secstack/secbot/common/config"
	"github.com/secstack/secbot/common/logger"
	"github.com/secstack/secbot/common/models"
	"github.com/secstack/secbot/secbot"
)

// Input accepts GitLab webhook events and reports check verdicts.
type Input struct {
	rt       *secbot.Runtime
	cfg      *config.Config
	checks   secbot.CheckStore
	scans    secbot.ScanStore
	handlers *secbot.InputHandlers
	log      *logger.Logger
}

// NewInput builds the GitLab input over the workflow runtime.
func NewInput(rt *secbot.Runtime, deps *secbot.Deps) (*Input, error) {
	handlers, err := secbot.InstantiateHandlers(InputName, deps)
	if err != nil {
		return nil, err
	}
	return &Input{
		rt:       rt,
		cfg:      deps.Config,
		checks:   deps.Checks,
		scans:    deps.Scans,
		handlers: handlers,
		log:      deps.Log.WithComponent("gitlab_input"),
	}, nil
}

// Handle processes one webhook event: it matches a workflow job, records the
// check and dispatches the workflow. Events no job matches are dropped
// silently; the webhook must still be acknowledged.
func (in *Input) Handle(ctx context.Context, event Event, body []byte) error {
	data, err := ParseEvent(event, body)
	if err != nil {
		return err
	}

	job, err := in.rt.Config.MatchingJob(InputName, body)
	if err != nil {
		return err
	}
	if job == nil {
		in.log.Info("no matching workflow job", "event", string(event))
		return nil
	}

	homepage, err := url.Parse(data.Repository().Homepage)
	if err != nil || homepage.Hostname() == "" {
		return fmt.Errorf("%w: repository homepage %q has no host", secbot.ErrInput, data.Repository().Homepage)
	}
	instance, ok := in.cfg.GitlabByHost(homepage.Hostname())
	if !ok {
		return fmt.Errorf("%w: no gitlab instance configured for host %s", secbot.ErrInput, homepage.Hostname())
	}

	externalID := SecurityID(instance.Prefix, data.Project().GitSSHURL, data.LastCommit().ID)
	check, err := in.checks.GetOrCreate(ctx, &models.Check{
		ExternalID:  externalID,
		EventType:   string(event),
		EventJSON:   body,
		CommitHash:  data.LastCommit().ID,
		Branch:      data.TargetBranch(),
		ProjectName: data.Repository().Name,
		Path:        data.Repository().Homepage,
		Prefix:      instance.Prefix,
	})
	if err != nil {
		return err
	}

	in.log.Info("security check accepted",
		"check_id", check.ID,
		"external_id", externalID,
		"event", string(event),
		"project", data.Project().PathWithNamespace,
	)

	return in.rt.Dispatch(ctx, InputName, job, &InputData{
		CheckID: check.ID,
		Event:   event,
		Payload: body,
	})
}

// FetchStatus computes the externally visible verdict of a check.
//
// The check is IN_PROGRESS until every scan the job configures has a row and
// none of them is still running. Skipped scans are excluded. Any errored
// scan makes the whole check ERROR. Once everything is DONE, each output
// backend that ingested results is asked whether the findings pass policy;
// the check is SUCCESS only if all of them agree.
func (in *Input) FetchStatus(ctx context.Context, externalID string) (models.SecurityCheckStatus, error) {
	check, err := in.checks.GetByExternalID(ctx, externalID)
	if err != nil {
		return "", err
	}
	if check == nil {
		return models.CheckStatusNotStarted, nil
	}

	scans, err := in.scans.ListByCheck(ctx, check.ID)
	if err != nil {
		return "", err
	}

	// The job is re-matched from the stored event. If the workflow config
	// changed and no longer covers the event, the verdict is undecidable.
	job, err := in.rt.Config.MatchingJob(InputName, check.EventJSON)
	if err != nil {
		return "", err
	}
	if job == nil {
		return models.CheckStatusError, nil
	}

	if len(scans) < len(job.Scans) {
		return models.CheckStatusInProgress, nil
	}
	if len(scans) > len(job.Scans) {
		return models.CheckStatusError, nil
	}

	active := make([]*models.Scan, 0, len(scans))
	for _, scan := range scans {
		if scan.Status != models.ScanStatusSkip {
			active = append(active, scan)
		}
	}

	// ERROR outranks IN_PROGRESS: the whole set is inspected before
	// answering, so a failed scan is never masked by one still running.
	var running, stuck bool
	for _, scan := range active {
		switch scan.Status {
		case models.ScanStatusError:
			return models.CheckStatusError, nil
		case models.ScanStatusInProgress:
			running = true
		case models.ScanStatusDone:
		default:
			stuck = true
		}
	}
	if running {
		return models.CheckStatusInProgress, nil
	}
	if stuck {
		return models.CheckStatusError, nil
	}

	scanOutputs := make(map[string]bool)
	scanNames := make(map[string]bool)
	for _, scan := range active {
		scanNames[scan.ScanName] = true
		for outputName := range scan.OutputsTestID {
			scanOutputs[outputName] = true
		}
	}

	eligibleScans := make([]secbot.Component, 0, len(job.Scans))
	for _, component := range job.Scans {
		if scanNames[component.Name] {
			eligibleScans = append(eligibleScans, component)
		}
	}

	for _, output := range job.Outputs {
		if !scanOutputs[output.Name] {
			continue
		}
		handler, ok := in.handlers.Outputs[output.HandlerName]
		if !ok {
			return "", fmt.Errorf("no output handler %s for input %s", output.HandlerName, InputName)
		}
		valid, err := handler.FetchStatus(ctx, &secbot.StatusRequest{
			EligibleScans: eligibleScans,
			CommitHash:    check.CommitHash,
			Env:           output.Env,
		})
		if err != nil {
			return "", err
		}
		if !valid {
			return models.CheckStatusFail, nil
		}
	}
	return models.CheckStatusSuccess, nil
}
