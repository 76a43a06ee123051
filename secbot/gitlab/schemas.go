package gitlab

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/secstack/secbot/secbot"
)

// Project is the project block common to every GitLab webhook payload.
type Project struct {
	ID                int64  `json:"id"`
	Name              string `json:"name"`
	WebURL            string `json:"web_url"`
	GitSSHURL         string `json:"git_ssh_url"`
	GitHTTPURL        string `json:"git_http_url"`
	Namespace         string `json:"namespace"`
	PathWithNamespace string `json:"path_with_namespace"`
}

// Repository is the legacy repository block of a webhook payload.
type Repository struct {
	Name     string `json:"name"`
	URL      string `json:"url"`
	Homepage string `json:"homepage"`
}

// Author of a commit.
type Author struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Commit as embedded in webhook payloads.
type Commit struct {
	ID        string `json:"id"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
	URL       string `json:"url"`
	Author    Author `json:"author"`
}

// WebhookData is the event-independent view of a webhook payload the
// workflow operates on.
type WebhookData interface {
	Project() Project
	Repository() Repository
	// TargetBranch is the branch (or tag) the event applies to.
	TargetBranch() string
	// LastCommit is the commit the security check is anchored to.
	LastCommit() Commit
	// Path is a human-facing URL identifying the event.
	Path() string
}

type pushEvent struct {
	ProjectData    Project    `json:"project"`
	RepositoryData Repository `json:"repository"`
	After          string     `json:"after"`
	Ref            string     `json:"ref"`
	Commits        []Commit   `json:"commits"`

	last Commit
}

func (e *pushEvent) Project() Project       { return e.ProjectData }
func (e *pushEvent) Repository() Repository { return e.RepositoryData }
func (e *pushEvent) LastCommit() Commit     { return e.last }
func (e *pushEvent) Path() string           { return e.last.URL }

func (e *pushEvent) TargetBranch() string {
	parts := strings.Split(e.Ref, "/")
	return parts[len(parts)-1]
}

func (e *pushEvent) validate() error {
	if !strings.Contains(e.Ref, "heads") {
		return fmt.Errorf("%w: push ref %q is not a branch", secbot.ErrInput, e.Ref)
	}
	for _, commit := range e.Commits {
		if commit.ID == e.After {
			e.last = commit
			return nil
		}
	}
	return fmt.Errorf("%w: push payload has no commit %s", secbot.ErrInput, e.After)
}

type tagEvent struct {
	ProjectData    Project    `json:"project"`
	RepositoryData Repository `json:"repository"`
	CheckoutSHA    string     `json:"checkout_sha"`
	Ref            string     `json:"ref"`
	Commits        []Commit   `json:"commits"`

	last Commit
}

func (e *tagEvent) Project() Project       { return e.ProjectData }
func (e *tagEvent) Repository() Repository { return e.RepositoryData }
func (e *tagEvent) LastCommit() Commit     { return e.last }
func (e *tagEvent) Path() string           { return e.last.URL }

func (e *tagEvent) TargetBranch() string {
	parts := strings.Split(e.Ref, "/")
	return parts[len(parts)-1]
}

func (e *tagEvent) validate() error {
	if !strings.Contains(e.Ref, "tags") {
		return fmt.Errorf("%w: tag push ref %q is not a tag", secbot.ErrInput, e.Ref)
	}
	for _, commit := range e.Commits {
		if commit.ID == e.CheckoutSHA {
			e.last = commit
			return nil
		}
	}
	return fmt.Errorf("%w: tag push payload has no commit %s", secbot.ErrInput, e.CheckoutSHA)
}

type mergeRequestAttributes struct {
	ID           int64  `json:"id"`
	URL          string `json:"url"`
	State        string `json:"state"`
	TargetBranch string `json:"target_branch"`
	SourceBranch string `json:"source_branch"`
	Action       string `json:"action"`
	LastCommit   Commit `json:"last_commit"`
}

type mergeRequestEvent struct {
	ProjectData    Project                `json:"project"`
	RepositoryData Repository             `json:"repository"`
	Attributes     mergeRequestAttributes `json:"object_attributes"`
}

func (e *mergeRequestEvent) Project() Project       { return e.ProjectData }
func (e *mergeRequestEvent) Repository() Repository { return e.RepositoryData }
func (e *mergeRequestEvent) TargetBranch() string   { return e.Attributes.TargetBranch }
func (e *mergeRequestEvent) LastCommit() Commit     { return e.Attributes.LastCommit }
func (e *mergeRequestEvent) Path() string           { return e.Attributes.URL }

func (e *mergeRequestEvent) validate() error {
	if e.Attributes.LastCommit.ID == "" {
		return fmt.Errorf("%w: merge request payload has no last commit", secbot.ErrInput)
	}
	return nil
}

// ParseEvent decodes a webhook body into the model for its event type.
func ParseEvent(event Event, body []byte) (WebhookData, error) {
	var data interface {
		WebhookData
		validate() error
	}
	switch event {
	case EventPush:
		data = &pushEvent{}
	case EventTagPush:
		data = &tagEvent{}
	case EventMergeRequest:
		data = &mergeRequestEvent{}
	default:
		return nil, fmt.Errorf("%w: unsupported event %q", secbot.ErrInput, event)
	}
	if err := json.Unmarshal(body, data); err != nil {
		return nil, fmt.Errorf("%w: decode %s payload: %v", secbot.ErrInput, event, err)
	}
	if err := data.validate(); err != nil {
		return nil, err
	}
	return data, nil
}

// Severity levels as DefectDojo names them.
type Severity string

const (
	SeverityInfo     Severity = "Informational"
	SeverityLow      Severity = "Low"
	SeverityMedium   Severity = "Medium"
	SeverityHigh     Severity = "High"
	SeverityCritical Severity = "Critical"
)

// Priority orders severities for rendering; lower is more important.
func (s Severity) Priority() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityHigh:
		return 1
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 3
	case SeverityInfo:
		return 4
	}
	return 5
}
