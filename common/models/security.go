package models

import "time"

// ScanStatus is the internal (technical) status of one scanner's execution.
type ScanStatus string

const (
	ScanStatusNew        ScanStatus = "new"
	ScanStatusInProgress ScanStatus = "in_progress"
	// The scan was skipped on purpose, e.g. the project has no supported
	// language. Skipped scans do not block the verdict.
	ScanStatusSkip  ScanStatus = "skip"
	ScanStatusError ScanStatus = "error"
	ScanStatusDone  ScanStatus = "done"
)

// Startable reports whether a scan in this status may (re)enter IN_PROGRESS.
func (s ScanStatus) Startable() bool {
	return s == ScanStatusNew || s == ScanStatusError
}

// SecurityCheckStatus is the externally visible verdict of a whole check.
type SecurityCheckStatus string

const (
	CheckStatusNotStarted SecurityCheckStatus = "not_started"
	CheckStatusInProgress SecurityCheckStatus = "in_progress"
	CheckStatusError      SecurityCheckStatus = "error"
	CheckStatusFail       SecurityCheckStatus = "fail"
	CheckStatusSuccess    SecurityCheckStatus = "success"
)

// Check is one security evaluation of (project, commit). A webhook event maps
// to exactly one Check via its external id.
type Check struct {
	ID         int64
	ExternalID string

	EventType string
	EventJSON []byte

	CommitHash  string
	Branch      string
	ProjectName string
	Path        string
	Prefix      string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Scan is one scanner's execution within a Check.
type Scan struct {
	ID       int64
	CheckID  int64
	ScanName string

	Status     ScanStatus
	StartedAt  *time.Time
	FinishedAt *time.Time

	// Raw scanner report as produced by the tool
	Response []byte

	// Map of output component name to the external test id it reported,
	// e.g. {"defectdojo": 42}
	OutputsTestID map[string]any

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Notification tracks delivery of one message to one channel for a scan.
type Notification struct {
	ID      int64
	ScanID  int64
	Channel string
	IsSent  bool
	Payload []byte

	CreatedAt time.Time
	UpdatedAt time.Time
}
