package secbot

import (
	"errors"
	"fmt"
)

// ErrConfig covers every defect in the workflow configuration file.
var ErrConfig = errors.New("invalid workflow config")

// ErrConfigMissingEnv is an ErrConfig raised when a component references an
// environment variable that is not set.
var ErrConfigMissingEnv = fmt.Errorf("%w: missing environment variable", ErrConfig)

// ErrScanExecutionSkipped marks a scan that decided not to run, e.g. the
// project has none of the languages the scanner supports. The scan is
// recorded as skipped, not failed.
var ErrScanExecutionSkipped = errors.New("scan execution skipped")

// ErrScanCheckFailed marks an unrecoverable scan failure.
var ErrScanCheckFailed = errors.New("scan check failed")

// ErrInput is returned for webhook payloads that cannot be processed.
var ErrInput = errors.New("invalid input")
