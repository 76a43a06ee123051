package secbot

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Invocation carries one component execution: the component binding from the
// workflow config plus the positional arguments piped through the chain.
// Args[0] is the upstream step's result for all but the first step.
type Invocation struct {
	ComponentName string
	Config        map[string]any
	Env           map[string]string
	Args          []any
}

// Handler executes one workflow component. OnFailure runs when Run errored
// and is responsible for recording the failure; returning an error from it
// causes the broker to redeliver the task.
type Handler interface {
	Run(ctx context.Context, inv *Invocation) (any, error)
	OnFailure(ctx context.Context, inv *Invocation, cause error) error
}

// ScanHandler runs a scanner against a checked-out revision.
type ScanHandler = Handler

// StatusRequest asks an output backend whether the uploaded findings for a
// commit pass policy.
type StatusRequest struct {
	// EligibleScans are the scan components whose results count toward the
	// verdict.
	EligibleScans []Component
	CommitHash    string
	Env           map[string]string
}

// OutputHandler uploads scan reports to a findings backend and answers
// verdict queries against it.
type OutputHandler interface {
	Handler
	FetchStatus(ctx context.Context, req *StatusRequest) (bool, error)
}

// NotificationHandler delivers a rendered message about an output result.
type NotificationHandler = Handler

// DecodeConfig maps a component's free-form config block onto a typed struct
// and validates it.
func DecodeConfig(config map[string]any, target any) error {
	data, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("%w: encode component config: %v", ErrConfig, err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: decode component config: %v", ErrConfig, err)
	}
	if err := validate.Struct(target); err != nil {
		return fmt.Errorf("%w: %v", ErrConfig, err)
	}
	return nil
}

// DecodeEnv maps a component's resolved env block onto a typed credentials
// struct and validates it.
func DecodeEnv(env map[string]string, target any) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("%w: encode component env: %v", ErrConfig, err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: decode component env: %v", ErrConfig, err)
	}
	if err := validate.Struct(target); err != nil {
		return fmt.Errorf("%w: %v", ErrConfig, err)
	}
	return nil
}
