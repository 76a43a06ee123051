// Package secbot is the workflow engine behind the security check
// orchestrator. A workflow config binds inputs (webhook sources) to scan,
// output and notification components; the engine schedules one
// scan -> output -> notifications chain per scan and output pair on the task
// broker and revives typed payloads on the worker side.
package secbot

import (
	"context"
	"fmt"

	"github.com/secstack/secbot/common/logger"
	"github.com/secstack/secbot/common/queue"
)

// Runtime ties the parsed workflow config to the task broker.
type Runtime struct {
	Config *Config
	Log    *logger.Logger
	Broker *queue.Broker
}

// NewRuntime creates a runtime over the given workflow config and broker.
func NewRuntime(cfg *Config, broker *queue.Broker, log *logger.Logger) *Runtime {
	return &Runtime{Config: cfg, Broker: broker, Log: log}
}

// TaskName returns the broker task name of a handler under an input.
func TaskName(input, handlerName string) string {
	return fmt.Sprintf("secbot.%s.%s", input, handlerName)
}

func componentSignature(input string, component Component, args []any) queue.Signature {
	return queue.Signature{
		Task: TaskName(input, component.HandlerName),
		Args: args,
		Kwargs: map[string]any{
			"component_name": component.Name,
			"config":         component.Config,
			"env":            component.Env,
		},
	}
}

// ValidateWorkflow checks that every component the config references has a
// registered handler under its input. Run at startup so a typo in the config
// fails the deploy instead of a scan.
func (rt *Runtime) ValidateWorkflow() error {
	for input, jobs := range rt.Config.jobs {
		for _, job := range jobs {
			components := make([]Component, 0,
				len(job.Scans)+len(job.Outputs)+len(job.Notifications))
			components = append(components, job.Scans...)
			components = append(components, job.Outputs...)
			components = append(components, job.Notifications...)
			for _, component := range components {
				if !HandlerExists(input, component.HandlerName) {
					return fmt.Errorf("%w: no handler %s registered for input %s (job %s)",
						ErrConfig, component.HandlerName, input, job.Name)
				}
			}
		}
	}
	return nil
}

// Dispatch schedules the job's workflow for one event: for every scan and
// output pair, a chain of scan, then output, then the notification group.
// The args travel with the scan signature; each later step receives its
// predecessor's result.
func (rt *Runtime) Dispatch(ctx context.Context, input string, job *WorkflowJob, args ...any) error {
	reduced := make([]any, len(args))
	for i, arg := range args {
		r, err := Reduce(arg)
		if err != nil {
			return fmt.Errorf("dispatch job %s: %w", job.Name, err)
		}
		reduced[i] = r
	}

	notifications := make([]queue.Signature, 0, len(job.Notifications))
	for _, component := range job.Notifications {
		notifications = append(notifications, componentSignature(input, component, nil))
	}

	for _, scan := range job.Scans {
		for _, output := range job.Outputs {
			canvas := queue.Chain(
				queue.Task(componentSignature(input, scan, reduced)),
				queue.Task(componentSignature(input, output, nil)),
				queue.Group(notifications...),
			)
			if err := rt.Broker.Enqueue(ctx, canvas); err != nil {
				return fmt.Errorf("dispatch job %s: %w", job.Name, err)
			}
			rt.Log.Info("workflow dispatched",
				"job", job.Name,
				"scan", scan.Name,
				"output", output.Name,
				"notifications", len(notifications),
			)
		}
	}
	return nil
}

// invocationFromTask rebuilds the typed invocation from the wire form.
func invocationFromTask(args []any, kwargs map[string]any) (*Invocation, error) {
	revived := make([]any, len(args))
	for i, arg := range args {
		r, err := Revive(arg)
		if err != nil {
			return nil, err
		}
		revived[i] = r
	}

	inv := &Invocation{Args: revived}
	if name, ok := kwargs["component_name"].(string); ok {
		inv.ComponentName = name
	}
	if config, ok := kwargs["config"].(map[string]any); ok {
		inv.Config = config
	}
	if env, ok := kwargs["env"].(map[string]any); ok {
		inv.Env = make(map[string]string, len(env))
		for key, value := range env {
			if s, ok := value.(string); ok {
				inv.Env[key] = s
			}
		}
	}
	return inv, nil
}

func taskHandler(handler Handler) queue.TaskHandler {
	return queue.TaskHandler{
		Run: func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
			inv, err := invocationFromTask(args, kwargs)
			if err != nil {
				return nil, err
			}
			result, err := handler.Run(ctx, inv)
			if err != nil {
				return nil, err
			}
			return Reduce(result)
		},
		OnFailure: func(ctx context.Context, args []any, kwargs map[string]any, cause error) error {
			inv, err := invocationFromTask(args, kwargs)
			if err != nil {
				// The invocation cannot be rebuilt; nothing to record against
				return nil
			}
			return handler.OnFailure(ctx, inv, cause)
		},
	}
}

// BindTasks registers every handler of an input on the worker.
func BindTasks(w *queue.Worker, input string, deps *Deps) error {
	handlers, err := InstantiateHandlers(input, deps)
	if err != nil {
		return err
	}
	for name, handler := range handlers.Scans {
		if err := w.Register(TaskName(input, name), taskHandler(handler)); err != nil {
			return err
		}
	}
	for name, handler := range handlers.Outputs {
		if err := w.Register(TaskName(input, name), taskHandler(handler)); err != nil {
			return err
		}
	}
	for name, handler := range handlers.Notifications {
		if err := w.Register(TaskName(input, name), taskHandler(handler)); err != nil {
			return err
		}
	}
	return nil
}
