package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	redisw "github.com/secstack/secbot/common/redis"
)

// TaskFunc executes one task invocation and returns its result. The result
// must be JSON-clean; it is piped to the next chain step as first argument.
type TaskFunc func(ctx context.Context, args []any, kwargs map[string]any) (any, error)

// FailureFunc receives the original task arguments and the error that the
// task raised. Returning an error leaves the message unacknowledged so the
// broker redelivers it.
type FailureFunc func(ctx context.Context, args []any, kwargs map[string]any, cause error) error

// TaskHandler binds a task name to its run and failure hooks.
type TaskHandler struct {
	Run       TaskFunc
	OnFailure FailureFunc
}

const (
	// Pending messages idle this long are considered abandoned by their
	// consumer and eligible for reclaim.
	staleAfter = time.Minute
	// How often the consume loop sweeps for abandoned messages.
	reclaimInterval = time.Minute
)

// Worker pulls envelopes from the task stream and executes them.
type Worker struct {
	rdb          StreamClient
	broker       *Broker
	log          redisw.Logger
	consumer     string
	reclaimEvery time.Duration
	tasks        map[string]TaskHandler
}

// NewWorker creates a worker with a unique consumer name.
func NewWorker(rdb StreamClient, broker *Broker, log redisw.Logger) *Worker {
	return &Worker{
		rdb:          rdb,
		broker:       broker,
		log:          log,
		consumer:     fmt.Sprintf("worker_%s", uuid.New().String()[:8]),
		reclaimEvery: reclaimInterval,
		tasks:        make(map[string]TaskHandler),
	}
}

// Register binds a handler to a task name. Registering the same name twice
// is a programming error.
func (w *Worker) Register(name string, handler TaskHandler) error {
	if _, exists := w.tasks[name]; exists {
		return fmt.Errorf("task %s already registered", name)
	}
	w.tasks[name] = handler
	return nil
}

// Start begins the consume loop. It blocks until the context is cancelled.
func (w *Worker) Start(ctx context.Context) error {
	w.log.Info("worker starting", "stream", TaskStream, "group", ConsumerGroup, "consumer", w.consumer)

	if err := w.rdb.CreateStreamGroup(ctx, TaskStream, ConsumerGroup); err != nil {
		return err
	}

	// Pending messages are reclaimed on start and then periodically, so a
	// message left unacked (crashed consumer, errored failure hook) is
	// redelivered without waiting for a process restart.
	if err := w.reclaim(ctx); err != nil {
		w.log.Warn("reclaim failed", "error", err)
	}
	ticker := time.NewTicker(w.reclaimEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("worker stopping")
			return nil
		case <-ticker.C:
			if err := w.reclaim(ctx); err != nil {
				w.log.Warn("reclaim failed", "error", err)
			}
		default:
			if err := w.consumeNext(ctx); err != nil {
				if ctx.Err() != nil {
					continue
				}
				w.log.Error("consume failed", "error", err)
				time.Sleep(time.Second)
			}
		}
	}
}

func (w *Worker) reclaim(ctx context.Context) error {
	messages, err := w.rdb.ClaimStaleMessages(ctx, TaskStream, ConsumerGroup, w.consumer, staleAfter, 100)
	if err != nil {
		return err
	}
	for _, message := range messages {
		w.handleMessage(ctx, message)
	}
	return nil
}

func (w *Worker) consumeNext(ctx context.Context) error {
	streams, err := w.rdb.ReadFromStreamGroup(ctx, ConsumerGroup, w.consumer, TaskStream, 1, 5*time.Second)
	if err != nil {
		return err
	}
	for _, stream := range streams {
		for _, message := range stream.Messages {
			w.handleMessage(ctx, message)
		}
	}
	return nil
}

// handleMessage runs one envelope. The message is acknowledged unless the
// failure hook itself errored, in which case redelivery is wanted.
func (w *Worker) handleMessage(ctx context.Context, message redis.XMessage) {
	ack := true
	defer func() {
		if ack {
			if err := w.rdb.AckStreamMessage(ctx, TaskStream, ConsumerGroup, message.ID); err != nil {
				w.log.Error("ack failed", "message_id", message.ID, "error", err)
			}
		}
	}()

	raw, ok := message.Values[envelopeField].(string)
	if !ok {
		w.log.Error("message missing envelope field", "message_id", message.ID)
		return
	}

	env, err := DecodeEnvelope(raw)
	if err != nil {
		// Permanent: a malformed envelope never becomes valid on retry
		w.log.Error("dropping malformed envelope", "message_id", message.ID, "error", err)
		return
	}

	handler, ok := w.tasks[env.Sig.Task]
	if !ok {
		w.log.Error("no handler for task", "task", env.Sig.Task, "envelope_id", env.ID)
		return
	}

	result, err := handler.Run(ctx, env.Sig.Args, env.Sig.Kwargs)
	if err != nil {
		w.log.Warn("task failed", "task", env.Sig.Task, "envelope_id", env.ID, "error", err)
		if handler.OnFailure == nil {
			return
		}
		if hookErr := handler.OnFailure(ctx, env.Sig.Args, env.Sig.Kwargs, err); hookErr != nil {
			w.log.Error("failure hook failed", "task", env.Sig.Task, "error", hookErr)
			ack = false
		}
		return
	}

	for _, next := range advance(env.Chain, result) {
		if err := w.broker.enqueueEnvelope(ctx, next); err != nil {
			w.log.Error("failed to advance chain", "task", next.Sig.Task, "error", err)
			ack = false
			return
		}
	}
}
