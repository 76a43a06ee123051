package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	redisw "github.com/secstack/secbot/common/redis"
)

const (
	// TaskStream is the Redis stream all secbot tasks flow through
	TaskStream = "secbot.tasks"
	// ConsumerGroup is the worker consumer group on the task stream
	ConsumerGroup = "secbot_workers"

	envelopeField = "envelope"
)

// StreamClient is the subset of the Redis wrapper the broker and worker use.
type StreamClient interface {
	AddToStream(ctx context.Context, stream string, values map[string]interface{}) (string, error)
	CreateStreamGroup(ctx context.Context, stream, group string) error
	ReadFromStreamGroup(ctx context.Context, group, consumer, stream string, count int64, block time.Duration) ([]redis.XStream, error)
	AckStreamMessage(ctx context.Context, stream, group, messageID string) error
	ClaimStaleMessages(ctx context.Context, stream, group, consumer string, minIdle time.Duration, count int64) ([]redis.XMessage, error)
}

// Broker enqueues canvases onto the task stream.
type Broker struct {
	rdb StreamClient
	log redisw.Logger
}

// NewBroker creates a broker over the given Redis client.
func NewBroker(rdb StreamClient, log redisw.Logger) *Broker {
	return &Broker{rdb: rdb, log: log}
}

// Enqueue schedules the first step of the canvas; the remainder travels
// inside the envelope and is advanced by the worker on completion.
func (b *Broker) Enqueue(ctx context.Context, canvas *Canvas) error {
	if canvas == nil || len(canvas.Steps) == 0 {
		return fmt.Errorf("enqueue: empty canvas")
	}
	for _, env := range advance(canvas.Steps, nil) {
		if err := b.enqueueEnvelope(ctx, env); err != nil {
			return err
		}
	}
	return nil
}

func (b *Broker) enqueueEnvelope(ctx context.Context, env Envelope) error {
	env.ID = uuid.New().String()
	encoded, err := env.Encode()
	if err != nil {
		return err
	}
	if _, err := b.rdb.AddToStream(ctx, TaskStream, map[string]interface{}{
		envelopeField: encoded,
	}); err != nil {
		return fmt.Errorf("enqueue task %s: %w", env.Sig.Task, err)
	}
	b.log.Debug("task enqueued", "task", env.Sig.Task, "envelope_id", env.ID)
	return nil
}
