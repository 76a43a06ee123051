package queue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Debug(string, ...interface{}) {}

// fakeStream is an in-memory StreamClient. Claim returns the pending messages
// on the second sweep, so redelivery through the periodic reclaim is
// observable.
type fakeStream struct {
	mu      sync.Mutex
	claims  int
	pending []redis.XMessage
	added   []string
	acked   []string
}

func (f *fakeStream) AddToStream(_ context.Context, _ string, values map[string]interface{}) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, values[envelopeField].(string))
	return "1-0", nil
}

func (f *fakeStream) CreateStreamGroup(context.Context, string, string) error { return nil }

func (f *fakeStream) ReadFromStreamGroup(context.Context, string, string, string, int64, time.Duration) ([]redis.XStream, error) {
	time.Sleep(time.Millisecond)
	return nil, nil
}

func (f *fakeStream) AckStreamMessage(_ context.Context, _, _, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, messageID)
	return nil
}

func (f *fakeStream) ClaimStaleMessages(context.Context, string, string, string, time.Duration, int64) ([]redis.XMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.claims++
	if f.claims == 2 {
		messages := f.pending
		f.pending = nil
		return messages, nil
	}
	return nil, nil
}

func pendingMessage(t *testing.T, id string, env Envelope) redis.XMessage {
	t.Helper()
	encoded, err := env.Encode()
	require.NoError(t, err)
	return redis.XMessage{ID: id, Values: map[string]interface{}{envelopeField: encoded}}
}

func TestWorkerReclaimsPendingPeriodically(t *testing.T) {
	fake := &fakeStream{pending: []redis.XMessage{
		pendingMessage(t, "7-0", Envelope{ID: "stale", Sig: Signature{Task: "reclaimed"}}),
	}}
	w := NewWorker(fake, NewBroker(fake, nopLogger{}), nopLogger{})
	w.reclaimEvery = 5 * time.Millisecond

	handled := make(chan struct{}, 1)
	require.NoError(t, w.Register("reclaimed", TaskHandler{
		Run: func(context.Context, []any, map[string]any) (any, error) {
			handled <- struct{}{}
			return nil, nil
		},
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()

	select {
	case <-handled:
	case <-time.After(5 * time.Second):
		t.Fatal("pending message was never redelivered")
	}
	cancel()
	require.NoError(t, <-done)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.GreaterOrEqual(t, fake.claims, 2)
	assert.Contains(t, fake.acked, "7-0")
}

func TestHandleMessageAdvancesChain(t *testing.T) {
	fake := &fakeStream{}
	w := NewWorker(fake, NewBroker(fake, nopLogger{}), nopLogger{})
	require.NoError(t, w.Register("scan", TaskHandler{
		Run: func(context.Context, []any, map[string]any) (any, error) {
			return "report", nil
		},
	}))

	w.handleMessage(context.Background(), pendingMessage(t, "1-1", Envelope{
		ID:    "abc",
		Sig:   Signature{Task: "scan"},
		Chain: []Step{Task(Signature{Task: "output"})},
	}))

	require.Len(t, fake.added, 1)
	next, err := DecodeEnvelope(fake.added[0])
	require.NoError(t, err)
	assert.Equal(t, "output", next.Sig.Task)
	assert.Equal(t, []any{"report"}, next.Sig.Args)
	assert.Contains(t, fake.acked, "1-1")
}

func TestHandleMessageFailureHookKeepsMessagePending(t *testing.T) {
	fake := &fakeStream{}
	w := NewWorker(fake, NewBroker(fake, nopLogger{}), nopLogger{})
	require.NoError(t, w.Register("failing", TaskHandler{
		Run: func(context.Context, []any, map[string]any) (any, error) {
			return nil, fmt.Errorf("boom")
		},
		OnFailure: func(context.Context, []any, map[string]any, error) error {
			return fmt.Errorf("recording failed")
		},
	}))

	w.handleMessage(context.Background(), pendingMessage(t, "9-0", Envelope{
		ID:  "def",
		Sig: Signature{Task: "failing"},
	}))

	// The failure hook errored, so the message stays pending for redelivery
	assert.Empty(t, fake.acked)
	assert.Empty(t, fake.added)
}

func TestHandleMessageAcksAfterFailureHook(t *testing.T) {
	fake := &fakeStream{}
	w := NewWorker(fake, NewBroker(fake, nopLogger{}), nopLogger{})
	require.NoError(t, w.Register("failing", TaskHandler{
		Run: func(context.Context, []any, map[string]any) (any, error) {
			return nil, fmt.Errorf("boom")
		},
		OnFailure: func(context.Context, []any, map[string]any, error) error {
			return nil
		},
	}))

	w.handleMessage(context.Background(), pendingMessage(t, "9-1", Envelope{
		ID:  "ghi",
		Sig: Signature{Task: "failing"},
	}))

	// Failure recorded; the chain is abandoned but the message is consumed
	assert.Contains(t, fake.acked, "9-1")
	assert.Empty(t, fake.added)
}
