package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdvancePlainChain(t *testing.T) {
	canvas := Chain(
		Task(Signature{Task: "scan", Args: []any{"input"}}),
		Task(Signature{Task: "output"}),
	)

	first := advance(canvas.Steps, nil)
	require.Len(t, first, 1)
	assert.Equal(t, "scan", first[0].Sig.Task)
	assert.Equal(t, []any{"input"}, first[0].Sig.Args)
	require.Len(t, first[0].Chain, 1)

	// The scan result is piped into the output step
	second := advance(first[0].Chain, "report")
	require.Len(t, second, 1)
	assert.Equal(t, "output", second[0].Sig.Task)
	assert.Equal(t, []any{"report"}, second[0].Sig.Args)
	assert.Empty(t, second[0].Chain)
}

func TestAdvanceGroupFansOut(t *testing.T) {
	chain := []Step{Group(
		Signature{Task: "notify.slack"},
		Signature{Task: "notify.mail"},
	)}

	envelopes := advance(chain, "result")
	require.Len(t, envelopes, 2)
	for _, env := range envelopes {
		assert.Equal(t, []any{"result"}, env.Sig.Args)
		assert.Empty(t, env.Chain, "group members are terminal")
	}
	assert.Equal(t, "notify.slack", envelopes[0].Sig.Task)
	assert.Equal(t, "notify.mail", envelopes[1].Sig.Task)
}

func TestAdvanceEmptyGroup(t *testing.T) {
	assert.Empty(t, advance([]Step{Group()}, "result"))
	assert.Empty(t, advance(nil, "result"))
}

func TestWithResultPrepends(t *testing.T) {
	sig := withResult(Signature{Task: "t", Args: []any{"own"}}, "piped")
	assert.Equal(t, []any{"piped", "own"}, sig.Args)

	// A nil result leaves the signature untouched
	sig = withResult(Signature{Task: "t", Args: []any{"own"}}, nil)
	assert.Equal(t, []any{"own"}, sig.Args)
}

func TestEnvelopeRoundTrip(t *testing.T) {
	env := Envelope{
		ID: "abc",
		Sig: Signature{
			Task:   "scan",
			Args:   []any{"input"},
			Kwargs: map[string]any{"component_name": "gitleaks"},
		},
		Chain: []Step{Task(Signature{Task: "output"})},
	}

	encoded, err := env.Encode()
	require.NoError(t, err)

	decoded, err := DecodeEnvelope(encoded)
	require.NoError(t, err)
	assert.Equal(t, env.ID, decoded.ID)
	assert.Equal(t, env.Sig.Task, decoded.Sig.Task)
	assert.Equal(t, "gitleaks", decoded.Sig.Kwargs["component_name"])
	require.Len(t, decoded.Chain, 1)
	assert.Equal(t, "output", decoded.Chain[0].Run.Task)
}

func TestDecodeEnvelopeRejectsMissingTask(t *testing.T) {
	_, err := DecodeEnvelope(`{"id":"abc","sig":{"args":[]}}`)
	require.Error(t, err)

	_, err = DecodeEnvelope("not json")
	require.Error(t, err)
}
