// Package queue implements the durable task broker used by the secbot
// workflow runtime. Work is described as a chain of steps: each step is
// either a single task signature or a group of signatures executed in
// parallel. A chain pipes the result of one step into the next; a group
// fans out with no further pipelining.
package queue

import (
	"encoding/json"
	"fmt"
)

// Signature describes one task invocation.
type Signature struct {
	// Task is the registered task name, e.g. "secbot.gitlab.gitleaks"
	Task string `json:"task"`
	// Args are positional arguments. They must already be JSON-clean
	// (the payload codec reduces typed records before enqueue).
	Args []any `json:"args,omitempty"`
	// Kwargs carry the component binding: component_name, config, env.
	Kwargs map[string]any `json:"kwargs,omitempty"`
}

// Step is one link of a chain: either a single task or a parallel group.
type Step struct {
	Run   *Signature  `json:"run,omitempty"`
	Group []Signature `json:"group,omitempty"`
}

// Canvas is an ordered chain of steps.
type Canvas struct {
	Steps []Step
}

// Task wraps a signature into a chain step.
func Task(sig Signature) Step {
	return Step{Run: &sig}
}

// Group wraps signatures into a parallel step. Empty groups are allowed
// and complete immediately.
func Group(sigs ...Signature) Step {
	return Step{Group: sigs}
}

// Chain builds a canvas from steps executed sequentially.
func Chain(steps ...Step) *Canvas {
	return &Canvas{Steps: steps}
}

// Envelope is the wire format of one scheduled task plus the remainder of
// its chain.
type Envelope struct {
	ID    string    `json:"id"`
	Sig   Signature `json:"sig"`
	Chain []Step    `json:"chain,omitempty"`
}

// Encode serializes the envelope for the stream.
func (e *Envelope) Encode() (string, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("encode envelope: %w", err)
	}
	return string(data), nil
}

// DecodeEnvelope parses an envelope from its wire format.
func DecodeEnvelope(data string) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal([]byte(data), &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Sig.Task == "" {
		return nil, fmt.Errorf("decode envelope: missing task name")
	}
	return &env, nil
}

// withResult returns a copy of the signature with the upstream result
// prepended to its positional arguments.
func withResult(sig Signature, result any) Signature {
	if result == nil {
		return sig
	}
	args := make([]any, 0, len(sig.Args)+1)
	args = append(args, result)
	args = append(args, sig.Args...)
	sig.Args = args
	return sig
}

// advance computes the envelopes to enqueue after a step finished with the
// given result. A plain step becomes one envelope carrying the rest of the
// chain; a group fans out into one terminal envelope per member.
func advance(chain []Step, result any) []Envelope {
	if len(chain) == 0 {
		return nil
	}
	next, rest := chain[0], chain[1:]

	if next.Run != nil {
		return []Envelope{{
			Sig:   withResult(*next.Run, result),
			Chain: rest,
		}}
	}

	envelopes := make([]Envelope, 0, len(next.Group))
	for _, member := range next.Group {
		envelopes = append(envelopes, Envelope{
			Sig: withResult(member, result),
		})
	}
	// A group does not pipe its results further; whatever follows a group
	// would never receive arguments, so groups are terminal by contract.
	return envelopes
}
