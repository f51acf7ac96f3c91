// Package specification implements the tagged Specification variant: the
// structured, off-chain request an oracle resolves against. The wire form
// is {"metric": <tag>, "payload": <object>} with a camelCase tag, matching
// the on-chain consumer's expectations.
//
// Adding a new metric is a single-file change: implement Payload and call
// Register from an init function. The Acknowledger and Answerer never
// switch on the concrete type themselves.
package specification

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
)

// DataProvider is the external collaborator every variant answers
// against. It is satisfied by pkg/dataprovider.Client; defined here so
// that variants depend on an interface, not a concrete package.
type DataProvider interface {
	GetTVL(ctx context.Context, protocol string) (string, error)
}

// Dependencies bundles the collaborators a variant's Validate/Answer may
// need. Passed in at call time rather than captured at construction so a
// Specification value stays a plain, comparable data type.
type Dependencies struct {
	DataProvider DataProvider
}

// Payload is the per-variant contract: validate a freshly-fetched
// specification, and compute its answer. Answer returns (nil, nil) when
// the answer is not yet ready (the caller should retry on its own
// cadence); it returns a non-nil error only for failures that should
// surface to the caller (transient fetch failure, out-of-range result).
type Payload interface {
	Validate(ctx context.Context, deps Dependencies) (bool, error)
	Answer(ctx context.Context, deps Dependencies) (*big.Int, error)
}

type factory func() Payload

var registry = map[string]factory{}

// Register associates a metric tag with a zero-value constructor for its
// payload type. Called from each variant's init().
func Register(metric string, newPayload factory) {
	registry[metric] = newPayload
}

// Specification is a tagged union of one Payload variant.
type Specification struct {
	Metric  string
	Payload Payload
}

type wireForm struct {
	Metric  string          `json:"metric"`
	Payload json.RawMessage `json:"payload"`
}

// MarshalJSON renders {"metric": <tag>, "payload": <object>}.
func (s Specification) MarshalJSON() ([]byte, error) {
	payloadBytes, err := json.Marshal(s.Payload)
	if err != nil {
		return nil, fmt.Errorf("could not marshal payload for metric %q: %w", s.Metric, err)
	}
	return json.Marshal(wireForm{Metric: s.Metric, Payload: payloadBytes})
}

// UnmarshalJSON parses {"metric": <tag>, "payload": <object>} into the
// registered Payload type for <tag>. An unknown tag or malformed payload
// is a permanent (data) error, never a transient one.
func (s *Specification) UnmarshalJSON(b []byte) error {
	var wf wireForm
	if err := json.Unmarshal(b, &wf); err != nil {
		return fmt.Errorf("malformed specification envelope: %w", err)
	}

	newPayload, ok := registry[wf.Metric]
	if !ok {
		return fmt.Errorf("unknown specification metric %q", wf.Metric)
	}

	payload := newPayload()
	if err := json.Unmarshal(wf.Payload, payload); err != nil {
		return fmt.Errorf("malformed payload for metric %q: %w", wf.Metric, err)
	}

	s.Metric = wf.Metric
	s.Payload = payload
	return nil
}
