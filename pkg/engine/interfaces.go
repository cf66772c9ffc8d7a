package engine

import (
	"context"
)

// Engine is the narrow interface through which the external
// infrastructure-as-code engine is consumed. The core never parses the
// engine's native state format; RawOutput fields are opaque text and Outputs
// a flat string-keyed mapping.
type Engine interface {
	// Validate checks the engine configuration against the given variable
	// values without mutating infrastructure.
	Validate(ctx context.Context, vars map[string]string) (*PlanResult, error)

	// Apply creates or updates the deployment's infrastructure and
	// returns its outputs.
	Apply(ctx context.Context) (*ApplyResult, error)

	// Destroy tears down the deployment's infrastructure.
	Destroy(ctx context.Context) (*DestroyResult, error)
}

// ControlChannel is the provider's out-of-band path to the deployed host,
// used for maintenance instructions outside the apply path.
type ControlChannel interface {
	// Submit sends a named instruction with parameters to the target and
	// returns a handle for polling. Submission happens exactly once per
	// instruction.
	Submit(ctx context.Context, target, name string, params map[string]string) (Handle, error)

	// Poll reports the current state of a submitted instruction.
	Poll(ctx context.Context, handle Handle) (*Probe, error)
}
