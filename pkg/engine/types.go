package engine

import (
	"fmt"
	"strings"
	"time"
)

// TemplateRef names a packaged combination of infrastructure-as-code engine,
// cloud provider, compute shape, and identity provider. Its textual form is
// "engine/provider/compute/identity", e.g. "terraform/aws/ec2/github".
type TemplateRef struct {
	// Engine is the infrastructure-as-code engine kind.
	Engine string `json:"engine" yaml:"engine"`

	// Provider is the cloud provider kind.
	Provider string `json:"provider" yaml:"provider"`

	// Compute is the compute shape kind.
	Compute string `json:"compute" yaml:"compute"`

	// Identity is the identity provider kind.
	Identity string `json:"identity" yaml:"identity"`
}

// ParseTemplateRef parses the "engine/provider/compute/identity" form.
func ParseTemplateRef(s string) (TemplateRef, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 4 {
		return TemplateRef{}, fmt.Errorf("template reference %q: want engine/provider/compute/identity", s)
	}
	for _, p := range parts {
		if p == "" {
			return TemplateRef{}, fmt.Errorf("template reference %q has an empty component", s)
		}
	}
	return TemplateRef{Engine: parts[0], Provider: parts[1], Compute: parts[2], Identity: parts[3]}, nil
}

// String implements fmt.Stringer.
func (r TemplateRef) String() string {
	return strings.Join([]string{r.Engine, r.Provider, r.Compute, r.Identity}, "/")
}

// PlanResult is the outcome of the engine's validate/plan operation. RawOutput
// is opaque text captured for the history store.
type PlanResult struct {
	RawOutput string `json:"raw_output"`
}

// ApplyResult is the outcome of the engine's apply operation.
type ApplyResult struct {
	// Outputs is the flat string-keyed mapping of infrastructure outputs.
	Outputs map[string]string `json:"outputs"`

	// RawOutput is the engine's captured output, treated as opaque text.
	RawOutput string `json:"raw_output"`
}

// DestroyResult is the outcome of the engine's destroy operation.
type DestroyResult struct {
	RawOutput string `json:"raw_output"`
}

// Handle is an opaque reference to a submitted remote instruction.
type Handle string

// Probe is one poll of a submitted instruction.
type Probe struct {
	// Done reports whether the instruction reached a terminal state.
	Done bool `json:"done"`

	// Status is the provider's terminal status string, set when Done.
	Status string `json:"status,omitempty"`

	// ExitCode is the remote command's exit code, set when Done.
	ExitCode int `json:"exit_code,omitempty"`

	// Output is the captured remote output, set when Done.
	Output string `json:"output,omitempty"`

	// CompletedAt is the completion timestamp, set when Done.
	CompletedAt time.Time `json:"completed_at,omitzero"`
}
