// Package terraform implements the infrastructure engine contract by driving
// the terraform binary in the project directory. It never parses terraform
// state files; outputs come from `terraform output -json`.
package terraform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/nbdeploy/nbdeploy/pkg/deployerr"
	"github.com/nbdeploy/nbdeploy/pkg/engine"
	"github.com/nbdeploy/nbdeploy/pkg/registry"
	"github.com/nbdeploy/nbdeploy/pkg/telemetry"
)

// Kind is the engine kind this package registers under.
const Kind = "terraform"

// varsFileName is the generated variables file terraform auto-loads.
const varsFileName = "nbdeploy.auto.tfvars.json"

// Engine drives the terraform CLI for one project directory.
type Engine struct {
	binary string
	dir    string
	logger *telemetry.Logger
}

// Factory builds the registry factory for this engine kind. The binary is
// located at resolve time so a missing installation surfaces as a backend
// error before any lifecycle work starts.
func Factory(logger *telemetry.Logger) registry.EngineFactory {
	return func(projectDir string) (engine.Engine, error) {
		binary, err := exec.LookPath("terraform")
		if err != nil {
			return nil, deployerr.NewBackend(
				"terraform binary not found in PATH; install terraform to use this engine", err)
		}
		return &Engine{
			binary: binary,
			dir:    projectDir,
			logger: logger.NewComponentLogger("terraform"),
		}, nil
	}
}

// Validate writes the variable file, then runs init, validate and plan.
func (e *Engine) Validate(ctx context.Context, vars map[string]string) (*engine.PlanResult, error) {
	if err := e.writeVarsFile(vars); err != nil {
		return nil, err
	}

	var combined strings.Builder
	for _, args := range [][]string{
		{"init", "-input=false", "-no-color"},
		{"validate", "-no-color"},
		{"plan", "-input=false", "-no-color"},
	} {
		out, err := e.run(ctx, args...)
		combined.WriteString(out)
		if err != nil {
			return nil, err
		}
	}
	return &engine.PlanResult{RawOutput: combined.String()}, nil
}

// Apply provisions the infrastructure and reads back the root outputs.
func (e *Engine) Apply(ctx context.Context) (*engine.ApplyResult, error) {
	out, err := e.run(ctx, "apply", "-auto-approve", "-input=false", "-no-color")
	if err != nil {
		return nil, err
	}

	raw, err := e.run(ctx, "output", "-json")
	if err != nil {
		return nil, err
	}
	outputs, err := parseOutputs([]byte(raw))
	if err != nil {
		return nil, err
	}
	return &engine.ApplyResult{Outputs: outputs, RawOutput: out}, nil
}

// Destroy tears the infrastructure down.
func (e *Engine) Destroy(ctx context.Context) (*engine.DestroyResult, error) {
	out, err := e.run(ctx, "destroy", "-auto-approve", "-input=false", "-no-color")
	if err != nil {
		return nil, err
	}
	return &engine.DestroyResult{RawOutput: out}, nil
}

// run executes one terraform subcommand in the project directory and returns
// its combined output. Failures carry the tail of the output so the operator
// sees terraform's own diagnostics.
func (e *Engine) run(ctx context.Context, args ...string) (string, error) {
	e.logger.Debugf("running terraform %s", strings.Join(args, " "))

	cmd := exec.CommandContext(ctx, e.binary, args...)
	cmd.Dir = e.dir
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return buf.String(), ctx.Err()
		}
		return buf.String(), deployerr.NewBackend(
			fmt.Sprintf("terraform %s failed: %s", args[0], tail(buf.String(), 20)), err)
	}
	return buf.String(), nil
}

// writeVarsFile persists the resolved variable values as an auto-loaded
// tfvars file. All values are strings; terraform coerces per its own
// variable declarations.
func (e *Engine) writeVarsFile(vars map[string]string) error {
	raw, err := json.MarshalIndent(vars, "", "  ")
	if err != nil {
		return deployerr.NewBackend("cannot serialize terraform variables", err)
	}
	path := filepath.Join(e.dir, varsFileName)
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return deployerr.NewBackend("cannot write terraform variables file", err)
	}
	return nil
}

// parseOutputs converts `terraform output -json` into a flat string map.
// String outputs are unquoted; compound values keep their compact JSON form.
func parseOutputs(raw []byte) (map[string]string, error) {
	var decoded map[string]struct {
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, deployerr.NewBackend("cannot parse terraform outputs", err)
	}

	outputs := make(map[string]string, len(decoded))
	for name, out := range decoded {
		var s string
		if err := json.Unmarshal(out.Value, &s); err == nil {
			outputs[name] = s
			continue
		}
		var compact bytes.Buffer
		if err := json.Compact(&compact, out.Value); err != nil {
			return nil, deployerr.NewBackend(
				fmt.Sprintf("terraform output %q has an unreadable value", name), err)
		}
		outputs[name] = compact.String()
	}
	return outputs, nil
}

// tail returns the last n lines of s.
func tail(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
