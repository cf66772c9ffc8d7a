// Package dispatch submits named maintenance instructions to the deployed
// host through the provider's control channel and polls them to completion.
// It is the only part of nbdeploy that suspends: a bounded sleep-and-retry
// loop, cancellable by operator interrupt. Idempotency is the caller's
// responsibility; allow-list mutations expose explicit add/remove/overwrite
// semantics so retries stay predictable.
package dispatch

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/nbdeploy/nbdeploy/pkg/deployerr"
	"github.com/nbdeploy/nbdeploy/pkg/engine"
	"github.com/nbdeploy/nbdeploy/pkg/history"
	"github.com/nbdeploy/nbdeploy/pkg/telemetry"
)

// HistoryKind is the history store kind under which completed instructions
// are summarized.
const HistoryKind = "remote"

// Instruction is a named remote operation with parameters and an opaque
// execution target.
type Instruction struct {
	// Name identifies the operation, e.g. "users.add" or "server.status".
	Name string

	// Target is the opaque handle naming the remote execution target
	// (for AWS, the EC2 instance id).
	Target string

	// Params are the operation's parameters; list payloads are
	// comma-joined.
	Params map[string]string
}

// Result is the terminal outcome of a successful instruction.
type Result struct {
	Status      string
	ExitCode    int
	Output      string
	CompletedAt time.Time
}

// Options bound the polling loop.
type Options struct {
	// Timeout is the total time allowed for an instruction to reach a
	// terminal state.
	Timeout time.Duration

	// BaseDelay is the initial poll interval; it doubles per poll up to
	// MaxDelay.
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// DefaultOptions returns the production polling bounds.
func DefaultOptions() Options {
	return Options{
		Timeout:   2 * time.Minute,
		BaseDelay: time.Second,
		MaxDelay:  15 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Timeout <= 0 {
		o.Timeout = d.Timeout
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = d.BaseDelay
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = d.MaxDelay
	}
	return o
}

// Dispatcher runs instructions against one control channel.
type Dispatcher struct {
	channel engine.ControlChannel
	history *history.Store
	logger  *telemetry.Logger
	opts    Options
}

// New creates a dispatcher. The history store may be nil when invocations
// should not be recorded (tests, dry probes).
func New(channel engine.ControlChannel, hist *history.Store, logger *telemetry.Logger, opts Options) *Dispatcher {
	if logger == nil {
		logger = telemetry.NewLogger(telemetry.Config{Level: "info"})
	}
	return &Dispatcher{
		channel: channel,
		history: hist,
		logger:  logger.NewComponentLogger("dispatch"),
		opts:    opts.withDefaults(),
	}
}

// Run submits the instruction once and polls until a terminal state, the
// configured timeout, or context cancellation. Cancellation leaves the
// remote operation's actual state unknown but never touches local project
// state.
func (d *Dispatcher) Run(ctx context.Context, in Instruction) (*Result, error) {
	log := d.logger.WithInstruction(in.Name, in.Target)
	started := time.Now().UTC()

	handle, err := d.channel.Submit(ctx, in.Target, in.Name, in.Params)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("instruction %q interrupted during submit: %w", in.Name, ctx.Err())
		}
		err = classifyChannelError(err, fmt.Sprintf("cannot submit instruction %q", in.Name))
		d.record(in, started, -1, err.Error())
		return nil, err
	}
	log.Debugf("instruction submitted, handle=%s", handle)

	deadline := started.Add(d.opts.Timeout)
	delay := d.opts.BaseDelay
	for {
		probe, err := d.channel.Poll(ctx, handle)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("instruction %q interrupted while polling (remote state unknown): %w", in.Name, ctx.Err())
			}
			err = classifyChannelError(err, fmt.Sprintf("cannot poll instruction %q", in.Name))
			d.record(in, started, -1, err.Error())
			return nil, err
		}

		if probe.Done {
			result := &Result{
				Status:      probe.Status,
				ExitCode:    probe.ExitCode,
				Output:      probe.Output,
				CompletedAt: probe.CompletedAt,
			}
			if result.CompletedAt.IsZero() {
				result.CompletedAt = time.Now().UTC()
			}
			d.record(in, started, result.ExitCode, result.Output)

			if probe.ExitCode != 0 {
				return nil, deployerr.NewRemote(deployerr.RemoteExecution,
					fmt.Sprintf("instruction %q failed on host with status %s (exit %d): %s",
						in.Name, probe.Status, probe.ExitCode, strings.TrimSpace(probe.Output)), nil)
			}
			log.Debugf("instruction completed with status %s", probe.Status)
			return result, nil
		}

		if time.Now().After(deadline) {
			err := deployerr.NewRemote(deployerr.RemoteTimeout,
				fmt.Sprintf("instruction %q did not reach a terminal state within %s", in.Name, d.opts.Timeout), nil)
			d.record(in, started, -1, err.Error())
			return nil, err
		}

		if err := sleepCtx(ctx, jitter(delay)); err != nil {
			return nil, fmt.Errorf("instruction %q interrupted while polling (remote state unknown): %w", in.Name, err)
		}
		if delay *= 2; delay > d.opts.MaxDelay {
			delay = d.opts.MaxDelay
		}
	}
}

// record summarizes an instruction into the history store. History failures
// are logged, not propagated: the instruction's own outcome wins.
func (d *Dispatcher) record(in Instruction, started time.Time, exitCode int, output string) {
	if d.history == nil {
		return
	}
	lines := []string{fmt.Sprintf("instruction %s target=%s", in.Name, in.Target)}
	if len(in.Params) > 0 {
		lines = append(lines, fmt.Sprintf("params: %v", in.Params))
	}
	if output != "" {
		lines = append(lines, strings.Split(output, "\n")...)
	}
	_, err := d.history.Append(HistoryKind, history.Entry{
		StartedAt: started,
		EndedAt:   time.Now().UTC(),
		ExitCode:  exitCode,
		Output:    lines,
	})
	if err != nil {
		d.logger.WithError(err).Warn("cannot record instruction in history")
	}
}

// classifyChannelError keeps already-classified errors and marks transport
// failures as unreachable, distinct from a command failure on the host.
func classifyChannelError(err error, msg string) error {
	if deployerr.ClassOf(err) != "" {
		return err
	}
	return deployerr.NewRemote(deployerr.RemoteUnreachable, msg, err)
}

// jitter spreads polls by up to 10% to avoid thundering retries.
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	return d + time.Duration(rand.Int63n(int64(d/10+1)))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
