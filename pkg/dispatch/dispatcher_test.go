package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nbdeploy/nbdeploy/pkg/deployerr"
	"github.com/nbdeploy/nbdeploy/pkg/engine"
	"github.com/nbdeploy/nbdeploy/pkg/history"
)

// scriptedChannel replays a fixed sequence of probes.
type scriptedChannel struct {
	submitErr error
	pollErr   error
	probes    []engine.Probe

	submits      int
	polls        int
	submitParams map[string]string
}

func (c *scriptedChannel) Submit(ctx context.Context, target, name string, params map[string]string) (engine.Handle, error) {
	c.submits++
	c.submitParams = params
	if c.submitErr != nil {
		return "", c.submitErr
	}
	return engine.Handle("cmd-1"), nil
}

func (c *scriptedChannel) Poll(ctx context.Context, handle engine.Handle) (*engine.Probe, error) {
	if c.pollErr != nil {
		return nil, c.pollErr
	}
	idx := c.polls
	if idx >= len(c.probes) {
		idx = len(c.probes) - 1
	}
	c.polls++
	p := c.probes[idx]
	return &p, nil
}

func fastOpts() Options {
	return Options{Timeout: 200 * time.Millisecond, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func instr() Instruction {
	return Instruction{Name: "users.add", Target: "i-0abc", Params: map[string]string{"usernames": "ada,grace"}}
}

func TestRunSuccessAfterPending(t *testing.T) {
	ch := &scriptedChannel{probes: []engine.Probe{
		{Done: false},
		{Done: false},
		{Done: true, Status: "Success", ExitCode: 0, Output: "2 users added"},
	}}

	d := New(ch, nil, nil, fastOpts())
	result, err := d.Run(context.Background(), instr())
	require.NoError(t, err)

	assert.Equal(t, "Success", result.Status)
	assert.Equal(t, "2 users added", result.Output)
	assert.Equal(t, 1, ch.submits, "submission happens exactly once")
	assert.Equal(t, 3, ch.polls)
	assert.Equal(t, map[string]string{"usernames": "ada,grace"}, ch.submitParams)
	assert.False(t, result.CompletedAt.IsZero())
}

func TestRunTimesOut(t *testing.T) {
	ch := &scriptedChannel{probes: []engine.Probe{{Done: false}}}

	d := New(ch, nil, nil, Options{Timeout: 20 * time.Millisecond, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond})
	_, err := d.Run(context.Background(), instr())

	require.Error(t, err)
	assert.True(t, deployerr.IsRemote(err, deployerr.RemoteTimeout), "got %v", err)
}

func TestRunRemoteFailure(t *testing.T) {
	ch := &scriptedChannel{probes: []engine.Probe{
		{Done: true, Status: "Failed", ExitCode: 3, Output: "user not found"},
	}}

	d := New(ch, nil, nil, fastOpts())
	_, err := d.Run(context.Background(), instr())

	require.Error(t, err)
	assert.True(t, deployerr.IsRemote(err, deployerr.RemoteExecution), "got %v", err)
	assert.Contains(t, err.Error(), "user not found")
	assert.Contains(t, err.Error(), "exit 3")
}

func TestRunUnreachableChannel(t *testing.T) {
	d := New(&scriptedChannel{submitErr: errors.New("dial tcp: connection refused")}, nil, nil, fastOpts())
	_, err := d.Run(context.Background(), instr())

	require.Error(t, err)
	assert.True(t, deployerr.IsRemote(err, deployerr.RemoteUnreachable), "got %v", err)

	// A poll transport failure is also unreachable, not an execution error.
	ch := &scriptedChannel{pollErr: errors.New("TLS handshake timeout"), probes: []engine.Probe{{}}}
	_, err = New(ch, nil, nil, fastOpts()).Run(context.Background(), instr())
	require.Error(t, err)
	assert.True(t, deployerr.IsRemote(err, deployerr.RemoteUnreachable), "got %v", err)
}

func TestRunPreservesClassifiedChannelErrors(t *testing.T) {
	classified := deployerr.NewRemote(deployerr.RemoteUnreachable, "agent on instance 'i-0abc' is not running", nil)
	d := New(&scriptedChannel{submitErr: classified}, nil, nil, fastOpts())

	_, err := d.Run(context.Background(), instr())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "agent on instance")
}

func TestRunCancellation(t *testing.T) {
	ch := &scriptedChannel{probes: []engine.Probe{{Done: false}}}
	d := New(ch, nil, nil, Options{Timeout: 10 * time.Second, BaseDelay: 50 * time.Millisecond, MaxDelay: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := d.Run(ctx, instr())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 2*time.Second, "cancellation must not wait for the timeout")
}

func TestRunSubmitCancellationIsNotRemote(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ch := &scriptedChannel{submitErr: context.Canceled}
	d := New(ch, nil, nil, fastOpts())

	_, err := d.Run(ctx, instr())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotEqual(t, deployerr.ClassRemote, deployerr.ClassOf(err),
		"operator interrupt must not look like an unreachable channel")
}

func TestRunPollCancellationIsNotRemote(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ch := &scriptedChannel{pollErr: context.Canceled}
	d := New(ch, nil, nil, fastOpts())

	_, err := d.Run(ctx, instr())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotEqual(t, deployerr.ClassRemote, deployerr.ClassOf(err))
}

func TestRunRecordsHistory(t *testing.T) {
	hist := history.NewStore(t.TempDir(), history.NewRedactor([]string{"s3cret"}))
	ch := &scriptedChannel{probes: []engine.Probe{
		{Done: true, Status: "Success", ExitCode: 0, Output: "token s3cret rotated\ndone"},
	}}

	d := New(ch, hist, nil, fastOpts())
	_, err := d.Run(context.Background(), Instruction{Name: "cookies.reset", Target: "i-0abc"})
	require.NoError(t, err)

	entry, err := hist.Get(HistoryKind, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, entry.ExitCode)
	assert.Contains(t, entry.Output[0], "cookies.reset")

	joined := ""
	for _, line := range entry.Output {
		joined += line + "\n"
	}
	assert.NotContains(t, joined, "s3cret", "history must be redacted")
	assert.Contains(t, joined, history.Replacement)
}
