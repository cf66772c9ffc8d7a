package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nbdeploy/nbdeploy/pkg/deployerr"
	"github.com/nbdeploy/nbdeploy/pkg/dispatch"
	"github.com/nbdeploy/nbdeploy/pkg/engine"
	"github.com/nbdeploy/nbdeploy/pkg/project"
	"github.com/nbdeploy/nbdeploy/pkg/registry"
	"github.com/nbdeploy/nbdeploy/pkg/telemetry"
)

// stubEngine scripts the engine responses for controller tests.
type stubEngine struct {
	validateErr error
	applyErr    error
	destroyErr  error
	outputs     map[string]string

	validates int
	applies   int
	destroys  int
}

func (s *stubEngine) Validate(ctx context.Context, vars map[string]string) (*engine.PlanResult, error) {
	s.validates++
	if s.validateErr != nil {
		return nil, s.validateErr
	}
	return &engine.PlanResult{RawOutput: "Plan: 4 to add, 0 to change, 0 to destroy.\n"}, nil
}

func (s *stubEngine) Apply(ctx context.Context) (*engine.ApplyResult, error) {
	s.applies++
	if s.applyErr != nil {
		return nil, s.applyErr
	}
	return &engine.ApplyResult{Outputs: s.outputs, RawOutput: "Apply complete.\n"}, nil
}

func (s *stubEngine) Destroy(ctx context.Context) (*engine.DestroyResult, error) {
	s.destroys++
	if s.destroyErr != nil {
		return nil, s.destroyErr
	}
	return &engine.DestroyResult{RawOutput: "Destroy complete.\n"}, nil
}

// stubChannel completes every instruction on the first poll.
type stubChannel struct {
	exitCode int
	output   string
	targets  []string
	names    []string
	params   []map[string]string
}

func (s *stubChannel) Submit(ctx context.Context, target, name string, params map[string]string) (engine.Handle, error) {
	s.targets = append(s.targets, target)
	s.names = append(s.names, name)
	s.params = append(s.params, params)
	return engine.Handle("h-1"), nil
}

func (s *stubChannel) Poll(ctx context.Context, handle engine.Handle) (*engine.Probe, error) {
	status := "Success"
	if s.exitCode != 0 {
		status = "Failed"
	}
	return &engine.Probe{
		Done:        true,
		Status:      status,
		ExitCode:    s.exitCode,
		Output:      s.output,
		CompletedAt: time.Now().UTC(),
	}, nil
}

func testLogger() *telemetry.Logger {
	return telemetry.NewLogger(telemetry.Config{Level: "disabled"})
}

func testRef(t *testing.T) engine.TemplateRef {
	t.Helper()
	ref, err := engine.ParseTemplateRef("terraform/aws/ec2/github")
	require.NoError(t, err)
	return ref
}

func newTestController(t *testing.T) (*Controller, *stubEngine, *stubChannel) {
	t.Helper()
	eng := &stubEngine{outputs: map[string]string{
		"url":         "https://notebook.example.com",
		"instance_id": "i-0abc123",
	}}
	ch := &stubChannel{output: "ok"}

	reg := registry.New()
	reg.RegisterEngine("terraform", func(projectDir string) (engine.Engine, error) {
		return eng, nil
	})
	reg.RegisterChannel("aws", func() (engine.ControlChannel, error) {
		return ch, nil
	})

	c := New(reg, testLogger(), t.TempDir())
	c.SetDispatchOptions(dispatch.Options{
		Timeout:   time.Second,
		BaseDelay: time.Millisecond,
		MaxDelay:  time.Millisecond,
	})
	return c, eng, ch
}

func requiredOverrides() map[string]string {
	return map[string]string{
		"instance_type":       "t3.micro",
		"letsencrypt_email":   "ops@example.com",
		"oauth_client_id":     "client-id",
		"oauth_client_secret": "s3cret",
	}
}

func TestInitCreatesProject(t *testing.T) {
	c, _, _ := newTestController(t)

	state, err := c.Init(testRef(t))
	require.NoError(t, err)
	assert.Equal(t, engine.StageInitialized, state.Stage)
	assert.NotEmpty(t, state.ID)

	// The manifest skeleton must be in place and loadable.
	m, err := project.LoadManifest(c.dir)
	require.NoError(t, err)
	def, ok := m.Variable("oauth_client_secret")
	require.True(t, ok)
	assert.True(t, def.Sensitive)

	_, err = c.Init(testRef(t))
	require.Error(t, err)
	assert.True(t, deployerr.IsValidation(err))
}

func TestInitKeepsExistingManifest(t *testing.T) {
	c, _, _ := newTestController(t)

	custom := skeletonManifest(testRef(t))
	custom.Variables = append(custom.Variables, project.VariableDef{
		Name: "extra_tag", Type: "str", Default: strptr("team-a"),
	})
	require.NoError(t, project.WriteManifest(c.dir, custom))

	_, err := c.Init(testRef(t))
	require.NoError(t, err)

	m, err := project.LoadManifest(c.dir)
	require.NoError(t, err)
	_, ok := m.Variable("extra_tag")
	assert.True(t, ok, "init must not overwrite an existing manifest")
}

func TestConfigureTransitionsAndRecords(t *testing.T) {
	c, eng, _ := newTestController(t)
	_, err := c.Init(testRef(t))
	require.NoError(t, err)

	require.NoError(t, c.Configure(context.Background(), requiredOverrides()))
	assert.Equal(t, 1, eng.validates)

	state, err := c.Show()
	require.NoError(t, err)
	assert.Equal(t, engine.StageConfigured, state.Stage)

	// Defaults fill in, overrides stick, sensitivity follows the schema.
	assert.Equal(t, "t3.micro", state.Variables["instance_type"].Value)
	assert.True(t, state.Variables["oauth_client_secret"].Sensitive)
	vol := state.Variables["volume_size_gb"]
	assert.Equal(t, "30", vol.Value)
	assert.True(t, vol.FromDefault)

	entries, err := c.History().List(KindConfig)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 0, entries[0].ExitCode)

	// Reconfiguring from configured is allowed.
	require.NoError(t, c.Configure(context.Background(), map[string]string{"volume_size_gb": "100"}))
	state, err = c.Show()
	require.NoError(t, err)
	assert.Equal(t, "100", state.Variables["volume_size_gb"].Value)
	assert.False(t, state.Variables["volume_size_gb"].FromDefault)
}

func TestConfigureRejectsUndeclaredVariable(t *testing.T) {
	c, eng, _ := newTestController(t)
	_, err := c.Init(testRef(t))
	require.NoError(t, err)

	err = c.Configure(context.Background(), map[string]string{"no_such_var": "x"})
	require.Error(t, err)
	assert.True(t, deployerr.IsValidation(err))
	assert.Zero(t, eng.validates, "validation failures must not reach the engine")

	state, err := c.Show()
	require.NoError(t, err)
	assert.Equal(t, engine.StageInitialized, state.Stage)
}

func TestConfigureEngineFailureKeepsStage(t *testing.T) {
	c, eng, _ := newTestController(t)
	eng.validateErr = assert.AnError
	_, err := c.Init(testRef(t))
	require.NoError(t, err)

	err = c.Configure(context.Background(), requiredOverrides())
	require.Error(t, err)
	assert.True(t, deployerr.IsBackend(err))

	state, err := c.Show()
	require.NoError(t, err)
	assert.Equal(t, engine.StageInitialized, state.Stage)

	entries, err := c.History().List(KindConfig)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 1, entries[0].ExitCode)
}

func TestApplyRequiresConfigured(t *testing.T) {
	c, eng, _ := newTestController(t)
	_, err := c.Init(testRef(t))
	require.NoError(t, err)

	err = c.Apply(context.Background())
	require.Error(t, err)
	assert.True(t, deployerr.IsValidation(err))
	assert.Zero(t, eng.applies)

	state, err := c.Show()
	require.NoError(t, err)
	assert.Equal(t, engine.StageInitialized, state.Stage)
}

func TestApplyRequiresCompleteVariables(t *testing.T) {
	c, _, _ := newTestController(t)
	_, err := c.Init(testRef(t))
	require.NoError(t, err)
	require.NoError(t, c.Configure(context.Background(), requiredOverrides()))

	// Drop a required value behind the controller's back.
	state, err := c.Show()
	require.NoError(t, err)
	delete(state.Variables, "oauth_client_secret")
	require.NoError(t, project.NewStore(c.dir).Save(state))

	err = c.Apply(context.Background())
	require.Error(t, err)
	assert.True(t, deployerr.IsValidation(err))
	assert.Contains(t, err.Error(), "oauth_client_secret")
}

func TestApplyDeploysAndCapturesOutputs(t *testing.T) {
	c, _, _ := newTestController(t)
	_, err := c.Init(testRef(t))
	require.NoError(t, err)
	require.NoError(t, c.Configure(context.Background(), requiredOverrides()))
	require.NoError(t, c.Apply(context.Background()))

	state, err := c.Show()
	require.NoError(t, err)
	assert.Equal(t, engine.StageDeployed, state.Stage)
	assert.False(t, state.Dirty)

	url, err := state.Output("url")
	require.NoError(t, err)
	assert.Equal(t, "https://notebook.example.com", url)

	entries, err := c.History().List(KindUp)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestApplyFailureRevertsToConfigured(t *testing.T) {
	c, eng, _ := newTestController(t)
	eng.applyErr = assert.AnError
	_, err := c.Init(testRef(t))
	require.NoError(t, err)
	require.NoError(t, c.Configure(context.Background(), requiredOverrides()))

	err = c.Apply(context.Background())
	require.Error(t, err)
	assert.True(t, deployerr.IsBackend(err))

	state, err := c.Show()
	require.NoError(t, err)
	assert.Equal(t, engine.StageConfigured, state.Stage)
	assert.False(t, state.Dirty)

	entries, err := c.History().List(KindUp)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 1, entries[0].ExitCode)
}

func TestDestroyRequiresDeployed(t *testing.T) {
	c, eng, _ := newTestController(t)
	_, err := c.Init(testRef(t))
	require.NoError(t, err)
	require.NoError(t, c.Configure(context.Background(), requiredOverrides()))

	err = c.Destroy(context.Background(), false)
	require.Error(t, err)
	assert.True(t, deployerr.IsValidation(err))
	assert.Zero(t, eng.destroys)
}

func TestDestroyTearsDown(t *testing.T) {
	c, _, _ := newTestController(t)
	_, err := c.Init(testRef(t))
	require.NoError(t, err)
	require.NoError(t, c.Configure(context.Background(), requiredOverrides()))
	require.NoError(t, c.Apply(context.Background()))
	require.NoError(t, c.Destroy(context.Background(), false))

	state, err := c.Show()
	require.NoError(t, err)
	assert.Equal(t, engine.StageDestroyed, state.Stage)
	assert.Empty(t, state.Outputs)

	entries, err := c.History().List(KindDown)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestDirtyProjectRequiresRecover(t *testing.T) {
	c, _, _ := newTestController(t)
	_, err := c.Init(testRef(t))
	require.NoError(t, err)
	require.NoError(t, c.Configure(context.Background(), requiredOverrides()))

	// Simulate a crash mid-apply.
	store := project.NewStore(c.dir)
	state, err := store.Load()
	require.NoError(t, err)
	state.Stage = engine.StageApplying
	state.Dirty = true
	require.NoError(t, store.Save(state))

	err = c.Configure(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, deployerr.IsValidation(err))
	assert.Contains(t, err.Error(), "recover")

	target, err := c.Recover()
	require.NoError(t, err)
	assert.Equal(t, engine.StageConfigured, target)

	state, err = c.Show()
	require.NoError(t, err)
	assert.Equal(t, engine.StageConfigured, state.Stage)
	assert.False(t, state.Dirty)

	_, err = c.Recover()
	require.Error(t, err, "recover on a clean project must fail")
}

func TestDestroyForceFromDirtyTransient(t *testing.T) {
	c, eng, _ := newTestController(t)
	_, err := c.Init(testRef(t))
	require.NoError(t, err)
	require.NoError(t, c.Configure(context.Background(), requiredOverrides()))

	store := project.NewStore(c.dir)
	state, err := store.Load()
	require.NoError(t, err)
	state.Stage = engine.StageApplying
	state.Dirty = true
	require.NoError(t, store.Save(state))

	err = c.Destroy(context.Background(), false)
	require.Error(t, err, "dirty project must refuse destroy without force")

	require.NoError(t, c.Destroy(context.Background(), true))
	assert.Equal(t, 1, eng.destroys)

	state, err = c.Show()
	require.NoError(t, err)
	assert.Equal(t, engine.StageDestroyed, state.Stage)
}

func TestServerActionRoundTrip(t *testing.T) {
	c, _, ch := newTestController(t)
	_, err := c.Init(testRef(t))
	require.NoError(t, err)
	require.NoError(t, c.Configure(context.Background(), requiredOverrides()))
	require.NoError(t, c.Apply(context.Background()))

	result, err := c.ServerAction(context.Background(), "restart")
	require.NoError(t, err)
	assert.Equal(t, "Success", result.Status)
	require.Len(t, ch.names, 1)
	assert.Equal(t, "server.restart", ch.names[0])
	assert.Equal(t, "i-0abc123", ch.targets[0])

	state, err := c.Show()
	require.NoError(t, err)
	assert.Equal(t, engine.StageDeployed, state.Stage)
	assert.False(t, state.Dirty)
}

func TestServerActionRemoteFailureKeepsDeployed(t *testing.T) {
	c, _, ch := newTestController(t)
	ch.exitCode = 2
	ch.output = "systemctl: unit not found"
	_, err := c.Init(testRef(t))
	require.NoError(t, err)
	require.NoError(t, c.Configure(context.Background(), requiredOverrides()))
	require.NoError(t, c.Apply(context.Background()))

	_, err = c.ServerAction(context.Background(), "stop")
	require.Error(t, err)
	assert.True(t, deployerr.IsRemote(err, deployerr.RemoteExecution))

	state, err := c.Show()
	require.NoError(t, err)
	assert.Equal(t, engine.StageDeployed, state.Stage)
	assert.False(t, state.Dirty)
}

// waitingChannel never completes; Poll blocks on the context.
type waitingChannel struct{}

func (waitingChannel) Submit(ctx context.Context, target, name string, params map[string]string) (engine.Handle, error) {
	return engine.Handle("h-1"), nil
}

func (waitingChannel) Poll(ctx context.Context, handle engine.Handle) (*engine.Probe, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestServerActionInterruptSettlesDeployed(t *testing.T) {
	eng := &stubEngine{outputs: map[string]string{"instance_id": "i-0abc123"}}
	reg := registry.New()
	reg.RegisterEngine("terraform", func(projectDir string) (engine.Engine, error) {
		return eng, nil
	})
	reg.RegisterChannel("aws", func() (engine.ControlChannel, error) {
		return waitingChannel{}, nil
	})

	c := New(reg, testLogger(), t.TempDir())
	c.SetDispatchOptions(dispatch.Options{
		Timeout:   time.Second,
		BaseDelay: time.Millisecond,
		MaxDelay:  time.Millisecond,
	})
	_, err := c.Init(testRef(t))
	require.NoError(t, err)
	require.NoError(t, c.Configure(context.Background(), requiredOverrides()))
	require.NoError(t, c.Apply(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err = c.ServerAction(ctx, "stop")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	state, err := c.Show()
	require.NoError(t, err)
	assert.Equal(t, engine.StageDeployed, state.Stage)
	assert.False(t, state.Dirty, "an interrupted server action settles back at deployed")
}

func TestRunInstructionRequiresDeployed(t *testing.T) {
	c, _, _ := newTestController(t)
	_, err := c.Init(testRef(t))
	require.NoError(t, err)

	_, err = c.RunInstruction(context.Background(), "users.list", nil)
	require.Error(t, err)
	assert.True(t, deployerr.IsValidation(err))
}

func TestRunInstructionDispatches(t *testing.T) {
	c, _, ch := newTestController(t)
	ch.output = "alice\nbob"
	_, err := c.Init(testRef(t))
	require.NoError(t, err)
	require.NoError(t, c.Configure(context.Background(), requiredOverrides()))
	require.NoError(t, c.Apply(context.Background()))

	result, err := c.RunInstruction(context.Background(), "users.add", map[string]string{"usernames": "carol"})
	require.NoError(t, err)
	assert.Equal(t, "alice\nbob", result.Output)
	assert.Equal(t, "users.add", ch.names[0])
	assert.Equal(t, map[string]string{"usernames": "carol"}, ch.params[0])
}

func TestMutatingCommandsHoldLock(t *testing.T) {
	c, _, _ := newTestController(t)
	_, err := c.Init(testRef(t))
	require.NoError(t, err)

	lock, err := project.AcquireLock(c.dir)
	require.NoError(t, err)
	defer lock.Release()

	err = c.Configure(context.Background(), requiredOverrides())
	require.Error(t, err)
	assert.True(t, deployerr.IsConcurrency(err))
}
