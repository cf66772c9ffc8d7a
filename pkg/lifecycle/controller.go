// Package lifecycle implements the deployment state machine: it validates
// stage transitions, delegates to the resolved backends, and persists the new
// stage only after the delegated work succeeds. A failed apply leaves the
// project at configured, not a misleading deployed; backend failures are
// never retried automatically.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nbdeploy/nbdeploy/pkg/deployerr"
	"github.com/nbdeploy/nbdeploy/pkg/dispatch"
	"github.com/nbdeploy/nbdeploy/pkg/engine"
	"github.com/nbdeploy/nbdeploy/pkg/history"
	"github.com/nbdeploy/nbdeploy/pkg/project"
	"github.com/nbdeploy/nbdeploy/pkg/registry"
	"github.com/nbdeploy/nbdeploy/pkg/telemetry"
)

// History kinds written by the controller.
const (
	KindConfig = "config"
	KindUp     = "up"
	KindDown   = "down"
)

// Controller drives one project's lifecycle.
type Controller struct {
	registry *registry.Registry
	logger   *telemetry.Logger
	dir      string
	store    *project.Store

	// dispatchOpts bounds remote instruction polling; zero values use
	// dispatch defaults.
	dispatchOpts dispatch.Options
}

// New creates a controller for the project directory.
func New(reg *registry.Registry, logger *telemetry.Logger, dir string) *Controller {
	if logger == nil {
		logger = telemetry.NewLogger(telemetry.Config{Level: "info"})
	}
	return &Controller{
		registry: reg,
		logger:   logger.NewComponentLogger("lifecycle"),
		dir:      dir,
		store:    project.NewStore(dir),
	}
}

// SetDispatchOptions overrides the polling bounds used for remote
// instructions.
func (c *Controller) SetDispatchOptions(opts dispatch.Options) {
	c.dispatchOpts = opts
}

// historyStore builds the history store with redaction for the given state.
func (c *Controller) historyStore(state *project.State) *history.Store {
	var red *history.Redactor
	if state != nil {
		red = history.NewRedactor(state.SensitiveValues())
	}
	return history.NewStore(filepath.Join(c.store.MetaDir(), history.DirName), red)
}

// History returns the project's history store for read access. Sensitive
// values are already scrubbed at write time, so no redactor is needed.
func (c *Controller) History() *history.Store {
	return history.NewStore(filepath.Join(c.store.MetaDir(), history.DirName), nil)
}

// Init creates a fresh project: the manifest skeleton for the template and
// the initial state at the initialized stage. It fails when the directory
// already holds an initialized project.
func (c *Controller) Init(ref engine.TemplateRef) (*project.State, error) {
	if c.store.Initialized() {
		return nil, deployerr.NewValidation(
			fmt.Sprintf("directory %s already holds an initialized project", c.dir), nil).
			WithOperation("init")
	}

	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return nil, deployerr.NewStateCorruption("cannot create project directory", err).
			WithOperation("init")
	}
	if _, err := os.Stat(filepath.Join(c.dir, project.ManifestFileName)); errors.Is(err, os.ErrNotExist) {
		// No manifest yet: lay down the template's skeleton.
		if err := project.WriteManifest(c.dir, skeletonManifest(ref)); err != nil {
			return nil, err
		}
	}

	state, err := c.store.Init(ref)
	if err != nil {
		return nil, err
	}
	c.logger.WithProject(state.ID).Infof("initialized project with template %s", ref)
	return state, nil
}

// Configure validates variable overrides against the template schema, runs
// the engine's validate/plan operation, and on success transitions the
// project to configured. Allowed from initialized or configured.
func (c *Controller) Configure(ctx context.Context, overrides map[string]string) error {
	lock, err := project.AcquireLock(c.dir)
	if err != nil {
		return annotate(err, "config", "")
	}
	defer lock.Release()

	state, err := c.store.Load()
	if err != nil {
		return annotate(err, "config", "")
	}
	if err := c.checkClean(state, "config"); err != nil {
		return err
	}
	if !state.Stage.CanTransition(engine.StageConfigured) {
		return stageError("config", state.Stage, "requires an initialized or configured project")
	}

	manifest, err := project.LoadManifest(c.dir)
	if err != nil {
		return annotate(err, "config", string(state.Stage))
	}
	if err := manifest.ValidateValues(overrides); err != nil {
		return annotate(err, "config", string(state.Stage))
	}
	mergeVariables(state, manifest, overrides)

	eng, err := c.registry.ResolveEngine(state.Template.Engine, c.dir)
	if err != nil {
		return annotate(err, "config", string(state.Stage))
	}

	log := c.logger.WithProject(state.ID).WithCommand(KindConfig)
	hist := c.historyStore(state)
	started := time.Now().UTC()

	result, err := eng.Validate(ctx, flattenVariables(state))
	if err != nil {
		c.record(hist, KindConfig, started, 1, err.Error())
		return deployerr.NewBackend("engine validation failed", err).
			WithOperation("config").WithStage(string(state.Stage))
	}
	c.record(hist, KindConfig, started, 0, result.RawOutput)

	state.Stage = engine.StageConfigured
	if err := c.store.Save(state); err != nil {
		return annotate(err, "config", string(state.Stage))
	}
	log.Info("project configured")
	return nil
}

// Apply runs the engine's apply operation. Requires configured; transitions
// through applying; on success captures outputs and lands at deployed, on
// failure reverts to configured and surfaces the backend's error verbatim.
func (c *Controller) Apply(ctx context.Context) error {
	lock, err := project.AcquireLock(c.dir)
	if err != nil {
		return annotate(err, "up", "")
	}
	defer lock.Release()

	state, err := c.store.Load()
	if err != nil {
		return annotate(err, "up", "")
	}
	if err := c.checkClean(state, "up"); err != nil {
		return err
	}
	if state.Stage != engine.StageConfigured {
		return stageError("up", state.Stage, "requires a configured project (run 'nbd config' first)")
	}

	manifest, err := project.LoadManifest(c.dir)
	if err != nil {
		return annotate(err, "up", string(state.Stage))
	}
	if err := manifest.CheckComplete(state.Variables); err != nil {
		return annotate(err, "up", string(state.Stage))
	}

	eng, err := c.registry.ResolveEngine(state.Template.Engine, c.dir)
	if err != nil {
		return annotate(err, "up", string(state.Stage))
	}

	log := c.logger.WithProject(state.ID).WithCommand(KindUp)
	hist := c.historyStore(state)

	// Mark the transient stage before mutating infrastructure, so a crash
	// leaves a dirty project requiring explicit recovery.
	state.Stage = engine.StageApplying
	state.Dirty = true
	if err := c.store.Save(state); err != nil {
		return annotate(err, "up", string(state.Stage))
	}

	started := time.Now().UTC()
	result, applyErr := eng.Apply(ctx)

	if applyErr != nil {
		c.record(hist, KindUp, started, 1, applyErr.Error())
		state.Stage = engine.StageConfigured
		state.Dirty = false
		if err := c.store.Save(state); err != nil {
			return annotate(err, "up", string(state.Stage))
		}
		return deployerr.NewBackend("engine apply failed", applyErr).
			WithOperation("up").WithStage(string(engine.StageConfigured))
	}

	c.record(hist, KindUp, started, 0, result.RawOutput)
	state.Outputs = result.Outputs
	state.Stage = engine.StageDeployed
	state.Dirty = false
	if err := c.store.Save(state); err != nil {
		return annotate(err, "up", string(state.Stage))
	}
	log.Info("project deployed")
	return nil
}

// Destroy tears down the deployment. Requires deployed, or a dirty transient
// stage with force; transitions through destroying to destroyed.
func (c *Controller) Destroy(ctx context.Context, force bool) error {
	lock, err := project.AcquireLock(c.dir)
	if err != nil {
		return annotate(err, "down", "")
	}
	defer lock.Release()

	state, err := c.store.Load()
	if err != nil {
		return annotate(err, "down", "")
	}

	prior := state.Stage
	switch {
	case state.Stage == engine.StageDeployed && !state.Dirty:
	case state.Dirty && state.Stage.Transient() && force:
		// Forced teardown of a project left dirty by a crash.
	case state.Dirty:
		return stageError("down", state.Stage,
			"project is dirty after an interrupted operation; run 'nbd recover' or pass --force")
	default:
		return stageError("down", state.Stage, "requires a deployed project")
	}

	eng, err := c.registry.ResolveEngine(state.Template.Engine, c.dir)
	if err != nil {
		return annotate(err, "down", string(state.Stage))
	}

	log := c.logger.WithProject(state.ID).WithCommand(KindDown)
	hist := c.historyStore(state)

	state.Stage = engine.StageDestroying
	state.Dirty = true
	if err := c.store.Save(state); err != nil {
		return annotate(err, "down", string(state.Stage))
	}

	started := time.Now().UTC()
	result, destroyErr := eng.Destroy(ctx)

	if destroyErr != nil {
		c.record(hist, KindDown, started, 1, destroyErr.Error())
		state.Stage = prior
		if state.Stage.Transient() {
			state.Stage = engine.StageDeployed
		}
		state.Dirty = false
		if err := c.store.Save(state); err != nil {
			return annotate(err, "down", string(state.Stage))
		}
		return deployerr.NewBackend("engine destroy failed", destroyErr).
			WithOperation("down").WithStage(string(state.Stage))
	}

	c.record(hist, KindDown, started, 0, result.RawOutput)
	state.Stage = engine.StageDestroyed
	state.Dirty = false
	state.Outputs = nil
	if err := c.store.Save(state); err != nil {
		return annotate(err, "down", string(state.Stage))
	}
	log.Info("project destroyed")
	return nil
}

// Recover resets a dirty project from its interrupted transient stage back
// to the stage it departed from. It never resumes or re-runs the interrupted
// operation: partially-applied infrastructure changes stay the operator's
// call.
func (c *Controller) Recover() (engine.Stage, error) {
	lock, err := project.AcquireLock(c.dir)
	if err != nil {
		return "", annotate(err, "recover", "")
	}
	defer lock.Release()

	state, err := c.store.Load()
	if err != nil {
		return "", annotate(err, "recover", "")
	}
	if !state.Dirty || !state.Stage.Transient() {
		return "", stageError("recover", state.Stage, "project is not dirty; nothing to recover")
	}

	target, err := state.Stage.RecoveryTarget()
	if err != nil {
		return "", deployerr.NewStateCorruption("dirty project in unrecoverable stage", err).
			WithOperation("recover").WithStage(string(state.Stage))
	}
	state.Stage = target
	state.Dirty = false
	if err := c.store.Save(state); err != nil {
		return "", annotate(err, "recover", string(state.Stage))
	}
	c.logger.WithProject(state.ID).Infof("recovered project to stage %s", target)
	return target, nil
}

// Show returns the current project state for display.
func (c *Controller) Show() (*project.State, error) {
	return c.store.Load()
}

// ServerAction runs a server.start/stop/restart instruction on the deployed
// host, holding the matching transient stage while it is in flight.
func (c *Controller) ServerAction(ctx context.Context, action string) (*dispatch.Result, error) {
	transient := map[string]engine.Stage{
		"start":   engine.StageStarting,
		"stop":    engine.StageStopping,
		"restart": engine.StageStarting,
	}
	stage, ok := transient[action]
	if !ok {
		return nil, deployerr.NewValidation(fmt.Sprintf("unknown server action %q", action), nil)
	}

	lock, err := project.AcquireLock(c.dir)
	if err != nil {
		return nil, annotate(err, "server "+action, "")
	}
	defer lock.Release()

	state, err := c.store.Load()
	if err != nil {
		return nil, annotate(err, "server "+action, "")
	}
	if err := c.checkClean(state, "server "+action); err != nil {
		return nil, err
	}
	if state.Stage != engine.StageDeployed {
		return nil, stageError("server "+action, state.Stage, "requires a deployed project")
	}

	state.Stage = stage
	state.Dirty = true
	if err := c.store.Save(state); err != nil {
		return nil, annotate(err, "server "+action, string(state.Stage))
	}

	result, runErr := c.runInstruction(ctx, state, "server."+action, nil)

	// Whatever the instruction's outcome, the project settles back at
	// deployed: the remote service state is not tracked locally. Only a
	// process crash mid-flight leaves the transient stage dirty for
	// recover.
	state.Stage = engine.StageDeployed
	state.Dirty = false
	if err := c.store.Save(state); err != nil {
		return nil, annotate(err, "server "+action, string(state.Stage))
	}
	return result, runErr
}

// RunInstruction dispatches a named maintenance instruction against the
// deployed host and returns its result. Requires a deployed project.
func (c *Controller) RunInstruction(ctx context.Context, name string, params map[string]string) (*dispatch.Result, error) {
	state, err := c.store.Load()
	if err != nil {
		return nil, annotate(err, name, "")
	}
	if state.Stage != engine.StageDeployed {
		return nil, stageError(name, state.Stage, "requires a deployed project")
	}
	return c.runInstruction(ctx, state, name, params)
}

func (c *Controller) runInstruction(ctx context.Context, state *project.State, name string, params map[string]string) (*dispatch.Result, error) {
	target, err := state.Output("instance_id")
	if err != nil {
		return nil, deployerr.NewStateCorruption(
			"deployed project has no instance_id output", err).WithOperation(name)
	}

	channel, err := c.registry.ResolveChannel(state.Template.Provider)
	if err != nil {
		return nil, annotate(err, name, string(state.Stage))
	}

	d := dispatch.New(channel, c.historyStore(state), c.logger, c.dispatchOpts)
	result, err := d.Run(ctx, dispatch.Instruction{Name: name, Target: target, Params: params})
	if err != nil {
		return nil, annotate(err, name, string(state.Stage))
	}
	return result, nil
}

// checkClean rejects mutating operations on a dirty project.
func (c *Controller) checkClean(state *project.State, operation string) error {
	if state.Dirty {
		return stageError(operation, state.Stage,
			"project is dirty after an interrupted operation; run 'nbd recover' first")
	}
	return nil
}

// record appends a command's output to history and applies retention.
// History failures are logged, not propagated.
func (c *Controller) record(hist *history.Store, kind string, started time.Time, exitCode int, rawOutput string) {
	var lines []string
	if rawOutput != "" {
		lines = strings.Split(strings.TrimRight(rawOutput, "\n"), "\n")
	}
	if _, err := hist.Append(kind, history.Entry{
		StartedAt: started,
		EndedAt:   time.Now().UTC(),
		ExitCode:  exitCode,
		Output:    lines,
	}); err != nil {
		c.logger.WithError(err).Warnf("cannot record %s history entry", kind)
		return
	}
	if _, err := hist.Prune(kind, history.DefaultKeep); err != nil {
		c.logger.WithError(err).Warnf("cannot prune %s history", kind)
	}
}

// mergeVariables records overrides and fills unset defaults from the schema.
func mergeVariables(state *project.State, manifest *project.Manifest, overrides map[string]string) {
	for name, value := range overrides {
		def, _ := manifest.Variable(name)
		state.Variables[name] = project.VariableValue{
			Value:     value,
			Sensitive: def.Sensitive,
		}
	}
	for _, def := range manifest.Variables {
		if _, set := state.Variables[def.Name]; set || def.Default == nil {
			continue
		}
		state.Variables[def.Name] = project.VariableValue{
			Value:       *def.Default,
			Sensitive:   def.Sensitive,
			FromDefault: true,
		}
	}
}

func flattenVariables(state *project.State) map[string]string {
	vars := make(map[string]string, len(state.Variables))
	for name, v := range state.Variables {
		vars[name] = v.Value
	}
	return vars
}

func stageError(operation string, stage engine.Stage, msg string) error {
	return deployerr.NewValidation(msg, nil).
		WithOperation(operation).WithStage(string(stage))
}

// annotate attaches operation and stage context to classified errors without
// disturbing their class.
func annotate(err error, operation, stage string) error {
	var e *deployerr.Error
	if errors.As(err, &e) {
		if e.Operation == "" {
			e.Operation = operation
		}
		if e.Stage == "" && stage != "" {
			e.Stage = stage
		}
		return err
	}
	return fmt.Errorf("%s: %w", operation, err)
}
