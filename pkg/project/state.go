// Package project owns the durable on-disk record of one deployment: the
// state file tracking the lifecycle stage, variables, and infrastructure
// outputs, the advisory lock guarding mutating commands, and the project
// manifest declaring the template's variable schema.
//
// All project metadata lives under <project>/.nbdeploy/: state.yaml, lock,
// and the history/ directory managed by pkg/history.
package project

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/nbdeploy/nbdeploy/pkg/deployerr"
	"github.com/nbdeploy/nbdeploy/pkg/engine"
)

const (
	// MetaDirName is the project metadata directory.
	MetaDirName = ".nbdeploy"

	stateFileName = "state.yaml"
)

// ErrNotInitialized is wrapped into the error returned by Load when the
// project directory has no state file.
var ErrNotInitialized = errors.New("project not initialized")

// VariableValue is one recorded variable assignment.
type VariableValue struct {
	// Value is the assigned value in its string form.
	Value string `yaml:"value"`

	// Sensitive marks values that must never be written to plaintext
	// history.
	Sensitive bool `yaml:"sensitive,omitempty"`

	// FromDefault marks values taken from the template's declared
	// default rather than set by the operator.
	FromDefault bool `yaml:"from_default,omitempty"`
}

// State is the durable record of a project.
type State struct {
	// ID uniquely identifies the project.
	ID string `yaml:"id"`

	// Template is the selected template reference.
	Template engine.TemplateRef `yaml:"template"`

	// Stage is the current lifecycle stage.
	Stage engine.Stage `yaml:"stage"`

	// Dirty marks a project whose last transient stage did not complete.
	// A dirty project requires an explicit recover (or forced destroy).
	Dirty bool `yaml:"dirty,omitempty"`

	// Variables are the recorded variable assignments.
	Variables map[string]VariableValue `yaml:"variables,omitempty"`

	// Outputs are the last-known infrastructure outputs.
	Outputs map[string]string `yaml:"outputs,omitempty"`

	CreatedAt time.Time `yaml:"created_at"`
	UpdatedAt time.Time `yaml:"updated_at"`
}

// SensitiveValues returns the values of all sensitive variables, for history
// redaction.
func (s *State) SensitiveValues() []string {
	var vals []string
	for _, v := range s.Variables {
		if v.Sensitive && v.Value != "" {
			vals = append(vals, v.Value)
		}
	}
	return vals
}

// Output returns the named infrastructure output.
func (s *State) Output(name string) (string, error) {
	v, ok := s.Outputs[name]
	if !ok {
		return "", deployerr.NewValidation(fmt.Sprintf("output %q not found", name), nil)
	}
	return v, nil
}

// Store reads and writes project state for one project directory.
type Store struct {
	dir string
}

// NewStore creates a store rooted at the project directory.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the project directory.
func (s *Store) Dir() string {
	return s.dir
}

// MetaDir returns the metadata directory path.
func (s *Store) MetaDir() string {
	return filepath.Join(s.dir, MetaDirName)
}

func (s *Store) statePath() string {
	return filepath.Join(s.MetaDir(), stateFileName)
}

// Initialized reports whether the directory already holds project state.
func (s *Store) Initialized() bool {
	_, err := os.Stat(s.statePath())
	return err == nil
}

// Init writes the initial state for a fresh project directory. It fails when
// the directory is already initialized.
func (s *Store) Init(ref engine.TemplateRef) (*State, error) {
	if s.Initialized() {
		return nil, deployerr.NewValidation(
			fmt.Sprintf("directory %s already holds an initialized project", s.dir), nil)
	}
	if err := os.MkdirAll(s.MetaDir(), 0o700); err != nil {
		return nil, deployerr.NewStateCorruption("cannot create project metadata directory", err)
	}

	now := time.Now().UTC()
	state := &State{
		ID:        uuid.NewString(),
		Template:  ref,
		Stage:     engine.StageInitialized,
		Variables: make(map[string]VariableValue),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.Save(state); err != nil {
		return nil, err
	}
	return state, nil
}

// Load reads the project state. A missing state file yields a validation
// error wrapping ErrNotInitialized; an unreadable or inconsistent file yields
// a state-corruption error that is never auto-repaired.
func (s *Store) Load() (*State, error) {
	raw, err := os.ReadFile(s.statePath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, deployerr.NewValidation(
				fmt.Sprintf("no project found in %s (run 'nbd init' first)", s.dir), ErrNotInitialized)
		}
		return nil, deployerr.NewStateCorruption("cannot read project state file", err)
	}

	var state State
	if err := yaml.Unmarshal(raw, &state); err != nil {
		return nil, deployerr.NewStateCorruption("project state file is not valid YAML", err)
	}
	if _, err := engine.ParseStage(string(state.Stage)); err != nil {
		return nil, deployerr.NewStateCorruption("project state file is inconsistent", err)
	}
	if state.ID == "" {
		return nil, deployerr.NewStateCorruption("project state file is inconsistent",
			errors.New("missing project id"))
	}
	if state.Variables == nil {
		state.Variables = make(map[string]VariableValue)
	}
	return &state, nil
}

// Save atomically persists the state: write to a temp file in the metadata
// directory, then rename over the state file so an interrupted write never
// leaves a partial file behind.
func (s *Store) Save(state *State) error {
	state.UpdatedAt = time.Now().UTC()

	raw, err := yaml.Marshal(state)
	if err != nil {
		return deployerr.NewStateCorruption("cannot serialize project state", err)
	}

	tmp, err := os.CreateTemp(s.MetaDir(), stateFileName+".tmp-*")
	if err != nil {
		return deployerr.NewStateCorruption("cannot create temporary state file", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return deployerr.NewStateCorruption("cannot write temporary state file", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return deployerr.NewStateCorruption("cannot set state file permissions", err)
	}
	if err := tmp.Close(); err != nil {
		return deployerr.NewStateCorruption("cannot finalize temporary state file", err)
	}
	if err := os.Rename(tmpPath, s.statePath()); err != nil {
		return deployerr.NewStateCorruption("cannot replace project state file", err)
	}
	return nil
}

// IsEmptyDir reports whether path is an existing, empty directory.
func IsEmptyDir(path string) (bool, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return false, err
	}
	return len(entries) == 0, nil
}
