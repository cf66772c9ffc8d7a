package engine

import (
	"fmt"
)

// Stage is the position of a project in its init -> deploy -> destroy
// progression.
type Stage string

const (
	// StageUninitialized means no project state exists on disk.
	StageUninitialized Stage = "uninitialized"

	// StageInitialized means the project directory holds a template and
	// initial state, but no engine configuration has been validated.
	StageInitialized Stage = "initialized"

	// StageConfigured means the variable set has been validated against
	// the template schema and the engine's plan/validate step succeeded.
	StageConfigured Stage = "configured"

	// StageApplying is the transient stage while the engine mutates
	// infrastructure. A crash here leaves the project dirty.
	StageApplying Stage = "applying"

	// StageDeployed means the engine apply succeeded and outputs were
	// captured.
	StageDeployed Stage = "deployed"

	// StageStarting is the transient stage while the remote application
	// is being started.
	StageStarting Stage = "starting"

	// StageStopping is the transient stage while the remote application
	// is being stopped.
	StageStopping Stage = "stopping"

	// StageDestroying is the transient stage while the engine tears down
	// infrastructure. A crash here leaves the project dirty.
	StageDestroying Stage = "destroying"

	// StageDestroyed means the infrastructure has been torn down.
	StageDestroyed Stage = "destroyed"
)

// transitions declares the legal forward edges of the stage machine. A
// transition is legal only from its declared predecessor stage(s).
var transitions = map[Stage][]Stage{
	StageUninitialized: {StageInitialized},
	StageInitialized:   {StageConfigured},
	StageConfigured:    {StageConfigured, StageApplying},
	StageApplying:      {StageDeployed, StageConfigured},
	StageDeployed:      {StageStarting, StageStopping, StageDestroying},
	StageStarting:      {StageDeployed},
	StageStopping:      {StageDeployed},
	StageDestroying:    {StageDestroyed, StageDeployed},
	StageDestroyed:     {},
}

// CanTransition reports whether moving from s to next is a legal edge of the
// stage machine.
func (s Stage) CanTransition(next Stage) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Transient reports whether s is a transient stage. A process crash during a
// transient stage leaves the project marked dirty and requires an explicit
// recover command.
func (s Stage) Transient() bool {
	switch s {
	case StageApplying, StageDestroying, StageStarting, StageStopping:
		return true
	}
	return false
}

// RecoveryTarget returns the stage an explicitly recovered project falls back
// to from a dirty transient stage. Recovery never resumes the interrupted
// operation.
func (s Stage) RecoveryTarget() (Stage, error) {
	switch s {
	case StageApplying:
		return StageConfigured, nil
	case StageDestroying, StageStarting, StageStopping:
		return StageDeployed, nil
	}
	return "", fmt.Errorf("stage %q is not recoverable", s)
}

// ParseStage converts a persisted stage string back to a Stage.
func ParseStage(s string) (Stage, error) {
	stage := Stage(s)
	if _, ok := transitions[stage]; !ok {
		return "", fmt.Errorf("unknown lifecycle stage %q", s)
	}
	return stage, nil
}

// String implements fmt.Stringer.
func (s Stage) String() string {
	return string(s)
}
