// Package registry maps backend kinds to concrete implementations. Factories
// are registered at startup by the CLI wiring; construction is deferred until
// a kind is first resolved, so an unselected backend never builds its clients
// or probes its runtime dependencies. Resolved backends are cached for the
// lifetime of the process.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/nbdeploy/nbdeploy/pkg/deployerr"
	"github.com/nbdeploy/nbdeploy/pkg/engine"
)

// EngineFactory constructs an infrastructure-as-code engine backend rooted at
// the project directory. It should fail when the backend's runtime dependency
// (binary, credentials) is unavailable.
type EngineFactory func(projectDir string) (engine.Engine, error)

// ChannelFactory constructs a provider control channel.
type ChannelFactory func() (engine.ControlChannel, error)

// Registry resolves backend kinds to cached instances.
type Registry struct {
	mu sync.Mutex

	engineFactories  map[string]EngineFactory
	channelFactories map[string]ChannelFactory

	// engines caches resolved engine backends per kind+projectDir.
	engines map[string]engine.Engine

	// channels caches resolved control channels per kind.
	channels map[string]engine.ControlChannel
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		engineFactories:  make(map[string]EngineFactory),
		channelFactories: make(map[string]ChannelFactory),
		engines:          make(map[string]engine.Engine),
		channels:         make(map[string]engine.ControlChannel),
	}
}

// RegisterEngine registers an engine backend factory under a kind.
func (r *Registry) RegisterEngine(kind string, factory EngineFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.engineFactories[kind] = factory
}

// RegisterChannel registers a control channel factory under a provider kind.
func (r *Registry) RegisterChannel(kind string, factory ChannelFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channelFactories[kind] = factory
}

// ResolveEngine returns the engine backend for the kind, constructing and
// caching it on first use. Unknown kinds yield a validation error listing the
// supported kinds; a factory failure yields a backend error so the CLI can
// report the missing optional dependency.
func (r *Registry) ResolveEngine(kind, projectDir string) (engine.Engine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cacheKey := kind + "\x00" + projectDir
	if eng, ok := r.engines[cacheKey]; ok {
		return eng, nil
	}

	factory, ok := r.engineFactories[kind]
	if !ok {
		return nil, deployerr.NewValidation(
			fmt.Sprintf("unsupported engine kind %q (supported: %v)", kind, keysOf(r.engineFactories)), nil)
	}

	eng, err := factory(projectDir)
	if err != nil {
		return nil, deployerr.NewBackend(fmt.Sprintf("engine backend %q is unavailable", kind), err)
	}

	r.engines[cacheKey] = eng
	return eng, nil
}

// ResolveChannel returns the control channel for the provider kind,
// constructing and caching it on first use.
func (r *Registry) ResolveChannel(kind string) (engine.ControlChannel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ch, ok := r.channels[kind]; ok {
		return ch, nil
	}

	factory, ok := r.channelFactories[kind]
	if !ok {
		return nil, deployerr.NewValidation(
			fmt.Sprintf("unsupported provider kind %q (supported: %v)", kind, keysOf(r.channelFactories)), nil)
	}

	ch, err := factory()
	if err != nil {
		return nil, deployerr.NewBackend(fmt.Sprintf("control channel %q is unavailable", kind), err)
	}

	r.channels[kind] = ch
	return ch, nil
}

// EngineKinds lists the registered engine kinds.
func (r *Registry) EngineKinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return keysOf(r.engineFactories)
}

// ChannelKinds lists the registered provider kinds.
func (r *Registry) ChannelKinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return keysOf(r.channelFactories)
}

func keysOf[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
