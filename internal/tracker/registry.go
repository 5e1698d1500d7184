package tracker

import (
	"fmt"
	"sort"
	"sync"
)

// RemoteFactory builds a Remote from its configuration.
type RemoteFactory func(cfg *RemoteConfig) (Remote, error)

// Registry manages registered remote integrations.
// Integrations register themselves at init time, and the registry
// provides access to them by name.
type Registry struct {
	mu      sync.RWMutex
	remotes map[string]RemoteFactory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{remotes: make(map[string]RemoteFactory)}
}

// globalRegistry is the default registry used by Register and Get.
var globalRegistry = NewRegistry()

// Register adds a remote factory to the global registry.
// This is typically called from integration init() functions.
// The name should be lowercase (e.g., "github", "jira").
func Register(name string, factory RemoteFactory) {
	globalRegistry.Register(name, factory)
}

// Get retrieves a remote factory from the global registry.
// Returns nil if no remote with that name is registered.
func Get(name string) RemoteFactory {
	return globalRegistry.Get(name)
}

// List returns the names of all registered remotes.
func List() []string {
	return globalRegistry.List()
}

// NewRemote creates a new instance of the named remote.
func NewRemote(name string, source ConfigSource) (Remote, error) {
	return globalRegistry.NewRemote(name, source)
}

// Register adds a remote factory to this registry.
func (r *Registry) Register(name string, factory RemoteFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.remotes[name] = factory
}

// Get retrieves a remote factory from this registry.
func (r *Registry) Get(name string) RemoteFactory {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.remotes[name]
}

// List returns the names of all registered remotes, sorted alphabetically.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.remotes))
	for name := range r.remotes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewRemote creates a new instance of the named remote, configured from
// keys under its name.
func (r *Registry) NewRemote(name string, source ConfigSource) (Remote, error) {
	factory := r.Get(name)
	if factory == nil {
		return nil, fmt.Errorf("unknown remote %q (available: %v)", name, r.List())
	}
	remote, err := factory(NewRemoteConfig(name, source))
	if err != nil {
		return nil, fmt.Errorf("configuring %s: %w", name, err)
	}
	if remote.Name() != name {
		return nil, fmt.Errorf("remote registered as %q reports name %q", name, remote.Name())
	}
	return remote, nil
}

// NewRemotes builds each named remote in order. The order is kept because it
// is the configuration order the engine applies writes in.
func (r *Registry) NewRemotes(names []string, source ConfigSource) ([]Remote, error) {
	seen := make(map[string]bool, len(names))
	out := make([]Remote, 0, len(names))
	for _, name := range names {
		if seen[name] {
			return nil, fmt.Errorf("remote %q listed twice", name)
		}
		seen[name] = true
		remote, err := r.NewRemote(name, source)
		if err != nil {
			return nil, err
		}
		out = append(out, remote)
	}
	return out, nil
}

// NewRemotes builds remotes from the global registry.
func NewRemotes(names []string, source ConfigSource) ([]Remote, error) {
	return globalRegistry.NewRemotes(names, source)
}

// IsRegistered checks if a remote with the given name is registered.
func (r *Registry) IsRegistered(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.remotes[name]
	return ok
}

// IsRegistered reports whether the global registry knows name.
func IsRegistered(name string) bool {
	return globalRegistry.IsRegistered(name)
}
