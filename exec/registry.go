package exec

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Definition is a typed handler definition.
// T is the input type, R the result type; both must be JSON-serializable
// because inputs and results live on the run record.
type Definition[T, R any] struct {
	// Name is the unique identifier for this handler.
	Name string

	// Version tags this definition. Runs are stamped with the version
	// they started on and replay against it, so deployed changes to a
	// handler's step sequence go in a new version. Zero means 1.
	Version int

	// Handler is the function that executes the run logic. It receives
	// an *Execution which provides the Do, Step, Sleep, and
	// ReportProgress primitives.
	Handler func(ex *Execution, input T) (R, error)
}

// NewHandler creates a typed handler definition at version 1.
func NewHandler[T, R any](name string, handler func(ex *Execution, input T) (R, error)) *Definition[T, R] {
	return &Definition[T, R]{
		Name:    name,
		Handler: handler,
	}
}

// RunnerFunc is a type-erased handler that accepts raw JSON input and
// returns raw JSON output. The typed Definition is converted to a
// RunnerFunc at registration time by closing over JSON codec calls and
// the typed handler.
type RunnerFunc func(ex *Execution, input []byte) ([]byte, error)

// versionedRunner holds a runner tagged with its version number.
type versionedRunner struct {
	version int
	runner  RunnerFunc
}

// Registry maps handler names to versioned runner functions. Multiple
// versions of the same handler can be registered; the latest version is
// used for new runs while in-flight runs stay on their stamped version.
// It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	versions map[string][]versionedRunner // name → list of versioned runners
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{
		versions: make(map[string][]versionedRunner),
	}
}

// RegisterDefinition registers a typed handler definition. The generic
// handler is wrapped in a closure that JSON-decodes the input into T
// before calling the typed handler and JSON-encodes the R result after.
//
// If Version is 0 (default), it is treated as version 1. Registering
// the same name and version again replaces the previous runner.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func RegisterDefinition[T, R any](r *Registry, def *Definition[T, R]) {
	version := def.Version
	if version <= 0 {
		version = 1
	}

	runner := func(ex *Execution, input []byte) ([]byte, error) {
		var t T
		if len(input) > 0 {
			if err := json.Unmarshal(input, &t); err != nil {
				return nil, fmt.Errorf("unmarshal input for handler %q: %w", def.Name, err)
			}
		}
		result, err := def.Handler(ex, t)
		if err != nil {
			return nil, err
		}
		out, err := json.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("marshal output for handler %q: %w", def.Name, err)
		}
		return out, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	vr := versionedRunner{version: version, runner: runner}
	existing := r.versions[def.Name]

	// Replace if same version already registered, else append.
	replaced := false
	for i, v := range existing {
		if v.version == version {
			existing[i] = vr
			replaced = true
			break
		}
	}
	if !replaced {
		existing = append(existing, vr)
	}
	r.versions[def.Name] = existing
}

// Get returns the latest-version runner for the given handler name.
// Returns false if no runner is registered.
func (r *Registry) Get(name string) (RunnerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	versions := r.versions[name]
	if len(versions) == 0 {
		return nil, false
	}
	// Find the highest version.
	best := versions[0]
	for _, v := range versions[1:] {
		if v.version > best.version {
			best = v
		}
	}
	return best.runner, true
}

// GetVersion returns the runner for a specific version of a handler.
// If version <= 0, behaves like Get (returns latest).
func (r *Registry) GetVersion(name string, version int) (RunnerFunc, bool) {
	if version <= 0 {
		return r.Get(name)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, v := range r.versions[name] {
		if v.version == version {
			return v.runner, true
		}
	}
	return nil, false
}

// LatestVersion returns the highest registered version number for a
// handler. Returns 0 if the handler is not registered.
func (r *Registry) LatestVersion(name string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	best := 0
	for _, v := range r.versions[name] {
		if v.version > best {
			best = v.version
		}
	}
	return best
}

// Names returns all registered handler names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.versions))
	for name := range r.versions {
		names = append(names, name)
	}
	return names
}
