// Package profile keeps the model profiles the gateway can render prompts for.
package profile

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"kobold-gateway/internal/models"
)

// ErrUnknownModel indicates the requested profile is not registered.
var ErrUnknownModel = errors.New("unknown model")

// ErrDuplicateModel indicates an attempt to register the same profile twice.
var ErrDuplicateModel = errors.New("model already registered")

// Registry maps model names to profiles. When no profile is registered,
// lookups resolve to a fallback profile built from the process marker set.
type Registry struct {
	mu           sync.RWMutex
	profiles     map[string]models.Profile
	defaultModel string
	fallback     models.Profile
}

// NewRegistry constructs an empty registry. fallback is returned for the
// default lookup while no profile is registered.
func NewRegistry(defaultModel string, fallback models.Profile) *Registry {
	if fallback.Name == "" {
		fallback.Name = defaultModel
	}
	return &Registry{
		profiles:     make(map[string]models.Profile),
		defaultModel: defaultModel,
		fallback:     fallback,
	}
}

// Register adds p under its name.
func (r *Registry) Register(p models.Profile) error {
	name := strings.TrimSpace(p.Name)
	if name == "" {
		return errors.New("profile name must not be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.profiles[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateModel, name)
	}
	r.profiles[name] = p
	return nil
}

// Lookup returns the profile for name. An empty name selects the default
// model.
func (r *Registry) Lookup(name string) (models.Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if name == "" {
		name = r.defaultModel
		if p, ok := r.profiles[name]; ok {
			return p, nil
		}
		if len(r.profiles) == 0 {
			return r.fallback, nil
		}
		return models.Profile{}, fmt.Errorf("%w: default model %q", ErrUnknownModel, name)
	}

	if p, ok := r.profiles[name]; ok {
		return p, nil
	}
	if len(r.profiles) == 0 && name == r.fallback.Name {
		return r.fallback, nil
	}
	return models.Profile{}, fmt.Errorf("%w: %s", ErrUnknownModel, name)
}

// Names lists the registered profile names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.profiles))
	for name := range r.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultModel returns the name used for empty lookups.
func (r *Registry) DefaultModel() string {
	return r.defaultModel
}
