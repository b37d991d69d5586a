package handlers

import (
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"

	qferrors "github.com/drblury/queueflow/internal/runtime/errors"
)

// Registry maps event names to ordered handler lists. It is built once at
// startup, sealed, and then only read.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	sealed   bool
}

// NewRegistry creates an empty, unsealed registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string][]Handler)}
}

// Register appends handlers for name in the given order.
func (r *Registry) Register(name string, handlers ...Handler) error {
	if strings.TrimSpace(name) == "" {
		return qferrors.ErrEventNameRequired
	}
	if len(handlers) == 0 {
		return fmt.Errorf("register %s: %w", name, qferrors.ErrHandlerRequired)
	}
	for _, h := range handlers {
		if h == nil {
			return fmt.Errorf("register %s: %w", name, qferrors.ErrHandlerRequired)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return fmt.Errorf("register %s: %w", name, qferrors.ErrRegistrySealed)
	}
	r.handlers[name] = append(r.handlers[name], handlers...)
	return nil
}

// RegisterFunc registers a single function handler.
func (r *Registry) RegisterFunc(name string, fn HandlerFunc) error {
	if fn == nil {
		return fmt.Errorf("register %s: %w", name, qferrors.ErrHandlerRequired)
	}
	return r.Register(name, fn)
}

// MustRegister panics on registration errors. Intended for startup wiring.
func (r *Registry) MustRegister(name string, handlers ...Handler) *Registry {
	if err := r.Register(name, handlers...); err != nil {
		panic(err)
	}
	return r
}

// Seal freezes the registry. Later registrations fail with ErrRegistrySealed.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

func (r *Registry) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}

// Resolve returns the handlers for name in registration order, or nil.
func (r *Registry) Resolve(name string) []Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	hs := r.handlers[name]
	if len(hs) == 0 {
		return nil
	}
	return slices.Clone(hs)
}

// Names lists every registered event name, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Describe maps every event name to its handler display names.
func (r *Registry) Describe() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string][]string, len(r.handlers))
	for name, hs := range r.handlers {
		names := make([]string, len(hs))
		for i, h := range hs {
			names[i] = NameOf(h)
		}
		out[name] = names
	}
	return out
}
