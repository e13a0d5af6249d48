// Package plugins resolves backend protocol names to the factories that
// build their handler implementations, and tracks the lifetime of each
// resolved binding.
package plugins

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/abhi7860/guacamole-server/internal/session"
)

var (
	ErrNotFound        = errors.New("plugins: protocol not registered")
	ErrNilFactory      = errors.New("plugins: nil backend factory")
	ErrDuplicate       = errors.New("plugins: protocol already registered")
	ErrInvalidProtocol = errors.New("plugins: invalid protocol name")
)

// Factory builds a fresh backend instance for one session.
type Factory func() session.Backend

// Registry stores backend factories by protocol name.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	active    map[string]int
}

func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		active:    make(map[string]int),
	}
}

// Register adds a backend factory under a protocol name.
func (r *Registry) Register(protocol string, f Factory) error {
	name := strings.TrimSpace(protocol)
	if name == "" {
		return fmt.Errorf("%w: %q", ErrInvalidProtocol, protocol)
	}
	if f == nil {
		return ErrNilFactory
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, name)
	}
	r.factories[name] = f
	return nil
}

// Protocols returns the registered protocol names, sorted.
func (r *Registry) Protocols() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for name := range r.factories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Active returns how many unreleased bindings exist for a protocol.
func (r *Registry) Active(protocol string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active[protocol]
}

// Resolve pins the factory for a protocol name into a Binding. Resolution
// happens once per connection, after the handshake names the protocol; the
// binding never changes for the life of its session.
func (r *Registry) Resolve(protocol string) (*Binding, error) {
	name := strings.TrimSpace(protocol)
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, protocol)
	}
	r.active[name]++
	return &Binding{registry: r, protocol: name, factory: f}, nil
}

// Binding is one session's hold on a resolved backend factory. Release must
// run strictly after the backend's free handler; the session runtime
// enforces that by composition (Session.Close runs inside Session.Run,
// before the owner releases the binding).
type Binding struct {
	registry *Registry
	protocol string
	factory  Factory
	released atomic.Bool
}

func (b *Binding) Protocol() string {
	return b.protocol
}

// New builds a fresh backend instance.
func (b *Binding) New() session.Backend {
	return b.factory()
}

// Release returns the binding to the registry. Idempotent.
func (b *Binding) Release() {
	if !b.released.CompareAndSwap(false, true) {
		return
	}
	b.registry.mu.Lock()
	defer b.registry.mu.Unlock()
	if b.registry.active[b.protocol] > 0 {
		b.registry.active[b.protocol]--
	}
}

// Released reports whether Release has run.
func (b *Binding) Released() bool {
	return b.released.Load()
}
