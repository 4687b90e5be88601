package provider

import (
	"fmt"
	"sync"
)

// Builder constructs a Provider instance for a backend kind. Builders
// run at most once per kind until Reset is called.
type Builder func() (Provider, error)

// Factory hands out exactly one Provider instance per kind, so that
// provider-internal caches (notably the kling bearer-token cache) are
// shared by every caller in the process. It holds no package-level
// state; construct one at startup and pass it by reference.
type Factory struct {
	mu        sync.Mutex
	builders  map[Kind]Builder
	instances map[Kind]Provider
}

// NewFactory creates an empty Factory. Register builders or instances
// before requesting providers from it.
func NewFactory() *Factory {
	return &Factory{
		builders:  make(map[Kind]Builder),
		instances: make(map[Kind]Provider),
	}
}

// RegisterBuilder installs the constructor used to lazily build the
// provider for the given kind.
func (f *Factory) RegisterBuilder(kind Kind, build Builder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.builders[kind] = build
}

// Register installs an already-built provider instance for the given
// kind, replacing any cached one. Intended for tests injecting fakes.
func (f *Factory) Register(kind Kind, p Provider) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.instances[kind] = p
}

// Get returns the provider for the given kind, building it on first
// request and returning the same instance thereafter.
func (f *Factory) Get(kind Kind) (Provider, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if p, ok := f.instances[kind]; ok {
		return p, nil
	}

	build, ok := f.builders[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	p, err := build()
	if err != nil {
		return nil, fmt.Errorf("failed to build %q provider: %w", kind, err)
	}

	f.instances[kind] = p
	return p, nil
}

// Reset drops all cached instances so the next Get rebuilds them.
// Registered builders are kept. Intended for test isolation.
func (f *Factory) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.instances = make(map[Kind]Provider)
}

// Ensure Factory satisfies the Source interface the queue consumes.
var _ Source = (*Factory)(nil)
