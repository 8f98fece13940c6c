// Package backend defines the polymorphic storage vtable and the
// name-keyed registry that backend implementations self-register into at
// process start. It generalizes a type-keyed object-storage factory
// (local vs. remote) into an open registry that admits backends the
// core never ships.
package backend

import (
	"github.com/tensorgraph/engine/internal/layout"
	"github.com/tensorgraph/engine/pkg/errors"
)

// Handle is the opaque backend-specific state behind a Storage. Each
// backend defines its own concrete type and type-asserts it back out of
// this interface; the engine never inspects it.
type Handle interface {
	// Layout returns the handle's current shape/stride metadata.
	Layout() layout.Layout
}

// LayoutSetter is implemented by handles whose layout may be rewritten
// in place to produce a view (transpose, reshape, broadcast) over the
// same underlying buffer a ShallowCopy aliased.
type LayoutSetter interface {
	SetLayout(l layout.Layout)
}

// Descriptor is the vtable a backend implementation registers. It is
// immutable once registered: backends are expected to be stateless
// singletons, so descriptors are static for the life of the process.
type Descriptor interface {
	// Name returns the backend's unique registry key.
	Name() string

	// Init allocates a fresh handle with the given layout, zero-filled.
	Init(l layout.Layout) (Handle, error)

	// Fill overwrites every logical element of h with v.
	Fill(h Handle, v float32) error

	// FillRand overwrites every logical element of h with a value drawn
	// from a standard uniform distribution.
	FillRand(h Handle) error

	// Axpy computes r <- alpha*x + y, broadcasting x and y against r's
	// shape. r must already be allocated with the broadcast output shape.
	Axpy(alpha float32, x, y, r Handle) error

	// Gemm computes c <- alpha*a*b + beta*c, batched over leading axes.
	// c must already be allocated with the output shape.
	Gemm(alpha float32, a, b Handle, beta float32, c Handle) error

	// Get reads a single logical element addressed by flat offset.
	Get(h Handle, flatIndex int) (float32, error)

	// Set writes a single logical element addressed by flat offset.
	Set(h Handle, flatIndex int, v float32) error

	// ShallowCopy returns a new handle aliasing h's underlying buffer
	// with h's current layout.
	ShallowCopy(h Handle) (Handle, error)

	// ContiguousCopy returns a new handle with a freshly allocated,
	// contiguous buffer holding a copy of h's logical elements.
	ContiguousCopy(h Handle) (Handle, error)

	// Free releases the buffer h points at. The storage layer calls it
	// through the last remaining member of a bucket, which may be an
	// alias of the root rather than the root itself.
	Free(h Handle) error
}

var registry = map[string]Descriptor{}

// Register adds a backend descriptor under its own name. Registration is
// expected to complete before the first storage is created and is not
// safe for concurrent use; the registry is built up once at startup via
// package init() calls, not mutated afterward.
func Register(d Descriptor) {
	registry[d.Name()] = d
}

// Get looks up a registered backend by name.
func Get(name string) (Descriptor, error) {
	d, ok := registry[name]
	if !ok {
		return nil, errors.Wrap(errors.CodeBackendNotFound, "backend not registered", errors.Newf(errors.CodeBackendNotFound, "backend %q", name))
	}
	return d, nil
}

// Names returns every currently registered backend name.
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	return names
}

// Reset removes every registered backend. Descriptors are static values
// so nothing needs freeing; this exists for test isolation and process
// teardown.
func Reset() {
	registry = map[string]Descriptor{}
}
