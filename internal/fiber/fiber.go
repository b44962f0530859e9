// Package fiber models the one capability the index's host scheduler
// contributes to this core: a cooperative yield point. spec.md §5 places
// the fiber scheduler itself out of scope ("the index runs on one
// execution context... that multiplexes with others via explicit yield
// points"); this package is the narrow seam the index calls through so
// that chunked teardown (§4.G Destroy, §5) can give other fibers in the
// host process a chance to run without the core depending on a particular
// scheduler implementation.
package fiber

import "runtime"

// Yielder gives up the current execution slot at a suspension point.
type Yielder interface {
	Yield()
}

// GoroutineYielder is the production Yielder: a thin wrapper over
// runtime.Gosched, suitable when the host multiplexes index operations
// across goroutines rather than a bespoke fiber runtime.
type GoroutineYielder struct{}

// Yield implements Yielder.
func (GoroutineYielder) Yield() {
	runtime.Gosched()
}

// NoopYielder never yields. Useful for tests that want Destroy to run to
// completion synchronously and deterministically.
type NoopYielder struct{}

// Yield implements Yielder.
func (NoopYielder) Yield() {}
