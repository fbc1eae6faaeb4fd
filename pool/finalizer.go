package pool

// Finalizer is implemented by every type stored in a Pool. Finalize is called exactly once, when the
// last reference to the object is released, before the object's storage is made available for reuse.
type Finalizer interface {
	Finalize()
}

// NoFinalizer can be embedded in types that have nothing to clean up when they are released
type NoFinalizer struct{}

func (NoFinalizer) Finalize() {}
