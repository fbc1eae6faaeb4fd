package pool

import "fmt"

// Handle identifies an object stored in a Pool. A handle is only meaningful to the pool that produced it,
// and stops resolving once the object it refers to has been released, even if the storage is reused.
//
// The zero Handle is not a null handle: it refers to index 0, generation 0 and will resolve if that
// object is live.
type Handle[T any] struct {
	index      uint32
	generation uint32
}

// Index is the storage index within the pool
func (h Handle[T]) Index() uint32 { return h.index }

// Generation is the generation of the storage index at the time the handle was created
func (h Handle[T]) Generation() uint32 { return h.generation }

func (h Handle[T]) String() string {
	return fmt.Sprintf("{index: %d, generation: %d}", h.index, h.generation)
}
