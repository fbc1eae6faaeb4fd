package memutils

import "github.com/pkg/errors"

// PowerOfTwoError is the error returned from CheckPow2 or other methods if the number being tested is not a power of two
var PowerOfTwoError error = errors.New("number must be a power of two")

// ErrCapacityExhausted is returned when a fixed-capacity structure (a pool, a slot table, an index space)
// has no room for another entry
var ErrCapacityExhausted error = errors.New("capacity exhausted")

// ErrInvalidIndex is returned when an index or offset passed back to an allocator was never produced by it,
// is out of range, or is no longer live
var ErrInvalidIndex error = errors.New("invalid index")

// ErrOutOfSubAllocatorSpace is returned when a suballocation cannot be placed, whether because the block is full
// or because it is too fragmented to hold a region of the requested size
var ErrOutOfSubAllocatorSpace error = errors.New("out of suballocator space")
