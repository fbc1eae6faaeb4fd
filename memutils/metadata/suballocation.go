package metadata

import "math"

// BlockAllocationHandle identifies a single live suballocation within a BlockMetadata
type BlockAllocationHandle uint64

const (
	NoAllocation BlockAllocationHandle = math.MaxUint64
)

// Suballocation describes a region of a block that has been, or is about to be, handed out
type Suballocation struct {
	Offset   int
	Size     int
	UserData any
}
