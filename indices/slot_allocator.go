package indices

import (
	"github.com/bits-and-blooms/bitset"
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/bindless/memutils"
)

// SlotAllocator tracks occupancy of a fixed number of slots. Reserve always hands out the lowest
// free slot. It performs no locking and Free performs no validation.
type SlotAllocator struct {
	count    int
	occupied *bitset.BitSet
}

func NewSlotAllocator(count int) *SlotAllocator {
	if count < 0 {
		panic("slot allocator count must not be negative")
	}

	return &SlotAllocator{
		count:    count,
		occupied: bitset.New(uint(count)),
	}
}

// Reserve marks the lowest free slot occupied and returns it. It fails with memutils.ErrCapacityExhausted
// if all slots are occupied.
func (a *SlotAllocator) Reserve() (uint32, error) {
	index, found := a.occupied.NextClear(0)
	if !found || int(index) >= a.count {
		return 0, errors.Wrapf(memutils.ErrCapacityExhausted, "all %d slots are reserved", a.count)
	}

	a.occupied.Set(index)
	return uint32(index), nil
}

func (a *SlotAllocator) Free(index uint32) {
	a.occupied.Clear(uint(index))
}

func (a *SlotAllocator) IsReserved(index uint32) bool {
	return a.occupied.Test(uint(index))
}

func (a *SlotAllocator) Capacity() int {
	return a.count
}

func (a *SlotAllocator) ReservedCount() int {
	return int(a.occupied.Count())
}

// AddSlotStatistics sums this allocator's occupancy into the provided statistics
func (a *SlotAllocator) AddSlotStatistics(stats *memutils.SlotStatistics) {
	stats.Capacity += a.count
	reserved := int(a.occupied.Count())
	stats.UsedSlots += reserved

	highWaterMark := 0
	if reserved > 0 {
		for index, found := a.occupied.NextSet(0); found; index, found = a.occupied.NextSet(index + 1) {
			highWaterMark = int(index) + 1
		}
	}
	stats.HighWaterMark += highWaterMark
}
