package indices

import (
	"github.com/bits-and-blooms/bitset"
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/bindless/internal/utils"
	"github.com/vkngwrapper/bindless/memutils"
)

// IndexAllocator hands out unique integers in [0, capacity) and accepts them back for reuse. Freed
// indices are reused most-recently-freed first. When the most recently grown index is freed, the
// high-water mark shrinks instead of the free list growing.
//
// All operations take an internal mutex unless the allocator was created without one, so a single
// IndexAllocator may be shared between the main thread and background loading work.
type IndexAllocator struct {
	mutex     utils.OptionalMutex
	capacity  int
	nextIndex uint32
	freeList  []uint32
	live      *bitset.BitSet
}

// NewIndexAllocator creates an IndexAllocator covering [0, capacity). If useMutex is false, the caller
// is responsible for serializing all calls.
func NewIndexAllocator(capacity int, useMutex bool) *IndexAllocator {
	if capacity < 0 {
		panic("index allocator capacity must not be negative")
	}

	return &IndexAllocator{
		mutex:    utils.OptionalMutex{UseMutex: useMutex},
		capacity: capacity,
		freeList: make([]uint32, 0, capacity),
		live:     bitset.New(uint(capacity)),
	}
}

// Allocate returns an unused index. It fails with memutils.ErrCapacityExhausted when every index
// in [0, capacity) is live.
func (a *IndexAllocator) Allocate() (uint32, error) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	var index uint32
	if len(a.freeList) > 0 {
		index = a.freeList[len(a.freeList)-1]
		a.freeList = a.freeList[:len(a.freeList)-1]
	} else if int(a.nextIndex) < a.capacity {
		index = a.nextIndex
		a.nextIndex++
	} else {
		return 0, errors.Wrapf(memutils.ErrCapacityExhausted, "all %d indices are allocated", a.capacity)
	}

	a.live.Set(uint(index))
	return index, nil
}

// Deallocate returns an index for reuse. It fails with memutils.ErrInvalidIndex if the index is out of
// range or is not currently allocated.
func (a *IndexAllocator) Deallocate(index uint32) error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if int(index) >= a.capacity {
		return errors.Wrapf(memutils.ErrInvalidIndex, "index %d is outside of capacity %d", index, a.capacity)
	}
	if !a.live.Test(uint(index)) {
		return errors.Wrapf(memutils.ErrInvalidIndex, "index %d is not allocated", index)
	}
	a.live.Clear(uint(index))

	if index+1 == a.nextIndex {
		a.nextIndex--
		return nil
	}

	a.freeList = append(a.freeList, index)
	return nil
}

// IsAllocated returns true if the index is currently live
func (a *IndexAllocator) IsAllocated(index uint32) bool {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	return a.live.Test(uint(index))
}

func (a *IndexAllocator) Capacity() int {
	return a.capacity
}

// AllocatedCount returns the number of live indices
func (a *IndexAllocator) AllocatedCount() int {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	return int(a.nextIndex) - len(a.freeList)
}

func (a *IndexAllocator) FreeListLen() int {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	return len(a.freeList)
}

// HighWaterMark returns one past the highest index handed out since the mark last shrank
func (a *IndexAllocator) HighWaterMark() int {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	return int(a.nextIndex)
}

// AddSlotStatistics sums this allocator's occupancy into the provided statistics
func (a *IndexAllocator) AddSlotStatistics(stats *memutils.SlotStatistics) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	stats.Capacity += a.capacity
	stats.UsedSlots += int(a.nextIndex) - len(a.freeList)
	stats.FreeListSlots += len(a.freeList)
	stats.HighWaterMark += int(a.nextIndex)
}
