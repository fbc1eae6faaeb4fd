package pool

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/bindless/memutils"
	"golang.org/x/exp/slog"
)

type slotState struct {
	refCount   uint32
	generation uint32
}

// Pool is fixed-capacity, reference-counted storage for objects of type T. Objects are addressed by
// generational Handle values: each time an object is released for the last time, the generation of its
// storage index is incremented, so handles to the released object no longer resolve.
//
// Released indices are reused most-recently-released first. When the most recently grown index is released,
// the high-water mark shrinks instead of the free list growing.
//
// Pool is not safe for concurrent use.
type Pool[T any, PT interface {
	*T
	Finalizer
}] struct {
	logger *slog.Logger
	name   string

	data              []T
	slots             []slotState
	freeList          []uint32
	allocationCounter uint32
}

// New creates a Pool that can hold up to capacity live objects. The name is used when reporting errors
// and unreleased objects.
func New[T any, PT interface {
	*T
	Finalizer
}](logger *slog.Logger, name string, capacity int) *Pool[T, PT] {
	if capacity < 0 {
		panic(fmt.Sprintf("pool %s: capacity must not be negative", name))
	}

	return &Pool[T, PT]{
		logger:   logger,
		name:     name,
		data:     make([]T, capacity),
		slots:    make([]slotState, capacity),
		freeList: make([]uint32, 0, capacity),
	}
}

// CreateHandle reserves storage for a new object, resets it to T's zero value and returns a handle with a
// reference count of 1. It fails with memutils.ErrCapacityExhausted when the pool is full.
func (p *Pool[T, PT]) CreateHandle() (Handle[T], error) {
	p.logger.Debug("Pool::CreateHandle", slog.String("pool", p.name))

	var index uint32
	if len(p.freeList) > 0 {
		index = p.freeList[len(p.freeList)-1]
		p.freeList = p.freeList[:len(p.freeList)-1]
	} else if int(p.allocationCounter) < len(p.data) {
		index = p.allocationCounter
		p.allocationCounter++
	} else {
		return Handle[T]{}, errors.Wrapf(memutils.ErrCapacityExhausted, "pool %s is full at capacity %d", p.name, len(p.data))
	}

	var zero T
	p.data[index] = zero
	p.slots[index].refCount = 1

	return Handle[T]{index: index, generation: p.slots[index].generation}, nil
}

func (p *Pool[T, PT]) isLive(handle Handle[T]) bool {
	if int(handle.index) >= len(p.slots) {
		return false
	}

	slot := p.slots[handle.index]
	return slot.refCount > 0 && slot.generation == handle.generation
}

// Get returns the object referred to by handle. It returns false if the handle is stale or did not come
// from this pool.
func (p *Pool[T, PT]) Get(handle Handle[T]) (*T, bool) {
	if !p.isLive(handle) {
		return nil, false
	}

	return &p.data[handle.index], true
}

// IsLive returns true if the handle still resolves
func (p *Pool[T, PT]) IsLive(handle Handle[T]) bool {
	return p.isLive(handle)
}

// Retain adds a reference to a live object. Retaining a handle that no longer resolves panics.
func (p *Pool[T, PT]) Retain(handle Handle[T]) {
	if !p.isLive(handle) {
		panic(fmt.Sprintf("pool %s: attempted to retain handle %s, which is not live", p.name, handle))
	}

	p.slots[handle.index].refCount++
}

// Release removes a reference from a live object. If it was the last reference, the object is finalized,
// the generation of its index is incremented and the index is made available for reuse, and Release
// returns true.
//
// Releasing a handle that no longer resolves panics: it means some holder released more references than
// it retained.
func (p *Pool[T, PT]) Release(handle Handle[T]) bool {
	if !p.isLive(handle) {
		panic(fmt.Sprintf("pool %s: attempted to release handle %s, which has no outstanding references", p.name, handle))
	}

	slot := &p.slots[handle.index]
	slot.refCount--
	if slot.refCount > 0 {
		return false
	}

	p.logger.Debug("Pool::Release", slog.String("pool", p.name), slog.Any("handle", handle))

	PT(&p.data[handle.index]).Finalize()

	var zero T
	p.data[handle.index] = zero
	slot.generation++

	if handle.index+1 == p.allocationCounter {
		p.allocationCounter--
	} else {
		p.freeList = append(p.freeList, handle.index)
	}

	return true
}

// RefCount returns the number of outstanding references to the handle's object, or 0 if it is not live
func (p *Pool[T, PT]) RefCount(handle Handle[T]) uint32 {
	if !p.isLive(handle) {
		return 0
	}

	return p.slots[handle.index].refCount
}

// Each calls the callback for every live object in index order, until the callback returns false
func (p *Pool[T, PT]) Each(callback func(handle Handle[T], object *T) bool) {
	for index := uint32(0); index < p.allocationCounter; index++ {
		slot := p.slots[index]
		if slot.refCount == 0 {
			continue
		}

		if !callback(Handle[T]{index: index, generation: slot.generation}, &p.data[index]) {
			return
		}
	}
}

func (p *Pool[T, PT]) Name() string { return p.name }

func (p *Pool[T, PT]) Capacity() int { return len(p.data) }

// UsedSlotCount returns the number of live objects
func (p *Pool[T, PT]) UsedSlotCount() int {
	return int(p.allocationCounter) - len(p.freeList)
}

// FreeSlotCount returns the number of objects that could still be created
func (p *Pool[T, PT]) FreeSlotCount() int {
	return len(p.data) - p.UsedSlotCount()
}

func (p *Pool[T, PT]) FreeListLen() int { return len(p.freeList) }

func (p *Pool[T, PT]) HighWaterMark() int { return int(p.allocationCounter) }

// AddSlotStatistics sums this pool's occupancy into the provided statistics
func (p *Pool[T, PT]) AddSlotStatistics(stats *memutils.SlotStatistics) {
	stats.Capacity += len(p.data)
	stats.UsedSlots += p.UsedSlotCount()
	stats.FreeListSlots += len(p.freeList)
	stats.HighWaterMark += int(p.allocationCounter)
}

// ReportUnreleased logs every live object at error level and returns the number found
func (p *Pool[T, PT]) ReportUnreleased() int {
	count := 0
	p.Each(func(handle Handle[T], object *T) bool {
		count++
		p.logger.LogAttrs(context.Background(), slog.LevelError, "[UNRELEASED HANDLE] live object in pool",
			slog.String("pool", p.name),
			slog.Int("index", int(handle.index)),
			slog.Int("generation", int(handle.generation)),
			slog.Int("refCount", int(p.slots[handle.index].refCount)),
		)
		return true
	})

	return count
}
