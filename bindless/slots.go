package bindless

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/bindless/indices"
	"github.com/vkngwrapper/bindless/memutils"
)

type slotSource interface {
	Reserve() (uint32, error)
	Free(slot uint32) error
	AddSlotStatistics(stats *memutils.SlotStatistics)
}

type occupancySlots struct {
	*indices.SlotAllocator
}

func (s occupancySlots) Free(slot uint32) error {
	if !s.SlotAllocator.IsReserved(slot) {
		return errors.Wrapf(memutils.ErrInvalidIndex, "slot %d is not reserved", slot)
	}

	s.SlotAllocator.Free(slot)
	return nil
}

type concurrentSlots struct {
	*indices.IndexAllocator
}

func (s concurrentSlots) Reserve() (uint32, error) {
	return s.IndexAllocator.Allocate()
}

func (s concurrentSlots) Free(slot uint32) error {
	return s.IndexAllocator.Deallocate(slot)
}

func newSlotSource(count int, flags RegistryCreateFlags) slotSource {
	if flags&RegistryCreateConcurrentSlots != 0 {
		return concurrentSlots{indices.NewIndexAllocator(count, true)}
	}

	return occupancySlots{indices.NewSlotAllocator(count)}
}
