package memutils

import (
	"math"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
)

// Statistics sums the byte-level usage of one or more suballocated blocks
type Statistics struct {
	BlockCount      int
	AllocationCount int
	BlockBytes      int
	AllocationBytes int
}

func (s *Statistics) Clear() {
	s.BlockCount = 0
	s.AllocationCount = 0
	s.BlockBytes = 0
	s.AllocationBytes = 0
}

// DetailedStatistics extends Statistics with the size range of allocations and unused regions
type DetailedStatistics struct {
	Statistics
	UnusedRangeCount   int
	AllocationSizeMin  int
	AllocationSizeMax  int
	UnusedRangeSizeMin int
	UnusedRangeSizeMax int
}

func (s *DetailedStatistics) Clear() {
	s.Statistics.Clear()
	s.UnusedRangeCount = 0
	s.AllocationSizeMin = math.MaxInt
	s.AllocationSizeMax = 0
	s.UnusedRangeSizeMin = math.MaxInt
	s.UnusedRangeSizeMax = 0
}

func (s *DetailedStatistics) AddUnusedRange(size int) {
	s.UnusedRangeCount++

	if size < s.UnusedRangeSizeMin {
		s.UnusedRangeSizeMin = size
	}

	if size > s.UnusedRangeSizeMax {
		s.UnusedRangeSizeMax = size
	}
}

func (s *DetailedStatistics) AddAllocation(size int) {
	s.AllocationCount++
	s.AllocationBytes += size

	if size < s.AllocationSizeMin {
		s.AllocationSizeMin = size
	}

	if size > s.AllocationSizeMax {
		s.AllocationSizeMax = size
	}
}

// PrintJson writes the detailed statistics as fields of the provided json object
func (s *DetailedStatistics) PrintJson(json jwriter.ObjectState) {
	json.Name("BlockCount").Int(s.BlockCount)
	json.Name("BlockBytes").Int(s.BlockBytes)
	json.Name("AllocationCount").Int(s.AllocationCount)
	json.Name("AllocationBytes").Int(s.AllocationBytes)
	json.Name("UnusedRangeCount").Int(s.UnusedRangeCount)

	if s.AllocationCount > 1 {
		json.Name("AllocationSizeMin").Int(s.AllocationSizeMin)
		json.Name("AllocationSizeMax").Int(s.AllocationSizeMax)
	}

	if s.UnusedRangeCount > 1 {
		json.Name("UnusedRangeSizeMin").Int(s.UnusedRangeSizeMin)
		json.Name("UnusedRangeSizeMax").Int(s.UnusedRangeSizeMax)
	}
}

// SlotStatistics describes occupancy of a fixed-capacity slot structure, such as a handle pool or a bindless
// descriptor table
type SlotStatistics struct {
	Capacity      int
	UsedSlots     int
	FreeListSlots int
	HighWaterMark int
}

func (s *SlotStatistics) AddSlotStatistics(other *SlotStatistics) {
	s.Capacity += other.Capacity
	s.UsedSlots += other.UsedSlots
	s.FreeListSlots += other.FreeListSlots
	s.HighWaterMark += other.HighWaterMark
}

// PrintJson writes the slot statistics as fields of the provided json object
func (s *SlotStatistics) PrintJson(json jwriter.ObjectState) {
	json.Name("Capacity").Int(s.Capacity)
	json.Name("UsedSlots").Int(s.UsedSlots)
	json.Name("FreeListSlots").Int(s.FreeListSlots)
	json.Name("HighWaterMark").Int(s.HighWaterMark)
}
