package metadata

import (
	"fmt"

	"github.com/bits-and-blooms/bitset"
	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/bindless/memutils"
)

type buddyAllocation struct {
	level    int
	userData any
}

// BuddyBlockMetadata is a BlockMetadata implementation that carves a block into power-of-two
// sized regions. The block is treated as a binary tree whose leaves are minBlockSize bytes: allocations
// are rounded up to a power-of-two multiple of minBlockSize, larger free regions are split in half until
// the allocation fits exactly, and freed regions are merged with their free buddy all the way up the tree.
//
// Every allocation's offset is aligned to its own size. Allocation handles are the allocation's offset
// within the block, so freeing an offset that was never handed out, or freeing the same offset twice,
// is rejected with memutils.ErrInvalidIndex.
type BuddyBlockMetadata struct {
	BlockMetadataBase

	minBlockSize int
	levelCount   int

	// freeBlocks holds one bitset per tree level. A set bit marks an unsplit, unallocated region.
	freeBlocks  []*bitset.BitSet
	allocations *swiss.Map[BlockAllocationHandle, *buddyAllocation]

	allocationCount int
	freeCount       int
	sumFreeSize     int
}

var _ BlockMetadata = &BuddyBlockMetadata{}

// NewBuddyBlockMetadata creates an uninitialized BuddyBlockMetadata whose smallest region is minBlockSize
// bytes. minBlockSize must be a power of two.
func NewBuddyBlockMetadata(minBlockSize int) *BuddyBlockMetadata {
	memutils.DebugCheckPow2(minBlockSize, "minBlockSize")

	return &BuddyBlockMetadata{
		minBlockSize: minBlockSize,
	}
}

// Init prepares the tree for a block of size bytes. size must be a power-of-two multiple of the
// minimum block size.
func (m *BuddyBlockMetadata) Init(size int) {
	if size < m.minBlockSize || size%m.minBlockSize != 0 {
		panic(fmt.Sprintf("buddy block size %d is not a multiple of the minimum block size %d", size, m.minBlockSize))
	}

	blockCount := size / m.minBlockSize
	err := memutils.CheckPow2(blockCount, "blockCount")
	if err != nil {
		panic(err)
	}

	m.BlockMetadataBase.Init(size)
	m.levelCount = memutils.Log2(uint(blockCount)) + 1

	m.freeBlocks = make([]*bitset.BitSet, m.levelCount)
	for level := 0; level < m.levelCount; level++ {
		m.freeBlocks[level] = bitset.New(uint(1) << level)
	}
	m.Clear()
}

// MinBlockSize returns the size in bytes of the smallest region this metadata will hand out
func (m *BuddyBlockMetadata) MinBlockSize() int { return m.minBlockSize }

func (m *BuddyBlockMetadata) levelBlockSize(level int) int {
	return m.size >> level
}

// levelForSize returns the deepest tree level whose regions can hold allocSize bytes at the
// requested alignment, or -1 if the request is larger than the block
func (m *BuddyBlockMetadata) levelForSize(allocSize int, allocAlignment uint) int {
	blockSize := allocSize
	if blockSize < m.minBlockSize {
		blockSize = m.minBlockSize
	}
	if blockSize < int(allocAlignment) {
		blockSize = int(allocAlignment)
	}
	blockSize = int(memutils.NextPow2(uint(blockSize)))

	if blockSize > m.size {
		return -1
	}

	return memutils.Log2(uint(m.size / blockSize))
}

func (m *BuddyBlockMetadata) AllocationCount() int {
	return m.allocationCount
}

func (m *BuddyBlockMetadata) FreeRegionsCount() int {
	return m.freeCount
}

func (m *BuddyBlockMetadata) SumFreeSize() int {
	return m.sumFreeSize
}

func (m *BuddyBlockMetadata) IsEmpty() bool {
	return m.allocationCount == 0
}

// LargestFreeRegion returns the size in bytes of the largest region that could currently be
// allocated, or 0 if the block is full
func (m *BuddyBlockMetadata) LargestFreeRegion() int {
	for level := 0; level < m.levelCount; level++ {
		if m.freeBlocks[level].Any() {
			return m.levelBlockSize(level)
		}
	}

	return 0
}

func (m *BuddyBlockMetadata) MayHaveFreeBlock(size int) bool {
	targetLevel := m.levelForSize(size, 1)
	if targetLevel < 0 {
		return false
	}

	for level := targetLevel; level >= 0; level-- {
		if m.freeBlocks[level].Any() {
			return true
		}
	}

	return false
}

func (m *BuddyBlockMetadata) CreateAllocationRequest(allocSize int, allocAlignment uint) (bool, AllocationRequest, error) {
	var request AllocationRequest

	if allocSize < 1 {
		return false, request, errors.Newf("allocation size must be positive, but was %d", allocSize)
	}
	err := memutils.CheckPow2(allocAlignment, "allocAlignment")
	if err != nil {
		return false, request, err
	}

	targetLevel := m.levelForSize(allocSize, allocAlignment)
	if targetLevel < 0 {
		return false, request, nil
	}

	// Smallest free region that fits, lowest offset within that size
	for level := targetLevel; level >= 0; level-- {
		index, found := m.freeBlocks[level].NextSet(0)
		if !found {
			continue
		}

		offset := int(index) * m.levelBlockSize(level)

		request.Type = AllocationRequestBuddy
		request.Size = m.levelBlockSize(targetLevel)
		request.BlockAllocationHandle = BlockAllocationHandle(offset)
		request.Item = Suballocation{
			Offset: offset,
			Size:   request.Size,
		}
		request.AlgorithmData = uint64(level)<<32 | uint64(index)

		return true, request, nil
	}

	return false, request, nil
}

func (m *BuddyBlockMetadata) Alloc(request AllocationRequest, userData any) error {
	if request.Type != AllocationRequestBuddy {
		return errors.Newf("buddy metadata cannot commit an allocation request of type %s", request.Type)
	}
	if request.Size < m.minBlockSize || request.Size > m.size || memutils.CheckPow2(request.Size, "request size") != nil {
		return errors.Newf("allocation request has invalid size %d", request.Size)
	}

	level := int(request.AlgorithmData >> 32)
	index := uint(request.AlgorithmData & 0xFFFFFFFF)
	targetLevel := memutils.Log2(uint(m.size / request.Size))

	if level < 0 || level > targetLevel {
		return errors.Newf("allocation request refers to tree level %d, but the allocation needs level %d", level, targetLevel)
	}
	if !m.freeBlocks[level].Test(index) {
		return errors.Newf("region %d at tree level %d is no longer free", index, level)
	}

	offset := int(index) * m.levelBlockSize(level)
	if offset != request.Item.Offset || BlockAllocationHandle(offset) != request.BlockAllocationHandle {
		return errors.Newf("allocation request offset %d does not match its region offset %d", request.Item.Offset, offset)
	}

	m.freeBlocks[level].Clear(index)
	m.freeCount--

	// Split down to the target size, keeping the lower half each time
	for level < targetLevel {
		level++
		index <<= 1
		m.freeBlocks[level].Set(index + 1)
		m.freeCount++
	}

	m.allocations.Put(BlockAllocationHandle(offset), &buddyAllocation{
		level:    targetLevel,
		userData: userData,
	})
	m.allocationCount++
	m.sumFreeSize -= request.Size

	memutils.DebugValidate(m)
	return nil
}

func (m *BuddyBlockMetadata) Free(allocHandle BlockAllocationHandle) error {
	alloc, ok := m.allocations.Get(allocHandle)
	if !ok {
		return errors.Wrapf(memutils.ErrInvalidIndex, "offset %d is not a live allocation in this block", allocHandle)
	}
	m.allocations.Delete(allocHandle)

	level := alloc.level
	blockSize := m.levelBlockSize(level)
	index := uint(int(allocHandle) / blockSize)

	m.allocationCount--
	m.sumFreeSize += blockSize

	for level > 0 {
		buddy := index ^ 1
		if !m.freeBlocks[level].Test(buddy) {
			break
		}

		m.freeBlocks[level].Clear(buddy)
		m.freeCount--
		index >>= 1
		level--
	}

	m.freeBlocks[level].Set(index)
	m.freeCount++

	memutils.DebugValidate(m)
	return nil
}

func (m *BuddyBlockMetadata) getAllocation(allocHandle BlockAllocationHandle) (*buddyAllocation, error) {
	alloc, ok := m.allocations.Get(allocHandle)
	if !ok {
		return nil, errors.Wrapf(memutils.ErrInvalidIndex, "offset %d is not a live allocation in this block", allocHandle)
	}

	return alloc, nil
}

func (m *BuddyBlockMetadata) AllocationOffset(allocHandle BlockAllocationHandle) (int, error) {
	_, err := m.getAllocation(allocHandle)
	if err != nil {
		return 0, err
	}

	return int(allocHandle), nil
}

func (m *BuddyBlockMetadata) AllocationSize(allocHandle BlockAllocationHandle) (int, error) {
	alloc, err := m.getAllocation(allocHandle)
	if err != nil {
		return 0, err
	}

	return m.levelBlockSize(alloc.level), nil
}

func (m *BuddyBlockMetadata) AllocationUserData(allocHandle BlockAllocationHandle) (any, error) {
	alloc, err := m.getAllocation(allocHandle)
	if err != nil {
		return nil, err
	}

	return alloc.userData, nil
}

func (m *BuddyBlockMetadata) SetAllocationUserData(allocHandle BlockAllocationHandle, userData any) error {
	alloc, err := m.getAllocation(allocHandle)
	if err != nil {
		return err
	}

	alloc.userData = userData
	return nil
}

func (m *BuddyBlockMetadata) Clear() {
	for level := 0; level < m.levelCount; level++ {
		m.freeBlocks[level].ClearAll()
	}
	m.freeBlocks[0].Set(0)
	m.allocations = swiss.NewMap[BlockAllocationHandle, *buddyAllocation](uint32(m.size / m.minBlockSize))

	m.allocationCount = 0
	m.freeCount = 1
	m.sumFreeSize = m.size
}

func (m *BuddyBlockMetadata) VisitAllRegions(handleBlock func(handle BlockAllocationHandle, offset int, size int, userData any, free bool) error) error {
	return m.visitNode(0, 0, handleBlock)
}

func (m *BuddyBlockMetadata) visitNode(level int, index uint, handleBlock func(handle BlockAllocationHandle, offset int, size int, userData any, free bool) error) error {
	blockSize := m.levelBlockSize(level)
	offset := int(index) * blockSize

	if m.freeBlocks[level].Test(index) {
		return handleBlock(NoAllocation, offset, blockSize, nil, true)
	}

	alloc, ok := m.allocations.Get(BlockAllocationHandle(offset))
	if ok && alloc.level == level {
		return handleBlock(BlockAllocationHandle(offset), offset, blockSize, alloc.userData, false)
	}

	if level+1 >= m.levelCount {
		panic(fmt.Sprintf("buddy leaf at offset %d is neither free nor allocated", offset))
	}

	err := m.visitNode(level+1, index<<1, handleBlock)
	if err != nil {
		return err
	}
	return m.visitNode(level+1, index<<1+1, handleBlock)
}

type buddyValidation struct {
	allocationCount int
	freeCount       int
	sumFreeSize     int
}

func (m *BuddyBlockMetadata) Validate() error {
	var state buddyValidation
	err := m.validateNode(0, 0, &state)
	if err != nil {
		return err
	}

	if state.allocationCount != m.allocationCount {
		return errors.Newf("tree holds %d allocations, but %d are counted", state.allocationCount, m.allocationCount)
	}
	if m.allocations.Count() != m.allocationCount {
		return errors.Newf("%d allocations are indexed, but %d are counted", m.allocations.Count(), m.allocationCount)
	}
	if state.freeCount != m.freeCount {
		return errors.Newf("tree holds %d free regions, but %d are counted", state.freeCount, m.freeCount)
	}
	if state.sumFreeSize != m.sumFreeSize {
		return errors.Newf("tree holds %d free bytes, but %d are counted", state.sumFreeSize, m.sumFreeSize)
	}

	var freeBits uint
	for level := 0; level < m.levelCount; level++ {
		freeBits += m.freeBlocks[level].Count()
	}
	if int(freeBits) != m.freeCount {
		return errors.Newf("%d regions are marked free, but only %d are reachable", freeBits, m.freeCount)
	}

	err = nil
	m.allocations.Iter(func(handle BlockAllocationHandle, alloc *buddyAllocation) bool {
		if int(handle)%m.levelBlockSize(alloc.level) != 0 {
			err = errors.Newf("allocation at offset %d is not aligned to its size %d", handle, m.levelBlockSize(alloc.level))
			return true
		}
		return false
	})

	return err
}

func (m *BuddyBlockMetadata) validateNode(level int, index uint, state *buddyValidation) error {
	blockSize := m.levelBlockSize(level)
	offset := int(index) * blockSize

	alloc, allocated := m.allocations.Get(BlockAllocationHandle(offset))
	allocated = allocated && alloc.level == level

	if m.freeBlocks[level].Test(index) {
		if allocated {
			return errors.Newf("region at offset %d is both free and allocated", offset)
		}
		if level > 0 && m.freeBlocks[level].Test(index^1) {
			return errors.Newf("free buddies at offset %d and level %d were not merged", offset, level)
		}

		state.freeCount++
		state.sumFreeSize += blockSize
		return nil
	}

	if allocated {
		state.allocationCount++
		return nil
	}

	if level+1 >= m.levelCount {
		return errors.Newf("leaf at offset %d is neither free nor allocated", offset)
	}

	err := m.validateNode(level+1, index<<1, state)
	if err != nil {
		return err
	}
	return m.validateNode(level+1, index<<1+1, state)
}

func (m *BuddyBlockMetadata) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	stats.BlockCount++
	stats.BlockBytes += m.size

	_ = m.VisitAllRegions(func(handle BlockAllocationHandle, offset int, size int, userData any, free bool) error {
		if free {
			stats.AddUnusedRange(size)
		} else {
			stats.AddAllocation(size)
		}
		return nil
	})
}

func (m *BuddyBlockMetadata) AddStatistics(stats *memutils.Statistics) {
	stats.BlockCount++
	stats.AllocationCount += m.allocationCount
	stats.BlockBytes += m.size
	stats.AllocationBytes += m.size - m.sumFreeSize
}

func (m *BuddyBlockMetadata) BlockJsonData(json jwriter.ObjectState) {
	m.BlockMetadataBase.BlockJsonData(json, m.sumFreeSize, m.allocationCount, m.freeCount)
	json.Name("MinBlockSize").Int(m.minBlockSize)
	json.Name("LargestFreeRegion").Int(m.LargestFreeRegion())
}
