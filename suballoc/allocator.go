package suballoc

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/bindless/gpu"
	"github.com/vkngwrapper/bindless/memutils"
	"github.com/vkngwrapper/bindless/memutils/metadata"
	"golang.org/x/exp/slog"
)

// region is stored as the metadata userData of every live allocation. Its address identifies the
// allocation, so an Allocation whose region does not match the live one at its offset is stale.
type region struct {
	requested int
}

// Allocation is a region of an Allocator's backing buffer
type Allocation struct {
	owner     *Allocator
	region    *region
	handle    metadata.BlockAllocationHandle
	offset    int
	size      int
	requested int
}

// Offset is the offset in bytes of the region within the backing buffer
func (a Allocation) Offset() int { return a.offset }

// Size is the number of bytes reserved for the region, which is the requested size rounded up
// to a power-of-two multiple of the minimum block size
func (a Allocation) Size() int { return a.size }

// RequestedSize is the number of bytes that were requested when the region was allocated
func (a Allocation) RequestedSize() int { return a.requested }

// Allocator packs many small records into a single mapped, device-addressable buffer using buddy
// allocation. It is not safe for concurrent use.
type Allocator struct {
	logger *slog.Logger
	name   string

	buffer      gpu.Buffer
	metadata    *metadata.BuddyBlockMetadata
	baseAddress uint64
	data        []byte
}

// Alloc reserves a region of at least size bytes. It fails with memutils.ErrOutOfSubAllocatorSpace
// if no free region is large enough, whether because the buffer is full or too fragmented.
func (a *Allocator) Alloc(size int) (Allocation, error) {
	return a.AllocAligned(size, 1)
}

// AllocAligned reserves a region of at least size bytes whose offset is a multiple of alignment.
// alignment must be a power of two.
func (a *Allocator) AllocAligned(size int, alignment uint) (Allocation, error) {
	a.logger.Debug("Allocator::AllocAligned", slog.String("name", a.name), slog.Int("size", size))

	if size < 1 || size > a.metadata.Size() {
		return Allocation{}, errors.Wrapf(memutils.ErrOutOfSubAllocatorSpace,
			"%s cannot allocate %d bytes from a %d byte buffer", a.name, size, a.metadata.Size())
	}

	success, request, err := a.metadata.CreateAllocationRequest(size, alignment)
	if err != nil {
		return Allocation{}, err
	}
	if !success {
		return Allocation{}, errors.Wrapf(memutils.ErrOutOfSubAllocatorSpace,
			"%s has no free region for %d bytes: %d of %d bytes free, largest free region is %d bytes",
			a.name, size, a.metadata.SumFreeSize(), a.metadata.Size(), a.metadata.LargestFreeRegion())
	}

	tag := &region{requested: size}
	err = a.metadata.Alloc(request, tag)
	if err != nil {
		return Allocation{}, err
	}

	return Allocation{
		owner:     a,
		region:    tag,
		handle:    request.BlockAllocationHandle,
		offset:    request.Item.Offset,
		size:      request.Size,
		requested: size,
	}, nil
}

// checkLive fails with memutils.ErrInvalidIndex unless alloc is a live allocation of this allocator
func (a *Allocator) checkLive(alloc Allocation) error {
	if alloc.owner != a || alloc.region == nil {
		return errors.Wrapf(memutils.ErrInvalidIndex, "%s did not allocate the region at offset %d", a.name, alloc.offset)
	}

	userData, err := a.metadata.AllocationUserData(alloc.handle)
	if err != nil {
		return errors.Wrapf(err, "%s region at offset %d was already freed", a.name, alloc.offset)
	}
	if userData != alloc.region {
		return errors.Wrapf(memutils.ErrInvalidIndex, "%s region at offset %d was already freed", a.name, alloc.offset)
	}

	return nil
}

// Free returns a region to the allocator, merging it with free neighboring regions. Regions that were
// not allocated from this allocator, or that were already freed, are rejected with memutils.ErrInvalidIndex.
func (a *Allocator) Free(alloc Allocation) error {
	a.logger.Debug("Allocator::Free", slog.String("name", a.name), slog.Int("offset", alloc.offset))

	err := a.checkLive(alloc)
	if err != nil {
		return err
	}

	return a.metadata.Free(alloc.handle)
}

// DeviceAddress returns the address shaders use to read the region
func (a *Allocator) DeviceAddress(alloc Allocation) uint64 {
	return a.baseAddress + uint64(alloc.offset)
}

// Bytes returns the mapped memory of the region. Stale and foreign regions are rejected with
// memutils.ErrInvalidIndex.
func (a *Allocator) Bytes(alloc Allocation) ([]byte, error) {
	err := a.checkLive(alloc)
	if err != nil {
		return nil, err
	}

	end := alloc.offset + alloc.size
	return a.data[alloc.offset:end:end], nil
}

// Write copies data into the region, starting offset bytes into it
func (a *Allocator) Write(alloc Allocation, offset int, data []byte) error {
	err := a.checkLive(alloc)
	if err != nil {
		return err
	}

	size, err := a.metadata.AllocationSize(alloc.handle)
	if err != nil {
		return err
	}
	if offset < 0 || offset+len(data) > size {
		return errors.Newf("attempted to write %d bytes at offset %d of a %d byte region", len(data), offset, size)
	}

	copy(a.data[alloc.offset+offset:], data)
	return nil
}

// BaseDeviceAddress is the device address of the start of the backing buffer
func (a *Allocator) BaseDeviceAddress() uint64 { return a.baseAddress }

func (a *Allocator) Size() int { return a.metadata.Size() }

func (a *Allocator) MinBlockSize() int { return a.metadata.MinBlockSize() }

func (a *Allocator) AllocationCount() int { return a.metadata.AllocationCount() }

func (a *Allocator) SumFreeSize() int { return a.metadata.SumFreeSize() }

func (a *Allocator) AddStatistics(stats *memutils.Statistics) {
	a.metadata.AddStatistics(stats)
}

func (a *Allocator) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	a.metadata.AddDetailedStatistics(stats)
}

// PrintDetailedMap writes the allocator's statistics, and every region in the backing buffer, as
// fields of the provided json object
func (a *Allocator) PrintDetailedMap(json jwriter.ObjectState) {
	json.Name("Name").String(a.name)

	var stats memutils.DetailedStatistics
	stats.Clear()
	a.metadata.AddDetailedStatistics(&stats)

	statsObj := json.Name("Stats").Object()
	stats.PrintJson(statsObj)
	statsObj.End()

	blockObj := json.Name("Block").Object()
	a.metadata.BlockJsonData(blockObj)

	arrayState := blockObj.Name("Suballocations").Array()
	_ = a.metadata.VisitAllRegions(func(handle metadata.BlockAllocationHandle, offset int, size int, userData any, free bool) error {
		obj := arrayState.Object()
		defer obj.End()

		obj.Name("Offset").Int(offset)
		obj.Name("Size").Int(size)
		if free {
			obj.Name("Type").String("FREE")
		} else if tag, ok := userData.(*region); ok {
			obj.Name("Type").String("USED")
			obj.Name("RequestedSize").Int(tag.requested)
		}

		return nil
	})
	arrayState.End()
	blockObj.End()
}

// BuildStatsString returns a json document describing the allocator
func (a *Allocator) BuildStatsString() string {
	writer := jwriter.NewWriter()
	obj := writer.Object()
	a.PrintDetailedMap(obj)
	obj.End()

	return string(writer.Bytes())
}

// Destroy destroys the backing buffer. It fails, and logs every outstanding region, if any
// allocations have not been freed.
func (a *Allocator) Destroy() error {
	a.logger.Debug("Allocator::Destroy", slog.String("name", a.name))

	if a.buffer == nil {
		return nil
	}

	if !a.metadata.IsEmpty() {
		err := a.metadata.VisitAllRegions(func(handle metadata.BlockAllocationHandle, offset int, size int, userData any, free bool) error {
			if !free {
				requested := 0
				if tag, ok := userData.(*region); ok {
					requested = tag.requested
				}
				a.logger.LogAttrs(context.Background(), slog.LevelError, "[UNRELEASED MEMORY] unfreed suballocation",
					slog.String("name", a.name),
					slog.Int("offset", offset),
					slog.Int("size", size),
					slog.Int("requested", requested),
				)
			}
			return nil
		})
		if err != nil {
			a.logger.LogAttrs(context.Background(),
				slog.LevelError,
				"[UNRELEASED MEMORY] error while iterating unreleased memory",
				slog.Any("error", err))
		}

		return errors.Newf("%d suballocations in %s were not freed before it was destroyed", a.metadata.AllocationCount(), a.name)
	}

	err := a.buffer.Destroy()
	if err != nil {
		return err
	}

	a.buffer = nil
	a.data = nil
	return nil
}
