package suballoc_test

import (
	"bytes"
	"io"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/bindless/gpu"
	"github.com/vkngwrapper/bindless/gpu/mocks"
	"github.com/vkngwrapper/bindless/memutils"
	"github.com/vkngwrapper/bindless/suballoc"
	"github.com/vkngwrapper/core/v2/core1_0"
	"go.uber.org/mock/gomock"
	"golang.org/x/exp/slog"
)

const baseAddress uint64 = 0x7f0000000000

func readyAllocator(t *testing.T, ctrl *gomock.Controller, logger *slog.Logger, options suballoc.CreateOptions) (*mocks.MockBuffer, []byte, *suballoc.Allocator) {
	size := options.MinBlockSize * options.BlockCount
	mapped := make([]byte, size)

	buffer := mocks.NewMockBuffer(ctrl)
	buffer.EXPECT().MappedData().Return(mapped).AnyTimes()
	buffer.EXPECT().DeviceAddress().Return(baseAddress).AnyTimes()

	device := mocks.NewMockDevice(ctrl)
	device.EXPECT().CreateBuffer(gpu.BufferCreateInfo{
		Size:  size,
		Usage: core1_0.BufferUsageStorageBuffer,
		Flags: gpu.BufferCreateMapped | gpu.BufferCreateDeviceAddress,
		Name:  options.Name,
	}).Return(buffer, nil)

	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	allocator, err := suballoc.New(logger, device, options)
	require.NoError(t, err)

	return buffer, mapped, allocator
}

func TestSuballocRoundTrip(t *testing.T) {
	ctrl := gomock.NewController(t)

	_, _, allocator := readyAllocator(t, ctrl, nil, suballoc.CreateOptions{
		MinBlockSize: 64,
		BlockCount:   1024,
		Name:         "materials",
	})
	require.Equal(t, 64*1024, allocator.Size())

	for size := 64; size <= 64*1024; size *= 2 {
		alloc, err := allocator.Alloc(size)
		require.NoError(t, err)
		require.Zero(t, alloc.Offset()%size)
		require.Equal(t, size, alloc.Size())
		require.Equal(t, baseAddress+uint64(alloc.Offset()), allocator.DeviceAddress(alloc))

		require.NoError(t, allocator.Free(alloc))
	}

	// A fresh allocator would hand out the whole buffer
	alloc, err := allocator.Alloc(64 * 1024)
	require.NoError(t, err)
	require.Equal(t, 0, alloc.Offset())
	require.NoError(t, allocator.Free(alloc))
}

func TestSuballocAlignmentAndAddress(t *testing.T) {
	ctrl := gomock.NewController(t)

	_, _, allocator := readyAllocator(t, ctrl, nil, suballoc.CreateOptions{
		MinBlockSize: 64,
		BlockCount:   64,
		Name:         "materials",
	})

	sizes := []int{1, 100, 64, 300, 17, 128, 65, 1000}
	var allocs []suballoc.Allocation
	for _, size := range sizes {
		alloc, err := allocator.Alloc(size)
		require.NoError(t, err)

		expected := int(memutils.NextPow2(uint(size)))
		if expected < 64 {
			expected = 64
		}
		require.Equal(t, expected, alloc.Size())
		require.Equal(t, size, alloc.RequestedSize())
		require.Zero(t, alloc.Offset()%expected)
		require.Equal(t, baseAddress+uint64(alloc.Offset()), allocator.DeviceAddress(alloc))

		allocs = append(allocs, alloc)
	}

	for i := 0; i < len(allocs); i++ {
		for j := i + 1; j < len(allocs); j++ {
			a, b := allocs[i], allocs[j]
			overlap := a.Offset() < b.Offset()+b.Size() && b.Offset() < a.Offset()+a.Size()
			require.False(t, overlap, "allocations %d and %d overlap", i, j)
		}
	}

	for _, alloc := range allocs {
		require.NoError(t, allocator.Free(alloc))
	}
	require.Equal(t, 64*64, allocator.SumFreeSize())
}

func TestSuballocExhaustion(t *testing.T) {
	ctrl := gomock.NewController(t)

	_, _, allocator := readyAllocator(t, ctrl, nil, suballoc.CreateOptions{
		MinBlockSize: 64,
		BlockCount:   4,
		Name:         "materials",
	})

	var allocs []suballoc.Allocation
	for i := 0; i < 4; i++ {
		alloc, err := allocator.Alloc(64)
		require.NoError(t, err)
		allocs = append(allocs, alloc)
	}

	_, err := allocator.Alloc(64)
	require.True(t, errors.Is(err, memutils.ErrOutOfSubAllocatorSpace))

	_, err = allocator.Alloc(257)
	require.True(t, errors.Is(err, memutils.ErrOutOfSubAllocatorSpace))

	_, err = allocator.Alloc(0)
	require.True(t, errors.Is(err, memutils.ErrOutOfSubAllocatorSpace))

	// Free non-buddies: 128 bytes free, but no 128 byte region
	require.NoError(t, allocator.Free(allocs[0]))
	require.NoError(t, allocator.Free(allocs[2]))

	_, err = allocator.Alloc(128)
	require.True(t, errors.Is(err, memutils.ErrOutOfSubAllocatorSpace))

	require.NoError(t, allocator.Free(allocs[1]))

	alloc, err := allocator.Alloc(128)
	require.NoError(t, err)
	require.Equal(t, 0, alloc.Offset())
}

func TestSuballocRejectsBadFrees(t *testing.T) {
	ctrl := gomock.NewController(t)

	_, _, allocator := readyAllocator(t, ctrl, nil, suballoc.CreateOptions{
		MinBlockSize: 64,
		BlockCount:   16,
		Name:         "materials",
	})

	alloc, err := allocator.Alloc(128)
	require.NoError(t, err)

	require.NoError(t, allocator.Free(alloc))

	err = allocator.Free(alloc)
	require.True(t, errors.Is(err, memutils.ErrInvalidIndex))

	var foreign suballoc.Allocation
	other, err := allocator.Alloc(64)
	require.NoError(t, err)
	require.Equal(t, 0, other.Offset())

	// The zero Allocation claims offset 0, where a live region now sits
	err = allocator.Free(foreign)
	require.True(t, errors.Is(err, memutils.ErrInvalidIndex))
	require.Equal(t, 1, allocator.AllocationCount())
}

func TestSuballocRejectsForeignAllocations(t *testing.T) {
	ctrl := gomock.NewController(t)

	options := suballoc.CreateOptions{
		MinBlockSize: 64,
		BlockCount:   16,
		Name:         "materials",
	}
	_, _, first := readyAllocator(t, ctrl, nil, options)
	_, otherMapped, second := readyAllocator(t, ctrl, nil, options)

	alloc, err := first.Alloc(64)
	require.NoError(t, err)
	require.Equal(t, 0, alloc.Offset())

	secondAlloc, err := second.Alloc(64)
	require.NoError(t, err)
	require.Equal(t, alloc.Offset(), secondAlloc.Offset())

	err = second.Free(alloc)
	require.True(t, errors.Is(err, memutils.ErrInvalidIndex))
	require.Equal(t, 1, second.AllocationCount())

	err = second.Write(alloc, 0, []byte{9})
	require.True(t, errors.Is(err, memutils.ErrInvalidIndex))
	require.Equal(t, byte(0), otherMapped[0])

	_, err = second.Bytes(alloc)
	require.True(t, errors.Is(err, memutils.ErrInvalidIndex))

	require.NoError(t, first.Free(alloc))
	require.NoError(t, second.Free(secondAlloc))
}

func TestSuballocRejectsStaleAllocations(t *testing.T) {
	ctrl := gomock.NewController(t)

	_, mapped, allocator := readyAllocator(t, ctrl, nil, suballoc.CreateOptions{
		MinBlockSize: 64,
		BlockCount:   16,
		Name:         "materials",
	})

	stale, err := allocator.Alloc(64)
	require.NoError(t, err)
	require.NoError(t, allocator.Free(stale))

	// The next owner of the same offset must not see writes through the old Allocation
	current, err := allocator.Alloc(64)
	require.NoError(t, err)
	require.Equal(t, stale.Offset(), current.Offset())

	err = allocator.Write(stale, 0, []byte{9})
	require.True(t, errors.Is(err, memutils.ErrInvalidIndex))
	require.Equal(t, byte(0), mapped[current.Offset()])

	_, err = allocator.Bytes(stale)
	require.True(t, errors.Is(err, memutils.ErrInvalidIndex))

	err = allocator.Free(stale)
	require.True(t, errors.Is(err, memutils.ErrInvalidIndex))
	require.Equal(t, 1, allocator.AllocationCount())

	require.NoError(t, allocator.Write(current, 0, []byte{7}))
	require.Equal(t, byte(7), mapped[current.Offset()])
	require.NoError(t, allocator.Free(current))
}

func TestSuballocWriteAndBytes(t *testing.T) {
	ctrl := gomock.NewController(t)

	_, mapped, allocator := readyAllocator(t, ctrl, nil, suballoc.CreateOptions{
		MinBlockSize: 64,
		BlockCount:   16,
		Name:         "materials",
	})

	_, err := allocator.Alloc(64)
	require.NoError(t, err)
	alloc, err := allocator.Alloc(64)
	require.NoError(t, err)
	require.Equal(t, 64, alloc.Offset())

	require.NoError(t, allocator.Write(alloc, 4, []byte{1, 2, 3, 4}))
	require.Equal(t, []byte{0, 0, 0, 0, 1, 2, 3, 4}, mapped[64:72])
	data, err := allocator.Bytes(alloc)
	require.NoError(t, err)
	require.Equal(t, 64, len(data))
	require.Equal(t, 64, cap(data))

	require.Error(t, allocator.Write(alloc, 62, []byte{1, 2, 3}))
	require.Error(t, allocator.Write(alloc, -1, []byte{1}))
}

func TestSuballocDestroy(t *testing.T) {
	ctrl := gomock.NewController(t)

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	buffer, _, allocator := readyAllocator(t, ctrl, logger, suballoc.CreateOptions{
		MinBlockSize: 64,
		BlockCount:   16,
		Name:         "materials",
	})

	alloc, err := allocator.Alloc(100)
	require.NoError(t, err)

	err = allocator.Destroy()
	require.Error(t, err)
	require.Contains(t, logs.String(), "[UNRELEASED MEMORY] unfreed suballocation")
	require.Contains(t, logs.String(), "requested=100")

	require.NoError(t, allocator.Free(alloc))

	buffer.EXPECT().Destroy().Return(nil)
	require.NoError(t, allocator.Destroy())

	// The buffer is gone, so a second Destroy has nothing to do
	require.NoError(t, allocator.Destroy())
}

func TestSuballocStats(t *testing.T) {
	ctrl := gomock.NewController(t)

	_, _, allocator := readyAllocator(t, ctrl, nil, suballoc.CreateOptions{
		MinBlockSize: 64,
		BlockCount:   16,
		Name:         "materials",
	})

	_, err := allocator.Alloc(100)
	require.NoError(t, err)

	var stats memutils.Statistics
	allocator.AddStatistics(&stats)
	require.Equal(t, memutils.Statistics{
		BlockCount:      1,
		AllocationCount: 1,
		BlockBytes:      1024,
		AllocationBytes: 128,
	}, stats)

	json := allocator.BuildStatsString()
	require.Contains(t, json, `"Name":"materials"`)
	require.Contains(t, json, `{"Offset":0,"Size":128,"Type":"USED","RequestedSize":100}`)
	require.Contains(t, json, `{"Offset":512,"Size":512,"Type":"FREE"}`)
}

func TestSuballocCreateValidation(t *testing.T) {
	ctrl := gomock.NewController(t)
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	device := mocks.NewMockDevice(ctrl)

	_, err := suballoc.New(logger, device, suballoc.CreateOptions{MinBlockSize: 48})
	require.True(t, errors.Is(err, memutils.PowerOfTwoError))

	_, err = suballoc.New(logger, device, suballoc.CreateOptions{BlockCount: 1000})
	require.True(t, errors.Is(err, memutils.PowerOfTwoError))

	buffer := mocks.NewMockBuffer(ctrl)
	buffer.EXPECT().MappedData().Return(make([]byte, 16))
	buffer.EXPECT().Destroy().Return(nil)
	device.EXPECT().CreateBuffer(gomock.Any()).Return(buffer, nil)

	_, err = suballoc.New(logger, device, suballoc.CreateOptions{})
	require.Error(t, err)
}
