package suballoc

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/bindless/gpu"
	"github.com/vkngwrapper/bindless/memutils"
	"github.com/vkngwrapper/bindless/memutils/metadata"
	"github.com/vkngwrapper/core/v2/core1_0"
	"golang.org/x/exp/slog"
)

const (
	// DefaultMinBlockSize is the MinBlockSize used when none is provided via CreateOptions
	DefaultMinBlockSize int = 64
	// DefaultBlockCount is the BlockCount used when none is provided via CreateOptions
	DefaultBlockCount int = 1024
)

// CreateOptions contains optional settings when creating an Allocator
type CreateOptions struct {
	// MinBlockSize is the size in bytes of the smallest region the allocator will hand out. Every
	// allocation is aligned to at least this many bytes, so it should be no smaller than the alignment
	// of the records stored in the buffer. Must be a power of two.
	MinBlockSize int
	// BlockCount is the number of MinBlockSize regions in the backing buffer. Must be a power of two.
	BlockCount int
	// Usage is added to the usage flags of the backing buffer. The buffer is always created
	// mapped and with a device address.
	Usage core1_0.BufferUsageFlags
	// Name is used for diagnostics
	Name string
}

// New creates a backing buffer of MinBlockSize * BlockCount bytes on the provided device and prepares
// to suballocate from it
func New(logger *slog.Logger, device gpu.Device, options CreateOptions) (*Allocator, error) {
	if options.MinBlockSize == 0 {
		options.MinBlockSize = DefaultMinBlockSize
	}
	if options.BlockCount == 0 {
		options.BlockCount = DefaultBlockCount
	}
	if options.Usage == 0 {
		options.Usage = core1_0.BufferUsageStorageBuffer
	}
	if options.Name == "" {
		options.Name = "suballocator"
	}

	err := memutils.CheckPow2(options.MinBlockSize, "MinBlockSize")
	if err != nil {
		return nil, err
	}
	err = memutils.CheckPow2(options.BlockCount, "BlockCount")
	if err != nil {
		return nil, err
	}

	size := options.MinBlockSize * options.BlockCount
	buffer, err := device.CreateBuffer(gpu.BufferCreateInfo{
		Size:  size,
		Usage: options.Usage,
		Flags: gpu.BufferCreateMapped | gpu.BufferCreateDeviceAddress,
		Name:  options.Name,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create the %d byte backing buffer for %s", size, options.Name)
	}

	data := buffer.MappedData()
	if len(data) < size {
		destroyErr := buffer.Destroy()
		if destroyErr != nil {
			logger.Error("failed to destroy unusable backing buffer", slog.Any("error", destroyErr))
		}
		return nil, errors.Newf("backing buffer for %s must be mapped with at least %d bytes, but %d were mapped", options.Name, size, len(data))
	}

	md := metadata.NewBuddyBlockMetadata(options.MinBlockSize)
	md.Init(size)

	return &Allocator{
		logger:      logger,
		name:        options.Name,
		buffer:      buffer,
		metadata:    md,
		baseAddress: buffer.DeviceAddress(),
		data:        data[:size:size],
	}, nil
}
