package vulkan

import (
	"context"
	"math/bits"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/bindless/gpu"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/core1_1"
	"github.com/vkngwrapper/core/v2/core1_2"
	"github.com/vkngwrapper/core/v2/driver"
	"github.com/vkngwrapper/extensions/v2/khr_buffer_device_address"
	"golang.org/x/exp/slog"
)

// Device implements gpu.Device on top of a vkngwrapper device. Every buffer receives its own
// VkDeviceMemory: the buffers this package is asked for are few and large, and everything smaller is
// sub-allocated out of them by the caller.
type Device struct {
	logger              *slog.Logger
	device              core1_0.Device
	memoryProperties    *core1_0.PhysicalDeviceMemoryProperties
	allocationCallbacks *driver.AllocationCallbacks
	extensionData       *ExtensionData
}

var _ gpu.Device = &Device{}

func NewDevice(logger *slog.Logger, device core1_0.Device, physicalDevice core1_0.PhysicalDevice, callbacks *driver.AllocationCallbacks) (*Device, error) {
	if logger == nil {
		return nil, errors.New("attempted to create a vulkan device with a nil logger")
	}
	if device == nil {
		return nil, errors.New("attempted to create a vulkan device with a nil device")
	}
	if physicalDevice == nil {
		return nil, errors.New("attempted to create a vulkan device with a nil physical device")
	}

	return &Device{
		logger:              logger,
		device:              device,
		memoryProperties:    physicalDevice.MemoryProperties(),
		allocationCallbacks: callbacks,
		extensionData:       NewExtensionData(device),
	}, nil
}

// VulkanDevice is the device that objects from this Device are created with
func (d *Device) VulkanDevice() core1_0.Device {
	return d.device
}

// findMemoryTypeIndex chooses the memory type allowed by memoryTypeBits that carries every required flag
// and the most preferred flags. Ties go to the lowest index.
func findMemoryTypeIndex(
	memoryProperties *core1_0.PhysicalDeviceMemoryProperties,
	memoryTypeBits uint32,
	requiredFlags, preferredFlags core1_0.MemoryPropertyFlags,
) (int, bool) {
	bestMemoryTypeIndex := -1
	minCost := 100000

	for memTypeIndex := 0; memTypeIndex < len(memoryProperties.MemoryTypes); memTypeIndex++ {
		memTypeBit := uint32(1) << memTypeIndex

		if memTypeBit&memoryTypeBits == 0 {
			// This memory type is banned by the bitmask
			continue
		}

		flags := memoryProperties.MemoryTypes[memTypeIndex].PropertyFlags
		if requiredFlags & ^flags != 0 {
			// This memory type is missing required flags
			continue
		}

		missingPreferredFlags := preferredFlags & ^flags
		cost := bits.OnesCount32(uint32(missingPreferredFlags))
		if cost == 0 {
			return memTypeIndex, true
		} else if cost < minCost {
			bestMemoryTypeIndex = memTypeIndex
			minCost = cost
		}
	}

	return bestMemoryTypeIndex, bestMemoryTypeIndex >= 0
}

func (d *Device) CreateBuffer(info gpu.BufferCreateInfo) (gpu.Buffer, error) {
	d.logger.Debug("Device::CreateBuffer", slog.String("name", info.Name), slog.Int("size", info.Size))

	if info.Size <= 0 {
		return nil, errors.Newf("attempted to create buffer %s with invalid size %d", info.Name, info.Size)
	}

	wantAddress := info.Flags&gpu.BufferCreateDeviceAddress != 0
	if wantAddress && d.extensionData.BufferDeviceAddress == nil {
		return nil, errors.Newf("buffer %s requested a device address, but neither core 1.2 nor %s is active",
			info.Name, khr_buffer_device_address.ExtensionName)
	}

	usage := info.Usage
	if wantAddress {
		usage |= khr_buffer_device_address.BufferUsageShaderDeviceAddress
	}

	vkBuffer, _, err := d.device.CreateBuffer(d.allocationCallbacks, core1_0.BufferCreateInfo{
		Size:        info.Size,
		Usage:       usage,
		SharingMode: core1_0.SharingModeExclusive,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create buffer %s", info.Name)
	}

	buffer := &Buffer{
		name:      info.Name,
		size:      info.Size,
		buffer:    vkBuffer,
		callbacks: d.allocationCallbacks,
	}

	err = d.backBuffer(buffer, info.Flags)
	if err != nil {
		destroyErr := buffer.Destroy()
		if destroyErr != nil {
			d.logger.LogAttrs(context.Background(), slog.LevelError, "failed to clean up buffer after a failed create",
				slog.String("name", info.Name), slog.Any("error", destroyErr))
		}
		return nil, err
	}

	return buffer, nil
}

func (d *Device) backBuffer(buffer *Buffer, flags gpu.BufferCreateFlags) error {
	requirements := buffer.buffer.MemoryRequirements()

	var requiredFlags core1_0.MemoryPropertyFlags
	preferredFlags := core1_0.MemoryPropertyDeviceLocal
	if flags&gpu.BufferCreateMapped != 0 {
		requiredFlags = core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent
	}

	memoryTypeIndex, found := findMemoryTypeIndex(d.memoryProperties, requirements.MemoryTypeBits, requiredFlags, preferredFlags)
	if !found {
		return errors.Newf("no memory type suitable for buffer %s with flags %s", buffer.name, flags)
	}

	allocInfo := core1_0.MemoryAllocateInfo{
		MemoryTypeIndex: memoryTypeIndex,
		AllocationSize:  requirements.Size,
	}

	if flags&gpu.BufferCreateDeviceAddress != 0 {
		allocFlagsInfo := core1_1.MemoryAllocateFlagsInfo{
			Flags: khr_buffer_device_address.MemoryAllocateDeviceAddress,
		}
		allocFlagsInfo.Next = allocInfo.Next
		allocInfo.Next = allocFlagsInfo
	}

	memory, _, err := d.device.AllocateMemory(d.allocationCallbacks, allocInfo)
	if err != nil {
		return errors.Wrapf(err, "failed to allocate memory for buffer %s", buffer.name)
	}
	buffer.memory = memory

	_, err = buffer.buffer.BindBufferMemory(memory, 0)
	if err != nil {
		return errors.Wrapf(err, "failed to bind memory for buffer %s", buffer.name)
	}

	if flags&gpu.BufferCreateMapped != 0 {
		mapped, _, err := memory.Map(0, buffer.size, 0)
		if err != nil {
			return errors.Wrapf(err, "failed to map buffer %s", buffer.name)
		}
		buffer.mapped = unsafe.Slice((*byte)(mapped), buffer.size)
	}

	if flags&gpu.BufferCreateDeviceAddress != 0 {
		address, err := d.extensionData.BufferDeviceAddress.GetBufferDeviceAddress(core1_2.BufferDeviceAddressInfo{
			Buffer: buffer.buffer,
		})
		if err != nil {
			return errors.Wrapf(err, "failed to retrieve the device address of buffer %s", buffer.name)
		}
		buffer.address = address
	}

	return nil
}

func (d *Device) CreateSampler(info core1_0.SamplerCreateInfo) (gpu.Sampler, error) {
	d.logger.Debug("Device::CreateSampler")

	sampler, _, err := d.device.CreateSampler(d.allocationCallbacks, info)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create sampler")
	}

	return &Sampler{sampler: sampler, callbacks: d.allocationCallbacks}, nil
}

// WrapImage adopts an image created elsewhere so it can be registered as a bindless texture. destroy is
// called once when the image is destroyed and may be nil if the caller keeps ownership of the image.
func (d *Device) WrapImage(view core1_0.ImageView, layout core1_0.ImageLayout, destroy func() error) (*Image, error) {
	if view == nil {
		return nil, errors.New("attempted to wrap an image with a nil view")
	}
	if layout == core1_0.ImageLayoutUndefined {
		layout = core1_0.ImageLayoutShaderReadOnlyOptimal
	}

	return &Image{view: view, layout: layout, destroy: destroy}, nil
}
