package vulkan

import (
	"github.com/vkngwrapper/bindless/gpu"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/driver"
)

// Buffer is a VkBuffer bound to its own VkDeviceMemory
type Buffer struct {
	name      string
	size      int
	address   uint64
	mapped    []byte
	buffer    core1_0.Buffer
	memory    core1_0.DeviceMemory
	callbacks *driver.AllocationCallbacks
}

var _ gpu.Buffer = &Buffer{}

func (b *Buffer) Size() int             { return b.size }
func (b *Buffer) DeviceAddress() uint64 { return b.address }
func (b *Buffer) MappedData() []byte    { return b.mapped }

// VulkanBuffer is the underlying buffer object
func (b *Buffer) VulkanBuffer() core1_0.Buffer { return b.buffer }

func (b *Buffer) Destroy() error {
	if b.buffer == nil {
		return nil
	}

	b.buffer.Destroy(b.callbacks)
	b.buffer = nil

	if b.memory != nil {
		if b.mapped != nil {
			b.memory.Unmap()
			b.mapped = nil
		}
		b.memory.Free(b.callbacks)
		b.memory = nil
	}

	b.address = 0
	return nil
}
