package gpu

//go:generate mockgen -source=gpu.go -destination=./mocks/mocks.go -package=mocks

import (
	"github.com/vkngwrapper/core/v2/core1_0"
)

// Buffer is a GPU buffer created by a Device
type Buffer interface {
	// Size is the size of the buffer in bytes
	Size() int
	// DeviceAddress is the address shaders use to read the buffer. It is 0 unless the buffer was created
	// with BufferCreateDeviceAddress.
	DeviceAddress() uint64
	// MappedData is a persistently-mapped view of the buffer's memory. It is nil unless the buffer was
	// created with BufferCreateMapped.
	MappedData() []byte
	Destroy() error
}

// Image is a sampled image view that can be placed in a bindless descriptor table
type Image interface {
	View() core1_0.ImageView
	// Layout is the layout the image will be in whenever shaders sample it
	Layout() core1_0.ImageLayout
	Destroy() error
}

// Sampler is a GPU sampler object
type Sampler interface {
	Handle() core1_0.Sampler
	Destroy() error
}

// BufferCreateInfo describes a buffer to be created with Device.CreateBuffer
type BufferCreateInfo struct {
	Size  int
	Usage core1_0.BufferUsageFlags
	Flags BufferCreateFlags
	// Name is used for diagnostics only
	Name string
}

// Device creates GPU objects
type Device interface {
	CreateBuffer(info BufferCreateInfo) (Buffer, error)
	CreateSampler(info core1_0.SamplerCreateInfo) (Sampler, error)
}
