package resources

import (
	"context"

	"github.com/vkngwrapper/bindless/gpu"
	"github.com/vkngwrapper/bindless/pool"
	"github.com/vkngwrapper/bindless/suballoc"
	"golang.org/x/exp/slog"
)

// Buffer is a pooled GPU buffer with a bindless buffer slot
type Buffer struct {
	owner      *Context
	buffer     gpu.Buffer
	slot       uint32
	registered bool
}

func (b *Buffer) GPUBuffer() gpu.Buffer { return b.buffer }

// Slot is the index of the buffer's device address in the bindless address table
func (b *Buffer) Slot() uint32 { return b.slot }

func (b *Buffer) DeviceAddress() uint64 { return b.buffer.DeviceAddress() }

// MappedData is nil unless the buffer was created with gpu.BufferCreateMapped
func (b *Buffer) MappedData() []byte { return b.buffer.MappedData() }

func (b *Buffer) Finalize() {
	if b.registered {
		b.owner.logFailure("failed to unregister buffer", b.owner.registry.UnregisterBuffer(b.slot))
	}
	if b.buffer != nil {
		b.owner.logFailure("failed to destroy buffer", b.buffer.Destroy())
	}
}

// Image is a pooled sampled image with a bindless texture slot
type Image struct {
	owner      *Context
	image      gpu.Image
	slot       uint32
	registered bool
}

func (i *Image) GPUImage() gpu.Image { return i.image }
func (i *Image) Slot() uint32        { return i.slot }

func (i *Image) Finalize() {
	if i.registered {
		i.owner.logFailure("failed to unregister image", i.owner.registry.UnregisterTexture(i.slot))
	}
	if i.image != nil {
		i.owner.logFailure("failed to destroy image", i.image.Destroy())
	}
}

// Sampler is a pooled GPU sampler with a bindless sampler slot
type Sampler struct {
	owner      *Context
	sampler    gpu.Sampler
	slot       uint32
	registered bool
}

func (s *Sampler) GPUSampler() gpu.Sampler { return s.sampler }
func (s *Sampler) Slot() uint32            { return s.slot }

func (s *Sampler) Finalize() {
	if s.registered {
		s.owner.logFailure("failed to unregister sampler", s.owner.registry.UnregisterSampler(s.slot))
	}
	if s.sampler != nil {
		s.owner.logFailure("failed to destroy sampler", s.sampler.Destroy())
	}
}

// Material is a block of shader-visible material data plus references to the images and samplers that
// data indexes. A material keeps every image and sampler it references alive.
type Material struct {
	owner    *Context
	data     suballoc.Allocation
	hasData  bool
	textures []pool.Handle[Image]
	samplers []pool.Handle[Sampler]
}

func (m *Material) DataSize() int {
	if !m.hasData {
		return 0
	}
	return m.data.RequestedSize()
}

func (m *Material) Textures() []pool.Handle[Image]   { return m.textures }
func (m *Material) Samplers() []pool.Handle[Sampler] { return m.samplers }

func (m *Material) Finalize() {
	if m.hasData {
		m.owner.logFailure("failed to free material data", m.owner.materialData.Free(m.data))
	}

	for _, texture := range m.textures {
		m.owner.images.Release(texture)
	}
	for _, sampler := range m.samplers {
		m.owner.samplers.Release(sampler)
	}
}

func (c *Context) logFailure(msg string, err error) {
	if err == nil {
		return
	}

	c.logger.LogAttrs(context.Background(), slog.LevelError, msg, slog.Any("error", err))
}
