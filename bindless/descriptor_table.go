package bindless

//go:generate mockgen -source=descriptor_table.go -destination=./mocks/mocks.go -package=mocks

import "github.com/vkngwrapper/core/v2/core1_0"

// DescriptorTable is the GPU-visible table that shaders index with bindless slots. There is one
// physical copy of the table for each frame in flight, and every copy is written independently.
type DescriptorTable interface {
	// FrameCount is the number of frame-in-flight copies of the table
	FrameCount() int
	// WriteBufferAddress stores a buffer device address in the buffer section of one frame's table
	WriteBufferAddress(frame int, slot uint32, address uint64) error
	// WriteSampledImage stores an image view in the sampled image section of one frame's table
	WriteSampledImage(frame int, slot uint32, view core1_0.ImageView, layout core1_0.ImageLayout) error
	// WriteSampler stores a sampler in the sampler section of one frame's table
	WriteSampler(frame int, slot uint32, sampler core1_0.Sampler) error
}
