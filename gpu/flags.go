package gpu

import "github.com/vkngwrapper/core/v2/common"

// BufferCreateFlags select how a buffer's memory is allocated
type BufferCreateFlags int32

var bufferCreateFlagsMapping = common.NewFlagStringMapping[BufferCreateFlags]()

func (f BufferCreateFlags) Register(str string) {
	bufferCreateFlagsMapping.Register(f, str)
}
func (f BufferCreateFlags) String() string {
	return bufferCreateFlagsMapping.FlagsToString(f)
}

const (
	// BufferCreateMapped places the buffer in host-visible, host-coherent memory and keeps it mapped
	// for its entire lifetime
	BufferCreateMapped BufferCreateFlags = 1 << iota
	// BufferCreateDeviceAddress makes the buffer's device address available so that shaders can
	// reach it through a pointer instead of a descriptor
	BufferCreateDeviceAddress
)

func init() {
	BufferCreateMapped.Register("BufferCreateMapped")
	BufferCreateDeviceAddress.Register("BufferCreateDeviceAddress")
}
