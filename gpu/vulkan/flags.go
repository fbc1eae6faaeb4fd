package vulkan

import "github.com/vkngwrapper/core/v2/common"

// DescriptorTableCreateFlags exposes options for DescriptorTable behavior
type DescriptorTableCreateFlags int32

var descriptorTableCreateFlagsMapping = common.NewFlagStringMapping[DescriptorTableCreateFlags]()

func (f DescriptorTableCreateFlags) Register(str string) {
	descriptorTableCreateFlagsMapping.Register(f, str)
}
func (f DescriptorTableCreateFlags) String() string {
	return descriptorTableCreateFlagsMapping.FlagsToString(f)
}

const (
	// DescriptorTableCreateExternallySynchronized specifies that descriptor writes will never be made
	// from more than one goroutine at a time. Without it, writes to the descriptor sets are serialized
	// with a mutex, which a Registry created with bindless.RegistryCreateConcurrentSlots requires.
	DescriptorTableCreateExternallySynchronized DescriptorTableCreateFlags = 1 << iota
)

func init() {
	DescriptorTableCreateExternallySynchronized.Register("DescriptorTableCreateExternallySynchronized")
}
