package bindless

import "github.com/vkngwrapper/core/v2/common"

// RegistryCreateFlags exposes options for Registry behavior
type RegistryCreateFlags int32

var registryCreateFlagsMapping = common.NewFlagStringMapping[RegistryCreateFlags]()

func (f RegistryCreateFlags) Register(str string) {
	registryCreateFlagsMapping.Register(f, str)
}
func (f RegistryCreateFlags) String() string {
	return registryCreateFlagsMapping.FlagsToString(f)
}

const (
	// RegistryCreateConcurrentSlots backs each slot space with a mutex-guarded index allocator so that
	// slots can be reserved and freed from background loading work. Descriptor writes are not locked
	// by the Registry, so the DescriptorTable must accept writes from several goroutines at once.
	// Without this flag, slots are always the lowest free index and the Registry must be externally
	// synchronized.
	RegistryCreateConcurrentSlots RegistryCreateFlags = 1 << iota
)

func init() {
	RegistryCreateConcurrentSlots.Register("RegistryCreateConcurrentSlots")
}
