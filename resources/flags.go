package resources

import "github.com/vkngwrapper/core/v2/common"

type CreateFlags int32

var createFlagsMapping = common.NewFlagStringMapping[CreateFlags]()

func (f CreateFlags) Register(str string) {
	createFlagsMapping.Register(f, str)
}
func (f CreateFlags) String() string {
	return createFlagsMapping.FlagsToString(f)
}

const (
	// ContextCreateExternallySynchronized indicates that the caller serializes every call into the Context,
	// so it does not need to take its own lock
	ContextCreateExternallySynchronized CreateFlags = 1 << iota
)

func init() {
	ContextCreateExternallySynchronized.Register("ContextCreateExternallySynchronized")
}
