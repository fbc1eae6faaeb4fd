package vulkan

import (
	"github.com/vkngwrapper/bindless/gpu"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/driver"
)

type Sampler struct {
	sampler   core1_0.Sampler
	callbacks *driver.AllocationCallbacks
}

var _ gpu.Sampler = &Sampler{}

func (s *Sampler) Handle() core1_0.Sampler { return s.sampler }

func (s *Sampler) Destroy() error {
	if s.sampler == nil {
		return nil
	}

	s.sampler.Destroy(s.callbacks)
	s.sampler = nil
	return nil
}
