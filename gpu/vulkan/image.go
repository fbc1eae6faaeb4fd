package vulkan

import (
	"github.com/vkngwrapper/bindless/gpu"
	"github.com/vkngwrapper/core/v2/core1_0"
)

// Image is an image view created outside this package, adopted with Device.WrapImage
type Image struct {
	view    core1_0.ImageView
	layout  core1_0.ImageLayout
	destroy func() error
}

var _ gpu.Image = &Image{}

func (i *Image) View() core1_0.ImageView     { return i.view }
func (i *Image) Layout() core1_0.ImageLayout { return i.layout }

func (i *Image) Destroy() error {
	destroy := i.destroy
	i.destroy = nil
	i.view = nil

	if destroy == nil {
		return nil
	}
	return destroy()
}
