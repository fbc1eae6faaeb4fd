package resources

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/bindless/bindless"
	"github.com/vkngwrapper/bindless/gpu"
	"github.com/vkngwrapper/bindless/internal/utils"
	"github.com/vkngwrapper/bindless/pool"
	"github.com/vkngwrapper/bindless/suballoc"
	"golang.org/x/exp/slog"
)

const (
	DefaultBufferCapacity     = 256
	DefaultImageCapacity      = 256
	DefaultSamplerCapacity    = 256
	DefaultMaterialCapacity   = 1024
	DefaultMaterialBlockSize  = 64
	DefaultMaterialBlockCount = 1024
)

// CreateOptions contains optional settings when creating a Context. Zero values are replaced
// with defaults.
type CreateOptions struct {
	Flags CreateFlags

	BufferCapacity   int
	ImageCapacity    int
	SamplerCapacity  int
	MaterialCapacity int

	// MaterialBlockSize is the smallest region of the material data buffer a material can occupy, and
	// the alignment of every material's data. Must be a power of two.
	MaterialBlockSize int
	// MaterialBlockCount is the number of MaterialBlockSize regions in the material data buffer. Must
	// be a power of two.
	MaterialBlockCount int

	// Registry configures bindless slots. Slot counts left at zero default to the capacity of the
	// matching pool.
	Registry bindless.RegistryCreateInfo
}

func (o *CreateOptions) applyDefaults() error {
	fields := []struct {
		name         string
		value        *int
		defaultValue int
	}{
		{"BufferCapacity", &o.BufferCapacity, DefaultBufferCapacity},
		{"ImageCapacity", &o.ImageCapacity, DefaultImageCapacity},
		{"SamplerCapacity", &o.SamplerCapacity, DefaultSamplerCapacity},
		{"MaterialCapacity", &o.MaterialCapacity, DefaultMaterialCapacity},
		{"MaterialBlockSize", &o.MaterialBlockSize, DefaultMaterialBlockSize},
		{"MaterialBlockCount", &o.MaterialBlockCount, DefaultMaterialBlockCount},
	}

	for _, field := range fields {
		if *field.value < 0 {
			return errors.Newf("%s must not be negative, but was %d", field.name, *field.value)
		} else if *field.value == 0 {
			*field.value = field.defaultValue
		}
	}

	if o.Registry.BufferSlotCount == 0 {
		o.Registry.BufferSlotCount = o.BufferCapacity
	}
	if o.Registry.TextureSlotCount == 0 {
		o.Registry.TextureSlotCount = o.ImageCapacity
	}
	if o.Registry.SamplerSlotCount == 0 {
		o.Registry.SamplerSlotCount = o.SamplerCapacity
	}

	return nil
}

// New creates a Context that creates GPU objects on device and publishes them through table.
// The material data buffer is created immediately.
func New(logger *slog.Logger, device gpu.Device, table bindless.DescriptorTable, options CreateOptions) (*Context, error) {
	if logger == nil {
		return nil, errors.New("attempted to create a resource context with a nil logger")
	}
	if device == nil {
		return nil, errors.New("attempted to create a resource context with a nil device")
	}

	err := options.applyDefaults()
	if err != nil {
		return nil, err
	}

	registry, err := bindless.NewRegistry(logger, table, options.Registry)
	if err != nil {
		return nil, err
	}

	materialData, err := suballoc.New(logger, device, suballoc.CreateOptions{
		MinBlockSize: options.MaterialBlockSize,
		BlockCount:   options.MaterialBlockCount,
		Name:         "materials",
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create the material data buffer")
	}

	return &Context{
		logger:       logger,
		device:       device,
		flags:        options.Flags,
		mutex:        utils.OptionalMutex{UseMutex: options.Flags&ContextCreateExternallySynchronized == 0},
		registry:     registry,
		materialData: materialData,

		buffers:   pool.New[Buffer](logger, "buffers", options.BufferCapacity),
		images:    pool.New[Image](logger, "images", options.ImageCapacity),
		samplers:  pool.New[Sampler](logger, "samplers", options.SamplerCapacity),
		materials: pool.New[Material](logger, "materials", options.MaterialCapacity),
	}, nil
}
