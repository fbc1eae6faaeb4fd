package bindless

import (
	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/bindless/memutils"
	"github.com/vkngwrapper/core/v2/core1_0"
	"golang.org/x/exp/slog"
)

const (
	DefaultBufferSlotCount  = 256
	DefaultTextureSlotCount = 256
	DefaultSamplerSlotCount = 256
)

// RegistryCreateInfo configures the slot spaces of a Registry. Zero counts are replaced with defaults.
type RegistryCreateInfo struct {
	Flags RegistryCreateFlags

	BufferSlotCount  int
	TextureSlotCount int
	SamplerSlotCount int
}

// Registry hands out bindless slots and writes the resource each slot refers to into every
// frame-in-flight copy of a DescriptorTable. Buffers, textures and samplers each have their own slot
// space.
//
// Unregistering a slot only makes it available for reuse. The old descriptor is left in place until the
// slot is registered again, so callers must not unregister a slot that work still in flight may read.
type Registry struct {
	logger *slog.Logger
	table  DescriptorTable
	flags  RegistryCreateFlags

	slots [resourceKindCount]slotSource
}

func NewRegistry(logger *slog.Logger, table DescriptorTable, createInfo RegistryCreateInfo) (*Registry, error) {
	if table == nil {
		return nil, errors.New("a bindless registry requires a descriptor table")
	}
	if table.FrameCount() < 1 {
		return nil, errors.Newf("descriptor table must have at least one frame in flight, but had %d", table.FrameCount())
	}

	counts := [resourceKindCount]int{
		ResourceKindBuffer:  createInfo.BufferSlotCount,
		ResourceKindTexture: createInfo.TextureSlotCount,
		ResourceKindSampler: createInfo.SamplerSlotCount,
	}
	defaults := [resourceKindCount]int{
		ResourceKindBuffer:  DefaultBufferSlotCount,
		ResourceKindTexture: DefaultTextureSlotCount,
		ResourceKindSampler: DefaultSamplerSlotCount,
	}

	registry := &Registry{
		logger: logger,
		table:  table,
		flags:  createInfo.Flags,
	}

	for kind := ResourceKind(0); kind < resourceKindCount; kind++ {
		count := counts[kind]
		if count < 0 {
			return nil, errors.Newf("%s slot count must not be negative, but was %d", kind, count)
		} else if count == 0 {
			count = defaults[kind]
		}

		registry.slots[kind] = newSlotSource(count, createInfo.Flags)
	}

	return registry, nil
}

func (r *Registry) register(kind ResourceKind, write func(frame int, slot uint32) error) (uint32, error) {
	slot, err := r.slots[kind].Reserve()
	if err != nil {
		return 0, errors.Wrapf(err, "failed to reserve a bindless %s slot", kind)
	}

	frameCount := r.table.FrameCount()
	for frame := 0; frame < frameCount; frame++ {
		err = write(frame, slot)
		if err != nil {
			freeErr := r.slots[kind].Free(slot)
			if freeErr != nil {
				r.logger.Error("failed to return bindless slot after a failed descriptor write",
					slog.String("kind", kind.String()),
					slog.Int("slot", int(slot)),
					slog.Any("error", freeErr),
				)
			}

			return 0, errors.Wrapf(err, "failed to write bindless %s slot %d for frame %d", kind, slot, frame)
		}
	}

	return slot, nil
}

func (r *Registry) unregister(kind ResourceKind, slot uint32) error {
	err := r.slots[kind].Free(slot)
	if err != nil {
		return errors.Wrapf(err, "failed to unregister bindless %s slot", kind)
	}

	return nil
}

// RegisterBuffer reserves a buffer slot and writes the buffer's device address into it for every frame in flight
func (r *Registry) RegisterBuffer(address uint64) (uint32, error) {
	r.logger.Debug("Registry::RegisterBuffer")

	return r.register(ResourceKindBuffer, func(frame int, slot uint32) error {
		return r.table.WriteBufferAddress(frame, slot, address)
	})
}

// RegisterTexture reserves a texture slot and writes the image view into it for every frame in flight.
// layout is the layout the image will be in whenever shaders sample it.
func (r *Registry) RegisterTexture(view core1_0.ImageView, layout core1_0.ImageLayout) (uint32, error) {
	r.logger.Debug("Registry::RegisterTexture")

	if view == nil {
		return 0, errors.New("attempted to register a nil image view")
	}

	return r.register(ResourceKindTexture, func(frame int, slot uint32) error {
		return r.table.WriteSampledImage(frame, slot, view, layout)
	})
}

// RegisterSampler reserves a sampler slot and writes the sampler into it for every frame in flight
func (r *Registry) RegisterSampler(sampler core1_0.Sampler) (uint32, error) {
	r.logger.Debug("Registry::RegisterSampler")

	if sampler == nil {
		return 0, errors.New("attempted to register a nil sampler")
	}

	return r.register(ResourceKindSampler, func(frame int, slot uint32) error {
		return r.table.WriteSampler(frame, slot, sampler)
	})
}

func (r *Registry) UnregisterBuffer(slot uint32) error {
	r.logger.Debug("Registry::UnregisterBuffer")

	return r.unregister(ResourceKindBuffer, slot)
}

func (r *Registry) UnregisterTexture(slot uint32) error {
	r.logger.Debug("Registry::UnregisterTexture")

	return r.unregister(ResourceKindTexture, slot)
}

func (r *Registry) UnregisterSampler(slot uint32) error {
	r.logger.Debug("Registry::UnregisterSampler")

	return r.unregister(ResourceKindSampler, slot)
}

func (r *Registry) Flags() RegistryCreateFlags {
	return r.flags
}

// SlotStatistics returns the occupancy of one slot space
func (r *Registry) SlotStatistics(kind ResourceKind) memutils.SlotStatistics {
	var stats memutils.SlotStatistics
	r.slots[kind].AddSlotStatistics(&stats)
	return stats
}

// PrintJson writes the occupancy of every slot space as fields of the provided json object
func (r *Registry) PrintJson(json jwriter.ObjectState) {
	json.Name("Flags").String(r.flags.String())
	json.Name("FramesInFlight").Int(r.table.FrameCount())

	for kind := ResourceKind(0); kind < resourceKindCount; kind++ {
		stats := r.SlotStatistics(kind)

		kindObj := json.Name(kind.String()).Object()
		stats.PrintJson(kindObj)
		kindObj.End()
	}
}
