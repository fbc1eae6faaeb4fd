package vulkan

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/bindless/bindless"
	"github.com/vkngwrapper/bindless/gpu"
	"github.com/vkngwrapper/bindless/internal/utils"
	"github.com/vkngwrapper/core/v2/core1_0"
)

// AddressSize is the number of bytes each buffer slot occupies in an address table
const AddressSize = 8

// BindingLayout is the binding index of each bindless array within the descriptor set layout
type BindingLayout struct {
	SamplerBinding       int
	SampledImageBinding  int
	StorageBufferBinding int
}

const (
	DefaultSamplerBinding       = 1
	DefaultSampledImageBinding  = 2
	DefaultStorageBufferBinding = 4
)

func (l BindingLayout) withDefaults() BindingLayout {
	if l.SamplerBinding == 0 && l.SampledImageBinding == 0 && l.StorageBufferBinding == 0 {
		return BindingLayout{
			SamplerBinding:       DefaultSamplerBinding,
			SampledImageBinding:  DefaultSampledImageBinding,
			StorageBufferBinding: DefaultStorageBufferBinding,
		}
	}
	return l
}

type vulkanBuffer interface {
	VulkanBuffer() core1_0.Buffer
}

// DescriptorTable writes bindless resources into one descriptor set per frame in flight. Textures and
// samplers are written as array elements of their binding. Buffers are not descriptors at all: each frame
// has an address table, a mapped storage buffer bound at StorageBufferBinding, and a buffer's slot is the
// index of its device address within that table.
//
// Unless created with DescriptorTableCreateExternallySynchronized, descriptor set updates are serialized
// so that several goroutines may write at once. Address table writes touch only their own slot's bytes
// and are never locked.
type DescriptorTable struct {
	device        core1_0.Device
	flags         DescriptorTableCreateFlags
	mutex         utils.OptionalMutex
	sets          []core1_0.DescriptorSet
	layout        BindingLayout
	addressTables []gpu.Buffer
}

var _ bindless.DescriptorTable = &DescriptorTable{}

// NewDescriptorTable creates a DescriptorTable over sets, one per frame in flight, with one address table
// per set. Address tables created by this package's Device are bound to StorageBufferBinding immediately.
func NewDescriptorTable(device core1_0.Device, flags DescriptorTableCreateFlags, sets []core1_0.DescriptorSet, layout BindingLayout, addressTables []gpu.Buffer) (*DescriptorTable, error) {
	if device == nil {
		return nil, errors.New("attempted to create a descriptor table with a nil device")
	}
	if len(sets) == 0 {
		return nil, errors.New("attempted to create a descriptor table with no descriptor sets")
	}
	if len(addressTables) != len(sets) {
		return nil, errors.Newf("descriptor table has %d descriptor sets but %d address tables", len(sets), len(addressTables))
	}

	table := &DescriptorTable{
		device:        device,
		flags:         flags,
		sets:          sets,
		layout:        layout.withDefaults(),
		addressTables: addressTables,
	}
	table.mutex.UseMutex = flags&DescriptorTableCreateExternallySynchronized == 0

	var writes []core1_0.WriteDescriptorSet
	for frame, addressTable := range addressTables {
		if addressTable == nil || addressTable.MappedData() == nil {
			return nil, errors.Newf("address table for frame %d is not mapped", frame)
		}

		buffer, ok := addressTable.(vulkanBuffer)
		if !ok {
			continue
		}

		writes = append(writes, core1_0.WriteDescriptorSet{
			DstSet:         sets[frame],
			DstBinding:     table.layout.StorageBufferBinding,
			DescriptorType: core1_0.DescriptorTypeStorageBuffer,
			BufferInfo: []core1_0.DescriptorBufferInfo{
				{
					Buffer: buffer.VulkanBuffer(),
					Offset: 0,
					Range:  addressTable.Size(),
				},
			},
		})
	}

	if len(writes) > 0 {
		err := device.UpdateDescriptorSets(writes, nil)
		if err != nil {
			return nil, errors.Wrap(err, "failed to bind address tables")
		}
	}

	return table, nil
}

func (t *DescriptorTable) Flags() DescriptorTableCreateFlags {
	return t.flags
}

func (t *DescriptorTable) FrameCount() int {
	return len(t.sets)
}

// Layout is the binding layout in use, with defaults applied
func (t *DescriptorTable) Layout() BindingLayout {
	return t.layout
}

// AddressTableCapacity is the number of buffer slots each frame's address table can hold
func (t *DescriptorTable) AddressTableCapacity() int {
	return len(t.addressTables[0].MappedData()) / AddressSize
}

func (t *DescriptorTable) checkFrame(frame int) error {
	if frame < 0 || frame >= len(t.sets) {
		return errors.Newf("frame %d out of range for a descriptor table with %d frames", frame, len(t.sets))
	}
	return nil
}

func (t *DescriptorTable) WriteBufferAddress(frame int, slot uint32, address uint64) error {
	if err := t.checkFrame(frame); err != nil {
		return err
	}

	mapped := t.addressTables[frame].MappedData()
	offset := int(slot) * AddressSize
	if offset+AddressSize > len(mapped) {
		return errors.Newf("buffer slot %d is beyond the end of the %d-byte address table for frame %d", slot, len(mapped), frame)
	}

	binary.LittleEndian.PutUint64(mapped[offset:offset+AddressSize], address)
	return nil
}

func (t *DescriptorTable) WriteSampledImage(frame int, slot uint32, view core1_0.ImageView, layout core1_0.ImageLayout) error {
	if err := t.checkFrame(frame); err != nil {
		return err
	}

	t.mutex.Lock()
	defer t.mutex.Unlock()

	err := t.device.UpdateDescriptorSets([]core1_0.WriteDescriptorSet{
		{
			DstSet:          t.sets[frame],
			DstBinding:      t.layout.SampledImageBinding,
			DstArrayElement: int(slot),
			DescriptorType:  core1_0.DescriptorTypeSampledImage,
			ImageInfo: []core1_0.DescriptorImageInfo{
				{
					ImageView:   view,
					ImageLayout: layout,
				},
			},
		},
	}, nil)
	if err != nil {
		return errors.Wrapf(err, "failed to write sampled image to slot %d for frame %d", slot, frame)
	}
	return nil
}

func (t *DescriptorTable) WriteSampler(frame int, slot uint32, sampler core1_0.Sampler) error {
	if err := t.checkFrame(frame); err != nil {
		return err
	}

	t.mutex.Lock()
	defer t.mutex.Unlock()

	err := t.device.UpdateDescriptorSets([]core1_0.WriteDescriptorSet{
		{
			DstSet:          t.sets[frame],
			DstBinding:      t.layout.SamplerBinding,
			DstArrayElement: int(slot),
			DescriptorType:  core1_0.DescriptorTypeSampler,
			ImageInfo: []core1_0.DescriptorImageInfo{
				{
					Sampler: sampler,
				},
			},
		},
	}, nil)
	if err != nil {
		return errors.Wrapf(err, "failed to write sampler to slot %d for frame %d", slot, frame)
	}
	return nil
}
