package resources_test

import (
	"bytes"
	"io"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/bindless/bindless"
	bindless_mocks "github.com/vkngwrapper/bindless/bindless/mocks"
	"github.com/vkngwrapper/bindless/gpu"
	"github.com/vkngwrapper/bindless/gpu/mocks"
	"github.com/vkngwrapper/bindless/memutils"
	"github.com/vkngwrapper/bindless/pool"
	"github.com/vkngwrapper/bindless/resources"
	"github.com/vkngwrapper/core/v2/core1_0"
	"go.uber.org/mock/gomock"
	"golang.org/x/exp/slog"
)

const materialBaseAddress uint64 = 0x7f0000000000

type fakeImageView struct {
	core1_0.ImageView
	id int
}

type fakeSampler struct {
	core1_0.Sampler
	id int
}

type contextRig struct {
	device       *mocks.MockDevice
	table        *bindless_mocks.MockDescriptorTable
	materialData []byte
	logs         *bytes.Buffer
	context      *resources.Context
}

func readyContext(t *testing.T, ctrl *gomock.Controller, options resources.CreateOptions) *contextRig {
	rig := &contextRig{
		device: mocks.NewMockDevice(ctrl),
		table:  bindless_mocks.NewMockDescriptorTable(ctrl),
		logs:   &bytes.Buffer{},
	}
	rig.table.EXPECT().FrameCount().Return(2).AnyTimes()

	blockSize := options.MaterialBlockSize
	if blockSize == 0 {
		blockSize = resources.DefaultMaterialBlockSize
	}
	blockCount := options.MaterialBlockCount
	if blockCount == 0 {
		blockCount = resources.DefaultMaterialBlockCount
	}
	rig.materialData = make([]byte, blockSize*blockCount)

	materialBuffer := mocks.NewMockBuffer(ctrl)
	materialBuffer.EXPECT().MappedData().Return(rig.materialData).AnyTimes()
	materialBuffer.EXPECT().DeviceAddress().Return(materialBaseAddress).AnyTimes()
	rig.device.EXPECT().CreateBuffer(gpu.BufferCreateInfo{
		Size:  blockSize * blockCount,
		Usage: core1_0.BufferUsageStorageBuffer,
		Flags: gpu.BufferCreateMapped | gpu.BufferCreateDeviceAddress,
		Name:  "materials",
	}).Return(materialBuffer, nil)
	materialBuffer.EXPECT().Destroy().Return(nil).MaxTimes(1)

	logger := slog.New(slog.NewTextHandler(rig.logs, nil))
	context, err := resources.New(logger, rig.device, rig.table, options)
	require.NoError(t, err)
	rig.context = context

	return rig
}

func (r *contextRig) addImage(t *testing.T, ctrl *gomock.Controller, slot uint32) (*mocks.MockImage, pool.Handle[resources.Image]) {
	view := &fakeImageView{id: int(slot)}

	image := mocks.NewMockImage(ctrl)
	image.EXPECT().View().Return(view).AnyTimes()
	image.EXPECT().Layout().Return(core1_0.ImageLayoutShaderReadOnlyOptimal).AnyTimes()

	for frame := 0; frame < 2; frame++ {
		r.table.EXPECT().WriteSampledImage(frame, slot, view, core1_0.ImageLayoutShaderReadOnlyOptimal).Return(nil)
	}

	handle, err := r.context.AddImage(image)
	require.NoError(t, err)
	return image, handle
}

func (r *contextRig) createSampler(t *testing.T, ctrl *gomock.Controller, slot uint32) (*mocks.MockSampler, pool.Handle[resources.Sampler]) {
	vkSampler := &fakeSampler{id: int(slot)}

	sampler := mocks.NewMockSampler(ctrl)
	sampler.EXPECT().Handle().Return(vkSampler).AnyTimes()

	info := core1_0.SamplerCreateInfo{MagFilter: core1_0.FilterLinear, MinFilter: core1_0.FilterLinear}
	r.device.EXPECT().CreateSampler(info).Return(sampler, nil)
	for frame := 0; frame < 2; frame++ {
		r.table.EXPECT().WriteSampler(frame, slot, vkSampler).Return(nil)
	}

	handle, err := r.context.CreateSampler(info)
	require.NoError(t, err)
	return sampler, handle
}

func TestContextBufferLifecycle(t *testing.T) {
	ctrl := gomock.NewController(t)
	rig := readyContext(t, ctrl, resources.CreateOptions{})

	gpuBuffer := mocks.NewMockBuffer(ctrl)
	gpuBuffer.EXPECT().DeviceAddress().Return(uint64(0x1000)).AnyTimes()

	rig.device.EXPECT().CreateBuffer(gpu.BufferCreateInfo{
		Size:  4096,
		Usage: core1_0.BufferUsageStorageBuffer,
		Flags: gpu.BufferCreateDeviceAddress,
		Name:  "vertices",
	}).Return(gpuBuffer, nil)
	for frame := 0; frame < 2; frame++ {
		rig.table.EXPECT().WriteBufferAddress(frame, uint32(0), uint64(0x1000)).Return(nil)
	}

	handle, err := rig.context.CreateBuffer(gpu.BufferCreateInfo{
		Size:  4096,
		Usage: core1_0.BufferUsageStorageBuffer,
		Name:  "vertices",
	})
	require.NoError(t, err)

	buffer, ok := rig.context.GetBuffer(handle)
	require.True(t, ok)
	require.Equal(t, uint32(0), buffer.Slot())
	require.Equal(t, uint64(0x1000), buffer.DeviceAddress())

	rig.context.RetainBuffer(handle)
	require.False(t, rig.context.ReleaseBuffer(handle))

	gpuBuffer.EXPECT().Destroy().Return(nil)
	require.True(t, rig.context.ReleaseBuffer(handle))

	_, ok = rig.context.GetBuffer(handle)
	require.False(t, ok)
	require.Equal(t, 0, rig.context.Registry().SlotStatistics(bindless.ResourceKindBuffer).UsedSlots)
}

func TestContextBufferCreateFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	rig := readyContext(t, ctrl, resources.CreateOptions{BufferCapacity: 1})

	rig.device.EXPECT().CreateBuffer(gomock.Any()).Return(nil, errors.New("out of device memory"))

	_, err := rig.context.CreateBuffer(gpu.BufferCreateInfo{Size: 64, Name: "broken"})
	require.Error(t, err)

	// The failed create must not leak its pool entry
	gpuBuffer := mocks.NewMockBuffer(ctrl)
	gpuBuffer.EXPECT().DeviceAddress().Return(uint64(0x2000)).AnyTimes()
	rig.device.EXPECT().CreateBuffer(gomock.Any()).Return(gpuBuffer, nil)

	writeErr := errors.New("descriptor write failed")
	rig.table.EXPECT().WriteBufferAddress(0, uint32(0), uint64(0x2000)).Return(writeErr)
	gpuBuffer.EXPECT().Destroy().Return(nil)

	_, err = rig.context.CreateBuffer(gpu.BufferCreateInfo{Size: 64, Name: "unregistered"})
	require.True(t, errors.Is(err, writeErr))
}

func TestContextMaterialRetainsReferences(t *testing.T) {
	ctrl := gomock.NewController(t)
	rig := readyContext(t, ctrl, resources.CreateOptions{})

	image, imageHandle := rig.addImage(t, ctrl, 0)
	sampler, samplerHandle := rig.createSampler(t, ctrl, 0)

	material, err := rig.context.CreateMaterial(resources.MaterialCreateInfo{
		DataSize: 100,
		Textures: []pool.Handle[resources.Image]{imageHandle},
		Samplers: []pool.Handle[resources.Sampler]{samplerHandle},
	})
	require.NoError(t, err)

	// The material keeps both alive after the creator drops its references
	require.False(t, rig.context.ReleaseImage(imageHandle))
	require.False(t, rig.context.ReleaseSampler(samplerHandle))

	_, ok := rig.context.GetImage(imageHandle)
	require.True(t, ok)

	data, address, ok := rig.context.MaterialData(material)
	require.True(t, ok)
	require.Len(t, data, 128)
	require.Equal(t, materialBaseAddress, address)

	require.NoError(t, rig.context.WriteMaterialData(material, 0, []byte{1, 2, 3}))
	require.Equal(t, []byte{1, 2, 3}, rig.materialData[:3])

	image.EXPECT().Destroy().Return(nil)
	sampler.EXPECT().Destroy().Return(nil)
	require.True(t, rig.context.ReleaseMaterial(material))

	_, ok = rig.context.GetImage(imageHandle)
	require.False(t, ok)
	_, ok = rig.context.GetSampler(samplerHandle)
	require.False(t, ok)

	_, _, ok = rig.context.MaterialData(material)
	require.False(t, ok)

	require.NoError(t, rig.context.Destroy())
}

func TestContextMaterialRejectsStaleReferences(t *testing.T) {
	ctrl := gomock.NewController(t)
	rig := readyContext(t, ctrl, resources.CreateOptions{})

	image, imageHandle := rig.addImage(t, ctrl, 0)
	image.EXPECT().Destroy().Return(nil)
	require.True(t, rig.context.ReleaseImage(imageHandle))

	_, err := rig.context.CreateMaterial(resources.MaterialCreateInfo{
		DataSize: 64,
		Textures: []pool.Handle[resources.Image]{imageHandle},
	})
	require.True(t, errors.Is(err, memutils.ErrInvalidIndex))

	_, err = rig.context.CreateMaterial(resources.MaterialCreateInfo{DataSize: -1})
	require.Error(t, err)
}

func TestContextMaterialDataExhaustion(t *testing.T) {
	ctrl := gomock.NewController(t)
	rig := readyContext(t, ctrl, resources.CreateOptions{
		MaterialBlockSize:  64,
		MaterialBlockCount: 4,
	})

	first, err := rig.context.CreateMaterial(resources.MaterialCreateInfo{DataSize: 256})
	require.NoError(t, err)

	_, err = rig.context.CreateMaterial(resources.MaterialCreateInfo{DataSize: 1})
	require.True(t, errors.Is(err, memutils.ErrOutOfSubAllocatorSpace))

	// Materials without data never touch the material buffer
	empty, err := rig.context.CreateMaterial(resources.MaterialCreateInfo{})
	require.NoError(t, err)
	_, _, ok := rig.context.MaterialData(empty)
	require.False(t, ok)

	require.True(t, rig.context.ReleaseMaterial(first))
	second, err := rig.context.CreateMaterial(resources.MaterialCreateInfo{DataSize: 1})
	require.NoError(t, err)

	require.True(t, rig.context.ReleaseMaterial(second))
	require.True(t, rig.context.ReleaseMaterial(empty))
}

func TestContextDestroyReportsLeaks(t *testing.T) {
	ctrl := gomock.NewController(t)
	rig := readyContext(t, ctrl, resources.CreateOptions{})

	material, err := rig.context.CreateMaterial(resources.MaterialCreateInfo{DataSize: 64})
	require.NoError(t, err)

	err = rig.context.Destroy()
	require.Error(t, err)
	require.Contains(t, rig.logs.String(), "[UNRELEASED HANDLE] live object in pool")
	require.Contains(t, rig.logs.String(), "pool=materials")
	require.Contains(t, rig.logs.String(), "[UNRELEASED MEMORY] unfreed suballocation")

	require.True(t, rig.context.ReleaseMaterial(material))
	require.NoError(t, rig.context.Destroy())

	// The material buffer is already gone
	require.NoError(t, rig.context.Destroy())
}

func TestContextStats(t *testing.T) {
	ctrl := gomock.NewController(t)
	rig := readyContext(t, ctrl, resources.CreateOptions{
		Flags:            resources.ContextCreateExternallySynchronized,
		SamplerCapacity:  8,
		MaterialCapacity: 16,
	})
	require.Equal(t, "ContextCreateExternallySynchronized", rig.context.Flags().String())

	_, _ = rig.createSampler(t, ctrl, 0)
	_, err := rig.context.CreateMaterial(resources.MaterialCreateInfo{DataSize: 64})
	require.NoError(t, err)

	json := rig.context.BuildStatsString()
	require.Contains(t, json, `"samplers":{"Capacity":8,"UsedSlots":1,"FreeListSlots":0,"HighWaterMark":1}`)
	require.Contains(t, json, `"materials":{"Capacity":16,"UsedSlots":1,"FreeListSlots":0,"HighWaterMark":1}`)
	require.Contains(t, json, `"Sampler":{"Capacity":8,"UsedSlots":1,"FreeListSlots":0,"HighWaterMark":1}`)
	require.Contains(t, json, `"Total":{"Capacity":536,"UsedSlots":2,"FreeListSlots":0,"HighWaterMark":2}`)
	require.Contains(t, json, `{"Offset":0,"Size":64,"Type":"USED","RequestedSize":64}`)
}

func TestContextConcurrentCreateRelease(t *testing.T) {
	ctrl := gomock.NewController(t)
	rig := readyContext(t, ctrl, resources.CreateOptions{})

	rig.device.EXPECT().CreateBuffer(gomock.Any()).DoAndReturn(func(info gpu.BufferCreateInfo) (gpu.Buffer, error) {
		gpuBuffer := mocks.NewMockBuffer(ctrl)
		gpuBuffer.EXPECT().DeviceAddress().Return(uint64(0x1000)).AnyTimes()
		gpuBuffer.EXPECT().Destroy().Return(nil)
		return gpuBuffer, nil
	}).AnyTimes()
	rig.table.EXPECT().WriteBufferAddress(gomock.Any(), gomock.Any(), uint64(0x1000)).Return(nil).AnyTimes()

	const workers = 8
	const iterations = 32

	var wg sync.WaitGroup
	for worker := 0; worker < workers; worker++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for i := 0; i < iterations; i++ {
				buffer, err := rig.context.CreateBuffer(gpu.BufferCreateInfo{Size: 64, Name: "scratch"})
				if !assert.NoError(t, err) {
					return
				}

				material, err := rig.context.CreateMaterial(resources.MaterialCreateInfo{DataSize: 64})
				if !assert.NoError(t, err) {
					return
				}

				_, _, ok := rig.context.MaterialData(material)
				assert.True(t, ok)
				assert.NoError(t, rig.context.WriteMaterialData(material, 0, []byte{1}))

				assert.True(t, rig.context.ReleaseMaterial(material))
				assert.True(t, rig.context.ReleaseBuffer(buffer))
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 0, rig.context.Registry().SlotStatistics(bindless.ResourceKindBuffer).UsedSlots)
	require.NoError(t, rig.context.Destroy())
}

func TestNewContextValidation(t *testing.T) {
	ctrl := gomock.NewController(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	device := mocks.NewMockDevice(ctrl)
	table := bindless_mocks.NewMockDescriptorTable(ctrl)
	table.EXPECT().FrameCount().Return(2).AnyTimes()

	_, err := resources.New(nil, device, table, resources.CreateOptions{})
	require.Error(t, err)

	_, err = resources.New(logger, nil, table, resources.CreateOptions{})
	require.Error(t, err)

	_, err = resources.New(logger, device, table, resources.CreateOptions{ImageCapacity: -1})
	require.Error(t, err)

	_, err = resources.New(logger, device, table, resources.CreateOptions{MaterialBlockSize: 48})
	require.True(t, errors.Is(err, memutils.PowerOfTwoError))
}
