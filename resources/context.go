package resources

import (
	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/bindless/bindless"
	"github.com/vkngwrapper/bindless/gpu"
	"github.com/vkngwrapper/bindless/internal/utils"
	"github.com/vkngwrapper/bindless/memutils"
	"github.com/vkngwrapper/bindless/pool"
	"github.com/vkngwrapper/bindless/suballoc"
	"github.com/vkngwrapper/core/v2/core1_0"
	"golang.org/x/exp/slog"
)

// Context owns every pooled GPU resource: its pools, the bindless registry that publishes them to
// shaders, and the shared buffer that material data is sub-allocated from. Subsystems that create or
// look up resources receive the Context they should use.
//
// Unless created with ContextCreateExternallySynchronized, all methods are safe for concurrent use.
// Pointers returned by the Get methods remain valid only until the resource is released.
type Context struct {
	logger *slog.Logger
	device gpu.Device
	flags  CreateFlags
	mutex  utils.OptionalMutex

	registry     *bindless.Registry
	materialData *suballoc.Allocator

	buffers   *pool.Pool[Buffer, *Buffer]
	images    *pool.Pool[Image, *Image]
	samplers  *pool.Pool[Sampler, *Sampler]
	materials *pool.Pool[Material, *Material]
}

// MaterialCreateInfo describes a material. Every texture and sampler handle must be live; the material
// retains each of them until it is released.
type MaterialCreateInfo struct {
	// DataSize is the number of bytes of material data. A material with no data has no device address.
	DataSize int
	Textures []pool.Handle[Image]
	Samplers []pool.Handle[Sampler]
}

func (c *Context) Flags() CreateFlags { return c.flags }

// Registry is the bindless registry resources are published through
func (c *Context) Registry() *bindless.Registry { return c.registry }

// CreateBuffer creates a GPU buffer with a device address and registers it in a bindless buffer slot
func (c *Context) CreateBuffer(info gpu.BufferCreateInfo) (pool.Handle[Buffer], error) {
	c.logger.Debug("Context::CreateBuffer", slog.String("name", info.Name))

	c.mutex.Lock()
	defer c.mutex.Unlock()

	handle, err := c.buffers.CreateHandle()
	if err != nil {
		return pool.Handle[Buffer]{}, err
	}

	record, _ := c.buffers.Get(handle)
	record.owner = c

	info.Flags |= gpu.BufferCreateDeviceAddress
	record.buffer, err = c.device.CreateBuffer(info)
	if err != nil {
		c.buffers.Release(handle)
		return pool.Handle[Buffer]{}, errors.Wrapf(err, "failed to create buffer %s", info.Name)
	}

	record.slot, err = c.registry.RegisterBuffer(record.buffer.DeviceAddress())
	if err != nil {
		c.buffers.Release(handle)
		return pool.Handle[Buffer]{}, errors.Wrapf(err, "failed to register buffer %s", info.Name)
	}
	record.registered = true

	return handle, nil
}

// AddImage takes ownership of an image and registers it in a bindless texture slot. The image is
// destroyed when its last reference is released.
func (c *Context) AddImage(image gpu.Image) (pool.Handle[Image], error) {
	c.logger.Debug("Context::AddImage")

	if image == nil {
		return pool.Handle[Image]{}, errors.New("attempted to add a nil image")
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	handle, err := c.images.CreateHandle()
	if err != nil {
		return pool.Handle[Image]{}, err
	}

	record, _ := c.images.Get(handle)
	record.owner = c
	record.image = image

	record.slot, err = c.registry.RegisterTexture(image.View(), image.Layout())
	if err != nil {
		c.images.Release(handle)
		return pool.Handle[Image]{}, errors.Wrap(err, "failed to register image")
	}
	record.registered = true

	return handle, nil
}

// CreateSampler creates a GPU sampler and registers it in a bindless sampler slot
func (c *Context) CreateSampler(info core1_0.SamplerCreateInfo) (pool.Handle[Sampler], error) {
	c.logger.Debug("Context::CreateSampler")

	c.mutex.Lock()
	defer c.mutex.Unlock()

	handle, err := c.samplers.CreateHandle()
	if err != nil {
		return pool.Handle[Sampler]{}, err
	}

	record, _ := c.samplers.Get(handle)
	record.owner = c

	record.sampler, err = c.device.CreateSampler(info)
	if err != nil {
		c.samplers.Release(handle)
		return pool.Handle[Sampler]{}, errors.Wrap(err, "failed to create sampler")
	}

	record.slot, err = c.registry.RegisterSampler(record.sampler.Handle())
	if err != nil {
		c.samplers.Release(handle)
		return pool.Handle[Sampler]{}, errors.Wrap(err, "failed to register sampler")
	}
	record.registered = true

	return handle, nil
}

// CreateMaterial sub-allocates the material's data from the shared material buffer and retains every
// texture and sampler it references
func (c *Context) CreateMaterial(info MaterialCreateInfo) (pool.Handle[Material], error) {
	c.logger.Debug("Context::CreateMaterial", slog.Int("dataSize", info.DataSize))

	if info.DataSize < 0 {
		return pool.Handle[Material]{}, errors.Newf("material data size must not be negative, but was %d", info.DataSize)
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	for _, texture := range info.Textures {
		if !c.images.IsLive(texture) {
			return pool.Handle[Material]{}, errors.Wrapf(memutils.ErrInvalidIndex, "material references image %s, which is not live", texture)
		}
	}
	for _, sampler := range info.Samplers {
		if !c.samplers.IsLive(sampler) {
			return pool.Handle[Material]{}, errors.Wrapf(memutils.ErrInvalidIndex, "material references sampler %s, which is not live", sampler)
		}
	}

	handle, err := c.materials.CreateHandle()
	if err != nil {
		return pool.Handle[Material]{}, err
	}

	record, _ := c.materials.Get(handle)
	record.owner = c

	if info.DataSize > 0 {
		record.data, err = c.materialData.Alloc(info.DataSize)
		if err != nil {
			c.materials.Release(handle)
			return pool.Handle[Material]{}, errors.Wrapf(err, "failed to allocate %d bytes of material data", info.DataSize)
		}
		record.hasData = true
	}

	record.textures = append([]pool.Handle[Image](nil), info.Textures...)
	for _, texture := range record.textures {
		c.images.Retain(texture)
	}
	record.samplers = append([]pool.Handle[Sampler](nil), info.Samplers...)
	for _, sampler := range record.samplers {
		c.samplers.Retain(sampler)
	}

	return handle, nil
}

// MaterialData returns the mapped bytes of a material's data and their device address. It returns false
// if the handle is stale or the material has no data.
func (c *Context) MaterialData(handle pool.Handle[Material]) ([]byte, uint64, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	record, ok := c.materials.Get(handle)
	if !ok || !record.hasData {
		return nil, 0, false
	}

	data, err := c.materialData.Bytes(record.data)
	if err != nil {
		return nil, 0, false
	}

	return data, c.materialData.DeviceAddress(record.data), true
}

// WriteMaterialData copies data into a material's data block, starting offset bytes in
func (c *Context) WriteMaterialData(handle pool.Handle[Material], offset int, data []byte) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	record, ok := c.materials.Get(handle)
	if !ok {
		return errors.Wrapf(memutils.ErrInvalidIndex, "material %s is not live", handle)
	}
	if !record.hasData {
		return errors.Newf("material %s has no data", handle)
	}

	return c.materialData.Write(record.data, offset, data)
}

func (c *Context) GetBuffer(handle pool.Handle[Buffer]) (*Buffer, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return c.buffers.Get(handle)
}

func (c *Context) GetImage(handle pool.Handle[Image]) (*Image, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return c.images.Get(handle)
}

func (c *Context) GetSampler(handle pool.Handle[Sampler]) (*Sampler, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return c.samplers.Get(handle)
}

func (c *Context) GetMaterial(handle pool.Handle[Material]) (*Material, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return c.materials.Get(handle)
}

func (c *Context) RetainBuffer(handle pool.Handle[Buffer]) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.buffers.Retain(handle)
}

func (c *Context) RetainImage(handle pool.Handle[Image]) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.images.Retain(handle)
}

func (c *Context) RetainSampler(handle pool.Handle[Sampler]) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.samplers.Retain(handle)
}

func (c *Context) RetainMaterial(handle pool.Handle[Material]) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.materials.Retain(handle)
}

// ReleaseBuffer drops a reference to a buffer. When the last reference is dropped, its bindless slot is
// freed and the GPU buffer is destroyed, and ReleaseBuffer returns true.
func (c *Context) ReleaseBuffer(handle pool.Handle[Buffer]) bool {
	c.logger.Debug("Context::ReleaseBuffer", slog.String("handle", handle.String()))

	c.mutex.Lock()
	defer c.mutex.Unlock()

	return c.buffers.Release(handle)
}

func (c *Context) ReleaseImage(handle pool.Handle[Image]) bool {
	c.logger.Debug("Context::ReleaseImage", slog.String("handle", handle.String()))

	c.mutex.Lock()
	defer c.mutex.Unlock()

	return c.images.Release(handle)
}

func (c *Context) ReleaseSampler(handle pool.Handle[Sampler]) bool {
	c.logger.Debug("Context::ReleaseSampler", slog.String("handle", handle.String()))

	c.mutex.Lock()
	defer c.mutex.Unlock()

	return c.samplers.Release(handle)
}

// ReleaseMaterial drops a reference to a material. When the last reference is dropped, its data is freed
// and it releases the textures and samplers it retained.
func (c *Context) ReleaseMaterial(handle pool.Handle[Material]) bool {
	c.logger.Debug("Context::ReleaseMaterial", slog.String("handle", handle.String()))

	c.mutex.Lock()
	defer c.mutex.Unlock()

	return c.materials.Release(handle)
}

func (c *Context) printPools(json jwriter.ObjectState) {
	pools := []struct {
		name string
		add  func(stats *memutils.SlotStatistics)
	}{
		{c.buffers.Name(), c.buffers.AddSlotStatistics},
		{c.images.Name(), c.images.AddSlotStatistics},
		{c.samplers.Name(), c.samplers.AddSlotStatistics},
		{c.materials.Name(), c.materials.AddSlotStatistics},
	}

	var total memutils.SlotStatistics
	for _, p := range pools {
		var stats memutils.SlotStatistics
		p.add(&stats)
		total.AddSlotStatistics(&stats)

		obj := json.Name(p.name).Object()
		stats.PrintJson(obj)
		obj.End()
	}

	totalObj := json.Name("Total").Object()
	total.PrintJson(totalObj)
	totalObj.End()
}

// BuildStatsString returns a json document describing pool occupancy, bindless slot usage and the
// layout of the material data buffer
func (c *Context) BuildStatsString() string {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	writer := jwriter.NewWriter()
	obj := writer.Object()

	poolsObj := obj.Name("Pools").Object()
	c.printPools(poolsObj)
	poolsObj.End()

	registryObj := obj.Name("Registry").Object()
	c.registry.PrintJson(registryObj)
	registryObj.End()

	materialDataObj := obj.Name("MaterialData").Object()
	c.materialData.PrintDetailedMap(materialDataObj)
	materialDataObj.End()

	obj.End()
	return string(writer.Bytes())
}

// Destroy destroys the material data buffer. Every resource should have been released first: live
// resources are logged, and their GPU objects are left alive.
func (c *Context) Destroy() error {
	c.logger.Debug("Context::Destroy")

	c.mutex.Lock()
	defer c.mutex.Unlock()

	unreleased := c.materials.ReportUnreleased() +
		c.buffers.ReportUnreleased() +
		c.images.ReportUnreleased() +
		c.samplers.ReportUnreleased()

	err := c.materialData.Destroy()
	if unreleased > 0 {
		return errors.CombineErrors(errors.Newf("%d resources were not released before the context was destroyed", unreleased), err)
	}
	return err
}
