// Package hostmem implements driver.Driver on top of ordinary host memory. Every backing allocation
// is a byte slice, so buffers written through a memory pool can be read back and checked byte for byte.
// It is meant for tests and for CPU-side tooling that wants the pool's placement behavior without a GPU.
package hostmem

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/bufferpool/driver"
	"github.com/vkngwrapper/bufferpool/memutils"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
)

// Options configures the device a Driver pretends to be
type Options struct {
	MemoryTypes []core1_0.MemoryType
	MemoryHeaps []core1_0.MemoryHeap
	Limits      core1_0.PhysicalDeviceLimits

	// MemoryTypeBits is the compatible memory type bitmask reported for every buffer. Zero means
	// every memory type is compatible.
	MemoryTypeBits uint32
	// BufferAlignment is the base alignment reported for every buffer before usage limits are applied.
	// Zero means 1.
	BufferAlignment int
}

// DefaultOptions describes a discrete GPU with one device-local and one host-visible coherent memory type
func DefaultOptions() Options {
	return Options{
		MemoryTypes: []core1_0.MemoryType{
			{
				PropertyFlags: core1_0.MemoryPropertyDeviceLocal,
				HeapIndex:     0,
			},
			{
				PropertyFlags: core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent,
				HeapIndex:     1,
			},
		},
		MemoryHeaps: []core1_0.MemoryHeap{
			{
				Size:  1024 * 1024 * 1024,
				Flags: core1_0.MemoryHeapDeviceLocal,
			},
			{
				Size:  1024 * 1024 * 1024,
				Flags: 0,
			},
		},
		Limits: core1_0.PhysicalDeviceLimits{
			MinTexelBufferOffsetAlignment:   16,
			MinUniformBufferOffsetAlignment: 256,
			MinStorageBufferOffsetAlignment: 64,
			NonCoherentAtomSize:             64,
			BufferImageGranularity:          1,
			MaxMemoryAllocationCount:        4096,
		},
	}
}

// Buffer is the buffer object handle produced by Driver.CreateBuffer
type Buffer struct {
	createInfo   core1_0.BufferCreateInfo
	requirements core1_0.MemoryRequirements

	memory    *Memory
	offset    int
	destroyed bool
}

// Size is the size the buffer was created with
func (b *Buffer) Size() int { return b.createInfo.Size }

// Usage is the usage the buffer was created with
func (b *Buffer) Usage() core1_0.BufferUsageFlags { return b.createInfo.Usage }

// Memory is the backing allocation the buffer was bound to, or nil
func (b *Buffer) Memory() *Memory { return b.memory }

// Offset is the offset within Memory the buffer was bound at
func (b *Buffer) Offset() int { return b.offset }

// Memory is the backing allocation handle produced by Driver.AllocateMemory
type Memory struct {
	data            []byte
	memoryTypeIndex int
	mapped          bool
	freed           bool
}

// Size is the size of the backing allocation in bytes
func (m *Memory) Size() int { return len(m.data) }

// MemoryTypeIndex is the memory type the allocation was made from
func (m *Memory) MemoryTypeIndex() int { return m.memoryTypeIndex }

// Mapped reports whether the allocation is currently mapped
func (m *Memory) Mapped() bool { return m.mapped }

// Driver is a driver.Driver backed by host memory
type Driver struct {
	options Options

	liveBuffers map[*Buffer]struct{}
	liveMemory  map[*Memory]struct{}

	// Failure injection: when set, the next matching call fails with the stored result and the value is cleared
	FailNextCreateBuffer common.VkResult
	FailNextAllocation   common.VkResult
	FailNextBind         common.VkResult
	FailNextMap          common.VkResult
}

var _ driver.Driver = &Driver{}

func New(options Options) *Driver {
	return &Driver{
		options:     options,
		liveBuffers: make(map[*Buffer]struct{}),
		liveMemory:  make(map[*Memory]struct{}),
	}
}

func takeFailure(failure *common.VkResult) (common.VkResult, error) {
	res := *failure
	if res == core1_0.VKSuccess {
		return core1_0.VKSuccess, nil
	}

	*failure = core1_0.VKSuccess
	return res, res.ToError()
}

func (d *Driver) PhysicalDeviceProperties() (*core1_0.PhysicalDeviceProperties, error) {
	limits := d.options.Limits
	return &core1_0.PhysicalDeviceProperties{
		DriverType: core1_0.PhysicalDeviceTypeDiscreteGPU,
		Limits:     &limits,
	}, nil
}

func (d *Driver) MemoryProperties() *core1_0.PhysicalDeviceMemoryProperties {
	return &core1_0.PhysicalDeviceMemoryProperties{
		MemoryTypes: append([]core1_0.MemoryType(nil), d.options.MemoryTypes...),
		MemoryHeaps: append([]core1_0.MemoryHeap(nil), d.options.MemoryHeaps...),
	}
}

func (d *Driver) bufferAlignment(usage core1_0.BufferUsageFlags) int {
	alignment := d.options.BufferAlignment
	if alignment < 1 {
		alignment = 1
	}

	if usage&(core1_0.BufferUsageUniformTexelBuffer|core1_0.BufferUsageStorageTexelBuffer) != 0 {
		alignment = memutils.LeastCommonMultiple(alignment, int(d.options.Limits.MinTexelBufferOffsetAlignment))
	}
	if usage&core1_0.BufferUsageUniformBuffer != 0 {
		alignment = memutils.LeastCommonMultiple(alignment, int(d.options.Limits.MinUniformBufferOffsetAlignment))
	}
	if usage&core1_0.BufferUsageStorageBuffer != 0 {
		alignment = memutils.LeastCommonMultiple(alignment, int(d.options.Limits.MinStorageBufferOffsetAlignment))
	}

	return alignment
}

func (d *Driver) CreateBuffer(createInfo core1_0.BufferCreateInfo) (driver.Buffer, *core1_0.MemoryRequirements, common.VkResult, error) {
	res, err := takeFailure(&d.FailNextCreateBuffer)
	if err != nil {
		return nil, nil, res, err
	}

	err = memutils.CheckSize(createInfo.Size, "createInfo.Size")
	if err != nil {
		return nil, nil, core1_0.VKErrorUnknown, err
	}

	memoryTypeBits := d.options.MemoryTypeBits
	if memoryTypeBits == 0 {
		memoryTypeBits = (uint32(1) << len(d.options.MemoryTypes)) - 1
	}

	alignment := d.bufferAlignment(createInfo.Usage)
	buffer := &Buffer{
		createInfo: createInfo,
		requirements: core1_0.MemoryRequirements{
			Size:           memutils.AlignUp(createInfo.Size, alignment),
			Alignment:      alignment,
			MemoryTypeBits: memoryTypeBits,
		},
	}
	d.liveBuffers[buffer] = struct{}{}

	requirements := buffer.requirements
	return buffer, &requirements, core1_0.VKSuccess, nil
}

func (d *Driver) DestroyBuffer(buffer driver.Buffer) {
	hostBuffer, ok := buffer.(*Buffer)
	if !ok || hostBuffer.destroyed {
		panic("attempted to destroy a buffer that is not live")
	}

	hostBuffer.destroyed = true
	delete(d.liveBuffers, hostBuffer)
}

func (d *Driver) BindBufferMemory(buffer driver.Buffer, memory driver.Memory, offset int) (common.VkResult, error) {
	res, err := takeFailure(&d.FailNextBind)
	if err != nil {
		return res, err
	}

	hostBuffer, ok := buffer.(*Buffer)
	if !ok || hostBuffer.destroyed {
		return core1_0.VKErrorUnknown, errors.New("attempted to bind a buffer that is not live")
	}

	hostMemory, ok := memory.(*Memory)
	if !ok || hostMemory.freed {
		return core1_0.VKErrorUnknown, errors.New("attempted to bind to memory that is not live")
	}

	if hostBuffer.memory != nil {
		return core1_0.VKErrorUnknown, errors.New("buffer is already bound to memory")
	}

	if offset%hostBuffer.requirements.Alignment != 0 {
		return core1_0.VKErrorUnknown, errors.Newf("offset %d does not satisfy the buffer's alignment of %d", offset, hostBuffer.requirements.Alignment)
	}

	if offset < 0 || offset+hostBuffer.requirements.Size > len(hostMemory.data) {
		return core1_0.VKErrorUnknown, errors.Newf("buffer of size %d at offset %d does not fit in memory of size %d", hostBuffer.requirements.Size, offset, len(hostMemory.data))
	}

	if hostBuffer.requirements.MemoryTypeBits&(1<<hostMemory.memoryTypeIndex) == 0 {
		return core1_0.VKErrorUnknown, errors.Newf("buffer is not compatible with memory type %d", hostMemory.memoryTypeIndex)
	}

	hostBuffer.memory = hostMemory
	hostBuffer.offset = offset
	return core1_0.VKSuccess, nil
}

func (d *Driver) AllocateMemory(allocateInfo core1_0.MemoryAllocateInfo) (driver.Memory, common.VkResult, error) {
	res, err := takeFailure(&d.FailNextAllocation)
	if err != nil {
		return nil, res, err
	}

	if allocateInfo.MemoryTypeIndex < 0 || allocateInfo.MemoryTypeIndex >= len(d.options.MemoryTypes) {
		return nil, core1_0.VKErrorUnknown, errors.Newf("invalid memory type index %d", allocateInfo.MemoryTypeIndex)
	}

	if len(d.liveMemory) >= int(d.options.Limits.MaxMemoryAllocationCount) {
		return nil, core1_0.VKErrorTooManyObjects, core1_0.VKErrorTooManyObjects.ToError()
	}

	memory := &Memory{
		data:            make([]byte, allocateInfo.AllocationSize),
		memoryTypeIndex: allocateInfo.MemoryTypeIndex,
	}
	d.liveMemory[memory] = struct{}{}

	return memory, core1_0.VKSuccess, nil
}

func (d *Driver) FreeMemory(memory driver.Memory) {
	hostMemory, ok := memory.(*Memory)
	if !ok || hostMemory.freed {
		panic("attempted to free memory that is not live")
	}

	hostMemory.freed = true
	hostMemory.data = nil
	delete(d.liveMemory, hostMemory)
}

func (d *Driver) MapMemory(memory driver.Memory, offset int, size int) (unsafe.Pointer, common.VkResult, error) {
	res, err := takeFailure(&d.FailNextMap)
	if err != nil {
		return nil, res, err
	}

	hostMemory, ok := memory.(*Memory)
	if !ok || hostMemory.freed {
		return nil, core1_0.VKErrorMemoryMapFailed, errors.New("attempted to map memory that is not live")
	}

	flags := d.options.MemoryTypes[hostMemory.memoryTypeIndex].PropertyFlags
	if flags&core1_0.MemoryPropertyHostVisible == 0 {
		return nil, core1_0.VKErrorMemoryMapFailed, errors.Newf("memory type %d is not host visible", hostMemory.memoryTypeIndex)
	}

	if hostMemory.mapped {
		return nil, core1_0.VKErrorMemoryMapFailed, errors.New("memory is already mapped")
	}

	if offset < 0 || offset+size > len(hostMemory.data) {
		return nil, core1_0.VKErrorMemoryMapFailed, errors.Newf("range [%d, %d) is outside memory of size %d", offset, offset+size, len(hostMemory.data))
	}

	hostMemory.mapped = true
	return unsafe.Pointer(&hostMemory.data[offset]), core1_0.VKSuccess, nil
}

func (d *Driver) UnmapMemory(memory driver.Memory) {
	hostMemory, ok := memory.(*Memory)
	if !ok || !hostMemory.mapped {
		panic("attempted to unmap memory that is not mapped")
	}

	hostMemory.mapped = false
}

// LiveBufferCount is the number of buffers created and not yet destroyed
func (d *Driver) LiveBufferCount() int {
	return len(d.liveBuffers)
}

// LiveMemoryCount is the number of backing allocations made and not yet freed
func (d *Driver) LiveMemoryCount() int {
	return len(d.liveMemory)
}

// Contents returns a copy of the bytes currently stored in the range of memory a buffer is bound to
func (d *Driver) Contents(buffer driver.Buffer, size int) ([]byte, error) {
	hostBuffer, ok := buffer.(*Buffer)
	if !ok || hostBuffer.destroyed {
		return nil, errors.New("buffer is not live")
	}

	if hostBuffer.memory == nil {
		return nil, errors.New("buffer is not bound")
	}

	if size > hostBuffer.requirements.Size {
		return nil, errors.Newf("requested %d bytes from a buffer of size %d", size, hostBuffer.requirements.Size)
	}

	out := make([]byte, size)
	copy(out, hostBuffer.memory.data[hostBuffer.offset:hostBuffer.offset+size])
	return out, nil
}
