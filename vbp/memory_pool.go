package vbp

import (
	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/bufferpool/driver"
	"github.com/vkngwrapper/bufferpool/memutils"
	"github.com/vkngwrapper/bufferpool/memutils/metadata"
	"github.com/vkngwrapper/bufferpool/vbp/internal/utils"
	"github.com/vkngwrapper/bufferpool/vbp/internal/vulkan"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"golang.org/x/exp/slog"
)

// blockRef locates the block a live buffer occupies
type blockRef struct {
	page      *page
	handle    metadata.BlockAllocationHandle
	alignment int
}

// MemoryPool sub-allocates buffers out of large pages of driver memory. One MemoryPool should be
// created per logical device and passed to everything that needs buffers from it.
type MemoryPool struct {
	logger      *slog.Logger
	useMutex    bool
	createFlags CreateFlags
	mutex       utils.OptionalMutex

	deviceMemory *vulkan.DeviceMemoryProperties
	pageSize     int
	pools        [common.MaxMemoryTypes]*memoryTypePool

	buffers *swiss.Map[*Buffer, blockRef]
}

// PageSize is the size of every page this memory pool allocates
func (p *MemoryPool) PageSize() int {
	return p.pageSize
}

// PageCount is the number of pages currently allocated for the provided memory type
func (p *MemoryPool) PageCount(memoryTypeIndex int) int {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if memoryTypeIndex < 0 || memoryTypeIndex >= common.MaxMemoryTypes || p.pools[memoryTypeIndex] == nil {
		return 0
	}

	return p.pools[memoryTypeIndex].PageCount()
}

// BufferCount is the number of buffers that have been created and not yet destroyed
func (p *MemoryPool) BufferCount() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return p.buffers.Count()
}

func (p *MemoryPool) driver() driver.Driver {
	return p.deviceMemory.Driver()
}

func (p *MemoryPool) poolFor(memoryTypeIndex int) *memoryTypePool {
	pool := p.pools[memoryTypeIndex]
	if pool == nil {
		pool = &memoryTypePool{}
		pool.Init(p.logger, p.deviceMemory, memoryTypeIndex, p.pageSize)
		p.pools[memoryTypeIndex] = pool
	}

	return pool
}

func noCompatibleMemoryType(memoryTypeBits uint32, properties core1_0.MemoryPropertyFlags) error {
	return errors.Mark(
		errors.Wrapf(ErrNoCompatibleMemoryType, "memory type bits %#x, required properties %s", memoryTypeBits, properties),
		ErrCapacityExceeded,
	)
}

// CreateBuffer creates a buffer able to hold size bytes and binds it to a block in a page of the
// first memory type that is compatible with the buffer and has every property in settings.Properties
func (p *MemoryPool) CreateBuffer(size int, settings Settings) (*Buffer, common.VkResult, error) {
	p.logger.Debug("MemoryPool::CreateBuffer", slog.Int("Size", size))

	p.mutex.Lock()
	defer p.mutex.Unlock()

	return p.createBuffer(size, settings.withDefaults())
}

// CreateBuffers creates one buffer per entry in sizes, all with the same settings. If any of them
// fails, the buffers already created by this call are destroyed and the error is returned.
func (p *MemoryPool) CreateBuffers(sizes []int, settings Settings) ([]*Buffer, common.VkResult, error) {
	p.logger.Debug("MemoryPool::CreateBuffers", slog.Int("Count", len(sizes)))

	p.mutex.Lock()
	defer p.mutex.Unlock()

	settings = settings.withDefaults()
	buffers := make([]*Buffer, 0, len(sizes))
	for _, size := range sizes {
		buffer, res, err := p.createBuffer(size, settings)
		if err != nil {
			for _, created := range buffers {
				err = errors.CombineErrors(err, p.destroyBuffer(created))
			}
			return nil, res, err
		}

		buffers = append(buffers, buffer)
	}

	return buffers, core1_0.VKSuccess, nil
}

func (p *MemoryPool) createBuffer(size int, settings Settings) (*Buffer, common.VkResult, error) {
	if size < 1 {
		return nil, core1_0.VKErrorUnknown, errors.Newf("buffers must have a positive size, but %d was requested", size)
	}

	drv := p.driver()
	rawBuffer, requirements, res, err := drv.CreateBuffer(settings.createInfo(size))
	if err != nil {
		return nil, res, err
	}

	memoryTypeIndex, found := p.deviceMemory.FindMemoryTypeIndex(requirements.MemoryTypeBits, settings.Properties)
	if !found {
		drv.DestroyBuffer(rawBuffer)
		return nil, core1_0.VKErrorFeatureNotPresent, noCompatibleMemoryType(requirements.MemoryTypeBits, settings.Properties)
	}

	buffer := &Buffer{
		size:            size,
		memoryTypeIndex: memoryTypeIndex,
		settings:        settings,
	}

	ref, res, err := p.bindBlock(buffer, rawBuffer, requirements.Size, memutils.LeastCommonMultiple(requirements.Alignment, 1))
	if err != nil {
		drv.DestroyBuffer(rawBuffer)
		return nil, res, err
	}

	buffer.buffer = rawBuffer
	p.buffers.Put(buffer, ref)

	return buffer, res, nil
}

// bindBlock carves a block for buffer from the pool for its memory type and binds rawBuffer to it.
// buffer.offset is only updated if the bind succeeds.
func (p *MemoryPool) bindBlock(buffer *Buffer, rawBuffer driver.Buffer, blockSize, alignment int) (blockRef, common.VkResult, error) {
	pool := p.poolFor(buffer.memoryTypeIndex)

	pg, handle, res, err := pool.Allocate(blockSize, alignment, buffer)
	if err != nil {
		return blockRef{}, res, err
	}

	offset, err := pg.offset(handle)
	if err != nil {
		return blockRef{}, core1_0.VKErrorUnknown, errors.CombineErrors(err, pg.free(handle))
	}

	res, err = pg.memory.BindBuffer(p.driver(), offset, rawBuffer)
	if err != nil {
		return blockRef{}, res, errors.CombineErrors(err, pg.free(handle))
	}

	buffer.offset = offset
	return blockRef{page: pg, handle: handle, alignment: alignment}, res, nil
}

// reallocate moves buffer into a new block sized for newSize. The driver's buffer object is replaced,
// since a buffer object's size and binding can't change. The old contents are not carried over.
//
// If no block can be found, the old block is reserved again at its original offset and the buffer
// is left exactly as it was.
func (p *MemoryPool) reallocate(buffer *Buffer, ref blockRef, newSize int) (common.VkResult, error) {
	p.logger.Debug("MemoryPool::reallocate",
		slog.Int("OldSize", buffer.size),
		slog.Int("NewSize", newSize),
		slog.String("Strategy", buffer.settings.ReallocStrategy.String()))

	drv := p.driver()
	rawBuffer, requirements, res, err := drv.CreateBuffer(buffer.settings.createInfo(newSize))
	if err != nil {
		return res, err
	}

	if requirements.MemoryTypeBits&(1<<uint(buffer.memoryTypeIndex)) == 0 {
		drv.DestroyBuffer(rawBuffer)
		return core1_0.VKErrorFeatureNotPresent, noCompatibleMemoryType(requirements.MemoryTypeBits, buffer.settings.Properties)
	}

	oldPage := ref.page
	oldOffset := buffer.offset
	oldBlockSize, err := oldPage.metadata.AllocationSize(ref.handle)
	if err != nil {
		drv.DestroyBuffer(rawBuffer)
		return core1_0.VKErrorUnknown, err
	}

	err = oldPage.free(ref.handle)
	if err != nil {
		drv.DestroyBuffer(rawBuffer)
		return core1_0.VKErrorUnknown, err
	}

	newRef, res, err := p.bindBlock(buffer, rawBuffer, requirements.Size, memutils.LeastCommonMultiple(requirements.Alignment, ref.alignment))
	if err != nil {
		drv.DestroyBuffer(rawBuffer)

		handle, restoreErr := oldPage.allocateAt(oldOffset, oldBlockSize, ref.alignment, buffer)
		if restoreErr != nil {
			// The buffer no longer owns any memory
			p.buffers.Delete(buffer)
			drv.DestroyBuffer(buffer.buffer)
			buffer.buffer = nil
			return res, errors.CombineErrors(err, errors.Wrap(restoreErr, "failed to restore the previous block after a failed reallocation"))
		}

		p.buffers.Put(buffer, blockRef{page: oldPage, handle: handle, alignment: ref.alignment})
		return res, err
	}

	drv.DestroyBuffer(buffer.buffer)
	buffer.buffer = rawBuffer
	buffer.size = newSize
	p.buffers.Put(buffer, newRef)

	return res, nil
}

// UpdateBuffer copies data to the start of buffer. Depending on the buffer's ReallocStrategy, the
// buffer may first be moved to a larger or smaller block; in that case any previous contents are lost.
// If the buffer is still too small to hold data afterward, ErrCapacityExceeded is returned.
func (p *MemoryPool) UpdateBuffer(buffer *Buffer, data []byte) (common.VkResult, error) {
	p.logger.Debug("MemoryPool::UpdateBuffer", slog.Int("Bytes", len(data)))

	p.mutex.Lock()
	defer p.mutex.Unlock()

	return p.update(buffer, [][]byte{data}, []int{0}, len(data))
}

// UpdateBufferBlobs packs blobs into buffer using the combined layout for the buffer's usage, and
// returns the offset each blob was written to. Reallocation is evaluated against the combined size.
func (p *MemoryPool) UpdateBufferBlobs(buffer *Buffer, blobs [][]byte) ([]int, common.VkResult, error) {
	p.logger.Debug("MemoryPool::UpdateBufferBlobs", slog.Int("BlobCount", len(blobs)))

	p.mutex.Lock()
	defer p.mutex.Unlock()

	if buffer == nil {
		return nil, core1_0.VKErrorUnknown, errors.Wrap(ErrUnknownBuffer, "buffer is nil")
	}

	requiredSize, offsets := CombinedSizeAndOffsets(p.deviceMemory.MinAlignmentFor(buffer.settings.Usage), blobSizes(blobs))
	res, err := p.update(buffer, blobs, offsets, requiredSize)
	if err != nil {
		return nil, res, err
	}

	return offsets, res, nil
}

// UpdateBuffers updates each buffer with the data at the same index, in order. It is not
// transactional: if one update fails, the buffers before it have already been updated and the
// buffers after it are untouched.
func (p *MemoryPool) UpdateBuffers(buffers []*Buffer, data [][]byte) (common.VkResult, error) {
	p.logger.Debug("MemoryPool::UpdateBuffers", slog.Int("Count", len(buffers)))

	if len(buffers) != len(data) {
		return core1_0.VKErrorUnknown, errors.Newf("received %d buffers but %d data slices", len(buffers), len(data))
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()

	for i, buffer := range buffers {
		res, err := p.update(buffer, [][]byte{data[i]}, []int{0}, len(data[i]))
		if err != nil {
			return res, errors.Wrapf(err, "failed to update buffer %d of %d", i, len(buffers))
		}
	}

	return core1_0.VKSuccess, nil
}

func (p *MemoryPool) update(buffer *Buffer, blobs [][]byte, offsets []int, requiredSize int) (common.VkResult, error) {
	if buffer == nil {
		return core1_0.VKErrorUnknown, errors.Wrap(ErrUnknownBuffer, "buffer is nil")
	}

	ref, ok := p.buffers.Get(buffer)
	if !ok {
		return core1_0.VKErrorUnknown, errors.Wrapf(ErrUnknownBuffer, "%s", buffer)
	}

	newSize := buffer.settings.ReallocStrategy.NewSize(buffer.size, requiredSize)
	if newSize != buffer.size {
		res, err := p.reallocate(buffer, ref, newSize)
		if err != nil {
			return res, err
		}

		ref, _ = p.buffers.Get(buffer)
	}

	if requiredSize > buffer.size {
		return core1_0.VKErrorOutOfDeviceMemory, errors.Wrapf(ErrCapacityExceeded,
			"%d bytes do not fit in a buffer of size %d with strategy %s",
			requiredSize, buffer.size, buffer.settings.ReallocStrategy)
	}

	return ref.page.memory.Write(p.driver(), buffer.offset, blobs, offsets)
}

// DestroyBuffer destroys the driver's buffer object and returns its block to the page it came from.
// Destroying a buffer that is not registered with this memory pool, including one that was already
// destroyed, does nothing.
func (p *MemoryPool) DestroyBuffer(buffer *Buffer) error {
	p.logger.Debug("MemoryPool::DestroyBuffer")

	p.mutex.Lock()
	defer p.mutex.Unlock()

	return p.destroyBuffer(buffer)
}

// DestroyBuffers destroys each buffer in turn. Unregistered buffers are skipped.
func (p *MemoryPool) DestroyBuffers(buffers []*Buffer) error {
	p.logger.Debug("MemoryPool::DestroyBuffers", slog.Int("Count", len(buffers)))

	p.mutex.Lock()
	defer p.mutex.Unlock()

	var err error
	for _, buffer := range buffers {
		err = errors.CombineErrors(err, p.destroyBuffer(buffer))
	}

	return err
}

func (p *MemoryPool) destroyBuffer(buffer *Buffer) error {
	if buffer == nil {
		return nil
	}

	ref, ok := p.buffers.Get(buffer)
	if !ok {
		return nil
	}

	p.buffers.Delete(buffer)
	p.driver().DestroyBuffer(buffer.buffer)
	buffer.buffer = nil

	return ref.page.free(ref.handle)
}

// Destroy returns every page to the driver. If any buffer has not been destroyed, each one is logged,
// nothing is freed, and an error is returned.
func (p *MemoryPool) Destroy() error {
	p.logger.Debug("MemoryPool::Destroy")

	p.mutex.Lock()
	defer p.mutex.Unlock()

	liveCount := p.buffers.Count()
	if liveCount > 0 {
		for _, pool := range p.pools {
			if pool != nil {
				pool.LogUnreleased()
			}
		}

		return errors.Newf("%d buffers were not destroyed before the destruction of the memory pool", liveCount)
	}

	for typeIndex, pool := range p.pools {
		if pool == nil {
			continue
		}

		err := pool.Destroy()
		if err != nil {
			return err
		}
		p.pools[typeIndex] = nil
	}

	return nil
}

// Validate checks that every page is exactly tiled by its blocks, that no two free blocks are
// adjacent, that every taken block is aligned, and that every registered buffer owns the block it
// believes it does
func (p *MemoryPool) Validate() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	allocationCount := 0
	for _, pool := range p.pools {
		if pool == nil {
			continue
		}

		err := pool.Validate()
		if err != nil {
			return err
		}

		for _, pg := range pool.pages {
			allocationCount += pg.metadata.AllocationCount()
		}
	}

	if allocationCount != p.buffers.Count() {
		return errors.Newf("%d blocks are taken, but %d buffers are registered", allocationCount, p.buffers.Count())
	}

	var err error
	p.buffers.Iter(func(buffer *Buffer, ref blockRef) bool {
		userData, getErr := ref.page.metadata.AllocationUserData(ref.handle)
		if getErr != nil {
			err = errors.Wrapf(getErr, "%s has a stale block handle", buffer)
			return true
		}
		if userData != buffer {
			err = errors.Newf("%s is registered to a block belonging to another buffer", buffer)
			return true
		}
		blockAlignment, getErr := ref.page.metadata.AllocationAlignment(ref.handle)
		if getErr != nil {
			err = errors.Wrapf(getErr, "%s has a stale block handle", buffer)
			return true
		}
		if blockAlignment != ref.alignment {
			err = errors.Newf("%s expects alignment %d but its block was carved with alignment %d", buffer, ref.alignment, blockAlignment)
			return true
		}
		if ref.page.memoryTypeIndex != buffer.memoryTypeIndex {
			err = errors.Newf("%s has memory type %d but lives in a page of memory type %d", buffer, buffer.memoryTypeIndex, ref.page.memoryTypeIndex)
			return true
		}
		if memutils.AlignmentShift(buffer.offset, ref.alignment) != 0 {
			err = errors.Newf("%s is at offset %d, which does not satisfy alignment %d", buffer, buffer.offset, ref.alignment)
			return true
		}

		return false
	})

	return err
}
