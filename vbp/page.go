package vbp

import (
	"context"

	"github.com/dustin/go-humanize"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/pkg/errors"
	"github.com/vkngwrapper/bufferpool/memutils"
	"github.com/vkngwrapper/bufferpool/memutils/metadata"
	"github.com/vkngwrapper/bufferpool/vbp/internal/vulkan"
	"golang.org/x/exp/slog"
)

// page is one backing allocation, tiled by blocks. Taken blocks carry the *Buffer they belong to
// as user data.
type page struct {
	id              int
	memory          *vulkan.SynchronizedMemory
	memoryTypeIndex int
	logger          *slog.Logger

	metadata     *metadata.FirstFitBlockMetadata
	deviceMemory *vulkan.DeviceMemoryProperties
}

func (p *page) Init(
	logger *slog.Logger,
	deviceMemory *vulkan.DeviceMemoryProperties,
	memoryTypeIndex int,
	memory *vulkan.SynchronizedMemory,
	size int,
	id int,
) {
	if p.memory != nil {
		panic("attempting to initialize a page that is already in use")
	}

	p.id = id
	p.memory = memory
	p.memoryTypeIndex = memoryTypeIndex
	p.logger = logger
	p.deviceMemory = deviceMemory

	p.metadata = metadata.NewFirstFitBlockMetadata()
	p.metadata.Init(size)
}

func (p *page) Size() int {
	return p.metadata.Size()
}

func (p *page) heapIndex() int {
	return p.deviceMemory.MemoryTypeIndexToHeapIndex(p.memoryTypeIndex)
}

// tryAllocate carves a block from the first free range that fits. The boolean return is false if
// nothing in the page fits.
func (p *page) tryAllocate(size, alignment int, buffer *Buffer) (metadata.BlockAllocationHandle, bool, error) {
	memutils.DebugCheckAlignment(alignment, "alignment")

	if !p.metadata.MayHaveFreeBlock(size) {
		return metadata.NoAllocation, false, nil
	}

	success, request, err := p.metadata.CreateAllocationRequest(size, alignment)
	if err != nil || !success {
		return metadata.NoAllocation, false, err
	}

	return p.commit(request, buffer)
}

// allocateAt re-reserves an exact range that is known to be free
func (p *page) allocateAt(offset, size, alignment int, buffer *Buffer) (metadata.BlockAllocationHandle, error) {
	success, request, err := p.metadata.CreateAllocationRequestAt(offset, size, alignment)
	if err != nil {
		return metadata.NoAllocation, err
	}
	if !success {
		return metadata.NoAllocation, errors.Errorf("the range at offset %d of size %d in page %d is not free", offset, size, p.id)
	}

	handle, _, err := p.commit(request, buffer)
	return handle, err
}

func (p *page) commit(request metadata.AllocationRequest, buffer *Buffer) (metadata.BlockAllocationHandle, bool, error) {
	err := p.metadata.Alloc(request, buffer)
	if err != nil {
		return metadata.NoAllocation, false, err
	}

	p.memory.RecordSuballocSubfree(p.deviceMemory.Driver())
	p.deviceMemory.AddAllocation(p.heapIndex(), request.Size)

	return request.BlockAllocationHandle, true, nil
}

func (p *page) offset(handle metadata.BlockAllocationHandle) (int, error) {
	return p.metadata.AllocationOffset(handle)
}

// free returns a block to the page and merges it with its free neighbors
func (p *page) free(handle metadata.BlockAllocationHandle) error {
	size, err := p.metadata.AllocationSize(handle)
	if err != nil {
		return err
	}

	err = p.metadata.Free(handle)
	if err != nil {
		return err
	}

	p.memory.RecordSuballocSubfree(p.deviceMemory.Driver())
	p.deviceMemory.RemoveAllocation(p.heapIndex(), size)

	return nil
}

func (p *page) Destroy() error {
	if !p.metadata.IsEmpty() {
		p.logUnreleasedBuffers()
		return errors.New("some buffers were not destroyed before the destruction of this page!")
	}

	if p.memory == nil {
		panic("attempting to destroy a page, but it did not have a backing memory handle")
	}

	p.logger.Debug("Freeing page",
		slog.Int("ID", p.id),
		slog.Int("MemoryTypeIndex", p.memoryTypeIndex),
		slog.String("Size", humanize.IBytes(uint64(p.Size()))))
	p.deviceMemory.FreePage(p.memoryTypeIndex, p.memory)

	p.memory = nil
	p.metadata = nil
	return nil
}

func (p *page) logUnreleasedBuffers() {
	err := p.metadata.VisitAllRegions(func(handle metadata.BlockAllocationHandle, offset int, size int, userData any, free bool) error {
		if free {
			return nil
		}

		p.logUnreleasedMemory(offset, size, userData)
		return nil
	})
	if err != nil {
		p.logger.LogAttrs(context.Background(),
			slog.LevelError,
			"[UNRELEASED MEMORY] error while iterating unreleased memory",
			slog.Any("error", err))
	}
}

func (p *page) logUnreleasedMemory(offset, size int, userData any) {
	attrs := []slog.Attr{
		slog.Int("page", p.id),
		slog.Int("offset", offset),
		slog.Int("size", size),
	}

	if buffer, ok := userData.(*Buffer); ok && buffer != nil {
		attrs = append(attrs,
			slog.Int("bufferSize", buffer.Size()),
			slog.String("usage", buffer.Settings().Usage.String()))
	}

	p.logger.LogAttrs(context.Background(), slog.LevelError, "[UNRELEASED MEMORY] undestroyed buffer", attrs...)
}

func (p *page) Validate() error {
	if p.memory == nil {
		return errors.New("no valid memory for this page")
	}
	if p.metadata.Size() < 1 {
		return errors.New("this page's metadata has an invalid size")
	}

	freeRegions := 0
	freeBytes := 0
	err := p.metadata.VisitAllRegions(func(handle metadata.BlockAllocationHandle, offset, size int, userData any, free bool) error {
		if free {
			freeRegions++
			freeBytes += size
		}

		buffer, isBuffer := userData.(*Buffer)
		if free && isBuffer {
			return errors.Errorf("a block at offset %d is marked as free but contains a buffer", offset)
		} else if !free && (!isBuffer || buffer == nil) {
			return errors.Errorf("a block at offset %d is marked as taken but has no buffer", offset)
		} else if !free && buffer.offset != offset {
			return errors.Errorf("a block at offset %d holds a buffer that believes it is at offset %d", offset, buffer.offset)
		} else if !free && buffer.size > size {
			return errors.Errorf("a block at offset %d of size %d holds a buffer of size %d", offset, size, buffer.size)
		}

		return nil
	})

	if err != nil {
		return err
	}

	if freeRegions != p.metadata.FreeRegionsCount() {
		return errors.Errorf("page has %d free blocks but its metadata counts %d", freeRegions, p.metadata.FreeRegionsCount())
	}
	if freeBytes != p.metadata.SumFreeSize() {
		return errors.Errorf("page has %d free bytes but its metadata counts %d", freeBytes, p.metadata.SumFreeSize())
	}

	return p.metadata.Validate()
}

func (p *page) PrintDetailedMap(json *jwriter.ObjectState) {
	json.Name("MapReferences").Int(p.memory.References())
	p.metadata.BlockJsonData(json)
}
