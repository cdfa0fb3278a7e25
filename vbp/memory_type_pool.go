package vbp

import (
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/bufferpool/memutils"
	"github.com/vkngwrapper/bufferpool/memutils/metadata"
	"github.com/vkngwrapper/bufferpool/vbp/internal/vulkan"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"golang.org/x/exp/slog"
)

// memoryTypePool is every page allocated for a single memory type. Pages are never returned to the
// driver before the MemoryPool itself is destroyed.
type memoryTypePool struct {
	logger       *slog.Logger
	deviceMemory *vulkan.DeviceMemoryProperties

	memoryTypeIndex int
	pageSize        int

	pages      []*page
	nextPageID int
}

func (l *memoryTypePool) Init(
	logger *slog.Logger,
	deviceMemory *vulkan.DeviceMemoryProperties,
	memoryTypeIndex int,
	pageSize int,
) {
	l.logger = logger
	l.deviceMemory = deviceMemory
	l.memoryTypeIndex = memoryTypeIndex
	l.pageSize = pageSize
}

func (l *memoryTypePool) MemoryTypeIndex() int { return l.memoryTypeIndex }
func (l *memoryTypePool) PageCount() int       { return len(l.pages) }

func (l *memoryTypePool) Destroy() error {
	var err error
	for _, p := range l.pages {
		err = errors.CombineErrors(err, p.Destroy())
	}
	if err != nil {
		return err
	}

	l.pages = nil
	return nil
}

func (l *memoryTypePool) LogUnreleased() {
	for _, p := range l.pages {
		if !p.metadata.IsEmpty() {
			p.logUnreleasedBuffers()
		}
	}
}

// Allocate carves a block of the requested size and alignment out of the first page that can hold
// it, allocating a new page if none can
func (l *memoryTypePool) Allocate(size, alignment int, buffer *Buffer) (*page, metadata.BlockAllocationHandle, common.VkResult, error) {
	if size > l.pageSize {
		return nil, metadata.NoAllocation, core1_0.VKErrorOutOfDeviceMemory, errors.Wrapf(ErrCapacityExceeded,
			"a block of %d bytes was requested, but pages for memory type %d are only %d bytes",
			size, l.memoryTypeIndex, l.pageSize)
	}

	for _, p := range l.pages {
		handle, success, err := p.tryAllocate(size, alignment, buffer)
		if err != nil {
			return nil, metadata.NoAllocation, core1_0.VKErrorUnknown, err
		}
		if success {
			return p, handle, core1_0.VKSuccess, nil
		}
	}

	p, res, err := l.createPage()
	if err != nil {
		return nil, metadata.NoAllocation, res, err
	}

	handle, success, err := p.tryAllocate(size, alignment, buffer)
	if err != nil {
		return nil, metadata.NoAllocation, core1_0.VKErrorUnknown, err
	}
	if !success {
		// Only an alignment larger than the page can get here
		return nil, metadata.NoAllocation, core1_0.VKErrorOutOfDeviceMemory, errors.Wrapf(ErrCapacityExceeded,
			"a block of %d bytes with alignment %d does not fit in an empty page of %d bytes",
			size, alignment, l.pageSize)
	}

	return p, handle, core1_0.VKSuccess, nil
}

func (l *memoryTypePool) createPage() (*page, common.VkResult, error) {
	memory, res, err := l.deviceMemory.AllocatePage(core1_0.MemoryAllocateInfo{
		AllocationSize:  l.pageSize,
		MemoryTypeIndex: l.memoryTypeIndex,
	})
	if err != nil {
		return nil, res, errors.Mark(
			errors.Wrapf(err, "failed to allocate a %s page for memory type %d", humanize.IBytes(uint64(l.pageSize)), l.memoryTypeIndex),
			ErrBackingAllocationFailed,
		)
	}

	p := &page{}
	p.Init(l.logger, l.deviceMemory, l.memoryTypeIndex, memory, l.pageSize, l.nextPageID)
	l.nextPageID++
	l.pages = append(l.pages, p)

	l.logger.Debug("Allocated new page",
		slog.Int("ID", p.id),
		slog.Int("MemoryTypeIndex", l.memoryTypeIndex),
		slog.Int("PageCount", len(l.pages)),
		slog.String("Size", humanize.IBytes(uint64(l.pageSize))))

	return p, res, nil
}

func (l *memoryTypePool) Validate() error {
	for _, p := range l.pages {
		if p.Size() != l.pageSize {
			return errors.Newf("page %d has size %d, but pages for memory type %d should be %d bytes", p.id, p.Size(), l.memoryTypeIndex, l.pageSize)
		}
		if err := p.Validate(); err != nil {
			return errors.Wrapf(err, "page %d in memory type %d is invalid", p.id, l.memoryTypeIndex)
		}
	}

	return nil
}

func (l *memoryTypePool) AddStatistics(stats *memutils.Statistics) {
	for _, p := range l.pages {
		p.metadata.AddStatistics(stats)
	}
}

func (l *memoryTypePool) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	for _, p := range l.pages {
		p.metadata.AddDetailedStatistics(stats)
	}
}

func (l *memoryTypePool) PrintDetailedMap(json *jwriter.ObjectState) {
	for _, p := range l.pages {
		pageObj := json.Name(strconv.Itoa(p.id)).Object()
		p.PrintDetailedMap(&pageObj)
		pageObj.End()
	}
}
