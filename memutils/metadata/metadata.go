package metadata

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/bufferpool/memutils"
)

// BlockMetadata represents a single page of memory within some system. It manages the blocks
// that tile the page, allowing ranges to be requested and freed, as well as enumerated and queried.
type BlockMetadata interface {
	// Init must be called before the BlockMetadata is used. It informs the implementation of the size in
	// bytes of the page it will be managing. After Init, the whole page is a single free block.
	Init(size int)
	// Size retrieves the size in bytes that the page was initialized with
	Size() int

	// Validate performs internal consistency checks on the metadata: blocks must tile the page without
	// gaps or overlaps, no two neighboring blocks may both be free, and every taken block must sit at an
	// offset that satisfies its recorded alignment. When the implementation is functioning correctly,
	// it should not be possible for this method to return an error.
	Validate() error
	// AllocationCount returns the number of taken blocks currently live in the page
	AllocationCount() int
	// FreeRegionsCount returns the number of free blocks in the page. Because free neighbors are always
	// merged, this is also the number of distinct free ranges.
	FreeRegionsCount() int
	// SumFreeSize returns the number of free bytes of memory in the page.
	SumFreeSize() int
	// MayHaveFreeBlock is a fast heuristic indicating whether the page could possibly support a new
	// allocation of the provided size. It must never produce false negatives.
	MayHaveFreeBlock(size int) bool
	// IsEmpty will return true if this page has no taken blocks
	IsEmpty() bool

	// VisitAllRegions will call the provided callback once for each block in the page, in ascending
	// offset order. Returning an error from the callback stops the walk and returns that error.
	VisitAllRegions(handleBlock func(handle BlockAllocationHandle, offset int, size int, userData any, free bool) error) error

	// AllocationOffset returns the offset in bytes within the page of the block the handle refers to
	AllocationOffset(allocHandle BlockAllocationHandle) (int, error)
	// AllocationSize returns the size in bytes of the block the handle refers to
	AllocationSize(allocHandle BlockAllocationHandle) (int, error)
	// AllocationAlignment returns the alignment that was requested for a taken block
	AllocationAlignment(allocHandle BlockAllocationHandle) (int, error)
	// AllocationUserData returns the userData value provided by the consumer for a taken block
	AllocationUserData(allocHandle BlockAllocationHandle) (any, error)

	// AddDetailedStatistics sums this page's statistics into the provided memutils.DetailedStatistics
	AddDetailedStatistics(stats *memutils.DetailedStatistics)
	// AddStatistics sums this page's statistics into the provided memutils.Statistics
	AddStatistics(stats *memutils.Statistics)

	// Clear instantly frees all blocks, leaving one free block spanning the page
	Clear()
	// BlockJsonData populates a json object with information about this page and its blocks
	BlockJsonData(json *jwriter.ObjectState)

	// CreateAllocationRequest locates the first free block, in offset order, that can hold allocSize bytes
	// once its start has been shifted up to allocAlignment. The returned AllocationRequest can be
	// passed to Alloc to commit the allocation. The boolean return is false when no block fits.
	CreateAllocationRequest(allocSize int, allocAlignment int) (bool, AllocationRequest, error)
	// CreateAllocationRequestAt locates the free block containing the exact range
	// [offset, offset+allocSize). It is used to re-reserve a range that was just released.
	CreateAllocationRequestAt(offset int, allocSize int, allocAlignment int) (bool, AllocationRequest, error)
	// Alloc commits an AllocationRequest, splitting the free block it refers to into an optional leading
	// free filler, the taken block, and an optional free tail. The implementation must return an error if
	// the request is no longer valid. The handle of the taken block is request.BlockAllocationHandle.
	Alloc(request AllocationRequest, userData any) error

	// Free returns a taken block to the free state and merges it with any free neighbors.
	//
	// The implementation must return an error if the provided handle does not map to a taken block
	// within this page.
	Free(allocHandle BlockAllocationHandle) error
}

// BlockMetadataBase is a simple struct that provides a few shared utilities for BlockMetadata
// implementations in the memutils module.
type BlockMetadataBase struct {
	size int
}

// Init prepares this structure for allocations and sizes the page in bytes based on the parameter size.
func (m *BlockMetadataBase) Init(size int) {
	m.size = size
}

// Size returns the size of the page in bytes
func (m *BlockMetadataBase) Size() int { return m.size }

// WriteJsonHeader populates a json object with summary information about this page
func (m *BlockMetadataBase) WriteJsonHeader(json *jwriter.ObjectState, unusedBytes, allocationCount, unusedRangeCount int) {
	json.Name("TotalBytes").Int(m.Size())
	json.Name("UnusedBytes").Int(unusedBytes)
	json.Name("Allocations").Int(allocationCount)
	json.Name("UnusedRanges").Int(unusedRangeCount)
}
