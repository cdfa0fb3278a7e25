package vbp

import (
	"github.com/vkngwrapper/bufferpool/memutils"
	"github.com/vkngwrapper/core/v2/core1_0"
)

// CombinedSizeAndOffsets packs blobs of the provided sizes into a single buffer, in order. Each blob
// starts at the running offset rounded up to alignment, and the combined size is the final offset
// rounded up to alignment as well. The alignment is not required to be a power of two.
func CombinedSizeAndOffsets(alignment int, blobSizes []int) (int, []int) {
	offsets := make([]int, len(blobSizes))

	cursor := 0
	for i, size := range blobSizes {
		cursor = memutils.AlignUp(cursor, alignment)
		offsets[i] = cursor
		cursor += size
	}

	return memutils.AlignUp(cursor, alignment), offsets
}

func blobSizes(blobs [][]byte) []int {
	sizes := make([]int, len(blobs))
	for i, blob := range blobs {
		sizes[i] = len(blob)
	}
	return sizes
}

// MinAlignmentFor returns the offset alignment the device requires for sub-regions of a buffer with
// the provided usage
func (p *MemoryPool) MinAlignmentFor(usage core1_0.BufferUsageFlags) int {
	return p.deviceMemory.MinAlignmentFor(usage)
}

// CombinedLayout returns the combined size and per-blob offsets for packing blobs of the provided
// sizes into one buffer with the provided usage
func (p *MemoryPool) CombinedLayout(usage core1_0.BufferUsageFlags, blobSizes []int) (int, []int) {
	return CombinedSizeAndOffsets(p.MinAlignmentFor(usage), blobSizes)
}
