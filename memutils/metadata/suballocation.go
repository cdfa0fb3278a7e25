package metadata

import "math"

// BlockAllocationHandle identifies a block within a page. The low 32 bits hold the block's slot in
// the metadata arena and the high 32 bits hold the slot's generation, so a handle to a block that has
// been merged away will never resolve to whatever later reuses its slot.
type BlockAllocationHandle uint64

const (
	NoAllocation BlockAllocationHandle = math.MaxUint64
)

func newHandle(index int, generation uint32) BlockAllocationHandle {
	return BlockAllocationHandle(uint64(generation)<<32 | uint64(uint32(index)))
}

func (h BlockAllocationHandle) index() int {
	return int(uint32(h))
}

func (h BlockAllocationHandle) generation() uint32 {
	return uint32(h >> 32)
}
