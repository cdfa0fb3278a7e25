package metadata

import (
	"fmt"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/pkg/errors"
	"github.com/vkngwrapper/bufferpool/memutils"
)

const noBlock = -1

type firstFitBlock struct {
	offset int
	size   int
	// alignment is 0 while the block is free
	alignment int
	userData  any

	prev int
	next int

	generation uint32
	live       bool
}

func (b *firstFitBlock) IsFree() bool {
	return b.alignment == 0
}

// FirstFitBlockMetadata is a BlockMetadata implementation that keeps the page's blocks in a doubly-linked
// list ordered by offset. The list nodes live in an arena and are addressed by index, so splitting or
// merging blocks never invalidates handles to unrelated blocks. Searches walk the list from the
// lowest offset and take the first free block that fits.
type FirstFitBlockMetadata struct {
	BlockMetadataBase

	blocks    []firstFitBlock
	freeSlots []int
	head      int

	allocCount  int
	freeCount   int
	sumFreeSize int
}

var _ BlockMetadata = &FirstFitBlockMetadata{}

func NewFirstFitBlockMetadata() *FirstFitBlockMetadata {
	return &FirstFitBlockMetadata{head: noBlock}
}

func (m *FirstFitBlockMetadata) Init(size int) {
	m.BlockMetadataBase.Init(size)
	m.Clear()
}

func (m *FirstFitBlockMetadata) Clear() {
	for i := range m.blocks {
		if m.blocks[i].live {
			m.releaseSlot(i)
		}
	}

	m.head = m.acquireSlot()
	block := &m.blocks[m.head]
	block.offset = 0
	block.size = m.size

	m.allocCount = 0
	m.freeCount = 1
	m.sumFreeSize = m.size
}

func (m *FirstFitBlockMetadata) acquireSlot() int {
	var index int
	if len(m.freeSlots) > 0 {
		index = m.freeSlots[len(m.freeSlots)-1]
		m.freeSlots = m.freeSlots[:len(m.freeSlots)-1]
	} else {
		index = len(m.blocks)
		m.blocks = append(m.blocks, firstFitBlock{})
	}

	block := &m.blocks[index]
	block.live = true
	block.offset = 0
	block.size = 0
	block.alignment = 0
	block.userData = nil
	block.prev = noBlock
	block.next = noBlock

	return index
}

func (m *FirstFitBlockMetadata) releaseSlot(index int) {
	block := &m.blocks[index]
	block.live = false
	block.userData = nil
	block.generation++
	m.freeSlots = append(m.freeSlots, index)
}

func (m *FirstFitBlockMetadata) handleFor(index int) BlockAllocationHandle {
	return newHandle(index, m.blocks[index].generation)
}

func (m *FirstFitBlockMetadata) getBlock(handle BlockAllocationHandle) (int, *firstFitBlock, error) {
	if handle == NoAllocation {
		return noBlock, nil, errors.New("received the NoAllocation handle")
	}

	index := handle.index()
	if index >= len(m.blocks) {
		return noBlock, nil, errors.Errorf("received a handle with slot %d, but the metadata only has %d slots", index, len(m.blocks))
	}

	block := &m.blocks[index]
	if !block.live || block.generation != handle.generation() {
		return noBlock, nil, errors.New("received a handle for a block that no longer exists")
	}

	return index, block, nil
}

// insertAfter links a fresh block after the block at index prev, or at the head of the list if prev is noBlock
func (m *FirstFitBlockMetadata) insertAfter(prev int, offset, size int) int {
	index := m.acquireSlot()

	var next int
	if prev == noBlock {
		next = m.head
		m.head = index
	} else {
		next = m.blocks[prev].next
		m.blocks[prev].next = index
	}

	if next != noBlock {
		m.blocks[next].prev = index
	}

	block := &m.blocks[index]
	block.offset = offset
	block.size = size
	block.prev = prev
	block.next = next

	return index
}

func (m *FirstFitBlockMetadata) unlink(index int) {
	block := &m.blocks[index]

	if block.prev == noBlock {
		m.head = block.next
	} else {
		m.blocks[block.prev].next = block.next
	}

	if block.next != noBlock {
		m.blocks[block.next].prev = block.prev
	}

	m.releaseSlot(index)
}

func (m *FirstFitBlockMetadata) Validate() error {
	if m.head == noBlock {
		return errors.New("the metadata has no blocks")
	}

	if m.blocks[m.head].prev != noBlock {
		return errors.New("the head block has a previous block")
	}

	nextOffset := 0
	allocCount := 0
	freeCount := 0
	freeSize := 0
	prevFree := false
	prev := noBlock

	for index := m.head; index != noBlock; index = m.blocks[index].next {
		block := &m.blocks[index]

		if !block.live {
			return errors.Errorf("slot %d is linked into the block list but has been released", index)
		}

		if block.prev != prev {
			return errors.Errorf("block at offset %d has a previous block, but the reverse reference is broken", block.offset)
		}

		if block.offset != nextOffset {
			return errors.Errorf("block at offset %d should begin at offset %d", block.offset, nextOffset)
		}

		if block.size <= 0 {
			return errors.Errorf("block at offset %d has a non-positive size %d", block.offset, block.size)
		}

		if block.IsFree() {
			if prevFree {
				return errors.Errorf("block at offset %d is free, but so is the block before it", block.offset)
			}

			if block.userData != nil {
				return errors.Errorf("block at offset %d is free but still has user data", block.offset)
			}

			freeCount++
			freeSize += block.size
		} else {
			if block.offset%block.alignment != 0 {
				return errors.Errorf("block at offset %d does not satisfy its alignment of %d", block.offset, block.alignment)
			}

			allocCount++
		}

		prevFree = block.IsFree()
		nextOffset = block.offset + block.size
		prev = index
	}

	if nextOffset != m.size {
		return errors.Errorf("the full size of the metadata is %d, but the blocks only added up to %d", m.size, nextOffset)
	}

	if freeSize != m.sumFreeSize {
		return errors.Errorf("the free size of the metadata is %d, but the free blocks only added up to %d", m.sumFreeSize, freeSize)
	}

	if allocCount != m.allocCount {
		return errors.Errorf("the allocation count of the metadata is %d, but the taken blocks only added up to %d", m.allocCount, allocCount)
	}

	if freeCount != m.freeCount {
		return errors.Errorf("the free block count of the metadata is %d, but there were only %d free blocks", m.freeCount, freeCount)
	}

	return nil
}

func (m *FirstFitBlockMetadata) AllocationCount() int { return m.allocCount }

func (m *FirstFitBlockMetadata) FreeRegionsCount() int { return m.freeCount }

func (m *FirstFitBlockMetadata) SumFreeSize() int { return m.sumFreeSize }

func (m *FirstFitBlockMetadata) IsEmpty() bool { return m.allocCount == 0 }

func (m *FirstFitBlockMetadata) MayHaveFreeBlock(size int) bool {
	return m.sumFreeSize >= size
}

func (m *FirstFitBlockMetadata) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	stats.PageCount++
	stats.PageBytes += m.size

	for index := m.head; index != noBlock; index = m.blocks[index].next {
		block := &m.blocks[index]
		if block.IsFree() {
			stats.AddFreeRange(block.size)
		} else {
			stats.AddAllocation(block.size)
		}
	}
}

func (m *FirstFitBlockMetadata) AddStatistics(stats *memutils.Statistics) {
	stats.PageCount++
	stats.PageBytes += m.size
	stats.AllocationCount += m.allocCount
	stats.AllocationBytes += m.size - m.sumFreeSize
}

func (m *FirstFitBlockMetadata) CreateAllocationRequest(allocSize int, allocAlignment int) (bool, AllocationRequest, error) {
	var request AllocationRequest

	if allocSize <= 0 {
		return false, request, errors.Errorf("invalid allocSize: %d", allocSize)
	}
	if allocAlignment <= 0 {
		return false, request, errors.Errorf("invalid allocAlignment: %d", allocAlignment)
	}

	if allocSize > m.sumFreeSize {
		return false, request, nil
	}

	for index := m.head; index != noBlock; index = m.blocks[index].next {
		block := &m.blocks[index]
		if !block.IsFree() {
			continue
		}

		shift := memutils.AlignmentShift(block.offset, allocAlignment)
		if block.size-shift < allocSize {
			continue
		}

		request.BlockAllocationHandle = m.handleFor(index)
		request.Offset = block.offset + shift
		request.Size = allocSize
		request.Alignment = allocAlignment
		request.AlignmentShift = shift
		request.Type = AllocationRequestFirstFit
		return true, request, nil
	}

	return false, request, nil
}

func (m *FirstFitBlockMetadata) CreateAllocationRequestAt(offset int, allocSize int, allocAlignment int) (bool, AllocationRequest, error) {
	var request AllocationRequest

	if allocSize <= 0 {
		return false, request, errors.Errorf("invalid allocSize: %d", allocSize)
	}
	if allocAlignment <= 0 {
		return false, request, errors.Errorf("invalid allocAlignment: %d", allocAlignment)
	}
	if offset%allocAlignment != 0 {
		return false, request, errors.Errorf("offset %d does not satisfy alignment %d", offset, allocAlignment)
	}

	for index := m.head; index != noBlock; index = m.blocks[index].next {
		block := &m.blocks[index]
		if block.offset+block.size <= offset {
			continue
		}

		if !block.IsFree() || block.offset+block.size < offset+allocSize {
			return false, request, nil
		}

		request.BlockAllocationHandle = m.handleFor(index)
		request.Offset = offset
		request.Size = allocSize
		request.Alignment = allocAlignment
		request.AlignmentShift = offset - block.offset
		request.Type = AllocationRequestAtOffset
		return true, request, nil
	}

	return false, request, nil
}

func (m *FirstFitBlockMetadata) Alloc(req AllocationRequest, userData any) error {
	index, block, err := m.getBlock(req.BlockAllocationHandle)
	if err != nil {
		return err
	}

	if !block.IsFree() {
		return errors.New("allocation request targets a block that is not free")
	}

	if req.Alignment <= 0 {
		return errors.Errorf("allocation request has an invalid alignment %d", req.Alignment)
	}

	if block.offset+req.AlignmentShift != req.Offset {
		return errors.New("allocation request had an alignment shift that was incompatible with the requested offset")
	}

	if req.AlignmentShift+req.Size > block.size {
		return errors.New("allocation request no longer fits in the targeted block")
	}

	// Leading filler goes in a new slot before the taken block
	if req.AlignmentShift > 0 {
		m.insertAfter(block.prev, block.offset, req.AlignmentShift)
		m.freeCount++

		block = &m.blocks[index]
		block.offset += req.AlignmentShift
		block.size -= req.AlignmentShift
	}

	if block.size > req.Size {
		m.insertAfter(index, block.offset+req.Size, block.size-req.Size)
		m.freeCount++

		block = &m.blocks[index]
		block.size = req.Size
	}

	block.alignment = req.Alignment
	block.userData = userData

	m.freeCount--
	m.allocCount++
	m.sumFreeSize -= req.Size

	memutils.DebugValidate(m)
	return nil
}

func (m *FirstFitBlockMetadata) Free(allocHandle BlockAllocationHandle) error {
	index, block, err := m.getBlock(allocHandle)
	if err != nil {
		return err
	}

	if block.IsFree() {
		return errors.New("block is already free")
	}

	block.alignment = 0
	block.userData = nil
	m.allocCount--
	m.freeCount++
	m.sumFreeSize += block.size

	m.coalesce(index)
	memutils.DebugValidate(m)
	return nil
}

// coalesce merges the free block at index with any free neighbors. It is safe to call on a block
// that has nothing to merge with.
func (m *FirstFitBlockMetadata) coalesce(index int) {
	block := &m.blocks[index]

	if block.prev != noBlock && m.blocks[block.prev].IsFree() {
		prev := block.prev
		block.offset = m.blocks[prev].offset
		block.size += m.blocks[prev].size
		m.unlink(prev)
		m.freeCount--
	}

	block = &m.blocks[index]
	if block.next != noBlock && m.blocks[block.next].IsFree() {
		next := block.next
		block.size += m.blocks[next].size
		m.unlink(next)
		m.freeCount--
	}
}

func (m *FirstFitBlockMetadata) VisitAllRegions(handleBlock func(handle BlockAllocationHandle, offset int, size int, userData any, free bool) error) error {
	for index := m.head; index != noBlock; {
		block := m.blocks[index]
		next := block.next

		err := handleBlock(m.handleFor(index), block.offset, block.size, block.userData, block.IsFree())
		if err != nil {
			return err
		}

		index = next
	}

	return nil
}

func (m *FirstFitBlockMetadata) AllocationOffset(allocHandle BlockAllocationHandle) (int, error) {
	_, block, err := m.getBlock(allocHandle)
	if err != nil {
		return 0, err
	}

	return block.offset, nil
}

func (m *FirstFitBlockMetadata) AllocationSize(allocHandle BlockAllocationHandle) (int, error) {
	_, block, err := m.getBlock(allocHandle)
	if err != nil {
		return 0, err
	}

	return block.size, nil
}

func (m *FirstFitBlockMetadata) AllocationAlignment(allocHandle BlockAllocationHandle) (int, error) {
	_, block, err := m.getBlock(allocHandle)
	if err != nil {
		return 0, err
	}

	if block.IsFree() {
		return 0, errors.New("alignment cannot be retrieved for a free block")
	}

	return block.alignment, nil
}

func (m *FirstFitBlockMetadata) AllocationUserData(allocHandle BlockAllocationHandle) (any, error) {
	_, block, err := m.getBlock(allocHandle)
	if err != nil {
		return nil, err
	}

	if block.IsFree() {
		return nil, errors.New("user data cannot be retrieved for a free block")
	}

	return block.userData, nil
}

func (m *FirstFitBlockMetadata) BlockJsonData(json *jwriter.ObjectState) {
	m.WriteJsonHeader(json, m.sumFreeSize, m.allocCount, m.freeCount)

	arrayState := json.Name("Suballocations").Array()
	defer arrayState.End()

	for index := m.head; index != noBlock; index = m.blocks[index].next {
		block := &m.blocks[index]

		obj := arrayState.Object()
		obj.Name("Offset").Int(block.offset)
		obj.Name("Size").Int(block.size)
		if block.IsFree() {
			obj.Name("Type").String("FREE")
		} else {
			obj.Name("Type").String("TAKEN")
			obj.Name("Alignment").Int(block.alignment)
			if stringer, ok := block.userData.(fmt.Stringer); ok {
				obj.Name("CustomData").String(stringer.String())
			}
		}
		obj.End()
	}
}
