package metadata

// AllocationRequestType is an enum that indicates how an AllocationRequest was located.
type AllocationRequestType uint32

const (
	// AllocationRequestFirstFit indicates that the request was produced by a first-fit search
	AllocationRequestFirstFit AllocationRequestType = iota
	// AllocationRequestAtOffset indicates that the request targets an exact offset
	AllocationRequestAtOffset
)

var allocationRequestMapping = map[AllocationRequestType]string{
	AllocationRequestFirstFit: "FirstFit",
	AllocationRequestAtOffset: "AtOffset",
}

func (t AllocationRequestType) String() string {
	return allocationRequestMapping[t]
}

// AllocationRequest is a type returned from BlockMetadata.CreateAllocationRequest which indicates where
// the metadata intends to place new memory. It is committed with BlockMetadata.Alloc
type AllocationRequest struct {
	// BlockAllocationHandle identifies the free block that will be split. After Alloc it identifies
	// the taken block.
	BlockAllocationHandle BlockAllocationHandle
	// Offset is the aligned offset the taken block will start at
	Offset int
	// Size is the exact size of the taken block
	Size int
	// Alignment is the alignment recorded on the taken block
	Alignment int
	// AlignmentShift is the size of the free filler that will be left in front of the taken block
	AlignmentShift int
	Type           AllocationRequestType
}
