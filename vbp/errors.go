package vbp

import "github.com/cockroachdb/errors"

var (
	// ErrCapacityExceeded is returned when a single allocation is larger than one page, or when
	// a buffer is updated with more data than it can hold after any reallocation
	ErrCapacityExceeded = errors.New("capacity exceeded")
	// ErrNoCompatibleMemoryType is returned when no memory type satisfies both a buffer's compatible
	// type bitmask and the requested property flags. Errors of this kind are also marked with
	// ErrCapacityExceeded, because the pool has nowhere to put the buffer.
	ErrNoCompatibleMemoryType = errors.New("no compatible memory type")
	// ErrUnknownBuffer is returned when an operation references a buffer that is not registered with
	// the memory pool
	ErrUnknownBuffer = errors.New("buffer is not registered with this memory pool")
	// ErrDuplicateCreation is returned when creating a resource that has already been created
	ErrDuplicateCreation = errors.New("resource has already been created")
	// ErrBackingAllocationFailed is returned when the driver could not provide memory for a new page.
	// The driver's own error remains in the chain.
	ErrBackingAllocationFailed = errors.New("backing allocation failed")
)
