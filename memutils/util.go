package memutils

import (
	"github.com/cockroachdb/errors"
	"golang.org/x/exp/constraints"
)

// Number is any integer type that can be used as a byte offset or alignment
type Number interface {
	constraints.Integer
}

// CheckAlignment returns an error if the provided alignment cannot be used to align an offset
func CheckAlignment[T Number](alignment T, name string) error {
	if alignment < 1 {
		return errors.Wrapf(ZeroAlignmentError, "%s is %d", name, alignment)
	}
	return nil
}

// CheckSize returns an error if the provided size is not a positive number of bytes
func CheckSize[T Number](size T, name string) error {
	if size < 1 {
		return errors.Wrapf(NegativeSizeError, "%s is %d", name, size)
	}
	return nil
}

// AlignmentShift returns the smallest non-negative amount that value must be increased by to become a
// multiple of alignment. Alignments are not required to be a power of two; an alignment below 2 never
// requires a shift.
func AlignmentShift[T Number](value, alignment T) T {
	if alignment < 2 {
		return 0
	}

	remainder := value % alignment
	if remainder == 0 {
		return 0
	}

	return alignment - remainder
}

// AlignUp rounds value up to the next multiple of alignment
func AlignUp[T Number](value, alignment T) T {
	return value + AlignmentShift(value, alignment)
}

// AlignDown rounds value down to the previous multiple of alignment
func AlignDown[T Number](value, alignment T) T {
	if alignment < 2 {
		return value
	}
	return value - value%alignment
}

// LeastCommonMultiple returns the smallest alignment that satisfies both a and b. Values below 1 are
// treated as 1.
func LeastCommonMultiple[T Number](a, b T) T {
	if a < 1 {
		a = 1
	}
	if b < 1 {
		b = 1
	}

	x, y := a, b
	for y != 0 {
		x, y = y, x%y
	}

	return a / x * b
}
