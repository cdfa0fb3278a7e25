package vbp

const (
	overprovisionPercent = 105
	shrinkPercent        = 75
)

// NewSize returns the size a buffer currently holding current bytes should have in order to receive
// requested bytes. A result equal to current means no reallocation is necessary.
func (s ReallocStrategy) NewSize(current, requested int) int {
	newSize := current

	if requested > current {
		switch s {
		case ReallocGrow:
			newSize = requested
		case ReallocGrowOverprovision, ReallocGrowOverprovisionAndShrink:
			newSize = requested * overprovisionPercent / 100
		}
	} else if requested < current*shrinkPercent/100 {
		if s == ReallocGrowOverprovisionAndShrink {
			newSize = requested
		}
	}

	// Driver buffer objects can't be empty
	if newSize < 1 {
		return current
	}

	return newSize
}
