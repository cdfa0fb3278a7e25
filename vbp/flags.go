package vbp

import "github.com/vkngwrapper/core/v2/common"

// CreateFlags indicate specific memory pool behaviors to activate or deactivate
type CreateFlags int32

var createFlagsMapping = common.NewFlagStringMapping[CreateFlags]()

func (f CreateFlags) Register(str string) {
	createFlagsMapping.Register(f, str)
}
func (f CreateFlags) String() string {
	return createFlagsMapping.FlagsToString(f)
}

const (
	// CreateExternallySynchronized ensures that this memory pool and all objects created from it
	// will not be synchronized internally. The consumer must guarantee they are used from only one
	// thread at a time or are synchronized by some other mechanism, but performance may improve because
	// internal mutexes are not used.
	CreateExternallySynchronized CreateFlags = 1 << iota
)

func init() {
	CreateExternallySynchronized.Register("CreateExternallySynchronized")
}

// ReallocStrategy decides what happens to a buffer's size when it is updated with an amount of
// data different from its current size
type ReallocStrategy int32

const (
	// ReallocFixedSize never changes the buffer's size. Updating with more data than fits fails with
	// ErrCapacityExceeded.
	ReallocFixedSize ReallocStrategy = iota
	// ReallocGrow grows the buffer to exactly the requested size when needed, and never shrinks it
	ReallocGrow
	// ReallocGrowOverprovision grows the buffer to the requested size plus 5% when needed, and never
	// shrinks it
	ReallocGrowOverprovision
	// ReallocGrowOverprovisionAndShrink grows like ReallocGrowOverprovision, and shrinks the buffer to
	// exactly the requested size when the request falls below 75% of the current size
	ReallocGrowOverprovisionAndShrink
)

var reallocStrategyMapping = map[ReallocStrategy]string{
	ReallocFixedSize:                  "ReallocFixedSize",
	ReallocGrow:                       "ReallocGrow",
	ReallocGrowOverprovision:          "ReallocGrowOverprovision",
	ReallocGrowOverprovisionAndShrink: "ReallocGrowOverprovisionAndShrink",
}

func (s ReallocStrategy) String() string {
	return reallocStrategyMapping[s]
}
