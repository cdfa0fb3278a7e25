package vulkan

import (
	"github.com/vkngwrapper/bufferpool/driver"
)

// MemoryCallbacks is notified whenever a page is allocated from or returned to the driver
type MemoryCallbacks interface {
	Allocate(memoryType int, memory driver.Memory, size int)
	Free(memoryType int, memory driver.Memory, size int)
}
