package vbp

import "github.com/vkngwrapper/bufferpool/driver"

type AllocatePageCallback func(
	pool *MemoryPool,
	memoryType int,
	memory driver.Memory,
	size int,
	userData interface{},
)

type FreePageCallback func(
	pool *MemoryPool,
	memoryType int,
	memory driver.Memory,
	size int,
	userData interface{},
)

// MemoryCallbackOptions is a set of callbacks that are executed whenever a page is allocated from or
// returned to the driver
type MemoryCallbackOptions struct {
	Allocate AllocatePageCallback
	Free     FreePageCallback
	UserData interface{}
}

type memoryCallbacks struct {
	Callbacks *MemoryCallbackOptions
	Pool      *MemoryPool
}

func (c *memoryCallbacks) Allocate(
	memoryType int,
	memory driver.Memory,
	size int,
) {
	if c.Callbacks != nil && c.Callbacks.Allocate != nil {
		c.Callbacks.Allocate(c.Pool, memoryType, memory, size, c.Callbacks.UserData)
	}
}

func (c *memoryCallbacks) Free(
	memoryType int,
	memory driver.Memory,
	size int,
) {
	if c.Callbacks != nil && c.Callbacks.Free != nil {
		c.Callbacks.Free(c.Pool, memoryType, memory, size, c.Callbacks.UserData)
	}
}
