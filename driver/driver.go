// Package driver describes the collaborators a memory pool needs from the graphics driver: something
// that creates buffer objects, something that hands out backing memory, a way to bind one to the other,
// a way to map memory for host writes, and a query for device properties.
package driver

import (
	"unsafe"

	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
)

//go:generate mockgen -source driver.go -destination ./mocks/driver.go -package mocks

// Buffer is an opaque buffer object handle produced by Driver.CreateBuffer
type Buffer any

// Memory is an opaque backing allocation handle produced by Driver.AllocateMemory
type Memory any

// Driver is the interface a memory pool uses to talk to a single logical device. Implementations
// are not expected to be safe for concurrent use; the memory pool serializes its calls.
type Driver interface {
	// PhysicalDeviceProperties reports the device limits, including the minimum offset alignments for
	// texel, uniform, and storage buffers
	PhysicalDeviceProperties() (*core1_0.PhysicalDeviceProperties, error)
	// MemoryProperties reports the device's memory types and heaps
	MemoryProperties() *core1_0.PhysicalDeviceMemoryProperties

	// CreateBuffer creates a buffer object and reports its memory requirements: required size,
	// byte alignment, and the bitmask of compatible memory type indices
	CreateBuffer(createInfo core1_0.BufferCreateInfo) (Buffer, *core1_0.MemoryRequirements, common.VkResult, error)
	// DestroyBuffer destroys a buffer object created with CreateBuffer
	DestroyBuffer(buffer Buffer)
	// BindBufferMemory associates a buffer object with a backing allocation at a byte offset. It is
	// called exactly once per buffer object.
	BindBufferMemory(buffer Buffer, memory Memory, offset int) (common.VkResult, error)

	// AllocateMemory requests a backing allocation of the provided size from the provided memory type.
	// It fails with core1_0.VKErrorOutOfDeviceMemory when the device cannot satisfy the request.
	AllocateMemory(allocateInfo core1_0.MemoryAllocateInfo) (Memory, common.VkResult, error)
	// FreeMemory returns a backing allocation to the device
	FreeMemory(memory Memory)
	// MapMemory exposes a byte range of a backing allocation as host memory until UnmapMemory is called
	MapMemory(memory Memory, offset int, size int) (unsafe.Pointer, common.VkResult, error)
	UnmapMemory(memory Memory)
}
