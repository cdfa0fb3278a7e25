package vbp

import (
	"fmt"

	"github.com/vkngwrapper/bufferpool/driver"
	"github.com/vkngwrapper/core/v2/core1_0"
)

// DefaultProperties are the memory property flags used when Settings.Properties is left empty.
// Buffers are written through a host mapping, so their memory must be host visible.
const DefaultProperties = core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent

// Settings describes how a buffer is created and how it behaves when updated
type Settings struct {
	// Usage is passed through to the driver when the buffer object is created, and decides the
	// offset alignment used when packing several blobs into the buffer
	Usage core1_0.BufferUsageFlags
	// SharingMode is passed through to the driver when the buffer object is created
	SharingMode core1_0.SharingMode
	// Properties are the memory property flags the buffer's memory type must have. If left empty,
	// DefaultProperties is used.
	Properties core1_0.MemoryPropertyFlags
	// ReallocStrategy decides whether the buffer grows or shrinks when updated
	ReallocStrategy ReallocStrategy
}

func (s Settings) withDefaults() Settings {
	if s.Properties == 0 {
		s.Properties = DefaultProperties
	}

	return s
}

func (s Settings) createInfo(size int) core1_0.BufferCreateInfo {
	return core1_0.BufferCreateInfo{
		Size:        size,
		Usage:       s.Usage,
		SharingMode: s.SharingMode,
	}
}

// Buffer is a caller-visible sub-allocation of a page. Its size and offset only change when the
// MemoryPool that created it reallocates it during an update.
type Buffer struct {
	buffer          driver.Buffer
	size            int
	offset          int
	memoryTypeIndex int
	settings        Settings
}

// DriverBuffer is the driver's buffer object. It is replaced when the buffer is reallocated, so it
// should not be retained across updates.
func (b *Buffer) DriverBuffer() driver.Buffer {
	return b.buffer
}

// Size is the number of bytes the buffer can hold
func (b *Buffer) Size() int {
	return b.size
}

// Offset is the buffer's byte offset within the page it lives in
func (b *Buffer) Offset() int {
	return b.offset
}

// MemoryTypeIndex is the memory type of the page the buffer lives in
func (b *Buffer) MemoryTypeIndex() int {
	return b.memoryTypeIndex
}

// Settings returns the settings the buffer was created with, with defaults applied
func (b *Buffer) Settings() Settings {
	return b.settings
}

func (b *Buffer) String() string {
	return fmt.Sprintf("Buffer(size=%d, usage=%s, strategy=%s)", b.size, b.settings.Usage, b.settings.ReallocStrategy)
}
