package vulkan

import (
	"fmt"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/bufferpool/driver"
	"github.com/vkngwrapper/bufferpool/memutils"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
)

// DefaultMinAlignment is the offset alignment used for usages that have no device-reported minimum
const DefaultMinAlignment = 64

// DeviceMemoryProperties caches the device-property query for one logical device and keeps
// per-heap accounting of pages and of the buffers carved from them
type DeviceMemoryProperties struct {
	// Number of pages that have been allocated from device memory
	pageCount [common.MaxMemoryHeaps]int32
	// Number of buffers that currently hold a block in some page
	allocationCount [common.MaxMemoryHeaps]int32
	// Size of pages that have been allocated from device memory
	pageBytes [common.MaxMemoryHeaps]int64
	// Size of the blocks that currently belong to buffers
	allocationBytes [common.MaxMemoryHeaps]int64

	// Whether the SynchronizedMemory objects created from this object should use a mutex to control access
	useMutex        bool
	memoryCallbacks MemoryCallbacks
	memoryCount     uint32
	heapLimits      []int

	driver           driver.Driver
	deviceProperties *core1_0.PhysicalDeviceProperties
	memoryProperties *core1_0.PhysicalDeviceMemoryProperties
}

func NewDeviceMemoryProperties(
	useMutex bool,
	memoryCallbacks MemoryCallbacks,
	drv driver.Driver,
	heapSizeLimits []int,
) (*DeviceMemoryProperties, error) {
	deviceProperties := &DeviceMemoryProperties{
		useMutex:        useMutex,
		memoryCallbacks: memoryCallbacks,
		driver:          drv,
	}

	var err error
	deviceProperties.deviceProperties, err = drv.PhysicalDeviceProperties()
	if err != nil {
		return nil, err
	}

	if deviceProperties.deviceProperties == nil || deviceProperties.deviceProperties.Limits == nil {
		return nil, errors.New("the driver did not report physical device limits")
	}

	deviceProperties.memoryProperties = drv.MemoryProperties()
	if deviceProperties.memoryProperties == nil {
		return nil, errors.New("the driver did not report physical device memory properties")
	}

	if deviceProperties.MemoryTypeCount() > common.MaxMemoryTypes {
		return nil, errors.Newf("the driver reported %d memory types, but at most %d are supported", deviceProperties.MemoryTypeCount(), common.MaxMemoryTypes)
	}

	if deviceProperties.MemoryHeapCount() > common.MaxMemoryHeaps {
		return nil, errors.Newf("the driver reported %d memory heaps, but at most %d are supported", deviceProperties.MemoryHeapCount(), common.MaxMemoryHeaps)
	}

	// Initialize memory heap data
	heapCount := deviceProperties.MemoryHeapCount()
	heapLimitCount := len(heapSizeLimits)

	if heapLimitCount > 0 && heapLimitCount != heapCount {
		return nil, errors.New("vbp.CreateOptions.HeapSizeLimits was provided, but the length does not equal the number of PhysicalDevice heap types")
	}

	if heapLimitCount == 0 {
		heapSizeLimits = make([]int, heapCount)
	}
	deviceProperties.heapLimits = heapSizeLimits

	return deviceProperties, nil
}

func (m *DeviceMemoryProperties) Driver() driver.Driver {
	return m.driver
}

func (m *DeviceMemoryProperties) MemoryTypeCount() int {
	return len(m.memoryProperties.MemoryTypes)
}

func (m *DeviceMemoryProperties) MemoryHeapCount() int {
	return len(m.memoryProperties.MemoryHeaps)
}

func (m *DeviceMemoryProperties) MemoryTypeIndexToHeapIndex(memTypeIndex int) int {
	return m.memoryProperties.MemoryTypes[memTypeIndex].HeapIndex
}

func (m *DeviceMemoryProperties) DeviceProperties() *core1_0.PhysicalDeviceProperties {
	return m.deviceProperties
}

func (m *DeviceMemoryProperties) MemoryTypeProperties(memoryTypeIndex int) core1_0.MemoryType {
	return m.memoryProperties.MemoryTypes[memoryTypeIndex]
}

func (m *DeviceMemoryProperties) MemoryHeapProperties(heapIndex int) core1_0.MemoryHeap {
	return m.memoryProperties.MemoryHeaps[heapIndex]
}

// FindMemoryTypeIndex returns the lowest memory type index whose bit is set in memoryTypeBits and whose
// property flags include every flag in properties. The boolean return is false when no type qualifies.
func (m *DeviceMemoryProperties) FindMemoryTypeIndex(memoryTypeBits uint32, properties core1_0.MemoryPropertyFlags) (int, bool) {
	for memoryTypeIndex, memoryType := range m.memoryProperties.MemoryTypes {
		if memoryTypeBits&(1<<memoryTypeIndex) == 0 {
			continue
		}

		if memoryType.PropertyFlags&properties == properties {
			return memoryTypeIndex, true
		}
	}

	return -1, false
}

// MinAlignmentFor returns the minimum offset alignment the device demands for buffers of the provided
// usage. Texel, uniform, and storage usages use the device limits; when a usage mixes several of them the
// result is their least common multiple, so every offset it produces satisfies each limit even when a
// limit is not a power of two. Every other usage gets DefaultMinAlignment.
func (m *DeviceMemoryProperties) MinAlignmentFor(usage core1_0.BufferUsageFlags) int {
	limits := m.deviceProperties.Limits
	alignment := 0

	if usage&(core1_0.BufferUsageUniformTexelBuffer|core1_0.BufferUsageStorageTexelBuffer) != 0 {
		alignment = memutils.LeastCommonMultiple(alignment, int(limits.MinTexelBufferOffsetAlignment))
	}

	if usage&core1_0.BufferUsageUniformBuffer != 0 {
		alignment = memutils.LeastCommonMultiple(alignment, int(limits.MinUniformBufferOffsetAlignment))
	}

	if usage&core1_0.BufferUsageStorageBuffer != 0 {
		alignment = memutils.LeastCommonMultiple(alignment, int(limits.MinStorageBufferOffsetAlignment))
	}

	if alignment == 0 {
		return DefaultMinAlignment
	}

	return alignment
}

func (m *DeviceMemoryProperties) addPageAllocation(heapIndex int, allocationSize int) {
	atomic.AddInt64(&m.pageBytes[heapIndex], int64(allocationSize))
	atomic.AddInt32(&m.pageCount[heapIndex], 1)
}

func (m *DeviceMemoryProperties) addPageAllocationWithBudget(heapIndex, allocationSize, maxAllocatable int) (common.VkResult, error) {
	for {
		currentVal := atomic.LoadInt64(&m.pageBytes[heapIndex])
		targetVal := currentVal + int64(allocationSize)

		if targetVal > int64(maxAllocatable) {
			return core1_0.VKErrorOutOfDeviceMemory, core1_0.VKErrorOutOfDeviceMemory.ToError()
		}

		if atomic.CompareAndSwapInt64(&m.pageBytes[heapIndex], currentVal, targetVal) {
			break
		}
	}

	atomic.AddInt32(&m.pageCount[heapIndex], 1)
	return core1_0.VKSuccess, nil
}

func (m *DeviceMemoryProperties) removePageAllocation(heapIndex, allocationSize int) {
	newVal := atomic.AddInt64(&m.pageBytes[heapIndex], int64(-allocationSize))

	if newVal < 0 {
		panic(fmt.Sprintf("page bytes for heapIndex %d went negative", heapIndex))
	}

	newCountVal := atomic.AddInt32(&m.pageCount[heapIndex], -1)
	if newCountVal < 0 {
		panic(fmt.Sprintf("page count for heapIndex %d went negative", heapIndex))
	}
}

// AllocatePage requests a new backing allocation for a page, honoring the device's allocation count
// limit and any heap size limit provided at creation time
func (m *DeviceMemoryProperties) AllocatePage(
	allocateInfo core1_0.MemoryAllocateInfo,
) (mem *SynchronizedMemory, res common.VkResult, err error) {
	newDeviceCount := atomic.AddUint32(&m.memoryCount, 1)
	defer func() {
		// If we failed out, roll back the device increment
		if err != nil {
			// Decrement
			atomic.AddUint32(&m.memoryCount, ^uint32(0))
		}
	}()

	maxCount := int(m.deviceProperties.Limits.MaxMemoryAllocationCount)
	if maxCount > 0 && int(newDeviceCount) > maxCount {
		return nil, core1_0.VKErrorTooManyObjects, core1_0.VKErrorTooManyObjects.ToError()
	}

	heapIndex := m.MemoryTypeIndexToHeapIndex(allocateInfo.MemoryTypeIndex)
	heapLimit := m.heapLimits[heapIndex]
	if heapLimit == 0 {
		m.addPageAllocation(heapIndex, allocateInfo.AllocationSize)
	} else {
		maxSize := heapLimit
		heapSize := m.memoryProperties.MemoryHeaps[heapIndex].Size
		if heapSize > 0 && heapSize < heapLimit {
			maxSize = heapSize
		}
		res, err = m.addPageAllocationWithBudget(heapIndex, allocateInfo.AllocationSize, maxSize)
		if err != nil {
			return nil, res, err
		}
	}
	defer func() {
		// If we failed out, roll back the page allocation
		if err != nil {
			m.removePageAllocation(heapIndex, allocateInfo.AllocationSize)
		}
	}()

	mem, res, err = allocateSynchronizedMemory(
		m.driver,
		m.useMutex,
		allocateInfo,
	)
	if err != nil {
		return nil, res, err
	}

	if m.memoryCallbacks != nil {
		m.memoryCallbacks.Allocate(
			allocateInfo.MemoryTypeIndex,
			mem.DriverMemory(),
			allocateInfo.AllocationSize,
		)
	}

	return mem, res, nil
}

// FreePage returns a page's backing allocation to the driver
func (m *DeviceMemoryProperties) FreePage(memoryType int, memory *SynchronizedMemory) {
	size := memory.Size()
	if m.memoryCallbacks != nil {
		m.memoryCallbacks.Free(
			memoryType,
			memory.DriverMemory(),
			size,
		)
	}

	memory.FreeMemory(m.driver)

	heapIndex := m.MemoryTypeIndexToHeapIndex(memoryType)
	m.removePageAllocation(heapIndex, size)
	// Decrement
	atomic.AddUint32(&m.memoryCount, ^uint32(0))
}

func (m *DeviceMemoryProperties) AddAllocation(heapIndex int, size int) {
	atomic.AddInt64(&m.allocationBytes[heapIndex], int64(size))
	atomic.AddInt32(&m.allocationCount[heapIndex], 1)
}

func (m *DeviceMemoryProperties) RemoveAllocation(heapIndex int, size int) {
	newSizeVal := atomic.AddInt64(&m.allocationBytes[heapIndex], int64(-size))
	if newSizeVal < 0 {
		panic(fmt.Sprintf("allocation bytes for heapIndex %d went negative", heapIndex))
	}

	newCountVal := atomic.AddInt32(&m.allocationCount[heapIndex], -1)
	if newCountVal < 0 {
		panic(fmt.Sprintf("allocation count for heapIndex %d went negative", heapIndex))
	}
}

// HeapStatistics reports the page and buffer totals for a single heap
func (m *DeviceMemoryProperties) HeapStatistics(heapIndex int, stats *memutils.Statistics) {
	stats.PageCount = int(atomic.LoadInt32(&m.pageCount[heapIndex]))
	stats.AllocationCount = int(atomic.LoadInt32(&m.allocationCount[heapIndex]))
	stats.PageBytes = int(atomic.LoadInt64(&m.pageBytes[heapIndex]))
	stats.AllocationBytes = int(atomic.LoadInt64(&m.allocationBytes[heapIndex]))
}

// AllocationCount is the number of live backing allocations made through this object
func (m *DeviceMemoryProperties) AllocationCount() uint32 {
	return atomic.LoadUint32(&m.memoryCount)
}
