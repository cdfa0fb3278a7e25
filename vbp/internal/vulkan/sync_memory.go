package vulkan

import (
	"unsafe"

	"github.com/pkg/errors"
	"github.com/vkngwrapper/bufferpool/driver"
	"github.com/vkngwrapper/bufferpool/vbp/internal/utils"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
)

// SynchronizedMemory wraps one backing allocation (one page) and reference-counts its host mapping,
// so several buffers living in the same page can be written without mapping the page more than once.
type SynchronizedMemory struct {
	// Mapping data
	mapReferences int
	mapData       unsafe.Pointer

	// Hysteresis data- if we're calling map/unmap a lot more than suballoc/subfree then
	// maintain a persistent mapping to save time
	delayCounter  uint32
	statusCounter int32
	extraMapping  bool

	mapMutex utils.OptionalMutex
	memory   driver.Memory
	size     int
}

func allocateSynchronizedMemory(drv driver.Driver, useMutex bool, allocateInfo core1_0.MemoryAllocateInfo) (*SynchronizedMemory, common.VkResult, error) {
	memory, res, err := drv.AllocateMemory(allocateInfo)
	if err != nil {
		return nil, res, err
	}

	mem := &SynchronizedMemory{
		memory: memory,
		size:   allocateInfo.AllocationSize,
		mapMutex: utils.OptionalMutex{
			UseMutex: useMutex,
		},
	}

	return mem, res, nil
}

// DriverMemory is the driver's handle for the backing allocation
func (m *SynchronizedMemory) DriverMemory() driver.Memory {
	return m.memory
}

func (m *SynchronizedMemory) Size() int {
	return m.size
}

func (m *SynchronizedMemory) BindBuffer(drv driver.Driver, offset int, buffer driver.Buffer) (common.VkResult, error) {
	m.mapMutex.Lock()
	defer m.mapMutex.Unlock()

	return drv.BindBufferMemory(buffer, m.memory, offset)
}

func (m *SynchronizedMemory) References() int {
	refs := m.mapReferences
	if m.extraMapping {
		refs++
	}
	return refs
}

func (m *SynchronizedMemory) MappedData() unsafe.Pointer {
	return m.mapData
}

const MapDelay uint32 = 7

func (m *SynchronizedMemory) postMapUnmap() bool {
	m.delayCounter++
	m.statusCounter++

	if m.delayCounter >= MapDelay {
		m.delayCounter = 0
		if m.statusCounter >= 1 {
			m.statusCounter = 0
			m.extraMapping = true
			return true
		}
	}

	return false
}

// RecordSuballocSubfree is called whenever a block is carved from or returned to this page. If
// blocks churn much more often than the page is written, the persistent mapping is dropped.
func (m *SynchronizedMemory) RecordSuballocSubfree(drv driver.Driver) bool {
	m.mapMutex.Lock()
	defer m.mapMutex.Unlock()

	m.delayCounter++
	m.statusCounter--

	if m.delayCounter >= MapDelay {
		m.delayCounter = 0
		if m.statusCounter <= -2 {
			m.statusCounter = 0
			if m.extraMapping {
				m.extraMapping = false
				if m.mapReferences == 0 && m.mapData != nil {
					drv.UnmapMemory(m.memory)
					m.mapData = nil
				}
			}
			return true
		}
	}

	return false
}

// Map maps the whole page and returns a pointer to its first byte. Each call must be paired
// with an Unmap with the same reference count.
func (m *SynchronizedMemory) Map(drv driver.Driver, references int) (unsafe.Pointer, common.VkResult, error) {
	if references == 0 {
		return nil, core1_0.VKSuccess, nil
	}

	m.mapMutex.Lock()
	defer m.mapMutex.Unlock()

	oldRefCount := m.References()
	_ = m.postMapUnmap()

	if oldRefCount > 0 {
		m.mapReferences += references
		if m.mapData == nil {
			return nil, core1_0.VKErrorUnknown, errors.New("the page is showing existing memory mapping references, but no mapped memory")
		}

		return m.mapData, core1_0.VKSuccess, nil
	}

	mappedData, result, err := drv.MapMemory(m.memory, 0, m.size)
	if err != nil {
		return nil, result, err
	}

	m.mapData = mappedData
	m.mapReferences = references
	return mappedData, result, nil
}

func (m *SynchronizedMemory) Unmap(drv driver.Driver, references int) error {
	if references == 0 {
		return nil
	}

	m.mapMutex.Lock()
	defer m.mapMutex.Unlock()

	if m.mapReferences < references {
		return errors.New("page has more references being unmapped than are currently mapped")
	}

	m.mapReferences -= references
	m.postMapUnmap()

	if m.References() <= 0 && m.mapData != nil {
		drv.UnmapMemory(m.memory)
		m.mapData = nil
	}

	return nil
}

// Write copies each blob into the page at offset plus the blob's relative offset, within a
// single map/unmap scope
func (m *SynchronizedMemory) Write(drv driver.Driver, offset int, blobs [][]byte, blobOffsets []int) (common.VkResult, error) {
	if len(blobs) != len(blobOffsets) {
		return core1_0.VKErrorUnknown, errors.Errorf("received %d blobs but %d offsets", len(blobs), len(blobOffsets))
	}

	for i, blob := range blobs {
		end := offset + blobOffsets[i] + len(blob)
		if offset+blobOffsets[i] < 0 || end > m.size {
			return core1_0.VKErrorUnknown, errors.Errorf("write of %d bytes at offset %d does not fit in a page of size %d", len(blob), offset+blobOffsets[i], m.size)
		}
	}

	data, res, err := m.Map(drv, 1)
	if err != nil {
		return res, err
	}

	for i, blob := range blobs {
		if len(blob) == 0 {
			continue
		}

		dst := unsafe.Slice((*byte)(unsafe.Add(data, offset+blobOffsets[i])), len(blob))
		copy(dst, blob)
	}

	err = m.Unmap(drv, 1)
	if err != nil {
		return core1_0.VKErrorUnknown, err
	}

	return core1_0.VKSuccess, nil
}

func (m *SynchronizedMemory) FreeMemory(drv driver.Driver) {
	m.mapMutex.Lock()
	defer m.mapMutex.Unlock()

	if m.mapData != nil {
		drv.UnmapMemory(m.memory)
		m.mapData = nil
	}

	drv.FreeMemory(m.memory)
}
