package hostmem_test

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/bufferpool/driver/hostmem"
	"github.com/vkngwrapper/core/v2/core1_0"
)

func TestCreateBufferRequirements(t *testing.T) {
	requirementCases := map[string]struct {
		usage             core1_0.BufferUsageFlags
		size              int
		expectedAlignment int
		expectedSize      int
	}{
		"Vertex":  {usage: core1_0.BufferUsageVertexBuffer, size: 100, expectedAlignment: 4, expectedSize: 100},
		"Uniform": {usage: core1_0.BufferUsageUniformBuffer, size: 100, expectedAlignment: 256, expectedSize: 256},
		"Storage": {usage: core1_0.BufferUsageStorageBuffer, size: 65, expectedAlignment: 64, expectedSize: 128},
		"Texel":   {usage: core1_0.BufferUsageUniformTexelBuffer, size: 17, expectedAlignment: 16, expectedSize: 32},
		"Mixed":   {usage: core1_0.BufferUsageUniformBuffer | core1_0.BufferUsageStorageBuffer, size: 1, expectedAlignment: 256, expectedSize: 256},
	}

	for name, testCase := range requirementCases {
		t.Run(name, func(t *testing.T) {
			options := hostmem.DefaultOptions()
			options.BufferAlignment = 4
			driver := hostmem.New(options)

			buffer, requirements, _, err := driver.CreateBuffer(core1_0.BufferCreateInfo{
				Size:  testCase.size,
				Usage: testCase.usage,
			})
			require.NoError(t, err)
			require.NotNil(t, buffer)
			require.Equal(t, testCase.expectedAlignment, requirements.Alignment)
			require.Equal(t, testCase.expectedSize, requirements.Size)
			require.Equal(t, uint32(0b11), requirements.MemoryTypeBits)
			require.Equal(t, 1, driver.LiveBufferCount())

			driver.DestroyBuffer(buffer)
			require.Equal(t, 0, driver.LiveBufferCount())
		})
	}
}

func TestBindMapRoundTrip(t *testing.T) {
	driver := hostmem.New(hostmem.DefaultOptions())

	memory, _, err := driver.AllocateMemory(core1_0.MemoryAllocateInfo{
		AllocationSize:  1024,
		MemoryTypeIndex: 1,
	})
	require.NoError(t, err)

	buffer, _, _, err := driver.CreateBuffer(core1_0.BufferCreateInfo{Size: 16, Usage: core1_0.BufferUsageVertexBuffer})
	require.NoError(t, err)

	_, err = driver.BindBufferMemory(buffer, memory, 512)
	require.NoError(t, err)

	_, err = driver.BindBufferMemory(buffer, memory, 0)
	require.Error(t, err)

	ptr, _, err := driver.MapMemory(memory, 0, 1024)
	require.NoError(t, err)
	copy(unsafe.Slice((*byte)(unsafe.Add(ptr, 512)), 4), []byte{1, 2, 3, 4})

	_, _, err = driver.MapMemory(memory, 0, 1024)
	require.Error(t, err)

	driver.UnmapMemory(memory)

	contents, err := driver.Contents(buffer, 4)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3, 4}, contents)

	driver.DestroyBuffer(buffer)
	driver.FreeMemory(memory)
	require.Equal(t, 0, driver.LiveMemoryCount())
}

func TestBindRejectsBadPlacement(t *testing.T) {
	options := hostmem.DefaultOptions()
	options.BufferAlignment = 16
	driver := hostmem.New(options)

	memory, _, err := driver.AllocateMemory(core1_0.MemoryAllocateInfo{AllocationSize: 64, MemoryTypeIndex: 1})
	require.NoError(t, err)

	buffer, _, _, err := driver.CreateBuffer(core1_0.BufferCreateInfo{Size: 32})
	require.NoError(t, err)

	_, err = driver.BindBufferMemory(buffer, memory, 8)
	require.Error(t, err)

	_, err = driver.BindBufferMemory(buffer, memory, 48)
	require.Error(t, err)

	_, err = driver.BindBufferMemory(buffer, memory, 32)
	require.NoError(t, err)
}

func TestMapRequiresHostVisible(t *testing.T) {
	driver := hostmem.New(hostmem.DefaultOptions())

	memory, _, err := driver.AllocateMemory(core1_0.MemoryAllocateInfo{AllocationSize: 64, MemoryTypeIndex: 0})
	require.NoError(t, err)

	_, res, err := driver.MapMemory(memory, 0, 64)
	require.Error(t, err)
	require.Equal(t, core1_0.VKErrorMemoryMapFailed, res)
}

func TestFailureInjection(t *testing.T) {
	driver := hostmem.New(hostmem.DefaultOptions())
	driver.FailNextAllocation = core1_0.VKErrorOutOfDeviceMemory

	_, res, err := driver.AllocateMemory(core1_0.MemoryAllocateInfo{AllocationSize: 64, MemoryTypeIndex: 1})
	require.Error(t, err)
	require.Equal(t, core1_0.VKErrorOutOfDeviceMemory, res)

	_, res, err = driver.AllocateMemory(core1_0.MemoryAllocateInfo{AllocationSize: 64, MemoryTypeIndex: 1})
	require.NoError(t, err)
	require.Equal(t, core1_0.VKSuccess, res)
}

func TestAllocationCountLimit(t *testing.T) {
	options := hostmem.DefaultOptions()
	options.Limits.MaxMemoryAllocationCount = 1
	driver := hostmem.New(options)

	_, _, err := driver.AllocateMemory(core1_0.MemoryAllocateInfo{AllocationSize: 64, MemoryTypeIndex: 1})
	require.NoError(t, err)

	_, res, err := driver.AllocateMemory(core1_0.MemoryAllocateInfo{AllocationSize: 64, MemoryTypeIndex: 1})
	require.Error(t, err)
	require.Equal(t, core1_0.VKErrorTooManyObjects, res)
}
