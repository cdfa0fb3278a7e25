package vulkan

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/bufferpool/driver"
	"github.com/vkngwrapper/bufferpool/driver/hostmem"
	"github.com/vkngwrapper/bufferpool/driver/mocks"
	"github.com/vkngwrapper/bufferpool/memutils"
	"github.com/vkngwrapper/core/v2/core1_0"
	"go.uber.org/mock/gomock"
)

type recordingCallbacks struct {
	allocated []int
	freed     []int
}

func (c *recordingCallbacks) Allocate(memoryType int, memory driver.Memory, size int) {
	c.allocated = append(c.allocated, size)
}

func (c *recordingCallbacks) Free(memoryType int, memory driver.Memory, size int) {
	c.freed = append(c.freed, size)
}

func threeTypeOptions() hostmem.Options {
	options := hostmem.DefaultOptions()
	options.MemoryTypes = []core1_0.MemoryType{
		{PropertyFlags: core1_0.MemoryPropertyDeviceLocal, HeapIndex: 0},
		{PropertyFlags: core1_0.MemoryPropertyHostVisible, HeapIndex: 1},
		{PropertyFlags: core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent, HeapIndex: 1},
	}
	return options
}

func TestFindMemoryTypeIndex(t *testing.T) {
	findCases := map[string]struct {
		typeBits   uint32
		properties core1_0.MemoryPropertyFlags
		expected   int
		found      bool
	}{
		"FirstMatch":        {typeBits: 0b111, properties: core1_0.MemoryPropertyHostVisible, expected: 1, found: true},
		"SupersetFlags":     {typeBits: 0b111, properties: core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent, expected: 2, found: true},
		"MaskedOut":         {typeBits: 0b101, properties: core1_0.MemoryPropertyHostVisible, expected: 2, found: true},
		"NoProperties":      {typeBits: 0b110, properties: 0, expected: 1, found: true},
		"NothingCompatible": {typeBits: 0b001, properties: core1_0.MemoryPropertyHostVisible, expected: -1, found: false},
		"EmptyMask":         {typeBits: 0, properties: 0, expected: -1, found: false},
	}

	for name, testCase := range findCases {
		t.Run(name, func(t *testing.T) {
			props, err := NewDeviceMemoryProperties(false, nil, hostmem.New(threeTypeOptions()), nil)
			require.NoError(t, err)

			index, found := props.FindMemoryTypeIndex(testCase.typeBits, testCase.properties)
			require.Equal(t, testCase.found, found)
			require.Equal(t, testCase.expected, index)
		})
	}
}

func TestMinAlignmentFor(t *testing.T) {
	props, err := NewDeviceMemoryProperties(false, nil, hostmem.New(hostmem.DefaultOptions()), nil)
	require.NoError(t, err)

	require.Equal(t, 16, props.MinAlignmentFor(core1_0.BufferUsageStorageTexelBuffer))
	require.Equal(t, 16, props.MinAlignmentFor(core1_0.BufferUsageUniformTexelBuffer))
	require.Equal(t, 256, props.MinAlignmentFor(core1_0.BufferUsageUniformBuffer))
	require.Equal(t, 64, props.MinAlignmentFor(core1_0.BufferUsageStorageBuffer))
	require.Equal(t, 256, props.MinAlignmentFor(core1_0.BufferUsageStorageBuffer|core1_0.BufferUsageUniformBuffer))
	require.Equal(t, DefaultMinAlignment, props.MinAlignmentFor(core1_0.BufferUsageVertexBuffer))
	require.Equal(t, DefaultMinAlignment, props.MinAlignmentFor(0))
}

func TestMinAlignmentForNonPowerOfTwoLimits(t *testing.T) {
	options := hostmem.DefaultOptions()
	options.Limits.MinTexelBufferOffsetAlignment = 12
	options.Limits.MinUniformBufferOffsetAlignment = 48
	options.Limits.MinStorageBufferOffsetAlignment = 32

	props, err := NewDeviceMemoryProperties(false, nil, hostmem.New(options), nil)
	require.NoError(t, err)

	alignmentCases := map[string]struct {
		usage    core1_0.BufferUsageFlags
		expected int
	}{
		"Uniform":             {usage: core1_0.BufferUsageUniformBuffer, expected: 48},
		"UniformStorage":      {usage: core1_0.BufferUsageUniformBuffer | core1_0.BufferUsageStorageBuffer, expected: 96},
		"TexelStorage":        {usage: core1_0.BufferUsageUniformTexelBuffer | core1_0.BufferUsageStorageBuffer, expected: 96},
		"TexelUniformStorage": {usage: core1_0.BufferUsageStorageTexelBuffer | core1_0.BufferUsageUniformBuffer | core1_0.BufferUsageStorageBuffer, expected: 96},
		"VertexUniform":       {usage: core1_0.BufferUsageVertexBuffer | core1_0.BufferUsageUniformBuffer, expected: 48},
	}

	for name, testCase := range alignmentCases {
		t.Run(name, func(t *testing.T) {
			require.Equal(t, testCase.expected, props.MinAlignmentFor(testCase.usage))
		})
	}
}

func TestHeapLimitLengthMismatch(t *testing.T) {
	_, err := NewDeviceMemoryProperties(false, nil, hostmem.New(hostmem.DefaultOptions()), []int{100})
	require.Error(t, err)
}

func TestAllocatePageAccounting(t *testing.T) {
	callbacks := &recordingCallbacks{}
	drv := hostmem.New(hostmem.DefaultOptions())
	props, err := NewDeviceMemoryProperties(false, callbacks, drv, nil)
	require.NoError(t, err)

	mem, _, err := props.AllocatePage(core1_0.MemoryAllocateInfo{AllocationSize: 4096, MemoryTypeIndex: 1})
	require.NoError(t, err)
	require.Equal(t, uint32(1), props.AllocationCount())
	require.Equal(t, []int{4096}, callbacks.allocated)

	var stats memutils.Statistics
	props.HeapStatistics(1, &stats)
	require.Equal(t, memutils.Statistics{PageCount: 1, PageBytes: 4096}, stats)

	props.AddAllocation(1, 100)
	props.HeapStatistics(1, &stats)
	require.Equal(t, memutils.Statistics{PageCount: 1, PageBytes: 4096, AllocationCount: 1, AllocationBytes: 100}, stats)
	props.RemoveAllocation(1, 100)

	props.FreePage(1, mem)
	require.Equal(t, uint32(0), props.AllocationCount())
	require.Equal(t, []int{4096}, callbacks.freed)
	require.Equal(t, 0, drv.LiveMemoryCount())

	props.HeapStatistics(1, &stats)
	require.Equal(t, memutils.Statistics{}, stats)
}

func TestAllocatePageHeapLimit(t *testing.T) {
	props, err := NewDeviceMemoryProperties(false, nil, hostmem.New(hostmem.DefaultOptions()), []int{0, 6000})
	require.NoError(t, err)

	_, _, err = props.AllocatePage(core1_0.MemoryAllocateInfo{AllocationSize: 4096, MemoryTypeIndex: 1})
	require.NoError(t, err)

	_, res, err := props.AllocatePage(core1_0.MemoryAllocateInfo{AllocationSize: 4096, MemoryTypeIndex: 1})
	require.Error(t, err)
	require.Equal(t, core1_0.VKErrorOutOfDeviceMemory, res)
	require.Equal(t, uint32(1), props.AllocationCount())

	// The other heap has no limit
	_, _, err = props.AllocatePage(core1_0.MemoryAllocateInfo{AllocationSize: 4096, MemoryTypeIndex: 0})
	require.NoError(t, err)
}

func TestAllocatePageCountLimit(t *testing.T) {
	options := hostmem.DefaultOptions()
	options.Limits.MaxMemoryAllocationCount = 1
	props, err := NewDeviceMemoryProperties(false, nil, hostmem.New(options), nil)
	require.NoError(t, err)

	_, _, err = props.AllocatePage(core1_0.MemoryAllocateInfo{AllocationSize: 64, MemoryTypeIndex: 1})
	require.NoError(t, err)

	_, res, err := props.AllocatePage(core1_0.MemoryAllocateInfo{AllocationSize: 64, MemoryTypeIndex: 1})
	require.Error(t, err)
	require.Equal(t, core1_0.VKErrorTooManyObjects, res)
	require.Equal(t, uint32(1), props.AllocationCount())
}

func TestAllocatePageDriverFailureRollsBack(t *testing.T) {
	ctrl := gomock.NewController(t)
	drv := mocks.NewMockDriver(ctrl)

	options := hostmem.DefaultOptions()
	limits := options.Limits
	drv.EXPECT().PhysicalDeviceProperties().Return(&core1_0.PhysicalDeviceProperties{Limits: &limits}, nil)
	drv.EXPECT().MemoryProperties().Return(&core1_0.PhysicalDeviceMemoryProperties{
		MemoryTypes: options.MemoryTypes,
		MemoryHeaps: options.MemoryHeaps,
	})
	drv.EXPECT().AllocateMemory(core1_0.MemoryAllocateInfo{AllocationSize: 64, MemoryTypeIndex: 1}).
		Return(nil, core1_0.VKErrorOutOfDeviceMemory, core1_0.VKErrorOutOfDeviceMemory.ToError())

	props, err := NewDeviceMemoryProperties(false, nil, drv, nil)
	require.NoError(t, err)

	_, res, err := props.AllocatePage(core1_0.MemoryAllocateInfo{AllocationSize: 64, MemoryTypeIndex: 1})
	require.Error(t, err)
	require.Equal(t, core1_0.VKErrorOutOfDeviceMemory, res)
	require.Equal(t, uint32(0), props.AllocationCount())

	var stats memutils.Statistics
	props.HeapStatistics(1, &stats)
	require.Equal(t, memutils.Statistics{}, stats)
}
