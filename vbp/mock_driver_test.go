package vbp

import (
	"io"
	"testing"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/bufferpool/driver/mocks"
	"github.com/vkngwrapper/core/v2/core1_0"
	"go.uber.org/mock/gomock"
	"golang.org/x/exp/slog"
)

type fakeHandle struct {
	name string
}

func readyMockPool(t *testing.T, ctrl *gomock.Controller, limits core1_0.PhysicalDeviceLimits, pageSize int) (*mocks.MockDriver, *MemoryPool) {
	drv := mocks.NewMockDriver(ctrl)

	drv.EXPECT().PhysicalDeviceProperties().Return(&core1_0.PhysicalDeviceProperties{
		DriverType: core1_0.PhysicalDeviceTypeDiscreteGPU,
		Limits:     &limits,
	}, nil)
	drv.EXPECT().MemoryProperties().Return(&core1_0.PhysicalDeviceMemoryProperties{
		MemoryTypes: []core1_0.MemoryType{
			{
				PropertyFlags: core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent,
				HeapIndex:     0,
			},
		},
		MemoryHeaps: []core1_0.MemoryHeap{
			{
				Size: 1024 * 1024,
			},
		},
	})

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	pool, err := New(logger, drv, CreateOptions{PageSize: pageSize})
	require.NoError(t, err)

	return drv, pool
}

func expectCreateBuffer(drv *mocks.MockDriver, size int, handle *fakeHandle, requirements core1_0.MemoryRequirements) {
	drv.EXPECT().CreateBuffer(core1_0.BufferCreateInfo{
		Size:  size,
		Usage: core1_0.BufferUsageVertexBuffer,
	}).Return(handle, &requirements, core1_0.VKSuccess, nil)
}

func TestMockDriverLifecycle(t *testing.T) {
	ctrl := gomock.NewController(t)
	drv, pool := readyMockPool(t, ctrl, core1_0.PhysicalDeviceLimits{MaxMemoryAllocationCount: 1}, 4096)

	memory := &fakeHandle{name: "page"}
	backing := make([]byte, 4096)

	first := &fakeHandle{name: "first"}
	expectCreateBuffer(drv, 100, first, core1_0.MemoryRequirements{Size: 128, Alignment: 64, MemoryTypeBits: 1})
	drv.EXPECT().AllocateMemory(core1_0.MemoryAllocateInfo{
		AllocationSize:  4096,
		MemoryTypeIndex: 0,
	}).Return(memory, core1_0.VKSuccess, nil)
	drv.EXPECT().BindBufferMemory(first, memory, 0).Return(core1_0.VKSuccess, nil)

	buffer, _, err := pool.CreateBuffer(100, vertexSettings(ReallocFixedSize))
	require.NoError(t, err)
	require.Equal(t, first, buffer.DriverBuffer())

	// A failed bind hands the block back and destroys the buffer object
	second := &fakeHandle{name: "second"}
	expectCreateBuffer(drv, 10, second, core1_0.MemoryRequirements{Size: 64, Alignment: 64, MemoryTypeBits: 1})
	drv.EXPECT().BindBufferMemory(second, memory, 128).Return(core1_0.VKErrorOutOfDeviceMemory, core1_0.VKErrorOutOfDeviceMemory.ToError())
	drv.EXPECT().DestroyBuffer(second)

	_, res, err := pool.CreateBuffer(10, vertexSettings(ReallocFixedSize))
	require.Error(t, err)
	require.Equal(t, core1_0.VKErrorOutOfDeviceMemory, res)
	require.NoError(t, pool.Validate())

	// The device only allows one allocation, so a second page can't be made
	third := &fakeHandle{name: "third"}
	expectCreateBuffer(drv, 4096, third, core1_0.MemoryRequirements{Size: 4096, Alignment: 64, MemoryTypeBits: 1})
	drv.EXPECT().DestroyBuffer(third)

	_, res, err = pool.CreateBuffer(4096, vertexSettings(ReallocFixedSize))
	require.True(t, errors.Is(err, ErrBackingAllocationFailed))
	require.Equal(t, core1_0.VKErrorTooManyObjects, res)
	require.Equal(t, 1, pool.PageCount(0))

	drv.EXPECT().MapMemory(memory, 0, 4096).Return(unsafe.Pointer(&backing[0]), core1_0.VKSuccess, nil)
	drv.EXPECT().UnmapMemory(memory)

	_, err = pool.UpdateBuffer(buffer, []byte{1, 2, 3, 4})
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3, 4}, backing[:4])

	drv.EXPECT().DestroyBuffer(first)
	require.NoError(t, pool.DestroyBuffer(buffer))

	drv.EXPECT().FreeMemory(memory)
	require.NoError(t, pool.Destroy())
}

func TestMockDriverMapFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	drv, pool := readyMockPool(t, ctrl, core1_0.PhysicalDeviceLimits{}, 1024)

	memory := &fakeHandle{name: "page"}
	raw := &fakeHandle{name: "buffer"}

	expectCreateBuffer(drv, 16, raw, core1_0.MemoryRequirements{Size: 16, Alignment: 4, MemoryTypeBits: 1})
	drv.EXPECT().AllocateMemory(gomock.Any()).Return(memory, core1_0.VKSuccess, nil)
	drv.EXPECT().BindBufferMemory(raw, memory, 0).Return(core1_0.VKSuccess, nil)

	buffer, _, err := pool.CreateBuffer(16, vertexSettings(ReallocFixedSize))
	require.NoError(t, err)

	drv.EXPECT().MapMemory(memory, 0, 1024).Return(unsafe.Pointer(nil), core1_0.VKErrorMemoryMapFailed, core1_0.VKErrorMemoryMapFailed.ToError())

	res, err := pool.UpdateBuffer(buffer, []byte{1})
	require.Error(t, err)
	require.Equal(t, core1_0.VKErrorMemoryMapFailed, res)

	drv.EXPECT().DestroyBuffer(raw)
	drv.EXPECT().FreeMemory(memory)
	require.NoError(t, pool.DestroyBuffer(buffer))
	require.NoError(t, pool.Destroy())
}
