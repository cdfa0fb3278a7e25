package vbp

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/bufferpool/driver/hostmem"
	"github.com/vkngwrapper/bufferpool/memutils"
	"github.com/vkngwrapper/core/v2/common"
)

func TestCalculateStatistics(t *testing.T) {
	_, pool := readyPool(t, hostmem.DefaultOptions(), CreateOptions{})

	buffers, _, err := pool.CreateBuffers([]int{100, 200, 300}, vertexSettings(ReallocFixedSize))
	require.NoError(t, err)
	require.NoError(t, pool.DestroyBuffer(buffers[1]))

	var stats MemoryPoolStatistics
	pool.CalculateStatistics(&stats)

	empty := memutils.DetailedStatistics{
		AllocationSizeMin: math.MaxInt,
		FreeRangeSizeMin:  math.MaxInt,
	}
	used := memutils.DetailedStatistics{
		Statistics: memutils.Statistics{
			PageCount:       1,
			AllocationCount: 2,
			PageBytes:       testPageSize,
			AllocationBytes: 400,
		},
		FreeRangeCount:    2,
		AllocationSizeMin: 100,
		AllocationSizeMax: 300,
		FreeRangeSizeMin:  200,
		FreeRangeSizeMax:  424,
	}

	require.Equal(t, empty, stats.MemoryTypes[0])
	require.Equal(t, used, stats.MemoryTypes[1])
	for typeIndex := 2; typeIndex < common.MaxMemoryTypes; typeIndex++ {
		require.Equal(t, empty, stats.MemoryTypes[typeIndex])
	}

	require.Equal(t, empty, stats.MemoryHeaps[0])
	require.Equal(t, used, stats.MemoryHeaps[1])
	require.Equal(t, used, stats.Total)

	var heapStats memutils.Statistics
	pool.HeapStatistics(1, &heapStats)
	require.Equal(t, used.Statistics, heapStats)

	require.NoError(t, pool.DestroyBuffers(buffers))
	require.NoError(t, pool.Destroy())

	pool.HeapStatistics(1, &heapStats)
	require.Equal(t, memutils.Statistics{}, heapStats)
}

func TestBuildStatsString(t *testing.T) {
	_, pool := readyPool(t, hostmem.DefaultOptions(), CreateOptions{})

	buffer, _, err := pool.CreateBuffer(100, vertexSettings(ReallocFixedSize))
	require.NoError(t, err)

	var summary map[string]any
	require.NoError(t, json.Unmarshal([]byte(pool.BuildStatsString(false)), &summary))

	general := summary["General"].(map[string]any)
	require.Equal(t, float64(testPageSize), general["PageSize"])
	require.Equal(t, "1.0 KiB", general["PageSizeHuman"])
	require.Equal(t, float64(1), general["LiveBuffers"])
	require.Equal(t, false, general["IntegratedGPU"])

	total := summary["Total"].(map[string]any)
	require.Equal(t, float64(1), total["PageCount"])
	require.Equal(t, float64(100), total["AllocationBytes"])

	heaps := summary["MemoryHeaps"].(map[string]any)
	require.Len(t, heaps, 2)
	hostHeap := heaps["Heap 1"].(map[string]any)
	hostType := hostHeap["MemoryTypes"].(map[string]any)["Type 1"].(map[string]any)
	require.NotContains(t, hostType, "Pages")

	var detailed map[string]any
	require.NoError(t, json.Unmarshal([]byte(pool.BuildStatsString(true)), &detailed))

	hostType = detailed["MemoryHeaps"].(map[string]any)["Heap 1"].(map[string]any)["MemoryTypes"].(map[string]any)["Type 1"].(map[string]any)
	firstPage := hostType["Pages"].(map[string]any)["0"].(map[string]any)
	require.Equal(t, float64(testPageSize), firstPage["TotalBytes"])

	suballocations := firstPage["Suballocations"].([]any)
	require.Len(t, suballocations, 2)
	require.Equal(t, "TAKEN", suballocations[0].(map[string]any)["Type"])
	require.Equal(t, buffer.String(), suballocations[0].(map[string]any)["CustomData"])
	require.Equal(t, "FREE", suballocations[1].(map[string]any)["Type"])

	require.NoError(t, pool.DestroyBuffer(buffer))
	require.NoError(t, pool.Destroy())
}
