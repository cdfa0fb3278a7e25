package vbp

import (
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/bufferpool/memutils"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// MemoryPoolStatistics breaks down the pages and blocks of a MemoryPool by memory type and by heap
type MemoryPoolStatistics struct {
	MemoryTypes [common.MaxMemoryTypes]memutils.DetailedStatistics
	MemoryHeaps [common.MaxMemoryHeaps]memutils.DetailedStatistics
	Total       memutils.DetailedStatistics
}

// CalculateStatistics walks every page in the memory pool and fills stats with the result. Any
// existing contents of stats are overwritten.
func (p *MemoryPool) CalculateStatistics(stats *MemoryPoolStatistics) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.calculateStatistics(stats)
}

func (p *MemoryPool) calculateStatistics(stats *MemoryPoolStatistics) {
	stats.Total.Clear()
	for i := 0; i < common.MaxMemoryTypes; i++ {
		stats.MemoryTypes[i].Clear()
	}
	for i := 0; i < common.MaxMemoryHeaps; i++ {
		stats.MemoryHeaps[i].Clear()
	}

	for typeIndex, pool := range p.pools {
		if pool == nil {
			continue
		}

		pool.AddDetailedStatistics(&stats.MemoryTypes[typeIndex])
	}

	typeCount := p.deviceMemory.MemoryTypeCount()
	for typeIndex := 0; typeIndex < typeCount; typeIndex++ {
		heapIndex := p.deviceMemory.MemoryTypeIndexToHeapIndex(typeIndex)
		stats.MemoryHeaps[heapIndex].AddDetailedStatistics(&stats.MemoryTypes[typeIndex])
	}

	for heapIndex := 0; heapIndex < p.deviceMemory.MemoryHeapCount(); heapIndex++ {
		stats.Total.AddDetailedStatistics(&stats.MemoryHeaps[heapIndex])
	}
}

// HeapStatistics reports the running page and buffer totals for one heap. Unlike CalculateStatistics,
// it does not walk any pages.
func (p *MemoryPool) HeapStatistics(heapIndex int, stats *memutils.Statistics) {
	p.deviceMemory.HeapStatistics(heapIndex, stats)
}

func writeDetailedStatistics(json *jwriter.ObjectState, stats *memutils.DetailedStatistics) {
	json.Name("PageCount").Int(stats.PageCount)
	json.Name("PageBytes").Int(stats.PageBytes)
	json.Name("AllocationCount").Int(stats.AllocationCount)
	json.Name("AllocationBytes").Int(stats.AllocationBytes)
	json.Name("FreeRangeCount").Int(stats.FreeRangeCount)

	if stats.AllocationCount > 1 {
		json.Name("AllocationSizeMin").Int(stats.AllocationSizeMin)
		json.Name("AllocationSizeMax").Int(stats.AllocationSizeMax)
	}
	if stats.FreeRangeCount > 1 {
		json.Name("FreeRangeSizeMin").Int(stats.FreeRangeSizeMin)
		json.Name("FreeRangeSizeMax").Int(stats.FreeRangeSizeMax)
	}
}

// BuildStatsString produces a JSON document describing the memory pool's heaps, memory types, and
// pages. If detailed is true, every block in every page is listed as well.
func (p *MemoryPool) BuildStatsString(detailed bool) string {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	var stats MemoryPoolStatistics
	p.calculateStatistics(&stats)

	writer := jwriter.NewWriter()
	rootObj := writer.Object()

	generalObj := rootObj.Name("General").Object()
	generalObj.Name("PageSize").Int(p.pageSize)
	generalObj.Name("PageSizeHuman").String(humanize.IBytes(uint64(p.pageSize)))
	generalObj.Name("LiveBuffers").Int(p.buffers.Count())
	generalObj.Name("Flags").String(p.createFlags.String())
	generalObj.Name("IntegratedGPU").Bool(p.deviceMemory.DeviceProperties().DriverType == core1_0.PhysicalDeviceTypeIntegratedGPU)
	generalObj.End()

	totalObj := rootObj.Name("Total").Object()
	writeDetailedStatistics(&totalObj, &stats.Total)
	totalObj.End()

	typesByHeap := make(map[int][]int)
	for typeIndex := 0; typeIndex < p.deviceMemory.MemoryTypeCount(); typeIndex++ {
		heapIndex := p.deviceMemory.MemoryTypeIndexToHeapIndex(typeIndex)
		typesByHeap[heapIndex] = append(typesByHeap[heapIndex], typeIndex)
	}

	heapIndices := maps.Keys(typesByHeap)
	slices.Sort(heapIndices)

	heapsObj := rootObj.Name("MemoryHeaps").Object()
	for _, heapIndex := range heapIndices {
		heap := p.deviceMemory.MemoryHeapProperties(heapIndex)

		heapObj := heapsObj.Name("Heap " + strconv.Itoa(heapIndex)).Object()
		heapObj.Name("Size").Int(heap.Size)
		heapObj.Name("Flags").String(heap.Flags.String())

		statsObj := heapObj.Name("Stats").Object()
		writeDetailedStatistics(&statsObj, &stats.MemoryHeaps[heapIndex])
		statsObj.End()

		typesObj := heapObj.Name("MemoryTypes").Object()
		for _, typeIndex := range typesByHeap[heapIndex] {
			typeObj := typesObj.Name("Type " + strconv.Itoa(typeIndex)).Object()
			typeObj.Name("Flags").String(p.deviceMemory.MemoryTypeProperties(typeIndex).PropertyFlags.String())

			typeStatsObj := typeObj.Name("Stats").Object()
			writeDetailedStatistics(&typeStatsObj, &stats.MemoryTypes[typeIndex])
			typeStatsObj.End()

			if detailed && p.pools[typeIndex] != nil {
				pagesObj := typeObj.Name("Pages").Object()
				p.pools[typeIndex].PrintDetailedMap(&pagesObj)
				pagesObj.End()
			}

			typeObj.End()
		}
		typesObj.End()

		heapObj.End()
	}
	heapsObj.End()

	rootObj.End()
	return string(writer.Bytes())
}
