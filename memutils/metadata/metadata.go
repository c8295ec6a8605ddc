package metadata

import (
	"sort"

	"github.com/dolthub/swiss"
	"github.com/google/btree"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/pkg/errors"
	"github.com/vkngwrapper/arsenal/ascompact/memutils"
)

const freeListDegree = 8

// FreeListMetadata tracks the occupancy of a single block of memory. Fresh memory is handed out
// from a bump pointer, and freed ranges are kept in an ordered free list so that they can be
// reused on a best-fit basis. Free ranges are never merged with one another; when the last live
// allocation is freed the whole block is reset instead.
//
// FreeListMetadata knows nothing about the memory it describes- the consumer applies requests to
// real memory and then commits them with Alloc.
type FreeListMetadata struct {
	size          uint32
	currentOffset uint32

	freeList  *btree.BTreeG[FreeMemChunk]
	freeBytes uint64

	liveAllocations *swiss.Map[uint32, uint32]
	liveBytes       uint64
}

var _ memutils.Validatable = &FreeListMetadata{}

// NewFreeListMetadata creates an uninitialized FreeListMetadata. Init must be called before use.
func NewFreeListMetadata() *FreeListMetadata {
	return &FreeListMetadata{}
}

// Init prepares this structure for allocations and sizes the block in bytes based on the parameter size.
func (m *FreeListMetadata) Init(size uint32) {
	m.size = size
	m.currentOffset = 0
	m.freeList = btree.NewG[FreeMemChunk](freeListDegree, chunkLess)
	m.freeBytes = 0
	m.liveAllocations = swiss.NewMap[uint32, uint32](16)
	m.liveBytes = 0
}

// Size returns the size of the block in bytes
func (m *FreeListMetadata) Size() uint32 { return m.size }

// CurrentOffset returns the bump pointer: every byte at or past this offset has never been handed out
// since the block was last reset.
func (m *FreeListMetadata) CurrentOffset() uint32 { return m.currentOffset }

// AllocationCount returns the number of live allocations in the block
func (m *FreeListMetadata) AllocationCount() int { return m.liveAllocations.Count() }

// IsEmpty will return true if this block has no live allocations
func (m *FreeListMetadata) IsEmpty() bool { return m.liveAllocations.Count() == 0 }

// AllocationBytes returns the number of bytes covered by live allocations
func (m *FreeListMetadata) AllocationBytes() uint64 { return m.liveBytes }

// SumFreeSize returns the number of bytes in the block not covered by a live allocation, whether
// they are in the free list or past the bump pointer.
func (m *FreeListMetadata) SumFreeSize() uint64 { return uint64(m.size) - m.liveBytes }

// FreeListBytes returns the number of bytes currently waiting in the free list
func (m *FreeListMetadata) FreeListBytes() uint64 { return m.freeBytes }

// FreeRegionsCount returns the number of chunks in the free list
func (m *FreeListMetadata) FreeRegionsCount() int { return m.freeList.Len() }

// FindFreeChunk returns a request for the smallest chunk in the free list that can hold size bytes.
// If several chunks have the same size, the one with the lowest offset is chosen.
func (m *FreeListMetadata) FindFreeChunk(size uint32) (AllocationRequest, bool) {
	var request AllocationRequest
	found := false

	m.freeList.AscendGreaterOrEqual(FreeMemChunk{Size: size}, func(chunk FreeMemChunk) bool {
		request = AllocationRequest{
			Type:     AllocationRequestFreeList,
			Offset:   chunk.Offset,
			Size:     size,
			Leftover: chunk.Size - size,
			chunk:    chunk,
		}
		found = true
		return false
	})

	return request, found
}

// BumpRequest returns a request placing size bytes at the bump pointer, if they fit before the end
// of the block
func (m *FreeListMetadata) BumpRequest(size uint32) (AllocationRequest, bool) {
	if uint64(m.currentOffset)+uint64(size) > uint64(m.size) {
		return AllocationRequest{}, false
	}

	return AllocationRequest{
		Type:   AllocationRequestBump,
		Offset: m.currentOffset,
		Size:   size,
	}, true
}

// CreateAllocationRequest retrieves an AllocationRequest indicating where the metadata would place
// an allocation of size bytes: the best-fitting free chunk if there is one, and the bump pointer
// otherwise. The boolean return value is false if the block cannot hold the allocation at all.
func (m *FreeListMetadata) CreateAllocationRequest(size uint32) (AllocationRequest, bool) {
	if request, found := m.FindFreeChunk(size); found {
		return request, true
	}

	return m.BumpRequest(size)
}

// Alloc commits an AllocationRequest. It returns an error if the request is no longer valid: the free chunk
// it names is gone or the bump pointer has moved.
func (m *FreeListMetadata) Alloc(request AllocationRequest) error {
	if request.Size == 0 {
		return errors.New("attempted to commit a zero-size allocation")
	}

	switch request.Type {
	case AllocationRequestFreeList:
		if request.chunk.Size != request.Size+request.Leftover || request.chunk.Offset != request.Offset {
			return errors.Errorf("allocation request at offset %d does not describe the chunk it was created from", request.Offset)
		}

		_, removed := m.freeList.Delete(request.chunk)
		if !removed {
			return errors.Errorf("free chunk at offset %d with size %d is no longer in the free list", request.chunk.Offset, request.chunk.Size)
		}
		m.freeBytes -= uint64(request.chunk.Size)

		if request.Leftover > 0 {
			m.freeList.ReplaceOrInsert(FreeMemChunk{
				Offset: request.Offset + request.Size,
				Size:   request.Leftover,
			})
			m.freeBytes += uint64(request.Leftover)
		}
	case AllocationRequestBump:
		if request.Offset != m.currentOffset {
			return errors.Errorf("bump allocation request expected the bump pointer at %d, but it is at %d", request.Offset, m.currentOffset)
		}
		if uint64(request.Offset)+uint64(request.Size) > uint64(m.size) {
			return errors.Errorf("bump allocation of %d bytes at offset %d overruns the block, which is size %d", request.Size, request.Offset, m.size)
		}

		m.currentOffset += request.Size
	default:
		return errors.Errorf("unknown allocation request type: %s", request.Type)
	}

	m.liveAllocations.Put(request.Offset, request.Size)
	m.liveBytes += uint64(request.Size)

	return nil
}

// Free returns a live allocation to the free list. It returns an error if no live allocation
// of exactly this size starts at offset. Freeing the last live allocation resets the block.
func (m *FreeListMetadata) Free(offset uint32, size uint32) error {
	liveSize, ok := m.liveAllocations.Get(offset)
	if !ok {
		return errors.Errorf("no live allocation at offset %d", offset)
	}
	if liveSize != size {
		return errors.Errorf("allocation at offset %d has size %d, but %d bytes were freed", offset, liveSize, size)
	}

	m.liveAllocations.Delete(offset)
	m.liveBytes -= uint64(size)

	if m.liveAllocations.Count() == 0 {
		m.Clear()
		return nil
	}

	m.freeList.ReplaceOrInsert(FreeMemChunk{Offset: offset, Size: size})
	m.freeBytes += uint64(size)

	return nil
}

// Clear instantly frees all allocations and resets the bump pointer
func (m *FreeListMetadata) Clear() {
	m.currentOffset = 0
	m.freeList.Clear(false)
	m.freeBytes = 0
	m.liveAllocations = swiss.NewMap[uint32, uint32](16)
	m.liveBytes = 0
}

// VisitFreeRegions calls the provided callback for each chunk in the free list, smallest first, until
// the callback returns false
func (m *FreeListMetadata) VisitFreeRegions(visit func(chunk FreeMemChunk) bool) {
	m.freeList.Ascend(visit)
}

// VisitAllocations calls the provided callback for each live allocation in the block, in offset order.
// Iteration stops at the first error, which is returned.
func (m *FreeListMetadata) VisitAllocations(visit func(offset, size uint32) error) error {
	allocations := m.sortedAllocations()
	for _, alloc := range allocations {
		err := visit(alloc.Offset, alloc.Size)
		if err != nil {
			return err
		}
	}

	return nil
}

func (m *FreeListMetadata) sortedAllocations() []FreeMemChunk {
	allocations := make([]FreeMemChunk, 0, m.liveAllocations.Count())
	m.liveAllocations.Iter(func(offset uint32, size uint32) bool {
		allocations = append(allocations, FreeMemChunk{Offset: offset, Size: size})
		return false
	})

	sort.Slice(allocations, func(i, j int) bool {
		return allocations[i].Offset < allocations[j].Offset
	})

	return allocations
}

// AddStatistics sums this block's statistics into the provided memutils.Statistics object
func (m *FreeListMetadata) AddStatistics(stats *memutils.Statistics) {
	stats.BlockCount++
	stats.BlockBytes += uint64(m.size)
	stats.AllocationCount += m.liveAllocations.Count()
	stats.AllocationBytes += m.liveBytes
	stats.FreeRangeCount += m.freeList.Len()
	stats.FreeRangeBytes += m.freeBytes
}

// BlockJsonData populates a json object with information about this block
func (m *FreeListMetadata) BlockJsonData(json jwriter.ObjectState) {
	json.Name("TotalBytes").Int(int(m.size))
	json.Name("CurrentOffset").Int(int(m.currentOffset))
	json.Name("UnusedBytes").Int(int(m.SumFreeSize()))
	json.Name("Allocations").Int(m.liveAllocations.Count())
	json.Name("FreeRanges").Int(m.freeList.Len())
	json.Name("FreeRangeBytes").Int(int(m.freeBytes))

	free := json.Name("FreeList").Array()
	m.freeList.Ascend(func(chunk FreeMemChunk) bool {
		obj := free.Object()
		obj.Name("Offset").Int(int(chunk.Offset))
		obj.Name("Size").Int(int(chunk.Size))
		obj.End()
		return true
	})
	free.End()
}

// Validate performs internal consistency checks on the metadata. When the implementation is functioning
// correctly, it should not be possible for this method to return an error.
func (m *FreeListMetadata) Validate() error {
	if m.currentOffset > m.size {
		return errors.Errorf("bump pointer %d is past the end of the block, which is size %d", m.currentOffset, m.size)
	}

	var freeBytes uint64
	regions := m.sortedAllocations()
	var liveBytes uint64
	for _, alloc := range regions {
		liveBytes += uint64(alloc.Size)
	}

	m.freeList.Ascend(func(chunk FreeMemChunk) bool {
		freeBytes += uint64(chunk.Size)
		regions = append(regions, chunk)
		return true
	})

	if freeBytes != m.freeBytes {
		return errors.Errorf("free list holds %d bytes, but the metadata believes it holds %d", freeBytes, m.freeBytes)
	}
	if liveBytes != m.liveBytes {
		return errors.Errorf("live allocations cover %d bytes, but the metadata believes they cover %d", liveBytes, m.liveBytes)
	}

	sort.Slice(regions, func(i, j int) bool {
		return regions[i].Offset < regions[j].Offset
	})

	var nextOffset uint32
	for _, region := range regions {
		if region.Size == 0 {
			return errors.Errorf("region at offset %d has zero size", region.Offset)
		}
		if region.Offset < nextOffset {
			return errors.Errorf("region at offset %d collides with the previous region, which ends at %d", region.Offset, nextOffset)
		}
		if region.End() > m.currentOffset {
			return errors.Errorf("region at offset %d ends at %d, past the bump pointer %d", region.Offset, region.End(), m.currentOffset)
		}
		nextOffset = region.End()
	}

	if freeBytes+liveBytes != uint64(m.currentOffset) {
		return errors.Errorf("the free list (%d bytes) and live allocations (%d bytes) do not account for the %d bytes below the bump pointer", freeBytes, liveBytes, m.currentOffset)
	}

	return nil
}
