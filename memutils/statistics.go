package memutils

// Statistics sums up the memory held by one or more block suballocators.
type Statistics struct {
	// BlockCount is the number of backing buffers
	BlockCount int
	// AllocationCount is the number of live suballocations
	AllocationCount int
	// BlockBytes is the total size in bytes of all backing buffers
	BlockBytes uint64
	// AllocationBytes is the total size in bytes of all live suballocations
	AllocationBytes uint64
	// FreeRangeCount is the number of reclaimed ranges waiting in free lists
	FreeRangeCount int
	// FreeRangeBytes is the total size in bytes of all reclaimed ranges waiting in free lists
	FreeRangeBytes uint64
}

func (s *Statistics) Clear() {
	*s = Statistics{}
}

func (s *Statistics) AddStatistics(other *Statistics) {
	s.BlockCount += other.BlockCount
	s.AllocationCount += other.AllocationCount
	s.BlockBytes += other.BlockBytes
	s.AllocationBytes += other.AllocationBytes
	s.FreeRangeCount += other.FreeRangeCount
	s.FreeRangeBytes += other.FreeRangeBytes
}

// UnusedBytes is the number of bytes held by backing buffers that no live suballocation covers,
// whether they sit in a free list or past a block's bump pointer.
func (s *Statistics) UnusedBytes() uint64 {
	return s.BlockBytes - s.AllocationBytes
}
