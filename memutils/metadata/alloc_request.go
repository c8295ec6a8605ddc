package metadata

// AllocationRequestType is an enum that indicates where in a block an allocation request will be placed.
// It is returned in AllocationRequest from FreeListMetadata.CreateAllocationRequest
type AllocationRequestType uint32

const (
	// AllocationRequestFreeList indicates that the request reuses a chunk from the block's free list
	AllocationRequestFreeList AllocationRequestType = iota
	// AllocationRequestBump indicates that the request is placed at the block's bump pointer
	AllocationRequestBump
)

var allocationRequestMapping = map[AllocationRequestType]string{
	AllocationRequestFreeList: "FreeList",
	AllocationRequestBump:     "Bump",
}

func (t AllocationRequestType) String() string {
	return allocationRequestMapping[t]
}

// AllocationRequest is a type returned from FreeListMetadata.CreateAllocationRequest which indicates where
// and how the metadata intends to place new memory. Requests from several blocks can be compared before
// one of them is committed with FreeListMetadata.Alloc.
type AllocationRequest struct {
	// Type identifies whether the request came from the free list or the bump pointer
	Type AllocationRequestType
	// Offset is the byte offset of the allocation within the block
	Offset uint32
	// Size is the size in bytes of the allocation
	Size uint32
	// Leftover is the number of bytes of the chosen free chunk that the allocation will not cover.
	// It is always 0 for bump requests.
	Leftover uint32

	chunk FreeMemChunk
}

// IsExactFit returns true if the request consumes a free chunk entirely
func (r AllocationRequest) IsExactFit() bool {
	return r.Type == AllocationRequestFreeList && r.Leftover == 0
}
