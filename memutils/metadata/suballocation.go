package metadata

// FreeMemChunk is a reclaimed byte range inside a single block. It stays in the block's free list
// until it is reused or the block is reset.
type FreeMemChunk struct {
	Offset uint32
	Size   uint32
}

// End returns the first byte offset past the chunk
func (c FreeMemChunk) End() uint32 {
	return c.Offset + c.Size
}

// free chunks are ordered smallest-first so that the first chunk at or above a requested size is
// the best fit, with the lowest offset winning between chunks of the same size
func chunkLess(left, right FreeMemChunk) bool {
	if left.Size != right.Size {
		return left.Size < right.Size
	}

	return left.Offset < right.Offset
}
