package suballoc

import "fmt"

// BlockID identifies one block of a BlockSuballocator. IDs are never reused within a suballocator,
// and 0 is never a valid ID.
type BlockID uint32

// Suballocation is a value handle to a byte range carved out of one block of a BlockSuballocator.
// It does not own the block. The zero value is not a valid suballocation.
type Suballocation struct {
	block       BlockID
	offset      uint32
	size        uint32
	baseAddress uint64
}

// IsValid returns true if the handle refers to a live range. Handles passed to
// BlockSuballocator.FreeSubAllocation are zeroed, and become invalid.
func (s Suballocation) IsValid() bool { return s.block != 0 }

// Block returns the ID of the block this range was carved from
func (s Suballocation) Block() BlockID { return s.block }

// Offset returns the offset of this range from the start of its block in bytes
func (s Suballocation) Offset() uint32 { return s.offset }

// Size returns the aligned size of this range in bytes
func (s Suballocation) Size() uint32 { return s.size }

// End returns the offset of the first byte past this range
func (s Suballocation) End() uint32 { return s.offset + s.size }

// Address returns the device address of the first byte of this range, or 0 if the handle is invalid
func (s Suballocation) Address() uint64 {
	if !s.IsValid() {
		return 0
	}

	return s.baseAddress + uint64(s.offset)
}

// Overlaps returns true if both handles are live ranges of the same block that share at least one byte
func (s Suballocation) Overlaps(other Suballocation) bool {
	if !s.IsValid() || !other.IsValid() || s.block != other.block {
		return false
	}

	return s.offset < other.End() && other.offset < s.End()
}

func (s Suballocation) String() string {
	if !s.IsValid() {
		return "Suballocation{invalid}"
	}

	return fmt.Sprintf("Suballocation{block: %d, offset: %d, size: %d}", s.block, s.offset, s.size)
}
