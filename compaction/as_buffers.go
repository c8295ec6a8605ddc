package compaction

import (
	"github.com/vkngwrapper/arsenal/ascompact/suballoc"
)

// RecordID identifies an ASBuffers record for the lifetime of its Pipeline. IDs are never reused, and
// 0 is never a valid ID.
type RecordID uint64

// ASBuffers is the memory of one acceleration structure build as it moves through the pipeline. Its
// suballocations are freed independently at different stages.
//
// ASBuffers accessors do not lock. They must not be called while another goroutine is calling into
// the Pipeline that owns the record.
type ASBuffers struct {
	id    RecordID
	name  string
	state State

	scratch             suballoc.Suballocation
	result              suballoc.Suballocation
	compacted           suballoc.Suballocation
	compactedSizeDevice suballoc.Suballocation
	compactedSizeHost   suballoc.Suballocation

	compactionRequested bool
	isCompacted         bool

	frameIndexRequested uint64
	frameIndexCopied    uint64
	frameIndexRemoved   uint64

	primitiveCount int
	resultSize     uint32
	compactedSize  uint64
	transientBytes uint64
}

// ID returns the record's identifier
func (b *ASBuffers) ID() RecordID { return b.id }

// Name returns the debug name of the build that produced this record
func (b *ASBuffers) Name() string { return b.name }

// State returns the record's current stage in the pipeline
func (b *ASBuffers) State() State { return b.state }

// IsCompacted returns true once the structure lives in compacted memory and its result memory has
// been freed
func (b *ASBuffers) IsCompacted() bool { return b.isCompacted }

// CompactionRequested returns true if the build was made with gpu.BuildAllowCompaction
func (b *ASBuffers) CompactionRequested() bool { return b.compactionRequested }

// FrameIndexRequested returns the frame index the build was recorded in
func (b *ASBuffers) FrameIndexRequested() uint64 { return b.frameIndexRequested }

// PrimitiveCount returns the number of primitives the structure was built from
func (b *ASBuffers) PrimitiveCount() int { return b.primitiveCount }

// ResultSize returns the worst-case size of the build result in bytes
func (b *ASBuffers) ResultSize() uint32 { return b.resultSize }

// CompactedSize returns the compacted size the device reported for the structure, or 0 if it has not
// been read back yet
func (b *ASBuffers) CompactedSize() uint64 { return b.compactedSize }

// DeviceAddress returns the address the structure can currently be found at: its compacted memory once
// compaction has completed, and its result memory before that. Compaction moves the structure, so
// callers should fetch the address each frame rather than holding on to it. Released records return 0.
func (b *ASBuffers) DeviceAddress() uint64 {
	if b.isCompacted {
		return b.compacted.Address()
	}

	return b.result.Address()
}

// residentBytes is the number of bytes the record currently holds across every pool
func (b *ASBuffers) residentBytes() uint64 {
	return uint64(b.scratch.Size()) +
		uint64(b.result.Size()) +
		uint64(b.compacted.Size()) +
		uint64(b.compactedSizeDevice.Size()) +
		uint64(b.compactedSizeHost.Size())
}
