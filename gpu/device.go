package gpu

import (
	"io"

	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/extensions/v2/khr_buffer_device_address"
)

const (
	// BufferUsageAccelerationStructureStorage marks a buffer as able to hold acceleration structure data
	BufferUsageAccelerationStructureStorage core1_0.BufferUsageFlags = 0x00100000
	// BufferUsageShaderDeviceAddress marks a buffer as addressable by device address
	BufferUsageShaderDeviceAddress = khr_buffer_device_address.BufferUsageShaderDeviceAddress

	// AccelerationStructureAlignment is the required byte alignment of acceleration structure result
	// and compacted storage
	AccelerationStructureAlignment uint32 = 256
	// ScratchAlignment is the required byte alignment of build scratch memory
	ScratchAlignment uint32 = 256
	// PostbuildInfoAlignment is the required byte alignment of a compacted-size query destination
	PostbuildInfoAlignment uint32 = 8
	// PostbuildInfoSize is the number of bytes written by a compacted-size query
	PostbuildInfoSize uint32 = 8
	// DefaultPlacementAlignment is the alignment a device applies to a buffer that is given its own
	// placement in memory
	DefaultPlacementAlignment uint32 = 64 * 1024
)

const (
	// ResidencyDeviceLocal is the residency class of buffers only the device reads and writes
	ResidencyDeviceLocal = core1_0.MemoryPropertyDeviceLocal
	// ResidencyReadback is the residency class of buffers the device writes and the host reads
	ResidencyReadback = core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent | core1_0.MemoryPropertyHostCached
)

// BufferCreateInfo describes a backing buffer to be created by a Device
type BufferCreateInfo struct {
	// Size is the size of the buffer in bytes
	Size int
	// Usage is the set of operations the buffer will be used for
	Usage core1_0.BufferUsageFlags
	// Residency is the memory class the buffer must be placed in
	Residency core1_0.MemoryPropertyFlags
	// Name is a debug name for the buffer, and may be empty
	Name string
}

// Buffer is a GPU buffer owned by whoever created it
type Buffer interface {
	// DeviceAddress returns the device address of the first byte of the buffer
	DeviceAddress() uint64
	// Size returns the size of the buffer in bytes
	Size() int

	// ReaderAt reads from the buffer's host-visible memory. Buffers created outside of a host-visible
	// residency class return an error.
	io.ReaderAt

	// Destroy releases the buffer. The buffer must not be used afterward.
	Destroy()
}

// PrebuildInfo is the memory a device reports it needs to build an acceleration structure
type PrebuildInfo struct {
	// ResultDataMaxSize is the worst-case size in bytes of the built acceleration structure
	ResultDataMaxSize uint64
	// ScratchDataSize is the size in bytes of the scratch memory the build needs
	ScratchDataSize uint64
	// UpdateScratchDataSize is the size in bytes of the scratch memory an update build needs
	UpdateScratchDataSize uint64
}

// Device is the graphics device that owns every buffer the suballocator creates
type Device interface {
	// CreateBuffer creates a new buffer. Failures are fatal to the caller and are returned with
	// the VkResult the device produced.
	CreateBuffer(info BufferCreateInfo) (Buffer, common.VkResult, error)
	// AccelerationStructurePrebuildInfo reports how much memory building input requires
	AccelerationStructurePrebuildInfo(input BuildInput) (PrebuildInfo, error)
}

// CommandRecorder records commands into a command list the caller will submit later. Every address
// passed to a CommandRecorder is a device address.
type CommandRecorder interface {
	// BuildAccelerationStructure records a build of input into dstAddress using scratchAddress as scratch memory
	BuildAccelerationStructure(input BuildInput, dstAddress uint64, scratchAddress uint64)
	// EmitCompactedSize records a query that writes the compacted size of the acceleration structure at
	// asAddress, as a little-endian uint64, to dstAddress
	EmitCompactedSize(asAddress uint64, dstAddress uint64)
	// CopyBuffer records a copy of size bytes from srcAddress to dstAddress
	CopyBuffer(dstAddress uint64, srcAddress uint64, size uint64)
	// CompactAccelerationStructure records a compacting copy of the acceleration structure at srcAddress
	// into dstAddress
	CompactAccelerationStructure(dstAddress uint64, srcAddress uint64)
}
