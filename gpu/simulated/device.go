// Package simulated provides an in-memory gpu.Device. Buffers are backed by host memory, device addresses
// are never reused, and recorded commands execute when a command list is submitted, so stale or
// out-of-bounds addresses surface as submission errors.
package simulated

import (
	"encoding/binary"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/arsenal/ascompact/gpu"
	"github.com/vkngwrapper/arsenal/ascompact/memutils"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
)

const (
	baseAddress uint64 = 0x1_0000_0000

	defaultCompactionRatio   = 0.5
	defaultBytesPerPrimitive = 64
)

// Options configures a simulated Device. All fields may be left blank.
type Options struct {
	// MemoryLimit is the maximum number of bytes of live buffers. CreateBuffer fails with
	// core1_0.VKErrorOutOfDeviceMemory past it. 0 means no limit.
	MemoryLimit int
	// CompactionRatio is the compacted size of a built structure as a fraction of its worst-case
	// size. Defaults to 0.5.
	CompactionRatio float64
	// BytesPerPrimitive is the worst-case number of result bytes a single primitive needs. Defaults to 64.
	BytesPerPrimitive int
}

// Structure is an acceleration structure the simulated device has built or compacted
type Structure struct {
	// Size is the number of bytes the structure occupies
	Size uint64
	// CompactedSize is the number of bytes the structure would occupy after compaction
	CompactedSize uint64
	// PrimitiveCount is the number of primitives the structure was built from
	PrimitiveCount int
	// Compacted is true if the structure was produced by a compacting copy
	Compacted bool
}

// Device is an in-memory gpu.Device. It is not safe for concurrent use.
type Device struct {
	options Options

	nextAddress uint64
	buffers     []*Buffer
	liveBytes   int
	created     int

	structures map[uint64]Structure
}

var _ gpu.Device = &Device{}

// New creates a new simulated Device
func New(options Options) *Device {
	if options.CompactionRatio <= 0 {
		options.CompactionRatio = defaultCompactionRatio
	}
	if options.BytesPerPrimitive <= 0 {
		options.BytesPerPrimitive = defaultBytesPerPrimitive
	}

	return &Device{
		options:     options,
		nextAddress: baseAddress,
		structures:  make(map[uint64]Structure),
	}
}

// CreateBuffer creates a host-memory-backed buffer with a fresh device address range
func (d *Device) CreateBuffer(info gpu.BufferCreateInfo) (gpu.Buffer, common.VkResult, error) {
	if info.Size <= 0 {
		return nil, core1_0.VKErrorUnknown, errors.Newf("attempted to create a buffer of size %d", info.Size)
	}

	if d.options.MemoryLimit > 0 && d.liveBytes+info.Size > d.options.MemoryLimit {
		return nil, core1_0.VKErrorOutOfDeviceMemory, core1_0.VKErrorOutOfDeviceMemory.ToError()
	}

	buffer := &Buffer{
		device:  d,
		address: d.nextAddress,
		info:    info,
		data:    make([]byte, info.Size),
	}
	d.nextAddress += memutils.AlignUp(uint64(info.Size), uint64(gpu.DefaultPlacementAlignment))

	// Addresses only grow, so appending keeps the slice sorted
	d.buffers = append(d.buffers, buffer)
	d.liveBytes += info.Size
	d.created++

	return buffer, core1_0.VKSuccess, nil
}

// AccelerationStructurePrebuildInfo sizes a build from its primitive count
func (d *Device) AccelerationStructurePrebuildInfo(input gpu.BuildInput) (gpu.PrebuildInfo, error) {
	if len(input.Geometries) == 0 {
		return gpu.PrebuildInfo{}, errors.New("build input has no geometries")
	}

	primitives := uint64(input.PrimitiveCount())
	alignment := uint64(gpu.AccelerationStructureAlignment)

	info := gpu.PrebuildInfo{
		ResultDataMaxSize: memutils.AlignUp(256+primitives*uint64(d.options.BytesPerPrimitive), alignment),
		ScratchDataSize:   memutils.AlignUp(128+primitives*32, alignment),
	}

	if input.Flags&gpu.BuildLowMemory != 0 {
		info.ScratchDataSize = memutils.AlignUp(info.ScratchDataSize/2, alignment)
	}
	if input.Flags&gpu.BuildAllowUpdate != 0 {
		info.UpdateScratchDataSize = memutils.AlignUp(info.ScratchDataSize/2, alignment)
	}

	return info, nil
}

// LiveBuffers returns the number of buffers that have been created and not destroyed
func (d *Device) LiveBuffers() int { return len(d.buffers) }

// LiveBytes returns the total size of all buffers that have been created and not destroyed
func (d *Device) LiveBytes() int { return d.liveBytes }

// BuffersCreated returns the number of buffers ever created by this device
func (d *Device) BuffersCreated() int { return d.created }

// StructureAt returns the acceleration structure most recently written at address, if any
func (d *Device) StructureAt(address uint64) (Structure, bool) {
	structure, ok := d.structures[address]
	return structure, ok
}

// NewCommandList creates an empty command list for this device
func (d *Device) NewCommandList() *CommandList {
	return &CommandList{}
}

// Submit executes every command in the list, in order, and then empties the list. Execution stops at
// the first command that touches memory outside a live buffer.
func (d *Device) Submit(list *CommandList) error {
	defer list.Reset()

	for index, cmd := range list.commands {
		err := d.execute(cmd)
		if err != nil {
			return errors.Wrapf(err, "command %d (%s)", index, cmd.kind)
		}
	}

	return nil
}

func (d *Device) execute(cmd command) error {
	switch cmd.kind {
	case commandBuild:
		info, err := d.AccelerationStructurePrebuildInfo(cmd.input)
		if err != nil {
			return err
		}

		if _, err := d.resolve(cmd.dst, info.ResultDataMaxSize); err != nil {
			return errors.Wrap(err, "result")
		}
		if _, err := d.resolve(cmd.src, info.ScratchDataSize); err != nil {
			return errors.Wrap(err, "scratch")
		}

		compactedSize := memutils.AlignUp(uint64(float64(info.ResultDataMaxSize)*d.options.CompactionRatio), 8)
		if compactedSize == 0 {
			compactedSize = 8
		}

		d.structures[cmd.dst] = Structure{
			Size:           info.ResultDataMaxSize,
			CompactedSize:  compactedSize,
			PrimitiveCount: cmd.input.PrimitiveCount(),
		}
	case commandEmitCompactedSize:
		structure, ok := d.structures[cmd.src]
		if !ok {
			return errors.Newf("no acceleration structure at address %#x", cmd.src)
		}

		dst, err := d.resolve(cmd.dst, uint64(gpu.PostbuildInfoSize))
		if err != nil {
			return err
		}
		binary.LittleEndian.PutUint64(dst, structure.CompactedSize)
	case commandCopyBuffer:
		src, err := d.resolve(cmd.src, cmd.size)
		if err != nil {
			return errors.Wrap(err, "source")
		}
		dst, err := d.resolve(cmd.dst, cmd.size)
		if err != nil {
			return errors.Wrap(err, "destination")
		}
		copy(dst, src)
	case commandCompact:
		structure, ok := d.structures[cmd.src]
		if !ok {
			return errors.Newf("no acceleration structure at address %#x", cmd.src)
		}
		if _, err := d.resolve(cmd.dst, structure.CompactedSize); err != nil {
			return err
		}

		structure.Size = structure.CompactedSize
		structure.Compacted = true
		d.structures[cmd.dst] = structure
	default:
		return errors.AssertionFailedf("unknown command kind %d", cmd.kind)
	}

	return nil
}

// resolve returns the host memory backing size bytes at a device address. The whole range must lie
// within a single live buffer.
func (d *Device) resolve(address uint64, size uint64) ([]byte, error) {
	index := sort.Search(len(d.buffers), func(i int) bool {
		return d.buffers[i].address > address
	}) - 1

	if index < 0 {
		return nil, errors.Newf("address %#x is not inside a live buffer", address)
	}

	buffer := d.buffers[index]
	offset := address - buffer.address
	if offset+size > uint64(len(buffer.data)) {
		return nil, errors.Newf("range [%#x, %#x) overruns buffer %q at %#x, which is size %d", address, address+size, buffer.info.Name, buffer.address, len(buffer.data))
	}

	return buffer.data[offset : offset+size], nil
}

func (d *Device) removeBuffer(buffer *Buffer) {
	for index := 0; index < len(d.buffers); index++ {
		if d.buffers[index] == buffer {
			d.buffers = append(d.buffers[:index], d.buffers[index+1:]...)
			d.liveBytes -= len(buffer.data)
			return
		}
	}

	panic("attempted to remove a buffer from a device that did not own it")
}
