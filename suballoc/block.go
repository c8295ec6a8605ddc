package suballoc

import (
	"context"
	"encoding/binary"
	"log/slog"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/arsenal/ascompact/gpu"
	"github.com/vkngwrapper/arsenal/ascompact/memutils/metadata"
)

var blockPool = sync.Pool{
	New: func() any {
		return &block{
			metadata: metadata.NewFreeListMetadata(),
		}
	},
}

// block is one backing buffer of a BlockSuballocator together with its free list
type block struct {
	id       BlockID
	buffer   gpu.Buffer
	logger   *slog.Logger
	metadata *metadata.FreeListMetadata
}

func (b *block) Init(logger *slog.Logger, id BlockID, buffer gpu.Buffer, size uint32) {
	if b.buffer != nil {
		panic("attempting to initialize a suballocator block that is already in use")
	}

	b.id = id
	b.buffer = buffer
	b.logger = logger
	b.metadata.Init(size)
}

func (b *block) BaseAddress() uint64 { return b.buffer.DeviceAddress() }

func (b *block) Destroy() error {
	if !b.metadata.IsEmpty() {
		err := b.metadata.VisitAllocations(func(offset, size uint32) error {
			b.logUnreleasedMemory(offset, size)
			return nil
		})
		if err != nil {
			b.logger.LogAttrs(context.Background(),
				slog.LevelError,
				"[UNRELEASED MEMORY] error while iterating unreleased memory",
				slog.Any("error", err))
		}

		return errors.Newf("%d suballocations were not freed before the destruction of block %d", b.metadata.AllocationCount(), b.id)
	}

	if b.buffer == nil {
		panic("attempting to destroy a suballocator block, but it did not have a backing buffer")
	}

	b.buffer.Destroy()
	b.buffer = nil
	return nil
}

func (b *block) logUnreleasedMemory(offset, size uint32) {
	b.logger.LogAttrs(context.Background(), slog.LevelError, "[UNRELEASED MEMORY] unfreed suballocation",
		slog.Int("block.id", int(b.id)),
		slog.Int("offset", int(offset)),
		slog.Int("size", int(size)),
	)
}

func (b *block) suballocation(request metadata.AllocationRequest) Suballocation {
	return Suballocation{
		block:       b.id,
		offset:      request.Offset,
		size:        request.Size,
		baseAddress: b.buffer.DeviceAddress(),
	}
}

func (b *block) ReadUint64(offset uint32) (uint64, error) {
	var data [8]byte
	_, err := b.buffer.ReadAt(data[:], int64(offset))
	if err != nil {
		return 0, errors.Wrapf(err, "failed to read back offset %d of block %d", offset, b.id)
	}

	return binary.LittleEndian.Uint64(data[:]), nil
}

func (b *block) PrintDetailedMap(json jwriter.ObjectState) {
	json.Name("Address").Int(int(b.buffer.DeviceAddress()))
	b.metadata.BlockJsonData(json)

	arrayState := json.Name("Suballocations").Array()
	defer arrayState.End()

	err := b.metadata.VisitAllocations(func(offset, size uint32) error {
		obj := arrayState.Object()
		defer obj.End()

		obj.Name("Offset").Int(int(offset))
		obj.Name("Size").Int(int(size))
		return nil
	})
	if err != nil {
		b.logger.LogAttrs(context.Background(),
			slog.LevelError,
			"error while iterating suballocations for the detailed map",
			slog.Int("block.id", int(b.id)),
			slog.Any("error", err))
	}
}

func (b *block) Validate() error {
	if b.buffer == nil {
		return errors.Newf("block %d has no backing buffer", b.id)
	}
	if b.metadata.Size() < 1 {
		return errors.Newf("block %d has an invalid size", b.id)
	}
	if uint64(b.buffer.Size()) < uint64(b.metadata.Size()) {
		return errors.Newf("block %d is size %d, but its backing buffer is only %d bytes", b.id, b.metadata.Size(), b.buffer.Size())
	}

	return errors.Wrapf(b.metadata.Validate(), "block %d", b.id)
}
