// Package suballoc carves small, aligned byte ranges out of a few large GPU buffers.
//
// A BlockSuballocator owns a growable list of blocks, each backed by one gpu.Buffer of a single
// residency class. Requests are served best-fit from the blocks' free lists, then from each block's
// bump pointer, and finally from a new block. Requests larger than the default block size get a
// dedicated block of their own, which is destroyed as soon as the range is freed. A block whose
// last range is freed is destroyed as well unless it is the only block left.
//
// A PoolSet groups the five suballocators an acceleration structure build needs.
package suballoc

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/arsenal/ascompact/gpu"
	"github.com/vkngwrapper/arsenal/ascompact/internal/utils"
	"github.com/vkngwrapper/arsenal/ascompact/memutils"
	"github.com/vkngwrapper/arsenal/ascompact/memutils/metadata"
	"github.com/vkngwrapper/core/v2/core1_0"
	"golang.org/x/exp/slices"
)

// DefaultBlockSize is the default block size used when CreateInfo.BlockSize is left at 0
const DefaultBlockSize uint32 = 64 * 1024

// CreateInfo configures a BlockSuballocator
type CreateInfo struct {
	// Name is a debug name used in logs, buffer names and detailed maps
	Name string
	// Usage is the usage of every backing buffer the suballocator creates
	Usage core1_0.BufferUsageFlags
	// Residency is the residency class of every backing buffer the suballocator creates
	Residency core1_0.MemoryPropertyFlags
	// BlockSize is the default size of a backing buffer. Requests larger than this receive a dedicated
	// block of their own. If left 0, DefaultBlockSize is used.
	BlockSize uint32
	// PlacementAlignment is the alignment the device would apply to a buffer created for a single
	// object. It is only used to report AlignmentSavings. If left 0, gpu.DefaultPlacementAlignment is used.
	PlacementAlignment uint32
	Flags              CreateFlags
}

// BlockSuballocator hands out Suballocation ranges from a list of backing buffers of a single residency
// class
type BlockSuballocator struct {
	logger *slog.Logger
	device gpu.Device

	name               string
	usage              core1_0.BufferUsageFlags
	residency          core1_0.MemoryPropertyFlags
	blockSize          uint32
	placementAlignment uint32

	mutex            utils.OptionalRWMutex
	blocks           []*block
	nextBlockID      BlockID
	alignmentSavings uint64
}

var _ memutils.Validatable = &BlockSuballocator{}

// New creates a BlockSuballocator. No backing buffer is created until the first suballocation is requested.
func New(logger *slog.Logger, device gpu.Device, info CreateInfo) (*BlockSuballocator, error) {
	if logger == nil {
		return nil, errors.New("suballoc.New: logger must not be nil")
	}
	if device == nil {
		return nil, errors.New("suballoc.New: device must not be nil")
	}

	s := &BlockSuballocator{
		logger:             logger,
		device:             device,
		name:               info.Name,
		usage:              info.Usage,
		residency:          info.Residency,
		blockSize:          info.BlockSize,
		placementAlignment: info.PlacementAlignment,
		nextBlockID:        1,
		mutex: utils.OptionalRWMutex{
			UseMutex: info.Flags&CreateExternallySynchronized == 0,
		},
	}

	if s.blockSize == 0 {
		s.blockSize = DefaultBlockSize
	}
	if s.placementAlignment == 0 {
		s.placementAlignment = gpu.DefaultPlacementAlignment
	}

	err := memutils.CheckPow2(s.placementAlignment, "CreateInfo.PlacementAlignment")
	if err != nil {
		return nil, err
	}

	return s, nil
}

// Name returns the debug name of the suballocator
func (s *BlockSuballocator) Name() string { return s.name }

// BlockSize returns the default size of a backing buffer
func (s *BlockSuballocator) BlockSize() uint32 { return s.blockSize }

// BlockCount returns the number of backing buffers currently alive
func (s *BlockSuballocator) BlockCount() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return len(s.blocks)
}

// ResidentBytes returns the total size of every backing buffer currently alive
func (s *BlockSuballocator) ResidentBytes() uint64 {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var total uint64
	for _, b := range s.blocks {
		total += uint64(b.metadata.Size())
	}

	return total
}

// FreeListBytes returns the number of bytes sitting unused in the blocks' free lists. Bytes past a block's
// bump pointer are not included.
func (s *BlockSuballocator) FreeListBytes() uint64 {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var total uint64
	for _, b := range s.blocks {
		total += b.metadata.FreeListBytes()
	}

	return total
}

// AlignmentSavings returns the cumulative number of bytes saved by suballocating rather than giving each
// range its own buffer at the device's placement alignment
func (s *BlockSuballocator) AlignmentSavings() uint64 {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return s.alignmentSavings
}

// AddStatistics sums the statistics of every block into the provided memutils.Statistics object
func (s *BlockSuballocator) AddStatistics(stats *memutils.Statistics) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	for blockIndex := 0; blockIndex < len(s.blocks); blockIndex++ {
		b := s.blocks[blockIndex]
		if b == nil {
			panic(fmt.Sprintf("failed to take statistics of nil block at index %d", blockIndex))
		}
		b.metadata.AddStatistics(stats)
	}
}

// CreateSubAllocation carves size bytes, rounded up to alignment, out of one of the suballocator's blocks,
// creating a new block if no existing block can hold the range. alignment must be a power of two.
//
// Only the size is rounded. The offset of the returned range is only aligned if every suballocation made
// from this suballocator used the same alignment (or a multiple of it), which is how a PoolSet uses its
// pools. Callers that mix alignments in one suballocator must check Address themselves.
func (s *BlockSuballocator) CreateSubAllocation(size uint32, alignment uint32) (Suballocation, error) {
	if size == 0 {
		return Suballocation{}, errors.Newf("suballocator %q: attempted to create a zero-size suballocation", s.name)
	}

	err := memutils.CheckPow2(alignment, "alignment")
	if err != nil {
		return Suballocation{}, err
	}

	alignedSize := memutils.AlignUp(size, alignment)
	if alignedSize < size {
		return Suballocation{}, errors.Newf("suballocator %q: size %d overflows when aligned to %d", s.name, size, alignment)
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.logger.LogAttrs(context.Background(), slog.LevelDebug, "BlockSuballocator::CreateSubAllocation",
		slog.String("name", s.name),
		slog.Int("size", int(alignedSize)),
	)

	if len(s.blocks) == 0 {
		firstBlockSize := s.blockSize
		if alignedSize > firstBlockSize {
			firstBlockSize = alignedSize
		}

		_, err = s.createBlock(firstBlockSize)
		if err != nil {
			return Suballocation{}, err
		}
	}

	// 1. Best fit across the free lists of every block
	var bestBlock *block
	var bestRequest metadata.AllocationRequest
	for _, currentBlock := range s.blocks {
		request, found := currentBlock.metadata.FindFreeChunk(alignedSize)
		if !found {
			continue
		}

		if request.IsExactFit() {
			s.logger.LogAttrs(context.Background(), slog.LevelDebug, "    Returned exact fit from free list", slog.Int("block.id", int(currentBlock.id)))
			return s.commit(currentBlock, request)
		}

		if bestBlock == nil || request.Leftover < bestRequest.Leftover {
			bestBlock = currentBlock
			bestRequest = request
		}
	}

	if bestBlock != nil {
		s.logger.LogAttrs(context.Background(), slog.LevelDebug, "    Returned best fit from free list",
			slog.Int("block.id", int(bestBlock.id)),
			slog.Int("leftover", int(bestRequest.Leftover)))
		return s.commit(bestBlock, bestRequest)
	}

	// 2. Bump allocate from the first block with room past its bump pointer
	for _, currentBlock := range s.blocks {
		request, found := currentBlock.metadata.BumpRequest(alignedSize)
		if found {
			s.logger.LogAttrs(context.Background(), slog.LevelDebug, "    Returned from existing block", slog.Int("block.id", int(currentBlock.id)))
			return s.commit(currentBlock, request)
		}
	}

	// 3. Create a new block, dedicated to this request if it is larger than the default block size
	newBlockSize := s.blockSize
	if alignedSize > newBlockSize {
		newBlockSize = alignedSize
	}

	newBlock, err := s.createBlock(newBlockSize)
	if err != nil {
		return Suballocation{}, err
	}

	request, found := newBlock.metadata.BumpRequest(alignedSize)
	if !found {
		panic(fmt.Sprintf("a new block of size %d could not hold a suballocation of size %d", newBlockSize, alignedSize))
	}

	s.logger.LogAttrs(context.Background(), slog.LevelDebug, "    Created new block", slog.Int("block.id", int(newBlock.id)), slog.Int("size", int(newBlockSize)))
	return s.commit(newBlock, request)
}

func (s *BlockSuballocator) commit(b *block, request metadata.AllocationRequest) (Suballocation, error) {
	err := b.metadata.Alloc(request)
	if err != nil {
		return Suballocation{}, errors.NewAssertionErrorWithWrappedErrf(err, "suballocator %q failed to commit a request to block %d", s.name, b.id)
	}

	placedSize := memutils.AlignUp(uint64(request.Size), uint64(s.placementAlignment))
	s.alignmentSavings += placedSize - uint64(request.Size)

	memutils.DebugValidate(b)

	return b.suballocation(request), nil
}

func (s *BlockSuballocator) createBlock(size uint32) (*block, error) {
	id := s.nextBlockID

	buffer, _, err := s.device.CreateBuffer(gpu.BufferCreateInfo{
		Size:      int(size),
		Usage:     s.usage,
		Residency: s.residency,
		Name:      fmt.Sprintf("%s block %d", s.name, id),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "suballocator %q failed to create a %d-byte block", s.name, size)
	}

	newBlock := blockPool.Get().(*block)
	newBlock.Init(s.logger, id, buffer, size)
	s.nextBlockID++

	s.blocks = append(s.blocks, newBlock)

	s.logger.LogAttrs(context.Background(), slog.LevelDebug, "BlockSuballocator::createBlock",
		slog.String("name", s.name),
		slog.Int("block.id", int(id)),
		slog.Int("size", int(size)),
	)

	return newBlock, nil
}

func (s *BlockSuballocator) findBlock(id BlockID) (int, *block) {
	for blockIndex := 0; blockIndex < len(s.blocks); blockIndex++ {
		if s.blocks[blockIndex].id == id {
			return blockIndex, s.blocks[blockIndex]
		}
	}

	return -1, nil
}

func (s *BlockSuballocator) destroyBlock(blockIndex int) error {
	b := s.blocks[blockIndex]

	s.logger.LogAttrs(context.Background(), slog.LevelDebug, "BlockSuballocator::destroyBlock",
		slog.String("name", s.name),
		slog.Int("block.id", int(b.id)),
	)

	err := b.Destroy()
	if err != nil {
		return err
	}

	s.blocks = slices.Delete(s.blocks, blockIndex, blockIndex+1)
	blockPool.Put(b)
	return nil
}

// FreeSubAllocation returns a range to its block. The handle is zeroed afterward. Freeing a range that
// covers an entire block destroys that block. Freeing the last range of a block destroys the block
// unless it is the only one left.
func (s *BlockSuballocator) FreeSubAllocation(suballocation *Suballocation) error {
	if suballocation == nil || !suballocation.IsValid() {
		return errors.AssertionFailedf("suballocator %q: attempted to free an invalid suballocation", s.name)
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	blockIndex, b := s.findBlock(suballocation.block)
	if b == nil {
		return errors.AssertionFailedf("suballocator %q: %s belongs to a block that does not exist", s.name, suballocation)
	}

	wholeBlock := suballocation.size == b.metadata.Size()

	err := b.metadata.Free(suballocation.offset, suballocation.size)
	if err != nil {
		return errors.NewAssertionErrorWithWrappedErrf(err, "suballocator %q: failed to free %s", s.name, suballocation)
	}

	*suballocation = Suballocation{}

	if wholeBlock || (b.metadata.IsEmpty() && len(s.blocks) > 1) {
		return s.destroyBlock(blockIndex)
	}

	memutils.DebugValidate(b)
	return nil
}

// ReadUint64 reads a little-endian uint64 from the start of a range. The suballocator's residency
// class must be host-visible.
func (s *BlockSuballocator) ReadUint64(suballocation Suballocation) (uint64, error) {
	if !suballocation.IsValid() {
		return 0, errors.AssertionFailedf("suballocator %q: attempted to read from an invalid suballocation", s.name)
	}
	if suballocation.size < 8 {
		return 0, errors.Newf("suballocator %q: %s is too small to hold a uint64", s.name, suballocation)
	}

	s.mutex.RLock()
	defer s.mutex.RUnlock()

	_, b := s.findBlock(suballocation.block)
	if b == nil {
		return 0, errors.AssertionFailedf("suballocator %q: %s belongs to a block that does not exist", s.name, suballocation)
	}

	return b.ReadUint64(suballocation.offset)
}

// PrintDetailedMap writes a json object describing every block and every live range to the provided writer
func (s *BlockSuballocator) PrintDetailedMap(writer *jwriter.Writer) {
	objState := writer.Object()
	defer objState.End()

	s.PoolJsonData(objState)
}

// PoolJsonData populates a json object with information about this suballocator and its blocks
func (s *BlockSuballocator) PoolJsonData(json jwriter.ObjectState) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	json.Name("Name").String(s.name)
	json.Name("Usage").Int(int(s.usage))
	json.Name("Residency").Int(int(s.residency))
	json.Name("BlockSize").Int(int(s.blockSize))
	json.Name("AlignmentSavings").Int(int(s.alignmentSavings))

	blocksObj := json.Name("Blocks").Object()
	defer blocksObj.End()

	for i := 0; i < len(s.blocks); i++ {
		b := s.blocks[i]

		blockObj := blocksObj.Name(strconv.Itoa(int(b.id))).Object()
		b.PrintDetailedMap(blockObj)
		blockObj.End()
	}
}

// Validate performs internal consistency checks on every block. When the implementation is functioning
// correctly, it should not be possible for this method to return an error.
func (s *BlockSuballocator) Validate() error {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	seen := make(map[BlockID]struct{}, len(s.blocks))
	for _, b := range s.blocks {
		if b.id == 0 || b.id >= s.nextBlockID {
			return errors.Newf("suballocator %q: block has out-of-range id %d", s.name, b.id)
		}
		if _, duplicate := seen[b.id]; duplicate {
			return errors.Newf("suballocator %q: block id %d appears twice", s.name, b.id)
		}
		seen[b.id] = struct{}{}

		err := b.Validate()
		if err != nil {
			return errors.Wrapf(err, "suballocator %q", s.name)
		}
	}

	return nil
}

// Destroy destroys every block. It fails, logging each unreleased range, if any range is still live.
func (s *BlockSuballocator) Destroy() error {
	s.logger.Debug("BlockSuballocator::Destroy", slog.String("name", s.name))

	s.mutex.Lock()
	defer s.mutex.Unlock()

	for len(s.blocks) > 0 {
		err := s.destroyBlock(len(s.blocks) - 1)
		if err != nil {
			return errors.Wrapf(err, "suballocator %q", s.name)
		}
	}

	return nil
}
