// Package compaction builds acceleration structures into suballocated memory and compacts them once
// their compacted size can be read back.
//
// Each build becomes an ASBuffers record. NextFrame must be called once per frame, before any builds
// for that frame are recorded. It moves records through their states:
//
//	Built -> PendingCompaction -> ReadyForCompaction -> PendingCompletion -> Completed
//	Built -> Uncompacted
//	any   -> PendingRelease -> Released
//
// A record's compacted size is only read once CommandListLatency frames have passed since its build
// was recorded, and its result memory is only freed once the same number of frames have passed since
// its compacting copy was recorded. Removed records keep their memory for the same window.
//
// Memory barriers between builds, size queries and copies are the caller's responsibility.
package compaction

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/arsenal/ascompact/gpu"
	"github.com/vkngwrapper/arsenal/ascompact/internal/utils"
	"github.com/vkngwrapper/arsenal/ascompact/memutils"
	"github.com/vkngwrapper/arsenal/ascompact/suballoc"
)

const (
	// DefaultCommandListLatency is the latency used when Options.CommandListLatency is left at 0
	DefaultCommandListLatency uint64 = 3
	// DefaultMaxTransientCompactionMemory is the budget used when Options.MaxTransientCompactionMemory
	// is left at 0
	DefaultMaxTransientCompactionMemory uint64 = 64 * 1024 * 1024
)

// Options configures a Pipeline. All fields may be left blank.
type Options struct {
	// CommandListLatency is the number of frames between recording a command and being able to rely on
	// it having executed. If left 0, DefaultCommandListLatency is used.
	CommandListLatency uint64
	// SuballocatorBlockSize is the default block size of the scratch, result and compacted pools. If
	// left 0, suballoc.DefaultBlockSize is used.
	SuballocatorBlockSize uint32
	// SizeQueryBlockSize is the default block size of the two compacted-size pools. If left 0,
	// SuballocatorBlockSize is used.
	SizeQueryBlockSize uint32
	// MaxTransientCompactionMemory is the maximum number of bytes of result and compacted memory that may
	// be alive at once for compactions in flight. If left 0, DefaultMaxTransientCompactionMemory is used.
	MaxTransientCompactionMemory uint64
	Flags                        CreateFlags
}

// Pipeline owns the suballocation pools for acceleration structure builds and moves build records
// through compaction
type Pipeline struct {
	logger *slog.Logger
	device gpu.Device
	pools  *suballoc.PoolSet

	latency      uint64
	maxTransient uint64

	mutex        utils.OptionalRWMutex
	records      *swiss.Map[RecordID, *ASBuffers]
	order        []RecordID
	nextRecordID RecordID

	frameIndex     uint64
	transientBytes uint64

	log   *frameLog
	frame frameCounters

	compactionsCompleted int
	bytesSaved           uint64
	deferrals            int
	demotions            int
}

var _ memutils.Validatable = &Pipeline{}

// New creates a Pipeline and its five suballocation pools. No memory is allocated until the first build.
func New(logger *slog.Logger, device gpu.Device, options Options) (*Pipeline, error) {
	if logger == nil {
		return nil, errors.New("compaction.New: logger must not be nil")
	}
	if device == nil {
		return nil, errors.New("compaction.New: device must not be nil")
	}

	pools, err := suballoc.NewPoolSet(logger, device, suballoc.PoolSetCreateInfo{
		BlockSize:          options.SuballocatorBlockSize,
		SizeQueryBlockSize: options.SizeQueryBlockSize,
		Flags:              suballoc.CreateExternallySynchronized,
	})
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		logger:       logger,
		device:       device,
		pools:        pools,
		latency:      options.CommandListLatency,
		maxTransient: options.MaxTransientCompactionMemory,
		records:      swiss.NewMap[RecordID, *ASBuffers](64),
		nextRecordID: 1,
		log:          newFrameLog(),
		mutex: utils.OptionalRWMutex{
			UseMutex: options.Flags&CreateExternallySynchronized == 0,
		},
	}

	if p.latency == 0 {
		p.latency = DefaultCommandListLatency
	}
	if p.maxTransient == 0 {
		p.maxTransient = DefaultMaxTransientCompactionMemory
	}

	logger.LogAttrs(context.Background(), slog.LevelDebug, "Pipeline::New",
		slog.Uint64("latency", p.latency),
		slog.Uint64("maxTransient", p.maxTransient),
		slog.String("flags", options.Flags.String()),
	)

	return p, nil
}

// FrameIndex returns the number of times NextFrame has been called
func (p *Pipeline) FrameIndex() uint64 {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	return p.frameIndex
}

// TransientBytes returns the result and compacted memory currently charged against the transient budget
func (p *Pipeline) TransientBytes() uint64 {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	return p.transientBytes
}

// Pools returns the suballocation pools the pipeline allocates from. The pools are not locked
// independently of the pipeline and must only be read while no other goroutine is using it.
func (p *Pipeline) Pools() *suballoc.PoolSet { return p.pools }

// Record returns the tracked record with the provided ID. Released records are no longer tracked.
func (p *Pipeline) Record(id RecordID) (*ASBuffers, bool) {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	return p.records.Get(id)
}

// Log returns the diagnostic text accumulated since the last call to NextFrame: that frame's summary
// followed by a line for each later build batch
func (p *Pipeline) Log() string {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	return p.log.String()
}

// BuildAccelerationStructures allocates memory for each input and records its build. Builds that allow
// compaction also record a query of their compacted size and a copy of it to host-readable memory. The
// returned records are in StateBuilt.
//
// Memory for the whole batch is allocated before any command is recorded. If any allocation fails, the
// batch's memory is returned to the pools and nothing is recorded.
func (p *Pipeline) BuildAccelerationStructures(recorder gpu.CommandRecorder, inputs []gpu.BuildInput) ([]*ASBuffers, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.logger.Debug("Pipeline::BuildAccelerationStructures", slog.Int("count", len(inputs)))

	records := make([]*ASBuffers, 0, len(inputs))
	for index, input := range inputs {
		record, err := p.allocateRecord(input)
		if record != nil {
			records = append(records, record)
		}
		if err != nil {
			p.rollback(records)
			return nil, errors.Wrapf(err, "failed to allocate memory for build %d (%q)", index, input.Name)
		}
	}

	var resultBytes uint64
	compactable := 0
	for index, record := range records {
		input := inputs[index]

		recorder.BuildAccelerationStructure(input, record.result.Address(), record.scratch.Address())
		if record.compactionRequested {
			recorder.EmitCompactedSize(record.result.Address(), record.compactedSizeDevice.Address())
			recorder.CopyBuffer(record.compactedSizeHost.Address(), record.compactedSizeDevice.Address(), uint64(gpu.PostbuildInfoSize))
			compactable++
		}

		record.id = p.nextRecordID
		p.nextRecordID++
		record.state = StateBuilt
		record.frameIndexRequested = p.frameIndex

		p.records.Put(record.id, record)
		p.order = append(p.order, record.id)
		resultBytes += uint64(record.resultSize)
	}

	p.frame.builds += len(records)
	p.frame.compactableBuilds += compactable
	p.frame.buildBytes += resultBytes
	if len(records) > 0 {
		p.log.Printf("built %d acceleration structures (%d compactable), %d result bytes", len(records), compactable, resultBytes)
	}

	memutils.DebugValidate(memutils.ValidateFunc(p.validate))

	return records, nil
}

// allocateRecord allocates every suballocation for a build. The returned record may be non-nil
// alongside an error, in which case it holds the suballocations that were made.
func (p *Pipeline) allocateRecord(input gpu.BuildInput) (*ASBuffers, error) {
	info, err := p.device.AccelerationStructurePrebuildInfo(input)
	if err != nil {
		return nil, err
	}

	scratchSize, err := toUint32(info.ScratchDataSize, "scratch")
	if err != nil {
		return nil, err
	}
	resultSize, err := toUint32(info.ResultDataMaxSize, "result")
	if err != nil {
		return nil, err
	}

	record := &ASBuffers{
		name:                input.Name,
		compactionRequested: input.AllowsCompaction(),
		primitiveCount:      input.PrimitiveCount(),
	}

	record.scratch, err = p.pools.Allocate(suballoc.RoleScratch, scratchSize, gpu.ScratchAlignment)
	if err != nil {
		return record, err
	}

	record.result, err = p.pools.Allocate(suballoc.RoleResult, resultSize, gpu.AccelerationStructureAlignment)
	if err != nil {
		return record, err
	}
	record.resultSize = record.result.Size()

	if !record.compactionRequested {
		return record, nil
	}

	record.compactedSizeDevice, err = p.pools.Allocate(suballoc.RoleCompactedSizeDevice, gpu.PostbuildInfoSize, gpu.PostbuildInfoAlignment)
	if err != nil {
		return record, err
	}

	record.compactedSizeHost, err = p.pools.Allocate(suballoc.RoleCompactedSizeHost, gpu.PostbuildInfoSize, gpu.PostbuildInfoAlignment)
	return record, err
}

func (p *Pipeline) rollback(records []*ASBuffers) {
	for _, record := range records {
		err := p.freeAll(record)
		if err != nil {
			panic(errors.Wrap(err, "unexpected error when freeing memory allocated as part of a failed build batch"))
		}
	}
}

func toUint32(size uint64, name string) (uint32, error) {
	if size == 0 {
		return 0, errors.Newf("device reported a %s size of 0", name)
	}
	if size > uint64(^uint32(0)) {
		return 0, errors.Newf("device reported a %s size of %d, which is too large to suballocate", name, size)
	}

	return uint32(size), nil
}

// NextFrame advances the pipeline by one frame. It must be called once per frame, before any builds
// for the frame are recorded. In order, it:
//
//   - moves the previous frame's builds to StatePendingCompaction, or StateUncompacted if they did not
//     allow compaction
//   - reads back the compacted size of every record whose build is CommandListLatency frames old
//   - completes every compaction whose copy is CommandListLatency frames old, freeing the record's
//     scratch, result and size query memory
//   - records as many compacting copies as the transient budget allows, oldest build first
//   - frees every removed record that was removed CommandListLatency frames ago
//   - resets the log and writes the frame's summary to it
func (p *Pipeline) NextFrame(recorder gpu.CommandRecorder) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.frameIndex++
	p.logger.Debug("Pipeline::NextFrame", slog.Uint64("frame", p.frameIndex))

	var ready []*ASBuffers
	var err error

	p.visitRecords(func(record *ASBuffers) bool {
		switch record.state {
		case StateBuilt:
			if record.compactionRequested {
				record.state = StatePendingCompaction
			} else {
				record.state = StateUncompacted
			}
		case StatePendingCompletion:
			if p.frameIndex-record.frameIndexCopied >= p.latency {
				err = p.complete(record)
			}
		}

		if err == nil && record.state == StatePendingCompaction && p.frameIndex-record.frameIndexRequested >= p.latency {
			err = p.markReady(record)
		}
		if err == nil && record.state == StateReadyForCompaction {
			ready = append(ready, record)
		}

		return err == nil
	})
	if err != nil {
		return err
	}

	if len(ready) > 0 {
		_, err = p.copyCompaction(recorder, ready)
		if err != nil {
			return err
		}
	}

	err = p.releaseRemoved()
	if err != nil {
		return err
	}

	p.writeSummary()
	p.frame = frameCounters{}

	memutils.DebugValidate(memutils.ValidateFunc(p.validate))

	return nil
}

// visitRecords calls visit for every tracked record in build order until visit returns false
func (p *Pipeline) visitRecords(visit func(record *ASBuffers) bool) {
	for _, id := range p.order {
		record, ok := p.records.Get(id)
		if !ok {
			continue
		}

		if !visit(record) {
			return
		}
	}
}

func (p *Pipeline) markReady(record *ASBuffers) error {
	compactedSize, err := p.pools.Pool(suballoc.RoleCompactedSizeHost).ReadUint64(record.compactedSizeHost)
	if err != nil {
		return errors.Wrapf(err, "failed to read the compacted size of record %d", record.id)
	}

	record.compactedSize = compactedSize
	record.state = StateReadyForCompaction
	p.frame.ready++

	if compactedSize == 0 || compactedSize > uint64(record.resultSize) {
		p.logger.LogAttrs(context.Background(), slog.LevelWarn, "device reported an unusable compacted size",
			slog.Uint64("record.id", uint64(record.id)),
			slog.Uint64("compactedSize", compactedSize),
			slog.Int("resultSize", int(record.resultSize)),
		)
		return p.demote(record)
	}

	return nil
}

// demote leaves a compaction-requested record uncompacted for the rest of its life. Its build has executed,
// so its scratch and size query memory are freed.
func (p *Pipeline) demote(record *ASBuffers) error {
	err := p.pools.Free(suballoc.RoleScratch, &record.scratch)
	if err != nil {
		return err
	}
	err = p.freeSizeQuery(record)
	if err != nil {
		return err
	}

	record.state = StateUncompacted
	p.frame.demoted++
	p.demotions++

	return nil
}

func (p *Pipeline) freeSizeQuery(record *ASBuffers) error {
	err := p.pools.Free(suballoc.RoleCompactedSizeDevice, &record.compactedSizeDevice)
	if err != nil {
		return err
	}

	return p.pools.Free(suballoc.RoleCompactedSizeHost, &record.compactedSizeHost)
}

// CopyCompaction records compacting copies for records in StateReadyForCompaction, oldest first, for as
// long as the transient budget allows. It returns false if at least one record was deferred to a later
// frame. Records that can never fit in the budget are left uncompacted instead of being deferred.
// NextFrame calls CopyCompaction itself for every ready record, so most callers never need to.
func (p *Pipeline) CopyCompaction(recorder gpu.CommandRecorder, records []*ASBuffers) (bool, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	admittedAll, err := p.copyCompaction(recorder, records)
	if err != nil {
		return false, err
	}

	memutils.DebugValidate(memutils.ValidateFunc(p.validate))
	return admittedAll, nil
}

func (p *Pipeline) copyCompaction(recorder gpu.CommandRecorder, records []*ASBuffers) (bool, error) {
	for _, record := range records {
		if record.state != StateReadyForCompaction {
			return false, errors.AssertionFailedf("record %d is in state %s and cannot be compacted", record.id, record.state)
		}
	}

	for index, record := range records {
		if record.state != StateReadyForCompaction {
			continue
		}

		compactedSize := memutils.AlignUp(record.compactedSize, uint64(gpu.AccelerationStructureAlignment))
		need := uint64(record.resultSize) + compactedSize

		if need > p.maxTransient {
			p.logger.LogAttrs(context.Background(), slog.LevelWarn, "compaction can never fit in the transient budget",
				slog.Uint64("record.id", uint64(record.id)),
				slog.Uint64("need", need),
				slog.Uint64("maxTransient", p.maxTransient),
			)

			err := p.demote(record)
			if err != nil {
				return false, err
			}
			continue
		}

		if p.transientBytes+need > p.maxTransient {
			deferred := 0
			for _, remaining := range records[index:] {
				if remaining.state == StateReadyForCompaction {
					deferred++
				}
			}

			p.frame.deferred += deferred
			p.deferrals += deferred
			return false, nil
		}

		compacted, err := p.pools.Allocate(suballoc.RoleCompacted, uint32(compactedSize), gpu.AccelerationStructureAlignment)
		if err != nil {
			return false, errors.Wrapf(err, "failed to allocate compacted memory for record %d", record.id)
		}

		recorder.CompactAccelerationStructure(compacted.Address(), record.result.Address())

		record.compacted = compacted
		record.state = StatePendingCompletion
		record.frameIndexCopied = p.frameIndex
		record.transientBytes = need
		p.transientBytes += need
		p.frame.started++
	}

	return true, nil
}

// complete finishes a compaction whose copy has executed
func (p *Pipeline) complete(record *ASBuffers) error {
	err := p.pools.Free(suballoc.RoleScratch, &record.scratch)
	if err != nil {
		return err
	}
	err = p.pools.Free(suballoc.RoleResult, &record.result)
	if err != nil {
		return err
	}
	err = p.freeSizeQuery(record)
	if err != nil {
		return err
	}

	record.isCompacted = true
	record.state = StateCompleted
	p.releaseTransient(record)

	p.compactionsCompleted++
	p.bytesSaved += uint64(record.resultSize) - uint64(record.compacted.Size())
	p.frame.completed++

	return nil
}

func (p *Pipeline) releaseTransient(record *ASBuffers) {
	if record.transientBytes > p.transientBytes {
		panic("transient compaction memory was released more than once")
	}

	p.transientBytes -= record.transientBytes
	record.transientBytes = 0
}

// RemoveAccelerationStructures marks records for release, whatever state they are in. Their memory is
// freed by the NextFrame call that comes CommandListLatency frames later. Removing a record twice is a
// no-op.
func (p *Pipeline) RemoveAccelerationStructures(records []*ASBuffers) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	for _, record := range records {
		if record == nil || record.state == StatePendingRelease || record.state == StateReleased {
			continue
		}

		record.state = StatePendingRelease
		record.frameIndexRemoved = p.frameIndex
		p.frame.removed++
	}
}

func (p *Pipeline) releaseRemoved() error {
	var err error
	released := false

	p.visitRecords(func(record *ASBuffers) bool {
		if record.state != StatePendingRelease || p.frameIndex-record.frameIndexRemoved < p.latency {
			return true
		}

		err = p.release(record)
		released = true
		return err == nil
	})

	if released {
		p.compactOrder()
	}

	return err
}

// release frees all of a record's memory and stops tracking it
func (p *Pipeline) release(record *ASBuffers) error {
	err := p.freeAll(record)
	if err != nil {
		return err
	}

	p.records.Delete(record.id)
	record.state = StateReleased
	record.isCompacted = false
	p.frame.released++

	return nil
}

func (p *Pipeline) freeAll(record *ASBuffers) error {
	if record.transientBytes > 0 {
		p.releaseTransient(record)
	}

	err := p.pools.Free(suballoc.RoleScratch, &record.scratch)
	if err != nil {
		return err
	}
	err = p.pools.Free(suballoc.RoleResult, &record.result)
	if err != nil {
		return err
	}
	err = p.pools.Free(suballoc.RoleCompacted, &record.compacted)
	if err != nil {
		return err
	}

	return p.freeSizeQuery(record)
}

// compactOrder drops the IDs of records that are no longer tracked
func (p *Pipeline) compactOrder() {
	live := p.order[:0]
	for _, id := range p.order {
		if p.records.Has(id) {
			live = append(live, id)
		}
	}

	p.order = live
}

// PostBuildRelease frees the scratch memory of builds that did not allow compaction. It must only be
// called once the builds have executed. Records that are compacting or waiting to compact are rejected,
// since the pipeline frees their scratch memory itself. Records that have been removed and nil entries
// are skipped.
func (p *Pipeline) PostBuildRelease(records []*ASBuffers) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	for _, record := range records {
		if record == nil {
			continue
		}

		switch record.state {
		case StatePendingRelease, StateReleased:
			continue
		case StateUncompacted:
		case StateBuilt:
			if record.compactionRequested {
				return errors.AssertionFailedf("record %d allows compaction, and its scratch memory is freed by the pipeline", record.id)
			}
		default:
			return errors.AssertionFailedf("record %d is in state %s, and its scratch memory is freed by the pipeline", record.id, record.state)
		}

		err := p.pools.Free(suballoc.RoleScratch, &record.scratch)
		if err != nil {
			return err
		}
	}

	return nil
}

// ReleaseAccelerationStructures immediately frees the memory of every tracked record, whatever its state,
// and stops tracking them. The caller must guarantee that the device is idle.
func (p *Pipeline) ReleaseAccelerationStructures() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return p.releaseAll()
}

func (p *Pipeline) releaseAll() error {
	p.logger.Debug("Pipeline::ReleaseAccelerationStructures", slog.Int("count", p.records.Count()))

	var err error
	p.visitRecords(func(record *ASBuffers) bool {
		err = p.release(record)
		return err == nil
	})
	p.compactOrder()

	return err
}

// Destroy releases every record and destroys the suballocation pools. The caller must guarantee that the
// device is idle.
func (p *Pipeline) Destroy() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.logger.Debug("Pipeline::Destroy")

	err := p.releaseAll()
	if err != nil {
		return err
	}

	return p.pools.Destroy()
}

// Stats returns a snapshot of the pipeline's records and memory
func (p *Pipeline) Stats() Statistics {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	return p.stats()
}

func (p *Pipeline) stats() Statistics {
	stats := Statistics{
		FrameIndex:           p.frameIndex,
		TransientBytes:       p.transientBytes,
		CompactionsCompleted: p.compactionsCompleted,
		BytesSaved:           p.bytesSaved,
		Deferrals:            p.deferrals,
		Demotions:            p.demotions,
	}

	p.visitRecords(func(record *ASBuffers) bool {
		stats.Records[record.state]++

		if record.isCompacted {
			stats.CompactedBytes += uint64(record.compacted.Size())
		} else {
			stats.UncompactedBytes += uint64(record.result.Size())
		}
		return true
	})

	p.pools.AddStatistics(&stats.Pools)
	return stats
}

func (p *Pipeline) writeSummary() {
	stats := p.stats()

	p.log.Reset()
	p.log.Printf("frame %d", p.frameIndex)
	p.log.Printf("  builds: %d (%d compactable), %d result bytes", p.frame.builds, p.frame.compactableBuilds, p.frame.buildBytes)
	p.log.Printf("  compaction: %d ready, %d started, %d deferred, %d left uncompacted, %d completed",
		p.frame.ready, p.frame.started, p.frame.deferred, p.frame.demoted, p.frame.completed)
	p.log.Printf("  removed: %d, released: %d", p.frame.removed, p.frame.released)
	p.log.Printf("  waiting: %d pending compaction, %d ready for compaction, %d pending completion, %d pending release",
		stats.RecordsIn(StatePendingCompaction),
		stats.RecordsIn(StateReadyForCompaction),
		stats.RecordsIn(StatePendingCompletion),
		stats.RecordsIn(StatePendingRelease))
	p.log.Printf("  compacted: %d structures, %d bytes (%d bytes saved so far)",
		stats.RecordsIn(StateCompleted), stats.CompactedBytes, stats.BytesSaved)
	p.log.Printf("  uncompacted: %d structures, %d bytes", stats.RecordsIn(StateUncompacted), stats.UncompactedBytes)
	p.log.Printf("  transient: %d of %d bytes", stats.TransientBytes, p.maxTransient)
	p.log.Printf("  resident: %d bytes in %d blocks, %d bytes in free lists",
		stats.Pools.BlockBytes, stats.Pools.BlockCount, stats.Pools.FreeRangeBytes)
}

// PrintDetailedMap writes a json object describing every tracked record and every pool to the provided
// writer
func (p *Pipeline) PrintDetailedMap(writer *jwriter.Writer) {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	objState := writer.Object()
	defer objState.End()

	objState.Name("FrameIndex").Int(int(p.frameIndex))
	objState.Name("CommandListLatency").Int(int(p.latency))
	objState.Name("TransientBytes").Int(int(p.transientBytes))
	objState.Name("MaxTransientBytes").Int(int(p.maxTransient))

	recordsObj := objState.Name("Records").Object()
	p.visitRecords(func(record *ASBuffers) bool {
		recordObj := recordsObj.Name(strconv.FormatUint(uint64(record.id), 10)).Object()
		defer recordObj.End()

		recordObj.Name("Name").String(record.name)
		recordObj.Name("State").String(record.state.String())
		recordObj.Name("FrameIndexRequested").Int(int(record.frameIndexRequested))
		recordObj.Name("CompactionRequested").Bool(record.compactionRequested)
		recordObj.Name("IsCompacted").Bool(record.isCompacted)
		recordObj.Name("PrimitiveCount").Int(record.primitiveCount)
		recordObj.Name("ResultSize").Int(int(record.resultSize))
		recordObj.Name("CompactedSize").Int(int(record.compactedSize))
		recordObj.Name("ResidentBytes").Int(int(record.residentBytes()))
		recordObj.Name("Address").Int(int(record.DeviceAddress()))
		return true
	})
	recordsObj.End()

	poolsObj := objState.Name("Pools").Object()
	p.pools.PoolsJsonData(poolsObj)
	poolsObj.End()
}

// Validate performs internal consistency checks on every record and every pool. When the implementation is
// functioning correctly, it should not be possible for this method to return an error.
func (p *Pipeline) Validate() error {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	return p.validate()
}

func (p *Pipeline) validate() error {
	var transient uint64
	var err error
	seen := 0

	p.visitRecords(func(record *ASBuffers) bool {
		seen++
		transient += record.transientBytes
		err = p.validateRecord(record)
		return err == nil
	})
	if err != nil {
		return err
	}

	if seen != p.records.Count() {
		return errors.Newf("%d records are tracked, but %d are in build order", p.records.Count(), seen)
	}
	if transient != p.transientBytes {
		return errors.Newf("records hold %d transient bytes, but the pipeline believes they hold %d", transient, p.transientBytes)
	}
	if p.transientBytes > p.maxTransient {
		return errors.Newf("%d transient bytes are in use, over the budget of %d", p.transientBytes, p.maxTransient)
	}

	return p.pools.Validate()
}

func (p *Pipeline) validateRecord(record *ASBuffers) error {
	hasSizeQuery := record.compactedSizeDevice.IsValid() && record.compactedSizeHost.IsValid()

	switch record.state {
	case StateBuilt, StatePendingCompaction, StateReadyForCompaction:
		if !record.result.IsValid() || record.compacted.IsValid() || record.isCompacted {
			return errors.Newf("record %d in state %s must have result memory and no compacted memory", record.id, record.state)
		}
		if record.state != StateBuilt && (!record.scratch.IsValid() || !hasSizeQuery) {
			return errors.Newf("record %d in state %s must still have scratch and size query memory", record.id, record.state)
		}
		if record.state == StatePendingCompaction && !record.compactionRequested {
			return errors.Newf("record %d is waiting to compact, but did not request compaction", record.id)
		}
	case StatePendingCompletion:
		if !record.result.IsValid() || !record.compacted.IsValid() || record.transientBytes == 0 {
			return errors.Newf("record %d in state %s must have result memory, compacted memory and a transient charge", record.id, record.state)
		}
	case StateCompleted:
		if !record.isCompacted || !record.compacted.IsValid() {
			return errors.Newf("record %d in state %s must be compacted", record.id, record.state)
		}
		if record.result.IsValid() || record.scratch.IsValid() || hasSizeQuery {
			return errors.Newf("record %d is compacted, but has not freed its build memory", record.id)
		}
	case StateUncompacted:
		if !record.result.IsValid() || record.compacted.IsValid() || record.isCompacted {
			return errors.Newf("record %d in state %s must have result memory and no compacted memory", record.id, record.state)
		}
	case StatePendingRelease:
	default:
		return errors.Newf("record %d is tracked in state %s", record.id, record.state)
	}

	if !memutils.IsAligned(record.result.Address(), uint64(gpu.AccelerationStructureAlignment)) ||
		!memutils.IsAligned(record.compacted.Address(), uint64(gpu.AccelerationStructureAlignment)) ||
		!memutils.IsAligned(record.scratch.Address(), uint64(gpu.ScratchAlignment)) {
		return errors.Newf("record %d has a misaligned suballocation", record.id)
	}
	if record.transientBytes > 0 && !record.compacted.IsValid() {
		return errors.Newf("record %d holds a transient charge without compacted memory", record.id)
	}

	return nil
}
