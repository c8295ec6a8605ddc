package compaction_test

import (
	"encoding/json"
	"io"
	"log/slog"
	"math/rand"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/arsenal/ascompact/compaction"
	"github.com/vkngwrapper/arsenal/ascompact/gpu"
	"github.com/vkngwrapper/arsenal/ascompact/gpu/mocks"
	"github.com/vkngwrapper/arsenal/ascompact/gpu/simulated"
	"github.com/vkngwrapper/arsenal/ascompact/suballoc"
	"go.uber.org/mock/gomock"
)

// A 100-triangle build on a default simulated device needs 3328 bytes of scratch and a 6656-byte result
// that compacts to 3328 bytes
const (
	scratchSize   = 3328
	resultSize    = 6656
	compactedSize = 3328
	pairSize      = resultSize + compactedSize
)

type harness struct {
	t        *testing.T
	device   *simulated.Device
	list     *simulated.CommandList
	pipeline *compaction.Pipeline
}

func readyPipeline(t *testing.T, deviceOptions simulated.Options, options compaction.Options) *harness {
	device := simulated.New(deviceOptions)
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	pipeline, err := compaction.New(logger, device, options)
	require.NoError(t, err)

	return &harness{
		t:        t,
		device:   device,
		list:     device.NewCommandList(),
		pipeline: pipeline,
	}
}

func triangles(count int, flags gpu.BuildFlags) gpu.BuildInput {
	return gpu.BuildInput{
		Type:  gpu.AccelerationStructureTypeBottomLevel,
		Flags: flags,
		Geometries: []gpu.Geometry{
			{Type: gpu.GeometryTypeTriangles, PrimitiveCount: count, VertexCount: count * 3, Opaque: true},
		},
	}
}

func (h *harness) build(inputs ...gpu.BuildInput) []*compaction.ASBuffers {
	records, err := h.pipeline.BuildAccelerationStructures(h.list, inputs)
	require.NoError(h.t, err)
	require.Len(h.t, records, len(inputs))
	require.NoError(h.t, h.device.Submit(h.list))
	require.NoError(h.t, h.pipeline.Validate())
	return records
}

func (h *harness) frames(count int) {
	for i := 0; i < count; i++ {
		require.NoError(h.t, h.pipeline.NextFrame(h.list))
		require.NoError(h.t, h.device.Submit(h.list))
		require.NoError(h.t, h.pipeline.Validate())
	}
}

func (h *harness) allocationCount() int {
	stats := h.pipeline.Stats()
	return stats.Pools.AllocationCount
}

func TestPipelineLatency(t *testing.T) {
	h := readyPipeline(t, simulated.Options{}, compaction.Options{CommandListLatency: 3})
	h.frames(1)

	records := h.build(triangles(100, gpu.BuildAllowCompaction|gpu.BuildPreferFastTrace))
	record := records[0]
	require.Equal(t, compaction.StateBuilt, record.State())
	require.Equal(t, uint64(1), record.FrameIndexRequested())
	require.Equal(t, uint32(resultSize), record.ResultSize())

	resultAddress := record.DeviceAddress()
	require.NotZero(t, resultAddress)

	h.frames(1)
	require.Equal(t, compaction.StatePendingCompaction, record.State())
	h.frames(1)
	require.Equal(t, compaction.StatePendingCompaction, record.State())
	require.Zero(t, record.CompactedSize())

	// Frame 4 is three frames after the build: the size is read back and the copy is recorded
	h.frames(1)
	require.Equal(t, compaction.StatePendingCompletion, record.State())
	require.Equal(t, uint64(compactedSize), record.CompactedSize())
	require.False(t, record.IsCompacted())
	require.Equal(t, resultAddress, record.DeviceAddress())
	require.Equal(t, uint64(pairSize), h.pipeline.TransientBytes())

	h.frames(2)
	require.Equal(t, compaction.StatePendingCompletion, record.State())

	h.frames(1)
	require.Equal(t, compaction.StateCompleted, record.State())
	require.True(t, record.IsCompacted())
	require.NotEqual(t, resultAddress, record.DeviceAddress())
	require.Zero(t, h.pipeline.TransientBytes())

	structure, ok := h.device.StructureAt(record.DeviceAddress())
	require.True(t, ok)
	require.True(t, structure.Compacted)

	stats := h.pipeline.Stats()
	require.Equal(t, 1, stats.RecordsIn(compaction.StateCompleted))
	require.Equal(t, 1, stats.CompactionsCompleted)
	require.Equal(t, uint64(compactedSize), stats.CompactedBytes)
	require.Equal(t, uint64(resultSize-compactedSize), stats.BytesSaved)

	// Only the compacted memory is left
	require.Equal(t, 1, stats.Pools.AllocationCount)
	require.Equal(t, uint64(compactedSize), stats.Pools.AllocationBytes)
}

func TestPipelineUncompacted(t *testing.T) {
	h := readyPipeline(t, simulated.Options{}, compaction.Options{})

	records := h.build(triangles(100, gpu.BuildPreferFastBuild))
	record := records[0]
	require.False(t, record.CompactionRequested())
	require.Equal(t, 2, h.allocationCount())
	require.Equal(t, 0, h.pipeline.Pools().Pool(suballoc.RoleCompactedSizeDevice).BlockCount())
	require.Equal(t, 0, h.pipeline.Pools().Pool(suballoc.RoleCompactedSizeHost).BlockCount())

	h.frames(1)
	require.Equal(t, compaction.StateUncompacted, record.State())

	address := record.DeviceAddress()
	require.NoError(t, h.pipeline.PostBuildRelease(records))
	require.Equal(t, 1, h.allocationCount())
	require.NoError(t, h.pipeline.PostBuildRelease(records))

	h.frames(10)
	require.Equal(t, compaction.StateUncompacted, record.State())
	require.Equal(t, address, record.DeviceAddress())
	require.Equal(t, 0, h.pipeline.Pools().Pool(suballoc.RoleCompacted).BlockCount())
}

func TestPipelinePostBuildReleaseRejectsCompactingBuilds(t *testing.T) {
	h := readyPipeline(t, simulated.Options{}, compaction.Options{})

	records := h.build(triangles(100, gpu.BuildAllowCompaction))
	err := h.pipeline.PostBuildRelease(records)
	require.Error(t, err)
	require.True(t, errors.HasAssertionFailure(err))

	h.frames(1)
	require.Error(t, h.pipeline.PostBuildRelease(records))
}

func TestPipelinePostBuildReleaseSkipsNil(t *testing.T) {
	h := readyPipeline(t, simulated.Options{}, compaction.Options{})

	records := h.build(triangles(100, 0))
	h.frames(1)

	require.NoError(t, h.pipeline.PostBuildRelease([]*compaction.ASBuffers{nil, records[0], nil}))
	require.Equal(t, 1, h.allocationCount())
}

func TestPipelineValidateWhileRunning(t *testing.T) {
	h := readyPipeline(t, simulated.Options{}, compaction.Options{CommandListLatency: 1})

	done := make(chan struct{})
	errs := make(chan error, 1)
	go func() {
		defer close(errs)
		for {
			select {
			case <-done:
				return
			default:
			}

			err := h.pipeline.Validate()
			if err != nil {
				errs <- err
				return
			}
		}
	}()

	for i := 0; i < 50; i++ {
		records := h.build(triangles(10+i, gpu.BuildAllowCompaction))
		h.frames(1)
		if i%3 == 0 {
			h.pipeline.RemoveAccelerationStructures(records)
		}
	}

	close(done)
	require.NoError(t, <-errs)
}

func TestPipelineBudgetAdmission(t *testing.T) {
	h := readyPipeline(t, simulated.Options{}, compaction.Options{
		CommandListLatency:           3,
		MaxTransientCompactionMemory: pairSize,
	})

	records := h.build(
		triangles(100, gpu.BuildAllowCompaction),
		triangles(100, gpu.BuildAllowCompaction),
	)
	first, second := records[0], records[1]

	h.frames(3)
	require.Equal(t, compaction.StatePendingCompletion, first.State())
	require.Equal(t, compaction.StateReadyForCompaction, second.State())
	require.Equal(t, uint64(pairSize), h.pipeline.TransientBytes())
	require.Equal(t, 1, h.pipeline.Stats().Deferrals)

	h.frames(2)
	require.Equal(t, compaction.StateReadyForCompaction, second.State())
	require.Equal(t, 3, h.pipeline.Stats().Deferrals)

	// The first copy completes and frees its budget, which the second is admitted into on the same frame
	h.frames(1)
	require.Equal(t, compaction.StateCompleted, first.State())
	require.Equal(t, compaction.StatePendingCompletion, second.State())
	require.Equal(t, uint64(pairSize), h.pipeline.TransientBytes())

	h.frames(3)
	require.Equal(t, compaction.StateCompleted, second.State())
	require.Zero(t, h.pipeline.TransientBytes())
	require.Equal(t, 2, h.pipeline.Stats().CompactionsCompleted)
}

func TestPipelineCopyCompaction(t *testing.T) {
	h := readyPipeline(t, simulated.Options{}, compaction.Options{
		CommandListLatency:           3,
		MaxTransientCompactionMemory: pairSize,
	})

	records := h.build(
		triangles(100, gpu.BuildAllowCompaction),
		triangles(100, gpu.BuildAllowCompaction),
	)
	h.frames(3)

	admitted, err := h.pipeline.CopyCompaction(h.list, records[1:])
	require.NoError(t, err)
	require.False(t, admitted)
	require.Equal(t, compaction.StateReadyForCompaction, records[1].State())

	_, err = h.pipeline.CopyCompaction(h.list, records[:1])
	require.Error(t, err)
	require.True(t, errors.HasAssertionFailure(err))

	uncompacted := h.build(triangles(10, 0))
	_, err = h.pipeline.CopyCompaction(h.list, uncompacted)
	require.Error(t, err)
	require.Zero(t, h.list.Len())
}

func TestPipelineOversizedCompactionIsLeftUncompacted(t *testing.T) {
	h := readyPipeline(t, simulated.Options{}, compaction.Options{
		MaxTransientCompactionMemory: pairSize - 1,
	})

	records := h.build(triangles(100, gpu.BuildAllowCompaction))
	record := records[0]
	address := record.DeviceAddress()

	h.frames(3)
	require.Equal(t, compaction.StateUncompacted, record.State())
	require.Equal(t, address, record.DeviceAddress())
	require.Equal(t, 1, h.pipeline.Stats().Demotions)
	require.Zero(t, h.pipeline.Stats().Deferrals)

	// The pipeline freed the scratch and size query memory, leaving only the result
	require.Equal(t, 1, h.allocationCount())
	require.NoError(t, h.pipeline.PostBuildRelease(records))
}

func TestPipelineCancellation(t *testing.T) {
	testCases := []struct {
		name  string
		state compaction.State
		flags gpu.BuildFlags
		setup func(h *harness, records []*compaction.ASBuffers)
	}{
		{
			name:  "Built",
			state: compaction.StateBuilt,
			flags: gpu.BuildAllowCompaction,
			setup: func(h *harness, records []*compaction.ASBuffers) {},
		},
		{
			name:  "PendingCompaction",
			state: compaction.StatePendingCompaction,
			flags: gpu.BuildAllowCompaction,
			setup: func(h *harness, records []*compaction.ASBuffers) { h.frames(1) },
		},
		{
			name:  "ReadyForCompaction",
			state: compaction.StateReadyForCompaction,
			flags: gpu.BuildAllowCompaction,
			setup: func(h *harness, records []*compaction.ASBuffers) { h.frames(3) },
		},
		{
			name:  "PendingCompletion",
			state: compaction.StatePendingCompletion,
			flags: gpu.BuildAllowCompaction,
			setup: func(h *harness, records []*compaction.ASBuffers) { h.frames(3) },
		},
		{
			name:  "Completed",
			state: compaction.StateCompleted,
			flags: gpu.BuildAllowCompaction,
			setup: func(h *harness, records []*compaction.ASBuffers) { h.frames(6) },
		},
		{
			name:  "Uncompacted",
			state: compaction.StateUncompacted,
			flags: 0,
			setup: func(h *harness, records []*compaction.ASBuffers) {
				h.frames(1)
				require.NoError(h.t, h.pipeline.PostBuildRelease(records))
			},
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			h := readyPipeline(t, simulated.Options{}, compaction.Options{
				CommandListLatency:           3,
				MaxTransientCompactionMemory: pairSize,
			})

			// Run one build through the whole pipeline so every pool holds its one resident block
			warmup := h.build(triangles(100, gpu.BuildAllowCompaction))
			h.frames(6)
			h.pipeline.RemoveAccelerationStructures(warmup)
			h.frames(3)
			require.Equal(t, compaction.StateReleased, warmup[0].State())
			require.Equal(t, 0, h.allocationCount())

			baseline := h.pipeline.Pools().ResidentBytes()
			require.Equal(t, uint64(5*suballoc.DefaultBlockSize), baseline)

			// The blocker holds the whole transient budget, so the second record stops at ReadyForCompaction
			inputs := []gpu.BuildInput{triangles(100, testCase.flags)}
			if testCase.state == compaction.StateReadyForCompaction {
				inputs = append([]gpu.BuildInput{triangles(100, gpu.BuildAllowCompaction)}, inputs...)
			}

			records := h.build(inputs...)
			target := records[len(records)-1]
			testCase.setup(h, records)
			require.Equal(t, testCase.state, target.State())

			h.pipeline.RemoveAccelerationStructures(records)
			h.pipeline.RemoveAccelerationStructures(records)
			require.Equal(t, compaction.StatePendingRelease, target.State())

			h.frames(2)
			require.Equal(t, compaction.StatePendingRelease, target.State())
			require.NotZero(t, h.allocationCount())

			h.frames(1)
			require.Equal(t, compaction.StateReleased, target.State())
			require.Zero(t, target.DeviceAddress())
			_, tracked := h.pipeline.Record(target.ID())
			require.False(t, tracked)

			require.Equal(t, 0, h.allocationCount())
			require.Zero(t, h.pipeline.TransientBytes())
			require.Equal(t, baseline, h.pipeline.Pools().ResidentBytes())

			h.pipeline.RemoveAccelerationStructures(records)
			h.frames(3)

			require.NoError(t, h.pipeline.Destroy())
			require.Equal(t, 0, h.device.LiveBuffers())
		})
	}
}

func TestPipelineReleaseAccelerationStructures(t *testing.T) {
	h := readyPipeline(t, simulated.Options{}, compaction.Options{})

	early := h.build(triangles(100, gpu.BuildAllowCompaction), triangles(50, 0))
	h.frames(3)
	late := h.build(triangles(100, gpu.BuildAllowCompaction))
	h.frames(1)

	require.Equal(t, compaction.StatePendingCompletion, early[0].State())
	require.Equal(t, compaction.StateUncompacted, early[1].State())
	require.Equal(t, compaction.StatePendingCompaction, late[0].State())

	require.NoError(t, h.pipeline.ReleaseAccelerationStructures())
	for _, record := range append(early, late...) {
		require.Equal(t, compaction.StateReleased, record.State())
	}
	require.Equal(t, 0, h.allocationCount())
	require.Zero(t, h.pipeline.TransientBytes())
	require.NoError(t, h.pipeline.Validate())

	require.NoError(t, h.pipeline.Destroy())
	require.Equal(t, 0, h.device.LiveBuffers())
}

func TestPipelineBuildFailureRollsBack(t *testing.T) {
	h := readyPipeline(t, simulated.Options{MemoryLimit: 2 * int(suballoc.DefaultBlockSize)}, compaction.Options{})

	records, err := h.pipeline.BuildAccelerationStructures(h.list, []gpu.BuildInput{
		triangles(100, gpu.BuildAllowCompaction),
		triangles(100, gpu.BuildAllowCompaction),
	})
	require.Error(t, err)
	require.Nil(t, records)
	require.Zero(t, h.list.Len())
	require.Equal(t, 0, h.allocationCount())
	require.Equal(t, 0, h.pipeline.Stats().InFlight())
	require.NoError(t, h.pipeline.Validate())
}

func TestPipelineCommandOrder(t *testing.T) {
	h := readyPipeline(t, simulated.Options{}, compaction.Options{CommandListLatency: 2})
	ctrl := gomock.NewController(t)
	recorder := mocks.NewMockCommandRecorder(ctrl)

	input := triangles(100, gpu.BuildAllowCompaction)
	var resultAddress, sizeAddress uint64

	gomock.InOrder(
		recorder.EXPECT().BuildAccelerationStructure(input, gomock.Any(), gomock.Any()).
			Do(func(input gpu.BuildInput, dstAddress, scratchAddress uint64) {
				resultAddress = dstAddress
				h.list.BuildAccelerationStructure(input, dstAddress, scratchAddress)
			}),
		recorder.EXPECT().EmitCompactedSize(gomock.Any(), gomock.Any()).
			Do(func(asAddress, dstAddress uint64) {
				require.Equal(t, resultAddress, asAddress)
				sizeAddress = dstAddress
				h.list.EmitCompactedSize(asAddress, dstAddress)
			}),
		recorder.EXPECT().CopyBuffer(gomock.Any(), gomock.Any(), uint64(8)).
			Do(func(dstAddress, srcAddress, size uint64) {
				require.Equal(t, sizeAddress, srcAddress)
				h.list.CopyBuffer(dstAddress, srcAddress, size)
			}),
	)

	records, err := h.pipeline.BuildAccelerationStructures(recorder, []gpu.BuildInput{input})
	require.NoError(t, err)
	require.Equal(t, resultAddress, records[0].DeviceAddress())
	require.NoError(t, h.device.Submit(h.list))

	require.NoError(t, h.pipeline.NextFrame(recorder))

	recorder.EXPECT().CompactAccelerationStructure(gomock.Any(), resultAddress).
		Do(func(dstAddress, srcAddress uint64) {
			h.list.CompactAccelerationStructure(dstAddress, srcAddress)
		})

	require.NoError(t, h.pipeline.NextFrame(recorder))
	require.NoError(t, h.device.Submit(h.list))
	require.Equal(t, compaction.StatePendingCompletion, records[0].State())

	require.NoError(t, h.pipeline.NextFrame(recorder))
	require.NoError(t, h.pipeline.NextFrame(recorder))
	require.Equal(t, compaction.StateCompleted, records[0].State())
}

func TestPipelineLog(t *testing.T) {
	h := readyPipeline(t, simulated.Options{}, compaction.Options{MaxTransientCompactionMemory: pairSize})

	h.build(triangles(100, gpu.BuildAllowCompaction), triangles(100, gpu.BuildAllowCompaction))
	require.Equal(t, "built 2 acceleration structures (2 compactable), 13,312 result bytes\n", h.pipeline.Log())

	h.frames(1)
	log := h.pipeline.Log()
	require.Contains(t, log, "frame 1\n")
	require.Contains(t, log, "builds: 2 (2 compactable), 13,312 result bytes")
	require.Contains(t, log, "2 pending compaction")
	require.NotContains(t, log, "built 2")

	h.frames(2)
	log = h.pipeline.Log()
	require.Contains(t, log, "frame 3\n")
	require.Contains(t, log, "compaction: 2 ready, 1 started, 1 deferred, 0 left uncompacted, 0 completed")
	require.Contains(t, log, "transient: 9,984 of 9,984 bytes")
}

func TestPipelineDetailedMap(t *testing.T) {
	h := readyPipeline(t, simulated.Options{}, compaction.Options{})

	h.build(triangles(100, gpu.BuildAllowCompaction))

	writer := jwriter.NewWriter()
	h.pipeline.PrintDetailedMap(&writer)
	require.NoError(t, writer.Error())

	var parsed struct {
		FrameIndex int
		Records    map[string]struct {
			State         string
			ResultSize    int
			ResidentBytes int
		}
		Pools map[string]json.RawMessage
	}
	require.NoError(t, json.Unmarshal(writer.Bytes(), &parsed))
	require.Equal(t, 0, parsed.FrameIndex)
	require.Len(t, parsed.Records, 1)
	require.Equal(t, "Built", parsed.Records["1"].State)
	require.Equal(t, resultSize, parsed.Records["1"].ResultSize)
	require.Equal(t, scratchSize+resultSize+16, parsed.Records["1"].ResidentBytes)
	require.Len(t, parsed.Pools, 5)
}

func TestPipelineRandomized(t *testing.T) {
	h := readyPipeline(t, simulated.Options{CompactionRatio: 0.4}, compaction.Options{
		CommandListLatency:           2,
		SuballocatorBlockSize:        256 * 1024,
		SizeQueryBlockSize:           4096,
		MaxTransientCompactionMemory: 200 * 1024,
	})
	rng := rand.New(rand.NewSource(1))

	var live []*compaction.ASBuffers
	for frame := 0; frame < 200; frame++ {
		h.frames(1)

		for i := rng.Intn(3); i > 0 && len(live) > 0; i-- {
			index := rng.Intn(len(live))
			h.pipeline.RemoveAccelerationStructures(live[index : index+1])
			live = append(live[:index], live[index+1:]...)
		}

		var inputs []gpu.BuildInput
		for i := rng.Intn(4); i > 0; i-- {
			flags := gpu.BuildAllowCompaction
			if rng.Intn(4) == 0 {
				flags = 0
			}
			inputs = append(inputs, triangles(rng.Intn(2000)+1, flags))
		}
		if len(inputs) > 0 {
			live = append(live, h.build(inputs...)...)
		}

		for _, record := range live {
			require.NotZero(t, record.DeviceAddress())
		}
	}

	h.pipeline.RemoveAccelerationStructures(live)
	h.frames(2)
	require.Equal(t, 0, h.allocationCount())
	require.Equal(t, 0, h.pipeline.Stats().InFlight())

	require.NoError(t, h.pipeline.Destroy())
	require.Equal(t, 0, h.device.LiveBuffers())
}
