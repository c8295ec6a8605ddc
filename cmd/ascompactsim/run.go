package main

import (
	"fmt"
	"io"
	"log/slog"
	"math/rand"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/arsenal/ascompact/compaction"
	"github.com/vkngwrapper/arsenal/ascompact/gpu"
	"github.com/vkngwrapper/arsenal/ascompact/gpu/simulated"
)

type runOptions struct {
	out      io.Writer
	frameLog bool
	json     bool
	validate bool
}

type simulation struct {
	config   simConfig
	options  runOptions
	rng      *rand.Rand
	device   *simulated.Device
	list     *simulated.CommandList
	pipeline *compaction.Pipeline

	live []*compaction.ASBuffers
	// unreleasedScratch holds last frame's builds that did not allow compaction. Their scratch memory
	// is freed once the next frame has begun.
	unreleasedScratch []*compaction.ASBuffers
	nextName          int
}

func runSimulation(logger *slog.Logger, config simConfig, options runOptions) error {
	device := simulated.New(config.deviceOptions())
	pipeline, err := compaction.New(logger, device, config.pipelineOptions())
	if err != nil {
		return err
	}

	sim := &simulation{
		config:   config,
		options:  options,
		rng:      rand.New(rand.NewSource(config.Seed)),
		device:   device,
		list:     device.NewCommandList(),
		pipeline: pipeline,
	}

	for frame := 0; frame < config.Frames; frame++ {
		err = sim.frame()
		if err != nil {
			return errors.Wrapf(err, "frame %d", pipeline.FrameIndex())
		}
	}

	printPoolTable(options.out, pipeline)
	printStatistics(options.out, pipeline.Stats())

	if options.json {
		writer := jwriter.NewWriter()
		pipeline.PrintDetailedMap(&writer)
		if err := writer.Error(); err != nil {
			return err
		}

		_, err = fmt.Fprintln(options.out, string(writer.Bytes()))
		if err != nil {
			return err
		}
	}

	err = sim.drain()
	if err != nil {
		return err
	}

	err = pipeline.Destroy()
	if err != nil {
		return err
	}
	if device.LiveBuffers() != 0 {
		return errors.Newf("%d device buffers are still alive after the pipeline was destroyed", device.LiveBuffers())
	}

	return nil
}

func (s *simulation) frame() error {
	err := s.pipeline.NextFrame(s.list)
	if err != nil {
		return err
	}

	err = s.pipeline.PostBuildRelease(s.unreleasedScratch)
	if err != nil {
		return err
	}
	s.unreleasedScratch = s.unreleasedScratch[:0]

	s.removeRandom()

	inputs := s.randomInputs()
	if len(inputs) > 0 {
		records, err := s.pipeline.BuildAccelerationStructures(s.list, inputs)
		if err != nil {
			return err
		}

		s.live = append(s.live, records...)
		for _, record := range records {
			if !record.CompactionRequested() {
				s.unreleasedScratch = append(s.unreleasedScratch, record)
			}
		}
	}

	err = s.device.Submit(s.list)
	if err != nil {
		return err
	}

	if s.options.validate {
		err = s.pipeline.Validate()
		if err != nil {
			return err
		}
	}

	if s.options.frameLog {
		_, err = io.WriteString(s.options.out, s.pipeline.Log())
	}
	return err
}

func (s *simulation) removeRandom() {
	var removed []*compaction.ASBuffers
	kept := s.live[:0]

	for _, record := range s.live {
		if s.rng.Intn(100) < s.config.RemovePercent {
			removed = append(removed, record)
		} else {
			kept = append(kept, record)
		}
	}

	s.live = kept
	s.pipeline.RemoveAccelerationStructures(removed)
}

func (s *simulation) randomInputs() []gpu.BuildInput {
	count := s.rng.Intn(s.config.BuildsPerFrame + 1)
	inputs := make([]gpu.BuildInput, 0, count)

	for i := 0; i < count; i++ {
		primitives := s.rng.Intn(s.config.MaxPrimitives) + 1
		geometry := gpu.Geometry{
			Type:           gpu.GeometryTypeAABBs,
			PrimitiveCount: primitives,
		}
		if s.rng.Intn(2) == 0 {
			geometry.Type = gpu.GeometryTypeTriangles
			geometry.VertexCount = primitives * 3
			geometry.Opaque = true
		}

		flags := gpu.BuildPreferFastBuild
		if s.rng.Intn(100) < s.config.CompactionPercent {
			flags = gpu.BuildAllowCompaction | gpu.BuildPreferFastTrace
		}

		s.nextName++
		inputs = append(inputs, gpu.BuildInput{
			Type:       gpu.AccelerationStructureTypeBottomLevel,
			Flags:      flags,
			Geometries: []gpu.Geometry{geometry},
			Name:       fmt.Sprintf("blas %d", s.nextName),
		})
	}

	return inputs
}

// drain removes every live acceleration structure and runs frames until the pipeline has released them
func (s *simulation) drain() error {
	s.pipeline.RemoveAccelerationStructures(s.live)
	s.live = nil

	for {
		stats := s.pipeline.Stats()
		if stats.RecordsIn(compaction.StatePendingRelease) == 0 {
			return nil
		}

		err := s.pipeline.NextFrame(s.list)
		if err != nil {
			return err
		}
		err = s.device.Submit(s.list)
		if err != nil {
			return err
		}
	}
}
