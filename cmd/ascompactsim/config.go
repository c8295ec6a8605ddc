package main

import (
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/vkngwrapper/arsenal/ascompact/compaction"
	"github.com/vkngwrapper/arsenal/ascompact/gpu/simulated"
)

// simConfig is everything a simulation run needs. It can be loaded from a TOML file and any
// field can be overridden from the command line.
type simConfig struct {
	Frames         int   `toml:"frames"`
	BuildsPerFrame int   `toml:"builds_per_frame"`
	MaxPrimitives  int   `toml:"max_primitives"`
	Seed           int64 `toml:"seed"`

	// CompactionPercent is the chance that a build allows compaction
	CompactionPercent int `toml:"compaction_percent"`
	// RemovePercent is the chance, each frame, that a live acceleration structure is removed
	RemovePercent int `toml:"remove_percent"`

	Latency            uint64 `toml:"latency"`
	BlockSize          uint32 `toml:"block_size"`
	SizeQueryBlockSize uint32 `toml:"size_query_block_size"`
	MaxTransient       uint64 `toml:"max_transient"`

	CompactionRatio float64 `toml:"compaction_ratio"`
	MemoryLimit     int     `toml:"memory_limit"`
}

func defaultConfig() simConfig {
	return simConfig{
		Frames:             120,
		BuildsPerFrame:     4,
		MaxPrimitives:      4096,
		Seed:               1,
		CompactionPercent:  75,
		RemovePercent:      5,
		Latency:            compaction.DefaultCommandListLatency,
		SizeQueryBlockSize: 4096,
		MaxTransient:       8 * 1024 * 1024,
		CompactionRatio:    0.5,
	}
}

// loadConfig reads a TOML file over the defaults. Keys the file sets that simConfig does not know
// are an error, so typos do not silently fall back to defaults.
func loadConfig(path string) (simConfig, error) {
	config := defaultConfig()
	if path == "" {
		return config, nil
	}

	meta, err := toml.DecodeFile(path, &config)
	if err != nil {
		return simConfig{}, errors.Wrapf(err, "failed to read config file %s", path)
	}

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return simConfig{}, errors.Newf("unknown keys in config file %s: %s", path, strings.Join(keys, ", "))
	}

	return config, nil
}

// override copies every field whose command-line flag was set from flags into c
func (c *simConfig) override(cmd *cobra.Command, flags simConfig) {
	changed := cmd.Flags().Changed

	if changed("frames") {
		c.Frames = flags.Frames
	}
	if changed("builds-per-frame") {
		c.BuildsPerFrame = flags.BuildsPerFrame
	}
	if changed("max-primitives") {
		c.MaxPrimitives = flags.MaxPrimitives
	}
	if changed("seed") {
		c.Seed = flags.Seed
	}
	if changed("compaction-percent") {
		c.CompactionPercent = flags.CompactionPercent
	}
	if changed("remove-percent") {
		c.RemovePercent = flags.RemovePercent
	}
	if changed("latency") {
		c.Latency = flags.Latency
	}
	if changed("block-size") {
		c.BlockSize = flags.BlockSize
	}
	if changed("size-query-block-size") {
		c.SizeQueryBlockSize = flags.SizeQueryBlockSize
	}
	if changed("max-transient") {
		c.MaxTransient = flags.MaxTransient
	}
	if changed("compaction-ratio") {
		c.CompactionRatio = flags.CompactionRatio
	}
	if changed("memory-limit") {
		c.MemoryLimit = flags.MemoryLimit
	}
}

func (c *simConfig) validate() error {
	if c.Frames <= 0 {
		return errors.Newf("frames must be positive, got %d", c.Frames)
	}
	if c.BuildsPerFrame < 0 {
		return errors.Newf("builds_per_frame must not be negative, got %d", c.BuildsPerFrame)
	}
	if c.MaxPrimitives <= 0 {
		return errors.Newf("max_primitives must be positive, got %d", c.MaxPrimitives)
	}
	if c.CompactionPercent < 0 || c.CompactionPercent > 100 {
		return errors.Newf("compaction_percent must be between 0 and 100, got %d", c.CompactionPercent)
	}
	if c.RemovePercent < 0 || c.RemovePercent > 100 {
		return errors.Newf("remove_percent must be between 0 and 100, got %d", c.RemovePercent)
	}
	if c.CompactionRatio < 0 || c.CompactionRatio > 1 {
		return errors.Newf("compaction_ratio must be between 0 and 1, got %g", c.CompactionRatio)
	}

	return nil
}

func (c *simConfig) deviceOptions() simulated.Options {
	return simulated.Options{
		MemoryLimit:     c.MemoryLimit,
		CompactionRatio: c.CompactionRatio,
	}
}

func (c *simConfig) pipelineOptions() compaction.Options {
	return compaction.Options{
		CommandListLatency:           c.Latency,
		SuballocatorBlockSize:        c.BlockSize,
		SizeQueryBlockSize:           c.SizeQueryBlockSize,
		MaxTransientCompactionMemory: c.MaxTransient,
		Flags:                        compaction.CreateExternallySynchronized,
	}
}
