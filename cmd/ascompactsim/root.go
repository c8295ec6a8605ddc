package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	flagConfig = defaultConfig()

	verbose bool
	quiet   bool
	jsonOut bool
	check   bool
)

var rootCmd = &cobra.Command{
	Use:   "ascompactsim",
	Short: "Drive the acceleration structure compaction pipeline against a simulated device",
	Long: `ascompactsim records random acceleration structure builds and removals for a number of
frames, executing every frame's commands on a simulated device. It prints the pipeline's
per-frame log, then a summary of each suballocation pool.

Example:
  ascompactsim --frames 300 --builds-per-frame 8
  ascompactsim --config soak.toml --max-transient 1048576 --json`,
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		config, err := loadConfig(configPath)
		if err != nil {
			return err
		}
		config.override(cmd, flagConfig)

		err = config.validate()
		if err != nil {
			return err
		}

		return runSimulation(newLogger(), config, runOptions{
			out:      cmd.OutOrStdout(),
			frameLog: !quiet,
			json:     jsonOut,
			validate: check,
		})
	},
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVarP(&configPath, "config", "c", "", "TOML file to load the configuration from")

	flags.IntVar(&flagConfig.Frames, "frames", flagConfig.Frames, "Number of frames to simulate")
	flags.IntVar(&flagConfig.BuildsPerFrame, "builds-per-frame", flagConfig.BuildsPerFrame, "Maximum number of builds recorded each frame")
	flags.IntVar(&flagConfig.MaxPrimitives, "max-primitives", flagConfig.MaxPrimitives, "Maximum primitive count of a single build")
	flags.Int64Var(&flagConfig.Seed, "seed", flagConfig.Seed, "Random seed")
	flags.IntVar(&flagConfig.CompactionPercent, "compaction-percent", flagConfig.CompactionPercent, "Chance that a build allows compaction")
	flags.IntVar(&flagConfig.RemovePercent, "remove-percent", flagConfig.RemovePercent, "Chance each frame that a live acceleration structure is removed")
	flags.Uint64Var(&flagConfig.Latency, "latency", flagConfig.Latency, "Command list latency in frames")
	flags.Uint32Var(&flagConfig.BlockSize, "block-size", flagConfig.BlockSize, "Block size of the scratch, result and compacted pools")
	flags.Uint32Var(&flagConfig.SizeQueryBlockSize, "size-query-block-size", flagConfig.SizeQueryBlockSize, "Block size of the compacted size pools")
	flags.Uint64Var(&flagConfig.MaxTransient, "max-transient", flagConfig.MaxTransient, "Transient compaction memory budget in bytes")
	flags.Float64Var(&flagConfig.CompactionRatio, "compaction-ratio", flagConfig.CompactionRatio, "Compacted size of a structure as a fraction of its result size")
	flags.IntVar(&flagConfig.MemoryLimit, "memory-limit", flagConfig.MemoryLimit, "Simulated device memory limit in bytes, 0 for none")

	flags.BoolVarP(&verbose, "verbose", "v", false, "Write debug logs to stderr")
	flags.BoolVarP(&quiet, "quiet", "q", false, "Do not print the per-frame log")
	flags.BoolVar(&jsonOut, "json", false, "Print the final detailed memory map as JSON")
	flags.BoolVar(&check, "validate", false, "Validate the pipeline after every frame")
}

func newLogger() *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	execute()
}
