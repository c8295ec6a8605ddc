package main

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func testConfig() simConfig {
	config := defaultConfig()
	config.Frames = 40
	config.BuildsPerFrame = 3
	config.MaxPrimitives = 500
	config.RemovePercent = 10
	config.MaxTransient = 64 * 1024
	return config
}

func TestRunSimulation(t *testing.T) {
	var out bytes.Buffer
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	err := runSimulation(logger, testConfig(), runOptions{out: &out, frameLog: true, validate: true})
	require.NoError(t, err)

	output := out.String()
	require.Contains(t, output, "frame 1\n")
	require.Contains(t, output, "frame 40\n")
	require.Contains(t, output, "ALIGNMENT SAVINGS")
	require.Contains(t, output, "CompactedSizeHost")
	require.Contains(t, output, "frames: 40\n")
}

func TestRunSimulationQuietJSON(t *testing.T) {
	var out bytes.Buffer
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	err := runSimulation(logger, testConfig(), runOptions{out: &out, json: true})
	require.NoError(t, err)

	output := out.String()
	require.NotContains(t, output, "frame 1\n")

	// The JSON map is the last line of output
	lines := strings.Split(strings.TrimSpace(output), "\n")
	var parsed struct {
		FrameIndex int
		Pools      map[string]json.RawMessage
	}
	require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &parsed))
	require.Equal(t, 40, parsed.FrameIndex)
	require.Len(t, parsed.Pools, 5)
}

func TestRunSimulationDeterministic(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	var first, second bytes.Buffer
	require.NoError(t, runSimulation(logger, testConfig(), runOptions{out: &first, frameLog: true}))
	require.NoError(t, runSimulation(logger, testConfig(), runOptions{out: &second, frameLog: true}))
	require.Equal(t, first.String(), second.String())
}

func TestRunSimulationMemoryLimit(t *testing.T) {
	config := testConfig()
	config.MemoryLimit = 64 * 1024

	err := runSimulation(slog.New(slog.NewTextHandler(io.Discard, nil)), config, runOptions{out: io.Discard})
	require.Error(t, err)
}
