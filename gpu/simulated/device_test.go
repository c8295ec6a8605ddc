package simulated_test

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/arsenal/ascompact/gpu"
	"github.com/vkngwrapper/arsenal/ascompact/gpu/simulated"
	"github.com/vkngwrapper/core/v2/core1_0"
)

func triangles(count int) gpu.BuildInput {
	return gpu.BuildInput{
		Type:  gpu.AccelerationStructureTypeBottomLevel,
		Flags: gpu.BuildAllowCompaction,
		Geometries: []gpu.Geometry{
			{Type: gpu.GeometryTypeTriangles, PrimitiveCount: count, VertexCount: count * 3},
		},
	}
}

func createBuffer(t *testing.T, device *simulated.Device, size int, residency core1_0.MemoryPropertyFlags) gpu.Buffer {
	buffer, res, err := device.CreateBuffer(gpu.BufferCreateInfo{
		Size:      size,
		Usage:     gpu.BufferUsageShaderDeviceAddress,
		Residency: residency,
	})
	require.NoError(t, err)
	require.Equal(t, core1_0.VKSuccess, res)
	return buffer
}

func TestDeviceBuildAndQuery(t *testing.T) {
	device := simulated.New(simulated.Options{CompactionRatio: 0.25})

	input := triangles(100)
	info, err := device.AccelerationStructurePrebuildInfo(input)
	require.NoError(t, err)
	require.Equal(t, uint64(6656), info.ResultDataMaxSize)
	require.Equal(t, uint64(3328), info.ScratchDataSize)

	result := createBuffer(t, device, int(info.ResultDataMaxSize), gpu.ResidencyDeviceLocal)
	scratch := createBuffer(t, device, int(info.ScratchDataSize), gpu.ResidencyDeviceLocal)
	query := createBuffer(t, device, 8, gpu.ResidencyDeviceLocal)
	readback := createBuffer(t, device, 8, gpu.ResidencyReadback)

	list := device.NewCommandList()
	list.BuildAccelerationStructure(input, result.DeviceAddress(), scratch.DeviceAddress())
	list.EmitCompactedSize(result.DeviceAddress(), query.DeviceAddress())
	list.CopyBuffer(readback.DeviceAddress(), query.DeviceAddress(), 8)
	require.Equal(t, 3, list.Len())

	require.NoError(t, device.Submit(list))
	require.Equal(t, 0, list.Len())

	var data [8]byte
	_, err = readback.ReadAt(data[:], 0)
	require.NoError(t, err)
	require.Equal(t, uint64(1664), binary.LittleEndian.Uint64(data[:]))

	_, err = query.ReadAt(data[:], 0)
	require.Error(t, err)

	compacted := createBuffer(t, device, 1664, gpu.ResidencyDeviceLocal)
	list.CompactAccelerationStructure(compacted.DeviceAddress(), result.DeviceAddress())
	require.NoError(t, device.Submit(list))

	structure, ok := device.StructureAt(compacted.DeviceAddress())
	require.True(t, ok)
	require.True(t, structure.Compacted)
	require.Equal(t, uint64(1664), structure.Size)
	require.Equal(t, 100, structure.PrimitiveCount)
}

func TestDeviceRejectsOutOfBounds(t *testing.T) {
	device := simulated.New(simulated.Options{})

	input := triangles(100)
	result := createBuffer(t, device, 256, gpu.ResidencyDeviceLocal)
	scratch := createBuffer(t, device, 1<<16, gpu.ResidencyDeviceLocal)

	list := device.NewCommandList()
	list.BuildAccelerationStructure(input, result.DeviceAddress(), scratch.DeviceAddress())
	require.Error(t, device.Submit(list))

	list.CopyBuffer(scratch.DeviceAddress(), 0x10, 8)
	require.Error(t, device.Submit(list))
}

func TestDeviceStaleAddress(t *testing.T) {
	device := simulated.New(simulated.Options{})

	first := createBuffer(t, device, 64, gpu.ResidencyDeviceLocal)
	second := createBuffer(t, device, 64, gpu.ResidencyDeviceLocal)
	address := first.DeviceAddress()
	first.Destroy()

	third := createBuffer(t, device, 64, gpu.ResidencyDeviceLocal)
	require.NotEqual(t, address, third.DeviceAddress())

	list := device.NewCommandList()
	list.CopyBuffer(second.DeviceAddress(), address, 8)
	require.Error(t, device.Submit(list))
}

func TestDeviceMemoryLimit(t *testing.T) {
	device := simulated.New(simulated.Options{MemoryLimit: 1024})

	first := createBuffer(t, device, 1000, gpu.ResidencyDeviceLocal)
	require.Equal(t, 1, device.LiveBuffers())
	require.Equal(t, 1000, device.LiveBytes())

	_, res, err := device.CreateBuffer(gpu.BufferCreateInfo{Size: 100, Residency: gpu.ResidencyDeviceLocal})
	require.Error(t, err)
	require.Equal(t, core1_0.VKErrorOutOfDeviceMemory, res)

	first.Destroy()
	require.Equal(t, 0, device.LiveBuffers())
	require.Equal(t, 0, device.LiveBytes())
	require.Equal(t, 1, device.BuffersCreated())

	require.Panics(t, first.Destroy)
}
