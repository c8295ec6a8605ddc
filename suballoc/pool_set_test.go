package suballoc_test

import (
	"encoding/json"
	"testing"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/arsenal/ascompact/gpu/simulated"
	"github.com/vkngwrapper/arsenal/ascompact/memutils"
	"github.com/vkngwrapper/arsenal/ascompact/suballoc"
)

func TestPoolSetRouting(t *testing.T) {
	device := simulated.New(simulated.Options{})
	pools, err := suballoc.NewPoolSet(newLogger(), device, suballoc.PoolSetCreateInfo{
		BlockSize:          4096,
		SizeQueryBlockSize: 256,
	})
	require.NoError(t, err)

	require.Equal(t, uint32(4096), pools.Pool(suballoc.RoleScratch).BlockSize())
	require.Equal(t, uint32(4096), pools.Pool(suballoc.RoleCompacted).BlockSize())
	require.Equal(t, uint32(256), pools.Pool(suballoc.RoleCompactedSizeDevice).BlockSize())
	require.Equal(t, uint32(256), pools.Pool(suballoc.RoleCompactedSizeHost).BlockSize())
	require.Equal(t, "CompactedSizeHost", pools.Pool(suballoc.RoleCompactedSizeHost).Name())

	allocs := make([]suballoc.Suballocation, len(suballoc.Roles))
	for index, role := range suballoc.Roles {
		allocs[index], err = pools.Allocate(role, 8, 8)
		require.NoError(t, err)
	}

	// Every role has its own backing buffer
	require.Equal(t, 5, pools.BlockCount())
	require.Equal(t, 5, device.LiveBuffers())
	require.Equal(t, uint64(3*4096+2*256), pools.ResidentBytes())

	var stats memutils.Statistics
	pools.AddStatistics(&stats)
	require.Equal(t, 5, stats.AllocationCount)
	require.Equal(t, uint64(40), stats.AllocationBytes)
	require.NoError(t, pools.Validate())

	for index, role := range suballoc.Roles {
		require.NoError(t, pools.Free(role, &allocs[index]))
	}

	// Invalid handles are ignored
	require.NoError(t, pools.Free(suballoc.RoleScratch, &allocs[0]))
	require.NoError(t, pools.Free(suballoc.RoleScratch, nil))

	require.NoError(t, pools.Destroy())
	require.Equal(t, 0, device.LiveBuffers())
}

func TestPoolSetDetailedMap(t *testing.T) {
	device := simulated.New(simulated.Options{})
	pools, err := suballoc.NewPoolSet(newLogger(), device, suballoc.PoolSetCreateInfo{BlockSize: 1024})
	require.NoError(t, err)

	alloc, err := pools.Allocate(suballoc.RoleResult, 300, 256)
	require.NoError(t, err)

	writer := jwriter.NewWriter()
	pools.PrintDetailedMap(&writer)
	require.NoError(t, writer.Error())

	var parsed map[string]struct {
		Name      string
		BlockSize int
		Blocks    map[string]struct {
			TotalBytes     int
			Suballocations []struct {
				Offset int
				Size   int
			}
		}
	}
	require.NoError(t, json.Unmarshal(writer.Bytes(), &parsed))
	require.Len(t, parsed, 5)
	require.Equal(t, "Result", parsed["Result"].Name)
	require.Equal(t, 1024, parsed["Result"].Blocks["1"].TotalBytes)
	require.Equal(t, 512, parsed["Result"].Blocks["1"].Suballocations[0].Size)
	require.Empty(t, parsed["Scratch"].Blocks)

	require.Error(t, pools.Destroy())
	require.NoError(t, pools.Free(suballoc.RoleResult, &alloc))
	require.NoError(t, pools.Destroy())
}
