package suballoc

import (
	"fmt"
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/arsenal/ascompact/gpu"
	"github.com/vkngwrapper/arsenal/ascompact/memutils"
	"github.com/vkngwrapper/core/v2/core1_0"
)

// Role identifies which of the five pools of a PoolSet a range belongs to
type Role int32

const (
	// RoleScratch holds build scratch memory
	RoleScratch Role = iota
	// RoleResult holds uncompacted build results
	RoleResult
	// RoleCompacted holds compacted acceleration structures
	RoleCompacted
	// RoleCompactedSizeDevice holds the compacted size the device writes after a build
	RoleCompactedSizeDevice
	// RoleCompactedSizeHost holds the host-readable mirror of RoleCompactedSizeDevice
	RoleCompactedSizeHost

	roleCount
)

// Roles lists every Role in the order a PoolSet creates its pools
var Roles = []Role{
	RoleScratch,
	RoleResult,
	RoleCompacted,
	RoleCompactedSizeDevice,
	RoleCompactedSizeHost,
}

var roleMapping = map[Role]string{
	RoleScratch:             "Scratch",
	RoleResult:              "Result",
	RoleCompacted:           "Compacted",
	RoleCompactedSizeDevice: "CompactedSizeDevice",
	RoleCompactedSizeHost:   "CompactedSizeHost",
}

func (r Role) String() string {
	str, ok := roleMapping[r]
	if !ok {
		return "unknown Role"
	}

	return str
}

type roleConfig struct {
	usage     core1_0.BufferUsageFlags
	residency core1_0.MemoryPropertyFlags
	sizeQuery bool
}

var roleConfigs = map[Role]roleConfig{
	RoleScratch: {
		usage:     core1_0.BufferUsageStorageBuffer | gpu.BufferUsageShaderDeviceAddress,
		residency: gpu.ResidencyDeviceLocal,
	},
	RoleResult: {
		usage:     gpu.BufferUsageAccelerationStructureStorage | gpu.BufferUsageShaderDeviceAddress,
		residency: gpu.ResidencyDeviceLocal,
	},
	RoleCompacted: {
		usage:     gpu.BufferUsageAccelerationStructureStorage | gpu.BufferUsageShaderDeviceAddress,
		residency: gpu.ResidencyDeviceLocal,
	},
	RoleCompactedSizeDevice: {
		usage:     core1_0.BufferUsageStorageBuffer | core1_0.BufferUsageTransferSrc | gpu.BufferUsageShaderDeviceAddress,
		residency: gpu.ResidencyDeviceLocal,
		sizeQuery: true,
	},
	RoleCompactedSizeHost: {
		usage:     core1_0.BufferUsageTransferDst,
		residency: gpu.ResidencyReadback,
		sizeQuery: true,
	},
}

// PoolSetCreateInfo configures a PoolSet
type PoolSetCreateInfo struct {
	// BlockSize is the default block size of the scratch, result and compacted pools. If left 0,
	// DefaultBlockSize is used.
	BlockSize uint32
	// SizeQueryBlockSize is the default block size of the two compacted-size pools. If left 0, BlockSize
	// is used.
	SizeQueryBlockSize uint32
	// PlacementAlignment is passed through to every pool's CreateInfo
	PlacementAlignment uint32
	Flags              CreateFlags
}

// PoolSet is the five BlockSuballocator instances used for acceleration structure builds, one per Role.
// Each pool has its own residency class and usage flags, so ranges of different roles never share a
// backing buffer.
type PoolSet struct {
	logger *slog.Logger
	pools  [roleCount]*BlockSuballocator
}

// NewPoolSet creates all five pools
func NewPoolSet(logger *slog.Logger, device gpu.Device, info PoolSetCreateInfo) (*PoolSet, error) {
	blockSize := info.BlockSize
	if blockSize == 0 {
		blockSize = DefaultBlockSize
	}
	sizeQueryBlockSize := info.SizeQueryBlockSize
	if sizeQueryBlockSize == 0 {
		sizeQueryBlockSize = blockSize
	}

	set := &PoolSet{logger: logger}
	for _, role := range Roles {
		config := roleConfigs[role]

		createInfo := CreateInfo{
			Name:               role.String(),
			Usage:              config.usage,
			Residency:          config.residency,
			BlockSize:          blockSize,
			PlacementAlignment: info.PlacementAlignment,
			Flags:              info.Flags,
		}
		if config.sizeQuery {
			createInfo.BlockSize = sizeQueryBlockSize
		}

		pool, err := New(logger, device, createInfo)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to create %s pool", role)
		}
		set.pools[role] = pool
	}

	return set, nil
}

// Pool returns the suballocator for a role
func (p *PoolSet) Pool(role Role) *BlockSuballocator {
	if role < 0 || role >= roleCount {
		panic(fmt.Sprintf("unknown pool role %d", role))
	}

	return p.pools[role]
}

// Allocate creates a suballocation in the pool for role
func (p *PoolSet) Allocate(role Role, size uint32, alignment uint32) (Suballocation, error) {
	return p.Pool(role).CreateSubAllocation(size, alignment)
}

// Free returns a suballocation to the pool for role. Freeing an invalid handle is a no-op, so each of a
// record's ranges can be released without tracking which ones were ever allocated.
func (p *PoolSet) Free(role Role, suballocation *Suballocation) error {
	if suballocation == nil || !suballocation.IsValid() {
		return nil
	}

	return p.Pool(role).FreeSubAllocation(suballocation)
}

// ResidentBytes returns the total size of every backing buffer in every pool
func (p *PoolSet) ResidentBytes() uint64 {
	var total uint64
	for _, pool := range p.pools {
		total += pool.ResidentBytes()
	}

	return total
}

// FreeListBytes returns the total number of bytes waiting in every pool's free lists
func (p *PoolSet) FreeListBytes() uint64 {
	var total uint64
	for _, pool := range p.pools {
		total += pool.FreeListBytes()
	}

	return total
}

// AlignmentSavings returns the sum of every pool's AlignmentSavings
func (p *PoolSet) AlignmentSavings() uint64 {
	var total uint64
	for _, pool := range p.pools {
		total += pool.AlignmentSavings()
	}

	return total
}

// BlockCount returns the number of backing buffers alive across every pool
func (p *PoolSet) BlockCount() int {
	count := 0
	for _, pool := range p.pools {
		count += pool.BlockCount()
	}

	return count
}

// AddStatistics sums the statistics of every pool into the provided memutils.Statistics object
func (p *PoolSet) AddStatistics(stats *memutils.Statistics) {
	for _, pool := range p.pools {
		pool.AddStatistics(stats)
	}
}

// PrintDetailedMap writes a json object with one entry per pool to the provided writer
func (p *PoolSet) PrintDetailedMap(writer *jwriter.Writer) {
	objState := writer.Object()
	defer objState.End()

	p.PoolsJsonData(objState)
}

// PoolsJsonData populates a json object with one entry per pool
func (p *PoolSet) PoolsJsonData(json jwriter.ObjectState) {
	for _, role := range Roles {
		poolObj := json.Name(role.String()).Object()
		p.pools[role].PoolJsonData(poolObj)
		poolObj.End()
	}
}

// Validate performs internal consistency checks on every pool
func (p *PoolSet) Validate() error {
	for _, role := range Roles {
		err := p.pools[role].Validate()
		if err != nil {
			return err
		}
	}

	return nil
}

// Destroy destroys every pool. Every pool is attempted even if one fails, and all failures are returned.
func (p *PoolSet) Destroy() error {
	p.logger.Debug("PoolSet::Destroy")

	var err error
	for _, role := range Roles {
		err = errors.CombineErrors(err, p.pools[role].Destroy())
	}

	return err
}
