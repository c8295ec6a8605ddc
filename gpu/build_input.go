package gpu

import "github.com/vkngwrapper/core/v2/common"

// BuildFlags control how an acceleration structure is built. Their values match the Vulkan
// build acceleration structure flag bits.
type BuildFlags int32

var buildFlagsMapping = common.NewFlagStringMapping[BuildFlags]()

func (f BuildFlags) Register(str string) {
	buildFlagsMapping.Register(f, str)
}
func (f BuildFlags) String() string {
	return buildFlagsMapping.FlagsToString(f)
}

const (
	// BuildAllowUpdate allows the acceleration structure to be the source of an update build
	BuildAllowUpdate BuildFlags = 1 << iota
	// BuildAllowCompaction allows the acceleration structure to be compacted once its compacted size
	// is known. Only builds with this flag are ever compacted.
	BuildAllowCompaction
	// BuildPreferFastTrace asks the device to favor trace performance over build time
	BuildPreferFastTrace
	// BuildPreferFastBuild asks the device to favor build time over trace performance
	BuildPreferFastBuild
	// BuildLowMemory asks the device to minimize scratch and result memory at the expense of time
	BuildLowMemory
)

func init() {
	BuildAllowUpdate.Register("BuildAllowUpdate")
	BuildAllowCompaction.Register("BuildAllowCompaction")
	BuildPreferFastTrace.Register("BuildPreferFastTrace")
	BuildPreferFastBuild.Register("BuildPreferFastBuild")
	BuildLowMemory.Register("BuildLowMemory")
}

// AccelerationStructureType distinguishes geometry-level structures from instance-level structures
type AccelerationStructureType int32

const (
	AccelerationStructureTypeTopLevel AccelerationStructureType = iota
	AccelerationStructureTypeBottomLevel
)

var accelerationStructureTypeMapping = map[AccelerationStructureType]string{
	AccelerationStructureTypeTopLevel:    "AccelerationStructureTypeTopLevel",
	AccelerationStructureTypeBottomLevel: "AccelerationStructureTypeBottomLevel",
}

func (t AccelerationStructureType) String() string {
	str, ok := accelerationStructureTypeMapping[t]
	if !ok {
		return "unknown AccelerationStructureType"
	}

	return str
}

// GeometryType identifies what a Geometry holds
type GeometryType int32

const (
	GeometryTypeTriangles GeometryType = iota
	GeometryTypeAABBs
	GeometryTypeInstances
)

var geometryTypeMapping = map[GeometryType]string{
	GeometryTypeTriangles: "GeometryTypeTriangles",
	GeometryTypeAABBs:     "GeometryTypeAABBs",
	GeometryTypeInstances: "GeometryTypeInstances",
}

func (t GeometryType) String() string {
	str, ok := geometryTypeMapping[t]
	if !ok {
		return "unknown GeometryType"
	}

	return str
}

// Geometry is one geometry entry of a build. The data addresses are opaque to this module and are
// only passed through to the device.
type Geometry struct {
	Type GeometryType
	// PrimitiveCount is the number of triangles, boxes or instances
	PrimitiveCount int
	// VertexCount is the number of vertices referenced by a triangle geometry
	VertexCount int
	// DataAddress is the device address of the vertex, AABB or instance data
	DataAddress uint64
	// IndexAddress is the device address of the index data, or 0 for non-indexed triangles
	IndexAddress uint64
	// Opaque marks the geometry as never invoking any-hit shaders
	Opaque bool
}

// BuildInput describes one acceleration structure build
type BuildInput struct {
	Type       AccelerationStructureType
	Flags      BuildFlags
	Geometries []Geometry
	// Name is a debug name for the acceleration structure, and may be empty
	Name string
}

// AllowsCompaction returns true if the build was requested with BuildAllowCompaction
func (i BuildInput) AllowsCompaction() bool {
	return i.Flags&BuildAllowCompaction != 0
}

// PrimitiveCount returns the sum of the primitive counts of every geometry in the build
func (i BuildInput) PrimitiveCount() int {
	count := 0
	for _, geometry := range i.Geometries {
		count += geometry.PrimitiveCount
	}

	return count
}
