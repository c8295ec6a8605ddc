package compaction

import "github.com/vkngwrapper/core/v2/common"

// CreateFlags exposes options for pipeline behavior that can be applied at creation time
type CreateFlags int32

var createFlagsMapping = common.NewFlagStringMapping[CreateFlags]()

func (f CreateFlags) Register(str string) {
	createFlagsMapping.Register(f, str)
}
func (f CreateFlags) String() string {
	return createFlagsMapping.FlagsToString(f)
}

const (
	// CreateExternallySynchronized indicates that the Pipeline will only be driven from one goroutine
	// at a time, or that the consumer is synchronizing it. Internal locking is skipped.
	CreateExternallySynchronized CreateFlags = 1 << iota
)

func init() {
	CreateExternallySynchronized.Register("CreateExternallySynchronized")
}
