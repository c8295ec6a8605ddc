package compaction

// State is the stage of the compaction pipeline an ASBuffers record is in
type State int32

const (
	// StateBuilt records have had their build recorded, and are picked up by the next NextFrame
	StateBuilt State = iota
	// StatePendingCompaction records are waiting for their compacted size to become legible
	StatePendingCompaction
	// StateReadyForCompaction records know their compacted size and are waiting for transient budget
	StateReadyForCompaction
	// StatePendingCompletion records have had their compacting copy recorded and are waiting for it
	// to execute
	StatePendingCompletion
	// StateCompleted records live in compacted memory only
	StateCompleted
	// StateUncompacted records keep their result memory for as long as they live
	StateUncompacted
	// StatePendingRelease records have been removed and are waiting for the device to finish with them
	StatePendingRelease
	// StateReleased records have had all of their memory freed and are no longer tracked
	StateReleased

	stateCount
)

var stateMapping = map[State]string{
	StateBuilt:              "Built",
	StatePendingCompaction:  "PendingCompaction",
	StateReadyForCompaction: "ReadyForCompaction",
	StatePendingCompletion:  "PendingCompletion",
	StateCompleted:          "Completed",
	StateUncompacted:        "Uncompacted",
	StatePendingRelease:     "PendingRelease",
	StateReleased:           "Released",
}

func (s State) String() string {
	str, ok := stateMapping[s]
	if !ok {
		return "unknown State"
	}

	return str
}
