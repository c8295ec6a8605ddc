package compaction

import "github.com/vkngwrapper/arsenal/ascompact/memutils"

// Statistics is a snapshot of a Pipeline's records and memory
type Statistics struct {
	// FrameIndex is the pipeline's current frame index
	FrameIndex uint64
	// Records is the number of tracked records in each State
	Records [stateCount]int

	// CompactedBytes is the size of the compacted memory of every StateCompleted record
	CompactedBytes uint64
	// UncompactedBytes is the size of the result memory of every record not yet compacted
	UncompactedBytes uint64
	// TransientBytes is the transient compaction memory currently charged against the budget
	TransientBytes uint64

	// CompactionsCompleted is the cumulative number of compactions that have completed
	CompactionsCompleted int
	// BytesSaved is the cumulative number of result bytes freed by completed compactions, minus the
	// compacted memory that replaced them
	BytesSaved uint64
	// Deferrals is the cumulative number of times a ready compaction was deferred for lack of budget
	Deferrals int
	// Demotions is the cumulative number of compaction-requested records that were left uncompacted
	Demotions int

	// Pools sums the statistics of every suballocation pool
	Pools memutils.Statistics
}

// RecordsIn returns the number of tracked records in the provided state
func (s Statistics) RecordsIn(state State) int {
	if state < 0 || state >= stateCount {
		return 0
	}

	return s.Records[state]
}

// InFlight returns the number of records waiting on the pipeline: built, pending compaction, ready
// for compaction or pending completion
func (s Statistics) InFlight() int {
	return s.Records[StateBuilt] +
		s.Records[StatePendingCompaction] +
		s.Records[StateReadyForCompaction] +
		s.Records[StatePendingCompletion]
}
