package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/vkngwrapper/arsenal/ascompact/compaction"
	"github.com/vkngwrapper/arsenal/ascompact/memutils"
	"github.com/vkngwrapper/arsenal/ascompact/suballoc"
)

func printPoolTable(out io.Writer, pipeline *compaction.Pipeline) {
	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"Pool", "Blocks", "Resident", "Allocations", "Allocated", "Free List", "Alignment Savings"})
	table.SetAlignment(tablewriter.ALIGN_RIGHT)

	pools := pipeline.Pools()
	for _, role := range suballoc.Roles {
		pool := pools.Pool(role)

		var stats memutils.Statistics
		pool.AddStatistics(&stats)

		table.Append([]string{
			role.String(),
			strconv.Itoa(stats.BlockCount),
			strconv.FormatUint(stats.BlockBytes, 10),
			strconv.Itoa(stats.AllocationCount),
			strconv.FormatUint(stats.AllocationBytes, 10),
			strconv.FormatUint(pool.FreeListBytes(), 10),
			strconv.FormatUint(pool.AlignmentSavings(), 10),
		})
	}

	var total memutils.Statistics
	pools.AddStatistics(&total)
	table.SetFooter([]string{
		"Total",
		strconv.Itoa(total.BlockCount),
		strconv.FormatUint(total.BlockBytes, 10),
		strconv.Itoa(total.AllocationCount),
		strconv.FormatUint(total.AllocationBytes, 10),
		strconv.FormatUint(pools.FreeListBytes(), 10),
		strconv.FormatUint(pools.AlignmentSavings(), 10),
	})

	table.Render()
}

func printStatistics(out io.Writer, stats compaction.Statistics) {
	fmt.Fprintf(out, "frames: %d\n", stats.FrameIndex)
	fmt.Fprintf(out, "compactions: %d completed, %d bytes saved, %d deferrals, %d left uncompacted\n",
		stats.CompactionsCompleted, stats.BytesSaved, stats.Deferrals, stats.Demotions)
	fmt.Fprintf(out, "structures: %d compacted (%d bytes), %d uncompacted (%d bytes), %d in flight\n",
		stats.RecordsIn(compaction.StateCompleted), stats.CompactedBytes,
		stats.RecordsIn(compaction.StateUncompacted), stats.UncompactedBytes,
		stats.InFlight())
}
