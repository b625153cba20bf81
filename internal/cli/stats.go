package cli

import (
	"fmt"
	"io"
	"sort"

	"github.com/projecthub/hubchat/internal/metrics"
)

// printStats displays client runtime statistics.
func printStats(w io.Writer, snap metrics.Snapshot) {
	fmt.Fprintf(w, "\nClient Statistics (this run)\n")
	fmt.Fprintf(w, "═══════════════════════════════════════\n")
	fmt.Fprintf(w, "Uptime: %.1f seconds\n", snap.UptimeSeconds)

	if len(snap.Operations) > 0 {
		fmt.Fprintf(w, "\nRequests:\n")
		for _, op := range snap.Operations {
			printOpStats(w, op)
		}
	}

	if len(snap.Counters) > 0 {
		fmt.Fprintf(w, "\nRealtime:\n")
		names := make([]string, 0, len(snap.Counters))
		for name := range snap.Counters {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(w, "  %-16s %d\n", name, snap.Counters[name])
		}
	}
}

// printOpStats displays timing statistics for an operation.
func printOpStats(w io.Writer, op metrics.OperationSnapshot) {
	fmt.Fprintf(w, "  %s\n", op.Name)
	fmt.Fprintf(w, "    Calls: %d (%d failed), Total: %dms\n", op.Count, op.Failures, op.TotalTimeMs)
	fmt.Fprintf(w, "    Time: avg %.1fms, min %dms, max %dms\n",
		op.AvgTimeMs, op.MinTimeMs, op.MaxTimeMs)
}
