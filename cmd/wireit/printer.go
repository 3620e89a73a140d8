package main

import (
	"fmt"
	"io"
	"sort"

	"github.com/fatih/color"

	"github.com/google/wireit-go/internal/executor"
)

// printResult summarizes a run's per-script outcomes. Control-flow
// outcomes (start-cancelled, aborted) are suppressed from the per-line
// output, since they're downstream of a reported failure rather than
// failures in their own right, but are still counted in the trailer.
func printResult(w io.Writer, result *executor.Result) {
	if result == nil {
		return
	}
	keys := make([]string, 0, len(result.Scripts))
	for k := range result.Scripts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ok := color.New(color.FgGreen)
	fail := color.New(color.FgRed, color.Bold)
	suppressed := 0

	for _, k := range keys {
		r := result.Scripts[k]
		switch r.Status {
		case executor.Succeeded:
			label := "ran"
			switch r.Reason {
			case executor.ReasonFresh:
				label = "fresh"
			case executor.ReasonCacheHit:
				label = "cache hit"
			}
			fmt.Fprintf(w, "%s %s (%s)\n", ok.Sprint("✓"), r.Ref, label)
		case executor.Failed:
			fmt.Fprintf(w, "%s %s: %v\n", fail.Sprint("✗"), r.Ref, r.Err)
		default:
			suppressed++
		}
	}
	if suppressed > 0 {
		fmt.Fprintf(w, "(%d script(s) skipped as downstream of a failure or cancellation)\n", suppressed)
	}
}
