package main

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/robalyx/rewind/internal/action"
	"github.com/robalyx/rewind/internal/command"
	"github.com/robalyx/rewind/internal/modification"
	"github.com/robalyx/rewind/internal/purge"
	"github.com/robalyx/rewind/pkg/utils"
)

func printLookup(w io.Writer, result *command.LookupResult, now time.Time) {
	if len(result.DefaultsUsed) > 0 {
		fmt.Fprintf(w, "Defaults used: %v\n", result.DefaultsUsed)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, g := range result.Results {
		ago := utils.FormatShortDuration(now.Sub(time.Unix(g.Timestamp, 0)))
		block := g.Location.Block()

		descriptor := ""
		if g.Action != nil {
			descriptor = g.Action.Type().Key + " " + g.Action.Descriptor()
		}

		reversed := ""
		if g.Reversed {
			reversed = "(reversed)"
		}

		fmt.Fprintf(tw, "%s ago\t%s\t%s\tx%d\t%s %d %d %d\t%s\n",
			ago, g.Cause, descriptor, g.Count,
			g.Location.WorldName, int(block.X), int(block.Y), int(block.Z), reversed)
	}
	tw.Flush()

	if result.HasMore {
		fmt.Fprintf(w, "Page %d. More results with --page %d\n", result.Page, result.Page+1)
	}
}

func printModification(w io.Writer, result *modification.Result) {
	fmt.Fprintf(w, "%s (%s): %d applied, %d planned, %d skipped\n",
		result.Kind, result.Mode, result.Applied, result.Planned, result.Skipped)

	if result.DrainedLava > 0 || result.RemovedDrops > 0 || result.MovedEntities > 0 {
		fmt.Fprintf(w, "Drained %d lava, removed %d drops, moved %d entities\n",
			result.DrainedLava, result.RemovedDrops, result.MovedEntities)
	}

	reasons := make(map[string]int)
	for _, entry := range result.Entries {
		if entry.Result.Status == action.StatusSkipped {
			reasons[entry.Result.Reason]++
		}
	}

	for _, reason := range slices.Sorted(maps.Keys(reasons)) {
		fmt.Fprintf(w, "  skipped %d: %s\n", reasons[reason], reason)
	}
}

func printPurge(w io.Writer, summary *purge.Summary) {
	state := "complete"
	if !summary.Complete {
		state = "incomplete"
	}

	fmt.Fprintf(w, "Purge %s: %d activities deleted in %d cycles\n", state, summary.Deleted, summary.Cycles)
}
