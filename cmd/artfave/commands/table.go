package commands

import (
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/project-AI39/artfave/internal/cache"
)

// printTable writes rows under headers in the plain borderless style.
func printTable(w io.Writer, headers []string, rows [][]string) {
	table := tablewriter.NewWriter(w)
	table.SetHeader(headers)

	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)

	table.AppendBulk(rows)
	table.Render()
}

// printResidents lists resident entries nearest first.
func printResidents(w io.Writer, residents []cache.Resident[string], since time.Time) {
	rows := make([][]string, 0, len(residents))
	for _, r := range residents {
		rows = append(rows, []string{
			filepath.Base(r.Key),
			strconv.Itoa(r.Priority),
			"+" + r.LoadedAt.Sub(since).Round(time.Millisecond).String(),
		})
	}
	printTable(w, []string{"Image", "Distance", "Loaded"}, rows)
}

// printReport prints the one-line batch summary.
func printReport(w io.Writer, r cache.PreloadReport) {
	fmt.Fprintf(w, "batch %d at %d: %s  window=%d resident=%d fetched=%d failed=%d timed_out=%d abandoned=%d stale=%d evicted=%d (%s)\n",
		r.Generation, r.Position, r.Result, r.Window, r.AlreadyResident,
		r.Fetched, r.Failed, r.TimedOut, r.Abandoned, r.Stale, r.Evicted,
		r.Duration.Round(time.Millisecond))
}
