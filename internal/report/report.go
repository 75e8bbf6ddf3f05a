// Package report persists and renders checkpoint snapshots.
package report

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/JakeFAU/buildingbit-scraper/internal/output"
	"github.com/JakeFAU/buildingbit-scraper/internal/state"
)

// maxMessageWidth truncates long error messages in the terminal view.
const maxMessageWidth = 80

var statusColumns = []state.Status{state.Complete, state.Failed, state.NotFound, state.InProgress}

// Write stores r as indented JSON at path.
func Write(path string, r state.Report) error {
	return output.WriteJSON(path, r)
}

// Render prints the report as tables. now anchors relative times.
func Render(w io.Writer, r state.Report, now time.Time) {
	runID := r.RunID
	if runID == "" {
		runID = "-"
	}
	current := r.Phase
	if current == "" {
		current = "-"
	}
	fmt.Fprintf(w, "Run %s, last phase %s\n", runID, current)
	fmt.Fprintf(w, "Started %s, last checkpoint %s\n", relative(r.StartedAt, now), relative(r.LastCheckpoint, now))

	stats := newTable(w)
	stats.SetTitle("Summary")
	stats.AppendHeader(table.Row{"Counter", "Value"})
	names := make([]string, 0, len(r.Stats))
	for name := range r.Stats {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		stats.AppendRow(table.Row{name, humanize.Comma(int64(r.Stats[name]))})
	}
	stats.AppendFooter(table.Row{"errors", humanize.Comma(int64(r.TotalErrors))})
	stats.Render()

	completion := newTable(w)
	completion.SetTitle("Completion by asset")
	header := table.Row{"Asset"}
	for _, s := range statusColumns {
		header = append(header, string(s))
	}
	completion.AppendHeader(header)
	for _, row := range CompletionRows(r.Builds) {
		completion.AppendRow(row)
	}
	completion.Render()

	if len(r.RecentErrors) == 0 {
		fmt.Fprintln(w, "No errors recorded.")
		return
	}
	errs := newTable(w)
	errs.SetTitle(fmt.Sprintf("Recent errors (%d of %d)", len(r.RecentErrors), r.TotalErrors))
	errs.AppendHeader(table.Row{"When", "Identifier", "Asset", "Error"})
	for _, e := range r.RecentErrors {
		errs.AppendRow(table.Row{relative(e.Timestamp, now), e.Identifier, e.AssetType, truncate(e.Message, maxMessageWidth)})
	}
	errs.Render()
}

// CompletionRows counts statuses per asset type, sorted by asset.
func CompletionRows(builds map[string]map[string]state.Status) []table.Row {
	counts := make(map[string]map[state.Status]int)
	for _, assets := range builds {
		for asset, status := range assets {
			if counts[asset] == nil {
				counts[asset] = make(map[state.Status]int)
			}
			counts[asset][status]++
		}
	}
	assets := make([]string, 0, len(counts))
	for asset := range counts {
		assets = append(assets, asset)
	}
	sort.Strings(assets)

	rows := make([]table.Row, 0, len(assets))
	for _, asset := range assets {
		row := table.Row{asset}
		for _, s := range statusColumns {
			row = append(row, counts[asset][s])
		}
		rows = append(rows, row)
	}
	return rows
}

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(w)
	return t
}

func relative(t, now time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return humanize.RelTime(t, now, "ago", "from now")
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-3]) + "..."
}
