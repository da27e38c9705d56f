package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"ecoetl/internal/etl"
	"ecoetl/internal/etlerr"
)

var (
	green  = lipgloss.Color("#00CC66")
	red    = lipgloss.Color("#FF3B30")
	yellow = lipgloss.Color("#FFB000")
	muted  = lipgloss.Color("#666666")

	headerStyle = lipgloss.NewStyle().Bold(true)
	labelStyle  = lipgloss.NewStyle().Foreground(muted).Width(16)
	okStyle     = lipgloss.NewStyle().Foreground(green).Bold(true)
	failStyle   = lipgloss.NewStyle().Foreground(red).Bold(true)
	warnStyle   = lipgloss.NewStyle().Foreground(yellow).Bold(true)
	boxStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(muted).Padding(0, 1)
)

// renderSummary formats the end-of-run report.
func renderSummary(res etl.Result, dryRun bool) string {
	o := res.Outcome
	state := okStyle.Render(res.State.String())
	switch {
	case res.State == etl.Failed:
		state = failStyle.Render(res.State.String())
	case o.Load.Failed > 0 || o.Load.Canceled:
		state = warnStyle.Render(res.State.String())
	}

	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("%s  %s", res.Job, res.ID)) + "\n")
	row := func(k string, v any) {
		b.WriteString(labelStyle.Render(k) + fmt.Sprint(v) + "\n")
	}
	row("state", state)
	if dryRun {
		row("mode", "dry run")
	}
	row("elapsed", res.Finished.Sub(res.Started).Truncate(time.Millisecond))
	row("extracted", o.Extracted)
	row("skipped", o.Skipped)
	row("filtered", o.Filtered)
	if o.Deduplicated > 0 {
		row("deduplicated", o.Deduplicated)
	}
	if o.Replaced {
		row("replaced", "table emptied before load")
	}
	row("batches", fmt.Sprintf("%d (%d failed)", o.Load.Batches, o.Load.Failed))
	row("persisted", o.Load.Persisted)
	if o.Load.NotDispatched > 0 {
		row("not dispatched", o.Load.NotDispatched)
	}
	for _, f := range o.Load.Failures {
		row(fmt.Sprintf("batch %d", f.Index), failStyle.Render(f.Kind.String())+" "+f.Err.Error())
	}
	if res.Err != nil {
		row("error", failStyle.Render(etlerr.KindOf(res.Err).String())+" "+res.Err.Error())
	}
	return boxStyle.Render(strings.TrimRight(b.String(), "\n"))
}
