package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/hupe1980/conclave/coordinator"
	"github.com/hupe1980/conclave/core"
)

const (
	formatJSON   = "json"
	formatPretty = "pretty"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#5B8DEF"))
	mutedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888888"))
	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#4CAF50"))
	errStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))
	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#444444")).
			Padding(0, 1)
)

func printResult(w io.Writer, format string, res *coordinator.Result) error {
	switch format {
	case formatJSON, "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	case formatPretty:
		_, err := fmt.Fprintln(w, renderPretty(res))
		return err
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func renderPretty(res *coordinator.Result) string {
	header := titleStyle.Render(fmt.Sprintf("%s run", res.Strategy)) + " " +
		mutedStyle.Render(fmt.Sprintf("%s · %d calls · %s", res.RunID, res.Calls, res.Elapsed.Round(time.Millisecond)))

	var rows []string
	for _, e := range res.Results {
		rows = append(rows, renderEntry(e))
	}
	if res.Resolver != nil {
		rows = append(rows, mutedStyle.Render("resolver:"), renderEntry(*res.Resolver))
	}

	var decision string
	switch {
	case res.Decision == nil && res.Winner() != "":
		decision = okStyle.Render("answer") + "\n" + res.Winner()
	case res.Decision.Resolved():
		decision = okStyle.Render(fmt.Sprintf("winner via %s (consensus: %t)", res.Decision.Path, res.Decision.Consensus)) +
			"\n" + res.Decision.WinnerText()
	default:
		reason := "unresolved"
		if res.Outcome != nil {
			reason = res.Outcome.Error()
		}
		decision = errStyle.Render(reason)
	}
	if res.Decision != nil && len(res.Decision.VoteCounts) > 0 {
		decision += "\n" + mutedStyle.Render(renderVotes(res.Decision.VoteCounts))
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		boxStyle.Render(strings.Join(rows, "\n")),
		boxStyle.Render(decision),
	)
}

func renderEntry(e core.Entry) string {
	id := fmt.Sprintf("%-12s", e.AgentID)
	latency := mutedStyle.Render(e.Latency.Round(time.Millisecond).String())
	if e.OK() {
		return okStyle.Render("✓ "+id) + " " + firstLine(e.Content) + " " + latency
	}
	return errStyle.Render("✗ "+id) + " " + e.Err.Error() + " " + latency
}

func renderVotes(counts map[string]int) string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%d× %s", counts[k], firstLine(k))
	}
	return "votes: " + strings.Join(parts, ", ")
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i] + " …"
	}
	if r := []rune(s); len(r) > 80 {
		s = string(r[:79]) + "…"
	}
	return s
}
