package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"poolselect/pkg/replica"
	"poolselect/pkg/selection"
)

var (
	primaryColor   = lipgloss.Color("#FF79C6")
	secondaryColor = lipgloss.Color("#8BE9FD")
	accentColor    = lipgloss.Color("#50FA7B")
	warningColor   = lipgloss.Color("#FFB86C")
	dangerColor    = lipgloss.Color("#FF5555")
	mutedColor     = lipgloss.Color("#6272A4")
	borderColor    = lipgloss.Color("#44475A")
	fgColor        = lipgloss.Color("#F8F8F2")

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor)

	mutedStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	labelStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Width(14)

	valueStyle = lipgloss.NewStyle().
			Foreground(fgColor).
			Bold(true)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(secondaryColor).
			Background(borderColor).
			Padding(0, 1)

	rowStyle = lipgloss.NewStyle().
			Padding(0, 1)
)

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(borderColor)).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return rowStyle.Foreground(fgColor)
		}).
		Headers(headers...)
}

// renderLevels lists the preference levels of a match, best first
func renderLevels(levels []selection.PreferenceLevel) string {
	if len(levels) == 0 {
		return mutedStyle.Render("no pool matches the request")
	}

	t := newTable("LEVEL", "PREF", "TAG", "POOLS")
	for i, l := range levels {
		tag := l.Tag
		if tag == "" {
			tag = "-"
		}
		t.Row(fmt.Sprintf("%d", i), fmt.Sprintf("%d", l.Preference), tag, strings.Join(l.Pools, " "))
	}
	return t.Render()
}

func stateStyle(info replica.Info) lipgloss.Style {
	for _, f := range info.Flags {
		switch f {
		case "error", "removed":
			return lipgloss.NewStyle().Foreground(dangerColor).Bold(true)
		}
	}
	if info.Busy {
		return lipgloss.NewStyle().Foreground(warningColor).Bold(true)
	}
	return lipgloss.NewStyle().Foreground(accentColor).Bold(true)
}

// renderReplica shows one replica with its sticky records
func renderReplica(info replica.Info) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(string(info.ID)) + "\n")
	fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("State:"), stateStyle(info).Render(info.State))
	fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("Flags:"), valueStyle.Render(strings.Join(info.Flags, ", ")))
	fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("Removable:"), valueStyle.Render(fmt.Sprintf("%t", info.CanRemove)))

	if len(info.Sticky) > 0 {
		t := newTable("OWNER", "EXPIRES")
		for _, s := range info.Sticky {
			t.Row(s.Owner, formatExpiry(s.Expire))
		}
		b.WriteString(t.Render())
	}
	return strings.TrimRight(b.String(), "\n")
}

// renderReplicaList shows one line per replica followed by totals
func renderReplicaList(infos []replica.Info, stats replica.Stats) string {
	t := newTable("PNFSID", "STATE", "STICKY", "REMOVABLE")
	for _, info := range infos {
		t.Row(string(info.ID), stateStyle(info).Render(info.State),
			fmt.Sprintf("%d", len(info.Sticky)), fmt.Sprintf("%t", info.CanRemove))
	}

	summary := fmt.Sprintf("%d replicas: %d precious, %d cached, %d sticky, %d busy, %d error",
		stats.Total, stats.Precious, stats.Cached, stats.Sticky, stats.Busy, stats.Error)
	return t.Render() + "\n" + mutedStyle.Render(summary)
}

func formatExpiry(expire int64) string {
	if expire == replica.NeverExpires {
		return "never"
	}
	return time.UnixMilli(expire).UTC().Format(time.RFC3339)
}
