package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFF7DB")).
			Border(lipgloss.RoundedBorder()).
			Padding(0, 1).
			Margin(0, 1)

	alertStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5F87"))
)

const panelLines = 5

func (m AttackModel) View() string {
	snap := m.snap
	header := fmt.Sprintf("gonetcut - %s [%s]", snap.Interface, snap.Mode)
	if len(snap.Spoofers) > 0 {
		header += fmt.Sprintf(" poisoning %s <-> %s", snap.Target1, snap.Target2)
	}
	title := titleStyle.Render(header)

	f := snap.Filter
	filterBox := infoStyle.Render(fmt.Sprintf(
		"Filter\nForwarded: %d\nDropped: %d\nDecoded: %d\nIgnored: %d\nTotal: %d",
		f.Forwarded, f.Dropped, f.Decoded, f.Ignored, f.Total))

	qosBox := infoStyle.Render(fmt.Sprintf(
		"Traffic\nBandwidth: %s\nPacket Rate: %.2f PPS\nInjected: %d (%d failed)",
		formatBps(m.bps), m.pps, snap.Injector.Sent, snap.Injector.Failed))

	var protoStrs []string
	for _, p := range head(m.protocols, panelLines) {
		protoStrs = append(protoStrs, fmt.Sprintf("%s: %d", p.Protocol, p.Count))
	}
	protoBox := infoStyle.Render("Protocols\n" + orWaiting(protoStrs))

	targetsBox := infoStyle.Render(fmt.Sprintf("Targets (%d)\n", len(snap.Targets)) + m.targets.View())

	var talkers []string
	for _, t := range m.topTalkers {
		talkers = append(talkers, fmt.Sprintf("%-16s %d", t.IP, t.Bytes))
	}
	talkersBox := infoStyle.Render("Top Talkers\n" + orWaiting(talkers))

	var hosts []string
	for _, d := range tail(m.domainLog, panelLines) {
		hosts = append(hosts, fmt.Sprintf("%s %-15s %s (%s)", d.Timestamp.Format("15:04:05"), d.Client, d.Hostname, d.Source))
	}
	hostsBox := infoStyle.Render("Hostnames\n" + orWaiting(hosts))

	var alerts []string
	for _, a := range m.alerts {
		alerts = append(alerts, alertStyle.Render(fmt.Sprintf("%s %s", a.Timestamp.Format("15:04:05"), a.Message)))
	}
	for _, e := range tail(snap.Events, panelLines) {
		sign := "+"
		if e.Lost {
			sign = "-"
		}
		alerts = append(alerts, fmt.Sprintf("%s %s %s", e.At.Format("15:04:05"), sign, e.Target))
	}
	eventsBox := infoStyle.Render("Events\n" + orWaiting(alerts))

	row1 := lipgloss.JoinHorizontal(lipgloss.Top, filterBox, qosBox, protoBox)
	row2 := lipgloss.JoinHorizontal(lipgloss.Top, targetsBox, talkersBox)
	row3 := lipgloss.JoinHorizontal(lipgloss.Top, hostsBox, eventsBox)
	body := lipgloss.JoinVertical(lipgloss.Left, title, row1, row2, row3)

	return body + "\nPress q to quit."
}

func orWaiting(lines []string) string {
	if len(lines) == 0 {
		return "Waiting for data..."
	}
	return strings.Join(lines, "\n")
}

func head[T any](s []T, n int) []T {
	if len(s) > n {
		return s[:n]
	}
	return s
}

func tail[T any](s []T, n int) []T {
	if len(s) > n {
		return s[len(s)-n:]
	}
	return s
}

func formatBps(bps float64) string {
	if bps >= 1e6 {
		return fmt.Sprintf("%.2f Mbps", bps/1e6)
	}
	if bps >= 1e3 {
		return fmt.Sprintf("%.2f Kbps", bps/1e3)
	}
	return fmt.Sprintf("%.2f bps", bps)
}
