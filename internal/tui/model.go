package tui

import (
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"gonetcut/internal/analysis"
	"gonetcut/internal/engine"
)

const refreshInterval = 250 * time.Millisecond

// Source is the running attack the dashboard shows.
type Source interface {
	Snapshot() engine.Snapshot
	Traffic() *analysis.TrafficStats
}

// TickMsg triggers a refresh of the dashboard.
type TickMsg time.Time

type AttackModel struct {
	source Source
	snap   engine.Snapshot

	bps        float64
	pps        float64
	topTalkers []analysis.IPStat
	protocols  []analysis.ProtocolStat
	domainLog  []analysis.DomainEntry
	alerts     []analysis.Alert

	targets table.Model
}

func NewAttackModel(source Source) AttackModel {
	columns := []table.Column{
		{Title: "IP", Width: 16},
		{Title: "MAC", Width: 18},
		{Title: "Vendor", Width: 12},
		{Title: "State", Width: 10},
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(false),
		table.WithHeight(8),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(true)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)

	return AttackModel{
		source:  source,
		targets: t,
	}
}

func (m AttackModel) Init() tea.Cmd {
	return tickCmd()
}

func tickCmd() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}
