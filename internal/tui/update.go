package tui

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/bubbles/table"

	"gonetcut/internal/engine"
)

func (m AttackModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}

	case TickMsg:
		m.refresh()
		return m, tickCmd()
	}

	m.targets, cmd = m.targets.Update(msg)
	return m, cmd
}

func (m *AttackModel) refresh() {
	m.snap = m.source.Snapshot()

	stats := m.source.Traffic()
	m.bps, m.pps = stats.GetRates()
	m.topTalkers = stats.GetTopTalkers(5)
	m.protocols = stats.GetProtocolStats()
	m.domainLog = stats.GetDomainLog()
	m.alerts = stats.GetAlerts()

	m.targets.SetRows(targetRows(m.snap))
}

func targetRows(snap engine.Snapshot) []table.Row {
	rows := make([]table.Row, 0, len(snap.Targets)+1)
	if gw := snap.Gateway; gw != nil {
		rows = append(rows, table.Row{gw.IP, gw.MAC, gw.Vendor, "gateway"})
	}
	for _, t := range snap.Targets {
		state := "stale"
		switch {
		case t.Permanent:
			state = "permanent"
		case t.Alive:
			state = "alive"
		}
		rows = append(rows, table.Row{t.IP, t.MAC, t.Vendor, state})
	}
	return rows
}
