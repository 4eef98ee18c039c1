package tui

import (
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gonetcut/internal/analysis"
	"gonetcut/internal/engine"
	"gonetcut/internal/inject"
	"gonetcut/internal/koala"
	"gonetcut/internal/models"
)

type staticSource struct {
	snap  engine.Snapshot
	stats *analysis.TrafficStats
}

func (s staticSource) Snapshot() engine.Snapshot        { return s.snap }
func (s staticSource) Traffic() *analysis.TrafficStats { return s.stats }

func newSource() staticSource {
	stats := analysis.NewTrafficStats(nil)
	stats.ProcessPacket(models.PacketData{SrcIP: "10.0.0.2", DstIP: "1.1.1.1", Length: 120, Protocol: "UDP", DstPort: 53})
	stats.RecordDomain("example.com", "10.0.0.2", "DNS", time.Now())

	return staticSource{
		stats: stats,
		snap: engine.Snapshot{
			Interface: "eth0",
			Mode:      koala.ModeActive,
			Target1:   "10.0.0.2//",
			Target2:   "//",
			Running:   true,
			Gateway:   &engine.TargetRow{IP: "10.0.0.1", MAC: "aa:00:00:00:00:01"},
			Targets: []engine.TargetRow{
				{IP: "10.0.0.2", MAC: "aa:00:00:00:00:02", Alive: true},
				{IP: "10.0.0.3", MAC: "aa:00:00:00:00:03", Permanent: true},
			},
			Events:   []engine.Event{{At: time.Now(), Lost: true, Target: "10.0.0.9"}},
			Filter:   koala.StatsSnapshot{Total: 9, Forwarded: 7, Dropped: 2},
			Injector: inject.Stats{Sent: 12, Failed: 1},
			Spoofers: []string{"arp"},
		},
	}
}

func TestTickRefreshesView(t *testing.T) {
	m := NewAttackModel(newSource())
	assert.NotNil(t, m.Init())

	updated, cmd := m.Update(TickMsg(time.Now()))
	require.NotNil(t, cmd)
	view := updated.(AttackModel).View()

	tcs := []struct {
		name string
		want string
	}{
		{name: "header", want: "gonetcut - eth0 [active]"},
		{name: "poisoning", want: "10.0.0.2// <-> //"},
		{name: "forwarded", want: "Forwarded: 7"},
		{name: "injected", want: "Injected: 12 (1 failed)"},
		{name: "protocol", want: "UDP: 1"},
		{name: "gateway", want: "gateway"},
		{name: "permanent", want: "permanent"},
		{name: "talker", want: "10.0.0.2"},
		{name: "hostname", want: "example.com"},
		{name: "lost target", want: "- 10.0.0.9"},
	}
	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			assert.Contains(t, view, tc.want)
		})
	}
}

func TestViewBeforeFirstTick(t *testing.T) {
	view := NewAttackModel(newSource()).View()
	assert.Contains(t, view, "Waiting for data...")
}

func TestQuitKeys(t *testing.T) {
	tcs := []struct {
		name string
		msg  tea.KeyMsg
	}{
		{name: "q", msg: tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}}},
		{name: "ctrl+c", msg: tea.KeyMsg{Type: tea.KeyCtrlC}},
	}
	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			_, cmd := NewAttackModel(newSource()).Update(tc.msg)
			require.NotNil(t, cmd)
			assert.Equal(t, tea.QuitMsg{}, cmd())
		})
	}
}

func TestFormatBps(t *testing.T) {
	tcs := []struct {
		in   float64
		want string
	}{
		{in: 12, want: "12.00 bps"},
		{in: 2500, want: "2.50 Kbps"},
		{in: 3e6, want: "3.00 Mbps"},
	}
	for _, tc := range tcs {
		t.Run(tc.want, func(t *testing.T) {
			assert.Equal(t, tc.want, formatBps(tc.in))
		})
	}
}
