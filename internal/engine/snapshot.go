package engine

import (
	"time"

	"gonetcut/internal/analysis"
	"gonetcut/internal/discovery"
	"gonetcut/internal/inject"
	"gonetcut/internal/koala"
	"gonetcut/internal/target"
)

// TargetRow is the printable state of one target.
type TargetRow struct {
	IP        string
	MAC       string
	Vendor    string
	LastSeen  time.Time
	Alive     bool
	Permanent bool
}

func newTargetRow(t *target.Target) TargetRow {
	return TargetRow{
		IP:        t.IP(),
		MAC:       t.MAC(),
		Vendor:    t.Vendor(),
		LastSeen:  t.LastSeen(),
		Alive:     t.IsAlive(),
		Permanent: t.Permanent(),
	}
}

// Snapshot is a point in time view of a run for the dashboard and the
// session report.
type Snapshot struct {
	Interface string
	Gateway   *TargetRow
	Mode      koala.Mode
	Profile   discovery.Profile
	Target1   string
	Target2   string
	Started   time.Time
	Stopped   time.Time
	Running   bool

	Targets  []TargetRow
	Events   []Event
	Filter   koala.StatsSnapshot
	Injector inject.Stats
	Captured uint64
	Decoders []string
	Spoofers []string
}

func (m *Master) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Snapshot{
		Mode:    m.c.Mode,
		Profile: m.c.Profile,
		Target1: m.c.Target1.String(),
		Target2: m.c.Target2.String(),
		Started: m.started,
		Stopped: m.stopped,
		Running: m.running,
	}
	if m.iface != nil {
		s.Interface = m.iface.Name
	} else {
		s.Interface = m.cfg.Sniff.Read
	}
	if m.gateway != nil {
		gw := newTargetRow(m.gateway)
		s.Gateway = &gw
	}
	for _, t := range m.list.Snapshot() {
		s.Targets = append(s.Targets, newTargetRow(t))
	}

	m.eventsMu.Lock()
	s.Events = append([]Event(nil), m.events...)
	m.eventsMu.Unlock()

	if m.filter != nil {
		s.Filter = m.filter.Stats()
	}
	if m.injector != nil {
		s.Injector = m.injector.Stats()
	}
	if m.sniffer != nil {
		s.Captured = m.sniffer.Captured()
	}
	if m.chain != nil {
		s.Decoders = m.chain.Names()
	}
	for _, sp := range m.spoofers {
		s.Spoofers = append(s.Spoofers, sp.Name())
	}
	return s
}

// Traffic is the statistics fed by the stats and anomaly decoders.
func (m *Master) Traffic() *analysis.TrafficStats {
	return m.traffic
}
