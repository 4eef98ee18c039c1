// Package discovery keeps the shared target list populated while an attack
// runs. One agent per run either polls the OS ARP cache or probes the
// segment with ARP requests and listens for the replies.
package discovery

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"gonetcut/internal/platform"
	"gonetcut/internal/target"
	"gonetcut/internal/ticker"
)

// Injector queues crafted frames for transmission.
type Injector interface {
	Push(frame []byte)
}

// CaptureOpener opens a live capture on the attacked interface with the
// given filter and read timeout.
type CaptureOpener func(filter string, timeout time.Duration) (platform.Capture, error)

type Config struct {
	Profile Profile
	Iface   *platform.Interface
	// Gateway is excluded from the scan list. It may be nil.
	Gateway net.IP
	Target1 *target.Spec
	Target2 *target.Spec

	// ProbeInterval paces active probing and ARP cache polling.
	ProbeInterval time.Duration
	// NotifyInterval paces the new/lost target report.
	NotifyInterval time.Duration
	// IdleWait is the capture read timeout. An initial scan ends once probing
	// is done and a whole IdleWait passed without a reply.
	IdleWait time.Duration
	// Stale is how long a discovered target stays alive without a reply.
	Stale time.Duration

	Vendors target.VendorLookup
	// OnUpdate receives every notifier round that changed something. It
	// must not call back into Discovery.
	OnUpdate func(Update)
}

func (c Config) withDefaults() Config {
	if c.ProbeInterval <= 0 {
		c.ProbeInterval = 3 * time.Second
	}
	if c.NotifyInterval <= 0 {
		c.NotifyInterval = time.Second
	}
	if c.IdleWait <= 0 {
		c.IdleWait = 500 * time.Millisecond
	}
	if c.Stale <= 0 {
		c.Stale = 2 * c.ProbeInterval
	}
	return c
}

type Discovery struct {
	logger   zerolog.Logger
	list     *target.List
	injector Injector
	table    platform.ARPTable
	open     CaptureOpener

	cfg      Config
	scanList []string
	scanSet  map[string]struct{}

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	notifier *ticker.Ticker
	agent    *agent
	prev     map[string]*target.Target
	agentErr error
}

func New(
	logger zerolog.Logger,
	list *target.List,
	injector Injector,
	table platform.ARPTable,
	open CaptureOpener,
) *Discovery {
	return &Discovery{
		logger:   logger,
		list:     list,
		injector: injector,
		table:    table,
		open:     open,
		prev:     map[string]*target.Target{},
	}
}

// Configure installs cfg and computes the scan list.
func (d *Discovery) Configure(cfg Config) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return ErrRunning
	}

	cfg = cfg.withDefaults()
	var (
		network *net.IPNet
		self    net.IP
	)
	if cfg.Iface != nil {
		network, self = cfg.Iface.Network, cfg.Iface.IP
	}

	scanList, err := BuildScanList(cfg.Target1, cfg.Target2, network, self, cfg.Gateway)
	if err != nil {
		return err
	}

	d.cfg = cfg
	d.scanList = scanList
	d.scanSet = make(map[string]struct{}, len(scanList))
	for _, ip := range scanList {
		d.scanSet[ip] = struct{}{}
	}

	if cfg.Target1.WildcardIP() || cfg.Target2.WildcardIP() {
		d.logger.Info().Str("network", network.String()).Int("hosts", len(scanList)).Msg("targeting the whole network")
	} else {
		d.logger.Info().Strs("hosts", scanList).Msg("targeting hosts")
	}
	return nil
}

func (d *Discovery) ScanList() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.scanList...)
}

func (d *Discovery) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return nil
	}
	if d.cfg.Target1 == nil || d.cfg.Target2 == nil {
		return ErrNotConfigured
	}

	ctx, d.cancel = context.WithCancel(ctx)
	d.agentErr = nil
	d.notifier = ticker.Start(ctx, "target update", d.cfg.NotifyInterval, d.notify)

	info := d.cfg.Profile.info()
	if info.arpCache || info.probe || info.acquire {
		d.agent = newAgent(d, info, d.cfg.Profile == ProfileInitialScan)
		d.agent.start(ctx)
	}
	d.running = true

	d.logger.Info().Str("profile", d.cfg.Profile.String()).Msg("discovery started")
	return nil
}

// Stop ends the agent and the notifier. It is safe to call when stopped.
func (d *Discovery) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running {
		return
	}
	d.cancel()
	d.notifier.Stop()
	if d.agent != nil {
		d.agent.stop()
		d.agentErr = d.agent.err()
		d.agent = nil
	}
	d.running = false

	d.logger.Info().Int("targets", d.list.Len()).Msg("discovery stopped")
}

func (d *Discovery) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// Err returns the failure that ended the agent of the last run, if any.
func (d *Discovery) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.agent != nil {
		return d.agent.err()
	}
	return d.agentErr
}

// observe records a host seen on the wire or in the cache.
func (d *Discovery) observe(ip, mac string) {
	if _, ok := d.scanSet[ip]; !ok {
		return
	}
	t, added, err := d.list.Observe(ip, mac, target.WithStale(d.cfg.Stale), target.WithVendors(d.cfg.Vendors))
	if err != nil {
		d.logger.Trace().Err(err).Str("ip", ip).Msg("ignoring host")
		return
	}
	if added {
		d.logger.Debug().Str("target", t.String()).Msg("target acquired")
	}
}

// notify sweeps stale targets and reports the difference with the
// previous round.
func (d *Discovery) notify(context.Context) bool {
	lost := d.list.SweepStale()
	current := d.list.Snapshot()

	var added []*target.Target
	next := make(map[string]*target.Target, len(current))
	for _, t := range current {
		next[t.MAC()] = t
		if _, ok := d.prev[t.MAC()]; !ok {
			added = append(added, t)
		}
	}
	d.prev = next

	for _, t := range added {
		d.logger.Info().Str("target", t.String()).Msg("new target")
	}
	for _, t := range lost {
		d.logger.Info().Str("target", t.String()).Msg("target lost")
	}
	if (len(added) > 0 || len(lost) > 0) && d.cfg.OnUpdate != nil {
		d.cfg.OnUpdate(Update{New: added, Lost: lost, At: time.Now()})
	}

	if len(added) > 0 && d.cfg.Profile.info().updateOnce {
		d.logger.Debug().Msg("target updates finished")
		return false
	}
	return true
}
