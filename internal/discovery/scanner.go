package discovery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"gonetcut/internal/inject"
	"gonetcut/internal/platform"
	"gonetcut/internal/target"
	"gonetcut/internal/ticker"
)

// agent runs the activities of one profile: ARP cache polling, or probing
// and acquiring.
type agent struct {
	d       *Discovery
	info    profileInfo
	initial bool

	cancel  context.CancelFunc
	probe   *ticker.Ticker
	cache   *ticker.Ticker
	wg      sync.WaitGroup
	probed  atomic.Bool
	failure atomic.Pointer[error]
}

func newAgent(d *Discovery, info profileInfo, initial bool) *agent {
	return &agent{d: d, info: info, initial: initial}
}

func (a *agent) start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	a.cancel = cancel

	iv := a.d.cfg.ProbeInterval
	if a.info.arpCache {
		a.cache = ticker.Start(ctx, "arp cache", iv, a.readCache)
		return
	}
	if a.info.acquire {
		a.wg.Add(1)
		go a.acquire(ctx)
	}
	if a.info.probe {
		a.probe = ticker.Start(ctx, "probing", iv, a.probing)
	}
}

func (a *agent) stop() {
	a.cancel()
	a.probe.Stop()
	a.cache.Stop()
	a.wg.Wait()
}

func (a *agent) err() error {
	if p := a.failure.Load(); p != nil {
		return *p
	}
	return nil
}

func (a *agent) fail(err error) {
	a.failure.Store(&err)
	a.d.logger.Error().Err(err).Msg("discovery agent failed")
}

func (a *agent) readCache(ctx context.Context) bool {
	iface := a.d.cfg.Iface
	entries, err := a.d.table.Entries(iface.Name)
	if err != nil {
		a.d.logger.Warn().Err(err).Msg("could not read the arp cache")
		return true
	}

	for _, e := range entries {
		if ctx.Err() != nil {
			return false
		}
		if !target.IsMAC(e.MAC) {
			continue
		}
		ip, err := target.NormalizeIP(e.IP)
		if err != nil {
			continue
		}
		a.d.observe(ip, e.MAC)
	}
	return true
}

// probing asks every scan list address for its hardware address.
func (a *agent) probing(ctx context.Context) bool {
	iface := a.d.cfg.Iface
	list := a.d.scanList

	if a.initial {
		a.d.logger.Info().Int("hosts", len(list)).Msg("scanning the network")
	}

	sent := 0
	for _, s := range list {
		if ctx.Err() != nil {
			return false
		}
		frame, err := inject.ARPRequest(iface.MAC, iface.IP, net.ParseIP(s))
		if err != nil {
			a.d.logger.Trace().Err(err).Str("ip", s).Msg("skipping probe")
			continue
		}
		a.d.injector.Push(frame)
		sent++
	}
	a.d.logger.Debug().Int("probes", sent).Msg("probing round done")

	if a.initial {
		a.probed.Store(true)
		return false
	}
	return true
}

// acquireFilter selects ARP replies addressed to us.
func acquireFilter(ip net.IP, mac net.HardwareAddr) string {
	return fmt.Sprintf("arp[6:2]=2 and dst host %s and ether dst %s", ip, mac)
}

// acquire listens for ARP replies and records the hosts in the scan list.
func (a *agent) acquire(ctx context.Context) {
	defer a.wg.Done()

	iface := a.d.cfg.Iface
	capture, err := a.d.open(acquireFilter(iface.IP, iface.MAC), a.d.cfg.IdleWait)
	if err != nil {
		a.fail(err)
		return
	}
	defer capture.Close()

	if lt := capture.LinkType(); lt != layers.LinkTypeEthernet {
		a.fail(fmt.Errorf("%w: %s", ErrUnsupportedMedia, lt))
		return
	}

	for ctx.Err() == nil {
		data, _, err := capture.ReadPacketData()
		switch {
		case err == nil:
		case errors.Is(err, platform.ErrTimeout):
			if a.initial && a.probed.Load() {
				a.d.logger.Info().Msg("initial scan finished")
				a.cancel()
				return
			}
			continue
		case errors.Is(err, io.EOF):
			return
		default:
			a.fail(fmt.Errorf("acquire: %w", err))
			return
		}

		pkt := gopacket.NewPacket(data, layers.LayerTypeEthernet, gopacket.NoCopy)
		reply, ok := pkt.Layer(layers.LayerTypeARP).(*layers.ARP)
		if !ok || reply.Operation != layers.ARPReply {
			continue
		}
		a.d.observe(net.IP(reply.SourceProtAddress).String(), net.HardwareAddr(reply.SourceHwAddress).String())
	}
}
