// Package koala implements the interception pipeline. Captured frames are
// classified, forwarded to their real destination and handed to the
// decoder chain by three goroutines linked with FIFO queues.
package koala

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/gopacket/layers"
	"github.com/rs/zerolog"

	"gonetcut/internal/models"
	"gonetcut/internal/platform"
	"gonetcut/internal/queue"
	"gonetcut/internal/target"
)

var ErrRunning = errors.New("filter is running")

// Decoder receives every accepted frame. Implementations must contain
// their own failures.
type Decoder interface {
	Decode(f *models.Frame)
}

// Forwarder sends a network-layer datagram with its original header.
type Forwarder interface {
	SendIP(datagram []byte) error
}

type Config struct {
	Mode Mode
	// OurMAC and OurIP identify this host on the attacked segment.
	OurMAC string
	OurIP  string
	// Target1 and Target2 select the two groups whose traffic is decoded.
	Target1 *target.Spec
	Target2 *target.Spec
}

type Filter struct {
	logger    zerolog.Logger
	cfg       Config
	in        *queue.Queue[*models.Frame]
	toForward *queue.Queue[*models.Frame]
	toDecode  *queue.Queue[*models.Frame]

	forwarder Forwarder
	decoder   Decoder
	ipfwd     platform.IPForwarder

	stats Stats

	lifecycle sync.Mutex
	running   bool
	restoreFw *bool
	wg        sync.WaitGroup

	// eos is set once the capture sentinel went through classification.
	eos atomic.Bool
	// stopping marks that Stop pushed its own end marker.
	stopping atomic.Bool
	// warnedNonIPv4 limits the unrelayable frame warning to one per run.
	warnedNonIPv4 atomic.Bool
}

// New builds a stopped filter reading in. forwarder may be nil unless the
// mode is ModeActive and ipfwd may be nil to leave the kernel switch alone.
func New(
	logger zerolog.Logger,
	in *queue.Queue[*models.Frame],
	forwarder Forwarder,
	decoder Decoder,
	ipfwd platform.IPForwarder,
) *Filter {
	return &Filter{
		logger:    logger,
		in:        in,
		toForward: queue.New[*models.Frame](),
		toDecode:  queue.New[*models.Frame](),
		forwarder: forwarder,
		decoder:   decoder,
		ipfwd:     ipfwd,
	}
}

// Configure validates and installs cfg. It is rejected while running.
func (fl *Filter) Configure(cfg Config) error {
	fl.lifecycle.Lock()
	defer fl.lifecycle.Unlock()

	if fl.running {
		return ErrRunning
	}
	if cfg.Target1 == nil || cfg.Target2 == nil {
		return errors.New("filter needs both target specs")
	}
	if cfg.Mode.Forwards() && fl.forwarder == nil {
		return fmt.Errorf("mode %s needs a forwarder", cfg.Mode)
	}
	if cfg.Mode != ModeReplay {
		mac, err := target.NormalizeMAC(cfg.OurMAC)
		if err != nil {
			return fmt.Errorf("filter: %w", err)
		}
		ip, err := target.NormalizeIP(cfg.OurIP)
		if err != nil {
			return fmt.Errorf("filter: %w", err)
		}
		cfg.OurMAC, cfg.OurIP = mac, ip
	}

	fl.cfg = cfg
	fl.logger.Info().
		Str("mode", cfg.Mode.String()).
		Bool("forwarding", cfg.Mode.Forwards()).
		Bool("dropping", cfg.Mode != ModeReplay && cfg.Mode != ModeKernel).
		Msg("filter configured")
	return nil
}

func (fl *Filter) Start() error {
	fl.lifecycle.Lock()
	defer fl.lifecycle.Unlock()

	if fl.running {
		return nil
	}
	if fl.cfg.Target1 == nil || fl.cfg.Target2 == nil {
		return errors.New("filter is not configured")
	}

	if err := fl.setKernelForwarding(); err != nil {
		return err
	}

	fl.eos.Store(false)
	fl.stopping.Store(false)
	fl.wg.Add(3)
	go fl.classifyLoop()
	go fl.forwardLoop()
	go fl.decodeLoop()
	fl.running = true

	fl.logger.Info().Str("mode", fl.cfg.Mode.String()).Msg("filter started")
	return nil
}

// Stop ends the pipeline. When the capture has not delivered its sentinel
// yet, Stop pushes an end marker of its own. Queued frames ahead of it are
// still processed.
func (fl *Filter) Stop() {
	fl.lifecycle.Lock()
	defer fl.lifecycle.Unlock()

	if !fl.running {
		return
	}

	fl.stopping.Store(true)
	if !fl.eos.Load() {
		fl.in.Put(&models.Frame{})
	}
	fl.wg.Wait()
	fl.running = false
	fl.restoreKernelForwarding()

	fl.logger.Info().Str("stats", fl.stats.Snapshot().String()).Msg("filter stopped")
}

// Wait blocks until all stages have finished, which happens on its own
// at the end of a replayed capture.
func (fl *Filter) Wait() {
	fl.wg.Wait()
}

func (fl *Filter) Stats() StatsSnapshot {
	return fl.stats.Snapshot()
}

func (fl *Filter) Mode() Mode {
	return fl.cfg.Mode
}

func (fl *Filter) setKernelForwarding() error {
	on, managed := fl.cfg.Mode.forwardSwitch()
	if !managed || fl.ipfwd == nil {
		return nil
	}

	prev, err := fl.ipfwd.IPForwarding()
	if err != nil {
		fl.logger.Warn().Err(err).Msg("could not read ip forwarding state")
	} else {
		fl.restoreFw = &prev
	}

	if err := fl.ipfwd.SetIPForwarding(on); err != nil {
		return fmt.Errorf("failed to switch ip forwarding for mode %s: %w", fl.cfg.Mode, err)
	}
	fl.logger.Debug().Bool("ip_forward", on).Msg("kernel forwarding switched")
	return nil
}

func (fl *Filter) restoreKernelForwarding() {
	if fl.restoreFw == nil || fl.ipfwd == nil {
		return
	}
	if err := fl.ipfwd.SetIPForwarding(*fl.restoreFw); err != nil {
		fl.logger.Warn().Err(err).Msg("could not restore ip forwarding")
	}
	fl.restoreFw = nil
}

// isEnd reports whether f terminates the classify loop. Empty frames
// left over from an earlier Stop are skipped.
func (fl *Filter) isEnd(f *models.Frame) (end bool, skip bool) {
	if f == nil {
		return true, false
	}
	if f.Packet == nil {
		return fl.stopping.Load(), true
	}
	return false, false
}

func (fl *Filter) classifyLoop() {
	defer fl.wg.Done()

	for {
		f := fl.in.Get()
		end, skip := fl.isEnd(f)
		if end {
			fl.eos.Store(f == nil)
			fl.toForward.Put(nil)
			fl.toDecode.Put(nil)
			return
		}
		if skip {
			continue
		}
		fl.classify(f)
	}
}

// classify decides the fate of one frame. It never panics on frames with
// missing layers.
func (fl *Filter) classify(f *models.Frame) {
	fl.stats.total.Add(1)

	replay := fl.cfg.Mode == ModeReplay
	ep := f.Endpoints()

	eligible := replay ||
		(ep.DstMAC == fl.cfg.OurMAC && ep.HasNetwork && ep.DstIP != fl.cfg.OurIP)
	if !eligible {
		fl.stats.dropped.Add(1)
		fl.logger.Trace().Str("dst", ep.DstMAC).Msg("frame not for forwarding")
		return
	}

	accepted := ep.HasNetwork && ep.HasTransport && fl.accept(ep)

	switch fl.cfg.Mode {
	case ModeActive:
		if f.Packet.Layer(layers.LayerTypeIPv4) != nil {
			fl.toForward.Put(f)
			break
		}
		// The raw sender only relays IPv4.
		fl.stats.dropped.Add(1)
		if !fl.warnedNonIPv4.Swap(true) {
			fl.logger.Warn().Str("src", ep.SrcIP).Str("dst", ep.DstIP).Msg("non ipv4 frames cannot be relayed and are dropped")
		}
	case ModeBlock:
		fl.stats.dropped.Add(1)
	}

	if accepted {
		fl.toDecode.Put(f)
	} else {
		fl.stats.ignored.Add(1)
	}
}

func (fl *Filter) accept(ep models.Endpoints) bool {
	t1, t2 := fl.cfg.Target1, fl.cfg.Target2
	if t1.Check(ep.SrcIP, ep.SrcMAC, ep.SrcPort) && t2.Check(ep.DstIP, ep.DstMAC, ep.DstPort) {
		return true
	}
	return t2.Check(ep.SrcIP, ep.SrcMAC, ep.SrcPort) && t1.Check(ep.DstIP, ep.DstMAC, ep.DstPort)
}

func (fl *Filter) forwardLoop() {
	defer fl.wg.Done()

	for {
		f := fl.toForward.Get()
		if f == nil {
			return
		}
		if err := fl.forward(f); err != nil {
			fl.logger.Debug().Err(err).Msg("failed to forward frame")
			continue
		}
		fl.stats.forwarded.Add(1)
	}
}

func (fl *Filter) forward(f *models.Frame) error {
	ip, ok := f.Packet.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
	if !ok {
		return platform.ErrNotIPv4
	}

	datagram := make([]byte, 0, len(ip.Contents)+len(ip.Payload))
	datagram = append(datagram, ip.Contents...)
	datagram = append(datagram, ip.Payload...)
	return fl.forwarder.SendIP(datagram)
}

func (fl *Filter) decodeLoop() {
	defer fl.wg.Done()

	for {
		f := fl.toDecode.Get()
		if f == nil {
			return
		}
		fl.decode(f)
		fl.stats.decoded.Add(1)
	}
}

func (fl *Filter) decode(f *models.Frame) {
	defer func() {
		if r := recover(); r != nil {
			fl.logger.Error().Interface("panic", r).Msg("decoder chain panicked")
		}
	}()

	if fl.decoder != nil {
		fl.decoder.Decode(f)
	}
}
