package target

import (
	"bytes"
	"net"
	"sort"
	"sync"
)

// List is the shared set of known hosts, keyed by hardware address.
// Discovery, the spoofers and the update notifier all use the same List.
type List struct {
	mu      sync.RWMutex
	targets map[string]*Target
}

func NewList() *List {
	return &List{targets: make(map[string]*Target)}
}

// Add inserts t unless a target with the same MAC is already present.
// Targets without a MAC are never admitted. It reports whether t was added.
func (l *List) Add(t *Target) bool {
	mac := t.MAC()
	if mac == "" {
		return false
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.targets[mac]; ok {
		return false
	}
	l.targets[mac] = t
	return true
}

// Observe refreshes the target with the given MAC or creates it. The
// returned flag is true when a new target was inserted.
func (l *List) Observe(ip, mac string, opts ...Option) (*Target, bool, error) {
	norm, err := NormalizeMAC(mac)
	if err != nil {
		return nil, false, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if t, ok := l.targets[norm]; ok {
		t.Seen()
		if ip != "" && t.IP() == "" {
			_ = t.Update(ip)
		}
		return t, false, nil
	}

	t, err := New(ip, norm, opts...)
	if err != nil {
		return nil, false, err
	}
	l.targets[norm] = t
	return t, true, nil
}

func (l *List) ByMAC(mac string) (*Target, bool) {
	norm, err := NormalizeMAC(mac)
	if err != nil {
		return nil, false
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	t, ok := l.targets[norm]
	return t, ok
}

// ByIP returns the first target holding ip.
func (l *List) ByIP(ip string) (*Target, bool) {
	norm, err := NormalizeIP(ip)
	if err != nil {
		return nil, false
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, t := range l.targets {
		if t.IP() == norm {
			return t, true
		}
	}
	return nil, false
}

// Remove deletes and returns the target with the given MAC.
func (l *List) Remove(mac string) (*Target, bool) {
	norm, err := NormalizeMAC(mac)
	if err != nil {
		return nil, false
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.targets[norm]
	if ok {
		delete(l.targets, norm)
	}
	return t, ok
}

func (l *List) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	clear(l.targets)
}

func (l *List) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.targets)
}

// Snapshot returns the current targets ordered by protocol address.
func (l *List) Snapshot() []*Target {
	l.mu.RLock()
	out := make([]*Target, 0, len(l.targets))
	for _, t := range l.targets {
		out = append(out, t)
	}
	l.mu.RUnlock()

	sortTargets(out)
	return out
}

// Live is Snapshot restricted to targets that are currently alive.
func (l *List) Live() []*Target {
	all := l.Snapshot()
	live := all[:0]
	for _, t := range all {
		if t.IsAlive() {
			live = append(live, t)
		}
	}
	return live
}

// Each calls fn for every target until fn returns false. The list is read
// locked while fn runs, so fn must not modify the list.
func (l *List) Each(fn func(*Target) bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, t := range l.targets {
		if !fn(t) {
			return
		}
	}
}

// SweepStale removes and returns every non-permanent target that is not
// alive right now.
func (l *List) SweepStale() []*Target {
	l.mu.Lock()
	var lost []*Target
	for mac, t := range l.targets {
		if t.Permanent() || t.IsAlive() {
			continue
		}
		lost = append(lost, t)
		delete(l.targets, mac)
	}
	l.mu.Unlock()

	sortTargets(lost)
	return lost
}

func sortTargets(ts []*Target) {
	sort.Slice(ts, func(i, j int) bool {
		a, b := net.ParseIP(ts[i].IP()), net.ParseIP(ts[j].IP())
		if c := bytes.Compare(a.To16(), b.To16()); c != 0 {
			return c < 0
		}
		return ts[i].MAC() < ts[j].MAC()
	})
}
