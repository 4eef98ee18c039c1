package target

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrInvalidAddress = errors.New("invalid address")
	ErrMissingAddress = errors.New("target needs an ip or a mac address")
	ErrAddressSet     = errors.New("address already set")
)

// DefaultStale is how long a target stays alive without being seen again.
const DefaultStale = 3 * time.Second

// Target is a host on the local segment. Its addresses are write-once: an
// address that is missing at creation can be filled in later with Update,
// but a known address never changes.
type Target struct {
	mu     sync.RWMutex
	ip     string
	mac    string
	vendor string

	perm     bool
	stale    time.Duration
	lastSeen atomic.Int64
	now      func() time.Time
	vendors  VendorLookup
}

type Option func(*Target)

// Permanent marks a target that is never considered stale.
func Permanent() Option {
	return func(t *Target) { t.perm = true }
}

func WithStale(d time.Duration) Option {
	return func(t *Target) {
		if d > 0 {
			t.stale = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(t *Target) { t.now = now }
}

// WithVendors attaches the OUI database used to label the hardware address.
func WithVendors(v VendorLookup) Option {
	return func(t *Target) { t.vendors = v }
}

func New(ip, mac string, opts ...Option) (*Target, error) {
	if ip == "" && mac == "" {
		return nil, ErrMissingAddress
	}

	t := &Target{stale: DefaultStale, now: time.Now}
	for _, opt := range opts {
		opt(t)
	}

	if ip != "" {
		norm, err := NormalizeIP(ip)
		if err != nil {
			return nil, err
		}
		t.ip = norm
	}
	if mac != "" {
		norm, err := NormalizeMAC(mac)
		if err != nil {
			return nil, err
		}
		t.setMAC(norm)
	}

	t.Seen()
	return t, nil
}

// NormalizeIP returns the canonical text form of an IPv4 or IPv6 address.
func NormalizeIP(s string) (string, error) {
	addr, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return "", fmt.Errorf("%w: ip %q", ErrInvalidAddress, s)
	}
	return addr.Unmap().String(), nil
}

// NormalizeMAC returns an EUI-48 address in lower-case colon form.
func NormalizeMAC(s string) (string, error) {
	hw, err := net.ParseMAC(strings.TrimSpace(s))
	if err != nil || len(hw) != 6 {
		return "", fmt.Errorf("%w: mac %q", ErrInvalidAddress, s)
	}
	return hw.String(), nil
}

func IsMAC(s string) bool {
	_, err := NormalizeMAC(s)
	return err == nil
}

func IsIP(s string) bool {
	_, err := NormalizeIP(s)
	return err == nil
}

func (t *Target) setMAC(mac string) {
	t.mac = mac
	if t.vendors != nil {
		t.vendor = t.vendors.Vendor(mac)
	}
}

func (t *Target) IP() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.ip
}

func (t *Target) MAC() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.mac
}

func (t *Target) Vendor() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.vendor
}

func (t *Target) Permanent() bool {
	return t.perm
}

// HardwareAddr returns the parsed MAC, or nil when it is not known yet.
func (t *Target) HardwareAddr() net.HardwareAddr {
	mac := t.MAC()
	if mac == "" {
		return nil
	}
	hw, _ := net.ParseMAC(mac)
	return hw
}

// NetIP returns the parsed protocol address, or nil when it is not known yet.
func (t *Target) NetIP() net.IP {
	return net.ParseIP(t.IP())
}

// Seen records that the host just proved to be alive.
func (t *Target) Seen() {
	t.lastSeen.Store(t.now().UnixNano())
}

func (t *Target) LastSeen() time.Time {
	return time.Unix(0, t.lastSeen.Load())
}

// IsAlive reports whether the target is usable for spoofing. Permanent
// targets are always alive, others need both addresses and a recent Seen.
func (t *Target) IsAlive() bool {
	if t.perm {
		return true
	}
	if t.NeedsUpdate() {
		return false
	}
	return t.now().Sub(t.LastSeen()) < t.stale
}

// NeedsUpdate reports whether one of the two addresses is still unknown.
func (t *Target) NeedsUpdate() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.ip == "" || t.mac == ""
}

// Update fills in whichever address addr is. Re-setting the same value is
// a no-op, changing a known address fails with ErrAddressSet.
func (t *Target) Update(addr string) error {
	if mac, err := NormalizeMAC(addr); err == nil {
		t.mu.Lock()
		defer t.mu.Unlock()
		switch t.mac {
		case "":
			t.setMAC(mac)
			return nil
		case mac:
			return nil
		}
		return fmt.Errorf("%w: mac %s", ErrAddressSet, t.mac)
	}

	ip, err := NormalizeIP(addr)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidAddress, addr)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	switch t.ip {
	case "":
		t.ip = ip
		return nil
	case ip:
		return nil
	}
	return fmt.Errorf("%w: ip %s", ErrAddressSet, t.ip)
}

// Equal compares hardware addresses when both sides have one and protocol
// addresses otherwise.
func (t *Target) Equal(o *Target) bool {
	if t == nil || o == nil {
		return t == o
	}
	if t == o {
		return true
	}

	tip, tmac := t.addrs()
	oip, omac := o.addrs()
	if tmac != "" && omac != "" {
		return tmac == omac
	}
	return tip == oip
}

func (t *Target) addrs() (string, string) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.ip, t.mac
}

func (t *Target) String() string {
	ip, mac := t.addrs()
	if ip == "" {
		ip = "?"
	}
	if mac == "" {
		mac = "?"
	}
	if v := t.Vendor(); v != "" {
		return fmt.Sprintf("%s %s (%s)", ip, mac, v)
	}
	return fmt.Sprintf("%s %s", ip, mac)
}
