package target

import (
	"errors"
	"fmt"
	"net/netip"
	"sort"
	"strconv"
	"strings"
)

var ErrInvalidSpec = errors.New("invalid target spec")

const maxPort = 65535

// PortSet is a set of transport ports. A nil PortSet matches every port.
type PortSet map[int]struct{}

func (p PortSet) Has(port int) bool {
	if p == nil {
		return true
	}
	_, ok := p[port]
	return ok
}

// Sorted returns the ports in ascending order.
func (p PortSet) Sorted() []int {
	out := make([]int, 0, len(p))
	for port := range p {
		out = append(out, port)
	}
	sort.Ints(out)
	return out
}

// AddrSet is a set of normalized addresses. A nil AddrSet matches
// everything.
type AddrSet map[string]struct{}

func (a AddrSet) Has(addr string) bool {
	if a == nil {
		return true
	}
	_, ok := a[addr]
	return ok
}

// Sorted returns the addresses in ascending textual order.
func (a AddrSet) Sorted() []string {
	out := make([]string, 0, len(a))
	for addr := range a {
		out = append(out, addr)
	}
	sort.Strings(out)
	return out
}

// Spec is a compiled "IP/MAC/PORT" rule selecting the members of one
// attack group. Empty fields are wildcards and "//" selects everything.
type Spec struct {
	All   bool
	IPs   AddrSet
	MACs  AddrSet
	Ports PortSet

	// Specific binds a port set to a single ip or mac. It overrides the
	// general fields for that address.
	Specific map[string]PortSet

	raw string
}

// ParseSpec compiles s. Every component is validated, so a nil error
// means the returned Spec is complete.
func ParseSpec(s string) (*Spec, error) {
	s = strings.TrimSpace(s)
	if s == "//" {
		return &Spec{All: true, Specific: map[string]PortSet{}, raw: s}, nil
	}

	parts := strings.Split(s, "/")
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: %q: expected IP/MAC/PORT", ErrInvalidSpec, s)
	}

	ips, err := ExpandIPs(parts[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrInvalidSpec, s, err)
	}
	macs, err := ExpandMACs(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrInvalidSpec, s, err)
	}
	ports, err := ExpandPorts(parts[2])
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrInvalidSpec, s, err)
	}

	return &Spec{
		IPs:      ips,
		MACs:     macs,
		Ports:    ports,
		Specific: map[string]PortSet{},
		raw:      s,
	}, nil
}

// MustParseSpec is ParseSpec for literals known to be valid.
func MustParseSpec(s string) *Spec {
	sp, err := ParseSpec(s)
	if err != nil {
		panic(err)
	}
	return sp
}

// Check reports whether the endpoint (ip, mac, port) belongs to the group.
// A port binding for ip or mac takes precedence over the general fields.
func (sp *Spec) Check(ip, mac string, port int) bool {
	if ports, ok := sp.Specific[ip]; ok && ip != "" {
		return ports.Has(port)
	}
	if ports, ok := sp.Specific[mac]; ok && mac != "" {
		return ports.Has(port)
	}
	if sp.All {
		return true
	}
	return sp.IPs.Has(ip) && sp.MACs.Has(mac) && sp.Ports.Has(port)
}

// Contains reports whether addr alone, either an ip or a mac, is selected
// by the group. Ports and bindings are ignored.
func (sp *Spec) Contains(addr string) bool {
	if sp.All {
		return true
	}
	if mac, err := NormalizeMAC(addr); err == nil {
		return sp.MACs.Has(mac)
	}
	if ip, err := NormalizeIP(addr); err == nil {
		return sp.IPs.Has(ip)
	}
	return false
}

// ContainsTarget is Contains applied to both addresses of t. A missing
// address only matches a wildcard field.
func (sp *Spec) ContainsTarget(t *Target) bool {
	if sp.All {
		return true
	}
	ip, mac := t.addrs()
	ipOK := sp.IPs == nil || (ip != "" && sp.IPs.Has(ip))
	macOK := sp.MACs == nil || (mac != "" && sp.MACs.Has(mac))
	return ipOK && macOK
}

// WildcardIP reports whether the group selects every protocol address.
func (sp *Spec) WildcardIP() bool {
	return sp.All || sp.IPs == nil
}

// Bind attaches ports to addr so that Check uses them for that host.
func (sp *Spec) Bind(addr string, ports PortSet) {
	if sp.Specific == nil {
		sp.Specific = map[string]PortSet{}
	}
	sp.Specific[addr] = ports
}

func (sp *Spec) String() string {
	return sp.raw
}

// ExpandIPs parses the IP field. Entries are separated by ';' or ','.
// "a.b.c.d-e" is a last-octet range and a bare number after a full
// address is a last-octet sibling of it, so "10.0.0.1,5" selects
// 10.0.0.1 and 10.0.0.5. An empty field returns a nil set.
func ExpandIPs(field string) (AddrSet, error) {
	field = strings.TrimSpace(field)
	if field == "" {
		return nil, nil
	}

	out := AddrSet{}
	for _, group := range strings.Split(field, ";") {
		group = strings.TrimSpace(group)
		if group == "" {
			return nil, fmt.Errorf("empty ip entry in %q", field)
		}

		if strings.Contains(group, "-") {
			if strings.Contains(group, ",") {
				return nil, fmt.Errorf("ip range %q cannot be combined with ','", group)
			}
			if err := expandIPRange(group, out); err != nil {
				return nil, err
			}
			continue
		}

		var prev netip.Addr
		for i, tok := range strings.Split(group, ",") {
			tok = strings.TrimSpace(tok)
			if addr, err := netip.ParseAddr(tok); err == nil {
				addr = addr.Unmap()
				out[addr.String()] = struct{}{}
				prev = addr
				continue
			}
			if i == 0 || !prev.Is4() {
				return nil, fmt.Errorf("%w: ip %q", ErrInvalidAddress, tok)
			}
			octet, err := parseOctet(tok)
			if err != nil {
				return nil, err
			}
			b := prev.As4()
			b[3] = octet
			out[netip.AddrFrom4(b).String()] = struct{}{}
		}
	}

	return out, nil
}

func expandIPRange(s string, out AddrSet) error {
	first, last, ok := strings.Cut(s, "-")
	if !ok || strings.Contains(last, "-") {
		return fmt.Errorf("invalid ip range %q", s)
	}

	start, err := netip.ParseAddr(strings.TrimSpace(first))
	if err != nil || !start.Is4() {
		return fmt.Errorf("%w: ip range start %q", ErrInvalidAddress, first)
	}
	end, err := parseOctet(strings.TrimSpace(last))
	if err != nil {
		return err
	}

	b := start.As4()
	if end < b[3] {
		return fmt.Errorf("invalid ip range %q: end before start", s)
	}
	for o := int(b[3]); o <= int(end); o++ {
		b[3] = byte(o)
		out[netip.AddrFrom4(b).String()] = struct{}{}
	}
	return nil
}

func parseOctet(s string) (byte, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 || n > 255 {
		return 0, fmt.Errorf("invalid octet %q", s)
	}
	return byte(n), nil
}

// ExpandMACs parses a comma separated MAC list. An empty field returns a
// nil set.
func ExpandMACs(field string) (AddrSet, error) {
	field = strings.TrimSpace(field)
	if field == "" {
		return nil, nil
	}

	out := AddrSet{}
	for _, tok := range strings.Split(field, ",") {
		mac, err := NormalizeMAC(tok)
		if err != nil {
			return nil, err
		}
		out[mac] = struct{}{}
	}
	return out, nil
}

// ExpandPorts parses a comma separated list of ports and "n-m" ranges. An
// empty field returns a nil set.
func ExpandPorts(field string) (PortSet, error) {
	field = strings.TrimSpace(field)
	if field == "" {
		return nil, nil
	}

	out := PortSet{}
	for _, tok := range strings.Split(field, ",") {
		tok = strings.TrimSpace(tok)
		if first, last, ok := strings.Cut(tok, "-"); ok {
			lo, err := parsePort(first)
			if err != nil {
				return nil, err
			}
			hi, err := parsePort(last)
			if err != nil {
				return nil, err
			}
			if hi < lo {
				return nil, fmt.Errorf("invalid port range %q: end before start", tok)
			}
			for p := lo; p <= hi; p++ {
				out[p] = struct{}{}
			}
			continue
		}

		p, err := parsePort(tok)
		if err != nil {
			return nil, err
		}
		out[p] = struct{}{}
	}
	return out, nil
}

func parsePort(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	if n < 0 || n > maxPort {
		return 0, fmt.Errorf("port %d out of range (0-%d)", n, maxPort)
	}
	return n, nil
}
