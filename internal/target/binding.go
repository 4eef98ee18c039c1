package target

import (
	"fmt"
	"strings"
)

// Binding is a user supplied "IP/MAC/PORT" entry that pins a port set to
// one host and, when both addresses are given, declares a permanent target.
type Binding struct {
	IP    string
	MAC   string
	Ports PortSet
}

func ParseBinding(s string) (Binding, error) {
	parts := strings.Split(strings.TrimSpace(s), "/")
	if len(parts) != 3 {
		return Binding{}, fmt.Errorf("%w: binding %q: expected IP/MAC/PORT", ErrInvalidSpec, s)
	}

	var b Binding
	if parts[0] != "" {
		ip, err := NormalizeIP(parts[0])
		if err != nil {
			return Binding{}, fmt.Errorf("%w: binding %q: %w", ErrInvalidSpec, s, err)
		}
		b.IP = ip
	}
	if parts[1] != "" {
		mac, err := NormalizeMAC(parts[1])
		if err != nil {
			return Binding{}, fmt.Errorf("%w: binding %q: %w", ErrInvalidSpec, s, err)
		}
		b.MAC = mac
	}
	ports, err := ExpandPorts(parts[2])
	if err != nil {
		return Binding{}, fmt.Errorf("%w: binding %q: %w", ErrInvalidSpec, s, err)
	}
	b.Ports = ports

	if b.IP == "" && b.MAC == "" {
		return Binding{}, fmt.Errorf("%w: binding %q has no address", ErrInvalidSpec, s)
	}
	return b, nil
}

// Apply binds the ports in every spec whose matching field admits the
// host. The MAC is preferred as the key when present. It returns the
// number of specs that accepted the binding.
func (b Binding) Apply(specs ...*Spec) int {
	n := 0
	for _, sp := range specs {
		switch {
		case b.MAC != "":
			if sp.All || sp.MACs.Has(b.MAC) {
				sp.Bind(b.MAC, b.Ports)
				n++
			}
		case b.IP != "":
			if sp.All || sp.IPs.Has(b.IP) {
				sp.Bind(b.IP, b.Ports)
				n++
			}
		}
	}
	return n
}

// Permanent returns the permanent target declared by the binding, or nil
// when it lacks an address or names the gateway.
func (b Binding) Permanent(gateway *Target, opts ...Option) *Target {
	if b.IP == "" || b.MAC == "" {
		return nil
	}
	if gateway != nil && (b.IP == gateway.IP() || b.MAC == gateway.MAC()) {
		return nil
	}

	t, err := New(b.IP, b.MAC, append(opts, Permanent())...)
	if err != nil {
		return nil
	}
	return t
}
