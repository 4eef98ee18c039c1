package discovery

import (
	"fmt"
	"net"

	"github.com/projectdiscovery/mapcidr"

	"gonetcut/internal/target"
)

// BuildScanList returns the addresses discovery looks for. When either
// group selects every IP the whole network is scanned, otherwise the union
// of both IP sets. Our own address and the gateway are never included.
func BuildScanList(t1, t2 *target.Spec, network *net.IPNet, self, gateway net.IP) ([]string, error) {
	skip := map[string]bool{}
	if self != nil {
		skip[self.String()] = true
	}
	if gateway != nil {
		skip[gateway.String()] = true
	}

	if t1.WildcardIP() || t2.WildcardIP() {
		return networkHosts(network, skip)
	}

	var out []string
	for _, ip := range append(t1.IPs.Sorted(), t2.IPs.Sorted()...) {
		if skip[ip] {
			continue
		}
		skip[ip] = true
		out = append(out, ip)
	}
	return out, nil
}

func networkHosts(network *net.IPNet, skip map[string]bool) ([]string, error) {
	if network == nil {
		return nil, fmt.Errorf("no network to scan")
	}

	ips, err := mapcidr.IPAddresses(network.String())
	if err != nil {
		return nil, fmt.Errorf("failed to expand %s: %w", network, err)
	}

	ones, bits := network.Mask.Size()
	edges := bits-ones > 1
	out := make([]string, 0, len(ips))
	for _, s := range ips {
		ip := net.ParseIP(s)
		if ip == nil || skip[ip.String()] {
			continue
		}
		if edges && isNetworkOrBroadcast(ip, network) {
			continue
		}
		out = append(out, ip.String())
	}
	return out, nil
}

func isNetworkOrBroadcast(ip net.IP, network *net.IPNet) bool {
	base := network.IP.Mask(network.Mask)
	if ip.Equal(base) {
		return true
	}

	broadcast := make(net.IP, len(base))
	copy(broadcast, base)
	mask := network.Mask
	if len(mask) != len(broadcast) {
		mask = mask[len(mask)-len(broadcast):]
	}
	for i := range broadcast {
		broadcast[i] |= ^mask[i]
	}
	return ip.Equal(broadcast)
}
