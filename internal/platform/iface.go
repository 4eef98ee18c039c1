package platform

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/jackpal/gateway"
	"github.com/rs/zerolog"

	"gonetcut/internal/inject"
)

// Interface is the local attachment point of the attack.
type Interface struct {
	Name    string
	MAC     net.HardwareAddr
	IP      net.IP
	Network *net.IPNet
	MTU     int
}

// LookupInterface resolves name and picks its first non-loopback IPv4
// address.
func LookupInterface(name string) (*Interface, error) {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return nil, fmt.Errorf("failed to get interface %s: %w", name, err)
	}
	if len(iface.HardwareAddr) != 6 {
		return nil, fmt.Errorf("interface %s has no ethernet address", name)
	}

	addrs, err := iface.Addrs()
	if err != nil {
		return nil, fmt.Errorf("failed to get interface addresses: %w", err)
	}
	for _, addr := range addrs {
		ipnet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		if ip4 := ipnet.IP.To4(); ip4 != nil && !ip4.IsLoopback() {
			return &Interface{
				Name:    iface.Name,
				MAC:     iface.HardwareAddr,
				IP:      ip4,
				Network: &net.IPNet{IP: ip4.Mask(ipnet.Mask), Mask: ipnet.Mask},
				MTU:     iface.MTU,
			}, nil
		}
	}
	return nil, errors.New("no IPv4 address found on interface")
}

// DefaultGateway asks the routing table for the default gateway.
func DefaultGateway() (net.IP, error) {
	ip, err := gateway.DiscoverGateway()
	if err != nil {
		return nil, fmt.Errorf("could not discover gateway: %w", err)
	}
	return ip, nil
}

// ResolveMAC finds the hardware address of ip, first in the OS cache and
// then by asking on the wire through capture.
func ResolveMAC(
	logger zerolog.Logger,
	table ARPTable,
	capture Capture,
	iface *Interface,
	ip net.IP,
	timeout time.Duration,
) (net.HardwareAddr, error) {
	if table != nil {
		if mac, ok := LookupARP(table, iface.Name, ip.String()); ok {
			if hw, err := net.ParseMAC(mac); err == nil {
				logger.Debug().Str("ip", ip.String()).Str("mac", mac).Msg("resolved from arp cache")
				return hw, nil
			}
		}
	}
	if capture == nil {
		return nil, fmt.Errorf("no arp cache entry for %s", ip)
	}
	return requestMAC(logger, capture, iface, ip, timeout)
}

func requestMAC(
	logger zerolog.Logger,
	capture Capture,
	iface *Interface,
	ip net.IP,
	timeout time.Duration,
) (net.HardwareAddr, error) {
	target := ip.To4()
	if target == nil {
		return nil, fmt.Errorf("invalid IPv4 address: %s", ip)
	}

	frame, err := inject.ARPRequest(iface.MAC, iface.IP, target)
	if err != nil {
		return nil, err
	}
	if err := capture.WritePacketData(frame); err != nil {
		return nil, fmt.Errorf("failed to write packet: %w", err)
	}
	logger.Debug().Str("ip", ip.String()).Msg("arp request sent")

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		data, _, err := capture.ReadPacketData()
		if errors.Is(err, ErrTimeout) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read reply: %w", err)
		}

		pkt := gopacket.NewPacket(data, layers.LayerTypeEthernet, gopacket.NoCopy)
		reply, ok := pkt.Layer(layers.LayerTypeARP).(*layers.ARP)
		if !ok || reply.Operation != layers.ARPReply {
			continue
		}
		if net.IP(reply.SourceProtAddress).Equal(target) {
			return net.HardwareAddr(reply.SourceHwAddress), nil
		}
	}
	return nil, fmt.Errorf("arp request for %s timed out", ip)
}
