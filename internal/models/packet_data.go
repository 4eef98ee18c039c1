package models

import (
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// Frame is one captured link-layer frame travelling through the
// interception pipeline. A nil *Frame is the end-of-capture marker.
type Frame struct {
	Packet    gopacket.Packet
	Timestamp time.Time
	// Replayed is set for frames read from a capture file.
	Replayed bool
}

// NewFrame decodes data as an Ethernet frame.
func NewFrame(data []byte, ci gopacket.CaptureInfo, replayed bool) *Frame {
	pkt := gopacket.NewPacket(data, layers.LayerTypeEthernet, gopacket.Default)
	md := pkt.Metadata()
	md.CaptureInfo = ci
	return &Frame{Packet: pkt, Timestamp: ci.Timestamp, Replayed: replayed}
}

// Endpoints is the addressing information the classifier works with.
// Port is -1 when the frame has no TCP or UDP layer.
type Endpoints struct {
	SrcIP, DstIP   string
	SrcMAC, DstMAC string
	SrcPort        int
	DstPort        int
	HasNetwork     bool
	HasTransport   bool
}

// Endpoints extracts link, network and transport addresses. Missing
// layers leave their fields empty.
func (f *Frame) Endpoints() Endpoints {
	ep := Endpoints{SrcPort: -1, DstPort: -1}
	if f == nil || f.Packet == nil {
		return ep
	}

	if eth, ok := f.Packet.LinkLayer().(*layers.Ethernet); ok {
		ep.SrcMAC = eth.SrcMAC.String()
		ep.DstMAC = eth.DstMAC.String()
	}

	switch nl := f.Packet.NetworkLayer().(type) {
	case *layers.IPv4:
		ep.SrcIP, ep.DstIP = nl.SrcIP.String(), nl.DstIP.String()
		ep.HasNetwork = true
	case *layers.IPv6:
		ep.SrcIP, ep.DstIP = nl.SrcIP.String(), nl.DstIP.String()
		ep.HasNetwork = true
	}

	switch tl := f.Packet.TransportLayer().(type) {
	case *layers.TCP:
		ep.SrcPort, ep.DstPort = int(tl.SrcPort), int(tl.DstPort)
		ep.HasTransport = true
	case *layers.UDP:
		ep.SrcPort, ep.DstPort = int(tl.SrcPort), int(tl.DstPort)
		ep.HasTransport = true
	}

	return ep
}

// PacketData holds the extracted information from a network packet.
type PacketData struct {
	Timestamp time.Time
	SrcIP     string
	DstIP     string
	SrcPort   int
	DstPort   int
	Protocol  string
	Length    int

	Hostname string // Best available hostname (SNI > DNS > HTTP)
	EthDst   string // Destination MAC address (for broadcast detection)
}

// NewPacketData summarizes a decoded frame for the statistics decoders.
func NewPacketData(f *Frame) PacketData {
	ep := f.Endpoints()
	pd := PacketData{
		Timestamp: f.Timestamp,
		SrcIP:     ep.SrcIP,
		DstIP:     ep.DstIP,
		SrcPort:   max(ep.SrcPort, 0),
		DstPort:   max(ep.DstPort, 0),
		EthDst:    ep.DstMAC,
		Length:    len(f.Packet.Data()),
		Protocol:  protocolName(f.Packet),
	}
	if pd.Timestamp.IsZero() {
		pd.Timestamp = time.Now()
	}
	return pd
}

func protocolName(pkt gopacket.Packet) string {
	if app := pkt.ApplicationLayer(); app != nil {
		switch app.LayerType() {
		case layers.LayerTypeDNS:
			return "DNS"
		case layers.LayerTypeTLS:
			return "TLS"
		}
	}
	if tl := pkt.TransportLayer(); tl != nil {
		return tl.LayerType().String()
	}
	if nl := pkt.NetworkLayer(); nl != nil {
		if pkt.Layer(layers.LayerTypeICMPv4) != nil {
			return "ICMP"
		}
		if pkt.Layer(layers.LayerTypeICMPv6) != nil {
			return "ICMPv6"
		}
		return nl.LayerType().String()
	}
	if pkt.Layer(layers.LayerTypeARP) != nil {
		return "ARP"
	}
	if ll := pkt.LinkLayer(); ll != nil {
		return ll.LayerType().String()
	}
	return "Unknown"
}
