package inject

import (
	"fmt"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

var (
	BroadcastMAC = net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
	zeroMAC      = net.HardwareAddr{0, 0, 0, 0, 0, 0}
)

// ARPRequest builds a broadcast "who has dstIP, tell srcIP" frame sent
// from srcMAC.
func ARPRequest(srcMAC net.HardwareAddr, srcIP, dstIP net.IP) ([]byte, error) {
	return arpFrame(layers.ARPRequest, srcMAC, BroadcastMAC, srcMAC, srcIP, zeroMAC, dstIP)
}

// ARPReply builds a unicast "srcIP is at srcMAC" frame for dstMAC/dstIP.
// The link source is srcMAC as well, so the same builder serves forged
// and genuine replies.
func ARPReply(srcMAC net.HardwareAddr, srcIP net.IP, dstMAC net.HardwareAddr, dstIP net.IP) ([]byte, error) {
	return arpFrame(layers.ARPReply, srcMAC, dstMAC, srcMAC, srcIP, dstMAC, dstIP)
}

func arpFrame(
	op uint16,
	ethSrc, ethDst net.HardwareAddr,
	hwSrc net.HardwareAddr,
	protoSrc net.IP,
	hwDst net.HardwareAddr,
	protoDst net.IP,
) ([]byte, error) {
	src4, dst4 := protoSrc.To4(), protoDst.To4()
	if src4 == nil || dst4 == nil {
		return nil, fmt.Errorf("arp needs ipv4 addresses, got %v -> %v", protoSrc, protoDst)
	}
	if len(ethSrc) != 6 || len(ethDst) != 6 || len(hwSrc) != 6 || len(hwDst) != 6 {
		return nil, fmt.Errorf("arp needs 6 byte hardware addresses")
	}

	eth := layers.Ethernet{
		SrcMAC:       ethSrc,
		DstMAC:       ethDst,
		EthernetType: layers.EthernetTypeARP,
	}
	arp := layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         op,
		SourceHwAddress:   []byte(hwSrc),
		SourceProtAddress: []byte(src4),
		DstHwAddress:      []byte(hwDst),
		DstProtAddress:    []byte(dst4),
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, &eth, &arp); err != nil {
		return nil, fmt.Errorf("failed to serialize arp frame: %w", err)
	}
	return buf.Bytes(), nil
}
