package platform

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"golang.org/x/net/ipv4"
)

var ErrNotIPv4 = errors.New("not an ipv4 datagram")

// RawSender writes complete network-layer datagrams, header included,
// and lets the kernel route them to their destination.
type RawSender interface {
	SendIP(datagram []byte) error
	Close() error
}

// IPv4RawSender is a header-included raw IPv4 socket.
type IPv4RawSender struct {
	mu sync.Mutex
	rc *ipv4.RawConn
}

func NewIPv4RawSender() (*IPv4RawSender, error) {
	// protocol 255 (IPPROTO_RAW) is send only and implies IP_HDRINCL
	pc, err := net.ListenPacket("ip4:255", "0.0.0.0")
	if err != nil {
		return nil, fmt.Errorf("failed to open raw socket: %w", err)
	}
	rc, err := ipv4.NewRawConn(pc)
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("failed to open raw ipv4 conn: %w", err)
	}
	return &IPv4RawSender{rc: rc}, nil
}

func (s *IPv4RawSender) SendIP(datagram []byte) error {
	if len(datagram) < ipv4.HeaderLen || datagram[0]>>4 != 4 {
		return ErrNotIPv4
	}

	h, err := ipv4.ParseHeader(datagram)
	if err != nil {
		return fmt.Errorf("failed to parse ipv4 header: %w", err)
	}
	if h.Len > len(datagram) {
		return fmt.Errorf("%w: header longer than datagram", ErrNotIPv4)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rc.WriteTo(h, datagram[h.Len:], nil)
}

func (s *IPv4RawSender) Close() error {
	return s.rc.Close()
}
