package platform

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
)

// ErrTimeout is returned by Capture.ReadPacketData when the read timeout
// expired without a frame.
var ErrTimeout = errors.New("capture read timeout")

// Capture is a packet source that can also send frames. *pcap.Handle is
// wrapped to satisfy it.
type Capture interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	WritePacketData(data []byte) error
	SetBPFFilter(expr string) error
	LinkType() layers.LinkType
	Close()
}

type CaptureConfig struct {
	Snaplen int32
	Promisc bool
	// Timeout bounds every ReadPacketData call. Zero blocks forever.
	Timeout time.Duration
	Filter  string
}

func (c CaptureConfig) withDefaults() CaptureConfig {
	if c.Snaplen <= 0 {
		c.Snaplen = 65535
	}
	return c
}

type pcapCapture struct {
	*pcap.Handle
}

func (c pcapCapture) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	data, ci, err := c.Handle.ReadPacketData()
	if errors.Is(err, pcap.NextErrorTimeoutExpired) {
		return nil, ci, ErrTimeout
	}
	return data, ci, err
}

// OpenLive opens iface for capture and injection.
func OpenLive(iface string, cfg CaptureConfig) (Capture, error) {
	cfg = cfg.withDefaults()

	timeout := pcap.BlockForever
	if cfg.Timeout > 0 {
		timeout = cfg.Timeout
	}

	handle, err := pcap.OpenLive(iface, cfg.Snaplen, cfg.Promisc, timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to open pcap handle on %s: %w", iface, err)
	}
	if cfg.Filter != "" {
		if err := handle.SetBPFFilter(cfg.Filter); err != nil {
			handle.Close()
			return nil, fmt.Errorf("could not set BPF filter %q: %w", cfg.Filter, err)
		}
	}
	return pcapCapture{handle}, nil
}

// OpenOffline replays a capture file.
func OpenOffline(path, filter string) (Capture, error) {
	handle, err := pcap.OpenOffline(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture file %s: %w", path, err)
	}
	if filter != "" {
		if err := handle.SetBPFFilter(filter); err != nil {
			handle.Close()
			return nil, fmt.Errorf("could not set BPF filter %q: %w", filter, err)
		}
	}
	return pcapCapture{handle}, nil
}
