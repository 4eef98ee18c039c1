package engine

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/miekg/dns"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gonetcut/internal/config"
	"gonetcut/internal/discovery"
	"gonetcut/internal/koala"
	"gonetcut/internal/platform"
	"gonetcut/internal/target"
)

var (
	ourMAC = net.HardwareAddr{2, 0, 0, 0, 0, 1}
	gwMAC  = net.HardwareAddr{0xaa, 0, 0, 0, 0, 0xfe}
)

type fakeCapture struct {
	mu     sync.Mutex
	frames [][]byte
	live   bool
	writes [][]byte
	closed bool
}

func (c *fakeCapture) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	c.mu.Lock()
	if len(c.frames) == 0 {
		c.mu.Unlock()
		if c.live {
			time.Sleep(time.Millisecond)
			return nil, gopacket.CaptureInfo{}, platform.ErrTimeout
		}
		return nil, gopacket.CaptureInfo{}, io.EOF
	}
	defer c.mu.Unlock()
	f := c.frames[0]
	c.frames = c.frames[1:]
	return f, gopacket.CaptureInfo{Timestamp: time.Now(), CaptureLength: len(f), Length: len(f)}, nil
}

func (c *fakeCapture) WritePacketData(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, data)
	return nil
}

func (c *fakeCapture) SetBPFFilter(string) error { return nil }
func (c *fakeCapture) LinkType() layers.LinkType { return layers.LinkTypeEthernet }

func (c *fakeCapture) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeCapture) written() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.writes)
}

func (c *fakeCapture) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type fakeForwarding struct {
	mu    sync.Mutex
	on    bool
	calls []bool
}

func (f *fakeForwarding) IPForwarding() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.on, nil
}

func (f *fakeForwarding) SetIPForwarding(on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, on)
	f.on = on
	return nil
}

type recordingRaw struct {
	mu     sync.Mutex
	sent   [][]byte
	closed bool
}

func (r *recordingRaw) SendIP(datagram []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, datagram)
	return nil
}

func (r *recordingRaw) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

type staticTable []platform.ARPEntry

func (s staticTable) Entries(string) ([]platform.ARPEntry, error) { return s, nil }

type fakePlatform struct {
	handle  *fakeCapture
	sniff   *fakeCapture
	offline *fakeCapture
	raw     *recordingRaw
	fwd     *fakeForwarding
	gwErr   error
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		handle:  &fakeCapture{live: true},
		sniff:   &fakeCapture{live: true},
		offline: &fakeCapture{},
		raw:     &recordingRaw{},
		fwd:     &fakeForwarding{},
	}
}

func (f *fakePlatform) platform() Platform {
	return Platform{
		LookupInterface: func(name string) (*platform.Interface, error) {
			return &platform.Interface{
				Name:    name,
				MAC:     ourMAC,
				IP:      net.IP{10, 0, 0, 1},
				Network: &net.IPNet{IP: net.IP{10, 0, 0, 0}, Mask: net.CIDRMask(24, 32)},
			}, nil
		},
		DefaultGateway: func() (net.IP, error) {
			if f.gwErr != nil {
				return nil, f.gwErr
			}
			return net.IP{10, 0, 0, 254}, nil
		},
		OpenLive: func(_ string, cfg platform.CaptureConfig) (platform.Capture, error) {
			switch {
			case cfg.Filter == "arp":
				return f.handle, nil
			case strings.HasPrefix(cfg.Filter, "arp["):
				return &fakeCapture{live: true}, nil
			}
			return f.sniff, nil
		},
		OpenOffline: func(string, string) (platform.Capture, error) {
			return f.offline, nil
		},
		NewRawSender: func() (platform.RawSender, error) {
			return f.raw, nil
		},
		ARPTable: staticTable{{IP: "10.0.0.254", MAC: gwMAC.String(), Interface: "eth0"}},
		Forwarder: f.fwd,
	}
}

func udpFrame(t *testing.T, dstMAC net.HardwareAddr, src, dst net.IP, dport uint16, payload []byte) []byte {
	t.Helper()
	eth := &layers.Ethernet{SrcMAC: net.HardwareAddr{0xaa, 0, 0, 0, 0, 2}, DstMAC: dstMAC, EthernetType: layers.EthernetTypeIPv4}
	ip := &layers.IPv4{Version: 4, TTL: 64, Protocol: layers.IPProtocolUDP, SrcIP: src, DstIP: dst}
	udp := &layers.UDP{SrcPort: 40000, DstPort: layers.UDPPort(dport)}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(payload)))
	return buf.Bytes()
}

func dnsQuery(t *testing.T, name string) []byte {
	t.Helper()
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(name), dns.TypeA)
	out, err := msg.Pack()
	require.NoError(t, err)
	return out
}

func discoveryUpdate(t *testing.T) discovery.Update {
	t.Helper()
	lost, err := target.New("10.0.0.9", "aa:00:00:00:00:09")
	require.NoError(t, err)
	return discovery.Update{Lost: []*target.Target{lost}, At: time.Now()}
}

func liveConfig() *config.Config {
	cfg := config.Default()
	cfg.Core.Interface = "eth0"
	cfg.Discovery.Profile = "disabled"
	cfg.Attack.Interval = config.Duration{Duration: time.Hour}
	cfg.Attack.RearpGap = config.Duration{Duration: time.Millisecond}
	cfg.Attack.Bindings = []string{"10.0.0.2/aa:00:00:00:00:02/"}
	cfg.Sniff.Timeout = config.Duration{Duration: 5 * time.Millisecond}
	return cfg
}

func TestReplayRun(t *testing.T) {
	fp := newFakePlatform()
	fp.offline.frames = [][]byte{
		udpFrame(t, ourMAC, net.IP{10, 0, 0, 2}, net.IP{10, 0, 0, 53}, 53, dnsQuery(t, "example.com")),
		udpFrame(t, gwMAC, net.IP{10, 0, 0, 3}, net.IP{10, 0, 0, 4}, 9999, []byte("x")),
	}

	cfg := config.Default()
	cfg.Sniff.Read = "session.pcap"
	cfg.Decoders.Enabled = []string{"*"}

	m, err := New(zerolog.Nop(), cfg, fp.platform())
	require.NoError(t, err)
	require.NoError(t, m.Start(context.Background()))

	select {
	case <-m.Done():
	case <-time.After(time.Second):
		t.Fatal("replay did not finish")
	}
	m.Stop()
	m.Stop()

	snap := m.Snapshot()
	assert.Equal(t, koala.ModeReplay, snap.Mode)
	assert.Equal(t, "session.pcap", snap.Interface)
	assert.Equal(t, uint64(2), snap.Captured)
	assert.Equal(t, uint64(2), snap.Filter.Total)
	assert.Equal(t, uint64(2), snap.Filter.Decoded)
	assert.Zero(t, snap.Filter.Forwarded)
	assert.Equal(t, []string{"anomaly", "hosts", "stats"}, snap.Decoders)
	assert.Empty(t, snap.Spoofers)
	assert.False(t, snap.Running)

	domains := m.Traffic().GetAllDomains()
	require.Len(t, domains, 1)
	assert.Equal(t, "example.com", domains[0].Hostname)

	assert.True(t, fp.offline.isClosed())
	assert.Empty(t, fp.fwd.calls, "replay never touches forwarding")
	assert.Zero(t, fp.handle.written())
}

func TestLiveAttackRestoresVictims(t *testing.T) {
	fp := newFakePlatform()
	m, err := New(zerolog.Nop(), liveConfig(), fp.platform())
	require.NoError(t, err)

	require.NoError(t, m.Start(context.Background()))
	assert.ErrorIs(t, m.Start(context.Background()), ErrRunning)

	require.Eventually(t, func() bool { return fp.handle.written() >= 2 }, time.Second, time.Millisecond,
		"first cycle asks the new victim and the gateway")

	snap := m.Snapshot()
	assert.True(t, snap.Running)
	assert.Equal(t, "eth0", snap.Interface)
	require.NotNil(t, snap.Gateway)
	assert.Equal(t, gwMAC.String(), snap.Gateway.MAC)
	require.Len(t, snap.Targets, 1)
	assert.Equal(t, "10.0.0.2", snap.Targets[0].IP)
	assert.True(t, snap.Targets[0].Permanent)
	assert.Equal(t, []string{"arp"}, snap.Spoofers)

	m.Stop()
	assert.Equal(t, 2+4, fp.handle.written(), "two rounds of genuine replies in both directions")
	assert.True(t, fp.handle.isClosed())
	assert.Equal(t, []bool{true, false}, fp.fwd.calls, "kernel forwards while nothing is sniffed")
	assert.Equal(t, uint64(6), m.Snapshot().Injector.Sent)
}

func TestLiveSniffingForwards(t *testing.T) {
	fp := newFakePlatform()
	fp.sniff.frames = [][]byte{
		udpFrame(t, ourMAC, net.IP{10, 0, 0, 2}, net.IP{8, 8, 8, 8}, 9999, []byte("hello")),
		udpFrame(t, gwMAC, net.IP{10, 0, 0, 2}, net.IP{8, 8, 8, 8}, 9999, []byte("hello")),
	}

	cfg := liveConfig()
	cfg.Sniff.Enabled = true
	cfg.Attack.Spoofers = nil

	m, err := New(zerolog.Nop(), cfg, fp.platform())
	require.NoError(t, err)
	require.NoError(t, m.Start(context.Background()))

	require.Eventually(t, func() bool { return m.Snapshot().Filter.Total == 2 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return m.Snapshot().Filter.Forwarded == 1 }, time.Second, time.Millisecond)
	m.Stop()

	snap := m.Snapshot()
	assert.Equal(t, uint64(1), snap.Filter.Dropped)
	assert.Equal(t, []bool{false, false}, fp.fwd.calls, "active mode keeps the kernel out")
	fp.raw.mu.Lock()
	defer fp.raw.mu.Unlock()
	require.Len(t, fp.raw.sent, 1)
	assert.Equal(t, byte(0x45), fp.raw.sent[0][0])
	assert.True(t, fp.raw.closed)
	assert.True(t, fp.sniff.isClosed())
}

func TestStartFailureReleasesHandles(t *testing.T) {
	fp := newFakePlatform()
	fp.gwErr = errors.New("no route")

	m, err := New(zerolog.Nop(), liveConfig(), fp.platform())
	require.NoError(t, err)

	assert.Error(t, m.Start(context.Background()))
	assert.True(t, fp.handle.isClosed())
	assert.False(t, m.Snapshot().Running)
	m.Stop()
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	_, err := New(zerolog.Nop(), cfg, newFakePlatform().platform())
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestOnUpdateKeepsRecentEvents(t *testing.T) {
	m, err := New(zerolog.Nop(), liveConfig(), newFakePlatform().platform())
	require.NoError(t, err)

	for i := 0; i < maxEvents+5; i++ {
		m.events = append(m.events, Event{Target: "x"})
	}
	m.onUpdate(discoveryUpdate(t))
	snap := m.Snapshot()
	require.Len(t, snap.Events, maxEvents)
	last := snap.Events[len(snap.Events)-1]
	assert.True(t, last.Lost)
	assert.Contains(t, last.Target, "10.0.0.9")
}
