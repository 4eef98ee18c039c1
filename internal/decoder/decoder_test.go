package decoder

import (
	"bytes"
	"encoding/binary"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/miekg/dns"
	"github.com/projectdiscovery/gcache"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gonetcut/internal/analysis"
	"gonetcut/internal/models"
)

type countingDecoder struct {
	name  string
	calls int
	err   error
	panic bool
}

func (c *countingDecoder) Name() string { return c.name }

func (c *countingDecoder) Decode(*models.Frame) error {
	c.calls++
	if c.panic {
		panic("bad decoder")
	}
	return c.err
}

func TestChainContainsFailures(t *testing.T) {
	failing := &countingDecoder{name: "failing", err: errors.New("nope")}
	panicking := &countingDecoder{name: "panicking", panic: true}
	healthy := &countingDecoder{name: "healthy"}

	chain := NewChain(zerolog.Nop(), failing, panicking, healthy)
	chain.Decode(&models.Frame{})
	chain.Decode(&models.Frame{})

	assert.Equal(t, 2, failing.calls)
	assert.Equal(t, 2, panicking.calls)
	assert.Equal(t, 2, healthy.calls)
	assert.Equal(t, []string{"failing", "panicking", "healthy"}, chain.Names())
}

func TestRegistryBuild(t *testing.T) {
	newRegistry := func(t *testing.T) *Registry {
		r := NewRegistry()
		require.NoError(t, RegisterBuiltins(r))
		require.NoError(t, r.Register("broken", func(Deps) (Decoder, error) {
			return nil, errors.New("missing dependency")
		}))
		return r
	}

	tcs := []struct {
		name      string
		selection []string
		want      []string
		wantErr   error
	}{
		{name: "all", selection: []string{"*"}, want: []string{"anomaly", "hosts", "stats"}},
		{name: "subset", selection: []string{"Stats", " hosts "}, want: []string{"hosts", "stats"}},
		{name: "duplicates", selection: []string{"stats", "*", "stats"}, want: []string{"anomaly", "hosts", "stats"}},
		{name: "none", selection: nil, want: []string{}},
		{name: "unavailable skipped", selection: []string{"broken", "stats"}, want: []string{"stats"}},
		{name: "unknown", selection: []string{"stats", "ftp"}, wantErr: ErrUnknown},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			r := newRegistry(t)
			chain, err := r.Build(tc.selection, Deps{Logger: zerolog.Nop(), Stats: analysis.NewTrafficStats(nil)})
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, chain.Names())
		})
	}
}

func TestRegistryDuplicate(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, RegisterBuiltins(r))
	assert.ErrorIs(t, RegisterBuiltins(r), ErrDuplicate)
	assert.Equal(t, []string{"anomaly", "hosts", "stats"}, r.Names())
}

func TestBuiltinsNeedStats(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, RegisterBuiltins(r))

	chain, err := r.Build([]string{"*"}, Deps{Logger: zerolog.Nop()})
	require.NoError(t, err)
	assert.Zero(t, chain.Len())
}

func udpFrame(t *testing.T, srcPort, dstPort int, payload []byte) *models.Frame {
	t.Helper()
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0xaa, 0, 0, 0, 0, 2},
		DstMAC:       net.HardwareAddr{2, 0, 0, 0, 0, 1},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version: 4, TTL: 64, Protocol: layers.IPProtocolUDP,
		SrcIP: net.IP{10, 0, 0, 2}, DstIP: net.IP{10, 0, 0, 254},
	}
	udp := &layers.UDP{SrcPort: layers.UDPPort(srcPort), DstPort: layers.UDPPort(dstPort)}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))
	return serialize(t, eth, ip, udp, gopacket.Payload(payload))
}

func tcpFrame(t *testing.T, dstPort int, payload []byte) *models.Frame {
	t.Helper()
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0xaa, 0, 0, 0, 0, 2},
		DstMAC:       net.HardwareAddr{2, 0, 0, 0, 0, 1},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version: 4, TTL: 64, Protocol: layers.IPProtocolTCP,
		SrcIP: net.IP{10, 0, 0, 2}, DstIP: net.IP{93, 184, 216, 34},
	}
	tcp := &layers.TCP{SrcPort: 50000, DstPort: layers.TCPPort(dstPort), PSH: true, ACK: true, Window: 1024}
	require.NoError(t, tcp.SetNetworkLayerForChecksum(ip))
	return serialize(t, eth, ip, tcp, gopacket.Payload(payload))
}

func serialize(t *testing.T, ls ...gopacket.SerializableLayer) *models.Frame {
	t.Helper()
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, ls...))
	return models.NewFrame(buf.Bytes(), gopacket.CaptureInfo{Timestamp: time.Now()}, false)
}

func dnsQuery(t *testing.T, name string) []byte {
	t.Helper()
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(name), dns.TypeA)
	raw, err := msg.Pack()
	require.NoError(t, err)
	return raw
}

func clientHello(host string) []byte {
	sni := []byte{0x00, 0x00}
	list := append([]byte{0x00}, u16(len(host))...)
	list = append(list, host...)
	ext := append(u16(len(list)), list...)
	sni = append(sni, u16(len(ext))...)
	sni = append(sni, ext...)

	body := []byte{0x03, 0x03}
	body = append(body, make([]byte, 32)...)     // random
	body = append(body, 0x00)                    // session id
	body = append(body, 0x00, 0x02, 0x13, 0x01)  // one cipher suite
	body = append(body, 0x01, 0x00)              // null compression
	body = append(body, u16(len(sni))...)
	body = append(body, sni...)

	hs := []byte{0x01, 0x00}
	hs = append(hs, u16(len(body))...)
	hs = append(hs, body...)

	rec := []byte{0x16, 0x03, 0x01}
	rec = append(rec, u16(len(hs))...)
	return append(rec, hs...)
}

func u16(n int) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, uint16(n))
	return b
}

func TestHostsDecoder(t *testing.T) {
	tcs := []struct {
		name   string
		frame  func(t *testing.T) *models.Frame
		host   string
		source string
	}{
		{
			name:   "dns question",
			frame:  func(t *testing.T) *models.Frame { return udpFrame(t, 40000, 53, dnsQuery(t, "Example.COM")) },
			host:   "example.com",
			source: "DNS",
		},
		{
			name:   "tls server name",
			frame:  func(t *testing.T) *models.Frame { return tcpFrame(t, 443, clientHello("secure.example.org")) },
			host:   "secure.example.org",
			source: "SNI",
		},
		{
			name: "http host",
			frame: func(t *testing.T) *models.Frame {
				return tcpFrame(t, 8080, []byte("GET /index.html HTTP/1.1\r\nHost: plain.example.net:8080\r\n\r\n"))
			},
			host:   "plain.example.net",
			source: "HTTP",
		},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			stats := analysis.NewTrafficStats(nil)
			d, err := newHostsDecoder(Deps{Logger: zerolog.Nop(), Stats: stats})
			require.NoError(t, err)

			frame := tc.frame(t)
			require.NoError(t, d.Decode(frame))
			require.NoError(t, d.Decode(frame))

			log := stats.GetDomainLog()
			require.Len(t, log, 1)
			assert.Equal(t, tc.host, log[0].Hostname)
			assert.Equal(t, tc.source, log[0].Source)
			assert.Equal(t, "10.0.0.2", log[0].Client)
		})
	}
}

func TestHostsDecoderIgnoresNoise(t *testing.T) {
	stats := analysis.NewTrafficStats(nil)
	d, err := newHostsDecoder(Deps{Logger: zerolog.Nop(), Stats: stats})
	require.NoError(t, err)

	assert.NoError(t, d.Decode(tcpFrame(t, 443, []byte{0x17, 0x03, 0x03, 0x00, 0x10})))
	assert.NoError(t, d.Decode(tcpFrame(t, 80, []byte("not an http request at all"))))
	assert.Error(t, d.Decode(udpFrame(t, 40000, 53, []byte{0x01})))
	assert.Empty(t, stats.GetDomainLog())
}

type failingCache struct {
	gcache.Cache[string, struct{}]
}

func (failingCache) Set(string, struct{}) error { return errors.New("cache full") }

func TestHostsDecoderCacheFailure(t *testing.T) {
	prev := zerolog.GlobalLevel()
	zerolog.SetGlobalLevel(zerolog.TraceLevel)
	t.Cleanup(func() { zerolog.SetGlobalLevel(prev) })

	var buf bytes.Buffer
	stats := analysis.NewTrafficStats(nil)
	dec, err := newHostsDecoder(Deps{Logger: zerolog.New(&buf).Level(zerolog.TraceLevel), Stats: stats})
	require.NoError(t, err)
	d := dec.(*hostsDecoder)
	d.seen = failingCache{Cache: d.seen}

	frame := udpFrame(t, 40000, 53, dnsQuery(t, "example.com"))
	require.NoError(t, d.Decode(frame))
	require.NoError(t, d.Decode(frame))

	assert.Len(t, stats.GetDomainLog(), 2, "uncached names are reported again")
	assert.Contains(t, buf.String(), `"level":"trace"`)
	assert.Contains(t, buf.String(), "cache full")
}

func TestServerNameMalformed(t *testing.T) {
	hello := clientHello("example.com")
	_, err := serverName(hello[:50])
	assert.ErrorIs(t, err, errMalformedHello)
}

func TestStatsAndAnomalyDecoders(t *testing.T) {
	stats := analysis.NewTrafficStats(nil)
	r := NewRegistry()
	require.NoError(t, RegisterBuiltins(r))
	chain, err := r.Build([]string{"stats", "anomaly"}, Deps{Logger: zerolog.Nop(), Stats: stats})
	require.NoError(t, err)

	chain.Decode(tcpFrame(t, 21, []byte("USER anonymous\r\n")))

	assert.NotZero(t, stats.GetTotalDataTransferred())
	require.Len(t, stats.GetAllAlerts(), 1)
	assert.Equal(t, analysis.AnomalyCleartext, stats.GetAllAlerts()[0].Type)
}
