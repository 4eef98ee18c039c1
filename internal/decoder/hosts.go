package decoder

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/gopacket/layers"
	"github.com/miekg/dns"
	"github.com/projectdiscovery/gcache"
	"github.com/rs/zerolog"

	"gonetcut/internal/analysis"
	"gonetcut/internal/models"
)

const (
	hostsCacheSize = 4096
	hostsCacheTTL  = time.Minute
)

var (
	errNotClientHello = errors.New("not a tls client hello")
	errMalformedHello = errors.New("malformed tls client hello")
)

// hostsDecoder reports the hostnames clients ask for: DNS questions, TLS
// server names and HTTP Host headers. Repeats of the same client and name
// inside hostsCacheTTL are reported once.
type hostsDecoder struct {
	logger zerolog.Logger
	stats  *analysis.TrafficStats
	seen   gcache.Cache[string, struct{}]
}

func newHostsDecoder(deps Deps) (Decoder, error) {
	if deps.Stats == nil {
		return nil, errNoStats
	}
	return &hostsDecoder{
		logger: deps.Logger,
		stats:  deps.Stats,
		seen: gcache.New[string, struct{}](hostsCacheSize).
			LRU().
			Expiration(hostsCacheTTL).
			Build(),
	}, nil
}

func (d *hostsDecoder) Name() string { return "hosts" }

func (d *hostsDecoder) Decode(f *models.Frame) error {
	ep := f.Endpoints()
	tl := f.Packet.TransportLayer()
	if tl == nil {
		return nil
	}
	// Raw bytes after the transport header, whatever gopacket made of them.
	payload := tl.LayerPayload()
	if len(payload) == 0 {
		return nil
	}
	if _, ok := tl.(*layers.TCP); ok && (ep.DstPort == 53 || ep.SrcPort == 53) {
		// DNS over TCP carries a two byte length prefix.
		if len(payload) < 2 {
			return nil
		}
		payload = payload[2:]
	}

	var (
		names  []string
		source string
		err    error
	)
	switch {
	case ep.DstPort == 53 || ep.SrcPort == 53:
		source = "DNS"
		names, err = dnsQuestions(payload)
	case ep.DstPort == 443 || ep.DstPort == 853:
		source = "SNI"
		var name string
		name, err = serverName(payload)
		if errors.Is(err, errNotClientHello) {
			return nil
		}
		names = []string{name}
	default:
		if name := httpHost(payload); name != "" {
			source = "HTTP"
			names = []string{name}
		}
	}
	if err != nil {
		return err
	}

	client := ep.SrcIP
	if ep.SrcPort == 53 {
		client = ep.DstIP
	}
	for _, name := range names {
		d.record(name, client, source, f.Timestamp)
	}
	return nil
}

func (d *hostsDecoder) record(name, client, source string, ts time.Time) {
	name = strings.TrimSuffix(strings.ToLower(name), ".")
	if name == "" {
		return
	}
	key := client + "|" + name
	if d.seen.Has(key) {
		return
	}
	if err := d.seen.Set(key, struct{}{}); err != nil {
		d.logger.Trace().Err(err).Str("host", name).Msg("hostname not cached, repeats will be reported")
	}

	d.stats.RecordDomain(name, client, source, ts)
	d.logger.Info().Str("client", client).Str("host", name).Str("via", source).Msg("hostname")
}

// dnsQuestions returns the query names of a DNS message.
func dnsQuestions(payload []byte) ([]string, error) {
	msg := new(dns.Msg)
	if err := msg.Unpack(payload); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(msg.Question))
	for _, q := range msg.Question {
		names = append(names, q.Name)
	}
	return names, nil
}

// serverName extracts the server_name extension of a TLS ClientHello
// record.
func serverName(raw []byte) (string, error) {
	// record header (5) + handshake header (4) + version (2) + random (32)
	if len(raw) < 43 || raw[0] != 0x16 || raw[5] != 0x01 {
		return "", errNotClientHello
	}
	curr := 43

	if curr >= len(raw) {
		return "", errMalformedHello
	}
	curr += 1 + int(raw[curr]) // session id

	if curr+2 > len(raw) {
		return "", errMalformedHello
	}
	curr += 2 + int(binary.BigEndian.Uint16(raw[curr:])) // cipher suites

	if curr+1 > len(raw) {
		return "", errMalformedHello
	}
	curr += 1 + int(raw[curr]) // compression methods

	if curr+2 > len(raw) {
		return "", nil
	}
	end := curr + 2 + int(binary.BigEndian.Uint16(raw[curr:]))
	curr += 2
	if end > len(raw) {
		end = len(raw)
	}

	for curr+4 <= end {
		extType := binary.BigEndian.Uint16(raw[curr:])
		extLen := int(binary.BigEndian.Uint16(raw[curr+2:]))
		curr += 4
		if curr+extLen > end {
			break
		}
		if extType != 0x0000 {
			curr += extLen
			continue
		}

		// server name list: list length (2), name type (1), name length (2)
		ext := raw[curr : curr+extLen]
		if len(ext) < 5 || ext[2] != 0x00 {
			return "", errMalformedHello
		}
		nameLen := int(binary.BigEndian.Uint16(ext[3:]))
		if 5+nameLen > len(ext) {
			return "", errMalformedHello
		}
		return string(ext[5 : 5+nameLen]), nil
	}
	return "", nil
}

// httpHost returns the Host of an HTTP request starting at payload, or ""
// when payload is not one.
func httpHost(payload []byte) string {
	if len(payload) < 16 || !looksLikeRequest(payload) {
		return ""
	}
	req, err := http.ReadRequest(bufio.NewReader(bytes.NewReader(payload)))
	if err != nil {
		return ""
	}
	if h, _, ok := strings.Cut(req.Host, ":"); ok {
		return h
	}
	return req.Host
}

var httpMethods = [][]byte{
	[]byte("GET "), []byte("POST "), []byte("PUT "), []byte("HEAD "),
	[]byte("DELETE "), []byte("OPTIONS "), []byte("PATCH "), []byte("CONNECT "),
}

func looksLikeRequest(payload []byte) bool {
	for _, m := range httpMethods {
		if bytes.HasPrefix(payload, m) {
			return true
		}
	}
	return false
}
