package analysis

import (
	"sort"
	"sync"
	"time"

	"gonetcut/internal/models"
)

// IPStat holds the volume sent by one host.
type IPStat struct {
	IP    string
	Bytes int64
}

// ProtocolStat holds the frame count of one protocol.
type ProtocolStat struct {
	Protocol string
	Count    int64
}

// DomainEntry is a hostname seen in intercepted traffic.
type DomainEntry struct {
	Hostname  string
	Client    string
	Timestamp time.Time
	Source    string // "SNI", "DNS" or "HTTP"
}

// TrafficStats aggregates the decoded traffic of one session. It is fed by
// the decoder chain and read by the dashboard and the report.
type TrafficStats struct {
	mu             sync.Mutex
	totalBytes     int64
	windowBytes    int64
	windowPackets  int64
	lastTick       time.Time
	ipBytes        map[string]int64
	protocolCounts map[string]int64

	recentDomains []DomainEntry
	maxRecent     int
	domains       map[string]DomainEntry

	detector *AnomalyDetector
}

func NewTrafficStats(detector *AnomalyDetector) *TrafficStats {
	if detector == nil {
		detector = NewAnomalyDetector(DefaultConfig())
	}
	return &TrafficStats{
		lastTick:       time.Now(),
		ipBytes:        make(map[string]int64),
		protocolCounts: make(map[string]int64),
		maxRecent:      50,
		domains:        make(map[string]DomainEntry),
		detector:       detector,
	}
}

// Detector returns the anomaly detector whose alerts are reported with
// these statistics.
func (s *TrafficStats) Detector() *AnomalyDetector {
	return s.detector
}

// ProcessPacket accounts one decoded frame.
func (s *TrafficStats) ProcessPacket(pkt models.PacketData) {
	s.mu.Lock()
	defer s.mu.Unlock()

	length := int64(pkt.Length)
	s.totalBytes += length
	s.windowBytes += length
	s.windowPackets++

	if pkt.SrcIP != "" {
		s.ipBytes[pkt.SrcIP] += length
	}

	proto := pkt.Protocol
	if proto == "" {
		proto = "Unknown"
	}
	s.protocolCounts[proto]++
}

// RecordDomain stores a hostname requested by client. The recent log keeps
// every sighting, the session history only the first one per hostname.
func (s *TrafficStats) RecordDomain(hostname, client, source string, ts time.Time) {
	if hostname == "" {
		return
	}
	if ts.IsZero() {
		ts = time.Now()
	}
	entry := DomainEntry{Hostname: hostname, Client: client, Timestamp: ts, Source: source}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.recentDomains = append(s.recentDomains, entry)
	if len(s.recentDomains) > s.maxRecent {
		s.recentDomains = s.recentDomains[len(s.recentDomains)-s.maxRecent:]
	}
	if _, ok := s.domains[hostname]; !ok {
		s.domains[hostname] = entry
	}
}

// GetRates returns bits and packets per second since the previous call.
func (s *TrafficStats) GetRates() (float64, float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	duration := now.Sub(s.lastTick).Seconds()
	if duration == 0 {
		return 0, 0
	}

	bps := (float64(s.windowBytes) * 8) / duration
	pps := float64(s.windowPackets) / duration

	s.windowBytes = 0
	s.windowPackets = 0
	s.lastTick = now

	return bps, pps
}

func (s *TrafficStats) GetTotalDataTransferred() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalBytes
}

// GetTopTalkers returns the limit hosts that sent the most bytes.
func (s *TrafficStats) GetTopTalkers(limit int) []IPStat {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := make([]IPStat, 0, len(s.ipBytes))
	for ip, bytes := range s.ipBytes {
		stats = append(stats, IPStat{IP: ip, Bytes: bytes})
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Bytes == stats[j].Bytes {
			return stats[i].IP < stats[j].IP
		}
		return stats[i].Bytes > stats[j].Bytes
	})

	if len(stats) > limit {
		return stats[:limit]
	}
	return stats
}

func (s *TrafficStats) GetProtocolStats() []ProtocolStat {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := make([]ProtocolStat, 0, len(s.protocolCounts))
	for proto, count := range s.protocolCounts {
		stats = append(stats, ProtocolStat{Protocol: proto, Count: count})
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Count == stats[j].Count {
			return stats[i].Protocol < stats[j].Protocol
		}
		return stats[i].Count > stats[j].Count
	})
	return stats
}

// GetDomainLog returns the most recent sightings, oldest first.
func (s *TrafficStats) GetDomainLog() []DomainEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]DomainEntry, len(s.recentDomains))
	copy(result, s.recentDomains)
	return result
}

// GetAllDomains returns one entry per hostname ordered by first sighting.
func (s *TrafficStats) GetAllDomains() []DomainEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]DomainEntry, 0, len(s.domains))
	for _, e := range s.domains {
		result = append(result, e)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Timestamp.Equal(result[j].Timestamp) {
			return result[i].Hostname < result[j].Hostname
		}
		return result[i].Timestamp.Before(result[j].Timestamp)
	})
	return result
}

// GetAlerts returns the five newest alerts.
func (s *TrafficStats) GetAlerts() []Alert {
	return s.detector.GetRecentAlerts(5)
}

func (s *TrafficStats) GetAllAlerts() []Alert {
	return s.detector.GetAllAlerts()
}
