package analysis

import (
	"fmt"
	"sync"
	"time"

	"gonetcut/internal/models"
)

type AnomalyType string

const (
	AnomalyBroadcastStorm AnomalyType = "BROADCAST_STORM"
	AnomalyCleartext      AnomalyType = "CLEARTEXT_PROTOCOL"
	AnomalyFlood          AnomalyType = "POSSIBLE_FLOOD"
)

// Config tunes the anomaly rules.
type Config struct {
	BroadcastThreshold int           // broadcasts per second
	FloodThreshold     int           // packets per second from one host
	CleartextCooldown  time.Duration // minimum gap between alerts for one client/port
	CleanupInterval    time.Duration
	DataRetention      time.Duration
	// MaxAlerts bounds the session history returned by GetAllAlerts.
	MaxAlerts int
}

func DefaultConfig() Config {
	return Config{
		BroadcastThreshold: 50,
		FloodThreshold:     500,
		CleartextCooldown:  10 * time.Second,
		CleanupInterval:    time.Minute,
		DataRetention:      5 * time.Minute,
		MaxAlerts:          500,
	}
}

// cleartextPorts are services whose credentials travel unencrypted.
var cleartextPorts = map[int]string{
	21:  "FTP",
	23:  "Telnet",
	25:  "SMTP",
	80:  "HTTP",
	110: "POP3",
	143: "IMAP",
	389: "LDAP",
}

type Alert struct {
	Type      AnomalyType
	Source    string
	Message   string
	Timestamp time.Time
}

// AnomalyDetector watches intercepted traffic for patterns worth flagging
// in the session report.
type AnomalyDetector struct {
	mu     sync.Mutex
	config Config
	now    func() time.Time

	broadcastCount  int
	broadcastWindow time.Time

	cleartextAlerts map[string]time.Time

	hostCount  map[string]int
	hostWindow map[string]time.Time

	alerts      []Alert
	lastCleanup time.Time
}

func NewAnomalyDetector(cfg Config) *AnomalyDetector {
	if cfg.MaxAlerts <= 0 {
		cfg.MaxAlerts = DefaultConfig().MaxAlerts
	}
	return &AnomalyDetector{
		config:          cfg,
		now:             time.Now,
		cleartextAlerts: make(map[string]time.Time),
		hostCount:       make(map[string]int),
		hostWindow:      make(map[string]time.Time),
		lastCleanup:     time.Now(),
	}
}

// ProcessPacket runs every rule against pkt.
func (ad *AnomalyDetector) ProcessPacket(pkt models.PacketData) {
	ad.mu.Lock()
	defer ad.mu.Unlock()

	now := ad.now()
	if now.Sub(ad.lastCleanup) > ad.config.CleanupInterval {
		ad.cleanup(now)
		ad.lastCleanup = now
	}

	ad.detectBroadcastStorm(pkt, now)
	ad.detectCleartext(pkt, now)
	ad.detectFlood(pkt, now)
}

func (ad *AnomalyDetector) cleanup(now time.Time) {
	for key, last := range ad.cleartextAlerts {
		if now.Sub(last) > ad.config.DataRetention {
			delete(ad.cleartextAlerts, key)
		}
	}
	for ip, start := range ad.hostWindow {
		if now.Sub(start) > ad.config.DataRetention {
			delete(ad.hostWindow, ip)
			delete(ad.hostCount, ip)
		}
	}
}

func (ad *AnomalyDetector) detectBroadcastStorm(pkt models.PacketData, now time.Time) {
	if pkt.EthDst != "ff:ff:ff:ff:ff:ff" {
		return
	}
	if now.Sub(ad.broadcastWindow) > time.Second {
		ad.broadcastCount = 0
		ad.broadcastWindow = now
	}

	ad.broadcastCount++
	if ad.broadcastCount > ad.config.BroadcastThreshold {
		ad.addAlert(Alert{
			Type:      AnomalyBroadcastStorm,
			Source:    "network",
			Message:   fmt.Sprintf("broadcast storm: %d broadcasts in 1 second", ad.broadcastCount),
			Timestamp: now,
		})
		ad.broadcastCount = 0
		ad.broadcastWindow = now
	}
}

func (ad *AnomalyDetector) detectCleartext(pkt models.PacketData, now time.Time) {
	name, ok := cleartextPorts[pkt.DstPort]
	if !ok {
		return
	}

	key := fmt.Sprintf("%s:%d", pkt.SrcIP, pkt.DstPort)
	if last, seen := ad.cleartextAlerts[key]; seen && now.Sub(last) <= ad.config.CleartextCooldown {
		return
	}
	ad.addAlert(Alert{
		Type:      AnomalyCleartext,
		Source:    pkt.SrcIP,
		Message:   fmt.Sprintf("cleartext %s from %s to %s:%d", name, pkt.SrcIP, pkt.DstIP, pkt.DstPort),
		Timestamp: now,
	})
	ad.cleartextAlerts[key] = now
}

func (ad *AnomalyDetector) detectFlood(pkt models.PacketData, now time.Time) {
	if pkt.SrcIP == "" {
		return
	}

	start, ok := ad.hostWindow[pkt.SrcIP]
	if !ok || now.Sub(start) > time.Second {
		ad.hostWindow[pkt.SrcIP] = now
		ad.hostCount[pkt.SrcIP] = 0
	}

	ad.hostCount[pkt.SrcIP]++
	if n := ad.hostCount[pkt.SrcIP]; n > ad.config.FloodThreshold {
		ad.addAlert(Alert{
			Type:      AnomalyFlood,
			Source:    pkt.SrcIP,
			Message:   fmt.Sprintf("high packet rate from %s: %d pps", pkt.SrcIP, n),
			Timestamp: now,
		})
		ad.hostCount[pkt.SrcIP] = 0
		ad.hostWindow[pkt.SrcIP] = now
	}
}

func (ad *AnomalyDetector) addAlert(alert Alert) {
	ad.alerts = append(ad.alerts, alert)
	if len(ad.alerts) > ad.config.MaxAlerts {
		ad.alerts = ad.alerts[len(ad.alerts)-ad.config.MaxAlerts:]
	}
}

// GetRecentAlerts returns the newest limit alerts, oldest first.
func (ad *AnomalyDetector) GetRecentAlerts(limit int) []Alert {
	ad.mu.Lock()
	defer ad.mu.Unlock()

	start := 0
	if len(ad.alerts) > limit {
		start = len(ad.alerts) - limit
	}
	result := make([]Alert, len(ad.alerts)-start)
	copy(result, ad.alerts[start:])
	return result
}

func (ad *AnomalyDetector) GetAllAlerts() []Alert {
	ad.mu.Lock()
	defer ad.mu.Unlock()

	result := make([]Alert, len(ad.alerts))
	copy(result, ad.alerts)
	return result
}
