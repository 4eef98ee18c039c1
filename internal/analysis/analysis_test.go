package analysis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gonetcut/internal/models"
)

func TestTrafficStats(t *testing.T) {
	s := NewTrafficStats(nil)

	s.ProcessPacket(models.PacketData{SrcIP: "10.0.0.2", Length: 500, Protocol: "TCP"})
	s.ProcessPacket(models.PacketData{SrcIP: "10.0.0.3", Length: 100, Protocol: "UDP"})
	s.ProcessPacket(models.PacketData{SrcIP: "10.0.0.2", Length: 200, Protocol: "TCP"})
	s.ProcessPacket(models.PacketData{Length: 60})

	assert.Equal(t, int64(860), s.GetTotalDataTransferred())
	assert.Equal(t, []IPStat{{IP: "10.0.0.2", Bytes: 700}}, s.GetTopTalkers(1))
	assert.Equal(t, []ProtocolStat{
		{Protocol: "TCP", Count: 2},
		{Protocol: "UDP", Count: 1},
		{Protocol: "Unknown", Count: 1},
	}, s.GetProtocolStats())
}

func TestRecordDomain(t *testing.T) {
	s := NewTrafficStats(nil)
	t0 := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	s.RecordDomain("example.com", "10.0.0.2", "DNS", t0)
	s.RecordDomain("example.com", "10.0.0.3", "SNI", t0.Add(time.Second))
	s.RecordDomain("golang.org", "10.0.0.2", "HTTP", t0.Add(2*time.Second))
	s.RecordDomain("", "10.0.0.2", "HTTP", t0)

	assert.Len(t, s.GetDomainLog(), 3)

	all := s.GetAllDomains()
	require.Len(t, all, 2)
	assert.Equal(t, "example.com", all[0].Hostname)
	assert.Equal(t, "DNS", all[0].Source)
	assert.Equal(t, "golang.org", all[1].Hostname)
}

func TestAnomalyDetector(t *testing.T) {
	tcs := []struct {
		name    string
		packets []models.PacketData
		want    []AnomalyType
	}{
		{
			name: "cleartext once per cooldown",
			packets: []models.PacketData{
				{SrcIP: "10.0.0.2", DstIP: "1.1.1.1", DstPort: 21},
				{SrcIP: "10.0.0.2", DstIP: "1.1.1.1", DstPort: 21},
			},
			want: []AnomalyType{AnomalyCleartext},
		},
		{
			name: "encrypted traffic is quiet",
			packets: []models.PacketData{
				{SrcIP: "10.0.0.2", DstIP: "1.1.1.1", DstPort: 443},
			},
			want: []AnomalyType{},
		},
		{
			name:    "broadcast storm",
			packets: repeat(models.PacketData{EthDst: "ff:ff:ff:ff:ff:ff"}, 4),
			want:    []AnomalyType{AnomalyBroadcastStorm},
		},
		{
			name:    "flood",
			packets: repeat(models.PacketData{SrcIP: "10.0.0.9"}, 4),
			want:    []AnomalyType{AnomalyFlood},
		},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.BroadcastThreshold = 3
			cfg.FloodThreshold = 3
			ad := NewAnomalyDetector(cfg)
			now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
			ad.now = func() time.Time { return now }

			for _, p := range tc.packets {
				ad.ProcessPacket(p)
			}

			got := []AnomalyType{}
			for _, a := range ad.GetAllAlerts() {
				got = append(got, a.Type)
			}
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestAlertHistoryBounded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxAlerts = 2
	cfg.CleartextCooldown = 0
	ad := NewAnomalyDetector(cfg)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ad.now = func() time.Time {
		now = now.Add(time.Second)
		return now
	}

	for i := 0; i < 5; i++ {
		ad.ProcessPacket(models.PacketData{SrcIP: "10.0.0.2", DstPort: 80})
	}
	assert.Len(t, ad.GetAllAlerts(), 2)
	assert.Len(t, ad.GetRecentAlerts(1), 1)
}

func TestServiceName(t *testing.T) {
	assert.Equal(t, "HTTPS", ServiceName(443))
	assert.Equal(t, "31337", ServiceName(31337))
}

func repeat(p models.PacketData, n int) []models.PacketData {
	out := make([]models.PacketData, n)
	for i := range out {
		out[i] = p
	}
	return out
}
