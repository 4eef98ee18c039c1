package decoder

import (
	"errors"

	"gonetcut/internal/analysis"
	"gonetcut/internal/models"
)

var errNoStats = errors.New("traffic statistics are not available")

// RegisterBuiltins adds the decoders shipped with the tool.
func RegisterBuiltins(r *Registry) error {
	return errors.Join(
		r.Register("stats", newStatsDecoder),
		r.Register("anomaly", newAnomalyDecoder),
		r.Register("hosts", newHostsDecoder),
	)
}

// statsDecoder feeds per-host and per-protocol counters.
type statsDecoder struct {
	stats *analysis.TrafficStats
}

func newStatsDecoder(deps Deps) (Decoder, error) {
	if deps.Stats == nil {
		return nil, errNoStats
	}
	return &statsDecoder{stats: deps.Stats}, nil
}

func (d *statsDecoder) Name() string { return "stats" }

func (d *statsDecoder) Decode(f *models.Frame) error {
	d.stats.ProcessPacket(models.NewPacketData(f))
	return nil
}

type anomalyDecoder struct {
	detector *analysis.AnomalyDetector
}

func newAnomalyDecoder(deps Deps) (Decoder, error) {
	if deps.Stats == nil {
		return nil, errNoStats
	}
	return &anomalyDecoder{detector: deps.Stats.Detector()}, nil
}

func (d *anomalyDecoder) Name() string { return "anomaly" }

func (d *anomalyDecoder) Decode(f *models.Frame) error {
	d.detector.ProcessPacket(models.NewPacketData(f))
	return nil
}
