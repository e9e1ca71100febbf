package scan

import (
	"math"
	"time"
)

/*
Scan reconstruction.

The sensor delivers each sweep as compact per-layer polar arrays:
distances, optional explicit angles, optional RSSI intensities. This
file turns one such frame into a flat, calibrated 3-D point set plus
aggregate statistics.

Frames arrive at tens of Hz with thousands of samples each, so the
reconstruction is a single O(n) traversal: validity checks and the
min/max/avg accumulation happen while points are generated, never in a
second pass over the point list.

Reconstruct never fails. Malformed input (mismatched array lengths,
missing angles or intensities, absent layers) degrades to defaults so a
transient bad frame renders and evaluates best-effort instead of
stalling the pipeline.
*/

// Reconstruct converts a raw per-layer frame into a Scan. Layers are
// processed in ascending index order so point order is layer order then
// sample order. Per-sample defaults:
//
//   - angle: config.StartAngle + index*config.AngularResolution when the
//     layer carries no explicit angle array (or it is short)
//   - intensity: 0 when the RSSI array is absent or short
//
// Distance arrays shorter or longer than their angle/RSSI companions are
// handled by truncating the companions to the distance count.
func Reconstruct(raw RawFrame) *Scan {
	cfg := raw.Config
	if cfg.AngularResolution == 0 {
		cfg = DefaultScanConfig()
	}

	total := 0
	for layer := 0; layer < NumLayers; layer++ {
		if lf, ok := raw.Layers[layer]; ok {
			total += len(lf.Distances)
		}
	}

	s := &Scan{
		Timestamp:  floatToTime(raw.Timestamp),
		ScanNumber: raw.ScanNumber,
		Frequency:  raw.Frequency,
		Config:     cfg,
		Points:     make([]Point, 0, total),
		Layers:     make(map[int][]Point, NumLayers),
	}

	var sum float64
	for layer := 0; layer < NumLayers; layer++ {
		lf, ok := raw.Layers[layer]
		if !ok {
			continue
		}

		elevation := LayerElevations[layer]
		cosV := math.Cos(elevation * math.Pi / 180.0)
		sinV := math.Sin(elevation * math.Pi / 180.0)

		layerStart := len(s.Points)
		for i, distance := range lf.Distances {
			angle := cfg.StartAngle + float64(i)*cfg.AngularResolution
			if i < len(lf.Angles) {
				angle = lf.Angles[i]
			}
			intensity := 0
			if i < len(lf.RSSI) {
				intensity = lf.RSSI[i]
			}

			angleRad := angle * math.Pi / 180.0
			p := Point{
				X:               distance * cosV * math.Cos(angleRad),
				Y:               distance * cosV * math.Sin(angleRad),
				Z:               distance * sinV,
				Distance:        distance,
				HorizontalAngle: angle,
				VerticalAngle:   elevation,
				Intensity:       intensity,
				Layer:           layer,
			}
			s.Points = append(s.Points, p)

			// Statistics accumulate in the same pass as point generation.
			s.Stats.TotalPoints++
			if p.Valid() {
				if s.Stats.ValidPoints == 0 || distance < s.Stats.MinDistance {
					s.Stats.MinDistance = distance
				}
				if distance > s.Stats.MaxDistance {
					s.Stats.MaxDistance = distance
				}
				sum += distance
				s.Stats.ValidPoints++
			}
		}
		s.Layers[layer] = s.Points[layerStart:len(s.Points):len(s.Points)]
	}

	if s.Stats.ValidPoints > 0 {
		s.Stats.AvgDistance = sum / float64(s.Stats.ValidPoints)
	}
	return s
}

// floatToTime converts a source timestamp in fractional seconds since
// the Unix epoch to a time.Time. A zero timestamp maps to the zero time
// rather than 1970 so missing timestamps are recognisable downstream.
func floatToTime(seconds float64) time.Time {
	if seconds == 0 {
		return time.Time{}
	}
	sec, frac := math.Modf(seconds)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}
