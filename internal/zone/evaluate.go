package zone

import (
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/scanline-systems/zonewatch/internal/scan"
)

// Evaluate computes a verdict for every enabled zone of the product
// against one reconstructed scan, plus the overall verdict. It is pure:
// the same scan and product always yield the same result.
//
// Per zone, the candidate set is every valid point whose layer is in the
// zone's layer set, whose horizontal angle lies within the zone window
// (inclusive on both ends), and whose distance lies within the zone's
// own valid range. Fewer than MinPoints candidates yields Unknown with
// no measurement; otherwise the measurement is the median or mean of
// the candidate distances and the verdict is Good exactly when
//
//	expected - tolerance_minus <= measurement <= expected + tolerance_plus
//
// with inclusive boundaries. A zone with impossible tolerances simply
// always evaluates Bad; that is correct behaviour, not an error.
//
// Overall: Bad if any enabled zone is Bad, else Unknown if any is
// Unknown, else Good. Bad dominates Unknown so a known defect is never
// masked by an unrelated missing reading. Zero enabled zones is Unknown.
func Evaluate(s *scan.Scan, product ProductDefinition) EvaluationResult {
	result := EvaluationResult{
		Overall:    VerdictUnknown,
		ScanNumber: s.ScanNumber,
	}

	anyBad := false
	anyUnknown := false
	for _, z := range product.Zones {
		if !z.Enabled {
			continue
		}
		zr := evaluateZone(s, z)
		switch zr.Verdict {
		case VerdictBad:
			anyBad = true
		case VerdictUnknown:
			anyUnknown = true
		}
		result.Zones = append(result.Zones, zr)
	}

	switch {
	case len(result.Zones) == 0:
		result.Overall = VerdictUnknown
	case anyBad:
		result.Overall = VerdictBad
	case anyUnknown:
		result.Overall = VerdictUnknown
	default:
		result.Overall = VerdictGood
	}
	return result
}

func evaluateZone(s *scan.Scan, z ZoneDefinition) ZoneResult {
	distances := collectDistances(s, z)
	// An empty candidate set is Unknown even when min_points is zero;
	// there is nothing to aggregate.
	if len(distances) < z.MinPoints || len(distances) == 0 {
		return ZoneResult{ZoneID: z.ID, Verdict: VerdictUnknown}
	}

	var measurement float64
	if z.UseMedian {
		sort.Float64s(distances)
		measurement = stat.Quantile(0.5, stat.LinInterp, distances, nil)
	} else {
		measurement = stat.Mean(distances, nil)
	}

	verdict := VerdictBad
	if measurement >= z.ExpectedDistance-z.ToleranceMinus &&
		measurement <= z.ExpectedDistance+z.TolerancePlus {
		verdict = VerdictGood
	}
	return ZoneResult{ZoneID: z.ID, Measurement: &measurement, Verdict: verdict}
}

// collectDistances gathers candidate distances for one zone. Only the
// layers the zone names are walked, using the scan's per-layer views.
func collectDistances(s *scan.Scan, z ZoneDefinition) []float64 {
	var distances []float64
	for _, layer := range z.Layers {
		for _, p := range s.Layers[layer] {
			if !p.Valid() {
				continue
			}
			if p.HorizontalAngle < z.StartAngle || p.HorizontalAngle > z.EndAngle {
				continue
			}
			if p.Distance < z.MinValidDistance || p.Distance > z.MaxValidDistance {
				continue
			}
			distances = append(distances, p.Distance)
		}
	}
	return distances
}
