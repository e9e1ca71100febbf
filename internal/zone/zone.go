package zone

import (
	"encoding/json"
	"fmt"

	"github.com/scanline-systems/zonewatch/internal/scan"
)

// Verdict is the three-state outcome of comparing a zone measurement
// against its expected range. Unknown is informational (not enough
// data); Bad is actionable and always dominates Unknown.
type Verdict int

const (
	VerdictUnknown Verdict = iota
	VerdictGood
	VerdictBad
)

// String returns the wire/display name of the verdict.
func (v Verdict) String() string {
	switch v {
	case VerdictGood:
		return "good"
	case VerdictBad:
		return "bad"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes the verdict as its string name.
func (v Verdict) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.String())
}

// UnmarshalJSON decodes a verdict from its string name.
func (v *Verdict) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch s {
	case "good":
		*v = VerdictGood
	case "bad":
		*v = VerdictBad
	case "unknown":
		*v = VerdictUnknown
	default:
		return fmt.Errorf("unknown verdict %q", s)
	}
	return nil
}

// ZoneDefinition is an operator-configured angular region of interest
// with an expected distance and asymmetric tolerances.
type ZoneDefinition struct {
	ID               string  `json:"id"`
	Name             string  `json:"name"`
	Enabled          bool    `json:"enabled"`
	StartAngle       float64 `json:"start_angle"`
	EndAngle         float64 `json:"end_angle"`
	Layers           []int   `json:"layers"`
	ExpectedDistance float64 `json:"expected_distance"`
	TolerancePlus    float64 `json:"tolerance_plus"`
	ToleranceMinus   float64 `json:"tolerance_minus"`
	MinValidDistance float64 `json:"min_valid_distance"`
	MaxValidDistance float64 `json:"max_valid_distance"`
	MinPoints        int     `json:"min_points"`
	UseMedian        bool    `json:"use_median"`
}

// ProductDefinition is a named, ordered collection of zones. Zone order
// matters for display only, never for evaluation. Products are replaced
// wholesale on save; the engine never patches individual zones in place.
type ProductDefinition struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Enabled     bool             `json:"enabled"`
	Zones       []ZoneDefinition `json:"zones"`
}

// ZoneResult is the per-zone outcome of one evaluation. Measurement is
// nil when the zone gathered fewer than MinPoints samples.
type ZoneResult struct {
	ZoneID      string   `json:"zone_id"`
	Measurement *float64 `json:"measurement,omitempty"`
	Verdict     Verdict  `json:"verdict"`
}

// EvaluationResult is the outcome of evaluating one scan against one
// product. Zones appear in product order, disabled zones excluded.
type EvaluationResult struct {
	Overall    Verdict      `json:"overall_verdict"`
	Zones      []ZoneResult `json:"zones"`
	ScanNumber uint64       `json:"scan_number"`
}

// Validate checks a zone definition for configuration errors. Windows
// that would cross the sweep boundary (start above end) are an
// unsupported configuration and are rejected here, at save time, rather
// than being given guessed wrap-around semantics at evaluation time.
func (z ZoneDefinition) Validate() error {
	if z.ID == "" {
		return fmt.Errorf("zone %q: missing id", z.Name)
	}
	if z.StartAngle > z.EndAngle {
		return fmt.Errorf("zone %q: start_angle %.2f exceeds end_angle %.2f (wrap-around windows are not supported)",
			z.Name, z.StartAngle, z.EndAngle)
	}
	if len(z.Layers) == 0 {
		return fmt.Errorf("zone %q: at least one layer required", z.Name)
	}
	for _, l := range z.Layers {
		if l < 0 || l >= scan.NumLayers {
			return fmt.Errorf("zone %q: layer %d out of range 0..%d", z.Name, l, scan.NumLayers-1)
		}
	}
	if z.MinValidDistance > z.MaxValidDistance {
		return fmt.Errorf("zone %q: min_valid_distance %.2f exceeds max_valid_distance %.2f",
			z.Name, z.MinValidDistance, z.MaxValidDistance)
	}
	if z.TolerancePlus < 0 || z.ToleranceMinus < 0 {
		return fmt.Errorf("zone %q: tolerances must be non-negative", z.Name)
	}
	if z.MinPoints < 0 {
		return fmt.Errorf("zone %q: min_points must be non-negative", z.Name)
	}
	return nil
}

// ValidateProduct checks a whole product definition, including every
// zone and zone id uniqueness.
func ValidateProduct(p ProductDefinition) error {
	if p.ID == "" {
		return fmt.Errorf("product %q: missing id", p.Name)
	}
	if p.Name == "" {
		return fmt.Errorf("product %s: missing name", p.ID)
	}
	seen := make(map[string]bool, len(p.Zones))
	for _, z := range p.Zones {
		if err := z.Validate(); err != nil {
			return fmt.Errorf("product %q: %w", p.Name, err)
		}
		if seen[z.ID] {
			return fmt.Errorf("product %q: duplicate zone id %q", p.Name, z.ID)
		}
		seen[z.ID] = true
	}
	return nil
}
