package scan

import "time"

// Sensor geometry constants for the 4-layer scanner.
// Each layer is a fixed vertical scan plane; index 0 is the lowest.
const (
	// NumLayers is the number of vertical scan planes of the sensor.
	NumLayers = 4

	// MinValidDistance is the shortest range (metres) considered a real
	// return. Anything closer is sensor noise or an internal reflection.
	MinValidDistance = 0.1

	// MaxValidDistance is the longest range (metres) the sensor can
	// measure reliably.
	MaxValidDistance = 64.0
)

// LayerElevations holds the fixed vertical angle (degrees) of each scan
// layer, indexed by layer number.
var LayerElevations = [NumLayers]float64{-1.2, -0.4, 0.4, 1.2}

// ScanConfig describes the horizontal sweep that sample indexes map to.
// It may be supplied per-frame by the sensor; DefaultScanConfig is used
// when a frame omits it.
type ScanConfig struct {
	StartAngle        float64 `json:"start_angle"`
	EndAngle          float64 `json:"end_angle"`
	AngularResolution float64 `json:"angular_resolution"`
}

// DefaultScanConfig returns the sweep configuration assumed when a frame
// carries none: a symmetric 100-degree arc at 0.5-degree resolution.
func DefaultScanConfig() ScanConfig {
	return ScanConfig{StartAngle: -50, EndAngle: 50, AngularResolution: 0.5}
}

// RawLayerFrame is the compact polar data for one layer of one sweep.
// Distances are metres. Angles (degrees) and RSSI intensities (0-255)
// are optional; when absent, angles default to
// start_angle + index*resolution and intensities default to 0.
type RawLayerFrame struct {
	Distances []float64 `json:"distances"`
	Angles    []float64 `json:"angles,omitempty"`
	RSSI      []int     `json:"rssi,omitempty"`
}

// RawFrame is one complete sweep's worth of per-layer samples as
// delivered by a single scan message, before reconstruction.
type RawFrame struct {
	Timestamp  float64               // seconds since epoch, source clock
	ScanNumber uint64                // monotonic, source-assigned
	Frequency  float64               // sweep frequency in Hz
	Config     ScanConfig            // horizontal sweep geometry
	Layers     map[int]RawLayerFrame // sparse; absent layers are skipped
}

// Point is a single calibrated measurement. Invalid points (out-of-range
// distance) are kept for rendering but excluded from statistics and
// zone evaluation.
type Point struct {
	X               float64 `json:"x"`
	Y               float64 `json:"y"`
	Z               float64 `json:"z"`
	Distance        float64 `json:"distance"`
	HorizontalAngle float64 `json:"horizontal_angle"`
	VerticalAngle   float64 `json:"vertical_angle"`
	Intensity       int     `json:"intensity"`
	Layer           int     `json:"layer"`
}

// Valid reports whether the point's distance is within the sensor's
// trustworthy measurement range.
func (p Point) Valid() bool {
	return p.Distance >= MinValidDistance && p.Distance <= MaxValidDistance
}

// ScanStats aggregates distance statistics over the valid points of one
// scan. All distance fields are zero when the scan has no valid points;
// callers must treat that as a defined state, not an error.
type ScanStats struct {
	MinDistance float64 `json:"min_distance"`
	MaxDistance float64 `json:"max_distance"`
	AvgDistance float64 `json:"avg_distance"`
	ValidPoints int     `json:"valid_points"`
	TotalPoints int     `json:"total_points"`
}

// Scan is one reconstructed sweep: the unit of work for zone evaluation
// and rendering. A Scan is never mutated after construction; the next
// scan supersedes it rather than merging into it.
type Scan struct {
	Timestamp  time.Time       `json:"timestamp"`
	ScanNumber uint64          `json:"scan_number"`
	Frequency  float64         `json:"frequency"`
	Config     ScanConfig      `json:"config"`
	Points     []Point         `json:"points"`
	Layers     map[int][]Point `json:"-"` // per-layer views into Points
	Stats      ScanStats       `json:"stats"`
}
