// Package stats tracks long-run evaluation outcomes: how many scans
// were evaluated and how many came back good or bad.
package stats

import (
	"sync"
	"time"

	"github.com/scanline-systems/zonewatch/internal/zone"
)

// Snapshot is an immutable view of the running counters. GoodRate is
// derived at read time, never stored, so it cannot drift from the
// counters it is computed from.
type Snapshot struct {
	EvaluationCount int64     `json:"evaluation_count"`
	GoodCount       int64     `json:"good_count"`
	BadCount        int64     `json:"bad_count"`
	GoodRate        float64   `json:"good_rate"`
	Since           time.Time `json:"since"`
}

// RunningStats counts evaluation outcomes with thread-safe operations.
// Unknown verdicts increment the evaluation count but neither the good
// nor the bad counter, so the pass-rate reflects only decisive
// evaluations.
type RunningStats struct {
	mu              sync.Mutex
	evaluationCount int64
	goodCount       int64
	badCount        int64
	since           time.Time
}

// NewRunningStats creates a zeroed tracker.
func NewRunningStats() *RunningStats {
	return &RunningStats{since: time.Now()}
}

// Record consumes one evaluation result. It is called exactly once per
// evaluated frame.
func (rs *RunningStats) Record(result zone.EvaluationResult) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.evaluationCount++
	switch result.Overall {
	case zone.VerdictGood:
		rs.goodCount++
	case zone.VerdictBad:
		rs.badCount++
	}
}

// Reset zeroes all counters atomically with respect to concurrent
// Record calls.
func (rs *RunningStats) Reset() {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.evaluationCount = 0
	rs.goodCount = 0
	rs.badCount = 0
	rs.since = time.Now()
}

// Restore seeds the counters from a persisted snapshot, typically at
// startup. Counters accumulated since construction are replaced.
func (rs *RunningStats) Restore(snap Snapshot) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.evaluationCount = snap.EvaluationCount
	rs.goodCount = snap.GoodCount
	rs.badCount = snap.BadCount
	if !snap.Since.IsZero() {
		rs.since = snap.Since
	}
}

// Snapshot returns a copy of the current counters. GoodRate is 0 when
// no evaluations have been recorded.
func (rs *RunningStats) Snapshot() Snapshot {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	snap := Snapshot{
		EvaluationCount: rs.evaluationCount,
		GoodCount:       rs.goodCount,
		BadCount:        rs.badCount,
		Since:           rs.since,
	}
	if rs.evaluationCount > 0 {
		snap.GoodRate = float64(rs.goodCount) / float64(rs.evaluationCount)
	}
	return snap
}
