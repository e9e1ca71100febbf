// Package session tracks per-connection telemetry: message and byte
// counters, scan arrival rate, and ping/pong round-trip latency.
package session

import (
	"sync"
	"time"
)

// rateWindow is the sliding window over which the scan rate is counted.
const rateWindow = time.Second

// Snapshot is an immutable view of the session counters.
type Snapshot struct {
	MessageCount int64         `json:"message_count"`
	ByteCount    int64         `json:"byte_count"`
	ScanRate     int           `json:"scan_rate"`
	Latency      time.Duration `json:"latency_ns"`
	HasLatency   bool          `json:"has_latency"`
}

// Telemetry accumulates session counters with thread-safe operations.
// All time-dependent methods take an explicit now so callers (and
// tests) control the clock.
type Telemetry struct {
	mu           sync.Mutex
	messageCount int64
	byteCount    int64
	scanTimes    []time.Time // arrival times within the rate window, oldest first
	latency      time.Duration
	hasLatency   bool
	pingSentAt   time.Time
	pingPending  bool
}

// NewTelemetry creates a zeroed telemetry tracker.
func NewTelemetry() *Telemetry {
	return &Telemetry{}
}

// RecordMessage counts one successfully parsed inbound message of the
// given wire size.
func (t *Telemetry) RecordMessage(bytes int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messageCount++
	t.byteCount += int64(bytes)
}

// RecordScan notes a scan arrival at now and evicts entries that have
// left the window. Eviction is incremental from the front of the queue,
// never a rescan of history, so the amortised cost per event is O(1).
func (t *Telemetry) RecordScan(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.evictLocked(now)
	t.scanTimes = append(t.scanTimes, now)
}

// ScanRate reports the number of scans that arrived within the last
// second before now.
func (t *Telemetry) ScanRate(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.evictLocked(now)
	return len(t.scanTimes)
}

func (t *Telemetry) evictLocked(now time.Time) {
	cutoff := now.Add(-rateWindow)
	i := 0
	for i < len(t.scanTimes) && !t.scanTimes[i].After(cutoff) {
		i++
	}
	if i > 0 {
		t.scanTimes = append(t.scanTimes[:0], t.scanTimes[i:]...)
	}
}

// PingSent records an outbound ping probe. A later pong echoing this
// send time resolves into a latency sample.
func (t *Telemetry) PingSent(at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pingSentAt = at
	t.pingPending = true
}

// PongReceived resolves an outstanding ping into a latency measurement:
// now minus the echoed send timestamp (seconds since epoch). A pong
// with no ping outstanding leaves the last known latency untouched;
// latency is never fabricated as zero.
func (t *Telemetry) PongReceived(echoedSeconds float64, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.pingPending {
		return
	}
	t.pingPending = false

	sent := time.Unix(0, int64(echoedSeconds*1e9))
	if d := now.Sub(sent); d >= 0 {
		t.latency = d
		t.hasLatency = true
	}
}

// Snapshot returns the current counters, with the scan rate evaluated
// at now.
func (t *Telemetry) Snapshot(now time.Time) Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.evictLocked(now)
	return Snapshot{
		MessageCount: t.messageCount,
		ByteCount:    t.byteCount,
		ScanRate:     len(t.scanTimes),
		Latency:      t.latency,
		HasLatency:   t.hasLatency,
	}
}
