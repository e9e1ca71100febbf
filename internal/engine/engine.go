// Package engine wires the scan pipeline together: inbound messages are
// classified upstream by the connection manager, reconstructed into
// scans, evaluated against the active product, and recorded into the
// running statistics. The engine owns the single-writer shared state
// (latest scan, active product, evaluation history) and hands out
// immutable snapshots to readers.
package engine

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/scanline-systems/zonewatch/internal/monitoring"
	"github.com/scanline-systems/zonewatch/internal/scan"
	"github.com/scanline-systems/zonewatch/internal/session"
	"github.com/scanline-systems/zonewatch/internal/stats"
	"github.com/scanline-systems/zonewatch/internal/store"
	"github.com/scanline-systems/zonewatch/internal/wire"
	"github.com/scanline-systems/zonewatch/internal/zone"
)

// DefaultHistorySize bounds the in-memory evaluation history ring.
const DefaultHistorySize = 512

// Config configures an Engine.
type Config struct {
	HistorySize int         // evaluation history ring size (default 512)
	Store       store.Store // optional; persists counters, never blocks evaluation
}

// Engine is the evaluation pipeline. HandleMessage is driven by the
// connection manager's read loop; everything else is a reader getting
// snapshots. All mutations go through the engine's mutex so the latest
// scan, active product, and statistics follow a single-writer
// discipline.
type Engine struct {
	running   *stats.RunningStats
	telemetry *session.Telemetry
	store     store.Store
	now       func() time.Time

	mu             sync.Mutex
	latest         *scan.Scan
	lastScanNumber uint64
	seenScan       bool
	product        *zone.ProductDefinition
	lastStatus     json.RawMessage
	history        []zone.EvaluationResult
	historyStart   int
	historyCap     int

	scanListeners        []func(*scan.Scan)
	resultListeners      []func(zone.EvaluationResult)
	measurementListeners []func(json.RawMessage)
}

// New creates an Engine.
func New(cfg Config) *Engine {
	historyCap := cfg.HistorySize
	if historyCap <= 0 {
		historyCap = DefaultHistorySize
	}
	return &Engine{
		running:    stats.NewRunningStats(),
		telemetry:  session.NewTelemetry(),
		store:      cfg.Store,
		now:        time.Now,
		historyCap: historyCap,
	}
}

// OnScan registers a listener for each newly accepted scan, called
// after evaluation. Snapshots passed to listeners are immutable.
// Registration is not safe after message handling has started.
func (e *Engine) OnScan(f func(*scan.Scan)) {
	e.scanListeners = append(e.scanListeners, f)
}

// OnResult registers a listener for each evaluation result.
func (e *Engine) OnResult(f func(zone.EvaluationResult)) {
	e.resultListeners = append(e.resultListeners, f)
}

// OnMeasurement registers a listener for measurement envelopes, which
// the pipeline forwards verbatim without interpretation.
func (e *Engine) OnMeasurement(f func(json.RawMessage)) {
	e.measurementListeners = append(e.measurementListeners, f)
}

// HandleMessage consumes one decoded inbound message. It is the
// connection manager's OnMessage callback and runs on the read-loop
// goroutine, so messages are processed strictly in arrival order.
func (e *Engine) HandleMessage(msg wire.Message, size int) {
	e.telemetry.RecordMessage(size)

	switch msg.Kind {
	case wire.KindScan:
		e.handleScan(msg.Scan)
	case wire.KindPong:
		e.telemetry.PongReceived(msg.PongTimestamp, e.now())
	case wire.KindConfig:
		monitoring.Logf("engine: configuration update received (%d bytes)", len(msg.Config))
	case wire.KindStatus:
		e.mu.Lock()
		e.lastStatus = msg.Status
		e.mu.Unlock()
	case wire.KindMeasurement:
		for _, f := range e.measurementListeners {
			f(msg.Raw)
		}
	case wire.KindUnknown:
		// Forward compatibility: unrecognised types are a no-op.
	}
}

// PingSent notes an outbound ping probe; wired to the connection
// manager's OnPingSent callback.
func (e *Engine) PingSent(at time.Time) {
	e.telemetry.PingSent(at)
}

// handleScan runs the reconstruct → evaluate → record pipeline for one
// raw frame.
func (e *Engine) handleScan(raw *scan.RawFrame) {
	if raw == nil {
		return
	}

	e.mu.Lock()
	if e.seenScan && raw.ScanNumber <= e.lastScanNumber {
		e.mu.Unlock()
		monitoring.Logf("engine: discarding stale scan %d (latest %d)", raw.ScanNumber, e.lastScanNumber)
		return
	}
	product := e.product
	e.mu.Unlock()

	s := scan.Reconstruct(*raw)
	e.telemetry.RecordScan(e.now())

	var result zone.EvaluationResult
	evaluated := false
	if product != nil && product.Enabled {
		// The product reference was snapshotted above; a concurrent save
		// replaces the whole document and cannot mutate this one.
		result = zone.Evaluate(s, *product)
		evaluated = true
	}

	e.mu.Lock()
	e.latest = s
	e.lastScanNumber = s.ScanNumber
	e.seenScan = true
	if evaluated {
		e.appendHistoryLocked(result)
	}
	e.mu.Unlock()

	if evaluated {
		e.running.Record(result)
		for _, f := range e.resultListeners {
			f(result)
		}
	}
	for _, f := range e.scanListeners {
		f(s)
	}
}

func (e *Engine) appendHistoryLocked(result zone.EvaluationResult) {
	if len(e.history) < e.historyCap {
		e.history = append(e.history, result)
		return
	}
	e.history[e.historyStart] = result
	e.historyStart = (e.historyStart + 1) % e.historyCap
}

// LatestScan returns the most recent scan, or nil before the first
// frame. Callers must treat the scan as immutable.
func (e *Engine) LatestScan() *scan.Scan {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.latest
}

// ActiveProduct returns a copy of the active product definition.
func (e *Engine) ActiveProduct() (zone.ProductDefinition, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.product == nil {
		return zone.ProductDefinition{}, false
	}
	return *e.product, true
}

// SetActiveProduct replaces the active product wholesale. Evaluations
// already in flight keep the reference they snapshotted; the new
// definition applies from the next frame.
func (e *Engine) SetActiveProduct(p *zone.ProductDefinition) {
	e.mu.Lock()
	e.product = p
	e.mu.Unlock()
	if p != nil {
		monitoring.Logf("engine: active product now %q (%d zones)", p.Name, len(p.Zones))
	} else {
		monitoring.Logf("engine: no active product; evaluation disabled")
	}
}

// Running returns the running statistics snapshot.
func (e *Engine) Running() stats.Snapshot {
	return e.running.Snapshot()
}

// RestoreStatistics seeds the running counters, typically from the
// store at startup.
func (e *Engine) RestoreStatistics(snap stats.Snapshot) {
	e.running.Restore(snap)
}

// ResetStatistics zeroes the running counters and, when a store is
// configured, clears the persisted copy. A store failure is logged and
// leaves the in-memory reset in place.
func (e *Engine) ResetStatistics() error {
	e.running.Reset()
	if e.store == nil {
		return nil
	}
	if err := e.store.ResetStatistics(); err != nil {
		monitoring.Logf("engine: resetting persisted statistics failed: %v", err)
		return err
	}
	return nil
}

// FlushStatistics persists the current counters. Failures are logged
// and do not affect in-memory state.
func (e *Engine) FlushStatistics() {
	if e.store == nil {
		return
	}
	if err := e.store.SaveStatistics(e.running.Snapshot()); err != nil {
		monitoring.Logf("engine: persisting statistics failed: %v", err)
	}
}

// Telemetry returns the session telemetry snapshot.
func (e *Engine) Telemetry() session.Snapshot {
	return e.telemetry.Snapshot(e.now())
}

// History returns the retained evaluation results in chronological
// order.
func (e *Engine) History() []zone.EvaluationResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]zone.EvaluationResult, 0, len(e.history))
	for i := 0; i < len(e.history); i++ {
		out = append(out, e.history[(e.historyStart+i)%len(e.history)])
	}
	return out
}

// LastStatus returns the most recent opaque status payload from the
// sensor, or nil.
func (e *Engine) LastStatus() json.RawMessage {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastStatus
}
