package conn

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/scanline-systems/zonewatch/internal/monitoring"
	"github.com/scanline-systems/zonewatch/internal/wire"
)

// State is the connection lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosing
)

// String returns the display name of the state.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	default:
		return "disconnected"
	}
}

// backoffFactor is the growth factor of the reconnect delay.
const backoffFactor = 1.5

// Events are the manager's outbound notifications. All callbacks are
// invoked outside the manager's lock; nil callbacks are skipped.
type Events struct {
	// OnMessage delivers each successfully decoded inbound message
	// together with its wire size in bytes.
	OnMessage func(msg wire.Message, size int)
	// OnStateChange fires on every lifecycle transition.
	OnStateChange func(state State)
	// OnGiveUp fires once when the reconnect attempt cap is exhausted.
	// This is a reported terminal condition, not a silent stall.
	OnGiveUp func(attempts int)
	// OnPingSent notes an outbound ping probe, for latency tracking.
	OnPingSent func(at time.Time)
}

// ManagerConfig configures a connection Manager.
type ManagerConfig struct {
	URL                  string
	Dialer               Dialer
	Events               Events
	BaseDelay            time.Duration // first reconnect delay (default 1s)
	MaxReconnectAttempts int           // reconnect cap (default 10)
	PingInterval         time.Duration // 0 disables the ping probe
}

// Manager owns the channel lifecycle: connect, read, dispatch, and
// reconnection with capped exponential backoff.
//
// State machine: Disconnected → Connecting → Connected, with Connected
// falling back to Disconnected on channel close or error. While auto
// reconnect is enabled each fall schedules a retry after
// BaseDelay·1.5^attempt until MaxReconnectAttempts is exhausted, at
// which point the manager reports give-up and stops. Disconnect is the
// caller-initiated terminal exit: it disables auto reconnect, cancels
// any pending retry timer, and closes the channel.
type Manager struct {
	url          string
	dialer       Dialer
	events       Events
	baseDelay    time.Duration
	maxAttempts  int
	pingInterval time.Duration

	mu            sync.Mutex
	state         State
	attempts      int
	nextDelay     time.Duration
	gaveUp        bool
	autoReconnect bool
	ch            Channel
	retryTimer    *time.Timer
	pingStop      chan struct{}
	gen           int // connection generation; stale goroutines bail out

	// afterFunc schedules the reconnect timer. Tests replace it to
	// observe delays and fire retries deterministically.
	afterFunc func(d time.Duration, f func()) *time.Timer
}

// NewManager creates a Manager. It does not connect; call Connect.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.BaseDelay == 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.MaxReconnectAttempts == 0 {
		cfg.MaxReconnectAttempts = 10
	}
	return &Manager{
		url:          cfg.URL,
		dialer:       cfg.Dialer,
		events:       cfg.Events,
		baseDelay:    cfg.BaseDelay,
		maxAttempts:  cfg.MaxReconnectAttempts,
		pingInterval: cfg.PingInterval,
		afterFunc:    time.AfterFunc,
	}
}

// StatusSnapshot is a read-only view of the connection state.
type StatusSnapshot struct {
	State              State         `json:"-"`
	StateName          string        `json:"state"`
	ReconnectAttempts  int           `json:"reconnect_attempts"`
	NextReconnectDelay time.Duration `json:"next_reconnect_delay_ns"`
	GaveUp             bool          `json:"gave_up"`
}

// Status returns the current connection state. A connection in backoff
// (NextReconnectDelay > 0) is distinct from the terminal give-up state.
func (m *Manager) Status() StatusSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return StatusSnapshot{
		State:              m.state,
		StateName:          m.state.String(),
		ReconnectAttempts:  m.attempts,
		NextReconnectDelay: m.nextDelay,
		GaveUp:             m.gaveUp,
	}
}

// Connect opens the channel. It is a no-op when already connected or
// connecting. Connecting re-arms auto reconnect and clears a previous
// give-up.
func (m *Manager) Connect() {
	m.mu.Lock()
	if m.state == StateConnected || m.state == StateConnecting {
		m.mu.Unlock()
		return
	}
	m.autoReconnect = true
	m.gaveUp = false
	m.attempts = 0
	m.nextDelay = 0
	m.state = StateConnecting
	gen := m.gen
	m.mu.Unlock()

	m.notifyState(StateConnecting)
	go m.dial(gen)
}

// Disconnect is the caller-initiated exit from the state machine. It
// disables auto reconnect, cancels any pending scheduled reconnect, and
// closes the channel. No further transitions follow.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.autoReconnect = false
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	m.nextDelay = 0
	if m.state == StateDisconnected {
		m.mu.Unlock()
		return
	}
	m.gen++
	m.state = StateClosing
	ch := m.ch
	m.ch = nil
	if m.pingStop != nil {
		close(m.pingStop)
		m.pingStop = nil
	}
	m.mu.Unlock()

	m.notifyState(StateClosing)
	if ch != nil {
		ch.Close()
	}

	m.mu.Lock()
	m.state = StateDisconnected
	m.mu.Unlock()
	m.notifyState(StateDisconnected)
}

// Send writes one outbound message on the current channel.
func (m *Manager) Send(data []byte) error {
	m.mu.Lock()
	ch := m.ch
	m.mu.Unlock()
	if ch == nil {
		return ErrNotConnected
	}
	return ch.WriteMessage(data)
}

// dial attempts to open the channel for generation gen.
func (m *Manager) dial(gen int) {
	ch, err := m.dialer.Dial(context.Background(), m.url)

	m.mu.Lock()
	if m.gen != gen || m.state != StateConnecting {
		// Superseded by Disconnect while dialling.
		m.mu.Unlock()
		if ch != nil {
			ch.Close()
		}
		return
	}
	if err != nil {
		monitoring.Logf("conn: connect to %s failed: %v", m.url, err)
		m.state = StateDisconnected
		giveUp, attempts := m.scheduleReconnectLocked()
		m.mu.Unlock()
		m.notifyState(StateDisconnected)
		if giveUp {
			m.notifyGiveUp(attempts)
		}
		return
	}

	m.ch = ch
	m.attempts = 0
	m.nextDelay = 0
	m.state = StateConnected
	stop := make(chan struct{})
	m.pingStop = stop
	m.mu.Unlock()

	m.notifyState(StateConnected)
	monitoring.Logf("conn: connected to %s", m.url)

	// Ask the sensor for its status straight away; a write failure here
	// surfaces through the read loop as a channel error.
	if err := ch.WriteMessage(wire.GetStatus()); err != nil {
		monitoring.Logf("conn: status request failed: %v", err)
	}

	go m.readLoop(ch, gen)
	if m.pingInterval > 0 {
		go m.pingLoop(ch, stop)
	}
}

// readLoop pulls messages until the channel fails. Malformed messages
// are logged and skipped; they never tear the connection down.
func (m *Manager) readLoop(ch Channel, gen int) {
	for {
		data, err := ch.ReadMessage()
		if err != nil {
			m.channelClosed(gen, err)
			return
		}
		msg, derr := wire.Decode(data)
		if derr != nil {
			monitoring.Logf("conn: dropping malformed message: %v", derr)
			continue
		}
		if m.events.OnMessage != nil {
			m.events.OnMessage(msg, len(data))
		}
	}
}

// pingLoop sends periodic ping probes. A missing pong never closes the
// connection by itself; only channel-level errors do.
func (m *Manager) pingLoop(ch Channel, stop chan struct{}) {
	ticker := time.NewTicker(m.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			now := time.Now()
			if m.events.OnPingSent != nil {
				m.events.OnPingSent(now)
			}
			if err := ch.WriteMessage(wire.Ping(now)); err != nil {
				return
			}
		}
	}
}

// channelClosed handles a channel-level close or error for generation
// gen and drives the reconnect path.
func (m *Manager) channelClosed(gen int, err error) {
	m.mu.Lock()
	if m.gen != gen {
		// Already torn down by Disconnect.
		m.mu.Unlock()
		return
	}
	m.gen++
	if m.pingStop != nil {
		close(m.pingStop)
		m.pingStop = nil
	}
	if m.ch != nil {
		m.ch.Close()
		m.ch = nil
	}
	m.state = StateDisconnected

	if !m.autoReconnect {
		m.mu.Unlock()
		m.notifyState(StateDisconnected)
		return
	}
	monitoring.Logf("conn: channel closed: %v", err)
	giveUp, attempts := m.scheduleReconnectLocked()
	m.mu.Unlock()

	m.notifyState(StateDisconnected)
	if giveUp {
		m.notifyGiveUp(attempts)
	}
}

// scheduleReconnectLocked arms the next reconnect timer or reports
// exhaustion. Caller holds the lock. The delay grows as
// base·1.5^attempt; the attempt counter resets only on a successful
// connect.
func (m *Manager) scheduleReconnectLocked() (giveUp bool, attempts int) {
	if m.attempts >= m.maxAttempts {
		m.gaveUp = true
		m.nextDelay = 0
		monitoring.Logf("conn: giving up after %d reconnect attempts", m.attempts)
		return true, m.attempts
	}
	delay := time.Duration(float64(m.baseDelay) * math.Pow(backoffFactor, float64(m.attempts)))
	m.attempts++
	m.nextDelay = delay
	monitoring.Logf("conn: reconnecting in %v (attempt %d/%d)", delay, m.attempts, m.maxAttempts)
	m.retryTimer = m.afterFunc(delay, m.retryFired)
	return false, m.attempts
}

// retryFired runs when the reconnect timer elapses.
func (m *Manager) retryFired() {
	m.mu.Lock()
	m.retryTimer = nil
	m.nextDelay = 0
	if !m.autoReconnect || m.state != StateDisconnected {
		m.mu.Unlock()
		return
	}
	m.state = StateConnecting
	gen := m.gen
	m.mu.Unlock()

	m.notifyState(StateConnecting)
	go m.dial(gen)
}

func (m *Manager) notifyState(s State) {
	if m.events.OnStateChange != nil {
		m.events.OnStateChange(s)
	}
}

func (m *Manager) notifyGiveUp(attempts int) {
	if m.events.OnGiveUp != nil {
		m.events.OnGiveUp(attempts)
	}
}
