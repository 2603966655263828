package relaychat

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"time"
)

// ============================================================================
// Connection state
// ============================================================================

// ConnState is the streaming connection state.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
)

// ============================================================================
// Reconnect policy
// ============================================================================

// Backoff describes the delay between reconnect attempts. The default
// reproduces the backend client's observed policy: a flat 5-second wait
// with no cap escalation. Setting Max above Base turns on exponential
// growth between them.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// DefaultBackoff is the flat 5-second reconnect delay.
var DefaultBackoff = Backoff{Base: 5 * time.Second, Max: 5 * time.Second}

func (b Backoff) delay(attempt int) time.Duration {
	if b.Base <= 0 {
		b = DefaultBackoff
	}
	if b.Max <= b.Base {
		return b.Base
	}
	d := time.Duration(float64(b.Base) * math.Pow(2, float64(attempt)))
	if d > b.Max || d <= 0 {
		return b.Max
	}
	return d
}

// ============================================================================
// Connection Lifecycle Manager
// ============================================================================

// ConnManager owns the streaming subscription: it opens the connection,
// subscribes the event router, runs the post-connect resync, and schedules
// reconnection after loss. Connection failures are never fatal; the
// manager retries until Disconnect.
//
// At most one reconnect timer is pending at any moment. Connect cancels a
// pending timer, a second loss while one is pending is ignored, and
// Disconnect cancels the wait for good.
type ConnManager struct {
	transport   Transport
	destination string
	handler     MessageHandler
	onConnected func(ctx context.Context) error
	backoff     Backoff
	logger      *slog.Logger

	mu      sync.Mutex
	state   ConnState
	token   string
	timer   *time.Timer
	attempt int
	closed  bool
}

// NewConnManager wires a transport to a subscription destination and
// handler. onConnected runs after every successful handshake (initial and
// reconnect) and is where history reseeding happens; its error fails an
// explicit Connect but only delays a scheduled one.
func NewConnManager(transport Transport, destination string, handler MessageHandler, onConnected func(ctx context.Context) error, backoff Backoff, logger *slog.Logger) *ConnManager {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	m := &ConnManager{
		transport:   transport,
		destination: destination,
		handler:     handler,
		onConnected: onConnected,
		backoff:     backoff,
		logger:      logger,
		state:       StateDisconnected,
	}
	transport.OnClose(m.handleClose)
	return m
}

// State returns the current connection state.
func (m *ConnManager) State() ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connect opens the subscription with the given credential. Any pending
// reconnect timer is cancelled first so only one connection attempt is in
// flight. On success the state is Connected and the post-connect resync
// has completed.
func (m *ConnManager) Connect(ctx context.Context, token string) error {
	m.mu.Lock()
	if m.state == StateConnected {
		m.mu.Unlock()
		return nil
	}
	m.cancelTimerLocked()
	m.closed = false
	m.state = StateConnecting
	m.token = token
	m.mu.Unlock()

	if err := m.transport.Connect(ctx, token); err != nil {
		m.setState(StateDisconnected)
		return fmt.Errorf("open subscription: %w", err)
	}
	if err := m.transport.Subscribe(m.destination, m.handler); err != nil {
		m.transport.Deactivate()
		m.setState(StateDisconnected)
		return fmt.Errorf("subscribe %s: %w", m.destination, err)
	}

	m.setState(StateConnected)
	m.mu.Lock()
	m.attempt = 0
	m.mu.Unlock()
	m.logger.Info("subscription open", "destination", m.destination)

	if m.onConnected != nil {
		if err := m.onConnected(ctx); err != nil {
			return fmt.Errorf("post-connect sync: %w", err)
		}
	}
	return nil
}

// Disconnect deactivates the transport and cancels any pending reconnect.
// Effective even while a reconnect wait is in progress.
func (m *ConnManager) Disconnect() {
	m.mu.Lock()
	m.closed = true
	m.cancelTimerLocked()
	m.state = StateDisconnected
	m.mu.Unlock()

	if err := m.transport.Deactivate(); err != nil {
		m.logger.Warn("transport deactivate", "error", err)
	}
}

func (m *ConnManager) setState(s ConnState) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func (m *ConnManager) cancelTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

// handleClose reacts to unexpected connection loss.
func (m *ConnManager) handleClose(err error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.state = StateDisconnected
	alreadyPending := m.timer != nil
	m.mu.Unlock()

	m.logger.Warn("subscription lost", "error", err)
	if !alreadyPending {
		m.scheduleReconnect()
	}
}

// scheduleReconnect arms the single reconnect timer.
func (m *ConnManager) scheduleReconnect() {
	m.mu.Lock()
	if m.closed || m.timer != nil {
		m.mu.Unlock()
		return
	}
	delay := m.backoff.delay(m.attempt)
	m.attempt++
	m.timer = time.AfterFunc(delay, m.reconnect)
	m.mu.Unlock()

	m.logger.Info("reconnect scheduled", "delay", delay)
}

func (m *ConnManager) reconnect() {
	m.mu.Lock()
	m.timer = nil
	if m.closed {
		m.mu.Unlock()
		return
	}
	token := m.token
	m.mu.Unlock()

	if err := m.Connect(context.Background(), token); err != nil {
		m.logger.Warn("reconnect failed", "error", err)
		// A failed post-connect sync leaves the transport up but the
		// store stale; tear down and retry the whole cycle so the next
		// attempt reseeds from scratch.
		if m.transport.Connected() {
			_ = m.transport.Deactivate()
		}
		m.setState(StateDisconnected)
		m.scheduleReconnect()
	}
}
