package connection

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/verdantgrow/growlink/internal/events"
)

// Default manager settings.
const (
	DefaultTimeout              = 10 * time.Second
	DefaultMaxReconnectAttempts = 5
	DefaultReconnectDelay       = 3 * time.Second
	DefaultHeartbeatInterval    = 25 * time.Second
	DefaultWriteTimeout         = 5 * time.Second
	DefaultQueueLimit           = 1000
)

// Config holds the connection manager settings.
type Config struct {
	// URL is the server base URL (ws://, wss://, or http(s) aliases).
	URL string

	// Path overrides the event channel path on the base URL.
	Path string

	// AuthToken is attached to the connection handshake as a bearer
	// credential.
	AuthToken string

	// Timeout bounds a single connect attempt.
	Timeout time.Duration

	// MaxReconnectAttempts caps the automatic reconnection budget.
	MaxReconnectAttempts int

	// ReconnectDelay is the fixed wait between reconnect attempts.
	ReconnectDelay time.Duration

	// HeartbeatInterval is the period between outbound pings. Zero
	// disables the heartbeat.
	HeartbeatInterval time.Duration

	// WriteTimeout bounds a single frame write.
	WriteTimeout time.Duration

	// QueueLimit caps the outbound queue while disconnected. When the
	// queue is full the oldest entry is dropped. Zero means unbounded.
	QueueLimit int

	// BufferSize is the inbound frame channel capacity.
	BufferSize int
}

// DefaultConfig returns a Config with production defaults. URL must
// still be set by the caller.
func DefaultConfig() Config {
	return Config{
		Timeout:              DefaultTimeout,
		MaxReconnectAttempts: DefaultMaxReconnectAttempts,
		ReconnectDelay:       DefaultReconnectDelay,
		HeartbeatInterval:    DefaultHeartbeatInterval,
		WriteTimeout:         DefaultWriteTimeout,
		QueueLimit:           DefaultQueueLimit,
	}
}

// Status is a point-in-time snapshot of the connection state.
type Status struct {
	Connected         bool
	Connecting        bool
	Err               string
	LastConnectedAt   time.Time
	ReconnectAttempts int
}

// queuedMessage is an outbound send buffered while disconnected.
type queuedMessage struct {
	kind       events.Kind
	payload    any
	enqueuedAt time.Time
}

// Manager owns one logical connection to the server and its lifecycle:
// connect, heartbeat, queued sends, reconnection, and event fan-out.
type Manager struct {
	cfg    Config
	logger *slog.Logger
	bus    *events.Bus

	// connecting collapses concurrent Connect calls into one attempt.
	connecting singleflight.Group

	mu             sync.Mutex
	status         Status
	tr             *transport
	queue          []queuedMessage
	heartbeatStop  chan struct{}
	reconnectTimer *time.Timer
	destroyed      bool
}

// NewManager creates a connection manager. It does not dial; call
// Connect.
func NewManager(cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}

	return &Manager{
		cfg:    cfg,
		logger: logger,
		bus:    events.NewBus(logger),
	}
}

// On registers a handler for an event kind.
func (m *Manager) On(kind events.Kind, h events.Handler) events.Subscription {
	return m.bus.On(kind, h)
}

// Off removes a previously registered handler.
func (m *Manager) Off(sub events.Subscription) {
	m.bus.Off(sub)
}

// Status returns a snapshot of the connection state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// QueueLen reports the number of buffered outbound messages.
func (m *Manager) QueueLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// Connect establishes the connection. Concurrent callers share a single
// in-flight attempt and its outcome. Connecting while already connected
// is a no-op.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return ErrDestroyed
	}
	if m.status.Connected {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	_, err, _ := m.connecting.Do("connect", func() (any, error) {
		return nil, m.connectOnce(ctx)
	})
	return err
}

// connectOnce runs one full connect attempt: dial, state transition,
// queue flush, and event emission. Failures schedule a reconnect.
func (m *Manager) connectOnce(ctx context.Context) error {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return ErrDestroyed
	}
	if m.status.Connected {
		m.mu.Unlock()
		return nil
	}
	m.status.Connecting = true
	m.status.Err = ""
	m.mu.Unlock()
	m.emitStatus()

	tr := newTransport(transportConfig{
		URL:              m.cfg.URL,
		Path:             m.cfg.Path,
		AuthToken:        m.cfg.AuthToken,
		HandshakeTimeout: m.cfg.Timeout,
		WriteTimeout:     m.cfg.WriteTimeout,
		BufferSize:       m.cfg.BufferSize,
	}, m.logger)

	dialCtx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	if err := tr.connect(dialCtx); err != nil {
		m.mu.Lock()
		m.status.Connecting = false
		m.status.Err = err.Error()
		destroyed := m.destroyed
		m.mu.Unlock()

		m.logger.Warn("connect failed", "url", m.cfg.URL, "error", err)
		m.emit(events.KindConnectError, &events.ErrorMessage{Message: err.Error()})
		m.emitStatus()

		if !destroyed {
			m.scheduleReconnect()
		}
		return err
	}

	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		tr.close()
		return ErrDestroyed
	}
	m.tr = tr
	m.status.Connected = true
	m.status.Connecting = false
	m.status.Err = ""
	m.status.ReconnectAttempts = 0
	m.status.LastConnectedAt = time.Now()
	m.startHeartbeatLocked(tr)
	pending := m.queue
	m.queue = nil
	m.mu.Unlock()

	go m.watch(tr)

	m.logger.Info("connected", "url", m.cfg.URL, "queued", len(pending))
	m.emit(events.KindConnect, nil)
	m.emitStatus()

	m.flush(tr, pending)
	return nil
}

// flush sends queued messages in FIFO order. Each entry is attempted at
// most once; on a send failure the unattempted remainder is re-queued.
func (m *Manager) flush(tr *transport, pending []queuedMessage) {
	for i, msg := range pending {
		data, err := events.EncodeFrame(msg.kind, msg.payload)
		if err != nil {
			m.logger.Warn("dropping unencodable queued message",
				"event", msg.kind,
				"error", err,
			)
			continue
		}
		if err := tr.send(data); err != nil {
			m.logger.Warn("queue flush interrupted",
				"event", msg.kind,
				"requeued", len(pending)-i-1,
				"error", err,
			)
			m.mu.Lock()
			m.queue = append(append([]queuedMessage{}, pending[i+1:]...), m.queue...)
			m.mu.Unlock()
			return
		}
	}
}

// Send emits an event to the server, or buffers it while disconnected.
// Buffered messages are flushed in order on the next successful connect.
func (m *Manager) Send(kind events.Kind, payload any) error {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return ErrDestroyed
	}

	if m.status.Connected && m.tr != nil {
		tr := m.tr
		m.mu.Unlock()

		data, err := events.EncodeFrame(kind, payload)
		if err != nil {
			return err
		}
		return tr.send(data)
	}

	m.queue = append(m.queue, queuedMessage{kind: kind, payload: payload, enqueuedAt: time.Now()})
	if m.cfg.QueueLimit > 0 && len(m.queue) > m.cfg.QueueLimit {
		dropped := m.queue[0]
		m.queue = m.queue[1:]
		m.logger.Warn("outbound queue full, dropping oldest message",
			"event", dropped.kind,
			"limit", m.cfg.QueueLimit,
		)
	}
	m.mu.Unlock()
	return nil
}

// Disconnect closes the connection without scheduling a reconnect.
// Queued messages are kept for the next connect.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.stopHeartbeatLocked()
	m.stopReconnectLocked()
	tr := m.tr
	m.tr = nil
	wasConnected := m.status.Connected
	m.status.Connected = false
	m.status.Connecting = false
	m.status.Err = ""
	m.mu.Unlock()

	if tr != nil {
		tr.close()
	}
	if wasConnected {
		m.emit(events.KindDisconnect, &events.DisconnectInfo{Reason: "client disconnect"})
	}
	m.emitStatus()
}

// Destroy tears the manager down permanently: closes the connection,
// cancels timers, clears the queue, and removes all handlers. Every
// operation after Destroy fails with ErrDestroyed.
func (m *Manager) Destroy() {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return
	}
	m.destroyed = true
	m.stopHeartbeatLocked()
	m.stopReconnectLocked()
	tr := m.tr
	m.tr = nil
	m.queue = nil
	m.status = Status{}
	m.mu.Unlock()

	if tr != nil {
		tr.close()
	}
	m.bus.Reset()
	m.logger.Debug("connection manager destroyed")
}

// watch consumes the transport's frame and error channels until the
// transport ends.
func (m *Manager) watch(tr *transport) {
	for {
		select {
		case <-tr.done:
			return
		case err := <-tr.errs:
			reason, serverInitiated := tr.closeDetails()
			if reason == "" {
				reason = err.Error()
			}
			m.handleDisconnect(tr, reason, serverInitiated)
			return
		case data := <-tr.frames:
			m.handleFrame(tr, data)
		}
	}
}

// handleFrame parses and dispatches one inbound frame.
func (m *Manager) handleFrame(tr *transport, data []byte) {
	ev, err := events.ParseFrame(data)
	if err != nil {
		m.logger.Warn("discarding malformed frame", "error", err)
		return
	}

	// An explicit disconnect event means the server wants us gone.
	if ev.Kind == events.KindDisconnect {
		reason := "server disconnect"
		if info, ok := ev.Payload.(*events.DisconnectInfo); ok && info.Reason != "" {
			reason = info.Reason
		}
		m.handleDisconnect(tr, reason, true)
		return
	}

	m.bus.Emit(ev)
}

// handleDisconnect transitions out of the connected state. Server-
// initiated closes stay down until the caller reconnects; everything
// else starts the reconnect schedule.
func (m *Manager) handleDisconnect(tr *transport, reason string, serverInitiated bool) {
	m.mu.Lock()
	if m.destroyed || m.tr != tr {
		m.mu.Unlock()
		return
	}
	m.tr = nil
	m.stopHeartbeatLocked()
	m.status.Connected = false
	m.status.Connecting = false
	m.status.Err = reason
	m.mu.Unlock()

	tr.close()

	m.logger.Warn("disconnected", "reason", reason, "server_initiated", serverInitiated)
	m.emit(events.KindDisconnect, &events.DisconnectInfo{Reason: reason, ServerInitiated: serverInitiated})
	m.emitStatus()

	if serverInitiated {
		return
	}
	m.scheduleReconnect()
}

// scheduleReconnect arms the next reconnect attempt after the fixed
// delay, or emits the terminal failure once the budget is exhausted.
func (m *Manager) scheduleReconnect() {
	m.mu.Lock()
	if m.destroyed || m.status.Connected || m.reconnectTimer != nil {
		m.mu.Unlock()
		return
	}

	if m.status.ReconnectAttempts >= m.cfg.MaxReconnectAttempts {
		m.mu.Unlock()
		m.logger.Error("reconnect budget exhausted",
			"attempts", m.cfg.MaxReconnectAttempts,
		)
		m.emit(events.KindReconnectFailed, nil)
		m.emit(events.KindNotification, &events.Notification{
			Type:    "connection",
			Level:   "error",
			Message: "Unable to reconnect to server. Please refresh or try again later.",
		})
		return
	}

	m.status.ReconnectAttempts++
	attempt := m.status.ReconnectAttempts

	m.reconnectTimer = time.AfterFunc(m.cfg.ReconnectDelay, func() {
		m.mu.Lock()
		m.reconnectTimer = nil
		destroyed := m.destroyed
		m.mu.Unlock()
		if destroyed {
			return
		}

		_, err, _ := m.connecting.Do("connect", func() (any, error) {
			return nil, m.connectOnce(context.Background())
		})
		if err == nil {
			m.emit(events.KindReconnect, &events.AttemptInfo{Attempt: attempt})
		}
		// On failure connectOnce has already scheduled the next attempt.
	})
	m.mu.Unlock()

	m.logger.Info("reconnect scheduled",
		"attempt", attempt,
		"max", m.cfg.MaxReconnectAttempts,
		"delay", m.cfg.ReconnectDelay,
	)
	m.emit(events.KindReconnectAttempt, &events.AttemptInfo{Attempt: attempt})
}

// stopReconnectLocked cancels a pending reconnect timer. Caller holds mu.
func (m *Manager) stopReconnectLocked() {
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
}

// startHeartbeatLocked starts the ping loop for tr. Caller holds mu.
func (m *Manager) startHeartbeatLocked(tr *transport) {
	m.stopHeartbeatLocked()
	if m.cfg.HeartbeatInterval <= 0 {
		return
	}
	stop := make(chan struct{})
	m.heartbeatStop = stop
	go m.heartbeatLoop(tr, stop)
}

// stopHeartbeatLocked stops the ping loop. Caller holds mu.
func (m *Manager) stopHeartbeatLocked() {
	if m.heartbeatStop != nil {
		close(m.heartbeatStop)
		m.heartbeatStop = nil
	}
}

// heartbeatLoop sends a ping frame every interval until stopped. A
// failed write ends the loop; the read side surfaces the disconnect.
func (m *Manager) heartbeatLoop(tr *transport, stop chan struct{}) {
	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			data, err := events.EncodeFrame(events.KindPing, nil)
			if err != nil {
				return
			}
			if err := tr.send(data); err != nil {
				if !errors.Is(err, ErrNotConnected) {
					m.logger.Warn("heartbeat send failed", "error", err)
				}
				return
			}
		}
	}
}

// emit publishes a lifecycle event on the bus.
func (m *Manager) emit(kind events.Kind, payload any) {
	m.bus.Emit(events.Event{Kind: kind, Payload: payload, At: time.Now()})
}

// emitStatus publishes a status_update snapshot.
func (m *Manager) emitStatus() {
	m.bus.Emit(events.Event{Kind: events.KindStatusUpdate, Payload: m.Status(), At: time.Now()})
}
