package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var (
	// ErrNotConnected is returned when sending on a closed transport.
	ErrNotConnected = errors.New("not connected")

	// ErrDestroyed is returned by Manager operations after Destroy.
	ErrDestroyed = errors.New("connection manager destroyed")
)

// transportConfig holds the settings for a single WebSocket dial.
type transportConfig struct {
	URL              string
	Path             string
	AuthToken        string
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	BufferSize       int
}

// closeState records how the remote end terminated the connection.
type closeState struct {
	reason          string
	serverInitiated bool
}

// transport wraps one WebSocket connection. It delivers raw frames and
// errors over channels; the Manager interprets them.
type transport struct {
	cfg    transportConfig
	logger *slog.Logger

	conn *websocket.Conn

	// Output channels
	frames chan []byte
	errs   chan error
	done   chan struct{}

	// Write serialization
	writeMu sync.Mutex

	// State
	mu        sync.RWMutex
	connected bool
	closed    bool
	closing   closeState
}

// newTransport creates an unconnected transport.
func newTransport(cfg transportConfig, logger *slog.Logger) *transport {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}
	return &transport{
		cfg:    cfg,
		logger: logger,
		frames: make(chan []byte, cfg.BufferSize),
		errs:   make(chan error, 1),
		done:   make(chan struct{}),
	}
}

// connect dials the server and starts the read loop.
func (t *transport) connect(ctx context.Context) error {
	endpoint, err := t.endpointURL()
	if err != nil {
		return err
	}

	header := http.Header{}
	if t.cfg.AuthToken != "" {
		header.Set("Authorization", "Bearer "+t.cfg.AuthToken)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: t.cfg.HandshakeTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		return fmt.Errorf("dial event channel: %w", err)
	}

	t.mu.Lock()
	t.conn = conn
	t.connected = true
	t.mu.Unlock()

	go t.readLoop()

	t.logger.Debug("event channel connected", "url", endpoint)
	return nil
}

// endpointURL combines the configured URL and path, accepting http(s)
// schemes as aliases for ws(s).
func (t *transport) endpointURL() (string, error) {
	u, err := url.Parse(t.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("parse event channel URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	if t.cfg.Path != "" {
		u.Path = t.cfg.Path
	}
	return u.String(), nil
}

// send writes one frame to the connection.
func (t *transport) send(data []byte) error {
	t.mu.RLock()
	if !t.connected {
		t.mu.RUnlock()
		return ErrNotConnected
	}
	t.mu.RUnlock()

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	t.conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout))
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

// close shuts down the transport. Safe to call more than once.
func (t *transport) close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.connected = false
	t.mu.Unlock()

	close(t.done)

	if t.conn != nil {
		t.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		return t.conn.Close()
	}
	return nil
}

// closeDetails reports how the connection ended, if a close frame was
// observed.
func (t *transport) closeDetails() (reason string, serverInitiated bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.closing.reason, t.closing.serverInitiated
}

// readLoop reads frames from the WebSocket into the frames channel.
func (t *transport) readLoop() {
	defer func() {
		t.mu.Lock()
		t.connected = false
		t.mu.Unlock()
	}()

	for {
		select {
		case <-t.done:
			return
		default:
		}

		_, data, err := t.conn.ReadMessage()
		if err != nil {
			// Ignore errors after close() was called
			select {
			case <-t.done:
				return
			default:
			}

			t.recordClose(err)
			select {
			case t.errs <- err:
			default:
			}
			return
		}

		select {
		case t.frames <- data:
		case <-t.done:
			return
		default:
			t.logger.Warn("frame buffer full, dropping frame")
		}
	}
}

// recordClose captures close-frame details so the manager can tell a
// deliberate server close from a network failure.
func (t *transport) recordClose(err error) {
	var ce *websocket.CloseError
	if !errors.As(err, &ce) {
		return
	}

	reason := ce.Text
	if reason == "" {
		reason = fmt.Sprintf("connection closed (%d)", ce.Code)
	}

	t.mu.Lock()
	t.closing = closeState{
		reason:          reason,
		serverInitiated: ce.Code == websocket.CloseNormalClosure || ce.Code == websocket.CloseGoingAway,
	}
	t.mu.Unlock()
}
