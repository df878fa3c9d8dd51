package connection

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/verdantgrow/growlink/internal/events"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// newWSServer starts a test server that upgrades every request and
// hands the connection to handle.
func newWSServer(t *testing.T, handle func(*websocket.Conn)) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade failed: %v", err)
			return
		}
		handle(conn)
	}))
	t.Cleanup(server.Close)
	return server
}

// echoServer reads frames and forwards them to received.
func echoServer(t *testing.T, received chan []byte) *httptest.Server {
	return newWSServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			select {
			case received <- data:
			default:
			}
		}
	})
}

// recorder collects emitted events for assertion.
type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) handler() events.Handler {
	return func(ev events.Event) {
		r.mu.Lock()
		r.events = append(r.events, ev)
		r.mu.Unlock()
	}
}

func (r *recorder) count(kind events.Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func (r *recorder) attempts() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []int
	for _, ev := range r.events {
		if ev.Kind != events.KindReconnectAttempt {
			continue
		}
		if info, ok := ev.Payload.(*events.AttemptInfo); ok {
			out = append(out, info.Attempt)
		}
	}
	return out
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func testConfig(url string) Config {
	cfg := DefaultConfig()
	cfg.URL = url
	cfg.Timeout = 2 * time.Second
	cfg.ReconnectDelay = 20 * time.Millisecond
	cfg.HeartbeatInterval = 0
	return cfg
}

func TestConnect(t *testing.T) {
	received := make(chan []byte, 16)
	server := echoServer(t, received)

	m := NewManager(testConfig(server.URL), nil)
	defer m.Destroy()

	rec := &recorder{}
	m.On(events.KindConnect, rec.handler())

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}

	if rec.count(events.KindConnect) != 1 {
		t.Errorf("connect events = %d, want 1", rec.count(events.KindConnect))
	}

	st := m.Status()
	if !st.Connected || st.Connecting {
		t.Errorf("status = %+v, want connected", st)
	}
	if st.ReconnectAttempts != 0 {
		t.Errorf("reconnectAttempts = %d, want 0", st.ReconnectAttempts)
	}
	if st.LastConnectedAt.IsZero() {
		t.Error("LastConnectedAt not set")
	}
}

func TestConnect_AlreadyConnected(t *testing.T) {
	received := make(chan []byte, 16)
	server := echoServer(t, received)

	m := NewManager(testConfig(server.URL), nil)
	defer m.Destroy()

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("second Connect() error: %v", err)
	}
}

// Concurrent Connect calls share one attempt: the server sees a single
// upgrade.
func TestConnect_Concurrent(t *testing.T) {
	var upgrades atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		upgrades.Add(1)
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	m := NewManager(testConfig(server.URL), nil)
	defer m.Destroy()

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = m.Connect(context.Background())
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("Connect() %d error: %v", i, err)
		}
	}
	if got := upgrades.Load(); got != 1 {
		t.Errorf("upgrades = %d, want 1", got)
	}
}

// Sends while disconnected are buffered and flushed in FIFO order,
// each exactly once, on the next successful connect.
func TestSend_QueuedAndFlushedInOrder(t *testing.T) {
	received := make(chan []byte, 16)
	server := echoServer(t, received)

	m := NewManager(testConfig(server.URL), nil)
	defer m.Destroy()

	for _, text := range []string{"first", "second", "third"} {
		if err := m.Send(events.KindMessage, map[string]string{"text": text}); err != nil {
			t.Fatalf("Send() error: %v", err)
		}
	}
	if got := m.QueueLen(); got != 3 {
		t.Fatalf("queue length = %d, want 3", got)
	}

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}

	want := []string{"first", "second", "third"}
	for i, text := range want {
		select {
		case data := <-received:
			var f struct {
				Event string `json:"event"`
				Data  struct {
					Text string `json:"text"`
				} `json:"data"`
			}
			if err := json.Unmarshal(data, &f); err != nil {
				t.Fatalf("unmarshal frame %d: %v", i, err)
			}
			if f.Event != "message" || f.Data.Text != text {
				t.Errorf("frame %d = %s/%q, want message/%q", i, f.Event, f.Data.Text, text)
			}
		case <-time.After(time.Second):
			t.Fatalf("frame %d never arrived", i)
		}
	}

	if got := m.QueueLen(); got != 0 {
		t.Errorf("queue length after flush = %d, want 0", got)
	}

	// No duplicate retransmission.
	select {
	case data := <-received:
		t.Errorf("unexpected extra frame: %s", data)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSend_QueueDropsOldestAtLimit(t *testing.T) {
	cfg := testConfig("ws://127.0.0.1:1")
	cfg.QueueLimit = 2

	m := NewManager(cfg, nil)
	defer m.Destroy()

	for _, text := range []string{"a", "b", "c"} {
		m.Send(events.KindMessage, map[string]string{"text": text})
	}

	if got := m.QueueLen(); got != 2 {
		t.Errorf("queue length = %d, want 2 (oldest dropped)", got)
	}
}

// A dropped connection triggers automatic reconnection with a fixed
// delay, and a successful reconnect resets the attempt counter.
func TestReconnect_AfterConnectionDrop(t *testing.T) {
	var conns atomic.Int32
	server := newWSServer(t, func(conn *websocket.Conn) {
		n := conns.Add(1)
		if n == 1 {
			// Abrupt close, no close frame.
			conn.Close()
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	m := NewManager(testConfig(server.URL), nil)
	defer m.Destroy()

	rec := &recorder{}
	m.On(events.KindDisconnect, rec.handler())
	m.On(events.KindReconnectAttempt, rec.handler())
	m.On(events.KindReconnect, rec.handler())

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		return rec.count(events.KindReconnect) == 1
	}, "reconnect event")

	if rec.count(events.KindDisconnect) != 1 {
		t.Errorf("disconnect events = %d, want 1", rec.count(events.KindDisconnect))
	}
	if got := rec.attempts(); len(got) != 1 || got[0] != 1 {
		t.Errorf("reconnect attempts = %v, want [1]", got)
	}

	st := m.Status()
	if !st.Connected {
		t.Error("not reconnected")
	}
	if st.ReconnectAttempts != 0 {
		t.Errorf("reconnectAttempts = %d, want 0 after successful reconnect", st.ReconnectAttempts)
	}
}

// A server-initiated close (normal close frame) never auto-reconnects.
func TestReconnect_NotAfterServerClose(t *testing.T) {
	var conns atomic.Int32
	server := newWSServer(t, func(conn *websocket.Conn) {
		conns.Add(1)
		defer conn.Close()
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "maintenance"),
			time.Now().Add(time.Second),
		)
		conn.ReadMessage()
	})

	m := NewManager(testConfig(server.URL), nil)
	defer m.Destroy()

	rec := &recorder{}
	m.On(events.KindDisconnect, rec.handler())
	m.On(events.KindReconnectAttempt, rec.handler())

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		return rec.count(events.KindDisconnect) == 1
	}, "disconnect event")

	rec.mu.Lock()
	var info *events.DisconnectInfo
	for _, ev := range rec.events {
		if ev.Kind == events.KindDisconnect {
			info, _ = ev.Payload.(*events.DisconnectInfo)
		}
	}
	rec.mu.Unlock()

	if info == nil || !info.ServerInitiated {
		t.Fatalf("disconnect payload = %+v, want server-initiated", info)
	}

	// Wait several reconnect delays; nothing should happen.
	time.Sleep(150 * time.Millisecond)
	if got := rec.count(events.KindReconnectAttempt); got != 0 {
		t.Errorf("reconnect attempts = %d, want 0", got)
	}
	if got := conns.Load(); got != 1 {
		t.Errorf("connections = %d, want 1", got)
	}
	st := m.Status()
	if st.Connected || st.Connecting {
		t.Errorf("status = %+v, want fully down", st)
	}
}

// Exhausting the reconnect budget emits attempts 1..max, then exactly
// one terminal failure event and one user notification.
func TestReconnect_BudgetExhausted(t *testing.T) {
	cfg := testConfig("ws://127.0.0.1:1")
	cfg.Timeout = 200 * time.Millisecond
	cfg.ReconnectDelay = 10 * time.Millisecond
	cfg.MaxReconnectAttempts = 3

	m := NewManager(cfg, nil)
	defer m.Destroy()

	rec := &recorder{}
	m.On(events.KindConnectError, rec.handler())
	m.On(events.KindReconnectAttempt, rec.handler())
	m.On(events.KindReconnectFailed, rec.handler())
	m.On(events.KindNotification, rec.handler())

	if err := m.Connect(context.Background()); err == nil {
		t.Fatal("Connect() should fail against closed port")
	}

	waitFor(t, 5*time.Second, func() bool {
		return rec.count(events.KindReconnectFailed) >= 1
	}, "terminal reconnect failure")

	// Settle, then check nothing fires again.
	time.Sleep(100 * time.Millisecond)

	if got := rec.attempts(); len(got) != 3 || got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Errorf("reconnect attempts = %v, want [1 2 3]", got)
	}
	if got := rec.count(events.KindReconnectFailed); got != 1 {
		t.Errorf("reconnect_failed events = %d, want exactly 1", got)
	}
	if got := rec.count(events.KindNotification); got != 1 {
		t.Errorf("notifications = %d, want exactly 1", got)
	}

	st := m.Status()
	if st.Connected || st.Connecting {
		t.Errorf("status = %+v, want fully down", st)
	}
	if st.ReconnectAttempts != 3 {
		t.Errorf("reconnectAttempts = %d, want 3", st.ReconnectAttempts)
	}
}

// Inbound frames fan out to subscribers with typed payloads.
func TestInboundDispatch(t *testing.T) {
	server := newWSServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte(
			`{"event":"sensor_update","data":{"room_id":"veg-1","sensor_id":"th-3","metric":"humidity","value":61.5}}`,
		))
		conn.ReadMessage()
	})

	m := NewManager(testConfig(server.URL), nil)
	defer m.Destroy()

	got := make(chan *events.SensorUpdate, 1)
	m.On(events.KindSensorUpdate, func(ev events.Event) {
		if su, ok := ev.Payload.(*events.SensorUpdate); ok {
			got <- su
		}
	})

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}

	select {
	case su := <-got:
		if su.RoomID != "veg-1" || su.Metric != "humidity" || su.Value != 61.5 {
			t.Errorf("payload = %+v", su)
		}
	case <-time.After(time.Second):
		t.Fatal("sensor_update never dispatched")
	}
}

func TestHeartbeat(t *testing.T) {
	received := make(chan []byte, 16)
	server := echoServer(t, received)

	cfg := testConfig(server.URL)
	cfg.HeartbeatInterval = 20 * time.Millisecond

	m := NewManager(cfg, nil)
	defer m.Destroy()

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}

	pings := 0
	deadline := time.After(time.Second)
	for pings < 2 {
		select {
		case data := <-received:
			var f struct {
				Event string `json:"event"`
			}
			if err := json.Unmarshal(data, &f); err != nil {
				t.Fatalf("unmarshal frame: %v", err)
			}
			if f.Event == "ping" {
				pings++
			}
		case <-deadline:
			t.Fatalf("got %d pings, want 2", pings)
		}
	}
}

func TestDisconnect_Manual(t *testing.T) {
	received := make(chan []byte, 16)
	server := echoServer(t, received)

	m := NewManager(testConfig(server.URL), nil)
	defer m.Destroy()

	rec := &recorder{}
	m.On(events.KindReconnectAttempt, rec.handler())

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	m.Disconnect()

	st := m.Status()
	if st.Connected || st.Connecting {
		t.Errorf("status = %+v, want disconnected", st)
	}

	// Manual disconnect never schedules a reconnect.
	time.Sleep(100 * time.Millisecond)
	if got := rec.count(events.KindReconnectAttempt); got != 0 {
		t.Errorf("reconnect attempts = %d, want 0", got)
	}

	// Sends queue again for the next connect.
	if err := m.Send(events.KindMessage, map[string]string{"text": "later"}); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if got := m.QueueLen(); got != 1 {
		t.Errorf("queue length = %d, want 1", got)
	}
}

func TestDestroy(t *testing.T) {
	received := make(chan []byte, 16)
	server := echoServer(t, received)

	m := NewManager(testConfig(server.URL), nil)
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}

	m.Destroy()

	if err := m.Connect(context.Background()); !errors.Is(err, ErrDestroyed) {
		t.Errorf("Connect() after Destroy = %v, want ErrDestroyed", err)
	}
	if err := m.Send(events.KindMessage, nil); !errors.Is(err, ErrDestroyed) {
		t.Errorf("Send() after Destroy = %v, want ErrDestroyed", err)
	}

	st := m.Status()
	if st.Connected || st.Connecting {
		t.Errorf("status = %+v, want zeroed", st)
	}

	// Destroy twice is a no-op.
	m.Destroy()
}
