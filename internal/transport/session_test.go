package transport

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/feiramob/chatcore/internal/rest"
	"github.com/feiramob/chatcore/internal/status"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// fakeChatServer accepts socket connections and records them.
type fakeChatServer struct {
	t        *testing.T
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu     sync.Mutex
	conns  []*websocket.Conn
	tokens []string
}

func newFakeChatServer(t *testing.T) *fakeChatServer {
	f := &fakeChatServer{t: t}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ws" {
			http.NotFound(w, r)
			return
		}
		conn, err := f.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		f.mu.Lock()
		f.conns = append(f.conns, conn)
		f.tokens = append(f.tokens, r.URL.Query().Get("token"))
		f.mu.Unlock()
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeChatServer) connCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns)
}

func (f *fakeChatServer) lastConn() *websocket.Conn {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.conns) == 0 {
		return nil
	}
	return f.conns[len(f.conns)-1]
}

func (f *fakeChatServer) waitForConns(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if f.connCount() >= n {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

func testSession(t *testing.T, f *fakeChatServer) (*Session, *status.Machine) {
	t.Helper()
	machine := status.NewMachine(nil)
	s := NewSession(f.srv.URL, rest.StaticToken("tok-1"), machine, zap.NewNop())
	t.Cleanup(s.Disconnect)
	return s, machine
}

func TestBackoffMonotonicity(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},
		{10, 30 * time.Second},
		{63, 30 * time.Second},
	}
	for _, tt := range tests {
		if got := Backoff(tt.attempt); got != tt.want {
			t.Errorf("Backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestSocketURLRewrite(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{"http://api.example.com", "ws://api.example.com/ws?token=abc"},
		{"https://api.example.com", "wss://api.example.com/ws?token=abc"},
		{"https://api.example.com/v2", "wss://api.example.com/ws?token=abc"},
	}
	for _, tt := range tests {
		got, err := SocketURL(tt.base, "abc")
		if err != nil {
			t.Errorf("SocketURL(%q) error = %v", tt.base, err)
			continue
		}
		if got != tt.want {
			t.Errorf("SocketURL(%q) = %q, want %q", tt.base, got, tt.want)
		}
	}
	if _, err := SocketURL("ftp://x", "t"); err == nil {
		t.Error("ftp scheme should be rejected")
	}
}

func TestConnectAuthenticatesViaQueryToken(t *testing.T) {
	f := newFakeChatServer(t)
	s, machine := testSession(t, f)

	opened := make(chan struct{}, 1)
	s.SetHooks(func() { opened <- struct{}{} }, nil)

	if err := s.Connect(); err != nil {
		t.Fatal(err)
	}
	select {
	case <-opened:
	case <-time.After(2 * time.Second):
		t.Fatal("open hook never ran")
	}
	if !machine.IsConnected() {
		t.Errorf("state = %s, want CONNECTED", machine.Current())
	}
	f.mu.Lock()
	token := f.tokens[0]
	f.mu.Unlock()
	if token != "tok-1" {
		t.Errorf("server saw token %q, want tok-1", token)
	}
}

func TestConnectWithoutTokenFails(t *testing.T) {
	f := newFakeChatServer(t)
	machine := status.NewMachine(nil)
	s := NewSession(f.srv.URL, rest.StaticToken(""), machine, zap.NewNop())

	if err := s.Connect(); !errors.Is(err, ErrNoToken) {
		t.Errorf("Connect() error = %v, want ErrNoToken", err)
	}
	if machine.Current() != status.Disconnected {
		t.Errorf("state = %s, want DISCONNECTED", machine.Current())
	}
}

func TestConnectIsSingleFlight(t *testing.T) {
	f := newFakeChatServer(t)
	s, _ := testSession(t, f)

	if err := s.Connect(); err != nil {
		t.Fatal(err)
	}
	// A second connect while live is a no-op, not a second connection.
	if err := s.Connect(); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)
	if n := f.connCount(); n != 1 {
		t.Errorf("server saw %d connections, want 1", n)
	}
}

func TestSendAndReceiveFrames(t *testing.T) {
	f := newFakeChatServer(t)
	s, _ := testSession(t, f)

	frames := make(chan []byte, 10)
	s.SetHooks(nil, func(data []byte) { frames <- data })
	if err := s.Connect(); err != nil {
		t.Fatal(err)
	}
	if !f.waitForConns(1, 2*time.Second) {
		t.Fatal("server never saw the connection")
	}
	server := f.lastConn()

	// Server push reaches the frame hook.
	if err := server.WriteMessage(websocket.TextMessage, []byte(`{"type":"pong"}`)); err != nil {
		t.Fatal(err)
	}
	select {
	case data := <-frames:
		var m map[string]any
		if err := json.Unmarshal(data, &m); err != nil || m["type"] != "pong" {
			t.Errorf("frame = %s", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("inbound frame never delivered")
	}

	// Client send reaches the server.
	if err := s.Send(map[string]string{"type": "ping"}); err != nil {
		t.Fatal(err)
	}
	_, data, err := server.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil || m["type"] != "ping" {
		t.Errorf("server received %s", data)
	}
}

func TestSendWhileDisconnected(t *testing.T) {
	f := newFakeChatServer(t)
	s, _ := testSession(t, f)
	if err := s.Send(map[string]string{"type": "ping"}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send error = %v, want ErrNotConnected", err)
	}
}

func TestReconnectAfterServerDrop(t *testing.T) {
	f := newFakeChatServer(t)
	s, machine := testSession(t, f)

	if err := s.Connect(); err != nil {
		t.Fatal(err)
	}
	if !f.waitForConns(1, 2*time.Second) {
		t.Fatal("no initial connection")
	}

	// Server drops the connection; first retry waits the 1s base backoff.
	_ = f.lastConn().Close()
	if !f.waitForConns(2, 5*time.Second) {
		t.Fatalf("no reconnect, state = %s", machine.Current())
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && !machine.IsConnected() {
		time.Sleep(10 * time.Millisecond)
	}
	if !machine.IsConnected() {
		t.Errorf("state = %s after reconnect, want CONNECTED", machine.Current())
	}
}

func TestSuppressStopsReconnectLoop(t *testing.T) {
	f := newFakeChatServer(t)
	s, machine := testSession(t, f)

	if err := s.Connect(); err != nil {
		t.Fatal(err)
	}
	if !f.waitForConns(1, 2*time.Second) {
		t.Fatal("no initial connection")
	}

	// Server replaced this session elsewhere: suppress, then drop.
	s.Suppress()
	_ = f.lastConn().Close()

	time.Sleep(1500 * time.Millisecond) // past the first backoff window
	if n := f.connCount(); n != 1 {
		t.Errorf("server saw %d connections, want 1 (reconnect suppressed)", n)
	}
	if machine.Current() != status.Suppressed {
		t.Errorf("state = %s, want SUPPRESSED", machine.Current())
	}

	// A manual connect clears suppression.
	if err := s.Connect(); err != nil {
		t.Fatal(err)
	}
	if !f.waitForConns(2, 2*time.Second) {
		t.Error("manual connect after suppression did not reconnect")
	}
}

func TestDisconnectIsFinal(t *testing.T) {
	f := newFakeChatServer(t)
	s, machine := testSession(t, f)

	if err := s.Connect(); err != nil {
		t.Fatal(err)
	}
	if !f.waitForConns(1, 2*time.Second) {
		t.Fatal("no initial connection")
	}
	s.Disconnect()

	time.Sleep(1500 * time.Millisecond)
	if n := f.connCount(); n != 1 {
		t.Errorf("server saw %d connections after Disconnect, want 1", n)
	}
	if machine.Current() != status.Disconnected {
		t.Errorf("state = %s, want DISCONNECTED", machine.Current())
	}
}
