package transport

import (
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/feiramob/chatcore/internal/protocol"
	"github.com/feiramob/chatcore/internal/rest"
	"github.com/feiramob/chatcore/internal/status"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Keepalive and reconnect policy. A ping goes out every pingInterval; if
// nothing at all arrives for longer than pongTimeout the socket is assumed
// half-open and closed to force a reconnect. Reconnect delays double from
// backoffBase up to backoffCap.
const (
	pingInterval = 15 * time.Second
	pongTimeout  = 30 * time.Second
	backoffBase  = time.Second
	backoffCap   = 30 * time.Second

	writeWait = 10 * time.Second
)

var (
	// ErrNotConnected is returned by Send while no live connection exists.
	// Callers queue instead of retrying; the session never buffers frames.
	ErrNotConnected = errors.New("transport session not connected")
	// ErrNoToken is returned by Connect when no bearer token is available.
	ErrNoToken = errors.New("no auth token available")
)

// Session owns the single persistent socket to the chat server: its
// lifecycle, keepalive, and reconnection with exponential backoff. A
// server-signaled session replacement sets the suppress flag, which stops
// the reconnect loop until the next manual Connect.
type Session struct {
	baseURL string
	tokens  rest.TokenProvider
	machine *status.Machine
	logger  *zap.Logger
	dialer  *websocket.Dialer

	// onOpen runs synchronously inside the open handling, before any new
	// caller-initiated send can interleave with the queue flush.
	onOpen  func()
	onFrame func(data []byte)

	mu           sync.Mutex
	conn         *websocket.Conn
	gen          int // bumps per connection; stale callbacks check it
	connecting   bool
	suppressed   bool
	attempt      int
	lastActivity time.Time
	stopPing     chan struct{}

	writeMu sync.Mutex
}

// NewSession creates a session for the backend at baseURL (HTTP scheme; the
// socket URL is derived from it).
func NewSession(baseURL string, tokens rest.TokenProvider, machine *status.Machine, logger *zap.Logger) *Session {
	return &Session{
		baseURL: baseURL,
		tokens:  tokens,
		machine: machine,
		logger:  logger,
		dialer:  websocket.DefaultDialer,
	}
}

// SetHooks installs the open and inbound-frame callbacks. Must be called
// before Connect.
func (s *Session) SetHooks(onOpen func(), onFrame func([]byte)) {
	s.onOpen = onOpen
	s.onFrame = onFrame
}

// SocketURL rewrites an HTTP base URL into the authenticated socket URL:
// http→ws, https→wss, path /ws, token in the query string.
func SocketURL(baseURL, token string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = "/ws"
	q := url.Values{}
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Backoff returns the reconnect delay before attempt n: min(1s·2^n, 30s).
func Backoff(attempt int) time.Duration {
	if attempt >= 5 {
		return backoffCap
	}
	d := backoffBase << attempt
	if d > backoffCap {
		return backoffCap
	}
	return d
}

// Connect establishes the connection. A manual call clears the suppress
// flag. It is a no-op while an attempt is in flight or a live connection
// exists; without a token it fails with ErrNoToken.
func (s *Session) Connect() error { return s.connect(true) }

func (s *Session) connect(manual bool) error {
	s.mu.Lock()
	if manual {
		s.suppressed = false
	} else if s.suppressed {
		s.mu.Unlock()
		return nil
	}
	if s.connecting || s.conn != nil {
		s.mu.Unlock()
		return nil
	}
	token := s.tokens.Token()
	if token == "" {
		s.mu.Unlock()
		s.logger.Warn("connect skipped: no auth token")
		return ErrNoToken
	}
	s.connecting = true
	s.mu.Unlock()

	_ = s.machine.Transition(status.Connecting)

	socketURL, err := SocketURL(s.baseURL, token)
	if err != nil {
		s.mu.Lock()
		s.connecting = false
		s.mu.Unlock()
		_ = s.machine.Transition(status.Disconnected)
		return err
	}

	conn, resp, err := s.dialer.Dial(socketURL, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		s.mu.Lock()
		s.connecting = false
		suppressed := s.suppressed
		s.mu.Unlock()
		s.logger.Error("dial failed", zap.Error(err))
		if suppressed {
			_ = s.machine.Transition(status.Suppressed)
		} else {
			_ = s.machine.Transition(status.Reconnecting)
			s.scheduleReconnect()
		}
		return fmt.Errorf("dial chat server: %w", err)
	}

	s.mu.Lock()
	s.connecting = false
	s.conn = conn
	s.gen++
	gen := s.gen
	s.attempt = 0
	s.lastActivity = time.Now()
	stop := make(chan struct{})
	s.stopPing = stop
	s.mu.Unlock()

	_ = s.machine.Transition(status.Connected)
	s.logger.Info("connected to chat server")

	go s.readLoop(conn, gen)
	go s.keepalive(conn, gen, stop)

	if s.onOpen != nil {
		s.onOpen()
	}
	return nil
}

// Disconnect tears the connection down and stops the reconnect loop until
// the next manual Connect.
func (s *Session) Disconnect() {
	s.mu.Lock()
	s.suppressed = true
	conn := s.conn
	s.conn = nil
	s.gen++
	if s.stopPing != nil {
		close(s.stopPing)
		s.stopPing = nil
	}
	s.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
		s.logger.Info("disconnected")
	}
	_ = s.machine.Transition(status.Disconnected)
}

// Suppress stops the automatic reconnect loop. Used when the server reports
// this session was replaced by a newer login elsewhere; fighting that policy
// would just bounce both devices.
func (s *Session) Suppress() {
	s.mu.Lock()
	s.suppressed = true
	s.mu.Unlock()
	s.logger.Warn("reconnect suppressed: session replaced by a newer login")
}

// Send marshals frame to JSON and writes it to the live connection. Returns
// ErrNotConnected when there is none; the caller is responsible for queuing.
func (s *Session) Send(frame any) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

func (s *Session) readLoop(conn *websocket.Conn, gen int) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.handleClose(gen, err)
			return
		}
		s.mu.Lock()
		if gen != s.gen {
			s.mu.Unlock()
			return
		}
		s.lastActivity = time.Now()
		s.mu.Unlock()
		if s.onFrame != nil {
			s.onFrame(data)
		}
	}
}

func (s *Session) keepalive(conn *websocket.Conn, gen int, stop chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			stale := gen == s.gen && time.Since(s.lastActivity) > pongTimeout
			s.mu.Unlock()
			if stale {
				// Half-open connection; close it so the reconnect loop takes over.
				s.logger.Warn("no inbound traffic, forcing reconnect",
					zap.Duration("threshold", pongTimeout))
				_ = conn.Close()
				return
			}
			if err := s.Send(protocol.NewPing()); err != nil {
				s.logger.Warn("keepalive ping failed", zap.Error(err))
				return
			}
		}
	}
}

// handleClose runs when the read loop dies. Stale generations (a newer
// connection already exists, or Disconnect ran) do nothing; cancellation is
// a state check at callback time, not timer surgery.
func (s *Session) handleClose(gen int, cause error) {
	s.mu.Lock()
	if gen != s.gen || s.conn == nil {
		s.mu.Unlock()
		return
	}
	_ = s.conn.Close()
	s.conn = nil
	if s.stopPing != nil {
		close(s.stopPing)
		s.stopPing = nil
	}
	suppressed := s.suppressed
	s.mu.Unlock()

	s.logger.Warn("connection closed", zap.Error(cause))

	if suppressed {
		_ = s.machine.Transition(status.Suppressed)
		return
	}
	_ = s.machine.Transition(status.Reconnecting)
	s.scheduleReconnect()
}

func (s *Session) scheduleReconnect() {
	s.mu.Lock()
	attempt := s.attempt
	s.attempt++
	s.mu.Unlock()

	delay := Backoff(attempt)
	s.logger.Info("scheduling reconnect",
		zap.Int("attempt", attempt), zap.Duration("delay", delay))
	time.AfterFunc(delay, func() {
		_ = s.connect(false)
	})
}
