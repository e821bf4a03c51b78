// SPDX-License-Identifier: MIT

package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hoshikara/karad/internal/playlist"
	"github.com/hoshikara/karad/internal/workers"
)

// socketEndpoint is the WebSocket path on the karaoke server.
const socketEndpoint = "/ws/playlist/device/"

// SocketCallbacks are the notifications dispatched by the session. Unset
// members default to no-ops.
type SocketCallbacks struct {
	// Idle is invoked on an idle order.
	Idle func()

	// PlaylistEntry is invoked with a new playlist entry to play.
	PlaylistEntry func(entry *playlist.Entry)

	// Command is invoked with a player command (play, pause, skip,
	// restart, rewind, fast_forward).
	Command func(command string)

	// ConnectionLost is invoked when the socket drops unexpectedly, not
	// on a clean close.
	ConnectionLost func()
}

func (c *SocketCallbacks) fillDefaults() {
	if c.Idle == nil {
		c.Idle = func() {}
	}
	if c.PlaylistEntry == nil {
		c.PlaylistEntry = func(*playlist.Entry) {}
	}
	if c.Command == nil {
		c.Command = func(string) {}
	}
	if c.ConnectionLost == nil {
		c.ConnectionLost = func() {}
	}
}

// frame is the wire shape of every WebSocket message.
type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// SessionConfig configures the WebSocket session.
type SessionConfig struct {
	// URL is the full WebSocket URL (ws[s]://address/ws/playlist/device/).
	URL string

	// Token returns the bearer token at connect time, so the session never
	// holds credentials itself.
	Token func() string

	// ReconnectInterval is the delay before a reconnection attempt.
	ReconnectInterval time.Duration

	// Logger is optional; nil disables logging.
	Logger *slog.Logger
}

// SocketURL builds the WebSocket URL from the configured scheme and
// address.
func SocketURL(scheme, address string) string {
	return fmt.Sprintf("%s://%s%s", scheme, address, socketEndpoint)
}

// Session is the command and event channel with the karaoke server.
//
// Run connects, announces readiness with a ready frame, and dispatches
// incoming frames until the stop signal trips. A transient disconnection
// after the first successful connect schedules a reconnect; a failure
// before that is fatal. The session never crashes the daemon on a protocol
// violation by the server.
type Session struct {
	cfg    SessionConfig
	logger *slog.Logger
	group  *workers.Group

	callbacks SocketCallbacks

	mu        sync.Mutex
	conn      *websocket.Conn
	aborted   bool
	connected bool // at least one successful connect happened

	dialer *websocket.Dialer
}

// NewSession creates a WebSocket session. Register callbacks before Run.
func NewSession(cfg SessionConfig, group *workers.Group) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	s := &Session{
		cfg:    cfg,
		logger: logger,
		group:  group,
		dialer: &websocket.Dialer{
			HandshakeTimeout: DefaultTimeout,
		},
	}
	s.callbacks.fillDefaults()
	return s
}

// SetCallbacks registers the session callbacks. Must be called before Run.
func (s *Session) SetCallbacks(cb SocketCallbacks) {
	cb.fillDefaults()
	s.callbacks = cb
}

// Run loops connecting, reading and dispatching until the stop signal
// trips or a fatal connection failure occurs. Intended to run as a
// supervised worker.
func (s *Session) Run() error {
	stop := s.group.Stop()

	for {
		if stop.IsSet() {
			return nil
		}

		conn, err := s.connect()
		if err != nil {
			if s.isAborted() || stop.IsSet() {
				return nil
			}
			if !s.hasConnected() || errors.Is(err, ErrAuthentication) {
				// A refused upgrade is always fatal; other failures are
				// fatal only on the first attempt.
				return err
			}
			s.logger.Error("reconnection failed", "error", err)
			if stopped := s.waitReconnect(); stopped {
				return nil
			}
			continue
		}

		s.readUntilClosed(conn)

		if s.isAborted() || stop.IsSet() {
			return nil
		}

		// Abnormal drop: tell the manager, then schedule the reconnect.
		s.logger.Warn("connection to server lost")
		s.callbacks.ConnectionLost()
		if stopped := s.waitReconnect(); stopped {
			return nil
		}
	}
}

// connect dials the server and announces readiness.
func (s *Session) connect() (*websocket.Conn, error) {
	header := http.Header{}
	if token := s.cfg.Token(); token != "" {
		header.Set("Authorization", "Token "+token)
	}

	s.logger.Debug("connecting to server", "url", s.cfg.URL)
	conn, resp, err := s.dialer.Dial(s.cfg.URL, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: server refused the WebSocket upgrade (%s)", ErrAuthentication, resp.Status)
		}
		return nil, fmt.Errorf("%w: unable to open WebSocket: %v", ErrNetwork, err)
	}

	s.mu.Lock()
	s.conn = conn
	s.connected = true
	s.mu.Unlock()

	s.logger.Info("connected to server")
	if err := conn.WriteJSON(frame{Type: "ready"}); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: unable to send ready frame: %v", ErrNetwork, err)
	}
	s.logger.Debug("told the server the player is ready")

	return conn, nil
}

// readUntilClosed dispatches incoming frames until the connection drops.
func (s *Session) readUntilClosed(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			_ = conn.Close()
			s.mu.Lock()
			s.conn = nil
			s.mu.Unlock()
			return
		}
		s.dispatch(data)
	}
}

// dispatch routes one frame to its callback. Malformed or unknown frames
// are logged and ignored.
func (s *Session) dispatch(data []byte) {
	var msg frame
	if err := json.Unmarshal(data, &msg); err != nil {
		s.logger.Warn("malformed frame from server", "error", err)
		return
	}

	switch msg.Type {
	case "idle":
		s.logger.Debug("received idle order")
		s.callbacks.Idle()

	case "playlist_entry":
		var entry playlist.Entry
		if err := json.Unmarshal(msg.Data, &entry); err != nil {
			s.logger.Warn("malformed playlist entry from server", "error", err)
			return
		}
		s.logger.Debug("received playlist entry order", "entry", entry.ID)
		s.callbacks.PlaylistEntry(&entry)

	case "command":
		var payload struct {
			Command string `json:"command"`
		}
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			s.logger.Warn("malformed command from server", "error", err)
			return
		}
		s.logger.Debug("received command order", "command", payload.Command)
		s.callbacks.Command(payload.Command)

	default:
		s.logger.Warn("unknown frame type from server", "type", msg.Type)
	}
}

// waitReconnect schedules the reconnection delay through the worker group
// timer and waits for it. It returns true when the stop signal preempted
// the wait.
func (s *Session) waitReconnect() bool {
	s.logger.Info("will try to reconnect", "interval", s.cfg.ReconnectInterval)

	fired := make(chan struct{}, 1)
	s.group.ScheduleOnce("ws-reconnect", s.cfg.ReconnectInterval, func() error {
		fired <- struct{}{}
		return nil
	})

	select {
	case <-s.group.Stop().Wait():
		return true
	case <-fired:
		return false
	}
}

// Abort unblocks the session's read and prevents any reconnection. It is
// idempotent and safe from any goroutine; the supervisor calls it during
// teardown.
func (s *Session) Abort() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.aborted {
		return
	}
	s.aborted = true
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
}

func (s *Session) isAborted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aborted
}

func (s *Session) hasConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}
