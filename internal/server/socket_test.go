// SPDX-License-Identifier: MIT

package server

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hoshikara/karad/internal/playlist"
	"github.com/hoshikara/karad/internal/workers"
)

// wsTestServer upgrades connections and exposes them for the test to
// script.
type wsTestServer struct {
	server *httptest.Server

	mu    sync.Mutex
	conns []*websocket.Conn

	ready chan *websocket.Conn // receives each connection after the ready frame
}

func newWSTestServer(t *testing.T) *wsTestServer {
	t.Helper()
	upgrader := websocket.Upgrader{}
	ws := &wsTestServer{ready: make(chan *websocket.Conn, 4)}

	ws.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Token abc123" {
			w.WriteHeader(http.StatusForbidden)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ws.mu.Lock()
		ws.conns = append(ws.conns, conn)
		ws.mu.Unlock()

		// The client must announce readiness first.
		var msg frame
		if err := conn.ReadJSON(&msg); err != nil || msg.Type != "ready" {
			t.Errorf("first frame = %+v (err %v), want ready", msg, err)
			_ = conn.Close()
			return
		}
		ws.ready <- conn
	}))
	t.Cleanup(ws.server.Close)
	return ws
}

func (ws *wsTestServer) url() string {
	return "ws" + strings.TrimPrefix(ws.server.URL, "http")
}

func (ws *wsTestServer) waitReady(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-ws.ready:
		return conn
	case <-time.After(5 * time.Second):
		t.Fatal("client never connected and sent ready")
		return nil
	}
}

// newSessionRig builds a session against the test server with short
// reconnection delays.
func newSessionRig(t *testing.T, url string) (*Session, *workers.StopSignal, chan error) {
	t.Helper()
	stop := workers.NewStopSignal()
	group := workers.NewGroup(stop, workers.NewErrorSink(4), nil)

	session := NewSession(SessionConfig{
		URL:               url,
		Token:             func() string { return "abc123" },
		ReconnectInterval: 20 * time.Millisecond,
	}, group)

	done := make(chan error, 1)
	return session, stop, done
}

func TestSessionReadyAndDispatch(t *testing.T) {
	ws := newWSTestServer(t)
	session, stop, done := newSessionRig(t, ws.url())

	idle := make(chan struct{}, 1)
	entries := make(chan *playlist.Entry, 1)
	commands := make(chan string, 1)
	session.SetCallbacks(SocketCallbacks{
		Idle:          func() { idle <- struct{}{} },
		PlaylistEntry: func(e *playlist.Entry) { entries <- e },
		Command:       func(c string) { commands <- c },
	})

	go func() { done <- session.Run() }()
	conn := ws.waitReady(t)

	// Orders of every recognized type, plus garbage in between.
	writes := []string{
		`{"type":"playlist_entry","data":{"id":42,"song":{"title":"S","file_path":"s.mkv"},"owner":"rin","use_instrumental":false}}`,
		`not json at all`,
		`{"type":"no_such_type"}`,
		`{"type":"command","data":{"command":"pause"}}`,
		`{"type":"idle"}`,
	}
	for _, w := range writes {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(w)); err != nil {
			t.Fatal(err)
		}
	}

	select {
	case entry := <-entries:
		if entry.ID != 42 || entry.Song.Title != "S" {
			t.Errorf("entry = %+v", entry)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("playlist_entry never dispatched")
	}

	select {
	case command := <-commands:
		if command != "pause" {
			t.Errorf("command = %q, want pause", command)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("command never dispatched")
	}

	select {
	case <-idle:
	case <-time.After(5 * time.Second):
		t.Fatal("idle never dispatched")
	}

	stop.Set()
	session.Abort()
	if err := <-done; err != nil {
		t.Errorf("Run() error: %v", err)
	}
}

func TestSessionReconnects(t *testing.T) {
	ws := newWSTestServer(t)
	session, stop, done := newSessionRig(t, ws.url())

	lost := make(chan struct{}, 1)
	session.SetCallbacks(SocketCallbacks{
		ConnectionLost: func() { lost <- struct{}{} },
	})

	go func() { done <- session.Run() }()
	first := ws.waitReady(t)

	// Kill the connection server-side; the session must notify and come
	// back with a fresh ready frame.
	_ = first.Close()

	select {
	case <-lost:
	case <-time.After(5 * time.Second):
		t.Fatal("connection_lost never invoked")
	}

	ws.waitReady(t)

	stop.Set()
	session.Abort()
	if err := <-done; err != nil {
		t.Errorf("Run() error: %v", err)
	}
}

func TestSessionAuthenticationFatal(t *testing.T) {
	ws := newWSTestServer(t)

	stop := workers.NewStopSignal()
	group := workers.NewGroup(stop, workers.NewErrorSink(4), nil)
	session := NewSession(SessionConfig{
		URL:               ws.url(),
		Token:             func() string { return "wrong" },
		ReconnectInterval: 20 * time.Millisecond,
	}, group)

	err := session.Run()
	if !errors.Is(err, ErrAuthentication) {
		t.Errorf("Run() error = %v, want ErrAuthentication", err)
	}
}

func TestSessionFirstConnectRefusedFatal(t *testing.T) {
	// Nothing listens here.
	session, _, _ := newSessionRig(t, "ws://127.0.0.1:1/ws/playlist/device/")

	err := session.Run()
	if !errors.Is(err, ErrNetwork) {
		t.Errorf("Run() error = %v, want ErrNetwork", err)
	}
}

func TestSessionAbortStopsCleanly(t *testing.T) {
	ws := newWSTestServer(t)
	session, stop, done := newSessionRig(t, ws.url())

	go func() { done <- session.Run() }()
	ws.waitReady(t)

	stop.Set()
	session.Abort()
	session.Abort() // idempotent

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after Abort()")
	}
}

func TestSocketURL(t *testing.T) {
	got := SocketURL("wss", "karaoke.example.com:8000")
	want := "wss://karaoke.example.com:8000/ws/playlist/device/"
	if got != want {
		t.Errorf("SocketURL() = %q, want %q", got, want)
	}
}
