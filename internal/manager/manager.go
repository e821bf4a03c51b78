// SPDX-License-Identifier: MIT

// Package manager wires the WebSocket session, the player controller and
// the HTTP reporter together.
//
// Orders coming in on the WebSocket become controller calls; controller
// lifecycle callbacks become HTTP reports. Outgoing reports are serialized
// onto a single pump goroutine so the server sees them in the order the
// controller emitted them.
//
// The controller and the session never reference each other: the manager
// registers plain function values on both sides, which keeps the
// dependency graph acyclic.
package manager

import (
	"context"
	"log/slog"

	"github.com/hoshikara/karad/internal/player"
	"github.com/hoshikara/karad/internal/playlist"
	"github.com/hoshikara/karad/internal/server"
	"github.com/hoshikara/karad/internal/workers"
)

// reportQueueSize bounds the outgoing report queue. Reports are small and
// the pump drains fast; the bound only matters when the server is
// unreachable for a long stretch.
const reportQueueSize = 256

// report is one outgoing notification for the server.
type report struct {
	event   string // status event name, empty for an error report
	entryID int
	timing  *int
	message string // error message, for error reports
}

// Manager connects the session, the controller and the reporter.
type Manager struct {
	controller *player.Controller
	client     *server.Client
	session    *server.Session
	group      *workers.Group
	logger     *slog.Logger

	reports chan report
}

// New creates a manager and wires all callbacks. The controller and
// session must not be running yet.
func New(controller *player.Controller, client *server.Client, session *server.Session, group *workers.Group, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	m := &Manager{
		controller: controller,
		client:     client,
		session:    session,
		group:      group,
		logger:     logger,
		reports:    make(chan report, reportQueueSize),
	}
	m.wire()
	return m
}

// wire registers the callback functions on both sides.
func (m *Manager) wire() {
	m.session.SetCallbacks(server.SocketCallbacks{
		Idle: func() {
			m.guard(m.controller.PlayIdle())
		},
		PlaylistEntry: func(entry *playlist.Entry) {
			m.guard(m.controller.SetPlaylistEntry(entry, true))
		},
		Command: m.handleCommand,
		ConnectionLost: func() {
			// The server can no longer acknowledge reports for the current
			// entry; fall back to the idle screen.
			m.guard(m.controller.PlayIdle())
		},
	})

	m.controller.SetCallbacks(player.Callbacks{
		StartedTransition: func(id int) {
			m.enqueue(report{event: server.EventStartedTransition, entryID: id})
		},
		StartedSong: func(id int) {
			m.enqueue(report{event: server.EventStartedSong, entryID: id})
		},
		Finished: func(id int) {
			m.enqueue(report{event: server.EventFinished, entryID: id})
		},
		CouldNotPlay: func(id int) {
			m.enqueue(report{event: server.EventCouldNotPlay, entryID: id})
		},
		Paused: func(id, timing int) {
			m.enqueue(report{event: server.EventPaused, entryID: id, timing: &timing})
		},
		Resumed: func(id, timing int) {
			m.enqueue(report{event: server.EventResumed, entryID: id, timing: &timing})
		},
		UpdatedTiming: func(id, timing int) {
			m.enqueue(report{event: server.EventUpdatedTiming, entryID: id, timing: &timing})
		},
		Error: func(id int, message string) {
			m.enqueue(report{entryID: id, message: message})
		},
	})
}

// handleCommand maps a server command onto the matching controller method.
// Unknown commands are logged and ignored.
func (m *Manager) handleCommand(command string) {
	switch command {
	case "play":
		m.guard(m.controller.Pause(false))
	case "pause":
		m.guard(m.controller.Pause(true))
	case "skip":
		m.guard(m.controller.Skip())
	case "restart":
		m.guard(m.controller.Restart())
	case "rewind":
		m.guard(m.controller.Rewind())
	case "fast_forward":
		m.guard(m.controller.FastForward())
	default:
		m.logger.Warn("unknown command from server", "command", command)
	}
}

// guard trips the daemon on a controller failure. Controller methods only
// return errors when the engine itself broke, which the daemon cannot
// survive.
func (m *Manager) guard(err error) {
	if err == nil {
		return
	}
	m.logger.Error("player operation failed", "error", err)
	m.group.Sink().Publish(workers.Fault{Kind: workers.FaultError, Worker: "manager", Err: err})
	m.group.Stop().Set()
}

// enqueue hands a report to the pump without blocking the caller: the
// callbacks run on the controller's event goroutine, which must stay
// responsive.
func (m *Manager) enqueue(r report) {
	select {
	case m.reports <- r:
	default:
		m.logger.Error("report queue full, dropping report", "event", r.event, "entry", r.entryID)
	}
}

// RunReports drains the report queue until the stop signal trips. Intended
// to run as a supervised worker. Reports still queued when the stop signal
// trips are flushed best-effort before returning.
func (m *Manager) RunReports() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := m.group.Stop()
	for {
		select {
		case <-stop.Wait():
			m.flush(ctx)
			return nil
		case r := <-m.reports:
			m.deliver(ctx, r)
		}
	}
}

// flush delivers what is left in the queue without waiting for more.
func (m *Manager) flush(ctx context.Context) {
	for {
		select {
		case r := <-m.reports:
			m.deliver(ctx, r)
		default:
			return
		}
	}
}

func (m *Manager) deliver(ctx context.Context, r report) {
	var err error
	if r.event == "" {
		err = m.client.ReportError(ctx, r.entryID, r.message)
	} else {
		err = m.client.ReportStatus(ctx, r.event, r.entryID, r.timing)
	}
	if err != nil {
		// Only programming errors (missing authentication) surface here;
		// transport failures are already swallowed by the client.
		m.logger.Error("cannot deliver report", "event", r.event, "entry", r.entryID, "error", err)
	}
}
