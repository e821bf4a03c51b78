// SPDX-License-Identifier: MIT

// Package daemon composes every component of karad and supervises the
// long-lived workers.
//
// Startup order: instance lock, temporary directory, bundled resources,
// fonts, media player, HTTP authentication, WebSocket session, manager
// wiring. The workers then run under a suture supervision tree sharing one
// stop signal and one error sink: a fault in any worker publishes to the
// sink, trips the stop signal and terminates the whole tree. Teardown runs
// in reverse order and the first fault, if any, is returned to the caller.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/hoshikara/karad/internal/background"
	"github.com/hoshikara/karad/internal/config"
	"github.com/hoshikara/karad/internal/fonts"
	"github.com/hoshikara/karad/internal/health"
	"github.com/hoshikara/karad/internal/lock"
	"github.com/hoshikara/karad/internal/manager"
	"github.com/hoshikara/karad/internal/media/mpv"
	"github.com/hoshikara/karad/internal/player"
	"github.com/hoshikara/karad/internal/playlist"
	"github.com/hoshikara/karad/internal/resources"
	"github.com/hoshikara/karad/internal/server"
	"github.com/hoshikara/karad/internal/setup"
	"github.com/hoshikara/karad/internal/text"
	"github.com/hoshikara/karad/internal/workers"
)

// lockFileName is the single-instance lock in the runtime directory.
const lockFileName = "karad.lock"

// RunSetup launches the interactive configuration wizard.
func RunSetup(configPath string) error {
	return setup.Run(configPath)
}

// Daemon is the assembled karaoke player daemon.
type Daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	version string

	stop  *workers.StopSignal
	sink  *workers.ErrorSink
	group *workers.Group

	controller *player.Controller
}

// New creates a daemon from a validated configuration. logger may be nil.
func New(cfg *config.Config, version string, logger *slog.Logger) *Daemon {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	stop := workers.NewStopSignal()
	sink := workers.NewErrorSink(8)

	return &Daemon{
		cfg:     cfg,
		logger:  logger,
		version: version,
		stop:    stop,
		sink:    sink,
		group:   workers.NewGroup(stop, sink, logger),
	}
}

// Stop requests a clean shutdown. Idempotent and safe from any goroutine;
// the signal handler in main calls it on Ctrl-C.
func (d *Daemon) Stop() {
	d.stop.Set()
}

// HealthStatus implements health.StatusProvider.
func (d *Daemon) HealthStatus() health.Status {
	status := health.Status{
		Healthy:   !d.stop.IsSet(),
		Timestamp: time.Now(),
	}
	if d.controller != nil {
		status.PlayerState = d.controller.State().String()
		status.CurrentEntryID = d.controller.CurrentEntryID()
	}
	return status
}

// Run builds every component, starts the supervision tree and blocks until
// the stop signal trips, then tears everything down in reverse order. The
// first fault from the sink is returned, nil on a clean stop.
func (d *Daemon) Run() error {
	// Single instance per runtime directory.
	instanceLock, err := lock.New(filepath.Join(d.cfg.RuntimeDir, lockFileName))
	if err != nil {
		return err
	}
	if err := instanceLock.Acquire(0); err != nil {
		return err
	}
	defer func() { _ = instanceLock.Release() }()

	// Temporary working directory for extracted assets and rendered
	// overlays.
	tempDir, err := os.MkdirTemp("", "karad.*")
	if err != nil {
		return fmt.Errorf("failed to create temporary directory: %w", err)
	}
	defer func() { _ = os.RemoveAll(tempDir) }()
	d.logger.Debug("created temporary directory", "path", tempDir)

	bundled, err := resources.Extract(tempDir)
	if err != nil {
		return err
	}

	// Fonts for the subtitle overlays.
	fontLoader := fonts.NewLoader(bundled.Fonts(), d.logger)
	if err := fontLoader.Load(); err != nil {
		return err
	}
	defer func() {
		if err := fontLoader.Unload(); err != nil {
			d.logger.Warn("failed to unload fonts", "error", err)
		}
	}()

	// Media player.
	engine := mpv.New(mpv.Config{
		SocketDir:  tempDir,
		Fullscreen: d.cfg.Player.Fullscreen,
		Options:    d.cfg.Player.Mpv,
		Logger:     d.logger.With("component", "mpv"),
	})

	generator := &text.Generator{
		UserDir:     d.cfg.Player.Templates.Directory,
		DefaultDir:  bundled.Templates(),
		IconMapPath: bundled.IconMap(),
		Names: map[string]string{
			text.KindIdle:       d.cfg.Player.Templates.IdleTemplateName,
			text.KindTransition: d.cfg.Player.Templates.TransitionTemplateName,
		},
		Logger: d.logger.With("component", "text"),
	}

	backgrounds := &background.Loader{
		UserDir:    d.cfg.Player.Backgrounds.Directory,
		DefaultDir: bundled.Backgrounds(),
		Names: map[playlist.Kind]string{
			playlist.KindIdle:       d.cfg.Player.Backgrounds.IdleBackgroundName,
			playlist.KindTransition: d.cfg.Player.Backgrounds.TransitionBackgroundName,
		},
		DefaultNames: map[playlist.Kind]string{
			playlist.KindIdle:       config.DefaultIdleBackground,
			playlist.KindTransition: config.DefaultTransitionBackground,
		},
		Logger: d.logger.With("component", "background"),
	}

	d.controller = player.New(player.Config{
		KaraFolder:         d.cfg.Player.KaraFolder,
		TempDir:            tempDir,
		TransitionDuration: d.cfg.Player.Durations.Transition(),
		SeekDuration:       d.cfg.Player.Durations.RewindFastForward(),
		PlayerName:         "mpv",
		Version:            d.version,
		Logger:             d.logger.With("component", "player"),
	}, engine, generator, backgrounds, d.stop)

	if err := d.controller.Load(); err != nil {
		return err
	}
	defer func() {
		if err := d.controller.StopPlayer(); err != nil {
			d.logger.Warn("failed to stop player", "error", err)
		}
	}()

	// Server connections.
	baseURL := fmt.Sprintf("%s://%s", d.cfg.Server.Scheme(), d.cfg.Server.Address)
	client := server.NewClient(baseURL, d.cfg.Server.Login, d.cfg.Server.Password,
		server.WithLogger(d.logger.With("component", "http")))

	authCtx, cancelAuth := context.WithTimeout(context.Background(), server.DefaultTimeout)
	err = client.Authenticate(authCtx)
	cancelAuth()
	if err != nil {
		return err
	}

	session := server.NewSession(server.SessionConfig{
		URL:               server.SocketURL(d.cfg.Server.WebSocketScheme(), d.cfg.Server.Address),
		Token:             client.Token,
		ReconnectInterval: d.cfg.Server.Reconnect(),
		Logger:            d.logger.With("component", "websocket"),
	}, d.group)
	defer session.Abort()

	mgr := manager.New(d.controller, client, session, d.group, d.logger.With("component", "manager"))

	// Supervision tree.
	sup := suture.New("karad", suture.Spec{
		EventHook: func(event suture.Event) {
			d.logger.Debug("supervisor event", "event", event.String())
		},
	})
	sup.Add(d.newWorkerService("websocket", session.Run))
	sup.Add(d.newWorkerService("player-events", d.controller.Run))
	sup.Add(d.newWorkerService("reports", mgr.RunReports))
	if d.cfg.HealthAddr != "" {
		healthServer := health.NewServer(d.cfg.HealthAddr, d, d.logger.With("component", "health"))
		sup.Add(d.newContextService("health", healthServer.Run))
	}

	// Periodic state snapshot for debugging long unattended runs.
	d.group.SpawnPeriodic("state-log", time.Minute, func() error {
		d.logger.Debug("player state", "state", d.controller.State(), "timing", d.controller.Timing())
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	supErr := sup.ServeBackground(ctx)

	d.logger.Info("karad started", "server", d.cfg.Server.Address)

	// Wait for the end: clean stop, worker fault, or Ctrl-C (which calls
	// Stop from the signal handler).
	<-d.stop.Wait()
	d.logger.Info("shutting down")

	// Reverse teardown: unblock the session read, cancel the tree, wait
	// for every worker, then let the deferred calls stop the player,
	// unload the fonts and delete the temporary directory.
	session.Abort()
	cancel()
	if err := <-supErr; err != nil && ctx.Err() == nil {
		d.logger.Debug("supervision tree ended", "error", err)
	}
	d.group.WaitIdle()

	if fault, ok := d.sink.TryFirst(); ok {
		if len(fault.Stack) > 0 {
			d.logger.Debug("worker stack trace", "worker", fault.Worker, "stack", string(fault.Stack))
		}
		return fault.Err
	}
	return nil
}

// newWorkerService wraps a stop-signal-aware worker function as a suture
// service. A failure publishes the fault, trips the stop signal and
// terminates the whole tree; a clean return just removes the service.
func (d *Daemon) newWorkerService(name string, fn func() error) suture.Service {
	return &workerService{daemon: d, name: name, fn: fn}
}

type workerService struct {
	daemon *Daemon
	name   string
	fn     func() error
}

func (s *workerService) Serve(ctx context.Context) error {
	err := s.runRecovered()
	if err != nil {
		s.daemon.logger.Error("worker failed", "worker", s.name, "error", err)
		s.daemon.sink.Publish(workers.Fault{Kind: workers.FaultError, Worker: s.name, Err: err})
		s.daemon.stop.Set()
		return suture.ErrTerminateSupervisorTree
	}
	return suture.ErrDoNotRestart
}

func (s *workerService) runRecovered() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s: %v", s.name, r)
		}
	}()
	return s.fn()
}

func (s *workerService) String() string { return s.name }

// newContextService wraps a context-based worker as a suture service with
// the same fault semantics.
func (d *Daemon) newContextService(name string, fn func(ctx context.Context) error) suture.Service {
	return &ctxService{daemon: d, name: name, fn: fn}
}

type ctxService struct {
	daemon *Daemon
	name   string
	fn     func(ctx context.Context) error
}

func (s *ctxService) Serve(ctx context.Context) error {
	// Cancel the worker when the daemon's own stop signal trips, not only
	// on tree shutdown.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.daemon.stop.Wait():
			cancel()
		case <-runCtx.Done():
		}
	}()

	err := s.fn(runCtx)
	if err != nil && runCtx.Err() == nil {
		s.daemon.logger.Error("worker failed", "worker", s.name, "error", err)
		s.daemon.sink.Publish(workers.Fault{Kind: workers.FaultError, Worker: s.name, Err: err})
		s.daemon.stop.Set()
		return suture.ErrTerminateSupervisorTree
	}
	return suture.ErrDoNotRestart
}

func (s *ctxService) String() string { return s.name }
