// SPDX-License-Identifier: MIT

// Package player implements the media player controller, the state machine
// at the heart of the daemon.
//
// Per playlist entry the controller sequences: transition card, then the
// song (optionally with an alternate instrumental audio source), then
// finished. It serves the external commands (pause, resume, skip, restart,
// rewind, fast-forward) that are only valid in specific states, and surfaces
// lifecycle callbacks the manager forwards to the server.
//
// State machine:
//
//	Empty → TransitionPending → TransitionPlaying → SongPending → SongPlaying → Empty
//	                                   ↓                 ↓              ↓
//	                                 skipped           skipped        skipped
//
// Idle is reached only from Empty. Paused is an orthogonal flag valid while
// a transition or song is playing.
//
// Engine events arrive on the engine's channel and are consumed by Run on
// the controller's own goroutine; engine callbacks never execute controller
// logic directly.
package player

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hoshikara/karad/internal/background"
	"github.com/hoshikara/karad/internal/media"
	"github.com/hoshikara/karad/internal/playlist"
	"github.com/hoshikara/karad/internal/text"
	"github.com/hoshikara/karad/internal/workers"
)

const (
	// IdleDuration is a 300 s idle image display period. The controller
	// does not use it: the idle image is loaded with no display time limit.
	IdleDuration = 300 * time.Second

	// PlayerClosingDuration is the grace period the engine gets to shut
	// down before a warning is logged.
	PlayerClosingDuration = 3 * time.Second

	transitionTextName = "transition.ass"
	idleTextName       = "idle.ass"
)

// audioExtensions is the sidecar instrumental file whitelist.
var audioExtensions = []string{".mp3", ".ogg", ".oga", ".m4a", ".aac", ".flac", ".wav", ".opus"}

// subtitleExtensions is the subtitle discovery whitelist.
var subtitleExtensions = []string{".ass", ".ssa"}

// Fatal controller errors, classified at load time.
var (
	// ErrKaraFolderNotFound means the configured media root does not exist.
	ErrKaraFolderNotFound = errors.New("kara folder not found")

	// ErrInvalidState flags an operation invalid in the current state. It
	// is logged, never fatal.
	ErrInvalidState = errors.New("invalid player state")
)

// State is the observable controller state.
type State int

const (
	StateEmpty              State = iota // No current entry, nothing showing
	StateIdle                            // Idle screen showing
	StateTransitionPending               // Transition prepared, engine not yet playing it
	StateTransitionPlaying               // Transition card on screen
	StateSongPending                     // Song requested, engine not yet playing it
	StateSongPlaying                     // Song on screen
)

// String returns the string representation of State.
func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateIdle:
		return "idle"
	case StateTransitionPending:
		return "transition_pending"
	case StateTransitionPlaying:
		return "transition_playing"
	case StateSongPending:
		return "song_pending"
	case StateSongPlaying:
		return "song_playing"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Callbacks are the lifecycle notifications surfaced by the controller.
// Unset members default to no-ops. Timings are in whole seconds.
type Callbacks struct {
	StartedTransition func(entryID int)
	StartedSong       func(entryID int)
	Finished          func(entryID int)
	CouldNotPlay      func(entryID int)
	Paused            func(entryID int, timing int)
	Resumed           func(entryID int, timing int)
	UpdatedTiming     func(entryID int, timing int)
	Error             func(entryID int, message string)
}

func (c *Callbacks) fillDefaults() {
	if c.StartedTransition == nil {
		c.StartedTransition = func(int) {}
	}
	if c.StartedSong == nil {
		c.StartedSong = func(int) {}
	}
	if c.Finished == nil {
		c.Finished = func(int) {}
	}
	if c.CouldNotPlay == nil {
		c.CouldNotPlay = func(int) {}
	}
	if c.Paused == nil {
		c.Paused = func(int, int) {}
	}
	if c.Resumed == nil {
		c.Resumed = func(int, int) {}
	}
	if c.UpdatedTiming == nil {
		c.UpdatedTiming = func(int, int) {}
	}
	if c.Error == nil {
		c.Error = func(int, string) {}
	}
}

// Config configures the controller.
type Config struct {
	// KaraFolder is the root of the media files.
	KaraFolder string

	// TempDir receives the rendered overlay files.
	TempDir string

	// TransitionDuration is how long the transition card shows.
	TransitionDuration time.Duration

	// SeekDuration is the rewind / fast-forward delta.
	SeekDuration time.Duration

	// PlayerName and Version appear on the idle screen.
	PlayerName string
	Version    string

	// Logger is optional; nil disables logging.
	Logger *slog.Logger
}

// entryData is the per-entry scratchpad. Created by SetPlaylistEntry,
// cleared when the entry reaches a terminal state; it never outlives its
// entry.
type entryData struct {
	transitionPath  string // Background image shown behind the transition card
	songPath        string
	subtitlePath    string // Discovered sidecar subtitle, empty if none
	audioFilePath   string // Sidecar instrumental, empty if none
	wantSecondTrack bool   // Fall back to audio track 2 at song start
}

// Controller drives the engine and owns the per-entry state machine.
type Controller struct {
	cfg    Config
	logger *slog.Logger

	engine      media.Engine
	generator   *text.Generator
	backgrounds *background.Loader
	stop        *workers.StopSignal

	mu        sync.Mutex
	callbacks Callbacks
	state     State
	current   *playlist.Entry
	data      entryData

	idlePath string // Resolved idle background, fixed after Load

	// suppressEndOf names a media path whose next end event must be
	// ignored, set when a media is abandoned (skip, leaving idle). Keying
	// by path keeps a replacement's end event from eating the next
	// natural one.
	suppressEndOf string

	pauseRequested bool // A user asked for pause; gates engine pause events
	reportedPaused bool // The paused report was emitted and not yet resumed
	closed         bool // StopPlayer ran; no further reports may be emitted
}

// New creates a controller. Call Load before anything else.
func New(cfg Config, engine media.Engine, generator *text.Generator, backgrounds *background.Loader, stop *workers.StopSignal) *Controller {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	c := &Controller{
		cfg:         cfg,
		logger:      logger,
		engine:      engine,
		generator:   generator,
		backgrounds: backgrounds,
		stop:        stop,
	}
	c.callbacks.fillDefaults()
	return c
}

// SetCallbacks registers the lifecycle callbacks. Unset members stay no-ops.
// Must be called before Run.
func (c *Controller) SetCallbacks(cb Callbacks) {
	cb.fillDefaults()
	c.mu.Lock()
	c.callbacks = cb
	c.mu.Unlock()
}

// Load checks the engine and the media root, loads the templates and
// backgrounds, and starts the engine. Must be called exactly once.
func (c *Controller) Load() error {
	info, err := os.Stat(c.cfg.KaraFolder)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("%w: %q", ErrKaraFolderNotFound, c.cfg.KaraFolder)
	}

	if err := c.generator.Load(); err != nil {
		return err
	}
	if err := c.backgrounds.Load(); err != nil {
		return err
	}

	idlePath, err := c.backgrounds.Resolve(playlist.KindIdle)
	if err != nil {
		return err
	}
	c.idlePath = idlePath

	if err := c.engine.Start(); err != nil {
		return err
	}

	version, err := c.engine.Version()
	if err != nil {
		return err
	}
	c.logger.Info("media player ready", "player", c.cfg.PlayerName, "version", version)

	return nil
}

// Run consumes engine events until the stop signal trips or the engine
// shuts down. It is intended to run as a supervised worker.
func (c *Controller) Run() error {
	for {
		select {
		case <-c.stop.Wait():
			return nil
		case event, ok := <-c.engine.Events():
			if !ok {
				// The engine went away. During shutdown that is expected;
				// otherwise the daemon cannot continue.
				if c.stop.IsSet() || c.isClosed() {
					return nil
				}
				return errors.New("media player exited unexpectedly")
			}
			c.handleEvent(event)
		}
	}
}

func (c *Controller) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// State returns the observable controller state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// CurrentEntryID returns the id of the current entry, or 0 when none.
func (c *Controller) CurrentEntryID() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return 0
	}
	return c.current.ID
}

// PlayIdle shows the idle screen. Valid when Empty or already Idle.
func (c *Controller) PlayIdle() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateEmpty, StateIdle:
	default:
		c.logger.Warn("ignoring play idle request", "state", c.state, "error", ErrInvalidState)
		return nil
	}

	return c.playIdleLocked()
}

func (c *Controller) playIdleLocked() error {
	textPath := filepath.Join(c.cfg.TempDir, idleTextName)
	notes := []string{
		fmt.Sprintf("%s %s", c.cfg.PlayerName, c.engineVersionNote()),
		fmt.Sprintf("karad %s", c.cfg.Version),
	}
	if _, err := c.generator.Write(text.KindIdle, text.IdleContext{Notes: notes}, textPath); err != nil {
		return err
	}

	if err := c.engine.LoadFile(c.idlePath, media.LoadOptions{
		ImageDuration:   -1,
		SubtitleFile:    textPath,
		NoAutoSubtitles: true,
	}); err != nil {
		return err
	}

	c.state = StateIdle
	c.logger.Debug("playing idle screen")
	return nil
}

func (c *Controller) engineVersionNote() string {
	version, err := c.engine.Version()
	if err != nil {
		return "unknown"
	}
	return version
}

// SetPlaylistEntry prepares a new playlist entry and, when autoplay is
// true, immediately starts the transition. Valid when Empty or Idle.
//
// A missing song file does not change state: could_not_play and error are
// reported and the entry is dropped.
func (c *Controller) SetPlaylistEntry(entry *playlist.Entry, autoplay bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateEmpty, StateIdle:
	default:
		c.logger.Warn("ignoring playlist entry while another is playing",
			"entry", entry.ID, "state", c.state, "error", ErrInvalidState)
		return nil
	}

	songPath := filepath.Join(c.cfg.KaraFolder, filepath.FromSlash(entry.Song.FilePath))
	if info, err := os.Stat(songPath); err != nil || info.IsDir() {
		c.logger.Error("file not found", "path", songPath)
		c.callbacks.Error(entry.ID, "File not found")
		c.callbacks.CouldNotPlay(entry.ID)
		return nil
	}

	// Leaving the idle screen replaces its media: suppress the end event.
	if c.state == StateIdle {
		c.suppressEndOf = c.idlePath
	}

	c.current = entry
	c.data = entryData{songPath: songPath}
	c.pauseRequested = false
	c.reportedPaused = false

	transitionPath, err := c.backgrounds.Resolve(playlist.KindTransition)
	if err != nil {
		return err
	}
	c.data.transitionPath = transitionPath

	textPath := filepath.Join(c.cfg.TempDir, transitionTextName)
	if _, err := c.generator.Write(text.KindTransition, text.TransitionContext{Entry: entry, FadeIn: true}, textPath); err != nil {
		return err
	}

	c.data.subtitlePath = findSubtitle(songPath)
	if entry.UseInstrumental {
		c.prepareInstrumentalLocked(entry, songPath)
	}

	c.state = StateTransitionPending
	if autoplay {
		return c.playTransitionLocked(textPath)
	}
	return nil
}

// prepareInstrumentalLocked decides where the instrumental audio comes
// from. A sidecar audio file wins; otherwise the second audio track is
// requested once the song media is up and its tracks are known.
func (c *Controller) prepareInstrumentalLocked(entry *playlist.Entry, songPath string) {
	if sidecar := findInstrumentalFile(songPath); sidecar != "" {
		c.data.audioFilePath = sidecar
		c.logger.Info("using instrumental file", "entry", entry.ID, "path", sidecar)
		return
	}

	// Track inspection needs the media loaded; resolved at song start.
	c.data.wantSecondTrack = true
	c.logger.Info("will use instrumental track if available", "entry", entry.ID)
}

func (c *Controller) playTransitionLocked(textPath string) error {
	if err := c.engine.LoadFile(c.data.transitionPath, media.LoadOptions{
		ImageDuration:   c.cfg.TransitionDuration,
		SubtitleFile:    textPath,
		NoAutoSubtitles: true,
	}); err != nil {
		return err
	}
	c.logger.Debug("requested transition screen", "entry", c.current.ID)
	return nil
}

// playSongLocked asks the engine to start the song media.
func (c *Controller) playSongLocked() error {
	opts := media.LoadOptions{
		SubtitleFile:    c.data.subtitlePath,
		AudioFile:       c.data.audioFilePath,
		NoAutoSubtitles: true,
	}
	if err := c.engine.LoadFile(c.data.songPath, opts); err != nil {
		return err
	}
	c.state = StateSongPending
	c.logger.Debug("requested song", "entry", c.current.ID, "path", c.data.songPath)
	return nil
}

// Pause pauses or resumes playback. Valid while a transition or song is
// playing; idempotent — redundant requests are no-ops.
func (c *Controller) Pause(paused bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateTransitionPlaying, StateSongPlaying:
	default:
		c.logger.Warn("ignoring pause request", "state", c.state, "error", ErrInvalidState)
		return nil
	}

	if paused == c.pauseRequested {
		c.logger.Debug("player already in requested pause state", "paused", paused)
		return nil
	}

	if paused {
		c.logger.Info("setting pause")
	} else {
		c.logger.Info("resuming play")
	}
	c.pauseRequested = paused
	return c.engine.SetPause(paused)
}

// Restart seeks the current song back to its beginning. Valid while a song
// is playing.
func (c *Controller) Restart() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateSongPlaying {
		c.logger.Warn("ignoring restart request", "state", c.state, "error", ErrInvalidState)
		return nil
	}

	if err := c.engine.SeekTo(0); err != nil {
		return err
	}
	c.logger.Info("restarting song", "entry", c.current.ID)
	c.callbacks.UpdatedTiming(c.current.ID, 0)
	return nil
}

// Skip abandons the current entry. The entry is reported finished exactly
// once; the engine's own end event for the same media is suppressed.
func (c *Controller) Skip() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.skipLocked()
}

func (c *Controller) skipLocked() error {
	switch c.state {
	case StateTransitionPending, StateTransitionPlaying, StateSongPending, StateSongPlaying:
	default:
		c.logger.Warn("ignoring skip request", "state", c.state, "error", ErrInvalidState)
		return nil
	}

	c.logger.Info("skipping song", "entry", c.current.ID, "title", c.current.Song.Title)
	switch c.state {
	case StateTransitionPending, StateTransitionPlaying:
		c.suppressEndOf = c.data.transitionPath
	default:
		c.suppressEndOf = c.data.songPath
	}
	c.callbacks.Finished(c.current.ID)
	c.clearEntryLocked()
	return nil
}

// Rewind seeks backward by the configured delta, clamped at the beginning.
// Valid while a song is playing.
func (c *Controller) Rewind() error {
	return c.seekBy(-1)
}

// FastForward seeks forward by the configured delta, clamped at the end.
// Valid while a song is playing.
func (c *Controller) FastForward() error {
	return c.seekBy(1)
}

func (c *Controller) seekBy(direction int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateSongPlaying {
		c.logger.Warn("ignoring seek request", "state", c.state, "error", ErrInvalidState)
		return nil
	}

	position, err := c.engine.Position()
	if err != nil {
		return err
	}

	target := position + time.Duration(direction)*c.cfg.SeekDuration
	if target < 0 {
		target = 0
	}
	if duration, err := c.engine.Duration(); err == nil && duration > 0 && target > duration {
		target = duration
	}

	if err := c.engine.SeekTo(target); err != nil {
		return err
	}

	timing := int(target / time.Second)
	c.logger.Info("seeked song", "entry", c.current.ID, "timing", timing)
	c.callbacks.UpdatedTiming(c.current.ID, timing)
	return nil
}

// Timing returns the current song position in whole seconds. It is 0 while
// idle or during the transition screen, and never negative.
func (c *Controller) Timing() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timingLocked()
}

func (c *Controller) timingLocked() int {
	if c.state != StateSongPlaying {
		return 0
	}
	position, err := c.engine.Position()
	if err != nil || position < 0 {
		return 0
	}
	return int(position / time.Second)
}

// StopPlayer shuts the engine down. A warning is logged if it exceeds the
// closing grace, but teardown never blocks indefinitely. After StopPlayer
// returns, no further controller reports are emitted.
func (c *Controller) StopPlayer() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.logger.Info("stopping player")
	warn := time.AfterFunc(PlayerClosingDuration, func() {
		c.logger.Warn("player takes too long to stop", "player", c.cfg.PlayerName)
	})
	defer warn.Stop()

	if err := c.engine.Close(PlayerClosingDuration); err != nil {
		return err
	}
	c.logger.Debug("stopped player")
	return nil
}

// clearEntryLocked drops the current entry and its scratchpad.
func (c *Controller) clearEntryLocked() {
	c.current = nil
	c.data = entryData{}
	c.state = StateEmpty
	c.pauseRequested = false
	c.reportedPaused = false
}

// handleEvent processes one engine event on the controller's goroutine.
func (c *Controller) handleEvent(event media.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	switch event.Type {
	case media.EventFileStarted:
		c.handleFileStartedLocked(event)
	case media.EventFileEnded:
		c.handleFileEndedLocked(event)
	case media.EventPaused:
		c.handlePausedLocked()
	case media.EventUnpaused:
		c.handleUnpausedLocked()
	case media.EventLogFatal:
		c.handleFatalLocked(event)
	}
}

func (c *Controller) handleFileStartedLocked(event media.Event) {
	switch {
	case c.current != nil && event.Path == c.data.transitionPath && c.state == StateTransitionPending:
		c.state = StateTransitionPlaying
		c.logger.Info("playing transition", "entry", c.current.ID, "title", c.current.Song.Title)
		c.callbacks.StartedTransition(c.current.ID)

	case c.current != nil && event.Path == c.data.songPath && c.state == StateSongPending:
		c.state = StateSongPlaying
		c.applyInstrumentalTrackLocked()
		c.logger.Info("now playing", "entry", c.current.ID, "title", c.current.Song.Title, "path", event.Path)
		c.callbacks.StartedSong(c.current.ID)

	case event.Path == c.idlePath:
		c.logger.Debug("playing idle screen")

	default:
		c.logger.Warn("file started in an undetermined state",
			"path", event.Path, "state", c.state, "error", ErrInvalidState)
	}
}

// applyInstrumentalTrackLocked selects the second audio track when the
// sidecar search came up empty. With fewer than two tracks the song plays
// with its default audio and a warning.
func (c *Controller) applyInstrumentalTrackLocked() {
	if !c.data.wantSecondTrack {
		return
	}

	count, err := c.engine.AudioTrackCount()
	if err != nil {
		c.logger.Warn("cannot inspect audio tracks", "entry", c.current.ID, "error", err)
		return
	}
	if count < 2 {
		c.logger.Warn("no instrumental track found, playing default audio", "entry", c.current.ID)
		return
	}

	if err := c.engine.SetAudioTrack(2); err != nil {
		c.logger.Warn("cannot select instrumental track", "entry", c.current.ID, "error", err)
		return
	}
	c.logger.Debug("selected instrumental track", "entry", c.current.ID, "track", 2)
}

func (c *Controller) handleFileEndedLocked(event media.Event) {
	// An abandoned media ends exactly once, by replacement or by running
	// out; either way its end event means nothing anymore.
	if c.suppressEndOf != "" && event.Path == c.suppressEndOf {
		c.suppressEndOf = ""
		c.logger.Debug("media end suppressed", "path", event.Path)
		return
	}

	// Only a natural end advances the state machine.
	if event.Reason != media.EndReasonEOF {
		c.logger.Debug("media replaced or stopped", "path", event.Path, "reason", event.Reason)
		return
	}

	switch {
	case c.current != nil && event.Path == c.data.transitionPath:
		if err := c.playSongLocked(); err != nil {
			c.logger.Error("cannot start song", "entry", c.current.ID, "error", err)
			c.callbacks.Error(c.current.ID, fmt.Sprintf("Unable to play current song: %v", err))
			_ = c.skipLocked()
		}

	case c.current != nil && event.Path == c.data.songPath:
		c.logger.Info("song finished", "entry", c.current.ID)
		c.callbacks.Finished(c.current.ID)
		c.clearEntryLocked()

	case event.Path == c.idlePath:
		// The idle image loops; restart it quietly.
		if c.state == StateIdle {
			_ = c.playIdleLocked()
		}

	default:
		c.logger.Warn("file ended in an undetermined state",
			"path", event.Path, "state", c.state, "error", ErrInvalidState)
	}
}

// handlePausedLocked reports a pause, filtering engine-internal pauses so
// only user-initiated ones reach the server.
func (c *Controller) handlePausedLocked() {
	if c.current == nil || !c.pauseRequested || c.reportedPaused {
		c.logger.Debug("ignoring engine pause event")
		return
	}
	c.reportedPaused = true
	timing := c.timingLocked()
	c.logger.Info("paused", "entry", c.current.ID, "timing", timing)
	c.callbacks.Paused(c.current.ID, timing)
}

func (c *Controller) handleUnpausedLocked() {
	if c.current == nil || !c.reportedPaused {
		c.logger.Debug("ignoring engine unpause event")
		return
	}
	c.reportedPaused = false
	c.pauseRequested = false
	timing := c.timingLocked()
	c.logger.Info("resumed", "entry", c.current.ID, "timing", timing)
	c.callbacks.Resumed(c.current.ID, timing)
}

// handleFatalLocked reports an engine error for the current song and skips
// it. The daemon itself keeps running.
func (c *Controller) handleFatalLocked(event media.Event) {
	if c.current == nil || (c.state != StateSongPlaying && c.state != StateSongPending) {
		c.logger.Error("media player error outside of song playback", "message", event.Message)
		return
	}

	c.logger.Error("unable to play song", "entry", c.current.ID, "message", event.Message)
	c.callbacks.Error(c.current.ID, fmt.Sprintf("Unable to play current song: %s", event.Message))
	_ = c.skipLocked()
}

// findSubtitle looks for a subtitle file sharing the song's basename with
// an allowed extension.
func findSubtitle(songPath string) string {
	stem := strings.TrimSuffix(songPath, filepath.Ext(songPath))
	for _, ext := range subtitleExtensions {
		candidate := stem + ext
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

// findInstrumentalFile searches the song's directory for the sidecar
// instrumental: an audio file sharing the song's basename. It is used only
// when exactly one such file exists.
func findInstrumentalFile(songPath string) string {
	stem := strings.TrimSuffix(songPath, filepath.Ext(songPath))

	var found []string
	for _, ext := range audioExtensions {
		candidate := stem + ext
		if _, err := os.Stat(candidate); err == nil {
			found = append(found, candidate)
		}
	}

	if len(found) == 1 {
		return found[0]
	}
	return ""
}
