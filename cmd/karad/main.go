// SPDX-License-Identifier: MIT

// Package main implements karad, the karaoke player daemon.
//
// karad drives an mpv window under remote control from a central karaoke
// server: it receives playlist orders over a WebSocket, plays the media
// files with generated subtitle overlays, and reports playback progress
// back over HTTP.
//
// Usage:
//
//	karad [options]
//
// Options:
//
//	--config=PATH   Path to config file (default: /etc/karad/config.yaml)
//	--setup         Run the interactive configuration wizard and exit
//	--version       Print the version and exit
//	--help          Show this help message
//
// Example:
//
//	# First run: create the configuration interactively
//	karad --setup --config=~/.config/karad/config.yaml
//
//	# Then run the daemon
//	karad --config=~/.config/karad/config.yaml
//
// The daemon exits 0 on a clean stop (Ctrl-C or server-side stop) and
// non-zero on a fatal error.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hoshikara/karad/internal/config"
	"github.com/hoshikara/karad/internal/daemon"
)

// Build information (set by ldflags).
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var (
	configPath = flag.String("config", config.ConfigFilePath, "Path to configuration file")
	runSetup   = flag.Bool("setup", false, "Run the interactive configuration wizard and exit")
	showVer    = flag.Bool("version", false, "Print the version and exit")
	showHelp   = flag.Bool("help", false, "Show help message")
)

func main() {
	os.Exit(run())
}

func run() int {
	flag.Parse()

	switch {
	case *showHelp:
		flag.Usage()
		return 0
	case *showVer:
		fmt.Printf("karad %s (%s) built %s\n", Version, Commit, BuildTime)
		return 0
	case *runSetup:
		if err := daemon.RunSetup(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "setup failed: %v\n", err)
			return 1
		}
		return 0
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "karad: %v\n", err)
		return 1
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("karad starting", "version", Version, "commit", Commit, "config", *configPath)

	d := daemon.New(cfg, Version, logger)

	// Ctrl-C and SIGTERM request a clean stop; the daemon tears down and
	// returns.
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-signals
		logger.Info("received signal, stopping", "signal", sig)
		d.Stop()
	}()

	if err := d.Run(); err != nil {
		logger.Error("karad stopped on error", "error", err)
		return 1
	}

	logger.Info("karad stopped")
	return 0
}

// newLogger builds the process logger for the configured level.
func newLogger(level string) *slog.Logger {
	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warning":
		slogLevel = slog.LevelWarn
	case "error", "critical":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slogLevel,
	}))
}
