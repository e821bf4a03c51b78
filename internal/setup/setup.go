// SPDX-License-Identifier: MIT

// Package setup implements the interactive first-run configuration wizard.
//
// The wizard collects the handful of required settings (server address,
// credentials, karaoke folder) in a terminal form and writes the
// configuration file, so a new karaoke box can be set up without editing
// YAML by hand.
package setup

import (
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/huh"

	"github.com/hoshikara/karad/internal/config"
)

// Run collects the configuration interactively and writes it to path.
// An existing file is only overwritten after confirmation.
func Run(path string) error {
	if _, err := os.Stat(path); err == nil {
		var overwrite bool
		confirm := huh.NewForm(huh.NewGroup(
			huh.NewConfirm().
				Title(fmt.Sprintf("Configuration %s already exists. Overwrite?", path)).
				Value(&overwrite),
		))
		if err := confirm.Run(); err != nil {
			return err
		}
		if !overwrite {
			return errors.New("setup cancelled")
		}
	}

	cfg := config.Default()

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Server address").
				Description("Host or host:port of the karaoke server").
				Placeholder("karaoke.example.com:8000").
				Value(&cfg.Server.Address).
				Validate(required("server address")),
			huh.NewConfirm().
				Title("Use TLS (https/wss)?").
				Value(&cfg.Server.SSL),
			huh.NewInput().
				Title("Login").
				Description("Player device account on the server").
				Value(&cfg.Server.Login).
				Validate(required("login")),
			huh.NewInput().
				Title("Password").
				EchoMode(huh.EchoModePassword).
				Value(&cfg.Server.Password).
				Validate(required("password")),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Karaoke folder").
				Description("Root directory of the media files").
				Placeholder("/srv/karaoke").
				Value(&cfg.Player.KaraFolder).
				Validate(directory),
			huh.NewConfirm().
				Title("Fullscreen playback?").
				Value(&cfg.Player.Fullscreen),
		),
	)

	if err := form.Run(); err != nil {
		return err
	}

	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.Save(path); err != nil {
		return err
	}

	fmt.Printf("Configuration written to %s\n", path)
	return nil
}

func required(name string) func(string) error {
	return func(value string) error {
		if value == "" {
			return fmt.Errorf("%s is required", name)
		}
		return nil
	}
}

func directory(value string) error {
	if value == "" {
		return errors.New("karaoke folder is required")
	}
	info, err := os.Stat(value)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("%q is not a directory", value)
	}
	return nil
}
