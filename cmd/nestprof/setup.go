package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"nestprof/internal/config"
	"nestprof/internal/logging"
	"nestprof/internal/prof"
	"nestprof/internal/sink"
)

// app carries the persistent flag values and what setup derived from them.
type app struct {
	configPath string
	logLevel   string
	logPretty  bool
	colorMode  string
	profiles   prof.Paths

	log     zerolog.Logger
	session *prof.Session
}

type colorMode string

const (
	colorAuto colorMode = "auto"
	colorOn   colorMode = "on"
	colorOff  colorMode = "off"
)

func readColorMode(value string) (colorMode, error) {
	switch strings.TrimSpace(strings.ToLower(value)) {
	case "", "auto":
		return colorAuto, nil
	case "on":
		return colorOn, nil
	case "off":
		return colorOff, nil
	default:
		return "", fmt.Errorf("invalid --color value %q (expected auto|on|off)", value)
	}
}

func useColor(mode colorMode) bool {
	switch mode {
	case colorOn:
		return true
	case colorOff:
		return false
	default:
		return isTerminal(os.Stdout) && os.Getenv("NO_COLOR") == ""
	}
}

// setup applies the persistent flags before any command runs.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	mode, err := readColorMode(a.colorMode)
	if err != nil {
		return err
	}
	color.NoColor = !useColor(mode)

	if _, err := logging.ParseLevel(a.logLevel); err != nil {
		return err
	}
	a.log = logging.NewWithComponent(logging.Config{
		Level:   a.logLevel,
		Pretty:  a.logPretty,
		NoColor: color.NoColor,
		Output:  cmd.ErrOrStderr(),
	}, cmd.Name())

	session, err := prof.Start(a.profiles)
	if err != nil {
		return fmt.Errorf("failed to start profiling: %w", err)
	}
	a.session = session
	return nil
}

// close stops runtime profiling. Safe to call more than once.
func (a *app) close() {
	if err := a.session.Stop(); err != nil {
		a.log.Warn().Err(err).Msg("failed to write runtime profiles")
	}
	a.session = nil
}

func (a *app) settingsPath() (string, error) {
	if a.configPath != "" {
		return a.configPath, nil
	}
	path, err := config.DefaultPath()
	if err != nil {
		return "", fmt.Errorf("failed to locate settings: %w", err)
	}
	return path, nil
}

func (a *app) loadSettings() (config.Settings, string, error) {
	path, err := a.settingsPath()
	if err != nil {
		return config.Settings{}, "", err
	}
	s, err := config.Load(path)
	if err != nil {
		return config.Settings{}, "", err
	}
	return s, path, nil
}

// logPath picks the profile log: explicit flag, then settings, then the
// fixed default location.
func logPath(flag string, s config.Settings) (string, error) {
	if flag != "" {
		return flag, nil
	}
	if s.LogPath != "" {
		return s.LogPath, nil
	}
	return sink.DefaultPath()
}
