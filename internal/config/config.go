// Package config reads and writes the profiler settings file.
//
//	should_profile = true
//	hide_if_less_than = "1ms"
//	hide_top_level_if_less_than = "100ms"
//	start_location = "end-of-first-line"
//	log_path = ""
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"nestprof/internal/profiler"
)

// FileName is the default settings file name.
const FileName = "config.toml"

// Settings is the decoded settings file.
type Settings struct {
	Profiler profiler.Config
	LogPath  string // empty means the sink's default location
}

type fileConfig struct {
	ShouldProfile          bool   `toml:"should_profile"`
	HideIfLessThan         string `toml:"hide_if_less_than"`
	HideTopLevelIfLessThan string `toml:"hide_top_level_if_less_than"`
	StartLocation          string `toml:"start_location"`
	LogPath                string `toml:"log_path"`
}

// Default returns the settings used when no file exists.
func Default() Settings {
	return Settings{Profiler: profiler.DefaultConfig()}
}

// DefaultPath returns the settings location under the user's config directory.
func DefaultPath() (string, error) {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "nestprof", FileName), nil
}

// Load reads the settings at path. A missing file yields Default().
func Load(path string) (Settings, error) {
	s, err := read(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return s, err
}

func read(path string) (Settings, error) {
	f, err := os.Open(path)
	if err != nil {
		return Settings{}, err
	}
	defer f.Close()
	s, err := Decode(f)
	if err != nil {
		return Settings{}, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// Decode parses settings from r. Keys that are absent keep their defaults.
func Decode(r io.Reader) (Settings, error) {
	fc := toFile(Default())
	meta, err := toml.NewDecoder(r).Decode(&fc)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to parse TOML: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return Settings{}, fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
	}
	return fromFile(fc)
}

func fromFile(fc fileConfig) (Settings, error) {
	cfg := profiler.Config{ShouldProfile: fc.ShouldProfile}
	var err error
	if cfg.HideIfLessThan, err = parseDuration("hide_if_less_than", fc.HideIfLessThan); err != nil {
		return Settings{}, err
	}
	if cfg.HideTopLevelIfLessThan, err = parseDuration("hide_top_level_if_less_than", fc.HideTopLevelIfLessThan); err != nil {
		return Settings{}, err
	}
	if cfg.StartLocation, err = profiler.ParseStartLocation(fc.StartLocation); err != nil {
		return Settings{}, fmt.Errorf("start_location: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Settings{}, err
	}
	return Settings{Profiler: cfg, LogPath: strings.TrimSpace(fc.LogPath)}, nil
}

func parseDuration(key, value string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func toFile(s Settings) fileConfig {
	return fileConfig{
		ShouldProfile:          s.Profiler.ShouldProfile,
		HideIfLessThan:         s.Profiler.HideIfLessThan.String(),
		HideTopLevelIfLessThan: s.Profiler.HideTopLevelIfLessThan.String(),
		StartLocation:          s.Profiler.StartLocation.String(),
		LogPath:                s.LogPath,
	}
}

// Encode writes s as TOML.
func Encode(w io.Writer, s Settings) error {
	return toml.NewEncoder(w).Encode(toFile(s))
}

// Save writes s to path atomically, creating the directory if needed.
func Save(path string, s Settings) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(filepath.Dir(path), ".config-*.toml")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if err := Encode(f, s); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// Update loads path, applies fn and saves the result.
func Update(path string, fn func(*Settings)) (Settings, error) {
	s, err := Load(path)
	if err != nil {
		return Settings{}, err
	}
	fn(&s)
	if err := Save(path, s); err != nil {
		return Settings{}, err
	}
	return s, nil
}
