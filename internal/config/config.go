// Package config loads procsup settings and custom rosters.
//
// Settings are layered, lowest priority first: built-in defaults, the
// roster file (TOML or YAML) and PROCSUP_ environment variables.
// Command-line flags are applied on top by the caller.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/dshills/procsup/internal/config/loader"
	"github.com/dshills/procsup/internal/logging"
	"github.com/dshills/procsup/internal/report"
	"github.com/dshills/procsup/internal/supervisor"
)

// Errors returned by configuration operations.
var (
	// ErrFileNotFound indicates the configuration file doesn't exist.
	ErrFileNotFound = errors.New("config file not found")

	// ErrTypeMismatch indicates a value has the wrong type.
	ErrTypeMismatch = errors.New("type mismatch")

	// ErrInvalidValue indicates a value of the right type that is not accepted.
	ErrInvalidValue = errors.New("invalid value")
)

// ParseError is returned for malformed configuration files.
type ParseError = loader.ParseError

// maxIncludeDepth bounds nested @include directives in TOML files.
const maxIncludeDepth = 8

// Settings is the resolved configuration of one invocation.
type Settings struct {
	LogLevel logging.Level
	Format   report.Format

	// SignalDelay overrides the signal plan's delay when positive.
	SignalDelay time.Duration

	// WorkDelay overrides the simulated work time of exit variants when
	// positive.
	WorkDelay time.Duration

	// MaxChildren caps the number of live children, 0 for no limit. A
	// roster larger than the cap fails to spawn.
	MaxChildren int

	// Roster is the custom roster of the file, nil if it has none.
	Roster *supervisor.Roster

	// Source is the file the settings were read from, if any.
	Source string
}

// Defaults returns the built-in settings.
func Defaults() Settings {
	return Settings{
		LogLevel: logging.LevelInfo,
		Format:   report.FormatText,
	}
}

// ApplyTo returns r with the delay overrides applied.
func (s Settings) ApplyTo(r supervisor.Roster) supervisor.Roster {
	if s.SignalDelay > 0 && r.Signal != nil {
		plan := *r.Signal
		plan.After = s.SignalDelay
		r.Signal = &plan
	}
	return r
}

type options struct {
	fs        loader.FileSystem
	envPrefix string
}

// Option configures Load.
type Option func(*options)

// WithFS sets the file system configuration files are read from.
func WithFS(fs loader.FileSystem) Option {
	return func(o *options) {
		o.fs = fs
	}
}

// WithEnvPrefix sets the prefix of the environment overrides.
func WithEnvPrefix(prefix string) Option {
	return func(o *options) {
		o.envPrefix = prefix
	}
}

// Load resolves the settings. An empty path skips the file layer; a
// non-empty path must exist.
func Load(path string, opts ...Option) (*Settings, error) {
	o := options{
		fs:        loader.DefaultFS(),
		envPrefix: loader.DefaultPrefix,
	}
	for _, opt := range opts {
		opt(&o)
	}

	merged := make(map[string]any)

	if path != "" {
		file, err := loadFile(o.fs, path)
		if err != nil {
			return nil, err
		}
		merged = loader.DeepMerge(merged, file)
	}

	env, err := loader.NewEnvLoader(o.envPrefix).Load()
	if err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}
	merged = loader.DeepMerge(merged, env)

	s, err := decode(merged)
	if err != nil {
		if path != "" {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return nil, err
	}
	s.Source = path
	return s, nil
}

func loadFile(fs loader.FileSystem, path string) (map[string]any, error) {
	l, err := loader.ForPath(fs, path)
	if err != nil {
		return nil, err
	}

	var data map[string]any
	if tl, ok := l.(*loader.TOMLLoader); ok {
		data, err = tl.LoadWithIncludes(path, maxIncludeDepth)
	} else {
		data, err = l.Load()
	}
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
	}
	return data, nil
}

func decode(m map[string]any) (*Settings, error) {
	s := Defaults()
	var err error

	if v, ok := m["log_level"]; ok {
		str, err := asString("log_level", v)
		if err != nil {
			return nil, err
		}
		level, ok := logging.ParseLevel(str)
		if !ok {
			return nil, fmt.Errorf("%w: log_level %q", ErrInvalidValue, str)
		}
		s.LogLevel = level
	}

	if v, ok := m["format"]; ok {
		str, err := asString("format", v)
		if err != nil {
			return nil, err
		}
		if s.Format, err = report.ParseFormat(str); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
		}
	}

	if v, ok := m["signal_delay"]; ok {
		if s.SignalDelay, err = asDuration("signal_delay", v); err != nil {
			return nil, err
		}
	}
	if v, ok := m["work_delay"]; ok {
		if s.WorkDelay, err = asDuration("work_delay", v); err != nil {
			return nil, err
		}
	}

	if v, ok := m["max_children"]; ok {
		if s.MaxChildren, err = asInt("max_children", v); err != nil {
			return nil, err
		}
		if s.MaxChildren < 0 {
			return nil, fmt.Errorf("%w: max_children is negative", ErrInvalidValue)
		}
	}

	if v, ok := m["roster"]; ok {
		rm, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: roster is %s, want table", ErrTypeMismatch, typeName(v))
		}
		roster, err := decodeRoster(rm)
		if err != nil {
			return nil, err
		}
		s.Roster = &roster
	}

	return &s, nil
}
