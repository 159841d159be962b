// Package logger provides the explicitly constructed logging contexts
// used by the harness and the mock daemon. There is no global logger
// state: a Run is created once, passed down, and closed on completion.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default rotation parameters for directory-mode daemon logs. The size
// threshold matches the documented 1 MB rotation contract, and exactly
// one rotated file is retained alongside the active one.
const (
	DefaultFileName   = "tunneld.log"
	DefaultMaxSizeMB  = 1
	DefaultMaxBackups = 1
	DefaultMaxAgeDays = 7
)

// FileConfig describes a structured-log destination: either a single
// file or a rotating directory. When Dir is set, the active file is
// Dir/<DefaultFileName> and rotation follows lumberjack semantics.
type FileConfig struct {
	File       string `mapstructure:"file"`
	Dir        string `mapstructure:"dir"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// Path returns the active log file path, or "" for terminal-only logging.
func (c FileConfig) Path() string {
	if c.File != "" {
		return c.File
	}
	if c.Dir != "" {
		return filepath.Join(c.Dir, DefaultFileName)
	}
	return ""
}

// Writer opens the rotating writer for this destination.
func (c FileConfig) Writer() (io.WriteCloser, error) {
	path := c.Path()
	if path == "" {
		return nil, fmt.Errorf("no log destination configured")
	}
	if c.Dir != "" {
		if err := os.MkdirAll(c.Dir, 0o750); err != nil {
			return nil, err
		}
	}
	return &lj.Logger{
		Filename:   path,
		MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
	}, nil
}

// Run is a logging context with a defined lifecycle: constructed once,
// passed down explicitly, and closed when the run finishes.
type Run struct {
	*slog.Logger
	closers []io.Closer
}

// NewRun builds a terminal logger writing colored text to w.
func NewRun(w io.Writer, level slog.Level) *Run {
	h := NewColorTextHandler(w, &slog.HandlerOptions{Level: level}, true)
	return &Run{Logger: slog.New(h)}
}

// NewFileRun builds a structured JSON logger on the given destination.
// Every record carries level, time and message fields.
func NewFileRun(cfg FileConfig, level slog.Level) (*Run, error) {
	w, err := cfg.Writer()
	if err != nil {
		return nil, err
	}
	r := &Run{Logger: slog.New(NewJSONHandler(w, level))}
	r.closers = append(r.closers, w)
	return r, nil
}

// Discard returns a run whose output goes nowhere, for tests and
// optional-logger call sites.
func Discard() *Run {
	return &Run{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// Close flushes and releases any file-backed destinations.
func (r *Run) Close() error {
	var first error
	for _, c := range r.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	r.closers = nil
	return first
}

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
