// Package logger provides rotating per-service stdout/stderr writers plus a
// small supervisor-wide line logger, both backed by lumberjack.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default logging configuration constants.
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

// Config describes logging destinations for a service. If StdoutPath/
// StderrPath are empty and Dir is set, files default to
// Dir/<name>_stdout.log and Dir/<name>_stderr.log. Rotation parameters
// follow lumberjack semantics.
type Config struct {
	Dir        string
	StdoutPath string
	StderrPath string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Writers returns io.WriteClosers for stdout and stderr for the named
// service. name may include a rolling-restart shadow suffix.
func (c Config) Writers(name string) (io.WriteCloser, io.WriteCloser, error) {
	stdout := c.StdoutPath
	stderr := c.StderrPath
	if stdout == "" && c.Dir != "" {
		stdout = filepath.Join(c.Dir, fmt.Sprintf("%s_stdout.log", name))
	}
	if stderr == "" && c.Dir != "" {
		stderr = filepath.Join(c.Dir, fmt.Sprintf("%s_stderr.log", name))
	}
	if c.Dir != "" {
		if err := os.MkdirAll(c.Dir, 0o750); err != nil {
			return nil, nil, fmt.Errorf("logger: create log dir: %w", err)
		}
	}
	var outW, errW io.WriteCloser
	if stdout != "" {
		outW = &lj.Logger{
			Filename:   stdout,
			MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
			MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
			MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
			Compress:   c.Compress,
		}
	}
	if stderr != "" {
		errW = &lj.Logger{
			Filename:   stderr,
			MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
			MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
			MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
			Compress:   c.Compress,
		}
	}
	return outW, errW, nil
}

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// Supervisor is the supervisor-wide line logger (lifecycle transitions,
// control-server activity, reload outcomes), rotated the same way as a
// service's own streams so a long-running daemon never fills a disk.
type Supervisor struct {
	out *lj.Logger
	std *log.Logger
}

// NewSupervisor opens supervisor.log under dir with the given rotation
// parameters.
func NewSupervisor(dir string, cfg Config) (*Supervisor, error) {
	if dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("logger: create log dir: %w", err)
		}
	}
	w := &lj.Logger{
		Filename:   filepath.Join(dir, "supervisor.log"),
		MaxSize:    valOr(cfg.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(cfg.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(cfg.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   cfg.Compress,
	}
	return &Supervisor{out: w, std: log.New(w, "", log.LstdFlags|log.Lmicroseconds)}, nil
}

// Infof logs an informational line.
func (s *Supervisor) Infof(format string, args ...any) { s.std.Printf("INFO  "+format, args...) }

// Warnf logs a warning line. Satisfies the hooks.Logger contract.
func (s *Supervisor) Warnf(format string, args ...any) { s.std.Printf("WARN  "+format, args...) }

// Errorf logs an error line.
func (s *Supervisor) Errorf(format string, args ...any) { s.std.Printf("ERROR "+format, args...) }

// Close flushes and closes the underlying rotating writer.
func (s *Supervisor) Close() error { return s.out.Close() }
