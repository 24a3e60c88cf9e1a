// Package systemg re-exports the embeddable surface of the supervisor as
// a stable top-level API, the way the teacher's root provisr.go aliases
// internal/manager.Manager and internal/process.Spec for external
// consumers instead of making them import internal/ packages directly.
package systemg

import (
	"context"

	"github.com/systemg/systemg/internal/config"
	"github.com/systemg/systemg/internal/control"
	"github.com/systemg/systemg/internal/procspec"
	"github.com/systemg/systemg/internal/supervisor"
)

// Spec is a service descriptor (spec.md §3).
type Spec = procspec.Spec

// Config is a decoded configuration document (spec.md §6).
type Config = config.Config

// Supervisor drives the tick loop over a set of services (spec.md §4).
type Supervisor = supervisor.Supervisor

// Client is a control-socket client, the embeddable half of
// cmd/systemgctl (spec.md §4.10).
type Client = control.Client

// LoadConfig reads and validates the YAML document at path.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

// New builds a Supervisor over cfg's services, rooted at stateDir.
func New(cfg *Config, stateDir string) (*Supervisor, error) {
	return supervisor.New(cfg, stateDir)
}

// Dial opens a connection to a running supervisor's control socket.
func Dial(socketPath string) (*Client, error) {
	return control.Dial(socketPath)
}

// Run is a convenience one-shot: load cfg, build a Supervisor, and drive
// it until ctx is cancelled.
func Run(ctx context.Context, configPath, stateDir string) error {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return err
	}
	sup, err := New(cfg, stateDir)
	if err != nil {
		return err
	}
	defer sup.Close()
	return sup.Run(ctx)
}
