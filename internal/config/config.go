// Package config loads the YAML document described in spec.md §6 into
// validated Spec descriptors. Every entry under `services` is struct-decoded
// into one procspec.Spec with mapstructure's WeaklyTypedInput plus a
// string-to-time.Duration hook, to tolerate YAML's duration/bool-as-string
// looseness; a non-empty "cron" field then marks the entry as a scheduled
// job rather than a long-running service.
package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/systemg/systemg/internal/cronsched"
	"github.com/systemg/systemg/internal/debugserver"
	"github.com/systemg/systemg/internal/procspec"
	"github.com/systemg/systemg/internal/statestore"
)

// Error is the ConfigError taxonomy kind (spec.md §7): cycle, unknown
// dependency, invalid cron expression, malformed field. Surfaced at
// load/reload; the supervisor refuses to apply and running services are
// untouched.
type Error struct {
	Kind    string
	Message string
}

func (e *Error) Error() string { return fmt.Sprintf("ConfigError(%s): %s", e.Kind, e.Message) }

// EnvConfig is the top-level `env { vars, file }` block (§6).
type EnvConfig struct {
	UseOSEnv bool     `mapstructure:"use_os_env"`
	Vars     []string `mapstructure:"vars"`
	File     string   `mapstructure:"file"`
}

// StoreConfig selects the durable statestore.Backend (domain-stack
// expansion; absent means the write-behind JSON snapshot alone is used).
type StoreConfig struct {
	Type         string `mapstructure:"type"`
	Path         string `mapstructure:"path"`
	DSN          string `mapstructure:"dsn"`
	TablePrefix  string `mapstructure:"table_prefix"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

func (s StoreConfig) toBackendConfig() statestore.Config {
	return statestore.Config{Type: s.Type, Path: s.Path, DSN: s.DSN, TablePrefix: s.TablePrefix, MaxOpenConns: s.MaxOpenConns}
}

// HistoryConfig configures the optional ClickHouse/OpenSearch transition
// audit sinks (SPEC_FULL.md DOMAIN STACK expansion).
type HistoryConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	ClickHouseURL   string `mapstructure:"clickhouse_url"`
	ClickHouseTable string `mapstructure:"clickhouse_table"`
	OpenSearchURL   string `mapstructure:"opensearch_url"`
	OpenSearchIndex string `mapstructure:"opensearch_index"`
}

// LogConfig configures the lumberjack-backed log rotation collaborator
// (ambient stack).
type LogConfig struct {
	Dir        string `mapstructure:"dir"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// DebugServerConfig gates the optional localhost-only gin debug/metrics
// HTTP surface (SPEC_FULL.md DOMAIN STACK).
type DebugServerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

// entryConfig is one raw entry under `services`. It decodes into a single
// procspec.Spec; whether the entry is a scheduled job is read afterwards
// from the decoded Cron field (§3: "cron key present or absent"), not from
// an explicit type tag.
type entryConfig map[string]any

// Config is the decoded configuration document (§6): `version: "1"`, the
// optional env block, the services map, plus the computed aggregate
// descriptor slice consumed by the planner and supervisor.
type Config struct {
	Version     string                 `mapstructure:"version"`
	Env         EnvConfig              `mapstructure:"env"`
	Services    map[string]entryConfig `mapstructure:"services"`
	Store       *StoreConfig           `mapstructure:"store"`
	History     *HistoryConfig         `mapstructure:"history"`
	Log         *LogConfig             `mapstructure:"log"`
	DebugServer *DebugServerConfig     `mapstructure:"debug_server"`

	Specs []procspec.Spec

	configPath string
}

var validate = validator.New()

func decodeTo[T any](m map[string]any) (T, error) {
	var out T
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		ErrorUnused:      true,
		Result:           &out,
	})
	if err != nil {
		return out, err
	}
	if err := dec.Decode(m); err != nil {
		return out, err
	}
	return out, nil
}

// decodeEntry applies the discriminated-union decode: presence of a
// non-empty "cron" key makes this a scheduled job, matching §3 ("optional
// cron expression (presence makes this a scheduled job...)").
func decodeEntry(name string, raw entryConfig) (procspec.Spec, error) {
	spec, err := decodeTo[procspec.Spec](raw)
	if err != nil {
		return procspec.Spec{}, &Error{Kind: "malformed field", Message: fmt.Sprintf("service %q: %v", name, err)}
	}
	spec.Name = name
	if spec.Command == "" {
		return procspec.Spec{}, &Error{Kind: "malformed field", Message: fmt.Sprintf("service %q requires a command", name)}
	}
	if spec.IsScheduled() {
		if err := cronsched.ValidateExpr(spec.Cron); err != nil {
			return procspec.Spec{}, &Error{Kind: "invalid cron expression", Message: err.Error()}
		}
		// Cron and restart policy are mutually exclusive; Never is implied
		// for cron services (§3 invariant).
		spec.RestartPolicy = procspec.RestartNever
	}
	if spec.RestartPolicy == "" {
		spec.RestartPolicy = procspec.RestartNever
	}
	switch spec.RestartPolicy {
	case procspec.RestartAlways, procspec.RestartOnFailure, procspec.RestartNever:
	default:
		return procspec.Spec{}, &Error{Kind: "malformed field", Message: fmt.Sprintf("service %q: invalid restart_policy %q", name, spec.RestartPolicy)}
	}
	if spec.Deployment != nil {
		switch spec.Deployment.Strategy {
		case procspec.DeployImmediate, procspec.DeployRolling, "":
		default:
			return procspec.Spec{}, &Error{Kind: "malformed field", Message: fmt.Sprintf("service %q: invalid deployment.strategy %q", name, spec.Deployment.Strategy)}
		}
	}
	if err := validate.Struct(&spec); err != nil {
		return procspec.Spec{}, &Error{Kind: "malformed field", Message: fmt.Sprintf("service %q: %v", name, err)}
	}
	return spec, nil
}

// Load reads and decodes the configuration document at path using viper
// (YAML parsing is the out-of-scope external collaborator per §1; viper is
// the concrete library that collaborator is built on, matching the
// teacher).
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           &cfg,
	})
	if err != nil {
		return nil, fmt.Errorf("config: build decoder: %w", err)
	}
	if err := dec.Decode(v.AllSettings()); err != nil {
		return nil, &Error{Kind: "malformed field", Message: err.Error()}
	}
	cfg.configPath = path

	if cfg.DebugServer != nil && cfg.DebugServer.Enabled && !debugserver.IsLoopback(cfg.DebugServer.Listen) {
		return nil, &Error{Kind: "malformed field", Message: fmt.Sprintf("debug_server.listen %q must be a loopback address", cfg.DebugServer.Listen)}
	}

	names := make([]string, 0, len(cfg.Services))
	for name := range cfg.Services {
		names = append(names, name)
	}
	sort.Strings(names)

	cfg.Specs = make([]procspec.Spec, 0, len(names))
	for _, name := range names {
		spec, err := decodeEntry(name, cfg.Services[name])
		if err != nil {
			return nil, err
		}
		cfg.Specs = append(cfg.Specs, spec)
	}
	return &cfg, nil
}

// GlobalEnv resolves the top-level env block into a flat KEY=VALUE slice,
// following the teacher's config.go global-env computation (OS env first
// if requested, then an env file, then inline vars).
func (c *Config) GlobalEnv() ([]string, error) {
	var out []string
	if c.Env.UseOSEnv {
		out = append(out, os.Environ()...)
	}
	if c.Env.File != "" {
		pairs, err := LoadEnvFile(c.Env.File)
		if err != nil {
			return nil, fmt.Errorf("config: load env file %s: %w", c.Env.File, err)
		}
		out = append(out, pairs...)
	}
	out = append(out, c.Env.Vars...)
	return out, nil
}

// LoadEnvFile parses a .env-style file of KEY=VALUE lines, ignoring blank
// lines and '#' comments, matching the teacher's LoadEnv helper behavior.
func LoadEnvFile(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.Contains(line, "=") {
			out = append(out, line)
		}
	}
	return out, nil
}

// StoreBackendConfig resolves the decoded StoreConfig to a statestore.Config,
// defaulting to no durable backend (write-behind JSON snapshot only).
func (c *Config) StoreBackendConfig() statestore.Config {
	if c.Store == nil {
		return statestore.Config{Type: "none"}
	}
	return c.Store.toBackendConfig()
}

// Diff produces the added/removed/changed sets for a config reload
// (spec.md §4.12).
type Diff struct {
	Added   []procspec.Spec
	Removed []procspec.Spec
	Changed []procspec.Spec // new version of each changed spec
}

// DiffSpecs compares the previous and new descriptor sets by name and by a
// non-cosmetic field fingerprint, matching §4.12's "any non-cosmetic diff
// to command/env/deps/policy" rule for what counts as Changed versus an
// in-place cosmetic update.
func DiffSpecs(prev, next []procspec.Spec) Diff {
	prevByName := make(map[string]procspec.Spec, len(prev))
	for _, s := range prev {
		prevByName[s.Name] = s
	}
	nextByName := make(map[string]procspec.Spec, len(next))
	for _, s := range next {
		nextByName[s.Name] = s
	}

	var d Diff
	for name, ns := range nextByName {
		ps, existed := prevByName[name]
		if !existed {
			d.Added = append(d.Added, ns)
			continue
		}
		if nonCosmeticDiff(ps, ns) {
			d.Changed = append(d.Changed, ns)
		}
	}
	for name, ps := range prevByName {
		if _, stillPresent := nextByName[name]; !stillPresent {
			d.Removed = append(d.Removed, ps)
		}
	}
	return d
}

func nonCosmeticDiff(a, b procspec.Spec) bool {
	if a.Command != b.Command || a.WorkDir != b.WorkDir {
		return true
	}
	if len(a.Env) != len(b.Env) {
		return true
	}
	for i := range a.Env {
		if a.Env[i] != b.Env[i] {
			return true
		}
	}
	if len(a.DependsOn) != len(b.DependsOn) {
		return true
	}
	for i := range a.DependsOn {
		if a.DependsOn[i] != b.DependsOn[i] {
			return true
		}
	}
	return a.RestartPolicy != b.RestartPolicy || a.Cron != b.Cron
}
