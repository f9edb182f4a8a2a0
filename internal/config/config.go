// Package config loads the small configuration the server binary needs
// (store path, worker timeout, bind address, and more): defaults first, then
// an optional YAML file, then flag overrides. EventBusCapacity is loaded and
// merged like the other fields, but no component reads it; event bus
// subscribers choose their own capacity.
package config

import (
	"flag"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values like "30m" parse.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler using time.ParseDuration syntax.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	dur, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", value.Value, err)
	}
	*d = Duration(dur)
	return nil
}

// Config is the full set of values the stagehandd binary needs at startup.
type Config struct {
	DBPath           string   `yaml:"dbPath"`
	BindAddr         string   `yaml:"bindAddr"`
	EventBusCapacity int      `yaml:"eventBusCapacity"`
	WorkerTimeout    Duration `yaml:"workerTimeout"`
	AgentBinary      string   `yaml:"agentBinary"`
	WorkerConfigDir  string   `yaml:"workerConfigDir"`
	AuthToken        string   `yaml:"authToken"`
	ReconcileCron    string   `yaml:"reconcileCron"`
}

// Default returns the zero-config defaults, applied before the YAML file
// and flag overrides are layered on top.
func Default() Config {
	return Config{
		DBPath:           "stagehand.db",
		BindAddr:         ":8080",
		EventBusCapacity: 64,
		WorkerTimeout:    Duration(30 * time.Minute),
		AgentBinary:      "claude",
		WorkerConfigDir:  ".stagehand/worker-configs",
		ReconcileCron:    "@every 30s",
	}
}

// Load reads a YAML config file (if one is given), then applies flag
// overrides on top. args is normally os.Args[1:].
func Load(args []string) (Config, error) {
	cfg := Default()

	fs := flag.NewFlagSet("stagehandd", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to a YAML config file")
	dbPath := fs.String("db", "", "SQLite database path")
	bindAddr := fs.String("addr", "", "HTTP bind address")
	authToken := fs.String("token", "", "Bearer token required of external callers")
	agentBinary := fs.String("agent-binary", "", "Host coding-agent binary to invoke headlessly")

	if err := fs.Parse(args); err != nil {
		return Config{}, fmt.Errorf("parse flags: %w", err)
	}

	if *configPath != "" {
		fileCfg, err := loadFile(*configPath)
		if err != nil {
			return Config{}, err
		}
		cfg = merge(cfg, fileCfg)
	}

	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if *bindAddr != "" {
		cfg.BindAddr = *bindAddr
	}
	if *authToken != "" {
		cfg.AuthToken = *authToken
	}
	if *agentBinary != "" {
		cfg.AgentBinary = *agentBinary
	}

	return cfg, nil
}

func loadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file %q: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config file %q: %w", path, err)
	}
	return cfg, nil
}

// merge layers non-zero fields of override on top of base.
func merge(base, override Config) Config {
	if override.DBPath != "" {
		base.DBPath = override.DBPath
	}
	if override.BindAddr != "" {
		base.BindAddr = override.BindAddr
	}
	if override.EventBusCapacity != 0 {
		base.EventBusCapacity = override.EventBusCapacity
	}
	if override.WorkerTimeout != 0 {
		base.WorkerTimeout = override.WorkerTimeout
	}
	if override.AgentBinary != "" {
		base.AgentBinary = override.AgentBinary
	}
	if override.WorkerConfigDir != "" {
		base.WorkerConfigDir = override.WorkerConfigDir
	}
	if override.AuthToken != "" {
		base.AuthToken = override.AuthToken
	}
	if override.ReconcileCron != "" {
		base.ReconcileCron = override.ReconcileCron
	}
	return base
}
