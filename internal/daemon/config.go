// Package daemon loads modelctl configuration and wires the store, history
// ledger and servers the CLI commands run against.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/dustin/go-humanize"
)

// Config holds all modelctl configuration.
type Config struct {
	Models    ModelsConfig    `toml:"models"`
	Transfer  TransferConfig  `toml:"transfer"`
	Registry  RegistryConfig  `toml:"registry"`
	History   HistoryConfig   `toml:"history"`
	Server    ServerConfig    `toml:"server"`
	Logging   LoggingConfig   `toml:"logging"`
	Telemetry TelemetryConfig `toml:"telemetry"`
}

// ModelsConfig controls the local model store.
type ModelsConfig struct {
	Dir string `toml:"dir"`
}

// TransferConfig tunes blob transfers. Sizes take humanized values
// ("8MB", "512 KiB"); durations take Go syntax ("250ms").
type TransferConfig struct {
	RelayBuffer      string `toml:"relay_buffer"`
	RateLimit        string `toml:"rate_limit"` // per second, "0" disables
	ProgressInterval string `toml:"progress_interval"`
	Timeout          string `toml:"timeout"`
	ProbeTimeout     string `toml:"probe_timeout"`
	VerifyDigests    bool   `toml:"verify_digests"`
}

// RegistryConfig lists the registry mirrors tried, in order, for blobs a
// source server will not hand out.
type RegistryConfig struct {
	Mirrors  []string `toml:"mirrors"`
	Insecure bool     `toml:"insecure"` // plain http for bare mirror hosts
}

// HistoryConfig controls the copy ledger. Copies older than Retention are
// dropped by `modelctl history --prune`; "0" keeps everything.
type HistoryConfig struct {
	Retention string `toml:"retention"`
}

// ServerConfig controls `modelctl serve`.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
}

// TelemetryConfig controls Prometheus exposure.
type TelemetryConfig struct {
	Prometheus bool `toml:"prometheus"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() Config {
	return Config{
		Models: ModelsConfig{
			Dir: defaultModelsDir(),
		},
		Transfer: TransferConfig{
			RelayBuffer:      "8MB",
			RateLimit:        "0",
			ProgressInterval: "250ms",
			Timeout:          "0s",
			ProbeTimeout:     "30s",
			VerifyDigests:    true,
		},
		Registry: RegistryConfig{
			Mirrors: []string{"registry.ollama.ai"},
		},
		History: HistoryConfig{
			Retention: "720h",
		},
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 11434,
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  filepath.Join(Home(), "modelctl.log"),
		},
	}
}

// LoadConfig reads config from $MODELCTL_HOME/config.toml, falling back to
// defaults.
func LoadConfig() (Config, error) {
	return LoadConfigFile(filepath.Join(Home(), "config.toml"))
}

// LoadConfigFile reads config from path. A missing file yields the defaults.
func LoadConfigFile(path string) (Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// SaveConfig writes the config to $MODELCTL_HOME/config.toml.
func SaveConfig(cfg Config) error {
	path := filepath.Join(Home(), "config.toml")
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	return encoder.Encode(cfg)
}

// Validate checks every size and duration field parses.
func (c Config) Validate() error {
	if _, err := c.RelayBufferBytes(); err != nil {
		return err
	}
	if _, err := c.RateLimitBytes(); err != nil {
		return err
	}
	for name, v := range map[string]string{
		"transfer.progress_interval": c.Transfer.ProgressInterval,
		"transfer.timeout":           c.Transfer.Timeout,
		"transfer.probe_timeout":     c.Transfer.ProbeTimeout,
		"history.retention":          c.History.Retention,
	} {
		if _, err := parseDuration(v); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// RelayBufferBytes returns transfer.relay_buffer in bytes.
func (c Config) RelayBufferBytes() (int, error) {
	n, err := parseSize(c.Transfer.RelayBuffer)
	if err != nil {
		return 0, fmt.Errorf("transfer.relay_buffer: %w", err)
	}
	return int(n), nil
}

// RateLimitBytes returns transfer.rate_limit in bytes per second.
func (c Config) RateLimitBytes() (int64, error) {
	n, err := parseSize(c.Transfer.RateLimit)
	if err != nil {
		return 0, fmt.Errorf("transfer.rate_limit: %w", err)
	}
	return int64(n), nil
}

// ProgressInterval returns transfer.progress_interval.
func (c Config) ProgressInterval() time.Duration {
	d, _ := parseDuration(c.Transfer.ProgressInterval)
	return d
}

// TransferTimeout returns transfer.timeout; zero means no deadline.
func (c Config) TransferTimeout() time.Duration {
	d, _ := parseDuration(c.Transfer.Timeout)
	return d
}

// ProbeTimeout returns transfer.probe_timeout.
func (c Config) ProbeTimeout() time.Duration {
	d, _ := parseDuration(c.Transfer.ProbeTimeout)
	return d
}

// HistoryRetention returns history.retention; zero keeps every copy.
func (c Config) HistoryRetention() time.Duration {
	d, _ := parseDuration(c.History.Retention)
	return d
}

// parseSize converts "8MB" or "512 KiB" to bytes. Empty means zero.
func parseSize(s string) (uint64, error) {
	if s == "" {
		return 0, nil
	}
	return humanize.ParseBytes(s)
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

func defaultModelsDir() string {
	if env := os.Getenv("OLLAMA_MODELS"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".ollama", "models")
}

// Home returns the modelctl data directory.
func Home() string {
	if env := os.Getenv("MODELCTL_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".modelctl")
}
