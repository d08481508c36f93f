// Package config loads the server configuration.
//
// LAYERS:
// Values are resolved in this order, each layer overriding the previous one:
//  1. Built-in defaults (Defaults)
//  2. YAML file (explicit path, PLAYGROUND_CONFIG, ./playground.yaml)
//  3. Environment variables (PLAYGROUND_* plus the short PORT, DB_PATH, JWT_SECRET)
//  4. Validation
//
// Durations in YAML use Go syntax: "130s", "300ms", "2m".
package config

import "time"

// Config holds all configuration for the playground server.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Executor ExecutorConfig `yaml:"executor"`
	Runner   RunnerConfig   `yaml:"runner"`
	Auth     AuthConfig     `yaml:"auth"`
	Log      LogConfig      `yaml:"log"`
	Launcher LauncherConfig `yaml:"launcher"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`             // default: 8080
	ReadTimeout     time.Duration `yaml:"read_timeout"`     // default: 15s
	WriteTimeout    time.Duration `yaml:"write_timeout"`    // default: 150s, must outlast executor.timeout
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // default: 30s
	AllowedOrigins  []string      `yaml:"allowed_origins"`  // websocket origins; empty allows any
}

// StorageConfig holds the SQLite settings.
type StorageConfig struct {
	Path      string `yaml:"path"`       // default: data/playground.db
	CacheSize int    `yaml:"cache_size"` // notebooks kept in memory, default: 128
}

// ExecutorConfig points at the execution service.
type ExecutorConfig struct {
	BaseURL        string        `yaml:"base_url"`        // default: http://localhost:8000
	Timeout        time.Duration `yaml:"timeout"`         // per run, default: 130s
	RequestTimeout time.Duration `yaml:"request_timeout"` // uploads, resets, health, default: 30s
}

// RunnerConfig tunes the run-all sequencer.
type RunnerConfig struct {
	SettleDelay time.Duration `yaml:"settle_delay"` // default: 300ms
}

// AuthConfig holds token settings. An empty secret disables authentication.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error; default: info
	Format string `yaml:"format"` // text or json; default: text
}

// LauncherConfig starts the execution service as a local Docker container.
type LauncherConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Image        string        `yaml:"image"`         // default: playground-executor:latest
	Pull         bool          `yaml:"pull"`          // pull the image before starting
	HostPort     int           `yaml:"host_port"`     // default: 8000
	StartTimeout time.Duration `yaml:"start_timeout"` // default: 60s
	MemoryMB     int64         `yaml:"memory_mb"`     // default: 512
}

// Defaults returns a Config populated with default values.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    150 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Storage: StorageConfig{
			Path:      "data/playground.db",
			CacheSize: 128,
		},
		Executor: ExecutorConfig{
			BaseURL:        "http://localhost:8000",
			Timeout:        130 * time.Second,
			RequestTimeout: 30 * time.Second,
		},
		Runner: RunnerConfig{
			SettleDelay: 300 * time.Millisecond,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Launcher: LauncherConfig{
			Image:        "playground-executor:latest",
			HostPort:     8000,
			StartTimeout: 60 * time.Second,
			MemoryMB:     512,
		},
	}
}
