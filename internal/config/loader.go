package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Load resolves the configuration from defaults, an optional YAML file and the
// environment, then validates it.
func Load(configPath string) (*Config, error) {
	cfg := Defaults()

	if path := discoverConfigFile(configPath); path != "" {
		if err := loadYAMLFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return &cfg, nil
}

// discoverConfigFile returns the explicit path, then PLAYGROUND_CONFIG, then
// ./playground.yaml if it exists. Empty means no file.
func discoverConfigFile(configPath string) string {
	if configPath != "" {
		return configPath
	}
	if env := os.Getenv("PLAYGROUND_CONFIG"); env != "" {
		return env
	}
	if _, err := os.Stat("playground.yaml"); err == nil {
		return "playground.yaml"
	}
	return ""
}

// loadYAMLFile decodes path over cfg. Keys missing from the file keep their
// current values. Unknown keys are an error so typos do not pass silently.
func loadYAMLFile(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// applyEnvOverrides maps environment variables onto cfg. The short names PORT,
// DB_PATH and JWT_SECRET are kept for existing deployments; the PLAYGROUND_
// form wins when both are set.
func applyEnvOverrides(cfg *Config) error {
	var err error
	setString := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v := os.Getenv(k); v != "" {
				*dst = v
			}
		}
	}
	setInt := func(dst *int, keys ...string) {
		for _, k := range keys {
			v := os.Getenv(k)
			if v == "" {
				continue
			}
			n, perr := strconv.Atoi(v)
			if perr != nil {
				err = fmt.Errorf("%s: invalid integer %q", k, v)
				return
			}
			*dst = n
		}
	}
	setDuration := func(dst *time.Duration, key string) {
		v := os.Getenv(key)
		if v == "" {
			return
		}
		d, perr := time.ParseDuration(v)
		if perr != nil {
			err = fmt.Errorf("%s: invalid duration %q", key, v)
			return
		}
		*dst = d
	}

	setInt(&cfg.Server.Port, "PORT", "PLAYGROUND_PORT")
	setString(&cfg.Storage.Path, "DB_PATH", "PLAYGROUND_DB_PATH")
	setString(&cfg.Auth.JWTSecret, "JWT_SECRET", "PLAYGROUND_JWT_SECRET")
	setInt(&cfg.Storage.CacheSize, "PLAYGROUND_CACHE_SIZE")
	setString(&cfg.Executor.BaseURL, "PLAYGROUND_EXECUTOR_URL")
	setDuration(&cfg.Executor.Timeout, "PLAYGROUND_EXECUTOR_TIMEOUT")
	setDuration(&cfg.Runner.SettleDelay, "PLAYGROUND_SETTLE_DELAY")
	setString(&cfg.Log.Level, "PLAYGROUND_LOG_LEVEL")
	setString(&cfg.Log.Format, "PLAYGROUND_LOG_FORMAT")
	setString(&cfg.Launcher.Image, "PLAYGROUND_LAUNCHER_IMAGE")

	if v := os.Getenv("PLAYGROUND_ALLOWED_ORIGINS"); v != "" {
		cfg.Server.AllowedOrigins = splitList(v)
	}
	if v := os.Getenv("PLAYGROUND_LAUNCHER"); v != "" {
		enabled, perr := strconv.ParseBool(v)
		if perr != nil {
			return fmt.Errorf("PLAYGROUND_LAUNCHER: invalid boolean %q", v)
		}
		cfg.Launcher.Enabled = enabled
	}
	return err
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
