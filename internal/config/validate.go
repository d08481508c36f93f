package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
)

// MinJWTSecretLength matches auth.NewTokenService.
const MinJWTSecretLength = 16

// Validate checks required fields and value ranges. All problems are reported
// together.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Server.WriteTimeout > 0 && c.Server.WriteTimeout <= c.Executor.Timeout {
		errs = append(errs, fmt.Errorf("server.write_timeout (%s) must be longer than executor.timeout (%s)",
			c.Server.WriteTimeout, c.Executor.Timeout))
	}

	if strings.TrimSpace(c.Storage.Path) == "" {
		errs = append(errs, errors.New("storage.path is required"))
	}
	if c.Storage.CacheSize <= 0 {
		errs = append(errs, fmt.Errorf("storage.cache_size must be > 0, got %d", c.Storage.CacheSize))
	}

	if u, err := url.Parse(c.Executor.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("executor.base_url must be an http(s) URL, got %q", c.Executor.BaseURL))
	}
	if c.Executor.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("executor.timeout must be > 0, got %s", c.Executor.Timeout))
	}

	if c.Runner.SettleDelay < 0 {
		errs = append(errs, fmt.Errorf("runner.settle_delay must not be negative, got %s", c.Runner.SettleDelay))
	}

	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < MinJWTSecretLength {
		errs = append(errs, fmt.Errorf("auth.jwt_secret must be at least %d characters", MinJWTSecretLength))
	}

	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be \"text\" or \"json\", got %q", c.Log.Format))
	}

	if c.Launcher.Enabled {
		if c.Launcher.Image == "" {
			errs = append(errs, errors.New("launcher.image is required when the launcher is enabled"))
		}
		if c.Launcher.HostPort <= 0 || c.Launcher.HostPort > 65535 {
			errs = append(errs, fmt.Errorf("launcher.host_port must be between 1 and 65535, got %d", c.Launcher.HostPort))
		}
	}

	return errors.Join(errs...)
}

// ParseLevel maps a level name onto slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("log.level must be debug, info, warn or error, got %q", s)
}
