package config

import (
	"errors"
	"fmt"
)

func (c *Config) Validate() error {
	var errs []error

	// App validation
	if c.App.Name == "" {
		errs = append(errs, errors.New("app.name is required"))
	}

	validModes := map[string]bool{"development": true, "production": true, "test": true}
	if !validModes[c.App.Mode] {
		errs = append(errs, fmt.Errorf("app.mode must be one of: development, production, test"))
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.App.LogLevel] {
		errs = append(errs, fmt.Errorf("app.log_level must be one of: debug, info, warn, error"))
	}

	// Redis validation
	if c.Redis.Addr == "" {
		errs = append(errs, errors.New("redis.addr is required"))
	}
	if c.Redis.DB < 0 {
		errs = append(errs, errors.New("redis.db must not be negative"))
	}

	// Database validation (only when SQL metric sources are enabled)
	if c.Database.Enabled {
		if c.Database.Host == "" {
			errs = append(errs, errors.New("database.host is required"))
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			errs = append(errs, errors.New("database.port must be between 1 and 65535"))
		}
		if c.Database.Name == "" {
			errs = append(errs, errors.New("database.name is required"))
		}
		if c.Database.MaxConnections <= 0 {
			errs = append(errs, errors.New("database.max_connections must be positive"))
		}
	}

	// Metrics validation
	if c.Metrics.DefaultInterval <= 0 {
		errs = append(errs, errors.New("metrics.default_interval must be positive"))
	}

	// Scaling validation
	validExecutors := map[string]bool{"command": true, "simulator": true}
	if !validExecutors[c.Scaling.Executor] {
		errs = append(errs, fmt.Errorf("scaling.executor must be one of: command, simulator"))
	}
	if c.Scaling.ExecutionTimeout <= 0 {
		errs = append(errs, errors.New("scaling.execution_timeout must be positive"))
	}
	if c.Scaling.Executor == "command" && len(c.Scaling.ScaleCommand) == 0 {
		errs = append(errs, errors.New("scaling.scale_command is required for the command executor"))
	}

	// Coordination validation
	if c.Coordination.Enabled && c.Coordination.LockTTL <= 0 {
		errs = append(errs, errors.New("coordination.lock_ttl must be positive"))
	}

	// API validation
	if c.API.Port <= 0 || c.API.Port > 65535 {
		errs = append(errs, errors.New("api.port must be between 1 and 65535"))
	}
	if c.API.DefaultLimit <= 0 || c.API.MaxLimit < c.API.DefaultLimit {
		errs = append(errs, errors.New("api.max_limit must be >= api.default_limit and both positive"))
	}

	// Prometheus validation
	if c.Prometheus.Enabled && (c.Prometheus.Port <= 0 || c.Prometheus.Port > 65535) {
		errs = append(errs, errors.New("prometheus.port must be between 1 and 65535"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed: %v", errs)
	}

	return nil
}
