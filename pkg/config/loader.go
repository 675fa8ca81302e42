package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Config file settings
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/opsplane")
	}

	// Environment variable settings
	v.SetEnvPrefix("OPSPLANE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "opsplane")
	v.SetDefault("app.mode", "development")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.shutdown_timeout", "30s")

	// Redis defaults
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.dial_timeout", "5s")
	v.SetDefault("redis.read_timeout", "3s")
	v.SetDefault("redis.write_timeout", "3s")
	v.SetDefault("redis.pool_size", 10)

	// Database defaults
	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "spheroseg")
	v.SetDefault("database.user", "spheroseg")
	v.SetDefault("database.password", "password")
	v.SetDefault("database.max_connections", 10)
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.ping_timeout", "5s")

	// Metrics defaults
	v.SetDefault("metrics.anomaly_detection", true)
	v.SetDefault("metrics.default_interval", "1m")
	v.SetDefault("metrics.register_defaults", true)

	// Alerting defaults
	v.SetDefault("alerting.webhook_timeout", "10s")
	v.SetDefault("alerting.webhook_max_retries", 3)

	// Scaling defaults
	v.SetDefault("scaling.enabled", true)
	v.SetDefault("scaling.executor", "simulator")
	v.SetDefault("scaling.scale_command", []string{"docker", "compose", "up", "-d", "--scale", "{service}={replicas}", "--no-recreate"})
	v.SetDefault("scaling.replicas_command", []string{"docker", "compose", "ps", "-q", "{service}"})
	v.SetDefault("scaling.execution_timeout", "60s")
	v.SetDefault("scaling.register_defaults", true)

	// Coordination defaults
	v.SetDefault("coordination.enabled", false)
	v.SetDefault("coordination.lock_ttl", "2m")

	// Retention defaults
	v.SetDefault("retention.enabled", true)
	v.SetDefault("retention.schedule", "@hourly")

	// API defaults
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.read_timeout", "15s")
	v.SetDefault("api.write_timeout", "15s")
	v.SetDefault("api.idle_timeout", "60s")
	v.SetDefault("api.rate_limit", 100)
	v.SetDefault("api.default_limit", 20)
	v.SetDefault("api.max_limit", 100)

	// WebSocket defaults
	v.SetDefault("websocket.max_connections", 1000)
	v.SetDefault("websocket.ping_interval", "30s")
	v.SetDefault("websocket.write_timeout", "10s")
	v.SetDefault("websocket.pong_timeout", "60s")
	v.SetDefault("websocket.max_message_size", 4096)
	v.SetDefault("websocket.read_buffer_size", 1024)
	v.SetDefault("websocket.write_buffer_size", 1024)
	v.SetDefault("websocket.broadcast_buffer", 256)
	v.SetDefault("websocket.client_buffer", 64)

	// Prometheus defaults
	v.SetDefault("prometheus.enabled", true)
	v.SetDefault("prometheus.port", 9090)
}
